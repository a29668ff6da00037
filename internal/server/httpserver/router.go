// Package httpserver provides the HTTP server for a ChatMesh node.
package httpserver

import (
	"net/http"

	"github.com/chatmesh/chatmesh-go/internal/server/httpserver/handler"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/logger"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Handler serves the API routes.
	Handler *handler.Handler

	// Tokens verifies bearer tokens on protected routes.
	Tokens *TokenIssuer

	// Metrics records per-request metrics and serves /metrics.
	Metrics *metric.Metrics

	// Logger for panic and middleware logging.
	Logger logger.Logger

	// CORSAllowedOrigins is the allowed CORS origin list (empty = allow all).
	CORSAllowedOrigins []string

	// RateLimit is the per-IP request rate per second (0 disables).
	RateLimit int

	// ServeStatic routes unmatched GET requests to the handler's
	// static file server.
	ServeStatic bool
}

// NewRouter creates the HTTP router with all routes and middleware.
//
// Two route classes exist: public routes (health, login, the peer
// replication and read endpoints, the WebSocket, metrics) and
// protected routes requiring a bearer session token. Peer-facing
// endpoints are public by design, nodes hold no user tokens.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	base := []Middleware{
		RequestID(),
		Recover(log),
		CORS(cfg.CORSAllowedOrigins),
	}
	if cfg.RateLimit > 0 {
		base = append(base, RateLimit(cfg.RateLimit))
	}

	mux := http.NewServeMux()

	public := func(pattern string) {
		mws := append(append([]Middleware{}, base...), Metrics(cfg.Metrics, pattern))
		mux.Handle(pattern, Chain(cfg.Handler, mws...))
	}
	protected := func(pattern string) {
		mws := append(append([]Middleware{}, base...),
			Metrics(cfg.Metrics, pattern), Auth(cfg.Tokens))
		mux.Handle(pattern, Chain(cfg.Handler, mws...))
	}

	public("GET /api/health")
	public("POST /api/login")
	public("POST /api/replication")
	public("GET /api/messages")
	public("GET /ws/{room_id}")

	protected("GET /api/me")
	protected("POST /api/messages")
	protected("GET /api/rooms")
	protected("POST /api/rooms/{room_id}/sync")
	protected("GET /api/rooms/{room_id}/peers")

	// Prometheus exposition, outside the JSON envelope.
	mux.Handle("GET /metrics", Chain(cfg.Metrics.Handler(), RequestID(), Recover(log)))

	if cfg.ServeStatic {
		public("GET /")
	}

	return mux
}
