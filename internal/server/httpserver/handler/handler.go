// Package handler provides HTTP request handlers for a ChatMesh node.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
	"github.com/chatmesh/chatmesh-go/internal/core/service"
	"github.com/chatmesh/chatmesh-go/internal/fanout"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/logger"
)

// TokenIssuer mints session tokens for authenticated users. Satisfied
// by the httpserver token issuer.
type TokenIssuer interface {
	Issue(user *domain.User) (token string, expiresAt time.Time, err error)
}

// Config wires the handler's collaborators.
type Config struct {
	// Node is the node service behind every message operation.
	Node *service.NodeService

	// Auth checks login credentials.
	Auth service.Provider

	// Tokens mints session tokens at login.
	Tokens TokenIssuer

	// Fanout connects WebSocket clients to the cluster bus.
	Fanout *fanout.Manager

	// StaticDir serves a GUI from disk when non-empty.
	StaticDir string

	Logger logger.Logger
}

// Handler is the main HTTP handler routing API requests.
type Handler struct {
	node   *service.NodeService
	auth   service.Provider
	tokens TokenIssuer
	fanout *fanout.Manager
	log    logger.Logger
	mux    *http.ServeMux
}

// New creates a Handler with the given collaborators.
func New(cfg Config) *Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	h := &Handler{
		node:   cfg.Node,
		auth:   cfg.Auth,
		tokens: cfg.Tokens,
		fanout: cfg.Fanout,
		log:    log.With("component", "http"),
		mux:    http.NewServeMux(),
	}

	h.registerRoutes(cfg.StaticDir)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all HTTP routes.
func (h *Handler) registerRoutes(staticDir string) {
	h.mux.HandleFunc("GET /api/health", h.handleHealth)
	h.mux.HandleFunc("POST /api/login", h.handleLogin)
	h.mux.HandleFunc("GET /api/me", h.handleMe)

	h.mux.HandleFunc("GET /api/messages", h.handleListMessages)
	h.mux.HandleFunc("POST /api/messages", h.handleSendMessage)

	h.mux.HandleFunc("GET /api/rooms", h.handleListRooms)
	h.mux.HandleFunc("POST /api/rooms/{room_id}/sync", h.handleSyncRoom)
	h.mux.HandleFunc("GET /api/rooms/{room_id}/peers", h.handleListPeers)

	h.mux.HandleFunc("POST /api/replication", h.handleReplication)
	h.mux.HandleFunc("GET /ws/{room_id}", h.handleWebSocket)

	if staticDir != "" {
		if info, err := os.Stat(staticDir); err != nil || !info.IsDir() {
			h.log.Warn("static directory missing, GUI disabled", "dir", staticDir)
		} else {
			h.mux.Handle("GET /", http.FileServer(http.Dir(staticDir)))
		}
	}
}

// ============================================================================
// Request context
// ============================================================================

type contextKey string

// userContextKey carries the authenticated user through the request.
const userContextKey contextKey = "user"

// ContextWithUser attaches the authenticated user to a context. Called
// by the auth middleware.
func ContextWithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated user, or nil on routes the
// auth middleware does not cover.
func UserFromContext(ctx context.Context) *domain.User {
	user, _ := ctx.Value(userContextKey).(*domain.User)
	return user
}

// ============================================================================
// Response plumbing
// ============================================================================

// writeJSON writes a JSON response with the standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	response := NewResponse(logger.RequestIDFromContext(r.Context()), data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with the standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	response := NewErrorResponse(logger.RequestIDFromContext(r.Context()), code, message)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if domain.IsDomainError(err, "") {
		code := domain.GetErrorCode(err)
		h.writeError(w, r, errorCodeToHTTPStatus(code), code, err.Error())
		return
	}

	h.log.Error("internal error", "error", err,
		"request_id", logger.RequestIDFromContext(r.Context()))
	h.writeError(w, r, http.StatusInternalServerError,
		domain.ErrInternalServer.Code, "internal server error")
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes using
// the status-suffix convention of the CM- code taxonomy.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4040"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4090"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasSuffix(code, "-4010"), strings.HasSuffix(code, "-4011"):
		return http.StatusUnauthorized
	case strings.HasSuffix(code, "-5030"):
		return http.StatusServiceUnavailable
	case strings.HasPrefix(code, "CM-ARG-"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON parses a request body into target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return domain.ErrInvalidArgument.WithDetails("malformed JSON body").WithCause(err)
	}
	return nil
}

// queryInt reads a non-negative integer query parameter, falling back
// to the default on anything malformed, negative, or out of range.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
