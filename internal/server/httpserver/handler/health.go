// Package handler provides HTTP request handlers for a ChatMesh node.
package handler

import (
	"net/http"
	"time"

	"github.com/chatmesh/chatmesh-go/internal/infra/buildinfo"
)

// handleHealth handles GET /api/health. Public: peers and load
// balancers probe it before any login happens.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Initialized: h.node.Initialized(),
		NodeID:      h.node.NodeID(),
		Version:     buildinfo.Version,
		Time:        time.Now().UTC().Format(time.RFC3339),
	})
}
