// Package handler provides HTTP request handlers for a ChatMesh node.
package handler

import (
	"net/http"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
	"github.com/chatmesh/chatmesh-go/internal/gossip"
)

// handleReplication handles POST /api/replication, the endpoint peers
// push gossip messages to.
//
// A first delivery merges the message's vector clock into room state
// and persists it; any later delivery of the same id is ignored. The
// fanout bus is never touched here: only the node that accepted the
// message from a client publishes it, which keeps gossip deliveries
// from echoing back across the mesh.
func (h *Handler) handleReplication(w http.ResponseWriter, r *http.Request) {
	var msg domain.Message
	if err := decodeJSON(r, &msg); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	applied, err := h.node.Replicate(r.Context(), &msg, r.Header.Get(gossip.OriginHeader))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	status := StatusIgnored
	if applied {
		status = StatusReplicated
	}
	h.writeJSON(w, r, http.StatusOK, ReplicationResponse{Status: status})
}
