// Package handler provides HTTP request handlers for a ChatMesh node.
package handler

import (
	"net/http"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
)

// Message listing defaults.
const (
	defaultMessageLimit = 50
	maxMessageLimit     = 1000
)

// handleListMessages handles GET /api/messages.
//
// Public: this is also the read endpoint peers query during pull
// sync, and peers carry no user token. Supports room_id, limit and
// offset query parameters; messages come back in ascending creation
// order.
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	limit := queryInt(r, "limit", defaultMessageLimit)
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	offset := queryInt(r, "offset", 0)

	msgs, err := h.node.Messages(r.Context(), roomID, limit, offset)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}

	h.writeJSON(w, r, http.StatusOK, msgs)
}

// handleSendMessage handles POST /api/messages, the local send path:
// the room clock advances for this node, the message persists, and it
// is published to the fanout bus exactly once.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		h.writeError(w, r, http.StatusUnauthorized,
			domain.ErrTokenInvalid.Code, "not authenticated")
		return
	}

	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	msg, err := h.node.SendMessage(r.Context(), req.RoomID, user.ID, req.Content)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusCreated, msg)
}
