// Package handler provides HTTP request handlers for a ChatMesh node.
package handler

import (
	"net/http"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
)

// handleLogin handles POST /api/login.
//
// A successful login lazily initializes the node under the user's
// identity, so the first login on a fresh process brings the node up.
// A later login by a different user while the node runs under another
// identity is rejected with a conflict.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	user, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if err := h.node.Initialize(r.Context(), user.Username); err != nil {
		// Initialization faults, including an identity conflict with
		// the running node, propagate: a login that cannot bring up or
		// match the node identity is a real failure.
		h.handleServiceError(w, r, err)
		return
	}

	token, expiresAt, err := h.tokens.Issue(user)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.log.Info("user logged in", "username", user.Username, "user_id", user.ID)
	h.writeJSON(w, r, http.StatusOK, LoginResponse{
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// handleMe handles GET /api/me.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		h.writeError(w, r, http.StatusUnauthorized,
			domain.ErrTokenInvalid.Code, "not authenticated")
		return
	}
	h.writeJSON(w, r, http.StatusOK, user)
}
