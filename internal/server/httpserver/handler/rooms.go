// Package handler provides HTTP request handlers for a ChatMesh node.
package handler

import (
	"net/http"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
)

// handleListRooms handles GET /api/rooms.
func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.node.Rooms(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []string{}
	}
	h.writeJSON(w, r, http.StatusOK, RoomsResponse{Rooms: rooms})
}

// handleSyncRoom handles POST /api/rooms/{room_id}/sync, the
// on-demand anti-entropy pull for participants who want faster
// convergence than passive gossip, typically right after joining a
// room.
func (h *Handler) handleSyncRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")

	synced, err := h.node.SyncRoom(r.Context(), roomID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, SyncRoomResponse{RoomID: roomID, Synced: synced})
}

// handleListPeers handles GET /api/rooms/{room_id}/peers. The peer
// registry is informational: gossip runs off the configured peer set,
// these entries record who replicated into the room and when.
func (h *Handler) handleListPeers(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")

	peers, err := h.node.Peers(r.Context(), roomID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if peers == nil {
		peers = []domain.Peer{}
	}

	h.writeJSON(w, r, http.StatusOK, PeersResponse{RoomID: roomID, Peers: peers})
}
