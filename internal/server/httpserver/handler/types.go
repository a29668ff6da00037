// Package handler provides HTTP request handlers for a ChatMesh node.
package handler

import (
	"time"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
)

// Response is the standard API response envelope. All JSON responses
// use this format (except /metrics, which is Prometheus text).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// LoginRequest is the request body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response body for POST /api/login.
type LoginResponse struct {
	User      *domain.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// SendMessageRequest is the request body for POST /api/messages.
type SendMessageRequest struct {
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
}

// HealthResponse is the response body for GET /api/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Initialized bool   `json:"initialized"`
	NodeID      string `json:"node_id,omitempty"`
	Version     string `json:"version"`
	Time        string `json:"time"`
}

// RoomsResponse is the response body for GET /api/rooms.
type RoomsResponse struct {
	Rooms []string `json:"rooms"`
}

// SyncRoomResponse is the response body for POST /api/rooms/{room_id}/sync.
type SyncRoomResponse struct {
	RoomID string `json:"room_id"`
	Synced int    `json:"synced"`
}

// PeersResponse is the response body for GET /api/rooms/{room_id}/peers.
type PeersResponse struct {
	RoomID string        `json:"room_id"`
	Peers  []domain.Peer `json:"peers"`
}

// ReplicationResponse is the response body for POST /api/replication.
// Status is "replicated" for a first delivery and "ignored" for a
// duplicate.
type ReplicationResponse struct {
	Status string `json:"status"`
}

// Replication status values.
const (
	StatusReplicated = "replicated"
	StatusIgnored    = "ignored"
)
