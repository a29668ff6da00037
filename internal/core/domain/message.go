// Package domain defines the core domain models for ChatMesh.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message constraints.
const (
	MaxRoomIDLength   = 128
	MaxSenderIDLength = 128
	MaxContentLength  = 4096
)

// Message is an immutable chat message, the unit of replication.
//
// ID is globally unique, generated once by the node that first accepts
// the message, and serves as the idempotency key for storage and
// gossip. Once persisted a Message is never mutated or deleted.
type Message struct {
	// ID is the unique message identifier (UUID).
	ID string `json:"id"`

	// RoomID identifies the conversation the message belongs to.
	RoomID string `json:"room_id"`

	// SenderID is the opaque identity of the sending user.
	SenderID string `json:"sender_id"`

	// Content is the message body.
	Content string `json:"content"`

	// VectorClock is the causal context captured at acceptance time.
	VectorClock VectorClock `json:"vector_clock"`

	// CreatedAt is the acceptance timestamp in float seconds since the
	// Unix epoch (wire format shared with peers).
	CreatedAt float64 `json:"created_at"`
}

// NewMessage creates a Message with a generated ID, the given causal
// context, and the current time. The clock is cloned so later state
// mutations cannot leak into the persisted message.
func NewMessage(roomID, senderID, content string, clock VectorClock) *Message {
	return &Message{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		SenderID:    senderID,
		Content:     content,
		VectorClock: clock.Clone(),
		CreatedAt:   TimestampNow(),
	}
}

// TimestampNow returns the current time as float seconds since the
// Unix epoch with microsecond precision.
func TimestampNow() float64 {
	return float64(time.Now().UnixMicro()) / 1e6
}

// CreatedAtTime returns CreatedAt as time.Time.
func (m *Message) CreatedAtTime() time.Time {
	return time.UnixMicro(int64(m.CreatedAt * 1e6))
}

// Clone creates a deep copy of the message.
func (m *Message) Clone() *Message {
	clone := *m
	clone.VectorClock = m.VectorClock.Clone()
	return &clone
}

// Validate validates the message fields against constraints.
// Returns a DomainError with code CM-ARG-4002 if validation fails.
func (m *Message) Validate() error {
	var violations []string

	if m.ID == "" {
		violations = append(violations, "id is required")
	}
	if m.RoomID == "" {
		violations = append(violations, "room_id is required")
	}
	if m.SenderID == "" {
		violations = append(violations, "sender_id is required")
	}
	if m.Content == "" {
		violations = append(violations, "content is required")
	}

	if len(m.RoomID) > MaxRoomIDLength {
		violations = append(violations, "room_id exceeds 128 characters")
	}
	if len(m.SenderID) > MaxSenderIDLength {
		violations = append(violations, "sender_id exceeds 128 characters")
	}
	if len(m.Content) > MaxContentLength {
		violations = append(violations, "content exceeds 4096 characters")
	}

	if len(violations) > 0 {
		return ErrMessageValidation.WithDetails(strings.Join(violations, "; "))
	}

	return nil
}
