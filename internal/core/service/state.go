package service

import (
	"github.com/chatmesh/chatmesh-go/internal/core/domain"
	"github.com/chatmesh/chatmesh-go/pkg/cmap"
)

// State tracks the node's live per-room vector clocks. It is the
// volatile half of node state; the durable half lives in storage and
// the two are reconciled during recovery.
//
// Every accessor returns defensive copies, so callers can never reach
// the stored clocks directly. All methods are safe for concurrent use.
type State struct {
	nodeID string
	clocks *cmap.Map[string, domain.VectorClock]
}

// NewState creates an empty state for the given node identity.
func NewState(nodeID string) *State {
	return &State{
		nodeID: nodeID,
		clocks: cmap.New[string, domain.VectorClock](),
	}
}

// NodeID returns the identity this state counts under.
func (s *State) NodeID() string {
	return s.nodeID
}

// JoinRoom registers a room with a fresh clock unless it is already
// tracked. Returns true when the room was newly created.
func (s *State) JoinRoom(roomID string) bool {
	return s.clocks.SetIfAbsent(roomID, domain.VectorClock{s.nodeID: 0})
}

// Clock returns a copy of a room's clock. An untracked room yields a
// fresh clock without registering the room.
func (s *State) Clock(roomID string) domain.VectorClock {
	clock, ok := s.clocks.Get(roomID)
	if !ok {
		return domain.VectorClock{s.nodeID: 0}
	}
	return clock.Clone()
}

// IncrementClock advances this node's counter in a room's clock and
// returns a copy of the result. The room is registered if needed, so
// a first send in a new room yields {nodeID: 1}.
func (s *State) IncrementClock(roomID string) domain.VectorClock {
	updated := s.clocks.Update(roomID, func(clock domain.VectorClock, exists bool) domain.VectorClock {
		if !exists {
			clock = domain.VectorClock{s.nodeID: 0}
		}
		return clock.Increment(s.nodeID)
	})
	return updated.Clone()
}

// MergeClock folds a remote clock into a room's clock and returns a
// copy of the result. The room is registered if needed.
func (s *State) MergeClock(roomID string, other domain.VectorClock) domain.VectorClock {
	updated := s.clocks.Update(roomID, func(clock domain.VectorClock, exists bool) domain.VectorClock {
		if !exists {
			clock = domain.VectorClock{s.nodeID: 0}
		}
		return clock.Merge(other)
	})
	return updated.Clone()
}

// Rooms lists the tracked room ids.
func (s *State) Rooms() []string {
	return s.clocks.Keys()
}

// RoomCount returns the number of tracked rooms.
func (s *State) RoomCount() int {
	return s.clocks.Count()
}
