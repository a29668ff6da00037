package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/logger"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/metric"
)

// Store defines the persistence interface the node service depends on.
type Store interface {
	// AddMessage persists a message idempotently.
	AddMessage(ctx context.Context, msg *domain.Message) error

	// MessageExists reports whether a message id is already stored.
	MessageExists(ctx context.Context, id string) (bool, error)

	// AllMessages reads messages across rooms in timestamp order.
	AllMessages(ctx context.Context, limit, offset int) ([]*domain.Message, error)

	// RoomMessages reads one room's messages in timestamp order.
	RoomMessages(ctx context.Context, roomID string, limit, offset int) ([]*domain.Message, error)

	// MessagesAfter reads a room's messages strictly after a timestamp.
	MessagesAfter(ctx context.Context, roomID string, after float64) ([]*domain.Message, error)

	// SaveSnapshot upserts a room's vector clock snapshot.
	SaveSnapshot(ctx context.Context, roomID string, clock domain.VectorClock) error

	// LoadSnapshot reads a room's snapshot, (nil, 0, nil) when absent.
	LoadSnapshot(ctx context.Context, roomID string) (domain.VectorClock, float64, error)

	// RoomIDs lists rooms with stored messages or snapshots.
	RoomIDs(ctx context.Context) ([]string, error)

	// AddPeer upserts a replication peer for a room.
	AddPeer(ctx context.Context, roomID, peerURL string) error

	// Peers lists a room's replication peers.
	Peers(ctx context.Context, roomID string) ([]domain.Peer, error)

	// Close releases the store.
	Close() error
}

// Publisher pushes locally accepted messages onto the cluster fanout
// bus. Replicated messages never go through it.
type Publisher interface {
	Publish(ctx context.Context, roomID string, payload []byte) error
}

// Gossiper runs the anti-entropy protocol against the peer set.
type Gossiper interface {
	// Start launches the background gossip loop.
	Start() error

	// Stop cancels the loop and waits for it to exit.
	Stop()

	// SyncRoom pulls a room's messages from a few peers right now and
	// returns how many new messages were stored.
	SyncRoom(ctx context.Context, roomID string) (int, error)
}

// NodeConfig wires the node service's collaborators.
type NodeConfig struct {
	// DataDir is the base directory for per-node store directories.
	DataDir string

	// SnapshotInterval enables periodic room snapshots when positive.
	SnapshotInterval time.Duration

	// OpenStore opens the persistence store for a node's directory.
	// Required.
	OpenStore func(dir string) (Store, error)

	// NewGossiper builds the gossip service once the node identity and
	// store are known. Nil disables gossip.
	NewGossiper func(nodeID string, store Store, state *State) Gossiper

	// Publisher is the fanout bus hook for locally accepted messages.
	// Nil disables fanout publishing.
	Publisher Publisher

	Logger  logger.Logger
	Metrics *metric.Metrics
}

// NodeService owns the node lifecycle and every message path through
// it: local sends, inbound replication, reads, sync, and peers.
//
// The service starts uninitialized. Initialize opens storage under the
// chosen identity, rebuilds volatile clocks from snapshot plus message
// replay, and starts the background loops; Shutdown reverses it. All
// other operations fail with ErrNodeNotInitialized until then.
type NodeService struct {
	cfg NodeConfig
	log logger.Logger

	mu     sync.RWMutex
	nodeID string
	state  *State
	store  Store
	gossip Gossiper

	snapStop chan struct{}
	snapDone chan struct{}
}

// NewNodeService creates an uninitialized node service.
func NewNodeService(cfg NodeConfig) *NodeService {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.New()
	}
	return &NodeService{
		cfg: cfg,
		log: cfg.Logger.With("component", "node"),
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

// Initialize brings the node up under the given identity.
//
// Re-initializing with the same id is a no-op; a different id while
// running is rejected with ErrNodeConflict until Shutdown is called.
// Recovery loads each stored room's snapshot clock and replays only
// the messages created strictly after it.
func (s *NodeService) Initialize(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		return domain.ErrInvalidArgument.WithDetails("node_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != nil {
		if s.nodeID == nodeID {
			s.log.Info("node already initialized", "node_id", nodeID)
			return nil
		}
		return domain.ErrNodeConflict.WithDetails(
			fmt.Sprintf("running as %q, requested %q", s.nodeID, nodeID),
		)
	}

	if s.cfg.OpenStore == nil {
		return domain.ErrInternalServer.WithDetails("store factory not configured")
	}

	dir := filepath.Join(s.cfg.DataDir, sanitizeNodeID(nodeID))
	store, err := s.cfg.OpenStore(dir)
	if err != nil {
		return domain.ErrStorageUnavailable.WithDetails("open store").WithCause(err)
	}

	state := NewState(nodeID)
	rooms, replayed, err := recoverState(ctx, store, state)
	if err != nil {
		store.Close()
		return err
	}

	s.nodeID = nodeID
	s.state = state
	s.store = store

	if s.cfg.NewGossiper != nil {
		s.gossip = s.cfg.NewGossiper(nodeID, store, state)
		if err := s.gossip.Start(); err != nil {
			s.log.Warn("gossip failed to start", "error", err)
		}
	}

	if s.cfg.SnapshotInterval > 0 {
		s.snapStop = make(chan struct{})
		s.snapDone = make(chan struct{})
		go s.snapshotLoop(s.snapStop, s.snapDone)
	}

	s.cfg.Metrics.RoomsTracked.Set(float64(state.RoomCount()))
	s.log.Info("node initialized",
		"node_id", nodeID,
		"data_dir", dir,
		"rooms_recovered", rooms,
		"messages_replayed", replayed,
	)
	return nil
}

// Shutdown stops background loops, snapshots every tracked room, and
// closes the store. A node that never initialized shuts down cleanly.
// After Shutdown the service can Initialize again, under any identity.
func (s *NodeService) Shutdown(ctx context.Context) error {
	// The snapshot loop reads service state under mu, so it must be
	// stopped and awaited before the write lock is taken.
	s.mu.Lock()
	snapStop, snapDone := s.snapStop, s.snapDone
	s.snapStop, s.snapDone = nil, nil
	s.mu.Unlock()

	if snapStop != nil {
		close(snapStop)
		<-snapDone
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return nil
	}

	if s.gossip != nil {
		s.gossip.Stop()
		s.gossip = nil
	}

	var errs []error
	for _, roomID := range s.state.Rooms() {
		if err := s.store.SaveSnapshot(ctx, roomID, s.state.Clock(roomID)); err != nil {
			errs = append(errs, fmt.Errorf("snapshot room %s: %w", roomID, err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}

	s.log.Info("node shut down", "node_id", s.nodeID, "rooms", s.state.RoomCount())
	s.nodeID = ""
	s.state = nil
	s.store = nil

	return errors.Join(errs...)
}

// recoverState rebuilds volatile clocks from durable state: per room,
// start from the snapshot clock and fold in the clocks of messages
// created strictly after it was taken.
func recoverState(ctx context.Context, store Store, state *State) (rooms, replayed int, err error) {
	roomIDs, err := store.RoomIDs(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, roomID := range roomIDs {
		state.JoinRoom(roomID)

		clock, savedAt, err := store.LoadSnapshot(ctx, roomID)
		if err != nil {
			return 0, 0, err
		}
		if clock != nil {
			state.MergeClock(roomID, clock)
		}

		msgs, err := store.MessagesAfter(ctx, roomID, savedAt)
		if err != nil {
			return 0, 0, err
		}
		for _, msg := range msgs {
			state.MergeClock(roomID, msg.VectorClock)
		}
		replayed += len(msgs)
	}

	return len(roomIDs), replayed, nil
}

// snapshotLoop persists every room's clock on a fixed interval so the
// next recovery replays less.
func (s *NodeService) snapshotLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.SnapshotRooms(context.Background()); err != nil {
				s.log.Warn("periodic snapshot failed", "error", err)
			}
		}
	}
}

// SnapshotRooms persists the current clock of every tracked room.
func (s *NodeService) SnapshotRooms(ctx context.Context) error {
	state, store, err := s.deps()
	if err != nil {
		return err
	}

	var errs []error
	for _, roomID := range state.Rooms() {
		if err := store.SaveSnapshot(ctx, roomID, state.Clock(roomID)); err != nil {
			errs = append(errs, fmt.Errorf("snapshot room %s: %w", roomID, err))
		}
	}
	return errors.Join(errs...)
}

// ============================================================================
// Message Paths
// ============================================================================

// SendMessage accepts a message from a local client: advance this
// node's counter in the room clock, stamp and persist the message,
// then publish it to the fanout bus exactly once. A fanout failure is
// logged but does not fail the send, the message is already durable.
func (s *NodeService) SendMessage(ctx context.Context, roomID, senderID, content string) (*domain.Message, error) {
	state, store, err := s.deps()
	if err != nil {
		return nil, err
	}

	msg := domain.NewMessage(roomID, senderID, content, nil)
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	msg.VectorClock = state.IncrementClock(roomID)
	if err := store.AddMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.cfg.Metrics.MessagesSent.Inc()
	s.cfg.Metrics.RoomsTracked.Set(float64(state.RoomCount()))

	if s.cfg.Publisher != nil {
		payload, err := json.Marshal(msg)
		if err == nil {
			err = s.cfg.Publisher.Publish(ctx, roomID, payload)
		}
		if err != nil {
			s.log.Warn("fanout publish failed",
				"room_id", roomID, "message_id", msg.ID, "error", err)
		} else {
			s.cfg.Metrics.FanoutPublished.Inc()
		}
	}

	s.log.Debug("message sent", "room_id", roomID, "message_id", msg.ID)
	return msg, nil
}

// Replicate applies a message delivered by a peer. Duplicates are
// ignored and reported as (false, nil); new messages merge their clock
// into the room state and persist. The fanout bus is never touched
// here, only the node that first accepted a message publishes it.
func (s *NodeService) Replicate(ctx context.Context, msg *domain.Message, originURL string) (bool, error) {
	state, store, err := s.deps()
	if err != nil {
		return false, err
	}

	if err := msg.Validate(); err != nil {
		return false, err
	}

	exists, err := store.MessageExists(ctx, msg.ID)
	if err != nil {
		return false, err
	}
	if exists {
		s.cfg.Metrics.MessagesDuplicate.Inc()
		return false, nil
	}

	state.MergeClock(msg.RoomID, msg.VectorClock)
	if err := store.AddMessage(ctx, msg); err != nil {
		return false, err
	}

	if originURL != "" {
		if err := store.AddPeer(ctx, msg.RoomID, originURL); err != nil {
			s.log.Warn("peer registration failed",
				"room_id", msg.RoomID, "peer", originURL, "error", err)
		}
	}

	s.cfg.Metrics.MessagesReplicated.Inc()
	s.cfg.Metrics.RoomsTracked.Set(float64(state.RoomCount()))
	s.log.Debug("message replicated",
		"room_id", msg.RoomID, "message_id", msg.ID, "origin", originURL)
	return true, nil
}

// ============================================================================
// Reads
// ============================================================================

// Messages reads stored messages in timestamp order. An empty roomID
// reads across all rooms.
func (s *NodeService) Messages(ctx context.Context, roomID string, limit, offset int) ([]*domain.Message, error) {
	_, store, err := s.deps()
	if err != nil {
		return nil, err
	}
	if roomID == "" {
		return store.AllMessages(ctx, limit, offset)
	}
	return store.RoomMessages(ctx, roomID, limit, offset)
}

// Rooms lists the tracked rooms in sorted order.
func (s *NodeService) Rooms(ctx context.Context) ([]string, error) {
	state, _, err := s.deps()
	if err != nil {
		return nil, err
	}
	rooms := state.Rooms()
	sort.Strings(rooms)
	return rooms, nil
}

// Clock returns a copy of a room's current vector clock.
func (s *NodeService) Clock(roomID string) (domain.VectorClock, error) {
	state, _, err := s.deps()
	if err != nil {
		return nil, err
	}
	return state.Clock(roomID), nil
}

// NodeID returns the running identity, or "" before Initialize.
func (s *NodeService) NodeID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodeID
}

// Initialized reports whether the node is up.
func (s *NodeService) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state != nil
}

// ============================================================================
// Sync and Peers
// ============================================================================

// SyncRoom triggers an immediate anti-entropy pull for one room and
// returns how many new messages were stored. Without a gossiper it
// reports zero.
func (s *NodeService) SyncRoom(ctx context.Context, roomID string) (int, error) {
	s.mu.RLock()
	gossip := s.gossip
	initialized := s.state != nil
	s.mu.RUnlock()

	if !initialized {
		return 0, domain.ErrNodeNotInitialized
	}
	if roomID == "" {
		return 0, domain.ErrInvalidArgument.WithDetails("room_id is required")
	}
	if gossip == nil {
		return 0, nil
	}
	return gossip.SyncRoom(ctx, roomID)
}

// RegisterPeer records a replication peer for a room.
func (s *NodeService) RegisterPeer(ctx context.Context, roomID, peerURL string) error {
	_, store, err := s.deps()
	if err != nil {
		return err
	}
	if roomID == "" {
		return domain.ErrInvalidArgument.WithDetails("room_id is required")
	}

	u, err := url.Parse(peerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return domain.ErrInvalidArgument.WithDetails("peer url must be absolute, e.g. http://node-b:8000")
	}

	return store.AddPeer(ctx, roomID, peerURL)
}

// Peers lists the replication peers registered for a room.
func (s *NodeService) Peers(ctx context.Context, roomID string) ([]domain.Peer, error) {
	_, store, err := s.deps()
	if err != nil {
		return nil, err
	}
	return store.Peers(ctx, roomID)
}

// deps snapshots the initialized collaborators under the read lock.
func (s *NodeService) deps() (*State, Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, nil, domain.ErrNodeNotInitialized
	}
	return s.state, s.store, nil
}

// sanitizeNodeID maps a node id onto a safe directory name.
func sanitizeNodeID(nodeID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, nodeID)
}
