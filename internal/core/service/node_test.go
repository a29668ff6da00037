package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/metric"
)

// mockStore is an in-memory implementation of Store for testing.
type mockStore struct {
	mu         sync.Mutex
	messages   map[string]*domain.Message
	snapshots  map[string]mockSnapshot
	peers      map[string]map[string]float64
	closed     bool
	afterCalls []float64 // MessagesAfter cutoffs, in call order
}

type mockSnapshot struct {
	clock   domain.VectorClock
	savedAt float64
}

func newMockStore() *mockStore {
	return &mockStore{
		messages:  make(map[string]*domain.Message),
		snapshots: make(map[string]mockSnapshot),
		peers:     make(map[string]map[string]float64),
	}
}

func (m *mockStore) AddMessage(ctx context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.messages[msg.ID]; exists {
		return nil
	}
	m.messages[msg.ID] = msg.Clone()
	return nil
}

func (m *mockStore) MessageExists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.messages[id]
	return ok, nil
}

func (m *mockStore) sorted(filter func(*domain.Message) bool) []*domain.Message {
	var out []*domain.Message
	for _, msg := range m.messages {
		if filter(msg) {
			out = append(out, msg.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

func page(msgs []*domain.Message, limit, offset int) []*domain.Message {
	if offset > 0 {
		if offset >= len(msgs) {
			return nil
		}
		msgs = msgs[offset:]
	}
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	return msgs
}

func (m *mockStore) AllMessages(ctx context.Context, limit, offset int) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return page(m.sorted(func(*domain.Message) bool { return true }), limit, offset), nil
}

func (m *mockStore) RoomMessages(ctx context.Context, roomID string, limit, offset int) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return page(m.sorted(func(msg *domain.Message) bool { return msg.RoomID == roomID }), limit, offset), nil
}

func (m *mockStore) MessagesAfter(ctx context.Context, roomID string, after float64) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.afterCalls = append(m.afterCalls, after)
	return m.sorted(func(msg *domain.Message) bool {
		return msg.RoomID == roomID && msg.CreatedAt > after
	}), nil
}

func (m *mockStore) SaveSnapshot(ctx context.Context, roomID string, clock domain.VectorClock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[roomID] = mockSnapshot{clock: clock.Clone(), savedAt: domain.TimestampNow()}
	return nil
}

func (m *mockStore) LoadSnapshot(ctx context.Context, roomID string) (domain.VectorClock, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[roomID]
	if !ok {
		return nil, 0, nil
	}
	return snap.clock.Clone(), snap.savedAt, nil
}

func (m *mockStore) RoomIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool)
	for _, msg := range m.messages {
		set[msg.RoomID] = true
	}
	for roomID := range m.snapshots {
		set[roomID] = true
	}
	var rooms []string
	for roomID := range set {
		rooms = append(rooms, roomID)
	}
	return rooms, nil
}

func (m *mockStore) AddPeer(ctx context.Context, roomID, peerURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.peers[roomID] == nil {
		m.peers[roomID] = make(map[string]float64)
	}
	m.peers[roomID][peerURL] = domain.TimestampNow()
	return nil
}

func (m *mockStore) Peers(ctx context.Context, roomID string) ([]domain.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var peers []domain.Peer
	for url, seen := range m.peers[roomID] {
		peers = append(peers, domain.Peer{RoomID: roomID, URL: url, LastSeen: seen})
	}
	return peers, nil
}

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// mockGossiper records lifecycle and sync calls.
type mockGossiper struct {
	mu         sync.Mutex
	started    bool
	stopped    bool
	syncRooms  []string
	syncReturn int
}

func (g *mockGossiper) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started = true
	return nil
}

func (g *mockGossiper) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
}

func (g *mockGossiper) SyncRoom(ctx context.Context, roomID string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.syncRooms = append(g.syncRooms, roomID)
	return g.syncReturn, nil
}

// mockPublisher records fanout publishes.
type mockPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
}

type publishedMessage struct {
	roomID  string
	payload []byte
}

func (p *mockPublisher) Publish(ctx context.Context, roomID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedMessage{roomID: roomID, payload: payload})
	return nil
}

func (p *mockPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func newTestNode(store *mockStore, pub *mockPublisher, gossip *mockGossiper) *NodeService {
	cfg := NodeConfig{
		DataDir:   "unused",
		OpenStore: func(dir string) (Store, error) { return store, nil },
		Metrics:   metric.New(),
	}
	if pub != nil {
		cfg.Publisher = pub
	}
	if gossip != nil {
		cfg.NewGossiper = func(nodeID string, store Store, state *State) Gossiper { return gossip }
	}
	return NewNodeService(cfg)
}

func TestNodeService_Lifecycle(t *testing.T) {
	store := newMockStore()
	gossip := &mockGossiper{}
	node := newTestNode(store, nil, gossip)
	ctx := context.Background()

	if node.Initialized() {
		t.Error("node should start uninitialized")
	}

	if err := node.Initialize(ctx, "node-a"); err != nil {
		t.Fatal(err)
	}
	if !node.Initialized() || node.NodeID() != "node-a" {
		t.Errorf("expected running node-a, got %q", node.NodeID())
	}
	if !gossip.started {
		t.Error("gossip loop should be started")
	}

	t.Run("same id is a no-op", func(t *testing.T) {
		if err := node.Initialize(ctx, "node-a"); err != nil {
			t.Errorf("expected no-op, got %v", err)
		}
	})

	t.Run("different id conflicts", func(t *testing.T) {
		err := node.Initialize(ctx, "node-b")
		if !domain.IsDomainError(err, "CM-NODE-4090") {
			t.Errorf("expected node conflict, got %v", err)
		}
	})

	t.Run("empty id rejected", func(t *testing.T) {
		err := node.Initialize(ctx, "")
		if !domain.IsDomainError(err, "CM-ARG-4001") {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	if err := node.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if node.Initialized() {
		t.Error("node should be uninitialized after shutdown")
	}
	if !gossip.stopped {
		t.Error("gossip loop should be stopped")
	}
	if !store.closed {
		t.Error("store should be closed")
	}

	t.Run("new identity after shutdown", func(t *testing.T) {
		if err := node.Initialize(ctx, "node-b"); err != nil {
			t.Errorf("expected re-initialization to succeed, got %v", err)
		}
		node.Shutdown(ctx)
	})

	t.Run("shutdown before initialize", func(t *testing.T) {
		fresh := newTestNode(newMockStore(), nil, nil)
		if err := fresh.Shutdown(ctx); err != nil {
			t.Errorf("expected clean no-op shutdown, got %v", err)
		}
	})
}

func TestNodeService_RequiresInitialization(t *testing.T) {
	node := newTestNode(newMockStore(), nil, nil)
	ctx := context.Background()

	checks := map[string]error{}
	_, err := node.SendMessage(ctx, "room-1", "user-1", "hi")
	checks["SendMessage"] = err
	_, err = node.Replicate(ctx, domain.NewMessage("room-1", "u", "c", nil), "")
	checks["Replicate"] = err
	_, err = node.Messages(ctx, "room-1", 0, 0)
	checks["Messages"] = err
	_, err = node.Rooms(ctx)
	checks["Rooms"] = err
	_, err = node.Clock("room-1")
	checks["Clock"] = err
	_, err = node.SyncRoom(ctx, "room-1")
	checks["SyncRoom"] = err
	checks["RegisterPeer"] = node.RegisterPeer(ctx, "room-1", "http://x:1")
	_, err = node.Peers(ctx, "room-1")
	checks["Peers"] = err
	checks["SnapshotRooms"] = node.SnapshotRooms(ctx)

	for op, err := range checks {
		if !domain.IsDomainError(err, "CM-NODE-5030") {
			t.Errorf("%s: expected not-initialized error, got %v", op, err)
		}
	}
}

func TestNodeService_SendMessage(t *testing.T) {
	store := newMockStore()
	pub := &mockPublisher{}
	node := newTestNode(store, pub, nil)
	ctx := context.Background()

	if err := node.Initialize(ctx, "node-a"); err != nil {
		t.Fatal(err)
	}

	msg, err := node.SendMessage(ctx, "room-1", "user-1", "hello")
	if err != nil {
		t.Fatal(err)
	}

	if msg.VectorClock["node-a"] != 1 {
		t.Errorf("first send should stamp {node-a: 1}, got %v", msg.VectorClock)
	}
	if exists, _ := store.MessageExists(ctx, msg.ID); !exists {
		t.Error("message should be persisted")
	}

	t.Run("publishes exactly once", func(t *testing.T) {
		if pub.count() != 1 {
			t.Fatalf("expected 1 publish, got %d", pub.count())
		}
		if pub.published[0].roomID != "room-1" {
			t.Errorf("published to wrong room: %s", pub.published[0].roomID)
		}
		var wire domain.Message
		if err := json.Unmarshal(pub.published[0].payload, &wire); err != nil {
			t.Fatalf("payload is not a message: %v", err)
		}
		if wire.ID != msg.ID {
			t.Error("published payload does not match the sent message")
		}
	})

	t.Run("clock advances per send", func(t *testing.T) {
		second, err := node.SendMessage(ctx, "room-1", "user-1", "again")
		if err != nil {
			t.Fatal(err)
		}
		if second.VectorClock["node-a"] != 2 {
			t.Errorf("expected {node-a: 2}, got %v", second.VectorClock)
		}
	})

	t.Run("invalid input leaves the clock alone", func(t *testing.T) {
		_, err := node.SendMessage(ctx, "room-1", "user-1", "")
		if !domain.IsDomainError(err, "CM-ARG-4002") {
			t.Fatalf("expected validation error, got %v", err)
		}
		clock, _ := node.Clock("room-1")
		if clock["node-a"] != 2 {
			t.Errorf("rejected send should not bump the clock, got %v", clock)
		}
	})
}

func TestNodeService_Replicate(t *testing.T) {
	store := newMockStore()
	pub := &mockPublisher{}
	node := newTestNode(store, pub, nil)
	ctx := context.Background()

	if err := node.Initialize(ctx, "node-a"); err != nil {
		t.Fatal(err)
	}

	remote := domain.NewMessage("room-1", "user-9", "from another node", domain.VectorClock{"node-b": 3})

	accepted, err := node.Replicate(ctx, remote, "http://node-b:8000")
	if err != nil {
		t.Fatal(err)
	}
	if !accepted {
		t.Fatal("first delivery should be accepted")
	}

	clock, _ := node.Clock("room-1")
	if clock["node-b"] != 3 {
		t.Errorf("remote clock should merge into state, got %v", clock)
	}

	peers, _ := node.Peers(ctx, "room-1")
	if len(peers) != 1 || peers[0].URL != "http://node-b:8000" {
		t.Errorf("origin should be registered as a peer, got %v", peers)
	}

	t.Run("replication never publishes", func(t *testing.T) {
		if pub.count() != 0 {
			t.Errorf("replicated message leaked onto the fanout bus, %d publishes", pub.count())
		}
	})

	t.Run("duplicate is ignored", func(t *testing.T) {
		accepted, err := node.Replicate(ctx, remote, "http://node-b:8000")
		if err != nil {
			t.Fatal(err)
		}
		if accepted {
			t.Error("second delivery should be ignored")
		}
		if got := testutil.ToFloat64(node.cfg.Metrics.MessagesDuplicate); got != 1 {
			t.Errorf("expected 1 duplicate counted, got %f", got)
		}
	})

	t.Run("invalid message rejected", func(t *testing.T) {
		bad := remote.Clone()
		bad.Content = ""
		_, err := node.Replicate(ctx, bad, "")
		if !domain.IsDomainError(err, "CM-ARG-4002") {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestNodeService_Recovery(t *testing.T) {
	store := newMockStore()
	ctx := context.Background()

	// Durable history: a snapshot at t=100 and one message after it.
	// The pre-snapshot message must not be replayed.
	store.snapshots["room-1"] = mockSnapshot{
		clock:   domain.VectorClock{"alice": 10, "bob": 5},
		savedAt: 100.0,
	}
	early := domain.NewMessage("room-1", "u", "old", domain.VectorClock{"alice": 1})
	early.CreatedAt = 50.0
	store.messages[early.ID] = early
	late := domain.NewMessage("room-1", "u", "new", domain.VectorClock{"alice": 11, "bob": 5})
	late.CreatedAt = 150.0
	store.messages[late.ID] = late

	node := newTestNode(store, nil, nil)
	if err := node.Initialize(ctx, "node-new"); err != nil {
		t.Fatal(err)
	}

	clock, _ := node.Clock("room-1")
	if clock["alice"] != 11 || clock["bob"] != 5 {
		t.Errorf("recovered clock should be snapshot+delta, got %v", clock)
	}

	rooms, _ := node.Rooms(ctx)
	if len(rooms) != 1 || rooms[0] != "room-1" {
		t.Errorf("expected recovered room list [room-1], got %v", rooms)
	}

	t.Run("replay starts at the snapshot time", func(t *testing.T) {
		if len(store.afterCalls) != 1 || store.afterCalls[0] != 100.0 {
			t.Errorf("expected one replay from t=100, got %v", store.afterCalls)
		}
	})
}

func TestNodeService_ShutdownSnapshots(t *testing.T) {
	store := newMockStore()
	node := newTestNode(store, nil, nil)
	ctx := context.Background()

	if err := node.Initialize(ctx, "node-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := node.SendMessage(ctx, "room-1", "u", "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := node.SendMessage(ctx, "room-2", "u", "two"); err != nil {
		t.Fatal(err)
	}

	if err := node.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	for _, roomID := range []string{"room-1", "room-2"} {
		snap, ok := store.snapshots[roomID]
		if !ok {
			t.Errorf("expected shutdown snapshot for %s", roomID)
			continue
		}
		if snap.clock["node-a"] != 1 {
			t.Errorf("%s: expected snapshot clock {node-a: 1}, got %v", roomID, snap.clock)
		}
	}
}

func TestNodeService_PeriodicSnapshots(t *testing.T) {
	store := newMockStore()
	node := NewNodeService(NodeConfig{
		DataDir:          "unused",
		SnapshotInterval: 20 * time.Millisecond,
		OpenStore:        func(dir string) (Store, error) { return store, nil },
		Metrics:          metric.New(),
	})
	ctx := context.Background()

	if err := node.Initialize(ctx, "node-a"); err != nil {
		t.Fatal(err)
	}
	defer node.Shutdown(ctx)

	if _, err := node.SendMessage(ctx, "room-1", "u", "tick"); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		_, ok := store.snapshots["room-1"]
		store.mu.Unlock()
		if ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("periodic snapshot never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// slowSnapshotStore delays SaveSnapshot so a periodic snapshot is
// reliably in flight when Shutdown runs.
type slowSnapshotStore struct {
	*mockStore
	saveStarted chan struct{}
	once        sync.Once
}

func (s *slowSnapshotStore) SaveSnapshot(ctx context.Context, roomID string, clock domain.VectorClock) error {
	s.once.Do(func() { close(s.saveStarted) })
	time.Sleep(5 * time.Millisecond)
	return s.mockStore.SaveSnapshot(ctx, roomID, clock)
}

func TestNodeService_ShutdownDuringPeriodicSnapshot(t *testing.T) {
	// The 1ms interval keeps a ticker fire pending whenever the loop
	// re-enters its select, so shutdown must not wait on the loop
	// while holding the service lock.
	for trial := 0; trial < 20; trial++ {
		store := &slowSnapshotStore{mockStore: newMockStore(), saveStarted: make(chan struct{})}
		node := NewNodeService(NodeConfig{
			DataDir:          "unused",
			SnapshotInterval: time.Millisecond,
			OpenStore:        func(dir string) (Store, error) { return store, nil },
			Metrics:          metric.New(),
		})
		ctx := context.Background()

		if err := node.Initialize(ctx, "node-a"); err != nil {
			t.Fatal(err)
		}
		if _, err := node.SendMessage(ctx, "room-1", "u", "tick"); err != nil {
			t.Fatal(err)
		}

		select {
		case <-store.saveStarted:
		case <-time.After(2 * time.Second):
			t.Fatal("periodic snapshot never started")
		}

		done := make(chan error, 1)
		go func() { done <- node.Shutdown(ctx) }()

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("trial %d: shutdown failed: %v", trial, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("trial %d: shutdown hung with a periodic snapshot in flight", trial)
		}
	}
}

func TestNodeService_SyncRoom(t *testing.T) {
	gossip := &mockGossiper{syncReturn: 4}
	node := newTestNode(newMockStore(), nil, gossip)
	ctx := context.Background()

	if err := node.Initialize(ctx, "node-a"); err != nil {
		t.Fatal(err)
	}

	synced, err := node.SyncRoom(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if synced != 4 {
		t.Errorf("expected 4 synced, got %d", synced)
	}
	if len(gossip.syncRooms) != 1 || gossip.syncRooms[0] != "room-1" {
		t.Errorf("expected delegation to gossip, got %v", gossip.syncRooms)
	}

	t.Run("empty room id", func(t *testing.T) {
		_, err := node.SyncRoom(ctx, "")
		if !domain.IsDomainError(err, "CM-ARG-4001") {
			t.Errorf("expected invalid argument, got %v", err)
		}
	})

	t.Run("without gossip", func(t *testing.T) {
		plain := newTestNode(newMockStore(), nil, nil)
		if err := plain.Initialize(ctx, "node-x"); err != nil {
			t.Fatal(err)
		}
		synced, err := plain.SyncRoom(ctx, "room-1")
		if err != nil || synced != 0 {
			t.Errorf("expected (0, nil), got (%d, %v)", synced, err)
		}
	})
}

func TestNodeService_RegisterPeer(t *testing.T) {
	node := newTestNode(newMockStore(), nil, nil)
	ctx := context.Background()

	if err := node.Initialize(ctx, "node-a"); err != nil {
		t.Fatal(err)
	}

	for _, bad := range []string{"", "not-a-url", "/relative/path"} {
		if err := node.RegisterPeer(ctx, "room-1", bad); !domain.IsDomainError(err, "CM-ARG-4001") {
			t.Errorf("url %q: expected invalid argument, got %v", bad, err)
		}
	}

	if err := node.RegisterPeer(ctx, "room-1", "http://node-b:8000"); err != nil {
		t.Fatal(err)
	}
	peers, err := node.Peers(ctx, "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 || peers[0].URL != "http://node-b:8000" {
		t.Errorf("unexpected peers: %v", peers)
	}
}
