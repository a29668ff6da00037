package gossip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
)

// fakeStore is an in-memory Store for gossip tests.
type fakeStore struct {
	mu       sync.Mutex
	messages map[string]*domain.Message
	peers    map[string][]domain.Peer
}

func newFakeStore(msgs ...*domain.Message) *fakeStore {
	s := &fakeStore{
		messages: make(map[string]*domain.Message),
		peers:    make(map[string][]domain.Peer),
	}
	for _, msg := range msgs {
		s.messages[msg.ID] = msg
	}
	return s
}

func (s *fakeStore) AllMessages(ctx context.Context, limit, offset int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Message
	for _, msg := range s.messages {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) MessageExists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[id]
	return ok, nil
}

func (s *fakeStore) AddMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		s.messages[msg.ID] = msg.Clone()
	}
	return nil
}

func (s *fakeStore) Peers(ctx context.Context, roomID string) ([]domain.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[roomID], nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// fakeMerger records MergeClock calls.
type fakeMerger struct {
	mu     sync.Mutex
	merged map[string][]domain.VectorClock
}

func newFakeMerger() *fakeMerger {
	return &fakeMerger{merged: make(map[string][]domain.VectorClock)}
}

func (m *fakeMerger) MergeClock(roomID string, other domain.VectorClock) domain.VectorClock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merged[roomID] = append(m.merged[roomID], other.Clone())
	return other.Clone()
}

func (m *fakeMerger) calls(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.merged[roomID])
}

func testMsg(roomID, content string, at float64, clock domain.VectorClock) *domain.Message {
	msg := domain.NewMessage(roomID, "sender", content, clock)
	msg.CreatedAt = at
	return msg
}

// replicationSink is an httptest peer that records replication pushes.
type replicationSink struct {
	mu       sync.Mutex
	received []*domain.Message
	origins  []string
	server   *httptest.Server
}

func newReplicationSink(t *testing.T) *replicationSink {
	t.Helper()
	sink := &replicationSink{}
	sink.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != replicationPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var msg domain.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sink.mu.Lock()
		sink.received = append(sink.received, &msg)
		sink.origins = append(sink.origins, r.Header.Get(OriginHeader))
		sink.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(sink.server.Close)
	return sink
}

func (s *replicationSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestService_StartStop(t *testing.T) {
	svc := New(Config{
		NodeID:   "node-a",
		Interval: 10 * time.Millisecond,
		Warmup:   time.Millisecond,
	}, newFakeStore(), newFakeMerger())

	if svc.Running() {
		t.Error("service should start stopped")
	}

	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	if !svc.Running() {
		t.Error("service should be running after Start")
	}
	if err := svc.Start(); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}

	svc.Stop()
	if svc.Running() {
		t.Error("service should be stopped after Stop")
	}
	svc.Stop() // stopping again is harmless

	t.Run("restartable", func(t *testing.T) {
		if err := svc.Start(); err != nil {
			t.Fatal(err)
		}
		if !svc.Running() {
			t.Error("service should run again after restart")
		}
		svc.Stop()
	})
}

func TestService_PushesToPeer(t *testing.T) {
	sink := newReplicationSink(t)

	store := newFakeStore(
		testMsg("room-1", "first", 10.0, domain.VectorClock{"node-a": 1}),
		testMsg("room-1", "second", 11.0, domain.VectorClock{"node-a": 2}),
	)

	svc := New(Config{
		NodeID:   "node-a",
		SelfURL:  "http://node-a:8000",
		Peers:    []string{sink.server.URL},
		Interval: 10 * time.Millisecond,
		Warmup:   time.Millisecond,
	}, store, newFakeMerger())

	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	waitFor(t, 2*time.Second, func() bool { return sink.count() >= 2 },
		"peer never received the pushed messages")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, origin := range sink.origins {
		if origin != "http://node-a:8000" {
			t.Errorf("expected origin header http://node-a:8000, got %q", origin)
		}
	}
	seen := make(map[string]bool)
	for _, msg := range sink.received {
		seen[msg.Content] = true
	}
	if !seen["first"] || !seen["second"] {
		t.Errorf("expected both messages pushed, got %v", seen)
	}
}

func TestService_ExcludesSelf(t *testing.T) {
	svc := New(Config{
		NodeID:  "node-a",
		SelfURL: "http://node-a:8000",
		Peers:   []string{"http://node-a:8000"},
	}, newFakeStore(), newFakeMerger())

	if _, ok := svc.pickPeer(); ok {
		t.Error("a node must never pick itself as a gossip target")
	}
}

func TestService_LoopSurvivesPeerFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close() // connection refused from now on

	store := newFakeStore(testMsg("room-1", "hi", 10.0, domain.VectorClock{"node-a": 1}))

	svc := New(Config{
		NodeID:   "node-a",
		SelfURL:  "http://node-a:8000",
		Peers:    []string{deadURL},
		Interval: 10 * time.Millisecond,
		Warmup:   time.Millisecond,
	}, store, newFakeMerger())

	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	// Let a few failing rounds pass, then swap in a live peer.
	time.Sleep(50 * time.Millisecond)
	if !svc.Running() {
		t.Fatal("loop died on peer failure")
	}

	sink := newReplicationSink(t)
	svc.SetPeers([]string{sink.server.URL})

	waitFor(t, 2*time.Second, func() bool { return sink.count() >= 1 },
		"loop never recovered after peer set update")
}

func TestService_SyncRoom(t *testing.T) {
	existing := testMsg("room-1", "already here", 10.0, domain.VectorClock{"node-b": 1})
	fromPeer1 := testMsg("room-1", "new from peer one", 11.0, domain.VectorClock{"node-b": 2})
	fromPeer2 := testMsg("room-1", "new from peer two", 12.0, domain.VectorClock{"node-c": 1})

	peer1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("room_id") != "room-1" {
			t.Errorf("unexpected room_id: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]*domain.Message{existing, fromPeer1})
	}))
	defer peer1.Close()

	peer2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// One malformed element must not poison the rest.
		w.Write([]byte(`[{"id": 42}, ` + mustJSON(t, fromPeer2) + `]`))
	}))
	defer peer2.Close()

	peer3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer peer3.Close()

	store := newFakeStore(existing)
	merger := newFakeMerger()

	svc := New(Config{
		NodeID:     "node-a",
		SelfURL:    "http://node-a:8000",
		Peers:      []string{peer1.URL, peer2.URL, peer3.URL},
		PullFanout: 3,
	}, store, merger)

	synced, err := svc.SyncRoom(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}

	if synced != 2 {
		t.Errorf("expected 2 new messages, got %d", synced)
	}
	if store.count() != 3 {
		t.Errorf("expected 3 stored messages, got %d", store.count())
	}
	if merger.calls("room-1") != 2 {
		t.Errorf("expected clock merges for the 2 new messages, got %d", merger.calls("room-1"))
	}
}

func TestService_SyncRoomUsesRegisteredPeers(t *testing.T) {
	incoming := testMsg("room-1", "via registered peer", 10.0, domain.VectorClock{"node-b": 1})

	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]*domain.Message{incoming})
	}))
	defer peer.Close()

	store := newFakeStore()
	store.peers["room-1"] = []domain.Peer{{RoomID: "room-1", URL: peer.URL, LastSeen: 1}}

	svc := New(Config{NodeID: "node-a", SelfURL: "http://node-a:8000"}, store, newFakeMerger())

	synced, err := svc.SyncRoom(context.Background(), "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if synced != 1 {
		t.Errorf("expected 1 synced message via registered peer, got %d", synced)
	}
}

func TestService_SyncRoomFanoutBounded(t *testing.T) {
	var hits atomic.Int32
	var peers []string
	for i := 0; i < 4; i++ {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.Write([]byte("[]"))
		}))
		defer server.Close()
		peers = append(peers, server.URL)
	}

	svc := New(Config{
		NodeID:     "node-a",
		Peers:      peers,
		PullFanout: 2,
	}, newFakeStore(), newFakeMerger())

	if _, err := svc.SyncRoom(context.Background(), "room-1"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("expected exactly 2 peers queried, got %d", hits.Load())
	}
}

func TestService_SyncRoomNoPeers(t *testing.T) {
	svc := New(Config{NodeID: "node-a"}, newFakeStore(), newFakeMerger())

	synced, err := svc.SyncRoom(context.Background(), "room-1")
	if err != nil || synced != 0 {
		t.Errorf("expected (0, nil) with no peers, got (%d, %v)", synced, err)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}
