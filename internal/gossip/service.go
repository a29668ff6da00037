package gossip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/logger"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/metric"
)

// Defaults for the anti-entropy protocol.
const (
	DefaultInterval    = 2 * time.Second
	DefaultWarmup      = 3 * time.Second
	DefaultPushTimeout = 1 * time.Second
	DefaultPullTimeout = 3 * time.Second
	DefaultPullFanout  = 3
	DefaultPageSize    = 100

	// replicationPath is the peer endpoint pushes target.
	replicationPath = "/api/replication"

	// messagesPath is the peer endpoint pulls read from.
	messagesPath = "/api/messages"

	// OriginHeader carries the pushing node's advertised URL so the
	// receiver can register it as a peer.
	OriginHeader = "X-Origin-Node"

	// pullLimit bounds how many messages one pull requests per peer.
	pullLimit = 1000
)

// Store is the persistence surface the gossip service works against.
type Store interface {
	AllMessages(ctx context.Context, limit, offset int) ([]*domain.Message, error)
	MessageExists(ctx context.Context, id string) (bool, error)
	AddMessage(ctx context.Context, msg *domain.Message) error
	Peers(ctx context.Context, roomID string) ([]domain.Peer, error)
}

// ClockMerger folds remote vector clocks into local room state.
type ClockMerger interface {
	MergeClock(roomID string, other domain.VectorClock) domain.VectorClock
}

// Config tunes the gossip service.
type Config struct {
	// NodeID is this node's identity, used only for logging.
	NodeID string

	// SelfURL is the advertised base URL sent as the push origin. It
	// is also filtered out of the peer set so a node never gossips
	// with itself.
	SelfURL string

	// Peers are the configured peer base URLs.
	Peers []string

	// Interval between push rounds. Defaults to DefaultInterval.
	Interval time.Duration

	// Warmup delays the first round after Start so a cluster restart
	// does not stampede. Defaults to DefaultWarmup.
	Warmup time.Duration

	// PushTimeout bounds each periodic push request.
	PushTimeout time.Duration

	// PullTimeout bounds each on-demand pull request.
	PullTimeout time.Duration

	// PullFanout is how many peers one sync queries at most.
	PullFanout int

	// PageSize is the store page size used when pushing.
	PageSize int

	Logger  logger.Logger
	Metrics *metric.Metrics
}

// Service runs the anti-entropy protocol: a background loop that
// pushes the full local message set to one random peer per round, and
// an on-demand pull that catches a room up from a few peers at once.
//
// The loop is resilient by construction: peer faults are logged and
// skipped, never escalated, and the running flag is reset on every
// exit path so Start after Stop always reflects truth.
type Service struct {
	cfg   Config
	store Store
	state ClockMerger
	log   logger.Logger

	running atomic.Bool

	mu     sync.RWMutex
	peers  []string
	cancel context.CancelFunc
	done   chan struct{}

	pushClient *http.Client
	pullClient *http.Client
}

// New creates a gossip service. Zero config fields fall back to the
// package defaults.
func New(cfg Config, store Store, state ClockMerger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Warmup <= 0 {
		cfg.Warmup = DefaultWarmup
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = DefaultPushTimeout
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = DefaultPullTimeout
	}
	if cfg.PullFanout <= 0 {
		cfg.PullFanout = DefaultPullFanout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.New()
	}

	return &Service{
		cfg:        cfg,
		store:      store,
		state:      state,
		log:        cfg.Logger.With("component", "gossip", "node_id", cfg.NodeID),
		peers:      append([]string(nil), cfg.Peers...),
		pushClient: &http.Client{Timeout: cfg.PushTimeout},
		pullClient: &http.Client{Timeout: cfg.PullTimeout},
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start launches the background push loop. Starting a running service
// is a no-op.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(ctx, done)

	s.log.Info("gossip started",
		"peers", len(s.PeerURLs()),
		"interval", s.cfg.Interval,
		"warmup", s.cfg.Warmup,
	)
	return nil
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped
// service is a no-op.
func (s *Service) Stop() {
	if !s.running.Load() {
		return
	}

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.log.Info("gossip stopped")
}

// Running reports whether the push loop is live.
func (s *Service) Running() bool {
	return s.running.Load()
}

// SetPeers replaces the peer set. Safe to call while running; the next
// round picks from the new set.
func (s *Service) SetPeers(peers []string) {
	s.mu.Lock()
	s.peers = append([]string(nil), peers...)
	s.mu.Unlock()
	s.log.Info("peer set updated", "peers", len(peers))
}

// PeerURLs returns a copy of the configured peer set.
func (s *Service) PeerURLs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.peers...)
}

// loop runs push rounds until cancelled. The running flag reset is
// deferred so it happens on every exit path.
func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.running.Store(false)
		close(done)
	}()

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.Warmup):
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.pushRound(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("gossip round failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ============================================================================
// Push (periodic anti-entropy)
// ============================================================================

// pushRound picks one random peer and pushes the full local message
// set to it. No peers configured means nothing to do.
func (s *Service) pushRound(ctx context.Context) error {
	peer, ok := s.pickPeer()
	if !ok {
		return nil
	}

	s.cfg.Metrics.GossipRounds.Inc()
	return s.pushAll(ctx, peer)
}

// pickPeer selects one peer uniformly at random, excluding self.
func (s *Service) pickPeer() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]string, 0, len(s.peers))
	for _, peer := range s.peers {
		if peer != "" && peer != s.cfg.SelfURL {
			candidates = append(candidates, peer)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.IntN(len(candidates))], true
}

// pushAll pages through the local message set and sends every message
// to the peer individually. Per-message network faults are logged and
// skipped; only local storage faults abort the round.
func (s *Service) pushAll(ctx context.Context, peer string) error {
	pushed, failed := 0, 0

	for offset := 0; ; offset += s.cfg.PageSize {
		msgs, err := s.store.AllMessages(ctx, s.cfg.PageSize, offset)
		if err != nil {
			return fmt.Errorf("read messages for push: %w", err)
		}
		if len(msgs) == 0 {
			break
		}

		for _, msg := range msgs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := s.pushMessage(ctx, peer, msg); err != nil {
				failed++
				s.cfg.Metrics.GossipPushErrors.Inc()
				s.log.Debug("push failed",
					"peer", peer, "message_id", msg.ID, "error", err)
				continue
			}
			pushed++
		}

		if len(msgs) < s.cfg.PageSize {
			break
		}
	}

	s.log.Debug("push round complete", "peer", peer, "pushed", pushed, "failed", failed)
	return nil
}

// pushMessage sends one message to a peer's replication endpoint,
// tagged with this node's advertised URL as origin.
func (s *Service) pushMessage(ctx context.Context, peer string, msg *domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	endpoint := strings.TrimRight(peer, "/") + replicationPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(OriginHeader, s.cfg.SelfURL)

	resp, err := s.pushClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer returned %d", resp.StatusCode)
	}
	return nil
}

// ============================================================================
// Pull (on-demand sync)
// ============================================================================

// SyncRoom pulls a room's messages from up to PullFanout random peers
// and stores the ones this node has not seen, merging their clocks
// into room state. Peer faults and malformed messages are skipped;
// only local storage faults abort the sync. Returns the number of new
// messages stored.
func (s *Service) SyncRoom(ctx context.Context, roomID string) (int, error) {
	peers := s.pullCandidates(ctx, roomID)
	if len(peers) == 0 {
		s.log.Debug("sync skipped, no peers", "room_id", roomID)
		return 0, nil
	}

	synced := 0
	for _, peer := range peers {
		items, err := s.fetchRoom(ctx, peer, roomID)
		if err != nil {
			s.log.Warn("pull failed", "peer", peer, "room_id", roomID, "error", err)
			continue
		}

		for _, item := range items {
			var msg domain.Message
			if err := json.Unmarshal(item, &msg); err != nil {
				s.log.Warn("skipping malformed message", "peer", peer, "error", err)
				continue
			}
			if err := msg.Validate(); err != nil {
				s.log.Warn("skipping invalid message", "peer", peer, "error", err)
				continue
			}

			exists, err := s.store.MessageExists(ctx, msg.ID)
			if err != nil {
				return synced, err
			}
			if exists {
				continue
			}

			if err := s.store.AddMessage(ctx, &msg); err != nil {
				return synced, err
			}
			s.state.MergeClock(msg.RoomID, msg.VectorClock)
			synced++
		}
	}

	s.cfg.Metrics.GossipPullSynced.Add(float64(synced))
	s.log.Info("room synced", "room_id", roomID, "peers", len(peers), "new_messages", synced)
	return synced, nil
}

// pullCandidates merges the configured peer set with the room's
// registered peers, drops self and duplicates, shuffles, and caps the
// result at PullFanout.
func (s *Service) pullCandidates(ctx context.Context, roomID string) []string {
	seen := make(map[string]bool)
	var candidates []string

	add := func(peer string) {
		if peer == "" || peer == s.cfg.SelfURL || seen[peer] {
			return
		}
		seen[peer] = true
		candidates = append(candidates, peer)
	}

	for _, peer := range s.PeerURLs() {
		add(peer)
	}
	registered, err := s.store.Peers(ctx, roomID)
	if err != nil {
		s.log.Warn("peer registry read failed", "room_id", roomID, "error", err)
	}
	for _, peer := range registered {
		add(peer.URL)
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > s.cfg.PullFanout {
		candidates = candidates[:s.cfg.PullFanout]
	}
	return candidates
}

// fetchRoom reads a room's messages from one peer. Items are returned
// raw so a single malformed element cannot poison the batch.
func (s *Service) fetchRoom(ctx context.Context, peer, roomID string) ([]json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s%s?room_id=%s&limit=%d",
		strings.TrimRight(peer, "/"), messagesPath, url.QueryEscape(roomID), pullLimit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(OriginHeader, s.cfg.SelfURL)

	resp, err := s.pullClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("peer returned %d", resp.StatusCode)
	}

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return items, nil
}
