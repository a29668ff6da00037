package fanout

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/logger"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/metric"
)

// Listener receives messages fanned out for a room it is connected
// to. Deliver must not block: a listener that cannot keep up should
// drop or buffer on its own side.
type Listener interface {
	Deliver(msg *domain.Message)
}

// Manager bridges local listeners to the cluster bus, one channel per
// room. The first listener for a room subscribes this node to the
// room's bus channel; the last one leaving unsubscribes it, so idle
// rooms hold no bus resources.
//
// Publish is the only write path onto the bus. It is called for
// locally accepted messages exactly once; replicated messages never
// reach it, which is what keeps a gossip delivery from echoing back
// across the mesh.
type Manager struct {
	bus     Bus
	log     logger.Logger
	metrics *metric.Metrics

	mu     sync.Mutex
	rooms  map[string]*roomFeed
	closed bool
}

// roomFeed is one room's bus subscription and its local listeners.
type roomFeed struct {
	listeners map[Listener]struct{}
	sub       Subscription
	done      chan struct{}
}

// NewManager creates a Manager on the given bus.
func NewManager(bus Bus, log logger.Logger, metrics *metric.Metrics) *Manager {
	if log == nil {
		log = logger.Default()
	}
	if metrics == nil {
		metrics = metric.New()
	}
	return &Manager{
		bus:     bus,
		log:     log.With("component", "fanout"),
		metrics: metrics,
		rooms:   make(map[string]*roomFeed),
	}
}

// Connect registers a listener for a room. The first listener for a
// room lazily subscribes to the room's bus channel and starts the
// feed goroutine that fans inbound payloads out locally.
func (m *Manager) Connect(ctx context.Context, roomID string, l Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return domain.ErrBusUnavailable.WithDetails("fanout manager closed")
	}

	feed, ok := m.rooms[roomID]
	if !ok {
		sub, err := m.bus.Subscribe(ctx, ChannelFor(roomID))
		if err != nil {
			return err
		}
		feed = &roomFeed{
			listeners: make(map[Listener]struct{}),
			sub:       sub,
			done:      make(chan struct{}),
		}
		m.rooms[roomID] = feed
		go m.listen(roomID, feed)
		m.log.Debug("room channel subscribed", "room_id", roomID)
	}

	feed.listeners[l] = struct{}{}
	m.metrics.FanoutListeners.Inc()
	return nil
}

// Disconnect removes a listener from a room. When the last listener
// leaves, the room's bus subscription is closed and the feed
// goroutine exits. Disconnecting an unknown listener is a no-op.
func (m *Manager) Disconnect(roomID string, l Listener) {
	m.mu.Lock()
	feed, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, registered := feed.listeners[l]; !registered {
		m.mu.Unlock()
		return
	}

	delete(feed.listeners, l)
	m.metrics.FanoutListeners.Dec()

	var sub Subscription
	if len(feed.listeners) == 0 {
		delete(m.rooms, roomID)
		sub = feed.sub
	}
	m.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			m.log.Warn("room channel unsubscribe failed", "room_id", roomID, "error", err)
		}
		<-feed.done
		m.log.Debug("room channel unsubscribed", "room_id", roomID)
	}
}

// Publish sends a payload to the room's bus channel, reaching every
// node currently subscribed to it, including this one.
func (m *Manager) Publish(ctx context.Context, roomID string, payload []byte) error {
	return m.bus.Publish(ctx, ChannelFor(roomID), payload)
}

// Listeners reports how many listeners a room currently has on this
// node.
func (m *Manager) Listeners(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if feed, ok := m.rooms[roomID]; ok {
		return len(feed.listeners)
	}
	return 0
}

// Close shuts every room feed down and stops accepting listeners. The
// bus itself is owned by the caller and stays open.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	feeds := make([]*roomFeed, 0, len(m.rooms))
	var listeners int
	for _, feed := range m.rooms {
		feeds = append(feeds, feed)
		listeners += len(feed.listeners)
	}
	m.rooms = make(map[string]*roomFeed)
	m.mu.Unlock()

	for _, feed := range feeds {
		feed.sub.Close()
		<-feed.done
	}
	m.metrics.FanoutListeners.Sub(float64(listeners))
	return nil
}

// listen drains one room's bus subscription, decoding each payload
// and fanning it out to the room's local listeners. A payload that
// does not decode into a valid message is logged and skipped; the
// feed only ends when the subscription closes.
func (m *Manager) listen(roomID string, feed *roomFeed) {
	defer close(feed.done)

	for payload := range feed.sub.Messages() {
		var msg domain.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			m.metrics.FanoutDropped.Inc()
			m.log.Warn("malformed bus payload dropped", "room_id", roomID, "error", err)
			continue
		}
		if err := msg.Validate(); err != nil {
			m.metrics.FanoutDropped.Inc()
			m.log.Warn("invalid bus message dropped", "room_id", roomID, "error", err)
			continue
		}

		m.mu.Lock()
		targets := make([]Listener, 0, len(feed.listeners))
		for l := range feed.listeners {
			targets = append(targets, l)
		}
		m.mu.Unlock()

		for _, l := range targets {
			l.Deliver(&msg)
			m.metrics.FanoutDelivered.Inc()
		}
	}
}
