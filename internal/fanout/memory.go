package fanout

import (
	"context"
	"sync"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
)

// memoryBufferSize is the per-subscription payload buffer. Publishes
// to a full buffer drop the payload rather than block the publisher.
const memoryBufferSize = 64

// MemoryBus is the in-process Bus for single-node deployments and
// tests. Payloads cross goroutines, never processes.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[*memorySub]struct{}),
	}
}

// Publish implements Bus.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return domain.ErrBusUnavailable.WithDetails("bus closed")
	}

	for sub := range b.subs[channel] {
		select {
		case sub.ch <- payload:
		default:
			// Slow subscriber, drop rather than block the sender.
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, domain.ErrBusUnavailable.WithDetails("bus closed")
	}

	sub := &memorySub{
		bus:     b,
		channel: channel,
		ch:      make(chan []byte, memoryBufferSize),
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySub]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	return sub, nil
}

// Close implements Bus. All open subscriptions are closed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for sub := range subs {
			sub.closeOnce.Do(func() { close(sub.ch) })
		}
	}
	b.subs = make(map[string]map[*memorySub]struct{})
	return nil
}

// memorySub is one MemoryBus subscription.
type memorySub struct {
	bus       *MemoryBus
	channel   string
	ch        chan []byte
	closeOnce sync.Once
}

func (s *memorySub) Messages() <-chan []byte {
	return s.ch
}

func (s *memorySub) Close() error {
	s.bus.mu.Lock()
	if subs, ok := s.bus.subs[s.channel]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.bus.subs, s.channel)
		}
	}
	s.bus.mu.Unlock()

	s.closeOnce.Do(func() { close(s.ch) })
	return nil
}
