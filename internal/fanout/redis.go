package fanout

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatmesh/chatmesh-go/internal/core/domain"
	"github.com/chatmesh/chatmesh-go/internal/telemetry/logger"
)

// redisConnectTimeout bounds the startup reachability probe.
const redisConnectTimeout = 5 * time.Second

// RedisBus is the cross-process Bus backed by Redis pub/sub. Every
// node subscribed to a room's channel sees its published payloads, so
// a cluster of nodes behind one Redis fans out as a single unit.
type RedisBus struct {
	client *redis.Client
	log    logger.Logger
}

// NewRedisBus connects to the Redis at redisURL, e.g.
// "redis://localhost:6379/0", and verifies it is reachable.
func NewRedisBus(redisURL string, log logger.Logger) (*RedisBus, error) {
	if log == nil {
		log = logger.Default()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, domain.ErrBusUnavailable.WithDetails("invalid redis url").WithCause(err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, domain.ErrBusUnavailable.WithDetails("redis unreachable").WithCause(err)
	}

	log.Info("redis bus connected", "addr", opts.Addr, "db", opts.DB)
	return &RedisBus{client: client, log: log.With("component", "redisbus")}, nil
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return domain.ErrBusUnavailable.WithDetails("publish").WithCause(err)
	}
	return nil
}

// Subscribe implements Bus. The subscription is confirmed with the
// server before returning, so a following Publish cannot race past an
// unestablished subscriber.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, domain.ErrBusUnavailable.WithDetails("subscribe").WithCause(err)
	}

	sub := &redisSub{
		pubsub: pubsub,
		ch:     make(chan []byte, memoryBufferSize),
	}
	go sub.forward()
	return sub, nil
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

// redisSub adapts one redis PubSub to the Subscription interface.
type redisSub struct {
	pubsub *redis.PubSub
	ch     chan []byte
}

// forward copies payloads from the redis channel until it closes.
func (s *redisSub) forward() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		select {
		case s.ch <- []byte(msg.Payload):
		default:
			// Slow subscriber, drop rather than block the feed.
		}
	}
}

func (s *redisSub) Messages() <-chan []byte {
	return s.ch
}

func (s *redisSub) Close() error {
	return s.pubsub.Close()
}
