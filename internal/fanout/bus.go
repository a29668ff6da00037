// Package fanout bridges locally connected listeners to the
// cluster-wide pub/sub bus, one logical channel per room.
package fanout

import "context"

// channelPrefix namespaces room channels on a shared bus.
const channelPrefix = "chat:"

// ChannelFor returns the bus channel name for a room.
func ChannelFor(roomID string) string {
	return channelPrefix + roomID
}

// Subscription is a live feed of one channel's payloads.
type Subscription interface {
	// Messages streams raw payloads. The channel closes when the
	// subscription is closed or the bus goes away.
	Messages() <-chan []byte

	// Close unsubscribes and releases the feed.
	Close() error
}

// Bus is the cluster-wide publish/subscribe transport. A single-node
// deployment uses the in-process MemoryBus; a multi-process cluster
// shares a RedisBus so every node serving a room sees its traffic.
//
// Delivery is at-least-once at best: a slow subscriber may drop
// payloads, and durability comes from the message store, not the bus.
type Bus interface {
	// Publish sends a payload to every current subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe opens a feed for channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Close releases the bus and every open subscription.
	Close() error
}
