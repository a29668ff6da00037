package fanout

import (
	"context"
	"testing"
	"time"
)

func TestChannelFor(t *testing.T) {
	if got := ChannelFor("general"); got != "chat:general" {
		t.Errorf("ChannelFor = %q, want %q", got, "chat:general")
	}
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, "chat:general")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(ctx, "chat:general", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case payload := <-sub.Messages():
		if string(payload) != "hello" {
			t.Errorf("payload = %q, want %q", payload, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for payload")
	}
}

func TestMemoryBusChannelScoping(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, "chat:general")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(ctx, "chat:other", []byte("elsewhere")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case payload := <-sub.Messages():
		t.Fatalf("unexpected payload %q on other channel", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusSubscriptionClose(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, "chat:general")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Messages channel must be closed.
	if _, ok := <-sub.Messages(); ok {
		t.Error("subscription channel still open after Close")
	}

	// Publishing afterwards does not panic or deliver anywhere.
	if err := bus.Publish(ctx, "chat:general", []byte("late")); err != nil {
		t.Fatalf("publish after close: %v", err)
	}
}

func TestMemoryBusClose(t *testing.T) {
	bus := NewMemoryBus()

	ctx := context.Background()
	sub, err := bus.Subscribe(ctx, "chat:general")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("subscription channel still open after bus Close")
	}
	if err := bus.Publish(ctx, "chat:general", []byte("x")); err == nil {
		t.Error("publish on closed bus should fail")
	}
	if _, err := bus.Subscribe(ctx, "chat:general"); err == nil {
		t.Error("subscribe on closed bus should fail")
	}
}
