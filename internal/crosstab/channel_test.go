package crosstab

import (
	"context"
	"testing"
	"time"
)

func TestChannelName(t *testing.T) {
	if got := ChannelName("doc1"); got != "doc-doc1-author" {
		t.Errorf("Expected doc-doc1-author, got %q", got)
	}
}

func TestBus_PublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx := context.Background()

	pings, cancel, err := bus.Subscribe(ctx, "doc1")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer cancel()

	if err := bus.Publish(ctx, "doc1"); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	select {
	case <-pings:
	case <-time.After(time.Second):
		t.Fatal("Expected a ping")
	}
}

func TestBus_DocumentsAreIsolated(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx := context.Background()

	pings, cancel, err := bus.Subscribe(ctx, "doc1")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer cancel()

	if err := bus.Publish(ctx, "doc2"); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	select {
	case <-pings:
		t.Fatal("doc2 publish should not reach a doc1 subscriber")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx := context.Background()

	pings, cancel, err := bus.Subscribe(ctx, "doc1")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	cancel()
	cancel() // second cancel is a no-op

	if _, open := <-pings; open {
		t.Fatal("Expected channel closed after cancel")
	}

	if err := bus.Publish(ctx, "doc1"); err != nil {
		t.Fatalf("Publish after cancel should succeed: %v", err)
	}
}

func TestBus_FullSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx := context.Background()

	_, cancel, err := bus.Subscribe(ctx, "doc1")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer cancel()

	// The subscriber buffer holds one ping; further publishes drop.
	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, "doc1"); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}
}

func TestBus_CloseClosesSubscribers(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	pings, _, err := bus.Subscribe(ctx, "doc1")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, open := <-pings; open {
		t.Fatal("Expected channel closed after bus close")
	}
}
