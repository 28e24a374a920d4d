package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := New(Options{Buffer: 8, DeliveryTimeout: time.Second}, zerolog.Nop())

	var mu sync.Mutex
	got := map[string][]any{}
	for _, name := range []string{"alerts", "audit"} {
		name := name
		bus.Subscribe("cost.anomaly.detected", name, func(ctx context.Context, payload any) error {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], payload)
			return nil
		})
	}

	go bus.Run(context.Background())
	if err := bus.Publish(context.Background(), "cost.anomaly.detected", "a1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(context.Background(), "other.topic", "ignored"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got["alerts"]) != 1 || len(got["audit"]) != 1 {
		t.Fatalf("each subscriber should receive one event, got %#v", got)
	}
}

func TestFailingSubscriberDoesNotStopOthers(t *testing.T) {
	bus := New(Options{Buffer: 4}, zerolog.Nop())

	delivered := make(chan struct{}, 1)
	bus.Subscribe("t", "panics", func(ctx context.Context, payload any) error {
		panic("boom")
	})
	bus.Subscribe("t", "errors", func(ctx context.Context, payload any) error {
		return errors.New("nope")
	})
	bus.Subscribe("t", "works", func(ctx context.Context, payload any) error {
		delivered <- struct{}{}
		return nil
	})

	go bus.Run(context.Background())
	if err := bus.Publish(context.Background(), "t", 1); err != nil {
		t.Fatal(err)
	}
	bus.Close()

	select {
	case <-delivered:
	default:
		t.Fatal("healthy subscriber must still receive the event")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := New(Options{Buffer: 1}, zerolog.Nop())
	// Run not started: the queue fills and further publishes fail fast.
	if err := bus.Publish(context.Background(), "t", 1); err != nil {
		t.Fatalf("first publish should enqueue: %v", err)
	}
	if err := bus.Publish(context.Background(), "t", 2); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
}

func TestPublishAfterClose(t *testing.T) {
	bus := New(Options{Buffer: 1}, zerolog.Nop())
	go bus.Run(context.Background())
	bus.Close()
	if err := bus.Publish(context.Background(), "t", 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
