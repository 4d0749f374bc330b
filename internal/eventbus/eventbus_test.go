package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// newTestRedisClient creates a Redis client for testing. Tests that need a
// running Redis instance are skipped automatically when one isn't reachable.
func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestBusPublishAndSubscribe(t *testing.T) {
	client := newTestRedisClient(t)
	bus := New(client, "wasmkernel.test.outcomes")
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Subscribe(ctx)
	time.Sleep(50 * time.Millisecond) // allow the subscription to establish

	want := OutcomeEvent{Kind: "process_finished", PID: 7, Outcome: "ok", OccurredAt: time.Now()}
	if err := bus.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.PID != want.PID || got.Kind != want.Kind || got.Outcome != want.Outcome {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an event on the subscription channel")
	}
}

func TestBusSubscribeClosesOnContextCancel(t *testing.T) {
	client := newTestRedisClient(t)
	bus := New(client, "wasmkernel.test.outcomes")
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := bus.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed once ctx is canceled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel should have closed")
	}
}

func TestBusMalformedPayloadIsDropped(t *testing.T) {
	client := newTestRedisClient(t)
	bus := New(client, "wasmkernel.test.malformed")
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Subscribe(ctx)
	time.Sleep(50 * time.Millisecond)

	if err := client.Publish(ctx, "wasmkernel.test.malformed", "not json").Err(); err != nil {
		t.Fatalf("publish raw payload: %v", err)
	}
	good := OutcomeEvent{Kind: "process_finished", PID: 9, OccurredAt: time.Now()}
	if err := bus.Publish(ctx, good); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.PID != 9 {
			t.Fatalf("expected the well-formed event to survive, got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the well-formed event after the malformed one was dropped")
	}
}

func TestBusNilIsSafe(t *testing.T) {
	var bus *Bus
	if err := bus.Publish(context.Background(), OutcomeEvent{}); err != nil {
		t.Fatalf("nil Bus.Publish should be a no-op, got %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("nil Bus.Close should be a no-op, got %v", err)
	}
}
