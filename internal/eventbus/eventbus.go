// Package eventbus fans scheduler outcome events out to external observers
// over Redis pub/sub, so a long-running daemon's process terminations and
// interrupt summaries can be watched from another process.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// OutcomeEvent is the JSON payload published for one scheduler outcome.
type OutcomeEvent struct {
	Kind       string    `json:"kind"` // "process_finished" or "interrupted"
	PID        uint64    `json:"pid"`
	ThreadID   uint64    `json:"thread_id,omitempty"`
	Outcome    string    `json:"outcome,omitempty"` // "ok" or "trap", process_finished only
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Bus publishes OutcomeEvents to a single Redis channel and lets callers
// subscribe to the same channel, mirroring the teacher's RedisNotifier
// publish/subscribe split.
type Bus struct {
	client  *redis.Client
	channel string
}

// New wraps an existing Redis client, publishing to and subscribing from
// channel.
func New(client *redis.Client, channel string) *Bus {
	return &Bus{client: client, channel: channel}
}

// Publish broadcasts ev to every subscriber.
func (b *Bus) Publish(ctx context.Context, ev OutcomeEvent) error {
	if b == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe returns a channel of decoded OutcomeEvents. Malformed payloads
// are dropped silently; the subscription ends when ctx is canceled.
func (b *Bus) Subscribe(ctx context.Context) <-chan OutcomeEvent {
	out := make(chan OutcomeEvent, 16)
	pubsub := b.client.Subscribe(ctx, b.channel)

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgCh := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var ev OutcomeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Close releases the underlying Redis client.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.client.Close()
}
