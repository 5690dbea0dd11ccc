package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alphadeck/stockpilot/internal/domain"
)

// streamMaxLen is the approximate maximum length for the engine event
// stream, enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

const (
	eventStream  = "engine:events"
	eventChannel = "engine:events"
)

// SignalBus implements domain.EventPublisher using Redis: Pub/Sub for live
// listeners and a capped stream for durable, ordered replay.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish fans one engine event out to both the Pub/Sub channel and the
// stream. Stream consumers read at their own pace; Pub/Sub delivery is
// fire-and-forget.
func (sb *SignalBus) Publish(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", e.Type, err)
	}

	if err := sb.rdb.Publish(ctx, eventChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish event %s: %w", e.Type, err)
	}

	args := &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    string(e.Type),
			"payload": payload,
		},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", e.Type, err)
	}
	return nil
}

// Subscribe returns a read-only channel of engine events. The subscription
// closes when the context is cancelled; the returned channel is closed at
// that point as well. Malformed payloads are dropped.
func (sb *SignalBus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	pubsub := sb.rdb.Subscribe(ctx, eventChannel)

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe events: %w", err)
	}

	out := make(chan domain.Event, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.EventPublisher = (*SignalBus)(nil)
