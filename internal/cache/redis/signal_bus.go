package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/apollonlabs/zkoracle/internal/domain"
)

// requestEventsChannel is the Pub/Sub channel carrying request lifecycle
// events. Every ledger instance publishes here; solver workers and the
// WebSocket hub subscribe.
const requestEventsChannel = "requests:events"

// SignalBus implements domain.SignalBus using Redis Pub/Sub with JSON-encoded
// payloads. Delivery is at-most-once; consumers that need a complete view
// (the solver poll loop) must pair the bus with periodic store scans.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// PublishRequestEvent broadcasts a request lifecycle event to all
// subscribers.
func (sb *SignalBus) PublishRequestEvent(ctx context.Context, ev domain.RequestEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: encode request event: %w", err)
	}
	if err := sb.rdb.Publish(ctx, requestEventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish request event: %w", err)
	}
	return nil
}

// SubscribeRequestEvents creates a Pub/Sub subscription for request lifecycle
// events. The returned channel closes when ctx is cancelled or the stop
// function is called. Malformed payloads are dropped rather than tearing the
// subscription down.
func (sb *SignalBus) SubscribeRequestEvents(ctx context.Context) (<-chan domain.RequestEvent, func(), error) {
	pubsub := sb.rdb.Subscribe(ctx, requestEventsChannel)

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("redis: subscribe request events: %w", err)
	}

	out := make(chan domain.RequestEvent, 128)
	stopped := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopped) }) }

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopped:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.RequestEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-stopped:
					return
				}
			}
		}
	}()

	return out, stop, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
