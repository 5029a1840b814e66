package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
	"github.com/prayermap/admin-console/internal/ports"
)

// DefaultEventChannelPrefix namespaces auth event channels.
const DefaultEventChannelPrefix = "auth-events:"

// EventRelayOptions groups dependencies for EventRelay.
type EventRelayOptions struct {
	Client        redis.UniversalClient
	ChannelPrefix string // optional; defaults to DefaultEventChannelPrefix
	Logger        *slog.Logger
}

// EventRelay mirrors auth events between service instances over Redis pub/sub,
// one channel per storage key.
type EventRelay struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewEventRelay creates a Redis-backed event relay.
func NewEventRelay(opts EventRelayOptions) (*EventRelay, error) {
	if opts.Client == nil {
		return nil, errors.New("event relay: redis client is required")
	}
	prefix := opts.ChannelPrefix
	if prefix == "" {
		prefix = DefaultEventChannelPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRelay{client: opts.Client, prefix: prefix, logger: logger}, nil
}

// Publish sends ev to every instance listening on key.
func (r *EventRelay) Publish(ctx context.Context, key string, ev domainauth.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.prefix+key, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Listen delivers events published on key to fn until ctx is done.
// Malformed payloads are logged and skipped.
func (r *EventRelay) Listen(ctx context.Context, key string, fn ports.Listener) error {
	sub := r.client.Subscribe(ctx, r.prefix+key)
	defer func() {
		if err := sub.Close(); err != nil {
			r.logger.DebugContext(ctx, "close auth event subscription", "key", key, "error", err)
		}
	}()

	// Wait for the subscription to be confirmed so events published after
	// Listen starts are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			var ev domainauth.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.WarnContext(ctx, "drop malformed auth event", "key", key, "error", err)
				continue
			}
			fn(ev)
		}
	}
}
