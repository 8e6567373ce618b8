package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/BrandonDHaskell/turnstile/internal/admission/types"
	"github.com/BrandonDHaskell/turnstile/internal/logging"
	"github.com/BrandonDHaskell/turnstile/internal/metrics"
)

// relayEnvelope is the Redis pub/sub payload.
type relayEnvelope struct {
	Origin string               `json:"origin"`
	Event  types.BroadcastEvent `json:"event"`
}

type RelayOption func(*RedisRelay)

// WithOrigin fixes the instance id stamped on outgoing messages.
func WithOrigin(id string) RelayOption {
	return func(r *RedisRelay) {
		if id != "" {
			r.origin = id
		}
	}
}

func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *RedisRelay) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *RedisRelay) { r.metrics = m }
}

// RedisRelay shares events between server instances over a Redis channel so
// a dashboard attached to any instance sees decisions from every reader.
// Messages carrying this instance's origin are ignored on receipt.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	origin  string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRedisRelay(client redis.UniversalClient, channel string, hub *Hub, opts ...RelayOption) *RedisRelay {
	r := &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		origin:  uuid.NewString(),
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRelay) Origin() string { return r.origin }

// Forward publishes ev for the other instances.
func (r *RedisRelay) Forward(ctx context.Context, ev types.BroadcastEvent) error {
	payload, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: ev})
	if err != nil {
		return fmt.Errorf("relay encode: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Run subscribes to the channel and republishes foreign events into the
// local hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.logger.Info("redis relay subscribed", "channel", r.channel, "origin", r.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

// handle decodes one relayed message. It returns the number of local
// clients that received it.
func (r *RedisRelay) handle(payload string) int {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.metrics.RecordRelayError()
		r.logger.Warn("relay decode failed", "err", err)
		return 0
	}
	if env.Origin == r.origin {
		return 0
	}
	return r.hub.Publish(env.Event)
}
