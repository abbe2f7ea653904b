// Package stream publishes committed vault events to a Redis stream so that
// downstream consumers can follow vault activity with XREAD or consumer
// groups.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/plugin"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "subvault:events"

// DefaultMaxLen caps the stream length when none is configured.
const DefaultMaxLen = 100_000

// Compile-time interface checks.
var (
	_ plugin.Plugin  = (*Publisher)(nil)
	_ plugin.OnInit  = (*Publisher)(nil)
	_ plugin.OnEvent = (*Publisher)(nil)
)

// Client is the subset of the go-redis client used by the publisher.
type Client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Publisher is a vault plugin that appends each committed event to a
// Redis stream.
type Publisher struct {
	client Client
	stream string
	maxLen int64
	exact  bool
	logger *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithStream sets the stream key.
func WithStream(key string) Option {
	return func(p *Publisher) { p.stream = key }
}

// WithMaxLen caps the stream length. Zero disables trimming.
func WithMaxLen(n int64) Option {
	return func(p *Publisher) { p.maxLen = n }
}

// WithExactTrim trims to exactly MaxLen entries instead of letting Redis
// trim lazily.
func WithExactTrim() Option {
	return func(p *Publisher) { p.exact = true }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// NewPublisher creates a Publisher writing through client.
func NewPublisher(client Client, opts ...Option) *Publisher {
	p := &Publisher{
		client: client,
		stream: DefaultStream,
		maxLen: DefaultMaxLen,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements plugin.Plugin.
func (p *Publisher) Name() string { return "redis-stream" }

// Stream returns the stream key.
func (p *Publisher) Stream() string { return p.stream }

// OnInit implements plugin.OnInit. It verifies the connection.
func (p *Publisher) OnInit(ctx context.Context, _ any) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("stream: ping redis: %w", err)
	}
	return nil
}

// OnEvent implements plugin.OnEvent.
func (p *Publisher) OnEvent(ctx context.Context, e *event.Event) error {
	values, err := Encode(e)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = !p.exact
	}

	msgID, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("stream: xadd %s: %w", e.Kind, err)
	}
	p.logger.Debug("event published",
		"stream", p.stream,
		"message_id", msgID,
		"event_id", e.ID.String(),
		"kind", e.Kind,
	)
	return nil
}

// Encode flattens e into stream message fields. Data is carried as a JSON
// object in the "data" field.
func Encode(e *event.Event) (map[string]any, error) {
	values := map[string]any{
		"id":           e.ID.String(),
		"kind":         string(e.Kind),
		"actor":        e.Actor.String(),
		"counterparty": e.Counterparty.String(),
		"amount":       e.Amount.String(),
		"timestamp":    strconv.FormatUint(e.Timestamp, 10),
	}
	if e.SubscriptionID != nil {
		values["subscription_id"] = e.SubscriptionKey()
	}
	if len(e.Data) > 0 {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("stream: encode data: %w", err)
		}
		values["data"] = string(data)
	}
	return values, nil
}
