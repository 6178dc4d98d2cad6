// Package eventstream forwards committed vault events to a Redis stream.
// Each entry carries the event kind, the account and the JSON event body;
// the badge bridge consumes badge_relocated entries from it.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chainsafe/xchain-vault/pkg/config"
	"github.com/chainsafe/xchain-vault/pkg/vault"
)

// RedisPublisher appends events to one capped stream with XADD.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisPublisher connects to cfg.RedisURL and checks it answers.
func NewRedisPublisher(ctx context.Context, cfg *config.EventsConfig, logger *zap.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid events.redis_url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("Publishing vault events to redis stream",
		zap.String("addr", opts.Addr),
		zap.String("stream", cfg.Stream))
	return NewPublisher(client, cfg.Stream, cfg.MaxLen, logger), nil
}

// NewPublisher wraps an existing client.
func NewPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

// Publish appends events in order within one pipeline.
func (p *RedisPublisher) Publish(ctx context.Context, events ...*vault.Event) error {
	if len(events) == 0 {
		return nil
	}

	bodies := vault.NewEventsResponse(events)
	pipe := p.client.Pipeline()
	for i, body := range bodies {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s event: %w", events[i].Kind, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Approx: true,
			Values: map[string]any{
				"kind":    string(body.Kind),
				"account": body.Account,
				"payload": string(payload),
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis xadd to %s: %w", p.stream, err)
	}
	p.logger.Debug("Published vault events",
		zap.String("stream", p.stream),
		zap.Int("events", len(events)))
	return nil
}

// Close closes the redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
