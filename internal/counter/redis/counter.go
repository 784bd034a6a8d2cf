// Package redis provides a counter store suitable for multiple concurrent
// service instances, built on INCR + PEXPIRE.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/studylens/video-pipeline/internal/pipeline"
)

// Config controls the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store implements pipeline.CounterStore on a shared Redis instance.
type Store struct {
	client *redis.Client
	clock  pipeline.Clock
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config, clock pipeline.Clock) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client, clock: clock}, nil
}

// NewWithClient wraps an existing client; used by tests and callers that
// manage the connection themselves.
func NewWithClient(client *redis.Client, clock pipeline.Clock) *Store {
	return &Store{client: client, clock: clock}
}

// Increment runs INCR and, on first use of the key, PEXPIRE window. The
// returned reset time is derived from the key's remaining TTL so every
// service instance observes the same expiry.
func (s *Store) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("incr %s: %w: %w", key, pipeline.ErrStoreUnavailable, err)
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("pexpire %s: %w: %w", key, pipeline.ErrStoreUnavailable, err)
		}
		return count, s.clock.Now().Add(window), nil
	}
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		// TTL lookup is best-effort; fall back to a full window.
		ttl = window
	}
	return count, s.clock.Now().Add(ttl), nil
}

// Reset deletes every counter under prefix using SCAN + DEL batches.
func (s *Store) Reset(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", 256).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w: %w", prefix, pipeline.ErrStoreUnavailable, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("del counters: %w: %w", pipeline.ErrStoreUnavailable, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
