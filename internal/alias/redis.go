package alias

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "alias:"

// Redis is a Cache backed by Redis with per-entry TTL. The caller owns the
// client lifecycle.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedis creates a Redis-backed alias cache. A non-positive ttl stores
// entries without expiry.
func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	hash, err := r.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get alias: %w", err)
	}
	return hash, nil
}

func (r *Redis) Put(ctx context.Context, key, contentHash string) error {
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, keyPrefix+key, contentHash, ttl).Err(); err != nil {
		return fmt.Errorf("failed to put alias: %w", err)
	}
	return nil
}
