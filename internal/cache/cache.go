// Package cache implements the Redis-backed read-through cache used by the
// listing and reservation lookups. Entries always carry a TTL; pattern
// invalidation after a committed command is best-effort on top of that.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/teatrolive/reservation-engine/internal/domain"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{
		client: client,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	return value, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// InvalidatePattern deletes every key matching the glob pattern. It SCANs
// instead of using KEYS so a large keyspace never blocks the server.
func (c *RedisCache) InvalidatePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	batch := make([]string, 0, 100)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())

		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := iter.Err(); err != nil {
		return err
	}

	return flush()
}

// Aside implements the cache-aside read path: serve the cached value when
// present, otherwise load, cache with ttl and return. Cache errors fall back
// to the loader; a read must never fail because the cache is down.
func Aside(
	ctx context.Context,
	c domain.Cache,
	logger *slog.Logger,
	key string,
	ttl time.Duration,
	load func(ctx context.Context) ([]byte, error)) ([]byte, error) {

	cached, err := c.Get(ctx, key)
	if err == nil {
		return cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		logger.Error("cache write failed", "key", key, "error", err)
	}

	return value, nil
}
