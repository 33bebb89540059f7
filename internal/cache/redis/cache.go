// Package redis provides the Redis-backed repository.Cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/artshare/internal/config"
	"github.com/prn-tf/artshare/internal/repository"
)

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Error().Err(err).Str("addr", cfg.Addr()).Msg("redis connection failed")
		return nil, fmt.Errorf("%w: %v", repository.ErrCacheUnavailable, err)
	}

	logger.Info().Str("addr", cfg.Addr()).Int("db", cfg.DB).Msg("connected to Redis")
	return client, nil
}

// Cache implements repository.Cache on a go-redis client.
type Cache struct {
	client goredis.UniversalClient
}

// NewCache wraps an existing client.
func NewCache(client goredis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// wrap maps redis.Nil to ErrCacheMiss and every other failure to ErrCacheUnavailable.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, goredis.Nil) {
		return repository.ErrCacheMiss
	}
	return fmt.Errorf("%w: %v", repository.ErrCacheUnavailable, err)
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, wrap(err)
	}
	return val, nil
}

// Set stores a value. A ttl of 0 keeps it until overwritten.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return wrap(c.client.Set(ctx, key, value, ttl).Err())
}

// SetNX sets a value only if the key doesn't exist.
func (c *Cache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrap(err)
	}
	return ok, nil
}

// Delete removes a value by key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return wrap(c.client.Del(ctx, key).Err())
}

// Exists checks if a key exists.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap(err)
	}
	return n > 0, nil
}

// Expire sets the TTL of a key. A ttl of 0 removes the expiry.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return wrap(c.client.Persist(ctx, key).Err())
	}
	return wrap(c.client.Expire(ctx, key, ttl).Err())
}

// TTL returns the remaining TTL: -1 for a missing key, -2 for no expiry.
// Redis uses the opposite codes.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, wrap(err)
	}
	switch ttl {
	case -2:
		return -1, nil
	case -1:
		return -2, nil
	}
	return ttl, nil
}

// GetMulti retrieves multiple values. Missing keys are omitted.
func (c *Cache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap(err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

// SetMulti stores multiple values in one pipeline.
func (c *Cache) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for key, value := range items {
			p.Set(ctx, key, value, ttl)
		}
		return nil
	})
	return wrap(err)
}

// DeleteMulti removes multiple values.
func (c *Cache) DeleteMulti(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap(c.client.Del(ctx, keys...).Err())
}

// Increment atomically adds delta to an integer value.
func (c *Cache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := c.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

// Decrement atomically subtracts delta from an integer value.
func (c *Cache) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := c.client.DecrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

// Ensure Cache implements repository.Cache.
var _ repository.Cache = (*Cache)(nil)
