package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vibe-backend/internal/shared/remote"
)

// RedisCache stores entries in a shared Redis instance.
type RedisCache struct {
	Client  *redis.Client
	Timeout time.Duration
}

// NewRedis connects to the Redis instance at url.
func NewRedis(url string, timeout time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisCache{Client: redis.NewClient(opts), Timeout: timeout}, nil
}

// Ping verifies the connection.
func (r *RedisCache) Ping(ctx context.Context) error {
	return remote.Do(ctx, r.Timeout, "cache.ping", func(ctx context.Context) error {
		return r.Client.Ping(ctx).Err()
	})
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := remote.Get(ctx, r.Timeout, "cache.get", func(ctx context.Context) ([]byte, error) {
		return r.Client.Get(ctx, key).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return remote.Do(ctx, r.Timeout, "cache.set", func(ctx context.Context) error {
		return r.Client.Set(ctx, key, value, ttl).Err()
	})
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return remote.Do(ctx, r.Timeout, "cache.delete", func(ctx context.Context) error {
		return r.Client.Del(ctx, key).Err()
	})
}

// Close releases the client connections.
func (r *RedisCache) Close() error {
	return r.Client.Close()
}
