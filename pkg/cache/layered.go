package cache

import (
	"context"
	"time"
)

// LayeredCache puts a small in-process layer in front of redis: writes go
// through to redis, reads fill the memory layer on a redis hit.
type LayeredCache struct {
	mem   *MemoryCache
	redis *RedisCache
}

func NewLayeredCache(redis *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{MemoryMaxEntries: 1000}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{
		mem:   NewMemoryCache(WithMemoryMaxEntries(cfg.MemoryMaxEntries)),
		redis: redis,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := lc.redis.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, value, ttl)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.mem.Get(ctx, key, dest); err == nil {
		return nil
	}
	if err := lc.redis.Get(ctx, key, dest); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, dest, 0)
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.redis.Delete(ctx, keys...)
}

// Exists consults redis only; the memory layer is a subset.
func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	return lc.redis.Exists(ctx, keys...)
}

func (lc *LayeredCache) Close() error {
	_ = lc.mem.Close()
	return lc.redis.Close()
}
