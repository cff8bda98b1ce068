package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value    interface{}
	expireAt time.Time
	lastUsed time.Time
}

func (e *entry) expired(now time.Time) bool { return now.After(e.expireAt) }

// MemoryCache is the in-process backend: bounded map with least-recently-used
// eviction and a background sweep of expired entries.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	sweeper    *time.Ticker
	done       chan struct{}
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxEntries:    1000,
		SweepInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		entries:    make(map[string]*entry),
		maxEntries: cfg.MaxEntries,
		sweeper:    time.NewTicker(cfg.SweepInterval),
		done:       make(chan struct{}),
	}
	go mc.sweep()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	now := time.Now()
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if _, ok := mc.entries[key]; !ok && len(mc.entries) >= mc.maxEntries {
		mc.evictOldest()
	}
	mc.entries[key] = &entry{value: value, expireAt: now.Add(ttl), lastUsed: now}
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()
	e, ok := mc.entries[key]
	if !ok || e.expired(now) {
		if ok {
			delete(mc.entries, key)
		}
		return ErrCacheMiss
	}
	e.lastUsed = now

	if sp, ok := dest.(*string); ok {
		if s, ok := e.value.(string); ok {
			*sp = s
			return nil
		}
	}
	*dest.(*interface{}) = e.value
	return nil
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.entries, key)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		if e, ok := mc.entries[key]; ok && !e.expired(now) {
			return true, nil
		}
	}
	return false, nil
}

// Close stops the background sweep.
func (mc *MemoryCache) Close() error {
	mc.sweeper.Stop()
	close(mc.done)
	return nil
}

// evictOldest drops the least recently used entry; callers hold mc.mu.
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, e := range mc.entries {
		if oldestKey == "" || e.lastUsed.Before(oldest) {
			oldestKey, oldest = key, e.lastUsed
		}
	}
	if oldestKey != "" {
		delete(mc.entries, oldestKey)
	}
}

func (mc *MemoryCache) sweep() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.sweeper.C:
			now := time.Now()
			mc.mu.Lock()
			for key, e := range mc.entries {
				if e.expired(now) {
					delete(mc.entries, key)
				}
			}
			mc.mu.Unlock()
		}
	}
}
