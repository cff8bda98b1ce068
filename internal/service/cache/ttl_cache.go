package cache

import (
	"sync"
	"time"
)

type item struct {
	data []byte
	exp  time.Time
}

// TTLCache is the in-process BytesCache used when redis is not configured.
// Expired entries are dropped lazily on read.
type TTLCache struct {
	mu    sync.RWMutex
	items map[string]item
}

func NewTTLCache() *TTLCache {
	return &TTLCache{items: make(map[string]item)}
}

func (c *TTLCache) GetBytes(key string) ([]byte, bool, error) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !it.exp.IsZero() && time.Now().After(it.exp) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return it.data, true, nil
}

func (c *TTLCache) SetBytes(key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = item{data: value, exp: exp}
	c.mu.Unlock()
	return nil
}
