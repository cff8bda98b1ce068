package cache

import "time"

// BytesCache is the response-cache contract the HTTP handlers code against:
// opaque payloads under string keys with a TTL. Implementations are the
// in-process TTLCache and the ServiceAdapter over the shared cache backends.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
}
