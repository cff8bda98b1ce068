package cache

import (
	"context"
	"time"

	pkgcache "geovar/pkg/cache"
)

// ServiceAdapter exposes a pkg/cache Service (memory, redis or layered)
// through the BytesCache API used by the HTTP handlers.
type ServiceAdapter struct {
	svc pkgcache.Service
}

func NewServiceAdapter(svc pkgcache.Service) *ServiceAdapter {
	return &ServiceAdapter{svc: svc}
}

func (a *ServiceAdapter) GetBytes(key string) ([]byte, bool, error) {
	var s string
	err := a.svc.Get(context.Background(), key, &s)
	if err != nil {
		if err == pkgcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(s), true, nil
}

func (a *ServiceAdapter) SetBytes(key string, value []byte, ttl time.Duration) error {
	return a.svc.Set(context.Background(), key, string(value), ttl)
}
