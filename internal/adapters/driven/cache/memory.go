// Package cache provides TokenCache implementations: an in-process
// TTL cache for single-node deployments and a Redis-backed cache for
// shared ones.
package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

// Memory is an in-process TokenCache. Entries expire with their token so a
// hit is always an unexpired record; the lifecycle manager still re-checks
// expiry against its own clock.
type Memory struct {
	cache *ttlcache.Cache[string, domain.TokenRecord]
	now   func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the time source used for TTL computation.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an in-process token cache with a background janitor.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		cache: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, domain.TokenRecord](),
		),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.cache.Start()
	return m
}

// Get implements driven.TokenCache.
func (m *Memory) Get(_ context.Context, account domain.Account, scopes domain.ScopeSet) (domain.TokenRecord, bool) {
	item := m.cache.Get(domain.CacheKey(account, scopes))
	if item == nil {
		return domain.TokenRecord{}, false
	}
	return item.Value(), true
}

// Put implements driven.TokenCache. Records already past expiry are not
// stored.
func (m *Memory) Put(_ context.Context, record domain.TokenRecord) {
	ttl := record.TTLAt(m.now())
	if ttl <= 0 {
		return
	}
	m.cache.Set(record.Key(), record, ttl)
}

// Invalidate implements driven.TokenCache.
func (m *Memory) Invalidate(_ context.Context, account domain.Account, scopes domain.ScopeSet) {
	m.cache.Delete(domain.CacheKey(account, scopes))
}

// Close stops the janitor goroutine.
func (m *Memory) Close() {
	m.cache.Stop()
}
