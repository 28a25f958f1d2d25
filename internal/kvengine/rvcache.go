package kvengine

import (
	"context"
	"sync"
	"time"
)

// ReadVersionCache caches a recently-observed read version for a short
// window so that a burst of transactions started in quick succession can
// share one round trip to the engine for GetReadVersion, per spec.md
// §4.1/§5's read-version caching policy. A transaction configured with
// CachePolicy "server" always fetches fresh; "cached" tolerates the
// staleness window recorded here.
type ReadVersionCache struct {
	mu          sync.Mutex
	version     int64
	fetchedAt   time.Time
	staleMaxAge time.Duration
	fetch       func(ctx context.Context) (int64, error)
}

// NewReadVersionCache builds a cache that re-fetches via fetch whenever
// the cached version is older than staleMaxAge.
func NewReadVersionCache(staleMaxAge time.Duration, fetch func(ctx context.Context) (int64, error)) *ReadVersionCache {
	return &ReadVersionCache{staleMaxAge: staleMaxAge, fetch: fetch}
}

// Get returns a read version. If allowStale is false, or the cached
// version is older than staleMaxAge, it fetches a fresh one and updates
// the cache.
func (c *ReadVersionCache) Get(ctx context.Context, allowStale bool) (int64, error) {
	c.mu.Lock()
	if allowStale && !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.staleMaxAge {
		v := c.version
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err := c.fetch(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	// Never move the cached version backward: a slower concurrent fetch
	// finishing after a faster one must not regress it.
	if v >= c.version {
		c.version = v
		c.fetchedAt = time.Now()
	}
	out := c.version
	c.mu.Unlock()
	return out, nil
}

// Invalidate forces the next Get to fetch a fresh version regardless of
// allowStale.
func (c *ReadVersionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
}
