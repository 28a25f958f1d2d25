package planner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is spec.md §4.9's plan cache: keyed by
// (predicateSignature, sortSignature, projectionSignature), LRU-evicted,
// with TTL and schema/statistics-version invalidation.
//
// Grounded on internal/embed/cached.go's lru.Cache wrapping pattern
// (size-bounded cache in front of an expensive compute step), adapted
// from embedding vectors to physical plans.
type Cache struct {
	mu          sync.Mutex
	cache       *lru.Cache[string, entry]
	ttl         time.Duration
	schemaVer   int64
	statsVer    int64
}

type entry struct {
	plan      *Plan
	createdAt time.Time
	schemaVer int64
	statsVer  int64
}

// NewCache builds a plan cache holding up to size entries, each valid
// for ttl before being re-planned regardless of invalidation signals.
func NewCache(size int, ttl time.Duration) (*Cache, error) {
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{cache: c, ttl: ttl}, nil
}

// InvalidateSchema bumps the schema version, e.g. on a migration
// (internal/schema) adding or removing an index.
func (c *Cache) InvalidateSchema() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemaVer++
}

// InvalidateStatistics bumps the statistics version, e.g. after the
// online indexer refreshes Statistics.
func (c *Cache) InvalidateStatistics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statsVer++
}

// Signature builds the cache key for q, per spec.md §4.9:
// predicate signature (field+op+bound-shape, not literal values, so
// plans for different literals on the same predicate shape share a
// plan), sort signature, and projection signature (this planner always
// projects the whole item, so the projection signature is constant).
func Signature(q Query) string {
	preds := make([]string, len(q.Filters))
	for i, p := range q.Filters {
		n := "1"
		if p.Op == OpIn {
			n = fmt.Sprintf("%d", len(p.Values))
		}
		preds[i] = fmt.Sprintf("%s:%s:%s", p.Field, p.Op, n)
	}
	sort.Strings(preds)
	sorts := make([]string, len(q.OrderBy))
	for i, s := range q.OrderBy {
		sorts[i] = fmt.Sprintf("%s:%v", s.Field, s.Desc)
	}
	return q.TypeName + "|" + strings.Join(preds, ",") + "|" + strings.Join(sorts, ",")
}

// Get returns the cached plan for q's signature if present, unexpired,
// and planned against the current schema/statistics version.
func (c *Cache) Get(q Query) (*Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache.Get(Signature(q))
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(e.createdAt) > c.ttl {
		return nil, false
	}
	if e.schemaVer != c.schemaVer || e.statsVer != c.statsVer {
		return nil, false
	}
	return e.plan, true
}

// Put caches plan for q's signature, stamped with the current
// schema/statistics versions.
func (c *Cache) Put(q Query, plan *Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(Signature(q), entry{plan: plan, createdAt: time.Now(), schemaVer: c.schemaVer, statsVer: c.statsVer})
}
