// Package txn implements the transaction runner (spec.md §4.1): a
// retry loop around a unit of work, configurable priority/timeout/
// retry policy, pre-commit checks, post-commit hooks ordered by
// priority, and lifecycle listeners for metrics/auditing.
//
// Grounded on the mutex-guarded snapshot shape of
// internal/async/status.go's IndexProgress for the concurrency-safe
// listener dispatch, and on internal/errs's generic retry helper for
// the backoff loop itself.
package txn

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amandb/recordkv/internal/errs"
	"github.com/amandb/recordkv/internal/kvengine"
)

// Priority mirrors the KV engine's own transaction priority classes.
type Priority string

const (
	PriorityBatch   Priority = "batch"
	PriorityDefault Priority = "default"
	PrioritySystem  Priority = "system"
)

// CachePolicyKind selects how the runner obtains a read version.
type CachePolicyKind string

const (
	CachePolicyServer CachePolicyKind = "server" // always fresh
	CachePolicyCached CachePolicyKind = "cached" // reuse last seen version
	CachePolicyStale  CachePolicyKind = "stale"  // reuse last seen version, same as cached
)

// CachePolicy selects how Run obtains a read version. MaxAgeMs is not
// consulted: the cached and stale kinds both reuse the
// ReadVersionCache's version while it is younger than the cache's own
// staleMaxAge.
type CachePolicy struct {
	Kind     CachePolicyKind
	MaxAgeMs int64
}

// Tracing carries the optional tracing knobs from spec.md §4.1.
type Tracing struct {
	ID             string
	LogAll         bool
	ServerTracing  bool
	Tags           map[string]string
}

// Config is TransactionConfiguration from spec.md §4.1.
type Config struct {
	Priority               Priority
	TimeoutMs              int64
	RetryLimit             int
	MaxRetryDelayMs        int64
	CachePolicy            CachePolicy
	Tracing                Tracing
	ReportConflictingKeys  bool
}

// DefaultConfig returns spec-default settings for a default-priority
// transaction with no special caching or tracing.
func DefaultConfig() Config {
	return Config{
		Priority:        PriorityDefault,
		TimeoutMs:       5000,
		RetryLimit:      5,
		MaxRetryDelayMs: 1000,
		CachePolicy:     CachePolicy{Kind: CachePolicyServer},
	}
}

// Event is a transaction lifecycle event delivered to Listeners.
type Event struct {
	Kind       EventKind
	DurationNs int64
	Err        error
}

type EventKind string

const (
	EventCreated   EventKind = "created"
	EventCommitting EventKind = "committing"
	EventCommitted EventKind = "committed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
	EventClosed    EventKind = "closed"
)

// Listener observes transaction lifecycle events. Implementations must
// be safe to call concurrently from multiple in-flight transactions.
type Listener interface {
	OnEvent(Event)
}

// PreCommitCheck runs against the in-flight transaction before Commit;
// returning an error aborts the commit (and, if retriable, triggers a
// retry with a fresh transaction).
type PreCommitCheck func(ctx context.Context, tx kvengine.Transaction) error

// PostCommitHook runs after a successful commit, ordered by Priority
// (higher first). A hook's error is ignored: it is not retried or
// logged, and it never fails the transaction that already committed.
type PostCommitHook struct {
	Priority int
	Run      func(ctx context.Context) error
}

// Runner executes Body under the retry/commit/hook contract of
// spec.md §4.1.
type Runner struct {
	engine    kvengine.Engine
	rvCache   *kvengine.ReadVersionCache
	listeners []Listener
	mu        sync.Mutex
}

// NewRunner builds a Runner bound to engine, with rvCache optionally
// nil (falls back to always fetching a fresh read version).
func NewRunner(engine kvengine.Engine, rvCache *kvengine.ReadVersionCache) *Runner {
	return &Runner{engine: engine, rvCache: rvCache}
}

// AddListener registers a lifecycle listener. Safe to call
// concurrently with Run: the listener list is guarded by r.mu.
func (r *Runner) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Runner) notify(ev Event) {
	r.mu.Lock()
	ls := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range ls {
		l.OnEvent(ev)
	}
}

// Run executes body under cfg's retry policy, applying preCommit
// checks before every commit attempt and postCommit hooks (sorted by
// descending priority) after a successful commit.
func Run(ctx context.Context, r *Runner, cfg Config, preCommit []PreCommitCheck, postCommit []PostCommitHook, body func(ctx context.Context, tx kvengine.Transaction) error) error {
	if cfg.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	retryCfg := errs.RetryConfig{
		MaxRetries:   cfg.RetryLimit,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     time.Duration(cfg.MaxRetryDelayMs) * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       true,
	}

	_, err := errs.RetryWithResult(ctx, retryCfg, errs.IsRetryable, func(attempt int) (struct{}, error) {
		r.notify(Event{Kind: EventCreated})
		start := time.Now()

		tx, err := r.engine.BeginTransaction(ctx)
		if err != nil {
			r.notify(Event{Kind: EventFailed, Err: err})
			return struct{}{}, err
		}

		if rv, ok := r.cachedReadVersion(ctx, cfg); ok {
			tx.SetReadVersion(rv)
		}

		if err := body(ctx, tx); err != nil {
			tx.Cancel()
			if ctx.Err() != nil {
				r.notify(Event{Kind: EventCancelled})
			} else {
				r.notify(Event{Kind: EventFailed, Err: err})
			}
			return struct{}{}, err
		}

		for _, check := range preCommit {
			if err := check(ctx, tx); err != nil {
				tx.Cancel()
				r.notify(Event{Kind: EventFailed, Err: err})
				return struct{}{}, err
			}
		}

		r.notify(Event{Kind: EventCommitting})
		if err := tx.Commit(ctx); err != nil {
			r.notify(Event{Kind: EventFailed, Err: err})
			return struct{}{}, err
		}

		committed, _ := tx.GetCommittedVersion()
		r.updateReadVersionCache(committed)
		r.notify(Event{Kind: EventCommitted, DurationNs: time.Since(start).Nanoseconds()})

		runPostCommitHooks(ctx, postCommit)
		r.notify(Event{Kind: EventClosed})
		return struct{}{}, nil
	})
	return err
}

func (r *Runner) cachedReadVersion(ctx context.Context, cfg Config) (int64, bool) {
	if r.rvCache == nil {
		return 0, false
	}
	switch cfg.CachePolicy.Kind {
	case CachePolicyCached:
		v, err := r.rvCache.Get(ctx, true)
		return v, err == nil
	case CachePolicyStale:
		v, err := r.rvCache.Get(ctx, true)
		return v, err == nil
	default:
		return 0, false
	}
}

func (r *Runner) updateReadVersionCache(committed int64) {
	if r.rvCache == nil || committed == 0 {
		return
	}
	r.rvCache.Invalidate()
}

func runPostCommitHooks(ctx context.Context, hooks []PostCommitHook) {
	sorted := append([]PostCommitHook(nil), hooks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	for _, h := range sorted {
		_ = h.Run(ctx)
	}
}
