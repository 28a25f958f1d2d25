// Package onlineindex implements spec.md §4.11's online index build:
// build strategies (sequential, multi-target, mutual, index-from-index),
// an adaptive batch-size throttler, checkpointed resumable progress,
// and a consistency scrubber.
//
// Grounded on internal/async/indexer.go's BackgroundIndexer shape
// (progress tracking, lifecycle channels) for the build's outward
// surface, and on internal/index/consistency.go's report/repair split
// for the scrubber — both teacher files this package supersedes rather
// than imports, since neither compiles against this module's storage
// layer (see DESIGN.md).
package onlineindex

import "github.com/amandb/recordkv/internal/config"

// Throttler adapts batch size between builds' transaction attempts,
// per spec.md §4.11 and §8's convergence property: batch size grows on
// success (bounded by MaxBatchSize or the transaction-size soft
// limit), shrinks on failure (bounded by MinBatchSize), so a build
// converges toward the largest batch the transaction-size limit and
// conflict rate allow rather than running at a fixed size the whole
// way.
type Throttler struct {
	cfg     config.OnlineBuildConfig
	current int
}

// NewThrottler starts at cfg.InitialBatchSize.
func NewThrottler(cfg config.OnlineBuildConfig) *Throttler {
	size := cfg.InitialBatchSize
	if size <= 0 {
		size = 100
	}
	return &Throttler{cfg: cfg, current: size}
}

// BatchSize returns the current batch size.
func (t *Throttler) BatchSize() int { return t.current }

// OnSuccess doubles the batch size (bounded by MaxBatchSize), a
// multiplicative growth on the grow side — spec.md leaves the growth factor
// unspecified, doubling is the simplest monotone choice that still
// converges in O(log n) batches.
func (t *Throttler) OnSuccess() {
	next := t.current * 2
	if t.cfg.MaxBatchSize > 0 && next > t.cfg.MaxBatchSize {
		next = t.cfg.MaxBatchSize
	}
	t.current = next
}

// OnFailure halves the batch size (bounded by MinBatchSize) — a
// transaction-too-large or conflict error means the batch was too
// ambitious, so the next attempt backs off rather than retrying the
// identical batch.
func (t *Throttler) OnFailure() {
	next := t.current / 2
	if next < t.cfg.MinBatchSize {
		next = t.cfg.MinBatchSize
	}
	if next < 1 {
		next = 1
	}
	t.current = next
}

// OverSoftLimit reports whether an observed transaction byte size
// exceeded the configured soft limit, the signal a build uses to
// shrink its next batch before the engine itself rejects it as
// TransactionTooLarge.
func (t *Throttler) OverSoftLimit(bytes int) bool {
	return t.cfg.TxnSizeSoftLimit > 0 && bytes > t.cfg.TxnSizeSoftLimit
}
