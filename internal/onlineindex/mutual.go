package onlineindex

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/amandb/recordkv/internal/index"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/tuple"
	"github.com/amandb/recordkv/internal/txn"
)

// Mutual builds two interdependent maintainers (e.g. a graph's forward
// and backward edge layouts) in one scan — identical to MultiTarget's
// scan-sharing, but spec.md §4.11 additionally requires a consistency
// check comparing entry counts per bucket once both sides are built,
// since each side derives its entries independently from the same
// items and a bug in either maintainer would otherwise only surface as
// silently wrong query results.
func (b *Builder) Mutual(ctx context.Context, typeName string, forward, backward index.Maintainer, bucketsOf func(kv kvengine.KV) string) (*MutualReport, error) {
	if err := b.MultiTarget(ctx, typeName, []index.Maintainer{forward, backward}); err != nil {
		return nil, err
	}
	return b.compareMutualBuckets(ctx, forward, backward, bucketsOf)
}

// MutualReport counts per-bucket entries on both sides of a mutual
// build; Mismatched lists buckets whose counts disagree.
type MutualReport struct {
	ForwardBuckets  map[string]int
	BackwardBuckets map[string]int
	Mismatched      []string
}

// compareMutualBuckets reads both maintainers' subspaces concurrently
// (independent snapshot transactions, safe to parallelize since
// neither goroutine writes) and diffs their per-bucket counts.
func (b *Builder) compareMutualBuckets(ctx context.Context, forward, backward index.Maintainer, bucketsOf func(kv kvengine.KV) string) (*MutualReport, error) {
	root := b.store.Root()
	g, gctx := errgroup.WithContext(ctx)

	var fwdCounts, bwdCounts map[string]int
	g.Go(func() error {
		var err error
		fwdCounts, err = countBuckets(gctx, b.store.Runner(), root, forward.Name(), bucketsOf)
		return err
	})
	g.Go(func() error {
		var err error
		bwdCounts, err = countBuckets(gctx, b.store.Runner(), root, backward.Name(), bucketsOf)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &MutualReport{ForwardBuckets: fwdCounts, BackwardBuckets: bwdCounts}
	seen := make(map[string]bool)
	for bucket, fc := range fwdCounts {
		seen[bucket] = true
		if bwdCounts[bucket] != fc {
			report.Mismatched = append(report.Mismatched, bucket)
		}
	}
	for bucket, bc := range bwdCounts {
		if seen[bucket] {
			continue
		}
		if bc != 0 {
			report.Mismatched = append(report.Mismatched, bucket)
		}
	}
	return report, nil
}

// countBuckets range-scans indexName's subspace within its own
// read-only transaction and tallies entries per bucket, as assigned by
// bucketsOf.
func countBuckets(ctx context.Context, runner *txn.Runner, root tuple.Subspace, indexName string, bucketsOf func(kv kvengine.KV) string) (map[string]int, error) {
	counts := make(map[string]int)
	err := txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		sub := root.Sub("I", indexName)
		begin := sub.Bytes()
		for {
			res, err := tx.GetRange(ctx, begin, sub.PrefixEnd(), kvengine.RangeOptions{Limit: 10000})
			if err != nil {
				return err
			}
			if len(res.KVs) == 0 {
				return nil
			}
			for _, kv := range res.KVs {
				counts[bucketsOf(kv)]++
			}
			if len(res.KVs) < 10000 {
				return nil
			}
			begin = append(append([]byte(nil), res.KVs[len(res.KVs)-1].Key...), 0x00)
		}
	})
	return counts, err
}
