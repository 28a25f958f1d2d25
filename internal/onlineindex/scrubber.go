package onlineindex

import (
	"context"

	"github.com/amandb/recordkv/internal/index"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/txn"
)

// ScrubReport is spec.md §4.11's scrubber result: items whose derived
// index entries don't match what's actually stored, split into
// missing (should exist, doesn't) and orphaned (exists, shouldn't).
//
// Grounded on internal/index/consistency.go's CheckResult/Inconsistency
// split (there: orphaned/missing chunks between the BM25 and vector
// stores), generalized from that fixed two-store comparison to any
// Maintainer by driving the check off IndexKeys instead of a
// store-specific enumeration.
type ScrubReport struct {
	Missing  []index.KV
	Orphaned []index.KV
	Checked  int
}

func (r *ScrubReport) Clean() bool { return len(r.Missing) == 0 && len(r.Orphaned) == 0 }

// Scrub compares maintainer's actual subspace entries against the
// entries IndexKeys says typeName's items should have produced. A
// maintainer whose IndexKeys is a no-op (aggregation, bitmap, graph,
// version, permuted — families whose entries aren't a pure per-item
// derivation) can't be scrubbed this way; Scrub returns a report with
// Checked=0 rather than erroring, since "can't verify" isn't the same
// as "verified clean".
func (b *Builder) Scrub(ctx context.Context, typeName string, maintainer index.Maintainer) (*ScrubReport, error) {
	report := &ScrubReport{}
	root := b.store.Root()
	itemSub := b.store.ItemSubspace(typeName)
	idxSub := root.Sub("I", maintainer.Name())

	err := txn.Run(ctx, b.store.Runner(), txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		expected := make(map[string][]byte)
		begin := itemSub.Bytes()
		for {
			res, err := tx.GetRange(ctx, begin, itemSub.PrefixEnd(), kvengine.RangeOptions{Limit: 10000})
			if err != nil {
				return err
			}
			if len(res.KVs) == 0 {
				break
			}
			for _, kv := range res.KVs {
				item, err := b.store.ReadAt(ctx, tx, kv.Key)
				if err != nil {
					return err
				}
				if item == nil {
					continue
				}
				report.Checked++
				kvs, err := maintainer.IndexKeys(*item)
				if err != nil {
					return err
				}
				for _, e := range kvs {
					expected[string(e.Key)] = e.Value
				}
			}
			if len(res.KVs) < 10000 {
				break
			}
			begin = append(append([]byte(nil), res.KVs[len(res.KVs)-1].Key...), 0x00)
		}
		if len(expected) == 0 {
			report.Checked = 0
			return nil
		}

		actual := make(map[string][]byte)
		begin = idxSub.Bytes()
		for {
			res, err := tx.GetRange(ctx, begin, idxSub.PrefixEnd(), kvengine.RangeOptions{Limit: 10000})
			if err != nil {
				return err
			}
			if len(res.KVs) == 0 {
				break
			}
			for _, kv := range res.KVs {
				actual[string(kv.Key)] = kv.Value
			}
			if len(res.KVs) < 10000 {
				break
			}
			begin = append(append([]byte(nil), res.KVs[len(res.KVs)-1].Key...), 0x00)
		}

		for k, v := range expected {
			if _, ok := actual[k]; !ok {
				report.Missing = append(report.Missing, index.KV{Key: []byte(k), Value: v})
			}
		}
		for k, v := range actual {
			if _, ok := expected[k]; !ok {
				report.Orphaned = append(report.Orphaned, index.KV{Key: []byte(k), Value: v})
			}
		}
		return nil
	})
	return report, err
}

// Repair applies a ScrubReport: adds missing entries, clears orphaned
// ones. Call after Scrub reports a non-clean result.
func (b *Builder) Repair(ctx context.Context, report *ScrubReport) error {
	if report.Clean() {
		return nil
	}
	return txn.Run(ctx, b.store.Runner(), txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		for _, kv := range report.Missing {
			tx.Set(kv.Key, kv.Value)
		}
		for _, kv := range report.Orphaned {
			tx.Clear(kv.Key)
		}
		return nil
	})
}
