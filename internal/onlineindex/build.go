package onlineindex

import (
	"context"

	"github.com/amandb/recordkv/internal/config"
	"github.com/amandb/recordkv/internal/errs"
	"github.com/amandb/recordkv/internal/index"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/store"
	"github.com/amandb/recordkv/internal/tuple"
	"github.com/amandb/recordkv/internal/txn"
)

// Builder drives one or more maintainers to readable from a cold
// start, per spec.md §4.11.
type Builder struct {
	store *store.Store
	cfg   config.OnlineBuildConfig
}

func NewBuilder(s *store.Store, cfg config.OnlineBuildConfig) *Builder {
	return &Builder{store: s, cfg: cfg}
}

// Sequential puts maintainer in writeOnly, scans typeName's items in
// checkpointed batches calling maintainer.Update(old=nil) for each,
// then flips to readable. No scrubber pass is run; Scrub is a separate
// call. Resumable: a build
// interrupted mid-way picks up from the last saved progress key on the
// next call.
func (b *Builder) Sequential(ctx context.Context, typeName string, maintainer index.Maintainer) error {
	root := b.store.Root()
	runner := b.store.Runner()

	if err := txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		return maintainer.SetState(ctx, tx, index.StateWriteOnly)
	}); err != nil {
		return err
	}

	throttle := NewThrottler(b.cfg)
	itemSub := b.store.ItemSubspace(typeName)

	for {
		done, err := b.runBatch(ctx, itemSub, root, maintainer.Name(), throttle, func(ctx context.Context, tx kvengine.Transaction, item record.Item) error {
			return maintainer.Update(ctx, tx, nil, &item)
		})
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	return txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		ClearProgress(tx, root, maintainer.Name())
		return maintainer.SetState(ctx, tx, index.StateReadable)
	})
}

// MultiTarget drives maintainers together from one scan: every batch
// applies every maintainer's Update for each scanned item within the
// same transaction, so the scan cost is paid once instead of once per
// maintainer. Checkpoint progress is tracked under the first
// maintainer's name, since all maintainers advance through the same
// scan in lockstep.
func (b *Builder) MultiTarget(ctx context.Context, typeName string, maintainers []index.Maintainer) error {
	if len(maintainers) == 0 {
		return nil
	}
	root := b.store.Root()
	runner := b.store.Runner()
	lead := maintainers[0].Name()

	if err := txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		for _, m := range maintainers {
			if err := m.SetState(ctx, tx, index.StateWriteOnly); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	throttle := NewThrottler(b.cfg)
	itemSub := b.store.ItemSubspace(typeName)

	for {
		done, err := b.runBatch(ctx, itemSub, root, lead, throttle, func(ctx context.Context, tx kvengine.Transaction, item record.Item) error {
			for _, m := range maintainers {
				if err := m.Update(ctx, tx, nil, &item); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	return txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		ClearProgress(tx, root, lead)
		for _, m := range maintainers {
			if err := m.SetState(ctx, tx, index.StateReadable); err != nil {
				return err
			}
		}
		return nil
	})
}

// IndexFromIndex builds target by scanning source's entries instead of
// raw items, when source is readable and covers every field target
// needs — spec.md §4.11's fourth strategy. decode turns one source
// entry's raw KV into the item fields target's Update needs; it's the
// caller's responsibility to supply a decode function matching
// source's own key layout, since index subspaces have no common shape.
func (b *Builder) IndexFromIndex(ctx context.Context, source index.Maintainer, target index.Maintainer, decode func(kv kvengine.KV) (record.Item, bool)) error {
	root := b.store.Root()
	runner := b.store.Runner()

	if err := txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		state, err := source.State(ctx, tx)
		if err != nil {
			return err
		}
		if state != index.StateReadable {
			return errs.New(errs.IndexStateError, "index-from-index source must be readable").WithDetail("source", source.Name())
		}
		return target.SetState(ctx, tx, index.StateWriteOnly)
	}); err != nil {
		return err
	}

	sourceSub := root.Sub("I", source.Name())
	throttle := NewThrottler(b.cfg)

	for {
		done, err := b.runRawBatch(ctx, sourceSub, root, target.Name(), throttle, func(ctx context.Context, tx kvengine.Transaction, kv kvengine.KV) error {
			item, ok := decode(kv)
			if !ok {
				return nil
			}
			return target.Update(ctx, tx, nil, &item)
		})
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	return txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		ClearProgress(tx, root, target.Name())
		return target.SetState(ctx, tx, index.StateReadable)
	})
}

// runBatch scans one throttled batch of itemSub starting from the
// checkpointed key, decodes each item and applies apply to it, and
// saves progress. Returns done=true once the scan is exhausted.
func (b *Builder) runBatch(ctx context.Context, itemSub tuple.Subspace, root tuple.Subspace, checkpointName string, throttle *Throttler, apply func(context.Context, kvengine.Transaction, record.Item) error) (bool, error) {
	done := false
	err := txn.Run(ctx, b.store.Runner(), txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		begin := itemSub.Bytes()
		if last, err := LoadProgress(ctx, tx, root, checkpointName); err == nil && len(last) > 0 {
			begin = append(append([]byte(nil), last...), 0x00)
		}
		res, err := tx.GetRange(ctx, begin, itemSub.PrefixEnd(), kvengine.RangeOptions{Limit: throttle.BatchSize()})
		if err != nil {
			return err
		}
		if len(res.KVs) == 0 {
			done = true
			return nil
		}
		for _, kv := range res.KVs {
			item, decErr := b.store.ReadAt(ctx, tx, kv.Key)
			if decErr != nil {
				return decErr
			}
			if item == nil {
				continue
			}
			if err := apply(ctx, tx, *item); err != nil {
				return err
			}
		}
		SaveProgress(tx, root, checkpointName, res.KVs[len(res.KVs)-1].Key)
		if len(res.KVs) < throttle.BatchSize() {
			done = true
		}
		size, _ := tx.ApproximateSize()
		if throttle.OverSoftLimit(int(size)) {
			throttle.OnFailure()
		} else {
			throttle.OnSuccess()
		}
		return nil
	})
	return done, err
}

// runRawBatch is runBatch's counterpart for IndexFromIndex, which
// applies a raw source KV instead of a decoded item.
func (b *Builder) runRawBatch(ctx context.Context, sourceSub tuple.Subspace, root tuple.Subspace, checkpointName string, throttle *Throttler, apply func(context.Context, kvengine.Transaction, kvengine.KV) error) (bool, error) {
	done := false
	err := txn.Run(ctx, b.store.Runner(), txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		begin := sourceSub.Bytes()
		if last, err := LoadProgress(ctx, tx, root, checkpointName); err == nil && len(last) > 0 {
			begin = append(append([]byte(nil), last...), 0x00)
		}
		res, err := tx.GetRange(ctx, begin, sourceSub.PrefixEnd(), kvengine.RangeOptions{Limit: throttle.BatchSize()})
		if err != nil {
			return err
		}
		if len(res.KVs) == 0 {
			done = true
			return nil
		}
		for _, kv := range res.KVs {
			if err := apply(ctx, tx, kv); err != nil {
				return err
			}
		}
		SaveProgress(tx, root, checkpointName, res.KVs[len(res.KVs)-1].Key)
		if len(res.KVs) < throttle.BatchSize() {
			done = true
		}
		size, _ := tx.ApproximateSize()
		if throttle.OverSoftLimit(int(size)) {
			throttle.OnFailure()
		} else {
			throttle.OnSuccess()
		}
		return nil
	})
	return done, err
}
