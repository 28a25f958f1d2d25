package schema

import (
	"context"

	"github.com/amandb/recordkv/internal/config"
	"github.com/amandb/recordkv/internal/errs"
	"github.com/amandb/recordkv/internal/index"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/onlineindex"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/store"
	"github.com/amandb/recordkv/internal/txn"
)

// StageKind distinguishes a migration stage that only touches index
// state from one that needs arbitrary per-item logic (spec.md §4.12).
type StageKind string

const (
	StageLightweight StageKind = "lightweight"
	StageCustom      StageKind = "custom"
)

// IndexStateChange is one maintainer/target-state pair a lightweight
// stage applies atomically alongside the format-version bump.
type IndexStateChange struct {
	Maintainer index.Maintainer
	State      index.State
}

// Stage is one step of a migration plan: a version edge plus either a
// set of index-state changes (lightweight) or a custom body driven
// through a MigrationContext. WillMigrate/DidMigrate are optional
// hooks run immediately before/after the stage's own work, outside
// its transaction(s) — for logging or external coordination, never
// for correctness the stage itself depends on.
type Stage struct {
	From, To Version
	Kind     StageKind

	IndexChanges []IndexStateChange

	Custom func(ctx context.Context, mc *MigrationContext) error

	WillMigrate func(ctx context.Context) error
	DidMigrate  func(ctx context.Context) error
}

// Plan is an ordered list of stages, per spec.md §4.12. MigrateIfNeeded
// walks it by matching each stage's From against the store's currently
// recorded version, so stages need not be contiguous with each other in
// Go source order as long as the From/To edges chain.
type Plan []Stage

func findStage(plan Plan, current Version) (Stage, bool) {
	for _, s := range plan {
		if s.From.Equal(current) {
			return s, true
		}
	}
	return Stage{}, false
}

// Engine runs a Plan against a store, per spec.md §4.12's
// migrateIfNeeded: read the stored version, compute the path, execute
// stages one at a time in their own transaction series.
type Engine struct {
	store     *store.Store
	supported Version
	buildCfg  config.OnlineBuildConfig
}

// NewEngine builds a migration Engine. supported is the highest format
// version this binary understands (spec.md §3's RequireCompatible
// check); buildCfg parameterizes any online index build a lightweight
// or custom stage triggers.
func NewEngine(s *store.Store, supported Version, buildCfg config.OnlineBuildConfig) *Engine {
	return &Engine{store: s, supported: supported, buildCfg: buildCfg}
}

// MigrateIfNeeded reads the store's current format version, walks plan
// from there, and applies each matching stage in turn. A stage failure
// leaves the version unchanged (spec.md §4.12: "a migration failure
// leaves the version unchanged and the partially applied state
// repairable by re-running") — the next call resumes from the same
// From version and, for a custom stage that had already processed some
// items, from its own checkpoint (see MigrationContext.MigrateItems).
//
// finalSchema, if non-nil, is persisted to M/schema once the walk
// reaches a version with no further matching stage (spec.md §4.12: "A
// schema is an ordered list of item types plus a semver version").
func (e *Engine) MigrateIfNeeded(ctx context.Context, plan Plan, finalSchema *Schema) error {
	root := e.store.Root()
	runner := e.store.Runner()

	var current Version
	if err := txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		v, err := GetFormatVersion(ctx, tx, root)
		if err != nil {
			return err
		}
		current = v
		return nil
	}); err != nil {
		return err
	}

	if err := RequireCompatible(current, e.supported); err != nil {
		return err
	}

	// A store that has never recorded a format version starts at the
	// plan's first stage.
	if current == (Version{}) && len(plan) > 0 {
		current = plan[0].From
	}

	for {
		stage, ok := findStage(plan, current)
		if !ok {
			break
		}

		if stage.WillMigrate != nil {
			if err := stage.WillMigrate(ctx); err != nil {
				return err
			}
		}

		if err := e.runStage(ctx, stage); err != nil {
			return err
		}

		if stage.DidMigrate != nil {
			if err := stage.DidMigrate(ctx); err != nil {
				return err
			}
		}

		current = stage.To
	}

	if finalSchema != nil {
		fs := *finalSchema
		fs.Version = current
		if err := txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
			return PutSchema(tx, root, fs)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runStage(ctx context.Context, stage Stage) error {
	root := e.store.Root()
	runner := e.store.Runner()

	switch stage.Kind {
	case StageLightweight:
		return txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
			for _, c := range stage.IndexChanges {
				if err := c.Maintainer.SetState(ctx, tx, c.State); err != nil {
					return err
				}
			}
			return PutFormatVersion(tx, root, stage.To)
		})

	case StageCustom:
		if stage.Custom == nil {
			return errs.New(errs.Internal, "custom migration stage has no body").
				WithDetail("from", stage.From.String()).WithDetail("to", stage.To.String())
		}
		mc := &MigrationContext{store: e.store, buildCfg: e.buildCfg, stageKey: "migrate_" + stage.From.String() + "_" + stage.To.String()}
		if err := stage.Custom(ctx, mc); err != nil {
			return err
		}
		// The version bump is the commit that makes this stage
		// "done" — it only happens once Custom has returned
		// successfully, so a crash mid-stage always resumes with
		// current == stage.From and re-runs Custom, which picks up
		// from its own per-item-type checkpoints.
		return txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
			return PutFormatVersion(tx, root, stage.To)
		})

	default:
		return errs.New(errs.Internal, "unknown migration stage kind").WithDetail("kind", string(stage.Kind))
	}
}

// MigrationContext is handed to a custom stage's body (spec.md §4.12:
// "custom stages get a migration context that can enumerate items in
// batches, apply updates, add/remove indexes, and count").
type MigrationContext struct {
	store    *store.Store
	buildCfg config.OnlineBuildConfig
	stageKey string
}

// MigrateItems scans typeName's items in checkpointed batches (reusing
// internal/onlineindex's progress cursor, keyed by this stage so two
// stages migrating the same type don't collide), calling mutate for
// each. mutate returns the item's replacement (e.g. with a backfilled
// field) or nil to leave it untouched; a returned replacement is
// written back through the store's normal ExecuteBatch path, so index
// maintainers observe it exactly like any other update. Returns the
// count of items mutate actually changed.
func (mc *MigrationContext) MigrateItems(ctx context.Context, typeName string, batchSize int, mutate func(item record.Item) (*record.Item, error)) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	root := mc.store.Root()
	runner := mc.store.Runner()
	itemSub := mc.store.ItemSubspace(typeName)
	checkpointName := mc.stageKey + "/" + typeName

	var total int64
	for {
		var batch []record.Item
		var lastKey []byte
		done := false
		err := txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
			begin := itemSub.Bytes()
			if last, err := onlineindex.LoadProgress(ctx, tx, root, checkpointName); err == nil && len(last) > 0 {
				begin = append(append([]byte(nil), last...), 0x00)
			}
			res, err := tx.GetRange(ctx, begin, itemSub.PrefixEnd(), kvengine.RangeOptions{Limit: batchSize})
			if err != nil {
				return err
			}
			if len(res.KVs) == 0 {
				done = true
				return nil
			}
			batch = batch[:0]
			for _, kv := range res.KVs {
				item, decErr := mc.store.ReadAt(ctx, tx, kv.Key)
				if decErr != nil {
					return decErr
				}
				if item != nil {
					batch = append(batch, *item)
				}
			}
			lastKey = res.KVs[len(res.KVs)-1].Key
			if len(res.KVs) < batchSize {
				done = true
			}
			return nil
		})
		if err != nil {
			return total, err
		}

		for _, item := range batch {
			next, err := mutate(item)
			if err != nil {
				return total, err
			}
			if next == nil {
				continue
			}
			if err := mc.store.ExecuteBatch(ctx, []record.Item{*next}, nil); err != nil {
				return total, err
			}
			total++
		}

		// The checkpoint advances only after the batch's writes, so a
		// failure mid-batch re-reads the whole batch on the next run.
		if lastKey != nil {
			if err := txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
				onlineindex.SaveProgress(tx, root, checkpointName, lastKey)
				return nil
			}); err != nil {
				return total, err
			}
		}

		if done {
			err := txn.Run(ctx, runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
				onlineindex.ClearProgress(tx, root, checkpointName)
				return nil
			})
			return total, err
		}
	}
}

// AddIndex registers maintainer on typeName's registry and drives it
// to readable via a sequential online build (spec.md §4.11), all
// within this custom stage. Used by a custom stage that both adds a
// field and wants the corresponding index populated before the stage
// completes, rather than leaving a separately-triggered build as a
// dangling follow-up.
func (mc *MigrationContext) AddIndex(ctx context.Context, typeName string, maintainer index.Maintainer) error {
	reg, ok := mc.store.Registry(typeName)
	if !ok {
		return errs.New(errs.Internal, "unregistered item type").WithDetail("type", typeName)
	}
	reg.Add(maintainer)
	builder := onlineindex.NewBuilder(mc.store, mc.buildCfg)
	return builder.Sequential(ctx, typeName, maintainer)
}

// RemoveIndex drops indexName from typeName's registry (so future
// writes stop maintaining it) and clears its index/state subspaces.
func (mc *MigrationContext) RemoveIndex(ctx context.Context, typeName, indexName string) error {
	reg, ok := mc.store.Registry(typeName)
	if !ok {
		return errs.New(errs.Internal, "unregistered item type").WithDetail("type", typeName)
	}
	root := mc.store.Root()
	err := txn.Run(ctx, mc.store.Runner(), txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		idxSub := root.Sub("I", indexName)
		tx.ClearRange(idxSub.Bytes(), idxSub.PrefixEnd())
		stateSub := index.StateSubspace(root, indexName)
		tx.ClearRange(stateSub.Bytes(), stateSub.PrefixEnd())
		return nil
	})
	if err != nil {
		return err
	}
	reg.Remove(indexName)
	return nil
}

// Count returns how many items of typeName currently exist, by
// ranging the item subspace length — used by a custom stage that needs
// to report progress without relying on MigrateItems's own return
// value (e.g. a stage that only adds/removes indexes and wants a
// before/after item count for its DidMigrate hook).
func (mc *MigrationContext) Count(ctx context.Context, typeName string) (int64, error) {
	itemSub := mc.store.ItemSubspace(typeName)
	var count int64
	err := txn.Run(ctx, mc.store.Runner(), txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		begin := itemSub.Bytes()
		end := itemSub.PrefixEnd()
		for {
			res, err := tx.GetRange(ctx, begin, end, kvengine.RangeOptions{Limit: 10000, StreamingMode: kvengine.ModeWantAll, Snapshot: true})
			if err != nil {
				return err
			}
			count += int64(len(res.KVs))
			if len(res.KVs) < 10000 {
				return nil
			}
			begin = append(append([]byte(nil), res.KVs[len(res.KVs)-1].Key...), 0x00)
		}
	})
	return count, err
}
