// Package store implements the item store of spec.md §4.2: typed CRUD
// over items, index fan-out synchronous with every write, and the
// security delegate hook every read/write path routes through. This is
// the component spec.md calls simply "store" — the thing that owns an
// item type's envelope encoding, its registered index maintainers, and
// the transaction runner that makes a write plus its index fan-out
// atomic.
//
// Grounded on internal/store/types.go's Document-shaped CRUD surface
// (the teacher's fixed chunk/file/project schema), generalized to the
// open ItemType/IndexDescriptor model of internal/record, and wired
// directly to internal/envelope + internal/kvengine + internal/txn +
// internal/index instead of the teacher's SQLite/USearch/bleve
// persistence layer (see DESIGN.md for why those don't fit spec.md's
// single-KV-engine requirement).
package store

import (
	"context"

	"github.com/amandb/recordkv/internal/envelope"
	"github.com/amandb/recordkv/internal/errs"
	"github.com/amandb/recordkv/internal/index"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
	"github.com/amandb/recordkv/internal/txn"
)

// SecurityDelegate observes every item access and may deny it. The core
// invents no policy of its own — spec.md §4.2 places every hook here
// rather than at the query-builder layer, per §9's "Open Questions"
// resolution. A denial must not distinguish "doesn't exist" from
// "exists but denied"; callers needing that distinction have to encode
// it in their own delegate.
type SecurityDelegate interface {
	EvaluateGet(ctx context.Context, typeName string, pk []any) error
	EvaluateList(ctx context.Context, typeName string, limit, offset int, orderBy []string) error
	EvaluateCreate(ctx context.Context, item record.Item) error
	EvaluateUpdate(ctx context.Context, old, next record.Item) error
	EvaluateDelete(ctx context.Context, item record.Item) error
	// IsAdmin gates clearAll, which bypasses the per-item hooks above.
	IsAdmin(ctx context.Context) bool
}

// AllowAllDelegate is a no-op SecurityDelegate for tests and for hosts
// that enforce authorization elsewhere.
type AllowAllDelegate struct{ Admin bool }

func (d AllowAllDelegate) EvaluateGet(context.Context, string, []any) error             { return nil }
func (d AllowAllDelegate) EvaluateList(context.Context, string, int, int, []string) error { return nil }
func (d AllowAllDelegate) EvaluateCreate(context.Context, record.Item) error            { return nil }
func (d AllowAllDelegate) EvaluateUpdate(context.Context, record.Item, record.Item) error { return nil }
func (d AllowAllDelegate) EvaluateDelete(context.Context, record.Item) error            { return nil }
func (d AllowAllDelegate) IsAdmin(context.Context) bool                                 { return d.Admin }

// typeBinding is everything the store needs to read and write one
// registered item type.
type typeBinding struct {
	itemType record.ItemType
	registry *index.Registry
}

// Store is spec.md §4.2's data-access surface: CRUD over typed items
// with synchronous index maintenance, built on a single KV engine.
type Store struct {
	root        tuple.Subspace
	engine      kvengine.Engine
	runner      *txn.Runner
	transformer *envelope.Transformer
	security    SecurityDelegate

	types map[string]*typeBinding
}

// New builds a Store rooted at root, backed by engine, using
// transformer for the item envelope's compress/encrypt pipeline
// (spec.md §3) and security as the authorization delegate.
func New(root tuple.Subspace, engine kvengine.Engine, transformer *envelope.Transformer, security SecurityDelegate) *Store {
	if security == nil {
		security = AllowAllDelegate{}
	}
	rvCache := kvengine.NewReadVersionCache(0, func(ctx context.Context) (int64, error) {
		tx, err := engine.BeginTransaction(ctx)
		if err != nil {
			return 0, err
		}
		defer tx.Cancel()
		return tx.GetReadVersion(ctx)
	})
	return &Store{
		root:        root,
		engine:      engine,
		runner:      txn.NewRunner(engine, rvCache),
		transformer: transformer,
		security:    security,
		types:       make(map[string]*typeBinding),
	}
}

// Runner exposes the underlying transaction runner so callers can run
// their own multi-type transactions (e.g. the online indexer and
// migration engine, which need direct access to §4.1's retry/hook
// contract rather than a single CRUD call).
func (s *Store) Runner() *txn.Runner { return s.runner }

// Root exposes the store's root subspace, e.g. for §4.12's migration
// metadata keys or a caller's own scrubbing pass.
func (s *Store) Root() tuple.Subspace { return s.root }

// RegisterType declares an item type and its maintainers (already
// constructed against s.Root(), one per it.Indexes entry, by the
// caller — the store doesn't know how to build a fulltext/vector/graph
// maintainer from a bare IndexDescriptor, that's the caller's
// responsibility via the kind-specific constructors in
// internal/index(/fulltext|/vector|/graph)).
func (s *Store) RegisterType(it record.ItemType, maintainers ...index.Maintainer) {
	reg := index.NewRegistry()
	for _, m := range maintainers {
		reg.Add(m)
	}
	s.types[it.Name] = &typeBinding{itemType: it, registry: reg}
}

// Registry returns the maintainer registry for typeName, used by the
// planner/executor to dispatch index reads and by the online indexer
// to dispatch builds.
func (s *Store) Registry(typeName string) (*index.Registry, bool) {
	tb, ok := s.types[typeName]
	if !ok {
		return nil, false
	}
	return tb.registry, true
}

func (s *Store) binding(typeName string) (*typeBinding, error) {
	tb, ok := s.types[typeName]
	if !ok {
		return nil, errs.New(errs.Internal, "unregistered item type").WithDetail("type", typeName)
	}
	return tb, nil
}

// itemKey computes <itemSubspace>/<typeName>/<directory...>/<primaryKeyTuple>,
// spec.md §6's bit-exact item key format extended with the item type's
// directory path (spec.md §3's per-tenant/per-shard partitioning).
func (s *Store) itemKey(typeName string, dir []any, pk []any) []byte {
	sub := s.root.Sub("R", typeName)
	t := make(tuple.Tuple, 0, len(dir)+len(pk))
	for _, d := range dir {
		t = append(t, d)
	}
	for _, p := range pk {
		t = append(t, p)
	}
	return sub.Pack(t)
}

func (s *Store) keyForItem(tb *typeBinding, item record.Item) []byte {
	pk := tb.itemType.PrimaryKey(item)
	var dir []any
	if tb.itemType.Directory != nil {
		dir = tb.itemType.Directory(item)
	}
	return s.itemKey(tb.itemType.Name, dir, pk)
}

// Locator names an item without requiring its full field set —
// everything Get needs to reach it directly: its type, the directory
// path it lives under (nil for unpartitioned types), and its primary
// key.
type Locator struct {
	TypeName string
	Dir      []any
	PK       []any
}

// get reads and decodes one item within an existing transaction,
// without invoking the security delegate — used by ExecuteBatch, which
// checks security around the whole batch operation, and directly by
// internal callers (index builds, migrations) that have already made
// their own authorization decision.
func (s *Store) get(ctx context.Context, tx kvengine.Transaction, loc Locator) (*record.Item, error) {
	key := s.itemKey(loc.TypeName, loc.Dir, loc.PK)
	return s.readByKey(ctx, tx, key)
}

// Get reads a single item by locator, per spec.md §4.2: decode, then
// evaluateGet; a denial raises AccessDenied regardless of whether the
// item existed.
func (s *Store) Get(ctx context.Context, loc Locator) (*record.Item, error) {
	if _, err := s.binding(loc.TypeName); err != nil {
		return nil, err
	}
	var out *record.Item
	err := txn.Run(ctx, s.runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		item, err := s.get(ctx, tx, loc)
		if err != nil {
			return err
		}
		if err := s.security.EvaluateGet(ctx, loc.TypeName, loc.PK); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Insert is a single-item convenience wrapper over ExecuteBatch.
func (s *Store) Insert(ctx context.Context, item record.Item) error {
	return s.ExecuteBatch(ctx, []record.Item{item}, nil)
}

// Delete is a single-item convenience wrapper over ExecuteBatch.
func (s *Store) Delete(ctx context.Context, loc Locator) error {
	return s.ExecuteBatch(ctx, nil, []Locator{loc})
}

// ExecuteBatch applies inserts/updates and deletes within one
// transaction, per spec.md §4.2: for each delete, read the old value,
// evaluate EvaluateDelete, clear the item and fan out maintainer
// removal; for each insert, read any prior value, evaluate
// EvaluateCreate or EvaluateUpdate, write the item, and fan out
// maintainer updates. Item writes and index updates commit atomically.
func (s *Store) ExecuteBatch(ctx context.Context, inserts []record.Item, deletes []Locator) error {
	return txn.Run(ctx, s.runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		for _, loc := range deletes {
			tb, err := s.binding(loc.TypeName)
			if err != nil {
				return err
			}
			old, err := s.get(ctx, tx, loc)
			if err != nil {
				return err
			}
			if old == nil {
				continue
			}
			if err := s.security.EvaluateDelete(ctx, *old); err != nil {
				return err
			}
			key := s.itemKey(loc.TypeName, loc.Dir, loc.PK)
			if err := envelope.ClearValue(ctx, tx, key); err != nil {
				return err
			}
			for _, m := range tb.registry.All() {
				if err := m.Update(ctx, tx, old, nil); err != nil {
					return err
				}
			}
		}

		for _, next := range inserts {
			tb, err := s.binding(next.TypeName)
			if err != nil {
				return err
			}
			key := s.keyForItem(tb, next)
			old, err := s.readByKey(ctx, tx, key)
			if err != nil {
				return err
			}
			if old == nil {
				if err := s.security.EvaluateCreate(ctx, next); err != nil {
					return err
				}
			} else {
				if err := s.security.EvaluateUpdate(ctx, *old, next); err != nil {
					return err
				}
			}

			plain, err := record.EncodeItem(next)
			if err != nil {
				return err
			}
			tag, body, err := s.transformer.Apply(plain)
			if err != nil {
				return err
			}
			envelope.WriteValue(tx, key, envelope.Wrap(tag, body))

			for _, m := range tb.registry.All() {
				if err := m.Update(ctx, tx, old, &next); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) readByKey(ctx context.Context, tx kvengine.Transaction, key []byte) (*record.Item, error) {
	framed, err := envelope.ReadValue(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if framed == nil {
		return nil, nil
	}
	tag, body, err := envelope.Unwrap(framed)
	if err != nil {
		return nil, err
	}
	plain, err := s.transformer.Reverse(tag, body)
	if err != nil {
		return nil, err
	}
	item, err := record.DecodeItem(plain)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ClearAll clears every item and every index entry for typeName.
// Requires an admin security context.
func (s *Store) ClearAll(ctx context.Context, typeName string) error {
	tb, err := s.binding(typeName)
	if err != nil {
		return err
	}
	if !s.security.IsAdmin(ctx) {
		return errs.New(errs.AccessDenied, "clearAll requires admin").WithDetail("type", typeName)
	}
	return txn.Run(ctx, s.runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		itemSub := s.root.Sub("R", typeName)
		tx.ClearRange(itemSub.Bytes(), itemSub.PrefixEnd())
		for _, m := range tb.registry.All() {
			idxSub := s.root.Sub("I", m.Name())
			tx.ClearRange(idxSub.Bytes(), idxSub.PrefixEnd())
			stateSub := index.StateSubspace(s.root, m.Name())
			tx.ClearRange(stateSub.Bytes(), stateSub.PrefixEnd())
		}
		return nil
	})
}

// ItemType returns the registered descriptor for typeName, used by the
// planner to find candidate indexes.
func (s *Store) ItemType(typeName string) (record.ItemType, bool) {
	tb, ok := s.types[typeName]
	if !ok {
		return record.ItemType{}, false
	}
	return tb.itemType, true
}

// ReadAt re-decodes an item already located by its key, used by the
// online indexer's scan-based build (which range-scans the item
// subspace directly instead of going through Locator).
func (s *Store) ReadAt(ctx context.Context, tx kvengine.Transaction, key []byte) (*record.Item, error) {
	return s.readByKey(ctx, tx, key)
}

// ItemSubspace exposes the item keyspace for typeName, used by the
// online indexer's sequential scan and the migration engine's batch
// enumeration.
func (s *Store) ItemSubspace(typeName string) tuple.Subspace {
	return s.root.Sub("R", typeName)
}
