// Package index implements the index maintainer contract (spec.md
// §4.3) and the maintainers for the "standard" index families: scalar,
// range, relationship, bitmap, and aggregation/rank/leaderboard. The
// full-text, vector, and graph maintainers — which carry real
// algorithmic weight — live in their own subpackages
// (internal/index/fulltext, internal/index/vector,
// internal/index/graph).
package index

import (
	"context"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
)

// State is the index state machine of spec.md §3: readable reflects
// every item; writeOnly is maintained but must not be read; disabled
// touches neither reads nor writes.
type State string

const (
	StateReadable  State = "readable"
	StateWriteOnly State = "writeOnly"
	StateDisabled  State = "disabled"
)

// KV is a single key/value mutation a maintainer wants applied.
type KV struct {
	Key   []byte
	Value []byte
}

// Maintainer is the contract every index kind implements (spec.md
// §4.3): lay out entries for an item, apply mutations transactionally,
// scrub for consistency, and report current state.
type Maintainer interface {
	Name() string
	Kind() record.IndexKind

	// IndexKeys computes the KV entries item would contribute, without
	// writing them — used by the online indexer's scrubber
	// (Builder.Scrub).
	IndexKeys(item record.Item) ([]KV, error)

	// Update applies the transactional delta between old (nil on
	// insert) and next (nil on delete) within tx.
	Update(ctx context.Context, tx kvengine.Transaction, old, next *record.Item) error

	// ValidateEntries scrubs this maintainer's subspace, per spec.md
	// §4.11's scrubber contract. Implemented at the onlineindex layer
	// via a generic cross-check against the item store; maintainers
	// only need to expose IndexKeys for it to work.

	State(ctx context.Context, tx kvengine.Transaction) (State, error)
	SetState(ctx context.Context, tx kvengine.Transaction, s State) error
}

// StateSubspace returns the T/<indexName>/state key spec.md §6 names.
func StateSubspace(root tuple.Subspace, indexName string) tuple.Subspace {
	return root.Sub("T", indexName)
}

func getState(ctx context.Context, tx kvengine.Transaction, root tuple.Subspace, indexName string) (State, error) {
	return GetState(ctx, tx, root, indexName)
}

func setState(ctx context.Context, tx kvengine.Transaction, root tuple.Subspace, indexName string, s State) error {
	return SetState(ctx, tx, root, indexName, s)
}

// GetState reads an index's state, defaulting to readable when unset.
// Exported so the fulltext/vector/graph subpackages — which implement
// their own Maintainer-shaped types but live outside this package to
// keep their algorithmic bulk separate — can share the same state
// encoding without duplicating it.
func GetState(ctx context.Context, tx kvengine.Transaction, root tuple.Subspace, indexName string) (State, error) {
	key := StateSubspace(root, indexName).Pack(tuple.Tuple{"state"})
	v, err := tx.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if v == nil {
		return StateReadable, nil
	}
	return State(v), nil
}

// SetState writes an index's state.
func SetState(ctx context.Context, tx kvengine.Transaction, root tuple.Subspace, indexName string, s State) error {
	key := StateSubspace(root, indexName).Pack(tuple.Tuple{"state"})
	tx.Set(key, []byte(s))
	return nil
}

// Registry dispatches to a Maintainer by name, used by the record store
// to fan out item writes across every declared index (spec.md §4.2,
// §9's "tagged sum of kinds with a lookup-by-kind dispatcher").
type Registry struct {
	byName map[string]Maintainer
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Maintainer)}
}

func (r *Registry) Add(m Maintainer) {
	if _, exists := r.byName[m.Name()]; !exists {
		r.order = append(r.order, m.Name())
	}
	r.byName[m.Name()] = m
}

func (r *Registry) Get(name string) (Maintainer, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// Remove drops a maintainer from the registry, e.g. when a custom
// migration stage (internal/schema) retires an index: subsequent item
// writes stop fanning out to it.
func (r *Registry) Remove(name string) {
	if _, ok := r.byName[name]; !ok {
		return
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// All returns every registered maintainer in registration order.
func (r *Registry) All() []Maintainer {
	out := make([]Maintainer, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}
