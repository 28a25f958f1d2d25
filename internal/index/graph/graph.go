// Package graph implements the graph/triple index family of spec.md
// §4.7: adjacency, tripleStore, and hexastore layouts over edges of the
// shape (from, edge, to), with deterministic pattern-to-index
// selection given which of the three positions are bound.
//
// Grounded on internal/index/scalar.go's subspace/key-packing idiom
// (pack a tuple of field values plus primary key under I/<name>/...)
// and internal/index/bitmap.go's pattern of a Maintainer whose
// IndexKeys is a no-op because the real work is multiple read-modify-
// write keys rather than one derivable KV. Graph indexing itself has
// no teacher precedent; the layouts and selection rule follow spec.md
// §4.7 directly.
package graph

import (
	"context"

	"github.com/amandb/recordkv/internal/index"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
)

// Layout names one of the three KV layouts spec.md §4.7 offers.
type Layout string

const (
	LayoutAdjacency   Layout = "adjacency"
	LayoutTripleStore Layout = "tripleStore"
	LayoutHexastore   Layout = "hexastore"
)

// Edge is one (from, edge-label, to) triple.
type Edge struct {
	From string
	Type string
	To   string
}

// Maintainer maintains edges under one of the three layouts. desc.Fields
// names the three item fields holding (from, edgeType, to), in that
// order.
type Maintainer struct {
	root   tuple.Subspace
	desc   record.IndexDescriptor
	layout Layout
}

func NewMaintainer(root tuple.Subspace, desc record.IndexDescriptor) *Maintainer {
	layout := Layout(desc.GraphLayout)
	if layout == "" {
		layout = LayoutAdjacency
	}
	return &Maintainer{root: root, desc: desc, layout: layout}
}

func (m *Maintainer) Name() string          { return m.desc.Name }
func (m *Maintainer) Kind() record.IndexKind { return m.desc.Kind }

func (m *Maintainer) subspace() tuple.Subspace { return m.root.Sub("I", m.desc.Name) }

func (m *Maintainer) edgeOf(item record.Item) (Edge, bool) {
	if len(m.desc.Fields) < 3 {
		return Edge{}, false
	}
	from, ok1 := item.Field(m.desc.Fields[0])
	typ, ok2 := item.Field(m.desc.Fields[1])
	to, ok3 := item.Field(m.desc.Fields[2])
	if !ok1 || !ok2 || !ok3 {
		return Edge{}, false
	}
	return Edge{From: from.Str, Type: typ.Str, To: to.Str}, true
}

// IndexKeys is a no-op: an edge fans out into 2-6 keys depending on
// layout, which is a multi-key write rather than a single derivable
// KV, same rationale as index.BitmapMaintainer.
func (m *Maintainer) IndexKeys(record.Item) ([]index.KV, error) { return nil, nil }

func (m *Maintainer) Update(ctx context.Context, tx kvengine.Transaction, old, next *record.Item) error {
	if old != nil {
		if e, ok := m.edgeOf(*old); ok {
			m.remove(tx, e)
		}
	}
	if next != nil {
		if e, ok := m.edgeOf(*next); ok {
			m.insert(tx, e)
		}
	}
	return nil
}

func (m *Maintainer) insert(tx kvengine.Transaction, e Edge) {
	for _, k := range m.keysFor(e) {
		tx.Set(k, []byte{0x00})
	}
}

func (m *Maintainer) remove(tx kvengine.Transaction, e Edge) {
	for _, k := range m.keysFor(e) {
		tx.Clear(k)
	}
}

// keysFor returns every key the edge contributes under the configured
// layout.
func (m *Maintainer) keysFor(e Edge) [][]byte {
	s := m.subspace()
	switch m.layout {
	case LayoutTripleStore:
		return [][]byte{
			s.Pack(tuple.Tuple{"spo", e.From, e.Type, e.To}),
			s.Pack(tuple.Tuple{"pos", e.Type, e.To, e.From}),
			s.Pack(tuple.Tuple{"osp", e.To, e.From, e.Type}),
		}
	case LayoutHexastore:
		return [][]byte{
			s.Pack(tuple.Tuple{"spo", e.From, e.Type, e.To}),
			s.Pack(tuple.Tuple{"sop", e.From, e.To, e.Type}),
			s.Pack(tuple.Tuple{"pso", e.Type, e.From, e.To}),
			s.Pack(tuple.Tuple{"pos", e.Type, e.To, e.From}),
			s.Pack(tuple.Tuple{"osp", e.To, e.From, e.Type}),
			s.Pack(tuple.Tuple{"ops", e.To, e.Type, e.From}),
		}
	default: // adjacency
		return [][]byte{
			s.Pack(tuple.Tuple{"out", e.Type, e.From, e.To}),
			s.Pack(tuple.Tuple{"in", e.Type, e.To, e.From}),
		}
	}
}

func (m *Maintainer) State(ctx context.Context, tx kvengine.Transaction) (index.State, error) {
	return index.GetState(ctx, tx, m.root, m.desc.Name)
}

func (m *Maintainer) SetState(ctx context.Context, tx kvengine.Transaction, s index.State) error {
	return index.SetState(ctx, tx, m.root, m.desc.Name, s)
}
