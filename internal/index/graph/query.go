package graph

import (
	"context"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/tuple"
)

// Bound is one position of a pattern query: either unbound (any) or
// pinned to a specific value.
type Bound struct {
	Value string
	Any   bool
}

// AnyBound matches any value at a position.
func AnyBound() Bound { return Bound{Any: true} }

// Exact binds a position to value.
func Exact(value string) Bound { return Bound{Value: value} }

// Pattern queries edges by from/edge/to, any subset of which may be
// bound, per spec.md §4.7's pattern-to-index selection.
type Pattern struct {
	From Bound
	Type Bound
	To   Bound
}

// Matches selects, for the maintainer's configured layout, which
// internal ordering to scan and the fixed prefix to scan it with, per
// spec.md §4.7: pick the ordering whose bound positions form the
// longest usable prefix.
func (m *Maintainer) Matches(ctx context.Context, tx kvengine.Transaction, p Pattern, limit int) ([]Edge, error) {
	order, prefix := m.selectOrdering(p)
	s := m.subspace()
	base := s.Pack(append(tuple.Tuple{order}, prefix...))
	res, err := tx.GetRange(ctx, base, tuple.PrefixEnd(base), kvengine.RangeOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]Edge, 0, len(res.KVs))
	for _, kv := range res.KVs {
		t, err := s.Unpack(kv.Key)
		if err != nil || len(t) < 4 {
			continue
		}
		e, ok := edgeFromOrdering(order, t)
		if !ok {
			continue
		}
		if matchesPattern(e, p) {
			out = append(out, e)
		}
	}
	return out, nil
}

// selectOrdering picks the ordering tag (and its fixed leading tuple
// elements) that covers the most bound pattern positions as a
// contiguous prefix, for the maintainer's configured layout.
func (m *Maintainer) selectOrdering(p Pattern) (string, tuple.Tuple) {
	candidates := orderingsFor(m.layout)
	best := candidates[0]
	var bestPrefix tuple.Tuple
	bestLen := -1
	for _, ord := range candidates {
		prefix := prefixFor(ord, p)
		if len(prefix) > bestLen {
			best, bestPrefix, bestLen = ord, prefix, len(prefix)
		}
	}
	return best, bestPrefix
}

// orderingsFor lists the orderings keysFor lays out for layout; the
// order here must mirror keysFor's key set exactly.
func orderingsFor(layout Layout) []string {
	switch layout {
	case LayoutTripleStore:
		return []string{"spo", "pos", "osp"}
	case LayoutHexastore:
		return []string{"spo", "sop", "pso", "pos", "osp", "ops"}
	default:
		return []string{"out", "in"}
	}
}

// position names which pattern field an ordering places at a given
// tuple slot.
type position int

const (
	posFrom position = iota
	posType
	posTo
)

// fieldOrder lists, for each ordering tag, the pattern position each
// successive tuple element (after the tag) holds. Must mirror keysFor
// exactly.
func fieldOrder(ord string) []position {
	switch ord {
	case "spo":
		return []position{posFrom, posType, posTo}
	case "sop":
		return []position{posFrom, posTo, posType}
	case "pso":
		return []position{posType, posFrom, posTo}
	case "pos":
		return []position{posType, posTo, posFrom}
	case "osp":
		return []position{posTo, posFrom, posType}
	case "ops":
		return []position{posTo, posType, posFrom}
	case "out":
		return []position{posType, posFrom, posTo}
	case "in":
		return []position{posType, posTo, posFrom}
	default:
		return nil
	}
}

func boundAt(p Pattern, pos position) Bound {
	switch pos {
	case posFrom:
		return p.From
	case posType:
		return p.Type
	default:
		return p.To
	}
}

// prefixFor returns the bound leading elements an ordering's tuple
// layout (after the ordering tag) can serve for pattern p, stopping at
// the first unbound position.
func prefixFor(ord string, p Pattern) tuple.Tuple {
	var prefix tuple.Tuple
	for _, pos := range fieldOrder(ord) {
		b := boundAt(p, pos)
		if b.Any {
			break
		}
		prefix = append(prefix, b.Value)
	}
	return prefix
}

// edgeFromOrdering reconstructs the edge from a packed tuple whose
// first element is the ordering tag and next three are that ordering's
// (from/edge/to) permutation.
func edgeFromOrdering(ord string, t tuple.Tuple) (Edge, bool) {
	if len(t) < 4 {
		return Edge{}, false
	}
	a, _ := t[1].(string)
	b, _ := t[2].(string)
	c, _ := t[3].(string)
	switch ord {
	case "spo":
		return Edge{From: a, Type: b, To: c}, true
	case "sop":
		return Edge{From: a, To: b, Type: c}, true
	case "pso":
		return Edge{Type: a, From: b, To: c}, true
	case "pos":
		return Edge{Type: a, To: b, From: c}, true
	case "osp":
		return Edge{To: a, From: b, Type: c}, true
	case "ops":
		return Edge{To: a, Type: b, From: c}, true
	case "out":
		return Edge{Type: a, From: b, To: c}, true
	case "in":
		return Edge{Type: a, To: b, From: c}, true
	default:
		return Edge{}, false
	}
}

func matchesPattern(e Edge, p Pattern) bool {
	if !p.From.Any && e.From != p.From.Value {
		return false
	}
	if !p.Type.Any && e.Type != p.Type.Value {
		return false
	}
	if !p.To.Any && e.To != p.To.Value {
		return false
	}
	return true
}
