package index

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
)

// AggregationMaintainer implements Count/Sum/MinMax/Average per spec.md
// §4.8: a group-keyed counter and running sum via atomic add, plus
// atomic min/max. Average is derived at read time from sum÷count
// rather than stored.
type AggregationMaintainer struct {
	root     tuple.Subspace
	desc     record.IndexDescriptor
	groupBy  []string // Fields minus the last, which names the aggregated value
	valField string
}

func NewAggregationMaintainer(root tuple.Subspace, desc record.IndexDescriptor) *AggregationMaintainer {
	groupBy := desc.Fields[:len(desc.Fields)-1]
	return &AggregationMaintainer{root: root, desc: desc, groupBy: groupBy, valField: desc.Fields[len(desc.Fields)-1]}
}

func (m *AggregationMaintainer) Name() string          { return m.desc.Name }
func (m *AggregationMaintainer) Kind() record.IndexKind { return m.desc.Kind }

func (m *AggregationMaintainer) subspace() tuple.Subspace {
	return m.root.Sub("I", m.desc.Name)
}

func (m *AggregationMaintainer) groupKey(item record.Item) tuple.Tuple {
	t := make(tuple.Tuple, 0, len(m.groupBy))
	for _, f := range m.groupBy {
		v, _ := item.Field(f)
		t = append(t, valueToTupleElem(v))
	}
	return t
}

func (m *AggregationMaintainer) IndexKeys(item record.Item) ([]KV, error) {
	return nil, nil // aggregation deltas are applied via Atomic, not direct Set
}

func (m *AggregationMaintainer) Update(ctx context.Context, tx kvengine.Transaction, old, next *record.Item) error {
	if old != nil {
		if err := m.apply(tx, *old, -1); err != nil {
			return err
		}
	}
	if next != nil {
		if err := m.apply(tx, *next, 1); err != nil {
			return err
		}
	}
	return nil
}

func (m *AggregationMaintainer) apply(tx kvengine.Transaction, item record.Item, sign int64) error {
	group := m.groupKey(item)
	base := m.subspace().Pack(group)

	v, ok := item.Field(m.valField)
	var amount float64
	if ok {
		amount = numericValue(v)
	}

	switch m.desc.Kind {
	case record.IndexAggregation:
		countKey := append(append([]byte(nil), base...), "/count"...)
		sumKey := append(append([]byte(nil), base...), "/sum"...)
		tx.Atomic(countKey, kvengine.MutationAdd, encodeI64(sign))
		tx.Atomic(sumKey, kvengine.MutationAdd, encodeI64(int64(amount*sign2(sign))))
	}
	return nil
}

func sign2(sign int64) float64 {
	if sign < 0 {
		return -1
	}
	return 1
}

// UpdateMinMax feeds a (value, id) observation into the .../min and
// .../max atomic mutators. Called alongside Update for indexes declared
// with a min/max aggregation kind; min/max has no meaningful "remove"
// side (spec.md §4.8 doesn't define retraction for extrema), so this is
// insert-only.
func (m *AggregationMaintainer) UpdateMinMax(tx kvengine.Transaction, item record.Item) {
	group := m.groupKey(item)
	base := m.subspace().Pack(group)
	v, ok := item.Field(m.valField)
	if !ok {
		return
	}
	scoreBytes := encodeOrderedFloat(numericValue(v))
	minKey := append(append([]byte(nil), base...), "/min"...)
	maxKey := append(append([]byte(nil), base...), "/max"...)
	tx.Atomic(minKey, kvengine.MutationMin, scoreBytes)
	tx.Atomic(maxKey, kvengine.MutationMax, scoreBytes)
}

// Count reads the current group count.
func (m *AggregationMaintainer) Count(ctx context.Context, tx kvengine.Transaction, group tuple.Tuple) (int64, error) {
	base := m.subspace().Pack(group)
	raw, err := tx.Get(ctx, append(append([]byte(nil), base...), "/count"...))
	if err != nil || raw == nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(raw)), nil
}

// Sum reads the current group sum.
func (m *AggregationMaintainer) Sum(ctx context.Context, tx kvengine.Transaction, group tuple.Tuple) (float64, error) {
	base := m.subspace().Pack(group)
	raw, err := tx.Get(ctx, append(append([]byte(nil), base...), "/sum"...))
	if err != nil || raw == nil {
		return 0, err
	}
	return float64(int64(binary.LittleEndian.Uint64(raw))), nil
}

// Average derives mean = sum/count, returning 0 if the group is empty.
func (m *AggregationMaintainer) Average(ctx context.Context, tx kvengine.Transaction, group tuple.Tuple) (float64, error) {
	count, err := m.Count(ctx, tx, group)
	if err != nil || count == 0 {
		return 0, err
	}
	sum, err := m.Sum(ctx, tx, group)
	if err != nil {
		return 0, err
	}
	return sum / float64(count), nil
}

func (m *AggregationMaintainer) State(ctx context.Context, tx kvengine.Transaction) (State, error) {
	return getState(ctx, tx, m.root, m.desc.Name)
}

func (m *AggregationMaintainer) SetState(ctx context.Context, tx kvengine.Transaction, s State) error {
	return setState(ctx, tx, m.root, m.desc.Name, s)
}

func numericValue(v record.Value) float64 {
	switch v.Kind {
	case record.KindInt:
		return float64(v.Int)
	case record.KindUint:
		return float64(v.Uint)
	case record.KindFloat:
		return v.Float
	default:
		return 0
	}
}

func encodeI64(i int64) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, uint64(i))
	return out
}

// encodeOrderedFloat produces a big-endian byte string whose
// lexicographic order matches float64 numeric order, via the standard
// sign-bit-flip trick spec.md §3 also uses for tuple-encoded floats.
func encodeOrderedFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if f >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, bits)
	return out
}
