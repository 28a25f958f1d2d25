package index

import (
	"context"
	"encoding/binary"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
)

// PermutedMaintainer is spec.md §2's "permuted" maintainer: a count
// aggregation maintained under every cyclic rotation of the declared
// grouping fields, so an equality filter that binds any single leading
// field — not just desc.Fields[0] — can still be served by a maintained
// counter instead of falling back to scan-and-filter. The trailing
// field of desc.Fields is the aggregated value, exactly as in
// AggregationMaintainer; PermutedMaintainer only changes which field
// orderings are indexed, not what's aggregated.
//
// Grounded on AggregationMaintainer's group-key/atomic-add shape,
// generalized from one fixed field order to every rotation.
type PermutedMaintainer struct {
	root     tuple.Subspace
	desc     record.IndexDescriptor
	groupBy  []string
	valField string
}

func NewPermutedMaintainer(root tuple.Subspace, desc record.IndexDescriptor) *PermutedMaintainer {
	groupBy := desc.Fields[:len(desc.Fields)-1]
	return &PermutedMaintainer{root: root, desc: desc, groupBy: groupBy, valField: desc.Fields[len(desc.Fields)-1]}
}

func (m *PermutedMaintainer) Name() string          { return m.desc.Name }
func (m *PermutedMaintainer) Kind() record.IndexKind { return m.desc.Kind }

func (m *PermutedMaintainer) subspace() tuple.Subspace { return m.root.Sub("I", m.desc.Name) }

// rotations returns every cyclic rotation of groupBy, e.g. [a,b,c] →
// [[a,b,c],[b,c,a],[c,a,b]]. Rotation keeps the subspace count linear
// in the field count rather than factorial (unlike the graph index's
// hexastore, which needs every permutation because patterns can bind
// any subset; here only "what's the leading equality field" varies).
func (m *PermutedMaintainer) rotations() [][]string {
	n := len(m.groupBy)
	out := make([][]string, n)
	for r := 0; r < n; r++ {
		rot := make([]string, n)
		for i := 0; i < n; i++ {
			rot[i] = m.groupBy[(r+i)%n]
		}
		out[r] = rot
	}
	return out
}

func (m *PermutedMaintainer) IndexKeys(record.Item) ([]KV, error) { return nil, nil }

func (m *PermutedMaintainer) Update(ctx context.Context, tx kvengine.Transaction, old, next *record.Item) error {
	if old != nil {
		m.apply(tx, *old, -1)
	}
	if next != nil {
		m.apply(tx, *next, 1)
	}
	return nil
}

func (m *PermutedMaintainer) apply(tx kvengine.Transaction, item record.Item, sign int64) {
	v, ok := item.Field(m.valField)
	var amount float64
	if ok {
		amount = numericValue(v)
	}
	for r, fields := range m.rotations() {
		t := make(tuple.Tuple, 0, len(fields)+1)
		t = append(t, r)
		for _, f := range fields {
			fv, _ := item.Field(f)
			t = append(t, valueToTupleElem(fv))
		}
		base := m.subspace().Pack(t)
		countKey := append(append([]byte(nil), base...), "/count"...)
		sumKey := append(append([]byte(nil), base...), "/sum"...)
		tx.Atomic(countKey, kvengine.MutationAdd, encodeI64(sign))
		tx.Atomic(sumKey, kvengine.MutationAdd, encodeI64(int64(amount*sign2(sign))))
	}
}

// CountByLeadingField reads the maintained count for an equality filter
// on a single field, regardless of that field's position in
// desc.Fields, by selecting the rotation that places it first.
func (m *PermutedMaintainer) CountByLeadingField(ctx context.Context, tx kvengine.Transaction, field string, value record.Value) (int64, bool, error) {
	for r, fields := range m.rotations() {
		if fields[0] != field {
			continue
		}
		// Counters sit under (r, value, remaining group fields...), so sum
		// every "/count" key below the (r, value) prefix.
		prefix := m.subspace().Pack(tuple.Tuple{r, valueToTupleElem(value)})
		res, err := tx.GetRange(ctx, prefix, tuple.PrefixEnd(prefix), kvengine.RangeOptions{})
		if err != nil {
			return 0, false, err
		}
		var total int64
		for _, kv := range res.KVs {
			if len(kv.Key) >= 6 && string(kv.Key[len(kv.Key)-6:]) == "/count" && len(kv.Value) == 8 {
				total += int64(binary.LittleEndian.Uint64(kv.Value))
			}
		}
		return total, true, nil
	}
	return 0, false, nil
}

func (m *PermutedMaintainer) State(ctx context.Context, tx kvengine.Transaction) (State, error) {
	return getState(ctx, tx, m.root, m.desc.Name)
}

func (m *PermutedMaintainer) SetState(ctx context.Context, tx kvengine.Transaction, s State) error {
	return setState(ctx, tx, m.root, m.desc.Name, s)
}
