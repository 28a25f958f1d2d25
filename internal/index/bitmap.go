package index

import (
	"bytes"
	"context"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
)

// containerBits is the width of a roaring container's id space (2^16),
// per spec.md §4.8: a bitmap index value's postings are partitioned
// across containerIndex = id >> containerBits so that any single
// container stays small regardless of corpus size, and the engine's
// native array/bitmap/run container selection applies within each.
const containerBits = 16

// ItemIDFunc resolves an item to the dense uint32 identifier its
// bitmap postings are keyed by. Bitmap indexes need a small dense ID
// space (unlike scalar/range indexes, which key directly off the
// tuple-encoded primary key) so callers must supply a row-id
// assignment; the record store neither assigns nor persists one.
type ItemIDFunc func(record.Item) uint32

// BitmapMaintainer lays out I/<name>/<value>/<containerIndex> →
// serialized roaring container, per spec.md §4.8.
type BitmapMaintainer struct {
	root   tuple.Subspace
	desc   record.IndexDescriptor
	itemID ItemIDFunc
}

func NewBitmapMaintainer(root tuple.Subspace, desc record.IndexDescriptor, itemID ItemIDFunc) *BitmapMaintainer {
	return &BitmapMaintainer{root: root, desc: desc, itemID: itemID}
}

func (m *BitmapMaintainer) Name() string          { return m.desc.Name }
func (m *BitmapMaintainer) Kind() record.IndexKind { return m.desc.Kind }

func (m *BitmapMaintainer) subspace() tuple.Subspace {
	return m.root.Sub("I", m.desc.Name)
}

func (m *BitmapMaintainer) containerKey(value any, containerIndex uint32) []byte {
	return m.subspace().Pack(tuple.Tuple{value, int64(containerIndex)})
}

// IndexKeys is not meaningful for bitmap indexes on their own — postings
// are read-modify-write against an existing container rather than a
// single computed KV, so Update talks to the transaction directly.
func (m *BitmapMaintainer) IndexKeys(item record.Item) ([]KV, error) {
	return nil, nil
}

func (m *BitmapMaintainer) Update(ctx context.Context, tx kvengine.Transaction, old, next *record.Item) error {
	id := uint32(0)
	if next != nil {
		id = m.itemID(*next)
	} else if old != nil {
		id = m.itemID(*old)
	}
	containerIndex := id >> containerBits

	if old != nil {
		if v, ok := fieldValueForBitmap(*old, m.desc.Fields[0]); ok {
			if err := m.removeFromContainer(ctx, tx, v, containerIndex, id); err != nil {
				return err
			}
		}
	}
	if next != nil {
		if v, ok := fieldValueForBitmap(*next, m.desc.Fields[0]); ok {
			if err := m.addToContainer(ctx, tx, v, containerIndex, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *BitmapMaintainer) addToContainer(ctx context.Context, tx kvengine.Transaction, value any, containerIndex, id uint32) error {
	key := m.containerKey(value, containerIndex)
	bm, err := m.loadContainer(ctx, tx, key)
	if err != nil {
		return err
	}
	bm.Add(id)
	return m.storeContainer(tx, key, bm)
}

func (m *BitmapMaintainer) removeFromContainer(ctx context.Context, tx kvengine.Transaction, value any, containerIndex, id uint32) error {
	key := m.containerKey(value, containerIndex)
	bm, err := m.loadContainer(ctx, tx, key)
	if err != nil {
		return err
	}
	bm.Remove(id)
	if bm.IsEmpty() {
		tx.Clear(key)
		return nil
	}
	return m.storeContainer(tx, key, bm)
}

func (m *BitmapMaintainer) loadContainer(ctx context.Context, tx kvengine.Transaction, key []byte) (*roaring.Bitmap, error) {
	raw, err := tx.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	if raw == nil {
		return bm, nil
	}
	if _, err := bm.ReadFrom(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return bm, nil
}

func (m *BitmapMaintainer) storeContainer(tx kvengine.Transaction, key []byte, bm *roaring.Bitmap) error {
	bm.RunOptimize() // lets roaring pick array/bitmap/run per its own heuristic
	data, err := bm.ToBytes()
	if err != nil {
		return err
	}
	tx.Set(key, data)
	return nil
}

// MatchingIDs returns every id posted under value, unioned across all
// containers, for use by the planner's bitmap-scan operator.
func (m *BitmapMaintainer) MatchingIDs(ctx context.Context, tx kvengine.Transaction, value any) (*roaring.Bitmap, error) {
	sub := m.subspace().Sub(value)
	res, err := tx.GetRange(ctx, sub.Bytes(), sub.PrefixEnd(), kvengine.RangeOptions{})
	if err != nil {
		return nil, err
	}
	out := roaring.New()
	for _, kv := range res.KVs {
		part := roaring.New()
		if _, err := part.ReadFrom(bytes.NewReader(kv.Value)); err != nil {
			return nil, err
		}
		out.Or(part)
	}
	return out, nil
}

func (m *BitmapMaintainer) State(ctx context.Context, tx kvengine.Transaction) (State, error) {
	return getState(ctx, tx, m.root, m.desc.Name)
}

func (m *BitmapMaintainer) SetState(ctx context.Context, tx kvengine.Transaction, s State) error {
	return setState(ctx, tx, m.root, m.desc.Name, s)
}

func fieldValueForBitmap(item record.Item, field string) (any, bool) {
	v, ok := item.Field(field)
	if !ok {
		return nil, false
	}
	return valueToTupleElem(v), true
}
