package index

import (
	"context"
	"hash/fnv"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
)

// RankMaintainer implements spec.md §4.8's "skip-list-like layered
// structure keyed by score": each entry is written to level 0 plus,
// with geometrically decreasing probability, to levels 1..maxLevel.
// Because a KV range scan already gives ordered iteration for free,
// rankOf is computed with the skip list's classic express-lane walk —
// descend level by level, at each level counting only the span between
// the last anchor found at a higher level and the target — rather than
// the pointer/width bookkeeping a pointer-based skip list needs; levels
// still bound that span to an expected O(1) per hop.
type RankMaintainer struct {
	root     tuple.Subspace
	desc     record.IndexDescriptor
	pk       record.PrimaryKeyFunc
	maxLevel int
}

const rankPromotionP = 4 // 1-in-4 chance of promotion per level, like a p=0.25 skip list

func NewRankMaintainer(root tuple.Subspace, desc record.IndexDescriptor, pk record.PrimaryKeyFunc) *RankMaintainer {
	return &RankMaintainer{root: root, desc: desc, pk: pk, maxLevel: 5}
}

func (m *RankMaintainer) Name() string          { return m.desc.Name }
func (m *RankMaintainer) Kind() record.IndexKind { return m.desc.Kind }

func (m *RankMaintainer) levelSubspace(level int) tuple.Subspace {
	return m.root.Sub("I", m.desc.Name, "L", int64(level))
}

// height picks a deterministic level for id so inserts and deletes of
// the same entry always agree on which levels it lives at, without
// needing to persist the chosen height separately.
func (m *RankMaintainer) height(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	v := h.Sum32()
	level := 0
	for level < m.maxLevel && v%rankPromotionP == 0 {
		v /= rankPromotionP
		level++
	}
	return level
}

func (m *RankMaintainer) scoreOf(item record.Item) float64 {
	v, _ := item.Field(m.desc.Fields[0])
	return numericValue(v)
}

func (m *RankMaintainer) idOf(item record.Item) string {
	parts := m.pk(item)
	if len(parts) == 0 {
		return ""
	}
	if s, ok := parts[0].(string); ok {
		return s
	}
	return ""
}

func (m *RankMaintainer) IndexKeys(item record.Item) ([]KV, error) {
	return nil, nil
}

// Insert writes id's score entry across levels 0..height(id).
func (m *RankMaintainer) Insert(tx kvengine.Transaction, score float64, id string) {
	h := m.height(id)
	for level := 0; level <= h; level++ {
		key := m.levelSubspace(level).Pack(tuple.Tuple{score, id})
		tx.Set(key, []byte{0x00})
	}
}

// Remove clears id's score entry across levels 0..height(id).
func (m *RankMaintainer) Remove(tx kvengine.Transaction, score float64, id string) {
	h := m.height(id)
	for level := 0; level <= h; level++ {
		key := m.levelSubspace(level).Pack(tuple.Tuple{score, id})
		tx.Clear(key)
	}
}

func (m *RankMaintainer) Update(ctx context.Context, tx kvengine.Transaction, old, next *record.Item) error {
	if old != nil {
		m.Remove(tx, m.scoreOf(*old), m.idOf(*old))
	}
	if next != nil {
		m.Insert(tx, m.scoreOf(*next), m.idOf(*next))
	}
	return nil
}

// RankOf returns the number of entries strictly less than (score, id) —
// i.e. the 0-based rank of that entry once inserted.
func (m *RankMaintainer) RankOf(ctx context.Context, tx kvengine.Transaction, score float64, id string) (int64, error) {
	var rank int64
	var anchorScore float64
	var anchorID string
	haveAnchor := false

	for level := m.maxLevel; level >= 0; level-- {
		sub := m.levelSubspace(level)
		begin := sub.Bytes()
		if haveAnchor {
			begin = tuple.PrefixEnd(sub.Pack(tuple.Tuple{anchorScore, anchorID}))
		}
		end := sub.Pack(tuple.Tuple{score, id})

		res, err := tx.GetRange(ctx, begin, end, kvengine.RangeOptions{})
		if err != nil {
			return 0, err
		}
		rank += int64(len(res.KVs))
		if len(res.KVs) > 0 {
			last, err := sub.Unpack(res.KVs[len(res.KVs)-1].Key)
			if err != nil {
				return 0, err
			}
			anchorScore, _ = last[0].(float64)
			anchorID, _ = last[1].(string)
			haveAnchor = true
		}
	}
	return rank, nil
}

// RangeOf returns every id in [loScore, hiScore], read off level 0.
func (m *RankMaintainer) RangeOf(ctx context.Context, tx kvengine.Transaction, loScore, hiScore float64) ([]string, error) {
	sub := m.levelSubspace(0)
	begin := sub.Pack(tuple.Tuple{loScore})
	end := tuple.PrefixEnd(sub.Pack(tuple.Tuple{hiScore}))
	res, err := tx.GetRange(ctx, begin, end, kvengine.RangeOptions{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.KVs))
	for _, kv := range res.KVs {
		t, err := sub.Unpack(kv.Key)
		if err != nil {
			continue
		}
		if len(t) == 2 {
			if id, ok := t[1].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (m *RankMaintainer) State(ctx context.Context, tx kvengine.Transaction) (State, error) {
	return getState(ctx, tx, m.root, m.desc.Name)
}

func (m *RankMaintainer) SetState(ctx context.Context, tx kvengine.Transaction, s State) error {
	return setState(ctx, tx, m.root, m.desc.Name, s)
}
