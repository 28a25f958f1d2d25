package vector

import (
	"container/heap"
	"context"
	"encoding/binary"
	"math"
	"math/rand"
	"sort"

	"github.com/amandb/recordkv/internal/index"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
)

// Params are the HNSW construction/search knobs of spec.md §4.6.
type Params struct {
	M              int
	EfConstruction int
	EfSearch       int
	ML             float64 // level-generation normalization, default 1/ln(M)
}

func DefaultParams() Params {
	return Params{M: 16, EfConstruction: 200, EfSearch: 64, ML: 1 / math.Log(16)}
}

// Maintainer lays out the HNSW vector index of spec.md §4.6. Inserts
// write only the HNSW graph keys; no flat per-document copy of the
// vector is kept (remove clears a flat key if one is present).
type Maintainer struct {
	root   tuple.Subspace
	desc   record.IndexDescriptor
	pk     record.PrimaryKeyFunc
	params Params
	metric Metric
	quant  *Quantizer
}

func NewMaintainer(root tuple.Subspace, desc record.IndexDescriptor, pk record.PrimaryKeyFunc, params Params, quant *Quantizer) *Maintainer {
	metric := Metric(desc.Metric)
	if metric == "" {
		metric = MetricCosine
	}
	return &Maintainer{root: root, desc: desc, pk: pk, params: params, metric: metric, quant: quant}
}

func (m *Maintainer) Name() string          { return m.desc.Name }
func (m *Maintainer) Kind() record.IndexKind { return m.desc.Kind }

func (m *Maintainer) subspace() tuple.Subspace { return m.root.Sub("I", m.desc.Name) }

func (m *Maintainer) docID(item record.Item) string {
	parts := m.pk(item)
	if len(parts) == 0 {
		return ""
	}
	s, _ := parts[0].(string)
	return s
}

func (m *Maintainer) vectorOf(item record.Item) ([]float32, bool) {
	if len(m.desc.Fields) == 0 {
		return nil, false
	}
	v, ok := item.Field(m.desc.Fields[0])
	if !ok {
		return nil, false
	}
	out := make([]float32, 0, len(v.Seq))
	for _, e := range v.Seq {
		out = append(out, float32(e.Float))
	}
	if len(out) == 0 {
		return nil, false
	}
	if m.metric == MetricCosine {
		NormalizeInPlace(out)
	}
	return out, true
}

func (m *Maintainer) IndexKeys(item record.Item) ([]index.KV, error) { return nil, nil }

func (m *Maintainer) Update(ctx context.Context, tx kvengine.Transaction, old, next *record.Item) error {
	if old != nil {
		if err := m.remove(ctx, tx, *old); err != nil {
			return err
		}
	}
	if next != nil {
		vec, ok := m.vectorOf(*next)
		if !ok {
			return nil
		}
		if err := m.insert(ctx, tx, m.docID(*next), vec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Maintainer) remove(ctx context.Context, tx kvengine.Transaction, item record.Item) error {
	docID := m.docID(item)
	tx.Clear(m.subspace().Pack(tuple.Tuple{"flat", docID}))
	tx.Clear(m.nodeKey(docID))
	if m.quant != nil {
		tx.Clear(m.subspace().Sub("quantizer").Pack(tuple.Tuple{"codes", docID}))
	}
	return nil
}

func (m *Maintainer) flatKey(docID string) []byte { return m.subspace().Pack(tuple.Tuple{"flat", docID}) }
func (m *Maintainer) nodeKey(docID string) []byte {
	return m.subspace().Sub("hnsw", "nodes").Pack(tuple.Tuple{docID})
}
func (m *Maintainer) neighborsKey(docID string, level int) []byte {
	return m.subspace().Sub("hnsw", "neighbors").Pack(tuple.Tuple{docID, int64(level)})
}
func (m *Maintainer) entryKey() []byte { return m.subspace().Pack(tuple.Tuple{"hnsw", "entry"}) }

type nodeMeta struct {
	level  int
	vector []float32
}

func packNodeMeta(n nodeMeta) []byte {
	out := make([]byte, 4+4*len(n.vector))
	binary.BigEndian.PutUint32(out[0:4], uint32(n.level))
	copy(out[4:], packFloats(n.vector))
	return out
}

func unpackNodeMeta(b []byte) nodeMeta {
	level := int(binary.BigEndian.Uint32(b[0:4]))
	return nodeMeta{level: level, vector: unpackFloats(b[4:])}
}

func packIDs(ids []string) []byte {
	out := make([]byte, 0, 64)
	for _, id := range ids {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(id)))
		out = append(out, lenBuf[:]...)
		out = append(out, id...)
	}
	return out
}

func unpackIDs(b []byte) []string {
	var out []string
	for i := 0; i+4 <= len(b); {
		n := int(binary.BigEndian.Uint32(b[i : i+4]))
		i += 4
		if i+n > len(b) {
			break
		}
		out = append(out, string(b[i:i+n]))
		i += n
	}
	return out
}

func (m *Maintainer) getEntry(ctx context.Context, tx kvengine.Transaction) (string, int, bool, error) {
	raw, err := tx.Get(ctx, m.entryKey())
	if err != nil || raw == nil {
		return "", 0, false, err
	}
	level := int(binary.BigEndian.Uint32(raw[len(raw)-4:]))
	id := string(raw[:len(raw)-4])
	return id, level, true, nil
}

func (m *Maintainer) setEntry(tx kvengine.Transaction, id string, level int) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(level))
	tx.Set(m.entryKey(), append([]byte(id), buf[:]...))
}

func (m *Maintainer) getNeighbors(ctx context.Context, tx kvengine.Transaction, id string, level int) ([]string, error) {
	raw, err := tx.Get(ctx, m.neighborsKey(id, level))
	if err != nil || raw == nil {
		return nil, err
	}
	return unpackIDs(raw), nil
}

func (m *Maintainer) getVector(ctx context.Context, tx kvengine.Transaction, id string) ([]float32, error) {
	raw, err := tx.Get(ctx, m.nodeKey(id))
	if err != nil || raw == nil {
		return nil, err
	}
	return unpackNodeMeta(raw).vector, nil
}

// sampleLevel draws an insertion level via -ln(rand())·mL, per spec.md §4.6.
func sampleLevel(ml float64) int {
	r := rand.Float64()
	if r <= 0 {
		r = 1e-12
	}
	return int(-math.Log(r) * ml)
}

type candidate struct {
	id   string
	dist float32
}

type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)         { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() any           { old := *h; n := len(old); it := old[n-1]; *h = old[:n-1]; return it }

type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)         { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any           { old := *h; n := len(old); it := old[n-1]; *h = old[:n-1]; return it }

// searchLayer does a best-first search at one HNSW layer, returning up
// to ef nearest candidates to query. When predicate is non-nil, only
// predicate-passing nodes enter the result heap, while every visited
// node still feeds the exploration frontier (ACORN, spec.md §4.6).
func (m *Maintainer) searchLayer(ctx context.Context, tx kvengine.Transaction, query []float32, entry string, level, ef int, predicate func(string) bool, budget *int) ([]candidate, error) {
	visited := map[string]bool{entry: true}
	entryVec, err := m.getVector(ctx, tx, entry)
	if err != nil {
		return nil, err
	}
	entryDist := Distance(m.metric, query, entryVec)

	candidates := &minHeap{{id: entry, dist: entryDist}}
	heap.Init(candidates)
	results := &maxHeap{}
	if predicate == nil || predicate(entry) {
		heap.Push(results, candidate{id: entry, dist: entryDist})
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}
		neighbors, err := m.getNeighbors(ctx, tx, c.id, level)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if visited[n] {
				continue
			}
			visited[n] = true
			vec, err := m.getVector(ctx, tx, n)
			if err != nil || vec == nil {
				continue
			}
			d := Distance(m.metric, query, vec)
			heap.Push(candidates, candidate{id: n, dist: d})
			passes := predicate == nil
			if !passes && (budget == nil || *budget > 0) {
				if budget != nil {
					*budget--
				}
				passes = predicate(n)
			}
			if passes {
				heap.Push(results, candidate{id: n, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out, nil
}

// insert implements spec.md §4.6's HNSW insert: sample a level, greedy
// descend from the entry point down to level+1, then connect at each
// layer from that level down to 0 using efConstruction-width search and
// an M-neighbor cap.
func (m *Maintainer) insert(ctx context.Context, tx kvengine.Transaction, id string, vec []float32) error {
	level := sampleLevel(m.params.ML)
	tx.Set(m.nodeKey(id), packNodeMeta(nodeMeta{level: level, vector: vec}))

	entryID, entryLevel, hasEntry, err := m.getEntry(ctx, tx)
	if err != nil {
		return err
	}
	if !hasEntry {
		m.setEntry(tx, id, level)
		return nil
	}

	cur := entryID
	for l := entryLevel; l > level; l-- {
		found, err := m.searchLayer(ctx, tx, vec, cur, l, 1, nil, nil)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			cur = found[0].id
		}
	}

	for l := min(level, entryLevel); l >= 0; l-- {
		found, err := m.searchLayer(ctx, tx, vec, cur, l, m.params.EfConstruction, nil, nil)
		if err != nil {
			return err
		}
		neighbors := selectNeighborsHeuristic(found, m.params.M)
		ids := make([]string, len(neighbors))
		for i, c := range neighbors {
			ids[i] = c.id
		}
		tx.Set(m.neighborsKey(id, l), packIDs(ids))

		for _, n := range neighbors {
			existing, err := m.getNeighbors(ctx, tx, n.id, l)
			if err != nil {
				return err
			}
			existing = append(existing, id)
			if len(existing) > m.params.M {
				existing = trimToM(existing, m, ctx, tx, n.id, l)
			}
			tx.Set(m.neighborsKey(n.id, l), packIDs(existing))
		}
		if len(found) > 0 {
			cur = found[0].id
		}
	}

	if level > entryLevel {
		m.setEntry(tx, id, level)
	}
	return nil
}

// selectNeighborsHeuristic keeps the m candidates nearest to the query.
// It applies no diversity check between the neighbors it keeps.
func selectNeighborsHeuristic(candidates []candidate, m int) []candidate {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	if len(candidates) <= m {
		return candidates
	}
	return candidates[:m]
}

func trimToM(ids []string, m *Maintainer, ctx context.Context, tx kvengine.Transaction, self string, level int) []string {
	selfVec, err := m.getVector(ctx, tx, self)
	if err != nil || selfVec == nil {
		if len(ids) > m.params.M {
			return ids[:m.params.M]
		}
		return ids
	}
	type scored struct {
		id   string
		dist float32
	}
	scoredIDs := make([]scored, 0, len(ids))
	for _, id := range ids {
		v, err := m.getVector(ctx, tx, id)
		if err != nil || v == nil {
			continue
		}
		scoredIDs = append(scoredIDs, scored{id: id, dist: Distance(m.metric, selfVec, v)})
	}
	sort.Slice(scoredIDs, func(i, j int) bool { return scoredIDs[i].dist < scoredIDs[j].dist })
	if len(scoredIDs) > m.params.M {
		scoredIDs = scoredIDs[:m.params.M]
	}
	out := make([]string, len(scoredIDs))
	for i, s := range scoredIDs {
		out[i] = s.id
	}
	return out
}

// Search runs unfiltered top-k search: greedy descent above level 0,
// efSearch-width best-first search at level 0.
func (m *Maintainer) Search(ctx context.Context, tx kvengine.Transaction, query []float32, k int) ([]candidate, error) {
	return m.searchFiltered(ctx, tx, query, k, nil, 0)
}

// SearchFiltered implements ACORN (spec.md §4.6): ef is expanded by γ=2
// when a predicate is supplied, and maxPredicateEvaluations bounds how
// many predicate calls the search spends before exploration alone
// continues.
func (m *Maintainer) SearchFiltered(ctx context.Context, tx kvengine.Transaction, query []float32, k int, predicate func(string) bool, maxPredicateEvaluations int) ([]candidate, error) {
	return m.searchFiltered(ctx, tx, query, k, predicate, maxPredicateEvaluations)
}

func (m *Maintainer) searchFiltered(ctx context.Context, tx kvengine.Transaction, query []float32, k int, predicate func(string) bool, maxPredicateEvaluations int) ([]candidate, error) {
	if m.metric == MetricCosine {
		vec := append([]float32(nil), query...)
		NormalizeInPlace(vec)
		query = vec
	}

	entryID, entryLevel, hasEntry, err := m.getEntry(ctx, tx)
	if err != nil || !hasEntry {
		return nil, err
	}

	ef := m.params.EfSearch
	if predicate != nil {
		ef *= 2 // γ=2 default
	}

	cur := entryID
	for l := entryLevel; l > 0; l-- {
		found, err := m.searchLayer(ctx, tx, query, cur, l, 1, nil, nil)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			cur = found[0].id
		}
	}

	var budget *int
	if predicate != nil && maxPredicateEvaluations > 0 {
		b := maxPredicateEvaluations
		budget = &b
	}
	found, err := m.searchLayer(ctx, tx, query, cur, 0, ef, predicate, budget)
	if err != nil {
		return nil, err
	}
	sort.Slice(found, func(i, j int) bool { return found[i].dist < found[j].dist })
	if len(found) > k {
		found = found[:k]
	}
	return found, nil
}

func (m *Maintainer) State(ctx context.Context, tx kvengine.Transaction) (index.State, error) {
	return index.GetState(ctx, tx, m.root, m.desc.Name)
}

func (m *Maintainer) SetState(ctx context.Context, tx kvengine.Transaction, s index.State) error {
	return index.SetState(ctx, tx, m.root, m.desc.Name, s)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
