package fulltext

import (
	"container/heap"
	"context"
	"encoding/binary"
	"math"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/tuple"
)

const (
	defaultBlockSize    = 64
	minDocsForBMW       = 1000
	bmwEpsilon          = 1e-4
)

type blockInfo struct {
	minDocID string
	maxDocID string
	docCount int64
	maxTF    float64
	maxImpact float64
}

// BuildBlocks (re)computes the block skip metadata for term, per
// spec.md §4.5: the posting list is chunked into blockSize-sized runs
// ordered by docId, each summarized by its max term frequency and a
// BM25 impact upper bound (achieved as docLength/avgDL → 0, where the
// length-normalization factor reaches its smallest value, 1-b).
func (m *Maintainer) BuildBlocks(ctx context.Context, tx kvengine.Transaction, term string) error {
	n, totalLength, err := m.corpusStats(ctx, tx)
	if err != nil || n == 0 {
		return err
	}
	df, err := m.termDF(ctx, tx, term)
	if err != nil || df == 0 {
		return err
	}
	idf := math.Log((float64(n) - float64(df) + 0.5) / (float64(df) + 0.5))

	termsSub := m.subspace().Sub("terms", term)
	res, err := tx.GetRange(ctx, termsSub.Bytes(), termsSub.PrefixEnd(), kvengine.RangeOptions{})
	if err != nil {
		return err
	}

	blocksSub := m.subspace().Sub("blocks", term)
	blockCount := int64(0)
	for start := 0; start < len(res.KVs); start += defaultBlockSize {
		end := start + defaultBlockSize
		if end > len(res.KVs) {
			end = len(res.KVs)
		}
		chunk := res.KVs[start:end]

		var maxTF float64
		var minDocID, maxDocID string
		for i, kv := range chunk {
			t, err := termsSub.Unpack(kv.Key)
			if err != nil || len(t) == 0 {
				continue
			}
			docID, _ := t[0].(string)
			tf := termFrequency(kv.Value)
			if tf > maxTF {
				maxTF = tf
			}
			if i == 0 {
				minDocID = docID
			}
			maxDocID = docID
		}
		maxImpact := idf * (maxTF * (bm25K1 + 1)) / (maxTF + bm25K1*(1-bm25B))

		blockKey := blocksSub.Pack(tuple.Tuple{blockCount})
		tx.Set(blockKey, packBlockInfo(minDocID, maxDocID, int64(len(chunk)), maxTF, maxImpact))
		blockCount++
	}

	metaKey := blocksSub.Pack(tuple.Tuple{"meta"})
	tx.Set(metaKey, packBlockMeta(defaultBlockSize, blockCount))
	_ = totalLength
	return nil
}

func (m *Maintainer) loadBlocks(ctx context.Context, tx kvengine.Transaction, term string) ([]blockInfo, error) {
	blocksSub := m.subspace().Sub("blocks", term)
	metaRaw, err := tx.Get(ctx, blocksSub.Pack(tuple.Tuple{"meta"}))
	if err != nil || metaRaw == nil {
		return nil, err
	}
	_, blockCount := unpackBlockMeta(metaRaw)

	out := make([]blockInfo, 0, blockCount)
	for i := int64(0); i < blockCount; i++ {
		raw, err := tx.Get(ctx, blocksSub.Pack(tuple.Tuple{i}))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		out = append(out, unpackBlockInfo(raw))
	}
	return out, nil
}

// scoredDoc is a single search result.
type scoredDoc struct {
	DocID string
	Score float64
}

type resultHeap []scoredDoc

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)         { *h = append(*h, x.(scoredDoc)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Search runs BM25 top-k retrieval over queryTerms. Below
// minDocsForBMW documents it falls back to exhaustively scoring every
// candidate (union of docs containing any query term); at or above
// that size it uses BlockMax-WAND block-skip pruning, per spec.md §4.5.
func (m *Maintainer) Search(ctx context.Context, tx kvengine.Transaction, queryTerms []string, k int) ([]scoredDoc, error) {
	n, _, err := m.corpusStats(ctx, tx)
	if err != nil {
		return nil, err
	}
	if n < minDocsForBMW {
		return m.searchExhaustive(ctx, tx, queryTerms, k)
	}
	return m.searchBMW(ctx, tx, queryTerms, k)
}

func (m *Maintainer) searchExhaustive(ctx context.Context, tx kvengine.Transaction, queryTerms []string, k int) ([]scoredDoc, error) {
	candidates := make(map[string]struct{})
	for _, term := range queryTerms {
		termsSub := m.subspace().Sub("terms", term)
		res, err := tx.GetRange(ctx, termsSub.Bytes(), termsSub.PrefixEnd(), kvengine.RangeOptions{})
		if err != nil {
			return nil, err
		}
		for _, kv := range res.KVs {
			t, err := termsSub.Unpack(kv.Key)
			if err != nil || len(t) == 0 {
				continue
			}
			if docID, ok := t[0].(string); ok {
				candidates[docID] = struct{}{}
			}
		}
	}

	h := &resultHeap{}
	heap.Init(h)
	for docID := range candidates {
		score, err := m.Score(ctx, tx, docID, queryTerms)
		if err != nil {
			return nil, err
		}
		pushBounded(h, scoredDoc{DocID: docID, Score: score}, k)
	}
	return drainSortedDesc(h), nil
}

// termCursor walks one term's postings block-by-block, tracking the
// maximum impact of blocks not yet fully consumed so the caller can
// compute a cumulative upper bound across all live cursors.
type termCursor struct {
	term    string
	idf     float64
	blocks  []blockInfo
	blockAt int

	docIDs []string
	tfs    []float64
	at     int
	done   bool
}

func (m *Maintainer) newTermCursor(ctx context.Context, tx kvengine.Transaction, term string) (*termCursor, error) {
	n, _, err := m.corpusStats(ctx, tx)
	if err != nil {
		return nil, err
	}
	df, err := m.termDF(ctx, tx, term)
	if err != nil || df == 0 {
		return &termCursor{term: term, done: true}, nil
	}
	idf := math.Log((float64(n) - float64(df) + 0.5) / (float64(df) + 0.5))
	blocks, err := m.loadBlocks(ctx, tx, term)
	if err != nil {
		return nil, err
	}
	c := &termCursor{term: term, idf: idf, blocks: blocks}
	if len(blocks) == 0 {
		c.done = true
		return c, nil
	}
	if err := m.loadBlockPostings(ctx, tx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (m *Maintainer) loadBlockPostings(ctx context.Context, tx kvengine.Transaction, c *termCursor) error {
	if c.blockAt >= len(c.blocks) {
		c.done = true
		return nil
	}
	b := c.blocks[c.blockAt]
	termsSub := m.subspace().Sub("terms", c.term)
	begin := termsSub.Pack(tuple.Tuple{b.minDocID})
	end := tuple.PrefixEnd(termsSub.Pack(tuple.Tuple{b.maxDocID}))
	res, err := tx.GetRange(ctx, begin, end, kvengine.RangeOptions{})
	if err != nil {
		return err
	}
	c.docIDs = c.docIDs[:0]
	c.tfs = c.tfs[:0]
	for _, kv := range res.KVs {
		t, err := termsSub.Unpack(kv.Key)
		if err != nil || len(t) == 0 {
			continue
		}
		docID, _ := t[0].(string)
		c.docIDs = append(c.docIDs, docID)
		c.tfs = append(c.tfs, termFrequency(kv.Value))
	}
	c.at = 0
	return nil
}

func (c *termCursor) currentDocID() (string, bool) {
	if c.done || c.at >= len(c.docIDs) {
		return "", false
	}
	return c.docIDs[c.at], true
}

func (c *termCursor) maxImpact() float64 {
	if c.blockAt < len(c.blocks) {
		return c.blocks[c.blockAt].maxImpact
	}
	return 0
}

func (m *Maintainer) advanceCursor(ctx context.Context, tx kvengine.Transaction, c *termCursor) error {
	c.at++
	if c.at >= len(c.docIDs) {
		c.blockAt++
		return m.loadBlockPostings(ctx, tx, c)
	}
	return nil
}

// searchBMW implements the BlockMax-WAND algorithm of spec.md §4.5:
// find the pivot whose cumulative block-max-impact bound exceeds the
// current k-th threshold, score it if every earlier cursor already
// sits on it, and otherwise advance the lagging cursor.
func (m *Maintainer) searchBMW(ctx context.Context, tx kvengine.Transaction, queryTerms []string, k int) ([]scoredDoc, error) {
	cursors := make([]*termCursor, 0, len(queryTerms))
	for _, term := range queryTerms {
		c, err := m.newTermCursor(ctx, tx, term)
		if err != nil {
			return nil, err
		}
		if !c.done {
			cursors = append(cursors, c)
		}
	}

	n, totalLength, err := m.corpusStats(ctx, tx)
	if err != nil {
		return nil, err
	}
	avgDL := 1.0
	if n > 0 {
		avgDL = float64(totalLength) / float64(n)
	}

	h := &resultHeap{}
	heap.Init(h)
	var threshold float64

	for {
		live := make([]*termCursor, 0, len(cursors))
		for _, c := range cursors {
			if _, ok := c.currentDocID(); ok {
				live = append(live, c)
			}
		}
		if len(live) == 0 {
			break
		}

		// Order live cursors by current docId (simple insertion sort;
		// query term counts are small).
		for i := 1; i < len(live); i++ {
			for j := i; j > 0; j-- {
				di, _ := live[j].currentDocID()
				dj, _ := live[j-1].currentDocID()
				if di < dj {
					live[j], live[j-1] = live[j-1], live[j]
				} else {
					break
				}
			}
		}

		cumulative := 0.0
		pivot := -1
		for i, c := range live {
			cumulative += c.maxImpact()
			if cumulative > threshold*(1+bmwEpsilon) {
				pivot = i
				break
			}
		}
		if pivot == -1 {
			break
		}
		pivotDoc, _ := live[pivot].currentDocID()

		allAtPivot := true
		for i := 0; i < pivot; i++ {
			d, _ := live[i].currentDocID()
			if d != pivotDoc {
				allAtPivot = false
				break
			}
		}

		if allAtPivot {
			docLength := avgDL
			if raw, err := tx.Get(ctx, m.subspace().Pack(tuple.Tuple{"docs", pivotDoc})); err == nil && raw != nil {
				_, docLength64 := unpackDocInfo(raw)
				docLength = float64(docLength64)
			}
			var score float64
			for _, c := range live {
				d, ok := c.currentDocID()
				if ok && d == pivotDoc {
					tf := c.tfs[c.at]
					score += c.idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*docLength/avgDL))
				}
			}
			if score > threshold*(1-bmwEpsilon) {
				pushBounded(h, scoredDoc{DocID: pivotDoc, Score: score}, k)
				if h.Len() == k {
					threshold = (*h)[0].Score
				}
			}
			for _, c := range live {
				d, ok := c.currentDocID()
				if ok && d == pivotDoc {
					if err := m.advanceCursor(ctx, tx, c); err != nil {
						return nil, err
					}
				}
			}
		} else {
			// Advance the lagging cursor among live[0:pivot] with the
			// smallest current docId up to pivotDoc.
			laggard := live[0]
			for _, c := range live[:pivot] {
				d, _ := c.currentDocID()
				ld, _ := laggard.currentDocID()
				if d < ld {
					laggard = c
				}
			}
			if err := m.advanceCursor(ctx, tx, laggard); err != nil {
				return nil, err
			}
		}
	}

	return drainSortedDesc(h), nil
}

func pushBounded(h *resultHeap, d scoredDoc, k int) {
	if k <= 0 {
		return
	}
	if h.Len() < k {
		heap.Push(h, d)
		return
	}
	if d.Score > (*h)[0].Score {
		heap.Pop(h)
		heap.Push(h, d)
	}
}

func drainSortedDesc(h *resultHeap) []scoredDoc {
	out := make([]scoredDoc, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(scoredDoc)
	}
	return out
}

func packBlockMeta(blockSize int32, blockCount int64) []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint32(out[0:4], uint32(blockSize))
	binary.BigEndian.PutUint64(out[4:12], uint64(blockCount))
	return out
}

func unpackBlockMeta(b []byte) (blockSize int32, blockCount int64) {
	if len(b) < 12 {
		return 0, 0
	}
	return int32(binary.BigEndian.Uint32(b[0:4])), int64(binary.BigEndian.Uint64(b[4:12]))
}

func packBlockInfo(minDocID, maxDocID string, docCount int64, maxTF, maxImpact float64) []byte {
	minB := []byte(minDocID)
	maxB := []byte(maxDocID)
	out := make([]byte, 4+len(minB)+4+len(maxB)+8+8+8)
	off := 0
	binary.BigEndian.PutUint32(out[off:], uint32(len(minB)))
	off += 4
	copy(out[off:], minB)
	off += len(minB)
	binary.BigEndian.PutUint32(out[off:], uint32(len(maxB)))
	off += 4
	copy(out[off:], maxB)
	off += len(maxB)
	binary.BigEndian.PutUint64(out[off:], uint64(docCount))
	off += 8
	binary.BigEndian.PutUint64(out[off:], math.Float64bits(maxTF))
	off += 8
	binary.BigEndian.PutUint64(out[off:], math.Float64bits(maxImpact))
	return out
}

func unpackBlockInfo(b []byte) blockInfo {
	off := 0
	minLen := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	minDocID := string(b[off : off+minLen])
	off += minLen
	maxLen := int(binary.BigEndian.Uint32(b[off:]))
	off += 4
	maxDocID := string(b[off : off+maxLen])
	off += maxLen
	docCount := int64(binary.BigEndian.Uint64(b[off:]))
	off += 8
	maxTF := math.Float64frombits(binary.BigEndian.Uint64(b[off:]))
	off += 8
	maxImpact := math.Float64frombits(binary.BigEndian.Uint64(b[off:]))
	return blockInfo{minDocID: minDocID, maxDocID: maxDocID, docCount: docCount, maxTF: maxTF, maxImpact: maxImpact}
}
