package fulltext

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/amandb/recordkv/internal/index"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Maintainer lays out the full-text postings, document stats, and
// corpus stats of spec.md §4.5, and scores queries with BM25.
type Maintainer struct {
	root      tuple.Subspace
	desc      record.IndexDescriptor
	tokenizer *Tokenizer
	pk        record.PrimaryKeyFunc
}

func NewMaintainer(root tuple.Subspace, desc record.IndexDescriptor, pk record.PrimaryKeyFunc) *Maintainer {
	strategy := Strategy(desc.Tokenizer)
	if strategy == "" {
		strategy = StrategySimple
	}
	return &Maintainer{
		root:      root,
		desc:      desc,
		tokenizer: NewTokenizer(strategy, desc.NGramK, desc.StopWords),
		pk:        pk,
	}
}

func (m *Maintainer) Name() string          { return m.desc.Name }
func (m *Maintainer) Kind() record.IndexKind { return m.desc.Kind }

func (m *Maintainer) subspace() tuple.Subspace { return m.root.Sub("I", m.desc.Name) }

func (m *Maintainer) docID(item record.Item) string {
	parts := m.pk(item)
	if len(parts) == 0 {
		return ""
	}
	if s, ok := parts[0].(string); ok {
		return s
	}
	return ""
}

func (m *Maintainer) fieldText(item record.Item) string {
	var text string
	for _, f := range m.desc.Fields {
		if v, ok := item.Field(f); ok && v.Kind == record.KindString {
			if text != "" {
				text += " "
			}
			text += v.Str
		}
	}
	return text
}

func (m *Maintainer) IndexKeys(item record.Item) ([]index.KV, error) {
	return nil, nil // postings require atomic df/stats mutations; done in Update
}

func (m *Maintainer) Update(ctx context.Context, tx kvengine.Transaction, old, next *record.Item) error {
	if old != nil {
		if err := m.remove(ctx, tx, *old); err != nil {
			return err
		}
	}
	if next != nil {
		if err := m.add(ctx, tx, *next); err != nil {
			return err
		}
	}
	return nil
}

func (m *Maintainer) add(ctx context.Context, tx kvengine.Transaction, item record.Item) error {
	docID := m.docID(item)
	tokens := m.tokenizer.Tokenize(m.fieldText(item))

	positions := make(map[string][]int)
	for _, tok := range tokens {
		positions[tok.Term] = append(positions[tok.Term], tok.Position)
	}

	for term, pos := range positions {
		termKey := m.subspace().Pack(tuple.Tuple{"terms", term, docID})
		posBytes := []byte{0x00} // presence sentinel when positions aren't stored
		if m.desc.StorePositions {
			posBytes = packPositions(pos)
		}
		tx.Set(termKey, posBytes)

		dfKey := m.subspace().Pack(tuple.Tuple{"df", term})
		tx.Atomic(dfKey, kvengine.MutationAdd, encodeI64(1))
	}

	docsKey := m.subspace().Pack(tuple.Tuple{"docs", docID})
	tx.Set(docsKey, packDocInfo(int64(len(positions)), int64(len(tokens))))

	statsN := m.subspace().Pack(tuple.Tuple{"stats", "N"})
	statsLen := m.subspace().Pack(tuple.Tuple{"stats", "totalLength"})
	tx.Atomic(statsN, kvengine.MutationAdd, encodeI64(1))
	tx.Atomic(statsLen, kvengine.MutationAdd, encodeI64(int64(len(tokens))))
	return nil
}

func (m *Maintainer) remove(ctx context.Context, tx kvengine.Transaction, item record.Item) error {
	docID := m.docID(item)
	docsKey := m.subspace().Pack(tuple.Tuple{"docs", docID})
	raw, err := tx.Get(ctx, docsKey)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	_, docLength := unpackDocInfo(raw)

	tokens := m.tokenizer.Tokenize(m.fieldText(item))
	seen := make(map[string]struct{})
	for _, tok := range tokens {
		seen[tok.Term] = struct{}{}
	}
	for term := range seen {
		termKey := m.subspace().Pack(tuple.Tuple{"terms", term, docID})
		tx.Clear(termKey)
		dfKey := m.subspace().Pack(tuple.Tuple{"df", term})
		tx.Atomic(dfKey, kvengine.MutationAdd, encodeI64(-1))
	}
	tx.Clear(docsKey)

	statsN := m.subspace().Pack(tuple.Tuple{"stats", "N"})
	statsLen := m.subspace().Pack(tuple.Tuple{"stats", "totalLength"})
	tx.Atomic(statsN, kvengine.MutationAdd, encodeI64(-1))
	tx.Atomic(statsLen, kvengine.MutationAdd, encodeI64(-docLength))
	return nil
}

// Score computes the BM25 score of docID against queryTerms, per
// spec.md §4.5's formula with the standard k1=1.2, b=0.75 defaults.
func (m *Maintainer) Score(ctx context.Context, tx kvengine.Transaction, docID string, queryTerms []string) (float64, error) {
	n, totalLength, err := m.corpusStats(ctx, tx)
	if err != nil || n == 0 {
		return 0, err
	}
	avgDL := float64(totalLength) / float64(n)

	docsKey := m.subspace().Pack(tuple.Tuple{"docs", docID})
	docRaw, err := tx.Get(ctx, docsKey)
	if err != nil {
		return 0, err
	}
	if docRaw == nil {
		return 0, nil
	}
	_, docLength := unpackDocInfo(docRaw)

	var score float64
	for _, term := range queryTerms {
		df, err := m.termDF(ctx, tx, term)
		if err != nil {
			return 0, err
		}
		if df == 0 {
			continue
		}
		termKey := m.subspace().Pack(tuple.Tuple{"terms", term, docID})
		posRaw, err := tx.Get(ctx, termKey)
		if err != nil {
			return 0, err
		}
		if posRaw == nil {
			continue // term does not occur in this doc
		}
		tf := termFrequency(posRaw)
		idf := math.Log((float64(n) - float64(df) + 0.5) / (float64(df) + 0.5))
		score += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*float64(docLength)/avgDL))
	}
	return score, nil
}

func (m *Maintainer) corpusStats(ctx context.Context, tx kvengine.Transaction) (n, totalLength int64, err error) {
	statsN := m.subspace().Pack(tuple.Tuple{"stats", "N"})
	statsLen := m.subspace().Pack(tuple.Tuple{"stats", "totalLength"})
	nRaw, err := tx.Get(ctx, statsN)
	if err != nil {
		return 0, 0, err
	}
	lenRaw, err := tx.Get(ctx, statsLen)
	if err != nil {
		return 0, 0, err
	}
	return decodeI64(nRaw), decodeI64(lenRaw), nil
}

func (m *Maintainer) termDF(ctx context.Context, tx kvengine.Transaction, term string) (int64, error) {
	dfKey := m.subspace().Pack(tuple.Tuple{"df", term})
	raw, err := tx.Get(ctx, dfKey)
	if err != nil {
		return 0, err
	}
	return decodeI64(raw), nil
}

func (m *Maintainer) State(ctx context.Context, tx kvengine.Transaction) (index.State, error) {
	return index.GetState(ctx, tx, m.root, m.desc.Name)
}

func (m *Maintainer) SetState(ctx context.Context, tx kvengine.Transaction, s index.State) error {
	return index.SetState(ctx, tx, m.root, m.desc.Name, s)
}

// termFrequency counts occurrences in packed position data; when
// positions aren't stored, presence of the key implies tf=1 (the index
// only records membership, not exact frequency).
func termFrequency(posBytes []byte) float64 {
	if len(posBytes) == 0 {
		return 1
	}
	count := 0
	for i := 0; i+4 <= len(posBytes); i += 4 {
		count++
	}
	if count == 0 {
		return 1
	}
	return float64(count)
}

func packPositions(positions []int) []byte {
	out := make([]byte, 4*len(positions))
	for i, p := range positions {
		binary.BigEndian.PutUint32(out[i*4:], uint32(p))
	}
	return out
}

func packDocInfo(uniqueTermCount, docLength int64) []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[0:8], uint64(uniqueTermCount))
	binary.BigEndian.PutUint64(out[8:16], uint64(docLength))
	return out
}

func unpackDocInfo(b []byte) (uniqueTermCount, docLength int64) {
	if len(b) < 16 {
		return 0, 0
	}
	return int64(binary.BigEndian.Uint64(b[0:8])), int64(binary.BigEndian.Uint64(b[8:16]))
}

func encodeI64(i int64) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, uint64(i))
	return out
}

func decodeI64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}
