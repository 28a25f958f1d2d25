package fulltext

import (
	"context"
	"testing"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
	"github.com/stretchr/testify/require"
)

func pkFirstField(field string) record.PrimaryKeyFunc {
	return func(it record.Item) []any {
		v, _ := it.Field(field)
		return []any{v.Str}
	}
}

func newTestMaintainer() *Maintainer {
	root := tuple.NewSubspace("R")
	desc := record.IndexDescriptor{Name: "body_fts", Kind: record.IndexFullText, Fields: []string{"body"}, Tokenizer: "simple"}
	return NewMaintainer(root, desc, pkFirstField("id"))
}

func TestTokenizer_SimpleLowercasesAndSegments(t *testing.T) {
	tok := NewTokenizer(StrategySimple, 0, nil)
	toks := tok.Tokenize("Hello, World!")
	require.Len(t, toks, 2)
	require.Equal(t, "hello", toks[0].Term)
	require.Equal(t, "world", toks[1].Term)
}

func TestMaintainer_AddThenScore_FavorsMoreRelevantDoc(t *testing.T) {
	m := newTestMaintainer()
	engine := kvengine.NewMemEngine()
	ctx := context.Background()
	tx, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)

	docs := []record.Item{
		{Fields: map[string]record.Value{"id": record.String("d1"), "body": record.String("the quick brown fox")}},
		{Fields: map[string]record.Value{"id": record.String("d2"), "body": record.String("fox fox fox jumps over the fox")}},
		{Fields: map[string]record.Value{"id": record.String("d3"), "body": record.String("an unrelated document about cats")}},
	}
	for _, d := range docs {
		require.NoError(t, m.Update(ctx, tx, nil, &d))
	}

	s1, err := m.Score(ctx, tx, "d1", []string{"fox"})
	require.NoError(t, err)
	s2, err := m.Score(ctx, tx, "d2", []string{"fox"})
	require.NoError(t, err)
	s3, err := m.Score(ctx, tx, "d3", []string{"fox"})
	require.NoError(t, err)

	require.Greater(t, s2, s1)
	require.Equal(t, 0.0, s3)
}

func TestMaintainer_Remove_ClearsPostingsAndStats(t *testing.T) {
	m := newTestMaintainer()
	engine := kvengine.NewMemEngine()
	ctx := context.Background()
	tx, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)

	d := record.Item{Fields: map[string]record.Value{"id": record.String("d1"), "body": record.String("hello world")}}
	require.NoError(t, m.Update(ctx, tx, nil, &d))
	require.NoError(t, m.Update(ctx, tx, &d, nil))

	n, totalLength, err := m.corpusStats(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
	require.Equal(t, int64(0), totalLength)
}
