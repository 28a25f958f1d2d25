package vector

import (
	"context"
	"testing"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
	"github.com/stretchr/testify/require"
)

func seqOf(vals ...float64) record.Value {
	vs := make([]record.Value, len(vals))
	for i, v := range vals {
		vs[i] = record.Float(v)
	}
	return record.Sequence(vs...)
}

func newTestHNSW() *Maintainer {
	root := tuple.NewSubspace("R")
	desc := record.IndexDescriptor{Name: "embedding", Kind: record.IndexVector, Fields: []string{"vec"}, Metric: "cosine"}
	pk := func(it record.Item) []any {
		v, _ := it.Field("id")
		return []any{v.Str}
	}
	return NewMaintainer(root, desc, pk, DefaultParams(), nil)
}

func TestHNSW_InsertThenSearch_FindsNearestNeighbor(t *testing.T) {
	m := newTestHNSW()
	engine := kvengine.NewMemEngine()
	ctx := context.Background()
	tx, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)

	items := []record.Item{
		{Fields: map[string]record.Value{"id": record.String("a"), "vec": seqOf(1, 0, 0)}},
		{Fields: map[string]record.Value{"id": record.String("b"), "vec": seqOf(0, 1, 0)}},
		{Fields: map[string]record.Value{"id": record.String("c"), "vec": seqOf(0.9, 0.1, 0)}},
	}
	for _, it := range items {
		require.NoError(t, m.Update(ctx, tx, nil, &it))
	}

	results, err := m.Search(ctx, tx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "a", results[0].id)
}

func TestHNSW_Remove_ClearsNodeKey(t *testing.T) {
	m := newTestHNSW()
	engine := kvengine.NewMemEngine()
	ctx := context.Background()
	tx, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)

	a := record.Item{Fields: map[string]record.Value{"id": record.String("a"), "vec": seqOf(1, 0, 0)}}
	require.NoError(t, m.Update(ctx, tx, nil, &a))
	require.NoError(t, m.Update(ctx, tx, &a, nil))

	raw, err := tx.Get(ctx, m.nodeKey("a"))
	require.NoError(t, err)
	require.Nil(t, raw)
}

func TestScoreMultiVector_MaxSimPrefersCloserDocument(t *testing.T) {
	query := [][]float32{{1, 0}, {0, 1}}
	docClose := [][]float32{{1, 0}, {0, 1}}
	docFar := [][]float32{{-1, 0}, {0, -1}}

	closeScore := ScoreMultiVector(MetricCosine, ModeMaxSim, query, docClose, false)
	farScore := ScoreMultiVector(MetricCosine, ModeMaxSim, query, docFar, false)
	require.Greater(t, closeScore, farScore)
}

func TestPQ_EncodeDecodeRoundTripsApproximately(t *testing.T) {
	training := [][]float32{
		{1, 0, 0, 0}, {0.9, 0.1, 0, 0}, {0, 1, 0, 0}, {0, 0.9, 0.1, 0},
		{0, 0, 1, 0}, {0, 0, 0.9, 0.1}, {0, 0, 0, 1}, {0.1, 0, 0, 0.9},
	}
	cb := TrainPQ(training, 2, 4, 3)
	code := EncodePQ(cb, training[0])
	require.Len(t, code, 2)

	table := BuildLookupTable(cb, training[0])
	dist := AsymmetricDistance(table, code)
	require.GreaterOrEqual(t, dist, float32(0))
}
