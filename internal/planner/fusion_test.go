package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func scored(id string, score float64) ScoredID { return ScoredID{ID: id, Score: score} }

// TestFuseRRF_StableUnderSourcePermutation is spec.md §8's RRF
// stability property: permuting the order in which sources are
// combined (and the order of the sub-plans producing them) must not
// change the fused ranking, since RRF only depends on each id's rank
// position within its own source's list, not on iteration order.
func TestFuseRRF_StableUnderSourcePermutation(t *testing.T) {
	a := []ScoredID{scored("x", 9), scored("y", 5), scored("z", 1)}
	b := []ScoredID{scored("y", 0.9), scored("z", 0.5), scored("x", 0.1)}

	sources1 := map[string][]ScoredID{"fulltext": a, "vector": b}
	sources2 := map[string][]ScoredID{"vector": b, "fulltext": a}

	out1, err := Fuse(sources1, FusionSpec{Strategy: FusionRRF})
	require.NoError(t, err)
	out2, err := Fuse(sources2, FusionSpec{Strategy: FusionRRF})
	require.NoError(t, err)

	require.Equal(t, out1, out2)
	// y: rank1 in a (1/62) + rank0 in b (1/61) has the highest combined
	// reciprocal rank of the three ids, so it must win regardless of
	// which map key the caller associates with which source.
	require.Equal(t, "y", out1[0].ID)
}

func TestFuseRRF_TiesBreakByID(t *testing.T) {
	sources := map[string][]ScoredID{
		"s1": {scored("a", 1), scored("b", 1)},
		"s2": {scored("b", 1), scored("a", 1)},
	}
	out, err := Fuse(sources, FusionSpec{Strategy: FusionRRF})
	require.NoError(t, err)
	require.InDelta(t, out[0].Score, out[1].Score, 1e-9, "a and b must have tied reciprocal-rank sums")
	require.Equal(t, []string{"a", "b"}, []string{out[0].ID, out[1].ID})
}

func TestFuseWeightedSum_RespectsLabelWeights(t *testing.T) {
	sources := map[string][]ScoredID{
		"a": {scored("x", 1), scored("y", 0)},
		"b": {scored("x", 0), scored("y", 1)},
	}
	out, err := Fuse(sources, FusionSpec{
		Strategy: FusionWeightedSum,
		Weights:  map[string]float64{"a": 10, "b": 1},
	})
	require.NoError(t, err)
	require.Equal(t, "x", out[0].ID)
}

func TestRunFusion_PropagatesSubPlanError(t *testing.T) {
	boom := errors.New("boom")
	subPlans := []SubPlan{
		{Label: "a", Produce: func() ([]ScoredID, error) { return []ScoredID{scored("x", 1)}, nil }},
		{Label: "b", Produce: func() ([]ScoredID, error) { return nil, boom }},
	}
	_, err := RunFusion(context.Background(), subPlans, FusionSpec{Strategy: FusionRRF})
	require.ErrorIs(t, err, boom)
}

func TestRunFusion_CombinesLabeledSources(t *testing.T) {
	subPlans := []SubPlan{
		{Label: "fulltext", Produce: func() ([]ScoredID, error) {
			return []ScoredID{scored("x", 9), scored("y", 5), scored("z", 1)}, nil
		}},
		{Label: "vector", Produce: func() ([]ScoredID, error) {
			return []ScoredID{scored("y", 0.9), scored("z", 0.5), scored("x", 0.1)}, nil
		}},
	}
	out, err := RunFusion(context.Background(), subPlans, FusionSpec{Strategy: FusionRRF, TopK: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "y", out[0].ID)
}
