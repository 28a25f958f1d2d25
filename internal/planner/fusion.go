package planner

import (
	"math"
	"sort"

	"github.com/amandb/recordkv/internal/errs"
)

// Fuse combines the ranked (id, score) lists produced by each sub-plan
// into one ranked list, per spec.md §4.9's Fusion strategies.
// Deduplication is by id: an id appearing in multiple sub-plans
// contributes to the fused score once per source, and is returned
// once.
//
// Generalizes internal/search/fusion.go and multi_fusion.go's
// two-source-then-N-subquery RRF fusion into one N-arbitrary-source
// operator covering every strategy spec.md names, not RRF alone.
func Fuse(sources map[string][]ScoredID, spec FusionSpec) ([]ScoredID, error) {
	switch spec.Strategy {
	case "", FusionRRF:
		return fuseRRF(sources, spec), nil
	case FusionWeightedSum:
		return fuseWeightedSum(sources, spec), nil
	case FusionMax:
		return fuseCombine(sources, func(scores []float64) float64 {
			m := scores[0]
			for _, s := range scores[1:] {
				if s > m {
					m = s
				}
			}
			return m
		}), nil
	case FusionGeometricMean:
		return fuseCombine(sources, func(scores []float64) float64 {
			product := 1.0
			for _, s := range scores {
				product *= s
			}
			return math.Pow(product, 1.0/float64(len(scores)))
		}), nil
	default:
		return nil, errs.New(errs.Internal, "unknown fusion strategy").WithDetail("strategy", string(spec.Strategy))
	}
}

func rrfConstant(spec FusionSpec) float64 {
	if spec.RRFConstant > 0 {
		return float64(spec.RRFConstant)
	}
	return 60
}

// fuseRRF is score-agnostic: only rank position within each source's
// list matters, per spec.md's "rrf(k=60) (score-agnostic reciprocal
// rank)".
func fuseRRF(sources map[string][]ScoredID, spec FusionSpec) []ScoredID {
	k := rrfConstant(spec)
	fused := make(map[string]float64)
	for _, list := range sources {
		for rank, sc := range list {
			fused[sc.ID] += 1.0 / (k + float64(rank+1))
		}
	}
	return rankAndTrim(fused, spec.TopK)
}

func fuseWeightedSum(sources map[string][]ScoredID, spec FusionSpec) []ScoredID {
	fused := make(map[string]float64)
	for label, list := range sources {
		normalized := normalize(list, spec.Normalization)
		w := 1.0
		if spec.Weights != nil {
			if ww, ok := spec.Weights[label]; ok {
				w = ww
			}
		}
		for _, sc := range normalized {
			fused[sc.ID] += w * sc.Score
		}
	}
	return rankAndTrim(fused, spec.TopK)
}

// fuseCombine applies combiner across each id's per-source scores
// (a source that lacks an id is skipped for it, so combiner sees only
// the scores present), used by max and geometricMean.
func fuseCombine(sources map[string][]ScoredID, combiner func([]float64) float64) []ScoredID {
	perID := make(map[string][]float64)
	for _, list := range sources {
		for _, sc := range list {
			perID[sc.ID] = append(perID[sc.ID], sc.Score)
		}
	}
	fused := make(map[string]float64, len(perID))
	for id, scores := range perID {
		fused[id] = combiner(scores)
	}
	return rankAndTrim(fused, 0)
}

func rankAndTrim(fused map[string]float64, topK int) []ScoredID {
	out := make([]ScoredID, 0, len(fused))
	for id, score := range fused {
		out = append(out, ScoredID{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// normalize rescales a sub-plan's raw scores per spec.md's weightedSum
// normalization modes before the weighted combination.
func normalize(list []ScoredID, mode Normalization) []ScoredID {
	if len(list) == 0 {
		return list
	}
	switch mode {
	case NormZScore:
		mean, std := meanStd(list)
		out := make([]ScoredID, len(list))
		for i, sc := range list {
			z := 0.0
			if std > 0 {
				z = (sc.Score - mean) / std
			}
			out[i] = ScoredID{ID: sc.ID, Score: z}
		}
		return out
	case NormPercentile:
		ranked := append([]ScoredID(nil), list...)
		sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score < ranked[j].Score })
		rank := make(map[string]float64, len(ranked))
		for i, sc := range ranked {
			rank[sc.ID] = float64(i) / float64(max(1, len(ranked)-1))
		}
		out := make([]ScoredID, len(list))
		for i, sc := range list {
			out[i] = ScoredID{ID: sc.ID, Score: rank[sc.ID]}
		}
		return out
	default: // minMax
		lo, hi := list[0].Score, list[0].Score
		for _, sc := range list {
			if sc.Score < lo {
				lo = sc.Score
			}
			if sc.Score > hi {
				hi = sc.Score
			}
		}
		span := hi - lo
		out := make([]ScoredID, len(list))
		for i, sc := range list {
			v := 0.0
			if span > 0 {
				v = (sc.Score - lo) / span
			}
			out[i] = ScoredID{ID: sc.ID, Score: v}
		}
		return out
	}
}

func meanStd(list []ScoredID) (float64, float64) {
	sum := 0.0
	for _, sc := range list {
		sum += sc.Score
	}
	mean := sum / float64(len(list))
	var variance float64
	for _, sc := range list {
		d := sc.Score - mean
		variance += d * d
	}
	variance /= float64(len(list))
	return mean, math.Sqrt(variance)
}
