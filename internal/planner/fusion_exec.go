package planner

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunFusion pulls up to spec.CandidatesPerSource candidates from each
// sub-plan concurrently (each sub-plan's Produce is independent — a
// full-text BM25 scan, a vector HNSW search, a rank-index read —
// so there's no shared mutable state to race on), then fuses them per
// spec.md §4.10's "Fusion: pull from each sub-cursor in round-robin up
// to candidatesPerSource, normalize, combine, top-k."
//
// Grounded on internal/search/engine.go's errgroup.WithContext fan-out
// over BM25 and vector sub-searches, generalized from that fixed
// two-source case to N labeled sub-plans.
func RunFusion(ctx context.Context, subPlans []SubPlan, spec FusionSpec) ([]ScoredID, error) {
	g, gctx := errgroup.WithContext(ctx)
	results := make([][]ScoredID, len(subPlans))
	for i, sp := range subPlans {
		i, sp := i, sp
		g.Go(func() error {
			out, err := sp.Produce()
			if err != nil {
				return err
			}
			if spec.CandidatesPerSource > 0 && len(out) > spec.CandidatesPerSource {
				out = out[:spec.CandidatesPerSource]
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	_ = gctx

	sources := make(map[string][]ScoredID, len(subPlans))
	for i, sp := range subPlans {
		sources[sp.Label] = results[i]
	}
	return Fuse(sources, spec)
}
