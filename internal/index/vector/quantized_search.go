package vector

import (
	"context"
	"sort"

	"github.com/amandb/recordkv/internal/kvengine"
)

// SearchQuantized traverses the HNSW graph with exact distance to
// collect k·rescoringFactor candidates, computes their asymmetric PQ
// distances, then ranks them by exact distance. The graph traversal
// itself does not use quantized distance.
func (m *Maintainer) SearchQuantized(ctx context.Context, tx kvengine.Transaction, query []float32, k int, rescoringFactor int, cb *PQCodebook) ([]candidate, error) {
	if rescoringFactor <= 0 {
		rescoringFactor = 4
	}
	table := BuildLookupTable(cb, query)

	wide, err := m.searchFiltered(ctx, tx, query, k*rescoringFactor, nil, 0)
	if err != nil {
		return nil, err
	}
	if m.quant == nil {
		return wide, nil
	}

	type rescored struct {
		id       string
		approxD  float32
		exactSet bool
		exactD   float32
	}
	scored := make([]rescored, 0, len(wide))
	for _, c := range wide {
		code, err := m.quant.LoadCode(ctx, tx, c.id)
		if err != nil || code == nil {
			scored = append(scored, rescored{id: c.id, approxD: c.dist})
			continue
		}
		scored = append(scored, rescored{id: c.id, approxD: AsymmetricDistance(table, code)})
	}

	for i := range scored {
		vec, err := m.getVector(ctx, tx, scored[i].id)
		if err == nil && vec != nil {
			scored[i].exactD = Distance(m.metric, query, vec)
			scored[i].exactSet = true
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		di, dj := scored[i].approxD, scored[j].approxD
		if scored[i].exactSet {
			di = scored[i].exactD
		}
		if scored[j].exactSet {
			dj = scored[j].exactD
		}
		return di < dj
	})
	if len(scored) > k {
		scored = scored[:k]
	}

	out := make([]candidate, len(scored))
	for i, s := range scored {
		d := s.approxD
		if s.exactSet {
			d = s.exactD
		}
		out[i] = candidate{id: s.id, dist: d}
	}
	return out, nil
}
