// Package planner implements spec.md §4.9's Cascades-style query
// planner and §4.10's cursor-based executor: a logical query compiles
// to a memo of candidate physical plans, the cheapest plan (by the
// declared cost model) is chosen and cached, and the executor walks it
// as a cursor honoring return/time/scan/byte limits.
//
// Grounded on the teacher's coordinator/runner pattern for multi-stage
// pipelines (internal/coordinator) generalized from a fixed
// chunk-then-embed pipeline to an open operator tree, and on
// internal/search/fusion.go's RRF/weighted-sum scoring (now
// generalized to N arbitrary sub-plans in fusion.go of this package).
package planner

import "github.com/amandb/recordkv/internal/record"

// Op is a predicate comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpIn  Op = "in"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// Predicate is one filter term of a query, spec.md §4.8's compiled
// query input to the planner.
type Predicate struct {
	Field  string
	Op     Op
	Value  record.Value
	Values []record.Value // populated when Op == OpIn
}

// SortKey is one ORDER BY term.
type SortKey struct {
	Field string
	Desc  bool
}

// Query is a compiled logical query over one item type: conjunctive
// filters, an optional sort, and limit/offset.
type Query struct {
	TypeName string
	Filters  []Predicate
	OrderBy  []SortKey
	Limit    int
	Offset   int
}

// FusionStrategy names the combination rule for a Fusion plan, spec.md
// §4.9's "Fusion" subsection.
type FusionStrategy string

const (
	FusionWeightedSum   FusionStrategy = "weightedSum"
	FusionRRF           FusionStrategy = "rrf"
	FusionMax           FusionStrategy = "max"
	FusionGeometricMean FusionStrategy = "geometricMean"
)

// Normalization names a score normalization mode used by weightedSum.
type Normalization string

const (
	NormMinMax     Normalization = "minMax"
	NormZScore     Normalization = "zScore"
	NormPercentile Normalization = "percentile"
)

// ScoredID is one (id, score) pair a sub-plan of a Fusion yields —
// full-text BM25 hits, vector nearest-neighbor hits, rank positions,
// and so on all reduce to this shape before fusion.
type ScoredID struct {
	ID    string
	Score float64
}

// SubPlan is one fusion input: a label (used for weightedSum weights)
// and the function that produces its ranked candidates. Produce takes
// no context of its own — RunFusion runs every sub-plan under one
// errgroup.WithContext, so cancellation of that shared context is what
// a Produce closure should observe if it captures it.
type SubPlan struct {
	Label   string
	Produce func() ([]ScoredID, error)
}

// FusionSpec configures a Fusion plan.
type FusionSpec struct {
	Strategy            FusionStrategy
	Weights             map[string]float64 // weightedSum only, keyed by SubPlan.Label
	Normalization        Normalization      // weightedSum only
	RRFConstant         int                // rrf only, default 60
	CandidatesPerSource  int                // round-robin pull size per sub-cursor
	TopK                int
}
