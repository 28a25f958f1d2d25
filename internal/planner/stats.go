package planner

// Statistics holds the cardinality estimates the cost model needs.
// Spec.md §4.9 says "statistics drive selectivity estimates" without
// mandating a particular estimator; this is a direct per-field
// distinct-count table refreshed by the caller (typically the online
// indexer, after a build or scrub pass) rather than a streaming
// sketch — the examples pack carries no HyperLogLog or similar
// dependency to ground a fancier estimator on, and a flat counter
// table is the teacher's own style for the few stats it keeps
// (internal/store's project/file counts).
type Statistics struct {
	// Version increments on every Refresh, used to invalidate cached
	// plans keyed against a stale statistics snapshot.
	Version int64

	// Cardinality is the total item count for a type.
	Cardinality map[string]int64

	// FieldDistinct is an approximate distinct-value count per
	// "type.field", used to estimate equality selectivity as
	// 1/distinct.
	FieldDistinct map[string]int64
}

// NewStatistics returns an empty statistics table; selectivity
// estimates fall back to conservative defaults until Refresh is
// called.
func NewStatistics() *Statistics {
	return &Statistics{
		Cardinality:   make(map[string]int64),
		FieldDistinct: make(map[string]int64),
	}
}

// Refresh records a fresh cardinality/distinct-count observation and
// bumps Version, invalidating any plan cached against the prior
// snapshot.
func (s *Statistics) Refresh(typeName string, cardinality int64, fieldDistinct map[string]int64) {
	s.Cardinality[typeName] = cardinality
	for k, v := range fieldDistinct {
		s.FieldDistinct[typeName+"."+k] = v
	}
	s.Version++
}

func (s *Statistics) cardinality(typeName string) int64 {
	if c, ok := s.Cardinality[typeName]; ok {
		return c
	}
	return 1000 // conservative default for an unobserved type
}

// selectivity estimates the fraction of typeName's items matching an
// equality predicate on field, defaulting to 0.1 (spec.md names no
// default; the teacher's own search ranking uses a similar 1/10
// fallback for untrained IDF weights) when no distinct-count
// observation exists.
func (s *Statistics) selectivity(typeName, field string) float64 {
	if d, ok := s.FieldDistinct[typeName+"."+field]; ok && d > 0 {
		return 1.0 / float64(d)
	}
	return 0.1
}
