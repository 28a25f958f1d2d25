package planner

import (
	"time"

	"github.com/amandb/recordkv/internal/errs"
	"github.com/amandb/recordkv/internal/record"
)

// PlanOp names a physical operator, spec.md §4.10's operator list.
type PlanOp string

const (
	OpSeqScan  PlanOp = "SeqScan"
	OpIdxScan  PlanOp = "IndexScan"
	OpFilter   PlanOp = "Filter"
	OpSort     PlanOp = "Sort"
	OpLimit    PlanOp = "Limit"
	OpINJoin   PlanOp = "INJoin"
	OpINUnion  PlanOp = "INUnion"
)

// Plan is one node of a physical plan tree. The memo keeps only the
// winning tree per query rather than every equivalence group once
// optimization finishes — spec.md's branch-and-bound only needs the
// best plan to survive, and the cache (cache.go) is what amortizes
// re-planning, not the memo itself.
type Plan struct {
	Op       PlanOp
	Cost     float64
	Children []*Plan

	// IndexScan / bound predicates
	IndexName  string
	BoundField string
	BoundValue record.Value

	// Filter
	Residual []Predicate

	// Sort / Limit
	SortKeys []SortKey
	Limit    int
	Offset   int
}

// Limits caps the planner's own work, spec.md §4.9: exceeding
// MaxPlanEnumerations or MaxRuleApplications fails the whole plan with
// PlanComplexityExceeded rather than silently returning a worse plan.
// Timeout is not checked by Compile.
type Limits struct {
	MaxPlanEnumerations int
	MaxRuleApplications int
	Timeout             time.Duration
	InJoinThreshold     int // spec.md §4.9's n<=20, from config.PlannerConfig
}

func (l Limits) inJoinThreshold() int {
	if l.InJoinThreshold > 0 {
		return l.InJoinThreshold
	}
	return 20
}

// IndexCatalog is everything the planner needs about a type's declared
// indexes to judge whether one can serve a predicate.
type IndexCatalog struct {
	Indexes []record.IndexDescriptor
}

// enumerator tracks branch-and-bound budget across one Compile call.
type enumerator struct {
	limits      Limits
	enumerated  int
	ruleApplied int
}

func (e *enumerator) count(kind string) error {
	e.enumerated++
	if e.limits.MaxPlanEnumerations > 0 && e.enumerated > e.limits.MaxPlanEnumerations {
		return errs.New(errs.PlanComplexityExceeded, "maxPlanEnumerations exceeded").WithDetail("at", kind)
	}
	return nil
}

func (e *enumerator) rule() error {
	e.ruleApplied++
	if e.limits.MaxRuleApplications > 0 && e.ruleApplied > e.limits.MaxRuleApplications {
		return errs.New(errs.PlanComplexityExceeded, "maxRuleApplications exceeded")
	}
	return nil
}

// Compile turns a logical Query into the cheapest physical Plan found
// within limits, per spec.md §4.9: enumerate SeqScan plus every
// index-serviceable alternative (including IN-Join/IN-Union per the
// n≤20 threshold), cost each, keep the minimum, then wrap with
// Filter/Sort/Limit for whatever the chosen scan doesn't already
// provide.
func Compile(q Query, cat IndexCatalog, stats *Statistics, limits Limits) (*Plan, error) {
	e := &enumerator{limits: limits}

	best, err := seqScanPlan(q, stats, e)
	if err != nil {
		return nil, err
	}
	bestResidual := q.Filters

	for _, idx := range cat.Indexes {
		if len(idx.Fields) == 0 {
			continue
		}
		if idx.Kind != record.IndexScalar && idx.Kind != record.IndexRelationship && idx.Kind != record.IndexRange {
			continue
		}
		plan, residual, ok, err := indexPlanFor(q, idx, stats, e, limits)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if plan.Cost < best.Cost {
			best, bestResidual = plan, residual
		}
	}

	if len(bestResidual) > 0 {
		if err := e.count("Filter"); err != nil {
			return nil, err
		}
		best = &Plan{Op: OpFilter, Cost: best.Cost + float64(len(best.Children)) + 1, Children: []*Plan{best}, Residual: bestResidual}
	}

	if len(q.OrderBy) > 0 && !providesOrder(best, q.OrderBy) {
		if err := e.count("Sort"); err != nil {
			return nil, err
		}
		best = &Plan{Op: OpSort, Cost: best.Cost * 1.2, Children: []*Plan{best}, SortKeys: q.OrderBy}
	}

	if q.Limit > 0 || q.Offset > 0 {
		if err := e.count("Limit"); err != nil {
			return nil, err
		}
		best = &Plan{Op: OpLimit, Cost: best.Cost, Children: []*Plan{best}, Limit: q.Limit, Offset: q.Offset}
	}

	return best, nil
}

func seqScanPlan(q Query, stats *Statistics, e *enumerator) (*Plan, error) {
	if err := e.count("SeqScan"); err != nil {
		return nil, err
	}
	return &Plan{Op: OpSeqScan, Cost: float64(stats.cardinality(q.TypeName))}, nil
}

// indexPlanFor judges whether idx's leading fields can serve q's
// filters as a prefix (every leading field bound by Eq, with the last
// bound field optionally an In), returning the physical plan and the
// leftover filters it doesn't cover.
func indexPlanFor(q Query, idx record.IndexDescriptor, stats *Statistics, e *enumerator, limits Limits) (*Plan, []Predicate, bool, error) {
	byField := make(map[string]Predicate, len(q.Filters))
	for _, p := range q.Filters {
		byField[p.Field] = p
	}

	var bound []Predicate
	for _, f := range idx.Fields {
		p, ok := byField[f]
		if !ok || (p.Op != OpEq && p.Op != OpIn) {
			break
		}
		bound = append(bound, p)
		if p.Op == OpIn {
			break // IN can only be the last bound position
		}
	}
	if len(bound) == 0 {
		return nil, nil, false, nil
	}

	last := bound[len(bound)-1]
	residual := residualAfter(q.Filters, bound)

	if last.Op == OpIn {
		n := len(last.Values)
		if err := e.rule(); err != nil {
			return nil, nil, false, err
		}
		if n <= limits.inJoinThreshold() {
			plan, err := inJoinPlan(idx, bound, last, stats, q.TypeName, e)
			return plan, residual, true, err
		}
		plan, err := inUnionPlan(idx, bound, last, stats, q.TypeName, q.Limit, e)
		return plan, residual, true, err
	}

	if err := e.count("IndexScan:" + idx.Name); err != nil {
		return nil, nil, false, err
	}
	sel := 1.0
	for _, p := range bound {
		sel *= stats.selectivity(q.TypeName, p.Field)
	}
	cost := sel * float64(stats.cardinality(q.TypeName))
	plan := &Plan{Op: OpIdxScan, Cost: cost, IndexName: idx.Name, BoundField: last.Field, BoundValue: last.Value}
	return plan, residual, true, nil
}

func inJoinPlan(idx record.IndexDescriptor, bound []Predicate, last Predicate, stats *Statistics, typeName string, e *enumerator) (*Plan, error) {
	sel := 1.0
	for _, p := range bound[:len(bound)-1] {
		sel *= stats.selectivity(typeName, p.Field)
	}
	var children []*Plan
	for _, v := range last.Values {
		if err := e.count("IndexScan:" + idx.Name); err != nil {
			return nil, err
		}
		leafSel := sel * stats.selectivity(typeName, last.Field)
		cost := leafSel * float64(stats.cardinality(typeName))
		children = append(children, &Plan{Op: OpIdxScan, Cost: cost, IndexName: idx.Name, BoundField: last.Field, BoundValue: v})
	}
	total := 0.0
	for _, c := range children {
		total += c.Cost
	}
	return &Plan{Op: OpINJoin, Cost: total + float64(len(children)), Children: children}, nil
}

func inUnionPlan(idx record.IndexDescriptor, bound []Predicate, last Predicate, stats *Statistics, typeName string, limit int, e *enumerator) (*Plan, error) {
	sel := 1.0
	for _, p := range bound[:len(bound)-1] {
		sel *= stats.selectivity(typeName, p.Field)
	}
	var children []*Plan
	for _, v := range last.Values {
		if err := e.count("IndexScan:" + idx.Name); err != nil {
			return nil, err
		}
		leafSel := sel * stats.selectivity(typeName, last.Field)
		cost := leafSel * float64(stats.cardinality(typeName))
		children = append(children, &Plan{Op: OpIdxScan, Cost: cost, IndexName: idx.Name, BoundField: last.Field, BoundValue: v})
	}
	total := 0.0
	for _, c := range children {
		total += c.Cost
	}
	plan := &Plan{Op: OpINUnion, Cost: total, Children: children}
	if limit > 0 {
		plan.Limit = limit
	}
	return plan, nil
}

func residualAfter(all []Predicate, bound []Predicate) []Predicate {
	used := make(map[string]bool, len(bound))
	for _, p := range bound {
		used[p.Field] = true
	}
	var out []Predicate
	for _, p := range all {
		if !used[p.Field] {
			out = append(out, p)
		}
	}
	return out
}

// providesOrder reports whether plan's leading IndexScan already
// delivers rows in the requested sort order — true only for the
// simple case of a single-field IndexScan on the sort's leading field,
// which is the only ordering guarantee this planner's index layouts
// make (scalar index entries are lexicographically ordered by bound
// value within the subspace).
func providesOrder(plan *Plan, sortBy []SortKey) bool {
	if plan.Op != OpIdxScan || len(sortBy) != 1 {
		return false
	}
	return plan.BoundField == sortBy[0].Field && !sortBy[0].Desc
}
