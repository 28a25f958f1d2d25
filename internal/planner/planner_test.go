package planner

import (
	"context"
	"testing"

	"github.com/amandb/recordkv/internal/record"
	"github.com/stretchr/testify/require"
)

func field(name string, op Op, v record.Value) Predicate {
	return Predicate{Field: name, Op: op, Value: v}
}

func TestCompile_SeqScanWhenNoIndexCovers(t *testing.T) {
	q := Query{TypeName: "user"}
	stats := NewStatistics()
	stats.Refresh("user", 500, nil)

	plan, err := Compile(q, IndexCatalog{}, stats, Limits{})
	require.NoError(t, err)
	require.Equal(t, OpSeqScan, plan.Op)
}

func TestCompile_PrefersIndexScanOverSeqScan(t *testing.T) {
	idx := record.IndexDescriptor{Name: "user_email", Kind: record.IndexScalar, Fields: []string{"email"}}
	q := Query{
		TypeName: "user",
		Filters:  []Predicate{field("email", OpEq, record.String("a@example.com"))},
	}
	stats := NewStatistics()
	stats.Refresh("user", 10000, map[string]int64{"email": 10000})

	plan, err := Compile(q, IndexCatalog{Indexes: []record.IndexDescriptor{idx}}, stats, Limits{})
	require.NoError(t, err)
	require.Equal(t, OpIdxScan, plan.Op)
	require.Equal(t, "user_email", plan.IndexName)
	require.Equal(t, "email", plan.BoundField)
}

func TestCompile_ResidualFiltersWrapChosenPlan(t *testing.T) {
	idx := record.IndexDescriptor{Name: "user_email", Kind: record.IndexScalar, Fields: []string{"email"}}
	q := Query{
		TypeName: "user",
		Filters: []Predicate{
			field("email", OpEq, record.String("a@example.com")),
			field("age", OpGte, record.Int(18)),
		},
	}
	stats := NewStatistics()
	stats.Refresh("user", 10000, map[string]int64{"email": 10000})

	plan, err := Compile(q, IndexCatalog{Indexes: []record.IndexDescriptor{idx}}, stats, Limits{})
	require.NoError(t, err)
	require.Equal(t, OpFilter, plan.Op)
	require.Len(t, plan.Residual, 1)
	require.Equal(t, "age", plan.Residual[0].Field)
	require.Equal(t, OpIdxScan, plan.Children[0].Op)
}

func TestCompile_SortWrapsWhenIndexDoesNotProvideOrder(t *testing.T) {
	q := Query{
		TypeName: "user",
		OrderBy:  []SortKey{{Field: "name"}},
	}
	stats := NewStatistics()
	plan, err := Compile(q, IndexCatalog{}, stats, Limits{})
	require.NoError(t, err)
	require.Equal(t, OpSort, plan.Op)
	require.Equal(t, OpSeqScan, plan.Children[0].Op)
}

func TestCompile_InSplitsJoinVsUnionByThreshold(t *testing.T) {
	idx := record.IndexDescriptor{Name: "user_status", Kind: record.IndexScalar, Fields: []string{"status"}}
	stats := NewStatistics()
	stats.Refresh("user", 1000, map[string]int64{"status": 5})

	small := Query{TypeName: "user", Filters: []Predicate{
		{Field: "status", Op: OpIn, Values: []record.Value{record.String("a"), record.String("b")}},
	}}
	plan, err := Compile(small, IndexCatalog{Indexes: []record.IndexDescriptor{idx}}, stats, Limits{InJoinThreshold: 20})
	require.NoError(t, err)
	require.Equal(t, OpINJoin, plan.Op)
	require.Len(t, plan.Children, 2)

	big := Query{TypeName: "user", Filters: []Predicate{
		{Field: "status", Op: OpIn, Values: []record.Value{record.String("a"), record.String("b"), record.String("c")}},
	}}
	plan, err = Compile(big, IndexCatalog{Indexes: []record.IndexDescriptor{idx}}, stats, Limits{InJoinThreshold: 2})
	require.NoError(t, err)
	require.Equal(t, OpINUnion, plan.Op)
	require.Len(t, plan.Children, 3)
}

func TestCompile_PlanComplexityExceeded(t *testing.T) {
	idx := record.IndexDescriptor{Name: "user_status", Kind: record.IndexScalar, Fields: []string{"status"}}
	q := Query{TypeName: "user", Filters: []Predicate{
		{Field: "status", Op: OpIn, Values: []record.Value{record.String("a"), record.String("b"), record.String("c")}},
	}}
	stats := NewStatistics()
	_, err := Compile(q, IndexCatalog{Indexes: []record.IndexDescriptor{idx}}, stats, Limits{MaxPlanEnumerations: 1, InJoinThreshold: 20})
	require.Error(t, err)
}

func TestLimitOffsetCursor_SkipsThenLimits(t *testing.T) {
	items := []*record.Item{
		{TypeName: "user", Fields: map[string]record.Value{"name": record.String("a")}},
		{TypeName: "user", Fields: map[string]record.Value{"name": record.String("b")}},
		{TypeName: "user", Fields: map[string]record.Value{"name": record.String("c")}},
		{TypeName: "user", Fields: map[string]record.Value{"name": record.String("d")}},
	}
	child := &sliceCursor{items: items}
	cur := &limitOffsetCursor{child: child, limit: 2, offset: 1}

	ctx := context.Background()
	var got []string
	for {
		item, stop, err := cur.Next(ctx)
		require.NoError(t, err)
		if item != nil {
			v, _ := item.Field("name")
			got = append(got, v.Str)
		}
		if stop != StopNone {
			require.Equal(t, StopReturnLimit, stop)
			break
		}
	}
	require.Equal(t, []string{"b", "c"}, got)
}

func TestDedupUnionCursor_DedupsAcrossChildren(t *testing.T) {
	mk := func(name string) *record.Item {
		return &record.Item{TypeName: "user", Fields: map[string]record.Value{"name": record.String(name)}}
	}
	c1 := &sliceCursor{items: []*record.Item{mk("a"), mk("b")}}
	c2 := &sliceCursor{items: []*record.Item{mk("b"), mk("c")}}
	cur := &dedupUnionCursor{children: []Cursor{c1, c2}}

	ctx := context.Background()
	var got []string
	for {
		item, stop, err := cur.Next(ctx)
		require.NoError(t, err)
		if item != nil {
			v, _ := item.Field("name")
			got = append(got, v.Str)
		}
		if stop != StopNone {
			require.Equal(t, StopSourceExhausted, stop)
			break
		}
	}
	require.ElementsMatch(t, []string{"a", "b", "c"}, got)
	require.Len(t, got, 3)
}

// sliceCursor is a test-only Cursor that replays a fixed item slice,
// returning StopSourceExhausted together with the last item.
type sliceCursor struct {
	items []*record.Item
	pos   int
}

func (c *sliceCursor) Next(ctx context.Context) (*record.Item, StopReason, error) {
	if c.pos >= len(c.items) {
		return nil, StopSourceExhausted, nil
	}
	item := c.items[c.pos]
	c.pos++
	if c.pos >= len(c.items) {
		return item, StopSourceExhausted, nil
	}
	return item, StopNone, nil
}
