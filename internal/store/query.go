package store

import (
	"context"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/planner"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/txn"
)

// Fetch compiles query via the planner and executes it to completion,
// per spec.md §4.2: `fetch(query) → [item]`. evaluateList runs before
// execution, as the EvaluateList hook on s.security.
//
// cat, stats and planLimits are the caller's planner configuration
// (the query layer doesn't own a single global catalog/statistics
// table, since those are type-scoped and usually owned by whatever
// wires the store together).
func (s *Store) Fetch(ctx context.Context, q planner.Query, limits planner.QueryLimits, cat planner.IndexCatalog, stats *planner.Statistics, planLimits planner.Limits) ([]*record.Item, planner.StopReason, error) {
	tb, err := s.binding(q.TypeName)
	if err != nil {
		return nil, planner.StopNone, err
	}
	orderFields := make([]string, len(q.OrderBy))
	for i, k := range q.OrderBy {
		orderFields[i] = k.Field
	}
	if err := s.security.EvaluateList(ctx, q.TypeName, q.Limit, q.Offset, orderFields); err != nil {
		return nil, planner.StopNone, err
	}

	plan, err := planner.Compile(q, cat, stats, planLimits)
	if err != nil {
		return nil, planner.StopNone, err
	}

	var items []*record.Item
	var stop planner.StopReason
	err = txn.Run(ctx, s.runner, txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		ex := &planner.Exec{
			Tx:       tx,
			Root:     s.root,
			TypeName: q.TypeName,
			Registry: tb.registry,
			ReadAt:   s.readByKey,
			ItemSub:  s.ItemSubspace(q.TypeName),
		}
		out, s2, e := ex.Run(ctx, plan, limits)
		items, stop = out, s2
		return e
	})
	return items, stop, err
}

// FetchCursor returns a live Cursor instead of materializing results,
// for callers that want to pull items incrementally within their own transaction rather than through
// the store's own per-call transaction.
func (s *Store) FetchCursor(tx kvengine.Transaction, typeName string, plan *planner.Plan) (planner.Cursor, error) {
	tb, err := s.binding(typeName)
	if err != nil {
		return nil, err
	}
	ex := &planner.Exec{
		Tx:       tx,
		Root:     s.root,
		TypeName: typeName,
		Registry: tb.registry,
		ReadAt:   s.readByKey,
		ItemSub:  s.ItemSubspace(typeName),
	}
	return ex.Build(plan, planner.QueryLimits{})
}
