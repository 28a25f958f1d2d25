package kvengine

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/amandb/recordkv/internal/errs"
)

// MemEngine is an in-memory Engine backed by a sorted map, guarded by a
// single RWMutex. It gives every index maintainer and the planner a
// fast, dependency-free Engine to test against; it is not meant for
// production persistence (see BboltEngine for that).
//
// Transactions are optimistic: each transaction records the keys it
// read and the version of the store at BeginTransaction time; Commit
// fails with a Conflict error if any read key has been written by
// another transaction since. Writes are buffered locally and applied
// atomically at Commit.
type MemEngine struct {
	mu      sync.RWMutex
	data    map[string][]byte
	version int64 // monotone, bumped on every commit
	// writeVersions tracks, per key, the version of the last commit that
	// touched it, so concurrent-conflict detection doesn't need to scan
	// the whole keyspace.
	writeVersions map[string]int64
}

// NewMemEngine creates an empty in-memory engine.
func NewMemEngine() *MemEngine {
	return &MemEngine{
		data:          make(map[string][]byte),
		writeVersions: make(map[string]int64),
	}
}

func (e *MemEngine) Close() error { return nil }

func (e *MemEngine) BeginTransaction(ctx context.Context) (Transaction, error) {
	e.mu.RLock()
	startVersion := e.version
	e.mu.RUnlock()

	return &memTransaction{
		engine:       e,
		startVersion: startVersion,
		reads:        make(map[string]struct{}),
		writes:       make(map[string]*memWrite),
		rangeReads:   nil,
	}, nil
}

type memWrite struct {
	cleared bool
	value   []byte
	atomics []atomicOp
}

type atomicOp struct {
	op      MutationType
	operand []byte
}

type memTransaction struct {
	engine       *MemEngine
	startVersion int64
	readVersion  int64
	hasReadVer   bool
	committedVer int64

	mu         sync.Mutex
	reads      map[string]struct{}
	rangeReads []rangeRead
	writes     map[string]*memWrite
	clearedRng []rangeClear
	cancelled  bool
}

type rangeRead struct{ begin, end []byte }
type rangeClear struct{ begin, end []byte }

func (t *memTransaction) Get(ctx context.Context, key []byte) ([]byte, error) {
	t.mu.Lock()
	t.reads[string(key)] = struct{}{}
	if w, ok := t.writes[string(key)]; ok {
		t.mu.Unlock()
		if w.cleared {
			return nil, nil
		}
		if len(w.atomics) == 0 {
			return append([]byte(nil), w.value...), nil
		}
		val := w.value
		if val == nil {
			t.engine.mu.RLock()
			val = t.engine.data[string(key)]
			t.engine.mu.RUnlock()
		}
		for _, a := range w.atomics {
			val = applyAtomic(val, a.op, a.operand)
		}
		return append([]byte(nil), val...), nil
	}
	t.mu.Unlock()

	t.engine.mu.RLock()
	defer t.engine.mu.RUnlock()
	v, ok := t.engine.data[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (t *memTransaction) GetRange(ctx context.Context, begin, end []byte, opts RangeOptions) (RangeResult, error) {
	t.mu.Lock()
	t.rangeReads = append(t.rangeReads, rangeRead{begin: begin, end: end})
	t.mu.Unlock()

	t.engine.mu.RLock()
	keys := make([]string, 0, len(t.engine.data))
	for k := range t.engine.data {
		kb := []byte(k)
		if inRange(kb, begin, end) {
			keys = append(keys, k)
		}
	}
	t.engine.mu.RUnlock()

	t.mu.Lock()
	for k, w := range t.writes {
		kb := []byte(k)
		if !inRange(kb, begin, end) {
			continue
		}
		found := false
		for i, existing := range keys {
			if existing == k {
				found = true
				if w.cleared {
					keys = append(keys[:i], keys[i+1:]...)
				}
				break
			}
		}
		if !found && !w.cleared {
			keys = append(keys, k)
		}
	}
	t.mu.Unlock()

	sort.Strings(keys)
	if opts.Reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}

	out := make([]KV, 0, len(keys))
	for _, k := range keys {
		val, err := t.Get(ctx, []byte(k))
		if err != nil {
			return RangeResult{}, err
		}
		out = append(out, KV{Key: []byte(k), Value: val})
	}
	return RangeResult{KVs: out}, nil
}

func inRange(key, begin, end []byte) bool {
	if begin != nil && bytes.Compare(key, begin) < 0 {
		return false
	}
	if end != nil && bytes.Compare(key, end) >= 0 {
		return false
	}
	return true
}

func (t *memTransaction) Set(key, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := append([]byte(nil), value...)
	t.writes[string(key)] = &memWrite{value: cp}
}

func (t *memTransaction) Clear(key []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes[string(key)] = &memWrite{cleared: true}
}

func (t *memTransaction) ClearRange(begin, end []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearedRng = append(t.clearedRng, rangeClear{begin: begin, end: end})
}

func (t *memTransaction) Atomic(key []byte, op MutationType, operand []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.writes[string(key)]
	if !ok {
		w = &memWrite{}
		t.writes[string(key)] = w
	}
	w.atomics = append(w.atomics, atomicOp{op: op, operand: append([]byte(nil), operand...)})
}

func (t *memTransaction) SetVersionstampedKey(keyWithPlaceholder []byte, placeholderOffset int, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := append([]byte(nil), keyWithPlaceholder...)
	binary.BigEndian.PutUint64(key[placeholderOffset:], uint64(t.startVersion))
	binary.BigEndian.PutUint16(key[placeholderOffset+8:], 0)
	t.writes[string(key)] = &memWrite{value: append([]byte(nil), value...)}
}

func (t *memTransaction) SetVersionstampedValue(key []byte, valueWithPlaceholder []byte, placeholderOffset int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	val := append([]byte(nil), valueWithPlaceholder...)
	binary.BigEndian.PutUint64(val[placeholderOffset:], uint64(t.startVersion))
	binary.BigEndian.PutUint16(val[placeholderOffset+8:], 0)
	t.writes[string(key)] = &memWrite{value: val}
}

func (t *memTransaction) GetReadVersion(ctx context.Context) (int64, error) {
	if t.hasReadVer {
		return t.readVersion, nil
	}
	return t.startVersion, nil
}

func (t *memTransaction) SetReadVersion(v int64) {
	t.readVersion = v
	t.hasReadVer = true
	t.startVersion = v
}

func (t *memTransaction) GetCommittedVersion() (int64, error) {
	return t.committedVer, nil
}

func (t *memTransaction) ApproximateSize() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var size int64
	for k, w := range t.writes {
		size += int64(len(k)) + int64(len(w.value))
	}
	return size, nil
}

func (t *memTransaction) GetEstimatedRangeSizeBytes(ctx context.Context, begin, end []byte) (int64, error) {
	t.engine.mu.RLock()
	defer t.engine.mu.RUnlock()
	var size int64
	for k, v := range t.engine.data {
		if inRange([]byte(k), begin, end) {
			size += int64(len(k)) + int64(len(v))
		}
	}
	return size, nil
}

func (t *memTransaction) GetRangeSplitPoints(ctx context.Context, begin, end []byte, chunkSizeBytes int64) ([][]byte, error) {
	res, err := t.GetRange(ctx, begin, end, RangeOptions{})
	if err != nil {
		return nil, err
	}
	var points [][]byte
	var acc int64
	for _, kv := range res.KVs {
		acc += int64(len(kv.Key)) + int64(len(kv.Value))
		if acc >= chunkSizeBytes {
			points = append(points, kv.Key)
			acc = 0
		}
	}
	return points, nil
}

func (t *memTransaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return errs.New(errs.Internal, "commit called on cancelled transaction")
	}

	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	// Conflict detection: any key this transaction read (point or
	// range) must not have been written by a commit that happened after
	// this transaction started.
	for k := range t.reads {
		if wv, ok := t.engine.writeVersions[k]; ok && wv > t.startVersion {
			return errs.New(errs.Conflict, "read-write conflict on key").WithDetail("key", k)
		}
	}
	for _, rr := range t.rangeReads {
		for k, wv := range t.engine.writeVersions {
			if wv > t.startVersion && inRange([]byte(k), rr.begin, rr.end) {
				return errs.New(errs.Conflict, "read-write conflict on range")
			}
		}
	}

	newVersion := t.engine.version + 1

	for _, rc := range t.clearedRng {
		for k := range t.engine.data {
			if inRange([]byte(k), rc.begin, rc.end) {
				delete(t.engine.data, k)
				t.engine.writeVersions[k] = newVersion
			}
		}
	}

	for k, w := range t.writes {
		if w.cleared {
			delete(t.engine.data, k)
			t.engine.writeVersions[k] = newVersion
			continue
		}
		val := w.value
		if val == nil {
			val = t.engine.data[k]
		}
		for _, a := range w.atomics {
			val = applyAtomic(val, a.op, a.operand)
		}
		t.engine.data[k] = val
		t.engine.writeVersions[k] = newVersion
	}

	t.engine.version = newVersion
	t.committedVer = newVersion
	return nil
}

func (t *memTransaction) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

// applyAtomic implements spec.md §6's mutators with the §6 counter
// encoding: Add is little-endian i64; Min/Max/ByteMin/ByteMax compare
// lexicographically (big-endian for (score,tieBreaker) pairs).
func applyAtomic(existing []byte, op MutationType, operand []byte) []byte {
	switch op {
	case MutationAdd:
		var cur int64
		if len(existing) == 8 {
			cur = int64(binary.LittleEndian.Uint64(existing))
		}
		var delta int64
		if len(operand) == 8 {
			delta = int64(binary.LittleEndian.Uint64(operand))
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, uint64(cur+delta))
		return out
	case MutationMin, MutationByteMin:
		if existing == nil || bytes.Compare(operand, existing) < 0 {
			return append([]byte(nil), operand...)
		}
		return existing
	case MutationMax, MutationByteMax:
		if existing == nil || bytes.Compare(operand, existing) > 0 {
			return append([]byte(nil), operand...)
		}
		return existing
	default:
		return existing
	}
}
