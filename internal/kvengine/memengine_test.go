package kvengine

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/amandb/recordkv/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemEngine_SetThenGet_RoundTrips(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()

	txn, err := e.BeginTransaction(ctx)
	require.NoError(t, err)
	txn.Set([]byte("k1"), []byte("v1"))
	require.NoError(t, txn.Commit(ctx))

	txn2, err := e.BeginTransaction(ctx)
	require.NoError(t, err)
	v, err := txn2.Get(ctx, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
}

func TestMemEngine_Commit_ConflictsOnConcurrentWrite(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()

	seed, _ := e.BeginTransaction(ctx)
	seed.Set([]byte("k1"), []byte("v0"))
	require.NoError(t, seed.Commit(ctx))

	txnA, _ := e.BeginTransaction(ctx)
	_, err := txnA.Get(ctx, []byte("k1"))
	require.NoError(t, err)

	txnB, _ := e.BeginTransaction(ctx)
	txnB.Set([]byte("k1"), []byte("v-from-b"))
	require.NoError(t, txnB.Commit(ctx))

	txnA.Set([]byte("k1"), []byte("v-from-a"))
	err = txnA.Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestMemEngine_Commit_NoConflictWhenNoOverlap(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()

	txnA, _ := e.BeginTransaction(ctx)
	_, err := txnA.Get(ctx, []byte("k1"))
	require.NoError(t, err)

	txnB, _ := e.BeginTransaction(ctx)
	txnB.Set([]byte("k2"), []byte("v"))
	require.NoError(t, txnB.Commit(ctx))

	txnA.Set([]byte("k1"), []byte("v"))
	assert.NoError(t, txnA.Commit(ctx))
}

func TestMemEngine_GetRange_ReflectsLocalWritesAndOrdering(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()

	seed, _ := e.BeginTransaction(ctx)
	seed.Set([]byte("a"), []byte("1"))
	seed.Set([]byte("c"), []byte("3"))
	require.NoError(t, seed.Commit(ctx))

	txn, _ := e.BeginTransaction(ctx)
	txn.Set([]byte("b"), []byte("2"))

	res, err := txn.GetRange(ctx, []byte("a"), []byte("z"), RangeOptions{})
	require.NoError(t, err)
	require.Len(t, res.KVs, 3)
	assert.Equal(t, "a", string(res.KVs[0].Key))
	assert.Equal(t, "b", string(res.KVs[1].Key))
	assert.Equal(t, "c", string(res.KVs[2].Key))
}

func TestMemEngine_Atomic_Add(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()

	delta := make([]byte, 8)
	binary.LittleEndian.PutUint64(delta, uint64(int64(5)))

	txn, _ := e.BeginTransaction(ctx)
	txn.Atomic([]byte("counter"), MutationAdd, delta)
	require.NoError(t, txn.Commit(ctx))

	txn2, _ := e.BeginTransaction(ctx)
	txn2.Atomic([]byte("counter"), MutationAdd, delta)
	require.NoError(t, txn2.Commit(ctx))

	txn3, _ := e.BeginTransaction(ctx)
	v, err := txn3.Get(ctx, []byte("counter"))
	require.NoError(t, err)
	require.Len(t, v, 8)
	assert.Equal(t, int64(10), int64(binary.LittleEndian.Uint64(v)))
}

func TestMemEngine_Atomic_MaxKeepsLargestOperand(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()

	low := []byte{0, 0, 0, 5}
	high := []byte{0, 0, 0, 9}

	txn, _ := e.BeginTransaction(ctx)
	txn.Atomic([]byte("hi"), MutationMax, high)
	txn.Atomic([]byte("hi"), MutationMax, low)
	require.NoError(t, txn.Commit(ctx))

	txn2, _ := e.BeginTransaction(ctx)
	v, err := txn2.Get(ctx, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, high, v)
}

func TestMemEngine_ClearRange_RemovesCommittedKeys(t *testing.T) {
	e := NewMemEngine()
	ctx := context.Background()

	seed, _ := e.BeginTransaction(ctx)
	seed.Set([]byte("a"), []byte("1"))
	seed.Set([]byte("b"), []byte("2"))
	require.NoError(t, seed.Commit(ctx))

	txn, _ := e.BeginTransaction(ctx)
	txn.ClearRange([]byte("a"), []byte("z"))
	require.NoError(t, txn.Commit(ctx))

	txn2, _ := e.BeginTransaction(ctx)
	res, err := txn2.GetRange(ctx, []byte("a"), []byte("z"), RangeOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.KVs)
}

func TestSelectStreamingMode(t *testing.T) {
	assert.Equal(t, ModeSmall, SelectStreamingMode(0, 0, true))
	assert.Equal(t, ModeExact, SelectStreamingMode(50, 0, false))
	assert.Equal(t, ModeSerial, SelectStreamingMode(0, 20_000, false))
	assert.Equal(t, ModeWantAll, SelectStreamingMode(0, 0, false))
	assert.Equal(t, ModeIterator, SelectStreamingMode(500, 100, false))
}
