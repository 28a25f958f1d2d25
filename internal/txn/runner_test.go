package txn

import (
	"context"
	"testing"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	events []Event
}

func (l *recordingListener) OnEvent(ev Event) { l.events = append(l.events, ev) }

func TestRun_CommitsAndNotifiesListeners(t *testing.T) {
	engine := kvengine.NewMemEngine()
	r := NewRunner(engine, nil)
	listener := &recordingListener{}
	r.AddListener(listener)

	err := Run(context.Background(), r, DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		tx.Set([]byte("k"), []byte("v"))
		return nil
	})
	require.NoError(t, err)

	var kinds []EventKind
	for _, ev := range listener.events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, EventCreated)
	assert.Contains(t, kinds, EventCommitting)
	assert.Contains(t, kinds, EventCommitted)
	assert.Contains(t, kinds, EventClosed)

	tx2, _ := engine.BeginTransaction(context.Background())
	v, err := tx2.Get(context.Background(), []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestRun_RetriesOnConflictThenSucceeds(t *testing.T) {
	engine := kvengine.NewMemEngine()
	r := NewRunner(engine, nil)

	seed, _ := engine.BeginTransaction(context.Background())
	seed.Set([]byte("k"), []byte("0"))
	require.NoError(t, seed.Commit(context.Background()))

	attempts := 0
	err := Run(context.Background(), r, DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		attempts++
		_, _ = tx.Get(ctx, []byte("k"))
		if attempts == 1 {
			// Force a conflict by committing a concurrent write to the
			// same key from a separate transaction mid-body.
			other, _ := engine.BeginTransaction(ctx)
			other.Set([]byte("k"), []byte("concurrent"))
			require.NoError(t, other.Commit(ctx))
		}
		tx.Set([]byte("k"), []byte("mine"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRun_PreCommitCheckAbortsTransaction(t *testing.T) {
	engine := kvengine.NewMemEngine()
	r := NewRunner(engine, nil)

	checkErr := assert.AnError
	preCommit := []PreCommitCheck{
		func(ctx context.Context, tx kvengine.Transaction) error { return checkErr },
	}

	cfg := DefaultConfig()
	cfg.RetryLimit = 0
	err := Run(context.Background(), r, cfg, preCommit, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		tx.Set([]byte("k"), []byte("v"))
		return nil
	})
	assert.Error(t, err)

	tx2, _ := engine.BeginTransaction(context.Background())
	v, _ := tx2.Get(context.Background(), []byte("k"))
	assert.Nil(t, v)
}

func TestRun_PostCommitHooksRunInPriorityOrder(t *testing.T) {
	engine := kvengine.NewMemEngine()
	r := NewRunner(engine, nil)

	var order []int
	hooks := []PostCommitHook{
		{Priority: 1, Run: func(ctx context.Context) error { order = append(order, 1); return nil }},
		{Priority: 5, Run: func(ctx context.Context) error { order = append(order, 5); return nil }},
		{Priority: 3, Run: func(ctx context.Context) error { order = append(order, 3); return nil }},
	}

	err := Run(context.Background(), r, DefaultConfig(), nil, hooks, func(ctx context.Context, tx kvengine.Transaction) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 3, 1}, order)
}
