package schema

import (
	"context"
	"testing"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/tuple"
	"github.com/stretchr/testify/require"
)

func TestFormatVersion_RoundTrip(t *testing.T) {
	ctx := context.Background()
	engine := kvengine.NewMemEngine()
	root := tuple.NewSubspace("test")

	tx, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)
	v, err := GetFormatVersion(ctx, tx, root)
	require.NoError(t, err)
	require.Equal(t, Version{}, v)
	tx.Cancel()

	tx, err = engine.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, PutFormatVersion(tx, root, Version{1, 2, 3}))
	require.NoError(t, tx.Commit(ctx))

	tx, err = engine.BeginTransaction(ctx)
	require.NoError(t, err)
	v, err = GetFormatVersion(ctx, tx, root)
	require.NoError(t, err)
	require.Equal(t, Version{1, 2, 3}, v)
	tx.Cancel()
}

func TestSchema_HasIndex(t *testing.T) {
	s := Schema{
		Version: Version{1, 0, 0},
		Types: []TypeSchema{
			{Name: "user", Indexes: []string{"user_email", "user_age"}},
		},
	}
	require.True(t, s.HasIndex("user", "user_email"))
	require.False(t, s.HasIndex("user", "user_phone"))
	require.False(t, s.HasIndex("missingType", "user_email"))
}
