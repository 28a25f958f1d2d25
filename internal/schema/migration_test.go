package schema

import (
	"context"
	"testing"

	"github.com/amandb/recordkv/internal/config"
	"github.com/amandb/recordkv/internal/envelope"
	"github.com/amandb/recordkv/internal/index"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/store"
	"github.com/amandb/recordkv/internal/tuple"
	"github.com/amandb/recordkv/internal/txn"
	"github.com/stretchr/testify/require"
)

func pkName(it record.Item) []any {
	v, _ := it.Field("name")
	return []any{v.Str}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	engine := kvengine.NewMemEngine()
	root := tuple.NewSubspace("test")
	transformer := envelope.NewTransformer(envelope.CompressorNone, false, nil)
	s := store.New(root, engine, transformer, nil)
	s.RegisterType(record.ItemType{Name: "user", PrimaryKey: pkName})
	return s
}

// TestMigrateIfNeeded_V1ToV3 follows spec.md §8's "Migration v1→v3"
// scenario: v1 seed items with no `age` field or index; v2 adds the
// `age` index (lightweight); v3 fills `displayName` from `name` where
// empty (custom). After migration every item has a non-empty
// displayName, the age index is readable, and the stored format
// version is v3.
func TestMigrateIfNeeded_V1ToV3(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Seed 10 v1 items, half already carrying a displayName.
	for i := 0; i < 10; i++ {
		name := "user" + string(rune('A'+i))
		fields := map[string]record.Value{"name": record.String(name)}
		if i%2 == 0 {
			fields["displayName"] = record.String("Existing " + name)
		}
		require.NoError(t, s.Insert(ctx, record.Item{TypeName: "user", Fields: fields}))
	}

	ageDesc := record.IndexDescriptor{Name: "user_age", Kind: record.IndexScalar, Fields: []string{"age"}}
	ageMaintainer := index.NewScalarMaintainer(s.Root(), ageDesc, pkName)

	plan := Plan{
		{
			From: Version{1, 0, 0}, To: Version{2, 0, 0},
			Kind:         StageLightweight,
			IndexChanges: []IndexStateChange{{Maintainer: ageMaintainer, State: index.StateReadable}},
		},
		{
			From: Version{2, 0, 0}, To: Version{3, 0, 0},
			Kind: StageCustom,
			Custom: func(ctx context.Context, mc *MigrationContext) error {
				_, err := mc.MigrateItems(ctx, "user", 4, func(item record.Item) (*record.Item, error) {
					dn, ok := item.Field("displayName")
					if ok && dn.Present && dn.Str != "" {
						return nil, nil
					}
					name, _ := item.Field("name")
					next := item
					next.Fields = cloneFields(item.Fields)
					next.Fields["displayName"] = record.String(name.Str)
					return &next, nil
				})
				return err
			},
		},
	}

	eng := NewEngine(s, Version{3, 0, 0}, config.DefaultOnlineBuildConfig())
	require.NoError(t, eng.MigrateIfNeeded(ctx, plan, &Schema{Types: []TypeSchema{{Name: "user", Indexes: []string{"user_age"}}}}))

	// Every item now has a non-empty displayName.
	require.NoError(t, txn.Run(ctx, s.Runner(), txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		itemSub := s.ItemSubspace("user")
		res, err := tx.GetRange(ctx, itemSub.Bytes(), itemSub.PrefixEnd(), kvengine.RangeOptions{Limit: 100})
		require.NoError(t, err)
		require.Len(t, res.KVs, 10)
		for _, kv := range res.KVs {
			item, err := s.ReadAt(ctx, tx, kv.Key)
			require.NoError(t, err)
			require.NotNil(t, item)
			dn, ok := item.Field("displayName")
			require.True(t, ok)
			require.NotEmpty(t, dn.Str)
		}
		return nil
	}))

	// Age index is readable.
	require.NoError(t, txn.Run(ctx, s.Runner(), txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		st, err := ageMaintainer.State(ctx, tx)
		require.NoError(t, err)
		require.Equal(t, index.StateReadable, st)
		return nil
	}))

	// Stored format version is v3.
	require.NoError(t, txn.Run(ctx, s.Runner(), txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		v, err := GetFormatVersion(ctx, tx, s.Root())
		require.NoError(t, err)
		require.Equal(t, Version{3, 0, 0}, v)
		return nil
	}))
}

func cloneFields(in map[string]record.Value) map[string]record.Value {
	out := make(map[string]record.Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// TestMigrateIfNeeded_FailureLeavesVersionUnchanged verifies spec.md
// §4.12's "a migration failure leaves the version unchanged" contract.
func TestMigrateIfNeeded_FailureLeavesVersionUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	plan := Plan{
		{
			From: Version{1, 0, 0}, To: Version{2, 0, 0},
			Kind: StageCustom,
			Custom: func(ctx context.Context, mc *MigrationContext) error {
				return errTestStage
			},
		},
	}

	eng := NewEngine(s, Version{2, 0, 0}, config.DefaultOnlineBuildConfig())
	err := eng.MigrateIfNeeded(ctx, plan, nil)
	require.Error(t, err)

	require.NoError(t, txn.Run(ctx, s.Runner(), txn.DefaultConfig(), nil, nil, func(ctx context.Context, tx kvengine.Transaction) error {
		v, err := GetFormatVersion(ctx, tx, s.Root())
		require.NoError(t, err)
		require.Equal(t, Version{}, v)
		return nil
	}))
}

type testStageError string

func (e testStageError) Error() string { return string(e) }

var errTestStage = testStageError("stage failed deliberately")

func TestVersion_Compare(t *testing.T) {
	require.Equal(t, -1, Version{1, 0, 0}.Compare(Version{1, 1, 0}))
	require.Equal(t, 0, Version{1, 2, 3}.Compare(Version{1, 2, 3}))
	require.Equal(t, 1, Version{2, 0, 0}.Compare(Version{1, 9, 9}))
}

func TestRequireCompatible(t *testing.T) {
	require.NoError(t, RequireCompatible(Version{1, 5, 0}, Version{1, 0, 0}))
	err := RequireCompatible(Version{2, 0, 0}, Version{1, 0, 0})
	require.Error(t, err)
}
