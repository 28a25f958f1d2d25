package store

import (
	"context"
	"testing"

	"github.com/amandb/recordkv/internal/envelope"
	"github.com/amandb/recordkv/internal/errs"
	"github.com/amandb/recordkv/internal/index"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
	"github.com/stretchr/testify/require"
)

func userPK(it record.Item) []any {
	v, _ := it.Field("id")
	return []any{v.Str}
}

func newUserStore(t *testing.T, maintainers ...index.Maintainer) *Store {
	t.Helper()
	engine := kvengine.NewMemEngine()
	root := tuple.NewSubspace("test")
	transformer := envelope.NewTransformer(envelope.CompressorNone, false, nil)
	s := New(root, engine, transformer, nil)
	s.RegisterType(record.ItemType{Name: "user", PrimaryKey: userPK}, maintainers...)
	return s
}

func userItem(id, email string) record.Item {
	return record.Item{TypeName: "user", Fields: map[string]record.Value{
		"id":    record.String(id),
		"email": record.String(email),
	}}
}

func TestStore_InsertGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newUserStore(t)

	require.NoError(t, s.Insert(ctx, userItem("u1", "u1@example.com")))

	got, err := s.Get(ctx, Locator{TypeName: "user", PK: []any{"u1"}})
	require.NoError(t, err)
	require.NotNil(t, got)
	v, ok := got.Field("email")
	require.True(t, ok)
	require.Equal(t, "u1@example.com", v.Str)

	require.NoError(t, s.Delete(ctx, Locator{TypeName: "user", PK: []any{"u1"}}))

	got, err = s.Get(ctx, Locator{TypeName: "user", PK: []any{"u1"}})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_GetMissingReturnsNilNotError(t *testing.T) {
	ctx := context.Background()
	s := newUserStore(t)

	got, err := s.Get(ctx, Locator{TypeName: "user", PK: []any{"missing"}})
	require.NoError(t, err)
	require.Nil(t, got)
}

// TestStore_ReadYourWrite exercises spec.md §8's scalar-index
// read-your-write scenario: insert an item, then a scan of its
// non-unique scalar index must see the new entry within the very next
// transaction, with no observable lag.
func TestStore_ReadYourWrite(t *testing.T) {
	ctx := context.Background()
	root := tuple.NewSubspace("test")
	desc := record.IndexDescriptor{Name: "user_email", Kind: record.IndexScalar, Fields: []string{"email"}}
	maintainer := index.NewScalarMaintainer(root, desc, userPK)

	engine := kvengine.NewMemEngine()
	transformer := envelope.NewTransformer(envelope.CompressorNone, false, nil)
	s := New(root, engine, transformer, nil)
	s.RegisterType(record.ItemType{Name: "user", PrimaryKey: userPK, Indexes: []record.IndexDescriptor{desc}}, maintainer)

	require.NoError(t, s.Insert(ctx, userItem("u1", "dup@example.com")))

	keys, err := maintainer.IndexKeys(userItem("u1", "dup@example.com"))
	require.NoError(t, err)
	require.Len(t, keys, 1)

	tx, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)
	defer tx.Cancel()
	v, err := tx.Get(ctx, keys[0].Key)
	require.NoError(t, err)
	require.NotNil(t, v, "index entry must be visible immediately after the write that created it")
}

// TestStore_UniquenessViolation exercises spec.md §8's "uniqueness on
// concurrent inserts" scenario: two items that collide on a unique
// scalar index must not both succeed.
func TestStore_UniquenessViolation(t *testing.T) {
	ctx := context.Background()
	root := tuple.NewSubspace("test")
	desc := record.IndexDescriptor{Name: "user_email_unique", Kind: record.IndexScalar, Fields: []string{"email"}, Unique: true}
	maintainer := index.NewScalarMaintainer(root, desc, userPK)

	engine := kvengine.NewMemEngine()
	transformer := envelope.NewTransformer(envelope.CompressorNone, false, nil)
	s := New(root, engine, transformer, nil)
	s.RegisterType(record.ItemType{Name: "user", PrimaryKey: userPK, Indexes: []record.IndexDescriptor{desc}}, maintainer)

	require.NoError(t, s.Insert(ctx, userItem("u1", "dup@example.com")))

	err := s.Insert(ctx, userItem("u2", "dup@example.com"))
	require.Error(t, err)
	require.Equal(t, errs.UniquenessViolation, errs.KindOf(err))

	// The first item is still the only one that exists.
	got, err := s.Get(ctx, Locator{TypeName: "user", PK: []any{"u2"}})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestStore_UpdateReplacesFieldsAndIndexEntries(t *testing.T) {
	ctx := context.Background()
	root := tuple.NewSubspace("test")
	desc := record.IndexDescriptor{Name: "user_email", Kind: record.IndexScalar, Fields: []string{"email"}}
	maintainer := index.NewScalarMaintainer(root, desc, userPK)

	engine := kvengine.NewMemEngine()
	transformer := envelope.NewTransformer(envelope.CompressorNone, false, nil)
	s := New(root, engine, transformer, nil)
	s.RegisterType(record.ItemType{Name: "user", PrimaryKey: userPK, Indexes: []record.IndexDescriptor{desc}}, maintainer)

	require.NoError(t, s.Insert(ctx, userItem("u1", "old@example.com")))
	require.NoError(t, s.Insert(ctx, userItem("u1", "new@example.com")))

	oldKeys, err := maintainer.IndexKeys(userItem("u1", "old@example.com"))
	require.NoError(t, err)
	newKeys, err := maintainer.IndexKeys(userItem("u1", "new@example.com"))
	require.NoError(t, err)

	tx, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)
	defer tx.Cancel()

	v, err := tx.Get(ctx, oldKeys[0].Key)
	require.NoError(t, err)
	require.Nil(t, v, "stale index entry must be cleared on update")

	v, err = tx.Get(ctx, newKeys[0].Key)
	require.NoError(t, err)
	require.NotNil(t, v, "new index entry must be present after update")
}

func TestStore_SecurityDelegateDeniesGet(t *testing.T) {
	ctx := context.Background()
	engine := kvengine.NewMemEngine()
	root := tuple.NewSubspace("test")
	transformer := envelope.NewTransformer(envelope.CompressorNone, false, nil)
	s := New(root, engine, transformer, denyAllDelegate{})
	s.RegisterType(record.ItemType{Name: "user", PrimaryKey: userPK})

	_, err := s.Get(ctx, Locator{TypeName: "user", PK: []any{"u1"}})
	require.Error(t, err)
	require.Equal(t, errs.AccessDenied, errs.KindOf(err))
}

type denyAllDelegate struct{ AllowAllDelegate }

func (denyAllDelegate) EvaluateGet(context.Context, string, []any) error {
	return errs.New(errs.AccessDenied, "denied")
}
