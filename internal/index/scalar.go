package index

import (
	"context"

	"github.com/amandb/recordkv/internal/errs"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
)

// ScalarMaintainer lays out I/<name>/<field1>/.../<id> → 0x00, per
// spec.md §4.4. It also implements relationship indexes, which share
// this layout; their OnDelete rule is not enforced by this maintainer
// or by the store's delete path.
type ScalarMaintainer struct {
	root tuple.Subspace
	desc record.IndexDescriptor
	pk   record.PrimaryKeyFunc
}

func NewScalarMaintainer(root tuple.Subspace, desc record.IndexDescriptor, pk record.PrimaryKeyFunc) *ScalarMaintainer {
	return &ScalarMaintainer{root: root, desc: desc, pk: pk}
}

func (m *ScalarMaintainer) Name() string            { return m.desc.Name }
func (m *ScalarMaintainer) Kind() record.IndexKind   { return m.desc.Kind }

func (m *ScalarMaintainer) subspace() tuple.Subspace {
	return m.root.Sub("I", m.desc.Name)
}

func (m *ScalarMaintainer) IndexKeys(item record.Item) ([]KV, error) {
	t := make(tuple.Tuple, 0, len(m.desc.Fields)+len(m.pk(item)))
	for _, f := range m.desc.Fields {
		v, ok := item.Field(f)
		if !ok {
			return nil, nil // item doesn't carry this field; nothing to index
		}
		t = append(t, valueToTupleElem(v))
	}
	t = append(t, m.pk(item)...)
	return []KV{{Key: m.subspace().Pack(t), Value: []byte{0x00}}}, nil
}

func (m *ScalarMaintainer) Update(ctx context.Context, tx kvengine.Transaction, old, next *record.Item) error {
	if old != nil {
		kvs, err := m.IndexKeys(*old)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			tx.Clear(kv.Key)
		}
	}
	if next != nil {
		kvs, err := m.IndexKeys(*next)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			if m.desc.Unique {
				if err := m.checkUnique(ctx, tx, kv.Key, m.pk(*next)); err != nil {
					return err
				}
			}
			tx.Set(kv.Key, kv.Value)
		}
	}
	return nil
}

// checkUnique scans the value prefix (every key under the subspace up
// to and not including the trailing primary-key tuple) for any entry
// whose primary key differs from next's. In write-only state the
// violation is recorded instead of raised (spec.md §4.4).
func (m *ScalarMaintainer) checkUnique(ctx context.Context, tx kvengine.Transaction, fullKey []byte, pk []any) error {
	prefix := m.valuePrefix(fullKey, len(pk))
	res, err := tx.GetRange(ctx, prefix, tuple.PrefixEnd(prefix), kvengine.RangeOptions{Limit: 2})
	if err != nil {
		return err
	}
	for _, kv := range res.KVs {
		if string(kv.Key) == string(fullKey) {
			continue
		}
		state, _ := getState(ctx, tx, m.root, m.desc.Name)
		if state == StateWriteOnly {
			violKey := m.subspace().Sub("_violations").Pack(tuple.Tuple{string(fullKey)})
			tx.Set(violKey, []byte{0x00})
			return nil
		}
		return errs.New(errs.UniquenessViolation, "duplicate value for unique index").
			WithDetail("index", m.desc.Name)
	}
	return nil
}

// valuePrefix strips the trailing pkLen-element primary-key tuple from
// a packed key by reconstructing the prefix up to just the indexed
// field values, so uniqueness checks only compare on field value.
func (m *ScalarMaintainer) valuePrefix(fullKey []byte, pkLen int) []byte {
	sub := m.subspace()
	t, err := sub.Unpack(fullKey)
	if err != nil || len(t) < pkLen {
		return fullKey
	}
	fieldsOnly := t[:len(t)-pkLen]
	return sub.Pack(fieldsOnly)
}

func (m *ScalarMaintainer) State(ctx context.Context, tx kvengine.Transaction) (State, error) {
	return getState(ctx, tx, m.root, m.desc.Name)
}

func (m *ScalarMaintainer) SetState(ctx context.Context, tx kvengine.Transaction, s State) error {
	return setState(ctx, tx, m.root, m.desc.Name, s)
}

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
