package index

import (
	"context"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/record"
	"github.com/amandb/recordkv/internal/tuple"
)

// VersionMaintainer lays out I/<name>/<versionstamp> → primary key,
// per spec.md §2's "version" maintainer and §6's versionstamped-key
// contract. Every insert or update appends a new entry keyed by the
// transaction's own commit version, so a reader can range-scan the
// subspace to enumerate changes in commit order — a change-data-capture
// index rather than a value lookup.
//
// The versionstamp placeholder is appended directly after the
// subspace prefix rather than through Tuple.Pack, because tuple
// encoding escapes embedded 0x00 bytes (see internal/tuple) which
// would shift the placeholder's byte offset unpredictably; the KV
// engine's SetVersionstampedKey contract needs a fixed, known offset.
type VersionMaintainer struct {
	root tuple.Subspace
	desc record.IndexDescriptor
	pk   record.PrimaryKeyFunc
}

func NewVersionMaintainer(root tuple.Subspace, desc record.IndexDescriptor, pk record.PrimaryKeyFunc) *VersionMaintainer {
	return &VersionMaintainer{root: root, desc: desc, pk: pk}
}

func (m *VersionMaintainer) Name() string           { return m.desc.Name }
func (m *VersionMaintainer) Kind() record.IndexKind  { return m.desc.Kind }

func (m *VersionMaintainer) subspace() tuple.Subspace { return m.root.Sub("I", m.desc.Name) }

// IndexKeys is a no-op: the key depends on the commit's own versionstamp,
// which doesn't exist until Update places the placeholder in the
// transaction, so it can't be derived from the item alone.
func (m *VersionMaintainer) IndexKeys(record.Item) ([]KV, error) { return nil, nil }

func (m *VersionMaintainer) Update(ctx context.Context, tx kvengine.Transaction, old, next *record.Item) error {
	if next == nil {
		// Delete: prior history entries are left as a durable record of
		// past states; there is no forward versionstamp entry to add.
		return nil
	}
	pk := m.pk(*next)
	prefix := m.subspace().Bytes()
	key := make([]byte, len(prefix), len(prefix)+10)
	copy(key, prefix)
	key = append(key, versionstampPlaceholder()...)
	tx.SetVersionstampedKey(key, len(prefix), tuple.Tuple(pk).Pack())
	return nil
}

// versionstampPlaceholder returns the conventional all-0xFF 10-byte
// marker spec.md §6 describes as substituted at commit time.
func versionstampPlaceholder() []byte {
	p := make([]byte, 10)
	for i := range p {
		p[i] = 0xFF
	}
	return p
}

func (m *VersionMaintainer) State(ctx context.Context, tx kvengine.Transaction) (State, error) {
	return getState(ctx, tx, m.root, m.desc.Name)
}

func (m *VersionMaintainer) SetState(ctx context.Context, tx kvengine.Transaction, s State) error {
	return setState(ctx, tx, m.root, m.desc.Name, s)
}

// RecentChanges range-scans the version subspace in commit order,
// returning the primary-key tuples of items changed at or after
// sinceVersionstamp (nil scans from the beginning).
func (m *VersionMaintainer) RecentChanges(ctx context.Context, tx kvengine.Transaction, sinceVersionstamp []byte, limit int) ([]tuple.Tuple, error) {
	sub := m.subspace()
	begin := sub.Bytes()
	if len(sinceVersionstamp) > 0 {
		begin = append(append([]byte(nil), sub.Bytes()...), sinceVersionstamp...)
	}
	res, err := tx.GetRange(ctx, begin, sub.PrefixEnd(), kvengine.RangeOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]tuple.Tuple, 0, len(res.KVs))
	for _, kv := range res.KVs {
		pk, err := tuple.Unpack(kv.Value)
		if err != nil {
			continue
		}
		out = append(out, pk)
	}
	return out, nil
}
