package kvengine

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/amandb/recordkv/internal/errs"
	bolt "go.etcd.io/bbolt"
)

// bucketName holds every key in a single flat bucket: the store's own
// tuple/subspace encoding (internal/tuple) already gives keys a total
// order and a hierarchical prefix structure, so there is no need for
// bbolt's own nested-bucket namespacing — a single bucket scanned with
// Cursor.Seek mirrors the ordered-keyspace contract spec.md §6 requires.
var bucketName = []byte("recordkv")

// BboltEngine is the production Engine, backed by go.etcd.io/bbolt.
// Grounded on cuemby-warren's BoltStore (pkg/storage/boltdb.go): open
// the file, ensure the bucket exists, and drive everything else through
// db.Update/db.View-style transactions.
//
// bbolt serializes writers (a single writable transaction at a time)
// and gives readers a consistent MVCC snapshot, so unlike MemEngine this
// engine cannot observe a write-write Conflict — there is only ever one
// writer in flight. Atomic mutators are therefore safe to implement as
// plain read-modify-write within the single active write transaction.
type BboltEngine struct {
	db *bolt.DB
}

// OpenBboltEngine opens (creating if absent) a bbolt-backed engine at path.
func OpenBboltEngine(path string) (*BboltEngine, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "failed to open bbolt database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.Internal, "failed to create root bucket", err)
	}

	return &BboltEngine{db: db}, nil
}

func (e *BboltEngine) Close() error {
	return e.db.Close()
}

func (e *BboltEngine) BeginTransaction(ctx context.Context) (Transaction, error) {
	tx, err := e.db.Begin(true)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "failed to begin bbolt transaction", err)
	}
	return &bboltTransaction{tx: tx, bucket: tx.Bucket(bucketName)}, nil
}

type bboltTransaction struct {
	tx           *bolt.Tx
	bucket       *bolt.Bucket
	readVersion  int64
	hasReadVer   bool
	committedVer int64
}

func (t *bboltTransaction) Get(ctx context.Context, key []byte) ([]byte, error) {
	v := t.bucket.Get(key)
	if v == nil {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (t *bboltTransaction) GetRange(ctx context.Context, begin, end []byte, opts RangeOptions) (RangeResult, error) {
	c := t.bucket.Cursor()
	var kvs []KV

	step := func(k, v []byte) ([]byte, []byte) {
		if opts.Reverse {
			return c.Prev()
		}
		return c.Next()
	}

	var k, v []byte
	if opts.Reverse {
		if end != nil {
			k, v = c.Seek(end)
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		} else {
			k, v = c.Last()
		}
	} else {
		k, v = c.Seek(begin)
	}

	for k != nil {
		if !opts.Reverse && end != nil && bytes.Compare(k, end) >= 0 {
			break
		}
		if opts.Reverse && begin != nil && bytes.Compare(k, begin) < 0 {
			break
		}
		kvs = append(kvs, KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		if opts.Limit > 0 && len(kvs) >= opts.Limit {
			return RangeResult{KVs: kvs, HasMore: true, Cursor: kvs[len(kvs)-1].Key}, nil
		}
		k, v = step(k, v)
	}
	return RangeResult{KVs: kvs}, nil
}

func (t *bboltTransaction) Set(key, value []byte) {
	_ = t.bucket.Put(key, value)
}

func (t *bboltTransaction) Clear(key []byte) {
	_ = t.bucket.Delete(key)
}

func (t *bboltTransaction) ClearRange(begin, end []byte) {
	c := t.bucket.Cursor()
	var toDelete [][]byte
	for k, _ := c.Seek(begin); k != nil && (end == nil || bytes.Compare(k, end) < 0); k, _ = c.Next() {
		toDelete = append(toDelete, append([]byte(nil), k...))
	}
	for _, k := range toDelete {
		_ = t.bucket.Delete(k)
	}
}

func (t *bboltTransaction) Atomic(key []byte, op MutationType, operand []byte) {
	existing := t.bucket.Get(key)
	_ = t.bucket.Put(key, applyAtomic(existing, op, operand))
}

func (t *bboltTransaction) SetVersionstampedKey(keyWithPlaceholder []byte, placeholderOffset int, value []byte) {
	key := append([]byte(nil), keyWithPlaceholder...)
	seq, _ := t.bucket.NextSequence()
	binary.BigEndian.PutUint64(key[placeholderOffset:], seq)
	binary.BigEndian.PutUint16(key[placeholderOffset+8:], 0)
	_ = t.bucket.Put(key, value)
}

func (t *bboltTransaction) SetVersionstampedValue(key []byte, valueWithPlaceholder []byte, placeholderOffset int) {
	val := append([]byte(nil), valueWithPlaceholder...)
	seq, _ := t.bucket.NextSequence()
	binary.BigEndian.PutUint64(val[placeholderOffset:], seq)
	binary.BigEndian.PutUint16(val[placeholderOffset+8:], 0)
	_ = t.bucket.Put(key, val)
}

func (t *bboltTransaction) GetReadVersion(ctx context.Context) (int64, error) {
	if t.hasReadVer {
		return t.readVersion, nil
	}
	return int64(t.tx.ID()), nil
}

func (t *bboltTransaction) SetReadVersion(v int64) {
	t.readVersion = v
	t.hasReadVer = true
}

func (t *bboltTransaction) GetCommittedVersion() (int64, error) {
	return t.committedVer, nil
}

func (t *bboltTransaction) ApproximateSize() (int64, error) {
	return int64(t.tx.Size()), nil
}

func (t *bboltTransaction) GetEstimatedRangeSizeBytes(ctx context.Context, begin, end []byte) (int64, error) {
	res, err := t.GetRange(ctx, begin, end, RangeOptions{})
	if err != nil {
		return 0, err
	}
	var size int64
	for _, kv := range res.KVs {
		size += int64(len(kv.Key)) + int64(len(kv.Value))
	}
	return size, nil
}

func (t *bboltTransaction) GetRangeSplitPoints(ctx context.Context, begin, end []byte, chunkSizeBytes int64) ([][]byte, error) {
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

func (t *bboltTransaction) Commit(ctx context.Context) error {
	t.committedVer = int64(t.tx.ID())
	if err := t.tx.Commit(); err != nil {
		return errs.Wrap(errs.Internal, "bbolt commit failed", err)
	}
	return nil
}

func (t *bboltTransaction) Cancel() {
	_ = t.tx.Rollback()
}
