package tuple

import "bytes"

// Subspace is a prefix of the ordered keyspace formed by concatenating
// tuple-encoded path segments (spec.md §3's `R`, `I`, `T`, `M`, `B`, `O`
// top-level subspaces and their nested per-index children).
type Subspace struct {
	prefix []byte
}

// NewSubspace returns the root subspace for the given path segments.
func NewSubspace(path ...any) Subspace {
	return Subspace{prefix: Tuple(path).Pack()}
}

// Sub returns a child subspace nesting path under this one.
func (s Subspace) Sub(path ...any) Subspace {
	child := make([]byte, len(s.prefix))
	copy(child, s.prefix)
	return Subspace{prefix: append(child, Tuple(path).Pack()...)}
}

// Pack encodes t and prefixes it with this subspace, producing a
// complete key.
func (s Subspace) Pack(t Tuple) []byte {
	key := make([]byte, len(s.prefix), len(s.prefix)+32)
	copy(key, s.prefix)
	return append(key, t.Pack()...)
}

// Bytes returns the raw subspace prefix, e.g. for use as a range-scan
// begin/end selector pair (Bytes(), PrefixEnd()).
func (s Subspace) Bytes() []byte {
	return s.prefix
}

// PrefixEnd returns the smallest key that is strictly greater than
// every key with this subspace's prefix — the conventional exclusive
// end selector for a "scan everything under this subspace" range.
func (s Subspace) PrefixEnd() []byte {
	return PrefixEnd(s.prefix)
}

// PrefixEnd returns the smallest byte string greater than every string
// with the given prefix, by incrementing the last byte that isn't
// already 0xFF and truncating everything after it. An all-0xFF prefix
// has no such successor within the byte-string space; callers scanning
// that far right should treat a nil return as "no upper bound".
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Unpack strips this subspace's prefix from key and decodes the
// remainder as a Tuple. Returns an error if key does not carry the
// prefix.
func (s Subspace) Unpack(key []byte) (Tuple, error) {
	if !bytes.HasPrefix(key, s.prefix) {
		return nil, errNotInSubspace
	}
	return Unpack(key[len(s.prefix):])
}

var errNotInSubspace = subspaceErr("key is not in subspace")

type subspaceErr string

func (e subspaceErr) Error() string { return string(e) }
