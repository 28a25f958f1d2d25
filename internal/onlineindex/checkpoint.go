package onlineindex

import (
	"context"

	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/tuple"
)

// progressKey is T/<indexName>/progress, spec.md §6's resumable-build
// state. It holds the last item key fully processed; since a sequential
// build scans the item subspace in strictly increasing key order, a
// single cursor is equivalent to a completed-ranges bitmap here — the
// only "hole" a byte-range bitmap could represent (a gap before the
// cursor) can't occur because the scan never skips ahead.
func progressKey(root tuple.Subspace, indexName string) []byte {
	return root.Sub("T", indexName, "progress").Bytes()
}

// SaveProgress records the last key this build has fully processed.
func SaveProgress(tx kvengine.Transaction, root tuple.Subspace, indexName string, lastKey []byte) {
	tx.Set(progressKey(root, indexName), lastKey)
}

// LoadProgress returns the last checkpointed key, or nil if the build
// has not started (or was cleared after a prior completion).
func LoadProgress(ctx context.Context, tx kvengine.Transaction, root tuple.Subspace, indexName string) ([]byte, error) {
	return tx.Get(ctx, progressKey(root, indexName))
}

// ClearProgress removes the checkpoint, called once a build reaches
// sourceExhausted and flips the index to readable.
func ClearProgress(tx kvengine.Transaction, root tuple.Subspace, indexName string) {
	tx.Clear(progressKey(root, indexName))
}
