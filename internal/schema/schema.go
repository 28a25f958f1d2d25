// Package schema implements spec.md §4.12: the format-version and
// schema registry persisted at M/format and M/schema, plus (in
// migration.go) the staged migration engine that moves a store from
// one schema version to the next.
//
// Grounded on cuemby-warren/cmd/warren-migrate/main.go's shape — read
// what's there, back it up conceptually via the "leave version
// unchanged on failure" rule below, copy/transform record-by-record,
// report progress — generalized from a one-off bucket-rename tool into
// a repeatable, resumable staged migration driven by the M/format
// version this package persists.
package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amandb/recordkv/internal/errs"
	"github.com/amandb/recordkv/internal/kvengine"
	"github.com/amandb/recordkv/internal/tuple"
)

// Version is the monotone (major,minor,patch) format version spec.md
// §3 stores at M/format. Readers refuse a store whose Major exceeds
// what they support; Minor/Patch advance in place via migrations.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Equal reports whether v and o name the same version triple.
func (v Version) Equal(o Version) bool { return v == o }

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater
// than o, comparing Major then Minor then Patch.
func (v Version) Compare(o Version) int {
	for _, d := range [][2]int{{v.Major, o.Major}, {v.Minor, o.Minor}, {v.Patch, o.Patch}} {
		if d[0] != d[1] {
			if d[0] < d[1] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func formatKey(root tuple.Subspace) []byte {
	return root.Sub("M", "format").Bytes()
}

func schemaKey(root tuple.Subspace) []byte {
	return root.Sub("M", "schema").Bytes()
}

// GetFormatVersion reads M/format, defaulting to the zero version
// (treated as "no store has ever written here yet") when unset.
func GetFormatVersion(ctx context.Context, tx kvengine.Transaction, root tuple.Subspace) (Version, error) {
	v, err := tx.Get(ctx, formatKey(root))
	if err != nil {
		return Version{}, err
	}
	if v == nil {
		return Version{}, nil
	}
	var out Version
	if err := json.Unmarshal(v, &out); err != nil {
		return Version{}, errs.Wrap(errs.Internal, "corrupt format version", err)
	}
	return out, nil
}

// PutFormatVersion writes M/format.
func PutFormatVersion(tx kvengine.Transaction, root tuple.Subspace, v Version) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tx.Set(formatKey(root), data)
	return nil
}

// RequireCompatible enforces spec.md §3's compatibility rule: a reader
// refuses a store whose stored Major exceeds the supported Major.
func RequireCompatible(stored, supported Version) error {
	if stored.Major > supported.Major {
		return errs.New(errs.FormatVersionIncompatible, "store format version is newer than supported").
			WithDetail("stored", stored.String()).
			WithDetail("supported", supported.String())
	}
	return nil
}

// TypeSchema is the persisted shape of one item type within a schema
// version: its name and the set of index names currently declared on
// it. It intentionally omits extractor/maintainer logic (those live in
// the caller's record.ItemType registration) — the persisted schema
// blob exists so migrations and compatibility checks can diff "what
// indexes did version N declare" without reconstructing live Go
// closures from storage.
type TypeSchema struct {
	Name    string   `json:"name"`
	Indexes []string `json:"indexes"`
}

// Schema is the versioned list of item types persisted at M/schema
// (spec.md §4.12: "an ordered list of item types plus a semver
// version").
type Schema struct {
	Version Version      `json:"version"`
	Types   []TypeSchema `json:"types"`
}

// GetSchema reads M/schema, returning the zero Schema if unset.
func GetSchema(ctx context.Context, tx kvengine.Transaction, root tuple.Subspace) (Schema, error) {
	v, err := tx.Get(ctx, schemaKey(root))
	if err != nil {
		return Schema{}, err
	}
	if v == nil {
		return Schema{}, nil
	}
	var out Schema
	if err := json.Unmarshal(v, &out); err != nil {
		return Schema{}, errs.Wrap(errs.Internal, "corrupt schema blob", err)
	}
	return out, nil
}

// PutSchema writes M/schema.
func PutSchema(tx kvengine.Transaction, root tuple.Subspace, s Schema) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tx.Set(schemaKey(root), data)
	return nil
}

// HasIndex reports whether typeName declared indexName as an index in
// this schema — used by custom migration stages to detect
// SchemaEvolutionViolation (spec.md §7's "removed field" case) before
// they drop an index a still-supported older reader expects.
func (s Schema) HasIndex(typeName, indexName string) bool {
	for _, t := range s.Types {
		if t.Name != typeName {
			continue
		}
		for _, idx := range t.Indexes {
			if idx == indexName {
				return true
			}
		}
	}
	return false
}
