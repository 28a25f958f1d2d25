// Package record defines the typed item model (spec.md §3): field
// types, the Item envelope carried by the store, and the per-item-type
// descriptor (primary key extractor, index descriptors, directory
// path) that drives both the storage layer and index maintainers.
//
// Grounded on internal/store/types.go's Document/Chunk-shaped record
// structs, generalized from a fixed chunk/file/project schema to an
// open field map driven by a declared ItemType.
package record

import "time"

// Kind enumerates the field types spec.md §3 requires.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindUint
	KindFloat
	KindBool
	KindBytes
	KindTimestamp // milliseconds since epoch
	KindUUID      // UUID/ULID string
	KindOptional
	KindSequence // ordered sequence of any above
	KindStruct   // nested structured value
)

// Value is a single field value. Exactly one of the typed fields is
// meaningful, selected by Kind; Seq/Struct hold recursively-typed
// children for KindSequence/KindStruct.
type Value struct {
	Kind Kind

	Str   string
	Int   int64
	Uint  uint64
	Float float64
	Bool  bool
	Bytes []byte
	Time  time.Time

	Seq    []Value
	Struct map[string]Value

	// Present is false when Kind == KindOptional and the value is absent.
	Present bool
}

func String(s string) Value  { return Value{Kind: KindString, Str: s, Present: true} }
func Int(i int64) Value      { return Value{Kind: KindInt, Int: i, Present: true} }
func Uint(u uint64) Value    { return Value{Kind: KindUint, Uint: u, Present: true} }
func Float(f float64) Value  { return Value{Kind: KindFloat, Float: f, Present: true} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b, Present: true} }
func Bytes(b []byte) Value   { return Value{Kind: KindBytes, Bytes: b, Present: true} }
func Timestamp(t time.Time) Value { return Value{Kind: KindTimestamp, Time: t, Present: true} }
func UUID(s string) Value    { return Value{Kind: KindUUID, Str: s, Present: true} }
func Sequence(vs ...Value) Value { return Value{Kind: KindSequence, Seq: vs, Present: true} }
func Struct(m map[string]Value) Value { return Value{Kind: KindStruct, Struct: m, Present: true} }
func None() Value             { return Value{Kind: KindOptional, Present: false} }

// Item is a typed record: a primary identifier plus named fields.
type Item struct {
	TypeName string
	Fields   map[string]Value
}

func (it Item) Field(name string) (Value, bool) {
	v, ok := it.Fields[name]
	return v, ok
}

// DeleteRule names the referential action taken when a relationship
// target is deleted.
type DeleteRule string

const (
	DeleteCascade  DeleteRule = "cascade"
	DeleteDeny     DeleteRule = "deny"
	DeleteNullify  DeleteRule = "nullify"
	DeleteNoAction DeleteRule = "noAction"
)

// IndexKind names which maintainer family an IndexDescriptor targets.
type IndexKind string

const (
	IndexScalar      IndexKind = "scalar"
	IndexRange       IndexKind = "range"
	IndexRelationship IndexKind = "relationship"
	IndexAggregation IndexKind = "aggregation"
	IndexBitmap      IndexKind = "bitmap"
	IndexRank        IndexKind = "rank"
	IndexLeaderboard IndexKind = "leaderboard"
	IndexVersion     IndexKind = "version"
	IndexPermuted    IndexKind = "permuted"
	IndexFullText    IndexKind = "fullText"
	IndexVector      IndexKind = "vector"
	IndexGraph       IndexKind = "graph"
)

// IndexDescriptor declares one secondary index on an item type.
type IndexDescriptor struct {
	Name   string
	Kind   IndexKind
	Fields []string // compound key order, as declared

	Unique bool // scalar/range: enforce uniqueness per spec.md §4.4

	// Relationship-only.
	RelationshipTarget string
	OnDelete           DeleteRule

	// FullText-only.
	Tokenizer      string // simple|stem|ngram|keyword
	NGramK         int
	StopWords      []string
	StorePositions bool

	// Vector-only.
	Dimensions int
	Metric     string // cosine|l2|innerProduct
	Multi      bool   // multi-vector field

	// Graph-only.
	GraphLayout string // adjacency|tripleStore|hexastore
}

// PrimaryKeyFunc extracts the ordered primary-key tuple components from
// an item's fields.
type PrimaryKeyFunc func(Item) []any

// DirectoryFunc resolves an item to its directory path components,
// which may mix literals and field values for per-tenant/per-shard
// partitioning.
type DirectoryFunc func(Item) []any

// ItemType is the per-type descriptor spec.md §3 requires: a primary
// key extractor, an ordered list of index descriptors, and a directory
// path builder.
type ItemType struct {
	Name       string
	PrimaryKey PrimaryKeyFunc
	Directory  DirectoryFunc
	Indexes    []IndexDescriptor
}
