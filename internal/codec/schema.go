// Package codec implements the bit-level schema codec described in the
// wire format's §4.1: a tagged recursive schema description (Packed) and
// a matching two-pass encoder/decoder. The wire format carries no
// self-description — the caller always supplies the schema that was used
// to produce the bytes.
package codec

// Kind tags the recursive cases of a Packed schema value.
type Kind int

const (
	KindUInt Kind = iota
	KindInt
	KindNat
	KindStruct
	KindTuple
	KindVector
	KindList
	KindMap
	KindUnion
	KindString
)

// Field is one named, ordered member of a Struct schema. Order follows
// declared iteration order and participates in the wire contract.
type Field struct {
	Name   string
	Schema Schema
}

// Variant is one named member of a Union schema. Declared order has no
// wire meaning; ordinals are assigned by alphabetical sort of Name at
// encode/decode time (see sortedVariants).
type Variant struct {
	Name   string
	Schema Schema
}

// Schema is a Packed schema value. Only the fields relevant to Kind are
// populated; callers should build schemas with the constructor functions
// below rather than populating this struct directly.
type Schema struct {
	Kind Kind

	// UInt / Int
	Width int

	// Struct
	Fields []Field

	// Tuple
	Elems []Schema

	// Vector
	Size int
	Elem *Schema

	// List reuses Elem.

	// Map
	Key   *Schema
	Value *Schema

	// Union
	Variants []Variant
}

func UInt(width int) Schema   { return Schema{Kind: KindUInt, Width: width} }
func Int(width int) Schema    { return Schema{Kind: KindInt, Width: width} }
func Nat() Schema             { return Schema{Kind: KindNat} }
func StringSchema() Schema    { return Schema{Kind: KindString} }

func StructOf(fields ...Field) Schema {
	return Schema{Kind: KindStruct, Fields: fields}
}

func TupleOf(elems ...Schema) Schema {
	return Schema{Kind: KindTuple, Elems: elems}
}

func VectorOf(size int, elem Schema) Schema {
	return Schema{Kind: KindVector, Size: size, Elem: &elem}
}

func ListOf(elem Schema) Schema {
	return Schema{Kind: KindList, Elem: &elem}
}

func MapOf(key, value Schema) Schema {
	return Schema{Kind: KindMap, Key: &key, Value: &value}
}

func UnionOf(variants ...Variant) Schema {
	return Schema{Kind: KindUnion, Variants: variants}
}

// MapEntry is one key/value pair of a Map value, in encode order. Map
// values are represented as an ordered slice rather than a native Go map
// because the wire format is an ordered cons-list and Go map iteration
// order is not the caller's to control.
type MapEntry struct {
	Key   any
	Value any
}

// UnionValue is the Go representation of the schema's tagged-record
// union convention. Tag names the chosen variant. Payload holds the
// variant's value: for a Struct variant, Payload is the struct's
// map[string]any directly (the record itself is the payload); for every
// other variant kind, Payload is the bare value that would sit under a
// "value" field in the source convention. This asymmetry is part of the
// wire contract, not an implementation detail — preserve it.
type UnionValue struct {
	Tag     string
	Payload any
}
