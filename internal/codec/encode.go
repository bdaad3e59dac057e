package codec

import (
	"fmt"
	"sort"
)

// Encode serializes value against schema into the minimal bitstream
// described by §4.1: an exact bit-length is computed first (Size), then
// a buffer of ceil(bits/8) bytes is written in a second pass.
func Encode(s Schema, v any) ([]byte, error) {
	bits, err := Size(s, v)
	if err != nil {
		return nil, err
	}
	w := newBitWriter(bits)
	if err := writeValue(w, s, v); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}

func writeValue(w *bitWriter, s Schema, v any) error {
	switch s.Kind {
	case KindUInt:
		b, err := toBigInt(v, s.Width, true)
		if err != nil {
			return err
		}
		if err := checkRange(b, s.Width, true); err != nil {
			return err
		}
		w.writeBigUnsigned(b, s.Width)
		return nil

	case KindInt:
		b, err := toBigInt(v, s.Width, false)
		if err != nil {
			return err
		}
		w.writeBigUnsigned(twosComplementEncode(b, s.Width), s.Width)
		return nil

	case KindNat:
		n, err := toNonNegativeBigInt(v)
		if err != nil {
			return err
		}
		count := n.Int64()
		for i := int64(0); i < count; i++ {
			w.writeBit(1)
		}
		w.writeBit(0)
		return nil

	case KindStruct:
		m, err := toStructValue(v)
		if err != nil {
			return err
		}
		for _, f := range s.Fields {
			if err := writeValue(w, f.Schema, m[f.Name]); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		return nil

	case KindTuple:
		elems, err := toSlice(v)
		if err != nil {
			return err
		}
		for i, es := range s.Elems {
			if err := writeValue(w, es, elems[i]); err != nil {
				return fmt.Errorf("tuple[%d]: %w", i, err)
			}
		}
		return nil

	case KindVector:
		elems, err := toSlice(v)
		if err != nil {
			return err
		}
		for i, ev := range elems {
			if err := writeValue(w, *s.Elem, ev); err != nil {
				return fmt.Errorf("vector[%d]: %w", i, err)
			}
		}
		return nil

	case KindList:
		elems, err := toSlice(v)
		if err != nil {
			return err
		}
		for i, ev := range elems {
			w.writeBit(1)
			if err := writeValue(w, *s.Elem, ev); err != nil {
				return fmt.Errorf("list[%d]: %w", i, err)
			}
		}
		w.writeBit(0)
		return nil

	case KindMap:
		entries, ok := v.([]MapEntry)
		if !ok {
			return fmt.Errorf("%w: expected []MapEntry for Map, got %T", ErrShapeMismatch, v)
		}
		for i, e := range entries {
			w.writeBit(1)
			if err := writeValue(w, *s.Key, e.Key); err != nil {
				return fmt.Errorf("map[%d].key: %w", i, err)
			}
			if err := writeValue(w, *s.Value, e.Value); err != nil {
				return fmt.Errorf("map[%d].value: %w", i, err)
			}
		}
		w.writeBit(0)
		return nil

	case KindUnion:
		if len(s.Variants) == 0 {
			return ErrEmptyUnion
		}
		uv, ok := v.(UnionValue)
		if !ok {
			return fmt.Errorf("%w: expected UnionValue for Union, got %T", ErrShapeMismatch, v)
		}
		variant, found := findVariant(s.Variants, uv.Tag)
		if !found {
			return fmt.Errorf("%w: %q", ErrUnknownVariant, uv.Tag)
		}
		sorted := sortedVariants(s.Variants)
		width := tagWidth(len(sorted))
		if width > 0 {
			ordinal := ordinalOf(sorted, uv.Tag)
			w.writeBits(uint64(ordinal), width)
		}
		if err := writeValue(w, variant.Schema, uv.Payload); err != nil {
			return fmt.Errorf("union[%s]: %w", uv.Tag, err)
		}
		return nil

	case KindString:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: expected string, got %T", ErrShapeMismatch, v)
		}
		for _, b := range []byte(str) {
			w.writeBit(1)
			w.writeBits(uint64(b), 8)
		}
		w.writeBit(0)
		return nil

	default:
		return fmt.Errorf("%w: unknown schema kind %d", ErrShapeMismatch, s.Kind)
	}
}

// sortedVariants returns variants sorted alphabetically by name — the
// order that determines union tag ordinals on the wire. This ordering is
// part of the wire contract, independent of declaration order.
func sortedVariants(variants []Variant) []Variant {
	sorted := make([]Variant, len(variants))
	copy(sorted, variants)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return sorted
}

func ordinalOf(sorted []Variant, name string) int {
	for i, v := range sorted {
		if v.Name == name {
			return i
		}
	}
	return -1
}
