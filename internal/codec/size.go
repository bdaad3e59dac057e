package codec

import "fmt"

// Size computes the exact number of bits encode(schema, value) will
// produce, without writing anything. Encode calls this first and
// allocates a ceil(bits/8)-byte buffer before the second, writing pass —
// the "codec size law" testable property holds by construction.
func Size(s Schema, v any) (int, error) {
	switch s.Kind {
	case KindUInt:
		b, err := toBigInt(v, s.Width, true)
		if err != nil {
			return 0, err
		}
		if err := checkRange(b, s.Width, true); err != nil {
			return 0, err
		}
		return s.Width, nil

	case KindInt:
		b, err := toBigInt(v, s.Width, false)
		if err != nil {
			return 0, err
		}
		if err := checkRange(b, s.Width, false); err != nil {
			return 0, err
		}
		return s.Width, nil

	case KindNat:
		n, err := toNonNegativeBigInt(v)
		if err != nil {
			return 0, err
		}
		if !n.IsInt64() {
			return 0, fmt.Errorf("%w: Nat value too large to size", ErrOutOfRange)
		}
		return int(n.Int64()) + 1, nil

	case KindStruct:
		m, err := toStructValue(v)
		if err != nil {
			return 0, err
		}
		total := 0
		for _, f := range s.Fields {
			fv, ok := m[f.Name]
			if !ok {
				return 0, fmt.Errorf("%w: missing field %q", ErrShapeMismatch, f.Name)
			}
			n, err := Size(f.Schema, fv)
			if err != nil {
				return 0, fmt.Errorf("field %q: %w", f.Name, err)
			}
			total += n
		}
		return total, nil

	case KindTuple:
		elems, err := toSlice(v)
		if err != nil {
			return 0, err
		}
		if len(elems) != len(s.Elems) {
			return 0, fmt.Errorf("%w: tuple has %d elements, schema wants %d", ErrShapeMismatch, len(elems), len(s.Elems))
		}
		total := 0
		for i, es := range s.Elems {
			n, err := Size(es, elems[i])
			if err != nil {
				return 0, fmt.Errorf("tuple[%d]: %w", i, err)
			}
			total += n
		}
		return total, nil

	case KindVector:
		elems, err := toSlice(v)
		if err != nil {
			return 0, err
		}
		if len(elems) != s.Size {
			return 0, fmt.Errorf("%w: vector has %d elements, schema wants %d", ErrVectorLength, len(elems), s.Size)
		}
		total := 0
		for i, ev := range elems {
			n, err := Size(*s.Elem, ev)
			if err != nil {
				return 0, fmt.Errorf("vector[%d]: %w", i, err)
			}
			total += n
		}
		return total, nil

	case KindList:
		elems, err := toSlice(v)
		if err != nil {
			return 0, err
		}
		total := len(elems) + 1 // one tag bit per element, plus terminator
		for i, ev := range elems {
			n, err := Size(*s.Elem, ev)
			if err != nil {
				return 0, fmt.Errorf("list[%d]: %w", i, err)
			}
			total += n
		}
		return total, nil

	case KindMap:
		entries, ok := v.([]MapEntry)
		if !ok {
			return 0, fmt.Errorf("%w: expected []MapEntry for Map, got %T", ErrShapeMismatch, v)
		}
		total := len(entries) + 1
		for i, e := range entries {
			kn, err := Size(*s.Key, e.Key)
			if err != nil {
				return 0, fmt.Errorf("map[%d].key: %w", i, err)
			}
			vn, err := Size(*s.Value, e.Value)
			if err != nil {
				return 0, fmt.Errorf("map[%d].value: %w", i, err)
			}
			total += kn + vn
		}
		return total, nil

	case KindUnion:
		uv, ok := v.(UnionValue)
		if !ok {
			return 0, fmt.Errorf("%w: expected UnionValue for Union, got %T", ErrShapeMismatch, v)
		}
		if len(s.Variants) == 0 {
			return 0, ErrEmptyUnion
		}
		variant, found := findVariant(s.Variants, uv.Tag)
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, uv.Tag)
		}
		payload := uv.Payload
		if variant.Schema.Kind == KindStruct {
			payload = uv.Payload // struct variants carry the record itself
		}
		n, err := Size(variant.Schema, payload)
		if err != nil {
			return 0, fmt.Errorf("union[%s]: %w", uv.Tag, err)
		}
		return tagWidth(len(s.Variants)) + n, nil

	case KindString:
		str, ok := v.(string)
		if !ok {
			return 0, fmt.Errorf("%w: expected string, got %T", ErrShapeMismatch, v)
		}
		b := []byte(str)
		return len(b) + 1 + 8*len(b), nil

	default:
		return 0, fmt.Errorf("%w: unknown schema kind %d", ErrShapeMismatch, s.Kind)
	}
}

// tagWidth returns ceil(log2(n)), with the convention tagWidth(<=1) == 0.
func tagWidth(n int) int {
	w := 0
	for (1 << uint(w)) < n {
		w++
	}
	return w
}

// findVariant looks up a union variant by name. Variants are searched in
// declared order; ordinal assignment (alphabetical) is computed
// separately by sortedVariants.
func findVariant(variants []Variant, name string) (Variant, bool) {
	for _, v := range variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}
