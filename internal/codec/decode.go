package codec

import "fmt"

// Decode reads a value of the given schema from data. The decoder trusts
// the caller's schema completely; it is not self-checking beyond bounds
// (a truncated or over-long buffer surfaces as ErrTruncated, but a
// mismatched schema silently produces garbage, exactly as §4.1
// specifies).
func Decode(s Schema, data []byte) (any, error) {
	r := newBitReader(data)
	return readValue(r, s)
}

func readValue(r *bitReader, s Schema) (any, error) {
	switch s.Kind {
	case KindUInt:
		b, err := r.readBigUnsigned(s.Width)
		if err != nil {
			return nil, err
		}
		return fromBigInt(b, s.Width), nil

	case KindInt:
		bits, err := r.readBigUnsigned(s.Width)
		if err != nil {
			return nil, err
		}
		return fromBigInt(twosComplementDecode(bits, s.Width), s.Width), nil

	case KindNat:
		var n int64
		for {
			bit, err := r.readBit()
			if err != nil {
				return nil, err
			}
			if bit == 0 {
				break
			}
			n++
		}
		return n, nil

	case KindStruct:
		m := make(map[string]any, len(s.Fields))
		for _, f := range s.Fields {
			fv, err := readValue(r, f.Schema)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			m[f.Name] = fv
		}
		return m, nil

	case KindTuple:
		out := make([]any, len(s.Elems))
		for i, es := range s.Elems {
			v, err := readValue(r, es)
			if err != nil {
				return nil, fmt.Errorf("tuple[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil

	case KindVector:
		out := make([]any, s.Size)
		for i := 0; i < s.Size; i++ {
			v, err := readValue(r, *s.Elem)
			if err != nil {
				return nil, fmt.Errorf("vector[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil

	case KindList:
		var out []any
		for {
			tag, err := r.readBit()
			if err != nil {
				return nil, err
			}
			if tag == 0 {
				break
			}
			v, err := readValue(r, *s.Elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", len(out), err)
			}
			out = append(out, v)
		}
		return out, nil

	case KindMap:
		var out []MapEntry
		for {
			tag, err := r.readBit()
			if err != nil {
				return nil, err
			}
			if tag == 0 {
				break
			}
			k, err := readValue(r, *s.Key)
			if err != nil {
				return nil, fmt.Errorf("map[%d].key: %w", len(out), err)
			}
			val, err := readValue(r, *s.Value)
			if err != nil {
				return nil, fmt.Errorf("map[%d].value: %w", len(out), err)
			}
			out = append(out, MapEntry{Key: k, Value: val})
		}
		return out, nil

	case KindUnion:
		if len(s.Variants) == 0 {
			return nil, ErrEmptyUnion
		}
		sorted := sortedVariants(s.Variants)
		width := tagWidth(len(sorted))
		ordinal := 0
		if width > 0 {
			v, err := r.readBits(width)
			if err != nil {
				return nil, err
			}
			ordinal = int(v)
		}
		if ordinal < 0 || ordinal >= len(sorted) {
			return nil, fmt.Errorf("%w: ordinal %d", ErrUnknownVariant, ordinal)
		}
		variant := sorted[ordinal]
		payload, err := readValue(r, variant.Schema)
		if err != nil {
			return nil, fmt.Errorf("union[%s]: %w", variant.Name, err)
		}
		return UnionValue{Tag: variant.Name, Payload: payload}, nil

	case KindString:
		var buf []byte
		for {
			tag, err := r.readBit()
			if err != nil {
				return nil, err
			}
			if tag == 0 {
				break
			}
			b, err := r.readBits(8)
			if err != nil {
				return nil, err
			}
			buf = append(buf, byte(b))
		}
		return string(buf), nil

	default:
		return nil, fmt.Errorf("%w: unknown schema kind %d", ErrShapeMismatch, s.Kind)
	}
}
