package codec

import (
	"fmt"
	"math/big"
)

// safeIntWidth is the wire contract's boundary between plain-integer and
// arbitrary-precision values for UInt/Int fields. It mirrors the source
// protocol's 2^53 "safe integer" limit, not any Go numeric limitation —
// Go's int64 happily holds 60-bit values, but the contract still demands
// a *big.Int above 53 bits so both sides of the wire agree on which
// values round-trip exactly.
const safeIntWidth = 53

// toBigInt coerces an encode-time value for a UInt/Int/Nat field into a
// big.Int, enforcing the plain-integer-vs-big.Int split for the given
// width. unsigned requests a non-negative value (UInt, Nat).
func toBigInt(v any, width int, unsigned bool) (*big.Int, error) {
	if width > safeIntWidth {
		b, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("%w: width %d requires *big.Int, got %T", ErrShapeMismatch, width, v)
		}
		if unsigned && b.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative value for unsigned field", ErrOutOfRange)
		}
		return b, nil
	}

	switch n := v.(type) {
	case *big.Int:
		if unsigned && n.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative value for unsigned field", ErrOutOfRange)
		}
		return n, nil
	case int:
		return big.NewInt(int64(n)), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint8:
		return big.NewInt(int64(n)), nil
	case uint16:
		return big.NewInt(int64(n)), nil
	case uint32:
		return big.NewInt(int64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	default:
		return nil, fmt.Errorf("%w: unsupported numeric type %T", ErrShapeMismatch, v)
	}
}

// checkRange validates a decoded/encoded value's magnitude fits width
// bits (unsigned: [0, 2^width); signed: [-2^(width-1), 2^(width-1))).
func checkRange(v *big.Int, width int, unsigned bool) error {
	if width <= 0 {
		if v.Sign() == 0 {
			return nil
		}
		return fmt.Errorf("%w: non-zero value for zero-width field", ErrOutOfRange)
	}
	if unsigned {
		if v.Sign() < 0 {
			return fmt.Errorf("%w: negative value for unsigned width %d", ErrOutOfRange, width)
		}
		limit := new(big.Int).Lsh(big.NewInt(1), uint(width))
		if v.Cmp(limit) >= 0 {
			return fmt.Errorf("%w: value exceeds unsigned width %d", ErrOutOfRange, width)
		}
		return nil
	}
	half := new(big.Int).Lsh(big.NewInt(1), uint(width-1))
	negHalf := new(big.Int).Neg(half)
	if v.Cmp(negHalf) < 0 || v.Cmp(half) >= 0 {
		return fmt.Errorf("%w: value out of range for signed width %d", ErrOutOfRange, width)
	}
	return nil
}

// twosComplementEncode maps a (possibly negative) width-bit value onto
// its non-negative two's-complement bit pattern, so bitWriter's
// unsigned-only bit extraction can write it.
func twosComplementEncode(v *big.Int, width int) *big.Int {
	if v.Sign() >= 0 {
		return v
	}
	mod := new(big.Int).Lsh(big.NewInt(1), uint(width))
	return new(big.Int).Add(v, mod)
}

// twosComplementDecode reverses twosComplementEncode for signed fields:
// if the top bit is set, the value is negative.
func twosComplementDecode(bits *big.Int, width int) *big.Int {
	if width == 0 || bits.Bit(width-1) == 0 {
		return bits
	}
	mod := new(big.Int).Lsh(big.NewInt(1), uint(width))
	return new(big.Int).Sub(bits, mod)
}

// fromBigInt narrows a decoded value back to int64 for widths within the
// safe-integer boundary, or leaves it as *big.Int beyond it.
func fromBigInt(v *big.Int, width int) any {
	if width > safeIntWidth {
		return v
	}
	return v.Int64()
}
