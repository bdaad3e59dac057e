package codec

import (
	"fmt"
	"math/big"
	"reflect"
)

// toSlice adapts any slice or array value to []any so Tuple/Vector/List
// encoding doesn't force callers into a specific container type.
func toSlice(v any) ([]any, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: expected sequence, got nil", ErrShapeMismatch)
	}
	if s, ok := v.([]any); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: expected sequence, got %T", ErrShapeMismatch, v)
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// toNonNegativeBigInt coerces a Nat encode-time value, which has no
// fixed declared width, so the safe-integer boundary does not apply.
func toNonNegativeBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative value for Nat", ErrOutOfRange)
		}
		return n, nil
	case int:
		if n < 0 {
			return nil, fmt.Errorf("%w: negative value for Nat", ErrOutOfRange)
		}
		return big.NewInt(int64(n)), nil
	case int64:
		if n < 0 {
			return nil, fmt.Errorf("%w: negative value for Nat", ErrOutOfRange)
		}
		return big.NewInt(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	default:
		return nil, fmt.Errorf("%w: unsupported numeric type %T for Nat", ErrShapeMismatch, v)
	}
}

func toStructValue(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map[string]any for Struct, got %T", ErrShapeMismatch, v)
	}
	return m, nil
}
