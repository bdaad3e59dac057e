package codec

import "errors"

// Sentinel errors for the failure modes enumerated in §4.1. Callers can
// test against these with errors.Is; the wrapping message carries the
// offending path for debugging.
var (
	ErrOutOfRange     = errors.New("codec: value out of range for declared width")
	ErrShapeMismatch  = errors.New("codec: value shape does not match schema")
	ErrVectorLength   = errors.New("codec: vector length mismatch")
	ErrEmptyUnion     = errors.New("codec: union schema has no variants")
	ErrUnknownVariant = errors.New("codec: unknown union variant tag")
	ErrTruncated      = errors.New("codec: unexpected end of bitstream")
)
