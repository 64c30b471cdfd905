package wasm

import "github.com/irrio/semblance/api"

// ValueType is re-exported from api since the binary encoding of a value
// type and its public Go representation are the same byte.
type ValueType = api.ValueType

const (
	ValueTypeI32       = api.ValueTypeI32
	ValueTypeI64       = api.ValueTypeI64
	ValueTypeF32       = api.ValueTypeF32
	ValueTypeF64       = api.ValueTypeF64
	ValueTypeV128      = api.ValueTypeV128
	ValueTypeFuncref   = api.ValueTypeFuncref
	ValueTypeExternref = api.ValueTypeExternref
)

// RefTypeNull is the value a funcref or externref holds when it isn't
// pointing at anything: address zero is reserved and never allocated by the
// store, so it doubles as the null sentinel.
const RefTypeNull = 0

// IsRefType reports whether t is one of the two reference value types.
func IsRefType(t ValueType) bool {
	return t == ValueTypeFuncref || t == ValueTypeExternref
}

// IsNumType reports whether t is one of the four numeric value types.
func IsNumType(t ValueType) bool {
	switch t {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
		return true
	}
	return false
}

// v128 holds the 16-byte payload of a v128 constant or local. Arithmetic
// over v128 is out of scope; the runtime only needs to carry the bytes
// through locals, globals, and default-value initialization.
type v128 = [16]byte

// defaultValue returns the zero value for t: integer 0, float +0.0,
// reference null, or the all-zero vector, per the default-value rule.
func defaultValue(t ValueType) uint64 {
	// Every default bit pattern is zero; the float +0.0 encodes to the all
	// zero bit pattern too, so a single case covers i32/i64/f32/f64/ref.
	_ = t
	return 0
}
