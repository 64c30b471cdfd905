// Package api includes constants and interfaces used by both end-users and
// the internal runtime.
package api

import (
	"context"
	"fmt"
	"math"
)

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

const (
	ExternTypeFuncName   = "func"
	ExternTypeTableName  = "table"
	ExternTypeMemoryName = "memory"
	ExternTypeGlobalName = "global"
)

// ExternTypeName returns the name of the given ExternType.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return ExternTypeFuncName
	case ExternTypeTable:
		return ExternTypeTableName
	case ExternTypeMemory:
		return ExternTypeMemoryName
	case ExternTypeGlobal:
		return ExternTypeGlobalName
	}
	return fmt.Sprintf("%#x", et)
}

// ValueType describes a value's kind on the operand stack, in a local, or in
// a global: one of the four numeric types, the vector type, or one of the
// two reference types.
//
// Values cross the Go boundary as uint64: i32/i64 are the raw two's
// complement bits, f32/f64 need EncodeF32/DecodeF32 or EncodeF64/DecodeF64,
// and funcref/externref are opaque store addresses (0 meaning null).
type ValueType = byte

const (
	ValueTypeI32  ValueType = 0x7f
	ValueTypeI64  ValueType = 0x7e
	ValueTypeF32  ValueType = 0x7d
	ValueTypeF64  ValueType = 0x7c
	ValueTypeV128 ValueType = 0x7b

	ValueTypeFuncref   ValueType = 0x70
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the WebAssembly text format name of t, or "unknown"
// if t isn't a defined ValueType.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	}
	return "unknown"
}

// Module is a WebAssembly module instance, post-instantiation.
//
// Note: This is an interface for decoupling, not third-party implementations.
type Module interface {
	// Name is the name this module was instantiated with.
	Name() string

	// Memory returns the default memory of this module, or nil if it declares none.
	Memory() Memory

	// ExportedFunction returns a function exported from this module, or nil if it wasn't.
	ExportedFunction(name string) Function

	// ExportedMemory returns a memory exported from this module, or nil if it wasn't.
	ExportedMemory(name string) Memory

	// ExportedGlobal returns a global exported from this module, or nil if it wasn't.
	ExportedGlobal(name string) Global
}

// Function is a function exported or imported by a module instance.
type Function interface {
	// Definition is the static signature of this function.
	Definition() FunctionDefinition

	// Call invokes the function with the given parameters, returning its
	// results or an error. A trap is returned as a non-nil
	// *wasmerr.TrapError (see internal/wasmerr); other errors indicate the call
	// couldn't be attempted at all (e.g. a parameter count mismatch).
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// FunctionDefinition is the static, pre-instantiation signature of an
// imported or exported function.
type FunctionDefinition interface {
	ModuleName() string
	Name() string
	ParamTypes() []ValueType
	ResultTypes() []ValueType
}

// Global is a global variable exported from, or imported into, a module
// instance.
type Global interface {
	Type() ValueType
	Get() uint64
}

// MutableGlobal is a Global that can be observed to change, for globals
// declared mutable.
type MutableGlobal interface {
	Global
	Set(v uint64)
}

// Memory is a memory exported from, or imported into, a module instance.
//
// All sizes and offsets are in bytes, except that Grow operates in units of
// the 64KB wasm page per the WebAssembly 1.0 specification.
type Memory interface {
	// Size returns the current length of this memory in bytes.
	Size() uint32

	// Grow increases the size of this memory by deltaPages, returning the
	// previous page count, or false if the growth would exceed the memory's
	// declared maximum (or the runtime's configured ceiling).
	Grow(deltaPages uint32) (previousPages uint32, ok bool)

	// ReadByte, ReadUint32Le, etc. read little-endian values at the given
	// byte offset, returning false if the range is out of bounds.
	ReadByte(offset uint32) (byte, bool)
	ReadUint32Le(offset uint32) (uint32, bool)
	ReadUint64Le(offset uint32) (uint64, bool)
	Read(offset, byteCount uint32) ([]byte, bool)

	// WriteByte, WriteUint32Le, etc. write little-endian values at the given
	// byte offset, returning false if the range is out of bounds.
	WriteByte(offset uint32, v byte) bool
	WriteUint32Le(offset uint32, v uint32) bool
	WriteUint64Le(offset uint32, v uint64) bool
	Write(offset uint32, v []byte) bool
}

// EncodeI32 converts an int32 to a uint64 operand stack/ABI value.
func EncodeI32(input int32) uint64 {
	return uint64(uint32(input))
}

// EncodeI64 converts an int64 to a uint64 operand stack/ABI value.
func EncodeI64(input int64) uint64 {
	return uint64(input)
}

// EncodeF32 converts a float32 to its uint64 ABI representation.
func EncodeF32(input float32) uint64 {
	return uint64(math.Float32bits(input))
}

// DecodeF32 converts a uint64 ABI value to its float32 interpretation.
func DecodeF32(input uint64) float32 {
	return math.Float32frombits(uint32(input))
}

// EncodeF64 converts a float64 to its uint64 ABI representation.
func EncodeF64(input float64) uint64 {
	return math.Float64bits(input)
}

// DecodeF64 converts a uint64 ABI value to its float64 interpretation.
func DecodeF64(input uint64) float64 {
	return math.Float64frombits(input)
}

// EncodeExternref converts a raw host pointer to its uint64 ABI
// representation, for use as an externref parameter or result.
func EncodeExternref(input uintptr) uint64 {
	return uint64(input)
}

// DecodeExternref converts a uint64 ABI value back to a host pointer.
func DecodeExternref(input uint64) uintptr {
	return uintptr(input)
}
