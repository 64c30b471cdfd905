// Package wasmerr centralizes the decode-error and trap vocabularies shared
// by the decoder, the instantiator and the interpreter.
package wasmerr

import "fmt"

// DecodeErrorCode enumerates the ways a byte slab can fail to parse as a
// module, mirroring the WasmDecodeErrorCode enum of the original C runtime
// this was distilled from.
type DecodeErrorCode int

const (
	ErrIo DecodeErrorCode = iota
	ErrMagicBytes
	ErrUnsupportedVersion
	ErrOom
	ErrLeb128
	ErrUnknownSectionId
	ErrInvalidType
	ErrUnknownValueType
	ErrInvalidLimit
	ErrInvalidImport
	ErrInvalidExport
	ErrInvalidGlobalMutability
	ErrInvalidTableInstr
	ErrExpectedZero
	ErrUnknownOpcode
	ErrInvalidElem
)

var decodeErrorCodeNames = map[DecodeErrorCode]string{
	ErrIo:                      "unable to read module",
	ErrMagicBytes:              "not a wasm module",
	ErrUnsupportedVersion:      "unsupported version",
	ErrOom:                     "out of memory",
	ErrLeb128:                  "malformed LEB128",
	ErrUnknownSectionId:        "unknown section id",
	ErrInvalidType:             "invalid type",
	ErrUnknownValueType:        "unknown value type",
	ErrInvalidLimit:            "invalid limit",
	ErrInvalidImport:           "invalid import",
	ErrInvalidExport:           "invalid export",
	ErrInvalidGlobalMutability: "invalid global mutability",
	ErrInvalidTableInstr:       "invalid table instruction",
	ErrExpectedZero:            "expected zero byte",
	ErrUnknownOpcode:           "unknown opcode",
	ErrInvalidElem:             "invalid element segment",
}

func (c DecodeErrorCode) String() string {
	if s, ok := decodeErrorCodeNames[c]; ok {
		return s
	}
	return "unknown decode error"
}

// DecodeError is returned by the decoder and wraps an optional cause (a
// position in the byte slab, or an underlying I/O error for ErrIo).
type DecodeError struct {
	Code  DecodeErrorCode
	Cause error
	// Offset is the byte position at which the error was detected, when
	// known. A value of -1 means no offset is available.
	Offset int
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Cause)
	}
	if e.Offset >= 0 {
		return fmt.Sprintf("%s (at offset %d)", e.Code, e.Offset)
	}
	return e.Code.String()
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// NewDecodeError builds a DecodeError with no known offset.
func NewDecodeError(code DecodeErrorCode, cause error) *DecodeError {
	return &DecodeError{Code: code, Cause: cause, Offset: -1}
}

// NewDecodeErrorAt builds a DecodeError at a known byte offset.
func NewDecodeErrorAt(code DecodeErrorCode, offset int) *DecodeError {
	return &DecodeError{Code: code, Offset: offset}
}

// TrapCode enumerates the ways the interpreter (or active-segment copying
// during instantiation) aborts an in-progress execution.
type TrapCode int

const (
	TrapUnreachable TrapCode = iota
	TrapIntegerDivideByZero
	TrapIntegerOverflow
	TrapMemoryOutOfBounds
	TrapTableOutOfBounds
	TrapIndirectCallTypeMismatch
	TrapUninitializedElement
	TrapCallStackExhausted
)

var trapCodeNames = map[TrapCode]string{
	TrapUnreachable:              "unreachable executed",
	TrapIntegerDivideByZero:      "integer divide by zero",
	TrapIntegerOverflow:          "integer overflow",
	TrapMemoryOutOfBounds:        "out of bounds memory access",
	TrapTableOutOfBounds:         "out of bounds table access",
	TrapIndirectCallTypeMismatch: "indirect call type mismatch",
	TrapUninitializedElement:     "uninitialized element",
	TrapCallStackExhausted:       "call stack exhausted",
}

func (c TrapCode) String() string {
	if s, ok := trapCodeNames[c]; ok {
		return s
	}
	return "trap"
}

// TrapError is returned by the interpreter when execution aborts before
// completing the current expression. The store's append-only state is left
// intact; only the operand stack residue of the faulting call is discarded.
type TrapError struct {
	Code TrapCode
	// FunctionIndex identifies, when known, the function whose body raised
	// the trap, for use in a one-line diagnostic.
	FunctionIndex    uint32
	HasFunctionIndex bool
	// Frame is a formatted "module.name(params) results" description of the
	// trapping function, set by internal/wasmdebug; empty if unavailable.
	Frame string
}

func (e *TrapError) Error() string {
	if e.Frame != "" {
		return fmt.Sprintf("%s (%s)", e.Code, e.Frame)
	}
	if e.HasFunctionIndex {
		return fmt.Sprintf("%s (function %d)", e.Code, e.FunctionIndex)
	}
	return e.Code.String()
}

// NewTrap builds a TrapError with no function-index context.
func NewTrap(code TrapCode) *TrapError {
	return &TrapError{Code: code}
}

// NewTrapIn builds a TrapError attributing the failing function index.
func NewTrapIn(code TrapCode, funcIdx uint32) *TrapError {
	return &TrapError{Code: code, FunctionIndex: funcIdx, HasFunctionIndex: true}
}

// InstantiationError reports a failure during the allocate/link/start
// protocol: an import arity/kind mismatch, or a trap during active segment
// copying or start-function execution.
type InstantiationError struct {
	Reason string
	Trap   *TrapError
}

func (e *InstantiationError) Error() string {
	if e.Trap != nil {
		return fmt.Sprintf("instantiation trapped: %s", e.Trap)
	}
	return e.Reason
}

func (e *InstantiationError) Unwrap() error {
	if e.Trap != nil {
		return e.Trap
	}
	return nil
}

// NewInstantiationError builds an InstantiationError from a plain reason
// string (an import mismatch or similar precondition failure).
func NewInstantiationError(reason string) *InstantiationError {
	return &InstantiationError{Reason: reason}
}

// NewInstantiationTrap wraps a trap raised during active-segment copying or
// start-function execution as an instantiation failure.
func NewInstantiationTrap(trap *TrapError) *InstantiationError {
	return &InstantiationError{Trap: trap}
}
