package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/wasmerr"
)

func TestDecodeModule_RejectsBadMagic(t *testing.T) {
	_, err := DecodeModule([]byte{0x00, 0x01, 0x02, 0x03})
	require.Error(t, err)
	var decErr *wasmerr.DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, wasmerr.ErrMagicBytes, decErr.Code)
}

func TestDecodeModule_RejectsBadVersion(t *testing.T) {
	data := append(append([]byte{}, magic...), 2, 0, 0, 0)
	_, err := DecodeModule(data)
	require.Error(t, err)
	var decErr *wasmerr.DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, wasmerr.ErrUnsupportedVersion, decErr.Code)
}

func TestDecodeModule_Empty(t *testing.T) {
	data := append(append([]byte{}, magic...), version...)
	m, err := DecodeModule(data)
	require.NoError(t, err)
	require.Equal(t, 0, m.NumFunctions())
	require.Empty(t, m.Exports)
}

func TestDecodeModule_RoundTrips(t *testing.T) {
	i32 := wasm.ValueTypeI32
	m := &wasm.Module{
		Types: []wasm.FunctionType{
			{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}},
		},
		FunctionTypeIndices: []wasm.Index{0},
		Memories:            []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: 2, HasMax: true}}},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: i32, Mutable: true}, Init: []wasm.Instruction{
				{Opcode: wasm.OpcodeI32Const, I32: 42}, {Opcode: wasm.OpcodeEnd},
			}},
		},
		Code: []wasm.Code{
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeLocalGet, Index: 0},
				{Opcode: wasm.OpcodeLocalGet, Index: 1},
				{Opcode: wasm.OpcodeI32Add},
				{Opcode: wasm.OpcodeEnd},
			}},
		},
		Exports: []wasm.Export{
			{Name: "add", Type: wasm.ExternTypeFunc, Index: 0},
			{Name: "memory", Type: wasm.ExternTypeMemory, Index: 0},
			{Name: "g", Type: wasm.ExternTypeGlobal, Index: 0},
		},
	}

	encoded := EncodeModule(m)
	decoded, err := DecodeModule(encoded)
	require.NoError(t, err)

	require.Equal(t, m.Types, decoded.Types)
	require.Equal(t, m.FunctionTypeIndices, decoded.FunctionTypeIndices)
	require.Equal(t, m.Memories, decoded.Memories)
	require.Equal(t, m.Globals, decoded.Globals)
	require.Equal(t, m.Code, decoded.Code)
	require.Equal(t, m.Exports, decoded.Exports)
}

func TestDecodeModule_RoundTripsElementSegments(t *testing.T) {
	i32 := wasm.ValueTypeI32
	m := &wasm.Module{
		Types:               []wasm.FunctionType{{Results: []wasm.ValueType{i32}}},
		FunctionTypeIndices: []wasm.Index{0, 0},
		Code: []wasm.Code{
			{Body: []wasm.Instruction{{Opcode: wasm.OpcodeI32Const, I32: 1}, {Opcode: wasm.OpcodeEnd}}},
			{Body: []wasm.Instruction{{Opcode: wasm.OpcodeI32Const, I32: 2}, {Opcode: wasm.OpcodeEnd}}},
		},
		Tables: []wasm.TableType{{Limits: wasm.Limits{Min: 4}}},
		Elements: []wasm.ElementSegment{
			{
				Mode:     wasm.ElementModeActive,
				Type:     wasm.ValueTypeFuncref,
				TableIdx: 0,
				Offset:   []wasm.Instruction{{Opcode: wasm.OpcodeI32Const, I32: 0}, {Opcode: wasm.OpcodeEnd}},
				Init: [][]wasm.Instruction{
					{{Opcode: wasm.OpcodeRefFunc, Index: 0}},
					{{Opcode: wasm.OpcodeRefNull, RefType: wasm.ValueTypeFuncref}},
					{{Opcode: wasm.OpcodeRefFunc, Index: 1}},
				},
			},
			{
				Mode: wasm.ElementModePassive,
				Type: wasm.ValueTypeFuncref,
				Init: [][]wasm.Instruction{
					{{Opcode: wasm.OpcodeRefFunc, Index: 1}},
				},
			},
			{
				Mode: wasm.ElementModeDeclarative,
				Type: wasm.ValueTypeFuncref,
				Init: [][]wasm.Instruction{
					{{Opcode: wasm.OpcodeRefFunc, Index: 0}},
				},
			},
		},
	}

	encoded := EncodeModule(m)
	decoded, err := DecodeModule(encoded)
	require.NoError(t, err)
	require.Equal(t, m.Elements, decoded.Elements)
}

func TestDecodeModule_SectionOrderingEnforced(t *testing.T) {
	// Hand-build a byte stream with the function section (3) appearing
	// after the code section (10), which the MVP spec forbids outside
	// custom sections.
	data := append([]byte{}, magic...)
	data = append(data, version...)
	data = append(data, byte(wasm.SectionIDCode), 1, 0) // empty code section, size 1, count 0
	data = append(data, byte(wasm.SectionIDFunction), 1, 0)
	_, err := DecodeModule(data)
	require.Error(t, err)
}
