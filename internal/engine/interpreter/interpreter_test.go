package interpreter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/wasmerr"
)

// buildAddModule returns a one-function module computing local.get 0 +
// local.get 1, exported as "add", for exercising the engine without going
// through the decoder.
func buildAddModule() *wasm.Module {
	return &wasm.Module{
		Types: []wasm.FunctionType{
			{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}},
		},
		FunctionTypeIndices: []wasm.Index{0},
		Code: []wasm.Code{
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeLocalGet, Index: 0},
				{Opcode: wasm.OpcodeLocalGet, Index: 1},
				{Opcode: wasm.OpcodeI32Add},
				{Opcode: wasm.OpcodeEnd},
			}},
		},
		Exports: []wasm.Export{{Name: "add", Type: wasm.ExternTypeFunc, Index: 0}},
	}
}

type noImports struct{}

func (noImports) ResolveFunc(string, string, wasm.FunctionType) (uint32, error)   { panic("no imports") }
func (noImports) ResolveTable(string, string, wasm.TableType) (uint32, error)     { panic("no imports") }
func (noImports) ResolveMemory(string, string, wasm.MemoryType) (uint32, error)   { panic("no imports") }
func (noImports) ResolveGlobal(string, string, wasm.GlobalType) (uint32, error)   { panic("no imports") }

func TestEngine_Call_Add(t *testing.T) {
	store := wasm.NewStore()
	engine := NewEngine()
	inst, err := wasm.Instantiate(store, buildAddModule(), "m", noImports{}, engine)
	require.NoError(t, err)

	addAddr, ok := inst.ResolveExport("add", wasm.ExternTypeFunc)
	require.True(t, ok)

	results, err := engine.Call(context.Background(), store, addAddr, []uint64{3, 4})
	require.NoError(t, err)
	require.Equal(t, []uint64{7}, results)
}

func TestEngine_Call_Unreachable_Traps(t *testing.T) {
	m := &wasm.Module{
		Types:               []wasm.FunctionType{{}},
		FunctionTypeIndices: []wasm.Index{0},
		Code: []wasm.Code{
			{Body: []wasm.Instruction{{Opcode: wasm.OpcodeUnreachable}, {Opcode: wasm.OpcodeEnd}}},
		},
		Exports: []wasm.Export{{Name: "boom", Type: wasm.ExternTypeFunc, Index: 0}},
	}
	store := wasm.NewStore()
	engine := NewEngine()
	inst, err := wasm.Instantiate(store, m, "m", noImports{}, engine)
	require.NoError(t, err)

	addr, ok := inst.ResolveExport("boom", wasm.ExternTypeFunc)
	require.True(t, ok)

	_, err = engine.Call(context.Background(), store, addr, nil)
	require.Error(t, err)
	var trap *wasmerr.TrapError
	require.ErrorAs(t, err, &trap)
	require.Equal(t, wasmerr.TrapUnreachable, trap.Code)
}

// buildBranchLoopModule computes the sum 0..n-1 via a loop with br_if,
// exercising branch/loop-restart control flow.
func buildBranchLoopModule() *wasm.Module {
	i32 := wasm.ValueTypeI32
	return &wasm.Module{
		Types: []wasm.FunctionType{
			{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
		},
		FunctionTypeIndices: []wasm.Index{0},
		Code: []wasm.Code{
			{
				LocalTypes: []wasm.ValueType{i32, i32}, // local 1 = i, local 2 = sum
				Body: []wasm.Instruction{
					{Opcode: wasm.OpcodeLoop, Block: &wasm.BlockType{Empty: true}, Then: []wasm.Instruction{
						// sum += i
						{Opcode: wasm.OpcodeLocalGet, Index: 2},
						{Opcode: wasm.OpcodeLocalGet, Index: 1},
						{Opcode: wasm.OpcodeI32Add},
						{Opcode: wasm.OpcodeLocalSet, Index: 2},
						// i += 1
						{Opcode: wasm.OpcodeLocalGet, Index: 1},
						{Opcode: wasm.OpcodeI32Const, I32: 1},
						{Opcode: wasm.OpcodeI32Add},
						{Opcode: wasm.OpcodeLocalSet, Index: 1},
						// br_if 0 if i != n
						{Opcode: wasm.OpcodeLocalGet, Index: 1},
						{Opcode: wasm.OpcodeLocalGet, Index: 0},
						{Opcode: wasm.OpcodeI32Ne},
						{Opcode: wasm.OpcodeBrIf, LabelIndex: 0},
					}},
					{Opcode: wasm.OpcodeLocalGet, Index: 2},
					{Opcode: wasm.OpcodeEnd},
				},
			},
		},
		Exports: []wasm.Export{{Name: "sum", Type: wasm.ExternTypeFunc, Index: 0}},
	}
}

func TestEngine_Call_LoopBranch(t *testing.T) {
	store := wasm.NewStore()
	engine := NewEngine()
	inst, err := wasm.Instantiate(store, buildBranchLoopModule(), "m", noImports{}, engine)
	require.NoError(t, err)

	addr, ok := inst.ResolveExport("sum", wasm.ExternTypeFunc)
	require.True(t, ok)

	results, err := engine.Call(context.Background(), store, addr, []uint64{5})
	require.NoError(t, err)
	require.Equal(t, []uint64{10}, results) // 0+1+2+3+4
}

// buildBlockBranchOnceModule builds f: () -> i32 with body
//
//	block (result i32)
//	  i32.const 5
//	  br 0
//	end
//	end
//
// a branch to a plain (non-loop) block label: it must exit past the block
// carrying the block's result, not restart the block's body.
func buildBlockBranchOnceModule() *wasm.Module {
	i32 := wasm.ValueTypeI32
	return &wasm.Module{
		Types: []wasm.FunctionType{
			{Results: []wasm.ValueType{i32}},
		},
		FunctionTypeIndices: []wasm.Index{0},
		Code: []wasm.Code{
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeBlock, Block: &wasm.BlockType{HasValueType: true, ValueType: i32}, Then: []wasm.Instruction{
					{Opcode: wasm.OpcodeI32Const, I32: 5},
					{Opcode: wasm.OpcodeBr, LabelIndex: 0},
				}},
				{Opcode: wasm.OpcodeEnd},
			}},
		},
		Exports: []wasm.Export{{Name: "f", Type: wasm.ExternTypeFunc, Index: 0}},
	}
}

func TestEngine_Call_BranchToBlockExitsOnce(t *testing.T) {
	store := wasm.NewStore()
	engine := NewEngine()
	inst, err := wasm.Instantiate(store, buildBlockBranchOnceModule(), "m", noImports{}, engine)
	require.NoError(t, err)

	addr, ok := inst.ResolveExport("f", wasm.ExternTypeFunc)
	require.True(t, ok)

	results, err := engine.Call(context.Background(), store, addr, nil)
	require.NoError(t, err)
	require.Equal(t, []uint64{5}, results)
}

// buildReturnFromNestedBlockModule builds f: (i32) -> i32 with body
//
//	block
//	  block
//	    local.get 0
//	    i32.const 1
//	    i32.add
//	    return
//	  end
//	  unreachable
//	end
//	unreachable
//	end
//
// a return from two levels of block nesting, which must unwind straight to
// the function boundary without ever reaching either unreachable trap.
func buildReturnFromNestedBlockModule() *wasm.Module {
	i32 := wasm.ValueTypeI32
	inner := []wasm.Instruction{
		{Opcode: wasm.OpcodeLocalGet, Index: 0},
		{Opcode: wasm.OpcodeI32Const, I32: 1},
		{Opcode: wasm.OpcodeI32Add},
		{Opcode: wasm.OpcodeReturn},
	}
	outer := []wasm.Instruction{
		{Opcode: wasm.OpcodeBlock, Block: &wasm.BlockType{Empty: true}, Then: inner},
		{Opcode: wasm.OpcodeUnreachable},
	}
	return &wasm.Module{
		Types: []wasm.FunctionType{
			{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}},
		},
		FunctionTypeIndices: []wasm.Index{0},
		Code: []wasm.Code{
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeBlock, Block: &wasm.BlockType{Empty: true}, Then: outer},
				{Opcode: wasm.OpcodeUnreachable},
				{Opcode: wasm.OpcodeEnd},
			}},
		},
		Exports: []wasm.Export{{Name: "f", Type: wasm.ExternTypeFunc, Index: 0}},
	}
}

func TestEngine_Call_ReturnFromNestedBlock(t *testing.T) {
	store := wasm.NewStore()
	engine := NewEngine()
	inst, err := wasm.Instantiate(store, buildReturnFromNestedBlockModule(), "m", noImports{}, engine)
	require.NoError(t, err)

	addr, ok := inst.ResolveExport("f", wasm.ExternTypeFunc)
	require.True(t, ok)

	results, err := engine.Call(context.Background(), store, addr, []uint64{5})
	require.NoError(t, err)
	require.Equal(t, []uint64{6}, results)
}

func TestEngine_Call_ArgCountMismatch(t *testing.T) {
	store := wasm.NewStore()
	engine := NewEngine()
	inst, err := wasm.Instantiate(store, buildAddModule(), "m", noImports{}, engine)
	require.NoError(t, err)

	addr, _ := inst.ResolveExport("add", wasm.ExternTypeFunc)
	_, err = engine.Call(context.Background(), store, addr, []uint64{1})
	require.Error(t, err)
}

func TestEngine_CloseOnContextDone(t *testing.T) {
	store := wasm.NewStore()
	engine := &Engine{CallStackCeiling: 1024, CloseOnContextDone: true}
	inst, err := wasm.Instantiate(store, buildAddModule(), "m", noImports{}, engine)
	require.NoError(t, err)
	addr, _ := inst.ResolveExport("add", wasm.ExternTypeFunc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Call(ctx, store, addr, []uint64{1, 2})
	require.ErrorIs(t, err, context.Canceled)
}
