package semblance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/wasm/binary"
)

func addModuleBytes() []byte {
	i32 := wasm.ValueTypeI32
	m := &wasm.Module{
		Types:               []wasm.FunctionType{{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}}},
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
	return binary.EncodeModule(m)
}

func TestRuntime_CompileInstantiateCall(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(ctx)

	compiled, err := rt.CompileModule(ctx, addModuleBytes())
	require.NoError(t, err)

	mod, err := rt.InstantiateModule(ctx, compiled, NewModuleConfig().WithName("m"))
	require.NoError(t, err)

	fn := mod.ExportedFunction("add")
	require.NotNil(t, fn)

	results, err := fn.Call(ctx, 3, 4)
	require.NoError(t, err)
	require.Equal(t, []uint64{7}, results)
}

func TestRuntime_InstantiateModule_DuplicateNameRejected(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(ctx)
	compiled, err := rt.CompileModule(ctx, addModuleBytes())
	require.NoError(t, err)

	_, err = rt.InstantiateModule(ctx, compiled, NewModuleConfig().WithName("dup"))
	require.NoError(t, err)

	compiled2, err := rt.CompileModule(ctx, addModuleBytes())
	require.NoError(t, err)
	_, err = rt.InstantiateModule(ctx, compiled2, NewModuleConfig().WithName("dup"))
	require.Error(t, err)
}

func TestRuntime_CompileModule_InvalidBinary(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(ctx)
	_, err := rt.CompileModule(ctx, []byte{0x01, 0x02})
	require.Error(t, err)
}

func TestRuntime_Module_LookupByName(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(ctx)
	compiled, err := rt.CompileModule(ctx, addModuleBytes())
	require.NoError(t, err)
	_, err = rt.InstantiateModule(ctx, compiled, NewModuleConfig().WithName("lookup-me"))
	require.NoError(t, err)

	require.NotNil(t, rt.Module("lookup-me"))
	require.Nil(t, rt.Module("does-not-exist"))
}

func TestRuntime_CrossModuleImport(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(ctx)

	compiled, err := rt.CompileModule(ctx, addModuleBytes())
	require.NoError(t, err)
	_, err = rt.InstantiateModule(ctx, compiled, NewModuleConfig().WithName("provider"))
	require.NoError(t, err)

	i32 := wasm.ValueTypeI32
	importer := &wasm.Module{
		Imports: []wasm.Import{{Module: "provider", Name: "add", Type: wasm.ExternTypeFunc, DescFunc: 0}},
		Types:   []wasm.FunctionType{{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}}},
	}
	importerBytes := binary.EncodeModule(importer)
	compiled2, err := rt.CompileModule(ctx, importerBytes)
	require.NoError(t, err)
	mod2, err := rt.InstantiateModule(ctx, compiled2, NewModuleConfig().WithName("importer"))
	require.NoError(t, err)
	require.NotNil(t, mod2)
}
