package wasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewHostModuleInstance(t *testing.T) {
	i32 := ValueTypeI32
	store := NewStore()

	called := false
	fn := HostFunctionDef{
		Name: "double",
		Type: FunctionType{Params: []ValueType{i32}, Results: []ValueType{i32}},
		Func: func(ctx context.Context, params []uint64) ([]uint64, error) {
			called = true
			return []uint64{params[0] * 2}, nil
		},
	}
	global := HostGlobalDef{Name: "counter", Type: GlobalType{ValType: i32, Mutable: true}, Init: 5}
	mem := &HostMemoryDef{Name: "memory", Type: MemoryType{Limits: Limits{Min: 1}}}

	inst := NewHostModuleInstance(store, "env", []HostFunctionDef{fn}, []HostGlobalDef{global}, mem)

	require.Equal(t, "env", inst.Name)

	fnAddr, ok := inst.ResolveExport("double", ExternTypeFunc)
	require.True(t, ok)
	fi := store.Functions[fnAddr]
	require.NotNil(t, fi.HostFunc)
	require.Equal(t, "env", fi.HostModuleName)
	require.Equal(t, "double", fi.HostName)

	results, err := fi.HostFunc(context.Background(), []uint64{21})
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
	require.True(t, called)

	gAddr, ok := inst.ResolveExport("counter", ExternTypeGlobal)
	require.True(t, ok)
	require.Equal(t, uint64(5), store.Globals[gAddr].Get())

	mAddr, ok := inst.ResolveExport("memory", ExternTypeMemory)
	require.True(t, ok)
	require.Equal(t, uint32(1), store.Memories[mAddr].PageCount())
}

func TestNewHostModuleInstance_NoMemory(t *testing.T) {
	store := NewStore()
	inst := NewHostModuleInstance(store, "env", nil, nil, nil)
	require.Empty(t, inst.MemoryAddrs)
	_, ok := inst.ResolveExport("memory", ExternTypeMemory)
	require.False(t, ok)
}

func TestStore_FunctionType(t *testing.T) {
	store := NewStore()
	sig := FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI64}}
	addr := store.allocFunction(&FunctionInstance{Type: sig})
	require.Equal(t, sig, store.FunctionType(addr))
}
