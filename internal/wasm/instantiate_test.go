package wasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irrio/semblance/internal/wasmerr"
)

// noopInvoker satisfies StartInvoker without running any module code; tests
// that don't exercise a start function can use it.
type noopInvoker struct{ calls []uint32 }

func (n *noopInvoker) InvokeVoid(store *Store, funcAddr uint32) error {
	n.calls = append(n.calls, funcAddr)
	return nil
}

// failingProvider rejects every import resolution, for negative tests.
type failingProvider struct{}

func (failingProvider) ResolveFunc(string, string, FunctionType) (uint32, error) {
	return 0, wasmerr.NewInstantiationError("no such import")
}
func (failingProvider) ResolveTable(string, string, TableType) (uint32, error) {
	return 0, wasmerr.NewInstantiationError("no such import")
}
func (failingProvider) ResolveMemory(string, string, MemoryType) (uint32, error) {
	return 0, wasmerr.NewInstantiationError("no such import")
}
func (failingProvider) ResolveGlobal(string, string, GlobalType) (uint32, error) {
	return 0, wasmerr.NewInstantiationError("no such import")
}

// fixedProvider resolves every import to the same address, regardless of
// name, for positive import-resolution tests.
type fixedProvider struct{ addr uint32 }

func (f fixedProvider) ResolveFunc(string, string, FunctionType) (uint32, error) {
	return f.addr, nil
}
func (f fixedProvider) ResolveTable(string, string, TableType) (uint32, error) { return f.addr, nil }
func (f fixedProvider) ResolveMemory(string, string, MemoryType) (uint32, error) {
	return f.addr, nil
}
func (f fixedProvider) ResolveGlobal(string, string, GlobalType) (uint32, error) {
	return f.addr, nil
}

func TestInstantiate_AllocatesGlobalsAndFunctionsAndExports(t *testing.T) {
	i32 := ValueTypeI32
	m := &Module{
		Types:               []FunctionType{{Results: []ValueType{i32}}},
		FunctionTypeIndices: []Index{0},
		Globals: []Global{
			{Type: GlobalType{ValType: i32, Mutable: false}, Init: []Instruction{
				{Opcode: OpcodeI32Const, I32: 7}, {Opcode: OpcodeEnd},
			}},
		},
		Code:    []Code{{Body: []Instruction{{Opcode: OpcodeEnd}}}},
		Exports: []Export{{Name: "g", Type: ExternTypeGlobal, Index: 0}, {Name: "f", Type: ExternTypeFunc, Index: 0}},
	}
	store := NewStore()
	inst, err := Instantiate(store, m, "m", failingProvider{}, &noopInvoker{})
	require.NoError(t, err)

	gAddr, ok := inst.ResolveExport("g", ExternTypeGlobal)
	require.True(t, ok)
	require.Equal(t, uint64(7), store.Globals[gAddr].Get())

	_, ok = inst.ResolveExport("f", ExternTypeFunc)
	require.True(t, ok)
}

func TestInstantiate_ResolvesImports(t *testing.T) {
	m := &Module{
		Imports: []Import{{Module: "env", Name: "f", Type: ExternTypeFunc, DescFunc: 0}},
		NumFuncImports: 1,
		Types:          []FunctionType{{}},
	}
	store := NewStore()
	hostFn := &FunctionInstance{Type: FunctionType{}}
	addr := store.allocFunction(hostFn)

	inst, err := Instantiate(store, m, "m", fixedProvider{addr: addr}, &noopInvoker{})
	require.NoError(t, err)
	require.Equal(t, []uint32{addr}, inst.FunctionAddrs)
}

func TestInstantiate_ImportResolutionFailure(t *testing.T) {
	m := &Module{
		Imports: []Import{{Module: "env", Name: "missing", Type: ExternTypeFunc, DescFunc: 0}},
		Types:   []FunctionType{{}},
	}
	store := NewStore()
	_, err := Instantiate(store, m, "m", failingProvider{}, &noopInvoker{})
	require.Error(t, err)
}

func TestInstantiate_ActiveElementSegmentCopiesIntoTable(t *testing.T) {
	i32 := ValueTypeI32
	_ = i32
	m := &Module{
		Types:               []FunctionType{{}},
		FunctionTypeIndices: []Index{0, 0},
		Code: []Code{
			{Body: []Instruction{{Opcode: OpcodeEnd}}},
			{Body: []Instruction{{Opcode: OpcodeEnd}}},
		},
		Tables: []TableType{{Limits: Limits{Min: 4}}},
		Elements: []ElementSegment{
			{Mode: ElementModeActive, TableIdx: 0, Offset: []Instruction{
				{Opcode: OpcodeI32Const, I32: 1}, {Opcode: OpcodeEnd},
			}, Init: [][]Instruction{
				{{Opcode: OpcodeRefFunc, Index: 0}},
				{{Opcode: OpcodeRefFunc, Index: 1}},
			}},
		},
	}
	store := NewStore()
	inst, err := Instantiate(store, m, "m", failingProvider{}, &noopInvoker{})
	require.NoError(t, err)

	table := store.Tables[inst.TableAddrs[0]]
	require.Equal(t, inst.FunctionAddrs[0], table.Elem[1])
	require.Equal(t, inst.FunctionAddrs[1], table.Elem[2])
}

func TestInstantiate_ActiveElementSegmentOutOfBoundsTraps(t *testing.T) {
	m := &Module{
		Types:               []FunctionType{{}},
		FunctionTypeIndices: []Index{0},
		Code:                []Code{{Body: []Instruction{{Opcode: OpcodeEnd}}}},
		Tables:               []TableType{{Limits: Limits{Min: 1}}},
		Elements: []ElementSegment{
			{Mode: ElementModeActive, TableIdx: 0, Offset: []Instruction{
				{Opcode: OpcodeI32Const, I32: 5}, {Opcode: OpcodeEnd},
			}, Init: [][]Instruction{
				{{Opcode: OpcodeRefFunc, Index: 0}},
			}},
		},
	}
	store := NewStore()
	_, err := Instantiate(store, m, "m", failingProvider{}, &noopInvoker{})
	require.Error(t, err)
	var instErr *wasmerr.InstantiationError
	require.ErrorAs(t, err, &instErr)
}

func TestInstantiate_ActiveDataSegmentCopiesIntoMemory(t *testing.T) {
	m := &Module{
		Memories: []MemoryType{{Limits: Limits{Min: 1}}},
		DataSegments: []DataSegment{
			{Mode: DataModeActive, MemIdx: 0, Offset: []Instruction{
				{Opcode: OpcodeI32Const, I32: 0}, {Opcode: OpcodeEnd},
			}, Init: []byte{1, 2, 3, 4}},
		},
	}
	store := NewStore()
	inst, err := Instantiate(store, m, "m", failingProvider{}, &noopInvoker{})
	require.NoError(t, err)

	mem := store.Memories[inst.MemoryAddrs[0]]
	require.Equal(t, []byte{1, 2, 3, 4}, mem.Data[:4])
}

func TestInstantiate_ActiveDataSegmentOutOfBoundsTraps(t *testing.T) {
	m := &Module{
		Memories: []MemoryType{{Limits: Limits{Min: 1}}},
		DataSegments: []DataSegment{
			{Mode: DataModeActive, MemIdx: 0, Offset: []Instruction{
				{Opcode: OpcodeI32Const, I32: 65530}, {Opcode: OpcodeEnd},
			}, Init: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		},
	}
	store := NewStore()
	_, err := Instantiate(store, m, "m", failingProvider{}, &noopInvoker{})
	require.Error(t, err)
}

func TestInstantiate_GlobalRefFuncSeesModuleDefinedFunction(t *testing.T) {
	m := &Module{
		Types:               []FunctionType{{}},
		FunctionTypeIndices: []Index{0},
		Code:                []Code{{Body: []Instruction{{Opcode: OpcodeEnd}}}},
		Globals: []Global{
			{Type: GlobalType{ValType: ValueTypeFuncref}, Init: []Instruction{
				{Opcode: OpcodeRefFunc, Index: 0}, {Opcode: OpcodeEnd},
			}},
		},
	}
	store := NewStore()
	inst, err := Instantiate(store, m, "m", failingProvider{}, &noopInvoker{})
	require.NoError(t, err)
	require.Equal(t, uint64(inst.FunctionAddrs[0]), store.Globals[inst.GlobalAddrs[0]].Get())
}

func TestInstantiate_ActiveElementSegmentIsDroppedAfterCopy(t *testing.T) {
	m := &Module{
		Types:               []FunctionType{{}},
		FunctionTypeIndices: []Index{0},
		Code:                []Code{{Body: []Instruction{{Opcode: OpcodeEnd}}}},
		Tables:              []TableType{{Limits: Limits{Min: 4}}},
		Elements: []ElementSegment{
			{Mode: ElementModeActive, TableIdx: 0, Offset: []Instruction{
				{Opcode: OpcodeI32Const, I32: 0}, {Opcode: OpcodeEnd},
			}, Init: [][]Instruction{
				{{Opcode: OpcodeRefFunc, Index: 0}},
			}},
		},
	}
	store := NewStore()
	inst, err := Instantiate(store, m, "m", failingProvider{}, &noopInvoker{})
	require.NoError(t, err)

	elem := store.Elements[inst.ElementAddrs[0]]
	require.True(t, elem.Dropped)
	require.Nil(t, elem.Elem)
}

func TestInstantiate_DeclarativeElementSegmentIsDroppedImmediately(t *testing.T) {
	m := &Module{
		Types:               []FunctionType{{}},
		FunctionTypeIndices: []Index{0},
		Code:                []Code{{Body: []Instruction{{Opcode: OpcodeEnd}}}},
		Elements: []ElementSegment{
			{Mode: ElementModeDeclarative, Init: [][]Instruction{
				{{Opcode: OpcodeRefFunc, Index: 0}},
			}},
		},
	}
	store := NewStore()
	inst, err := Instantiate(store, m, "m", failingProvider{}, &noopInvoker{})
	require.NoError(t, err)

	elem := store.Elements[inst.ElementAddrs[0]]
	require.True(t, elem.Dropped)
}

func TestInstantiate_StartFunctionInvoked(t *testing.T) {
	m := &Module{
		Types:               []FunctionType{{}},
		FunctionTypeIndices: []Index{0},
		Code:                []Code{{Body: []Instruction{{Opcode: OpcodeEnd}}}},
		HasStart:            true,
		StartFunctionIndex:  0,
	}
	store := NewStore()
	invoker := &noopInvoker{}
	inst, err := Instantiate(store, m, "m", failingProvider{}, invoker)
	require.NoError(t, err)
	require.Equal(t, []uint32{inst.FunctionAddrs[0]}, invoker.calls)
}

func TestInstantiate_GlobalGetConstExprReadsImportedGlobal(t *testing.T) {
	i32 := ValueTypeI32
	m := &Module{
		Imports: []Import{{Module: "env", Name: "g", Type: ExternTypeGlobal, DescGlobal: GlobalType{ValType: i32}}},
		Globals: []Global{
			{Type: GlobalType{ValType: i32}, Init: []Instruction{
				{Opcode: OpcodeGlobalGet, Index: 0}, {Opcode: OpcodeEnd},
			}},
		},
	}
	store := NewStore()
	importedAddr := store.allocGlobal(GlobalType{ValType: i32}, 99)

	inst, err := Instantiate(store, m, "m", fixedProvider{addr: importedAddr}, &noopInvoker{})
	require.NoError(t, err)
	require.Equal(t, uint64(99), store.Globals[inst.GlobalAddrs[1]].Get())
}

func TestModuleInstance_ResolveExport_WrongKind(t *testing.T) {
	m := &Module{
		Types:               []FunctionType{{}},
		FunctionTypeIndices: []Index{0},
		Code:                []Code{{Body: []Instruction{{Opcode: OpcodeEnd}}}},
		Exports:             []Export{{Name: "f", Type: ExternTypeFunc, Index: 0}},
	}
	store := NewStore()
	inst, err := Instantiate(store, m, "m", failingProvider{}, &noopInvoker{})
	require.NoError(t, err)

	_, ok := inst.ResolveExport("f", ExternTypeGlobal)
	require.False(t, ok)
	_, ok = inst.ResolveExport("nonexistent", ExternTypeFunc)
	require.False(t, ok)
}

func TestContextWithCallerModule(t *testing.T) {
	ctx := context.Background()
	require.Nil(t, CallerModuleFromContext(ctx))

	inst := &ModuleInstance{Name: "caller"}
	ctx = ContextWithCallerModule(ctx, inst)
	require.Same(t, inst, CallerModuleFromContext(ctx))
}
