package semblance

import (
	"context"

	"github.com/irrio/semblance/api"
	"github.com/irrio/semblance/internal/engine/interpreter"
	"github.com/irrio/semblance/internal/wasm"
)

// moduleInstance adapts a *wasm.ModuleInstance to api.Module.
type moduleInstance struct {
	inst   *wasm.ModuleInstance
	engine *interpreter.Engine
}

var _ api.Module = (*moduleInstance)(nil)

func (m *moduleInstance) Name() string { return m.inst.Name }

func (m *moduleInstance) Memory() api.Memory {
	if len(m.inst.MemoryAddrs) == 0 {
		return nil
	}
	return &memory{inst: m.inst.Store.Memories[m.inst.MemoryAddrs[0]], store: m.inst.Store}
}

func (m *moduleInstance) ExportedFunction(name string) api.Function {
	addr, ok := m.inst.ResolveExport(name, wasm.ExternTypeFunc)
	if !ok {
		return nil
	}
	return &function{store: m.inst.Store, engine: m.engine, addr: addr, moduleName: m.inst.Name, exportName: name}
}

func (m *moduleInstance) ExportedMemory(name string) api.Memory {
	addr, ok := m.inst.ResolveExport(name, wasm.ExternTypeMemory)
	if !ok {
		return nil
	}
	return &memory{inst: m.inst.Store.Memories[addr], store: m.inst.Store}
}

func (m *moduleInstance) ExportedGlobal(name string) api.Global {
	addr, ok := m.inst.ResolveExport(name, wasm.ExternTypeGlobal)
	if !ok {
		return nil
	}
	g := m.inst.Store.Globals[addr]
	w := &global{inst: g}
	if g.Type.Mutable {
		return &mutableGlobal{w}
	}
	return w
}

// function adapts a store function address to api.Function.
type function struct {
	store      *wasm.Store
	engine     *interpreter.Engine
	addr       uint32
	moduleName string
	exportName string
}

var _ api.Function = (*function)(nil)

func (f *function) Definition() api.FunctionDefinition {
	return &functionDefinition{sig: f.store.FunctionType(f.addr), moduleName: f.moduleName, name: f.exportName}
}

func (f *function) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return f.engine.Call(ctx, f.store, f.addr, params)
}

type functionDefinition struct {
	sig        wasm.FunctionType
	moduleName string
	name       string
}

var _ api.FunctionDefinition = (*functionDefinition)(nil)

func (d *functionDefinition) ModuleName() string        { return d.moduleName }
func (d *functionDefinition) Name() string               { return d.name }
func (d *functionDefinition) ParamTypes() []api.ValueType  { return d.sig.Params }
func (d *functionDefinition) ResultTypes() []api.ValueType { return d.sig.Results }

// global adapts a *wasm.GlobalInstance to api.Global.
type global struct {
	inst *wasm.GlobalInstance
}

var _ api.Global = (*global)(nil)

func (g *global) Type() api.ValueType { return g.inst.Type.ValType }
func (g *global) Get() uint64         { return g.inst.Get() }

// mutableGlobal additionally exposes Set, for globals declared mutable.
type mutableGlobal struct {
	*global
}

var _ api.MutableGlobal = (*mutableGlobal)(nil)

func (g *mutableGlobal) Set(v uint64) { g.inst.Set(v) }

// memory adapts a *wasm.MemoryInstance to api.Memory.
type memory struct {
	inst  *wasm.MemoryInstance
	store *wasm.Store
}

var _ api.Memory = (*memory)(nil)

func (m *memory) Size() uint32 { return m.inst.PageCount() * 65536 }

func (m *memory) Grow(deltaPages uint32) (uint32, bool) {
	return m.inst.Grow(deltaPages, m.store.MemoryPageCeiling)
}

func (m *memory) inBounds(offset, byteCount uint32) bool {
	end := uint64(offset) + uint64(byteCount)
	return end <= uint64(len(m.inst.Data))
}

func (m *memory) ReadByte(offset uint32) (byte, bool) {
	if !m.inBounds(offset, 1) {
		return 0, false
	}
	return m.inst.Data[offset], true
}

func (m *memory) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.inBounds(offset, 4) {
		return 0, false
	}
	b := m.inst.Data[offset : offset+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

func (m *memory) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.inBounds(offset, 8) {
		return 0, false
	}
	b := m.inst.Data[offset : offset+8]
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, true
}

func (m *memory) Read(offset, byteCount uint32) ([]byte, bool) {
	if !m.inBounds(offset, byteCount) {
		return nil, false
	}
	return m.inst.Data[offset : offset+byteCount], true
}

func (m *memory) WriteByte(offset uint32, v byte) bool {
	if !m.inBounds(offset, 1) {
		return false
	}
	m.inst.Data[offset] = v
	return true
}

func (m *memory) WriteUint32Le(offset uint32, v uint32) bool {
	if !m.inBounds(offset, 4) {
		return false
	}
	b := m.inst.Data[offset : offset+4]
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	return true
}

func (m *memory) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.inBounds(offset, 8) {
		return false
	}
	b := m.inst.Data[offset : offset+8]
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return true
}

func (m *memory) Write(offset uint32, v []byte) bool {
	if !m.inBounds(offset, uint32(len(v))) {
		return false
	}
	copy(m.inst.Data[offset:], v)
	return true
}
