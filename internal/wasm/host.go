package wasm

// HostFunctionDef describes one Go function exported from a host module,
// built by the embedder API's HostModuleBuilder.
type HostFunctionDef struct {
	Name string
	Type FunctionType
	Func HostFunction
}

// HostGlobalDef describes one global variable exported from a host module.
type HostGlobalDef struct {
	Name string
	Type GlobalType
	Init uint64
}

// HostMemoryDef describes the single memory a host module may export.
type HostMemoryDef struct {
	Name string
	Type MemoryType
}

// NewHostModuleInstance builds a ModuleInstance directly from host
// definitions, bypassing the decode/Instantiate pipeline: a host module has
// no bytecode to decode and no imports of its own to resolve, so it only
// needs the allocation half of the protocol Instantiate implements for
// guest modules.
func NewHostModuleInstance(store *Store, name string, funcs []HostFunctionDef, globals []HostGlobalDef, mem *HostMemoryDef) *ModuleInstance {
	inst := &ModuleInstance{Name: name, Store: store, Exports: map[string]Export{}}

	for _, f := range funcs {
		fi := &FunctionInstance{
			Type:           f.Type,
			HostFunc:       f.Func,
			HostModuleName: name,
			HostName:       f.Name,
		}
		addr := store.allocFunction(fi)
		inst.FunctionAddrs = append(inst.FunctionAddrs, addr)
		inst.Exports[f.Name] = Export{Name: f.Name, Type: ExternTypeFunc, Index: uint32(len(inst.FunctionAddrs) - 1)}
	}
	for _, g := range globals {
		addr := store.allocGlobal(g.Type, g.Init)
		inst.GlobalAddrs = append(inst.GlobalAddrs, addr)
		inst.Exports[g.Name] = Export{Name: g.Name, Type: ExternTypeGlobal, Index: uint32(len(inst.GlobalAddrs) - 1)}
	}
	if mem != nil {
		addr := store.allocMemory(mem.Type)
		inst.MemoryAddrs = append(inst.MemoryAddrs, addr)
		inst.Exports[mem.Name] = Export{Name: mem.Name, Type: ExternTypeMemory, Index: uint32(len(inst.MemoryAddrs) - 1)}
	}
	return inst
}

// FunctionType returns the signature of the function at addr, for import
// signature-compatibility checks performed by the embedder API's
// ImportProvider implementation.
func (s *Store) FunctionType(addr uint32) FunctionType {
	return s.Functions[addr].Type
}
