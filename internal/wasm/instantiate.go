package wasm

import (
	"math"

	"github.com/irrio/semblance/internal/wasmerr"
)

// ImportProvider resolves one import of a module being instantiated to a
// store address. The embedder API is responsible for building one of these
// from the set of already-instantiated modules and host modules visible by
// name; internal/wasm only needs the narrow capability of looking an import
// up, not the bookkeeping of how it was found.
type ImportProvider interface {
	ResolveFunc(moduleName, name string, sig FunctionType) (addr uint32, err error)
	ResolveTable(moduleName, name string, t TableType) (addr uint32, err error)
	ResolveMemory(moduleName, name string, t MemoryType) (addr uint32, err error)
	ResolveGlobal(moduleName, name string, t GlobalType) (addr uint32, err error)
}

// StartInvoker calls a module-defined function with no arguments and no
// results, as used for the start section. It is implemented by the interpreter package; internal/wasm
// depends on it only through this interface to avoid a circular import.
type StartInvoker interface {
	InvokeVoid(store *Store, funcAddr uint32) error
}

// Instantiate allocates a ModuleInstance for m against store, resolving its
// imports through provider, evaluating every initializer expression,
// copying active element and data segments, and finally invoking the start
// function if one is declared. The order is: resolve imports, allocate
// module-defined functions, evaluate and allocate globals, allocate tables,
// memories, element and data segments, copy active segments, then run
// start. A failure part-way leaves what was already allocated in the store.
func Instantiate(store *Store, m *Module, name string, provider ImportProvider, invoker StartInvoker) (*ModuleInstance, error) {
	inst := &ModuleInstance{Source: m, Name: name, Store: store, Exports: map[string]Export{}}

	if err := resolveImports(store, m, inst, provider); err != nil {
		return nil, err
	}

	// Module-defined function addresses are allocated before any constant
	// expression is evaluated, since a global initializer (or an element
	// initializer, evaluated further below) may reference one of them via
	// ref.func; imports were already resolved above, so FunctionAddrs is
	// complete for both imported and module-defined indices at this point.
	for i := range m.FunctionTypeIndices {
		fi := &FunctionInstance{
			Type:   m.Types[m.FunctionTypeIndices[i]],
			Module: inst,
			Code:   &m.Code[i],
		}
		addr := store.allocFunction(fi)
		inst.FunctionAddrs = append(inst.FunctionAddrs, addr)
	}

	// Globals are evaluated and allocated in declaration order in a single
	// left-to-right pass; GlobalAddrs grows as it goes, so a global.get in an
	// initializer resolves imports and any earlier module-defined global.
	for _, g := range m.Globals {
		v, err := evalConstExpr(g.Init, inst)
		if err != nil {
			return nil, wasmerr.NewInstantiationError("evaluating global initializer: " + err.Error())
		}
		addr := store.allocGlobal(g.Type, v)
		inst.GlobalAddrs = append(inst.GlobalAddrs, addr)
	}

	for _, t := range m.Tables {
		inst.TableAddrs = append(inst.TableAddrs, store.allocTable(t))
	}
	for _, mt := range m.Memories {
		inst.MemoryAddrs = append(inst.MemoryAddrs, store.allocMemory(mt))
	}

	// Element segments are allocated into the store (so table.init/elem.drop
	// have somewhere to point even for segments consumed by an active copy)
	// before the active ones are copied into their tables. Each Init entry
	// is a const expression (ref.func or ref.null) regardless of which
	// binary encoding produced it; evaluating it here is what ties a
	// ref.func entry to a module-defined function address.
	for _, es := range m.Elements {
		refs := make([]uint32, len(es.Init))
		for i, expr := range es.Init {
			v, err := evalConstExpr(expr, inst)
			if err != nil {
				return nil, wasmerr.NewInstantiationError("evaluating element initializer: " + err.Error())
			}
			refs[i] = uint32(v)
		}
		addr := store.allocElement(refs)
		inst.ElementAddrs = append(inst.ElementAddrs, addr)
		if es.Mode == ElementModeDeclarative {
			// Declarative segments exist only so ref.func keeps its target
			// reachable for validation; they're never copied into a table,
			// so they're dropped the instant they're allocated.
			store.Elements[addr].Dropped = true
			store.Elements[addr].Elem = nil
		}
	}
	for _, ds := range m.DataSegments {
		addr := store.allocData(append([]byte(nil), ds.Init...))
		inst.DataAddrs = append(inst.DataAddrs, addr)
	}

	for i, es := range m.Elements {
		if es.Mode != ElementModeActive {
			continue
		}
		offset, err := evalConstExpr(es.Offset, inst)
		if err != nil {
			return nil, wasmerr.NewInstantiationError("evaluating element offset: " + err.Error())
		}
		table := store.Tables[inst.TableAddrs[es.TableIdx]]
		elem := store.Elements[inst.ElementAddrs[i]]
		if int(offset)+len(elem.Elem) > len(table.Elem) {
			return nil, wasmerr.NewInstantiationTrap(wasmerr.NewTrap(wasmerr.TrapTableOutOfBounds))
		}
		copy(table.Elem[offset:], elem.Elem)
		// An active segment behaves as if elem.drop ran right after the
		// copy: a later table.init of the same index must trap, not
		// silently repeat the copy.
		elem.Dropped = true
		elem.Elem = nil
	}
	for i, ds := range m.DataSegments {
		if ds.Mode != DataModeActive {
			continue
		}
		offset, err := evalConstExpr(ds.Offset, inst)
		if err != nil {
			return nil, wasmerr.NewInstantiationError("evaluating data offset: " + err.Error())
		}
		mem := store.Memories[inst.MemoryAddrs[ds.MemIdx]]
		data := store.Data[inst.DataAddrs[i]]
		if int(offset)+len(data.Bytes) > len(mem.Data) {
			return nil, wasmerr.NewInstantiationTrap(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
		}
		copy(mem.Data[offset:], data.Bytes)
		data.Dropped = true
		data.Bytes = nil
	}

	for _, e := range m.Exports {
		inst.Exports[e.Name] = e
	}

	if m.HasStart {
		if err := invoker.InvokeVoid(store, inst.FunctionAddrs[m.StartFunctionIndex]); err != nil {
			if trap, ok := err.(*wasmerr.TrapError); ok {
				return nil, wasmerr.NewInstantiationTrap(trap)
			}
			return nil, wasmerr.NewInstantiationError("start function: " + err.Error())
		}
	}

	return inst, nil
}

func resolveImports(store *Store, m *Module, inst *ModuleInstance, provider ImportProvider) error {
	for _, imp := range m.Imports {
		switch imp.Type {
		case ExternTypeFunc:
			sig := m.Types[imp.DescFunc]
			addr, err := provider.ResolveFunc(imp.Module, imp.Name, sig)
			if err != nil {
				return wasmerr.NewInstantiationError("resolving import " + imp.Module + "." + imp.Name + ": " + err.Error())
			}
			inst.FunctionAddrs = append(inst.FunctionAddrs, addr)
		case ExternTypeTable:
			addr, err := provider.ResolveTable(imp.Module, imp.Name, imp.DescTable)
			if err != nil {
				return wasmerr.NewInstantiationError("resolving import " + imp.Module + "." + imp.Name + ": " + err.Error())
			}
			inst.TableAddrs = append(inst.TableAddrs, addr)
		case ExternTypeMemory:
			addr, err := provider.ResolveMemory(imp.Module, imp.Name, imp.DescMem)
			if err != nil {
				return wasmerr.NewInstantiationError("resolving import " + imp.Module + "." + imp.Name + ": " + err.Error())
			}
			inst.MemoryAddrs = append(inst.MemoryAddrs, addr)
		case ExternTypeGlobal:
			addr, err := provider.ResolveGlobal(imp.Module, imp.Name, imp.DescGlobal)
			if err != nil {
				return wasmerr.NewInstantiationError("resolving import " + imp.Module + "." + imp.Name + ": " + err.Error())
			}
			inst.GlobalAddrs = append(inst.GlobalAddrs, addr)
		}
	}
	return nil
}

// evalConstExpr evaluates a restricted constant expression: the
// instantiation-time sub-interpreter used for global initializers, and
// active element/data segment offsets. The grammar admits only the four
// *.const instructions, ref.null, ref.func, and global.get of an already
// resolved import, terminated by end — never a general computation.
func evalConstExpr(body []Instruction, inst *ModuleInstance) (uint64, error) {
	var result uint64
	for _, ins := range body {
		switch ins.Opcode {
		case OpcodeI32Const:
			result = uint64(uint32(ins.I32))
		case OpcodeI64Const:
			result = uint64(ins.I64)
		case OpcodeF32Const:
			result = uint64(math.Float32bits(ins.F32))
		case OpcodeF64Const:
			result = math.Float64bits(ins.F64)
		case OpcodeRefNull:
			result = RefTypeNull
		case OpcodeRefFunc:
			result = uint64(inst.FunctionAddrs[ins.Index])
		case OpcodeGlobalGet:
			result = inst.Store.Globals[inst.GlobalAddrs[ins.Index]].Get()
		case OpcodeEnd:
			// terminator, no-op
		default:
			return 0, wasmerr.NewDecodeError(wasmerr.ErrInvalidType, nil)
		}
	}
	return result, nil
}
