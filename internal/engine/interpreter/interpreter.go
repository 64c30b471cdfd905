// Package interpreter implements a tree-walking stack-machine execution
// engine for the runtime's decoded instruction trees, in the style of the
// reference C runtime this was distilled from: a single operand stack
// threaded through recursive block execution, rather than a compiled flat
// instruction stream.
package interpreter

import (
	"context"
	"math"

	"github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/wasmdebug"
	"github.com/irrio/semblance/internal/wasmerr"
)

// Engine executes function bodies against a *wasm.Store. It holds no
// mutable state of its own beyond configuration; all runtime state lives in
// the store and in the per-call frame, so one Engine can be shared by
// concurrent calls the way the embedder API's Runtime is shared.
type Engine struct {
	// CallStackCeiling bounds the depth of nested calls before a
	// TrapCallStackExhausted is raised, standing in for the native call
	// stack limit the reference runtime enforces with an explicit counter.
	CallStackCeiling int

	// CloseOnContextDone, when set, makes every nested call check
	// ctx.Err() before running, aborting the call with that error instead
	// of proceeding once the context has been canceled or has expired.
	CloseOnContextDone bool
}

// NewEngine returns an Engine with the default call stack ceiling.
func NewEngine() *Engine {
	return &Engine{CallStackCeiling: 2048}
}

// label marks one nesting level of structured control flow (including the
// implicit function-level label that return targets): the operand stack
// height on entry, and how many values a branch to this label carries.
type label struct {
	height int
	arity  int
	isLoop bool
}

// branchSignal unwinds the Go call stack up to the targeted label's block
// execution, the way a tree-walking interpreter implements br without
// threading an explicit control-flow return value through every call.
type branchSignal struct {
	depth uint32
}

// ctxDoneSignal unwinds the whole call when RuntimeConfig.WithCloseOnContextDone
// is in effect and the context has been canceled or has expired.
type ctxDoneSignal struct{ err error }

// callFrame is the per-activation state for one in-flight function call:
// its locals, the module instance it executes against (for resolving
// local/global/table/memory/function indices), the shared operand stack,
// and the label stack used for branch targeting.
type callFrame struct {
	ctx    context.Context
	engine *Engine
	store  *wasm.Store
	module *wasm.ModuleInstance
	locals []uint64
	stack  []uint64
	labels []label

	funcAddr uint32
	depth    int
}

func (f *callFrame) push(v uint64) { f.stack = append(f.stack, v) }

func (f *callFrame) pop() uint64 {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *callFrame) pushLabel(arity int, isLoop bool) {
	f.labels = append(f.labels, label{height: len(f.stack), arity: arity, isLoop: isLoop})
}

func (f *callFrame) popLabel() {
	f.labels = f.labels[:len(f.labels)-1]
}

// branch truncates the stack to the targeted label's entry height, keeping
// that label's arity worth of values from the top, then panics to unwind
// the Go stack to the matching block (or loop, or function) execution.
func (f *callFrame) branch(depth uint32) {
	lbl := f.labels[len(f.labels)-1-int(depth)]
	arity := lbl.arity
	vals := append([]uint64(nil), f.stack[len(f.stack)-arity:]...)
	f.stack = f.stack[:lbl.height]
	f.stack = append(f.stack, vals...)
	panic(branchSignal{depth: depth})
}

// Call invokes the function at funcAddr with params, returning its results.
// A trap is returned as *wasmerr.TrapError. With CloseOnContextDone set, a
// done ctx makes Call return ctx.Err(); any other error indicates params
// didn't match the function's arity.
func (e *Engine) Call(ctx context.Context, store *wasm.Store, funcAddr uint32, params []uint64) (results []uint64, err error) {
	fn := store.Functions[funcAddr]
	if len(params) != len(fn.Type.Params) {
		return nil, wasmerr.NewInstantiationError("argument count mismatch")
	}
	defer func() {
		if r := recover(); r != nil {
			if trap, ok := r.(*wasmerr.TrapError); ok {
				if trap.Frame == "" {
					if !trap.HasFunctionIndex {
						trap.FunctionIndex = funcAddr
						trap.HasFunctionIndex = true
					}
					modName := fn.HostModuleName
					if modName == "" && fn.Module != nil {
						modName = fn.Module.Name
					}
					name := wasmdebug.FuncName(modName, fn.HostName, trap.FunctionIndex)
					trap.Frame = wasmdebug.Signature(name, fn.Type.Params, fn.Type.Results)
				}
				err = trap
				return
			}
			if cd, ok := r.(ctxDoneSignal); ok {
				err = cd.err
				return
			}
			panic(r)
		}
	}()
	return e.call(ctx, store, funcAddr, params, 0), nil
}

// InvokeVoid calls a no-argument, no-result function, for the start section;
// it implements wasm.StartInvoker.
func (e *Engine) InvokeVoid(store *wasm.Store, funcAddr uint32) error {
	_, err := e.Call(context.Background(), store, funcAddr, nil)
	return err
}

// call is the internal recursive entry point; it panics with
// *wasmerr.TrapError on a trap, unlike the public Call which recovers it
// into an error return.
func (e *Engine) call(ctx context.Context, store *wasm.Store, funcAddr uint32, params []uint64, depth int) []uint64 {
	if depth >= e.CallStackCeiling {
		panic(wasmerr.NewTrap(wasmerr.TrapCallStackExhausted))
	}
	if e.CloseOnContextDone {
		if err := ctx.Err(); err != nil {
			panic(ctxDoneSignal{err: err})
		}
	}
	fn := store.Functions[funcAddr]
	if fn.HostFunc != nil {
		results, err := fn.HostFunc(ctx, params)
		if err != nil {
			if trap, ok := err.(*wasmerr.TrapError); ok {
				panic(trap)
			}
			panic(wasmerr.NewTrap(wasmerr.TrapUnreachable))
		}
		return results
	}

	locals := make([]uint64, len(fn.Type.Params)+len(fn.Code.LocalTypes))
	copy(locals, params)

	f := &callFrame{
		ctx:      ctx,
		engine:   e,
		store:    store,
		module:   fn.Module,
		locals:   locals,
		funcAddr: funcAddr,
		depth:    depth,
	}
	f.pushLabel(len(fn.Type.Results), false)

	func() {
		defer func() {
			if r := recover(); r != nil {
				if bs, ok := r.(branchSignal); ok && bs.depth == 0 {
					return
				}
				panic(r)
			}
		}()
		execInstrs(f, fn.Code.Body)
	}()

	arity := len(fn.Type.Results)
	return append([]uint64(nil), f.stack[len(f.stack)-arity:]...)
}

// execInstrs runs a straight-line instruction sequence against f, dispatching
// structured control flow recursively and every other opcode via execSimple.
func execInstrs(f *callFrame, instrs []wasm.Instruction) {
	for _, ins := range instrs {
		switch ins.Opcode {
		case wasm.OpcodeBlock:
			execBlock(f, ins, false)
		case wasm.OpcodeLoop:
			execBlock(f, ins, true)
		case wasm.OpcodeIf:
			execIf(f, ins)
		case wasm.OpcodeBr:
			f.branch(ins.LabelIndex)
		case wasm.OpcodeBrIf:
			if f.pop() != 0 {
				f.branch(ins.LabelIndex)
			}
		case wasm.OpcodeBrTable:
			idx := uint32(f.pop())
			if int(idx) < len(ins.LabelIndices) {
				f.branch(ins.LabelIndices[idx])
			} else {
				f.branch(ins.LabelIndex)
			}
		case wasm.OpcodeReturn:
			f.branch(uint32(len(f.labels) - 1))
		case wasm.OpcodeUnreachable:
			panic(wasmerr.NewTrap(wasmerr.TrapUnreachable))
		case wasm.OpcodeEnd:
			return
		default:
			execSimple(f, ins)
		}
	}
}

func blockArity(ins wasm.Instruction, module *wasm.ModuleInstance) int {
	if ins.Block == nil {
		return 0
	}
	return len(ins.Block.ResultTypes(module.Source.Types))
}

func execBlock(f *callFrame, ins wasm.Instruction, isLoop bool) {
	arity := blockArity(ins, f.module)
	if isLoop {
		// A branch to a loop label re-enters at the top, so its arity is
		// the loop's parameter count, not its result count.
		if ins.Block != nil {
			arity = len(ins.Block.ParamTypes(f.module.Source.Types))
		} else {
			arity = 0
		}
	}
	for {
		restart := func() (restart bool) {
			f.pushLabel(arity, isLoop)
			defer f.popLabel()
			return runOnce(f, ins.Then, isLoop)
		}()
		if !restart {
			return
		}
	}
}

// runOnce executes instrs once, reporting whether a branch targeted this
// block's own label. A branch to a loop label restarts execution from the
// top; a branch to a plain block label just exits past the end of the
// block, since the block itself carries no continuation to jump back to.
// Any other branch, return, or trap is re-panicked for an enclosing frame
// to handle.
func runOnce(f *callFrame, instrs []wasm.Instruction, isLoop bool) (restart bool) {
	defer func() {
		if r := recover(); r != nil {
			if bs, ok := r.(branchSignal); ok {
				if bs.depth == 0 {
					restart = isLoop
					return
				}
				panic(branchSignal{depth: bs.depth - 1})
			}
			panic(r)
		}
	}()
	execInstrs(f, instrs)
	return false
}

func execIf(f *callFrame, ins wasm.Instruction) {
	cond := f.pop()
	arity := blockArity(ins, f.module)
	body := ins.Else
	if cond != 0 {
		body = ins.Then
	}
	f.pushLabel(arity, false)
	defer f.popLabel()
	runOnce(f, body, false)
}

// execSimple dispatches every instruction that isn't structured control
// flow: locals/globals, memory, numeric, and table/reference instructions.
func execSimple(f *callFrame, ins wasm.Instruction) {
	switch {
	case ins.Opcode == wasm.OpcodeNop:
	case ins.Opcode == wasm.OpcodeDrop:
		f.pop()
	case ins.Opcode == wasm.OpcodeSelect:
		execSelect(f)
	case ins.Opcode == wasm.OpcodeCall:
		execCall(f, ins)
	case ins.Opcode == wasm.OpcodeCallIndirect:
		execCallIndirect(f, ins)
	case ins.Opcode == wasm.OpcodeLocalGet:
		f.push(f.locals[ins.Index])
	case ins.Opcode == wasm.OpcodeLocalSet:
		f.locals[ins.Index] = f.pop()
	case ins.Opcode == wasm.OpcodeLocalTee:
		v := f.pop()
		f.locals[ins.Index] = v
		f.push(v)
	case ins.Opcode == wasm.OpcodeGlobalGet:
		f.push(f.store.Globals[f.module.GlobalAddrs[ins.Index]].Get())
	case ins.Opcode == wasm.OpcodeGlobalSet:
		f.store.Globals[f.module.GlobalAddrs[ins.Index]].Set(f.pop())
	case ins.Opcode == wasm.OpcodeTableGet:
		idx := uint32(f.pop())
		table := f.store.Tables[f.module.TableAddrs[ins.Index]]
		if int(idx) >= len(table.Elem) {
			panic(wasmerr.NewTrap(wasmerr.TrapTableOutOfBounds))
		}
		f.push(uint64(table.Elem[idx]))
	case ins.Opcode == wasm.OpcodeTableSet:
		v := uint32(f.pop())
		idx := uint32(f.pop())
		table := f.store.Tables[f.module.TableAddrs[ins.Index]]
		if int(idx) >= len(table.Elem) {
			panic(wasmerr.NewTrap(wasmerr.TrapTableOutOfBounds))
		}
		table.Elem[idx] = v
	case ins.Opcode == wasm.OpcodeRefNull:
		f.push(wasm.RefTypeNull)
	case ins.Opcode == wasm.OpcodeRefIsNull:
		if f.pop() == wasm.RefTypeNull {
			f.push(1)
		} else {
			f.push(0)
		}
	case ins.Opcode == wasm.OpcodeRefFunc:
		f.push(uint64(f.module.FunctionAddrs[ins.Index]))
	case ins.Opcode == wasm.OpcodeI32Const:
		f.push(uint64(uint32(ins.I32)))
	case ins.Opcode == wasm.OpcodeI64Const:
		f.push(uint64(ins.I64))
	case ins.Opcode == wasm.OpcodeF32Const:
		f.push(uint64(math.Float32bits(ins.F32)))
	case ins.Opcode == wasm.OpcodeF64Const:
		f.push(math.Float64bits(ins.F64))
	case isMemoryInstr(ins.Opcode):
		execMemory(f, ins)
	case ins.Opcode == wasm.OpcodeMemorySize:
		mem := f.store.Memories[f.module.MemoryAddrs[0]]
		f.push(uint64(mem.PageCount()))
	case ins.Opcode == wasm.OpcodeMemoryGrow:
		delta := uint32(f.pop())
		mem := f.store.Memories[f.module.MemoryAddrs[0]]
		prev, ok := mem.Grow(delta, f.store.MemoryPageCeiling)
		if !ok {
			f.push(uint64(uint32(0xffffffff)))
		} else {
			f.push(uint64(prev))
		}
	case ins.Opcode >= 0xfc00:
		execBulk(f, ins)
	default:
		execNumeric(f, ins)
	}
}

func execSelect(f *callFrame) {
	cond := f.pop()
	v2 := f.pop()
	v1 := f.pop()
	if cond != 0 {
		f.push(v1)
	} else {
		f.push(v2)
	}
}

func execCall(f *callFrame, ins wasm.Instruction) {
	addr := f.module.FunctionAddrs[ins.Index]
	fn := f.store.Functions[addr]
	args := make([]uint64, len(fn.Type.Params))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = f.pop()
	}
	callCtx := f.ctx
	if f.store.Functions[addr].HostFunc != nil {
		callCtx = wasm.ContextWithCallerModule(callCtx, f.module)
	}
	results := f.engine.call(callCtx, f.store, addr, args, f.depth+1)
	for _, r := range results {
		f.push(r)
	}
}

func execCallIndirect(f *callFrame, ins wasm.Instruction) {
	typeIdx, tableIdx := ins.Index, ins.Index2
	elemIdx := uint32(f.pop())
	table := f.store.Tables[f.module.TableAddrs[tableIdx]]
	if int(elemIdx) >= len(table.Elem) {
		panic(wasmerr.NewTrap(wasmerr.TrapTableOutOfBounds))
	}
	addr := table.Elem[elemIdx]
	if addr == wasm.RefTypeNull {
		panic(wasmerr.NewTrap(wasmerr.TrapUninitializedElement))
	}
	fn := f.store.Functions[addr]
	want := f.module.Source.Types[typeIdx]
	if !sameFunctionType(fn.Type, want) {
		panic(wasmerr.NewTrap(wasmerr.TrapIndirectCallTypeMismatch))
	}
	args := make([]uint64, len(fn.Type.Params))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = f.pop()
	}
	callCtx := f.ctx
	if fn.HostFunc != nil {
		callCtx = wasm.ContextWithCallerModule(callCtx, f.module)
	}
	results := f.engine.call(callCtx, f.store, addr, args, f.depth+1)
	for _, r := range results {
		f.push(r)
	}
}

func sameFunctionType(a, b wasm.FunctionType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}
