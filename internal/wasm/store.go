package wasm

import (
	"context"
	"sync"
)

// page is the fixed WebAssembly memory page size: 64KB.
const page = 64 * 1024

// MaxPages bounds the number of pages a memory can ever grow to under the
// 32-bit address space, per the WebAssembly 1.0 specification.
const MaxPages = 65536

// FunctionInstance is a function's runtime representation: either a
// module-defined function (Code non-nil) or a host function supplied
// through a HostModuleBuilder (HostFunc non-nil).
type FunctionInstance struct {
	Type   FunctionType
	Module *ModuleInstance // owning module, for local/global resolution during a call
	Code   *Code

	HostFunc HostFunction
	// HostModuleName/HostName name a host function for diagnostics; they are
	// unset for module-defined functions.
	HostModuleName string
	HostName       string
}

// HostFunction is the signature a Go function registered through
// HostModuleBuilder must implement: it receives its arguments and returns
// its results as uint64 ABI lanes, or traps by returning a *wasmerr.TrapError.
type HostFunction func(ctx context.Context, params []uint64) ([]uint64, error)

// TableInstance is a table's runtime representation: a slice of function
// addresses (1-based store indices into Store.Functions, 0 meaning null)
// for funcref tables, sized within the declared limits.
type TableInstance struct {
	Type Limits
	Elem []uint32
}

// MemoryInstance is a memory's runtime representation: a contiguous byte
// buffer sized to a whole number of pages.
type MemoryInstance struct {
	Limits Limits
	Data   []byte
	mu     sync.RWMutex
}

// PageCount returns the memory's current size in pages.
func (m *MemoryInstance) PageCount() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(len(m.Data) / page)
}

// Grow extends the memory by delta pages, failing (returning ok=false) if
// the result would exceed the memory's declared maximum, the runtime's
// configured ceiling, or MaxPages.
func (m *MemoryInstance) Grow(delta uint32, ceiling uint32) (previous uint32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := uint32(len(m.Data) / page)
	next := cur + delta
	if delta != 0 && next < cur { // overflow
		return cur, false
	}
	max := ceiling
	if m.Limits.HasMax && m.Limits.Max < max {
		max = m.Limits.Max
	}
	if next > max {
		return cur, false
	}
	m.Data = append(m.Data, make([]byte, uint64(delta)*page)...)
	return cur, true
}

// GlobalInstance is a global's runtime representation: its type and its
// current value, stored in the uint64 ABI lane convention.
type GlobalInstance struct {
	Type  GlobalType
	Value uint64
	mu    sync.RWMutex
}

func (g *GlobalInstance) Get() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.Value
}

func (g *GlobalInstance) Set(v uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Value = v
}

// ElementInstance is a passive or already-dropped element segment's runtime
// representation, used by table.init and elem.drop. Active segments are
// copied during instantiation and don't need a persistent instance, but the
// store still allocates one for index-space uniformity with the original
// runtime's bookkeeping.
type ElementInstance struct {
	Elem   []uint32
	Dropped bool
}

// DataInstance is a passive or already-dropped data segment's runtime
// representation, used by memory.init and data.drop.
type DataInstance struct {
	Bytes   []byte
	Dropped bool
}

// Store is the append-only home of every allocated runtime object across
// every module instantiated against it. Addresses are 1-based stable
// indices into the per-kind slices below; address 0 is reserved as the null
// sentinel for funcref/externref so a zero-valued uint64 slot never aliases
// a real allocation.
type Store struct {
	mu sync.Mutex

	Functions []*FunctionInstance
	Tables    []*TableInstance
	Memories  []*MemoryInstance
	Globals   []*GlobalInstance
	Elements  []*ElementInstance
	Data      []*DataInstance

	// MemoryPageCeiling bounds how far any memory in this store may grow,
	// independent of each memory's own declared maximum. Configured via
	// RuntimeConfig.WithMemoryLimitPages; defaults to MaxPages.
	MemoryPageCeiling uint32
}

// NewStore returns an empty store with address 0 reserved in every index
// space, ready to allocate module instances into.
func NewStore() *Store {
	return &Store{
		// Every slice starts with a nil placeholder at index 0 so that a
		// real address is never 0.
		Functions:         []*FunctionInstance{nil},
		Tables:            []*TableInstance{nil},
		Memories:          []*MemoryInstance{nil},
		Globals:           []*GlobalInstance{nil},
		Elements:          []*ElementInstance{nil},
		Data:              []*DataInstance{nil},
		MemoryPageCeiling: MaxPages,
	}
}

func (s *Store) allocFunction(fi *FunctionInstance) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := uint32(len(s.Functions))
	s.Functions = append(s.Functions, fi)
	return addr
}

func (s *Store) allocTable(t TableType) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := uint32(len(s.Tables))
	s.Tables = append(s.Tables, &TableInstance{
		Type: t.Limits,
		Elem: make([]uint32, t.Limits.Min),
	})
	return addr
}

func (s *Store) allocMemory(t MemoryType) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := uint32(len(s.Memories))
	s.Memories = append(s.Memories, &MemoryInstance{
		Limits: t.Limits,
		Data:   make([]byte, uint64(t.Limits.Min)*page),
	})
	return addr
}

func (s *Store) allocGlobal(t GlobalType, init uint64) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := uint32(len(s.Globals))
	s.Globals = append(s.Globals, &GlobalInstance{Type: t, Value: init})
	return addr
}

func (s *Store) allocElement(elem []uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := uint32(len(s.Elements))
	s.Elements = append(s.Elements, &ElementInstance{Elem: elem})
	return addr
}

func (s *Store) allocData(b []byte) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := uint32(len(s.Data))
	s.Data = append(s.Data, &DataInstance{Bytes: b})
	return addr
}

// ModuleInstance is an instantiated module: its index spaces resolved to
// store addresses (imports occupying the low indices, module-defined
// definitions following), its exports by name, and a back-reference to the
// Module it was built from.
type ModuleInstance struct {
	Source *Module
	Name   string

	FunctionAddrs []uint32
	TableAddrs    []uint32
	MemoryAddrs   []uint32
	GlobalAddrs   []uint32
	ElementAddrs  []uint32
	DataAddrs     []uint32

	Exports map[string]Export

	Store *Store
}

type callerModuleKey struct{}

// ContextWithCallerModule attaches the calling module instance to ctx, so a
// host function declaring an api.Module parameter can reach the memory and
// exports of whichever guest module is importing it.
func ContextWithCallerModule(ctx context.Context, m *ModuleInstance) context.Context {
	return context.WithValue(ctx, callerModuleKey{}, m)
}

// CallerModuleFromContext retrieves the module attached by
// ContextWithCallerModule, or nil if none was attached (a call not
// originating from a module-defined function body, e.g. a direct
// Function.Call on a host export).
func CallerModuleFromContext(ctx context.Context) *ModuleInstance {
	m, _ := ctx.Value(callerModuleKey{}).(*ModuleInstance)
	return m
}

// ResolveExport looks up name among this instance's exports, checking it
// matches kind, and returns its store address.
func (inst *ModuleInstance) ResolveExport(name string, kind ExternType) (addr uint32, ok bool) {
	e, ok := inst.Exports[name]
	if !ok || e.Type != kind {
		return 0, false
	}
	switch kind {
	case ExternTypeFunc:
		return inst.FunctionAddrs[e.Index], true
	case ExternTypeTable:
		return inst.TableAddrs[e.Index], true
	case ExternTypeMemory:
		return inst.MemoryAddrs[e.Index], true
	case ExternTypeGlobal:
		return inst.GlobalAddrs[e.Index], true
	}
	return 0, false
}
