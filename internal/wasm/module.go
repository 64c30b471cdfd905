package wasm

import (
	"crypto/sha256"
	"encoding/hex"
)

// Module is the fully decoded, statically validated representation of a
// WebAssembly binary: the aggregate of every section, indexed the way the
// binary format lays them out (one slice per section, in declaration
// order). It carries no store addresses; those only come into existence at
// instantiation.
type Module struct {
	Types    []FunctionType
	Imports  []Import
	// NumFuncImports/NumTableImports/etc. cache how many of Imports are of
	// each ExternType, so the function/table/memory/global index spaces
	// (imports first, then module-defined) can be computed without a scan.
	NumFuncImports   int
	NumTableImports  int
	NumMemoryImports int
	NumGlobalImports int

	// FunctionTypeIndices has one entry per module-defined function (the
	// function section), naming its signature in Types.
	FunctionTypeIndices []Index
	Tables              []TableType
	Memories            []MemoryType
	Globals             []Global
	Exports             []Export

	HasStart bool
	StartFunctionIndex Index

	Elements    []ElementSegment
	Code        []Code
	DataSegments []DataSegment

	HasDataCount bool
	DataCount    uint32

	// Raw is the original byte slab this module was decoded from, retained
	// only to compute ID on demand.
	Raw []byte
}

// ID is a content hash of the module's original binary encoding, suitable
// for use as a cache key or for reporting which bytes produced a given
// instance. It is computed lazily since most callers never need it.
func (m *Module) ID() string {
	sum := sha256.Sum256(m.Raw)
	return hex.EncodeToString(sum[:])
}

// NumFunctions is the size of the function index space: imported functions
// followed by module-defined ones.
func (m *Module) NumFunctions() int {
	return m.NumFuncImports + len(m.FunctionTypeIndices)
}

// NumTables is the size of the table index space.
func (m *Module) NumTables() int {
	return m.NumTableImports + len(m.Tables)
}

// NumMemories is the size of the memory index space.
func (m *Module) NumMemories() int {
	return m.NumMemoryImports + len(m.Memories)
}

// NumGlobals is the size of the global index space.
func (m *Module) NumGlobals() int {
	return m.NumGlobalImports + len(m.Globals)
}

// FunctionTypeIndex returns the type-section index of the funcIdx'th entry
// of the function index space, resolving across the import/module-defined
// boundary. Callers needing an imported function's type must instead
// consult the Import entry directly; this is only valid for module-defined
// functions (funcIdx >= NumFuncImports).
func (m *Module) FunctionTypeIndex(funcIdx Index) Index {
	return m.FunctionTypeIndices[int(funcIdx)-m.NumFuncImports]
}
