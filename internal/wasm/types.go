package wasm

// Index is an index into one of a module's index spaces (type, function,
// table, memory, global, element, data, local, or label). The binary format
// encodes all of these as u32 LEB128.
type Index = uint32

// Limits bounds the size of a table or memory: Min is mandatory, Max is
// present only when HasMax is set.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// FunctionType is a function signature: an ordered list of parameter types
// followed by an ordered list of result types. WebAssembly 1.0 allows at
// most one result.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// TableType describes a table: its element reference type and its size
// limits, counted in elements.
type TableType struct {
	ElemType ValueType
	Limits   Limits
}

// MemoryType describes a memory's size limits, counted in 64KB pages.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global's value type and whether it can be
// subsequently modified with global.set.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// Import describes one entry of the import section: the two-level
// module.name pair, and the type of the externally provided definition.
type Import struct {
	Module string
	Name   string
	Type   ExternType

	// Exactly one of the following is populated, selected by Type.
	DescFunc   Index // index into the module's type section
	DescTable  TableType
	DescMem    MemoryType
	DescGlobal GlobalType
}

// ExternType classifies an import or export.
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// Export describes one entry of the export section: the externally visible
// name and the index space entry it names.
type Export struct {
	Name  string
	Type  ExternType
	Index Index
}

// Global is a module-defined global variable: its type and its
// initialization expression, restricted to the constant-expression grammar.
type Global struct {
	Type GlobalType
	Init []Instruction
}

// Code is a function body: its locals (declared as compressed runs of
// (count, type) pairs, already expanded here to one ValueType per local slot
// for simplicity) and its instruction sequence.
type Code struct {
	LocalTypes []ValueType
	Body       []Instruction
}

// ElementMode distinguishes the three flavors of element segment introduced
// across the bulk-memory proposal; WebAssembly 1.0 MVP modules only ever
// produce ElementModeActive, but the decoder recognizes the full encoding
// space since the el section's leading LEB128 discriminant overlaps it.
type ElementMode int

const (
	ElementModeActive ElementMode = iota
	ElementModePassive
	ElementModeDeclarative
)

// ElementSegment is one entry of the element section. Init holds one
// constant expression per element: a funcidx-vector encoding (mode flags
// 0-3) is normalized at decode time into a one-instruction ref.func
// expression per entry, so instantiation always evaluates the same
// restricted const-expr grammar regardless of which encoding produced it.
type ElementSegment struct {
	Mode     ElementMode
	Type     ValueType // funcref unless the expression-form encoding gave an explicit reftype
	TableIdx Index     // meaningful when Mode == ElementModeActive
	Offset   []Instruction
	Init     [][]Instruction
}

// DataMode distinguishes active and passive data segments; WebAssembly 1.0
// MVP modules only ever produce DataModeActive.
type DataMode int

const (
	DataModeActive DataMode = iota
	DataModePassive
)

// DataSegment is one entry of the data section.
type DataSegment struct {
	Mode   DataMode
	MemIdx Index // meaningful when Mode == DataModeActive
	Offset []Instruction
	Init   []byte
}

// SectionID identifies a top-level module section.
type SectionID byte

const (
	SectionIDCustom    SectionID = 0
	SectionIDType      SectionID = 1
	SectionIDImport    SectionID = 2
	SectionIDFunction  SectionID = 3
	SectionIDTable     SectionID = 4
	SectionIDMemory    SectionID = 5
	SectionIDGlobal    SectionID = 6
	SectionIDExport    SectionID = 7
	SectionIDStart     SectionID = 8
	SectionIDElement   SectionID = 9
	SectionIDCode      SectionID = 10
	SectionIDData      SectionID = 11
	SectionIDDataCount SectionID = 12
)

var sectionIDNames = map[SectionID]string{
	SectionIDCustom:    "custom",
	SectionIDType:      "type",
	SectionIDImport:    "import",
	SectionIDFunction:  "function",
	SectionIDTable:     "table",
	SectionIDMemory:    "memory",
	SectionIDGlobal:    "global",
	SectionIDExport:    "export",
	SectionIDStart:     "start",
	SectionIDElement:   "element",
	SectionIDCode:      "code",
	SectionIDData:      "data",
	SectionIDDataCount: "data count",
}

// SectionIDName returns the human-readable name of a section id.
func SectionIDName(id SectionID) string {
	if s, ok := sectionIDNames[id]; ok {
		return s
	}
	return "unknown"
}
