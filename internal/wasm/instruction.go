package wasm

// BlockType describes the type signature of a block/loop/if construct. Per
// the binary format, it is encoded as a single LEB128(s33): a negative value
// in range names a value-type tag (empty, or one of the value types) and a
// non-negative value names an index into the type section for a full
// multi-value signature.
type BlockType struct {
	// Empty is true when the block has no parameters and no results.
	Empty bool
	// ValueType is set when the block returns exactly one value and takes
	// none; one of the ValueType* constants.
	ValueType ValueType
	// HasValueType distinguishes the single-result-value-type encoding from
	// the Empty and TypeIndex encodings.
	HasValueType bool
	// TypeIndex names a function type in the enclosing module's type
	// section, used for multi-value block signatures.
	TypeIndex Index
	// HasTypeIndex is true when TypeIndex is meaningful.
	HasTypeIndex bool
}

// ParamTypes returns the parameter types a block of this signature expects
// on entry, resolving a TypeIndex block type against the module's type
// section when necessary.
func (bt BlockType) ParamTypes(types []FunctionType) []ValueType {
	if bt.HasTypeIndex {
		return types[bt.TypeIndex].Params
	}
	return nil
}

// ResultTypes returns the result types a block of this signature leaves on
// the stack, resolving a TypeIndex block type against the module's type
// section when necessary.
func (bt BlockType) ResultTypes(types []FunctionType) []ValueType {
	if bt.HasTypeIndex {
		return types[bt.TypeIndex].Results
	}
	if bt.HasValueType {
		return []ValueType{bt.ValueType}
	}
	return nil
}

// MemArg is the alignment hint and byte offset immediate pair carried by
// every load/store instruction. Align is not load-bearing for correctness
// (this interpreter doesn't use it to pick a fast path) but it is validated
// as part of decoding.
type MemArg struct {
	Align uint32
	Offset uint32
}

// Instruction is a single decoded instruction, including its immediates and,
// for structured control instructions, the nested instruction sequences of
// its body. The decoder produces a tree of these rather than a flat
// byte-addressed program, matching the way the reference interpreter
// recurses over an expression.
type Instruction struct {
	Opcode Opcode

	// Block carries the signature for Block/Loop/If.
	Block *BlockType
	// Then is the body of a Block/Loop, or the true-branch of an If.
	Then []Instruction
	// Else is the false-branch of an If, empty when there was no else clause.
	Else []Instruction

	// LabelIndex carries the relative block nesting depth for br/br_if, and
	// the default target for br_table.
	LabelIndex Index
	// LabelIndices carries the jump table for br_table; LabelIndex holds the
	// default (last) target.
	LabelIndices []Index

	// Index carries a generic single-index immediate: local/global/function/
	// table/type/data/elem index depending on Opcode.
	Index Index
	// Index2 carries a second index immediate, used by call_indirect
	// (table index), table.init (destination table, with Index as the source
	// element segment) and table.copy (source table, with Index as the
	// destination).
	Index2 Index

	Mem MemArg

	I32 int32
	I64 int64
	F32 float32
	F64 float64
	V128 [16]byte

	RefType ValueType
}
