package binary

import (
	wasm "github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/leb128"
	"github.com/irrio/semblance/internal/wasmerr"
)

// decodeConstExpr decodes a restricted constant expression: an instruction
// sequence terminated by end, used for global initializers and segment
// offsets. Decoding accepts the same grammar the interpreter's const-expr
// evaluator executes; a module using anything wider is rejected here rather
// than left to trap at instantiation time.
func decodeConstExpr(d *decoder) ([]wasm.Instruction, error) {
	return decodeInstrs(d, true)
}

// decodeExpr decodes a general function body or block body: an instruction
// sequence terminated by a matching end (with else handled recursively for
// if blocks).
func decodeExpr(d *decoder) ([]wasm.Instruction, error) {
	return decodeInstrs(d, false)
}

func decodeInstrs(d *decoder, constOnly bool) ([]wasm.Instruction, error) {
	var out []wasm.Instruction
	for {
		op, err := d.byte()
		if err != nil {
			return nil, err
		}
		if op == byte(wasm.OpcodeEnd) {
			return out, nil
		}
		ins, terminal, err := decodeOneInstr(d, wasm.Opcode(op), constOnly)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
		if terminal {
			// else is only legal inside an If's Then arm, handled by the
			// caller via decodeIfBody; reaching one here at top level is
			// itself ill-formed, but decodeOneInstr never returns terminal
			// for a bare else at this layer.
			_ = terminal
		}
	}
}

// decodeOneInstr decodes a single instruction (recursing for block bodies).
// terminal is unused at present; reserved for callers that need to detect
// an else boundary without consuming it.
func decodeOneInstr(d *decoder, op wasm.Opcode, constOnly bool) (wasm.Instruction, bool, error) {
	if constOnly && !wasm.IsConstExprOpcode(op) {
		return wasm.Instruction{}, false, wasmerr.NewDecodeError(wasmerr.ErrInvalidType, nil)
	}
	ins := wasm.Instruction{Opcode: op}
	switch op {
	case wasm.OpcodeUnreachable, wasm.OpcodeNop, wasm.OpcodeReturn,
		wasm.OpcodeDrop, wasm.OpcodeSelect:
		// no immediates

	case wasm.OpcodeBlock, wasm.OpcodeLoop:
		bt, err := decodeBlockType(d)
		if err != nil {
			return ins, false, err
		}
		body, err := decodeExpr(d)
		if err != nil {
			return ins, false, err
		}
		ins.Block = &bt
		ins.Then = body

	case wasm.OpcodeIf:
		bt, err := decodeBlockType(d)
		if err != nil {
			return ins, false, err
		}
		ins.Block = &bt
		then, elseBody, err := decodeIfBody(d)
		if err != nil {
			return ins, false, err
		}
		ins.Then = then
		ins.Else = elseBody

	case wasm.OpcodeBr, wasm.OpcodeBrIf:
		idx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.LabelIndex = idx

	case wasm.OpcodeBrTable:
		targets, err := decodeIndexVec(d)
		if err != nil {
			return ins, false, err
		}
		def, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.LabelIndices = targets
		ins.LabelIndex = def

	case wasm.OpcodeCall:
		idx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.Index = idx

	case wasm.OpcodeCallIndirect:
		typeIdx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		tableIdx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.Index = typeIdx
		ins.Index2 = tableIdx

	case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
		wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
		idx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.Index = idx

	case wasm.OpcodeTableGet, wasm.OpcodeTableSet:
		idx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.Index = idx

	case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
		wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
		wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16, wasm.OpcodeI64Store32:
		align, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		offset, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.Mem = wasm.MemArg{Align: align, Offset: offset}

	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		b, err := d.byte()
		if err != nil {
			return ins, false, err
		}
		if b != 0x00 {
			return ins, false, wasmerr.NewDecodeError(wasmerr.ErrExpectedZero, nil)
		}

	case wasm.OpcodeI32Const:
		v, err := d.i32()
		if err != nil {
			return ins, false, err
		}
		ins.I32 = v

	case wasm.OpcodeI64Const:
		v, err := d.i64()
		if err != nil {
			return ins, false, err
		}
		ins.I64 = v

	case wasm.OpcodeF32Const:
		v, err := d.f32()
		if err != nil {
			return ins, false, err
		}
		ins.F32 = v

	case wasm.OpcodeF64Const:
		v, err := d.f64()
		if err != nil {
			return ins, false, err
		}
		ins.F64 = v

	case wasm.OpcodeRefNull:
		rt, err := d.valueType()
		if err != nil {
			return ins, false, err
		}
		ins.RefType = rt

	case wasm.OpcodeRefIsNull:
		// no immediates

	case wasm.OpcodeRefFunc:
		idx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.Index = idx

	case wasm.OpcodeMiscPrefix:
		sub, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.Opcode = wasm.Opcode(0xfc00 + sub)
		return decodeMiscInstr(d, ins)

	default:
		// The whole family of comparison/numeric/conversion opcodes (0x45
		// through 0xc4) carry no immediates; anything not matched above and
		// outside that range is genuinely unknown.
		if !(op >= wasm.OpcodeI32Eqz && op <= wasm.OpcodeI64Extend32S) {
			return ins, false, wasmerr.NewDecodeError(wasmerr.ErrUnknownOpcode, nil)
		}
	}
	return ins, false, nil
}

// decodeMiscInstr decodes the immediates of an already-dispatched 0xFC
// extended opcode; ins.Opcode has already been rewritten to its folded
// 0xFC00+n form by the caller.
func decodeMiscInstr(d *decoder, ins wasm.Instruction) (wasm.Instruction, bool, error) {
	switch ins.Opcode {
	case wasm.OpcodeI32TruncSatF32S, wasm.OpcodeI32TruncSatF32U,
		wasm.OpcodeI32TruncSatF64S, wasm.OpcodeI32TruncSatF64U,
		wasm.OpcodeI64TruncSatF32S, wasm.OpcodeI64TruncSatF32U,
		wasm.OpcodeI64TruncSatF64S, wasm.OpcodeI64TruncSatF64U:
		return ins, false, nil

	case wasm.OpcodeMemoryInit:
		dataIdx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		if _, err := d.byte(); err != nil { // reserved memidx, always 0x00
			return ins, false, err
		}
		ins.Index = dataIdx
		return ins, false, nil

	case wasm.OpcodeDataDrop:
		idx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.Index = idx
		return ins, false, nil

	case wasm.OpcodeMemoryCopy:
		if _, err := d.byte(); err != nil {
			return ins, false, err
		}
		if _, err := d.byte(); err != nil {
			return ins, false, err
		}
		return ins, false, nil

	case wasm.OpcodeMemoryFill:
		if _, err := d.byte(); err != nil {
			return ins, false, err
		}
		return ins, false, nil

	case wasm.OpcodeTableInit:
		elemIdx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		tableIdx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.Index = elemIdx
		ins.Index2 = tableIdx
		return ins, false, nil

	case wasm.OpcodeElemDrop:
		idx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.Index = idx
		return ins, false, nil

	case wasm.OpcodeTableCopy:
		dst, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		src, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.Index = dst
		ins.Index2 = src
		return ins, false, nil

	case wasm.OpcodeTableGrow, wasm.OpcodeTableSize, wasm.OpcodeTableFill:
		idx, err := d.u32()
		if err != nil {
			return ins, false, err
		}
		ins.Index = idx
		return ins, false, nil
	}
	return ins, false, wasmerr.NewDecodeError(wasmerr.ErrUnknownOpcode, nil)
}

// decodeIfBody decodes the then-branch and, if present, the else-branch of
// an if instruction, both terminated appropriately: the then-branch by
// either else or end, the else-branch (when present) by end.
func decodeIfBody(d *decoder) (then, elseBody []wasm.Instruction, err error) {
	for {
		op, err := d.byte()
		if err != nil {
			return nil, nil, err
		}
		if op == byte(wasm.OpcodeEnd) {
			return then, nil, nil
		}
		if op == byte(wasm.OpcodeElse) {
			elseBody, err = decodeExpr(d)
			if err != nil {
				return nil, nil, err
			}
			return then, elseBody, nil
		}
		ins, _, err := decodeOneInstr(d, wasm.Opcode(op), false)
		if err != nil {
			return nil, nil, err
		}
		then = append(then, ins)
	}
}

func decodeBlockType(d *decoder) (wasm.BlockType, error) {
	v, _, err := leb128.DecodeInt33AsInt64(d.r)
	if err != nil {
		return wasm.BlockType{}, wasmerr.NewDecodeError(wasmerr.ErrLeb128, err)
	}
	if v == -64 { // 0x40, empty block type
		return wasm.BlockType{Empty: true}, nil
	}
	if v < 0 {
		vt := wasm.ValueType(v & 0x7f)
		return wasm.BlockType{HasValueType: true, ValueType: vt}, nil
	}
	return wasm.BlockType{HasTypeIndex: true, TypeIndex: wasm.Index(v)}, nil
}
