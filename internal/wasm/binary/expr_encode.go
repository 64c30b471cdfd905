package binary

import (
	"bytes"

	wasm "github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/leb128"
)

func encodeExprInto(buf *bytes.Buffer, instrs []wasm.Instruction) {
	for _, ins := range instrs {
		encodeInstrInto(buf, ins)
	}
	buf.WriteByte(byte(wasm.OpcodeEnd))
}

func encodeBlockTypeInto(buf *bytes.Buffer, bt *wasm.BlockType) {
	switch {
	case bt == nil || bt.Empty:
		buf.WriteByte(0x40)
	case bt.HasValueType:
		buf.WriteByte(bt.ValueType)
	case bt.HasTypeIndex:
		buf.Write(leb128.EncodeInt64(int64(bt.TypeIndex)))
	default:
		buf.WriteByte(0x40)
	}
}

func encodeInstrInto(buf *bytes.Buffer, ins wasm.Instruction) {
	if ins.Opcode >= 0xfc00 {
		buf.WriteByte(byte(wasm.OpcodeMiscPrefix))
		buf.Write(leb128.EncodeUint32(uint32(ins.Opcode - 0xfc00)))
		encodeMiscImmediates(buf, ins)
		return
	}

	buf.WriteByte(byte(ins.Opcode))
	switch ins.Opcode {
	case wasm.OpcodeBlock, wasm.OpcodeLoop:
		encodeBlockTypeInto(buf, ins.Block)
		encodeExprInto(buf, ins.Then)

	case wasm.OpcodeIf:
		encodeBlockTypeInto(buf, ins.Block)
		for _, i := range ins.Then {
			encodeInstrInto(buf, i)
		}
		if len(ins.Else) > 0 {
			buf.WriteByte(byte(wasm.OpcodeElse))
			for _, i := range ins.Else {
				encodeInstrInto(buf, i)
			}
		}
		buf.WriteByte(byte(wasm.OpcodeEnd))

	case wasm.OpcodeBr, wasm.OpcodeBrIf:
		buf.Write(leb128.EncodeUint32(ins.LabelIndex))

	case wasm.OpcodeBrTable:
		buf.Write(leb128.EncodeUint32(uint32(len(ins.LabelIndices))))
		for _, idx := range ins.LabelIndices {
			buf.Write(leb128.EncodeUint32(idx))
		}
		buf.Write(leb128.EncodeUint32(ins.LabelIndex))

	case wasm.OpcodeCall:
		buf.Write(leb128.EncodeUint32(ins.Index))

	case wasm.OpcodeCallIndirect:
		buf.Write(leb128.EncodeUint32(ins.Index))
		buf.Write(leb128.EncodeUint32(ins.Index2))

	case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
		wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet,
		wasm.OpcodeTableGet, wasm.OpcodeTableSet, wasm.OpcodeRefFunc:
		buf.Write(leb128.EncodeUint32(ins.Index))

	case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
		wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
		wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16, wasm.OpcodeI64Store32:
		buf.Write(leb128.EncodeUint32(ins.Mem.Align))
		buf.Write(leb128.EncodeUint32(ins.Mem.Offset))

	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		buf.WriteByte(0x00)

	case wasm.OpcodeI32Const:
		buf.Write(leb128.EncodeInt32(ins.I32))

	case wasm.OpcodeI64Const:
		buf.Write(leb128.EncodeInt64(ins.I64))

	case wasm.OpcodeF32Const:
		var b [4]byte
		putFloat32LE(b[:], ins.F32)
		buf.Write(b[:])

	case wasm.OpcodeF64Const:
		var b [8]byte
		putFloat64LE(b[:], ins.F64)
		buf.Write(b[:])

	case wasm.OpcodeRefNull:
		buf.WriteByte(ins.RefType)
	}
}

func encodeMiscImmediates(buf *bytes.Buffer, ins wasm.Instruction) {
	switch ins.Opcode {
	case wasm.OpcodeMemoryInit:
		buf.Write(leb128.EncodeUint32(ins.Index))
		buf.WriteByte(0x00)
	case wasm.OpcodeDataDrop, wasm.OpcodeElemDrop:
		buf.Write(leb128.EncodeUint32(ins.Index))
	case wasm.OpcodeMemoryCopy:
		buf.WriteByte(0x00)
		buf.WriteByte(0x00)
	case wasm.OpcodeMemoryFill:
		buf.WriteByte(0x00)
	case wasm.OpcodeTableInit:
		buf.Write(leb128.EncodeUint32(ins.Index))
		buf.Write(leb128.EncodeUint32(ins.Index2))
	case wasm.OpcodeTableCopy:
		buf.Write(leb128.EncodeUint32(ins.Index))
		buf.Write(leb128.EncodeUint32(ins.Index2))
	case wasm.OpcodeTableGrow, wasm.OpcodeTableSize, wasm.OpcodeTableFill:
		buf.Write(leb128.EncodeUint32(ins.Index))
	}
}

