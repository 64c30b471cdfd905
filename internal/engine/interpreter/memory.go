package interpreter

import (
	"encoding/binary"
	"math"

	"github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/wasmerr"
)

func isMemoryInstr(op wasm.Opcode) bool {
	switch op {
	case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
		wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
		wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16, wasm.OpcodeI64Store32:
		return true
	}
	return false
}

func effectiveAddr(base uint32, memArg wasm.MemArg, width uint32, memLen int) (uint32, bool) {
	off := uint64(base) + uint64(memArg.Offset)
	if off+uint64(width) > uint64(memLen) {
		return 0, false
	}
	return uint32(off), true
}

func execMemory(f *callFrame, ins wasm.Instruction) {
	mem := f.store.Memories[f.module.MemoryAddrs[0]]
	switch ins.Opcode {
	case wasm.OpcodeI32Load:
		addr := uint32(f.pop())
		off, ok := effectiveAddr(addr, ins.Mem, 4, len(mem.Data))
		if !ok {
			panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
		}
		f.push(uint64(binary.LittleEndian.Uint32(mem.Data[off:])))
	case wasm.OpcodeI64Load:
		addr := uint32(f.pop())
		off, ok := effectiveAddr(addr, ins.Mem, 8, len(mem.Data))
		if !ok {
			panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
		}
		f.push(binary.LittleEndian.Uint64(mem.Data[off:]))
	case wasm.OpcodeF32Load:
		addr := uint32(f.pop())
		off, ok := effectiveAddr(addr, ins.Mem, 4, len(mem.Data))
		if !ok {
			panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
		}
		f.push(uint64(binary.LittleEndian.Uint32(mem.Data[off:])))
	case wasm.OpcodeF64Load:
		addr := uint32(f.pop())
		off, ok := effectiveAddr(addr, ins.Mem, 8, len(mem.Data))
		if !ok {
			panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
		}
		f.push(binary.LittleEndian.Uint64(mem.Data[off:]))
	case wasm.OpcodeI32Load8S:
		v := loadByte(f, mem, ins.Mem)
		f.push(uint64(uint32(int32(int8(v)))))
	case wasm.OpcodeI32Load8U:
		v := loadByte(f, mem, ins.Mem)
		f.push(uint64(v))
	case wasm.OpcodeI32Load16S:
		v := load16(f, mem, ins.Mem)
		f.push(uint64(uint32(int32(int16(v)))))
	case wasm.OpcodeI32Load16U:
		v := load16(f, mem, ins.Mem)
		f.push(uint64(v))
	case wasm.OpcodeI64Load8S:
		v := loadByte(f, mem, ins.Mem)
		f.push(uint64(int64(int8(v))))
	case wasm.OpcodeI64Load8U:
		v := loadByte(f, mem, ins.Mem)
		f.push(uint64(v))
	case wasm.OpcodeI64Load16S:
		v := load16(f, mem, ins.Mem)
		f.push(uint64(int64(int16(v))))
	case wasm.OpcodeI64Load16U:
		v := load16(f, mem, ins.Mem)
		f.push(uint64(v))
	case wasm.OpcodeI64Load32S:
		v := load32(f, mem, ins.Mem)
		f.push(uint64(int64(int32(v))))
	case wasm.OpcodeI64Load32U:
		v := load32(f, mem, ins.Mem)
		f.push(uint64(v))

	case wasm.OpcodeI32Store:
		v := uint32(f.pop())
		addr := uint32(f.pop())
		off, ok := effectiveAddr(addr, ins.Mem, 4, len(mem.Data))
		if !ok {
			panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
		}
		binary.LittleEndian.PutUint32(mem.Data[off:], v)
	case wasm.OpcodeI64Store:
		v := f.pop()
		addr := uint32(f.pop())
		off, ok := effectiveAddr(addr, ins.Mem, 8, len(mem.Data))
		if !ok {
			panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
		}
		binary.LittleEndian.PutUint64(mem.Data[off:], v)
	case wasm.OpcodeF32Store:
		v := uint32(f.pop())
		addr := uint32(f.pop())
		off, ok := effectiveAddr(addr, ins.Mem, 4, len(mem.Data))
		if !ok {
			panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
		}
		binary.LittleEndian.PutUint32(mem.Data[off:], v)
	case wasm.OpcodeF64Store:
		v := f.pop()
		addr := uint32(f.pop())
		off, ok := effectiveAddr(addr, ins.Mem, 8, len(mem.Data))
		if !ok {
			panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
		}
		binary.LittleEndian.PutUint64(mem.Data[off:], v)
	case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
		v := byte(f.pop())
		addr := uint32(f.pop())
		off, ok := effectiveAddr(addr, ins.Mem, 1, len(mem.Data))
		if !ok {
			panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
		}
		mem.Data[off] = v
	case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
		v := uint16(f.pop())
		addr := uint32(f.pop())
		off, ok := effectiveAddr(addr, ins.Mem, 2, len(mem.Data))
		if !ok {
			panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
		}
		binary.LittleEndian.PutUint16(mem.Data[off:], v)
	case wasm.OpcodeI64Store32:
		v := uint32(f.pop())
		addr := uint32(f.pop())
		off, ok := effectiveAddr(addr, ins.Mem, 4, len(mem.Data))
		if !ok {
			panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
		}
		binary.LittleEndian.PutUint32(mem.Data[off:], v)
	}
}

func loadByte(f *callFrame, mem *wasm.MemoryInstance, arg wasm.MemArg) byte {
	addr := uint32(f.pop())
	off, ok := effectiveAddr(addr, arg, 1, len(mem.Data))
	if !ok {
		panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
	}
	return mem.Data[off]
}

func load16(f *callFrame, mem *wasm.MemoryInstance, arg wasm.MemArg) uint16 {
	addr := uint32(f.pop())
	off, ok := effectiveAddr(addr, arg, 2, len(mem.Data))
	if !ok {
		panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
	}
	return binary.LittleEndian.Uint16(mem.Data[off:])
}

func load32(f *callFrame, mem *wasm.MemoryInstance, arg wasm.MemArg) uint32 {
	addr := uint32(f.pop())
	off, ok := effectiveAddr(addr, arg, 4, len(mem.Data))
	if !ok {
		panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
	}
	return binary.LittleEndian.Uint32(mem.Data[off:])
}

// execBulk dispatches the 0xFC-prefixed bulk memory/table and saturating
// truncation instructions.
func execBulk(f *callFrame, ins wasm.Instruction) {
	switch ins.Opcode {
	case wasm.OpcodeI32TruncSatF32S:
		f.push(uint64(uint32(truncSatI32(float64(math.Float32frombits(uint32(f.pop()))), true))))
	case wasm.OpcodeI32TruncSatF32U:
		f.push(uint64(uint32(truncSatU32(float64(math.Float32frombits(uint32(f.pop())))))))
	case wasm.OpcodeI32TruncSatF64S:
		f.push(uint64(uint32(truncSatI32(math.Float64frombits(f.pop()), true))))
	case wasm.OpcodeI32TruncSatF64U:
		f.push(uint64(uint32(truncSatU32(math.Float64frombits(f.pop())))))
	case wasm.OpcodeI64TruncSatF32S:
		f.push(uint64(truncSatI64(float64(math.Float32frombits(uint32(f.pop()))))))
	case wasm.OpcodeI64TruncSatF32U:
		f.push(truncSatU64(float64(math.Float32frombits(uint32(f.pop())))))
	case wasm.OpcodeI64TruncSatF64S:
		f.push(uint64(truncSatI64(math.Float64frombits(f.pop()))))
	case wasm.OpcodeI64TruncSatF64U:
		f.push(truncSatU64(math.Float64frombits(f.pop())))

	case wasm.OpcodeMemoryInit:
		execMemoryInit(f, ins)
	case wasm.OpcodeDataDrop:
		f.store.Data[f.module.DataAddrs[ins.Index]].Dropped = true
		f.store.Data[f.module.DataAddrs[ins.Index]].Bytes = nil
	case wasm.OpcodeMemoryCopy:
		execMemoryCopy(f)
	case wasm.OpcodeMemoryFill:
		execMemoryFill(f)

	case wasm.OpcodeTableInit:
		execTableInit(f, ins)
	case wasm.OpcodeElemDrop:
		f.store.Elements[f.module.ElementAddrs[ins.Index]].Dropped = true
		f.store.Elements[f.module.ElementAddrs[ins.Index]].Elem = nil
	case wasm.OpcodeTableCopy:
		execTableCopy(f, ins)
	case wasm.OpcodeTableGrow:
		execTableGrow(f, ins)
	case wasm.OpcodeTableSize:
		table := f.store.Tables[f.module.TableAddrs[ins.Index]]
		f.push(uint64(len(table.Elem)))
	case wasm.OpcodeTableFill:
		execTableFill(f, ins)
	}
}

func execMemoryInit(f *callFrame, ins wasm.Instruction) {
	n := uint32(f.pop())
	src := uint32(f.pop())
	dst := uint32(f.pop())
	mem := f.store.Memories[f.module.MemoryAddrs[0]]
	data := f.store.Data[f.module.DataAddrs[ins.Index]]
	if uint64(src)+uint64(n) > uint64(len(data.Bytes)) || uint64(dst)+uint64(n) > uint64(len(mem.Data)) {
		panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
	}
	copy(mem.Data[dst:dst+n], data.Bytes[src:src+n])
}

func execMemoryCopy(f *callFrame) {
	n := uint32(f.pop())
	src := uint32(f.pop())
	dst := uint32(f.pop())
	mem := f.store.Memories[f.module.MemoryAddrs[0]]
	if uint64(src)+uint64(n) > uint64(len(mem.Data)) || uint64(dst)+uint64(n) > uint64(len(mem.Data)) {
		panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
	}
	copy(mem.Data[dst:dst+n], mem.Data[src:src+n])
}

func execMemoryFill(f *callFrame) {
	n := uint32(f.pop())
	val := byte(f.pop())
	dst := uint32(f.pop())
	mem := f.store.Memories[f.module.MemoryAddrs[0]]
	if uint64(dst)+uint64(n) > uint64(len(mem.Data)) {
		panic(wasmerr.NewTrap(wasmerr.TrapMemoryOutOfBounds))
	}
	for i := uint32(0); i < n; i++ {
		mem.Data[dst+i] = val
	}
}

func execTableInit(f *callFrame, ins wasm.Instruction) {
	n := uint32(f.pop())
	src := uint32(f.pop())
	dst := uint32(f.pop())
	table := f.store.Tables[f.module.TableAddrs[ins.Index2]]
	elem := f.store.Elements[f.module.ElementAddrs[ins.Index]]
	if uint64(src)+uint64(n) > uint64(len(elem.Elem)) || uint64(dst)+uint64(n) > uint64(len(table.Elem)) {
		panic(wasmerr.NewTrap(wasmerr.TrapTableOutOfBounds))
	}
	copy(table.Elem[dst:dst+n], elem.Elem[src:src+n])
}

func execTableCopy(f *callFrame, ins wasm.Instruction) {
	n := uint32(f.pop())
	src := uint32(f.pop())
	dst := uint32(f.pop())
	dstTable := f.store.Tables[f.module.TableAddrs[ins.Index]]
	srcTable := f.store.Tables[f.module.TableAddrs[ins.Index2]]
	if uint64(src)+uint64(n) > uint64(len(srcTable.Elem)) || uint64(dst)+uint64(n) > uint64(len(dstTable.Elem)) {
		panic(wasmerr.NewTrap(wasmerr.TrapTableOutOfBounds))
	}
	copy(dstTable.Elem[dst:dst+n], srcTable.Elem[src:src+n])
}

func execTableGrow(f *callFrame, ins wasm.Instruction) {
	delta := uint32(f.pop())
	val := uint32(f.pop())
	table := f.store.Tables[f.module.TableAddrs[ins.Index]]
	cur := uint32(len(table.Elem))
	next := cur + delta
	if delta != 0 && (next < cur || (table.Type.HasMax && next > table.Type.Max)) {
		f.push(uint64(uint32(0xffffffff)))
		return
	}
	grown := make([]uint32, delta)
	for i := range grown {
		grown[i] = val
	}
	table.Elem = append(table.Elem, grown...)
	f.push(uint64(cur))
}

func execTableFill(f *callFrame, ins wasm.Instruction) {
	n := uint32(f.pop())
	val := uint32(f.pop())
	dst := uint32(f.pop())
	table := f.store.Tables[f.module.TableAddrs[ins.Index]]
	if uint64(dst)+uint64(n) > uint64(len(table.Elem)) {
		panic(wasmerr.NewTrap(wasmerr.TrapTableOutOfBounds))
	}
	for i := uint32(0); i < n; i++ {
		table.Elem[dst+i] = val
	}
}
