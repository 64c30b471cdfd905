package interpreter

import (
	"math"
	"math/bits"

	"github.com/irrio/semblance/internal/moremath"
	"github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/wasmerr"
)

// execNumeric dispatches every comparison, arithmetic, and conversion
// instruction: the bulk of the MVP opcode space, none of which touches
// control flow, memory, or the module's index spaces.
func execNumeric(f *callFrame, ins wasm.Instruction) {
	switch ins.Opcode {
	// i32 comparisons
	case wasm.OpcodeI32Eqz:
		f.push(b2u(int32(f.pop()) == 0))
	case wasm.OpcodeI32Eq:
		y, x := int32(f.pop()), int32(f.pop())
		f.push(b2u(x == y))
	case wasm.OpcodeI32Ne:
		y, x := int32(f.pop()), int32(f.pop())
		f.push(b2u(x != y))
	case wasm.OpcodeI32LtS:
		y, x := int32(f.pop()), int32(f.pop())
		f.push(b2u(x < y))
	case wasm.OpcodeI32LtU:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(b2u(x < y))
	case wasm.OpcodeI32GtS:
		y, x := int32(f.pop()), int32(f.pop())
		f.push(b2u(x > y))
	case wasm.OpcodeI32GtU:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(b2u(x > y))
	case wasm.OpcodeI32LeS:
		y, x := int32(f.pop()), int32(f.pop())
		f.push(b2u(x <= y))
	case wasm.OpcodeI32LeU:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(b2u(x <= y))
	case wasm.OpcodeI32GeS:
		y, x := int32(f.pop()), int32(f.pop())
		f.push(b2u(x >= y))
	case wasm.OpcodeI32GeU:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(b2u(x >= y))

	// i64 comparisons
	case wasm.OpcodeI64Eqz:
		f.push(b2u(int64(f.pop()) == 0))
	case wasm.OpcodeI64Eq:
		y, x := int64(f.pop()), int64(f.pop())
		f.push(b2u(x == y))
	case wasm.OpcodeI64Ne:
		y, x := int64(f.pop()), int64(f.pop())
		f.push(b2u(x != y))
	case wasm.OpcodeI64LtS:
		y, x := int64(f.pop()), int64(f.pop())
		f.push(b2u(x < y))
	case wasm.OpcodeI64LtU:
		y, x := f.pop(), f.pop()
		f.push(b2u(x < y))
	case wasm.OpcodeI64GtS:
		y, x := int64(f.pop()), int64(f.pop())
		f.push(b2u(x > y))
	case wasm.OpcodeI64GtU:
		y, x := f.pop(), f.pop()
		f.push(b2u(x > y))
	case wasm.OpcodeI64LeS:
		y, x := int64(f.pop()), int64(f.pop())
		f.push(b2u(x <= y))
	case wasm.OpcodeI64LeU:
		y, x := f.pop(), f.pop()
		f.push(b2u(x <= y))
	case wasm.OpcodeI64GeS:
		y, x := int64(f.pop()), int64(f.pop())
		f.push(b2u(x >= y))
	case wasm.OpcodeI64GeU:
		y, x := f.pop(), f.pop()
		f.push(b2u(x >= y))

	// f32/f64 comparisons
	case wasm.OpcodeF32Eq:
		y, x := popF32(f), popF32(f)
		f.push(b2u(x == y))
	case wasm.OpcodeF32Ne:
		y, x := popF32(f), popF32(f)
		f.push(b2u(x != y))
	case wasm.OpcodeF32Lt:
		y, x := popF32(f), popF32(f)
		f.push(b2u(x < y))
	case wasm.OpcodeF32Gt:
		y, x := popF32(f), popF32(f)
		f.push(b2u(x > y))
	case wasm.OpcodeF32Le:
		y, x := popF32(f), popF32(f)
		f.push(b2u(x <= y))
	case wasm.OpcodeF32Ge:
		y, x := popF32(f), popF32(f)
		f.push(b2u(x >= y))
	case wasm.OpcodeF64Eq:
		y, x := popF64(f), popF64(f)
		f.push(b2u(x == y))
	case wasm.OpcodeF64Ne:
		y, x := popF64(f), popF64(f)
		f.push(b2u(x != y))
	case wasm.OpcodeF64Lt:
		y, x := popF64(f), popF64(f)
		f.push(b2u(x < y))
	case wasm.OpcodeF64Gt:
		y, x := popF64(f), popF64(f)
		f.push(b2u(x > y))
	case wasm.OpcodeF64Le:
		y, x := popF64(f), popF64(f)
		f.push(b2u(x <= y))
	case wasm.OpcodeF64Ge:
		y, x := popF64(f), popF64(f)
		f.push(b2u(x >= y))

	// i32 arithmetic
	case wasm.OpcodeI32Clz:
		f.push(uint64(bits.LeadingZeros32(uint32(f.pop()))))
	case wasm.OpcodeI32Ctz:
		f.push(uint64(bits.TrailingZeros32(uint32(f.pop()))))
	case wasm.OpcodeI32Popcnt:
		f.push(uint64(bits.OnesCount32(uint32(f.pop()))))
	case wasm.OpcodeI32Add:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(uint64(x + y))
	case wasm.OpcodeI32Sub:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(uint64(x - y))
	case wasm.OpcodeI32Mul:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(uint64(x * y))
	case wasm.OpcodeI32DivS:
		y, x := int32(f.pop()), int32(f.pop())
		if y == 0 {
			panic(wasmerr.NewTrap(wasmerr.TrapIntegerDivideByZero))
		}
		if x == math.MinInt32 && y == -1 {
			panic(wasmerr.NewTrap(wasmerr.TrapIntegerOverflow))
		}
		f.push(uint64(uint32(x / y)))
	case wasm.OpcodeI32DivU:
		y, x := uint32(f.pop()), uint32(f.pop())
		if y == 0 {
			panic(wasmerr.NewTrap(wasmerr.TrapIntegerDivideByZero))
		}
		f.push(uint64(x / y))
	case wasm.OpcodeI32RemS:
		y, x := int32(f.pop()), int32(f.pop())
		if y == 0 {
			panic(wasmerr.NewTrap(wasmerr.TrapIntegerDivideByZero))
		}
		if x == math.MinInt32 && y == -1 {
			f.push(0)
		} else {
			f.push(uint64(uint32(x % y)))
		}
	case wasm.OpcodeI32RemU:
		y, x := uint32(f.pop()), uint32(f.pop())
		if y == 0 {
			panic(wasmerr.NewTrap(wasmerr.TrapIntegerDivideByZero))
		}
		f.push(uint64(x % y))
	case wasm.OpcodeI32And:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(uint64(x & y))
	case wasm.OpcodeI32Or:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(uint64(x | y))
	case wasm.OpcodeI32Xor:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(uint64(x ^ y))
	case wasm.OpcodeI32Shl:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(uint64(x << (y % 32)))
	case wasm.OpcodeI32ShrS:
		y, x := uint32(f.pop()), int32(f.pop())
		f.push(uint64(uint32(x >> (y % 32))))
	case wasm.OpcodeI32ShrU:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(uint64(x >> (y % 32)))
	case wasm.OpcodeI32Rotl:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(uint64(bits.RotateLeft32(x, int(y))))
	case wasm.OpcodeI32Rotr:
		y, x := uint32(f.pop()), uint32(f.pop())
		f.push(uint64(bits.RotateLeft32(x, -int(y))))

	// i64 arithmetic
	case wasm.OpcodeI64Clz:
		f.push(uint64(bits.LeadingZeros64(f.pop())))
	case wasm.OpcodeI64Ctz:
		f.push(uint64(bits.TrailingZeros64(f.pop())))
	case wasm.OpcodeI64Popcnt:
		f.push(uint64(bits.OnesCount64(f.pop())))
	case wasm.OpcodeI64Add:
		y, x := f.pop(), f.pop()
		f.push(x + y)
	case wasm.OpcodeI64Sub:
		y, x := f.pop(), f.pop()
		f.push(x - y)
	case wasm.OpcodeI64Mul:
		y, x := f.pop(), f.pop()
		f.push(x * y)
	case wasm.OpcodeI64DivS:
		y, x := int64(f.pop()), int64(f.pop())
		if y == 0 {
			panic(wasmerr.NewTrap(wasmerr.TrapIntegerDivideByZero))
		}
		if x == math.MinInt64 && y == -1 {
			panic(wasmerr.NewTrap(wasmerr.TrapIntegerOverflow))
		}
		f.push(uint64(x / y))
	case wasm.OpcodeI64DivU:
		y, x := f.pop(), f.pop()
		if y == 0 {
			panic(wasmerr.NewTrap(wasmerr.TrapIntegerDivideByZero))
		}
		f.push(x / y)
	case wasm.OpcodeI64RemS:
		y, x := int64(f.pop()), int64(f.pop())
		if y == 0 {
			panic(wasmerr.NewTrap(wasmerr.TrapIntegerDivideByZero))
		}
		if x == math.MinInt64 && y == -1 {
			f.push(0)
		} else {
			f.push(uint64(x % y))
		}
	case wasm.OpcodeI64RemU:
		y, x := f.pop(), f.pop()
		if y == 0 {
			panic(wasmerr.NewTrap(wasmerr.TrapIntegerDivideByZero))
		}
		f.push(x % y)
	case wasm.OpcodeI64And:
		y, x := f.pop(), f.pop()
		f.push(x & y)
	case wasm.OpcodeI64Or:
		y, x := f.pop(), f.pop()
		f.push(x | y)
	case wasm.OpcodeI64Xor:
		y, x := f.pop(), f.pop()
		f.push(x ^ y)
	case wasm.OpcodeI64Shl:
		y, x := f.pop(), f.pop()
		f.push(x << (y % 64))
	case wasm.OpcodeI64ShrS:
		y, x := f.pop(), int64(f.pop())
		f.push(uint64(x >> (y % 64)))
	case wasm.OpcodeI64ShrU:
		y, x := f.pop(), f.pop()
		f.push(x >> (y % 64))
	case wasm.OpcodeI64Rotl:
		y, x := f.pop(), f.pop()
		f.push(bits.RotateLeft64(x, int(y)))
	case wasm.OpcodeI64Rotr:
		y, x := f.pop(), f.pop()
		f.push(bits.RotateLeft64(x, -int(y)))

	// f32 arithmetic
	case wasm.OpcodeF32Abs:
		f.pushF32(float32(math.Abs(float64(popF32(f)))))
	case wasm.OpcodeF32Neg:
		f.pushF32(-popF32(f))
	case wasm.OpcodeF32Ceil:
		f.pushF32(float32(math.Ceil(float64(popF32(f)))))
	case wasm.OpcodeF32Floor:
		f.pushF32(float32(math.Floor(float64(popF32(f)))))
	case wasm.OpcodeF32Trunc:
		f.pushF32(float32(math.Trunc(float64(popF32(f)))))
	case wasm.OpcodeF32Nearest:
		f.pushF32(moremath.WasmCompatNearestF32(popF32(f)))
	case wasm.OpcodeF32Sqrt:
		f.pushF32(float32(math.Sqrt(float64(popF32(f)))))
	case wasm.OpcodeF32Add:
		y, x := popF32(f), popF32(f)
		f.pushF32(x + y)
	case wasm.OpcodeF32Sub:
		y, x := popF32(f), popF32(f)
		f.pushF32(x - y)
	case wasm.OpcodeF32Mul:
		y, x := popF32(f), popF32(f)
		f.pushF32(x * y)
	case wasm.OpcodeF32Div:
		y, x := popF32(f), popF32(f)
		f.pushF32(x / y)
	case wasm.OpcodeF32Min:
		y, x := popF32(f), popF32(f)
		f.pushF32(float32(moremath.WasmCompatMin(float64(x), float64(y))))
	case wasm.OpcodeF32Max:
		y, x := popF32(f), popF32(f)
		f.pushF32(float32(moremath.WasmCompatMax(float64(x), float64(y))))
	case wasm.OpcodeF32Copysign:
		y, x := popF32(f), popF32(f)
		f.pushF32(float32(math.Copysign(float64(x), float64(y))))

	// f64 arithmetic
	case wasm.OpcodeF64Abs:
		f.pushF64(math.Abs(popF64(f)))
	case wasm.OpcodeF64Neg:
		f.pushF64(-popF64(f))
	case wasm.OpcodeF64Ceil:
		f.pushF64(math.Ceil(popF64(f)))
	case wasm.OpcodeF64Floor:
		f.pushF64(math.Floor(popF64(f)))
	case wasm.OpcodeF64Trunc:
		f.pushF64(math.Trunc(popF64(f)))
	case wasm.OpcodeF64Nearest:
		f.pushF64(moremath.WasmCompatNearestF64(popF64(f)))
	case wasm.OpcodeF64Sqrt:
		f.pushF64(math.Sqrt(popF64(f)))
	case wasm.OpcodeF64Add:
		y, x := popF64(f), popF64(f)
		f.pushF64(x + y)
	case wasm.OpcodeF64Sub:
		y, x := popF64(f), popF64(f)
		f.pushF64(x - y)
	case wasm.OpcodeF64Mul:
		y, x := popF64(f), popF64(f)
		f.pushF64(x * y)
	case wasm.OpcodeF64Div:
		y, x := popF64(f), popF64(f)
		f.pushF64(x / y)
	case wasm.OpcodeF64Min:
		y, x := popF64(f), popF64(f)
		f.pushF64(moremath.WasmCompatMin(x, y))
	case wasm.OpcodeF64Max:
		y, x := popF64(f), popF64(f)
		f.pushF64(moremath.WasmCompatMax(x, y))
	case wasm.OpcodeF64Copysign:
		y, x := popF64(f), popF64(f)
		f.pushF64(math.Copysign(x, y))

	// conversions
	case wasm.OpcodeI32WrapI64:
		f.push(uint64(uint32(f.pop())))
	case wasm.OpcodeI32TruncF32S:
		f.push(uint64(uint32(truncI32(float64(popF32(f)), true))))
	case wasm.OpcodeI32TruncF32U:
		f.push(uint64(truncU32(float64(popF32(f)))))
	case wasm.OpcodeI32TruncF64S:
		f.push(uint64(uint32(truncI32(popF64(f), true))))
	case wasm.OpcodeI32TruncF64U:
		f.push(uint64(truncU32(popF64(f))))
	case wasm.OpcodeI64ExtendI32S:
		f.push(uint64(int64(int32(f.pop()))))
	case wasm.OpcodeI64ExtendI32U:
		f.push(uint64(uint32(f.pop())))
	case wasm.OpcodeI64TruncF32S:
		f.push(uint64(truncI64(float64(popF32(f)))))
	case wasm.OpcodeI64TruncF32U:
		f.push(truncU64(float64(popF32(f))))
	case wasm.OpcodeI64TruncF64S:
		f.push(uint64(truncI64(popF64(f))))
	case wasm.OpcodeI64TruncF64U:
		f.push(truncU64(popF64(f)))
	case wasm.OpcodeF32ConvertI32S:
		f.pushF32(float32(int32(f.pop())))
	case wasm.OpcodeF32ConvertI32U:
		f.pushF32(float32(uint32(f.pop())))
	case wasm.OpcodeF32ConvertI64S:
		f.pushF32(float32(int64(f.pop())))
	case wasm.OpcodeF32ConvertI64U:
		f.pushF32(float32(f.pop()))
	case wasm.OpcodeF32DemoteF64:
		f.pushF32(float32(popF64(f)))
	case wasm.OpcodeF64ConvertI32S:
		f.pushF64(float64(int32(f.pop())))
	case wasm.OpcodeF64ConvertI32U:
		f.pushF64(float64(uint32(f.pop())))
	case wasm.OpcodeF64ConvertI64S:
		f.pushF64(float64(int64(f.pop())))
	case wasm.OpcodeF64ConvertI64U:
		f.pushF64(float64(f.pop()))
	case wasm.OpcodeF64PromoteF32:
		f.pushF64(float64(popF32(f)))
	case wasm.OpcodeI32ReinterpretF32:
		f.push(f.pop())
	case wasm.OpcodeI64ReinterpretF64:
		f.push(f.pop())
	case wasm.OpcodeF32ReinterpretI32:
		f.push(f.pop())
	case wasm.OpcodeF64ReinterpretI64:
		f.push(f.pop())

	case wasm.OpcodeI32Extend8S:
		f.push(uint64(uint32(int32(int8(f.pop())))))
	case wasm.OpcodeI32Extend16S:
		f.push(uint64(uint32(int32(int16(f.pop())))))
	case wasm.OpcodeI64Extend8S:
		f.push(uint64(int64(int8(f.pop()))))
	case wasm.OpcodeI64Extend16S:
		f.push(uint64(int64(int16(f.pop()))))
	case wasm.OpcodeI64Extend32S:
		f.push(uint64(int64(int32(f.pop()))))

	default:
		panic(wasmerr.NewDecodeError(wasmerr.ErrUnknownOpcode, nil))
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func popF32(f *callFrame) float32 {
	return math.Float32frombits(uint32(f.pop()))
}

func popF64(f *callFrame) float64 {
	return math.Float64frombits(f.pop())
}

func (f *callFrame) pushF32(v float32) {
	f.push(uint64(math.Float32bits(v)))
}

func (f *callFrame) pushF64(v float64) {
	f.push(math.Float64bits(v))
}

// truncI32/truncU32/truncI64/truncU64 implement the trapping variants of
// the truncation conversions: NaN and out-of-range values trap rather than
// saturate, per the core specification (the saturating variants are the
// separate 0xFC-prefixed instructions implemented in memory.go's execBulk).
func truncI32(v float64, _ bool) int32 {
	if math.IsNaN(v) || v <= math.MinInt32-1 || v >= math.MaxInt32+1 {
		panic(wasmerr.NewTrap(wasmerr.TrapIntegerOverflow))
	}
	return int32(math.Trunc(v))
}

func truncU32(v float64) uint32 {
	if math.IsNaN(v) || v <= -1 || v >= math.MaxUint32+1 {
		panic(wasmerr.NewTrap(wasmerr.TrapIntegerOverflow))
	}
	return uint32(math.Trunc(v))
}

func truncI64(v float64) int64 {
	if math.IsNaN(v) || v < math.MinInt64 || v >= math.MaxInt64 {
		panic(wasmerr.NewTrap(wasmerr.TrapIntegerOverflow))
	}
	return int64(math.Trunc(v))
}

func truncU64(v float64) uint64 {
	if math.IsNaN(v) || v <= -1 || v >= math.MaxUint64 {
		panic(wasmerr.NewTrap(wasmerr.TrapIntegerOverflow))
	}
	return uint64(math.Trunc(v))
}

func truncSatI32(v float64, _ bool) int32 {
	if math.IsNaN(v) {
		return 0
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(math.Trunc(v))
}

func truncSatU32(v float64) uint32 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(math.Trunc(v))
}

func truncSatI64(v float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < math.MinInt64 {
		return math.MinInt64
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(math.Trunc(v))
}

func truncSatU64(v float64) uint64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(math.Trunc(v))
}
