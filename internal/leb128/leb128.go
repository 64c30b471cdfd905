// Package leb128 implements the LEB128 variable-length integer encoding used
// throughout the WebAssembly binary format for indices, counts and the
// i32.const/i64.const immediates.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#integers%E2%91%A4
package leb128

import (
	"fmt"
	"io"
	"math/bits"
)

// decode32Max and decode64Max bound the number of LEB128 groups a conforming
// encoder ever emits for a 32- or 64-bit value: ceil(width/7) groups, which
// is 5 for 32 bits and 10 for 64 bits.
const decode32Max = 5
const decode64Max = 10

// DecodeUint32 reads an unsigned LEB128 value from r, returning the decoded
// value and the number of bytes consumed.
func DecodeUint32(r io.ByteReader) (uint32, uint64, error) {
	v, n, err := decodeUnsigned(r, 32, decode32Max)
	return uint32(v), n, err
}

// DecodeUint64 reads an unsigned LEB128 value from r.
func DecodeUint64(r io.ByteReader) (uint64, uint64, error) {
	return decodeUnsigned(r, 64, decode64Max)
}

func decodeUnsigned(r io.ByteReader, width int, maxGroups int) (uint64, uint64, error) {
	var result uint64
	var shift uint
	var n uint64
	for i := 0; i < maxGroups; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && n > 0 {
				return 0, n, fmt.Errorf("unexpected EOF decoding uleb128: %w", io.ErrUnexpectedEOF)
			}
			return 0, n, fmt.Errorf("reading uleb128: %w", err)
		}
		n++

		data := uint64(b & 0x7f)
		if shift+7 >= 64 && data != 0 {
			// The bits that don't fit in 64 must be zero, else this is an overflow.
			if bits.Len64(data) > int(64-shift) {
				return 0, n, fmt.Errorf("overflow decoding uleb128 as uint%d", width)
			}
		}
		result |= data << shift

		if b&0x80 == 0 {
			if width < 64 && result > (uint64(1)<<width)-1 {
				return 0, n, fmt.Errorf("overflow decoding uleb128 as uint%d", width)
			}
			return result, n, nil
		}
		shift += 7
	}
	return 0, n, fmt.Errorf("uleb128 exceeds %d groups", maxGroups)
}

// DecodeInt32 reads a signed LEB128 value from r as an int32.
func DecodeInt32(r io.ByteReader) (int32, uint64, error) {
	v, n, err := decodeSigned(r, 32, decode32Max)
	if err != nil {
		return 0, n, err
	}
	return int32(v), n, nil
}

// DecodeInt64 reads a signed LEB128 value from r as an int64.
func DecodeInt64(r io.ByteReader) (int64, uint64, error) {
	return decodeSigned(r, 64, decode64Max)
}

// DecodeInt33AsInt64 reads a 33-bit signed LEB128 value, sign-extended into
// an int64. This is the shape the WebAssembly binary format uses for a
// block-type immediate: a value type tag is encoded as a negative small
// integer in this extended range, leaving non-negative values free to name a
// type index.
func DecodeInt33AsInt64(r io.ByteReader) (int64, uint64, error) {
	return decodeSigned(r, 33, 5)
}

func decodeSigned(r io.ByteReader, width int, maxGroups int) (int64, uint64, error) {
	var result int64
	var shift uint
	var n uint64
	var b byte
	var err error
	for i := 0; i < maxGroups; i++ {
		b, err = r.ReadByte()
		if err != nil {
			if err == io.EOF && n > 0 {
				return 0, n, fmt.Errorf("unexpected EOF decoding sleb128: %w", io.ErrUnexpectedEOF)
			}
			return 0, n, fmt.Errorf("reading sleb128: %w", err)
		}
		n++

		result |= int64(b&0x7f) << shift
		shift += 7

		if b&0x80 == 0 {
			// Sign-extend through bit 6 of the final group if set.
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			if width < 64 {
				// The truncated value must round-trip back to itself to
				// reject an over-wide encoding of a width-bit value.
				truncated := result << (64 - width) >> (64 - width)
				if truncated != result {
					return 0, n, fmt.Errorf("overflow decoding sleb128 as int%d", width)
				}
			}
			return result, n, nil
		}
	}
	return 0, n, fmt.Errorf("sleb128 exceeds %d groups", maxGroups)
}

type byteSliceReader struct {
	data []byte
	pos  int
}

func (r *byteSliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// LoadUint32 decodes an unsigned LEB128 value from the start of data.
func LoadUint32(data []byte) (uint32, uint64, error) {
	r := &byteSliceReader{data: data}
	return DecodeUint32(r)
}

// LoadUint64 decodes an unsigned LEB128 value from the start of data.
func LoadUint64(data []byte) (uint64, uint64, error) {
	r := &byteSliceReader{data: data}
	return DecodeUint64(r)
}

// LoadInt32 decodes a signed LEB128 value from the start of data.
func LoadInt32(data []byte) (int32, uint64, error) {
	r := &byteSliceReader{data: data}
	return DecodeInt32(r)
}

// LoadInt64 decodes a signed LEB128 value from the start of data.
func LoadInt64(data []byte) (int64, uint64, error) {
	r := &byteSliceReader{data: data}
	return DecodeInt64(r)
}

// EncodeUint32 returns the canonical unsigned LEB128 encoding of v.
func EncodeUint32(v uint32) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 returns the canonical unsigned LEB128 encoding of v.
func EncodeUint64(v uint64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}

// EncodeInt32 returns the canonical signed LEB128 encoding of v.
func EncodeInt32(v int32) []byte {
	return EncodeInt64(int64(v))
}

// EncodeInt64 returns the canonical signed LEB128 encoding of v.
func EncodeInt64(v int64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}
