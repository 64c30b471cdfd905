// Package binary implements the WebAssembly 1.0 binary module format:
// decoding a byte slab into a *wasm.Module, and encoding one back,
// section by section, per the grammar in the core specification.
package binary

import (
	"bytes"
	"io"

	wasm "github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/leb128"
	"github.com/irrio/semblance/internal/wasmerr"
)

var magic = []byte{0x00, 0x61, 0x73, 0x6d}
var version = []byte{0x01, 0x00, 0x00, 0x00}

// DecodeModule parses data as a WebAssembly binary module. It performs
// structural and static validation (index bounds, type agreement where the
// format itself can express it) but not full type-checking of function
// bodies; the interpreter is free to trap on a malformed body it can't
// execute, matching the original runtime's choice to keep validation
// lightweight and defer most of it to execution time.
func DecodeModule(data []byte) (*wasm.Module, error) {
	r := bytes.NewReader(data)

	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, wasmerr.NewDecodeError(wasmerr.ErrMagicBytes, err)
	}
	if !bytes.Equal(hdr, magic) {
		return nil, wasmerr.NewDecodeErrorAt(wasmerr.ErrMagicBytes, 0)
	}
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, wasmerr.NewDecodeError(wasmerr.ErrUnsupportedVersion, err)
	}
	if !bytes.Equal(hdr, version) {
		return nil, wasmerr.NewDecodeErrorAt(wasmerr.ErrUnsupportedVersion, 4)
	}

	m := &wasm.Module{Raw: append([]byte(nil), data...)}

	var lastID wasm.SectionID = wasm.SectionIDCustom
	var sawNonCustom bool
	// order ranks sections by their required position: data count (12)
	// sits between element (9) and code (10).
	order := func(id wasm.SectionID) int {
		if id == wasm.SectionIDDataCount {
			return 2*int(wasm.SectionIDElement) + 1
		}
		return 2 * int(id)
	}
	for {
		idByte, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wasmerr.NewDecodeError(wasmerr.ErrIo, err)
		}
		id := wasm.SectionID(idByte)
		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, wasmerr.NewDecodeError(wasmerr.ErrLeb128, err)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, wasmerr.NewDecodeError(wasmerr.ErrIo, err)
		}
		sd := &decoder{r: bytes.NewReader(body)}

		if id != wasm.SectionIDCustom {
			if sawNonCustom && order(id) <= order(lastID) {
				return nil, wasmerr.NewDecodeError(wasmerr.ErrUnknownSectionId, nil)
			}
			lastID = id
			sawNonCustom = true
		}

		switch id {
		case wasm.SectionIDCustom:
			// Custom sections (including "name") are skipped: their content
			// never affects instantiation or execution semantics.
		case wasm.SectionIDType:
			if err := decodeTypeSection(sd, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDImport:
			if err := decodeImportSection(sd, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDFunction:
			if err := decodeFunctionSection(sd, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDTable:
			if err := decodeTableSection(sd, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDMemory:
			if err := decodeMemorySection(sd, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDGlobal:
			if err := decodeGlobalSection(sd, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDExport:
			if err := decodeExportSection(sd, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDStart:
			idx, _, err := leb128.DecodeUint32(sd.r)
			if err != nil {
				return nil, wasmerr.NewDecodeError(wasmerr.ErrLeb128, err)
			}
			m.HasStart = true
			m.StartFunctionIndex = idx
		case wasm.SectionIDElement:
			if err := decodeElementSection(sd, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDCode:
			if err := decodeCodeSection(sd, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDData:
			if err := decodeDataSection(sd, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDDataCount:
			n, _, err := leb128.DecodeUint32(sd.r)
			if err != nil {
				return nil, wasmerr.NewDecodeError(wasmerr.ErrLeb128, err)
			}
			m.HasDataCount = true
			m.DataCount = n
		default:
			return nil, wasmerr.NewDecodeError(wasmerr.ErrUnknownSectionId, nil)
		}
	}

	if len(m.Code) != len(m.FunctionTypeIndices) {
		return nil, wasmerr.NewDecodeError(wasmerr.ErrInvalidType, nil)
	}
	return m, nil
}

// decoder wraps a byte reader for one section body with the shared
// low-level primitives (LEB128 ints, names, vectors of a kind).
type decoder struct {
	r *bytes.Reader
}

func (d *decoder) byte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, wasmerr.NewDecodeError(wasmerr.ErrIo, err)
	}
	return b, nil
}

func (d *decoder) u32() (uint32, error) {
	v, _, err := leb128.DecodeUint32(d.r)
	if err != nil {
		return 0, wasmerr.NewDecodeError(wasmerr.ErrLeb128, err)
	}
	return v, nil
}

func (d *decoder) i32() (int32, error) {
	v, _, err := leb128.DecodeInt32(d.r)
	if err != nil {
		return 0, wasmerr.NewDecodeError(wasmerr.ErrLeb128, err)
	}
	return v, nil
}

func (d *decoder) i64() (int64, error) {
	v, _, err := leb128.DecodeInt64(d.r)
	if err != nil {
		return 0, wasmerr.NewDecodeError(wasmerr.ErrLeb128, err)
	}
	return v, nil
}

func (d *decoder) f32() (float32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, wasmerr.NewDecodeError(wasmerr.ErrIo, err)
	}
	return float32FromLEBytes(buf), nil
}

func (d *decoder) f64() (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, wasmerr.NewDecodeError(wasmerr.ErrIo, err)
	}
	return float64FromLEBytes(buf), nil
}

func (d *decoder) name() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", wasmerr.NewDecodeError(wasmerr.ErrIo, err)
	}
	return string(buf), nil
}

func (d *decoder) valueType() (wasm.ValueType, error) {
	b, err := d.byte()
	if err != nil {
		return 0, err
	}
	switch b {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64,
		wasm.ValueTypeV128, wasm.ValueTypeFuncref, wasm.ValueTypeExternref:
		return b, nil
	}
	return 0, wasmerr.NewDecodeError(wasmerr.ErrUnknownValueType, nil)
}

func (d *decoder) limits() (wasm.Limits, error) {
	flag, err := d.byte()
	if err != nil {
		return wasm.Limits{}, err
	}
	min, err := d.u32()
	if err != nil {
		return wasm.Limits{}, err
	}
	l := wasm.Limits{Min: min}
	switch flag {
	case 0x00:
	case 0x01:
		max, err := d.u32()
		if err != nil {
			return wasm.Limits{}, err
		}
		l.Max = max
		l.HasMax = true
	default:
		return wasm.Limits{}, wasmerr.NewDecodeError(wasmerr.ErrInvalidLimit, nil)
	}
	return l, nil
}
