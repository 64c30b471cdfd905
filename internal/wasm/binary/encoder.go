package binary

import (
	"bytes"

	wasm "github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/leb128"
)

// EncodeModule serializes m back into the WebAssembly binary format. It is
// not guaranteed to reproduce the original byte slab a module was decoded
// from (custom sections and any non-canonical LEB128 encodings are not
// preserved), but re-decoding its output always yields a module with
// identical semantics: decode(encode(m)) behaves like m for every testable
// property.
func EncodeModule(m *wasm.Module) []byte {
	var buf bytes.Buffer
	buf.Write(magic)
	buf.Write(version)

	if len(m.Types) > 0 {
		writeSection(&buf, wasm.SectionIDType, encodeTypeSection(m))
	}
	if len(m.Imports) > 0 {
		writeSection(&buf, wasm.SectionIDImport, encodeImportSection(m))
	}
	if len(m.FunctionTypeIndices) > 0 {
		writeSection(&buf, wasm.SectionIDFunction, encodeFunctionSection(m))
	}
	if len(m.Tables) > 0 {
		writeSection(&buf, wasm.SectionIDTable, encodeTableSection(m))
	}
	if len(m.Memories) > 0 {
		writeSection(&buf, wasm.SectionIDMemory, encodeMemorySection(m))
	}
	if len(m.Globals) > 0 {
		writeSection(&buf, wasm.SectionIDGlobal, encodeGlobalSection(m))
	}
	if len(m.Exports) > 0 {
		writeSection(&buf, wasm.SectionIDExport, encodeExportSection(m))
	}
	if m.HasStart {
		var b bytes.Buffer
		b.Write(leb128.EncodeUint32(m.StartFunctionIndex))
		writeSection(&buf, wasm.SectionIDStart, b.Bytes())
	}
	if len(m.Elements) > 0 {
		writeSection(&buf, wasm.SectionIDElement, encodeElementSection(m))
	}
	if m.HasDataCount {
		var b bytes.Buffer
		b.Write(leb128.EncodeUint32(m.DataCount))
		writeSection(&buf, wasm.SectionIDDataCount, b.Bytes())
	}
	if len(m.Code) > 0 {
		writeSection(&buf, wasm.SectionIDCode, encodeCodeSection(m))
	}
	if len(m.DataSegments) > 0 {
		writeSection(&buf, wasm.SectionIDData, encodeDataSection(m))
	}
	return buf.Bytes()
}

func writeSection(buf *bytes.Buffer, id wasm.SectionID, body []byte) {
	buf.WriteByte(byte(id))
	buf.Write(leb128.EncodeUint32(uint32(len(body))))
	buf.Write(body)
}

func writeName(buf *bytes.Buffer, s string) {
	buf.Write(leb128.EncodeUint32(uint32(len(s))))
	buf.WriteString(s)
}

func writeLimits(buf *bytes.Buffer, l wasm.Limits) {
	if l.HasMax {
		buf.WriteByte(0x01)
		buf.Write(leb128.EncodeUint32(l.Min))
		buf.Write(leb128.EncodeUint32(l.Max))
	} else {
		buf.WriteByte(0x00)
		buf.Write(leb128.EncodeUint32(l.Min))
	}
}

func encodeTypeSection(m *wasm.Module) []byte {
	var buf bytes.Buffer
	buf.Write(leb128.EncodeUint32(uint32(len(m.Types))))
	for _, t := range m.Types {
		buf.WriteByte(0x60)
		buf.Write(leb128.EncodeUint32(uint32(len(t.Params))))
		buf.Write(t.Params)
		buf.Write(leb128.EncodeUint32(uint32(len(t.Results))))
		buf.Write(t.Results)
	}
	return buf.Bytes()
}

func encodeImportSection(m *wasm.Module) []byte {
	var buf bytes.Buffer
	buf.Write(leb128.EncodeUint32(uint32(len(m.Imports))))
	for _, imp := range m.Imports {
		writeName(&buf, imp.Module)
		writeName(&buf, imp.Name)
		buf.WriteByte(imp.Type)
		switch imp.Type {
		case wasm.ExternTypeFunc:
			buf.Write(leb128.EncodeUint32(imp.DescFunc))
		case wasm.ExternTypeTable:
			buf.WriteByte(imp.DescTable.ElemType)
			writeLimits(&buf, imp.DescTable.Limits)
		case wasm.ExternTypeMemory:
			writeLimits(&buf, imp.DescMem.Limits)
		case wasm.ExternTypeGlobal:
			buf.WriteByte(imp.DescGlobal.ValType)
			if imp.DescGlobal.Mutable {
				buf.WriteByte(0x01)
			} else {
				buf.WriteByte(0x00)
			}
		}
	}
	return buf.Bytes()
}

func encodeFunctionSection(m *wasm.Module) []byte {
	var buf bytes.Buffer
	buf.Write(leb128.EncodeUint32(uint32(len(m.FunctionTypeIndices))))
	for _, idx := range m.FunctionTypeIndices {
		buf.Write(leb128.EncodeUint32(idx))
	}
	return buf.Bytes()
}

func encodeTableSection(m *wasm.Module) []byte {
	var buf bytes.Buffer
	buf.Write(leb128.EncodeUint32(uint32(len(m.Tables))))
	for _, t := range m.Tables {
		buf.WriteByte(t.ElemType)
		writeLimits(&buf, t.Limits)
	}
	return buf.Bytes()
}

func encodeMemorySection(m *wasm.Module) []byte {
	var buf bytes.Buffer
	buf.Write(leb128.EncodeUint32(uint32(len(m.Memories))))
	for _, mt := range m.Memories {
		writeLimits(&buf, mt.Limits)
	}
	return buf.Bytes()
}

func encodeGlobalSection(m *wasm.Module) []byte {
	var buf bytes.Buffer
	buf.Write(leb128.EncodeUint32(uint32(len(m.Globals))))
	for _, g := range m.Globals {
		buf.WriteByte(g.Type.ValType)
		if g.Type.Mutable {
			buf.WriteByte(0x01)
		} else {
			buf.WriteByte(0x00)
		}
		encodeExprInto(&buf, g.Init)
	}
	return buf.Bytes()
}

func encodeExportSection(m *wasm.Module) []byte {
	var buf bytes.Buffer
	buf.Write(leb128.EncodeUint32(uint32(len(m.Exports))))
	for _, e := range m.Exports {
		writeName(&buf, e.Name)
		buf.WriteByte(e.Type)
		buf.Write(leb128.EncodeUint32(e.Index))
	}
	return buf.Bytes()
}

// encodeElementSection always uses the bulk-memory expression-form element
// encoding (mode flags 4/5/6/7): every Init entry, whether it originated
// from a funcidx-vector or an expression-vector segment, is already a
// normalized const expression, so one encoding path covers both.
func encodeElementSection(m *wasm.Module) []byte {
	var buf bytes.Buffer
	buf.Write(leb128.EncodeUint32(uint32(len(m.Elements))))
	for _, seg := range m.Elements {
		switch seg.Mode {
		case wasm.ElementModeActive:
			if seg.TableIdx == 0 {
				buf.Write(leb128.EncodeUint32(4))
				encodeExprInto(&buf, seg.Offset)
			} else {
				buf.Write(leb128.EncodeUint32(6))
				buf.Write(leb128.EncodeUint32(seg.TableIdx))
				encodeExprInto(&buf, seg.Offset)
				buf.WriteByte(seg.Type)
			}
		case wasm.ElementModePassive:
			buf.Write(leb128.EncodeUint32(5))
			buf.WriteByte(seg.Type)
		case wasm.ElementModeDeclarative:
			buf.Write(leb128.EncodeUint32(7))
			buf.WriteByte(seg.Type)
		}
		buf.Write(leb128.EncodeUint32(uint32(len(seg.Init))))
		for _, expr := range seg.Init {
			encodeExprInto(&buf, expr)
		}
	}
	return buf.Bytes()
}

func encodeCodeSection(m *wasm.Module) []byte {
	var buf bytes.Buffer
	buf.Write(leb128.EncodeUint32(uint32(len(m.Code))))
	for _, c := range m.Code {
		var body bytes.Buffer
		// Collapse the expanded per-slot local types back into compressed
		// runs of (count, type), the inverse of decodeFunc's expansion.
		groups := compressLocals(c.LocalTypes)
		body.Write(leb128.EncodeUint32(uint32(len(groups))))
		for _, g := range groups {
			body.Write(leb128.EncodeUint32(g.count))
			body.WriteByte(g.vt)
		}
		encodeExprInto(&body, c.Body)
		buf.Write(leb128.EncodeUint32(uint32(body.Len())))
		buf.Write(body.Bytes())
	}
	return buf.Bytes()
}

type localGroup struct {
	count uint32
	vt    wasm.ValueType
}

func compressLocals(locals []wasm.ValueType) []localGroup {
	var groups []localGroup
	for _, vt := range locals {
		if len(groups) > 0 && groups[len(groups)-1].vt == vt {
			groups[len(groups)-1].count++
		} else {
			groups = append(groups, localGroup{count: 1, vt: vt})
		}
	}
	return groups
}

func encodeDataSection(m *wasm.Module) []byte {
	var buf bytes.Buffer
	buf.Write(leb128.EncodeUint32(uint32(len(m.DataSegments))))
	for _, seg := range m.DataSegments {
		switch seg.Mode {
		case wasm.DataModeActive:
			if seg.MemIdx == 0 {
				buf.Write(leb128.EncodeUint32(0))
			} else {
				buf.Write(leb128.EncodeUint32(2))
				buf.Write(leb128.EncodeUint32(seg.MemIdx))
			}
			encodeExprInto(&buf, seg.Offset)
		case wasm.DataModePassive:
			buf.Write(leb128.EncodeUint32(1))
		}
		buf.Write(leb128.EncodeUint32(uint32(len(seg.Init))))
		buf.Write(seg.Init)
	}
	return buf.Bytes()
}
