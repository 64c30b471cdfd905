package binary

import (
	"bytes"
	"io"

	wasm "github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/wasmerr"
)

func decodeTypeSection(d *decoder, m *wasm.Module) error {
	n, err := d.u32()
	if err != nil {
		return err
	}
	m.Types = make([]wasm.FunctionType, n)
	for i := range m.Types {
		tag, err := d.byte()
		if err != nil {
			return err
		}
		if tag != 0x60 {
			return wasmerr.NewDecodeError(wasmerr.ErrInvalidType, nil)
		}
		params, err := decodeValueTypeVec(d)
		if err != nil {
			return err
		}
		results, err := decodeValueTypeVec(d)
		if err != nil {
			return err
		}
		if len(results) > 1 {
			// WebAssembly 1.0 permits at most one result; multi-value
			// signatures are a later proposal out of scope here.
			return wasmerr.NewDecodeError(wasmerr.ErrInvalidType, nil)
		}
		m.Types[i] = wasm.FunctionType{Params: params, Results: results}
	}
	return nil
}

func decodeValueTypeVec(d *decoder) ([]wasm.ValueType, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]wasm.ValueType, n)
	for i := range out {
		vt, err := d.valueType()
		if err != nil {
			return nil, err
		}
		out[i] = vt
	}
	return out, nil
}

func decodeImportSection(d *decoder, m *wasm.Module) error {
	n, err := d.u32()
	if err != nil {
		return err
	}
	m.Imports = make([]wasm.Import, n)
	for i := range m.Imports {
		modName, err := d.name()
		if err != nil {
			return err
		}
		name, err := d.name()
		if err != nil {
			return err
		}
		kind, err := d.byte()
		if err != nil {
			return err
		}
		imp := wasm.Import{Module: modName, Name: name, Type: kind}
		switch kind {
		case wasm.ExternTypeFunc:
			idx, err := d.u32()
			if err != nil {
				return err
			}
			imp.DescFunc = idx
			m.NumFuncImports++
		case wasm.ExternTypeTable:
			tt, err := decodeTableType(d)
			if err != nil {
				return err
			}
			imp.DescTable = tt
			m.NumTableImports++
		case wasm.ExternTypeMemory:
			mt, err := decodeMemoryType(d)
			if err != nil {
				return err
			}
			imp.DescMem = mt
			m.NumMemoryImports++
		case wasm.ExternTypeGlobal:
			gt, err := decodeGlobalType(d)
			if err != nil {
				return err
			}
			imp.DescGlobal = gt
			m.NumGlobalImports++
		default:
			return wasmerr.NewDecodeError(wasmerr.ErrInvalidImport, nil)
		}
		m.Imports[i] = imp
	}
	return nil
}

func decodeTableType(d *decoder) (wasm.TableType, error) {
	elemType, err := d.byte()
	if err != nil {
		return wasm.TableType{}, err
	}
	if elemType != wasm.ValueTypeFuncref && elemType != wasm.ValueTypeExternref {
		return wasm.TableType{}, wasmerr.NewDecodeError(wasmerr.ErrInvalidType, nil)
	}
	lim, err := d.limits()
	if err != nil {
		return wasm.TableType{}, err
	}
	return wasm.TableType{ElemType: elemType, Limits: lim}, nil
}

func decodeMemoryType(d *decoder) (wasm.MemoryType, error) {
	lim, err := d.limits()
	if err != nil {
		return wasm.MemoryType{}, err
	}
	if lim.Min > wasm.MaxPages || (lim.HasMax && lim.Max > wasm.MaxPages) {
		return wasm.MemoryType{}, wasmerr.NewDecodeError(wasmerr.ErrInvalidLimit, nil)
	}
	return wasm.MemoryType{Limits: lim}, nil
}

func decodeGlobalType(d *decoder) (wasm.GlobalType, error) {
	vt, err := d.valueType()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	m, err := d.byte()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	if m != 0x00 && m != 0x01 {
		return wasm.GlobalType{}, wasmerr.NewDecodeError(wasmerr.ErrInvalidGlobalMutability, nil)
	}
	return wasm.GlobalType{ValType: vt, Mutable: m == 0x01}, nil
}

func decodeFunctionSection(d *decoder, m *wasm.Module) error {
	n, err := d.u32()
	if err != nil {
		return err
	}
	m.FunctionTypeIndices = make([]wasm.Index, n)
	for i := range m.FunctionTypeIndices {
		idx, err := d.u32()
		if err != nil {
			return err
		}
		if int(idx) >= len(m.Types) {
			return wasmerr.NewDecodeError(wasmerr.ErrInvalidType, nil)
		}
		m.FunctionTypeIndices[i] = idx
	}
	return nil
}

func decodeTableSection(d *decoder, m *wasm.Module) error {
	n, err := d.u32()
	if err != nil {
		return err
	}
	// WebAssembly 1.0 permits at most one table across imports and
	// module-defined tables combined.
	if n > 1 || (n == 1 && m.NumTableImports > 0) {
		return wasmerr.NewDecodeError(wasmerr.ErrInvalidLimit, nil)
	}
	m.Tables = make([]wasm.TableType, n)
	for i := range m.Tables {
		tt, err := decodeTableType(d)
		if err != nil {
			return err
		}
		m.Tables[i] = tt
	}
	return nil
}

func decodeMemorySection(d *decoder, m *wasm.Module) error {
	n, err := d.u32()
	if err != nil {
		return err
	}
	if n > 1 || (n == 1 && m.NumMemoryImports > 0) {
		return wasmerr.NewDecodeError(wasmerr.ErrInvalidLimit, nil)
	}
	m.Memories = make([]wasm.MemoryType, n)
	for i := range m.Memories {
		mt, err := decodeMemoryType(d)
		if err != nil {
			return err
		}
		m.Memories[i] = mt
	}
	return nil
}

func decodeGlobalSection(d *decoder, m *wasm.Module) error {
	n, err := d.u32()
	if err != nil {
		return err
	}
	m.Globals = make([]wasm.Global, n)
	for i := range m.Globals {
		gt, err := decodeGlobalType(d)
		if err != nil {
			return err
		}
		expr, err := decodeConstExpr(d)
		if err != nil {
			return err
		}
		m.Globals[i] = wasm.Global{Type: gt, Init: expr}
	}
	return nil
}

func decodeExportSection(d *decoder, m *wasm.Module) error {
	n, err := d.u32()
	if err != nil {
		return err
	}
	m.Exports = make([]wasm.Export, n)
	seen := make(map[string]bool, n)
	for i := range m.Exports {
		name, err := d.name()
		if err != nil {
			return err
		}
		if seen[name] {
			return wasmerr.NewDecodeError(wasmerr.ErrInvalidExport, nil)
		}
		seen[name] = true
		kind, err := d.byte()
		if err != nil {
			return err
		}
		idx, err := d.u32()
		if err != nil {
			return err
		}
		switch kind {
		case wasm.ExternTypeFunc, wasm.ExternTypeTable, wasm.ExternTypeMemory, wasm.ExternTypeGlobal:
		default:
			return wasmerr.NewDecodeError(wasmerr.ErrInvalidExport, nil)
		}
		m.Exports[i] = wasm.Export{Name: name, Type: kind, Index: idx}
	}
	return nil
}

func decodeElementSection(d *decoder, m *wasm.Module) error {
	n, err := d.u32()
	if err != nil {
		return err
	}
	m.Elements = make([]wasm.ElementSegment, n)
	for i := range m.Elements {
		flag, err := d.u32()
		if err != nil {
			return err
		}
		seg := wasm.ElementSegment{Type: wasm.ValueTypeFuncref}
		switch flag {
		case 0: // active, table 0, funcidx* init
			seg.Mode = wasm.ElementModeActive
			seg.TableIdx = 0
			offset, err := decodeConstExpr(d)
			if err != nil {
				return err
			}
			seg.Offset = offset
			idxs, err := decodeFuncIdxVec(d)
			if err != nil {
				return err
			}
			seg.Init = idxs
		case 1: // passive, elemkind, funcidx*
			if _, err := d.byte(); err != nil { // elemkind, always 0x00
				return err
			}
			seg.Mode = wasm.ElementModePassive
			idxs, err := decodeFuncIdxVec(d)
			if err != nil {
				return err
			}
			seg.Init = idxs
		case 2: // active, explicit tableidx, elemkind, funcidx*
			tidx, err := d.u32()
			if err != nil {
				return err
			}
			seg.Mode = wasm.ElementModeActive
			seg.TableIdx = tidx
			offset, err := decodeConstExpr(d)
			if err != nil {
				return err
			}
			seg.Offset = offset
			if _, err := d.byte(); err != nil {
				return err
			}
			idxs, err := decodeFuncIdxVec(d)
			if err != nil {
				return err
			}
			seg.Init = idxs
		case 3: // declarative, elemkind, funcidx*
			if _, err := d.byte(); err != nil {
				return err
			}
			seg.Mode = wasm.ElementModeDeclarative
			idxs, err := decodeFuncIdxVec(d)
			if err != nil {
				return err
			}
			seg.Init = idxs
		case 4: // active, table 0, expr* init (funcref)
			seg.Mode = wasm.ElementModeActive
			seg.TableIdx = 0
			offset, err := decodeConstExpr(d)
			if err != nil {
				return err
			}
			seg.Offset = offset
			exprs, err := decodeExprVec(d)
			if err != nil {
				return err
			}
			seg.Init = exprs
		case 5: // passive, reftype, expr*
			rt, err := d.valueType()
			if err != nil {
				return err
			}
			seg.Mode = wasm.ElementModePassive
			seg.Type = rt
			exprs, err := decodeExprVec(d)
			if err != nil {
				return err
			}
			seg.Init = exprs
		case 6: // active, explicit tableidx, reftype, expr*
			tidx, err := d.u32()
			if err != nil {
				return err
			}
			seg.Mode = wasm.ElementModeActive
			seg.TableIdx = tidx
			offset, err := decodeConstExpr(d)
			if err != nil {
				return err
			}
			seg.Offset = offset
			rt, err := d.valueType()
			if err != nil {
				return err
			}
			seg.Type = rt
			exprs, err := decodeExprVec(d)
			if err != nil {
				return err
			}
			seg.Init = exprs
		case 7: // declarative, reftype, expr*
			rt, err := d.valueType()
			if err != nil {
				return err
			}
			seg.Mode = wasm.ElementModeDeclarative
			seg.Type = rt
			exprs, err := decodeExprVec(d)
			if err != nil {
				return err
			}
			seg.Init = exprs
		default:
			return wasmerr.NewDecodeError(wasmerr.ErrInvalidElem, nil)
		}
		m.Elements[i] = seg
	}
	return nil
}

func decodeIndexVec(d *decoder) ([]wasm.Index, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.Index, n)
	for i := range out {
		idx, err := d.u32()
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

// decodeFuncIdxVec decodes the MVP funcidx-vector element-init encoding,
// normalizing each entry into the one-instruction ref.func const expression
// the expression-form encoding would have produced for the same function.
func decodeFuncIdxVec(d *decoder) ([][]wasm.Instruction, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([][]wasm.Instruction, n)
	for i := range out {
		idx, err := d.u32()
		if err != nil {
			return nil, err
		}
		out[i] = []wasm.Instruction{{Opcode: wasm.OpcodeRefFunc, Index: idx}}
	}
	return out, nil
}

// decodeExprVec decodes the bulk-memory expression-form element-init
// encoding: a vector of constant expressions, each its own ref.func or
// ref.null terminated by end.
func decodeExprVec(d *decoder) ([][]wasm.Instruction, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([][]wasm.Instruction, n)
	for i := range out {
		expr, err := decodeConstExpr(d)
		if err != nil {
			return nil, err
		}
		out[i] = expr
	}
	return out, nil
}

func decodeCodeSection(d *decoder, m *wasm.Module) error {
	n, err := d.u32()
	if err != nil {
		return err
	}
	m.Code = make([]wasm.Code, n)
	for i := range m.Code {
		size, err := d.u32()
		if err != nil {
			return err
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return wasmerr.NewDecodeError(wasmerr.ErrIo, err)
		}
		cd := &decoder{r: bytes.NewReader(body)}
		code, err := decodeFunc(cd)
		if err != nil {
			return err
		}
		m.Code[i] = code
	}
	return nil
}

func decodeFunc(d *decoder) (wasm.Code, error) {
	numLocalGroups, err := d.u32()
	if err != nil {
		return wasm.Code{}, err
	}
	var locals []wasm.ValueType
	var total uint64
	for i := uint32(0); i < numLocalGroups; i++ {
		count, err := d.u32()
		if err != nil {
			return wasm.Code{}, err
		}
		vt, err := d.valueType()
		if err != nil {
			return wasm.Code{}, err
		}
		total += uint64(count)
		if total > 1<<20 {
			return wasm.Code{}, wasmerr.NewDecodeError(wasmerr.ErrOom, nil)
		}
		for j := uint32(0); j < count; j++ {
			locals = append(locals, vt)
		}
	}
	body, err := decodeExpr(d)
	if err != nil {
		return wasm.Code{}, err
	}
	return wasm.Code{LocalTypes: locals, Body: body}, nil
}

func decodeDataSection(d *decoder, m *wasm.Module) error {
	n, err := d.u32()
	if err != nil {
		return err
	}
	m.DataSegments = make([]wasm.DataSegment, n)
	for i := range m.DataSegments {
		flag, err := d.u32()
		if err != nil {
			return err
		}
		seg := wasm.DataSegment{}
		switch flag {
		case 0:
			seg.Mode = wasm.DataModeActive
			seg.MemIdx = 0
			offset, err := decodeConstExpr(d)
			if err != nil {
				return err
			}
			seg.Offset = offset
		case 1:
			seg.Mode = wasm.DataModePassive
		case 2:
			midx, err := d.u32()
			if err != nil {
				return err
			}
			seg.Mode = wasm.DataModeActive
			seg.MemIdx = midx
			offset, err := decodeConstExpr(d)
			if err != nil {
				return err
			}
			seg.Offset = offset
		default:
			return wasmerr.NewDecodeError(wasmerr.ErrInvalidElem, nil)
		}
		n, err := d.u32()
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return wasmerr.NewDecodeError(wasmerr.ErrIo, err)
		}
		seg.Init = buf
		m.DataSegments[i] = seg
	}
	return nil
}
