package semblance

import (
	"context"
	"fmt"
	"reflect"

	"github.com/irrio/semblance/api"
	"github.com/irrio/semblance/internal/wasm"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	moduleType  = reflect.TypeOf((*api.Module)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// HostFunctionBuilder defines a single host function (a Go func) and the
// name it is exported under from the enclosing HostModuleBuilder.
//
// Here's an example of an addition function:
//
//	hostModuleBuilder.NewFunctionBuilder().
//		WithFunc(func(ctx context.Context, x, y uint32) uint32 {
//			return x + y
//		}).
//		Export("add")
//
// Except for a leading context.Context and an optional api.Module, every
// parameter and result must be uint32, int32, uint64, int64, float32, or
// float64 — the numeric types WebAssembly itself has. If a function's last
// result is an error, a non-nil return traps the call instead of returning
// results.
type HostFunctionBuilder interface {
	// WithFunc maps a Go func to a WebAssembly function signature via
	// reflection. fn must be a func; anything else fails at Compile.
	WithFunc(fn interface{}) HostFunctionBuilder

	// Export exports this function from the enclosing HostModuleBuilder as
	// name, returning it for chaining further NewFunctionBuilder calls.
	Export(name string) HostModuleBuilder
}

type funcDef struct {
	name string
	fn   interface{}
}

type hostFunctionBuilder struct {
	parent *hostModuleBuilder
	def    funcDef
}

var _ HostFunctionBuilder = (*hostFunctionBuilder)(nil)

func (b *hostFunctionBuilder) WithFunc(fn interface{}) HostFunctionBuilder {
	b.def.fn = fn
	return b
}

func (b *hostFunctionBuilder) Export(name string) HostModuleBuilder {
	b.def.name = name
	b.parent.funcs = append(b.parent.funcs, b.def)
	return b.parent
}

// HostModuleBuilder accumulates host functions and an optional memory into a
// module importable by name, the host side of an ABI like WASI. It exports
// no globals.
//
//	env, _ := r.NewHostModuleBuilder("env").
//		NewFunctionBuilder().WithFunc(hello).Export("hello").
//		Instantiate(ctx)
//
// Functions are indexed in the order Export is called, since ABIs that
// index imports positionally (rather than by name) depend on it.
type HostModuleBuilder interface {
	// ExportMemory adds a linear memory a guest module can import, sized to
	// minPages initially with no declared maximum beyond the runtime's own
	// ceiling.
	ExportMemory(name string, minPages uint32) HostModuleBuilder

	// ExportMemoryWithMax is like ExportMemory but also declares a maximum,
	// which a guest's memory.grow can never exceed.
	ExportMemoryWithMax(name string, minPages, maxPages uint32) HostModuleBuilder

	// NewFunctionBuilder begins the definition of one host function.
	NewFunctionBuilder() HostFunctionBuilder

	// Compile finalizes the accumulated functions/memory into a
	// CompiledModule, validating every WithFunc signature eagerly so
	// Instantiate itself cannot fail on a reflection mismatch.
	Compile(ctx context.Context) (CompiledModule, error)

	// Instantiate is a shorthand for Compile followed by
	// Runtime.InstantiateModule with a ModuleConfig named for this builder.
	Instantiate(ctx context.Context) (api.Module, error)
}

type hostModuleBuilder struct {
	rt    *runtime
	name  string
	funcs []funcDef
	mem   *wasm.HostMemoryDef
	memType wasm.MemoryType
}

var _ HostModuleBuilder = (*hostModuleBuilder)(nil)

func (b *hostModuleBuilder) ExportMemory(name string, minPages uint32) HostModuleBuilder {
	return b.ExportMemoryWithMax(name, minPages, wasm.MaxPages)
}

func (b *hostModuleBuilder) ExportMemoryWithMax(name string, minPages, maxPages uint32) HostModuleBuilder {
	b.memType = wasm.MemoryType{Limits: wasm.Limits{Min: minPages, Max: maxPages, HasMax: true}}
	b.mem = &wasm.HostMemoryDef{Name: name, Type: b.memType}
	return b
}

func (b *hostModuleBuilder) NewFunctionBuilder() HostFunctionBuilder {
	return &hostFunctionBuilder{parent: b}
}

// compileHostFunction reflects over fn's signature, building a
// wasm.HostFunctionDef whose Func adapts the uint64 ABI lane convention to
// and from fn's native Go parameter/result types.
func compileHostFunction(rt *runtime, name string, fn interface{}) (wasm.HostFunctionDef, error) {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return wasm.HostFunctionDef{}, fmt.Errorf("host function %q: not a func", name)
	}

	in := 0
	hasCtx := t.NumIn() > 0 && t.In(0) == contextType
	if hasCtx {
		in++
	}
	hasModule := t.NumIn() > in && t.In(in) == moduleType
	if hasModule {
		in++
	}

	var paramTypes []api.ValueType
	for i := in; i < t.NumIn(); i++ {
		vt, err := valueTypeOf(t.In(i))
		if err != nil {
			return wasm.HostFunctionDef{}, fmt.Errorf("host function %q parameter %d: %w", name, i, err)
		}
		paramTypes = append(paramTypes, vt)
	}

	numOut := t.NumOut()
	hasErr := numOut > 0 && t.Out(numOut-1) == errorType
	if hasErr {
		numOut--
	}
	var resultTypes []api.ValueType
	for i := 0; i < numOut; i++ {
		vt, err := valueTypeOf(t.Out(i))
		if err != nil {
			return wasm.HostFunctionDef{}, fmt.Errorf("host function %q result %d: %w", name, i, err)
		}
		resultTypes = append(resultTypes, vt)
	}

	sig := wasm.FunctionType{Params: paramTypes, Results: resultTypes}

	call := func(ctx context.Context, params []uint64) ([]uint64, error) {
		args := make([]reflect.Value, 0, t.NumIn())
		if hasCtx {
			args = append(args, reflect.ValueOf(ctx))
		}
		if hasModule {
			var m api.Module
			if caller := wasm.CallerModuleFromContext(ctx); caller != nil {
				m = &moduleInstance{inst: caller, engine: rt.engine}
			}
			args = append(args, reflect.ValueOf(&m).Elem())
		}
		for i, pt := range paramTypes {
			args = append(args, decodeArg(t.In(in+i), pt, params[i]))
		}
		out := v.Call(args)
		if hasErr {
			if errVal := out[len(out)-1]; !errVal.IsNil() {
				return nil, errVal.Interface().(error)
			}
			out = out[:len(out)-1]
		}
		results := make([]uint64, len(out))
		for i, o := range out {
			results[i] = encodeResult(resultTypes[i], o)
		}
		return results, nil
	}

	return wasm.HostFunctionDef{Name: name, Type: sig, Func: call}, nil
}

func valueTypeOf(t reflect.Type) (api.ValueType, error) {
	switch t.Kind() {
	case reflect.Uint32, reflect.Int32:
		return api.ValueTypeI32, nil
	case reflect.Uint64, reflect.Int64:
		return api.ValueTypeI64, nil
	case reflect.Float32:
		return api.ValueTypeF32, nil
	case reflect.Float64:
		return api.ValueTypeF64, nil
	}
	return 0, fmt.Errorf("unsupported type %s", t)
}

func decodeArg(t reflect.Type, vt api.ValueType, raw uint64) reflect.Value {
	switch vt {
	case api.ValueTypeI32:
		if t.Kind() == reflect.Int32 {
			return reflect.ValueOf(int32(uint32(raw))).Convert(t)
		}
		return reflect.ValueOf(uint32(raw)).Convert(t)
	case api.ValueTypeI64:
		if t.Kind() == reflect.Int64 {
			return reflect.ValueOf(int64(raw)).Convert(t)
		}
		return reflect.ValueOf(raw).Convert(t)
	case api.ValueTypeF32:
		return reflect.ValueOf(api.DecodeF32(raw))
	case api.ValueTypeF64:
		return reflect.ValueOf(api.DecodeF64(raw))
	}
	return reflect.Zero(t)
}

func encodeResult(vt api.ValueType, v reflect.Value) uint64 {
	switch vt {
	case api.ValueTypeI32:
		if v.Kind() == reflect.Int32 {
			return api.EncodeI32(int32(v.Int()))
		}
		return uint64(uint32(v.Uint()))
	case api.ValueTypeI64:
		if v.Kind() == reflect.Int64 {
			return api.EncodeI64(v.Int())
		}
		return v.Uint()
	case api.ValueTypeF32:
		return api.EncodeF32(float32(v.Float()))
	case api.ValueTypeF64:
		return api.EncodeF64(v.Float())
	}
	return 0
}

func (b *hostModuleBuilder) Compile(ctx context.Context) (CompiledModule, error) {
	defs := make([]wasm.HostFunctionDef, 0, len(b.funcs))
	for _, f := range b.funcs {
		def, err := compileHostFunction(b.rt, f.name, f.fn)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return &hostCompiledModule{name: b.name, funcs: defs, mem: b.mem}, nil
}

func (b *hostModuleBuilder) Instantiate(ctx context.Context) (api.Module, error) {
	compiled, err := b.Compile(ctx)
	if err != nil {
		return nil, err
	}
	return b.rt.InstantiateModule(ctx, compiled, NewModuleConfig().WithName(b.name))
}

// hostCompiledModule is the CompiledModule a HostModuleBuilder produces; it
// carries Go host functions instead of decoded bytecode, so
// runtime.InstantiateModule special-cases it instead of routing through
// wasm.Instantiate's import-resolution/segment-copy protocol, which only
// applies to guest modules.
type hostCompiledModule struct {
	name  string
	funcs []wasm.HostFunctionDef
	mem   *wasm.HostMemoryDef
}

func (c *hostCompiledModule) ID() string { return "host:" + c.name }
