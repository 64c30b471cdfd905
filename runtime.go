package semblance

import (
	"context"
	"fmt"
	"sync"

	"github.com/irrio/semblance/api"
	"github.com/irrio/semblance/internal/engine/interpreter"
	"github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/wasm/binary"
)

// Runtime owns one wasm.Store and the engine used to execute every module
// instantiated against it; modules instantiated under the same Runtime may
// import from one another by the name given to WithName/NewHostModuleBuilder.
type Runtime interface {
	// CompileModule decodes a WebAssembly binary, validating its structure
	// without allocating any of its definitions into the store.
	CompileModule(ctx context.Context, wasmBinary []byte) (CompiledModule, error)

	// InstantiateModule allocates module's definitions into the store,
	// resolving its imports against modules previously instantiated under
	// this Runtime, and returns the running instance.
	InstantiateModule(ctx context.Context, module CompiledModule, config *ModuleConfig) (api.Module, error)

	// NewHostModuleBuilder starts building a synthetic module of Go
	// functions and (optionally) a memory, importable by name from
	// guest modules instantiated afterward.
	NewHostModuleBuilder(name string) HostModuleBuilder

	// Module looks up a module previously instantiated under this Runtime by
	// name, or returns nil if none matches.
	Module(name string) api.Module
}

// CompiledModule is a decoded, not-yet-instantiated WebAssembly binary.
type CompiledModule interface {
	// ID is a content hash of the original binary, stable across repeated
	// compilations of identical bytes.
	ID() string
}

type compiledModule struct {
	module *wasm.Module
}

func (c *compiledModule) ID() string { return c.module.ID() }

type runtime struct {
	config *RuntimeConfig
	engine *interpreter.Engine
	store  *wasm.Store

	mu      sync.Mutex
	modules map[string]*wasm.ModuleInstance
}

// NewRuntime constructs a Runtime backed by the tree-walking interpreter
// engine, applying at most one RuntimeConfig (the last one given wins, for
// parity with how the embedder API's other constructors accept variadic
// config arguments).
func NewRuntime(ctx context.Context, configs ...*RuntimeConfig) Runtime {
	cfg := NewRuntimeConfig()
	for _, c := range configs {
		if c != nil {
			cfg = c
		}
	}
	store := wasm.NewStore()
	store.MemoryPageCeiling = cfg.memoryLimitPages
	return &runtime{
		config:  cfg,
		engine:  &interpreter.Engine{CallStackCeiling: 1 << 20, CloseOnContextDone: cfg.closeOnContextDone},
		store:   store,
		modules: map[string]*wasm.ModuleInstance{},
	}
}

func (r *runtime) CompileModule(ctx context.Context, wasmBinary []byte) (CompiledModule, error) {
	m, err := binary.DecodeModule(wasmBinary)
	if err != nil {
		return nil, fmt.Errorf("compiling module: %w", err)
	}
	return &compiledModule{module: m}, nil
}

func (r *runtime) InstantiateModule(ctx context.Context, module CompiledModule, config *ModuleConfig) (api.Module, error) {
	if config == nil {
		config = NewModuleConfig()
	}

	if hm, ok := module.(*hostCompiledModule); ok {
		name := config.name
		if name == "" {
			name = hm.name
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, exists := r.modules[name]; exists {
			return nil, fmt.Errorf("instantiating module %q: a module with that name is already instantiated", name)
		}
		inst := wasm.NewHostModuleInstance(r.store, name, hm.funcs, nil, hm.mem)
		r.modules[name] = inst
		return &moduleInstance{inst: inst, engine: r.engine}, nil
	}

	cm, ok := module.(*compiledModule)
	if !ok {
		return nil, fmt.Errorf("instantiating module: not compiled by this runtime")
	}
	name := config.name
	if name == "" {
		name = cm.module.ID()
	}

	r.mu.Lock()
	if _, exists := r.modules[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("instantiating module %q: a module with that name is already instantiated", name)
	}
	provider := &namespaceProvider{rt: r}
	inst, err := wasm.Instantiate(r.store, cm.module, name, provider, r.engine)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.modules[name] = inst
	r.mu.Unlock()

	return &moduleInstance{inst: inst, engine: r.engine}, nil
}

func (r *runtime) NewHostModuleBuilder(name string) HostModuleBuilder {
	return &hostModuleBuilder{rt: r, name: name}
}

func (r *runtime) Module(name string) api.Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.modules[name]
	if !ok {
		return nil
	}
	return &moduleInstance{inst: inst, engine: r.engine}
}

// namespaceProvider resolves imports against every module instantiated
// under the owning Runtime so far, by exact (module, name) export match;
// function imports are also checked against the export's signature,
// mirroring the teacher's store-wide namespace import resolution.
type namespaceProvider struct {
	rt *runtime
}

// lookup is only reached from InstantiateModule, which already holds rt.mu.
func (p *namespaceProvider) lookup(moduleName, name string, kind wasm.ExternType) (*wasm.ModuleInstance, uint32, error) {
	inst, ok := p.rt.modules[moduleName]
	if !ok {
		return nil, 0, fmt.Errorf("module %q not instantiated", moduleName)
	}
	addr, ok := inst.ResolveExport(name, kind)
	if !ok {
		return nil, 0, fmt.Errorf("%s does not export %s %q", moduleName, api.ExternTypeName(kind), name)
	}
	return inst, addr, nil
}

func (p *namespaceProvider) ResolveFunc(moduleName, name string, sig wasm.FunctionType) (uint32, error) {
	_, addr, err := p.lookup(moduleName, name, wasm.ExternTypeFunc)
	if err != nil {
		return 0, err
	}
	got := p.rt.store.FunctionType(addr)
	if !sameFunctionType(got, sig) {
		return 0, fmt.Errorf("%s.%s: signature mismatch: want %v->%v, have %v->%v",
			moduleName, name, sig.Params, sig.Results, got.Params, got.Results)
	}
	return addr, nil
}

func (p *namespaceProvider) ResolveTable(moduleName, name string, t wasm.TableType) (uint32, error) {
	_, addr, err := p.lookup(moduleName, name, wasm.ExternTypeTable)
	return addr, err
}

func (p *namespaceProvider) ResolveMemory(moduleName, name string, t wasm.MemoryType) (uint32, error) {
	_, addr, err := p.lookup(moduleName, name, wasm.ExternTypeMemory)
	return addr, err
}

func (p *namespaceProvider) ResolveGlobal(moduleName, name string, t wasm.GlobalType) (uint32, error) {
	_, addr, err := p.lookup(moduleName, name, wasm.ExternTypeGlobal)
	return addr, err
}

func sameFunctionType(a, b wasm.FunctionType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}
