// Package semblance is a WebAssembly 1.0 (MVP) runtime: it decodes, links,
// and interprets WebAssembly binary modules, and lets host programs
// register Go functions and memories for those modules to import.
package semblance

import (
	"github.com/irrio/semblance/internal/wasm"
)

// RuntimeConfig controls the behavior of a Runtime created by NewRuntime,
// configured with the functional-options pattern: each With* method returns
// a new, independent config so a base configuration can be shared and
// specialized without aliasing.
type RuntimeConfig struct {
	memoryLimitPages  uint32
	closeOnContextDone bool
}

// NewRuntimeConfig returns a RuntimeConfig with the default memory page
// ceiling (the full 4GiB address space) and no context-cancellation
// watchdog.
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{memoryLimitPages: wasm.MaxPages}
}

func (c *RuntimeConfig) clone() *RuntimeConfig {
	cp := *c
	return &cp
}

// WithMemoryLimitPages caps how far any memory instantiated under this
// runtime can grow at limitPages 64KB pages, overriding a module's own
// (larger) declared maximum. A memory's initial size is not checked against
// this limit.
func (c *RuntimeConfig) WithMemoryLimitPages(limitPages uint32) *RuntimeConfig {
	ret := c.clone()
	ret.memoryLimitPages = limitPages
	return ret
}

// WithCloseOnContextDone arranges for in-flight calls to check ctx.Done()
// at every nested function call, aborting with ctx.Err() instead of running
// to completion once the context is canceled or its deadline expires. A
// tight loop with no further calls is not interrupted until it returns.
func (c *RuntimeConfig) WithCloseOnContextDone(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.closeOnContextDone = enabled
	return ret
}

// ModuleConfig configures one call to Runtime.InstantiateModule: the name
// the instance is registered and addressed under, distinct from whatever
// name the binary's custom sections might carry.
type ModuleConfig struct {
	name string
}

// NewModuleConfig returns a ModuleConfig with no name set; without WithName,
// InstantiateModule registers the instance under its compiled module's ID.
func NewModuleConfig() *ModuleConfig {
	return &ModuleConfig{}
}

func (c *ModuleConfig) clone() *ModuleConfig {
	cp := *c
	return &cp
}

// WithName sets the name under which this instance is instantiated, used
// both to address it from the CLI and to resolve it as an import source
// from other modules instantiated against the same Runtime.
func (c *ModuleConfig) WithName(name string) *ModuleConfig {
	ret := c.clone()
	ret.name = name
	return ret
}

