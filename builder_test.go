package semblance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irrio/semblance/api"
)

func TestHostModuleBuilder_WithFunc_PlainNumeric(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(ctx)

	mod, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, x, y uint32) uint32 { return x + y }).
		Export("add").
		Instantiate(ctx)
	require.NoError(t, err)

	fn := mod.ExportedFunction("add")
	require.NotNil(t, fn)
	results, err := fn.Call(ctx, 3, 4)
	require.NoError(t, err)
	require.Equal(t, []uint64{7}, results)
}

func TestHostModuleBuilder_WithFunc_ErrorTraps(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(ctx)

	boom := errors.New("boom")
	mod, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context) error { return boom }).
		Export("fail").
		Instantiate(ctx)
	require.NoError(t, err)

	fn := mod.ExportedFunction("fail")
	_, err = fn.Call(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
}

func TestHostModuleBuilder_WithFunc_FloatTypes(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(ctx)

	mod, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, x float64) float64 { return x * 2 }).
		Export("double").
		Instantiate(ctx)
	require.NoError(t, err)

	fn := mod.ExportedFunction("double")
	results, err := fn.Call(ctx, api.EncodeF64(21))
	require.NoError(t, err)
	require.Equal(t, float64(42), api.DecodeF64(results[0]))
}

func TestHostModuleBuilder_WithFunc_NotAFunc(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(ctx)

	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(42).
		Export("bad").
		Compile(ctx)
	require.Error(t, err)
}

func TestHostModuleBuilder_ExportMemory(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(ctx)

	mod, err := rt.NewHostModuleBuilder("env").
		ExportMemory("memory", 1).
		Instantiate(ctx)
	require.NoError(t, err)

	mem := mod.ExportedMemory("memory")
	require.NotNil(t, mem)
	require.Equal(t, uint32(65536), mem.Size())
}

func TestHostModuleBuilder_WithFunc_CallerModule(t *testing.T) {
	ctx := context.Background()
	rt := NewRuntime(ctx)

	var sawCaller bool
	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module) uint32 {
			sawCaller = m != nil
			return 0
		}).
		Export("check").
		Instantiate(ctx)
	require.NoError(t, err)

	// Calling directly (not from a guest module body) leaves no caller
	// module attached.
	mod := rt.Module("env")
	fn := mod.ExportedFunction("check")
	_, err = fn.Call(ctx)
	require.NoError(t, err)
	require.False(t, sawCaller)
}
