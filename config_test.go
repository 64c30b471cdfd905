package semblance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irrio/semblance/internal/wasm"
)

func TestRuntimeConfig_Defaults(t *testing.T) {
	cfg := NewRuntimeConfig()
	require.Equal(t, uint32(wasm.MaxPages), cfg.memoryLimitPages)
	require.False(t, cfg.closeOnContextDone)
}

func TestRuntimeConfig_WithMemoryLimitPages_DoesNotAliasBase(t *testing.T) {
	base := NewRuntimeConfig()
	limited := base.WithMemoryLimitPages(16)

	require.Equal(t, uint32(wasm.MaxPages), base.memoryLimitPages)
	require.Equal(t, uint32(16), limited.memoryLimitPages)
}

func TestRuntimeConfig_WithCloseOnContextDone(t *testing.T) {
	cfg := NewRuntimeConfig().WithCloseOnContextDone(true)
	require.True(t, cfg.closeOnContextDone)
}

func TestModuleConfig_WithName_DoesNotAliasBase(t *testing.T) {
	base := NewModuleConfig()
	named := base.WithName("foo")

	require.Equal(t, "", base.name)
	require.Equal(t, "foo", named.name)
}
