package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irrio/semblance/internal/wasm"
	"github.com/irrio/semblance/internal/wasm/binary"
)

// runMain swaps os.Args for args (argv[0] is synthesized) and calls doMain,
// returning its exit code and captured stdout/stderr.
func runMain(t *testing.T, args []string) (int, string, string) {
	t.Helper()
	prevArgs := os.Args
	defer func() { os.Args = prevArgs }()
	os.Args = append([]string{"semblance"}, args...)

	var stdOut, stdErr bytes.Buffer
	exitCode := doMain(&stdOut, &stdErr)
	return exitCode, stdOut.String(), stdErr.String()
}

func addModuleBytes() []byte {
	i32 := wasm.ValueTypeI32
	m := &wasm.Module{
		Types:               []wasm.FunctionType{{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}}},
		FunctionTypeIndices: []wasm.Index{0},
		Code: []wasm.Code{
			{Body: []wasm.Instruction{
				{Opcode: wasm.OpcodeLocalGet, Index: 0},
				{Opcode: wasm.OpcodeLocalGet, Index: 1},
				{Opcode: wasm.OpcodeI32Add},
				{Opcode: wasm.OpcodeEnd},
			}},
		},
		Exports: []wasm.Export{{Name: "add", Type: wasm.ExternTypeFunc, Index: 0}},
	}
	return binary.EncodeModule(m)
}

func writeTestModule(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "add.wasm")
	require.NoError(t, os.WriteFile(path, addModuleBytes(), 0644))
	return path
}

func TestRun_InvokesExportedFunction(t *testing.T) {
	path := writeTestModule(t)
	exitCode, stdOut, stdErr := runMain(t, []string{"run", "-invoke", "add", path, "3", "4"})
	require.Equal(t, 0, exitCode, stdErr)
	require.Equal(t, "7\n", stdOut)
}

func TestRun_MissingWasmFile(t *testing.T) {
	exitCode, _, stdErr := runMain(t, []string{"run"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdErr, "missing path to wasm file")
}

func TestRun_UnreadableFile(t *testing.T) {
	exitCode, _, _ := runMain(t, []string{"run", "nonexistent.wasm"})
	require.Equal(t, 2, exitCode)
}

func TestRun_UnknownExport(t *testing.T) {
	path := writeTestModule(t)
	exitCode, _, stdErr := runMain(t, []string{"run", "-invoke", "nope", path})
	require.Equal(t, 3, exitCode)
	require.Contains(t, stdErr, `no exported function "nope"`)
}

func TestRun_BadArgument(t *testing.T) {
	path := writeTestModule(t)
	exitCode, _, stdErr := runMain(t, []string{"run", "-invoke", "add", path, "notanumber"})
	require.Equal(t, 3, exitCode)
	require.Contains(t, stdErr, "not a valid uint64")
}

func TestVersion(t *testing.T) {
	exitCode, stdOut, _ := runMain(t, []string{"version"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, version+"\n", stdOut)
}

func TestUnknownCommand(t *testing.T) {
	exitCode, _, stdErr := runMain(t, []string{"bogus"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdErr, `unknown command "bogus"`)
}

func TestNoCommand(t *testing.T) {
	exitCode, _, stdErr := runMain(t, nil)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdErr, "semblance CLI")
}
