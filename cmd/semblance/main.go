// Command semblance is a thin CLI front end over the runtime: decode a
// WebAssembly binary, instantiate it, and invoke one of its exported
// functions.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/irrio/semblance"
	"github.com/irrio/semblance/internal/wasmerr"
)

const version = "0.1.0"

func main() {
	os.Exit(doMain(os.Stdout, os.Stderr))
}

// doMain is separated from main so tests can capture its output and exit
// code without calling os.Exit.
func doMain(stdOut, stdErr io.Writer) int {
	flag.CommandLine.SetOutput(stdErr)

	if len(os.Args) < 2 {
		printUsage(stdErr)
		return 1
	}

	subCmd := os.Args[1]
	args := os.Args[2:]
	switch subCmd {
	case "run":
		return doRun(args, stdOut, stdErr)
	case "version":
		fmt.Fprintln(stdOut, version)
		return 0
	default:
		fmt.Fprintf(stdErr, "unknown command %q\n", subCmd)
		printUsage(stdErr)
		return 1
	}
}

func doRun(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	instanceName := flags.String("I", "main", "name to instantiate the module under")
	invokeName := flags.String("invoke", "_start", "name of the exported function to call")

	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(stdErr, "missing path to wasm file")
		printRunUsage(stdErr, flags)
		return 1
	}

	wasmPath := flags.Arg(0)
	callArgs := flags.Args()[1:]

	binary, err := os.ReadFile(wasmPath)
	if err != nil {
		log.Printf("reading wasm binary: %v", err)
		return 2
	}

	ctx := context.Background()
	rt := semblance.NewRuntime(ctx)

	compiled, err := rt.CompileModule(ctx, binary)
	if err != nil {
		log.Printf("decoding wasm binary: %v", err)
		return 2
	}

	mod, err := rt.InstantiateModule(ctx, compiled, semblance.NewModuleConfig().WithName(*instanceName))
	if err != nil {
		log.Printf("instantiating wasm module: %v", err)
		return 2
	}

	fn := mod.ExportedFunction(*invokeName)
	if fn == nil {
		fmt.Fprintf(stdErr, "module has no exported function %q\n", *invokeName)
		return 3
	}

	params := make([]uint64, len(callArgs))
	for i, a := range callArgs {
		n, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			fmt.Fprintf(stdErr, "argument %d (%q) is not a valid uint64: %v\n", i, a, err)
			return 3
		}
		params[i] = n
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		fmt.Fprintf(stdErr, "error: %v\n", err)
		if trap, ok := err.(*wasmerr.TrapError); ok {
			return 10 + int(trap.Code)
		}
		return 1
	}

	for _, r := range results {
		fmt.Fprintln(stdOut, r)
	}
	return 0
}

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "semblance CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  semblance <command>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Commands:")
	fmt.Fprintln(stdErr, "  run\t\tDecodes, instantiates, and invokes an exported function of a wasm binary")
	fmt.Fprintln(stdErr, "  version\tDisplays the version of the semblance CLI")
}

func printRunUsage(stdErr io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "semblance CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  semblance run <options> <path to wasm file> [args...]")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	flags.PrintDefaults()
}
