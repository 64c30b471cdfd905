// Package wasmdebug formats function-call frames for trap diagnostics. It
// never recovers a panic into a trap: traps are always explicit error
// returns from the interpreter.
package wasmdebug

import (
	"fmt"
	"strings"

	"github.com/irrio/semblance/api"
)

// FuncName formats a function for diagnostics as "module.name", falling
// back to a synthetic "$index" when the function has no name.
func FuncName(moduleName, funcName string, funcIdx uint32) string {
	if funcName == "" {
		funcName = fmt.Sprintf("$%d", funcIdx)
	}
	if moduleName == "" {
		return "." + funcName
	}
	return moduleName + "." + funcName
}

// Signature appends a function's parameter and result types to name,
// formatted as WebAssembly text-format-ish parens: "mod.fn(i32,i64) f32".
func Signature(name string, paramTypes, resultTypes []api.ValueType) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, t := range paramTypes {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(api.ValueTypeName(t))
	}
	b.WriteByte(')')
	switch len(resultTypes) {
	case 0:
	case 1:
		b.WriteByte(' ')
		b.WriteString(api.ValueTypeName(resultTypes[0]))
	default:
		b.WriteString(" (")
		for i, t := range resultTypes {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(api.ValueTypeName(t))
		}
		b.WriteByte(')')
	}
	return b.String()
}
