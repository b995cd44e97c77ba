// Package openclc is the OpenCL C front end. Options are a list of compiler
// flag strings in the familiar -D/-cl-* shape.
package openclc

import (
	"strings"

	"github.com/openkernels/kjit/diag"
	"github.com/openkernels/kjit/frontend"
	"github.com/openkernels/kjit/frontend/kscan"
	"github.com/openkernels/kjit/ir"
)

func init() {
	frontend.Register(frontend.LangOpenCLC, Frontend{})
}

var dialect = kscan.Dialect{
	Language:    string(frontend.LangOpenCLC),
	KernelWords: []string{"__kernel", "kernel"},
	GlobalQuals: []string{"__global", "global"},
	LocalQuals:  []string{"__local", "local"},
	ScalarTypes: map[string]ir.ElemType{
		"float":  ir.F32,
		"double": ir.F64,
		"int":    ir.I32,
		"uint":   ir.I32,
		"long":   ir.I64,
		"ulong":  ir.I64,
		"size_t": ir.I64,
	},
	LaneCalls: []string{
		"get_global_id(0)",
		"get_global_linear_id()",
	},
	BarrierCalls: []string{"barrier", "work_group_barrier"},
}

// Frontend implements frontend.Frontend for OpenCL C.
type Frontend struct{}

// CompileToIR scans OpenCL C source into an IR module. Flags: -D name[=v]
// defines, -cl-* and -w/-Werror pass through; anything else is a
// SourceError.
func (Frontend) CompileToIR(source string, opts frontend.Options) (*ir.Module, error) {
	defines, err := parseFlags(opts.Flags)
	if err != nil {
		return nil, err
	}
	return kscan.Scan(dialect, source, defines)
}

func parseFlags(flags []string) ([]kscan.Define, error) {
	var defs []kscan.Define
	for i := 0; i < len(flags); i++ {
		f := flags[i]
		switch {
		case f == "-D":
			if i+1 == len(flags) {
				return nil, &diag.SourceError{
					Language: string(frontend.LangOpenCLC),
					Detail:   "-D requires a macro argument",
				}
			}
			i++
			defs = append(defs, parseDefine(flags[i]))
		case strings.HasPrefix(f, "-D"):
			defs = append(defs, parseDefine(f[2:]))
		case strings.HasPrefix(f, "-cl-"), f == "-w", f == "-Werror":
			// Backend-facing; carried through untouched.
		default:
			return nil, &diag.SourceError{
				Language: string(frontend.LangOpenCLC),
				Detail:   "unknown compiler flag " + f,
			}
		}
	}
	return defs, nil
}

func parseDefine(s string) kscan.Define {
	if name, value, ok := strings.Cut(s, "="); ok {
		return kscan.Define{Name: name, Value: value}
	}
	return kscan.Define{Name: s, Value: "1"}
}
