// Package cm is the C-for-Metal front end. A CM kernel is marked
// _GENX_MAIN_ and receives buffers as SurfaceIndex handles. Options may be
// empty; when flags are supplied only -D defines are understood, and an
// unknown flag is rejected rather than ignored.
package cm

import (
	"strings"

	"github.com/openkernels/kjit/diag"
	"github.com/openkernels/kjit/frontend"
	"github.com/openkernels/kjit/frontend/kscan"
	"github.com/openkernels/kjit/ir"
)

func init() {
	frontend.Register(frontend.LangCM, Frontend{})
}

var dialect = kscan.Dialect{
	Language:    string(frontend.LangCM),
	KernelWords: []string{"_GENX_MAIN_"},
	BufferTypes: map[string]ir.ElemType{
		// Surface element type is f32 unless the kernel says otherwise;
		// CM surfaces are untyped handles at this level.
		"SurfaceIndex": ir.F32,
	},
	ScalarTypes: map[string]ir.ElemType{
		"float":  ir.F32,
		"double": ir.F64,
		"int":    ir.I32,
		"uint":   ir.I32,
		"long":   ir.I64,
		"short":  ir.I32,
	},
	LaneCalls: []string{
		"cm_linear_global_id()",
	},
	BarrierCalls: []string{"cm_barrier", "cm_sbarrier"},
}

// Frontend implements frontend.Frontend for CM.
type Frontend struct{}

// CompileToIR scans CM source into an IR module.
func (Frontend) CompileToIR(source string, opts frontend.Options) (*ir.Module, error) {
	var defs []kscan.Define
	for _, f := range opts.Flags {
		if strings.HasPrefix(f, "-D") && len(f) > 2 {
			if name, value, ok := strings.Cut(f[2:], "="); ok {
				defs = append(defs, kscan.Define{Name: name, Value: value})
			} else {
				defs = append(defs, kscan.Define{Name: f[2:], Value: "1"})
			}
			continue
		}
		return nil, &diag.SourceError{
			Language: string(frontend.LangCM),
			Detail:   "unknown compiler flag " + f,
		}
	}
	return kscan.Scan(dialect, source, defs)
}
