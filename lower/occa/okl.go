package occa

import (
	"fmt"
	"strings"

	"github.com/openkernels/kjit/ir"
	"github.com/openkernels/kjit/target"
)

// groupSize is the work-group extent of the generated launch shell. Kept
// under the 1024-thread @inner limit of the CUDA and OpenCL modes.
const groupSize = 256

// RenderModule generates an OKL translation unit for the module. Each
// kernel gets a launch shell: an @outer loop over work-groups, @inner loops
// over lanes with the linear index guarded against the extent parameter N
// that is always the first argument. Barriers in the body split the lanes
// into consecutive @inner loops; OCCA synchronizes between @inner loops on
// its own.
func RenderModule(m *ir.Module, tgt target.Resolved) (string, error) {
	var sb strings.Builder

	sb.WriteString(preamble(tgt))
	for _, d := range m.Decls {
		sb.WriteString(d)
		sb.WriteString("\n")
	}
	if len(m.Decls) > 0 {
		sb.WriteString("\n")
	}

	for _, k := range m.Kernels {
		src, err := renderKernel(k)
		if err != nil {
			return "", err
		}
		sb.WriteString(src)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// preamble emits the index typedef sized to the target pointer width.
func preamble(tgt target.Resolved) string {
	intType := "long"
	if tgt.PointerWidth() == target.Width32 {
		intType = "int"
	}
	return fmt.Sprintf("typedef %s int_t;\n\n", intType)
}

func elemC(t ir.ElemType) string {
	switch t {
	case ir.F32:
		return "float"
	case ir.F64:
		return "double"
	case ir.I32:
		return "int"
	default:
		return "long"
	}
}

func renderKernel(k *ir.KernelUnit) (string, error) {
	var sb strings.Builder

	// Signature: the extent parameter first, then the fused parameter list
	// in its stable order. Lowering binds arguments by position.
	parts := []string{"const int_t N"}
	for _, p := range k.Params {
		switch p.Storage {
		case ir.StorageGlobal:
			constStr := ""
			if p.ReadOnly {
				constStr = "const "
			}
			parts = append(parts, fmt.Sprintf("%s%s* %s", constStr, elemC(p.Elem), p.Name))
		case ir.StorageValue:
			parts = append(parts, fmt.Sprintf("const %s %s", elemC(p.Elem), p.Name))
		default:
			return "", fmt.Errorf("kernel %s: parameter %s: storage class %s not lowerable",
				k.Name, p.Name, p.Storage)
		}
	}
	fmt.Fprintf(&sb, "@kernel void %s(%s) {\n", k.Name, strings.Join(parts, ",\n\t"))
	fmt.Fprintf(&sb, "  for (int grp = 0; grp < (N + %d) / %d; ++grp; @outer) {\n",
		groupSize-1, groupSize)

	segments := splitAtBarriers(k.Body)
	carried := carriedValues(k, segments)

	for _, s := range k.Scratch {
		count := s.Count
		if count <= 0 || count > groupSize {
			count = groupSize
		}
		fmt.Fprintf(&sb, "    @shared %s %s[%d];\n", elemC(s.Elem), s.Name, count)
	}
	for id := range k.Values {
		if carried[id] {
			fmt.Fprintf(&sb, "    @shared %s v%d_c[%d];\n", elemC(k.Values[id].Elem), id, groupSize)
		}
	}

	for _, seg := range segments {
		fmt.Fprintf(&sb, "    for (int lane = 0; lane < %d; ++lane; @inner) {\n", groupSize)
		fmt.Fprintf(&sb, "      const int_t i = (int_t)grp * %d + lane;\n", groupSize)
		sb.WriteString("      if (i < N) {\n")
		for _, in := range seg {
			line, err := renderInstr(k, in, carried)
			if err != nil {
				return "", err
			}
			sb.WriteString("        ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("      }\n    }\n")
	}

	sb.WriteString("  }\n}\n")
	return sb.String(), nil
}

// splitAtBarriers cuts the body into segments separated by full-group
// synchronization points; each segment becomes its own @inner loop.
func splitAtBarriers(body []ir.Instr) [][]*ir.Instr {
	segments := [][]*ir.Instr{nil}
	for i := range body {
		if body[i].Op == ir.OpBarrier {
			segments = append(segments, nil)
			continue
		}
		segments[len(segments)-1] = append(segments[len(segments)-1], &body[i])
	}
	return segments
}

// carriedValues finds values defined in one segment and used in a later
// one. Registers do not survive across @inner loops, so carried values are
// spilled to per-lane @shared slots.
func carriedValues(k *ir.KernelUnit, segments [][]*ir.Instr) map[int]bool {
	defSeg := make(map[int]int)
	carried := make(map[int]bool)
	use := func(seg int, r ir.Ref) {
		if r.Kind == ir.RefValue {
			if d, ok := defSeg[r.Index]; ok && d < seg {
				carried[r.Index] = true
			}
		}
	}
	for si, seg := range segments {
		for _, in := range seg {
			for _, s := range in.Src {
				use(si, s)
			}
			switch in.Op {
			case ir.OpLoad, ir.OpCompute:
				defSeg[in.Dst.Index] = si
			}
		}
	}
	return carried
}

func renderInstr(k *ir.KernelUnit, in *ir.Instr, carried map[int]bool) (string, error) {
	switch in.Op {
	case ir.OpLoad:
		mem, err := renderMem(k, in.Mem, in.Index)
		if err != nil {
			return "", err
		}
		return renderDef(k, in.Dst, mem, carried), nil
	case ir.OpStore:
		mem, err := renderMem(k, in.Mem, in.Index)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s;", mem, renderOperand(k, in.Src[0], carried)), nil
	case ir.OpCompute:
		expr, err := renderText(k, in.Text, in.Src, carried)
		if err != nil {
			return "", err
		}
		return renderDef(k, in.Dst, expr, carried), nil
	default:
		return "", fmt.Errorf("kernel %s: opcode %s not lowerable", k.Name, in.Op)
	}
}

// renderDef assigns an expression to a value: a fresh const register, or the
// value's per-lane shared slot when it crosses a barrier.
func renderDef(k *ir.KernelUnit, dst ir.Ref, expr string, carried map[int]bool) string {
	if carried[dst.Index] {
		return fmt.Sprintf("v%d_c[lane] = %s;", dst.Index, expr)
	}
	return fmt.Sprintf("const %s v%d = %s;", elemC(k.Values[dst.Index].Elem), dst.Index, expr)
}

func renderOperand(k *ir.KernelUnit, r ir.Ref, carried map[int]bool) string {
	switch r.Kind {
	case ir.RefValue:
		if carried[r.Index] {
			return fmt.Sprintf("v%d_c[lane]", r.Index)
		}
		return fmt.Sprintf("v%d", r.Index)
	case ir.RefParam:
		return k.Params[r.Index].Name
	default:
		return fmt.Sprintf("s%d", r.Index)
	}
}

func renderMem(k *ir.KernelUnit, mem ir.Ref, index string) (string, error) {
	var base string
	switch mem.Kind {
	case ir.RefParam:
		base = k.Params[mem.Index].Name
	case ir.RefScratch:
		base = k.Scratch[mem.Index].Name
	default:
		return "", fmt.Errorf("kernel %s: memory access through %s", k.Name, mem)
	}
	idx, err := renderIndex(index)
	if err != nil {
		return "", fmt.Errorf("kernel %s: %w", k.Name, err)
	}
	if mem.Kind == ir.RefScratch {
		// Scratch is work-group local: address it by lane, not by the
		// global index.
		if index != ir.IndexLane {
			return "", fmt.Errorf("kernel %s: non-lane scratch access to %s", k.Name, base)
		}
		idx = "lane"
	}
	return fmt.Sprintf("%s[%s]", base, idx), nil
}

// renderIndex expands the canonical lane marker into the shell's index
// variable.
func renderIndex(index string) (string, error) {
	if index == ir.IndexLane {
		return "i", nil
	}
	return strings.ReplaceAll(index, "$lane", "i"), nil
}

// renderText expands a compute expression's $n operand placeholders and
// $lane markers.
func renderText(k *ir.KernelUnit, text string, src []ir.Ref, carried map[int]bool) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(text); {
		if text[i] != '$' {
			sb.WriteByte(text[i])
			i++
			continue
		}
		if strings.HasPrefix(text[i:], "$lane") {
			sb.WriteString("i")
			i += len("$lane")
			continue
		}
		j := i + 1
		for j < len(text) && text[j] >= '0' && text[j] <= '9' {
			j++
		}
		if j == i+1 {
			return "", fmt.Errorf("kernel %s: stray $ in compute text %q", k.Name, text)
		}
		var n int
		fmt.Sscanf(text[i+1:j], "%d", &n)
		if n < 0 || n >= len(src) {
			return "", fmt.Errorf("kernel %s: operand $%d out of range in %q", k.Name, n, text)
		}
		sb.WriteString(renderOperand(k, src[n], carried))
		i = j
	}
	return sb.String(), nil
}
