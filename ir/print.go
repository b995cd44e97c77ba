package ir

import (
	"fmt"
	"strings"
)

// String renders the unit in a compact debug form. The output is for humans
// and tests; it is not a serialization format.
func (k *KernelUnit) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "kernel %s(", k.Name)
	for i, p := range k.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s %s", p.Storage, p.Elem, p.Name)
		if p.BufferID != 0 {
			fmt.Fprintf(&sb, "#%d", p.BufferID)
		}
	}
	sb.WriteString(")\n")
	for _, s := range k.Scratch {
		fmt.Fprintf(&sb, "  scratch %s %s[%d]\n", s.Elem, s.Name, s.Count)
	}
	for i := range k.Body {
		fmt.Fprintf(&sb, "  %s\n", k.instrString(&k.Body[i]))
	}
	return sb.String()
}

func (k *KernelUnit) instrString(in *Instr) string {
	switch in.Op {
	case OpLoad:
		return fmt.Sprintf("%s = load %s[%s]", in.Dst, in.Mem, in.Index)
	case OpStore:
		return fmt.Sprintf("store %s[%s], %s", in.Mem, in.Index, in.Src[0])
	case OpCompute:
		ops := make([]string, len(in.Src))
		for i, s := range in.Src {
			ops[i] = s.String()
		}
		return fmt.Sprintf("%s = compute %q (%s)", in.Dst, in.Text, strings.Join(ops, ", "))
	case OpBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("op(%d)", int(in.Op))
	}
}
