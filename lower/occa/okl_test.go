package occa

import (
	"strings"
	"testing"

	"github.com/openkernels/kjit/ir"
	"github.com/openkernels/kjit/target"
)

func scaleUnit() *ir.KernelUnit {
	return &ir.KernelUnit{
		Name: "scale",
		Params: []ir.Param{
			{Name: "out", Storage: ir.StorageGlobal, Elem: ir.F32},
			{Name: "in", Storage: ir.StorageGlobal, Elem: ir.F32, ReadOnly: true},
			{Name: "alpha", Storage: ir.StorageValue, Elem: ir.F32},
		},
		Values: []ir.Value{{ID: 0, Elem: ir.F32}, {ID: 1, Elem: ir.F32}},
		Body: []ir.Instr{
			{Op: ir.OpLoad, Dst: ir.Ref{Kind: ir.RefValue, Index: 0}, Mem: ir.Ref{Kind: ir.RefParam, Index: 1}, Index: ir.IndexLane},
			{Op: ir.OpCompute, Dst: ir.Ref{Kind: ir.RefValue, Index: 1}, Src: []ir.Ref{{Kind: ir.RefValue, Index: 0}, {Kind: ir.RefParam, Index: 2}}, Text: "$0 * $1"},
			{Op: ir.OpStore, Src: []ir.Ref{{Kind: ir.RefValue, Index: 1}}, Mem: ir.Ref{Kind: ir.RefParam, Index: 0}, Index: ir.IndexLane},
		},
	}
}

func render(t *testing.T, k *ir.KernelUnit) string {
	t.Helper()
	src, err := RenderModule(&ir.Module{Kernels: []*ir.KernelUnit{k}}, target.Default())
	if err != nil {
		t.Fatalf("RenderModule failed: %v", err)
	}
	return src
}

func TestRender_LaunchShell(t *testing.T) {
	src := render(t, scaleUnit())

	for _, want := range []string{
		"typedef long int_t;",
		"@kernel void scale(const int_t N,",
		"float* out",
		"const float* in",
		"const float alpha",
		"@outer",
		"@inner",
		"const int_t i = (int_t)grp * 256 + lane;",
		"if (i < N)",
		"const float v0 = in[i];",
		"const float v1 = v0 * alpha;",
		"out[i] = v1;",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("Rendered source missing %q:\n%s", want, src)
		}
	}

	// The extent parameter always leads the signature.
	if at := strings.Index(src, "const int_t N"); at < 0 || at > strings.Index(src, "float* out") {
		t.Error("Extent parameter not first in signature")
	}
}

func TestRender_32BitIndexType(t *testing.T) {
	tgt, err := target.Resolve(target.Partial{PointerWidth: target.Width32})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	src, err := RenderModule(&ir.Module{Kernels: []*ir.KernelUnit{scaleUnit()}}, tgt)
	if err != nil {
		t.Fatalf("RenderModule failed: %v", err)
	}
	if !strings.Contains(src, "typedef int int_t;") {
		t.Errorf("Expected 32-bit index typedef:\n%s", src)
	}
}

func TestRender_BarrierSplitsInnerLoops(t *testing.T) {
	k := scaleUnit()
	// A barrier between the compute and the store forces two lane loops; the
	// value defined before it must be spilled to a per-lane shared slot.
	k.Body = []ir.Instr{
		k.Body[0],
		k.Body[1],
		{Op: ir.OpBarrier},
		k.Body[2],
	}
	src := render(t, k)

	if got := strings.Count(src, "@inner"); got != 2 {
		t.Errorf("Expected 2 lane loops around the barrier, got %d:\n%s", got, src)
	}
	if !strings.Contains(src, "@shared float v1_c[256];") {
		t.Errorf("Value crossing the barrier not spilled:\n%s", src)
	}
	if !strings.Contains(src, "v1_c[lane] = v0 * alpha;") {
		t.Errorf("Carried definition not written to shared slot:\n%s", src)
	}
	if !strings.Contains(src, "out[i] = v1_c[lane];") {
		t.Errorf("Carried use not read from shared slot:\n%s", src)
	}
}

func TestRender_ScratchAsShared(t *testing.T) {
	k := &ir.KernelUnit{
		Name: "fused_square_incr",
		Params: []ir.Param{
			{Name: "in", Storage: ir.StorageGlobal, Elem: ir.F32, ReadOnly: true},
			{Name: "out", Storage: ir.StorageGlobal, Elem: ir.F32},
		},
		Scratch: []ir.Scratch{{Name: "tmp", Elem: ir.F32, Count: 256}},
		Values:  []ir.Value{{ID: 0, Elem: ir.F32}, {ID: 1, Elem: ir.F32}},
		Body: []ir.Instr{
			{Op: ir.OpLoad, Dst: ir.Ref{Kind: ir.RefValue, Index: 0}, Mem: ir.Ref{Kind: ir.RefParam, Index: 0}, Index: ir.IndexLane},
			{Op: ir.OpStore, Src: []ir.Ref{{Kind: ir.RefValue, Index: 0}}, Mem: ir.Ref{Kind: ir.RefScratch, Index: 0}, Index: ir.IndexLane},
			{Op: ir.OpBarrier},
			{Op: ir.OpLoad, Dst: ir.Ref{Kind: ir.RefValue, Index: 1}, Mem: ir.Ref{Kind: ir.RefScratch, Index: 0}, Index: ir.IndexLane},
			{Op: ir.OpStore, Src: []ir.Ref{{Kind: ir.RefValue, Index: 1}}, Mem: ir.Ref{Kind: ir.RefParam, Index: 1}, Index: ir.IndexLane},
		},
	}
	src := render(t, k)

	if !strings.Contains(src, "@shared float tmp[256];") {
		t.Errorf("Scratch not declared as shared:\n%s", src)
	}
	// Scratch is work-group local, addressed by lane on both sides of the
	// barrier.
	if !strings.Contains(src, "tmp[lane] = v0;") {
		t.Errorf("Scratch store not lane-addressed:\n%s", src)
	}
	if !strings.Contains(src, "= tmp[lane];") {
		t.Errorf("Scratch load not lane-addressed:\n%s", src)
	}
	// The promoted buffer never appears in the signature.
	if strings.Contains(src, "float* tmp") {
		t.Errorf("Promoted buffer leaked into signature:\n%s", src)
	}
}

func TestRender_Decls(t *testing.T) {
	m := &ir.Module{
		Decls:   []string{"#define ALPHA 2.0f"},
		Kernels: []*ir.KernelUnit{scaleUnit()},
	}
	src, err := RenderModule(m, target.Default())
	if err != nil {
		t.Fatalf("RenderModule failed: %v", err)
	}
	if !strings.Contains(src, "#define ALPHA 2.0f\n") {
		t.Errorf("Module decl not emitted:\n%s", src)
	}
	if strings.Index(src, "#define") > strings.Index(src, "@kernel") {
		t.Error("Decls must precede kernels")
	}
}

func TestRender_Rejections(t *testing.T) {
	local := scaleUnit()
	local.Params[0].Storage = ir.StorageLocal
	if _, err := RenderModule(&ir.Module{Kernels: []*ir.KernelUnit{local}}, target.Default()); err == nil {
		t.Error("Local-storage parameter unexpectedly rendered")
	}

	stray := scaleUnit()
	stray.Body[1].Text = "$0 * $"
	if _, err := RenderModule(&ir.Module{Kernels: []*ir.KernelUnit{stray}}, target.Default()); err == nil {
		t.Error("Stray $ in compute text unexpectedly rendered")
	}

	oob := scaleUnit()
	oob.Body[1].Text = "$0 * $7"
	if _, err := RenderModule(&ir.Module{Kernels: []*ir.KernelUnit{oob}}, target.Default()); err == nil {
		t.Error("Out-of-range operand unexpectedly rendered")
	}
}
