package pib

import (
	"bytes"
	"errors"
	"testing"

	"github.com/openkernels/kjit/diag"
	"github.com/openkernels/kjit/ir"
	"github.com/openkernels/kjit/target"
)

func testModule() *ir.Module {
	return &ir.Module{
		Decls: []string{"#define ALPHA 2.0f"},
		Kernels: []*ir.KernelUnit{{
			Name: "scale",
			Params: []ir.Param{
				{Name: "out", Storage: ir.StorageGlobal, Elem: ir.F32, BufferID: 3},
				{Name: "in", Storage: ir.StorageGlobal, Elem: ir.F32, BufferID: 7, Count: 256, Internal: true, ReadOnly: true},
			},
			Values: []ir.Value{{ID: 0, Elem: ir.F32}, {ID: 1, Elem: ir.F32}},
			Body: []ir.Instr{
				{Op: ir.OpLoad, Dst: ir.Ref{Kind: ir.RefValue, Index: 0}, Mem: ir.Ref{Kind: ir.RefParam, Index: 1}, Index: ir.IndexLane},
				{Op: ir.OpCompute, Dst: ir.Ref{Kind: ir.RefValue, Index: 1}, Src: []ir.Ref{{Kind: ir.RefValue, Index: 0}}, Text: "$0 * ALPHA"},
				{Op: ir.OpStore, Src: []ir.Ref{{Kind: ir.RefValue, Index: 1}}, Mem: ir.Ref{Kind: ir.RefParam, Index: 0}, Index: ir.IndexLane},
			},
		}},
	}
}

func TestLower_Container(t *testing.T) {
	tgt, err := target.Resolve(target.Partial{Class: target.ClassGPU, Arch: target.ArchGPUGen12})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	blob, err := New().Lower(testModule(), tgt)
	if err != nil {
		t.Fatalf("Lower failed: %v", err)
	}
	if len(blob) <= len(Magic)+4 {
		t.Fatalf("Blob too small: %d bytes", len(blob))
	}
	if string(blob[:4]) != Magic {
		t.Errorf("Expected magic %q, got %q", Magic, blob[:4])
	}
	// Header: version pair, class, byte width.
	ver := tgt.Version()
	if int(blob[4]) != ver.Major || int(blob[5]) != ver.Minor {
		t.Errorf("Header version %d.%d, want %d.%d", blob[4], blob[5], ver.Major, ver.Minor)
	}
	if target.Class(blob[6]) != target.ClassGPU {
		t.Errorf("Header class %d, want %d", blob[6], target.ClassGPU)
	}
	if int(blob[7])*8 != int(tgt.PointerWidth()) {
		t.Errorf("Header width byte %d, want %d bits", blob[7], tgt.PointerWidth())
	}
}

func TestLower_Deterministic(t *testing.T) {
	tgt := target.Default()
	a, err := New().Lower(testModule(), tgt)
	if err != nil {
		t.Fatalf("Lower failed: %v", err)
	}
	b, err := New().Lower(testModule(), tgt)
	if err != nil {
		t.Fatalf("Lower failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("Identical inputs produced different containers")
	}
}

func TestLower_RoundTrip(t *testing.T) {
	tgt, err := target.Resolve(target.Partial{
		Class:        target.ClassCPU,
		Arch:         target.ArchCPUX86_64,
		PointerWidth: target.Width64,
		Stepping:     "B0",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	m := testModule()

	blob, err := New().Lower(m, tgt)
	if err != nil {
		t.Fatalf("Lower failed: %v", err)
	}
	got, p, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if p.Class != target.ClassCPU || p.Arch != target.ArchCPUX86_64 {
		t.Errorf("Decoded descriptor %+v does not match lowering target", p)
	}
	if p.PointerWidth != target.Width64 || p.Stepping != "B0" {
		t.Errorf("Decoded descriptor %+v lost width or stepping", p)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("Decoded module invalid: %v", err)
	}
	if len(got.Decls) != 1 || got.Decls[0] != m.Decls[0] {
		t.Errorf("Decls not preserved: %v", got.Decls)
	}
	k, orig := got.Kernels[0], m.Kernels[0]
	if k.Name != orig.Name || len(k.Params) != len(orig.Params) || len(k.Body) != len(orig.Body) {
		t.Fatalf("Kernel shape not preserved: %s", k)
	}
	if !k.Params[1].ReadOnly {
		t.Error("ReadOnly attribute lost in round trip")
	}
	// Buffer identity and promotion attributes survive, so a decoded unit
	// can re-enter a fusion plan.
	if k.Params[0].BufferID != 3 || k.Params[1].BufferID != 7 {
		t.Errorf("Buffer identities lost: %+v", k.Params)
	}
	if !k.Params[1].Internal || k.Params[1].Count != 256 {
		t.Errorf("Promotion attributes lost: %+v", k.Params[1])
	}
	if k.Body[1].Text != orig.Body[1].Text {
		t.Errorf("Compute text not preserved: %q", k.Body[1].Text)
	}
	if k.Body[0].Index != ir.IndexLane {
		t.Errorf("Lane index not preserved: %q", k.Body[0].Index)
	}
}

func TestLower_Rejections(t *testing.T) {
	// A zero descriptor never reaches a real format.
	_, err := New().Lower(testModule(), target.Resolved{})
	var le *diag.LoweringError
	if !errors.As(err, &le) {
		t.Fatalf("Expected LoweringError for non-PIB target, got %v", err)
	}
	if le.Backend != "pib" {
		t.Errorf("Expected pib backend tag, got %q", le.Backend)
	}

	// Invalid modules are rejected before encoding.
	_, err = New().Lower(&ir.Module{}, target.Default())
	if !errors.As(err, &le) {
		t.Fatalf("Expected LoweringError for empty module, got %v", err)
	}
}

func TestDecode_NotAContainer(t *testing.T) {
	for _, blob := range [][]byte{nil, []byte("KP"), []byte("ELF\x7f1234")} {
		if _, _, err := Decode(blob); err == nil {
			t.Errorf("Decode(%q) unexpectedly succeeded", blob)
		}
	}
}
