package ir

import (
	"strings"
	"testing"
)

func validUnit() *KernelUnit {
	return &KernelUnit{
		Name: "scale",
		Params: []Param{
			{Name: "out", Storage: StorageGlobal, Elem: F32},
			{Name: "in", Storage: StorageGlobal, Elem: F32, ReadOnly: true},
			{Name: "alpha", Storage: StorageValue, Elem: F32},
		},
		Values: []Value{{ID: 0, Elem: F32}, {ID: 1, Elem: F32}},
		Body: []Instr{
			{Op: OpLoad, Dst: Ref{RefValue, 0}, Mem: Ref{RefParam, 1}, Index: IndexLane},
			{Op: OpCompute, Dst: Ref{RefValue, 1}, Src: []Ref{{RefValue, 0}, {RefParam, 2}}, Text: "$0 * $1"},
			{Op: OpStore, Src: []Ref{{RefValue, 1}}, Mem: Ref{RefParam, 0}, Index: IndexLane},
		},
	}
}

func TestValidate_WellFormed(t *testing.T) {
	if err := validUnit().Validate(); err != nil {
		t.Fatalf("Valid unit rejected: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*KernelUnit)
		want   string
	}{
		{"no_name", func(k *KernelUnit) { k.Name = "" }, "no name"},
		{"bad_storage", func(k *KernelUnit) { k.Params[0].Storage = 99 }, "invalid storage class"},
		{"param_out_of_range", func(k *KernelUnit) { k.Body[0].Mem.Index = 9 }, "out of range"},
		{"value_out_of_range", func(k *KernelUnit) { k.Body[1].Src[0].Index = 5 }, "out of range"},
		{"store_through_scalar", func(k *KernelUnit) { k.Body[2].Mem.Index = 2 }, "by-value"},
		{"store_no_source", func(k *KernelUnit) { k.Body[2].Src = nil }, "store wants 1 source"},
		{"bad_value_table", func(k *KernelUnit) { k.Values[1].ID = 7 }, "has ID"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			k := validUnit()
			tc.mutate(k)
			err := k.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestModuleValidate(t *testing.T) {
	m := &Module{}
	if err := m.Validate(); err == nil {
		t.Error("Expected empty module to fail validation")
	}
	m.Kernels = []*KernelUnit{validUnit()}
	if err := m.Validate(); err != nil {
		t.Errorf("Valid module rejected: %v", err)
	}
}

func TestString_Render(t *testing.T) {
	s := validUnit().String()
	for _, want := range []string{"kernel scale(", "load p1", "store p0", "compute"} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected render to contain %q, got:\n%s", want, s)
		}
	}
}
