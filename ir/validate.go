package ir

import "fmt"

// Validate checks structural well-formedness: named parameters with storage
// classes from the enumeration, in-range references, loads and stores
// addressing buffer or scratch slots only.
func (k *KernelUnit) Validate() error {
	if k.Name == "" {
		return fmt.Errorf("kernel has no name")
	}
	for i, p := range k.Params {
		if p.Name == "" {
			return fmt.Errorf("kernel %s: parameter %d has no name", k.Name, i)
		}
		if !p.Storage.Valid() {
			return fmt.Errorf("kernel %s: parameter %s: invalid storage class %d", k.Name, p.Name, int(p.Storage))
		}
	}
	for i, v := range k.Values {
		if v.ID != i {
			return fmt.Errorf("kernel %s: value table entry %d has ID %d", k.Name, i, v.ID)
		}
	}
	for i := range k.Body {
		if err := k.checkInstr(&k.Body[i]); err != nil {
			return fmt.Errorf("kernel %s: instr %d: %w", k.Name, i, err)
		}
	}
	return nil
}

func (k *KernelUnit) checkInstr(in *Instr) error {
	switch in.Op {
	case OpLoad:
		if err := k.checkRef(in.Dst, RefValue); err != nil {
			return err
		}
		return k.checkMem(in.Mem)
	case OpStore:
		if len(in.Src) != 1 {
			return fmt.Errorf("store wants 1 source, has %d", len(in.Src))
		}
		if err := k.checkRef(in.Src[0], 0); err != nil {
			return err
		}
		return k.checkMem(in.Mem)
	case OpCompute:
		if err := k.checkRef(in.Dst, RefValue); err != nil {
			return err
		}
		for _, s := range in.Src {
			if err := k.checkRef(s, 0); err != nil {
				return err
			}
		}
		return nil
	case OpBarrier:
		return nil
	default:
		return fmt.Errorf("unknown opcode %d", int(in.Op))
	}
}

// checkRef validates a reference; want restricts the kind when nonzero.
func (k *KernelUnit) checkRef(r Ref, want RefKind) error {
	if want != 0 && r.Kind != want {
		return fmt.Errorf("reference %s: want kind %d", r, int(want))
	}
	switch r.Kind {
	case RefParam:
		if r.Index < 0 || r.Index >= len(k.Params) {
			return fmt.Errorf("parameter reference %d out of range", r.Index)
		}
	case RefValue:
		if r.Index < 0 || r.Index >= len(k.Values) {
			return fmt.Errorf("value reference %d out of range", r.Index)
		}
	case RefScratch:
		if r.Index < 0 || r.Index >= len(k.Scratch) {
			return fmt.Errorf("scratch reference %d out of range", r.Index)
		}
	default:
		return fmt.Errorf("reference has unknown kind %d", int(r.Kind))
	}
	return nil
}

// checkMem validates a load/store address: a buffer parameter or a scratch
// slot, never a by-value scalar.
func (k *KernelUnit) checkMem(r Ref) error {
	if err := k.checkRef(r, 0); err != nil {
		return err
	}
	if r.Kind == RefParam && k.Params[r.Index].Storage == StorageValue {
		return fmt.Errorf("memory access through by-value parameter %s", k.Params[r.Index].Name)
	}
	if r.Kind == RefValue {
		return fmt.Errorf("memory access through value %s", r)
	}
	return nil
}

// Validate checks the module and every kernel unit in it.
func (m *Module) Validate() error {
	if len(m.Kernels) == 0 {
		return fmt.Errorf("module has no kernels")
	}
	for _, k := range m.Kernels {
		if k == nil {
			return fmt.Errorf("module contains nil kernel")
		}
		if err := k.Validate(); err != nil {
			return err
		}
	}
	return nil
}
