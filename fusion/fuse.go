package fusion

import (
	"fmt"
	"strings"

	"github.com/openkernels/kjit/diag"
	"github.com/openkernels/kjit/ir"
)

// Engine runs fusion with a configurable promotion hazard model. The zero
// value is not usable; construct with New.
type Engine struct {
	Hazard HazardPredicate
}

// New returns an engine with the default LaneUniform hazard predicate.
func New() *Engine {
	return &Engine{Hazard: LaneUniform}
}

// Fuse merges the plan's kernels with the default engine.
func Fuse(p Plan) (*ir.KernelUnit, error) {
	return New().Fuse(p)
}

// slot is one canonical fused-parameter position. Slots are created in
// first-seen order across the plan, which fixes the fused signature's stable
// ordering: downstream lowering binds arguments by position.
type slot struct {
	param    ir.Param
	kernels  []int // distinct kernels whose signature carries the slot
	stores   []int // kernels that store to it
	loads    []int // kernels that load from it
	promoted bool
	fusedIdx int
	scratch  int
}

// Fuse merges the plan into one kernel unit. Input units are only read;
// every instruction lands in the fused body as a copy with its parameter and
// promoted-value references rewritten. Promotion failures are silent: the
// affected buffer simply stays a global-memory parameter.
func (e *Engine) Fuse(p Plan) (*ir.KernelUnit, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	slots, paramSlot, err := resolveIdentities(p)
	if err != nil {
		return nil, err
	}
	e.markPromotable(p, slots)

	fused := &ir.KernelUnit{Name: fusedName(p.Kernels)}

	// Signature: non-promoted slots in first-seen order; promoted slots
	// become work-group scratch declarations instead.
	for _, s := range slots {
		if s.promoted {
			s.scratch = len(fused.Scratch)
			fused.Scratch = append(fused.Scratch, ir.Scratch{
				Name:  s.param.Name,
				Elem:  s.param.Elem,
				Count: s.param.Count,
			})
			continue
		}
		s.fusedIdx = len(fused.Params)
		fused.Params = append(fused.Params, s.param)
	}

	// Body concatenation in plan order, with barriers re-inserted at every
	// boundary the plan marks as required. Unmarked boundaries get no
	// barrier but keep relative program order.
	for k, unit := range p.Kernels {
		valueBase := len(fused.Values)
		scratchBase := len(fused.Scratch)

		for _, v := range unit.Values {
			fused.Values = append(fused.Values, ir.Value{
				ID:   valueBase + v.ID,
				Name: v.Name,
				Elem: v.Elem,
			})
		}
		for _, s := range unit.Scratch {
			fused.Scratch = append(fused.Scratch, s)
		}

		remap := func(r ir.Ref) ir.Ref {
			switch r.Kind {
			case ir.RefParam:
				s := slots[paramSlot[k][r.Index]]
				if s.promoted {
					return ir.Ref{Kind: ir.RefScratch, Index: s.scratch}
				}
				return ir.Ref{Kind: ir.RefParam, Index: s.fusedIdx}
			case ir.RefValue:
				return ir.Ref{Kind: ir.RefValue, Index: valueBase + r.Index}
			case ir.RefScratch:
				return ir.Ref{Kind: ir.RefScratch, Index: scratchBase + r.Index}
			default:
				return r
			}
		}

		for i := range unit.Body {
			in := unit.Body[i]
			out := ir.Instr{
				Op:    in.Op,
				Index: in.Index,
				Text:  in.Text,
			}
			switch in.Op {
			case ir.OpLoad, ir.OpCompute:
				out.Dst = remap(in.Dst)
			}
			if len(in.Src) > 0 {
				out.Src = make([]ir.Ref, len(in.Src))
				for j, s := range in.Src {
					out.Src[j] = remap(s)
				}
			}
			if in.Op == ir.OpLoad || in.Op == ir.OpStore {
				out.Mem = remap(in.Mem)
			}
			fused.Body = append(fused.Body, out)
		}

		if k < len(p.Kernels)-1 && p.Boundaries[k].RequiresBarrier {
			fused.Body = append(fused.Body, ir.Instr{Op: ir.OpBarrier})
		}
	}

	return fused, nil
}

// resolveIdentities builds the union from every input parameter to its
// canonical fused slot, keyed by buffer identity. Parameters without a
// declared identity never unify. paramSlot[k][i] is the slot index of
// kernel k's parameter i.
func resolveIdentities(p Plan) ([]*slot, [][]int, error) {
	var slots []*slot
	byBuffer := make(map[uint64]int)
	paramSlot := make([][]int, len(p.Kernels))

	for k, unit := range p.Kernels {
		paramSlot[k] = make([]int, len(unit.Params))
		for i, param := range unit.Params {
			idx := -1
			if param.BufferID != 0 {
				if at, ok := byBuffer[param.BufferID]; ok {
					idx = at
				}
			}
			if idx < 0 {
				idx = len(slots)
				slots = append(slots, &slot{param: param})
				if param.BufferID != 0 {
					byBuffer[param.BufferID] = idx
				}
			} else {
				s := slots[idx]
				if s.param.Storage != param.Storage || s.param.Elem != param.Elem {
					return nil, nil, &diag.FusionPlanError{Reason: fmt.Sprintf(
						"buffer %d bound as %s %s by %s but %s %s by an earlier kernel",
						param.BufferID, param.Storage, param.Elem, unit.Name,
						s.param.Storage, s.param.Elem)}
				}
				// Merge attributes across the identity.
				s.param.ReadOnly = s.param.ReadOnly && param.ReadOnly
				s.param.Internal = s.param.Internal && param.Internal
				if s.param.Count == 0 {
					s.param.Count = param.Count
				}
			}

			s := slots[idx]
			paramSlot[k][i] = idx
			if len(s.kernels) == 0 || s.kernels[len(s.kernels)-1] != k {
				s.kernels = append(s.kernels, k)
			}
			if kernelStores(unit, i) {
				s.stores = append(s.stores, k)
			}
			if kernelLoads(unit, i) {
				s.loads = append(s.loads, k)
			}
		}
	}
	return slots, paramSlot, nil
}

// markPromotable runs internal-value discovery and the promotion-safety
// check. A slot is promoted only when the buffer flows exclusively from one
// kernel into the immediately following one, the host never observes it, the
// plan already guarantees a barrier at that boundary, and the hazard
// predicate finds no cross-lane aliasing. Everything else stays global;
// a failed candidate is not an error.
func (e *Engine) markPromotable(p Plan, slots []*slot) {
	hazard := e.Hazard
	if hazard == nil {
		hazard = LaneUniform
	}

	for _, s := range slots {
		if s.param.Storage != ir.StorageGlobal || s.param.BufferID == 0 {
			continue
		}
		if !s.param.Internal || s.param.Count <= 0 {
			continue
		}
		// Exactly two adjacent kernels: the producer stores, the consumer
		// only loads.
		if len(s.kernels) != 2 || s.kernels[1] != s.kernels[0]+1 {
			continue
		}
		producer, consumer := s.kernels[0], s.kernels[1]
		if !containsInt(s.stores, producer) || !containsInt(s.loads, consumer) {
			continue
		}
		if containsInt(s.stores, consumer) {
			continue
		}
		if !p.Boundaries[producer].RequiresBarrier {
			continue
		}
		if !hazard(p.Kernels[producer], p.Kernels[consumer], s.param.BufferID) {
			continue
		}
		s.promoted = true
	}
}

func fusedName(units []*ir.KernelUnit) string {
	if len(units) == 1 {
		return units[0].Name
	}
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Name
	}
	return "fused_" + strings.Join(names, "_")
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
