package fusion

import "github.com/openkernels/kjit/ir"

// HazardPredicate decides whether promoting a buffer to work-group scratch
// is free of cross-lane aliasing hazards. It is consulted only after the
// plan has guaranteed a synchronization boundary between producer and
// consumer; returning false keeps the value in global memory and is never an
// error. The exact aliasing rule is substitutable: stricter or looser models
// drop in without touching the fusion algorithm.
type HazardPredicate func(producer, consumer *ir.KernelUnit, buffer uint64) bool

// LaneUniform is the default, conservative predicate: promotion is safe only
// when every access to the buffer in both kernels uses the canonical
// per-lane index, so no element is ever written by one lane and read by
// another. Gathers, scatters and anything the scanner could not prove
// uniform fail the check.
func LaneUniform(producer, consumer *ir.KernelUnit, buffer uint64) bool {
	return accessesLaneUniform(producer, buffer) && accessesLaneUniform(consumer, buffer)
}

func accessesLaneUniform(k *ir.KernelUnit, buffer uint64) bool {
	for i := range k.Body {
		in := &k.Body[i]
		if in.Op != ir.OpLoad && in.Op != ir.OpStore {
			continue
		}
		if in.Mem.Kind != ir.RefParam {
			continue
		}
		if k.Params[in.Mem.Index].BufferID != buffer {
			continue
		}
		if in.Index != ir.IndexLane {
			return false
		}
	}
	return true
}
