// Package fusion merges an ordered sequence of kernel units into a single
// kernel unit that is observationally equivalent to running the originals in
// sequence. Fusion is purely a boundary and parameter operation: bodies are
// copied wholesale under remapped references, barriers are re-inserted at
// declared synchronization boundaries, and intermediate buffers that only
// flow between adjacent kernels may be promoted to work-group scratch.
package fusion

import (
	"fmt"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/openkernels/kjit/diag"
	"github.com/openkernels/kjit/ir"
)

// Boundary describes the synchronization requirement between two adjacent
// kernels in a plan: whether the original invocation implied a full
// work-group barrier before the next kernel can safely begin.
type Boundary struct {
	RequiresBarrier bool
}

// Plan is an ordered sequence of kernel units to execute as one, with an
// explicit synchronization requirement at each boundary. Boundaries has one
// entry per adjacent pair. The plan's order among data-dependent kernels is
// the original execution order; the engine never reorders.
type Plan struct {
	Kernels    []*ir.KernelUnit
	Boundaries []Boundary
}

// validate checks plan structure before any fusion work: non-empty, boundary
// count matching, no nil kernels, only fusable storage classes, and an
// acyclic declared dependency graph.
func (p Plan) validate() error {
	if len(p.Kernels) == 0 {
		return &diag.FusionPlanError{Reason: "plan is empty"}
	}
	if len(p.Boundaries) != len(p.Kernels)-1 {
		return &diag.FusionPlanError{Reason: fmt.Sprintf(
			"plan has %d kernels but %d boundaries", len(p.Kernels), len(p.Boundaries))}
	}
	for i, k := range p.Kernels {
		if k == nil {
			return &diag.FusionPlanError{Reason: fmt.Sprintf("kernel %d is nil", i)}
		}
		if err := k.Validate(); err != nil {
			return &diag.FusionPlanError{Reason: fmt.Sprintf("kernel %s: %v", k.Name, err)}
		}
		for _, param := range k.Params {
			// Work-group scratch handed in as a parameter has no sound
			// cross-kernel identity, so such kernels cannot be fused.
			if param.Storage == ir.StorageLocal {
				return &diag.FusionPlanError{Reason: fmt.Sprintf(
					"kernel %s: parameter %s has unsupported storage class %s",
					k.Name, param.Name, param.Storage)}
			}
		}
	}
	return p.checkAcyclic()
}

// checkAcyclic builds the declared dependency graph (an edge from every
// kernel that writes a buffer to every other kernel that reads it) and
// rejects plans whose dependencies admit no sequential order at all.
func (p Plan) checkAcyclic() error {
	g := simple.NewDirectedGraph()
	for i := range p.Kernels {
		g.AddNode(simple.Node(i))
	}

	writers := make(map[uint64][]int)
	readers := make(map[uint64][]int)
	for i, k := range p.Kernels {
		for pi, param := range k.Params {
			if param.BufferID == 0 || param.Storage != ir.StorageGlobal {
				continue
			}
			if kernelStores(k, pi) {
				writers[param.BufferID] = append(writers[param.BufferID], i)
			}
			if kernelLoads(k, pi) {
				readers[param.BufferID] = append(readers[param.BufferID], i)
			}
		}
	}
	for id, ws := range writers {
		for _, w := range ws {
			for _, r := range readers[id] {
				if w == r {
					continue
				}
				g.SetEdge(simple.Edge{F: simple.Node(w), T: simple.Node(r)})
			}
		}
	}

	if _, err := topo.Sort(g); err != nil {
		return &diag.FusionPlanError{Reason: "declared dependencies are cyclic"}
	}
	return nil
}

func kernelStores(k *ir.KernelUnit, paramIdx int) bool {
	for i := range k.Body {
		in := &k.Body[i]
		if in.Op == ir.OpStore && in.Mem.Kind == ir.RefParam && in.Mem.Index == paramIdx {
			return true
		}
	}
	return false
}

func kernelLoads(k *ir.KernelUnit, paramIdx int) bool {
	for i := range k.Body {
		in := &k.Body[i]
		if in.Op == ir.OpLoad && in.Mem.Kind == ir.RefParam && in.Mem.Index == paramIdx {
			return true
		}
	}
	return false
}

// IdentifyByName assigns buffer identities by parameter name equality across
// units: same name, same underlying buffer. Convenient when plans come from
// sources that bind arguments by name (the CLI does); callers that track
// real buffer identities should set BufferID themselves instead. Scalars
// keep identity zero and never unify.
func IdentifyByName(units []*ir.KernelUnit) {
	next := uint64(1)
	byName := make(map[string]uint64)
	for _, u := range units {
		for i := range u.Params {
			p := &u.Params[i]
			if p.Storage != ir.StorageGlobal {
				continue
			}
			id, ok := byName[p.Name]
			if !ok {
				id = next
				next++
				byName[p.Name] = id
			}
			p.BufferID = id
		}
	}
}
