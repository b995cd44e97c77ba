// Package lower defines the backend lowering contract: a validated module
// plus a resolved target in, an opaque binary code object out. The core
// treats lowering as potentially expensive and non-retryable; failures
// propagate to the caller unchanged, stage-tagged by the session.
package lower

import (
	"github.com/openkernels/kjit/ir"
	"github.com/openkernels/kjit/target"
)

// Lowerer turns finalized IR into a target binary blob. Implementations own
// no ordering between sessions; within one session the caller guarantees
// resolution, front-end compilation and fusion have already happened.
type Lowerer interface {
	// Name identifies the backend in lowering errors.
	Name() string
	// Lower emits the code object for a module. The returned bytes belong
	// to the caller; the core never interprets them.
	Lower(m *ir.Module, tgt target.Resolved) ([]byte, error)
	// Close releases backend resources. Lower must not be called after.
	Close() error
}
