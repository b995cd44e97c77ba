// Package diag defines the error taxonomy shared by every stage of the
// compilation pipeline. Errors are plain values: callers dispatch on kind
// with errors.As and never see a partially populated result alongside one.
package diag

import "fmt"

// Stage identifies which pipeline stage produced a lowering failure, so a
// caller can tell "backend rejected the source compile" apart from "backend
// rejected the fused program".
type Stage int

const (
	// StageCompile is a plain source-to-binary compile.
	StageCompile Stage = iota + 1
	// StageFused is a post-fusion compile of a merged kernel unit.
	StageFused
)

func (s Stage) String() string {
	switch s {
	case StageCompile:
		return "compile"
	case StageFused:
		return "fused-compile"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ConfigurationError reports an unsatisfiable or invalid target descriptor.
// It is always detected before any compilation work begins. Step names the
// first validation step that failed; resolution is all-or-nothing.
type ConfigurationError struct {
	Step   string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("target configuration: %s: %s", e.Step, e.Detail)
}

// SourceError reports a front-end parse or compile failure. Line and Col are
// 1-based where determinable; both zero means whole-source scope.
type SourceError struct {
	Language string
	Line     int
	Col      int
	Detail   string
}

func (e *SourceError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %d:%d: %s", e.Language, e.Line, e.Col, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Language, e.Detail)
}

// FusionPlanError reports structurally invalid fusion input: an empty plan,
// a kernel with an unsupported parameter storage class, or a declared data
// dependency that is cyclic.
type FusionPlanError struct {
	Reason string
}

func (e *FusionPlanError) Error() string {
	return "fusion plan: " + e.Reason
}

// LoweringError reports that a backend rejected the finalized representation.
// It wraps the backend's own error when one exists and carries the stage tag
// the session attached before propagating.
type LoweringError struct {
	Stage   Stage
	Backend string
	Detail  string
	Err     error
}

func (e *LoweringError) Error() string {
	msg := fmt.Sprintf("lowering (%s, backend %s): %s", e.Stage, e.Backend, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoweringError) Unwrap() error { return e.Err }
