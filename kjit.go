// Package kjit is an online compilation service for heterogeneous kernel
// programs. A session binds one resolved target descriptor to one source
// language; within a session the pipeline is resolution, front-end
// compilation, optional fusion, then backend lowering, in that order.
// Sessions are independent, hold no cross-session state and may run
// concurrently; the core owns no concurrency of its own.
package kjit

import (
	"errors"
	"fmt"

	"github.com/openkernels/kjit/diag"
	"github.com/openkernels/kjit/frontend"
	"github.com/openkernels/kjit/fusion"
	"github.com/openkernels/kjit/ir"
	"github.com/openkernels/kjit/lower"
	"github.com/openkernels/kjit/lower/pib"
	"github.com/openkernels/kjit/target"
)

// Session binds a resolved target to a source language and a lowering
// backend. Create with Open, release with Close. A session never retries:
// every error it returns is terminal for that call.
type Session struct {
	tgt     target.Resolved
	lang    frontend.Language
	fe      frontend.Frontend
	lowerer lower.Lowerer
	engine  *fusion.Engine
	closed  bool
}

// Option configures a session at Open time.
type Option func(*Session)

// WithLowerer selects the backend; the default is the portable PIB backend.
// The session takes ownership and Close closes it.
func WithLowerer(l lower.Lowerer) Option {
	return func(s *Session) { s.lowerer = l }
}

// WithHazard substitutes the promotion hazard model used by Fuse.
func WithHazard(h fusion.HazardPredicate) Option {
	return func(s *Session) { s.engine = &fusion.Engine{Hazard: h} }
}

// Open creates a session. The language tag must have a registered front
// end; the target must come from target.Resolve.
func Open(tgt target.Resolved, lang frontend.Language, opts ...Option) (*Session, error) {
	fe, err := frontend.Lookup(lang)
	if err != nil {
		return nil, err
	}
	s := &Session{
		tgt:    tgt,
		lang:   lang,
		fe:     fe,
		engine: fusion.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lowerer == nil {
		s.lowerer = pib.New()
	}
	return s, nil
}

// Target returns the session's resolved target descriptor.
func (s *Session) Target() target.Resolved { return s.tgt }

// Language returns the session's source language tag.
func (s *Session) Language() frontend.Language { return s.lang }

// Close releases the backend. The session is unusable afterwards.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lowerer.Close()
}

// CompileToIR runs only the front end, producing the module without
// lowering it. Useful when the caller wants to fuse before lowering.
func (s *Session) CompileToIR(source string, opts frontend.Options) (*ir.Module, error) {
	if s.closed {
		return nil, fmt.Errorf("kjit: session is closed")
	}
	m, err := s.fe.CompileToIR(source, opts)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, &diag.SourceError{
			Language: string(s.lang),
			Detail:   "front end produced invalid IR: " + err.Error(),
		}
	}
	return m, nil
}

// Compile compiles source text straight to a code object. The result is a
// blob or exactly one error kind, never both and never partial.
func (s *Session) Compile(source string, opts frontend.Options) ([]byte, error) {
	m, err := s.CompileToIR(source, opts)
	if err != nil {
		return nil, err
	}
	blob, err := s.lowerer.Lower(m, s.tgt)
	if err != nil {
		return nil, tagStage(err, diag.StageCompile)
	}
	return blob, nil
}

// CompileFused lowers an already-fused kernel unit. Lowering failures carry
// the post-fusion stage tag so callers can tell them apart from plain
// compile rejections.
func (s *Session) CompileFused(fused *ir.KernelUnit) ([]byte, error) {
	if s.closed {
		return nil, fmt.Errorf("kjit: session is closed")
	}
	if fused == nil {
		return nil, fmt.Errorf("kjit: fused kernel is nil")
	}
	m := &ir.Module{Kernels: []*ir.KernelUnit{fused}}
	blob, err := s.lowerer.Lower(m, s.tgt)
	if err != nil {
		return nil, tagStage(err, diag.StageFused)
	}
	return blob, nil
}

// Fuse merges kernel units under the session's hazard model. barriers[i]
// declares whether a full work-group barrier is required between unit i and
// unit i+1.
func (s *Session) Fuse(units []*ir.KernelUnit, barriers []bool) (*ir.KernelUnit, error) {
	if s.closed {
		return nil, fmt.Errorf("kjit: session is closed")
	}
	return s.engine.Fuse(plan(units, barriers))
}

// FuseKernels merges kernel units with the default engine and hazard model.
func FuseKernels(units []*ir.KernelUnit, barriers []bool) (*ir.KernelUnit, error) {
	return fusion.Fuse(plan(units, barriers))
}

func plan(units []*ir.KernelUnit, barriers []bool) fusion.Plan {
	p := fusion.Plan{Kernels: units}
	p.Boundaries = make([]fusion.Boundary, len(barriers))
	for i, b := range barriers {
		p.Boundaries[i] = fusion.Boundary{RequiresBarrier: b}
	}
	return p
}

// tagStage attaches the pipeline stage to a lowering error; other error
// kinds pass through unchanged.
func tagStage(err error, stage diag.Stage) error {
	var le *diag.LoweringError
	if errors.As(err, &le) && le.Stage == 0 {
		le.Stage = stage
	}
	return err
}
