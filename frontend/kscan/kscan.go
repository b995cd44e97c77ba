// Package kscan is the structural kernel-source scanner shared by the
// built-in front ends. It recognizes kernel declarations, parameter storage
// qualifiers and the memory/synchronization shape of statements; expression
// internals stay opaque compute text. Real parsing depth is a collaborator
// concern, not this module's.
package kscan

import (
	"fmt"
	"strings"

	"github.com/openkernels/kjit/diag"
	"github.com/openkernels/kjit/ir"
)

// Dialect parameterizes the scanner for one source language.
type Dialect struct {
	// Language tags SourceErrors.
	Language string
	// KernelWords mark a kernel declaration, e.g. "__kernel".
	KernelWords []string
	// GlobalQuals and LocalQuals are pointer-parameter storage qualifiers.
	GlobalQuals []string
	LocalQuals  []string
	// BufferTypes are non-pointer parameter types that denote a global
	// buffer handle (CM's SurfaceIndex), mapped to their element type.
	BufferTypes map[string]ir.ElemType
	// ScalarTypes are by-value parameter and declaration types.
	ScalarTypes map[string]ir.ElemType
	// LaneCalls are builtins yielding the canonical per-lane index.
	LaneCalls []string
	// BarrierCalls are full work-group barrier builtins.
	BarrierCalls []string
}

// Define is a preprocessor-style definition applied textually before
// scanning.
type Define struct {
	Name  string
	Value string
}

// Scan compiles source into an IR module under the dialect's rules.
func Scan(d Dialect, source string, defines []Define) (*ir.Module, error) {
	src := stripComments(source)
	for _, def := range defines {
		if def.Value != "" {
			src = replaceIdent(src, def.Name, def.Value)
		}
	}

	m := &ir.Module{Source: d.Language}
	for _, def := range defines {
		if def.Value != "" {
			m.Decls = append(m.Decls, fmt.Sprintf("#define %s %s", def.Name, def.Value))
		} else {
			m.Decls = append(m.Decls, fmt.Sprintf("#define %s", def.Name))
		}
	}

	off := 0
	for {
		kw, at := nextKernelWord(d, src, off)
		if at < 0 {
			break
		}
		unit, end, err := d.scanKernel(src, at+len(kw))
		if err != nil {
			return nil, err
		}
		m.Kernels = append(m.Kernels, unit)
		off = end
	}

	if len(m.Kernels) == 0 {
		return nil, &diag.SourceError{
			Language: d.Language,
			Detail:   "no kernel declarations found",
		}
	}
	return m, nil
}

// nextKernelWord finds the earliest kernel keyword at or after off, as a
// standalone identifier.
func nextKernelWord(d Dialect, src string, off int) (string, int) {
	best, word := -1, ""
	for _, kw := range d.KernelWords {
		at := indexIdent(src, kw, off)
		if at >= 0 && (best < 0 || at < best) {
			best, word = at, kw
		}
	}
	return word, best
}

type scanState struct {
	d      Dialect
	src    string
	unit   *ir.KernelUnit
	params map[string]int
	values map[string]int
	lanes  map[string]bool
}

// scanKernel parses one kernel declaration starting just after its keyword.
// It returns the unit and the offset one past the closing body brace.
func (d Dialect) scanKernel(src string, off int) (*ir.KernelUnit, int, error) {
	fail := func(at int, format string, args ...any) error {
		line, col := lineCol(src, at)
		return &diag.SourceError{
			Language: d.Language,
			Line:     line,
			Col:      col,
			Detail:   fmt.Sprintf(format, args...),
		}
	}

	rest := src[off:]
	i := skipSpace(rest, 0)
	// Optional "void" return; CM spells the keyword before it too.
	if strings.HasPrefix(rest[i:], "void") {
		i = skipSpace(rest, i+4)
	}
	name, n := takeIdent(rest[i:])
	if name == "" {
		return nil, 0, fail(off+i, "expected kernel name")
	}
	i = skipSpace(rest, i+n)
	if i >= len(rest) || rest[i] != '(' {
		return nil, 0, fail(off+i, "expected parameter list for kernel %s", name)
	}
	closeParen := matchDelim(rest, i, '(', ')')
	if closeParen < 0 {
		return nil, 0, fail(off+i, "unterminated parameter list for kernel %s", name)
	}
	paramText := rest[i+1 : closeParen]

	j := skipSpace(rest, closeParen+1)
	if j >= len(rest) || rest[j] != '{' {
		return nil, 0, fail(off+j, "expected body for kernel %s", name)
	}
	closeBrace := matchDelim(rest, j, '{', '}')
	if closeBrace < 0 {
		return nil, 0, fail(off+j, "unterminated body for kernel %s", name)
	}
	bodyText := rest[j+1 : closeBrace]

	st := &scanState{
		d:      d,
		src:    src,
		unit:   &ir.KernelUnit{Name: name},
		params: make(map[string]int),
		values: make(map[string]int),
		lanes:  make(map[string]bool),
	}
	if err := st.scanParams(paramText, off+i+1); err != nil {
		return nil, 0, err
	}
	if err := st.scanBody(bodyText, off+j+1); err != nil {
		return nil, 0, err
	}
	return st.unit, off + closeBrace + 1, nil
}

func (st *scanState) fail(at int, format string, args ...any) error {
	line, col := lineCol(st.src, at)
	return &diag.SourceError{
		Language: st.d.Language,
		Line:     line,
		Col:      col,
		Detail:   fmt.Sprintf(format, args...),
	}
}

func (st *scanState) scanParams(text string, base int) error {
	off := 0
	for _, piece := range splitTop(text, ',') {
		at := base + off + leadingSpace(piece)
		off += len(piece) + 1
		decl := strings.TrimSpace(piece)
		if decl == "" {
			continue
		}
		p, err := st.parseParam(decl, at)
		if err != nil {
			return err
		}
		st.params[p.Name] = len(st.unit.Params)
		st.unit.Params = append(st.unit.Params, p)
	}
	return nil
}

// parseParam classifies one parameter declaration into a storage class and
// element type.
func (st *scanState) parseParam(decl string, at int) (ir.Param, error) {
	toks := strings.Fields(strings.ReplaceAll(decl, "*", " * "))
	if len(toks) < 2 {
		return ir.Param{}, st.fail(at, "malformed parameter %q", decl)
	}

	p := ir.Param{Storage: ir.StorageValue}
	pointer := false
	var typeName string
	for _, t := range toks[:len(toks)-1] {
		switch {
		case contains(st.d.GlobalQuals, t):
			p.Storage = ir.StorageGlobal
		case contains(st.d.LocalQuals, t):
			p.Storage = ir.StorageLocal
		case t == "const":
			p.ReadOnly = true
		case t == "*":
			pointer = true
		case typeName == "":
			typeName = t
		default:
			return ir.Param{}, st.fail(at, "unexpected token %q in parameter %q", t, decl)
		}
	}
	p.Name = toks[len(toks)-1]
	if !isIdent(p.Name) {
		return ir.Param{}, st.fail(at, "malformed parameter name %q", p.Name)
	}

	if elem, ok := st.d.BufferTypes[typeName]; ok {
		p.Storage = ir.StorageGlobal
		p.Elem = elem
		return p, nil
	}
	elem, ok := st.d.ScalarTypes[typeName]
	if !ok {
		return ir.Param{}, st.fail(at, "unknown parameter type %q", typeName)
	}
	p.Elem = elem
	if pointer && p.Storage == ir.StorageValue {
		return ir.Param{}, st.fail(at, "pointer parameter %s needs an address-space qualifier", p.Name)
	}
	if !pointer && p.Storage != ir.StorageValue {
		return ir.Param{}, st.fail(at, "qualified parameter %s must be a pointer", p.Name)
	}
	return p, nil
}

func (st *scanState) scanBody(text string, base int) error {
	off := 0
	for _, piece := range splitTop(text, ';') {
		at := base + off + leadingSpace(piece)
		off += len(piece) + 1
		stmt := strings.TrimSpace(piece)
		if stmt == "" {
			continue
		}
		if err := st.scanStmt(stmt, at); err != nil {
			return err
		}
	}
	return nil
}

func (st *scanState) scanStmt(stmt string, at int) error {
	// Barrier builtins.
	for _, b := range st.d.BarrierCalls {
		if strings.HasPrefix(stmt, b) && strings.HasPrefix(strings.TrimSpace(stmt[len(b):]), "(") {
			st.unit.Body = append(st.unit.Body, ir.Instr{Op: ir.OpBarrier})
			return nil
		}
	}

	// Declarations: "<type> name = init" or a bare "<type> name".
	if typeName, rest := splitType(st.d, stmt); typeName != "" {
		name, n := takeIdent(rest)
		if name == "" {
			return st.fail(at, "malformed declaration %q", stmt)
		}
		tail := strings.TrimSpace(rest[n:])
		if tail == "" {
			// Uninitialized local; becomes a value on first assignment.
			return nil
		}
		if !strings.HasPrefix(tail, "=") {
			return st.fail(at, "malformed declaration %q", stmt)
		}
		init := strings.TrimSpace(tail[1:])
		if st.isLaneExpr(init) {
			st.lanes[name] = true
			return nil
		}
		return st.emitAssign(name, "", init, at)
	}

	// Assignments: "lhs = rhs" at top level, skipping comparison operators.
	if eq := topLevelAssign(stmt); eq >= 0 {
		lhs := strings.TrimSpace(stmt[:eq])
		rhs := strings.TrimSpace(stmt[eq+1:])
		if name, idx, ok := splitIndexed(lhs); ok {
			return st.emitAssign(name, idx, rhs, at)
		}
		if isIdent(lhs) {
			return st.emitAssign(lhs, "", rhs, at)
		}
		return st.fail(at, "unsupported assignment target %q", lhs)
	}

	// Anything else is an opaque compute step with no visible result.
	_, err := st.emitCompute(stmt, ir.F64, at)
	return err
}

// emitAssign lowers "name[idx] = rhs" (buffer store) or "name = rhs" (local
// value definition).
func (st *scanState) emitAssign(name, idx, rhs string, at int) error {
	if idx != "" {
		pi, ok := st.params[name]
		if !ok {
			return st.fail(at, "store to undeclared buffer %q", name)
		}
		p := st.unit.Params[pi]
		if p.Storage == ir.StorageValue {
			return st.fail(at, "cannot index by-value parameter %q", name)
		}
		if p.ReadOnly {
			return st.fail(at, "store to read-only parameter %q", name)
		}
		v, err := st.emitCompute(rhs, p.Elem, at)
		if err != nil {
			return err
		}
		st.unit.Body = append(st.unit.Body, ir.Instr{
			Op:    ir.OpStore,
			Src:   []ir.Ref{v},
			Mem:   ir.Ref{Kind: ir.RefParam, Index: pi},
			Index: st.normIndex(idx),
		})
		return nil
	}

	v, err := st.emitCompute(rhs, ir.F64, at)
	if err != nil {
		return err
	}
	st.values[name] = v.Index
	st.unit.Values[v.Index].Name = name
	return nil
}

// emitCompute lowers an expression: every buffer access becomes a load,
// every scalar-parameter or known-value mention becomes an operand, and the
// remaining text is kept opaque with $n placeholders.
func (st *scanState) emitCompute(expr string, elem ir.ElemType, at int) (ir.Ref, error) {
	var src []ir.Ref
	var text strings.Builder

	i := 0
	for i < len(expr) {
		name, n := takeIdent(expr[i:])
		if name == "" {
			text.WriteByte(expr[i])
			i++
			continue
		}
		after := skipSpace(expr, i+n)
		if after < len(expr) && expr[after] == '[' {
			close := matchDelim(expr, after, '[', ']')
			if close < 0 {
				return ir.Ref{}, st.fail(at, "unterminated index on %q", name)
			}
			pi, ok := st.params[name]
			if !ok || st.unit.Params[pi].Storage == ir.StorageValue {
				return ir.Ref{}, st.fail(at, "load from undeclared buffer %q", name)
			}
			v := st.newValue(st.unit.Params[pi].Elem)
			st.unit.Body = append(st.unit.Body, ir.Instr{
				Op:    ir.OpLoad,
				Dst:   v,
				Mem:   ir.Ref{Kind: ir.RefParam, Index: pi},
				Index: st.normIndex(expr[after+1 : close]),
			})
			fmt.Fprintf(&text, "$%d", len(src))
			src = append(src, v)
			i = close + 1
			continue
		}
		if pi, ok := st.params[name]; ok && st.unit.Params[pi].Storage == ir.StorageValue {
			fmt.Fprintf(&text, "$%d", len(src))
			src = append(src, ir.Ref{Kind: ir.RefParam, Index: pi})
			i += n
			continue
		}
		if vi, ok := st.values[name]; ok {
			fmt.Fprintf(&text, "$%d", len(src))
			src = append(src, ir.Ref{Kind: ir.RefValue, Index: vi})
			i += n
			continue
		}
		if st.lanes[name] || st.isLaneExpr(name) {
			text.WriteString(laneToken)
			i += n
			continue
		}
		text.WriteString(name)
		i += n
	}

	dst := st.newValue(elem)
	st.unit.Body = append(st.unit.Body, ir.Instr{
		Op:   ir.OpCompute,
		Dst:  dst,
		Src:  src,
		Text: text.String(),
	})
	return dst, nil
}

// laneToken marks the per-lane index inside opaque compute text.
const laneToken = "$lane"

func (st *scanState) newValue(elem ir.ElemType) ir.Ref {
	id := len(st.unit.Values)
	st.unit.Values = append(st.unit.Values, ir.Value{ID: id, Elem: elem})
	return ir.Ref{Kind: ir.RefValue, Index: id}
}

// normIndex canonicalizes an index expression: an expression that is exactly
// the lane index collapses to ir.IndexLane, and lane variables inside a
// composite expression are substituted with the lane marker so the emitted
// index never names a source-local variable.
func (st *scanState) normIndex(idx string) string {
	idx = strings.TrimSpace(idx)
	if st.lanes[idx] || st.isLaneExpr(idx) {
		return ir.IndexLane
	}
	for name := range st.lanes {
		idx = replaceIdent(idx, name, laneToken)
	}
	return idx
}

func (st *scanState) isLaneExpr(expr string) bool {
	expr = strings.Join(strings.Fields(expr), "")
	for _, c := range st.d.LaneCalls {
		if expr == strings.Join(strings.Fields(c), "") {
			return true
		}
	}
	return false
}

// splitType splits a declaration's leading scalar type from the rest;
// returns "" when the statement does not start with a known scalar type or
// a type alias like size_t.
func splitType(d Dialect, stmt string) (string, string) {
	name, n := takeIdent(stmt)
	if name == "" {
		return "", ""
	}
	if _, ok := d.ScalarTypes[name]; !ok {
		return "", ""
	}
	rest := strings.TrimSpace(stmt[n:])
	// A following identifier distinguishes a declaration from an expression
	// that merely starts with a type-named call.
	if id, _ := takeIdent(rest); id == "" {
		return "", ""
	}
	return name, rest
}
