// Package pib implements the portable intermediate binary backend: a
// self-contained container holding the validated module, readable on any
// device class. The container is an 8-byte fixed header followed by a
// msgpack payload; output is deterministic for a given module and target.
package pib

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/openkernels/kjit/diag"
	"github.com/openkernels/kjit/ir"
	"github.com/openkernels/kjit/target"
)

// Magic opens every PIB container.
const Magic = "KPIB"

// header is the fixed container prefix: magic, format version pair, device
// class, pointer width flag.
type header struct {
	Major uint8
	Minor uint8
	Class uint8
	Width uint8
}

// payload is the msgpack-encoded container body.
type payload struct {
	Arch     uint32      `msgpack:"arch"`
	Stepping string      `msgpack:"stepping,omitempty"`
	Decls    []string    `msgpack:"decls,omitempty"`
	Kernels  []srcKernel `msgpack:"kernels"`
}

type srcKernel struct {
	Name    string       `msgpack:"name"`
	Params  []srcParam   `msgpack:"params"`
	Values  []srcValue   `msgpack:"values,omitempty"`
	Scratch []srcScratch `msgpack:"scratch,omitempty"`
	Body    []srcInstr   `msgpack:"body"`
}

type srcParam struct {
	Name     string `msgpack:"name"`
	Storage  int    `msgpack:"storage"`
	Elem     int    `msgpack:"elem"`
	Buffer   uint64 `msgpack:"buf,omitempty"`
	Count    int    `msgpack:"count,omitempty"`
	Internal bool   `msgpack:"internal,omitempty"`
	ReadOnly bool   `msgpack:"ro,omitempty"`
}

type srcValue struct {
	Name string `msgpack:"name,omitempty"`
	Elem int    `msgpack:"elem"`
}

type srcScratch struct {
	Name  string `msgpack:"name"`
	Elem  int    `msgpack:"elem"`
	Count int    `msgpack:"count"`
}

type srcInstr struct {
	Op    int    `msgpack:"op"`
	Dst   [2]int `msgpack:"dst,omitempty"`
	Src   [][2]int `msgpack:"src,omitempty"`
	Mem   [2]int `msgpack:"mem,omitempty"`
	Index string `msgpack:"idx,omitempty"`
	Text  string `msgpack:"text,omitempty"`
}

// Lowerer is the PIB backend. It is stateless and safe for concurrent use.
type Lowerer struct{}

// New returns the portable backend.
func New() *Lowerer { return &Lowerer{} }

func (*Lowerer) Name() string { return "pib" }

// Close is a no-op; the backend holds no resources.
func (*Lowerer) Close() error { return nil }

// Lower validates the module and encodes the container.
func (l *Lowerer) Lower(m *ir.Module, tgt target.Resolved) ([]byte, error) {
	if tgt.Format() != target.FormatPIB {
		return nil, &diag.LoweringError{
			Backend: l.Name(),
			Detail:  fmt.Sprintf("target format %s is not PIB", tgt.Format()),
		}
	}
	if err := m.Validate(); err != nil {
		return nil, &diag.LoweringError{
			Backend: l.Name(),
			Detail:  "module rejected",
			Err:     err,
		}
	}

	var buf bytes.Buffer
	buf.WriteString(Magic)
	hdr := header{
		Major: uint8(tgt.Version().Major),
		Minor: uint8(tgt.Version().Minor),
		Class: uint8(tgt.Class()),
		Width: uint8(tgt.PointerWidth() / 8),
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, &diag.LoweringError{Backend: l.Name(), Detail: "header encode", Err: err}
	}

	body := payload{
		Arch:     uint32(tgt.Arch()),
		Stepping: tgt.Stepping(),
		Decls:    m.Decls,
	}
	for _, k := range m.Kernels {
		body.Kernels = append(body.Kernels, encodeKernel(k))
	}

	enc, err := msgpack.Marshal(body)
	if err != nil {
		return nil, &diag.LoweringError{Backend: l.Name(), Detail: "payload encode", Err: err}
	}
	buf.Write(enc)
	return buf.Bytes(), nil
}

func encodeKernel(k *ir.KernelUnit) srcKernel {
	out := srcKernel{Name: k.Name}
	for _, p := range k.Params {
		out.Params = append(out.Params, srcParam{
			Name:     p.Name,
			Storage:  int(p.Storage),
			Elem:     int(p.Elem),
			Buffer:   p.BufferID,
			Count:    p.Count,
			Internal: p.Internal,
			ReadOnly: p.ReadOnly,
		})
	}
	for _, v := range k.Values {
		out.Values = append(out.Values, srcValue{Name: v.Name, Elem: int(v.Elem)})
	}
	for _, s := range k.Scratch {
		out.Scratch = append(out.Scratch, srcScratch{Name: s.Name, Elem: int(s.Elem), Count: s.Count})
	}
	for i := range k.Body {
		in := &k.Body[i]
		enc := srcInstr{
			Op:    int(in.Op),
			Dst:   encodeRef(in.Dst),
			Mem:   encodeRef(in.Mem),
			Index: in.Index,
			Text:  in.Text,
		}
		for _, s := range in.Src {
			enc.Src = append(enc.Src, encodeRef(s))
		}
		out.Body = append(out.Body, enc)
	}
	return out
}

func encodeRef(r ir.Ref) [2]int { return [2]int{int(r.Kind), r.Index} }

func decodeRef(r [2]int) ir.Ref { return ir.Ref{Kind: ir.RefKind(r[0]), Index: r[1]} }

// Decode reads a container back into a module and the descriptor fields it
// was lowered against. Tooling symmetry for the CLI; devices consume the
// container through their own loaders.
func Decode(blob []byte) (*ir.Module, target.Partial, error) {
	if len(blob) < len(Magic)+4 || string(blob[:len(Magic)]) != Magic {
		return nil, target.Partial{}, fmt.Errorf("pib: not a PIB container")
	}
	var hdr header
	if err := binary.Read(bytes.NewReader(blob[len(Magic):len(Magic)+4]), binary.LittleEndian, &hdr); err != nil {
		return nil, target.Partial{}, fmt.Errorf("pib: header: %w", err)
	}
	var body payload
	if err := msgpack.Unmarshal(blob[len(Magic)+4:], &body); err != nil {
		return nil, target.Partial{}, fmt.Errorf("pib: payload: %w", err)
	}

	m := &ir.Module{Decls: body.Decls}
	for _, k := range body.Kernels {
		unit := &ir.KernelUnit{Name: k.Name}
		for _, p := range k.Params {
			unit.Params = append(unit.Params, ir.Param{
				Name:     p.Name,
				Storage:  ir.StorageClass(p.Storage),
				Elem:     ir.ElemType(p.Elem),
				BufferID: p.Buffer,
				Count:    p.Count,
				Internal: p.Internal,
				ReadOnly: p.ReadOnly,
			})
		}
		for i, v := range k.Values {
			unit.Values = append(unit.Values, ir.Value{ID: i, Name: v.Name, Elem: ir.ElemType(v.Elem)})
		}
		for _, s := range k.Scratch {
			unit.Scratch = append(unit.Scratch, ir.Scratch{Name: s.Name, Elem: ir.ElemType(s.Elem), Count: s.Count})
		}
		for _, in := range k.Body {
			dec := ir.Instr{
				Op:    ir.Op(in.Op),
				Dst:   decodeRef(in.Dst),
				Mem:   decodeRef(in.Mem),
				Index: in.Index,
				Text:  in.Text,
			}
			for _, s := range in.Src {
				dec.Src = append(dec.Src, decodeRef(s))
			}
			unit.Body = append(unit.Body, dec)
		}
		m.Kernels = append(m.Kernels, unit)
	}

	p := target.Partial{
		Format:       target.FormatPIB,
		Version:      &target.Version{Major: int(hdr.Major), Minor: int(hdr.Minor)},
		Class:        target.Class(hdr.Class),
		Arch:         target.Arch(body.Arch),
		PointerWidth: target.Width(int(hdr.Width) * 8),
		Stepping:     body.Stepping,
	}
	return m, p, nil
}
