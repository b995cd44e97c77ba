// Package ir defines the intermediate representation the front ends produce
// and the fusion engine and backends consume: kernel units with typed,
// storage-classed parameter signatures and flat instruction bodies.
package ir

import "fmt"

// ElemType is the element type of a parameter, value or buffer.
type ElemType int

const (
	F32 ElemType = iota + 1
	F64
	I32
	I64
)

func (t ElemType) String() string {
	switch t {
	case F32:
		return "f32"
	case F64:
		return "f64"
	case I32:
		return "i32"
	case I64:
		return "i64"
	default:
		return fmt.Sprintf("elem(%d)", int(t))
	}
}

// SizeOf returns the element size in bytes.
func (t ElemType) SizeOf() int64 {
	switch t {
	case F32, I32:
		return 4
	default:
		return 8
	}
}

// StorageClass tags how a kernel parameter is backed.
type StorageClass int

const (
	// StorageGlobal is a global-memory buffer.
	StorageGlobal StorageClass = iota + 1
	// StorageLocal is work-group scratch memory.
	StorageLocal
	// StorageValue is a scalar passed by value.
	StorageValue
)

func (s StorageClass) String() string {
	switch s {
	case StorageGlobal:
		return "global"
	case StorageLocal:
		return "local"
	case StorageValue:
		return "value"
	default:
		return fmt.Sprintf("storage(%d)", int(s))
	}
}

// Valid reports whether s is a member of the storage class enumeration.
func (s StorageClass) Valid() bool {
	return s == StorageGlobal || s == StorageLocal || s == StorageValue
}

// Param is one kernel parameter.
//
// BufferID is the underlying buffer/value identity: two parameters across
// different kernel units denote the same post-fusion parameter iff their
// BufferIDs are equal and nonzero. Zero means no declared identity; such
// parameters never unify.
//
// Count is the buffer extent in elements where known (zero when unknown);
// promotion to scratch needs a bounded extent. Internal marks a buffer the
// host never observes, which makes it eligible for promotion.
type Param struct {
	Name     string
	Storage  StorageClass
	Elem     ElemType
	BufferID uint64
	Count    int
	Internal bool
	ReadOnly bool
}

// Value is a kernel-local intermediate value. IDs index the unit's value
// table.
type Value struct {
	ID   int
	Name string
	Elem ElemType
}

// Scratch is a work-group scratch slot introduced by promotion. It replaces
// a global buffer that only ever flowed between two adjacent kernels.
type Scratch struct {
	Name  string
	Elem  ElemType
	Count int
}

// RefKind discriminates instruction operand references.
type RefKind int

const (
	// RefParam indexes the unit's parameter list.
	RefParam RefKind = iota + 1
	// RefValue indexes the unit's value table.
	RefValue
	// RefScratch indexes the unit's scratch slots.
	RefScratch
)

// Ref is a reference to a parameter, value or scratch slot by index. Fusion
// rewrites Refs wholesale when it concatenates bodies; nothing else in the
// pipeline mutates them.
type Ref struct {
	Kind  RefKind
	Index int
}

func (r Ref) String() string {
	switch r.Kind {
	case RefParam:
		return fmt.Sprintf("p%d", r.Index)
	case RefValue:
		return fmt.Sprintf("v%d", r.Index)
	case RefScratch:
		return fmt.Sprintf("s%d", r.Index)
	default:
		return fmt.Sprintf("ref(%d,%d)", int(r.Kind), r.Index)
	}
}

// Op enumerates instruction opcodes. The IR is deliberately shallow: bodies
// are opaque compute steps plus the memory and synchronization operations
// fusion has to reason about.
type Op int

const (
	// OpLoad reads Mem[Index] into Dst.
	OpLoad Op = iota + 1
	// OpStore writes Src[0] to Mem[Index].
	OpStore
	// OpCompute evaluates opaque expression Text over Src into Dst.
	OpCompute
	// OpBarrier is a full work-group synchronization point.
	OpBarrier
)

func (o Op) String() string {
	switch o {
	case OpLoad:
		return "load"
	case OpStore:
		return "store"
	case OpCompute:
		return "compute"
	case OpBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// IndexLane is the canonical per-lane index expression: each work-item
// addresses exactly its own element. The promotion hazard check keys on it.
const IndexLane = "@lane"

// Instr is one instruction. Loads and stores carry the addressed slot in
// Mem and an index expression; computes carry operand refs and an opaque
// expression text in which $0..$n name the operands positionally.
type Instr struct {
	Op    Op
	Dst   Ref
	Src   []Ref
	Mem   Ref
	Index string
	Text  string
}

// KernelUnit is one compiled-but-unlowered kernel: an ordered parameter
// signature plus a flat body. Units are read-only inputs to fusion; the
// engine only reads them when constructing the merged unit.
type KernelUnit struct {
	Name    string
	Params  []Param
	Values  []Value
	Scratch []Scratch
	Body    []Instr
}

// Module is a front end's output: shared module-level declarations plus one
// or more kernel units.
type Module struct {
	Source  string
	Decls   []string
	Kernels []*KernelUnit
}
