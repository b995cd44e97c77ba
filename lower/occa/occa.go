// Package occa is the native backend adapter: it renders an OKL translation
// unit from finalized IR and JIT-builds it on an OCCA device. The returned
// code object is the rendered translation unit the device verified; OCCA
// keeps the device binary in its own kernel cache.
package occa

import (
	"github.com/notargets/gocca"
	"github.com/pkg/errors"

	"github.com/openkernels/kjit/diag"
	"github.com/openkernels/kjit/ir"
	"github.com/openkernels/kjit/target"
)

// Lowerer lowers modules through one OCCA device. It is not safe for
// concurrent Lower calls on the same device; use one Lowerer per session.
type Lowerer struct {
	device *gocca.OCCADevice
	owned  bool
}

// New creates a device from OCCA JSON properties (e.g. {"mode": "OpenMP"})
// and wraps it. Close frees the device.
func New(propsJSON string) (*Lowerer, error) {
	device, err := gocca.NewDevice(propsJSON)
	if err != nil {
		return nil, errors.Wrapf(err, "occa: create device from %s", propsJSON)
	}
	return &Lowerer{device: device, owned: true}, nil
}

// NewWithDevice wraps a caller-owned device; Close leaves it alive.
func NewWithDevice(device *gocca.OCCADevice) *Lowerer {
	return &Lowerer{device: device}
}

func (*Lowerer) Name() string { return "occa" }

// Mode reports the wrapped device's OCCA mode.
func (l *Lowerer) Mode() string { return l.device.Mode() }

// Close frees the device when the adapter owns it.
func (l *Lowerer) Close() error {
	if l.owned && l.device != nil {
		l.device.Free()
		l.device = nil
	}
	return nil
}

// Lower validates the module, renders OKL and builds every kernel on the
// device. Build failures surface as LoweringError; lowering is
// non-retryable and never partially succeeds from the caller's view.
func (l *Lowerer) Lower(m *ir.Module, tgt target.Resolved) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, &diag.LoweringError{Backend: l.Name(), Detail: "module rejected", Err: err}
	}

	source, err := RenderModule(m, tgt)
	if err != nil {
		return nil, &diag.LoweringError{Backend: l.Name(), Detail: "codegen", Err: err}
	}

	for _, k := range m.Kernels {
		kernel, err := l.buildKernel(source, k.Name)
		if err != nil {
			return nil, &diag.LoweringError{
				Backend: l.Name(),
				Detail:  "device build of kernel " + k.Name,
				Err:     err,
			}
		}
		kernel.Free()
	}
	return []byte(source), nil
}

func (l *Lowerer) buildKernel(source, name string) (*gocca.OCCAKernel, error) {
	var kernel *gocca.OCCAKernel
	var err error

	if l.device.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = l.device.BuildKernelFromString(source, name, props)
	} else {
		kernel, err = l.device.BuildKernelFromString(source, name, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "build kernel %s", name)
	}
	if kernel == nil {
		return nil, errors.Errorf("kernel build returned nil for %s", name)
	}
	return kernel, nil
}
