package occa

import "github.com/notargets/gocca"

// NewTestDevice creates a device for testing, preferring parallel backends
// and falling back to Serial. Callers own the returned device.
func NewTestDevice() (*gocca.OCCADevice, error) {
	backends := []string{
		`{"mode": "OpenMP"}`,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "Serial"}`,
	}

	var lastErr error
	for _, props := range backends {
		device, err := gocca.NewDevice(props)
		if err == nil {
			return device, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
