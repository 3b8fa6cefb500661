//go:build !windows

// Package native implements gpu.Driver on top of go-webgpu (wgpu-native).
// The bindings are built for Windows only; elsewhere the driver reports
// itself unavailable.
package native

import (
	"fmt"
	"runtime"

	"github.com/born-ml/compute/internal/gpu"
)

// Driver is the native driver stub.
type Driver struct{}

// New returns the native driver.
func New() *Driver { return &Driver{} }

// Name implements gpu.Driver.
func (d *Driver) Name() string { return gpu.DriverNative }

// Adapters implements gpu.Driver.
func (d *Driver) Adapters() ([]gpu.AdapterInfo, error) {
	return nil, fmt.Errorf("%w: native driver not built for %s", gpu.ErrUnavailable, runtime.GOOS)
}

// Open implements gpu.Driver.
func (d *Driver) Open(gpu.Selector) (gpu.Device, error) {
	return nil, fmt.Errorf("%w: native driver not built for %s", gpu.ErrUnavailable, runtime.GOOS)
}
