// Package cpu implements the compute backend for the host CPU.
//
// The CPU is a degenerate device: storages wrap a tensor.HostStorage and
// every operation runs synchronously in the calling goroutine, split across
// workers by internal/parallel when the input is large enough.
package cpu

import (
	"github.com/born-ml/compute/internal/config"
	"github.com/born-ml/compute/internal/logger"
	"github.com/born-ml/compute/internal/parallel"
	"github.com/born-ml/compute/internal/tensor"
)

// backendName is reported in every BackendError raised by this package.
const backendName = "cpu"

// Device is the host CPU.
type Device struct {
	par parallel.Config
	log *logger.Logger
}

// New creates a CPU device using the given parallelism settings.
func New(cfg config.Parallel) *Device {
	return &Device{
		par: parallel.FromConfig(cfg),
		log: logger.Log.With("device", backendName),
	}
}

// NewDefault creates a CPU device with the default configuration.
func NewDefault() *Device {
	return New(config.Default().Parallel)
}

// Name implements tensor.Device.
func (d *Device) Name() string { return backendName }

// Location implements tensor.Device.
func (d *Device) Location() tensor.Location {
	return tensor.Location{Kind: backendName}
}

// SameDevice implements tensor.Device. There is one host, so every CPU
// device is the same device.
func (d *Device) SameDevice(other tensor.Device) bool {
	_, ok := other.(*Device)
	return ok
}

// Synchronize implements tensor.Device. CPU work is synchronous.
func (d *Device) Synchronize() error { return nil }

// String implements fmt.Stringer.
func (d *Device) String() string { return "CPU" }

// StorageFromHost implements tensor.Device. The data is copied so later
// changes to h do not affect the storage.
func (d *Device) StorageFromHost(h *tensor.HostStorage) (tensor.Storage, error) {
	return d.wrap(h.Clone()), nil
}

// Zeros implements tensor.Device.
func (d *Device) Zeros(shape tensor.Shape, dt tensor.DType) (tensor.Storage, error) {
	if err := shape.Validate(); err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpZeros, tensor.ErrLayout, err)
	}
	h, err := tensor.NewHostStorage(dt, shape.NumElements())
	if err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpZeros, tensor.ErrDType, err)
	}
	return d.wrap(h), nil
}

// Ones implements tensor.Device.
func (d *Device) Ones(shape tensor.Shape, dt tensor.DType) (tensor.Storage, error) {
	if err := shape.Validate(); err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpOnes, tensor.ErrLayout, err)
	}
	if !dt.Valid() {
		return nil, tensor.DTypeErrorf(backendName, tensor.OpOnes, "unknown dtype %d", int(dt))
	}
	return d.wrap(tensor.Ones(dt, shape.NumElements())), nil
}

// RandUniform implements tensor.Device.
func (d *Device) RandUniform(shape tensor.Shape, dt tensor.DType, lo, hi float64) (tensor.Storage, error) {
	if err := shape.Validate(); err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpRandUniform, tensor.ErrLayout, err)
	}
	h, err := tensor.RandUniform(dt, shape.NumElements(), lo, hi)
	if err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpRandUniform, tensor.ErrDType, err)
	}
	return d.wrap(h), nil
}

// RandNormal implements tensor.Device.
func (d *Device) RandNormal(shape tensor.Shape, dt tensor.DType, mean, std float64) (tensor.Storage, error) {
	if err := shape.Validate(); err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpRandNormal, tensor.ErrLayout, err)
	}
	h, err := tensor.RandNormal(dt, shape.NumElements(), mean, std)
	if err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpRandNormal, tensor.ErrDType, err)
	}
	return d.wrap(h), nil
}

func (d *Device) wrap(h *tensor.HostStorage) *Storage {
	return &Storage{dev: d, host: h}
}
