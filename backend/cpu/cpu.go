// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	"github.com/born-ml/compute/internal/backend/cpu"
	"github.com/born-ml/compute/internal/config"
	"github.com/born-ml/compute/tensor"
)

// Device is the host CPU device.
type Device = cpu.Device

// Config controls how CPU kernels are split across goroutines.
type Config = config.Parallel

// Compile-time check that Device implements tensor.Device.
var _ tensor.Device = (*Device)(nil)

// New creates a CPU device with the default parallelism settings.
func New() *Device {
	return cpu.NewDefault()
}

// NewWithConfig creates a CPU device with explicit parallelism settings.
func NewWithConfig(cfg Config) *Device {
	return cpu.New(cfg)
}

// DefaultConfig returns the default parallelism settings.
func DefaultConfig() Config {
	return config.Default().Parallel
}
