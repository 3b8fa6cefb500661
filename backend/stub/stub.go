// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package stub provides a placeholder backend for builds without an
// accelerator. Storages can be created from host data, but every operation
// fails with an error matching tensor.ErrUnimplemented.
package stub

import (
	"github.com/born-ml/compute/internal/backend/stub"
	"github.com/born-ml/compute/tensor"
)

// Device is the placeholder device.
type Device = stub.Device

// Compile-time check that Device implements tensor.Device.
var _ tensor.Device = (*Device)(nil)

// New returns a stub device.
func New() *Device {
	return stub.New()
}
