// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU backend for GPU-accelerated storages.
//
// Two drivers are available:
//   - native: wgpu-native through go-webgpu (Windows builds)
//   - soft: an in-process software adapter, always available
//
// The "auto" driver tries native first and falls back to soft.
//
// Example:
//
//	import (
//	    "github.com/born-ml/compute/backend/cpu"
//	    "github.com/born-ml/compute/backend/webgpu"
//	)
//
//	func main() {
//	    var dev tensor.Device = cpu.New()
//	    if webgpu.IsAvailable("auto") {
//	        gpu, err := webgpu.New(webgpu.DefaultConfig())
//	        if err != nil {
//	            log.Fatal(err)
//	        }
//	        defer gpu.Release()
//	        dev = gpu
//	    }
//	}
package webgpu

import (
	"github.com/born-ml/compute/internal/backend/webgpu"
	"github.com/born-ml/compute/internal/config"
	"github.com/born-ml/compute/internal/gpu"
	"github.com/born-ml/compute/tensor"
)

// Device is a WebGPU device context.
type Device = webgpu.Device

// Config selects and bounds the device.
type Config = config.Device

// AdapterInfo describes one enumerable adapter.
type AdapterInfo = gpu.AdapterInfo

// MemoryStats reports device memory usage.
type MemoryStats = webgpu.MemoryStats

// Compile-time check that Device implements tensor.Device.
var _ tensor.Device = (*Device)(nil)

// DefaultConfig returns the default device configuration.
func DefaultConfig() Config {
	return config.Default().Device
}

// New opens the device selected by cfg. Call Release when done to free GPU
// resources.
//
// Returns an error matching tensor.ErrDeviceInit if no adapter matches.
func New(cfg Config) (*Device, error) {
	return webgpu.New(cfg)
}

// Open opens adapter ordinal with the default configuration.
func Open(ordinal int) (*Device, error) {
	return webgpu.NewDefault(ordinal)
}

// IsAvailable reports whether driver ("auto", "native" or "soft") can open
// at least one adapter. It is useful for graceful fallback to the CPU
// backend.
func IsAvailable(driver string) bool {
	return webgpu.IsAvailable(driver)
}

// ListAdapters enumerates the adapters of driver.
func ListAdapters(driver string) ([]AdapterInfo, error) {
	return webgpu.ListAdapters(driver)
}
