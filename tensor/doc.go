// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor is the public contract shared by every compute backend.
//
// # Overview
//
// A Device owns allocation authority. Storages are opaque handles to a
// flat, typed buffer on a device; every Storage operation takes the
// storage together with a Layout (shape, strides and start offset) and
// returns a new Storage, so views such as transposes and narrows never copy.
//
// HostStorage is the host-side currency of the system: data enters a device
// through Device.StorageFromHost and leaves it through Storage.ToHost.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/compute/backend/cpu"
//	    "github.com/born-ml/compute/tensor"
//	)
//
//	func main() {
//	    dev := cpu.New()
//	    x, _ := dev.StorageFromHost(tensor.FromSlice([]float32{1, 2, 3, 4}))
//	    l := tensor.Contiguous(tensor.Shape{2, 2})
//	    y, _ := x.Unary(tensor.Exp, l)
//	    host, _ := y.ToHost()
//	    fmt.Println(tensor.MustSlice[float32](host))
//	}
//
// # Supported Data Types
//
//   - U8, U32, I64 (integers)
//   - BF16, F16 (half precision, stored as raw 16-bit patterns)
//   - F32, F64
//
// # Unimplemented operations
//
// A backend is not required to provide every operation. Missing operations
// fail with an error matching ErrUnimplemented that names the backend and
// the operation; they never panic.
package tensor
