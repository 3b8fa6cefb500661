// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend.
//
// # Overview
//
// The CPU is a degenerate device: storages live in host memory, every
// operation runs synchronously and Synchronize is a no-op. It implements the
// full operation set for every dtype that makes sense:
//   - element-wise, comparison and reduction operations on strided views
//   - indexing (index_select, gather, scatter_add, index_add)
//   - batched matmul, conv1d/conv2d with padding, stride and dilation
//   - pooling and nearest-neighbour upsampling
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
//	    a, _ := dev.StorageFromHost(tensor.FromSlice([]float32{1, 2, 3, 4}))
//	    b, _ := dev.Ones(tensor.Shape{2, 2}, tensor.F32)
//	    l := tensor.Contiguous(tensor.Shape{2, 2})
//	    c, _ := a.Binary(tensor.Add, b, l, l)
//	}
//
// # Thread Safety
//
// The CPU backend is safe for concurrent use. Large element-wise and matmul
// workloads are split across goroutines; see Config.
package cpu
