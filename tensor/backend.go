// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "github.com/born-ml/compute/internal/tensor"

// Device defines the interface that all compute devices must implement.
//
// Implementations:
//   - backend/cpu: the host CPU
//   - backend/webgpu: GPU compute via WebGPU (native or software driver)
//   - backend/stub: placeholder, every operation is unimplemented
type Device = tensor.Device

// Storage is the backend dispatch contract. See the internal documentation
// of each method for the exact semantics.
type Storage = tensor.Storage

// Location identifies where a storage lives.
type Location = tensor.Location

// Operation enums.
type (
	UnaryOp  = tensor.UnaryOp
	BinaryOp = tensor.BinaryOp
	CmpOp    = tensor.CmpOp
	ReduceOp = tensor.ReduceOp
)

// Unary operations.
const (
	Exp   = tensor.Exp
	Log   = tensor.Log
	Sin   = tensor.Sin
	Cos   = tensor.Cos
	Tanh  = tensor.Tanh
	Abs   = tensor.Abs
	Neg   = tensor.Neg
	Recip = tensor.Recip
	Sqr   = tensor.Sqr
	Sqrt  = tensor.Sqrt
	Relu  = tensor.Relu
	Gelu  = tensor.Gelu
	Silu  = tensor.Silu
)

// Binary operations.
const (
	Add     = tensor.Add
	Sub     = tensor.Sub
	Mul     = tensor.Mul
	Div     = tensor.Div
	Maximum = tensor.Maximum
	Minimum = tensor.Minimum
)

// Comparison operations. Results are U8 storages holding 0 or 1.
const (
	Eq = tensor.Eq
	Ne = tensor.Ne
	Lt = tensor.Lt
	Le = tensor.Le
	Gt = tensor.Gt
	Ge = tensor.Ge
)

// Reductions.
const (
	ReduceSum    = tensor.ReduceSum
	ReduceMin    = tensor.ReduceMin
	ReduceMax    = tensor.ReduceMax
	ReduceArgMin = tensor.ReduceArgMin
	ReduceArgMax = tensor.ReduceArgMax
)

// Operation parameters.
type (
	MatMulDims   = tensor.MatMulDims
	Conv1DParams = tensor.Conv1DParams
	Conv2DParams = tensor.Conv2DParams
)

// BackendError is the error type returned by every backend.
type BackendError = tensor.BackendError

// Error kinds. Match them with errors.Is.
var (
	ErrDeviceInit        = tensor.ErrDeviceInit
	ErrOutOfDeviceMemory = tensor.ErrOutOfDeviceMemory
	ErrUnimplemented     = tensor.ErrUnimplemented
	ErrDeviceMismatch    = tensor.ErrDeviceMismatch
	ErrReadbackTimeout   = tensor.ErrReadbackTimeout
	ErrMapFailed         = tensor.ErrMapFailed
	ErrLayout            = tensor.ErrLayout
	ErrDType             = tensor.ErrDType
	ErrReleased          = tensor.ErrReleased
)

// IsUnimplemented reports whether err marks an operation the backend does not provide.
func IsUnimplemented(err error) bool { return tensor.IsUnimplemented(err) }

// UnimplementedOp returns the operation name carried by an unimplemented error.
func UnimplementedOp(err error) (string, bool) { return tensor.UnimplementedOp(err) }
