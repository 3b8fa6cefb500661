// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/compute/internal/tensor"
)

// DType represents the runtime element type of a storage.
type DType = tensor.DType

// Data type constants.
const (
	U8   = tensor.U8
	U32  = tensor.U32
	I64  = tensor.I64
	BF16 = tensor.BF16
	F16  = tensor.F16
	F32  = tensor.F32
	F64  = tensor.F64
)

// Element is the constraint for Go element types that back a HostStorage.
type Element = tensor.Element

// BFloat16 is a bfloat16 value stored as its raw bit pattern.
type BFloat16 = tensor.BFloat16

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// Layout maps a logical index space onto a flat buffer.
type Layout = tensor.Layout

// HostStorage is a typed, host-resident buffer.
type HostStorage = tensor.HostStorage

// AllDTypes lists every supported dtype.
func AllDTypes() []DType {
	return append([]DType(nil), tensor.AllDTypes...)
}

// ParseDType parses a dtype name such as "f32" or "BF16".
func ParseDType(s string) (DType, error) { return tensor.ParseDType(s) }

// DTypeOf returns the dtype of element type T.
func DTypeOf[T Element]() DType { return tensor.DTypeOf[T]() }

// Contiguous returns the row-major layout of shape starting at offset 0.
func Contiguous(shape Shape) Layout { return tensor.Contiguous(shape) }

// NewLayout builds a layout from explicit strides.
func NewLayout(shape Shape, stride []int, offset int) (Layout, error) {
	return tensor.NewLayout(shape, stride, offset)
}

// FromSlice copies data into a new host storage.
func FromSlice[T Element](data []T) *HostStorage { return tensor.FromSlice(data) }

// Wrap creates a host storage backed by data without copying.
func Wrap[T Element](data []T) *HostStorage { return tensor.Wrap(data) }

// AsSlice returns the typed backing slice of h.
func AsSlice[T Element](h *HostStorage) ([]T, error) { return tensor.AsSlice[T](h) }

// MustSlice is AsSlice that panics on a dtype mismatch.
func MustSlice[T Element](h *HostStorage) []T { return tensor.MustSlice[T](h) }

// FromBytes copies little-endian element bytes into a new host storage.
func FromBytes(dt DType, b []byte) (*HostStorage, error) { return tensor.FromBytes(dt, b) }

// FromFloat64s converts vals to dt.
func FromFloat64s(dt DType, vals []float64) *HostStorage { return tensor.FromFloat64s(dt, vals) }

// Zeros returns a host storage of n zeros.
func Zeros(dt DType, n int) *HostStorage { return tensor.Zeros(dt, n) }

// Ones returns a host storage of n ones.
func Ones(dt DType, n int) *HostStorage { return tensor.Ones(dt, n) }

// CopyStrided copies the elements of src addressed by srcL into dst at dstOffset.
func CopyStrided(src *HostStorage, srcL Layout, dst *HostStorage, dstOffset int) error {
	return tensor.CopyStrided(src, srcL, dst, dstOffset)
}
