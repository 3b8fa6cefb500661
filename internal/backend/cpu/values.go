package cpu

import (
	"math"

	"github.com/born-ml/compute/internal/tensor"
)

// number is the working element type of the CPU kernels. Float dtypes are
// computed in float64; integer dtypes in int64 so I64 stays exact.
type number interface {
	int64 | float64
}

// floats returns the elements of a contiguous storage as float64.
func floats(h *tensor.HostStorage) []float64 {
	return h.Float64s()
}

// ints returns the elements of a contiguous integer storage as int64.
// Float storages are truncated toward zero.
func ints(h *tensor.HostStorage) []int64 {
	switch d := h.Data().(type) {
	case []uint8:
		return widen(d)
	case []uint32:
		return widen(d)
	case []int64:
		return append([]int64(nil), d...)
	default:
		f := h.Float64s()
		out := make([]int64, len(f))
		for i, v := range f {
			out[i] = tensor.FromFloat64[int64](v)
		}
		return out
	}
}

func widen[T uint8 | uint32](d []T) []int64 {
	out := make([]int64, len(d))
	for i, v := range d {
		out[i] = int64(v)
	}
	return out
}

// fromFloats stores float64 results as dt. Integer targets truncate and saturate.
func fromFloats(dt tensor.DType, v []float64) *tensor.HostStorage {
	return tensor.FromFloat64s(dt, v)
}

// fromInts stores int64 results as dt. U8 and U32 saturate at their bounds;
// conversions use it, arithmetic uses wrapInts.
func fromInts(dt tensor.DType, v []int64) *tensor.HostStorage {
	switch dt {
	case tensor.I64:
		return tensor.Wrap(v)
	case tensor.U8:
		return tensor.Wrap(narrow[uint8](v, math.MaxUint8))
	case tensor.U32:
		return tensor.Wrap(narrow[uint32](v, math.MaxUint32))
	default:
		f := make([]float64, len(v))
		for i, x := range v {
			f[i] = float64(x)
		}
		return tensor.FromFloat64s(dt, f)
	}
}

// wrapInts stores int64 arithmetic results as dt, keeping the low bits the
// way native unsigned arithmetic and the GPU kernels do.
func wrapInts(dt tensor.DType, v []int64) *tensor.HostStorage {
	switch dt {
	case tensor.U8:
		return tensor.Wrap(truncate[uint8](v))
	case tensor.U32:
		return tensor.Wrap(truncate[uint32](v))
	default:
		return fromInts(dt, v)
	}
}

func truncate[T uint8 | uint32](v []int64) []T {
	out := make([]T, len(v))
	for i, x := range v {
		out[i] = T(x) //nolint:gosec // G115: wrapping is the intended semantics
	}
	return out
}

func narrow[T uint8 | uint32](v []int64, maxVal int64) []T {
	out := make([]T, len(v))
	for i, x := range v {
		out[i] = T(min(max(x, 0), maxVal))
	}
	return out
}

// isInt reports whether T is the integer working type.
func isInt[T number]() bool {
	var zero T
	_, ok := any(zero).(int64)
	return ok
}

// truthy reports whether element i of a contiguous storage is non-zero.
func truthy(h *tensor.HostStorage) []bool {
	out := make([]bool, h.Len())
	switch d := h.Data().(type) {
	case []uint8:
		for i, v := range d {
			out[i] = v != 0
		}
	case []uint32:
		for i, v := range d {
			out[i] = v != 0
		}
	case []int64:
		for i, v := range d {
			out[i] = v != 0
		}
	default:
		for i, v := range h.Float64s() {
			out[i] = v != 0
		}
	}
	return out
}

// indices returns the elements of a contiguous index storage as ints.
// Index storages must have an integer dtype.
func indices(op string, h *tensor.HostStorage) ([]int, error) {
	if h.DType().IsFloat() {
		return nil, tensor.DTypeErrorf(backendName, op, "indices must be an integer dtype, got %s", h.DType())
	}
	v := ints(h)
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out, nil
}
