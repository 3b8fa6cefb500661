package cpu

import (
	"math"
	"slices"

	"github.com/born-ml/compute/internal/parallel"
	"github.com/born-ml/compute/internal/tensor"
)

// reduction describes how the reduced dimensions of a contiguous input map
// onto the output. bases[o] is the input index of the first element folded
// into output o; inner visits the remaining elements relative to that base.
type reduction struct {
	outShape tensor.Shape
	bases    []int
	inner    []int
}

func planReduction(op string, shape tensor.Shape, dims []int) (*reduction, error) {
	if len(dims) == 0 {
		return nil, tensor.LayoutErrorf(backendName, op, "no dimensions to reduce")
	}
	reduced := make([]bool, len(shape))
	for _, d := range dims {
		if d < 0 || d >= len(shape) {
			return nil, tensor.LayoutErrorf(backendName, op, "dimension %d out of range for rank %d", d, len(shape))
		}
		if reduced[d] {
			return nil, tensor.LayoutErrorf(backendName, op, "dimension %d reduced twice", d)
		}
		reduced[d] = true
	}

	strides := shape.ComputeStrides()
	outShape := shape.Clone()
	var innerShape tensor.Shape
	var innerStride []int
	for d := range shape {
		if reduced[d] {
			outShape[d] = 1
			innerShape = append(innerShape, shape[d])
			innerStride = append(innerStride, strides[d])
		}
	}

	// Reduced dims have size 1 in outShape, so the input strides address
	// the first element of each group.
	outL, err := tensor.NewLayout(outShape, strides, 0)
	if err != nil {
		return nil, tensor.NewBackendError(backendName, op, tensor.ErrLayout, err)
	}
	innerL, err := tensor.NewLayout(innerShape, innerStride, 0)
	if err != nil {
		return nil, tensor.NewBackendError(backendName, op, tensor.ErrLayout, err)
	}
	return &reduction{outShape: outShape, bases: outL.Indices(), inner: innerL.Indices()}, nil
}

// fold reduces each group with f, starting from the group's first element.
func fold[T number](r *reduction, x []T, f func(acc, v T) T, p parallel.Config) []T {
	out := make([]T, len(r.bases))
	parallel.For(len(r.bases), func(o int) {
		base := r.bases[o]
		acc := x[base+r.inner[0]]
		for _, off := range r.inner[1:] {
			acc = f(acc, x[base+off])
		}
		out[o] = acc
	}, p)
	return out
}

// argFold returns, for each group, the position along the reduced dimension
// of the first element preferred by better.
func argFold[T number](r *reduction, x []T, better func(v, best T) bool, p parallel.Config) []uint32 {
	out := make([]uint32, len(r.bases))
	parallel.For(len(r.bases), func(o int) {
		base := r.bases[o]
		best, at := x[base+r.inner[0]], 0
		for k, off := range r.inner[1:] {
			if v := x[base+off]; better(v, best) {
				best, at = v, k+1
			}
		}
		out[o] = uint32(at) //nolint:gosec // G115: bounded by the dimension size
	}, p)
	return out
}

func reduceFunc[T number](op tensor.ReduceOp) func(acc, v T) T {
	switch op {
	case tensor.ReduceSum:
		return func(acc, v T) T { return acc + v }
	case tensor.ReduceMin:
		return func(acc, v T) T { return min(acc, v) }
	case tensor.ReduceMax:
		return func(acc, v T) T { return max(acc, v) }
	}
	return nil
}

// Reduce implements tensor.Storage. Reduced dimensions are kept with size 1.
// Sum, min and max accept any dimensions; argmin and argmax reduce exactly
// one dimension and return U32 positions, the first on ties.
//
// Example:
//
//	x: shape [2, 3] = [[1, 5, 2], [7, 0, 3]]
//	Reduce(ReduceSum, x, []int{1})    -> [[8], [10]]
//	Reduce(ReduceArgMax, x, []int{1}) -> [[1], [0]]
func (s *Storage) Reduce(op tensor.ReduceOp, l tensor.Layout, dims []int) (tensor.Storage, error) {
	name := tensor.SubOp(tensor.OpReduce, op)
	arg := op == tensor.ReduceArgMin || op == tensor.ReduceArgMax
	if !arg && reduceFunc[float64](op) == nil {
		return nil, tensor.LayoutErrorf(backendName, name, "unknown reduction %d", int(op))
	}
	if arg && len(dims) != 1 {
		return nil, tensor.LayoutErrorf(backendName, name, "%s reduces one dimension, got %d", op, len(dims))
	}

	x, err := s.contiguous(name, l)
	if err != nil {
		return nil, err
	}
	r, err := planReduction(name, l.Shape(), slices.Clone(dims))
	if err != nil {
		return nil, err
	}

	dt := s.DType()
	if arg {
		if dt.IsFloat() {
			return s.dev.wrap(tensor.Wrap(argFold(r, floats(x), argBetter[float64](op), s.dev.par))), nil
		}
		return s.dev.wrap(tensor.Wrap(argFold(r, ints(x), argBetter[int64](op), s.dev.par))), nil
	}
	if dt.IsFloat() {
		return s.dev.wrap(fromFloats(dt, fold(r, floats(x), reduceFunc[float64](op), s.dev.par))), nil
	}
	return s.dev.wrap(fromInts(dt, fold(r, ints(x), reduceFunc[int64](op), s.dev.par))), nil
}

// argBetter orders candidates for argmin and argmax. NaN never wins.
func argBetter[T number](op tensor.ReduceOp) func(v, best T) bool {
	if op == tensor.ReduceArgMin {
		return func(v, best T) bool { return v < best || isNaN(best) && !isNaN(v) }
	}
	return func(v, best T) bool { return v > best || isNaN(best) && !isNaN(v) }
}

func isNaN[T number](v T) bool {
	f, ok := any(v).(float64)
	return ok && math.IsNaN(f)
}
