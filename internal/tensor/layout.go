package tensor

import (
	"fmt"
	"iter"
	"slices"
)

// Layout maps the logical elements of a tensor onto a storage: shape, stride per
// dimension and base offset, all in elements. A Layout never owns storage.
type Layout struct {
	shape  Shape
	stride []int
	offset int
}

// Contiguous returns the row-major layout of shape starting at element 0.
func Contiguous(shape Shape) Layout {
	return ContiguousWithOffset(shape, 0)
}

// ContiguousWithOffset returns the row-major layout of shape starting at offset.
func ContiguousWithOffset(shape Shape, offset int) Layout {
	return Layout{shape: shape.Clone(), stride: shape.ComputeStrides(), offset: offset}
}

// NewLayout builds a layout from explicit strides.
// Strides may be zero (broadcast) but not negative.
func NewLayout(shape Shape, stride []int, offset int) (Layout, error) {
	if len(shape) != len(stride) {
		return Layout{}, fmt.Errorf("%w: shape has %d dims but stride has %d", ErrLayout, len(shape), len(stride))
	}
	if err := shape.Validate(); err != nil {
		return Layout{}, err
	}
	if offset < 0 {
		return Layout{}, fmt.Errorf("%w: negative offset %d", ErrLayout, offset)
	}
	for i, s := range stride {
		if s < 0 {
			return Layout{}, fmt.Errorf("%w: negative stride %d at dim %d", ErrLayout, s, i)
		}
	}
	return Layout{shape: shape.Clone(), stride: slices.Clone(stride), offset: offset}, nil
}

// Shape returns the logical shape.
func (l Layout) Shape() Shape { return l.shape }

// Stride returns the stride of each dimension in elements.
func (l Layout) Stride() []int { return l.stride }

// Offset returns the storage index of the first logical element.
func (l Layout) Offset() int { return l.offset }

// Rank returns the number of dimensions.
func (l Layout) Rank() int { return len(l.shape) }

// NumElements returns the number of logical elements.
func (l Layout) NumElements() int { return l.shape.NumElements() }

// Dims returns the shape as a plain int slice.
func (l Layout) Dims() []int { return l.shape }

// IsContiguous reports whether elements are laid out row-major without gaps.
// Dimensions of size 1 are ignored since their stride is never used.
func (l Layout) IsContiguous() bool {
	acc := 1
	for i := len(l.shape) - 1; i >= 0; i-- {
		if l.shape[i] == 1 {
			continue
		}
		if l.stride[i] != acc {
			return false
		}
		acc *= l.shape[i]
	}
	return true
}

// MaxOffset returns the largest storage index addressed by the layout.
func (l Layout) MaxOffset() int {
	m := l.offset
	for i, d := range l.shape {
		m += (d - 1) * l.stride[i]
	}
	return m
}

// CheckBounds verifies that every logical index addresses an element inside
// a storage of storageLen elements.
func (l Layout) CheckBounds(storageLen int) error {
	if len(l.shape) != len(l.stride) {
		return fmt.Errorf("%w: shape has %d dims but stride has %d", ErrLayout, len(l.shape), len(l.stride))
	}
	if err := l.shape.Validate(); err != nil {
		return err
	}
	if l.offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrLayout, l.offset)
	}
	if maxOff := l.MaxOffset(); maxOff >= storageLen {
		return fmt.Errorf("%w: layout %v addresses element %d of a storage with %d elements", ErrLayout, l, maxOff, storageLen)
	}
	return nil
}

// Narrow restricts dim to [start, start+length).
func (l Layout) Narrow(dim, start, length int) (Layout, error) {
	if dim < 0 || dim >= len(l.shape) {
		return Layout{}, fmt.Errorf("%w: narrow dim %d out of range for rank %d", ErrLayout, dim, len(l.shape))
	}
	if start < 0 || length <= 0 || start+length > l.shape[dim] {
		return Layout{}, fmt.Errorf("%w: narrow [%d, %d) out of range for dim of size %d", ErrLayout, start, start+length, l.shape[dim])
	}
	shape := l.shape.Clone()
	shape[dim] = length
	return Layout{shape: shape, stride: slices.Clone(l.stride), offset: l.offset + start*l.stride[dim]}, nil
}

// Transpose swaps two dimensions.
func (l Layout) Transpose(d1, d2 int) (Layout, error) {
	rank := len(l.shape)
	if d1 < 0 || d1 >= rank || d2 < 0 || d2 >= rank {
		return Layout{}, fmt.Errorf("%w: transpose dims (%d, %d) out of range for rank %d", ErrLayout, d1, d2, rank)
	}
	shape := l.shape.Clone()
	stride := slices.Clone(l.stride)
	shape[d1], shape[d2] = shape[d2], shape[d1]
	stride[d1], stride[d2] = stride[d2], stride[d1]
	return Layout{shape: shape, stride: stride, offset: l.offset}, nil
}

// BroadcastAs expands the layout to shape using zero strides for new or size-1 dims.
func (l Layout) BroadcastAs(shape Shape) (Layout, error) {
	if len(shape) < len(l.shape) {
		return Layout{}, fmt.Errorf("%w: cannot broadcast %v to %v", ErrLayout, l.shape, shape)
	}
	extra := len(shape) - len(l.shape)
	stride := make([]int, len(shape))
	for i := range shape {
		if i < extra {
			continue
		}
		src := l.shape[i-extra]
		switch {
		case src == shape[i]:
			stride[i] = l.stride[i-extra]
		case src == 1:
			stride[i] = 0
		default:
			return Layout{}, fmt.Errorf("%w: cannot broadcast %v to %v", ErrLayout, l.shape, shape)
		}
	}
	return Layout{shape: shape.Clone(), stride: stride, offset: l.offset}, nil
}

// Offsets yields the storage index of every logical element in row-major order.
func (l Layout) Offsets() iter.Seq[int] {
	return func(yield func(int) bool) {
		n := l.NumElements()
		if n == 0 {
			return
		}
		rank := len(l.shape)
		idx := make([]int, rank)
		off := l.offset
		for k := 0; k < n; k++ {
			if !yield(off) {
				return
			}
			for d := rank - 1; d >= 0; d-- {
				idx[d]++
				off += l.stride[d]
				if idx[d] < l.shape[d] {
					break
				}
				off -= idx[d] * l.stride[d]
				idx[d] = 0
			}
		}
	}
}

// Indices materializes Offsets into a slice.
func (l Layout) Indices() []int {
	out := make([]int, 0, l.NumElements())
	for off := range l.Offsets() {
		out = append(out, off)
	}
	return out
}

// Blocks splits the layout into runs of contiguous elements. It returns the
// storage start index of every run and the common run length.
func (l Layout) Blocks() (starts []int, blockLen int) {
	blockLen = 1
	split := len(l.shape)
	for d := len(l.shape) - 1; d >= 0; d-- {
		if l.stride[d] != blockLen && l.shape[d] != 1 {
			break
		}
		blockLen *= l.shape[d]
		split = d
	}
	outer := Layout{shape: l.shape[:split], stride: l.stride[:split], offset: l.offset}
	if split == 0 {
		return []int{l.offset}, blockLen
	}
	return outer.Indices(), blockLen
}

// String implements fmt.Stringer.
func (l Layout) String() string {
	return fmt.Sprintf("Layout{shape=%v stride=%v offset=%d}", []int(l.shape), l.stride, l.offset)
}
