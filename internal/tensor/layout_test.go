package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout_Contiguous(t *testing.T) {
	l := Contiguous(Shape{2, 3})
	assert.True(t, l.IsContiguous())
	assert.Equal(t, []int{3, 1}, l.Stride())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, l.Indices())
	assert.Equal(t, 5, l.MaxOffset())
}

func TestLayout_Transpose(t *testing.T) {
	l, err := Contiguous(Shape{2, 3}).Transpose(0, 1)
	require.NoError(t, err)

	assert.False(t, l.IsContiguous())
	assert.Equal(t, Shape{3, 2}, l.Shape())
	assert.Equal(t, []int{0, 3, 1, 4, 2, 5}, l.Indices())

	starts, blockLen := l.Blocks()
	assert.Equal(t, 1, blockLen)
	assert.Equal(t, []int{0, 3, 1, 4, 2, 5}, starts)
}

func TestLayout_Narrow(t *testing.T) {
	// Columns 1..2 of a 3x4 matrix.
	l, err := Contiguous(Shape{3, 4}).Narrow(1, 1, 2)
	require.NoError(t, err)

	assert.Equal(t, 1, l.Offset())
	assert.Equal(t, []int{1, 2, 5, 6, 9, 10}, l.Indices())

	starts, blockLen := l.Blocks()
	assert.Equal(t, 2, blockLen)
	assert.Equal(t, []int{1, 5, 9}, starts)

	_, err = l.Narrow(1, 1, 5)
	assert.ErrorIs(t, err, ErrLayout)
}

func TestLayout_NarrowRowsStaysContiguous(t *testing.T) {
	l, err := Contiguous(Shape{4, 2}).Narrow(0, 1, 2)
	require.NoError(t, err)

	assert.True(t, l.IsContiguous())
	starts, blockLen := l.Blocks()
	assert.Equal(t, []int{2}, starts)
	assert.Equal(t, 4, blockLen)
}

func TestLayout_BroadcastAs(t *testing.T) {
	l, err := Contiguous(Shape{1, 3}).BroadcastAs(Shape{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, l.Indices())

	_, err = Contiguous(Shape{2, 3}).BroadcastAs(Shape{4, 3})
	assert.ErrorIs(t, err, ErrLayout)
}

func TestLayout_CheckBounds(t *testing.T) {
	tests := []struct {
		name    string
		shape   Shape
		stride  []int
		offset  int
		storage int
		wantErr bool
	}{
		{"fits", Shape{2, 2}, []int{2, 1}, 0, 4, false},
		{"offset overflows", Shape{2, 2}, []int{2, 1}, 1, 4, true},
		{"stride overflows", Shape{2, 2}, []int{3, 1}, 0, 4, true},
		{"broadcast", Shape{2, 2}, []int{0, 1}, 0, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLayout(tt.shape, tt.stride, tt.offset)
			require.NoError(t, err)
			err = l.CheckBounds(tt.storage)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrLayout)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLayout_Invalid(t *testing.T) {
	_, err := NewLayout(Shape{2, 2}, []int{1}, 0)
	assert.ErrorIs(t, err, ErrLayout)

	_, err = NewLayout(Shape{2, 0}, []int{1, 1}, 0)
	assert.ErrorIs(t, err, ErrLayout)

	_, err = NewLayout(Shape{2}, []int{-1}, 0)
	assert.ErrorIs(t, err, ErrLayout)
}

func TestLayout_ScalarOffsets(t *testing.T) {
	l := ContiguousWithOffset(Shape{}, 7)
	assert.Equal(t, []int{7}, l.Indices())
}
