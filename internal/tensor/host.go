package tensor

import (
	"bytes"
	"fmt"
	"unsafe"

	"github.com/x448/float16"
)

// HostStorage is a dtype-tagged flat element container in host memory.
// The Go type of data always matches dtype: []uint8, []uint32, []int64,
// []BFloat16, []float16.Float16, []float32 or []float64.
type HostStorage struct {
	dtype DType
	data  any
}

// FromSlice creates a HostStorage holding a copy of data.
func FromSlice[T Element](data []T) *HostStorage {
	return &HostStorage{
		dtype: dtypeOf[T](),
		data:  append(make([]T, 0, len(data)), data...),
	}
}

// wrap creates a HostStorage that takes ownership of data without copying.
func wrap[T Element](data []T) *HostStorage {
	return &HostStorage{dtype: dtypeOf[T](), data: data}
}

// Wrap creates a HostStorage that takes ownership of data.
// The caller must not modify data afterwards.
func Wrap[T Element](data []T) *HostStorage {
	return wrap(data)
}

// AsSlice returns the typed element slice backing h.
// Returns ErrDType if T does not match the storage dtype.
func AsSlice[T Element](h *HostStorage) ([]T, error) {
	s, ok := h.data.([]T)
	if !ok {
		return nil, fmt.Errorf("%w: storage is %s, requested %s", ErrDType, h.dtype, dtypeOf[T]())
	}
	return s, nil
}

// MustSlice is like AsSlice but panics on dtype mismatch. Intended for tests and kernels
// that already dispatched on DType.
func MustSlice[T Element](h *HostStorage) []T {
	s, err := AsSlice[T](h)
	if err != nil {
		panic(err)
	}
	return s
}

// NewHostStorage allocates a zero-filled storage of n elements.
func NewHostStorage(dt DType, n int) (*HostStorage, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative element count %d", ErrLayout, n)
	}
	switch dt {
	case U8:
		return wrap(make([]uint8, n)), nil
	case U32:
		return wrap(make([]uint32, n)), nil
	case I64:
		return wrap(make([]int64, n)), nil
	case BF16:
		return wrap(make([]BFloat16, n)), nil
	case F16:
		return wrap(make([]float16.Float16, n)), nil
	case F32:
		return wrap(make([]float32, n)), nil
	case F64:
		return wrap(make([]float64, n)), nil
	default:
		return nil, fmt.Errorf("%w: unknown dtype %d", ErrDType, int(dt))
	}
}

// Zeros is NewHostStorage that panics on invalid arguments.
func Zeros(dt DType, n int) *HostStorage {
	h, err := NewHostStorage(dt, n)
	if err != nil {
		panic(err)
	}
	return h
}

// Full returns a storage of n elements all equal to v converted to dt.
func Full(dt DType, n int, v float64) *HostStorage {
	h := Zeros(dt, n)
	switch d := h.data.(type) {
	case []uint8:
		fill(d, v)
	case []uint32:
		fill(d, v)
	case []int64:
		fill(d, v)
	case []BFloat16:
		fill(d, v)
	case []float16.Float16:
		fill(d, v)
	case []float32:
		fill(d, v)
	case []float64:
		fill(d, v)
	}
	return h
}

func fill[T Element](d []T, v float64) {
	x := fromFloat64[T](v)
	for i := range d {
		d[i] = x
	}
}

// Ones returns a storage of n ones.
func Ones(dt DType, n int) *HostStorage {
	return Full(dt, n, 1)
}

// DType returns the element type.
func (h *HostStorage) DType() DType {
	return h.dtype
}

// Len returns the number of elements.
func (h *HostStorage) Len() int {
	switch d := h.data.(type) {
	case []uint8:
		return len(d)
	case []uint32:
		return len(d)
	case []int64:
		return len(d)
	case []BFloat16:
		return len(d)
	case []float16.Float16:
		return len(d)
	case []float32:
		return len(d)
	case []float64:
		return len(d)
	default:
		return 0
	}
}

// ByteSize returns Len() * DType().Size().
func (h *HostStorage) ByteSize() int {
	return h.Len() * h.dtype.Size()
}

// Data returns the typed slice as an untyped value. Callers type-switch on it.
func (h *HostStorage) Data() any {
	return h.data
}

// Bytes reinterprets the elements as raw bytes in native byte order.
// The returned slice aliases the storage.
func (h *HostStorage) Bytes() []byte {
	switch d := h.data.(type) {
	case []uint8:
		return d
	case []uint32:
		return asBytes(d)
	case []int64:
		return asBytes(d)
	case []BFloat16:
		return asBytes(d)
	case []float16.Float16:
		return asBytes(d)
	case []float32:
		return asBytes(d)
	case []float64:
		return asBytes(d)
	default:
		return nil
	}
}

// asBytes views a typed slice as bytes without copying.
func asBytes[T Element](d []T) []byte {
	if len(d) == 0 {
		return []byte{}
	}
	var zero T
	//nolint:gosec // unsafe.Slice for zero-copy reinterpretation, length derived from len(d)
	return unsafe.Slice((*byte)(unsafe.Pointer(&d[0])), len(d)*int(unsafe.Sizeof(zero)))
}

// FromBytes reinterprets b as elements of dt. The bytes are copied into a freshly
// allocated slice of the element type, so alignment is always correct.
func FromBytes(dt DType, b []byte) (*HostStorage, error) {
	if !dt.Valid() {
		return nil, fmt.Errorf("%w: unknown dtype %d", ErrDType, int(dt))
	}
	if len(b)%dt.Size() != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %s width %d", ErrLayout, len(b), dt, dt.Size())
	}
	h, err := NewHostStorage(dt, len(b)/dt.Size())
	if err != nil {
		return nil, err
	}
	copy(h.Bytes(), b)
	return h, nil
}

// Clone returns a deep copy.
func (h *HostStorage) Clone() *HostStorage {
	c := Zeros(h.dtype, h.Len())
	copy(c.Bytes(), h.Bytes())
	return c
}

// Equal reports whether both storages have the same dtype and identical bytes.
func (h *HostStorage) Equal(other *HostStorage) bool {
	if other == nil || h.dtype != other.dtype || h.Len() != other.Len() {
		return false
	}
	return bytes.Equal(h.Bytes(), other.Bytes())
}

// Float64s converts every element to float64. Intended for tests and diagnostics.
func (h *HostStorage) Float64s() []float64 {
	switch d := h.data.(type) {
	case []uint8:
		return toF64Slice(d)
	case []uint32:
		return toF64Slice(d)
	case []int64:
		return toF64Slice(d)
	case []BFloat16:
		return toF64Slice(d)
	case []float16.Float16:
		return toF64Slice(d)
	case []float32:
		return toF64Slice(d)
	case []float64:
		return toF64Slice(d)
	default:
		return nil
	}
}

func toF64Slice[T Element](d []T) []float64 {
	out := make([]float64, len(d))
	for i, v := range d {
		out[i] = toFloat64(v)
	}
	return out
}

// FromFloat64s builds a storage of dtype dt from float64 values.
func FromFloat64s(dt DType, vals []float64) *HostStorage {
	h := Zeros(dt, len(vals))
	switch d := h.data.(type) {
	case []uint8:
		fromF64Slice(d, vals)
	case []uint32:
		fromF64Slice(d, vals)
	case []int64:
		fromF64Slice(d, vals)
	case []BFloat16:
		fromF64Slice(d, vals)
	case []float16.Float16:
		fromF64Slice(d, vals)
	case []float32:
		fromF64Slice(d, vals)
	case []float64:
		fromF64Slice(d, vals)
	}
	return h
}

func fromF64Slice[T Element](dst []T, vals []float64) {
	for i, v := range vals {
		dst[i] = fromFloat64[T](v)
	}
}

// String implements fmt.Stringer.
func (h *HostStorage) String() string {
	return fmt.Sprintf("HostStorage(%s, len=%d)", h.dtype, h.Len())
}
