// Package tensor provides the storage, layout and backend contract types shared by all compute backends.
package tensor

import (
	"fmt"
	"strings"

	"github.com/x448/float16"
)

// Element is a constraint for the Go element types that back a HostStorage.
// Each type maps to exactly one DType.
type Element interface {
	uint8 | uint32 | int64 | BFloat16 | float16.Float16 | float32 | float64
}

// DType represents the runtime element type of a storage.
type DType int

// Supported element types.
const (
	U8 DType = iota
	U32
	I64
	BF16
	F16
	F32
	F64
)

// AllDTypes lists every supported dtype in declaration order.
var AllDTypes = []DType{U8, U32, I64, BF16, F16, F32, F64}

// Size returns the byte size of one element.
func (dt DType) Size() int {
	switch dt {
	case U8:
		return 1
	case BF16, F16:
		return 2
	case U32, F32:
		return 4
	case I64, F64:
		return 8
	default:
		panic(fmt.Sprintf("unknown dtype %d", int(dt)))
	}
}

// String returns the lower-case dtype name.
func (dt DType) String() string {
	switch dt {
	case U8:
		return "u8"
	case U32:
		return "u32"
	case I64:
		return "i64"
	case BF16:
		return "bf16"
	case F16:
		return "f16"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "unknown"
	}
}

// IsFloat reports whether the dtype is a floating point type.
func (dt DType) IsFloat() bool {
	switch dt {
	case BF16, F16, F32, F64:
		return true
	default:
		return false
	}
}

// IsInt reports whether the dtype is an integer type.
func (dt DType) IsInt() bool {
	return dt == U8 || dt == U32 || dt == I64
}

// Valid reports whether dt is one of the supported dtypes.
func (dt DType) Valid() bool {
	return dt >= U8 && dt <= F64
}

// ParseDType parses a dtype name as returned by String.
// Upper-case names (as used by safetensors headers) are accepted too.
func ParseDType(s string) (DType, error) {
	for _, dt := range AllDTypes {
		if strings.EqualFold(dt.String(), s) {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown dtype %q", ErrDType, s)
}

// dtypeOf infers the DType for a generic element type.
func dtypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return U8
	case uint32:
		return U32
	case int64:
		return I64
	case BFloat16:
		return BF16
	case float16.Float16:
		return F16
	case float32:
		return F32
	case float64:
		return F64
	default:
		panic("unsupported element type")
	}
}

// DTypeOf returns the DType that corresponds to the element type T.
func DTypeOf[T Element]() DType {
	return dtypeOf[T]()
}
