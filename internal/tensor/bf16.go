package tensor

import (
	"math"

	"github.com/x448/float16"
)

// BFloat16 is a brain floating point number: the upper 16 bits of an IEEE 754 float32.
type BFloat16 uint16

// BFloat16FromFloat32 converts f to bfloat16 with round-to-nearest-even.
// NaN payloads are preserved as a quiet NaN.
func BFloat16FromFloat32(f float32) BFloat16 {
	bits := math.Float32bits(f)
	if math.IsNaN(float64(f)) {
		return BFloat16((bits >> 16) | 0x0040)
	}
	rounding := uint32(0x7fff) + ((bits >> 16) & 1)
	return BFloat16((bits + rounding) >> 16)
}

// Float32 widens b to float32. The conversion is exact.
func (b BFloat16) Float32() float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// Bits returns the raw bit pattern.
func (b BFloat16) Bits() uint16 {
	return uint16(b)
}

// toFloat64 converts a single element of any supported type to float64.
func toFloat64[T Element](v T) float64 {
	switch x := any(v).(type) {
	case uint8:
		return float64(x)
	case uint32:
		return float64(x)
	case int64:
		return float64(x)
	case BFloat16:
		return float64(x.Float32())
	case float16.Float16:
		return float64(x.Float32())
	case float32:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

// fromFloat64 converts f to the element type T.
// Integer targets truncate toward zero and saturate at the type bounds.
func fromFloat64[T Element](f float64) T {
	var out T
	switch p := any(&out).(type) {
	case *uint8:
		*p = uint8(clampFloat(f, 0, math.MaxUint8))
	case *uint32:
		*p = uint32(clampFloat(f, 0, math.MaxUint32))
	case *int64:
		switch {
		case math.IsNaN(f):
			*p = 0
		case f >= math.MaxInt64:
			*p = math.MaxInt64
		case f <= math.MinInt64:
			*p = math.MinInt64
		default:
			*p = int64(f)
		}
	case *BFloat16:
		*p = BFloat16FromFloat32(float32(f))
	case *float16.Float16:
		*p = float16.Fromfloat32(float32(f))
	case *float32:
		*p = float32(f)
	case *float64:
		*p = f
	}
	return out
}

func clampFloat(f, lo, hi float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(lo, math.Min(hi, math.Trunc(f)))
}

// ToFloat64 converts a single element to float64.
func ToFloat64[T Element](v T) float64 { return toFloat64(v) }

// FromFloat64 converts f to the element type T, saturating for integer types.
func FromFloat64[T Element](f float64) T { return fromFloat64[T](f) }
