package tensor

import (
	"fmt"
	"math/rand/v2"
)

// RandUniform returns n samples drawn uniformly from [lo, hi).
// Only floating-point dtypes are supported.
func RandUniform(dt DType, n int, lo, hi float64) (*HostStorage, error) {
	if !dt.IsFloat() {
		return nil, fmt.Errorf("%w: rand_uniform requires a float dtype, got %s", ErrDType, dt)
	}
	if hi < lo {
		return nil, fmt.Errorf("rand_uniform: upper bound %v below lower bound %v", hi, lo)
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = lo + rand.Float64()*(hi-lo) //nolint:gosec // G404: not security sensitive
	}
	return FromFloat64s(dt, vals), nil
}

// RandNormal returns n samples from a normal distribution.
// Only floating-point dtypes are supported.
func RandNormal(dt DType, n int, mean, std float64) (*HostStorage, error) {
	if !dt.IsFloat() {
		return nil, fmt.Errorf("%w: rand_normal requires a float dtype, got %s", ErrDType, dt)
	}
	if std < 0 {
		return nil, fmt.Errorf("rand_normal: negative standard deviation %v", std)
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = mean + rand.NormFloat64()*std //nolint:gosec // G404: not security sensitive
	}
	return FromFloat64s(dt, vals), nil
}
