package cpu

import (
	"math"

	"github.com/born-ml/compute/internal/parallel"
	"github.com/born-ml/compute/internal/tensor"
)

// mapValues applies f to every element of x.
func mapValues[T, R any](x []T, f func(T) R, p parallel.Config) []R {
	out := make([]R, len(x))
	parallel.Range(len(x), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = f(x[i])
		}
	}, p)
	return out
}

// zipValues applies f pairwise to a and b, which have equal length.
func zipValues[T, R any](a, b []T, f func(T, T) R, p parallel.Config) []R {
	out := make([]R, len(a))
	parallel.Range(len(a), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = f(a[i], b[i])
		}
	}, p)
	return out
}

// Affine implements tensor.Storage: x*mul + add. I64 with integral mul and
// add is computed exactly in int64 and wraps on overflow; every other case
// is computed in float64 and converted back.
func (s *Storage) Affine(l tensor.Layout, mul, add float64) (tensor.Storage, error) {
	x, err := s.contiguous(tensor.OpAffine, l)
	if err != nil {
		return nil, err
	}
	if x.DType() == tensor.I64 {
		m, mok := exactInt(mul)
		a, aok := exactInt(add)
		if mok && aok {
			out := mapValues(tensor.MustSlice[int64](x), func(v int64) int64 { return v*m + a }, s.dev.par)
			return s.dev.wrap(tensor.Wrap(out)), nil
		}
	}
	out := mapValues(floats(x), func(v float64) float64 { return v*mul + add }, s.dev.par)
	return s.dev.wrap(fromFloats(x.DType(), out)), nil
}

// exactInt reports whether f is an integer representable as int64.
func exactInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < -(1<<63) || f >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}

// Elu implements tensor.Storage. Float dtypes only.
func (s *Storage) Elu(l tensor.Layout, alpha float64) (tensor.Storage, error) {
	if !s.DType().IsFloat() {
		return nil, tensor.DTypeErrorf(backendName, tensor.OpElu, "elu requires a float dtype, got %s", s.DType())
	}
	x, err := s.contiguous(tensor.OpElu, l)
	if err != nil {
		return nil, err
	}
	out := mapValues(floats(x), func(v float64) float64 {
		if v >= 0 {
			return v
		}
		return alpha * (math.Exp(v) - 1)
	}, s.dev.par)
	return s.dev.wrap(fromFloats(x.DType(), out)), nil
}

// sqrt(2/pi), used by the tanh approximation of GELU.
const geluCoeff = 0.7978845608028654

func unaryFloat(op tensor.UnaryOp) func(float64) float64 {
	switch op {
	case tensor.Exp:
		return math.Exp
	case tensor.Log:
		return math.Log
	case tensor.Sin:
		return math.Sin
	case tensor.Cos:
		return math.Cos
	case tensor.Tanh:
		return math.Tanh
	case tensor.Abs:
		return math.Abs
	case tensor.Neg:
		return func(x float64) float64 { return -x }
	case tensor.Recip:
		return func(x float64) float64 { return 1 / x }
	case tensor.Sqr:
		return func(x float64) float64 { return x * x }
	case tensor.Sqrt:
		return math.Sqrt
	case tensor.Relu:
		return func(x float64) float64 { return math.Max(x, 0) }
	case tensor.Gelu:
		return func(x float64) float64 {
			return 0.5 * x * (1 + math.Tanh(geluCoeff*(x+0.044715*x*x*x)))
		}
	case tensor.Silu:
		return func(x float64) float64 { return x / (1 + math.Exp(-x)) }
	}
	return nil
}

// unaryInt covers the unary ops that are exact on integers.
func unaryInt(op tensor.UnaryOp) func(int64) int64 {
	switch op {
	case tensor.Abs:
		return func(x int64) int64 {
			if x < 0 {
				return -x
			}
			return x
		}
	case tensor.Neg:
		return func(x int64) int64 { return -x }
	case tensor.Sqr:
		return func(x int64) int64 { return x * x }
	case tensor.Relu:
		return func(x int64) int64 { return max(x, 0) }
	}
	return nil
}

// Unary implements tensor.Storage. Integer dtypes support abs, neg, sqr and relu.
func (s *Storage) Unary(op tensor.UnaryOp, l tensor.Layout) (tensor.Storage, error) {
	name := tensor.SubOp(tensor.OpUnary, op)
	dt := s.DType()
	if dt.IsFloat() {
		f := unaryFloat(op)
		if f == nil {
			return nil, tensor.LayoutErrorf(backendName, name, "unknown unary op %d", int(op))
		}
		x, err := s.contiguous(name, l)
		if err != nil {
			return nil, err
		}
		return s.dev.wrap(fromFloats(dt, mapValues(floats(x), f, s.dev.par))), nil
	}

	f := unaryInt(op)
	if f == nil {
		return nil, tensor.DTypeErrorf(backendName, name, "%s is not defined for %s", op, dt)
	}
	x, err := s.contiguous(name, l)
	if err != nil {
		return nil, err
	}
	return s.dev.wrap(fromInts(dt, mapValues(ints(x), f, s.dev.par))), nil
}

// binaryFunc returns the kernel for op. Integer division by zero yields the
// dividend and unsigned results wrap, matching the GPU kernels.
func binaryFunc[T number](op tensor.BinaryOp) func(T, T) T {
	switch op {
	case tensor.Add:
		return func(a, b T) T { return a + b }
	case tensor.Sub:
		return func(a, b T) T { return a - b }
	case tensor.Mul:
		return func(a, b T) T { return a * b }
	case tensor.Div:
		if isInt[T]() {
			return func(a, b T) T {
				if b == 0 {
					return a
				}
				return a / b
			}
		}
		return func(a, b T) T { return a / b }
	case tensor.Maximum:
		return func(a, b T) T { return max(a, b) }
	case tensor.Minimum:
		return func(a, b T) T { return min(a, b) }
	}
	return nil
}

// checkPair validates the second operand of an element-wise op.
func (s *Storage) checkPair(op string, rhs tensor.Storage, l, rl tensor.Layout) (*tensor.HostStorage, *tensor.HostStorage, error) {
	r, err := s.peer(op, rhs)
	if err != nil {
		return nil, nil, err
	}
	if r.DType() != s.DType() {
		return nil, nil, tensor.DTypeErrorf(backendName, op, "lhs is %s, rhs is %s", s.DType(), r.DType())
	}
	if !l.Shape().Equal(rl.Shape()) {
		return nil, nil, tensor.LayoutErrorf(backendName, op, "shape mismatch: %v vs %v", l.Shape(), rl.Shape())
	}
	a, err := s.contiguous(op, l)
	if err != nil {
		return nil, nil, err
	}
	b, err := r.contiguous(op, rl)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// Binary implements tensor.Storage. Both layouts must have the same shape;
// broadcasting is expressed through zero strides. U8 and U32 results wrap
// modulo 2^8 and 2^32.
func (s *Storage) Binary(op tensor.BinaryOp, rhs tensor.Storage, l, rl tensor.Layout) (tensor.Storage, error) {
	name := tensor.SubOp(tensor.OpBinary, op)
	if binaryFunc[float64](op) == nil {
		return nil, tensor.LayoutErrorf(backendName, name, "unknown binary op %d", int(op))
	}
	a, b, err := s.checkPair(name, rhs, l, rl)
	if err != nil {
		return nil, err
	}
	dt := s.DType()
	if dt.IsFloat() {
		return s.dev.wrap(fromFloats(dt, zipValues(floats(a), floats(b), binaryFunc[float64](op), s.dev.par))), nil
	}
	return s.dev.wrap(wrapInts(dt, zipValues(ints(a), ints(b), binaryFunc[int64](op), s.dev.par))), nil
}

func cmpFunc[T number](op tensor.CmpOp) func(T, T) uint8 {
	var pred func(a, b T) bool
	switch op {
	case tensor.Eq:
		pred = func(a, b T) bool { return a == b }
	case tensor.Ne:
		pred = func(a, b T) bool { return a != b }
	case tensor.Lt:
		pred = func(a, b T) bool { return a < b }
	case tensor.Le:
		pred = func(a, b T) bool { return a <= b }
	case tensor.Gt:
		pred = func(a, b T) bool { return a > b }
	case tensor.Ge:
		pred = func(a, b T) bool { return a >= b }
	default:
		return nil
	}
	return func(a, b T) uint8 {
		if pred(a, b) {
			return 1
		}
		return 0
	}
}

// Cmp implements tensor.Storage. The result is U8 holding 0 or 1.
func (s *Storage) Cmp(op tensor.CmpOp, rhs tensor.Storage, l, rl tensor.Layout) (tensor.Storage, error) {
	name := tensor.SubOp(tensor.OpCmp, op)
	if cmpFunc[float64](op) == nil {
		return nil, tensor.LayoutErrorf(backendName, name, "unknown comparison %d", int(op))
	}
	a, b, err := s.checkPair(name, rhs, l, rl)
	if err != nil {
		return nil, err
	}
	var out []uint8
	if s.DType().IsFloat() {
		out = zipValues(floats(a), floats(b), cmpFunc[float64](op), s.dev.par)
	} else {
		out = zipValues(ints(a), ints(b), cmpFunc[int64](op), s.dev.par)
	}
	return s.dev.wrap(tensor.Wrap(out)), nil
}

// ToDType implements tensor.Storage. Float to integer conversion truncates
// toward zero and saturates; integer to integer conversion saturates.
func (s *Storage) ToDType(l tensor.Layout, dt tensor.DType) (tensor.Storage, error) {
	if !dt.Valid() {
		return nil, tensor.DTypeErrorf(backendName, tensor.OpToDType, "unknown dtype %d", int(dt))
	}
	x, err := s.contiguous(tensor.OpToDType, l)
	if err != nil {
		return nil, err
	}
	switch {
	case x.DType() == dt:
		if x == s.host {
			x = x.Clone()
		}
		return s.dev.wrap(x), nil
	case x.DType().IsFloat():
		return s.dev.wrap(fromFloats(dt, floats(x))), nil
	default:
		return s.dev.wrap(fromInts(dt, ints(x))), nil
	}
}

// WhereCond implements tensor.Storage. s is the condition; any non-zero
// element selects from t, zero selects from f.
func (s *Storage) WhereCond(l tensor.Layout, t tensor.Storage, tl tensor.Layout, f tensor.Storage, fl tensor.Layout) (tensor.Storage, error) {
	const op = tensor.OpWhereCond
	if !l.Shape().Equal(tl.Shape()) || !l.Shape().Equal(fl.Shape()) {
		return nil, tensor.LayoutErrorf(backendName, op, "shape mismatch: cond %v, true %v, false %v", l.Shape(), tl.Shape(), fl.Shape())
	}
	if t.DType() != f.DType() {
		return nil, tensor.DTypeErrorf(backendName, op, "branches are %s and %s", t.DType(), f.DType())
	}
	cond, err := s.contiguous(op, l)
	if err != nil {
		return nil, err
	}
	onTrue, err := s.operand(op, t, tl)
	if err != nil {
		return nil, err
	}
	onFalse, err := s.operand(op, f, fl)
	if err != nil {
		return nil, err
	}

	w := t.DType().Size()
	pick := truthy(cond)
	tb, fb := onTrue.Bytes(), onFalse.Bytes()
	out := make([]byte, len(tb))
	parallel.Range(len(pick), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			src := fb
			if pick[i] {
				src = tb
			}
			copy(out[i*w:(i+1)*w], src[i*w:(i+1)*w])
		}
	}, s.dev.par)

	h, err := tensor.FromBytes(t.DType(), out)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return s.dev.wrap(h), nil
}
