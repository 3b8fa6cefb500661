package cpu

import (
	"math"
	"testing"

	"github.com/born-ml/compute/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffineAndElu(t *testing.T) {
	d := NewDefault()
	s := fromSlice(t, d, []float32{-1, 0, 2})

	out, err := s.Affine(contiguous(3), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 1, 5}, values(t, out))

	out, err = s.Elu(contiguous(3), 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{math.Exp(-1) - 1, 0, 2}, values(t, out), 1e-6)

	ints := fromSlice(t, d, []uint8{1, 2, 250})
	out, err = ints.Affine(contiguous(3), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 255}, values(t, out))

	_, err = ints.Elu(contiguous(3), 1)
	assert.ErrorIs(t, err, tensor.ErrDType)
}

func TestAffine_I64Exact(t *testing.T) {
	d := NewDefault()
	l := contiguous(2)
	s := fromSlice(t, d, []int64{1<<60 + 1, -7})

	out, err := s.Affine(l, 3, 1)
	require.NoError(t, err)
	h, _ := out.ToHost()
	assert.Equal(t, []int64{3<<60 + 4, -20}, tensor.MustSlice[int64](h))

	// A fractional factor falls back to float64 and truncates.
	out, err = fromSlice(t, d, []int64{5, -5}).Affine(l, 0.5, 0)
	require.NoError(t, err)
	h, _ = out.ToHost()
	assert.Equal(t, []int64{2, -2}, tensor.MustSlice[int64](h))
}

func TestUnary_Float(t *testing.T) {
	d := NewDefault()
	xs := []float64{-1, 0.5, 2}
	s := fromSlice(t, d, []float64{-1, 0.5, 2})

	tests := []struct {
		op   tensor.UnaryOp
		want func(float64) float64
	}{
		{tensor.Exp, math.Exp},
		{tensor.Sin, math.Sin},
		{tensor.Cos, math.Cos},
		{tensor.Tanh, math.Tanh},
		{tensor.Abs, math.Abs},
		{tensor.Neg, func(x float64) float64 { return -x }},
		{tensor.Recip, func(x float64) float64 { return 1 / x }},
		{tensor.Sqr, func(x float64) float64 { return x * x }},
		{tensor.Relu, func(x float64) float64 { return math.Max(0, x) }},
		{tensor.Silu, func(x float64) float64 { return x / (1 + math.Exp(-x)) }},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			out, err := s.Unary(tt.op, contiguous(3))
			require.NoError(t, err)
			got := values(t, out)
			for i, x := range xs {
				assert.InDelta(t, tt.want(x), got[i], 1e-12)
			}
		})
	}

	out, err := s.Unary(tensor.Gelu, contiguous(3))
	require.NoError(t, err)
	assert.InDelta(t, 1.9546, values(t, out)[2], 1e-3)

	out, err = fromSlice(t, d, []float32{4, -1}).Unary(tensor.Sqrt, contiguous(2))
	require.NoError(t, err)
	got := values(t, out)
	assert.Equal(t, 2.0, got[0])
	assert.True(t, math.IsNaN(got[1]))
}

func TestUnary_Int(t *testing.T) {
	d := NewDefault()
	s := fromSlice(t, d, []int64{-3, 4})

	for op, want := range map[tensor.UnaryOp][]float64{
		tensor.Abs:  {3, 4},
		tensor.Neg:  {3, -4},
		tensor.Sqr:  {9, 16},
		tensor.Relu: {0, 4},
	} {
		out, err := s.Unary(op, contiguous(2))
		require.NoError(t, err, op.String())
		assert.Equal(t, want, values(t, out), op.String())
	}

	_, err := s.Unary(tensor.Exp, contiguous(2))
	assert.ErrorIs(t, err, tensor.ErrDType)
}

func TestUnary_StridedInput(t *testing.T) {
	d := NewDefault()
	s := fromSlice(t, d, []float32{1, 2, 3, 4, 5, 6})
	l, err := contiguous(2, 3).Narrow(1, 1, 2)
	require.NoError(t, err)

	out, err := s.Unary(tensor.Neg, l)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, -3, -5, -6}, values(t, out))
}

func TestBinary(t *testing.T) {
	d := NewDefault()
	a := fromSlice(t, d, []float32{1, 2, 3, 4, 5, 6})

	// Transposed rhs: b[i][j] = src[j][i].
	b := fromSlice(t, d, []float32{10, 20, 30, 40, 50, 60})
	bl, err := contiguous(3, 2).Transpose(0, 1)
	require.NoError(t, err)
	out, err := a.Binary(tensor.Add, b, contiguous(2, 3), bl)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 32, 53, 24, 45, 66}, values(t, out))

	// Broadcast row via zero stride.
	row := fromSlice(t, d, []float32{1, 2, 3})
	rl, err := contiguous(1, 3).BroadcastAs(tensor.Shape{2, 3})
	require.NoError(t, err)
	out, err = a.Binary(tensor.Mul, row, contiguous(2, 3), rl)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4, 9, 4, 10, 18}, values(t, out))

	out, err = a.Binary(tensor.Maximum, fromSlice(t, d, []float32{3, 3, 3, 3, 3, 3}), contiguous(6), contiguous(6))
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3, 3, 4, 5, 6}, values(t, out))
}

func TestBinary_Integers(t *testing.T) {
	d := NewDefault()
	l := contiguous(1)

	// I64 stays exact beyond 2^53.
	big := fromSlice(t, d, []int64{1<<60 + 1})
	out, err := big.Binary(tensor.Add, fromSlice(t, d, []int64{1}), l, l)
	require.NoError(t, err)
	h, _ := out.ToHost()
	assert.Equal(t, []int64{1<<60 + 2}, tensor.MustSlice[int64](h))

	// Unsigned arithmetic wraps.
	out, err = fromSlice(t, d, []uint8{250}).Binary(tensor.Add, fromSlice(t, d, []uint8{10}), l, l)
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, values(t, out))
	out, err = fromSlice(t, d, []uint8{2}).Binary(tensor.Sub, fromSlice(t, d, []uint8{5}), l, l)
	require.NoError(t, err)
	assert.Equal(t, []float64{253}, values(t, out))

	l3 := contiguous(3)
	a := fromSlice(t, d, []uint32{1, 4_000_000_000, 70_000})
	b := fromSlice(t, d, []uint32{2, 4_000_000_000, 70_000})
	sub, err := a.Binary(tensor.Sub, b, l3, l3)
	require.NoError(t, err)
	h, _ = sub.ToHost()
	assert.Equal(t, []uint32{math.MaxUint32, 0, 0}, tensor.MustSlice[uint32](h))
	add, err := a.Binary(tensor.Add, b, l3, l3)
	require.NoError(t, err)
	h, _ = add.ToHost()
	assert.Equal(t, []uint32{3, 3_705_032_704, 140_000}, tensor.MustSlice[uint32](h))
	mul, err := a.Binary(tensor.Mul, b, l3, l3)
	require.NoError(t, err)
	h, _ = mul.ToHost()
	assert.Equal(t, []uint32{2, 4_000_000_000 * 4_000_000_000 % (1 << 32), 70_000 * 70_000 % (1 << 32)},
		tensor.MustSlice[uint32](h))

	// Conversions still saturate.
	cast, err := fromSlice(t, d, []int64{-3, 300}).ToDType(contiguous(2), tensor.U8)
	require.NoError(t, err)
	h, _ = cast.ToHost()
	assert.Equal(t, []uint8{0, 255}, tensor.MustSlice[uint8](h))

	// Division by zero yields the dividend.
	out, err = fromSlice(t, d, []uint32{7, 9}).Binary(tensor.Div, fromSlice(t, d, []uint32{2, 0}), contiguous(2), contiguous(2))
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 9}, values(t, out))
}

func TestBinary_Errors(t *testing.T) {
	d := NewDefault()
	a := fromSlice(t, d, []float32{1, 2, 3, 4})

	_, err := a.Binary(tensor.Add, fromSlice(t, d, []float64{1, 2, 3, 4}), contiguous(4), contiguous(4))
	assert.ErrorIs(t, err, tensor.ErrDType)

	_, err = a.Binary(tensor.Add, a, contiguous(4), contiguous(2, 2))
	assert.ErrorIs(t, err, tensor.ErrLayout)

	_, err = a.Binary(tensor.Add, foreign{a}, contiguous(4), contiguous(4))
	assert.ErrorIs(t, err, tensor.ErrDeviceMismatch)

	_, err = a.Binary(tensor.Add, a, contiguous(5), contiguous(5))
	assert.ErrorIs(t, err, tensor.ErrLayout)
}

func TestCmp(t *testing.T) {
	d := NewDefault()
	a := fromSlice(t, d, []float32{1, 2, 3})
	b := fromSlice(t, d, []float32{2, 2, 2})
	l := contiguous(3)

	tests := map[tensor.CmpOp][]float64{
		tensor.Eq: {0, 1, 0},
		tensor.Ne: {1, 0, 1},
		tensor.Lt: {1, 0, 0},
		tensor.Le: {1, 1, 0},
		tensor.Gt: {0, 0, 1},
		tensor.Ge: {0, 1, 1},
	}
	for op, want := range tests {
		out, err := a.Cmp(op, b, l, l)
		require.NoError(t, err)
		assert.Equal(t, tensor.U8, out.DType())
		assert.Equal(t, want, values(t, out), op.String())
	}

	out, err := fromSlice(t, d, []int64{-5, 1 << 62}).Cmp(tensor.Lt, fromSlice(t, d, []int64{-4, 1<<62 + 1}), contiguous(2), contiguous(2))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, values(t, out))
}

func TestToDType(t *testing.T) {
	d := NewDefault()

	out, err := fromSlice(t, d, []float32{1.7, -2.5, 300}).ToDType(contiguous(3), tensor.U8)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 255}, values(t, out))

	out, err = fromSlice(t, d, []int64{-1, 70000}).ToDType(contiguous(2), tensor.U32)
	require.NoError(t, err)
	assert.Equal(t, tensor.U32, out.DType())
	assert.Equal(t, []float64{0, 70000}, values(t, out))

	out, err = fromSlice(t, d, []uint8{3}).ToDType(contiguous(1), tensor.BF16)
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, values(t, out))

	src := fromSlice(t, d, []float64{1, 2})
	same, err := src.ToDType(contiguous(2), tensor.F64)
	require.NoError(t, err)
	assert.NotSame(t, src.Host(), same.(*Storage).Host())
}

func TestWhereCond(t *testing.T) {
	d := NewDefault()
	cond := fromSlice(t, d, []uint8{1, 0, 1, 0})
	onTrue := fromSlice(t, d, []float32{1, 2, 3, 4})
	onFalse := fromSlice(t, d, []float32{10, 20, 30, 40})
	l := contiguous(4)

	out, err := cond.WhereCond(l, onTrue, l, onFalse, l)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 20, 3, 40}, values(t, out))

	_, err = cond.WhereCond(l, onTrue, l, fromSlice(t, d, []float64{1, 2, 3, 4}), l)
	assert.ErrorIs(t, err, tensor.ErrDType)
	_, err = cond.WhereCond(contiguous(2, 2), onTrue, l, onFalse, l)
	assert.ErrorIs(t, err, tensor.ErrLayout)
}

func TestReduce(t *testing.T) {
	d := NewDefault()
	x := fromSlice(t, d, []float32{1, 5, 2, 7, 0, 3})
	l := contiguous(2, 3)

	tests := []struct {
		name string
		op   tensor.ReduceOp
		dims []int
		want []float64
	}{
		{"sum last", tensor.ReduceSum, []int{1}, []float64{8, 10}},
		{"sum first", tensor.ReduceSum, []int{0}, []float64{8, 5, 5}},
		{"sum all", tensor.ReduceSum, []int{0, 1}, []float64{18}},
		{"max", tensor.ReduceMax, []int{1}, []float64{5, 7}},
		{"min", tensor.ReduceMin, []int{0}, []float64{1, 0, 2}},
		{"argmax", tensor.ReduceArgMax, []int{1}, []float64{1, 0}},
		{"argmin", tensor.ReduceArgMin, []int{0}, []float64{0, 1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := x.Reduce(tt.op, l, tt.dims)
			require.NoError(t, err)
			assert.Equal(t, tt.want, values(t, out))
		})
	}

	arg, err := x.Reduce(tensor.ReduceArgMax, l, []int{1})
	require.NoError(t, err)
	assert.Equal(t, tensor.U32, arg.DType())

	// Transposed view [[1, 7], [5, 0], [2, 3]].
	tl, err := l.Transpose(0, 1)
	require.NoError(t, err)
	out, err := x.Reduce(tensor.ReduceSum, tl, []int{1})
	require.NoError(t, err)
	assert.Equal(t, []float64{8, 5, 5}, values(t, out))
}

func TestReduce_Integers(t *testing.T) {
	d := NewDefault()

	out, err := fromSlice(t, d, []uint8{200, 100}).Reduce(tensor.ReduceSum, contiguous(2), []int{0})
	require.NoError(t, err)
	assert.Equal(t, []float64{255}, values(t, out))

	out, err = fromSlice(t, d, []int64{1 << 60, 1}).Reduce(tensor.ReduceSum, contiguous(2), []int{0})
	require.NoError(t, err)
	h, _ := out.ToHost()
	assert.Equal(t, []int64{1<<60 + 1}, tensor.MustSlice[int64](h))
}

func TestReduce_Errors(t *testing.T) {
	d := NewDefault()
	x := fromSlice(t, d, []float32{1, 2, 3, 4})
	l := contiguous(2, 2)

	_, err := x.Reduce(tensor.ReduceArgMax, l, []int{0, 1})
	assert.ErrorIs(t, err, tensor.ErrLayout)
	_, err = x.Reduce(tensor.ReduceSum, l, []int{2})
	assert.ErrorIs(t, err, tensor.ErrLayout)
	_, err = x.Reduce(tensor.ReduceSum, l, []int{1, 1})
	assert.ErrorIs(t, err, tensor.ErrLayout)
	_, err = x.Reduce(tensor.ReduceSum, l, nil)
	assert.ErrorIs(t, err, tensor.ErrLayout)
}

func TestIndexSelect(t *testing.T) {
	d := NewDefault()
	x := fromSlice(t, d, []float32{1, 2, 3, 4, 5, 6})
	l := contiguous(3, 2)

	out, err := x.IndexSelect(fromSlice(t, d, []uint32{2, 0}), l, contiguous(2), 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 1, 2}, values(t, out))

	out, err = x.IndexSelect(fromSlice(t, d, []int64{1}), l, contiguous(1), 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6}, values(t, out))

	_, err = x.IndexSelect(fromSlice(t, d, []uint32{3}), l, contiguous(1), 0)
	assert.ErrorIs(t, err, tensor.ErrLayout)
	_, err = x.IndexSelect(fromSlice(t, d, []float32{0}), l, contiguous(1), 0)
	assert.ErrorIs(t, err, tensor.ErrDType)
	_, err = x.IndexSelect(fromSlice(t, d, []uint32{0}), l, contiguous(1), 2)
	assert.ErrorIs(t, err, tensor.ErrLayout)
}

func TestGather(t *testing.T) {
	d := NewDefault()
	x := fromSlice(t, d, []float32{1, 2, 3, 4, 5, 6})
	ids := fromSlice(t, d, []int64{2, 0, 1, 1})

	out, err := x.Gather(contiguous(2, 3), ids, contiguous(2, 2), 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1, 5, 5}, values(t, out))

	_, err = x.Gather(contiguous(2, 3), ids, contiguous(4, 1), 1)
	assert.ErrorIs(t, err, tensor.ErrLayout)
}

func TestScatterAdd(t *testing.T) {
	d := NewDefault()
	x := fromSlice(t, d, make([]float32, 6))
	ids := fromSlice(t, d, []uint8{0, 2, 1, 1})
	src := fromSlice(t, d, []float32{1, 2, 3, 4})

	out, err := x.ScatterAdd(contiguous(2, 3), ids, contiguous(2, 2), src, contiguous(2, 2), 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 2, 0, 7, 0}, values(t, out))
	assert.Equal(t, make([]float64, 6), values(t, x))
}

func TestIndexAdd(t *testing.T) {
	d := NewDefault()
	x := fromSlice(t, d, []int64{1, 1, 1, 1, 1, 1})
	ids := fromSlice(t, d, []uint8{2, 0})
	src := fromSlice(t, d, []int64{1, 2, 3, 4})

	out, err := x.IndexAdd(contiguous(3, 2), ids, contiguous(2), src, contiguous(2, 2), 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 1, 1, 2, 3}, values(t, out))

	_, err = x.IndexAdd(contiguous(3, 2), ids, contiguous(2), fromSlice(t, d, []float32{1, 2, 3, 4}), contiguous(2, 2), 0)
	assert.ErrorIs(t, err, tensor.ErrDType)
	_, err = x.IndexAdd(contiguous(3, 2), ids, contiguous(1), src, contiguous(2, 2), 0)
	assert.ErrorIs(t, err, tensor.ErrLayout)
}

func TestMatMul(t *testing.T) {
	d := NewDefault()

	a := fromSlice(t, d, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	b := fromSlice(t, d, []float32{1, 0, 0, 1, 2, 0, 0, 2})
	dims := tensor.MatMulDims{B: 2, M: 2, N: 2, K: 2}
	out, err := a.MatMul(b, dims, contiguous(2, 2, 2), contiguous(2, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 10, 12, 14, 16}, values(t, out))

	// Transposed rhs [[1, 3], [2, 4]].
	id := fromSlice(t, d, []uint32{1, 0, 0, 1})
	rhs := fromSlice(t, d, []uint32{1, 2, 3, 4})
	tl, err := contiguous(2, 2).Transpose(0, 1)
	require.NoError(t, err)
	out, err = id.MatMul(rhs, tensor.MatMulDims{B: 1, M: 2, N: 2, K: 2}, contiguous(2, 2), tl)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 2, 4}, values(t, out))

	// [1, 3] x [3, 1]
	out, err = fromSlice(t, d, []float64{1, 2, 3}).MatMul(fromSlice(t, d, []float64{4, 5, 6}),
		tensor.MatMulDims{B: 1, M: 1, N: 1, K: 3}, contiguous(1, 3), contiguous(3, 1))
	require.NoError(t, err)
	assert.Equal(t, []float64{32}, values(t, out))

	_, err = a.MatMul(b, tensor.MatMulDims{B: 1, M: 2, N: 2, K: 3}, contiguous(8), contiguous(8))
	assert.ErrorIs(t, err, tensor.ErrLayout)
}

func TestConv2D(t *testing.T) {
	d := NewDefault()
	x := fromSlice(t, d, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9})
	in := contiguous(1, 1, 3, 3)

	p := tensor.Conv2DParams{Batch: 1, IH: 3, IW: 3, KH: 2, KW: 2, COut: 1, CIn: 1, Stride: 1, Dilation: 1}
	out, err := x.Conv2D(in, fromSlice(t, d, []float32{1, 1, 1, 1}), contiguous(1, 1, 2, 2), p)
	require.NoError(t, err)
	assert.Equal(t, []float64{12, 16, 24, 28}, values(t, out))

	p.KH, p.KW, p.Padding = 3, 3, 1
	ones := fromSlice(t, d, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1})
	out, err = x.Conv2D(in, ones, contiguous(1, 1, 3, 3), p)
	require.NoError(t, err)
	got := values(t, out)
	require.Len(t, got, 9)
	assert.Equal(t, 12.0, got[0])
	assert.Equal(t, 45.0, got[4])

	p.KH, p.KW, p.Padding, p.Dilation = 2, 2, 0, 2
	out, err = x.Conv2D(in, fromSlice(t, d, []float32{1, 1, 1, 1}), contiguous(1, 1, 2, 2), p)
	require.NoError(t, err)
	assert.Equal(t, []float64{20}, values(t, out))

	p.Stride = 0
	_, err = x.Conv2D(in, ones, contiguous(1, 1, 3, 3), p)
	assert.ErrorIs(t, err, tensor.ErrLayout)
}

func TestConv1D(t *testing.T) {
	d := NewDefault()
	x := fromSlice(t, d, []float64{1, 2, 3, 4, 5})
	k := fromSlice(t, d, []float64{1, 0, -1})

	p := tensor.Conv1DParams{Batch: 1, LIn: 5, COut: 1, CIn: 1, KSize: 3, Stride: 1, Dilation: 1}
	out, err := x.Conv1D(contiguous(1, 1, 5), k, contiguous(1, 1, 3), p)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, -2, -2}, values(t, out))

	p.Stride, p.Padding = 2, 1
	out, err = x.Conv1D(contiguous(1, 1, 5), k, contiguous(1, 1, 3), p)
	require.NoError(t, err)
	assert.Equal(t, []float64{-2, -2, 4}, values(t, out))

	// Two input and two output channels.
	x2 := fromSlice(t, d, []int64{1, 2, 3, 4})
	k2 := fromSlice(t, d, []int64{1, 1, 1, -1})
	p2 := tensor.Conv1DParams{Batch: 1, LIn: 2, COut: 2, CIn: 2, KSize: 1, Stride: 1, Dilation: 1}
	out, err = x2.Conv1D(contiguous(1, 2, 2), k2, contiguous(2, 2, 1), p2)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 6, -2, -2}, values(t, out))
}

func TestPooling(t *testing.T) {
	d := NewDefault()
	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i + 1)
	}
	x := fromSlice(t, d, data)
	l := contiguous(1, 1, 4, 4)

	out, err := x.MaxPool2D(l, [2]int{2, 2}, [2]int{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 8, 14, 16}, values(t, out))

	out, err = x.AvgPool2D(l, [2]int{2, 2}, [2]int{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{3.5, 5.5, 11.5, 13.5}, values(t, out))

	ints := fromSlice(t, d, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	out, err = ints.AvgPool2D(l, [2]int{2, 2}, [2]int{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 5, 11, 13}, values(t, out))

	out, err = x.MaxPool2D(l, [2]int{3, 3}, [2]int{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 12, 15, 16}, values(t, out))

	_, err = x.MaxPool2D(contiguous(4, 4), [2]int{2, 2}, [2]int{2, 2})
	assert.ErrorIs(t, err, tensor.ErrLayout)
	_, err = x.AvgPool2D(l, [2]int{5, 5}, [2]int{1, 1})
	assert.ErrorIs(t, err, tensor.ErrLayout)
}

func TestUpsampleNearest2D(t *testing.T) {
	d := NewDefault()
	x := fromSlice(t, d, []uint8{1, 2, 3, 4})
	l := contiguous(1, 1, 2, 2)

	out, err := x.UpsampleNearest2D(l, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, values(t, out))

	out, err = x.UpsampleNearest2D(l, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 2, 1, 1, 2, 3, 3, 4}, values(t, out))

	_, err = x.UpsampleNearest2D(l, 0, 2)
	assert.ErrorIs(t, err, tensor.ErrLayout)
}
