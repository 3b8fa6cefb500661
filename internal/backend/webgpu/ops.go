package webgpu

import (
	"github.com/born-ml/compute/internal/gpu"
	"github.com/born-ml/compute/internal/kernels"
	"github.com/born-ml/compute/internal/tensor"
)

// dispatch runs kernel name over n elements with inputs bound first, then
// a fresh output buffer and the uniform parameter block.
func (s *Storage) dispatch(op string, k gpu.Kernel, n int, params []byte, inputs ...*Storage) (*Storage, error) {
	bufs := make([]gpu.Buffer, 0, len(inputs)+2)
	for _, in := range inputs {
		b, err := in.buffer(op)
		if err != nil {
			return nil, err
		}
		bufs = append(bufs, b)
	}

	out, err := s.dev.allocate(uint64(n*s.dtype.Size()), storageUsage) //nolint:gosec // G115: n > 0
	if err != nil {
		return nil, err
	}
	uniform, err := s.dev.upload(params, gpu.UsageUniform|gpu.UsageCopyDst)
	if err != nil {
		s.dev.free(out)
		return nil, err
	}
	defer s.dev.free(uniform)

	bufs = append(bufs, out, uniform)
	err = s.dev.encode(op, func(enc gpu.Encoder) error {
		return enc.Dispatch(k, kernels.Workgroups(n), bufs...)
	})
	if err != nil {
		s.dev.free(out)
		return nil, err
	}
	return s.dev.newStorage(out, s.dtype, n), nil
}

// releaseTemp frees t if it is a temporary copy made by contiguous.
func (s *Storage) releaseTemp(t *Storage) {
	if t != s {
		t.Release()
	}
}

// Unary implements tensor.Storage for ops with a kernel for the dtype.
func (s *Storage) Unary(op tensor.UnaryOp, l tensor.Layout) (tensor.Storage, error) {
	name := tensor.SubOp(tensor.OpUnary, op)
	k, ok, err := s.dev.kernel(op.String(), s.dtype)
	if err != nil {
		return nil, tensor.NewBackendError(backendName, name, tensor.ErrDeviceInit, err)
	}
	if !ok {
		return nil, s.unimplemented(name)
	}
	in, err := s.contiguous(name, l)
	if err != nil {
		return nil, err
	}
	defer s.releaseTemp(in)
	n := l.NumElements()
	return s.dispatch(name, k, n, kernels.Params(n, 0, 0), in)
}

// Affine implements tensor.Storage: x*mul + add.
func (s *Storage) Affine(l tensor.Layout, mul, add float64) (tensor.Storage, error) {
	k, ok, err := s.dev.kernel(tensor.OpAffine, s.dtype)
	if err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpAffine, tensor.ErrDeviceInit, err)
	}
	if !ok {
		return nil, s.unimplemented(tensor.OpAffine)
	}
	in, err := s.contiguous(tensor.OpAffine, l)
	if err != nil {
		return nil, err
	}
	defer s.releaseTemp(in)
	n := l.NumElements()
	return s.dispatch(tensor.OpAffine, k, n, kernels.Params(n, float32(mul), float32(add)), in)
}

// Binary implements tensor.Storage. Both layouts must have the same shape;
// broadcasting is expressed by the caller through zero strides.
func (s *Storage) Binary(op tensor.BinaryOp, rhs tensor.Storage, l, rl tensor.Layout) (tensor.Storage, error) {
	name := tensor.SubOp(tensor.OpBinary, op)
	r, err := s.peer(name, rhs)
	if err != nil {
		return nil, err
	}
	if r.dtype != s.dtype {
		return nil, tensor.DTypeErrorf(backendName, name, "lhs is %s, rhs is %s", s.dtype, r.dtype)
	}
	if !l.Shape().Equal(rl.Shape()) {
		return nil, tensor.LayoutErrorf(backendName, name, "shape mismatch: %v vs %v", l.Shape(), rl.Shape())
	}
	k, ok, err := s.dev.kernel(op.String(), s.dtype)
	if err != nil {
		return nil, tensor.NewBackendError(backendName, name, tensor.ErrDeviceInit, err)
	}
	if !ok {
		return nil, s.unimplemented(name)
	}
	if err := r.checkLayout(name, rl); err != nil {
		return nil, err
	}
	a, err := s.contiguous(name, l)
	if err != nil {
		return nil, err
	}
	defer s.releaseTemp(a)
	b, err := r.contiguous(name, rl)
	if err != nil {
		return nil, err
	}
	defer r.releaseTemp(b)
	n := l.NumElements()
	return s.dispatch(name, k, n, kernels.Params(n, 0, 0), a, b)
}

// Elu implements tensor.Storage.
func (s *Storage) Elu(tensor.Layout, float64) (tensor.Storage, error) {
	return nil, s.unimplemented(tensor.OpElu)
}

// Cmp implements tensor.Storage.
func (s *Storage) Cmp(op tensor.CmpOp, rhs tensor.Storage, _, _ tensor.Layout) (tensor.Storage, error) {
	return nil, s.unimplementedWith(tensor.SubOp(tensor.OpCmp, op), rhs)
}

// ToDType implements tensor.Storage.
func (s *Storage) ToDType(tensor.Layout, tensor.DType) (tensor.Storage, error) {
	return nil, s.unimplemented(tensor.OpToDType)
}

// WhereCond implements tensor.Storage.
func (s *Storage) WhereCond(_ tensor.Layout, t tensor.Storage, _ tensor.Layout, f tensor.Storage, _ tensor.Layout) (tensor.Storage, error) {
	return nil, s.unimplementedWith(tensor.OpWhereCond, t, f)
}

// Reduce implements tensor.Storage.
func (s *Storage) Reduce(op tensor.ReduceOp, _ tensor.Layout, _ []int) (tensor.Storage, error) {
	return nil, s.unimplemented(tensor.SubOp(tensor.OpReduce, op))
}

// IndexSelect implements tensor.Storage.
func (s *Storage) IndexSelect(ids tensor.Storage, _, _ tensor.Layout, _ int) (tensor.Storage, error) {
	return nil, s.unimplementedWith(tensor.OpIndexSelect, ids)
}

// Gather implements tensor.Storage.
func (s *Storage) Gather(_ tensor.Layout, ids tensor.Storage, _ tensor.Layout, _ int) (tensor.Storage, error) {
	return nil, s.unimplementedWith(tensor.OpGather, ids)
}

// ScatterAdd implements tensor.Storage.
func (s *Storage) ScatterAdd(_ tensor.Layout, ids tensor.Storage, _ tensor.Layout, src tensor.Storage, _ tensor.Layout, _ int) (tensor.Storage, error) {
	return nil, s.unimplementedWith(tensor.OpScatterAdd, ids, src)
}

// IndexAdd implements tensor.Storage.
func (s *Storage) IndexAdd(_ tensor.Layout, ids tensor.Storage, _ tensor.Layout, src tensor.Storage, _ tensor.Layout, _ int) (tensor.Storage, error) {
	return nil, s.unimplementedWith(tensor.OpIndexAdd, ids, src)
}

// MatMul implements tensor.Storage.
func (s *Storage) MatMul(rhs tensor.Storage, _ tensor.MatMulDims, _, _ tensor.Layout) (tensor.Storage, error) {
	return nil, s.unimplementedWith(tensor.OpMatMul, rhs)
}

// Conv1D implements tensor.Storage.
func (s *Storage) Conv1D(_ tensor.Layout, kernel tensor.Storage, _ tensor.Layout, _ tensor.Conv1DParams) (tensor.Storage, error) {
	return nil, s.unimplementedWith(tensor.OpConv1D, kernel)
}

// Conv2D implements tensor.Storage.
func (s *Storage) Conv2D(_ tensor.Layout, kernel tensor.Storage, _ tensor.Layout, _ tensor.Conv2DParams) (tensor.Storage, error) {
	return nil, s.unimplementedWith(tensor.OpConv2D, kernel)
}

// AvgPool2D implements tensor.Storage.
func (s *Storage) AvgPool2D(tensor.Layout, [2]int, [2]int) (tensor.Storage, error) {
	return nil, s.unimplemented(tensor.OpAvgPool2D)
}

// MaxPool2D implements tensor.Storage.
func (s *Storage) MaxPool2D(tensor.Layout, [2]int, [2]int) (tensor.Storage, error) {
	return nil, s.unimplemented(tensor.OpMaxPool2D)
}

// UpsampleNearest2D implements tensor.Storage.
func (s *Storage) UpsampleNearest2D(tensor.Layout, int, int) (tensor.Storage, error) {
	return nil, s.unimplemented(tensor.OpUpsampleNearest2D)
}

var (
	_ tensor.Device  = (*Device)(nil)
	_ tensor.Storage = (*Storage)(nil)
)
