package cpu

import (
	"github.com/born-ml/compute/internal/parallel"
	"github.com/born-ml/compute/internal/tensor"
)

// MatMul implements tensor.Storage for [B, M, K] x [B, K, N] -> [B, M, N].
// Each layout may have any strides as long as it addresses B*M*K (resp.
// B*K*N) elements in that logical order.
func (s *Storage) MatMul(rhs tensor.Storage, dims tensor.MatMulDims, l, rl tensor.Layout) (tensor.Storage, error) {
	const op = tensor.OpMatMul
	B, M, N, K := dims.B, dims.M, dims.N, dims.K
	if B <= 0 || M <= 0 || N <= 0 || K <= 0 {
		return nil, tensor.LayoutErrorf(backendName, op, "invalid dims %+v", dims)
	}
	if l.NumElements() != B*M*K {
		return nil, tensor.LayoutErrorf(backendName, op, "lhs has %d elements, want %d for [%d, %d, %d]", l.NumElements(), B*M*K, B, M, K)
	}
	if rl.NumElements() != B*K*N {
		return nil, tensor.LayoutErrorf(backendName, op, "rhs has %d elements, want %d for [%d, %d, %d]", rl.NumElements(), B*K*N, B, K, N)
	}
	r, err := s.peer(op, rhs)
	if err != nil {
		return nil, err
	}
	if r.DType() != s.DType() {
		return nil, tensor.DTypeErrorf(backendName, op, "lhs is %s, rhs is %s", s.DType(), r.DType())
	}
	a, err := s.contiguous(op, l)
	if err != nil {
		return nil, err
	}
	b, err := r.contiguous(op, rl)
	if err != nil {
		return nil, err
	}

	dt := s.DType()
	if dt.IsFloat() {
		return s.dev.wrap(fromFloats(dt, matmul(floats(a), floats(b), B, M, N, K, s.dev.par))), nil
	}
	return s.dev.wrap(fromInts(dt, matmul(ints(a), ints(b), B, M, N, K, s.dev.par))), nil
}

// matmul computes the batched product of row-major a [B, M, K] and b [B, K, N].
//
// Loop order is i-k-j so the inner loop walks contiguous rows of b and out.
// Rows of the output are independent and run in parallel.
func matmul[T number](a, b []T, B, M, N, K int, p parallel.Config) []T {
	out := make([]T, B*M*N)
	parallel.For(B*M, func(row int) {
		batch := row / M
		aRow := a[row*K : (row+1)*K]
		bMat := b[batch*K*N : (batch+1)*K*N]
		oRow := out[row*N : (row+1)*N]
		for k, av := range aRow {
			bRow := bMat[k*N : (k+1)*N]
			for j, bv := range bRow {
				oRow[j] += av * bv
			}
		}
	}, p)
	return out
}
