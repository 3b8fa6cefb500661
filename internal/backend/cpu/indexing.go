package cpu

import (
	"github.com/born-ml/compute/internal/parallel"
	"github.com/born-ml/compute/internal/tensor"
)

// splitDim views a contiguous shape as [pre, size, post] around dim.
func splitDim(shape tensor.Shape, dim int) (pre, size, post int) {
	pre, post = 1, 1
	for _, d := range shape[:dim] {
		pre *= d
	}
	for _, d := range shape[dim+1:] {
		post *= d
	}
	return pre, shape[dim], post
}

func checkDim(op string, shape tensor.Shape, dim int) error {
	if dim < 0 || dim >= len(shape) {
		return tensor.LayoutErrorf(backendName, op, "dimension %d out of range for rank %d", dim, len(shape))
	}
	return nil
}

// sameExcept reports whether a and b agree on every dimension but dim.
func sameExcept(a, b tensor.Shape, dim int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if i != dim && a[i] != b[i] {
			return false
		}
	}
	return true
}

// loadIndices gathers an index storage and checks every index against size.
func (s *Storage) loadIndices(op string, ids tensor.Storage, idsL tensor.Layout, size int) ([]int, error) {
	h, err := s.operand(op, ids, idsL)
	if err != nil {
		return nil, err
	}
	idx, err := indices(op, h)
	if err != nil {
		return nil, err
	}
	for _, i := range idx {
		if i < 0 || i >= size {
			return nil, tensor.LayoutErrorf(backendName, op, "index %d out of range for dimension of size %d", i, size)
		}
	}
	return idx, nil
}

// IndexSelect implements tensor.Storage. ids is one-dimensional; the output
// has the shape of l with dimension dim replaced by len(ids).
//
// Example (dim=0):
//
//	x:   [[1, 2], [3, 4], [5, 6]]
//	ids: [2, 0]
//	out: [[5, 6], [1, 2]]
func (s *Storage) IndexSelect(ids tensor.Storage, l, idsL tensor.Layout, dim int) (tensor.Storage, error) {
	const op = tensor.OpIndexSelect
	shape := l.Shape()
	if err := checkDim(op, shape, dim); err != nil {
		return nil, err
	}
	if idsL.Rank() != 1 {
		return nil, tensor.LayoutErrorf(backendName, op, "indices must be one-dimensional, got shape %v", idsL.Shape())
	}
	x, err := s.contiguous(op, l)
	if err != nil {
		return nil, err
	}
	pre, size, post := splitDim(shape, dim)
	idx, err := s.loadIndices(op, ids, idsL, size)
	if err != nil {
		return nil, err
	}

	n := len(idx)
	w := x.DType().Size()
	src := x.Bytes()
	out := make([]byte, pre*n*post*w)
	row := post * w
	parallel.For(pre*n, func(k int) {
		p, i := k/n, k%n
		from := (p*size + idx[i]) * row
		copy(out[k*row:(k+1)*row], src[from:from+row])
	}, s.dev.par)
	return s.fromBytes(op, out)
}

// Gather implements tensor.Storage. ids has the rank of l and matches it on
// every dimension but dim; out[p][i][q] = x[p][ids[p][i][q]][q].
func (s *Storage) Gather(l tensor.Layout, ids tensor.Storage, idsL tensor.Layout, dim int) (tensor.Storage, error) {
	const op = tensor.OpGather
	shape, idsShape := l.Shape(), idsL.Shape()
	if err := checkDim(op, shape, dim); err != nil {
		return nil, err
	}
	if !sameExcept(shape, idsShape, dim) {
		return nil, tensor.LayoutErrorf(backendName, op, "indices shape %v incompatible with %v at dim %d", idsShape, shape, dim)
	}
	x, err := s.contiguous(op, l)
	if err != nil {
		return nil, err
	}
	_, size, _ := splitDim(shape, dim)
	idx, err := s.loadIndices(op, ids, idsL, size)
	if err != nil {
		return nil, err
	}

	pre, n, post := splitDim(idsShape, dim)
	w := x.DType().Size()
	src := x.Bytes()
	out := make([]byte, len(idx)*w)
	parallel.For(pre, func(p int) {
		for i := range n {
			for q := range post {
				k := (p*n+i)*post + q
				from := ((p*size+idx[k])*post + q) * w
				copy(out[k*w:(k+1)*w], src[from:from+w])
			}
		}
	}, s.dev.par)
	return s.fromBytes(op, out)
}

// ScatterAdd implements tensor.Storage. It returns a copy of the l view of s
// with src added at the positions named by ids along dim:
// out[p][ids[p][i][q]][q] += src[p][i][q].
func (s *Storage) ScatterAdd(l tensor.Layout, ids tensor.Storage, idsL tensor.Layout, src tensor.Storage, srcL tensor.Layout, dim int) (tensor.Storage, error) {
	const op = tensor.OpScatterAdd
	shape := l.Shape()
	if err := checkDim(op, shape, dim); err != nil {
		return nil, err
	}
	if !idsL.Shape().Equal(srcL.Shape()) {
		return nil, tensor.LayoutErrorf(backendName, op, "indices shape %v differs from source shape %v", idsL.Shape(), srcL.Shape())
	}
	if !sameExcept(shape, srcL.Shape(), dim) {
		return nil, tensor.LayoutErrorf(backendName, op, "source shape %v incompatible with %v at dim %d", srcL.Shape(), shape, dim)
	}
	plan := scatterPlan{}
	_, plan.size, _ = splitDim(shape, dim)
	plan.pre, plan.n, plan.post = splitDim(srcL.Shape(), dim)
	plan.at = func(p, i, q int) (int, int) {
		k := (p*plan.n+i)*plan.post + q
		return k, k
	}
	return s.accumulate(op, l, ids, idsL, src, srcL, plan)
}

// IndexAdd implements tensor.Storage. ids is one-dimensional with one entry
// per slice of src along dim: out[p][ids[i]][q] += src[p][i][q].
func (s *Storage) IndexAdd(l tensor.Layout, ids tensor.Storage, idsL tensor.Layout, src tensor.Storage, srcL tensor.Layout, dim int) (tensor.Storage, error) {
	const op = tensor.OpIndexAdd
	shape := l.Shape()
	if err := checkDim(op, shape, dim); err != nil {
		return nil, err
	}
	if !sameExcept(shape, srcL.Shape(), dim) {
		return nil, tensor.LayoutErrorf(backendName, op, "source shape %v incompatible with %v at dim %d", srcL.Shape(), shape, dim)
	}
	if idsL.Rank() != 1 || idsL.Shape()[0] != srcL.Shape()[dim] {
		return nil, tensor.LayoutErrorf(backendName, op, "indices shape %v must be [%d]", idsL.Shape(), srcL.Shape()[dim])
	}
	plan := scatterPlan{}
	_, plan.size, _ = splitDim(shape, dim)
	plan.pre, plan.n, plan.post = splitDim(srcL.Shape(), dim)
	plan.at = func(p, i, q int) (int, int) {
		return i, (p*plan.n+i)*plan.post + q
	}
	return s.accumulate(op, l, ids, idsL, src, srcL, plan)
}

// accumulate adds src into a copy of the l view of s following plan.
func (s *Storage) accumulate(op string, l tensor.Layout, ids tensor.Storage, idsL tensor.Layout,
	src tensor.Storage, srcL tensor.Layout, plan scatterPlan,
) (tensor.Storage, error) {
	if src.DType() != s.DType() {
		return nil, tensor.DTypeErrorf(backendName, op, "source is %s, destination is %s", src.DType(), s.DType())
	}
	x, err := s.contiguous(op, l)
	if err != nil {
		return nil, err
	}
	y, err := s.operand(op, src, srcL)
	if err != nil {
		return nil, err
	}
	plan.idx, err = s.loadIndices(op, ids, idsL, plan.size)
	if err != nil {
		return nil, err
	}

	if s.DType().IsFloat() {
		return s.dev.wrap(fromFloats(s.DType(), scatterAdd(plan, floats(x), floats(y), s.dev.par))), nil
	}
	return s.dev.wrap(fromInts(s.DType(), scatterAdd(plan, ints(x), ints(y), s.dev.par))), nil
}

// scatterPlan maps each source position (p, i, q) to the position of its
// index in idx and its flat source offset.
type scatterPlan struct {
	idx          []int
	at           func(p, i, q int) (int, int)
	size         int
	pre, n, post int
}

// scatterAdd accumulates src into dst. Each p owns a disjoint slab of dst,
// so slabs run in parallel.
func scatterAdd[T number](sp scatterPlan, dst, src []T, p parallel.Config) []T {
	parallel.For(sp.pre, func(pi int) {
		for i := range sp.n {
			for q := range sp.post {
				k, from := sp.at(pi, i, q)
				dst[(pi*sp.size+sp.idx[k])*sp.post+q] += src[from]
			}
		}
	}, p)
	return dst
}

func (s *Storage) fromBytes(op string, b []byte) (tensor.Storage, error) {
	h, err := tensor.FromBytes(s.DType(), b)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return s.dev.wrap(h), nil
}
