package cpu

import (
	"github.com/born-ml/compute/internal/parallel"
	"github.com/born-ml/compute/internal/tensor"
)

// poolGeometry describes a pooling window over [N, C, H, W].
type poolGeometry struct {
	N, C, H, W       int
	KH, KW           int
	strideH, strideW int
	HOut, WOut       int
}

func planPool(op string, l tensor.Layout, kernel, stride [2]int) (poolGeometry, error) {
	shape := l.Shape()
	if len(shape) != 4 {
		return poolGeometry{}, tensor.LayoutErrorf(backendName, op, "expected 4D input [N,C,H,W], got shape %v", shape)
	}
	g := poolGeometry{
		N:       shape[0],
		C:       shape[1],
		H:       shape[2],
		W:       shape[3],
		KH:      kernel[0],
		KW:      kernel[1],
		strideH: stride[0],
		strideW: stride[1],
	}
	if g.KH <= 0 || g.KW <= 0 || g.strideH <= 0 || g.strideW <= 0 {
		return poolGeometry{}, tensor.LayoutErrorf(backendName, op, "invalid kernel %v or stride %v", kernel, stride)
	}
	if g.KH > g.H || g.KW > g.W {
		return poolGeometry{}, tensor.LayoutErrorf(backendName, op, "kernel %v too large for input %dx%d", kernel, g.H, g.W)
	}
	g.HOut = (g.H-g.KH)/g.strideH + 1
	g.WOut = (g.W-g.KW)/g.strideW + 1
	return g, nil
}

// pool2d folds every window with f and finishes each result with done.
func pool2d[T number](g poolGeometry, x []T, f func(acc, v T) T, done func(T) T, p parallel.Config) []T {
	out := make([]T, g.N*g.C*g.HOut*g.WOut)
	parallel.ForBatch(g.N, g.C, func(n, c int) {
		plane := x[(n*g.C+c)*g.H*g.W:]
		dst := out[(n*g.C+c)*g.HOut*g.WOut:]
		for oh := range g.HOut {
			for ow := range g.WOut {
				h0, w0 := oh*g.strideH, ow*g.strideW
				acc := plane[h0*g.W+w0]
				for kh := range g.KH {
					for kw := range g.KW {
						if kh == 0 && kw == 0 {
							continue
						}
						acc = f(acc, plane[(h0+kh)*g.W+w0+kw])
					}
				}
				dst[oh*g.WOut+ow] = done(acc)
			}
		}
	}, p)
	return out
}

// AvgPool2D implements tensor.Storage. Integer averages truncate.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, (height-kh)/sh + 1, (width-kw)/sw + 1]
func (s *Storage) AvgPool2D(l tensor.Layout, kernel, stride [2]int) (tensor.Storage, error) {
	const op = tensor.OpAvgPool2D
	g, err := planPool(op, l, kernel, stride)
	if err != nil {
		return nil, err
	}
	x, err := s.contiguous(op, l)
	if err != nil {
		return nil, err
	}
	area := g.KH * g.KW
	dt := s.DType()
	if dt.IsFloat() {
		out := pool2d(g, floats(x), func(a, v float64) float64 { return a + v },
			func(a float64) float64 { return a / float64(area) }, s.dev.par)
		return s.dev.wrap(fromFloats(dt, out)), nil
	}
	out := pool2d(g, ints(x), func(a, v int64) int64 { return a + v },
		func(a int64) int64 { return a / int64(area) }, s.dev.par)
	return s.dev.wrap(fromInts(dt, out)), nil
}

// MaxPool2D implements tensor.Storage.
//
// Example (2x2 pool, stride=2):
//
//	Input: [[1,2,3,4],    Output: [[6,8],
//	        [5,6,7,8],             [14,16]]
//	        [9,10,11,12],
//	        [13,14,15,16]]
func (s *Storage) MaxPool2D(l tensor.Layout, kernel, stride [2]int) (tensor.Storage, error) {
	const op = tensor.OpMaxPool2D
	g, err := planPool(op, l, kernel, stride)
	if err != nil {
		return nil, err
	}
	x, err := s.contiguous(op, l)
	if err != nil {
		return nil, err
	}
	dt := s.DType()
	if dt.IsFloat() {
		out := pool2d(g, floats(x), func(a, v float64) float64 { return max(a, v) },
			func(a float64) float64 { return a }, s.dev.par)
		return s.dev.wrap(fromFloats(dt, out)), nil
	}
	out := pool2d(g, ints(x), func(a, v int64) int64 { return max(a, v) },
		func(a int64) int64 { return a }, s.dev.par)
	return s.dev.wrap(fromInts(dt, out)), nil
}

// UpsampleNearest2D implements tensor.Storage. Output pixel (i, j) copies
// input pixel (floor(i*H/h), floor(j*W/w)).
func (s *Storage) UpsampleNearest2D(l tensor.Layout, h, w int) (tensor.Storage, error) {
	const op = tensor.OpUpsampleNearest2D
	shape := l.Shape()
	if len(shape) != 4 {
		return nil, tensor.LayoutErrorf(backendName, op, "expected 4D input [N,C,H,W], got shape %v", shape)
	}
	if h <= 0 || w <= 0 {
		return nil, tensor.LayoutErrorf(backendName, op, "invalid target size %dx%d", h, w)
	}
	x, err := s.contiguous(op, l)
	if err != nil {
		return nil, err
	}

	N, C, H, W := shape[0], shape[1], shape[2], shape[3]
	srcRow := make([]int, h)
	for i := range srcRow {
		srcRow[i] = min(i*H/h, H-1)
	}
	srcCol := make([]int, w)
	for j := range srcCol {
		srcCol[j] = min(j*W/w, W-1)
	}

	es := x.DType().Size()
	src := x.Bytes()
	out := make([]byte, N*C*h*w*es)
	parallel.ForBatch(N, C, func(n, c int) {
		in := src[(n*C+c)*H*W*es:]
		dst := out[(n*C+c)*h*w*es:]
		for i, si := range srcRow {
			for j, sj := range srcCol {
				from := (si*W + sj) * es
				to := (i*w + j) * es
				copy(dst[to:to+es], in[from:from+es])
			}
		}
	}, s.dev.par)
	return s.fromBytes(op, out)
}
