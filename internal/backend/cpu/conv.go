package cpu

import (
	"github.com/born-ml/compute/internal/parallel"
	"github.com/born-ml/compute/internal/tensor"
)

// convGeometry is a 2D convolution with independent padding, stride and
// dilation per axis. Conv1D is the case IH = KH = 1.
type convGeometry struct {
	N, CIn, H, W     int
	COut, KH, KW     int
	HOut, WOut       int
	padH, padW       int
	strideH, strideW int
	dilH, dilW       int
}

// Conv1D implements tensor.Storage.
//
// Input shape:  [batch, in_channels, length]
// Kernel shape: [out_channels, in_channels, kernel_size]
// Output shape: [batch, out_channels, p.LOut()]
func (s *Storage) Conv1D(l tensor.Layout, kernel tensor.Storage, kl tensor.Layout, p tensor.Conv1DParams) (tensor.Storage, error) {
	if p.Stride <= 0 || p.Dilation <= 0 || p.Padding < 0 {
		return nil, tensor.LayoutErrorf(backendName, tensor.OpConv1D, "invalid params %+v", p)
	}
	g := convGeometry{
		N:       p.Batch,
		CIn:     p.CIn,
		H:       1,
		W:       p.LIn,
		COut:    p.COut,
		KH:      1,
		KW:      p.KSize,
		HOut:    1,
		WOut:    p.LOut(),
		padW:    p.Padding,
		strideH: 1,
		strideW: p.Stride,
		dilH:    1,
		dilW:    p.Dilation,
	}
	return s.conv(tensor.OpConv1D, l, kernel, kl, g)
}

// Conv2D implements tensor.Storage.
//
// Input shape:  [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Output shape: [batch, out_channels, p.OutH(), p.OutW()]
func (s *Storage) Conv2D(l tensor.Layout, kernel tensor.Storage, kl tensor.Layout, p tensor.Conv2DParams) (tensor.Storage, error) {
	if p.Stride <= 0 || p.Dilation <= 0 || p.Padding < 0 {
		return nil, tensor.LayoutErrorf(backendName, tensor.OpConv2D, "invalid params %+v", p)
	}
	g := convGeometry{
		N:       p.Batch,
		CIn:     p.CIn,
		H:       p.IH,
		W:       p.IW,
		COut:    p.COut,
		KH:      p.KH,
		KW:      p.KW,
		HOut:    p.OutH(),
		WOut:    p.OutW(),
		padH:    p.Padding,
		padW:    p.Padding,
		strideH: p.Stride,
		strideW: p.Stride,
		dilH:    p.Dilation,
		dilW:    p.Dilation,
	}
	return s.conv(tensor.OpConv2D, l, kernel, kl, g)
}

func (s *Storage) conv(op string, l tensor.Layout, kernel tensor.Storage, kl tensor.Layout, g convGeometry) (tensor.Storage, error) {
	if g.N <= 0 || g.CIn <= 0 || g.H <= 0 || g.W <= 0 || g.COut <= 0 || g.KH <= 0 || g.KW <= 0 {
		return nil, tensor.LayoutErrorf(backendName, op, "invalid dimensions %+v", g)
	}
	if g.HOut <= 0 || g.WOut <= 0 {
		return nil, tensor.LayoutErrorf(backendName, op, "invalid output dimensions %dx%d (check stride/padding)", g.HOut, g.WOut)
	}
	if n := g.N * g.CIn * g.H * g.W; l.NumElements() != n {
		return nil, tensor.LayoutErrorf(backendName, op, "input has %d elements, want %d", l.NumElements(), n)
	}
	if n := g.COut * g.CIn * g.KH * g.KW; kl.NumElements() != n {
		return nil, tensor.LayoutErrorf(backendName, op, "kernel has %d elements, want %d", kl.NumElements(), n)
	}
	if kernel.DType() != s.DType() {
		return nil, tensor.DTypeErrorf(backendName, op, "input is %s, kernel is %s", s.DType(), kernel.DType())
	}
	x, err := s.contiguous(op, l)
	if err != nil {
		return nil, err
	}
	k, err := s.operand(op, kernel, kl)
	if err != nil {
		return nil, err
	}

	dt := s.DType()
	if dt.IsFloat() {
		return s.dev.wrap(fromFloats(dt, convIm2col(g, floats(x), floats(k), s.dev.par))), nil
	}
	return s.dev.wrap(fromInts(dt, convIm2col(g, ints(x), ints(k), s.dev.par))), nil
}

// convIm2col performs the convolution using the im2col algorithm.
//
// Algorithm:
//  1. Im2col: Transform [N, C, H, W] -> [N * H_out * W_out, C * K_h * K_w]
//  2. The kernel is already [C_out, C * K_h * K_w] in row-major order
//  3. result[n, co, pos] = sum_k kernel[co, k] * col[n*H_out*W_out + pos, k]
func convIm2col[T number](g convGeometry, input, kernel []T, p parallel.Config) []T {
	colWidth := g.CIn * g.KH * g.KW
	spatial := g.HOut * g.WOut
	col := make([]T, g.N*spatial*colWidth)
	im2col(g, col, input, p)

	out := make([]T, g.N*g.COut*spatial)
	parallel.ForBatch(g.N, g.COut, func(n, co int) {
		kRow := kernel[co*colWidth : (co+1)*colWidth]
		oRow := out[(n*g.COut+co)*spatial : (n*g.COut+co+1)*spatial]
		for pos := range spatial {
			cRow := col[(n*spatial+pos)*colWidth : (n*spatial+pos+1)*colWidth]
			var sum T
			for k, kv := range kRow {
				sum += kv * cRow[k]
			}
			oRow[pos] = sum
		}
	}, p)
	return out
}

// im2col unfolds every receptive field into one row of col. Out-of-bounds
// taps (padding) stay zero.
func im2col[T number](g convGeometry, col, input []T, p parallel.Config) {
	colWidth := g.CIn * g.KH * g.KW
	parallel.For(g.N*g.HOut, func(row int) {
		n, oh := row/g.HOut, row%g.HOut
		for ow := range g.WOut {
			dst := col[((n*g.HOut+oh)*g.WOut+ow)*colWidth:]
			k := 0
			for c := range g.CIn {
				plane := input[(n*g.CIn+c)*g.H*g.W:]
				for kh := range g.KH {
					ih := oh*g.strideH - g.padH + kh*g.dilH
					for kw := range g.KW {
						iw := ow*g.strideW - g.padW + kw*g.dilW
						if ih >= 0 && ih < g.H && iw >= 0 && iw < g.W {
							dst[k] = plane[ih*g.W+iw]
						}
						k++
					}
				}
			}
		}
	}, p)
}
