package soft

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// hostKernel executes a kernel over its bindings. Binding layouts follow the
// WGSL kernels shipped with the compute package:
//
//	unary:  input, output, params
//	binary: lhs, rhs, output, params
//	affine: input, output, params
//
// params is 16 bytes: element count (u32), padding, then two f32 scalars.
type hostKernel func(bufs [][]byte) error

type params struct {
	n    int
	a, b float32
}

func readParams(b []byte) (params, error) {
	if len(b) < 16 {
		return params{}, fmt.Errorf("soft: params buffer has %d bytes, need 16", len(b))
	}
	return params{
		n: int(binary.LittleEndian.Uint32(b[0:4])),
		a: math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
		b: math.Float32frombits(binary.LittleEndian.Uint32(b[12:16])),
	}, nil
}

func checkLen(name string, n int, bufs ...[]byte) error {
	for i, b := range bufs {
		if len(b) < 4*n {
			return fmt.Errorf("soft: %s: binding %d has %d bytes, need %d", name, i, len(b), 4*n)
		}
	}
	return nil
}

func f32At(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
}

func putF32(b []byte, i int, v float32) {
	binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
}

var unaryF32 = map[string]func(float64) float64{
	"exp":  math.Exp,
	"log":  math.Log,
	"sin":  math.Sin,
	"cos":  math.Cos,
	"tanh": math.Tanh,
	"abs":  math.Abs,
	"neg":  func(x float64) float64 { return -x },
	"sqr":  func(x float64) float64 { return x * x },
	"sqrt": math.Sqrt,
	"relu": func(x float64) float64 { return math.Max(x, 0) },
}

var binaryF32 = map[string]func(a, b float32) float32{
	"add":     func(a, b float32) float32 { return a + b },
	"sub":     func(a, b float32) float32 { return a - b },
	"mul":     func(a, b float32) float32 { return a * b },
	"div":     func(a, b float32) float32 { return a / b },
	"maximum": func(a, b float32) float32 { return max(a, b) },
	"minimum": func(a, b float32) float32 { return min(a, b) },
}

// Integer division by zero returns the dividend, as WGSL defines it.
var binaryU32 = map[string]func(a, b uint32) uint32{
	"add": func(a, b uint32) uint32 { return a + b },
	"sub": func(a, b uint32) uint32 { return a - b },
	"mul": func(a, b uint32) uint32 { return a * b },
	"div": func(a, b uint32) uint32 {
		if b == 0 {
			return a
		}
		return a / b
	},
	"maximum": func(a, b uint32) uint32 { return max(a, b) },
	"minimum": func(a, b uint32) uint32 { return min(a, b) },
}

func lookupKernel(name string) (hostKernel, bool) {
	op, dt, ok := strings.Cut(name, "_")
	if !ok {
		return nil, false
	}
	switch dt {
	case "f32":
		if op == "affine" {
			return affineF32, true
		}
		if f, ok := unaryF32[op]; ok {
			return unaryKernel(name, f), true
		}
		if f, ok := binaryF32[op]; ok {
			return binaryKernel(name, func(a, b []byte, out []byte, i int) {
				putF32(out, i, f(f32At(a, i), f32At(b, i)))
			}), true
		}
	case "u32":
		if f, ok := binaryU32[op]; ok {
			return binaryKernel(name, func(a, b []byte, out []byte, i int) {
				v := f(binary.LittleEndian.Uint32(a[4*i:]), binary.LittleEndian.Uint32(b[4*i:]))
				binary.LittleEndian.PutUint32(out[4*i:], v)
			}), true
		}
	}
	return nil, false
}

func unaryKernel(name string, f func(float64) float64) hostKernel {
	return func(bufs [][]byte) error {
		if len(bufs) != 3 {
			return fmt.Errorf("soft: %s: expected 3 bindings, got %d", name, len(bufs))
		}
		p, err := readParams(bufs[2])
		if err != nil {
			return err
		}
		if err := checkLen(name, p.n, bufs[0], bufs[1]); err != nil {
			return err
		}
		for i := 0; i < p.n; i++ {
			putF32(bufs[1], i, float32(f(float64(f32At(bufs[0], i)))))
		}
		return nil
	}
}

func binaryKernel(name string, f func(a, b, out []byte, i int)) hostKernel {
	return func(bufs [][]byte) error {
		if len(bufs) != 4 {
			return fmt.Errorf("soft: %s: expected 4 bindings, got %d", name, len(bufs))
		}
		p, err := readParams(bufs[3])
		if err != nil {
			return err
		}
		if err := checkLen(name, p.n, bufs[0], bufs[1], bufs[2]); err != nil {
			return err
		}
		for i := 0; i < p.n; i++ {
			f(bufs[0], bufs[1], bufs[2], i)
		}
		return nil
	}
}

func affineF32(bufs [][]byte) error {
	if len(bufs) != 3 {
		return fmt.Errorf("soft: affine_f32: expected 3 bindings, got %d", len(bufs))
	}
	p, err := readParams(bufs[2])
	if err != nil {
		return err
	}
	if err := checkLen("affine_f32", p.n, bufs[0], bufs[1]); err != nil {
		return err
	}
	for i := 0; i < p.n; i++ {
		putF32(bufs[1], i, f32At(bufs[0], i)*p.a+p.b)
	}
	return nil
}
