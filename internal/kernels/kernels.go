// Package kernels supplies precompiled compute kernels keyed by operation and dtype.
//
// Kernels are opaque blobs named <op>_<dtype>.wgsl, produced by the external
// kernel build step. The registry never compiles or rewrites them.
package kernels

import (
	"embed"
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/born-ml/compute/internal/gpu"
	"github.com/born-ml/compute/internal/tensor"
)

//go:embed wgsl/*.wgsl
var embedded embed.FS

// WorkgroupSize is the workgroup size every shipped kernel declares.
const WorkgroupSize = 256

// ParamsSize is the size in bytes of the uniform parameter block.
const ParamsSize = 16

// Registry maps kernel names to their blobs.
type Registry struct {
	blobs map[string][]byte
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the registry of embedded kernels.
func Default() *Registry {
	defaultOnce.Do(func() {
		sub, err := fs.Sub(embedded, "wgsl")
		if err != nil {
			panic(err)
		}
		defaultReg, err = Load(sub)
		if err != nil {
			panic(err)
		}
	})
	return defaultReg
}

// Load reads every *.wgsl file at the root of fsys.
func Load(fsys fs.FS) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to list kernels: %w", err)
	}
	r := &Registry{blobs: make(map[string][]byte, len(entries))}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".wgsl" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".wgsl")
		if _, _, err := Split(name); err != nil {
			return nil, err
		}
		blob, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read kernel %s: %w", e.Name(), err)
		}
		r.blobs[name] = blob
	}
	return r, nil
}

// Name returns the registry key of op for dt.
func Name(op string, dt tensor.DType) string {
	return op + "_" + dt.String()
}

// Split parses a registry key into op and dtype.
func Split(name string) (string, tensor.DType, error) {
	i := strings.LastIndexByte(name, '_')
	if i <= 0 {
		return "", 0, fmt.Errorf("invalid kernel name %q: want <op>_<dtype>", name)
	}
	dt, err := tensor.ParseDType(name[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid kernel name %q: %w", name, err)
	}
	return name[:i], dt, nil
}

// Lookup returns the blob for op and dt.
func (r *Registry) Lookup(op string, dt tensor.DType) ([]byte, bool) {
	b, ok := r.blobs[Name(op, dt)]
	return b, ok
}

// Has reports whether a kernel exists for op and dt.
func (r *Registry) Has(op string, dt tensor.DType) bool {
	_, ok := r.blobs[Name(op, dt)]
	return ok
}

// Names returns every registered key in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.blobs))
	for n := range r.blobs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of kernels.
func (r *Registry) Len() int { return len(r.blobs) }

// Workgroups returns the dispatch grid covering n invocations. Counts past
// the per-dimension limit wrap into rows of Y; kernels flatten the index as
// y*X*WorkgroupSize + x and skip invocations at or beyond n.
func Workgroups(n int) gpu.Grid {
	total := (n + WorkgroupSize - 1) / WorkgroupSize
	if total == 0 {
		return gpu.Grid{X: 1, Y: 1}
	}
	x := min(total, gpu.MaxWorkgroupsPerDimension)
	y := (total + x - 1) / x
	//nolint:gosec // G115: both dimensions are at most MaxWorkgroupsPerDimension for u32 element counts
	return gpu.Grid{X: uint32(x), Y: uint32(y)}
}

// Params encodes the uniform block: element count, padding, then two scalars.
func Params(n int, a, b float32) []byte {
	p := make([]byte, ParamsSize)
	//nolint:gosec // G115: element counts are bounded by the device buffer limit
	binary.LittleEndian.PutUint32(p[0:4], uint32(n))
	binary.LittleEndian.PutUint32(p[8:12], math.Float32bits(a))
	binary.LittleEndian.PutUint32(p[12:16], math.Float32bits(b))
	return p
}
