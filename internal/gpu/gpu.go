// Package gpu abstracts the adapter, device and queue of a GPU compute API.
//
// A Device exposes two independent asynchronous completion signals: Submit
// reports when the queue finished the submitted commands, and MapRead reports
// when a host mapping of a buffer has been granted. Callers must wait for the
// mapping acknowledgment before calling MappedRange; queue completion alone
// does not make mapped memory readable.
package gpu

import (
	"errors"
	"fmt"
	"strings"
)

// Driver errors. Backends translate these into their own error kinds.
var (
	ErrNoAdapter        = errors.New("no matching adapter")
	ErrUnavailable      = errors.New("driver unavailable")
	ErrBufferTooLarge   = errors.New("buffer exceeds device limit")
	ErrInvalidCopy      = errors.New("invalid buffer copy")
	ErrMapRejected      = errors.New("map request rejected")
	ErrNotMapped        = errors.New("buffer is not mapped")
	ErrReleased         = errors.New("device released")
	ErrNoKernelSupport  = errors.New("driver cannot dispatch kernels")
	ErrKernelCompile    = errors.New("kernel compilation failed")
	ErrMisalignedBuffer = errors.New("buffer size is not aligned")
)

// CopyAlignment is the required alignment in bytes of buffer sizes, copy
// offsets and copy sizes.
const CopyAlignment = 4

// AlignSize rounds n up to CopyAlignment.
func AlignSize(n uint64) uint64 {
	return (n + CopyAlignment - 1) &^ (CopyAlignment - 1)
}

// BufferUsage is a set of buffer usage flags.
type BufferUsage uint32

// Buffer usage flags.
const (
	UsageMapRead BufferUsage = 1 << iota
	UsageCopySrc
	UsageCopyDst
	UsageStorage
	UsageUniform
)

var usageNames = []struct {
	flag BufferUsage
	name string
}{
	{UsageMapRead, "map_read"},
	{UsageCopySrc, "copy_src"},
	{UsageCopyDst, "copy_dst"},
	{UsageStorage, "storage"},
	{UsageUniform, "uniform"},
}

// Has reports whether every flag in f is set.
func (u BufferUsage) Has(f BufferUsage) bool {
	return u&f == f
}

// String renders the flags joined by '|'.
func (u BufferUsage) String() string {
	if u == 0 {
		return "none"
	}
	var parts []string
	for _, n := range usageNames {
		if u.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// AdapterInfo describes a physical or logical adapter.
type AdapterInfo struct {
	Ordinal      int
	Driver       string
	Name         string
	Vendor       string
	Architecture string
	Backend      string
}

// String implements fmt.Stringer.
func (a AdapterInfo) String() string {
	s := fmt.Sprintf("%s:%d %s", a.Driver, a.Ordinal, a.Name)
	if a.Vendor != "" {
		s += " (" + a.Vendor + ")"
	}
	return s
}

// Limits reports the device limits relevant to allocation and copies.
type Limits struct {
	MaxBufferSize uint64
	CopyAlignment uint64
}

// Buffer is a device-resident allocation.
type Buffer interface {
	Size() uint64
	Usage() BufferUsage
	Release()
}

// Kernel is a compiled compute pipeline.
type Kernel interface {
	Name() string
	Release()
}

// CommandBuffer is a finished, submittable command sequence.
// MaxWorkgroupsPerDimension is the WebGPU default limit on workgroups along
// one dispatch dimension.
const MaxWorkgroupsPerDimension = 65535

// Grid is a two-dimensional workgroup count.
type Grid struct {
	X, Y uint32
}

type CommandBuffer interface {
	Release()
}

// Encoder records commands. Commands execute only after the finished
// CommandBuffer is submitted.
type Encoder interface {
	CopyBufferToBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset uint64, size uint64) error
	// Dispatch runs k over grid with the given buffers bound to consecutive
	// bindings of group 0.
	Dispatch(k Kernel, grid Grid, bindings ...Buffer) error
	Finish() (CommandBuffer, error)
}

// Device is a logical device with its command queue.
type Device interface {
	Info() AdapterInfo
	Limits() Limits

	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	// CreateBufferInit creates a buffer initialized with data. len(data) must
	// be a multiple of CopyAlignment.
	CreateBufferInit(data []byte, usage BufferUsage) (Buffer, error)

	NewEncoder() (Encoder, error)
	// Submit enqueues cmds. The returned channel receives exactly one value
	// once every submitted command has completed on the queue.
	Submit(cmds ...CommandBuffer) <-chan error
	// MapRead requests a host mapping of buf, which must carry UsageMapRead.
	// The returned channel receives exactly one value once the mapping is
	// granted or rejected. The request is ordered after earlier submissions.
	MapRead(buf Buffer) <-chan error
	// MappedRange returns the mapped bytes of buf. Valid until Unmap.
	MappedRange(buf Buffer) ([]byte, error)
	Unmap(buf Buffer)

	SupportsKernels() bool
	CompileKernel(name string, source []byte) (Kernel, error)

	Release()
}

// Driver enumerates adapters and opens devices on them.
type Driver interface {
	Name() string
	Adapters() ([]AdapterInfo, error)
	Open(sel Selector) (Device, error)
}

// Done returns a channel that already carries err.
func Done(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}
