// Package webgpu implements the compute backend for GPUs driven through WebGPU.
//
// A Device owns one gpu.Device (adapter, logical device and queue). Storages
// keep a pointer to the Device that created them; the garbage collector keeps
// the Device alive for as long as any of its storages is reachable.
package webgpu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/born-ml/compute/internal/config"
	"github.com/born-ml/compute/internal/gpu"
	"github.com/born-ml/compute/internal/gpu/native"
	"github.com/born-ml/compute/internal/gpu/soft"
	"github.com/born-ml/compute/internal/kernels"
	"github.com/born-ml/compute/internal/logger"
	"github.com/born-ml/compute/internal/metrics"
	"github.com/born-ml/compute/internal/tensor"
)

// backendName is reported in every BackendError raised by this package.
const backendName = "webgpu"

// Storage usage for every tensor buffer.
const storageUsage = gpu.UsageStorage | gpu.UsageCopySrc | gpu.UsageCopyDst

var deviceSeq atomic.Uint64

// Device is a GPU device context.
type Device struct {
	gpu     gpu.Device
	info    gpu.AdapterInfo
	limits  gpu.Limits
	cfg     config.Device
	kernels *kernels.Registry
	log     *logger.Logger
	label   string // metrics label, unique per context

	// submitMu serializes submission and the wait for queue completion.
	submitMu sync.Mutex

	// Compiled kernel cache.
	compiled map[string]gpu.Kernel
	mu       sync.RWMutex

	pool *BufferPool

	// Memory tracking
	memoryStats struct {
		allocatedBytes uint64
		peakBytes      uint64
		activeBuffers  int64
		allocations    uint64
		mu             sync.Mutex
	}

	released atomic.Bool
}

// MemoryStats represents device memory usage statistics.
type MemoryStats struct {
	AllocatedBytes uint64 // Bytes currently held by live buffers
	PeakBytes      uint64 // Peak of AllocatedBytes
	ActiveBuffers  int64  // Number of live buffers
	Allocations    uint64 // Total allocations since creation
	Pool           PoolStats
}

// Drivers returns the drivers available for cfg, in auto-selection order.
func Drivers(cfg config.Device) []gpu.Driver {
	return []gpu.Driver{
		native.New(),
		soft.New(soft.Options{
			Adapters:       cfg.Soft.Adapters,
			QueueLatency:   cfg.Soft.QueueLatency,
			MaxBufferSize:  cfg.Soft.MaxBufferSize,
			EmulateKernels: true,
		}),
	}
}

// New opens the device selected by cfg.
func New(cfg config.Device) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, tensor.NewBackendError(backendName, "create", tensor.ErrDeviceInit, err)
	}
	sel := gpu.Selector{Driver: cfg.Driver, Ordinal: cfg.Ordinal, PowerPreference: cfg.PowerPreference}
	dev, err := gpu.Open(sel, Drivers(cfg)...)
	if err != nil {
		logger.Log.Warn("webgpu: device open failed", "selector", sel.String(), "err", err)
		return nil, tensor.NewBackendError(backendName, "create", tensor.ErrDeviceInit, err)
	}
	return FromGPU(dev, cfg), nil
}

// NewDefault opens adapter ordinal with the default configuration.
func NewDefault(ordinal int) (*Device, error) {
	cfg := config.Default().Device
	cfg.Ordinal = ordinal
	return New(cfg)
}

// FromGPU wraps an already opened gpu.Device. The Device takes ownership of dev.
func FromGPU(dev gpu.Device, cfg config.Device) *Device {
	if cfg.ReadbackTimeout <= 0 {
		cfg.ReadbackTimeout = config.Default().Device.ReadbackTimeout
	}
	info := dev.Info()
	d := &Device{
		gpu:      dev,
		info:     info,
		limits:   dev.Limits(),
		cfg:      cfg,
		kernels:  kernels.Default(),
		compiled: make(map[string]gpu.Kernel),
		label:    fmt.Sprintf("%s:%d#%d", info.Driver, info.Ordinal, deviceSeq.Add(1)),
	}
	d.log = logger.Log.With("device", d.label)
	d.pool = NewBufferPool(d.allocate, d.free, cfg.StagingPool)
	d.log.Info("webgpu: device opened", "adapter", info.String(), "max_buffer_size", d.limits.MaxBufferSize)
	return d
}

// IsAvailable reports whether driver can open at least one adapter.
// driver may be "auto" to check every driver.
func IsAvailable(driver string) bool {
	infos, err := ListAdapters(driver)
	return err == nil && len(infos) > 0
}

// ListAdapters enumerates the adapters of driver, or of every driver for "auto".
func ListAdapters(driver string) ([]gpu.AdapterInfo, error) {
	var (
		out  []gpu.AdapterInfo
		errs []error
	)
	for _, d := range Drivers(config.Default().Device) {
		if driver != gpu.DriverAuto && d.Name() != driver {
			continue
		}
		infos, err := d.Adapters()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
			continue
		}
		out = append(out, infos...)
	}
	if len(out) == 0 {
		if len(errs) == 0 {
			return nil, fmt.Errorf("%w: no driver named %q", gpu.ErrUnavailable, driver)
		}
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Name implements tensor.Device.
func (d *Device) Name() string { return backendName }

// Location implements tensor.Device.
func (d *Device) Location() tensor.Location {
	return tensor.Location{Kind: backendName, Ordinal: d.info.Ordinal}
}

// SameDevice implements tensor.Device. Only the identical context matches;
// two contexts opened on the same adapter are distinct devices.
func (d *Device) SameDevice(other tensor.Device) bool {
	o, ok := other.(*Device)
	return ok && o == d
}

// AdapterInfo returns information about the adapter.
func (d *Device) AdapterInfo() gpu.AdapterInfo { return d.info }

// Label returns the unique label of this context used in logs and metrics.
func (d *Device) Label() string { return d.label }

// String implements fmt.Stringer.
func (d *Device) String() string {
	return fmt.Sprintf("WebGPU(%s)", d.info)
}

// GPU exposes the underlying driver device.
func (d *Device) GPU() gpu.Device { return d.gpu }

// MemoryStats returns current memory usage statistics.
func (d *Device) MemoryStats() MemoryStats {
	d.memoryStats.mu.Lock()
	s := MemoryStats{
		AllocatedBytes: d.memoryStats.allocatedBytes,
		PeakBytes:      d.memoryStats.peakBytes,
		ActiveBuffers:  d.memoryStats.activeBuffers,
		Allocations:    d.memoryStats.allocations,
	}
	d.memoryStats.mu.Unlock()
	s.Pool = d.pool.Stats()
	return s
}

// Synchronize implements tensor.Device. It waits for all previously
// submitted work to complete.
func (d *Device) Synchronize() error {
	if err := d.checkAlive("synchronize"); err != nil {
		return err
	}
	ctx, cancel := d.readbackContext()
	defer cancel()
	if err := d.submitAndWait(ctx); err != nil {
		return d.waitError("synchronize", err)
	}
	return nil
}

// Release frees pooled buffers, compiled kernels and the device itself.
// Storages created by d fail with tensor.ErrReleased afterwards.
func (d *Device) Release() {
	if !d.released.CompareAndSwap(false, true) {
		return
	}
	d.pool.Clear()

	d.mu.Lock()
	for name, k := range d.compiled {
		k.Release()
		delete(d.compiled, name)
	}
	d.mu.Unlock()

	d.gpu.Release()

	// Forget under the stats lock so a concurrent unreserve cannot
	// re-create the series afterwards.
	d.memoryStats.mu.Lock()
	metrics.Forget(d.label)
	d.memoryStats.mu.Unlock()
	d.log.Info("webgpu: device released")
}

func (d *Device) checkAlive(op string) error {
	if d.released.Load() {
		return tensor.NewBackendError(backendName, op, tensor.ErrReleased, fmt.Errorf("device %s", d.label))
	}
	return nil
}

func (d *Device) maxBufferSize() uint64 {
	limit := d.limits.MaxBufferSize
	if d.cfg.MaxBufferSize > 0 && (limit == 0 || d.cfg.MaxBufferSize < limit) {
		limit = d.cfg.MaxBufferSize
	}
	return limit
}

// allocate creates an uninitialized buffer of size bytes. size is rounded up
// to the copy alignment.
func (d *Device) allocate(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
	size = max(gpu.AlignSize(size), gpu.CopyAlignment)
	if err := d.reserve(size); err != nil {
		return nil, err
	}
	b, err := d.gpu.CreateBuffer(size, usage)
	if err != nil {
		d.unreserve(size)
		return nil, d.allocError(size, err)
	}
	metrics.DeviceAllocations.WithLabelValues(d.label, usage.String()).Inc()
	return b, nil
}

// upload creates a buffer initialized with data in one step.
func (d *Device) upload(data []byte, usage gpu.BufferUsage) (gpu.Buffer, error) {
	size := max(gpu.AlignSize(uint64(len(data))), gpu.CopyAlignment)
	if uint64(len(data)) != size {
		padded := make([]byte, size)
		copy(padded, data)
		data = padded
	}
	if err := d.reserve(size); err != nil {
		return nil, err
	}
	b, err := d.gpu.CreateBufferInit(data, usage)
	if err != nil {
		d.unreserve(size)
		return nil, d.allocError(size, err)
	}
	metrics.DeviceAllocations.WithLabelValues(d.label, usage.String()).Inc()
	return b, nil
}

// free releases a buffer created by allocate or upload.
func (d *Device) free(b gpu.Buffer) {
	size := b.Size()
	b.Release()
	d.unreserve(size)
}

// reserve accounts size bytes against the adapter limit and the memory budget.
func (d *Device) reserve(size uint64) error {
	if limit := d.maxBufferSize(); limit > 0 && size > limit {
		metrics.DeviceAllocationFailures.WithLabelValues(d.label).Inc()
		return tensor.NewBackendError(backendName, "allocate", tensor.ErrOutOfDeviceMemory,
			fmt.Errorf("buffer of %d bytes exceeds max buffer size %d", size, limit))
	}

	d.memoryStats.mu.Lock()
	defer d.memoryStats.mu.Unlock()
	if budget := d.cfg.MemoryBudget; budget > 0 && d.memoryStats.allocatedBytes+size > budget {
		metrics.DeviceAllocationFailures.WithLabelValues(d.label).Inc()
		return tensor.NewBackendError(backendName, "allocate", tensor.ErrOutOfDeviceMemory,
			fmt.Errorf("buffer of %d bytes exceeds memory budget (%d of %d in use)", size, d.memoryStats.allocatedBytes, budget))
	}
	d.memoryStats.allocatedBytes += size
	d.memoryStats.activeBuffers++
	d.memoryStats.allocations++
	d.memoryStats.peakBytes = max(d.memoryStats.peakBytes, d.memoryStats.allocatedBytes)

	metrics.DeviceMemoryBytes.WithLabelValues(d.label).Add(float64(size))
	metrics.DeviceBuffersActive.WithLabelValues(d.label).Inc()
	return nil
}

func (d *Device) unreserve(size uint64) {
	d.memoryStats.mu.Lock()
	defer d.memoryStats.mu.Unlock()
	if d.memoryStats.allocatedBytes >= size {
		d.memoryStats.allocatedBytes -= size
	}
	d.memoryStats.activeBuffers--

	if d.released.Load() {
		return
	}
	metrics.DeviceMemoryBytes.WithLabelValues(d.label).Sub(float64(size))
	metrics.DeviceBuffersActive.WithLabelValues(d.label).Dec()
}

func (d *Device) allocError(size uint64, err error) error {
	kind := tensor.ErrOutOfDeviceMemory
	switch {
	case errors.Is(err, gpu.ErrReleased):
		kind = tensor.ErrReleased
	case !errors.Is(err, gpu.ErrBufferTooLarge):
		d.log.Error("webgpu: buffer creation failed", "bytes", size, "err", err)
	}
	metrics.DeviceAllocationFailures.WithLabelValues(d.label).Inc()
	return tensor.NewBackendError(backendName, "allocate", kind, err)
}

// readbackContext bounds a blocking wait by the configured read-back timeout.
func (d *Device) readbackContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.cfg.ReadbackTimeout)
}

// submitAndWait submits cmds and blocks until the queue reports them complete.
// Submission and waiting are serialized per context, so the completion
// observed belongs to this group of commands and everything queued before it.
func (d *Device) submitAndWait(ctx context.Context, cmds ...gpu.CommandBuffer) error {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	metrics.DeviceSubmissions.WithLabelValues(d.label).Inc()
	return await(ctx, d.gpu.Submit(cmds...))
}

// await blocks until signal fires or ctx is done.
func await(ctx context.Context, signal <-chan error) error {
	select {
	case err := <-signal:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitError classifies a failed wait on one of the asynchronous signals.
func (d *Device) waitError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		metrics.ReadbackFailures.WithLabelValues(d.label, "timeout").Inc()
		d.log.Warn("webgpu: wait timed out", "op", op, "timeout", d.cfg.ReadbackTimeout.String())
		return tensor.NewBackendError(backendName, op, tensor.ErrReadbackTimeout, err)
	case errors.Is(err, gpu.ErrReleased):
		return tensor.NewBackendError(backendName, op, tensor.ErrReleased, err)
	default:
		metrics.ReadbackFailures.WithLabelValues(d.label, "map_failed").Inc()
		return tensor.NewBackendError(backendName, op, tensor.ErrMapFailed, err)
	}
}

// encode records commands with fill and submits them, waiting for completion.
func (d *Device) encode(op string, fill func(gpu.Encoder) error) error {
	enc, err := d.gpu.NewEncoder()
	if err != nil {
		return tensor.NewBackendError(backendName, op, tensor.ErrReleased, err)
	}
	if err := fill(enc); err != nil {
		return tensor.NewBackendError(backendName, op, tensor.ErrLayout, err)
	}
	cmd, err := enc.Finish()
	if err != nil {
		return tensor.NewBackendError(backendName, op, tensor.ErrLayout, err)
	}
	defer cmd.Release()

	ctx, cancel := d.readbackContext()
	defer cancel()
	if err := d.submitAndWait(ctx, cmd); err != nil {
		return d.waitError(op, err)
	}
	return nil
}

// readBuffer copies the first n bytes of src to host memory using the
// read-back protocol: staging buffer, device copy, queue completion, then
// the mapping acknowledgment.
func (d *Device) readBuffer(op string, src gpu.Buffer, n uint64) ([]byte, error) {
	start := time.Now()
	size := max(gpu.AlignSize(n), gpu.CopyAlignment)

	// 1. Staging buffer the host can map.
	staging, err := d.pool.Acquire(size, gpu.UsageMapRead|gpu.UsageCopyDst)
	if err != nil {
		return nil, err
	}
	reusable := false
	defer func() {
		if reusable {
			d.pool.Release(staging)
		} else {
			d.free(staging)
		}
	}()

	// 2. Device-side copy into the staging buffer.
	enc, err := d.gpu.NewEncoder()
	if err != nil {
		return nil, tensor.NewBackendError(backendName, op, tensor.ErrReleased, err)
	}
	if err := enc.CopyBufferToBuffer(src, 0, staging, 0, size); err != nil {
		return nil, tensor.NewBackendError(backendName, op, tensor.ErrLayout, err)
	}
	cmd, err := enc.Finish()
	if err != nil {
		return nil, tensor.NewBackendError(backendName, op, tensor.ErrLayout, err)
	}
	defer cmd.Release()

	ctx, cancel := d.readbackContext()
	defer cancel()

	// 3. Queue completion.
	if err := d.submitAndWait(ctx, cmd); err != nil {
		return nil, d.waitError(op, err)
	}

	// 4. Mapping acknowledgment. Queue completion does not imply the
	// mapping is ready.
	if err := await(ctx, d.gpu.MapRead(staging)); err != nil {
		return nil, d.waitError(op, err)
	}
	mapped, err := d.gpu.MappedRange(staging)
	if err != nil {
		return nil, d.waitError(op, err)
	}
	out := make([]byte, n)
	copy(out, mapped[:n])
	d.gpu.Unmap(staging)
	reusable = true

	metrics.ObserveReadback(d.label, start)
	return out, nil
}

// kernel returns the compiled kernel for op and dt, compiling it on first use.
// ok is false when no kernel exists or the driver cannot dispatch kernels.
func (d *Device) kernel(op string, dt tensor.DType) (gpu.Kernel, bool, error) {
	if !d.gpu.SupportsKernels() {
		return nil, false, nil
	}
	blob, ok := d.kernels.Lookup(op, dt)
	if !ok {
		return nil, false, nil
	}
	name := kernels.Name(op, dt)

	d.mu.RLock()
	if k, exists := d.compiled[name]; exists {
		d.mu.RUnlock()
		return k, true, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if k, exists := d.compiled[name]; exists {
		return k, true, nil
	}
	k, err := d.gpu.CompileKernel(name, blob)
	if err != nil {
		if errors.Is(err, gpu.ErrKernelCompile) || errors.Is(err, gpu.ErrNoKernelSupport) {
			d.log.Debug("webgpu: kernel unavailable", "kernel", name, "err", err)
			return nil, false, nil
		}
		return nil, false, err
	}
	d.compiled[name] = k
	return k, true, nil
}
