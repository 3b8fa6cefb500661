//go:build windows

// Package native implements gpu.Driver on top of go-webgpu (wgpu-native).
package native

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/born-ml/compute/internal/gpu"
	"github.com/go-webgpu/webgpu/wgpu"
)

// defaultMaxBufferSize is the WebGPU default maxBufferSize limit.
const defaultMaxBufferSize = 256 << 20

// Driver opens devices through wgpu-native.
type Driver struct{}

// New returns the native driver.
func New() *Driver { return &Driver{} }

// Name implements gpu.Driver.
func (d *Driver) Name() string { return gpu.DriverNative }

// Adapters implements gpu.Driver. wgpu-native exposes the preferred adapter only.
func (d *Driver) Adapters() (infos []gpu.AdapterInfo, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			infos = nil
			err = fmt.Errorf("%w: native library not available: %v", gpu.ErrUnavailable, r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, adapterErr := instance.RequestAdapter(nil)
	if adapterErr != nil {
		return nil, fmt.Errorf("%w: %v", gpu.ErrNoAdapter, adapterErr)
	}
	defer adapter.Release()

	return []gpu.AdapterInfo{convertInfo(0, adapter.GetInfo())}, nil
}

// Open implements gpu.Driver.
func (d *Driver) Open(sel gpu.Selector) (dev gpu.Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			dev = nil
			err = fmt.Errorf("%w: native library not available: %v", gpu.ErrUnavailable, r)
		}
	}()

	if sel.Ordinal != 0 {
		return nil, fmt.Errorf("%w: ordinal %d, native driver exposes adapter 0 only", gpu.ErrNoAdapter, sel.Ordinal)
	}

	pref := wgpu.PowerPreferenceHighPerformance
	if sel.PowerPreference == gpu.PowerLowPower {
		pref = wgpu.PowerPreferenceLowPower
	}

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{PowerPreference: pref})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: failed to request adapter: %v", gpu.ErrNoAdapter, adapterErr)
	}

	info := adapter.GetInfo()

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("failed to request device: %w", deviceErr)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("failed to get queue")
	}

	// Source of the per-submission fence copy.
	fenceSrc := device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageCopySrc,
		Size:  gpu.CopyAlignment,
	})

	return &Device{
		info:     convertInfo(0, info),
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    queue,
		fenceSrc: fenceSrc,
	}, nil
}

func convertInfo(ordinal int, info wgpu.AdapterInfo) gpu.AdapterInfo {
	return gpu.AdapterInfo{
		Ordinal:      ordinal,
		Driver:       gpu.DriverNative,
		Name:         info.Device,
		Vendor:       info.Vendor,
		Architecture: info.Architecture,
		Backend:      fmt.Sprintf("%v", info.BackendType),
	}
}

// Device is a wgpu-native logical device and its queue.
type Device struct {
	info     gpu.AdapterInfo
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	fenceSrc *wgpu.Buffer

	mu       sync.Mutex
	released bool
}

// Info implements gpu.Device.
func (d *Device) Info() gpu.AdapterInfo { return d.info }

// Limits implements gpu.Device.
func (d *Device) Limits() gpu.Limits {
	return gpu.Limits{MaxBufferSize: defaultMaxBufferSize, CopyAlignment: gpu.CopyAlignment}
}

func toUsage(u gpu.BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	if u.Has(gpu.UsageMapRead) {
		out |= wgpu.BufferUsageMapRead
	}
	if u.Has(gpu.UsageCopySrc) {
		out |= wgpu.BufferUsageCopySrc
	}
	if u.Has(gpu.UsageCopyDst) {
		out |= wgpu.BufferUsageCopyDst
	}
	if u.Has(gpu.UsageStorage) {
		out |= wgpu.BufferUsageStorage
	}
	if u.Has(gpu.UsageUniform) {
		out |= wgpu.BufferUsageUniform
	}
	return out
}

// CreateBuffer implements gpu.Device.
func (d *Device) CreateBuffer(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
	if size > defaultMaxBufferSize {
		return nil, fmt.Errorf("%w: %d bytes", gpu.ErrBufferTooLarge, size)
	}
	if size%gpu.CopyAlignment != 0 {
		return nil, fmt.Errorf("%w: %d bytes", gpu.ErrMisalignedBuffer, size)
	}
	b := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: toUsage(usage),
		Size:  size,
	})
	if b == nil {
		return nil, fmt.Errorf("%w: driver returned no buffer for %d bytes", gpu.ErrBufferTooLarge, size)
	}
	return &buffer{b: b, size: size, usage: usage}, nil
}

// CreateBufferInit implements gpu.Device using a mapped-at-creation buffer.
func (d *Device) CreateBufferInit(data []byte, usage gpu.BufferUsage) (gpu.Buffer, error) {
	size := uint64(len(data))
	if size > defaultMaxBufferSize {
		return nil, fmt.Errorf("%w: %d bytes", gpu.ErrBufferTooLarge, size)
	}
	if size%gpu.CopyAlignment != 0 {
		return nil, fmt.Errorf("%w: %d bytes", gpu.ErrMisalignedBuffer, size)
	}
	b := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            toUsage(usage),
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	if b == nil {
		return nil, fmt.Errorf("%w: driver returned no buffer for %d bytes", gpu.ErrBufferTooLarge, size)
	}
	if size > 0 {
		mappedPtr := b.GetMappedRange(0, size)
		//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
		copy(unsafe.Slice((*byte)(mappedPtr), size), data)
	}
	b.Unmap()
	return &buffer{b: b, size: size, usage: usage}, nil
}

// NewEncoder implements gpu.Device.
func (d *Device) NewEncoder() (gpu.Encoder, error) {
	return &encoder{dev: d, enc: d.device.CreateCommandEncoder(nil)}, nil
}

// Submit implements gpu.Device. Queue completion is observed through a
// fence: a 4-byte copy submitted after cmds into a map-readable buffer whose
// mapping can only be granted once everything before it has executed.
func (d *Device) Submit(cmds ...gpu.CommandBuffer) <-chan error {
	wcmds := make([]*wgpu.CommandBuffer, 0, len(cmds)+1)
	var owned []*commandBuffer
	for _, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok {
			return gpu.Done(fmt.Errorf("native: foreign command buffer %T", c))
		}
		wcmds = append(wcmds, cb.cb)
		owned = append(owned, cb)
	}

	fence := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  gpu.CopyAlignment,
	})
	enc := d.device.CreateCommandEncoder(nil)
	enc.CopyBufferToBuffer(d.fenceSrc, 0, fence, 0, gpu.CopyAlignment)
	wcmds = append(wcmds, enc.Finish(nil))

	d.queue.Submit(wcmds...)

	done := make(chan error, 1)
	go func() {
		err := fence.MapAsync(d.device, wgpu.MapModeRead, 0, gpu.CopyAlignment)
		if err == nil {
			fence.Unmap()
		}
		fence.Release()
		for _, cb := range owned {
			cb.releaseBindings()
		}
		done <- err
	}()
	return done
}

// MapRead implements gpu.Device.
func (d *Device) MapRead(b gpu.Buffer) <-chan error {
	buf, ok := b.(*buffer)
	if !ok {
		return gpu.Done(fmt.Errorf("native: foreign buffer %T", b))
	}
	if !buf.usage.Has(gpu.UsageMapRead) {
		return gpu.Done(fmt.Errorf("%w: buffer usage %s lacks map_read", gpu.ErrMapRejected, buf.usage))
	}

	done := make(chan error, 1)
	go func() {
		if err := buf.b.MapAsync(d.device, wgpu.MapModeRead, 0, buf.size); err != nil {
			done <- fmt.Errorf("%w: %v", gpu.ErrMapRejected, err)
			return
		}
		buf.mu.Lock()
		buf.mapped = true
		buf.mu.Unlock()
		done <- nil
	}()
	return done
}

// MappedRange implements gpu.Device.
func (d *Device) MappedRange(b gpu.Buffer) ([]byte, error) {
	buf, ok := b.(*buffer)
	if !ok {
		return nil, fmt.Errorf("native: foreign buffer %T", b)
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if !buf.mapped {
		return nil, gpu.ErrNotMapped
	}
	if buf.size == 0 {
		return []byte{}, nil
	}
	mappedPtr := buf.b.GetMappedRange(0, buf.size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	return unsafe.Slice((*byte)(mappedPtr), buf.size), nil
}

// Unmap implements gpu.Device.
func (d *Device) Unmap(b gpu.Buffer) {
	buf, ok := b.(*buffer)
	if !ok {
		return
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.mapped {
		buf.b.Unmap()
		buf.mapped = false
	}
}

// SupportsKernels implements gpu.Device.
func (d *Device) SupportsKernels() bool { return true }

// CompileKernel implements gpu.Device. source is WGSL with a "main" entry point.
func (d *Device) CompileKernel(name string, source []byte) (k gpu.Kernel, err error) {
	defer func() {
		if r := recover(); r != nil {
			k = nil
			err = fmt.Errorf("%w: %s: %v", gpu.ErrKernelCompile, name, r)
		}
	}()
	shader := d.device.CreateShaderModuleWGSL(string(source))
	if shader == nil {
		return nil, fmt.Errorf("%w: %s", gpu.ErrKernelCompile, name)
	}
	// Create compute pipeline with auto layout (nil layout)
	pipeline := d.device.CreateComputePipelineSimple(nil, shader, "main")
	if pipeline == nil {
		shader.Release()
		return nil, fmt.Errorf("%w: %s: pipeline creation failed", gpu.ErrKernelCompile, name)
	}
	return &kernel{name: name, shader: shader, pipeline: pipeline}, nil
}

// Release frees the device, adapter and instance.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	d.released = true

	if d.fenceSrc != nil {
		d.fenceSrc.Release()
	}
	if d.queue != nil {
		d.queue.Release()
	}
	if d.device != nil {
		d.device.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
}

type buffer struct {
	b     *wgpu.Buffer
	size  uint64
	usage gpu.BufferUsage

	mu     sync.Mutex
	mapped bool
	once   sync.Once
}

func (b *buffer) Size() uint64 { return b.size }

func (b *buffer) Usage() gpu.BufferUsage { return b.usage }

func (b *buffer) Release() {
	b.once.Do(b.b.Release)
}

type kernel struct {
	name     string
	shader   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) Release() {
	k.pipeline.Release()
	k.shader.Release()
}

type encoder struct {
	dev        *Device
	enc        *wgpu.CommandEncoder
	bindGroups []*wgpu.BindGroup
}

func (e *encoder) CopyBufferToBuffer(src gpu.Buffer, srcOffset uint64, dst gpu.Buffer, dstOffset uint64, size uint64) error {
	s, ok1 := src.(*buffer)
	d, ok2 := dst.(*buffer)
	if !ok1 || !ok2 {
		return fmt.Errorf("%w: foreign buffer", gpu.ErrInvalidCopy)
	}
	if srcOffset%gpu.CopyAlignment != 0 || dstOffset%gpu.CopyAlignment != 0 || size%gpu.CopyAlignment != 0 {
		return fmt.Errorf("%w: offsets %d/%d and size %d must be multiples of %d",
			gpu.ErrInvalidCopy, srcOffset, dstOffset, size, gpu.CopyAlignment)
	}
	if srcOffset+size > s.size || dstOffset+size > d.size {
		return fmt.Errorf("%w: copy of %d bytes out of range", gpu.ErrInvalidCopy, size)
	}
	e.enc.CopyBufferToBuffer(s.b, srcOffset, d.b, dstOffset, size)
	return nil
}

func (e *encoder) Dispatch(k gpu.Kernel, grid gpu.Grid, bindings ...gpu.Buffer) error {
	kn, ok := k.(*kernel)
	if !ok {
		return fmt.Errorf("%w: foreign kernel %T", gpu.ErrNoKernelSupport, k)
	}
	entries := make([]wgpu.BindGroupEntry, len(bindings))
	for i, b := range bindings {
		buf, ok := b.(*buffer)
		if !ok {
			return fmt.Errorf("native: foreign buffer %T", b)
		}
		//nolint:gosec // G115: binding count is small
		entries[i] = wgpu.BufferBindingEntry(uint32(i), buf.b, 0, buf.size)
	}

	bindGroupLayout := kn.pipeline.GetBindGroupLayout(0)
	bindGroup := e.dev.device.CreateBindGroupSimple(bindGroupLayout, entries)
	e.bindGroups = append(e.bindGroups, bindGroup)

	computePass := e.enc.BeginComputePass(nil)
	computePass.SetPipeline(kn.pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	computePass.DispatchWorkgroups(grid.X, grid.Y, 1)
	computePass.End()
	return nil
}

func (e *encoder) Finish() (gpu.CommandBuffer, error) {
	return &commandBuffer{cb: e.enc.Finish(nil), bindGroups: e.bindGroups}, nil
}

type commandBuffer struct {
	cb         *wgpu.CommandBuffer
	bindGroups []*wgpu.BindGroup
	once       sync.Once
}

// releaseBindings frees bind groups once the submission completed.
func (c *commandBuffer) releaseBindings() {
	c.once.Do(func() {
		for _, bg := range c.bindGroups {
			bg.Release()
		}
	})
}

func (c *commandBuffer) Release() {}
