// Package soft implements a gpu.Driver backed by host memory.
//
// Each device owns one queue goroutine. Submissions and map requests execute
// on that goroutine in the order they were made, and their completion is
// signaled asynchronously through the channels returned by Submit and
// MapRead, the same way a hardware queue reports back.
package soft

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/born-ml/compute/internal/gpu"
)

// Options configures the software driver.
type Options struct {
	Adapters       int           // Number of enumerable adapters.
	QueueLatency   time.Duration // Artificial delay before each queued job.
	MaxBufferSize  uint64        // Per-buffer limit, 0 means DefaultMaxBufferSize.
	EmulateKernels bool          // Execute known kernels on the host.
}

// DefaultMaxBufferSize matches the WebGPU default maxBufferSize limit.
const DefaultMaxBufferSize = 256 << 20

// DefaultOptions returns one adapter with kernel emulation enabled.
func DefaultOptions() Options {
	return Options{Adapters: 1, MaxBufferSize: DefaultMaxBufferSize, EmulateKernels: true}
}

// Driver is the software gpu.Driver.
type Driver struct {
	opts Options
}

// New creates a software driver.
func New(opts Options) *Driver {
	if opts.Adapters < 1 {
		opts.Adapters = 1
	}
	if opts.MaxBufferSize == 0 {
		opts.MaxBufferSize = DefaultMaxBufferSize
	}
	return &Driver{opts: opts}
}

// Name implements gpu.Driver.
func (d *Driver) Name() string { return gpu.DriverSoft }

// Adapters implements gpu.Driver.
func (d *Driver) Adapters() ([]gpu.AdapterInfo, error) {
	out := make([]gpu.AdapterInfo, d.opts.Adapters)
	for i := range out {
		out[i] = adapterInfo(i)
	}
	return out, nil
}

func adapterInfo(ordinal int) gpu.AdapterInfo {
	return gpu.AdapterInfo{
		Ordinal:      ordinal,
		Driver:       gpu.DriverSoft,
		Name:         fmt.Sprintf("Soft Adapter %d", ordinal),
		Vendor:       "born",
		Architecture: "host",
		Backend:      "software",
	}
}

// Open implements gpu.Driver.
func (d *Driver) Open(sel gpu.Selector) (gpu.Device, error) {
	return d.OpenDevice(sel)
}

// OpenDevice is Open returning the concrete device.
func (d *Driver) OpenDevice(sel gpu.Selector) (*Device, error) {
	if sel.Ordinal < 0 || sel.Ordinal >= d.opts.Adapters {
		return nil, fmt.Errorf("%w: ordinal %d, %d soft adapters", gpu.ErrNoAdapter, sel.Ordinal, d.opts.Adapters)
	}
	dev := &Device{
		info: adapterInfo(sel.Ordinal),
		opts: d.opts,
		jobs: make(chan job, 64),
	}
	dev.wg.Add(1)
	go dev.run()
	return dev, nil
}

type job struct {
	run  func() error
	done chan error
	drop bool
}

// Device is a software device with an asynchronous in-order queue.
type Device struct {
	info gpu.AdapterInfo
	opts Options

	jobs   chan job
	mu     sync.Mutex // guards closed and sends on jobs
	closed bool
	wg     sync.WaitGroup

	failMaps    atomic.Int32
	dropMaps    atomic.Int32
	dropSubmits atomic.Int32

	submissions atomic.Uint64
	liveBuffers atomic.Int64
}

func (d *Device) run() {
	defer d.wg.Done()
	for j := range d.jobs {
		if d.opts.QueueLatency > 0 {
			time.Sleep(d.opts.QueueLatency)
		}
		err := j.run()
		if j.drop {
			continue
		}
		j.done <- err
	}
}

func (d *Device) enqueue(run func() error, drop bool) <-chan error {
	done := make(chan error, 1)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		done <- gpu.ErrReleased
		return done
	}
	d.jobs <- job{run: run, done: done, drop: drop}
	return done
}

// Info implements gpu.Device.
func (d *Device) Info() gpu.AdapterInfo { return d.info }

// Limits implements gpu.Device.
func (d *Device) Limits() gpu.Limits {
	return gpu.Limits{MaxBufferSize: d.opts.MaxBufferSize, CopyAlignment: gpu.CopyAlignment}
}

// CreateBuffer implements gpu.Device. Contents are zeroed.
func (d *Device) CreateBuffer(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
	if size > d.opts.MaxBufferSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", gpu.ErrBufferTooLarge, size, d.opts.MaxBufferSize)
	}
	if size%gpu.CopyAlignment != 0 {
		return nil, fmt.Errorf("%w: %d bytes", gpu.ErrMisalignedBuffer, size)
	}
	if d.isClosed() {
		return nil, gpu.ErrReleased
	}
	d.liveBuffers.Add(1)
	return &buffer{dev: d, size: size, usage: usage, data: make([]byte, size)}, nil
}

// CreateBufferInit implements gpu.Device.
func (d *Device) CreateBufferInit(data []byte, usage gpu.BufferUsage) (gpu.Buffer, error) {
	b, err := d.CreateBuffer(uint64(len(data)), usage)
	if err != nil {
		return nil, err
	}
	copy(b.(*buffer).data, data)
	return b, nil
}

// NewEncoder implements gpu.Device.
func (d *Device) NewEncoder() (gpu.Encoder, error) {
	if d.isClosed() {
		return nil, gpu.ErrReleased
	}
	return &encoder{dev: d}, nil
}

// Submit implements gpu.Device.
func (d *Device) Submit(cmds ...gpu.CommandBuffer) <-chan error {
	var ops []func() error
	for _, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok || cb.dev != d {
			return gpu.Done(fmt.Errorf("soft: foreign command buffer %T", c))
		}
		if cb.submitted {
			return gpu.Done(fmt.Errorf("soft: command buffer submitted twice"))
		}
		cb.submitted = true
		ops = append(ops, cb.ops...)
	}
	d.submissions.Add(1)
	return d.enqueue(func() error {
		for _, op := range ops {
			if err := op(); err != nil {
				return err
			}
		}
		return nil
	}, takeOne(&d.dropSubmits))
}

// MapRead implements gpu.Device.
func (d *Device) MapRead(b gpu.Buffer) <-chan error {
	buf, err := d.own(b)
	if err != nil {
		return gpu.Done(err)
	}
	if !buf.usage.Has(gpu.UsageMapRead) {
		return gpu.Done(fmt.Errorf("%w: buffer usage %s lacks map_read", gpu.ErrMapRejected, buf.usage))
	}
	fail := takeOne(&d.failMaps)
	return d.enqueue(func() error {
		buf.mu.Lock()
		defer buf.mu.Unlock()
		switch {
		case fail:
			return fmt.Errorf("%w: injected failure", gpu.ErrMapRejected)
		case buf.released:
			return fmt.Errorf("%w: buffer released", gpu.ErrMapRejected)
		case buf.mapped:
			return fmt.Errorf("%w: buffer already mapped", gpu.ErrMapRejected)
		}
		buf.mapped = true
		return nil
	}, takeOne(&d.dropMaps))
}

// MappedRange implements gpu.Device.
func (d *Device) MappedRange(b gpu.Buffer) ([]byte, error) {
	buf, err := d.own(b)
	if err != nil {
		return nil, err
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if !buf.mapped {
		return nil, gpu.ErrNotMapped
	}
	return buf.data, nil
}

// Unmap implements gpu.Device.
func (d *Device) Unmap(b gpu.Buffer) {
	if buf, err := d.own(b); err == nil {
		buf.mu.Lock()
		buf.mapped = false
		buf.mu.Unlock()
	}
}

// SupportsKernels implements gpu.Device.
func (d *Device) SupportsKernels() bool { return d.opts.EmulateKernels }

// CompileKernel implements gpu.Device. The source is not interpreted; the
// kernel is resolved by name against the host emulations.
func (d *Device) CompileKernel(name string, _ []byte) (gpu.Kernel, error) {
	if !d.opts.EmulateKernels {
		return nil, gpu.ErrNoKernelSupport
	}
	fn, ok := lookupKernel(name)
	if !ok {
		return nil, fmt.Errorf("%w: no host emulation for %q", gpu.ErrKernelCompile, name)
	}
	return &kernel{name: name, fn: fn}, nil
}

// Release stops the queue after draining queued jobs.
func (d *Device) Release() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) own(b gpu.Buffer) (*buffer, error) {
	buf, ok := b.(*buffer)
	if !ok || buf.dev != d {
		return nil, fmt.Errorf("soft: buffer %T does not belong to %s", b, d.info)
	}
	return buf, nil
}

// FailNextMap makes the next MapRead request fail with gpu.ErrMapRejected.
func (d *Device) FailNextMap() { d.failMaps.Add(1) }

// DropNextMap makes the next MapRead request never signal completion.
func (d *Device) DropNextMap() { d.dropMaps.Add(1) }

// DropNextSubmit makes the next Submit never signal completion. The commands still execute.
func (d *Device) DropNextSubmit() { d.dropSubmits.Add(1) }

// Submissions returns the number of accepted submissions.
func (d *Device) Submissions() uint64 { return d.submissions.Load() }

// LiveBuffers returns the number of created and not yet released buffers.
func (d *Device) LiveBuffers() int64 { return d.liveBuffers.Load() }

func takeOne(c *atomic.Int32) bool {
	for {
		n := c.Load()
		if n <= 0 {
			return false
		}
		if c.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

type buffer struct {
	dev   *Device
	size  uint64
	usage gpu.BufferUsage

	mu       sync.Mutex
	data     []byte
	mapped   bool
	released bool
}

func (b *buffer) Size() uint64 { return b.size }
func (b *buffer) Usage() gpu.BufferUsage { return b.usage }
func (b *buffer) String() string { return fmt.Sprintf("soft.Buffer(%d, %s)", b.size, b.usage) }

func (b *buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	b.mapped = false
	b.data = nil
	b.dev.liveBuffers.Add(-1)
}

type kernel struct {
	name string
	fn   hostKernel
}

func (k *kernel) Name() string { return k.name }
func (k *kernel) Release()     {}

type commandBuffer struct {
	dev       *Device
	ops       []func() error
	submitted bool
}

func (c *commandBuffer) Release() { c.ops = nil }
