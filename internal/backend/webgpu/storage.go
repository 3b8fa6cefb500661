package webgpu

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/born-ml/compute/internal/gpu"
	"github.com/born-ml/compute/internal/metrics"
	"github.com/born-ml/compute/internal/tensor"
)

// deviceBuffer is the single buffer owned by a Storage.
type deviceBuffer struct {
	dev  *Device
	buf  gpu.Buffer
	once sync.Once
	mu   sync.RWMutex
	gone bool
}

func (b *deviceBuffer) release() {
	b.once.Do(func() {
		b.mu.Lock()
		b.gone = true
		b.mu.Unlock()
		b.dev.free(b.buf)
	})
}

// Storage is a device-resident, dtype-tagged buffer owned by one Device.
// Its size is count * dtype width rounded up to the copy alignment.
type Storage struct {
	dev   *Device
	buf   *deviceBuffer
	dtype tensor.DType
	count int
}

// newStorage wraps buf. The buffer is released when the Storage becomes
// unreachable or when Release is called, whichever happens first.
func (d *Device) newStorage(buf gpu.Buffer, dt tensor.DType, count int) *Storage {
	db := &deviceBuffer{dev: d, buf: buf}
	s := &Storage{dev: d, buf: db, dtype: dt, count: count}
	runtime.AddCleanup(s, func(b *deviceBuffer) { b.release() }, db)
	return s
}

// DType implements tensor.Storage.
func (s *Storage) DType() tensor.DType { return s.dtype }

// Device implements tensor.Storage.
func (s *Storage) Device() tensor.Device { return s.dev }

// Len returns the number of elements.
func (s *Storage) Len() int { return s.count }

// ByteSize returns the logical size in bytes, before alignment padding.
func (s *Storage) ByteSize() uint64 {
	//nolint:gosec // G115: element counts are non-negative
	return uint64(s.count * s.dtype.Size())
}

// Release frees the buffer now instead of waiting for garbage collection.
func (s *Storage) Release() { s.buf.release() }

// String implements fmt.Stringer.
func (s *Storage) String() string {
	return fmt.Sprintf("webgpu.Storage(%s, len=%d, %s)", s.dtype, s.count, s.dev.label)
}

// buffer returns the live buffer, failing if the storage or its device was released.
func (s *Storage) buffer(op string) (gpu.Buffer, error) {
	if err := s.dev.checkAlive(op); err != nil {
		return nil, err
	}
	s.buf.mu.RLock()
	defer s.buf.mu.RUnlock()
	if s.buf.gone {
		return nil, tensor.NewBackendError(backendName, op, tensor.ErrReleased, fmt.Errorf("storage %s", s))
	}
	return s.buf.buf, nil
}

// peer converts other into a Storage of the same device.
func (s *Storage) peer(op string, other tensor.Storage) (*Storage, error) {
	o, ok := other.(*Storage)
	if !ok {
		return nil, tensor.Mismatch(backendName, op, fmt.Sprintf("%s storage combined with %T", s.dev.label, other))
	}
	if o.dev != s.dev {
		return nil, tensor.Mismatch(backendName, op, fmt.Sprintf("%s storage combined with %s storage", s.dev.label, o.dev.label))
	}
	return o, nil
}

func (s *Storage) unimplemented(op string) error {
	metrics.UnimplementedOps.WithLabelValues(backendName, op).Inc()
	s.dev.log.Debug("webgpu: unimplemented op", "op", op, "dtype", s.dtype.String())
	return tensor.Unimplemented(backendName, op)
}

// unimplementedWith reports op as unimplemented once every operand is known
// to belong to this device; a foreign operand is a mismatch.
func (s *Storage) unimplementedWith(op string, operands ...tensor.Storage) error {
	for _, o := range operands {
		if _, err := s.peer(op, o); err != nil {
			return err
		}
	}
	return s.unimplemented(op)
}

func (s *Storage) checkLayout(op string, l tensor.Layout) error {
	if err := l.CheckBounds(s.count); err != nil {
		return tensor.NewBackendError(backendName, op, tensor.ErrLayout, err)
	}
	return nil
}

// StorageFromHost implements tensor.Device. The host bytes are uploaded
// unchanged; no numeric conversion takes place.
func (d *Device) StorageFromHost(h *tensor.HostStorage) (tensor.Storage, error) {
	return d.fromHost(tensor.OpStorageFromHost, h)
}

func (d *Device) fromHost(op string, h *tensor.HostStorage) (*Storage, error) {
	if err := d.checkAlive(op); err != nil {
		return nil, err
	}
	buf, err := d.upload(h.Bytes(), storageUsage)
	if err != nil {
		return nil, err
	}
	return d.newStorage(buf, h.DType(), h.Len()), nil
}

// Zeros implements tensor.Device.
func (d *Device) Zeros(shape tensor.Shape, dt tensor.DType) (tensor.Storage, error) {
	if err := shape.Validate(); err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpZeros, tensor.ErrLayout, err)
	}
	h, err := tensor.NewHostStorage(dt, shape.NumElements())
	if err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpZeros, tensor.ErrDType, err)
	}
	return d.fromHost(tensor.OpZeros, h)
}

// Ones implements tensor.Device.
func (d *Device) Ones(shape tensor.Shape, dt tensor.DType) (tensor.Storage, error) {
	if err := shape.Validate(); err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpOnes, tensor.ErrLayout, err)
	}
	if !dt.Valid() {
		return nil, tensor.DTypeErrorf(backendName, tensor.OpOnes, "unknown dtype %d", int(dt))
	}
	return d.fromHost(tensor.OpOnes, tensor.Ones(dt, shape.NumElements()))
}

// RandUniform implements tensor.Device. Samples are drawn on the host and uploaded.
func (d *Device) RandUniform(shape tensor.Shape, dt tensor.DType, lo, hi float64) (tensor.Storage, error) {
	if err := shape.Validate(); err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpRandUniform, tensor.ErrLayout, err)
	}
	h, err := tensor.RandUniform(dt, shape.NumElements(), lo, hi)
	if err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpRandUniform, tensor.ErrDType, err)
	}
	return d.fromHost(tensor.OpRandUniform, h)
}

// RandNormal implements tensor.Device. Samples are drawn on the host and uploaded.
func (d *Device) RandNormal(shape tensor.Shape, dt tensor.DType, mean, std float64) (tensor.Storage, error) {
	if err := shape.Validate(); err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpRandNormal, tensor.ErrLayout, err)
	}
	h, err := tensor.RandNormal(dt, shape.NumElements(), mean, std)
	if err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpRandNormal, tensor.ErrDType, err)
	}
	return d.fromHost(tensor.OpRandNormal, h)
}

// Clone implements tensor.Storage with a device-side buffer copy.
// The whole storage is duplicated; l is only checked against its bounds.
func (s *Storage) Clone(l tensor.Layout) (tensor.Storage, error) {
	src, err := s.buffer(tensor.OpClone)
	if err != nil {
		return nil, err
	}
	if err := s.checkLayout(tensor.OpClone, l); err != nil {
		return nil, err
	}
	dst, err := s.dev.allocate(src.Size(), storageUsage)
	if err != nil {
		return nil, err
	}
	err = s.dev.encode(tensor.OpClone, func(enc gpu.Encoder) error {
		return enc.CopyBufferToBuffer(src, 0, dst, 0, src.Size())
	})
	if err != nil {
		s.dev.free(dst)
		return nil, err
	}
	return s.dev.newStorage(dst, s.dtype, s.count), nil
}

// ToHost implements tensor.Storage.
func (s *Storage) ToHost() (*tensor.HostStorage, error) {
	src, err := s.buffer(tensor.OpToHost)
	if err != nil {
		return nil, err
	}
	b, err := s.dev.readBuffer(tensor.OpToHost, src, s.ByteSize())
	if err != nil {
		return nil, err
	}
	h, err := tensor.FromBytes(s.dtype, b)
	if err != nil {
		return nil, tensor.NewBackendError(backendName, tensor.OpToHost, tensor.ErrLayout, err)
	}
	return h, nil
}

// CopyStridedSrc implements tensor.Storage. Contiguous runs of the source
// are copied buffer to buffer when every run is aligned to the copy
// alignment; otherwise the copy is staged through host memory.
func (s *Storage) CopyStridedSrc(dst tensor.Storage, dstOffset int, srcL tensor.Layout) error {
	const op = tensor.OpCopyStridedSrc
	d, err := s.peer(op, dst)
	if err != nil {
		return err
	}
	if d.dtype != s.dtype {
		return tensor.DTypeErrorf(backendName, op, "copy from %s into %s", s.dtype, d.dtype)
	}
	if err := s.checkLayout(op, srcL); err != nil {
		return err
	}
	n := srcL.NumElements()
	if dstOffset < 0 || dstOffset+n > d.count {
		return tensor.LayoutErrorf(backendName, op, "destination range [%d, %d) exceeds %d elements", dstOffset, dstOffset+n, d.count)
	}
	srcBuf, err := s.buffer(op)
	if err != nil {
		return err
	}
	dstBuf, err := d.buffer(op)
	if err != nil {
		return err
	}

	w := s.dtype.Size()
	starts, blockLen := srcL.Blocks()
	if srcBuf != dstBuf && blocksAligned(starts, blockLen, dstOffset, w) {
		return s.dev.encode(op, func(enc gpu.Encoder) error {
			pos := dstOffset
			for _, start := range starts {
				//nolint:gosec // G115: offsets are validated non-negative above
				if err := enc.CopyBufferToBuffer(srcBuf, uint64(start*w), dstBuf, uint64(pos*w), uint64(blockLen*w)); err != nil {
					return err
				}
				pos += blockLen
			}
			return nil
		})
	}
	return s.copyStridedStaged(d, dstOffset, srcL)
}

func blocksAligned(starts []int, blockLen, dstOffset, width int) bool {
	if (blockLen*width)%gpu.CopyAlignment != 0 || (dstOffset*width)%gpu.CopyAlignment != 0 {
		return false
	}
	for _, s := range starts {
		if (s*width)%gpu.CopyAlignment != 0 {
			return false
		}
	}
	return true
}

// copyStridedStaged reads both storages back, applies the strided copy on the
// host and writes the destination buffer with a device-side copy.
func (s *Storage) copyStridedStaged(d *Storage, dstOffset int, srcL tensor.Layout) error {
	const op = tensor.OpCopyStridedSrc
	src, err := s.ToHost()
	if err != nil {
		return err
	}
	host, err := d.ToHost()
	if err != nil {
		return err
	}
	if err := tensor.CopyStrided(src, srcL, host, dstOffset); err != nil {
		return tensor.NewBackendError(backendName, op, tensor.ErrLayout, err)
	}

	dstBuf, err := d.buffer(op)
	if err != nil {
		return err
	}
	tmp, err := s.dev.upload(host.Bytes(), gpu.UsageCopySrc)
	if err != nil {
		return err
	}
	defer s.dev.free(tmp)
	return s.dev.encode(op, func(enc gpu.Encoder) error {
		return enc.CopyBufferToBuffer(tmp, 0, dstBuf, 0, tmp.Size())
	})
}

// contiguous returns a storage holding the elements of l in row-major order,
// or s itself when l already addresses s that way from element 0.
func (s *Storage) contiguous(op string, l tensor.Layout) (*Storage, error) {
	if err := s.checkLayout(op, l); err != nil {
		return nil, err
	}
	if l.IsContiguous() && l.Offset() == 0 {
		return s, nil
	}
	n := l.NumElements()
	buf, err := s.dev.allocate(uint64(n*s.dtype.Size()), storageUsage) //nolint:gosec // G115: n > 0
	if err != nil {
		return nil, err
	}
	out := s.dev.newStorage(buf, s.dtype, n)
	if err := s.CopyStridedSrc(out, 0, l); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}
