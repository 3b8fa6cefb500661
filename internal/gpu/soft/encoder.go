package soft

import (
	"fmt"

	"github.com/born-ml/compute/internal/gpu"
)

type encoder struct {
	dev      *Device
	ops      []func() error
	finished bool
}

// CopyBufferToBuffer validates the copy now and records it for execution on the queue.
func (e *encoder) CopyBufferToBuffer(src gpu.Buffer, srcOffset uint64, dst gpu.Buffer, dstOffset uint64, size uint64) error {
	if e.finished {
		return fmt.Errorf("%w: encoder already finished", gpu.ErrInvalidCopy)
	}
	s, err := e.dev.own(src)
	if err != nil {
		return err
	}
	d, err := e.dev.own(dst)
	if err != nil {
		return err
	}
	switch {
	case s == d:
		return fmt.Errorf("%w: source and destination are the same buffer", gpu.ErrInvalidCopy)
	case !s.usage.Has(gpu.UsageCopySrc):
		return fmt.Errorf("%w: source usage %s lacks copy_src", gpu.ErrInvalidCopy, s.usage)
	case !d.usage.Has(gpu.UsageCopyDst):
		return fmt.Errorf("%w: destination usage %s lacks copy_dst", gpu.ErrInvalidCopy, d.usage)
	case srcOffset%gpu.CopyAlignment != 0 || dstOffset%gpu.CopyAlignment != 0 || size%gpu.CopyAlignment != 0:
		return fmt.Errorf("%w: offsets %d/%d and size %d must be multiples of %d",
			gpu.ErrInvalidCopy, srcOffset, dstOffset, size, gpu.CopyAlignment)
	case srcOffset+size > s.size || dstOffset+size > d.size:
		return fmt.Errorf("%w: copy of %d bytes out of range (src %d+%d, dst %d+%d)",
			gpu.ErrInvalidCopy, size, s.size, srcOffset, d.size, dstOffset)
	}

	e.ops = append(e.ops, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		d.mu.Lock()
		defer d.mu.Unlock()
		if s.released || d.released {
			return fmt.Errorf("%w: buffer released before copy executed", gpu.ErrInvalidCopy)
		}
		if d.mapped {
			return fmt.Errorf("%w: destination is mapped", gpu.ErrInvalidCopy)
		}
		copy(d.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
		return nil
	})
	return nil
}

// Dispatch records a kernel invocation. The grid is not used by host
// emulations, which cover the full binding range.
func (e *encoder) Dispatch(k gpu.Kernel, _ gpu.Grid, bindings ...gpu.Buffer) error {
	kn, ok := k.(*kernel)
	if !ok {
		return fmt.Errorf("%w: foreign kernel %T", gpu.ErrNoKernelSupport, k)
	}
	bufs := make([]*buffer, len(bindings))
	for i, b := range bindings {
		buf, err := e.dev.own(b)
		if err != nil {
			return err
		}
		bufs[i] = buf
	}

	e.ops = append(e.ops, func() error {
		locked := make(map[*buffer]bool, len(bufs))
		data := make([][]byte, len(bufs))
		for i, b := range bufs {
			if !locked[b] {
				b.mu.Lock()
				locked[b] = true
			}
			data[i] = b.data
		}
		defer func() {
			for b := range locked {
				b.mu.Unlock()
			}
		}()
		for _, b := range bufs {
			if b.released {
				return fmt.Errorf("soft: %s: binding released before dispatch", kn.name)
			}
		}
		return kn.fn(data)
	})
	return nil
}

// Finish implements gpu.Encoder.
func (e *encoder) Finish() (gpu.CommandBuffer, error) {
	if e.finished {
		return nil, fmt.Errorf("soft: encoder already finished")
	}
	e.finished = true
	return &commandBuffer{dev: e.dev, ops: e.ops}, nil
}
