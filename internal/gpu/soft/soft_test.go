package soft

import (
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/born-ml/compute/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDevice(t *testing.T, opts Options) *Device {
	t.Helper()
	dev, err := New(opts).OpenDevice(gpu.Selector{Driver: gpu.DriverSoft})
	require.NoError(t, err)
	t.Cleanup(dev.Release)
	return dev
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("completion signal did not arrive")
		return nil
	}
}

func f32Bytes(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func readBack(t *testing.T, dev *Device, src gpu.Buffer) []byte {
	t.Helper()
	staging, err := dev.CreateBuffer(src.Size(), gpu.UsageMapRead|gpu.UsageCopyDst)
	require.NoError(t, err)
	defer staging.Release()

	enc, err := dev.NewEncoder()
	require.NoError(t, err)
	require.NoError(t, enc.CopyBufferToBuffer(src, 0, staging, 0, src.Size()))
	cmd, err := enc.Finish()
	require.NoError(t, err)

	require.NoError(t, wait(t, dev.Submit(cmd)))
	require.NoError(t, wait(t, dev.MapRead(staging)))
	mapped, err := dev.MappedRange(staging)
	require.NoError(t, err)
	out := append([]byte(nil), mapped...)
	dev.Unmap(staging)
	return out
}

func TestDriver_Adapters(t *testing.T) {
	d := New(Options{Adapters: 3})
	assert.Equal(t, gpu.DriverSoft, d.Name())

	infos, err := d.Adapters()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, 2, infos[2].Ordinal)
	assert.Equal(t, gpu.DriverSoft, infos[2].Driver)

	_, err = d.Open(gpu.Selector{Ordinal: 3})
	assert.ErrorIs(t, err, gpu.ErrNoAdapter)
}

func TestDevice_RoundTrip(t *testing.T) {
	dev := openDevice(t, DefaultOptions())

	data := f32Bytes(1, 2, 3, 4)
	buf, err := dev.CreateBufferInit(data, gpu.UsageStorage|gpu.UsageCopySrc|gpu.UsageCopyDst)
	require.NoError(t, err)
	defer buf.Release()

	assert.Equal(t, data, readBack(t, dev, buf))
	assert.Equal(t, uint64(1), dev.Submissions())
}

func TestDevice_MappedRangeRequiresMapping(t *testing.T) {
	dev := openDevice(t, DefaultOptions())

	staging, err := dev.CreateBuffer(16, gpu.UsageMapRead|gpu.UsageCopyDst)
	require.NoError(t, err)

	_, err = dev.MappedRange(staging)
	assert.ErrorIs(t, err, gpu.ErrNotMapped)

	storage, err := dev.CreateBuffer(16, gpu.UsageStorage)
	require.NoError(t, err)
	assert.ErrorIs(t, wait(t, dev.MapRead(storage)), gpu.ErrMapRejected)
}

func TestDevice_MapOrderedAfterSubmit(t *testing.T) {
	dev := openDevice(t, Options{Adapters: 1, QueueLatency: 5 * time.Millisecond})

	src, err := dev.CreateBufferInit(f32Bytes(7, 8), gpu.UsageCopySrc)
	require.NoError(t, err)
	staging, err := dev.CreateBuffer(8, gpu.UsageMapRead|gpu.UsageCopyDst)
	require.NoError(t, err)

	enc, err := dev.NewEncoder()
	require.NoError(t, err)
	require.NoError(t, enc.CopyBufferToBuffer(src, 0, staging, 0, 8))
	cmd, err := enc.Finish()
	require.NoError(t, err)

	// Request the mapping without waiting for the submission first.
	submitted := dev.Submit(cmd)
	mapped := dev.MapRead(staging)

	require.NoError(t, wait(t, mapped))
	require.NoError(t, wait(t, submitted))

	b, err := dev.MappedRange(staging)
	require.NoError(t, err)
	assert.Equal(t, f32Bytes(7, 8), b)
}

func TestDevice_InjectedFailures(t *testing.T) {
	dev := openDevice(t, DefaultOptions())

	staging, err := dev.CreateBuffer(4, gpu.UsageMapRead|gpu.UsageCopyDst)
	require.NoError(t, err)

	dev.FailNextMap()
	assert.ErrorIs(t, wait(t, dev.MapRead(staging)), gpu.ErrMapRejected)

	dev.DropNextMap()
	select {
	case <-dev.MapRead(staging):
		t.Fatal("dropped map request signaled")
	case <-time.After(20 * time.Millisecond):
	}

	// The dropped request still mapped the buffer. Drain the queue, unmap and retry.
	require.NoError(t, wait(t, dev.Submit()))
	dev.Unmap(staging)
	assert.NoError(t, wait(t, dev.MapRead(staging)))
}

func TestEncoder_InvalidCopies(t *testing.T) {
	dev := openDevice(t, DefaultOptions())

	src, err := dev.CreateBuffer(16, gpu.UsageCopySrc)
	require.NoError(t, err)
	dst, err := dev.CreateBuffer(16, gpu.UsageCopyDst)
	require.NoError(t, err)
	noUsage, err := dev.CreateBuffer(16, gpu.UsageStorage)
	require.NoError(t, err)

	tests := []struct {
		name     string
		src, dst gpu.Buffer
		srcOff   uint64
		dstOff   uint64
		size     uint64
	}{
		{"same buffer", src, src, 0, 0, 4},
		{"src lacks copy_src", noUsage, dst, 0, 0, 4},
		{"dst lacks copy_dst", src, noUsage, 0, 0, 4},
		{"misaligned size", src, dst, 0, 0, 3},
		{"misaligned offset", src, dst, 2, 0, 4},
		{"out of range", src, dst, 8, 0, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := dev.NewEncoder()
			require.NoError(t, err)
			err = enc.CopyBufferToBuffer(tt.src, tt.srcOff, tt.dst, tt.dstOff, tt.size)
			assert.ErrorIs(t, err, gpu.ErrInvalidCopy)
		})
	}
}

func TestDevice_Limits(t *testing.T) {
	dev := openDevice(t, Options{Adapters: 1, MaxBufferSize: 64})

	_, err := dev.CreateBuffer(128, gpu.UsageStorage)
	assert.ErrorIs(t, err, gpu.ErrBufferTooLarge)

	_, err = dev.CreateBuffer(6, gpu.UsageStorage)
	assert.ErrorIs(t, err, gpu.ErrMisalignedBuffer)

	assert.Equal(t, uint64(64), dev.Limits().MaxBufferSize)
}

func TestDevice_Release(t *testing.T) {
	dev, err := New(DefaultOptions()).OpenDevice(gpu.Selector{})
	require.NoError(t, err)

	buf, err := dev.CreateBuffer(8, gpu.UsageStorage)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dev.LiveBuffers())
	buf.Release()
	buf.Release()
	assert.Equal(t, int64(0), dev.LiveBuffers())

	dev.Release()
	dev.Release()
	assert.ErrorIs(t, wait(t, dev.Submit()), gpu.ErrReleased)
	_, err = dev.CreateBuffer(8, gpu.UsageStorage)
	assert.ErrorIs(t, err, gpu.ErrReleased)
}

func TestDevice_ConcurrentSubmissions(t *testing.T) {
	dev := openDevice(t, DefaultOptions())

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(v float32) {
			defer wg.Done()
			buf, err := dev.CreateBufferInit(f32Bytes(v, v, v), gpu.UsageCopySrc)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, f32Bytes(v, v, v), readBack(t, dev, buf))
		}(float32(i))
	}
	wg.Wait()
}

func TestKernels(t *testing.T) {
	dev := openDevice(t, DefaultOptions())

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params, 3)
	binary.LittleEndian.PutUint32(params[8:], math.Float32bits(2))
	binary.LittleEndian.PutUint32(params[12:], math.Float32bits(1))

	usage := gpu.UsageStorage | gpu.UsageCopySrc | gpu.UsageCopyDst
	a, err := dev.CreateBufferInit(f32Bytes(1, 2, 3), usage)
	require.NoError(t, err)
	b, err := dev.CreateBufferInit(f32Bytes(10, 20, 30), usage)
	require.NoError(t, err)
	p, err := dev.CreateBufferInit(params, gpu.UsageUniform)
	require.NoError(t, err)

	run := func(name string, bindings ...gpu.Buffer) []byte {
		k, err := dev.CompileKernel(name, nil)
		require.NoError(t, err)
		out, err := dev.CreateBuffer(12, usage)
		require.NoError(t, err)

		enc, err := dev.NewEncoder()
		require.NoError(t, err)
		args := append(append([]gpu.Buffer{}, bindings...), out, p)
		require.NoError(t, enc.Dispatch(k, gpu.Grid{X: 1, Y: 1}, args...))
		cmd, err := enc.Finish()
		require.NoError(t, err)
		require.NoError(t, wait(t, dev.Submit(cmd)))
		return readBack(t, dev, out)
	}

	assert.Equal(t, f32Bytes(11, 22, 33), run("add_f32", a, b))
	assert.Equal(t, f32Bytes(1, 4, 9), run("sqr_f32", a))
	assert.Equal(t, f32Bytes(3, 5, 7), run("affine_f32", a))

	_, err = dev.CompileKernel("gelu_f32", nil)
	assert.ErrorIs(t, err, gpu.ErrKernelCompile)

	noKernels := openDevice(t, Options{Adapters: 1})
	assert.False(t, noKernels.SupportsKernels())
	_, err = noKernels.CompileKernel("add_f32", nil)
	assert.ErrorIs(t, err, gpu.ErrNoKernelSupport)
}
