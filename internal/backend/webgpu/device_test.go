package webgpu

import (
	"sync"
	"testing"
	"time"

	"github.com/born-ml/compute/internal/config"
	"github.com/born-ml/compute/internal/gpu"
	"github.com/born-ml/compute/internal/gpu/soft"
	"github.com/born-ml/compute/internal/metrics"
	"github.com/born-ml/compute/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDevice opens a soft-driver device context.
func newTestDevice(t *testing.T, mutate ...func(*config.Device)) (*Device, *soft.Device) {
	t.Helper()
	cfg := config.Default().Device
	cfg.Driver = config.DriverSoft
	cfg.ReadbackTimeout = 2 * time.Second
	for _, m := range mutate {
		m(&cfg)
	}
	sd, err := soft.New(soft.Options{
		Adapters:       1,
		QueueLatency:   cfg.Soft.QueueLatency,
		MaxBufferSize:  cfg.Soft.MaxBufferSize,
		EmulateKernels: true,
	}).OpenDevice(gpu.Selector{Driver: gpu.DriverSoft})
	require.NoError(t, err)

	d := FromGPU(sd, cfg)
	t.Cleanup(d.Release)
	return d, sd
}

func upload(t *testing.T, d *Device, h *tensor.HostStorage) *Storage {
	t.Helper()
	s, err := d.StorageFromHost(h)
	require.NoError(t, err)
	return s.(*Storage)
}

func readBack(t *testing.T, s tensor.Storage) *tensor.HostStorage {
	t.Helper()
	h, err := s.ToHost()
	require.NoError(t, err)
	return h
}

func TestNew_Soft(t *testing.T) {
	cfg := config.Default().Device
	cfg.Driver = config.DriverSoft
	cfg.Soft.Adapters = 2
	cfg.Ordinal = 1

	d, err := New(cfg)
	require.NoError(t, err)
	defer d.Release()

	assert.Equal(t, "webgpu", d.Name())
	assert.Equal(t, tensor.Location{Kind: "webgpu", Ordinal: 1}, d.Location())
	assert.Equal(t, gpu.DriverSoft, d.AdapterInfo().Driver)
	assert.True(t, d.SameDevice(d))
}

func TestNew_Errors(t *testing.T) {
	cfg := config.Default().Device
	cfg.Driver = config.DriverSoft
	cfg.Ordinal = 3

	_, err := New(cfg)
	assert.ErrorIs(t, err, tensor.ErrDeviceInit)

	cfg.Driver = "vulkan"
	_, err = New(cfg)
	assert.ErrorIs(t, err, tensor.ErrDeviceInit)
}

func TestNew_Auto(t *testing.T) {
	cfg := config.Default().Device
	cfg.Driver = config.DriverAuto

	d, err := New(cfg)
	require.NoError(t, err)
	defer d.Release()
	t.Logf("auto selected %s", d)
}

func TestListAdapters(t *testing.T) {
	infos, err := ListAdapters(gpu.DriverSoft)
	require.NoError(t, err)
	require.NotEmpty(t, infos)
	assert.True(t, IsAvailable(gpu.DriverSoft))
	assert.True(t, IsAvailable(gpu.DriverAuto))
	assert.False(t, IsAvailable("vulkan"))
}

func TestRoundTrip_AllDTypes(t *testing.T) {
	d, _ := newTestDevice(t)

	vals := []float64{0, 1, 2.5, -3, 100, 7, 0.125}
	for _, dt := range tensor.AllDTypes {
		t.Run(dt.String(), func(t *testing.T) {
			in := vals
			if dt.IsInt() {
				in = []float64{0, 1, 2, 3, 100, 7, 255}
			}
			h := tensor.FromFloat64s(dt, in)

			s := upload(t, d, h)
			assert.Equal(t, dt, s.DType())
			assert.Equal(t, h.Len(), s.Len())

			back := readBack(t, s)
			assert.True(t, h.Equal(back), "want %v, got %v", h.Float64s(), back.Float64s())
		})
	}
}

func TestScenario_2x2F32(t *testing.T) {
	d, _ := newTestDevice(t)

	shape := tensor.Shape{2, 2}
	layout := tensor.Contiguous(shape)
	s := upload(t, d, tensor.FromSlice([]float32{1, 2, 3, 4}))

	back := readBack(t, s)
	assert.Equal(t, tensor.F32, back.DType())
	assert.Equal(t, []float32{1, 2, 3, 4}, tensor.MustSlice[float32](back))
	assert.Equal(t, shape, layout.Shape())
	assert.Equal(t, layout.NumElements(), back.Len())
}

func TestClone(t *testing.T) {
	d, sd := newTestDevice(t)

	src := upload(t, d, tensor.FromSlice([]float32{1, 2, 3, 4, 5}))
	before := sd.Submissions()

	c, err := src.Clone(tensor.Contiguous(tensor.Shape{5}))
	require.NoError(t, err)
	clone := c.(*Storage)

	assert.Equal(t, readBack(t, src).Float64s(), readBack(t, clone).Float64s())
	assert.NotSame(t, src.buf, clone.buf)
	assert.Greater(t, sd.Submissions(), before)

	// Overwrite the clone; the source must be unaffected.
	other := upload(t, d, tensor.FromSlice([]float32{9, 9}))
	require.NoError(t, other.CopyStridedSrc(clone, 0, tensor.Contiguous(tensor.Shape{2})))
	assert.Equal(t, []float32{9, 9, 3, 4, 5}, tensor.MustSlice[float32](readBack(t, clone)))
	assert.Equal(t, []float32{1, 2, 3, 4, 5}, tensor.MustSlice[float32](readBack(t, src)))

	_, err = src.Clone(tensor.Contiguous(tensor.Shape{6}))
	assert.ErrorIs(t, err, tensor.ErrLayout)
}

func TestDeviceMismatch(t *testing.T) {
	d1, _ := newTestDevice(t)
	d2, _ := newTestDevice(t)
	assert.False(t, d1.SameDevice(d2))

	l := tensor.Contiguous(tensor.Shape{4})
	a := upload(t, d1, tensor.FromSlice([]float32{1, 2, 3, 4}))
	b := upload(t, d2, tensor.FromSlice([]float32{1, 2, 3, 4}))

	_, err := a.Binary(tensor.Add, b, l, l)
	assert.ErrorIs(t, err, tensor.ErrDeviceMismatch)

	err = a.CopyStridedSrc(b, 0, l)
	assert.ErrorIs(t, err, tensor.ErrDeviceMismatch)

	// Ops without a kernel still reject a foreign operand before reporting
	// themselves unimplemented.
	sq := tensor.Contiguous(tensor.Shape{2, 2})
	ids := upload(t, d2, tensor.FromSlice([]uint32{0, 1}))
	idsL := tensor.Contiguous(tensor.Shape{2})
	mismatched := []struct {
		name string
		run  func() error
	}{
		{"matmul", func() error {
			_, err := a.MatMul(b, tensor.MatMulDims{B: 1, M: 2, N: 2, K: 2}, sq, sq)
			return err
		}},
		{"cmp", func() error { _, err := a.Cmp(tensor.Lt, b, l, l); return err }},
		{"where_cond", func() error { _, err := a.WhereCond(l, a, l, b, l); return err }},
		{"index_select", func() error { _, err := a.IndexSelect(ids, l, idsL, 0); return err }},
		{"scatter_add", func() error { _, err := a.ScatterAdd(l, ids, idsL, a, l, 0); return err }},
		{"conv1d", func() error {
			_, err := a.Conv1D(l, b, l, tensor.Conv1DParams{})
			return err
		}},
	}
	for _, tt := range mismatched {
		err := tt.run()
		assert.ErrorIs(t, err, tensor.ErrDeviceMismatch, tt.name)
		assert.False(t, tensor.IsUnimplemented(err), tt.name)
	}

	// Same-device operands still reach the unimplemented report.
	_, err = a.Cmp(tensor.Lt, a, l, l)
	assert.True(t, tensor.IsUnimplemented(err))

	// Host storage is not a device storage either.
	err = a.CopyStridedSrc(fakeStorage{a}, 0, l)
	assert.ErrorIs(t, err, tensor.ErrDeviceMismatch)
}

// fakeStorage is a storage from another backend.
type fakeStorage struct{ tensor.Storage }

func TestUnimplemented(t *testing.T) {
	d, _ := newTestDevice(t)
	l := tensor.Contiguous(tensor.Shape{2, 2})
	s := upload(t, d, tensor.FromSlice([]float32{1, 2, 3, 4}))

	_, err := s.MatMul(s, tensor.MatMulDims{B: 1, M: 2, N: 2, K: 2}, l, l)
	require.Error(t, err)
	assert.True(t, tensor.IsUnimplemented(err))
	op, ok := tensor.UnimplementedOp(err)
	assert.True(t, ok)
	assert.Equal(t, "matmul", op)
	assert.Contains(t, err.Error(), "webgpu")

	_, err = s.Unary(tensor.Gelu, l)
	op, _ = tensor.UnimplementedOp(err)
	assert.Equal(t, "unary.gelu", op)

	f64 := upload(t, d, tensor.FromSlice([]float64{1, 2, 3, 4}))
	_, err = f64.Affine(l, 2, 1)
	assert.True(t, tensor.IsUnimplemented(err))

	_, err = s.Reduce(tensor.ReduceSum, l, []int{1})
	op, _ = tensor.UnimplementedOp(err)
	assert.Equal(t, "reduce.sum", op)
}

func TestUnimplemented_NoKernelDriver(t *testing.T) {
	sd, err := soft.New(soft.Options{Adapters: 1}).OpenDevice(gpu.Selector{})
	require.NoError(t, err)
	d := FromGPU(sd, config.Default().Device)
	defer d.Release()

	l := tensor.Contiguous(tensor.Shape{2})
	s := upload(t, d, tensor.FromSlice([]float32{1, 2}))
	_, err = s.Unary(tensor.Exp, l)
	assert.True(t, tensor.IsUnimplemented(err))
}

func TestCopyStridedSrc_MatchesHostReference(t *testing.T) {
	d, _ := newTestDevice(t)

	base := tensor.Contiguous(tensor.Shape{3, 4})
	transposed, err := base.Transpose(0, 1)
	require.NoError(t, err)
	narrowed, err := base.Narrow(1, 1, 2)
	require.NoError(t, err)
	broadcast, err := tensor.Contiguous(tensor.Shape{1, 4}).BroadcastAs(tensor.Shape{3, 4})
	require.NoError(t, err)

	layouts := map[string]tensor.Layout{
		"contiguous": base,
		"transposed": transposed,
		"narrowed":   narrowed,
		"broadcast":  broadcast,
		"offset":     tensor.ContiguousWithOffset(tensor.Shape{5}, 3),
	}

	for _, dt := range []tensor.DType{tensor.F32, tensor.U8, tensor.F16, tensor.I64} {
		vals := make([]float64, 12)
		for i := range vals {
			vals[i] = float64(i + 1)
		}
		srcHost := tensor.FromFloat64s(dt, vals)

		for name, l := range layouts {
			t.Run(dt.String()+"/"+name, func(t *testing.T) {
				const dstOffset = 2
				n := l.NumElements() + dstOffset + 1

				want := tensor.Full(dt, n, 42)
				require.NoError(t, tensor.CopyStrided(srcHost, l, want, dstOffset))

				src := upload(t, d, srcHost)
				dst := upload(t, d, tensor.Full(dt, n, 42))
				require.NoError(t, src.CopyStridedSrc(dst, dstOffset, l))

				got := readBack(t, dst)
				assert.True(t, want.Equal(got), "want %v, got %v", want.Float64s(), got.Float64s())
			})
		}
	}
}

func TestCopyStridedSrc_Errors(t *testing.T) {
	d, _ := newTestDevice(t)
	src := upload(t, d, tensor.FromSlice([]float32{1, 2, 3, 4}))
	dst := upload(t, d, tensor.FromSlice([]float32{0, 0}))
	u8 := upload(t, d, tensor.FromSlice([]uint8{0, 0, 0, 0}))

	err := src.CopyStridedSrc(dst, 0, tensor.Contiguous(tensor.Shape{4}))
	assert.ErrorIs(t, err, tensor.ErrLayout)

	err = src.CopyStridedSrc(dst, 0, tensor.Contiguous(tensor.Shape{5}))
	assert.ErrorIs(t, err, tensor.ErrLayout)

	err = src.CopyStridedSrc(u8, 0, tensor.Contiguous(tensor.Shape{2}))
	assert.ErrorIs(t, err, tensor.ErrDType)
}

func TestConcurrentUploads(t *testing.T) {
	d, _ := newTestDevice(t, func(c *config.Device) { c.Soft.QueueLatency = time.Millisecond })

	inputs := [][]float32{{1, 2, 3, 4}, {10, 20, 30, 40, 50}}
	results := make([]*Storage, len(inputs))

	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := d.StorageFromHost(tensor.FromSlice(in))
			if assert.NoError(t, err) {
				results[i] = s.(*Storage)
			}
		}()
	}
	wg.Wait()

	for i, in := range inputs {
		require.NotNil(t, results[i])
		assert.Equal(t, in, tensor.MustSlice[float32](readBack(t, results[i])))
	}
}

func TestConcurrentReadbacks(t *testing.T) {
	d, _ := newTestDevice(t, func(c *config.Device) { c.Soft.QueueLatency = time.Millisecond })

	var wg sync.WaitGroup
	for i := range 6 {
		wg.Add(1)
		go func(v float32) {
			defer wg.Done()
			s, err := d.StorageFromHost(tensor.FromSlice([]float32{v, v + 1, v + 2}))
			if !assert.NoError(t, err) {
				return
			}
			h, err := s.ToHost()
			if assert.NoError(t, err) {
				assert.Equal(t, []float32{v, v + 1, v + 2}, tensor.MustSlice[float32](h))
			}
		}(float32(10 * i))
	}
	wg.Wait()
}

func TestReadback_TimeoutDoesNotPoison(t *testing.T) {
	d, sd := newTestDevice(t, func(c *config.Device) { c.ReadbackTimeout = 50 * time.Millisecond })
	s := upload(t, d, tensor.FromSlice([]float32{1, 2, 3}))

	sd.DropNextMap()
	_, err := s.ToHost()
	assert.ErrorIs(t, err, tensor.ErrReadbackTimeout)

	sd.DropNextSubmit()
	_, err = s.ToHost()
	assert.ErrorIs(t, err, tensor.ErrReadbackTimeout)

	h, err := s.ToHost()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, tensor.MustSlice[float32](h))
}

func TestReadback_MapFailed(t *testing.T) {
	d, sd := newTestDevice(t)
	s := upload(t, d, tensor.FromSlice([]int64{-1, 5}))

	sd.FailNextMap()
	_, err := s.ToHost()
	assert.ErrorIs(t, err, tensor.ErrMapFailed)

	h, err := s.ToHost()
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 5}, tensor.MustSlice[int64](h))
}

func TestOutOfDeviceMemory(t *testing.T) {
	d, _ := newTestDevice(t, func(c *config.Device) { c.MaxBufferSize = 64 })

	_, err := d.StorageFromHost(tensor.Zeros(tensor.F32, 100))
	assert.ErrorIs(t, err, tensor.ErrOutOfDeviceMemory)

	_, err = d.StorageFromHost(tensor.Zeros(tensor.F32, 16))
	assert.NoError(t, err)

	budget, _ := newTestDevice(t, func(c *config.Device) { c.MemoryBudget = 48 })
	first, err := budget.Zeros(tensor.Shape{8}, tensor.F32)
	require.NoError(t, err)
	_, err = budget.Zeros(tensor.Shape{8}, tensor.F32)
	assert.ErrorIs(t, err, tensor.ErrOutOfDeviceMemory)

	first.(*Storage).Release()
	_, err = budget.Zeros(tensor.Shape{8}, tensor.F32)
	assert.NoError(t, err)
}

func TestCreation(t *testing.T) {
	d, _ := newTestDevice(t)

	z, err := d.Zeros(tensor.Shape{2, 3}, tensor.BF16)
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 6), readBack(t, z).Float64s())

	o, err := d.Ones(tensor.Shape{3}, tensor.U32)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 1, 1}, tensor.MustSlice[uint32](readBack(t, o)))

	u, err := d.RandUniform(tensor.Shape{64}, tensor.F32, -1, 1)
	require.NoError(t, err)
	for _, v := range readBack(t, u).Float64s() {
		assert.GreaterOrEqual(t, v, -1.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	n, err := d.RandNormal(tensor.Shape{16}, tensor.F64, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 16, readBack(t, n).Len())

	_, err = d.RandUniform(tensor.Shape{4}, tensor.U8, 0, 1)
	assert.ErrorIs(t, err, tensor.ErrDType)

	_, err = d.Zeros(tensor.Shape{0}, tensor.F32)
	assert.ErrorIs(t, err, tensor.ErrLayout)
}

func TestRelease(t *testing.T) {
	d, sd := newTestDevice(t)

	s := upload(t, d, tensor.FromSlice([]float32{1, 2}))
	stats := d.MemoryStats()
	assert.Equal(t, int64(1), stats.ActiveBuffers)
	assert.Equal(t, uint64(8), stats.AllocatedBytes)

	s.Release()
	s.Release()
	assert.Equal(t, int64(0), d.MemoryStats().ActiveBuffers)
	_, err := s.ToHost()
	assert.ErrorIs(t, err, tensor.ErrReleased)

	live := upload(t, d, tensor.FromSlice([]float32{3}))
	require.NoError(t, d.Synchronize())
	d.Release()
	_, err = live.ToHost()
	assert.ErrorIs(t, err, tensor.ErrReleased)
	_, err = d.StorageFromHost(tensor.FromSlice([]float32{1}))
	assert.ErrorIs(t, err, tensor.ErrReleased)
	assert.ErrorIs(t, d.Synchronize(), tensor.ErrReleased)

	// Storages outliving their device still free their buffers.
	assert.Equal(t, int64(1), sd.LiveBuffers())
	live.Release()
	assert.Zero(t, sd.LiveBuffers())
}

func TestStagingPoolReuse(t *testing.T) {
	d, _ := newTestDevice(t)
	s := upload(t, d, tensor.FromSlice([]float32{1, 2, 3, 4}))

	readBack(t, s)
	readBack(t, s)

	stats := d.MemoryStats().Pool
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, 1, stats.Pooled)
}

func TestNative(t *testing.T) {
	if !IsAvailable(gpu.DriverNative) {
		t.Skip("WebGPU native driver not available on this system")
	}
	cfg := config.Default().Device
	cfg.Driver = config.DriverNative

	d, err := New(cfg)
	require.NoError(t, err)
	defer d.Release()
	t.Logf("Using GPU: %s", d.AdapterInfo())

	s := upload(t, d, tensor.FromSlice([]float32{1, 2, 3, 4}))
	assert.Equal(t, []float32{1, 2, 3, 4}, tensor.MustSlice[float32](readBack(t, s)))

	l := tensor.Contiguous(tensor.Shape{4})
	sum, err := s.Binary(tensor.Add, s, l, l)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4, 6, 8}, tensor.MustSlice[float32](readBack(t, sum)))
}

func TestRelease_StoragesFreedLaterLeaveNoMetrics(t *testing.T) {
	d, _ := newTestDevice(t)
	s := upload(t, d, tensor.FromSlice([]float32{1, 2, 3, 4}))
	d.Release()

	// A storage collected after its device was released must not bring
	// back the series Release removed.
	s.Release()
	assert.False(t, metrics.DeviceMemoryBytes.DeleteLabelValues(d.Label()))
	assert.False(t, metrics.DeviceBuffersActive.DeleteLabelValues(d.Label()))
	assert.Zero(t, d.MemoryStats().ActiveBuffers)
}
