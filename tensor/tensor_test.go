// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/compute/backend/cpu"
	"github.com/born-ml/compute/backend/stub"
	"github.com/born-ml/compute/backend/webgpu"
	"github.com/born-ml/compute/tensor"
)

func softDevice(t *testing.T) *webgpu.Device {
	t.Helper()
	cfg := webgpu.DefaultConfig()
	cfg.Driver = "soft"
	dev, err := webgpu.New(cfg)
	require.NoError(t, err)
	t.Cleanup(dev.Release)
	return dev
}

func TestDevices_AgreeOnAddAndExp(t *testing.T) {
	devices := map[string]tensor.Device{
		"cpu":  cpu.New(),
		"soft": softDevice(t),
	}
	l := tensor.Contiguous(tensor.Shape{2, 2})

	for name, dev := range devices {
		t.Run(name, func(t *testing.T) {
			a, err := dev.StorageFromHost(tensor.FromSlice([]float32{0, 1, 2, 3}))
			require.NoError(t, err)
			b, err := dev.Ones(tensor.Shape{2, 2}, tensor.F32)
			require.NoError(t, err)

			sum, err := a.Binary(tensor.Add, b, l, l)
			require.NoError(t, err)
			host, err := sum.ToHost()
			require.NoError(t, err)
			assert.Equal(t, []float32{1, 2, 3, 4}, tensor.MustSlice[float32](host))

			e, err := a.Unary(tensor.Exp, l)
			require.NoError(t, err)
			host, err = e.ToHost()
			require.NoError(t, err)
			assert.InDeltaSlice(t, []float32{1, 2.7182817, 7.389056, 20.085537}, tensor.MustSlice[float32](host), 1e-4)
		})
	}
}

func TestStub_Unimplemented(t *testing.T) {
	dev := stub.New()
	s, err := dev.StorageFromHost(tensor.FromSlice([]float32{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, tensor.F32, s.DType())

	_, err = s.Unary(tensor.Exp, tensor.Contiguous(tensor.Shape{2}))
	require.ErrorIs(t, err, tensor.ErrUnimplemented)
	assert.True(t, tensor.IsUnimplemented(err))
	op, ok := tensor.UnimplementedOp(err)
	require.True(t, ok)
	assert.Equal(t, "unary.exp", op)
}

func TestDeviceMismatch(t *testing.T) {
	host := tensor.FromSlice([]float32{1, 2})
	a, err := cpu.New().StorageFromHost(host)
	require.NoError(t, err)
	b, err := softDevice(t).StorageFromHost(host)
	require.NoError(t, err)

	l := tensor.Contiguous(tensor.Shape{2})
	_, err = a.Binary(tensor.Add, b, l, l)
	assert.ErrorIs(t, err, tensor.ErrDeviceMismatch)
}

func TestHelpers(t *testing.T) {
	assert.Len(t, tensor.AllDTypes(), 7)
	dt, err := tensor.ParseDType("BF16")
	require.NoError(t, err)
	assert.Equal(t, tensor.BF16, dt)
	assert.Equal(t, tensor.F64, tensor.DTypeOf[float64]())

	l, err := tensor.NewLayout(tensor.Shape{2, 2}, []int{1, 2}, 0)
	require.NoError(t, err)
	dst := tensor.Zeros(tensor.F32, 4)
	require.NoError(t, tensor.CopyStrided(tensor.FromSlice([]float32{1, 2, 3, 4}), l, dst, 0))
	assert.Equal(t, []float32{1, 3, 2, 4}, tensor.MustSlice[float32](dst))
}
