package webgpu

import (
	"testing"

	"github.com/born-ml/compute/internal/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuffer struct {
	size     uint64
	usage    gpu.BufferUsage
	released bool
}

func (b *fakeBuffer) Size() uint64           { return b.size }
func (b *fakeBuffer) Usage() gpu.BufferUsage { return b.usage }
func (b *fakeBuffer) Release()               { b.released = true }

func newFakePool(maxPerCategory int) (*BufferPool, *[]*fakeBuffer) {
	var freed []*fakeBuffer
	alloc := func(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
		return &fakeBuffer{size: size, usage: usage}, nil
	}
	free := func(b gpu.Buffer) {
		b.Release()
		freed = append(freed, b.(*fakeBuffer))
	}
	return NewBufferPool(alloc, free, maxPerCategory), &freed
}

func TestBufferPool_Reuse(t *testing.T) {
	pool, freed := newFakePool(2)
	usage := gpu.UsageMapRead | gpu.UsageCopyDst

	b1, err := pool.Acquire(1024, usage)
	require.NoError(t, err)
	pool.Release(b1)

	// Smaller request in the same category reuses the buffer.
	b2, err := pool.Acquire(512, usage)
	require.NoError(t, err)
	assert.Same(t, b1, b2)

	// Usage must match.
	b3, err := pool.Acquire(512, gpu.UsageStorage)
	require.NoError(t, err)
	assert.NotSame(t, b1, b3)

	stats := pool.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, uint64(2), stats.Allocated)
	assert.Empty(t, *freed)
}

func TestBufferPool_Bounded(t *testing.T) {
	pool, freed := newFakePool(1)
	usage := gpu.UsageMapRead | gpu.UsageCopyDst

	a, _ := pool.Acquire(64, usage)
	b, _ := pool.Acquire(64, usage)
	pool.Release(a)
	pool.Release(b)

	assert.Equal(t, 1, pool.Stats().Pooled)
	require.Len(t, *freed, 1)
	assert.True(t, (*freed)[0].released)

	pool.Clear()
	assert.Zero(t, pool.Stats().Pooled)
	assert.Len(t, *freed, 2)
}

func TestBufferPool_Disabled(t *testing.T) {
	pool, freed := newFakePool(0)
	b, _ := pool.Acquire(64, gpu.UsageMapRead)
	pool.Release(b)
	assert.Zero(t, pool.Stats().Pooled)
	assert.Len(t, *freed, 1)
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, SmallBuffer, categorize(100))
	assert.Equal(t, MediumBuffer, categorize(smallThreshold))
	assert.Equal(t, LargeBuffer, categorize(mediumThreshold))
}
