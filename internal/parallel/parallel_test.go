package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/born-ml/compute/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestFor(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 8}

	var counter int64
	seen := make([]int32, 1000)
	For(len(seen), func(i int) {
		atomic.AddInt64(&counter, 1)
		atomic.AddInt32(&seen[i], 1)
	}, cfg)

	assert.Equal(t, int64(1000), counter)
	for i, v := range seen {
		assert.Equal(t, int32(1), v, "index %d", i)
	}
}

func TestRange_Disjoint(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 3, MinChunkSize: 1}

	var total int64
	var calls int64
	Range(10, func(lo, hi int) {
		atomic.AddInt64(&calls, 1)
		atomic.AddInt64(&total, int64(hi-lo))
	}, cfg)

	assert.Equal(t, int64(10), total)
	assert.Greater(t, calls, int64(1))
}

func TestRange_Sequential(t *testing.T) {
	var calls int
	Range(100, func(lo, hi int) {
		calls++
		assert.Equal(t, 0, lo)
		assert.Equal(t, 100, hi)
	}, Config{Enabled: false})
	assert.Equal(t, 1, calls)

	Range(0, func(_, _ int) { calls++ }, DefaultConfig())
	assert.Equal(t, 1, calls)
}

func TestForBatch(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 2}

	batch, channels := 4, 8
	var hits [4][8]int32
	ForBatch(batch, channels, func(b, c int) {
		atomic.AddInt32(&hits[b][c], 1)
	}, cfg)

	for b := range batch {
		for c := range channels {
			assert.Equal(t, int32(1), hits[b][c], "[%d][%d]", b, c)
		}
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.Parallel{Enabled: true, Workers: 0, MinChunkSize: 0})
	assert.Positive(t, cfg.NumWorkers)
	assert.Equal(t, 1, cfg.MinChunkSize)

	single := FromConfig(config.Parallel{Enabled: true, Workers: 1})
	assert.False(t, single.Enabled)
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	n := 10000

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfgSeq := cfg
		cfgSeq.Enabled = false
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfgSeq)
		}
	})
}
