package webgpu

import (
	"sync"

	"github.com/born-ml/compute/internal/gpu"
)

// BufferSize represents different buffer size categories for pooling.
type BufferSize int

const (
	// SmallBuffer for buffers < 4KB.
	SmallBuffer BufferSize = iota
	// MediumBuffer for buffers 4KB-1MB.
	MediumBuffer
	// LargeBuffer for buffers > 1MB.
	LargeBuffer
)

const (
	// Size thresholds for buffer categories.
	smallThreshold  = 4 * 1024    // 4KB
	mediumThreshold = 1024 * 1024 // 1MB
)

// PoolStats reports buffer pool usage.
type PoolStats struct {
	Allocated uint64
	Released  uint64
	Hits      uint64
	Misses    uint64
	Pooled    int
}

// BufferPool recycles read-back staging buffers. Buffers are categorized
// by size and matched on usage flags.
type BufferPool struct {
	alloc func(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error)
	free  func(gpu.Buffer)

	maxPerCategory int

	// Pools organized by size category
	pools [3][]gpu.Buffer

	mu sync.Mutex

	stats PoolStats
}

// NewBufferPool creates a pool that allocates through alloc and frees
// through free. maxPerCategory bounds the idle buffers kept per size category;
// zero disables pooling.
func NewBufferPool(alloc func(uint64, gpu.BufferUsage) (gpu.Buffer, error), free func(gpu.Buffer), maxPerCategory int) *BufferPool {
	return &BufferPool{alloc: alloc, free: free, maxPerCategory: maxPerCategory}
}

// Acquire gets a buffer from the pool or creates a new one.
// Returns a buffer that matches or exceeds the requested size and usage.
func (p *BufferPool) Acquire(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
	p.mu.Lock()
	category := categorize(size)
	pool := p.pools[category]
	for i, b := range pool {
		if b.Size() >= size && b.Usage().Has(usage) {
			p.pools[category] = append(pool[:i], pool[i+1:]...)
			p.stats.Hits++
			p.mu.Unlock()
			return b, nil
		}
	}
	p.stats.Misses++
	p.mu.Unlock()

	b, err := p.alloc(size, usage)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.stats.Allocated++
	p.mu.Unlock()
	return b, nil
}

// Release returns a buffer to the pool for reuse.
// If the pool is full, the buffer is freed immediately.
func (p *BufferPool) Release(b gpu.Buffer) {
	p.mu.Lock()
	p.stats.Released++
	category := categorize(b.Size())
	if len(p.pools[category]) >= p.maxPerCategory {
		p.mu.Unlock()
		p.free(b)
		return
	}
	p.pools[category] = append(p.pools[category], b)
	p.mu.Unlock()
}

// Clear frees all pooled buffers.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	var idle []gpu.Buffer
	for i := range p.pools {
		idle = append(idle, p.pools[i]...)
		p.pools[i] = nil
	}
	p.mu.Unlock()

	for _, b := range idle {
		p.free(b)
	}
}

// Stats returns statistics about buffer pool usage.
func (p *BufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	for _, pool := range p.pools {
		s.Pooled += len(pool)
	}
	return s
}

// categorize determines the size category for a buffer.
func categorize(size uint64) BufferSize {
	if size < smallThreshold {
		return SmallBuffer
	}
	if size < mediumThreshold {
		return MediumBuffer
	}
	return LargeBuffer
}
