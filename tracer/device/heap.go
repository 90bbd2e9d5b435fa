package device

import (
	"fmt"
	"sync"
)

// Placed resources must start at a multiple of this offset inside their heap.
const PlacementAlignment = 64 * 1024

// A heap is a pre-reserved memory range that placed buffers sub-allocate.
type Heap struct {
	ctx  *Context
	name string
	pool Pool

	va   uint64
	size uint64
	data []byte

	mu       sync.Mutex
	placed   int
	released bool
}

// Reserve a heap of the given size in one of the memory pools.
func (c *Context) CreateHeap(name string, size uint64, pool Pool) (*Heap, error) {
	if size == 0 {
		return nil, fmt.Errorf("device (%s): could not allocate heap %s: %w", c.name, name, ErrInvalidSize)
	}

	va, err := c.reserve(size)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.heaps++
	c.allocated += size
	c.mu.Unlock()

	c.logger.Debugf("reserved %s heap %s (%d bytes)", pool, name, size)
	return &Heap{
		ctx:  c,
		name: name,
		pool: pool,
		va:   va,
		size: size,
		data: make([]byte, size),
	}, nil
}

// Get heap size.
func (h *Heap) Size() uint64 {
	return h.size
}

// Get the number of live buffers placed in the heap.
func (h *Heap) PlacedBuffers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.placed
}

// Create a buffer that aliases [offset, offset+size) of the heap. The
// offset must be a multiple of PlacementAlignment.
func (c *Context) CreatePlacedBuffer(name string, heap *Heap, offset, size uint64, initialState State) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("device (%s): could not place buffer %s: %w", c.name, name, ErrInvalidSize)
	}
	if offset%PlacementAlignment != 0 {
		return nil, fmt.Errorf("device (%s): could not place buffer %s at offset %d: %w", c.name, name, offset, ErrMisaligned)
	}
	if offset+size > heap.size {
		return nil, fmt.Errorf("device (%s): could not place buffer %s at [%d, %d) in heap %s of size %d: %w", c.name, name, offset, offset+size, heap.name, heap.size, ErrOutOfBounds)
	}
	if err := validateCreation(heap.pool, AccessNone, initialState); err != nil {
		return nil, fmt.Errorf("device (%s): could not place buffer %s: %w", c.name, name, err)
	}

	heap.mu.Lock()
	if heap.released {
		heap.mu.Unlock()
		return nil, fmt.Errorf("device: heap %s: %w", heap.name, ErrReleased)
	}
	heap.placed++
	heap.mu.Unlock()

	b := &Buffer{
		ctx:   c,
		name:  name,
		pool:  heap.pool,
		heap:  heap,
		state: initialState,
		va:    heap.va + offset,
		size:  size,
		data:  heap.data[offset : offset+size : offset+size],
	}
	c.register(b)
	c.logger.Debugf("placed buffer %s (%d bytes) at offset %d of heap %s", name, size, offset, heap.name)
	return b, nil
}

func (h *Heap) placedReleased() {
	h.mu.Lock()
	h.placed--
	h.mu.Unlock()
}

// Release the heap. Buffers placed in the heap must be released first.
func (h *Heap) Release() {
	if h == nil {
		return
	}

	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	if h.placed != 0 {
		h.ctx.logger.Warningf("releasing heap %s with %d live placed buffers", h.name, h.placed)
	}
	h.mu.Unlock()

	h.ctx.mu.Lock()
	h.ctx.heaps--
	h.ctx.allocated -= h.size
	h.ctx.mu.Unlock()
	h.data = nil
}
