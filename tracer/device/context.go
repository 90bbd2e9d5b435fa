package device

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/achilleasa/rtframe/log"
)

const (
	// Base of the device virtual address space. Every resource gets its
	// own 64K aligned range followed by an unmapped guard page.
	vaBase      uint64 = 0x10000000
	vaGuardSize uint64 = PlacementAlignment
)

// Device creation options.
type Options struct {
	// A name for identifying the device in log output.
	Name string

	// Number of workers executing ray dispatches. If zero, the number of
	// available CPUs is used.
	Workers int
}

// Information about a device.
type Info struct {
	Name    string
	Workers int

	ShaderIdentifierSize uint64
	RecordAlignment      uint64
	TableAlignment       uint64
	PlacementAlignment   uint64
	MaxRecursionDepth    uint32
}

// Device memory statistics.
type Stats struct {
	LiveBuffers    int
	LiveHeaps      int
	AllocatedBytes uint64
}

// Context owns every device resource as well as the single queue that
// executes recorded command lists. It is created once and passed to every
// resource creation call.
type Context struct {
	logger log.Logger
	name   string

	workers int

	mu        sync.Mutex
	closed    bool
	nextVA    uint64
	resources []*Buffer
	heaps     int
	allocated uint64

	queue *Queue
}

// Create a new device context and start its queue.
func NewContext(opts Options) *Context {
	if opts.Name == "" {
		opts.Name = "software"
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	c := &Context{
		logger:  log.New(fmt.Sprintf("device (%s)", opts.Name)),
		name:    opts.Name,
		workers: opts.Workers,
		nextVA:  vaBase,
	}
	c.queue = newQueue(c)
	c.logger.Debugf("created device with %d workers", c.workers)
	return c
}

// Get device name.
func (c *Context) Name() string {
	return c.name
}

// Get device information.
func (c *Context) Info() Info {
	return Info{
		Name:                 c.name,
		Workers:              c.workers,
		ShaderIdentifierSize: ShaderIdentifierSize,
		RecordAlignment:      ShaderRecordAlignment,
		TableAlignment:       ShaderTableAlignment,
		PlacementAlignment:   PlacementAlignment,
		MaxRecursionDepth:    MaxTraceRecursionDepth,
	}
}

// Get the device queue.
func (c *Context) Queue() *Queue {
	return c.queue
}

// Get device memory statistics.
func (c *Context) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		LiveBuffers:    len(c.resources),
		LiveHeaps:      c.heaps,
		AllocatedBytes: c.allocated,
	}
}

// Shutdown the queue. Work that has already been submitted runs to
// completion. Resources that are still alive are released.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.queue.shutdown()

	c.mu.Lock()
	leaked := len(c.resources)
	c.resources = nil
	c.mu.Unlock()
	if leaked > 0 {
		c.logger.Debugf("released %d live buffers on shutdown", leaked)
	}
}

// Reserve a virtual address range for a resource of the given size.
func (c *Context) reserve(size uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrContextClosed
	}
	va := c.nextVA
	c.nextVA += Align(size, PlacementAlignment) + vaGuardSize
	return va, nil
}

// Make a buffer resolvable by address.
func (c *Context) register(b *Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := sort.Search(len(c.resources), func(i int) bool { return c.resources[i].va >= b.va })
	c.resources = append(c.resources, nil)
	copy(c.resources[idx+1:], c.resources[idx:])
	c.resources[idx] = b
	if b.heap == nil {
		c.allocated += b.size
	}
}

func (c *Context) unregister(b *Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := sort.Search(len(c.resources), func(i int) bool { return c.resources[i].va >= b.va })
	if idx < len(c.resources) && c.resources[idx] == b {
		c.resources = append(c.resources[:idx], c.resources[idx+1:]...)
		if b.heap == nil {
			c.allocated -= b.size
		}
	}
}

// Resolve an address into the buffer that contains it and the byte offset
// inside that buffer. The range [addr, addr+size) must be fully contained
// in the buffer.
func (c *Context) resolve(addr Address, size uint64) (*Buffer, uint64, error) {
	if addr.IsNull() {
		return nil, 0, fmt.Errorf("%w: null address", ErrInvalidAddress)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Find the last resource whose base is <= addr
	idx := sort.Search(len(c.resources), func(i int) bool { return c.resources[i].va > addr.va }) - 1
	if idx < 0 {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}

	buf := c.resources[idx]
	offset := addr.va - buf.va
	if offset >= buf.size {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	if offset+size > buf.size {
		return nil, 0, fmt.Errorf("%w: %s: range [%d, %d) exceeds %q size %d", ErrOutOfBounds, addr, offset, offset+size, buf.name, buf.size)
	}
	return buf, offset, nil
}
