package device

import (
	"fmt"
	"sync/atomic"
)

// Memory pool a resource is allocated from.
type Pool uint8

const (
	// Device-local memory; not host visible.
	DeviceLocal Pool = iota

	// Host-writable memory the device reads from.
	Upload

	// Host-readable memory the device copies into.
	Readback
)

// Implements Stringer.
func (p Pool) String() string {
	switch p {
	case DeviceLocal:
		return "device-local"
	case Upload:
		return "upload"
	case Readback:
		return "readback"
	}
	return fmt.Sprintf("Pool(%d)", uint8(p))
}

// Resource access flags.
type AccessFlags uint8

const (
	AccessNone AccessFlags = 0

	// The resource may be bound as an unordered access view or used as
	// an acceleration structure build destination/scratch.
	AllowUnorderedAccess AccessFlags = 1 << iota

	// The resource stores an acceleration structure.
	AccelerationStructureStorage
)

// The state a resource is in; usage must match the state.
type State uint8

const (
	Common State = iota
	GenericRead
	CopyDest
	CopySource
	UnorderedAccess
	AccelerationStructure
)

var stateNames = []string{"common", "generic-read", "copy-dest", "copy-source", "unordered-access", "acceleration-structure"}

// Implements Stringer.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// A linear device buffer.
type Buffer struct {
	ctx  *Context
	name string

	pool   Pool
	access AccessFlags
	heap   *Heap

	// State as tracked by the recording side.
	state State

	va   uint64
	size uint64
	data []byte

	mapped   bool
	released atomic.Bool

	// Decoded acceleration structure written by the last build that
	// targeted this buffer.
	accel atomic.Pointer[builtStructure]
}

// Allocate a buffer from one of the device memory pools.
//
// Upload buffers must start in the GenericRead state and readback buffers in
// the CopyDest state. Buffers that start in the UnorderedAccess or
// AccelerationStructure states must be device-local and allow unordered
// access.
func (c *Context) CreateBuffer(name string, size uint64, pool Pool, access AccessFlags, initialState State) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("device (%s): could not allocate buffer %s: %w", c.name, name, ErrInvalidSize)
	}
	if err := validateCreation(pool, access, initialState); err != nil {
		return nil, fmt.Errorf("device (%s): could not allocate buffer %s: %w", c.name, name, err)
	}

	va, err := c.reserve(size)
	if err != nil {
		return nil, err
	}

	b := &Buffer{
		ctx:    c,
		name:   name,
		pool:   pool,
		access: access,
		state:  initialState,
		va:     va,
		size:   size,
		data:   make([]byte, size),
	}
	c.register(b)
	c.logger.Debugf("allocated %s buffer %s (%d bytes) at %s in state %s", pool, name, size, b.Address(), initialState)
	return b, nil
}

func validateCreation(pool Pool, access AccessFlags, state State) error {
	switch pool {
	case Upload:
		if state != GenericRead {
			return fmt.Errorf("%w: upload resources must start in %s; got %s", ErrInvalidState, GenericRead, state)
		}
		if access&(AllowUnorderedAccess|AccelerationStructureStorage) != 0 {
			return fmt.Errorf("%w: upload resources cannot allow unordered access", ErrInvalidAccess)
		}
	case Readback:
		if state != CopyDest {
			return fmt.Errorf("%w: readback resources must start in %s; got %s", ErrInvalidState, CopyDest, state)
		}
		if access&(AllowUnorderedAccess|AccelerationStructureStorage) != 0 {
			return fmt.Errorf("%w: readback resources cannot allow unordered access", ErrInvalidAccess)
		}
	case DeviceLocal:
	default:
		return fmt.Errorf("device: unknown pool %d", pool)
	}

	switch state {
	case UnorderedAccess:
		if access&AllowUnorderedAccess == 0 {
			return fmt.Errorf("%w: %s requires unordered access", ErrInvalidAccess, state)
		}
	case AccelerationStructure:
		if access&AllowUnorderedAccess == 0 || access&AccelerationStructureStorage == 0 {
			return fmt.Errorf("%w: %s requires unordered access and acceleration structure storage", ErrInvalidAccess, state)
		}
	}
	return nil
}

// Get buffer name.
func (b *Buffer) Name() string {
	return b.name
}

// Get buffer size in bytes.
func (b *Buffer) Size() uint64 {
	return b.size
}

// Get the pool the buffer was allocated from.
func (b *Buffer) Pool() Pool {
	return b.pool
}

// Get the state tracked for this buffer by the recording side.
func (b *Buffer) State() State {
	return b.state
}

// Get the device address of the first byte of the buffer.
func (b *Buffer) Address() Address {
	return Address{va: b.va}
}

// Get the device address of the byte at the given offset. This is the
// only way to obtain an address that does not point to a resource start.
func (b *Buffer) AddressAt(offset uint64) (Address, error) {
	if b.released.Load() {
		return NullAddress, fmt.Errorf("device: buffer %s: %w", b.name, ErrReleased)
	}
	if offset >= b.size {
		return NullAddress, fmt.Errorf("device: buffer %s: offset %d: %w (size %d)", b.name, offset, ErrOutOfBounds, b.size)
	}
	return Address{va: b.va + offset}, nil
}

// Map the buffer contents for host access. Only upload and readback
// buffers can be mapped. The returned slice stays valid until the buffer
// is released; host reads of readback data are only meaningful after the
// copy that produced them has completed.
func (b *Buffer) Map() ([]byte, error) {
	if b.released.Load() {
		return nil, fmt.Errorf("device: buffer %s: %w", b.name, ErrReleased)
	}
	if b.pool == DeviceLocal {
		return nil, fmt.Errorf("device: buffer %s: %w", b.name, ErrNotMappable)
	}
	b.mapped = true
	return b.data, nil
}

// Unmap the buffer.
func (b *Buffer) Unmap() {
	b.mapped = false
}

// Check whether the buffer is currently mapped.
func (b *Buffer) Mapped() bool {
	return b.mapped
}

// Check whether the buffer has been released.
func (b *Buffer) Released() bool {
	return b.released.Load()
}

// Release the buffer. Releasing a buffer more than once is a no-op. The
// caller must ensure that no submitted work still references it.
func (b *Buffer) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}

	b.ctx.unregister(b)
	if b.heap != nil {
		b.heap.placedReleased()
	}
	b.mapped = false
	b.accel.Store(nil)
	b.data = nil
}
