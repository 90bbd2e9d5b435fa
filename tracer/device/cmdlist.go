package device

import (
	"fmt"
	"sync/atomic"
)

// The kind of a recorded command.
type CommandKind uint8

const (
	CmdTransitionBarrier CommandKind = iota
	CmdUAVBarrier
	CmdCopyBufferRegion
	CmdBuildAccelerationStructure
	CmdDispatchRays
)

var commandKindNames = []string{"transition-barrier", "uav-barrier", "copy-buffer-region", "build-acceleration-structure", "dispatch-rays"}

// Implements Stringer.
func (k CommandKind) String() string {
	if int(k) < len(commandKindNames) {
		return commandKindNames[k]
	}
	return fmt.Sprintf("CommandKind(%d)", uint8(k))
}

type command interface {
	kind() CommandKind
	execute(q *Queue) error
}

// The type of a resource barrier.
type BarrierType uint8

const (
	TransitionBarrier BarrierType = iota
	UAVBarrier
)

// A resource barrier.
type Barrier struct {
	Type     BarrierType
	Resource *Buffer
	Before   State
	After    State
}

// Create a state transition barrier.
func Transition(b *Buffer, before, after State) Barrier {
	return Barrier{Type: TransitionBarrier, Resource: b, Before: before, After: after}
}

// Create a barrier that orders unordered accesses (including acceleration
// structure builds) to b before any subsequent access.
func UAV(b *Buffer) Barrier {
	return Barrier{Type: UAVBarrier, Resource: b}
}

// A command list records device work. Lists are recorded by one goroutine,
// closed, submitted to the queue and reset once their execution completed.
type CommandList struct {
	ctx  *Context
	name string

	commands []command
	closed   bool
	pending  atomic.Bool

	// Recording-side binding state.
	pipeline       *PipelineState
	rootSignature  *RootSignature
	rootArgs       []rootArgument
	descriptorHeap *DescriptorHeap
}

// Create a command list in the recording state.
func (c *Context) CreateCommandList(name string) *CommandList {
	return &CommandList{ctx: c, name: name}
}

// Get the kinds of the commands recorded so far.
func (cl *CommandList) Recorded() []CommandKind {
	kinds := make([]CommandKind, len(cl.commands))
	for idx, cmd := range cl.commands {
		kinds[idx] = cmd.kind()
	}
	return kinds
}

// Check whether the list was submitted and has not finished executing.
func (cl *CommandList) Pending() bool {
	return cl.pending.Load()
}

// Close the list for recording.
func (cl *CommandList) Close() error {
	if cl.closed {
		return fmt.Errorf("device: closing %s: %w", cl.name, ErrListClosed)
	}
	cl.closed = true
	return nil
}

// Reset the list to the recording state, discarding recorded commands and
// bindings. The list must not be pending execution.
func (cl *CommandList) Reset() error {
	if cl.pending.Load() {
		return fmt.Errorf("device: resetting %s: %w", cl.name, ErrListPending)
	}
	cl.commands = cl.commands[:0]
	cl.closed = false
	cl.pipeline = nil
	cl.rootSignature = nil
	cl.rootArgs = nil
	cl.descriptorHeap = nil
	return nil
}

func (cl *CommandList) record(cmd command) error {
	if cl.closed {
		return fmt.Errorf("device: recording into %s: %w", cl.name, ErrListClosed)
	}
	cl.commands = append(cl.commands, cmd)
	return nil
}

func (cl *CommandList) checkRecording() error {
	if cl.closed {
		return fmt.Errorf("device: recording into %s: %w", cl.name, ErrListClosed)
	}
	return nil
}

type barrierCommand struct {
	barrier Barrier
}

func (c *barrierCommand) kind() CommandKind {
	if c.barrier.Type == UAVBarrier {
		return CmdUAVBarrier
	}
	return CmdTransitionBarrier
}

// The queue executes commands in order so barriers only delimit build
// batches.
func (c *barrierCommand) execute(*Queue) error {
	return nil
}

// Record one or more resource barriers. Transition barriers must name the
// state the resource is currently in.
func (cl *CommandList) ResourceBarrier(barriers ...Barrier) error {
	if err := cl.checkRecording(); err != nil {
		return err
	}

	for _, barrier := range barriers {
		res := barrier.Resource
		if res == nil {
			return fmt.Errorf("device: %s: barrier without resource: %w", cl.name, ErrInvalidState)
		}
		if res.Released() {
			return fmt.Errorf("device: %s: barrier on %s: %w", cl.name, res.name, ErrReleased)
		}

		switch barrier.Type {
		case TransitionBarrier:
			if barrier.Before != res.state {
				return fmt.Errorf("device: %s: transition of %s from %s: %w (resource is in %s)", cl.name, res.name, barrier.Before, ErrInvalidState, res.state)
			}
			if err := validateTransition(res, barrier.After); err != nil {
				return fmt.Errorf("device: %s: transition of %s: %w", cl.name, res.name, err)
			}
			res.state = barrier.After
		case UAVBarrier:
			if res.access&AllowUnorderedAccess == 0 {
				return fmt.Errorf("device: %s: uav barrier on %s: %w", cl.name, res.name, ErrInvalidAccess)
			}
		}

		if err := cl.record(&barrierCommand{barrier: barrier}); err != nil {
			return err
		}
	}
	return nil
}

func validateTransition(b *Buffer, after State) error {
	switch b.pool {
	case Upload:
		if after != GenericRead {
			return fmt.Errorf("%w: upload resources cannot leave %s", ErrInvalidState, GenericRead)
		}
	case Readback:
		if after != CopyDest {
			return fmt.Errorf("%w: readback resources cannot leave %s", ErrInvalidState, CopyDest)
		}
	}
	if b.state == AccelerationStructure || after == AccelerationStructure {
		return fmt.Errorf("%w: acceleration structure storage cannot change state", ErrInvalidState)
	}
	if after == UnorderedAccess && b.access&AllowUnorderedAccess == 0 {
		return fmt.Errorf("%w: %s requires unordered access", ErrInvalidAccess, after)
	}
	return nil
}

type copyCommand struct {
	dst, src             *Buffer
	dstOffset, srcOffset uint64
	size                 uint64
}

func (c *copyCommand) kind() CommandKind { return CmdCopyBufferRegion }

func (c *copyCommand) execute(*Queue) error {
	if c.dst.Released() || c.src.Released() {
		return fmt.Errorf("copy %s -> %s: %w", c.src.name, c.dst.name, ErrReleased)
	}
	copy(c.dst.data[c.dstOffset:c.dstOffset+c.size], c.src.data[c.srcOffset:c.srcOffset+c.size])
	return nil
}

// Record a copy of size bytes from src to dst. The source must be in the
// CopySource state (or be an upload buffer) and the destination must be in
// the CopyDest state.
func (cl *CommandList) CopyBufferRegion(dst *Buffer, dstOffset uint64, src *Buffer, srcOffset, size uint64) error {
	if err := cl.checkRecording(); err != nil {
		return err
	}
	if dst.Released() || src.Released() {
		return fmt.Errorf("device: %s: copy %s -> %s: %w", cl.name, src.name, dst.name, ErrReleased)
	}
	if src.state != CopySource && !(src.pool == Upload && src.state == GenericRead) {
		return fmt.Errorf("device: %s: copy source %s: %w (%s)", cl.name, src.name, ErrInvalidState, src.state)
	}
	if dst.state != CopyDest {
		return fmt.Errorf("device: %s: copy destination %s: %w (%s)", cl.name, dst.name, ErrInvalidState, dst.state)
	}
	if srcOffset+size > src.size || dstOffset+size > dst.size {
		return fmt.Errorf("device: %s: copy of %d bytes %s[%d] -> %s[%d]: %w", cl.name, size, src.name, srcOffset, dst.name, dstOffset, ErrOutOfBounds)
	}

	return cl.record(&copyCommand{
		dst:       dst,
		src:       src,
		dstOffset: dstOffset,
		srcOffset: srcOffset,
		size:      size,
	})
}
