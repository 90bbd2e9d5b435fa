package device

import (
	"sync"
)

// A fence is a monotonically increasing completion counter shared between
// the host and the device queue.
type Fence struct {
	name string

	mu        sync.Mutex
	cond      *sync.Cond
	value     uint64
	completed uint64
	err       error
}

// Create a fence with an initial value of zero.
func (c *Context) CreateFence(name string) *Fence {
	f := &Fence{name: name}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Get the last value the device reported as completed.
func (f *Fence) Completed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// Get the last value submitted to a queue.
func (f *Fence) Value() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Increment the fence value, enqueue a signal for it behind all work
// already submitted to q and block until the queue reaches it. There is no
// timeout. If the device is lost the call fails with ErrDeviceLost.
func (f *Fence) SignalAndWait(q *Queue) (uint64, error) {
	f.mu.Lock()
	f.value++
	target := f.value
	f.mu.Unlock()

	if err := q.signal(f, target); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for f.completed < target && f.err == nil {
		f.cond.Wait()
	}
	if f.err != nil {
		return 0, f.err
	}
	return target, nil
}

// Called by the queue once every command before the signal has executed.
func (f *Fence) complete(value uint64, err error) {
	f.mu.Lock()
	if err != nil {
		f.err = err
	} else if value > f.completed {
		f.completed = value
	}
	f.mu.Unlock()
	f.cond.Broadcast()
}
