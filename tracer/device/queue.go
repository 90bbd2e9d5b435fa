package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const queueDepth = 16

type queueItem struct {
	lists []*CommandList

	fence      *Fence
	fenceValue uint64
}

// Queue statistics.
type QueueStats struct {
	ExecutedLists uint64

	// Time spent executing the most recent ray dispatch and its
	// per-worker blocks.
	LastDispatchTime   time.Duration
	LastDispatchBlocks []BlockStats
}

// The single device queue. Submitted command lists execute in submission
// order on a dedicated goroutine.
type Queue struct {
	ctx *Context

	mu     sync.RWMutex
	closed bool
	items  chan queueItem
	done   chan struct{}

	lost atomic.Pointer[error]

	executedLists    atomic.Uint64
	lastDispatchTime atomic.Int64

	// Dispatch row scheduling; only touched by the queue goroutine.
	scheduler BlockScheduler

	blocksMu sync.Mutex
	blocks   []BlockStats
}

func newQueue(ctx *Context) *Queue {
	q := &Queue{
		ctx:       ctx,
		items:     make(chan queueItem, queueDepth),
		done:      make(chan struct{}),
		scheduler: NewPerfectScheduler(),
	}
	go q.run()
	return q
}

// Submit closed command lists for execution.
func (q *Queue) Submit(lists ...*CommandList) error {
	if err := q.Err(); err != nil {
		return err
	}
	for _, cl := range lists {
		if !cl.closed {
			return fmt.Errorf("device: submitting %s: %w", cl.name, ErrListNotClosed)
		}
		if !cl.pending.CompareAndSwap(false, true) {
			return fmt.Errorf("device: submitting %s: %w", cl.name, ErrListPending)
		}
	}
	return q.enqueue(queueItem{lists: lists})
}

// Get the error that caused the device to be lost or nil.
func (q *Queue) Err() error {
	if errPtr := q.lost.Load(); errPtr != nil {
		return *errPtr
	}
	return nil
}

// Get queue statistics.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		ExecutedLists:      q.executedLists.Load(),
		LastDispatchTime:   time.Duration(q.lastDispatchTime.Load()),
		LastDispatchBlocks: append([]BlockStats(nil), q.lastBlocks()...),
	}
}

func (q *Queue) lastBlocks() []BlockStats {
	q.blocksMu.Lock()
	defer q.blocksMu.Unlock()
	return q.blocks
}

func (q *Queue) setLastBlocks(blocks []BlockStats) {
	q.blocksMu.Lock()
	defer q.blocksMu.Unlock()
	q.blocks = blocks
}

func (q *Queue) signal(f *Fence, value uint64) error {
	if err := q.Err(); err != nil {
		return err
	}
	return q.enqueue(queueItem{fence: f, fenceValue: value})
}

func (q *Queue) enqueue(item queueItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		for _, cl := range item.lists {
			cl.pending.Store(false)
		}
		return ErrContextClosed
	}
	q.items <- item
	return nil
}

func (q *Queue) shutdown() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) setLost(cause error) {
	err := fmt.Errorf("%w: %v", ErrDeviceLost, cause)
	if q.lost.CompareAndSwap(nil, &err) {
		q.ctx.logger.Errorf("device lost: %v", cause)
	}
}

func (q *Queue) run() {
	defer close(q.done)

	for item := range q.items {
		for _, cl := range item.lists {
			if q.Err() == nil {
				if err := q.execute(cl); err != nil {
					q.setLost(fmt.Errorf("executing %s: %w", cl.name, err))
				}
			}
			q.executedLists.Add(1)
			cl.pending.Store(false)
		}

		if item.fence != nil {
			item.fence.complete(item.fenceValue, q.Err())
		}
	}
}

// Execute the commands of a list in order. Consecutive acceleration
// structure builds are not ordered with respect to each other and run in
// parallel; barriers and any other command flush them.
func (q *Queue) execute(cl *CommandList) error {
	var batch []*buildCommand

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := q.executeBuilds(batch)
		batch = batch[:0]
		return err
	}

	for _, cmd := range cl.commands {
		if build, isBuild := cmd.(*buildCommand); isBuild {
			batch = append(batch, build)
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		if err := cmd.execute(q); err != nil {
			return err
		}
	}
	return flush()
}

func (q *Queue) executeBuilds(batch []*buildCommand) error {
	if len(batch) == 1 {
		return batch[0].execute(q)
	}

	// Destinations written by this batch cannot be read by another
	// build of the same batch.
	pending := make(map[*Buffer]struct{}, len(batch))
	for _, build := range batch {
		pending[build.dest] = struct{}{}
	}

	var g errgroup.Group
	g.SetLimit(q.ctx.workers)
	for _, build := range batch {
		g.Go(func() error {
			return build.executeWithPending(q, pending)
		})
	}
	return g.Wait()
}
