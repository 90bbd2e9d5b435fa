package device

import (
	"math"
	"time"
)

// Timing of one dispatch block.
type BlockStats struct {
	// The block height in launch rows.
	BlockH uint32

	// The time for executing this block.
	BlockTime time.Duration
}

// The BlockScheduler interface is implemented by all block scheduling
// algorithms that split a dispatch into row blocks for the device workers.
type BlockScheduler interface {
	// Split rows into one block per worker using feedback collected from
	// the previous dispatch. Returns the block height for each worker.
	Schedule(last []BlockStats, workers int, rows uint32) []uint32
}

// The perfect scheduler assumes that the volume of work between two
// subsequent dispatches is approximately the same.
type perfectScheduler struct {
	blockAssignment []uint32
	rows            uint32
}

// Create a new perfect scheduler instance.
func NewPerfectScheduler() BlockScheduler {
	return &perfectScheduler{}
}

// Split rows into blocks. When previous dispatch information is available
// the scheduler estimates the workload for worker w as:
// rows_w = (blockH_w / time_w) / Σ(blockH / time) * rows
func (sch *perfectScheduler) Schedule(last []BlockStats, workers int, rows uint32) []uint32 {
	if workers < 1 {
		workers = 1
	}

	// If this is the first time we schedule or the worker count or the
	// dispatch size changed, split rows evenly.
	if len(sch.blockAssignment) != workers || sch.rows != rows || len(last) != workers || !hasTimings(last) {
		sch.blockAssignment = make([]uint32, workers)
		sch.rows = rows
		for idx := range sch.blockAssignment {
			sch.blockAssignment[idx] = rows / uint32(workers)
		}
		sch.blockAssignment[0] += rows % uint32(workers)
		return sch.blockAssignment
	}

	var total float64
	for _, stats := range last {
		total += rate(stats)
	}

	scaler := float64(rows) / total
	var scheduledRows uint32
	for idx, stats := range last {
		assigned := uint32(math.Floor(rate(stats) * scaler))
		if assigned == 0 && rows >= uint32(workers) {
			assigned = 1
		}
		if scheduledRows+assigned > rows {
			assigned = rows - scheduledRows
		}
		sch.blockAssignment[idx] = assigned
		scheduledRows += assigned
	}

	// In case rows don't add up to the dispatch height append the missing
	// ones to the first worker
	sch.blockAssignment[0] += rows - scheduledRows

	return sch.blockAssignment
}

func hasTimings(last []BlockStats) bool {
	for _, stats := range last {
		if stats.BlockH == 0 || stats.BlockTime <= 0 {
			return false
		}
	}
	return true
}

func rate(stats BlockStats) float64 {
	return float64(stats.BlockH) / float64(stats.BlockTime)
}
