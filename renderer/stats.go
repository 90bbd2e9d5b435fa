package renderer

import "time"

type BlockStat struct {
	// The device worker that rendered the block.
	Worker int

	// The block height and the percentage of total frame area it represents.
	BlockH       uint32
	FramePercent float32

	// Render time for assigned block
	RenderTime time.Duration
}

type FrameStats struct {
	// Frame counters.
	FrameCount       uint64
	AccumulatedFrame uint32

	// Per-worker block stats of the last dispatch.
	Blocks []BlockStat

	// Readback buffer size in bytes.
	ReadbackCapacity uint64

	// Time spent in the ray dispatch and in tonemapping.
	DispatchTime time.Duration
	TonemapTime  time.Duration

	// Total render time for entire frame.
	RenderTime time.Duration
}
