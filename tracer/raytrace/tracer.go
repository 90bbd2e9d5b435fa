package raytrace

import (
	"errors"
	"fmt"
	"time"

	"github.com/achilleasa/rtframe/log"
	"github.com/achilleasa/rtframe/scene"
	"github.com/achilleasa/rtframe/tracer/accel"
	"github.com/achilleasa/rtframe/tracer/device"
	"github.com/achilleasa/rtframe/tracer/program/pathtrace"
	"github.com/achilleasa/rtframe/tracer/shadertable"
)

var (
	ErrNoScene          = errors.New("raytrace: no scene loaded")
	ErrNoOutput         = errors.New("raytrace: output buffer not allocated; call Resize first")
	ErrNoConstants      = errors.New("raytrace: frame constants not written; call Update first")
	ErrInvalidFrameSize = errors.New("raytrace: invalid frame size")
)

const (
	// Initial readback capacity: one 1080p RGBA float frame.
	initialReadbackSize = 16 * 1920 * 1080
)

// Tracer options.
type Options struct {
	SamplesPerFrame uint32
	MaxPathLength   uint32

	// Hit group records reserved per instance.
	InstanceMultiplier uint32
}

// Get the default tracer options.
func DefaultOptions() Options {
	return Options{
		SamplesPerFrame:    pathtrace.DefaultSamplesPerFrame,
		MaxPathLength:      pathtrace.DefaultMaxPathLength,
		InstanceMultiplier: 1,
	}
}

// A rendered frame. Data aliases the mapped readback buffer and is only
// valid until the next call to Trace.
type Result struct {
	Data          []byte
	Width, Height uint32
	BytesPerPixel uint32
}

// Tracer statistics.
type Stats struct {
	// Number of traced frames since the tracer was created.
	FrameCount uint64

	// Accumulation counter used by the last frame.
	AccumulatedFrame uint32

	DispatchDims     [3]uint32
	ReadbackCapacity uint64

	// Wall time of the last Trace call and of its dispatch.
	FrameTime    time.Duration
	DispatchTime time.Duration

	// Row blocks assigned to device workers by the last dispatch.
	Blocks []device.BlockStats
}

// Tracer is the ray dispatch orchestrator. It owns the scene resources,
// the output and readback buffers and a single command list that is
// recorded, submitted and waited on once per frame.
type Tracer struct {
	logger log.Logger
	ctx    *device.Context
	opts   Options

	pipeline    *device.PipelineState
	cmdList     *device.CommandList
	fence       *device.Fence
	descriptors *device.DescriptorHeap
	builder     *accel.Builder

	// Scene resources.
	scene      *scene.Scene
	geometry   [pathtrace.NumGeometryDescriptors]*device.Buffer
	structures *accel.Structures
	table      *shadertable.Table

	// Frame resources.
	width, height uint32
	output        *device.Buffer
	readback      *device.Buffer
	constants     *device.Buffer

	constantsReady   bool
	havePose         bool
	lastPose         scene.Pose
	accumulatedFrame uint32

	stats Stats
}

// Create a tracer bound to a device context.
func NewTracer(ctx *device.Context, opts Options) (*Tracer, error) {
	defaults := DefaultOptions()
	if opts.SamplesPerFrame == 0 {
		opts.SamplesPerFrame = defaults.SamplesPerFrame
	}
	if opts.MaxPathLength == 0 {
		opts.MaxPathLength = defaults.MaxPathLength
	}
	if opts.InstanceMultiplier == 0 {
		opts.InstanceMultiplier = defaults.InstanceMultiplier
	}

	tr := &Tracer{
		logger:  log.New(fmt.Sprintf("raytrace (%s)", ctx.Name())),
		ctx:     ctx,
		opts:    opts,
		cmdList: ctx.CreateCommandList("frame"),
		fence:   ctx.CreateFence("frame"),
		builder: accel.NewBuilder(ctx, accel.Options{InstanceMultiplier: opts.InstanceMultiplier}),
	}

	if err := tr.init(); err != nil {
		tr.Close()
		return nil, err
	}
	return tr, nil
}

func (tr *Tracer) init() error {
	var err error
	if tr.pipeline, err = pathtrace.NewPipeline(tr.ctx, shadertable.HitGroupLocalArgsSize); err != nil {
		return err
	}
	if tr.descriptors, err = tr.ctx.CreateDescriptorHeap("frame descriptors", pathtrace.NumDescriptors); err != nil {
		return err
	}
	if tr.constants, err = tr.ctx.CreateBuffer("constants", pathtrace.SizeofConstants, device.Upload, device.AccessNone, device.GenericRead); err != nil {
		return err
	}
	tr.readback, err = tr.allocReadback(device.Align(initialReadbackSize, device.PlacementAlignment))
	return err
}

// Get tracer options.
func (tr *Tracer) Options() Options {
	return tr.opts
}

// Get the statistics of the last traced frame.
func (tr *Tracer) Stats() Stats {
	stats := tr.stats
	stats.Blocks = append([]device.BlockStats(nil), tr.stats.Blocks...)
	if tr.readback != nil {
		stats.ReadbackCapacity = tr.readback.Size()
	}
	return stats
}

// Release every resource owned by the tracer. The device context is left
// open.
func (tr *Tracer) Close() {
	tr.unloadScene()
	for _, buf := range []**device.Buffer{&tr.output, &tr.readback, &tr.constants} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
	tr.width, tr.height = 0, 0
}

// Close, submit and wait for the recorded command list, then reset it for
// the next recording.
func (tr *Tracer) submitAndWait() error {
	if err := tr.cmdList.Close(); err != nil {
		return err
	}
	if err := tr.ctx.Queue().Submit(tr.cmdList); err != nil {
		return err
	}
	if _, err := tr.fence.SignalAndWait(tr.ctx.Queue()); err != nil {
		return err
	}
	return tr.cmdList.Reset()
}
