package renderer

import (
	"github.com/achilleasa/rtframe/tracer/program/pathtrace"
	"github.com/achilleasa/rtframe/types"
)

type Options struct {
	// Frame dims.
	FrameW uint32
	FrameH uint32

	// Number of paths traced per pixel and frame.
	SamplesPerFrame uint32

	// Max number of path segments.
	MaxPathLength uint32

	// Exposure for tonemapping.
	Exposure float32

	// If set, overrides the scene background.
	Background *types.Vec3

	// Hit group records reserved per scene object.
	InstanceMultiplier uint32

	// Number of device workers; 0 selects the number of CPUs.
	Workers int
}

// Get the default renderer options.
func DefaultOptions() Options {
	return Options{
		FrameW:             512,
		FrameH:             512,
		SamplesPerFrame:    pathtrace.DefaultSamplesPerFrame,
		MaxPathLength:      pathtrace.DefaultMaxPathLength,
		Exposure:           1.0,
		InstanceMultiplier: 1,
	}
}
