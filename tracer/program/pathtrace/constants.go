package pathtrace

import (
	"encoding/binary"
	"math"

	"github.com/achilleasa/rtframe/types"
)

const (
	// Size of the constant buffer. Constants are packed in 16 byte lines.
	SizeofConstants = 256

	offsetBackground       = 0
	offsetCameraPos        = 16
	offsetInvViewProj      = 32
	offsetAccumulatedFrame = 96
	offsetSamplesPerFrame  = 100
	offsetMaxPathLength    = 104

	// Defaults used when the renderer options leave them unset.
	DefaultSamplesPerFrame = 8
	DefaultMaxPathLength   = 48
)

// Per-frame constants shared by every launch of a dispatch.
type Constants struct {
	Background  types.Vec3
	CameraPos   types.Vec3
	InvViewProj types.Mat4

	// Number of frames already blended into the output buffer. Zero
	// discards the previous contents.
	AccumulatedFrame uint32

	SamplesPerFrame uint32
	MaxPathLength   uint32
}

// Encode constants into a buffer of at least SizeofConstants bytes.
func (c *Constants) Encode(b []byte) {
	putFloats(b[offsetBackground:], c.Background[:]...)
	putFloats(b[offsetCameraPos:], c.CameraPos[:]...)
	putFloats(b[offsetInvViewProj:], c.InvViewProj[:]...)
	binary.LittleEndian.PutUint32(b[offsetAccumulatedFrame:], c.AccumulatedFrame)
	binary.LittleEndian.PutUint32(b[offsetSamplesPerFrame:], c.SamplesPerFrame)
	binary.LittleEndian.PutUint32(b[offsetMaxPathLength:], c.MaxPathLength)
}

// Decode constants from an encoded buffer.
func DecodeConstants(b []byte) Constants {
	var c Constants
	getFloats(b[offsetBackground:], c.Background[:])
	getFloats(b[offsetCameraPos:], c.CameraPos[:])
	getFloats(b[offsetInvViewProj:], c.InvViewProj[:])
	c.AccumulatedFrame = binary.LittleEndian.Uint32(b[offsetAccumulatedFrame:])
	c.SamplesPerFrame = binary.LittleEndian.Uint32(b[offsetSamplesPerFrame:])
	c.MaxPathLength = binary.LittleEndian.Uint32(b[offsetMaxPathLength:])
	return c
}

func putFloats(b []byte, values ...float32) {
	for idx, v := range values {
		binary.LittleEndian.PutUint32(b[idx*4:], math.Float32bits(v))
	}
}

func getFloats(b []byte, out []float32) {
	for idx := range out {
		out[idx] = math.Float32frombits(binary.LittleEndian.Uint32(b[idx*4:]))
	}
}
