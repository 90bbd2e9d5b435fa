package raytrace

import (
	"fmt"
	"time"

	"github.com/achilleasa/rtframe/scene"
	"github.com/achilleasa/rtframe/tracer/device"
	"github.com/achilleasa/rtframe/tracer/program/pathtrace"
)

// Reallocate the output buffer for a new frame size. Accumulation restarts
// with the next frame.
func (tr *Tracer) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidFrameSize, width, height)
	}
	if width == tr.width && height == tr.height && tr.output != nil {
		return nil
	}

	if tr.output != nil {
		tr.output.Release()
		tr.output = nil
		tr.descriptors.ClearView(pathtrace.OutputDescriptor)
	}
	tr.width, tr.height = 0, 0

	output, err := tr.ctx.CreateBuffer(
		"output", uint64(width)*uint64(height)*pathtrace.BytesPerPixel,
		device.DeviceLocal, device.AllowUnorderedAccess, device.UnorderedAccess,
	)
	if err != nil {
		return err
	}
	err = tr.descriptors.CreateView(pathtrace.OutputDescriptor, device.BufferView{
		Type:                device.UnorderedAccessView,
		Buffer:              output,
		NumElements:         width * height,
		StructureByteStride: pathtrace.BytesPerPixel,
	})
	if err != nil {
		output.Release()
		return err
	}

	tr.output = output
	tr.width, tr.height = width, height

	// The new output holds no samples; the next frame needs fresh constants.
	tr.havePose = false
	tr.constantsReady = false
	tr.logger.Debugf("allocated %dx%d output buffer", width, height)
	return nil
}

// Write the per-frame constants for camera. The accumulation counter
// restarts at zero when the camera pose differs from the previous frame
// and increments otherwise.
func (tr *Tracer) Update(camera *scene.Camera) error {
	if tr.scene == nil {
		return ErrNoScene
	}

	pose := camera.Pose()
	if !tr.havePose || pose != tr.lastPose {
		tr.accumulatedFrame = 0
	} else {
		tr.accumulatedFrame++
	}
	tr.lastPose = pose
	tr.havePose = true

	constants := pathtrace.Constants{
		Background:       tr.scene.Background,
		CameraPos:        camera.Position,
		InvViewProj:      camera.InvViewProjMat(),
		AccumulatedFrame: tr.accumulatedFrame,
		SamplesPerFrame:  tr.opts.SamplesPerFrame,
		MaxPathLength:    tr.opts.MaxPathLength,
	}

	mapped, err := tr.constants.Map()
	if err != nil {
		return err
	}
	constants.Encode(mapped)
	tr.constants.Unmap()

	tr.constantsReady = true
	return nil
}

// Get the accumulation counter written by the last Update call.
func (tr *Tracer) AccumulatedFrame() uint32 {
	return tr.accumulatedFrame
}

// Render a frame: dispatch one ray generation launch per output texel,
// copy the output into the readback buffer and block until the device is
// done. The returned data stays valid until the next call.
func (tr *Tracer) Trace() (Result, error) {
	switch {
	case tr.scene == nil:
		return Result{}, ErrNoScene
	case tr.output == nil:
		return Result{}, ErrNoOutput
	case !tr.constantsReady:
		return Result{}, ErrNoConstants
	}

	start := time.Now()
	if err := tr.recordFrame(); err != nil {
		tr.abort()
		return Result{}, err
	}
	if err := tr.submitAndWait(); err != nil {
		tr.abort()
		return Result{}, err
	}

	required := tr.outputSize()
	data, err := tr.readback.Map()
	if err != nil {
		return Result{}, err
	}

	queueStats := tr.ctx.Queue().Stats()
	tr.stats.FrameCount++
	tr.stats.AccumulatedFrame = tr.accumulatedFrame
	tr.stats.DispatchDims = [3]uint32{tr.width, tr.height, 1}
	tr.stats.FrameTime = time.Since(start)
	tr.stats.DispatchTime = queueStats.LastDispatchTime
	tr.stats.Blocks = queueStats.LastDispatchBlocks

	return Result{
		Data:          data[:required:required],
		Width:         tr.width,
		Height:        tr.height,
		BytesPerPixel: pathtrace.BytesPerPixel,
	}, nil
}

func (tr *Tracer) outputSize() uint64 {
	return uint64(tr.width) * uint64(tr.height) * pathtrace.BytesPerPixel
}

func (tr *Tracer) recordFrame() error {
	cl := tr.cmdList
	if err := cl.SetPipelineState(tr.pipeline); err != nil {
		return err
	}
	if err := cl.SetComputeRootSignature(tr.pipeline.RootSignature()); err != nil {
		return err
	}
	if err := cl.SetDescriptorHeap(tr.descriptors); err != nil {
		return err
	}
	if err := cl.SetComputeRootConstantBufferView(pathtrace.SlotConstants, tr.constants.Address()); err != nil {
		return err
	}
	if err := cl.SetComputeRootShaderResourceView(pathtrace.SlotScene, tr.structures.TopLevelAddress()); err != nil {
		return err
	}
	if err := cl.SetComputeRootDescriptorTable(pathtrace.SlotOutput, tr.descriptors.Handle(pathtrace.OutputDescriptor)); err != nil {
		return err
	}
	if err := cl.SetComputeRootDescriptorTable(pathtrace.SlotGeometry, tr.descriptors.Handle(pathtrace.GeometryDescriptor)); err != nil {
		return err
	}

	desc := device.DispatchRaysDesc{Width: tr.width, Height: tr.height, Depth: 1}
	tr.table.DispatchRegions(&desc)
	if err := cl.DispatchRays(&desc); err != nil {
		return err
	}

	required := tr.outputSize()
	if err := tr.ensureReadback(required); err != nil {
		return err
	}

	if err := cl.ResourceBarrier(device.Transition(tr.output, device.UnorderedAccess, device.CopySource)); err != nil {
		return err
	}
	if err := cl.CopyBufferRegion(tr.readback, 0, tr.output, 0, required); err != nil {
		return err
	}
	return cl.ResourceBarrier(device.Transition(tr.output, device.CopySource, device.UnorderedAccess))
}

// Grow the readback buffer to twice the required size when it cannot hold
// the output. The buffer never shrinks. Frames are synchronous so the old
// buffer is no longer referenced by submitted work.
func (tr *Tracer) ensureReadback(required uint64) error {
	if tr.readback.Size() >= required {
		return nil
	}

	size := device.Align(2*required, device.PlacementAlignment)
	buf, err := tr.allocReadback(size)
	if err != nil {
		return err
	}
	tr.logger.Debugf("grew readback buffer from %d to %d bytes", tr.readback.Size(), size)
	tr.readback.Release()
	tr.readback = buf
	return nil
}

func (tr *Tracer) allocReadback(size uint64) (*device.Buffer, error) {
	return tr.ctx.CreateBuffer("readback", size, device.Readback, device.AccessNone, device.CopyDest)
}
