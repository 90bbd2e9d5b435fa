package accel

import (
	"errors"
	"fmt"

	"github.com/achilleasa/rtframe/log"
	"github.com/achilleasa/rtframe/scene"
	"github.com/achilleasa/rtframe/tracer/device"
)

var (
	ErrEmptyScene         = errors.New("accel: scene contains no objects")
	ErrZeroSizedStructure = errors.New("accel: prebuild info reported a zero sized structure")
)

// Builder options.
type Options struct {
	// Multiplier applied to the object index to obtain each instance's
	// hit group contribution. Values above 1 reserve hit group slots for
	// additional ray types.
	InstanceMultiplier uint32
}

// Default builder options.
func DefaultOptions() Options {
	return Options{InstanceMultiplier: 1}
}

// The device-resident scene geometry the structures are built from.
type Geometry struct {
	// Flat vertex array; positions are the first 12 bytes of each
	// VertexStride sized element.
	Vertices     *device.Buffer
	VertexStride uint64

	// Flat triangle index array of uint32 triplets.
	Tridices *device.Buffer
}

// A built acceleration structure and its scratch memory.
type Level struct {
	Result  *device.Buffer
	Scratch *device.Buffer
	Info    device.PrebuildInfo
}

// Address of the structure.
func (l *Level) Address() device.Address {
	return l.Result.Address()
}

func (l *Level) releaseScratch() {
	if l.Scratch != nil {
		l.Scratch.Release()
		l.Scratch = nil
	}
}

func (l *Level) release() {
	l.releaseScratch()
	if l.Result != nil {
		l.Result.Release()
		l.Result = nil
	}
}

// The bottom-level structures (one per scene object) and the top-level
// structure instancing them.
type Structures struct {
	BottomLevel []*Level
	TopLevel    *Level

	// The uploaded instance descriptions.
	Instances *device.Buffer
}

// Get the address of the top-level structure.
func (s *Structures) TopLevelAddress() device.Address {
	return s.TopLevel.Address()
}

// Release the scratch buffers. Must only be called after the submission
// that recorded the builds has completed.
func (s *Structures) ReleaseScratch() {
	for _, level := range s.BottomLevel {
		level.releaseScratch()
	}
	if s.TopLevel != nil {
		s.TopLevel.releaseScratch()
	}
}

// Release every buffer owned by the structures.
func (s *Structures) Release() {
	if s == nil {
		return
	}
	for _, level := range s.BottomLevel {
		level.release()
	}
	s.BottomLevel = nil
	if s.TopLevel != nil {
		s.TopLevel.release()
		s.TopLevel = nil
	}
	if s.Instances != nil {
		s.Instances.Release()
		s.Instances = nil
	}
}

// Builder records the two-phase acceleration structure build for a scene.
type Builder struct {
	logger log.Logger
	ctx    *device.Context
	opts   Options
}

// Create a builder.
func NewBuilder(ctx *device.Context, opts Options) *Builder {
	if opts.InstanceMultiplier == 0 {
		opts.InstanceMultiplier = 1
	}
	return &Builder{
		logger: log.New("accel"),
		ctx:    ctx,
		opts:   opts,
	}
}

// Record the build of one bottom-level structure per object followed by
// the top-level structure into cl. The returned structures are only
// usable after cl has been submitted and the submission has completed.
// Geometry buffers must be in the GenericRead state.
func (b *Builder) Build(cl *device.CommandList, geom Geometry, objects []scene.SceneObject) (*Structures, error) {
	if len(objects) == 0 {
		return nil, ErrEmptyScene
	}

	s := &Structures{BottomLevel: make([]*Level, 0, len(objects))}
	if err := b.build(cl, geom, objects, s); err != nil {
		s.Release()
		return nil, err
	}
	return s, nil
}

func (b *Builder) build(cl *device.CommandList, geom Geometry, objects []scene.SceneObject, s *Structures) error {
	// Phase 1: bottom-level structures.
	for idx, obj := range objects {
		vertexAddr, err := geom.Vertices.AddressAt(uint64(obj.VertexOffset) * geom.VertexStride)
		if err != nil {
			return fmt.Errorf("accel: object %d vertices: %w", idx, err)
		}
		indexAddr, err := geom.Tridices.AddressAt(uint64(obj.TridexOffset) * scene.SizeofTridex)
		if err != nil {
			return fmt.Errorf("accel: object %d triangles: %w", idx, err)
		}

		inputs := device.BuildInputs{
			Type:  device.BottomLevel,
			Flags: device.PreferFastTrace,
			Geometries: []device.GeometryDesc{{
				Flags: device.GeometryOpaque,
				Triangles: device.TrianglesDesc{
					VertexBuffer: vertexAddr,
					VertexStride: geom.VertexStride,
					VertexCount:  obj.NumVertices,
					IndexBuffer:  indexAddr,
					IndexCount:   obj.NumTridices * 3,
				},
			}},
		}

		level, err := b.allocate(fmt.Sprintf("blas[%d]", idx), &inputs)
		if err != nil {
			return err
		}
		s.BottomLevel = append(s.BottomLevel, level)

		if err := cl.BuildAccelerationStructure(&device.BuildDesc{
			Dest:    level.Result.Address(),
			Inputs:  inputs,
			Scratch: level.Scratch.Address(),
		}); err != nil {
			return fmt.Errorf("accel: object %d: %w", idx, err)
		}
	}

	// Bottom-level builds are recorded back to back so the device can run
	// them concurrently; the top-level build reads every result.
	barriers := make([]device.Barrier, len(s.BottomLevel))
	for idx, level := range s.BottomLevel {
		barriers[idx] = device.UAV(level.Result)
	}
	if err := cl.ResourceBarrier(barriers...); err != nil {
		return err
	}

	// Phase 2: top-level structure.
	instData := make([]byte, len(objects)*device.SizeofInstanceDesc)
	for idx, obj := range objects {
		desc := device.InstanceDesc{
			Transform:                           obj.ModelMatrix.Mat3x4(),
			InstanceID:                          uint32(idx),
			InstanceMask:                        device.InstanceMaskAll,
			InstanceContributionToHitGroupIndex: uint32(idx) * b.opts.InstanceMultiplier,
			AccelerationStructure:               s.BottomLevel[idx].Address(),
		}
		if err := desc.Encode(instData[idx*device.SizeofInstanceDesc:]); err != nil {
			return fmt.Errorf("accel: instance %d: %w", idx, err)
		}
	}

	instances, err := b.ctx.CreateBuffer("instance descs", uint64(len(instData)), device.Upload, device.AccessNone, device.GenericRead)
	if err != nil {
		return err
	}
	s.Instances = instances
	mapped, err := instances.Map()
	if err != nil {
		return err
	}
	copy(mapped, instData)
	instances.Unmap()

	inputs := device.BuildInputs{
		Type:          device.TopLevel,
		Flags:         device.PreferFastTrace,
		NumInstances:  uint32(len(objects)),
		InstanceDescs: instances.Address(),
	}
	if s.TopLevel, err = b.allocate("tlas", &inputs); err != nil {
		return err
	}

	if err := cl.BuildAccelerationStructure(&device.BuildDesc{
		Dest:    s.TopLevel.Result.Address(),
		Inputs:  inputs,
		Scratch: s.TopLevel.Scratch.Address(),
	}); err != nil {
		return fmt.Errorf("accel: top level: %w", err)
	}

	b.logger.Debugf("recorded %d bottom-level builds and 1 top-level build (%d bytes)", len(objects), s.TopLevel.Info.ResultDataMaxSize)
	return nil
}

// Query the prebuild info and allocate the result and scratch buffers.
func (b *Builder) allocate(name string, inputs *device.BuildInputs) (*Level, error) {
	info := b.ctx.AccelerationStructurePrebuildInfo(inputs)
	if info.ResultDataMaxSize == 0 {
		return nil, fmt.Errorf("%w: %s", ErrZeroSizedStructure, name)
	}

	result, err := b.ctx.CreateBuffer(name, info.ResultDataMaxSize, device.DeviceLocal,
		device.AllowUnorderedAccess|device.AccelerationStructureStorage, device.AccelerationStructure)
	if err != nil {
		return nil, err
	}

	scratchSize := info.ScratchDataSize
	if scratchSize == 0 {
		scratchSize = device.AccelerationStructureAlignment
	}
	scratch, err := b.ctx.CreateBuffer(name+" scratch", scratchSize, device.DeviceLocal, device.AllowUnorderedAccess, device.UnorderedAccess)
	if err != nil {
		result.Release()
		return nil, err
	}

	b.logger.Debugf("%s: result %d bytes, scratch %d bytes", name, info.ResultDataMaxSize, info.ScratchDataSize)
	return &Level{Result: result, Scratch: scratch, Info: info}, nil
}
