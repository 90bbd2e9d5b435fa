package device

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/achilleasa/rtframe/types"
)

// Acceleration structure level.
type AccelType uint8

const (
	BottomLevel AccelType = iota
	TopLevel
)

// Implements Stringer.
func (t AccelType) String() string {
	if t == TopLevel {
		return "top-level"
	}
	return "bottom-level"
}

// Acceleration structure build flags.
type BuildFlags uint8

const (
	BuildNone       BuildFlags = 0
	PreferFastTrace BuildFlags = 1 << 0
	PreferFastBuild BuildFlags = 1 << 1
)

// Geometry flags.
type GeometryFlags uint8

const (
	GeometryNone   GeometryFlags = 0
	GeometryOpaque GeometryFlags = 1 << 0
)

// Per-instance flags.
type InstanceFlags uint8

const (
	InstanceNone                InstanceFlags = 0
	InstanceTriangleCullDisable InstanceFlags = 1 << 0
	InstanceForceOpaque         InstanceFlags = 1 << 2
)

const (
	// Acceleration structure results must be placed at this alignment.
	AccelerationStructureAlignment = 256

	// Size of an encoded instance description.
	SizeofInstanceDesc = 64

	// Maximum value of the 24 bit instance fields.
	MaxInstanceID           = 1<<24 - 1
	MaxInstanceContribution = 1<<24 - 1

	// An instance mask that accepts every ray.
	InstanceMaskAll uint8 = 0xFF

	accelMagic           uint32 = 0x52545341 // "ASTR"
	sizeofAccelHeader           = 64
	sizeofTriangleRecord        = 44
	sizeofInstanceRecord        = 120
	sizeofScratchRecord         = 32
)

// Triangle geometry. Vertices are three packed float32 positions at the
// start of each stride-sized element; indices are uint32 triplets.
type TrianglesDesc struct {
	VertexBuffer Address
	VertexStride uint64
	VertexCount  uint32

	IndexBuffer Address
	IndexCount  uint32
}

// A geometry description for a bottom-level build.
type GeometryDesc struct {
	Flags     GeometryFlags
	Triangles TrianglesDesc
}

// Inputs to a build or a prebuild size query.
type BuildInputs struct {
	Type  AccelType
	Flags BuildFlags

	// Bottom-level inputs.
	Geometries []GeometryDesc

	// Top-level inputs: an array of encoded instance descriptions.
	NumInstances  uint32
	InstanceDescs Address
}

// The memory required by a build.
type PrebuildInfo struct {
	ResultDataMaxSize uint64
	ScratchDataSize   uint64
}

// An acceleration structure build.
type BuildDesc struct {
	Dest    Address
	Inputs  BuildInputs
	Scratch Address
}

// An instance of a bottom-level structure inside a top-level structure.
type InstanceDesc struct {
	// Object to world transform.
	Transform types.Mat3x4

	// 24 bit user value visible to hit shaders.
	InstanceID uint32

	// Rays whose mask does not overlap the instance mask skip it.
	InstanceMask uint8

	// 24 bit offset added to the hit group record index.
	InstanceContributionToHitGroupIndex uint32

	Flags InstanceFlags

	AccelerationStructure Address
}

// Encode the instance into a 64 byte record.
func (d InstanceDesc) Encode(b []byte) error {
	if d.InstanceID > MaxInstanceID {
		return fmt.Errorf("device: instance id %d exceeds 24 bits", d.InstanceID)
	}
	if d.InstanceContributionToHitGroupIndex > MaxInstanceContribution {
		return fmt.Errorf("device: instance contribution %d exceeds 24 bits", d.InstanceContributionToHitGroupIndex)
	}

	for idx, v := range d.Transform {
		binary.LittleEndian.PutUint32(b[idx*4:], math.Float32bits(v))
	}
	binary.LittleEndian.PutUint32(b[48:], d.InstanceID|uint32(d.InstanceMask)<<24)
	binary.LittleEndian.PutUint32(b[52:], d.InstanceContributionToHitGroupIndex|uint32(d.Flags)<<24)
	PutAddress(b[56:], d.AccelerationStructure)
	return nil
}

// Decode a 64 byte instance record.
func DecodeInstanceDesc(b []byte) InstanceDesc {
	var d InstanceDesc
	for idx := range d.Transform {
		d.Transform[idx] = math.Float32frombits(binary.LittleEndian.Uint32(b[idx*4:]))
	}
	idMask := binary.LittleEndian.Uint32(b[48:])
	contribFlags := binary.LittleEndian.Uint32(b[52:])
	d.InstanceID = idMask & MaxInstanceID
	d.InstanceMask = uint8(idMask >> 24)
	d.InstanceContributionToHitGroupIndex = contribFlags & MaxInstanceContribution
	d.Flags = InstanceFlags(contribFlags >> 24)
	d.AccelerationStructure = ReadAddress(b[56:])
	return d
}

// Query the result and scratch sizes for a build. Inputs without any
// primitives report zero sizes.
func (c *Context) AccelerationStructurePrebuildInfo(inputs *BuildInputs) PrebuildInfo {
	var prims uint64
	var recordSize uint64
	switch inputs.Type {
	case BottomLevel:
		for _, geom := range inputs.Geometries {
			prims += uint64(geom.Triangles.IndexCount / 3)
		}
		recordSize = sizeofTriangleRecord
	case TopLevel:
		prims = uint64(inputs.NumInstances)
		recordSize = sizeofInstanceRecord
	}

	if prims == 0 {
		return PrebuildInfo{}
	}

	return PrebuildInfo{
		ResultDataMaxSize: Align(sizeofAccelHeader+2*prims*sizeofBvhNode+prims*recordSize, AccelerationStructureAlignment),
		ScratchDataSize:   Align(prims*sizeofScratchRecord, AccelerationStructureAlignment),
	}
}

// A triangle stored in a bottom-level structure.
type triangle struct {
	v0, v1, v2 types.Vec3

	primitiveIndex uint32
	geometryIndex  uint32
	opaque         bool
}

// An instance stored in a top-level structure.
type instance struct {
	objectToWorld types.Mat3x4
	worldToObject types.Mat3x4

	id           uint32
	mask         uint8
	contribution uint32
	flags        InstanceFlags

	// Position in the instance desc array.
	index uint32

	blasAddr Address
	blas     *builtStructure
}

// The decoded form of a built acceleration structure.
type builtStructure struct {
	typ   AccelType
	nodes []bvhNode
	min   types.Vec3
	max   types.Vec3

	geometries int
	triangles  []triangle
	instances  []instance
}

type buildCommand struct {
	dest    *Buffer
	scratch *Buffer
	inputs  BuildInputs
	info    PrebuildInfo
}

func (c *buildCommand) kind() CommandKind { return CmdBuildAccelerationStructure }

// Record an acceleration structure build. The destination must be the
// start of a buffer in the AccelerationStructure state and the scratch
// range must be in the UnorderedAccess state; both must be at least as
// large as the prebuild info for the inputs.
func (cl *CommandList) BuildAccelerationStructure(desc *BuildDesc) error {
	if err := cl.checkRecording(); err != nil {
		return err
	}

	info := cl.ctx.AccelerationStructurePrebuildInfo(&desc.Inputs)
	if info.ResultDataMaxSize == 0 {
		return fmt.Errorf("device: %s: %s build without primitives: %w", cl.name, desc.Inputs.Type, ErrInvalidSize)
	}

	dest, destOffset, err := cl.ctx.resolve(desc.Dest, info.ResultDataMaxSize)
	if err != nil {
		return fmt.Errorf("device: %s: build destination: %w", cl.name, err)
	}
	if destOffset != 0 {
		return fmt.Errorf("device: %s: build destination %s must be the start of %s: %w", cl.name, desc.Dest, dest.name, ErrMisaligned)
	}
	if dest.state != AccelerationStructure {
		return fmt.Errorf("device: %s: build destination %s: %w (%s)", cl.name, dest.name, ErrInvalidState, dest.state)
	}

	scratch, scratchOffset, err := cl.ctx.resolve(desc.Scratch, info.ScratchDataSize)
	if err != nil {
		return fmt.Errorf("device: %s: build scratch: %w", cl.name, err)
	}
	if scratchOffset != 0 {
		return fmt.Errorf("device: %s: build scratch %s must be the start of %s: %w", cl.name, desc.Scratch, scratch.name, ErrMisaligned)
	}
	if scratch.state != UnorderedAccess {
		return fmt.Errorf("device: %s: build scratch %s: %w (%s)", cl.name, scratch.name, ErrInvalidState, scratch.state)
	}

	// Input buffers must be readable by the build.
	checkInput := func(addr Address, size uint64, what string) error {
		buf, _, err := cl.ctx.resolve(addr, size)
		if err != nil {
			return fmt.Errorf("device: %s: %s: %w", cl.name, what, err)
		}
		if buf.state != GenericRead {
			return fmt.Errorf("device: %s: %s %s: %w (%s)", cl.name, what, buf.name, ErrInvalidState, buf.state)
		}
		return nil
	}
	switch desc.Inputs.Type {
	case BottomLevel:
		for gi, geom := range desc.Inputs.Geometries {
			tri := geom.Triangles
			if tri.VertexCount == 0 || tri.VertexStride < 12 || tri.IndexCount%3 != 0 {
				return fmt.Errorf("device: %s: geometry %d: invalid triangle description: %w", cl.name, gi, ErrInvalidSize)
			}
			if err := checkInput(tri.VertexBuffer, uint64(tri.VertexCount-1)*tri.VertexStride+12, fmt.Sprintf("geometry %d vertices", gi)); err != nil {
				return err
			}
			if err := checkInput(tri.IndexBuffer, uint64(tri.IndexCount)*4, fmt.Sprintf("geometry %d indices", gi)); err != nil {
				return err
			}
		}
	case TopLevel:
		if err := checkInput(desc.Inputs.InstanceDescs, uint64(desc.Inputs.NumInstances)*SizeofInstanceDesc, "instance descs"); err != nil {
			return err
		}
	}

	inputs := desc.Inputs
	inputs.Geometries = append([]GeometryDesc(nil), desc.Inputs.Geometries...)
	return cl.record(&buildCommand{
		dest:    dest,
		scratch: scratch,
		inputs:  inputs,
		info:    info,
	})
}

func (c *buildCommand) execute(q *Queue) error {
	return c.executeWithPending(q, nil)
}

// Run the build. Structures listed in pending are being written by
// builds that are not ordered before this one.
func (c *buildCommand) executeWithPending(q *Queue, pending map[*Buffer]struct{}) error {
	if c.dest.Released() || c.scratch.Released() {
		return fmt.Errorf("build into %s: %w", c.dest.name, ErrReleased)
	}

	var (
		built *builtStructure
		err   error
	)
	switch c.inputs.Type {
	case BottomLevel:
		built, err = c.buildBottomLevel(q.ctx)
	case TopLevel:
		built, err = c.buildTopLevel(q.ctx, pending)
	default:
		err = fmt.Errorf("unknown acceleration structure type %d", c.inputs.Type)
	}
	if err != nil {
		return fmt.Errorf("build into %s: %w", c.dest.name, err)
	}

	built.serialize(c.dest.data)
	c.dest.accel.Store(built)
	return nil
}

func readVec3(b []byte) types.Vec3 {
	return types.Vec3{
		math.Float32frombits(binary.LittleEndian.Uint32(b)),
		math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
	}
}

func putVec3(b []byte, v types.Vec3) {
	for idx := 0; idx < 3; idx++ {
		binary.LittleEndian.PutUint32(b[idx*4:], math.Float32bits(v[idx]))
	}
}

// Write per-primitive bounds into the scratch buffer; the BVH is built
// from those records.
func writeScratch(scratch []byte, volumes []boundedVolume) {
	for idx, vol := range volumes {
		rec := scratch[idx*sizeofScratchRecord:]
		putVec3(rec, vol.min)
		putVec3(rec[12:], vol.max)
		binary.LittleEndian.PutUint32(rec[24:], vol.index)
	}
}

func readScratch(scratch []byte, count int) []boundedVolume {
	volumes := make([]boundedVolume, count)
	for idx := range volumes {
		rec := scratch[idx*sizeofScratchRecord:]
		volumes[idx] = newBoundedVolume(binary.LittleEndian.Uint32(rec[24:]), readVec3(rec), readVec3(rec[12:]))
	}
	return volumes
}

func (c *buildCommand) buildBottomLevel(ctx *Context) (*builtStructure, error) {
	var triangles []triangle
	for gi, geom := range c.inputs.Geometries {
		tri := geom.Triangles
		vbuf, voff, err := ctx.resolve(tri.VertexBuffer, uint64(tri.VertexCount-1)*tri.VertexStride+12)
		if err != nil {
			return nil, fmt.Errorf("geometry %d vertices: %w", gi, err)
		}
		ibuf, ioff, err := ctx.resolve(tri.IndexBuffer, uint64(tri.IndexCount)*4)
		if err != nil {
			return nil, fmt.Errorf("geometry %d indices: %w", gi, err)
		}

		vertex := func(index uint32) (types.Vec3, error) {
			if index >= tri.VertexCount {
				return types.Vec3{}, fmt.Errorf("geometry %d: index %d out of range (%d vertices): %w", gi, index, tri.VertexCount, ErrOutOfBounds)
			}
			return readVec3(vbuf.data[voff+uint64(index)*tri.VertexStride:]), nil
		}

		for prim := uint32(0); prim < tri.IndexCount/3; prim++ {
			rec := ibuf.data[ioff+uint64(prim)*12:]
			var verts [3]types.Vec3
			for k := 0; k < 3; k++ {
				if verts[k], err = vertex(binary.LittleEndian.Uint32(rec[k*4:])); err != nil {
					return nil, err
				}
			}
			triangles = append(triangles, triangle{
				v0:             verts[0],
				v1:             verts[1],
				v2:             verts[2],
				primitiveIndex: prim,
				geometryIndex:  uint32(gi),
				opaque:         geom.Flags&GeometryOpaque != 0,
			})
		}
	}

	volumes := make([]boundedVolume, len(triangles))
	for idx, tri := range triangles {
		min := types.MinVec3(tri.v0, types.MinVec3(tri.v1, tri.v2))
		max := types.MaxVec3(tri.v0, types.MaxVec3(tri.v1, tri.v2))
		volumes[idx] = newBoundedVolume(uint32(idx), min, max)
	}
	writeScratch(c.scratch.data, volumes)

	nodes, order, stats := buildBvh(readScratch(c.scratch.data, len(volumes)), 2)
	ctx.logger.Debugf("built bottom-level structure %s: %d triangles, %d nodes, %d leafs, depth %d", c.dest.name, len(triangles), stats.nodes+stats.leafs, stats.leafs, stats.maxDepth)

	ordered := make([]triangle, len(order))
	for idx, triIndex := range order {
		ordered[idx] = triangles[triIndex]
	}

	return &builtStructure{
		typ:        BottomLevel,
		nodes:      nodes,
		min:        nodes[0].Min,
		max:        nodes[0].Max,
		geometries: len(c.inputs.Geometries),
		triangles:  ordered,
	}, nil
}

func (c *buildCommand) buildTopLevel(ctx *Context, pending map[*Buffer]struct{}) (*builtStructure, error) {
	n := c.inputs.NumInstances
	descBuf, descOff, err := ctx.resolve(c.inputs.InstanceDescs, uint64(n)*SizeofInstanceDesc)
	if err != nil {
		return nil, fmt.Errorf("instance descs: %w", err)
	}

	instances := make([]instance, n)
	volumes := make([]boundedVolume, n)
	for idx := range instances {
		desc := DecodeInstanceDesc(descBuf.data[descOff+uint64(idx)*SizeofInstanceDesc:])

		blasBuf, blasOff, err := ctx.resolve(desc.AccelerationStructure, sizeofAccelHeader)
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", idx, err)
		}
		if blasOff != 0 {
			return nil, fmt.Errorf("instance %d: %s is not the start of %s: %w", idx, desc.AccelerationStructure, blasBuf.name, ErrMisaligned)
		}
		if _, isPending := pending[blasBuf]; isPending {
			return nil, fmt.Errorf("instance %d: bottom-level structure %s read before a UAV barrier: %w", idx, blasBuf.name, ErrInvalidState)
		}
		blas := blasBuf.accel.Load()
		if blas == nil || blas.typ != BottomLevel {
			return nil, fmt.Errorf("instance %d: %s does not hold a bottom-level structure: %w", idx, blasBuf.name, ErrInvalidState)
		}

		instances[idx] = instance{
			objectToWorld: desc.Transform,
			worldToObject: desc.Transform.Inv(),
			id:            desc.InstanceID,
			mask:          desc.InstanceMask,
			contribution:  desc.InstanceContributionToHitGroupIndex,
			flags:         desc.Flags,
			index:         uint32(idx),
			blasAddr:      desc.AccelerationStructure,
			blas:          blas,
		}
		min, max := transformBounds(desc.Transform, blas.min, blas.max)
		volumes[idx] = newBoundedVolume(uint32(idx), min, max)
	}
	writeScratch(c.scratch.data, volumes)

	nodes, order, stats := buildBvh(readScratch(c.scratch.data, len(volumes)), 1)
	ctx.logger.Debugf("built top-level structure %s: %d instances, %d nodes, depth %d", c.dest.name, n, stats.nodes+stats.leafs, stats.maxDepth)

	ordered := make([]instance, len(order))
	for idx, instIndex := range order {
		ordered[idx] = instances[instIndex]
	}

	return &builtStructure{
		typ:       TopLevel,
		nodes:     nodes,
		min:       nodes[0].Min,
		max:       nodes[0].Max,
		instances: ordered,
	}, nil
}

// Transform an AABB and return the AABB of the result.
func transformBounds(m types.Mat3x4, min, max types.Vec3) (types.Vec3, types.Vec3) {
	outMin, outMax := emptyBounds()
	for corner := 0; corner < 8; corner++ {
		p := types.Vec3{min[0], min[1], min[2]}
		if corner&1 != 0 {
			p[0] = max[0]
		}
		if corner&2 != 0 {
			p[1] = max[1]
		}
		if corner&4 != 0 {
			p[2] = max[2]
		}
		p = m.TransformPoint(p)
		outMin = types.MinVec3(outMin, p)
		outMax = types.MaxVec3(outMax, p)
	}
	return outMin, outMax
}

// Write the structure into its result buffer.
func (s *builtStructure) serialize(out []byte) {
	clear(out)

	binary.LittleEndian.PutUint32(out, accelMagic)
	binary.LittleEndian.PutUint32(out[4:], uint32(s.typ))
	binary.LittleEndian.PutUint32(out[8:], uint32(len(s.nodes)))
	binary.LittleEndian.PutUint32(out[12:], uint32(s.primitiveCount()))
	putVec3(out[16:], s.min)
	putVec3(out[28:], s.max)
	binary.LittleEndian.PutUint32(out[40:], uint32(s.geometries))

	b := out[sizeofAccelHeader:]
	for _, node := range s.nodes {
		putVec3(b, node.Min)
		binary.LittleEndian.PutUint32(b[12:], uint32(node.LData))
		putVec3(b[16:], node.Max)
		binary.LittleEndian.PutUint32(b[28:], uint32(node.RData))
		b = b[sizeofBvhNode:]
	}

	for _, tri := range s.triangles {
		putVec3(b, tri.v0)
		putVec3(b[12:], tri.v1)
		putVec3(b[24:], tri.v2)
		binary.LittleEndian.PutUint32(b[36:], tri.primitiveIndex)
		binary.LittleEndian.PutUint32(b[40:], tri.geometryIndex)
		b = b[sizeofTriangleRecord:]
	}

	for _, inst := range s.instances {
		for idx, v := range inst.objectToWorld {
			binary.LittleEndian.PutUint32(b[idx*4:], math.Float32bits(v))
		}
		for idx, v := range inst.worldToObject {
			binary.LittleEndian.PutUint32(b[48+idx*4:], math.Float32bits(v))
		}
		binary.LittleEndian.PutUint32(b[96:], inst.id|uint32(inst.mask)<<24)
		binary.LittleEndian.PutUint32(b[100:], inst.contribution|uint32(inst.flags)<<24)
		PutAddress(b[104:], inst.blasAddr)
		binary.LittleEndian.PutUint32(b[112:], inst.index)
		b = b[sizeofInstanceRecord:]
	}
}

func (s *builtStructure) primitiveCount() int {
	if s.typ == TopLevel {
		return len(s.instances)
	}
	return len(s.triangles)
}

// A summary of a built acceleration structure as stored in device memory.
type AccelerationStructureInfo struct {
	Type       AccelType
	Nodes      int
	Primitives int
	Geometries int
	Min, Max   types.Vec3

	// Bottom-level structures referenced by a top-level structure in
	// instance order.
	Instances []Address
}

// Read back the header of the acceleration structure stored at addr.
func (c *Context) InspectAccelerationStructure(addr Address) (AccelerationStructureInfo, error) {
	buf, offset, err := c.resolve(addr, sizeofAccelHeader)
	if err != nil {
		return AccelerationStructureInfo{}, err
	}
	data := buf.data[offset:]
	if binary.LittleEndian.Uint32(data) != accelMagic {
		return AccelerationStructureInfo{}, fmt.Errorf("device: %s does not hold an acceleration structure: %w", buf.name, ErrInvalidState)
	}

	info := AccelerationStructureInfo{
		Type:       AccelType(binary.LittleEndian.Uint32(data[4:])),
		Nodes:      int(binary.LittleEndian.Uint32(data[8:])),
		Primitives: int(binary.LittleEndian.Uint32(data[12:])),
		Min:        readVec3(data[16:]),
		Max:        readVec3(data[28:]),
		Geometries: int(binary.LittleEndian.Uint32(data[40:])),
	}

	if info.Type == TopLevel {
		recs := data[sizeofAccelHeader+info.Nodes*sizeofBvhNode:]
		info.Instances = make([]Address, info.Primitives)
		for idx := 0; idx < info.Primitives; idx++ {
			rec := recs[idx*sizeofInstanceRecord:]
			info.Instances[binary.LittleEndian.Uint32(rec[112:])] = ReadAddress(rec[104:])
		}
	}
	return info, nil
}
