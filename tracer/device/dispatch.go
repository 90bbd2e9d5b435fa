package device

import (
	"context"
	"fmt"
	"time"

	"github.com/achilleasa/rtframe/types"
	"golang.org/x/sync/errgroup"
)

// A single shader record region.
type ShaderRecordRange struct {
	Start Address
	Size  uint64
}

// A shader table region.
type ShaderTableRange struct {
	Start  Address
	Size   uint64
	Stride uint64
}

// A ray dispatch.
type DispatchRaysDesc struct {
	RayGenerationShaderRecord ShaderRecordRange
	MissShaderTable           ShaderTableRange
	HitGroupTable             ShaderTableRange

	Width, Height, Depth uint32
}

type dispatchCommand struct {
	desc     DispatchRaysDesc
	pipeline *PipelineState
	params   []RootParameter
	args     []rootArgument
}

func (c *dispatchCommand) kind() CommandKind { return CmdDispatchRays }

// Record a ray dispatch using the bound pipeline, root signature and root
// arguments. Shader tables must start at ShaderTableAlignment and use
// strides that are multiples of ShaderRecordAlignment.
func (cl *CommandList) DispatchRays(desc *DispatchRaysDesc) error {
	if err := cl.checkRecording(); err != nil {
		return err
	}
	if cl.pipeline == nil {
		return fmt.Errorf("device: %s: %w", cl.name, ErrNoPipeline)
	}
	if cl.rootSignature == nil || (cl.pipeline.rootSignature != nil && cl.pipeline.rootSignature != cl.rootSignature) {
		return fmt.Errorf("device: %s: bound root signature does not match pipeline %s: %w", cl.name, cl.pipeline.name, ErrInvalidRootArgument)
	}
	for slot, arg := range cl.rootArgs {
		if !arg.set {
			return fmt.Errorf("device: %s: root slot %d not set: %w", cl.name, slot, ErrInvalidRootArgument)
		}
	}
	if desc.Width == 0 || desc.Height == 0 || desc.Depth == 0 {
		return fmt.Errorf("device: %s: dispatch extent (%d, %d, %d): %w", cl.name, desc.Width, desc.Height, desc.Depth, ErrInvalidSize)
	}

	if desc.RayGenerationShaderRecord.Size < ShaderIdentifierSize {
		return fmt.Errorf("device: %s: ray generation record of %d bytes: %w", cl.name, desc.RayGenerationShaderRecord.Size, ErrInvalidSize)
	}
	if err := cl.checkTable("ray generation", desc.RayGenerationShaderRecord.Start, desc.RayGenerationShaderRecord.Size); err != nil {
		return err
	}
	for _, table := range []struct {
		what  string
		table ShaderTableRange
	}{{"miss", desc.MissShaderTable}, {"hit group", desc.HitGroupTable}} {
		if table.table.Size == 0 {
			continue
		}
		if table.table.Stride < ShaderIdentifierSize || table.table.Stride%ShaderRecordAlignment != 0 {
			return fmt.Errorf("device: %s: %s table stride %d: %w", cl.name, table.what, table.table.Stride, ErrMisaligned)
		}
		if err := cl.checkTable(table.what, table.table.Start, table.table.Size); err != nil {
			return err
		}
	}

	return cl.record(&dispatchCommand{
		desc:     *desc,
		pipeline: cl.pipeline,
		params:   cl.rootSignature.params,
		args:     append([]rootArgument(nil), cl.rootArgs...),
	})
}

func (cl *CommandList) checkTable(what string, start Address, size uint64) error {
	if start.va%ShaderTableAlignment != 0 {
		return fmt.Errorf("device: %s: %s table at %s: %w", cl.name, what, start, ErrMisaligned)
	}
	buf, _, err := cl.ctx.resolve(start, size)
	if err != nil {
		return fmt.Errorf("device: %s: %s table: %w", cl.name, what, err)
	}
	if buf.state != GenericRead {
		return fmt.Errorf("device: %s: %s table %s: %w (%s)", cl.name, what, buf.name, ErrInvalidState, buf.state)
	}
	return nil
}

// A top-level acceleration structure bound to a dispatch.
type Scene struct {
	tlas *builtStructure
}

// Resolved per-dispatch state shared by all invocations.
type dispatchState struct {
	pipeline *PipelineState
	dims     [3]uint32

	rayGen *shaderEntry

	missTable  []byte
	missStride uint64
	hitTable   []byte
	hitStride  uint64

	constants map[int][]byte
	scenes    map[int]*Scene
	tables    map[int][]ResourceView
}

func (c *dispatchCommand) resolve(ctx *Context) (*dispatchState, error) {
	state := &dispatchState{
		pipeline:  c.pipeline,
		dims:      [3]uint32{c.desc.Width, c.desc.Height, c.desc.Depth},
		constants: make(map[int][]byte),
		scenes:    make(map[int]*Scene),
		tables:    make(map[int][]ResourceView),
	}

	tableBytes := func(start Address, size uint64) ([]byte, error) {
		if size == 0 {
			return nil, nil
		}
		buf, offset, err := ctx.resolve(start, size)
		if err != nil {
			return nil, err
		}
		return buf.data[offset : offset+size], nil
	}

	rayGen, err := tableBytes(c.desc.RayGenerationShaderRecord.Start, c.desc.RayGenerationShaderRecord.Size)
	if err != nil {
		return nil, fmt.Errorf("ray generation record: %w", err)
	}
	if state.rayGen, err = c.pipeline.lookup(ShaderIdentifier(rayGen[:ShaderIdentifierSize]), RayGenerationStage); err != nil {
		return nil, err
	}
	if state.missTable, err = tableBytes(c.desc.MissShaderTable.Start, c.desc.MissShaderTable.Size); err != nil {
		return nil, fmt.Errorf("miss table: %w", err)
	}
	state.missStride = c.desc.MissShaderTable.Stride
	if state.hitTable, err = tableBytes(c.desc.HitGroupTable.Start, c.desc.HitGroupTable.Size); err != nil {
		return nil, fmt.Errorf("hit group table: %w", err)
	}
	state.hitStride = c.desc.HitGroupTable.Stride

	for slot, param := range c.params {
		arg := c.args[slot]
		switch param.Type {
		case RootConstantBufferView:
			buf, offset, err := ctx.resolve(arg.addr, 1)
			if err != nil {
				return nil, fmt.Errorf("root slot %d: %w", slot, err)
			}
			state.constants[slot] = buf.data[offset:]
		case RootShaderResourceView:
			buf, offset, err := ctx.resolve(arg.addr, sizeofAccelHeader)
			if err != nil {
				return nil, fmt.Errorf("root slot %d: %w", slot, err)
			}
			tlas := buf.accel.Load()
			if offset != 0 || tlas == nil || tlas.typ != TopLevel {
				return nil, fmt.Errorf("root slot %d: %s does not hold a top-level structure: %w", slot, buf.name, ErrInvalidRootArgument)
			}
			state.scenes[slot] = &Scene{tlas: tlas}
		case RootDescriptorTable:
			views := make([]ResourceView, param.NumDescriptors)
			for idx := range views {
				// Unused descriptors stay empty.
				view := arg.table.heap.views[arg.table.index+uint32(idx)]
				if view.Buffer == nil {
					continue
				}
				if views[idx], err = view.resolve(); err != nil {
					return nil, fmt.Errorf("root slot %d descriptor %d: %w", slot, idx, err)
				}
			}
			state.tables[slot] = views
		}
	}

	return state, nil
}

// Execute the dispatch: launch rows are split into one block per worker.
func (c *dispatchCommand) execute(q *Queue) error {
	state, err := c.resolve(q.ctx)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	start := time.Now()
	rows := state.dims[1] * state.dims[2]
	workers := q.ctx.workers
	blocks := q.scheduler.Schedule(q.lastBlocks(), workers, rows)
	blockStats := make([]BlockStats, len(blocks))

	g, gctx := errgroup.WithContext(context.Background())
	var firstRow uint32
	for worker, blockH := range blocks {
		blockStart := firstRow
		firstRow += blockH
		if blockH == 0 {
			continue
		}

		g.Go(func() error {
			blockTime := time.Now()
			inv := &Invocation{dispatch: state}
			for row := blockStart; row < blockStart+blockH; row++ {
				if gctx.Err() != nil {
					return nil
				}
				y, z := row%state.dims[1], row/state.dims[1]
				for x := uint32(0); x < state.dims[0]; x++ {
					inv.reset([3]uint32{x, y, z})
					if err := state.rayGen.export.raygen(inv); err != nil {
						return fmt.Errorf("dispatch: launch index (%d, %d, %d): %w", x, y, z, err)
					}
				}
			}
			blockStats[worker] = BlockStats{BlockH: blockH, BlockTime: time.Since(blockTime)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	q.setLastBlocks(blockStats)
	q.lastDispatchTime.Store(int64(time.Since(start)))
	return nil
}

// The hit attributes visible to closest hit shaders.
type hitState struct {
	valid bool
	hit   hitResult
	ray   RayDesc
}

// Invocation is the execution context of a shader. It exposes the launch
// index, the bound resources and, for closest hit shaders, the hit
// attributes.
type Invocation struct {
	dispatch *dispatchState

	launchIndex [3]uint32
	depth       uint32

	localArgs []byte
	hit       hitState
}

func (inv *Invocation) reset(index [3]uint32) {
	inv.launchIndex = index
	inv.depth = 0
	inv.localArgs = nil
	inv.hit = hitState{}
}

// Get the launch index.
func (inv *Invocation) DispatchRaysIndex() [3]uint32 {
	return inv.launchIndex
}

// Get the launch dimensions.
func (inv *Invocation) DispatchRaysDimensions() [3]uint32 {
	return inv.dispatch.dims
}

// Get the local arguments that follow the shader identifier in the record
// that selected this shader.
func (inv *Invocation) LocalArgs() []byte {
	return inv.localArgs
}

// Get the constant buffer bound to a root slot.
func (inv *Invocation) ConstantBuffer(slot int) ([]byte, error) {
	data, ok := inv.dispatch.constants[slot]
	if !ok {
		return nil, fmt.Errorf("constant buffer slot %d: %w", slot, ErrInvalidRootArgument)
	}
	return data, nil
}

// Get the acceleration structure bound to a root slot.
func (inv *Invocation) Scene(slot int) (*Scene, error) {
	sc, ok := inv.dispatch.scenes[slot]
	if !ok {
		return nil, fmt.Errorf("acceleration structure slot %d: %w", slot, ErrInvalidRootArgument)
	}
	return sc, nil
}

// Get a view from the descriptor table bound to a root slot.
func (inv *Invocation) View(slot int, index uint32) (ResourceView, error) {
	views, ok := inv.dispatch.tables[slot]
	if !ok || index >= uint32(len(views)) || views[index].data == nil {
		return ResourceView{}, fmt.Errorf("descriptor table slot %d index %d: %w", slot, index, ErrInvalidDescriptor)
	}
	return views[index], nil
}

// Get the index of the intersected instance in the instance desc array.
func (inv *Invocation) InstanceIndex() uint32 {
	return inv.hit.hit.inst.index
}

// Get the 24 bit user id of the intersected instance.
func (inv *Invocation) InstanceID() uint32 {
	return inv.hit.hit.inst.id
}

// Get the index of the intersected triangle within its geometry.
func (inv *Invocation) PrimitiveIndex() uint32 {
	return inv.hit.hit.primitiveIndex
}

// Get the index of the intersected geometry within its bottom-level structure.
func (inv *Invocation) GeometryIndex() uint32 {
	return inv.hit.hit.geometryIndex
}

// Get the barycentric weights of the second and third triangle vertex.
func (inv *Invocation) Barycentrics() types.Vec2 {
	return inv.hit.hit.bary
}

// Check whether the front face of the triangle was hit.
func (inv *Invocation) HitFrontFace() bool {
	return inv.hit.hit.front
}

// Get the parametric distance of the current hit.
func (inv *Invocation) RayTCurrent() float32 {
	return inv.hit.hit.t
}

// Get the world space ray origin.
func (inv *Invocation) WorldRayOrigin() types.Vec3 {
	return inv.hit.ray.Origin
}

// Get the world space ray direction.
func (inv *Invocation) WorldRayDirection() types.Vec3 {
	return inv.hit.ray.Direction
}

// Get the object to world transform of the intersected instance.
func (inv *Invocation) ObjectToWorld() types.Mat3x4 {
	return inv.hit.hit.inst.objectToWorld
}

// Get the world to object transform of the intersected instance.
func (inv *Invocation) WorldToObject() types.Mat3x4 {
	return inv.hit.hit.inst.worldToObject
}

// Trace a ray through sc and invoke the closest hit shader of the hit group
// record at
//
//	rayContribution + geometryMultiplier*geometryIndex + instanceContribution
//
// or the miss shader at missIndex when nothing is hit.
func (inv *Invocation) TraceRay(sc *Scene, flags RayFlags, mask uint8, rayContribution, geometryMultiplier, missIndex uint32, ray RayDesc, payload any) error {
	state := inv.dispatch
	if inv.depth+1 > state.pipeline.maxRecursion {
		return ErrRecursionDepth
	}

	child := Invocation{
		dispatch:    state,
		launchIndex: inv.launchIndex,
		depth:       inv.depth + 1,
	}

	hit, found := sc.tlas.intersect(ray, flags, mask)
	if !found {
		record, err := tableRecord(state.missTable, state.missStride, missIndex)
		if err != nil {
			return fmt.Errorf("miss record %d: %w", missIndex, err)
		}
		entry, err := state.pipeline.lookup(ShaderIdentifier(record[:ShaderIdentifierSize]), MissStage)
		if err != nil {
			return err
		}
		child.localArgs = record[ShaderIdentifierSize:]
		return entry.export.miss(&child, payload)
	}

	if flags&RayFlagSkipClosestHitShader != 0 {
		return nil
	}

	recordIndex := rayContribution + geometryMultiplier*hit.geometryIndex + hit.inst.contribution
	record, err := tableRecord(state.hitTable, state.hitStride, recordIndex)
	if err != nil {
		return fmt.Errorf("hit group record %d: %w", recordIndex, err)
	}
	entry, err := state.pipeline.lookup(ShaderIdentifier(record[:ShaderIdentifierSize]), ClosestHitStage)
	if err != nil {
		return err
	}
	if uint64(ShaderIdentifierSize+entry.localArgsSize) > uint64(len(record)) {
		return fmt.Errorf("hit group record %d: local arguments: %w", recordIndex, ErrOutOfBounds)
	}

	child.localArgs = record[ShaderIdentifierSize : ShaderIdentifierSize+entry.localArgsSize]
	child.hit = hitState{valid: true, hit: hit, ray: ray}
	return entry.export.closestHit(&child, payload)
}

// Get the record at index of a shader table.
func tableRecord(table []byte, stride uint64, index uint32) ([]byte, error) {
	offset := uint64(index) * stride
	if stride == 0 || offset+ShaderIdentifierSize > uint64(len(table)) {
		return nil, ErrOutOfBounds
	}
	end := offset + stride
	if end > uint64(len(table)) {
		end = uint64(len(table))
	}
	return table[offset:end], nil
}

// Get the root of the bound structure's bounds.
func (sc *Scene) Bounds() (types.Vec3, types.Vec3) {
	return sc.tlas.min, sc.tlas.max
}
