package shadertable

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/achilleasa/rtframe/log"
	"github.com/achilleasa/rtframe/tracer/device"
)

// Size of the local root argument carried by each hit group record: the
// index of the scene object the record belongs to.
const HitGroupLocalArgsSize = 4

var ErrNoObjects = errors.New("shadertable: hit group table needs at least one object")

// The shader identifiers written into the tables.
type Identifiers struct {
	RayGeneration device.ShaderIdentifier
	Miss          device.ShaderIdentifier
	HitGroup      device.ShaderIdentifier
}

// A table region inside the shader table heap.
type Region struct {
	Offset  uint64
	Stride  uint64
	Records uint32
}

// Size of the region in bytes.
func (r Region) Size() uint64 {
	return r.Stride * uint64(r.Records)
}

// Placement of the three tables inside a single upload heap.
type Layout struct {
	RayGeneration Region
	Miss          Region
	HitGroup      Region

	// Number of consecutive hit group records per object.
	RayTypes uint32

	HeapSize uint64
}

// Compute the table layout for a scene with numObjects objects. Each table
// starts at a placement aligned offset; the hit group table holds one
// record per object.
func ComputeLayout(numObjects uint32) Layout {
	return ComputeRayTypeLayout(numObjects, 1)
}

// Compute the table layout for a scene whose instances reserve rayTypes
// consecutive hit group records each.
func ComputeRayTypeLayout(numObjects, rayTypes uint32) Layout {
	rayTypes = max(rayTypes, 1)

	var l Layout
	l.RayTypes = rayTypes
	l.RayGeneration = Region{
		Offset:  0,
		Stride:  device.Align(device.ShaderIdentifierSize, device.ShaderRecordAlignment),
		Records: 1,
	}
	l.Miss = Region{
		Offset:  device.Align(l.RayGeneration.Offset+l.RayGeneration.Size(), device.PlacementAlignment),
		Stride:  device.Align(device.ShaderIdentifierSize, device.ShaderRecordAlignment),
		Records: 1,
	}
	l.HitGroup = Region{
		Offset:  device.Align(l.Miss.Offset+l.Miss.Size(), device.PlacementAlignment),
		Stride:  device.Align(device.ShaderIdentifierSize+HitGroupLocalArgsSize, device.ShaderRecordAlignment),
		Records: numObjects * rayTypes,
	}
	l.HeapSize = device.Align(l.HitGroup.Offset+l.HitGroup.Size(), device.PlacementAlignment)
	return l
}

// Table owns the shader table heap and the buffers placed in it.
type Table struct {
	layout Layout

	heap     *device.Heap
	rayGen   *device.Buffer
	miss     *device.Buffer
	hitGroup *device.Buffer
}

// Allocate the shader table heap and write the ray generation, miss and
// per-object hit group records.
func Build(ctx *device.Context, ids Identifiers, numObjects uint32) (*Table, error) {
	return BuildRayTypes(ctx, ids, numObjects, 1)
}

// Like Build but reserves rayTypes hit group records per object. Every
// record of an object carries the same identifier and object index.
func BuildRayTypes(ctx *device.Context, ids Identifiers, numObjects, rayTypes uint32) (*Table, error) {
	if numObjects == 0 {
		return nil, ErrNoObjects
	}

	t := &Table{layout: ComputeRayTypeLayout(numObjects, rayTypes)}
	if err := t.build(ctx, ids); err != nil {
		t.Release()
		return nil, err
	}

	log.New("shadertable").Debugf(
		"placed %d hit group records (stride %d) in a %d byte heap",
		t.layout.HitGroup.Records, t.layout.HitGroup.Stride, t.layout.HeapSize,
	)
	return t, nil
}

func (t *Table) build(ctx *device.Context, ids Identifiers) error {
	var err error
	if t.heap, err = ctx.CreateHeap("shader tables", t.layout.HeapSize, device.Upload); err != nil {
		return err
	}

	place := func(name string, region Region) (*device.Buffer, []byte, error) {
		buf, err := ctx.CreatePlacedBuffer(name, t.heap, region.Offset, region.Size(), device.GenericRead)
		if err != nil {
			return nil, nil, err
		}
		data, err := buf.Map()
		if err != nil {
			buf.Release()
			return nil, nil, err
		}
		return buf, data, nil
	}

	var data []byte
	if t.rayGen, data, err = place("raygen table", t.layout.RayGeneration); err != nil {
		return err
	}
	copy(data, ids.RayGeneration[:])
	t.rayGen.Unmap()

	if t.miss, data, err = place("miss table", t.layout.Miss); err != nil {
		return err
	}
	copy(data, ids.Miss[:])
	t.miss.Unmap()

	if t.hitGroup, data, err = place("hit group table", t.layout.HitGroup); err != nil {
		return err
	}
	for idx := uint32(0); idx < t.layout.HitGroup.Records; idx++ {
		rec := data[uint64(idx)*t.layout.HitGroup.Stride:]
		copy(rec, ids.HitGroup[:])
		binary.LittleEndian.PutUint32(rec[device.ShaderIdentifierSize:], idx/t.layout.RayTypes)
	}
	t.hitGroup.Unmap()

	return nil
}

// Get the table layout.
func (t *Table) Layout() Layout {
	return t.layout
}

// Get the number of objects the hit group table was built for.
func (t *Table) NumObjects() uint32 {
	return t.layout.HitGroup.Records / t.layout.RayTypes
}

// Fill in the shader table ranges of a dispatch.
func (t *Table) DispatchRegions(desc *device.DispatchRaysDesc) {
	desc.RayGenerationShaderRecord = device.ShaderRecordRange{
		Start: t.rayGen.Address(),
		Size:  t.layout.RayGeneration.Size(),
	}
	desc.MissShaderTable = device.ShaderTableRange{
		Start:  t.miss.Address(),
		Size:   t.layout.Miss.Size(),
		Stride: t.layout.Miss.Stride,
	}
	desc.HitGroupTable = device.ShaderTableRange{
		Start:  t.hitGroup.Address(),
		Size:   t.layout.HitGroup.Size(),
		Stride: t.layout.HitGroup.Stride,
	}
}

// Read back a hit group record.
func (t *Table) HitGroupRecord(index uint32) ([]byte, error) {
	if index >= t.layout.HitGroup.Records {
		return nil, fmt.Errorf("shadertable: hit group record %d out of range (%d records): %w", index, t.layout.HitGroup.Records, device.ErrOutOfBounds)
	}
	data, err := t.hitGroup.Map()
	if err != nil {
		return nil, err
	}
	defer t.hitGroup.Unmap()

	stride := t.layout.HitGroup.Stride
	rec := make([]byte, stride)
	copy(rec, data[uint64(index)*stride:])
	return rec, nil
}

// Release the placed buffers and the heap.
func (t *Table) Release() {
	if t == nil {
		return
	}
	for _, buf := range []**device.Buffer{&t.rayGen, &t.miss, &t.hitGroup} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
	if t.heap != nil {
		t.heap.Release()
		t.heap = nil
	}
}
