package shadertable

import (
	"encoding/binary"
	"testing"

	"github.com/achilleasa/rtframe/tracer/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeLayout(t *testing.T) {
	l := ComputeLayout(3)

	assert.Equal(t, uint64(32), l.RayGeneration.Stride)
	assert.Equal(t, uint64(32), l.Miss.Stride)
	assert.Equal(t, uint64(64), l.HitGroup.Stride)
	assert.Equal(t, uint32(3), l.HitGroup.Records)
	assert.Equal(t, uint64(192), l.HitGroup.Size())

	assert.Equal(t, uint64(0), l.RayGeneration.Offset)
	assert.Equal(t, uint64(device.PlacementAlignment), l.Miss.Offset)
	assert.Equal(t, uint64(2*device.PlacementAlignment), l.HitGroup.Offset)
	assert.Equal(t, uint64(3*device.PlacementAlignment), l.HeapSize)

	// A hit group table larger than one placement unit grows the heap.
	big := ComputeLayout(device.PlacementAlignment/64 + 1)
	assert.Equal(t, uint64(4*device.PlacementAlignment), big.HeapSize)
}

func TestHitGroupStrideIsUniform(t *testing.T) {
	for _, n := range []uint32{1, 2, 17, 1000} {
		l := ComputeLayout(n)
		assert.Equal(t, uint64(64), l.HitGroup.Stride, "objects: %d", n)
		assert.True(t, l.HitGroup.Stride >= device.Align(device.ShaderIdentifierSize+HitGroupLocalArgsSize, device.ShaderRecordAlignment))
		assert.Zero(t, l.HitGroup.Stride%device.ShaderRecordAlignment)
	}
}

func testIdentifiers() Identifiers {
	var ids Identifiers
	for idx := range ids.HitGroup {
		ids.RayGeneration[idx] = 1
		ids.Miss[idx] = 2
		ids.HitGroup[idx] = byte(idx + 3)
	}
	return ids
}

func TestBuildWritesOneRecordPerObject(t *testing.T) {
	ctx := device.NewContext(device.Options{Name: "test", Workers: 1})
	defer ctx.Close()

	ids := testIdentifiers()
	table, err := Build(ctx, ids, 5)
	require.NoError(t, err)
	defer table.Release()

	assert.Equal(t, uint32(5), table.NumObjects())
	for idx := uint32(0); idx < 5; idx++ {
		rec, err := table.HitGroupRecord(idx)
		require.NoError(t, err)
		require.Len(t, rec, 64)
		assert.Equal(t, ids.HitGroup[:], rec[:device.ShaderIdentifierSize], "record %d", idx)
		assert.Equal(t, idx, binary.LittleEndian.Uint32(rec[device.ShaderIdentifierSize:]), "record %d", idx)
	}

	_, err = table.HitGroupRecord(5)
	assert.ErrorIs(t, err, device.ErrOutOfBounds)
}

func TestRayTypeRecordsShareObjectIndex(t *testing.T) {
	ctx := device.NewContext(device.Options{Name: "test", Workers: 1})
	defer ctx.Close()

	table, err := BuildRayTypes(ctx, testIdentifiers(), 3, 2)
	require.NoError(t, err)
	defer table.Release()

	assert.Equal(t, uint32(3), table.NumObjects())
	assert.Equal(t, uint32(6), table.Layout().HitGroup.Records)
	for idx := uint32(0); idx < 6; idx++ {
		rec, err := table.HitGroupRecord(idx)
		require.NoError(t, err)
		assert.Equal(t, idx/2, binary.LittleEndian.Uint32(rec[device.ShaderIdentifierSize:]), "record %d", idx)
	}
}

func TestDispatchRegions(t *testing.T) {
	ctx := device.NewContext(device.Options{Name: "test", Workers: 1})
	defer ctx.Close()

	table, err := Build(ctx, testIdentifiers(), 2)
	require.NoError(t, err)
	defer table.Release()

	var desc device.DispatchRaysDesc
	table.DispatchRegions(&desc)

	assert.Equal(t, uint64(32), desc.RayGenerationShaderRecord.Size)
	assert.Equal(t, uint64(32), desc.MissShaderTable.Stride)
	assert.Equal(t, uint64(128), desc.HitGroupTable.Size)
	assert.Equal(t, uint64(64), desc.HitGroupTable.Stride)

	for _, addr := range []device.Address{desc.RayGenerationShaderRecord.Start, desc.MissShaderTable.Start, desc.HitGroupTable.Start} {
		assert.False(t, addr.IsNull())
	}
}

func TestBuildAndRelease(t *testing.T) {
	ctx := device.NewContext(device.Options{Name: "test", Workers: 1})
	defer ctx.Close()

	_, err := Build(ctx, testIdentifiers(), 0)
	assert.ErrorIs(t, err, ErrNoObjects)

	table, err := Build(ctx, testIdentifiers(), 4)
	require.NoError(t, err)
	assert.Equal(t, 1, ctx.Stats().LiveHeaps)

	table.Release()
	table.Release()
	assert.Equal(t, 0, ctx.Stats().LiveHeaps)
	assert.Equal(t, 0, ctx.Stats().LiveBuffers)
}
