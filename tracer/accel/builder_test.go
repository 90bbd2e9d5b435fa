package accel

import (
	"testing"

	"github.com/achilleasa/rtframe/scene"
	"github.com/achilleasa/rtframe/tracer/device"
	"github.com/achilleasa/rtframe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScene(numObjects int) *scene.Scene {
	sc := &scene.Scene{Materials: []scene.Material{{Type: scene.Lambertian}}}
	tri := []scene.Vertex{
		{Position: types.XYZ(-1, -1, 0)},
		{Position: types.XYZ(1, -1, 0)},
		{Position: types.XYZ(0, 1, 0)},
	}
	for idx := 0; idx < numObjects; idx++ {
		sc.AddObject("tri", tri, []scene.Tridex{{0, 1, 2}}, 0, types.XYZ(float32(idx)*3, 0, 0), types.QuatIdent(), 1)
	}
	return sc
}

func uploadGeometry(t *testing.T, ctx *device.Context, sc *scene.Scene) Geometry {
	t.Helper()
	upload := func(name string, data []byte) *device.Buffer {
		buf, err := ctx.CreateBuffer(name, uint64(len(data)), device.Upload, device.AccessNone, device.GenericRead)
		require.NoError(t, err)
		mapped, err := buf.Map()
		require.NoError(t, err)
		copy(mapped, data)
		return buf
	}
	return Geometry{
		Vertices:     upload("vertices", scene.EncodeVertices(sc.Vertices)),
		VertexStride: scene.SizeofVertex,
		Tridices:     upload("tridices", scene.EncodeTridices(sc.Tridices)),
	}
}

func buildAndWait(t *testing.T, ctx *device.Context, b *Builder, geom Geometry, objects []scene.SceneObject) (*Structures, *device.CommandList) {
	t.Helper()
	cl := ctx.CreateCommandList("build")
	s, err := b.Build(cl, geom, objects)
	require.NoError(t, err)
	require.NoError(t, cl.Close())
	require.NoError(t, ctx.Queue().Submit(cl))
	_, err = ctx.CreateFence("fence").SignalAndWait(ctx.Queue())
	require.NoError(t, err)
	return s, cl
}

func TestRebuildYieldsOneStructurePerObject(t *testing.T) {
	ctx := device.NewContext(device.Options{Name: "test", Workers: 2})
	defer ctx.Close()

	sc := testScene(3)
	geom := uploadGeometry(t, ctx, sc)
	b := NewBuilder(ctx, DefaultOptions())

	for pass := 0; pass < 2; pass++ {
		s, cl := buildAndWait(t, ctx, b, geom, sc.Objects)

		// Bottom-level builds run as one batch, then a barrier per result.
		expKinds := []device.CommandKind{}
		for range sc.Objects {
			expKinds = append(expKinds, device.CmdBuildAccelerationStructure)
		}
		for range sc.Objects {
			expKinds = append(expKinds, device.CmdUAVBarrier)
		}
		expKinds = append(expKinds, device.CmdBuildAccelerationStructure)
		assert.Equal(t, expKinds, cl.Recorded())

		require.Len(t, s.BottomLevel, 3)
		expInstances := make([]device.Address, len(s.BottomLevel))
		for idx, level := range s.BottomLevel {
			info, err := ctx.InspectAccelerationStructure(level.Address())
			require.NoError(t, err)
			assert.Equal(t, device.BottomLevel, info.Type)
			assert.Equal(t, 1, info.Primitives)
			expInstances[idx] = level.Address()
		}

		tlasInfo, err := ctx.InspectAccelerationStructure(s.TopLevelAddress())
		require.NoError(t, err)
		assert.Equal(t, device.TopLevel, tlasInfo.Type)
		assert.Equal(t, expInstances, tlasInfo.Instances)

		s.ReleaseScratch()
		for _, level := range s.BottomLevel {
			assert.Nil(t, level.Scratch)
		}
		s.Release()

		// Only the geometry buffers outlive the structures.
		assert.Equal(t, 2, ctx.Stats().LiveBuffers)
	}
}

func TestInstanceRecords(t *testing.T) {
	ctx := device.NewContext(device.Options{Name: "test", Workers: 1})
	defer ctx.Close()

	sc := testScene(3)
	geom := uploadGeometry(t, ctx, sc)
	s, _ := buildAndWait(t, ctx, NewBuilder(ctx, Options{InstanceMultiplier: 2}), geom, sc.Objects)
	defer s.Release()

	data, err := s.Instances.Map()
	require.NoError(t, err)
	for idx, obj := range sc.Objects {
		desc := device.DecodeInstanceDesc(data[idx*device.SizeofInstanceDesc:])
		assert.Equal(t, obj.ModelMatrix.Mat3x4(), desc.Transform)
		assert.Equal(t, uint32(idx), desc.InstanceID)
		assert.Equal(t, device.InstanceMaskAll, desc.InstanceMask)
		assert.Equal(t, uint32(idx)*2, desc.InstanceContributionToHitGroupIndex)
		assert.Equal(t, s.BottomLevel[idx].Address(), desc.AccelerationStructure)
	}
}

func TestBuildErrors(t *testing.T) {
	ctx := device.NewContext(device.Options{Name: "test", Workers: 1})
	defer ctx.Close()

	sc := testScene(2)
	geom := uploadGeometry(t, ctx, sc)
	b := NewBuilder(ctx, DefaultOptions())

	_, err := b.Build(ctx.CreateCommandList("empty"), geom, nil)
	assert.ErrorIs(t, err, ErrEmptyScene)

	objects := append([]scene.SceneObject(nil), sc.Objects...)
	objects[1].NumTridices = 0
	_, err = b.Build(ctx.CreateCommandList("zero"), geom, objects)
	assert.ErrorIs(t, err, ErrZeroSizedStructure)

	// Partially allocated structures are released on failure.
	assert.Equal(t, 2, ctx.Stats().LiveBuffers)
}
