package raytrace

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/achilleasa/rtframe/scene"
	"github.com/achilleasa/rtframe/tracer/device"
	"github.com/achilleasa/rtframe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testEmission   = types.XYZ(1, 2, 3)
	testBackground = types.XYZ(0.8, 0.1, 0.5)
)

// A single emissive triangle filling the view of testCamera.
func testScene() *scene.Scene {
	sc := &scene.Scene{
		Background: testBackground,
		Materials:  []scene.Material{{Type: scene.DiffuseLight, Emission: testEmission}},
	}
	sc.AddObject("tri",
		[]scene.Vertex{
			{Position: types.XYZ(-10, -10, 0), Normal: types.XYZ(0, 0, 1)},
			{Position: types.XYZ(10, -10, 0), Normal: types.XYZ(0, 0, 1)},
			{Position: types.XYZ(0, 10, 0), Normal: types.XYZ(0, 0, 1)},
		},
		[]scene.Tridex{{0, 1, 2}},
		0, types.Vec3{}, types.QuatIdent(), 1,
	)
	return sc
}

func testCamera(lookAt types.Vec3) *scene.Camera {
	camera := scene.NewCamera(scene.DegToRad(60))
	camera.Position = types.XYZ(0, 0, 2)
	camera.LookAt = lookAt
	camera.Update()
	return camera
}

func newTestTracer(t *testing.T, opts Options) (*device.Context, *Tracer) {
	t.Helper()
	ctx := device.NewContext(device.Options{Name: "test", Workers: 2})
	opts.SamplesPerFrame = 1
	tr, err := NewTracer(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		tr.Close()
		ctx.Close()
	})
	return ctx, tr
}

func texel(res Result, x, y uint32) [4]float32 {
	var out [4]float32
	offset := (y*res.Width + x) * res.BytesPerPixel
	for idx := range out {
		out[idx] = math.Float32frombits(binary.LittleEndian.Uint32(res.Data[offset+uint32(idx)*4:]))
	}
	return out
}

func TestTraceOneTriangle(t *testing.T) {
	for _, multiplier := range []uint32{1, 2} {
		_, tr := newTestTracer(t, Options{InstanceMultiplier: multiplier})
		require.NoError(t, tr.LoadScene(testScene()))
		require.NoError(t, tr.Resize(2, 2))
		require.NoError(t, tr.Update(testCamera(types.Vec3{})))

		res, err := tr.Trace()
		require.NoError(t, err)

		assert.Equal(t, uint32(2), res.Width)
		assert.Equal(t, uint32(2), res.Height)
		assert.Equal(t, uint32(16), res.BytesPerPixel)
		assert.Len(t, res.Data, 2*2*16)
		assert.Equal(t, [3]uint32{2, 2, 1}, tr.Stats().DispatchDims)

		for y := uint32(0); y < 2; y++ {
			for x := uint32(0); x < 2; x++ {
				assert.Equal(t, [4]float32{1, 2, 3, 1}, texel(res, x, y), "multiplier %d texel (%d, %d)", multiplier, x, y)
			}
		}
	}
}

func TestMissWritesBackground(t *testing.T) {
	_, tr := newTestTracer(t, DefaultOptions())
	require.NoError(t, tr.LoadScene(testScene()))
	require.NoError(t, tr.Resize(3, 1))
	require.NoError(t, tr.Update(testCamera(types.XYZ(0, 0, 4))))

	res, err := tr.Trace()
	require.NoError(t, err)
	for x := uint32(0); x < 3; x++ {
		assert.Equal(t, [4]float32{0.8, 0.1, 0.5, 1}, texel(res, x, 0))
	}
}

func TestAccumulationCounter(t *testing.T) {
	_, tr := newTestTracer(t, DefaultOptions())
	require.NoError(t, tr.LoadScene(testScene()))
	require.NoError(t, tr.Resize(2, 2))

	camera := testCamera(types.Vec3{})
	frame := func() uint32 {
		require.NoError(t, tr.Update(camera))
		_, err := tr.Trace()
		require.NoError(t, err)
		return tr.Stats().AccumulatedFrame
	}

	assert.Equal(t, uint32(0), frame(), "first frame")
	assert.Equal(t, uint32(1), frame())
	assert.Equal(t, uint32(2), frame())

	camera.Move(scene.Forward, 0.1)
	assert.Equal(t, uint32(0), frame(), "after camera move")
	assert.Equal(t, uint32(1), frame())

	require.NoError(t, tr.Resize(4, 4))
	assert.Equal(t, uint32(0), frame(), "after resize")

	// Blending a static image keeps the converged value.
	res, err := tr.Trace()
	require.NoError(t, err)
	assert.Equal(t, [4]float32{1, 2, 3, 1}, texel(res, 0, 0))
}

func TestReadbackCapacityIsMonotonic(t *testing.T) {
	_, tr := newTestTracer(t, DefaultOptions())
	assert.Equal(t, device.Align(16*1920*1080, device.PlacementAlignment), tr.Stats().ReadbackCapacity)

	// Start from a small readback buffer to exercise growth cheaply.
	tr.readback.Release()
	var err error
	tr.readback, err = tr.allocReadback(device.PlacementAlignment)
	require.NoError(t, err)

	require.NoError(t, tr.LoadScene(testScene()))
	camera := testCamera(types.XYZ(0, 0, 4))

	specs := []struct {
		w, h   uint32
		expCap uint64
	}{
		{16, 16, device.PlacementAlignment},
		{128, 128, 2 * 128 * 128 * 16},
		{64, 64, 2 * 128 * 128 * 16},
		{256, 256, 2 * 256 * 256 * 16},
		{8, 8, 2 * 256 * 256 * 16},
	}
	for specIndex, spec := range specs {
		require.NoError(t, tr.Resize(spec.w, spec.h))
		require.NoError(t, tr.Update(camera))
		res, err := tr.Trace()
		require.NoError(t, err, "spec %d", specIndex)
		assert.Len(t, res.Data, int(spec.w*spec.h*16), "spec %d", specIndex)
		assert.Equal(t, spec.expCap, tr.Stats().ReadbackCapacity, "spec %d", specIndex)
	}
}

func TestFrameOrderingErrors(t *testing.T) {
	_, tr := newTestTracer(t, DefaultOptions())

	_, err := tr.Trace()
	assert.ErrorIs(t, err, ErrNoScene)
	assert.ErrorIs(t, tr.Update(testCamera(types.Vec3{})), ErrNoScene)

	require.NoError(t, tr.LoadScene(testScene()))
	_, err = tr.Trace()
	assert.ErrorIs(t, err, ErrNoOutput)

	assert.ErrorIs(t, tr.Resize(0, 10), ErrInvalidFrameSize)
	require.NoError(t, tr.Resize(2, 2))
	_, err = tr.Trace()
	assert.ErrorIs(t, err, ErrNoConstants)

	// A resized output needs an Update before it can be traced again.
	require.NoError(t, tr.Update(testCamera(types.Vec3{})))
	_, err = tr.Trace()
	require.NoError(t, err)
	require.NoError(t, tr.Resize(4, 4))
	_, err = tr.Trace()
	assert.ErrorIs(t, err, ErrNoConstants)
}

func TestResizeDiscardsAccumulatedFrames(t *testing.T) {
	_, tr := newTestTracer(t, DefaultOptions())
	require.NoError(t, tr.LoadScene(testScene()))
	require.NoError(t, tr.Resize(2, 2))

	camera := testCamera(types.Vec3{})
	for i := 0; i < 4; i++ {
		require.NoError(t, tr.Update(camera))
		_, err := tr.Trace()
		require.NoError(t, err)
	}
	require.Equal(t, uint32(3), tr.Stats().AccumulatedFrame)

	require.NoError(t, tr.Resize(4, 4))
	require.NoError(t, tr.Update(camera))
	res, err := tr.Trace()
	require.NoError(t, err)

	assert.Equal(t, uint32(0), tr.Stats().AccumulatedFrame)
	for y := uint32(0); y < 4; y++ {
		for x := uint32(0); x < 4; x++ {
			assert.Equal(t, [4]float32{1, 2, 3, 1}, texel(res, x, y), "texel (%d, %d)", x, y)
		}
	}
}

func TestNewTracerReleasesResourcesOnError(t *testing.T) {
	ctx := device.NewContext(device.Options{Name: "test", Workers: 1})
	ctx.Close()

	tr, err := NewTracer(ctx, DefaultOptions())
	assert.ErrorIs(t, err, device.ErrContextClosed)
	assert.Nil(t, tr)
	assert.Zero(t, ctx.Stats().LiveBuffers)
}

func TestLoadSceneReleasesPreviousScene(t *testing.T) {
	ctx, tr := newTestTracer(t, DefaultOptions())

	require.NoError(t, tr.LoadScene(testScene()))
	loaded := ctx.Stats()

	require.NoError(t, tr.LoadScene(testScene()))
	assert.Equal(t, loaded.LiveBuffers, ctx.Stats().LiveBuffers)
	assert.Equal(t, loaded.LiveHeaps, ctx.Stats().LiveHeaps)

	sc := testScene()
	sc.Objects[0].MaterialIndex = 3
	assert.ErrorIs(t, tr.LoadScene(sc), scene.ErrInvalidMaterial)
}
