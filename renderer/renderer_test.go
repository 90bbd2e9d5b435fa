package renderer

import (
	"encoding/binary"
	"image"
	"math"
	"testing"

	"github.com/achilleasa/rtframe/scene"
	"github.com/achilleasa/rtframe/tracer/device"
	"github.com/achilleasa/rtframe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScene() *scene.Scene {
	sc := &scene.Scene{
		Background: types.XYZ(0, 0, 0),
		Materials:  []scene.Material{{Type: scene.DiffuseLight, Emission: types.XYZ(1, 2, 3)}},
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
	sc.Camera = scene.NewCamera(scene.DegToRad(60))
	sc.Camera.Position = types.XYZ(0, 0, 2)
	sc.Camera.LookAt = types.XYZ(0, 0, 0)
	sc.Camera.Update()
	return sc
}

func TestDefaultRenderer(t *testing.T) {
	opts := DefaultOptions()
	opts.FrameW, opts.FrameH = 4, 3
	opts.SamplesPerFrame = 1
	opts.Workers = 2

	r, err := NewDefault(testScene(), opts)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, float32(4)/3, r.Camera().Aspect)

	frame, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), frame.Bounds())

	exp := frame.RGBAAt(0, 0)
	assert.True(t, exp.R < exp.G && exp.G < exp.B, "expected emission ordering; got %v", exp)
	assert.Equal(t, uint8(255), exp.A)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, exp, frame.RGBAAt(x, y))
		}
	}

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.FrameCount)
	assert.Equal(t, uint32(0), stats.AccumulatedFrame)
	var rows uint32
	for _, block := range stats.Blocks {
		rows += block.BlockH
	}
	assert.Equal(t, uint32(3), rows)

	_, err = r.Render()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), r.Stats().AccumulatedFrame)

	require.NoError(t, r.Resize(2, 2))
	frame, err = r.Render()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 2), frame.Bounds())
	assert.Equal(t, uint32(0), r.Stats().AccumulatedFrame)
}

func TestBackgroundOverride(t *testing.T) {
	opts := DefaultOptions()
	opts.FrameW, opts.FrameH = 2, 2
	opts.SamplesPerFrame = 1
	bg := types.XYZ(1, 1, 1)
	opts.Background = &bg

	sc := testScene()
	sc.Camera.LookAt = types.XYZ(0, 0, 4)
	sc.Camera.Update()

	r, err := NewDefault(sc, opts)
	require.NoError(t, err)
	defer r.Close()

	frame, err := r.Render()
	require.NoError(t, err)
	px := frame.RGBAAt(1, 1)
	assert.Equal(t, px.R, px.G)
	assert.Equal(t, px.G, px.B)
	assert.NotZero(t, px.R)

	assert.Equal(t, types.XYZ(0, 0, 0), sc.Background, "caller's scene keeps its background")
}

func TestFailedLoadUnbindsScene(t *testing.T) {
	opts := DefaultOptions()
	opts.FrameW, opts.FrameH = 2, 2
	opts.SamplesPerFrame = 1

	r, err := NewDefault(testScene(), opts)
	require.NoError(t, err)
	defer r.Close()

	sc := testScene()
	sc.Objects[0].MaterialIndex = 5
	assert.ErrorIs(t, r.LoadScene(sc), scene.ErrInvalidMaterial)
	_, err = r.Render()
	require.NoError(t, err, "rejected scenes leave the current scene bound")

	// Device failures happen after the previous scene was released.
	r.(*defaultRenderer).ctx.Close()
	assert.ErrorIs(t, r.LoadScene(testScene()), device.ErrContextClosed)
	assert.Nil(t, r.Camera())

	_, err = r.Render()
	assert.ErrorIs(t, err, ErrSceneNotDefined)
}

func TestNewDefaultErrors(t *testing.T) {
	_, err := NewDefault(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrSceneNotDefined)

	opts := DefaultOptions()
	opts.FrameW = 0
	_, err = NewDefault(testScene(), opts)
	assert.ErrorIs(t, err, ErrInvalidFrameSize)

	sc := testScene()
	sc.Camera = nil
	_, err = NewDefault(sc, DefaultOptions())
	assert.ErrorIs(t, err, ErrCameraNotDefined)
}

func TestTonemap(t *testing.T) {
	texels := make([]byte, 3*16)
	put := func(idx int, values ...float32) {
		for c, v := range values {
			binary.LittleEndian.PutUint32(texels[idx*16+c*4:], math.Float32bits(v))
		}
	}
	put(0, 0, 0, 0, 1)
	put(1, 1, 1, 1, 1)
	put(2, 1e9, -1, 0, 1)

	dst := image.NewRGBA(image.Rect(0, 0, 3, 1))
	TonemapSimpleReinhard(dst, texels, 1)

	assert.Equal(t, []uint8{0, 0, 0, 255}, dst.Pix[0:4])
	// 1 / (1 + 1) = 0.5 ^ (1 / 2.2) = 0.7297
	assert.Equal(t, []uint8{186, 186, 186, 255}, dst.Pix[4:8])
	assert.Equal(t, []uint8{255, 0, 0, 255}, dst.Pix[8:12])
}
