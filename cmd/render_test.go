package cmd

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/achilleasa/rtframe/renderer"
	"github.com/achilleasa/rtframe/tracer/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFrame(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 3, 2))
	frame.SetRGBA(2, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	imgFile := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, writeFrame(imgFile, frame))

	f, err := os.Open(imgFile)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)

	assert.Equal(t, frame.Bounds(), img.Bounds())
	r, g, b, _ := img.At(2, 1).RGBA()
	assert.Equal(t, []uint32{10, 20, 30}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestFrameStatsTable(t *testing.T) {
	out := frameStatsTable(renderer.FrameStats{
		FrameCount: 3,
		Blocks: []renderer.BlockStat{
			{Worker: 0, BlockH: 10, FramePercent: 62.5, RenderTime: time.Millisecond},
			{Worker: 1, BlockH: 6, FramePercent: 37.5, RenderTime: time.Millisecond},
		},
		RenderTime: 2 * time.Millisecond,
	})

	assert.Contains(t, out, "Block height")
	assert.Contains(t, out, "62.5 %")
	assert.Contains(t, out, "TOTAL 2ms")
}

func TestDeviceInfoTable(t *testing.T) {
	ctx := device.NewContext(device.Options{Name: "cpu", Workers: 3})
	defer ctx.Close()

	out := deviceInfoTable(ctx.Info())
	assert.Contains(t, out, "cpu")
	assert.Contains(t, out, "65536")
}
