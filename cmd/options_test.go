package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/achilleasa/rtframe/renderer"
	"github.com/achilleasa/rtframe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlags struct {
	ints    map[string]int
	floats  map[string]float64
	strings map[string]string
}

func (f fakeFlags) IsSet(name string) bool {
	_, isInt := f.ints[name]
	_, isFloat := f.floats[name]
	_, isString := f.strings[name]
	return isInt || isFloat || isString
}

func (f fakeFlags) Int(name string) int         { return f.ints[name] }
func (f fakeFlags) Float64(name string) float64 { return f.floats[name] }
func (f fakeFlags) String(name string) string   { return f.strings[name] }

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "render.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestRenderOptionsDefaults(t *testing.T) {
	opts, err := renderOptions(fakeFlags{})
	require.NoError(t, err)
	assert.Equal(t, renderer.DefaultOptions(), opts)
}

func TestRenderOptionsPrecedence(t *testing.T) {
	cfgFile := writeConfig(t, `
width = 640
height = 480
samples_per_frame = 4
exposure = 2.5
background = [0.1, 0.2, 0.3]
workers = 3
`)

	opts, err := renderOptions(fakeFlags{
		ints:    map[string]int{"width": 100, "max-path-length": 7},
		strings: map[string]string{"config": cfgFile},
	})
	require.NoError(t, err)

	assert.Equal(t, uint32(100), opts.FrameW, "flag overrides file")
	assert.Equal(t, uint32(480), opts.FrameH, "file overrides default")
	assert.Equal(t, uint32(4), opts.SamplesPerFrame)
	assert.Equal(t, uint32(7), opts.MaxPathLength)
	assert.Equal(t, float32(2.5), opts.Exposure)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, uint32(1), opts.InstanceMultiplier)
	require.NotNil(t, opts.Background)
	assert.Equal(t, types.XYZ(0.1, 0.2, 0.3), *opts.Background)
}

func TestRenderOptionsErrors(t *testing.T) {
	cfgFile := writeConfig(t, "frame_width = 10\n")
	_, err := renderOptions(fakeFlags{strings: map[string]string{"config": cfgFile}})
	assert.Error(t, err, "unknown keys are rejected")

	_, err = renderOptions(fakeFlags{strings: map[string]string{"config": filepath.Join(t.TempDir(), "missing.toml")}})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = renderOptions(fakeFlags{ints: map[string]int{"height": 0}})
	assert.ErrorIs(t, err, renderer.ErrInvalidFrameSize)
}
