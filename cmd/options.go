package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/achilleasa/rtframe/renderer"
	"github.com/achilleasa/rtframe/types"
	"github.com/pelletier/go-toml/v2"
)

// Render settings that can be stored in a TOML file and passed with
// --config. Command line flags override file values.
type renderConfig struct {
	Width              uint32      `toml:"width"`
	Height             uint32      `toml:"height"`
	SamplesPerFrame    uint32      `toml:"samples_per_frame"`
	MaxPathLength      uint32      `toml:"max_path_length"`
	Exposure           float32     `toml:"exposure"`
	Background         *[3]float32 `toml:"background"`
	InstanceMultiplier uint32      `toml:"instance_multiplier"`
	Workers            int         `toml:"workers"`
}

// The subset of *cli.Context used to read render flags.
type flagSource interface {
	IsSet(name string) bool
	Int(name string) int
	Float64(name string) float64
	String(name string) string
}

func configFromOptions(opts renderer.Options) renderConfig {
	return renderConfig{
		Width:              opts.FrameW,
		Height:             opts.FrameH,
		SamplesPerFrame:    opts.SamplesPerFrame,
		MaxPathLength:      opts.MaxPathLength,
		Exposure:           opts.Exposure,
		InstanceMultiplier: opts.InstanceMultiplier,
		Workers:            opts.Workers,
	}
}

// Decode a TOML settings document on top of cfg. Unknown keys are rejected.
func decodeConfig(data []byte, cfg *renderConfig) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// Resolve the render options: defaults, then the optional config file,
// then any flag explicitly set on the command line.
func renderOptions(flags flagSource) (renderer.Options, error) {
	cfg := configFromOptions(renderer.DefaultOptions())

	if cfgFile := flags.String("config"); cfgFile != "" {
		data, err := os.ReadFile(cfgFile)
		if err != nil {
			return renderer.Options{}, err
		}
		if err = decodeConfig(data, &cfg); err != nil {
			return renderer.Options{}, fmt.Errorf("config %s: %w", cfgFile, err)
		}
		logger.Infof("loaded render settings from %s", cfgFile)
	}

	for name, dst := range map[string]*uint32{
		"width":               &cfg.Width,
		"height":              &cfg.Height,
		"spp":                 &cfg.SamplesPerFrame,
		"max-path-length":     &cfg.MaxPathLength,
		"instance-multiplier": &cfg.InstanceMultiplier,
	} {
		if flags.IsSet(name) {
			*dst = uint32(flags.Int(name))
		}
	}
	if flags.IsSet("exposure") {
		cfg.Exposure = float32(flags.Float64("exposure"))
	}
	if flags.IsSet("workers") {
		cfg.Workers = flags.Int("workers")
	}

	if cfg.Width == 0 || cfg.Height == 0 {
		return renderer.Options{}, fmt.Errorf("%w: %dx%d", renderer.ErrInvalidFrameSize, cfg.Width, cfg.Height)
	}

	opts := renderer.Options{
		FrameW:             cfg.Width,
		FrameH:             cfg.Height,
		SamplesPerFrame:    cfg.SamplesPerFrame,
		MaxPathLength:      cfg.MaxPathLength,
		Exposure:           cfg.Exposure,
		InstanceMultiplier: cfg.InstanceMultiplier,
		Workers:            cfg.Workers,
	}
	if cfg.Background != nil {
		bg := types.Vec3(*cfg.Background)
		opts.Background = &bg
	}
	return opts, nil
}
