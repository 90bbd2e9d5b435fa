package renderer

import (
	"image"
	"time"

	"github.com/achilleasa/rtframe/log"
	"github.com/achilleasa/rtframe/scene"
	"github.com/achilleasa/rtframe/tracer/device"
	"github.com/achilleasa/rtframe/tracer/raytrace"
)

// A renderer that traces frames on a software device and tonemaps them
// into an RGBA image.
type defaultRenderer struct {
	logger log.Logger

	ctx    *device.Context
	tracer *raytrace.Tracer

	sc     *scene.Scene
	camera *scene.Camera
	opts   Options

	frame *image.RGBA
	stats FrameStats
}

// Create a new default renderer for a scene.
func NewDefault(sc *scene.Scene, opts Options) (Renderer, error) {
	if sc == nil {
		return nil, ErrSceneNotDefined
	}
	if opts.FrameW == 0 || opts.FrameH == 0 {
		return nil, ErrInvalidFrameSize
	}

	ctx := device.NewContext(device.Options{Workers: opts.Workers})
	tr, err := raytrace.NewTracer(ctx, raytrace.Options{
		SamplesPerFrame:    opts.SamplesPerFrame,
		MaxPathLength:      opts.MaxPathLength,
		InstanceMultiplier: opts.InstanceMultiplier,
	})
	if err != nil {
		ctx.Close()
		return nil, err
	}

	r := &defaultRenderer{
		logger: log.New("renderer"),
		ctx:    ctx,
		tracer: tr,
		opts:   opts,
	}

	if err = r.LoadScene(sc); err != nil {
		r.Close()
		return nil, err
	}
	if err = r.Resize(opts.FrameW, opts.FrameH); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// Replace the rendered scene. The new scene's camera becomes the active
// camera.
func (r *defaultRenderer) LoadScene(sc *scene.Scene) error {
	if sc == nil {
		return ErrSceneNotDefined
	}
	if sc.Camera == nil {
		return ErrCameraNotDefined
	}
	if err := sc.Validate(); err != nil {
		return err
	}

	// Overrides go into a copy; the caller's scene is left untouched.
	loaded := *sc
	if r.opts.Background != nil {
		loaded.Background = *r.opts.Background
	}

	if err := r.tracer.LoadScene(&loaded); err != nil {
		// The tracer has already released the previous scene.
		r.sc, r.camera = nil, nil
		return err
	}
	r.sc = &loaded
	r.camera = sc.Camera
	if r.frame != nil {
		bounds := r.frame.Bounds()
		r.camera.SetupProjection(float32(bounds.Dx()) / float32(bounds.Dy()))
	}
	return nil
}

// Change the frame size.
func (r *defaultRenderer) Resize(frameW, frameH uint32) error {
	if frameW == 0 || frameH == 0 {
		return ErrInvalidFrameSize
	}
	if err := r.tracer.Resize(frameW, frameH); err != nil {
		return err
	}

	r.opts.FrameW, r.opts.FrameH = frameW, frameH
	r.frame = image.NewRGBA(image.Rect(0, 0, int(frameW), int(frameH)))
	if r.camera != nil {
		r.camera.SetupProjection(float32(frameW) / float32(frameH))
	}
	return nil
}

// Render frame.
func (r *defaultRenderer) Render() (*image.RGBA, error) {
	if r.sc == nil {
		return nil, ErrSceneNotDefined
	}

	start := time.Now()
	if err := r.tracer.Update(r.camera); err != nil {
		return nil, err
	}

	res, err := r.tracer.Trace()
	if err != nil {
		return nil, err
	}

	tonemapStart := time.Now()
	TonemapSimpleReinhard(r.frame, res.Data, r.opts.Exposure)
	tonemapTime := time.Since(tonemapStart)

	trStats := r.tracer.Stats()
	r.stats = FrameStats{
		FrameCount:       trStats.FrameCount,
		AccumulatedFrame: trStats.AccumulatedFrame,
		Blocks:           make([]BlockStat, 0, len(trStats.Blocks)),
		ReadbackCapacity: trStats.ReadbackCapacity,
		DispatchTime:     trStats.DispatchTime,
		TonemapTime:      tonemapTime,
		RenderTime:       time.Since(start),
	}
	for worker, block := range trStats.Blocks {
		r.stats.Blocks = append(r.stats.Blocks, BlockStat{
			Worker:       worker,
			BlockH:       block.BlockH,
			FramePercent: 100.0 * float32(block.BlockH) / float32(res.Height),
			RenderTime:   block.BlockTime,
		})
	}

	return r.frame, nil
}

// Get the camera used for rendering.
func (r *defaultRenderer) Camera() *scene.Camera {
	return r.camera
}

// Get render statistics.
func (r *defaultRenderer) Stats() FrameStats {
	return r.stats
}

// Shutdown renderer and the device.
func (r *defaultRenderer) Close() {
	if r.tracer != nil {
		r.tracer.Close()
		r.tracer = nil
	}
	if r.ctx != nil {
		r.ctx.Close()
		r.ctx = nil
	}
}
