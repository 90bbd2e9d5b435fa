package renderer

import (
	"image"

	"github.com/achilleasa/rtframe/scene"
)

type Renderer interface {
	// Render frame. Successive calls with an unchanged camera refine the
	// previous frame.
	Render() (*image.RGBA, error)

	// Change the frame size.
	Resize(frameW, frameH uint32) error

	// Replace the rendered scene.
	LoadScene(sc *scene.Scene) error

	// Get the camera used for rendering.
	Camera() *scene.Camera

	// Shutdown renderer and any attached tracer.
	Close()

	// Get render statistics.
	Stats() FrameStats
}
