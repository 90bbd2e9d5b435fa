package scene

import (
	"fmt"

	"github.com/achilleasa/rtframe/types"
	"github.com/chewxy/math32"
)

// Camera movement directions.
type CameraDirection uint8

const (
	Forward CameraDirection = iota
	Backward
	Left
	Right
)

// Pose captures everything that invalidates accumulated samples when it
// changes. Poses are comparable with ==.
type Pose struct {
	Position types.Vec3
	LookAt   types.Vec3
	Up       types.Vec3
	FOV      float32
	Aspect   float32
}

// Implements Stringer.
func (p Pose) String() string {
	return fmt.Sprintf(
		"pos (%3.3f, %3.3f, %3.3f) look (%3.3f, %3.3f, %3.3f) fov %3.3f",
		p.Position[0], p.Position[1], p.Position[2],
		p.LookAt[0], p.LookAt[1], p.LookAt[2],
		p.FOV,
	)
}

// The camera type controls the scene camera.
type Camera struct {
	Position types.Vec3
	LookAt   types.Vec3
	Up       types.Vec3

	// Pending rotation applied by the next Update call.
	Pitch float32
	Yaw   float32

	ViewMat types.Mat4
	ProjMat types.Mat4

	// Vertical field of view in radians.
	FOV    float32
	Aspect float32
}

// Create a camera at the origin looking down -Z.
func NewCamera(fov float32) *Camera {
	c := &Camera{
		ViewMat:  types.Ident4(),
		ProjMat:  types.Ident4(),
		Position: types.Vec3{0, 0, 0},
		LookAt:   types.Vec3{0, 0, -1},
		Up:       types.Vec3{0, 1, 0},
		FOV:      fov,
	}
	c.SetupProjection(1)
	return c
}

// Setup camera projection matrix.
func (c *Camera) SetupProjection(aspect float32) {
	c.Aspect = aspect
	c.ProjMat = types.Perspective4(c.FOV, aspect, 0.1, 1000)
	c.Update()
}

// Apply pending pitch/yaw and refresh the view matrix.
func (c *Camera) Update() {
	dir := c.LookAt.Sub(c.Position).Normalize()
	if c.Pitch != 0 || c.Yaw != 0 {
		pitchAxis := dir.Cross(c.Up)
		pitchQuat := types.QuatFromAxisAngle(pitchAxis, c.Pitch)
		yawQuat := types.QuatFromAxisAngle(c.Up, c.Yaw)

		dir = pitchQuat.Mul(yawQuat).Normalize().Rotate(dir)
		c.LookAt = c.Position.Add(dir)
		c.Pitch, c.Yaw = 0, 0
	}

	c.ViewMat = types.LookAtV(c.Position, c.LookAt, c.Up)
}

// Move the camera along the view direction or sideways.
func (c *Camera) Move(dir CameraDirection, amount float32) {
	forward := c.LookAt.Sub(c.Position).Normalize()
	right := forward.Cross(c.Up).Normalize()

	var delta types.Vec3
	switch dir {
	case Forward:
		delta = forward.Mul(amount)
	case Backward:
		delta = forward.Mul(-amount)
	case Left:
		delta = right.Mul(-amount)
	case Right:
		delta = right.Mul(amount)
	}

	c.Position = c.Position.Add(delta)
	c.LookAt = c.LookAt.Add(delta)
	c.Update()
}

// Get the current camera pose.
func (c *Camera) Pose() Pose {
	return Pose{
		Position: c.Position,
		LookAt:   c.LookAt,
		Up:       c.Up,
		FOV:      c.FOV,
		Aspect:   c.Aspect,
	}
}

// Get the inverse of the combined projection * view matrix.
func (c *Camera) InvViewProjMat() types.Mat4 {
	return c.ProjMat.Mul4(c.ViewMat).Inv()
}

// Convert a field of view in degrees to radians.
func DegToRad(deg float32) float32 {
	return deg * math32.Pi / 180
}
