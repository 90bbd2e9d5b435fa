package scene

import (
	"testing"

	"github.com/achilleasa/rtframe/types"
	"github.com/stretchr/testify/assert"
)

func TestPoseTracksCameraChanges(t *testing.T) {
	c := NewCamera(DegToRad(45))
	c.Position = types.Vec3{0, 0, 2}
	c.LookAt = types.Vec3{0, 0, 0}
	c.Update()

	pose := c.Pose()
	c.Update()
	assert.Equal(t, pose, c.Pose(), "update without changes keeps the pose")

	c.Move(Forward, 1)
	moved := c.Pose()
	assert.NotEqual(t, pose, moved)
	assert.InDeltaSlice(t, []float32{0, 0, 1}, moved.Position[:], 1e-6)
	assert.InDeltaSlice(t, []float32{0, 0, -1}, moved.LookAt[:], 1e-6)

	c.SetupProjection(2)
	assert.NotEqual(t, moved, c.Pose(), "aspect changes invalidate the pose")
}

func TestYawRotatesLookAt(t *testing.T) {
	c := NewCamera(DegToRad(90))
	c.Yaw = DegToRad(90)
	c.Update()

	assert.Zero(t, c.Pitch)
	assert.Zero(t, c.Yaw)
	assert.InDelta(t, float32(1), c.LookAt.Sub(c.Position).Len(), 1e-5)
	assert.InDelta(t, float32(0), c.LookAt[1], 1e-5, "yaw keeps the view level")
	assert.InDelta(t, float32(0), c.LookAt[2], 1e-5)
}

func TestInvViewProjRoundTrip(t *testing.T) {
	c := NewCamera(DegToRad(60))
	c.Position = types.Vec3{1, 2, 3}
	c.Update()

	id := c.ProjMat.Mul4(c.ViewMat).Mul4(c.InvViewProjMat())
	for r := 0; r < 4; r++ {
		for col := 0; col < 4; col++ {
			exp := float32(0)
			if r == col {
				exp = 1
			}
			assert.InDelta(t, exp, id.At(r, col), 1e-4)
		}
	}
}
