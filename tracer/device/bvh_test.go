package device

import (
	"sort"
	"testing"

	"github.com/achilleasa/rtframe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVolumes() []boundedVolume {
	boxes := [][2]types.Vec3{
		{{-2, 0, -2}, {-1, 1, -1}},
		{{1, 0, -2}, {2, 1, -1}},
		{{-2, 0, 1}, {-1, 1, 2}},
		{{1, 0, 1}, {2, 1, 2}},
	}
	volumes := make([]boundedVolume, len(boxes))
	for idx, box := range boxes {
		volumes[idx] = newBoundedVolume(uint32(idx), box[0], box[1])
	}
	return volumes
}

func TestBvhLeafPartitioning(t *testing.T) {
	specs := []struct {
		minLeafItems int
		expNodes     int
		expLeafs     int
	}{
		{1, 7, 4},
		{2, 3, 2},
		{4, 1, 1},
	}

	for _, spec := range specs {
		nodes, order, stats := buildBvh(testVolumes(), spec.minLeafItems)
		assert.Lenf(t, nodes, spec.expNodes, "min leaf items %d", spec.minLeafItems)
		assert.Equalf(t, spec.expLeafs, stats.leafs, "min leaf items %d", spec.minLeafItems)

		sorted := append([]uint32(nil), order...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		assert.Equal(t, []uint32{0, 1, 2, 3}, sorted)

		assert.Equal(t, types.Vec3{-2, 0, -2}, nodes[0].Min)
		assert.Equal(t, types.Vec3{2, 1, 2}, nodes[0].Max)
	}
}

func TestBvhCoincidentCentersTerminate(t *testing.T) {
	volumes := make([]boundedVolume, 64)
	for idx := range volumes {
		volumes[idx] = newBoundedVolume(uint32(idx), types.Vec3{0, 0, 0}, types.Vec3{1, 1, 1})
	}

	nodes, order, _ := buildBvh(volumes, 2)
	require.NotEmpty(t, nodes)
	assert.Len(t, order, 64)
}

func TestTriangleIntersection(t *testing.T) {
	tri := &triangle{
		v0: types.Vec3{-1, -1, 0},
		v1: types.Vec3{1, -1, 0},
		v2: types.Vec3{0, 1, 0},
	}

	front := RayDesc{Origin: types.Vec3{0, 0, 2}, Direction: types.Vec3{0, 0, -1}, TMax: 10}
	tHit, u, v, isFront, ok := tri.intersect(front, 0, 10)
	require.True(t, ok)
	assert.True(t, isFront)
	assert.InDelta(t, 2, tHit, 1e-5)
	assert.InDelta(t, 0.25, u, 1e-5)
	assert.InDelta(t, 0.5, v, 1e-5)

	back := RayDesc{Origin: types.Vec3{0, 0, -2}, Direction: types.Vec3{0, 0, 1}, TMax: 10}
	_, _, _, isFront, ok = tri.intersect(back, 0, 10)
	require.True(t, ok)
	assert.False(t, isFront)

	// Too far.
	_, _, _, _, ok = tri.intersect(front, 0, 1)
	assert.False(t, ok)

	miss := RayDesc{Origin: types.Vec3{5, 5, 2}, Direction: types.Vec3{0, 0, -1}, TMax: 10}
	_, _, _, _, ok = tri.intersect(miss, 0, 10)
	assert.False(t, ok)
}
