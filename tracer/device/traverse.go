package device

import (
	"github.com/achilleasa/rtframe/types"
	"github.com/chewxy/math32"
)

// Ray flags.
type RayFlags uint32

const (
	RayFlagNone                       RayFlags = 0
	RayFlagForceOpaque                RayFlags = 0x01
	RayFlagAcceptFirstHitAndEndSearch RayFlags = 0x04
	RayFlagSkipClosestHitShader       RayFlags = 0x08
	RayFlagCullBackFacingTriangles    RayFlags = 0x10
	RayFlagCullFrontFacingTriangles   RayFlags = 0x20
)

const (
	traversalStackSize = 64
	triangleEpsilon    = 1e-8
)

// A ray.
type RayDesc struct {
	Origin    types.Vec3
	TMin      float32
	Direction types.Vec3
	TMax      float32
}

// The result of a ray query.
type hitResult struct {
	t     float32
	bary  types.Vec2
	front bool

	primitiveIndex uint32
	geometryIndex  uint32
	inst           *instance
}

// Intersect a ray with the top-level structure. Triangles are front facing
// when their vertices appear counter-clockwise from the ray origin.
func (s *builtStructure) intersect(ray RayDesc, flags RayFlags, mask uint8) (hitResult, bool) {
	hit := hitResult{t: ray.TMax}
	found := false

	invDir := reciprocal(ray.Direction)

	var stack [traversalStackSize]uint32
	sp := 0
	stack[sp] = 0
	sp++

	for sp > 0 {
		sp--
		node := &s.nodes[stack[sp]]
		if !node.intersect(ray.Origin, invDir, ray.TMin, hit.t) {
			continue
		}

		if !node.isLeaf() {
			if sp+2 > traversalStackSize {
				continue
			}
			stack[sp] = uint32(node.LData)
			stack[sp+1] = uint32(node.RData)
			sp += 2
			continue
		}

		first, count := node.primitives()
		for idx := first; idx < first+count; idx++ {
			inst := &s.instances[idx]
			if inst.mask&mask == 0 {
				continue
			}

			objRay := RayDesc{
				Origin:    inst.worldToObject.TransformPoint(ray.Origin),
				Direction: inst.worldToObject.TransformDir(ray.Direction),
				TMin:      ray.TMin,
				TMax:      hit.t,
			}
			instFlags := flags
			if inst.flags&InstanceTriangleCullDisable != 0 {
				instFlags &^= RayFlagCullBackFacingTriangles | RayFlagCullFrontFacingTriangles
			}

			if objHit, ok := inst.blas.intersectBottom(objRay, instFlags); ok {
				objHit.inst = inst
				hit = objHit
				found = true
				if flags&RayFlagAcceptFirstHitAndEndSearch != 0 {
					return hit, true
				}
			}
		}
	}

	return hit, found
}

// Intersect an object space ray with a bottom-level structure.
func (s *builtStructure) intersectBottom(ray RayDesc, flags RayFlags) (hitResult, bool) {
	hit := hitResult{t: ray.TMax}
	found := false

	invDir := reciprocal(ray.Direction)

	var stack [traversalStackSize]uint32
	sp := 0
	stack[sp] = 0
	sp++

	for sp > 0 {
		sp--
		node := &s.nodes[stack[sp]]
		if !node.intersect(ray.Origin, invDir, ray.TMin, hit.t) {
			continue
		}

		if !node.isLeaf() {
			if sp+2 > traversalStackSize {
				continue
			}
			stack[sp] = uint32(node.LData)
			stack[sp+1] = uint32(node.RData)
			sp += 2
			continue
		}

		first, count := node.primitives()
		for idx := first; idx < first+count; idx++ {
			tri := &s.triangles[idx]
			t, u, v, front, ok := tri.intersect(ray, ray.TMin, hit.t)
			if !ok {
				continue
			}
			if (front && flags&RayFlagCullFrontFacingTriangles != 0) || (!front && flags&RayFlagCullBackFacingTriangles != 0) {
				continue
			}

			hit = hitResult{
				t:              t,
				bary:           types.Vec2{u, v},
				front:          front,
				primitiveIndex: tri.primitiveIndex,
				geometryIndex:  tri.geometryIndex,
			}
			found = true
			if flags&RayFlagAcceptFirstHitAndEndSearch != 0 {
				return hit, true
			}
		}
	}

	return hit, found
}

func reciprocal(v types.Vec3) types.Vec3 {
	return types.Vec3{1 / v[0], 1 / v[1], 1 / v[2]}
}

// Slab test against the node bounds.
func (n *bvhNode) intersect(origin, invDir types.Vec3, tMin, tMax float32) bool {
	for axis := 0; axis < 3; axis++ {
		t0 := (n.Min[axis] - origin[axis]) * invDir[axis]
		t1 := (n.Max[axis] - origin[axis]) * invDir[axis]
		if invDir[axis] < 0 {
			t0, t1 = t1, t0
		}
		// NaNs (origin on a slab with a zero direction component) keep
		// the current interval.
		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
		if tMax < tMin {
			return false
		}
	}
	return true
}

// Möller-Trumbore ray/triangle test. Returns the ray parameter, the
// barycentrics of v1 and v2 and whether the front face was hit.
func (tri *triangle) intersect(ray RayDesc, tMin, tMax float32) (t, u, v float32, front, ok bool) {
	e1 := tri.v1.Sub(tri.v0)
	e2 := tri.v2.Sub(tri.v0)
	p := ray.Direction.Cross(e2)
	det := e1.Dot(p)
	if math32.Abs(det) < triangleEpsilon {
		return 0, 0, 0, false, false
	}
	invDet := 1 / det

	s := ray.Origin.Sub(tri.v0)
	u = s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return 0, 0, 0, false, false
	}

	q := s.Cross(e1)
	v = ray.Direction.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false, false
	}

	t = e2.Dot(q) * invDet
	if t < tMin || t >= tMax {
		return 0, 0, 0, false, false
	}

	return t, u, v, det > 0, true
}
