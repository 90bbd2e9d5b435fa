package pathtrace

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"github.com/achilleasa/rtframe/scene"
	"github.com/achilleasa/rtframe/tracer/device"
	"github.com/achilleasa/rtframe/types"
)

const (
	// Offset applied to secondary ray origins to avoid self intersections.
	rayEpsilon = 1e-3
	rayTMax    = 1e30
)

// Payload carries a single path segment between the ray generation
// program and the miss/closest hit programs.
type Payload struct {
	rng *rand.Rand

	// Radiance emitted at the hit (or the background on a miss).
	Emission types.Vec3

	// Set when the surface scattered the ray.
	Scattered   bool
	Attenuation types.Vec3
	Origin      types.Vec3
	Direction   types.Vec3
}

func (p *Payload) reset() {
	p.Emission = types.Vec3{}
	p.Scattered = false
	p.Attenuation = types.Vec3{}
}

func toPayload(payload any) (*Payload, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return nil, fmt.Errorf("pathtrace: unexpected payload type %T", payload)
	}
	return p, nil
}

// Generate camera rays for one output texel, trace SamplesPerFrame paths
// and blend the average into the accumulated output.
func rayGen(inv *device.Invocation) error {
	cbuf, err := inv.ConstantBuffer(SlotConstants)
	if err != nil {
		return err
	}
	constants := DecodeConstants(cbuf)

	sc, err := inv.Scene(SlotScene)
	if err != nil {
		return err
	}
	output, err := inv.View(SlotOutput, 0)
	if err != nil {
		return err
	}

	index, dims := inv.DispatchRaysIndex(), inv.DispatchRaysDimensions()
	texel, err := output.Element(index[1]*dims[0] + index[0])
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(uint64(index[1])<<32|uint64(index[0]), uint64(constants.AccumulatedFrame)))
	samples := max(constants.SamplesPerFrame, 1)

	var sum types.Vec3
	for s := uint32(0); s < samples; s++ {
		// Jittered NDC coordinates; +y points up.
		u := (float32(index[0])+rng.Float32())/float32(dims[0])*2 - 1
		v := 1 - (float32(index[1])+rng.Float32())/float32(dims[1])*2
		target := constants.InvViewProj.Mul4x1(types.Vec4{u, v, 1, 1})
		target = target.Mul(1 / target[3])
		dir := target.Vec3().Sub(constants.CameraPos).Normalize()

		radiance, err := tracePath(inv, sc, &constants, constants.CameraPos, dir, rng)
		if err != nil {
			return err
		}
		sum = sum.Add(radiance)
	}
	color := sum.Mul(1 / float32(samples))

	if constants.AccumulatedFrame > 0 {
		var prev [4]float32
		getFloats(texel, prev[:])
		color = types.LerpVec3(types.Vec3{prev[0], prev[1], prev[2]}, color, 1/float32(constants.AccumulatedFrame+1))
	}
	putFloats(texel, color[0], color[1], color[2], 1)
	return nil
}

func tracePath(inv *device.Invocation, sc *device.Scene, constants *Constants, origin, dir types.Vec3, rng *rand.Rand) (types.Vec3, error) {
	payload := Payload{rng: rng}
	throughput := types.Splat3(1)
	var radiance types.Vec3

	for depth := uint32(0); depth < constants.MaxPathLength; depth++ {
		payload.reset()
		ray := device.RayDesc{Origin: origin, TMin: rayEpsilon, Direction: dir, TMax: rayTMax}
		if err := inv.TraceRay(sc, device.RayFlagNone, device.InstanceMaskAll, 0, 1, 0, ray, &payload); err != nil {
			return types.Vec3{}, err
		}

		radiance = radiance.Add(throughput.MulVec(payload.Emission))
		if !payload.Scattered {
			break
		}
		throughput = throughput.MulVec(payload.Attenuation)
		origin, dir = payload.Origin, payload.Direction
	}
	return radiance, nil
}

func miss(inv *device.Invocation, payload any) error {
	p, err := toPayload(payload)
	if err != nil {
		return err
	}
	cbuf, err := inv.ConstantBuffer(SlotConstants)
	if err != nil {
		return err
	}
	getFloats(cbuf[offsetBackground:], p.Emission[:])
	return nil
}

// A resolved surface hit.
type surfaceHit struct {
	point     types.Vec3
	normal    types.Vec3
	frontFace bool
}

func closestHit(inv *device.Invocation, payload any) error {
	p, err := toPayload(payload)
	if err != nil {
		return err
	}

	args := inv.LocalArgs()
	if len(args) < 4 {
		return fmt.Errorf("pathtrace: hit group record without object index")
	}
	objIndex := binary.LittleEndian.Uint32(args)

	element := func(view uint32, index uint32) ([]byte, error) {
		v, err := inv.View(SlotGeometry, view)
		if err != nil {
			return nil, err
		}
		return v.Element(index)
	}

	objData, err := element(GeometryObjects, objIndex)
	if err != nil {
		return err
	}
	obj := scene.DecodeObject(objData)

	triData, err := element(GeometryTridices, obj.TridexOffset+inv.PrimitiveIndex())
	if err != nil {
		return err
	}
	tri := scene.DecodeTridex(triData)

	var normals [3]types.Vec3
	for idx, vIdx := range tri {
		vData, err := element(GeometryVertices, obj.VertexOffset+vIdx)
		if err != nil {
			return err
		}
		normals[idx] = scene.DecodeVertex(vData).Normal
	}

	matData, err := element(GeometryMaterials, obj.MaterialIndex)
	if err != nil {
		return err
	}
	mat := scene.DecodeMaterial(matData)

	bary := inv.Barycentrics()
	normal := normals[0].Mul(1 - bary[0] - bary[1]).
		Add(normals[1].Mul(bary[0])).
		Add(normals[2].Mul(bary[1]))
	normal = inv.ObjectToWorld().TransformDir(normal).Normalize()

	dir := inv.WorldRayDirection()
	hit := surfaceHit{
		point:     inv.WorldRayOrigin().Add(dir.Mul(inv.RayTCurrent())),
		normal:    normal,
		frontFace: dir.Dot(normal) < 0,
	}
	if !hit.frontFace {
		hit.normal = normal.Neg()
	}

	p.Emission = mat.Emission
	scatter(&mat, dir, &hit, p)
	return nil
}
