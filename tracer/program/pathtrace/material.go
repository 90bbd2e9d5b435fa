package pathtrace

import (
	"math/rand/v2"

	"github.com/achilleasa/rtframe/scene"
	"github.com/achilleasa/rtframe/types"
	"github.com/chewxy/math32"
)

// Scatter an incoming ray off a surface. On return p describes the
// scattered segment, if any.
func scatter(mat *scene.Material, dir types.Vec3, hit *surfaceHit, p *Payload) {
	var scattered types.Vec3
	switch mat.Type {
	case scene.Lambertian:
		scattered = hit.normal.Add(randomUnitVector(p.rng))
		if scattered.NearZero() {
			scattered = hit.normal
		}
		p.Attenuation = mat.Albedo
	case scene.Metal:
		scattered = reflect(dir.Normalize(), hit.normal).Add(randomInUnitSphere(p.rng).Mul(min(mat.Fuzz, 1)))
		if scattered.Dot(hit.normal) <= 0 {
			return
		}
		p.Attenuation = mat.Albedo
	case scene.Dielectric:
		ratio := mat.RefractionIndex
		if hit.frontFace {
			ratio = 1 / mat.RefractionIndex
		}
		unitDir := dir.Normalize()
		cosTheta := min(unitDir.Neg().Dot(hit.normal), 1)
		sinTheta := math32.Sqrt(1 - cosTheta*cosTheta)
		if ratio*sinTheta > 1 || reflectance(cosTheta, ratio) > p.rng.Float32() {
			scattered = reflect(unitDir, hit.normal)
		} else {
			scattered = refract(unitDir, hit.normal, ratio)
		}
		p.Attenuation = types.Splat3(1)
	default:
		// Emitters terminate the path.
		return
	}

	p.Scattered = true
	p.Origin = hit.point
	p.Direction = scattered.Normalize()
}

func reflect(v, n types.Vec3) types.Vec3 {
	return v.Sub(n.Mul(2 * v.Dot(n)))
}

func refract(uv, n types.Vec3, etaRatio float32) types.Vec3 {
	cosTheta := min(uv.Neg().Dot(n), 1)
	perp := uv.Add(n.Mul(cosTheta)).Mul(etaRatio)
	parallel := n.Mul(-math32.Sqrt(math32.Abs(1 - perp.Dot(perp))))
	return perp.Add(parallel)
}

// Schlick's approximation.
func reflectance(cosine, refIdx float32) float32 {
	r0 := (1 - refIdx) / (1 + refIdx)
	r0 *= r0
	return r0 + (1-r0)*math32.Pow(1-cosine, 5)
}

func randomInUnitSphere(rng *rand.Rand) types.Vec3 {
	for {
		p := types.XYZ(rng.Float32()*2-1, rng.Float32()*2-1, rng.Float32()*2-1)
		if p.Dot(p) < 1 {
			return p
		}
	}
}

func randomUnitVector(rng *rand.Rand) types.Vec3 {
	return randomInUnitSphere(rng).Normalize()
}
