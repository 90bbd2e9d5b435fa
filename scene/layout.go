package scene

import (
	"encoding/binary"
	"math"

	"github.com/achilleasa/rtframe/types"
)

// Byte sizes of the device-side records. Each record is tightly packed
// little-endian 32-bit words.
const (
	SizeofVertex       = 32
	SizeofTridex       = 12
	SizeofMaterial     = 36
	SizeofObjectRecord = 76
)

// Device-side view of a scene object.
type ObjectRecord struct {
	VertexOffset  uint32
	TridexOffset  uint32
	MaterialIndex uint32
	ModelMatrix   types.Mat4
}

// Encode the vertex array.
func EncodeVertices(vertices []Vertex) []byte {
	out := make([]byte, len(vertices)*SizeofVertex)
	for idx, v := range vertices {
		b := out[idx*SizeofVertex:]
		putFloats(b, v.Position[:]...)
		putFloats(b[12:], v.Normal[:]...)
		putFloats(b[24:], v.Texcoord[:]...)
	}
	return out
}

// Decode a single vertex.
func DecodeVertex(b []byte) Vertex {
	var v Vertex
	getFloats(b, v.Position[:])
	getFloats(b[12:], v.Normal[:])
	getFloats(b[24:], v.Texcoord[:])
	return v
}

// Encode the triangle index array.
func EncodeTridices(tridices []Tridex) []byte {
	out := make([]byte, len(tridices)*SizeofTridex)
	for idx, tri := range tridices {
		b := out[idx*SizeofTridex:]
		binary.LittleEndian.PutUint32(b, tri[0])
		binary.LittleEndian.PutUint32(b[4:], tri[1])
		binary.LittleEndian.PutUint32(b[8:], tri[2])
	}
	return out
}

// Decode a single triangle.
func DecodeTridex(b []byte) Tridex {
	return Tridex{
		binary.LittleEndian.Uint32(b),
		binary.LittleEndian.Uint32(b[4:]),
		binary.LittleEndian.Uint32(b[8:]),
	}
}

// Encode the material array.
func EncodeMaterials(materials []Material) []byte {
	out := make([]byte, len(materials)*SizeofMaterial)
	for idx, mat := range materials {
		b := out[idx*SizeofMaterial:]
		binary.LittleEndian.PutUint32(b, uint32(mat.Type))
		putFloats(b[4:], mat.Albedo[:]...)
		putFloats(b[16:], mat.Emission[:]...)
		putFloats(b[28:], mat.Fuzz, mat.RefractionIndex)
	}
	return out
}

// Decode a single material.
func DecodeMaterial(b []byte) Material {
	mat := Material{Type: MaterialType(binary.LittleEndian.Uint32(b))}
	getFloats(b[4:], mat.Albedo[:])
	getFloats(b[16:], mat.Emission[:])
	var scalars [2]float32
	getFloats(b[28:], scalars[:])
	mat.Fuzz, mat.RefractionIndex = scalars[0], scalars[1]
	return mat
}

// Encode the device-side object records.
func EncodeObjects(objects []SceneObject) []byte {
	out := make([]byte, len(objects)*SizeofObjectRecord)
	for idx, obj := range objects {
		b := out[idx*SizeofObjectRecord:]
		binary.LittleEndian.PutUint32(b, obj.VertexOffset)
		binary.LittleEndian.PutUint32(b[4:], obj.TridexOffset)
		binary.LittleEndian.PutUint32(b[8:], obj.MaterialIndex)
		putFloats(b[12:], obj.ModelMatrix[:]...)
	}
	return out
}

// Decode a single object record.
func DecodeObject(b []byte) ObjectRecord {
	rec := ObjectRecord{
		VertexOffset:  binary.LittleEndian.Uint32(b),
		TridexOffset:  binary.LittleEndian.Uint32(b[4:]),
		MaterialIndex: binary.LittleEndian.Uint32(b[8:]),
	}
	getFloats(b[12:], rec.ModelMatrix[:])
	return rec
}

func putFloats(b []byte, values ...float32) {
	for idx, v := range values {
		binary.LittleEndian.PutUint32(b[idx*4:], math.Float32bits(v))
	}
}

func getFloats(b []byte, out []float32) {
	for idx := range out {
		out[idx] = math.Float32frombits(binary.LittleEndian.Uint32(b[idx*4:]))
	}
}
