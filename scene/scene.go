package scene

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/achilleasa/rtframe/types"
	"github.com/olekukonko/tablewriter"
)

var (
	ErrNoObjects       = errors.New("scene: scene contains no objects")
	ErrNoCamera        = errors.New("scene: no camera defined")
	ErrInvalidMaterial = errors.New("scene: object references unknown material")
)

// The type of a surface material.
type MaterialType uint32

const (
	Lambertian MaterialType = iota
	Metal
	Dielectric
	DiffuseLight
)

var materialTypeNames = []string{"lambertian", "metal", "dielectric", "light"}

// Implements Stringer.
func (mt MaterialType) String() string {
	if int(mt) < len(materialTypeNames) {
		return materialTypeNames[mt]
	}
	return fmt.Sprintf("MaterialType(%d)", uint32(mt))
}

// Parse a material type name.
func ParseMaterialType(name string) (MaterialType, error) {
	for idx, typeName := range materialTypeNames {
		if strings.EqualFold(typeName, name) {
			return MaterialType(idx), nil
		}
	}
	return 0, fmt.Errorf("scene: unknown material type %q", name)
}

// A mesh vertex.
type Vertex struct {
	Position types.Vec3
	Normal   types.Vec3
	Texcoord types.Vec2
}

// A triangle defined by three indices into the owning object's vertex range.
type Tridex [3]uint32

// A surface material.
type Material struct {
	Type     MaterialType
	Albedo   types.Vec3
	Emission types.Vec3

	// Reflection blur for metals.
	Fuzz float32

	// Index of refraction for dielectrics.
	RefractionIndex float32
}

// A scene object references a contiguous range of the scene vertex and
// triangle arrays and positions it in the world with a model matrix.
type SceneObject struct {
	Name string

	VertexOffset uint32
	NumVertices  uint32
	TridexOffset uint32
	NumTridices  uint32

	MaterialIndex uint32

	// Local -> world decomposition. ModelMatrix is derived from these
	// by UpdateModelMatrix.
	Translation types.Vec3
	Rotation    types.Quat
	Scale       float32

	ModelMatrix types.Mat4
}

// Recalculate the model matrix as translation * rotation * scale.
func (o *SceneObject) UpdateModelMatrix() {
	scale := o.Scale
	if scale == 0 {
		scale = 1
	}
	o.ModelMatrix = types.Translate3D(o.Translation).
		Mul4(o.Rotation.Normalize().Mat4()).
		Mul4(types.Scale3D(scale))
}

// Scene is an immutable snapshot handed to the tracer on scene load. All
// objects share the flat vertex and triangle arrays.
type Scene struct {
	Objects   []SceneObject
	Vertices  []Vertex
	Tridices  []Tridex
	Materials []Material

	// Radiance returned by rays that escape the scene.
	Background types.Vec3

	Camera *Camera
}

// Append an object built from a triangle mesh and return its index.
func (sc *Scene) AddObject(name string, vertices []Vertex, tridices []Tridex, materialIndex uint32, translation types.Vec3, rotation types.Quat, scale float32) int {
	obj := SceneObject{
		Name:          name,
		VertexOffset:  uint32(len(sc.Vertices)),
		NumVertices:   uint32(len(vertices)),
		TridexOffset:  uint32(len(sc.Tridices)),
		NumTridices:   uint32(len(tridices)),
		MaterialIndex: materialIndex,
		Translation:   translation,
		Rotation:      rotation,
		Scale:         scale,
	}
	obj.UpdateModelMatrix()

	sc.Vertices = append(sc.Vertices, vertices...)
	sc.Tridices = append(sc.Tridices, tridices...)
	sc.Objects = append(sc.Objects, obj)
	return len(sc.Objects) - 1
}

// Check that the scene can be uploaded: at least one object, every range
// inside the flat arrays, every index inside its object's vertex range.
func (sc *Scene) Validate() error {
	if len(sc.Objects) == 0 {
		return ErrNoObjects
	}

	for idx, obj := range sc.Objects {
		if obj.NumVertices == 0 || obj.NumTridices == 0 {
			return fmt.Errorf("scene: object %d (%s) has no geometry", idx, obj.Name)
		}
		if uint64(obj.VertexOffset)+uint64(obj.NumVertices) > uint64(len(sc.Vertices)) {
			return fmt.Errorf("scene: object %d (%s) vertex range [%d, %d) exceeds vertex count %d", idx, obj.Name, obj.VertexOffset, obj.VertexOffset+obj.NumVertices, len(sc.Vertices))
		}
		if uint64(obj.TridexOffset)+uint64(obj.NumTridices) > uint64(len(sc.Tridices)) {
			return fmt.Errorf("scene: object %d (%s) triangle range [%d, %d) exceeds triangle count %d", idx, obj.Name, obj.TridexOffset, obj.TridexOffset+obj.NumTridices, len(sc.Tridices))
		}
		if int(obj.MaterialIndex) >= len(sc.Materials) {
			return fmt.Errorf("%w: object %d (%s) uses material %d", ErrInvalidMaterial, idx, obj.Name, obj.MaterialIndex)
		}
		for _, tri := range sc.Tridices[obj.TridexOffset : obj.TridexOffset+obj.NumTridices] {
			for _, vIdx := range tri {
				if vIdx >= obj.NumVertices {
					return fmt.Errorf("scene: object %d (%s) triangle index %d out of range (%d vertices)", idx, obj.Name, vIdx, obj.NumVertices)
				}
			}
		}
	}

	return nil
}

// Build a tabular representation of scene statistics.
func (sc *Scene) Stats() string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Object", "Vertices", "Triangles", "Material"})
	for _, obj := range sc.Objects {
		matType := "?"
		if int(obj.MaterialIndex) < len(sc.Materials) {
			matType = sc.Materials[obj.MaterialIndex].Type.String()
		}
		table.Append([]string{
			obj.Name,
			fmt.Sprintf("%d", obj.NumVertices),
			fmt.Sprintf("%d", obj.NumTridices),
			fmt.Sprintf("%d (%s)", obj.MaterialIndex, matType),
		})
	}
	table.SetFooter([]string{
		fmt.Sprintf("%d objects", len(sc.Objects)),
		fmtSize(sc.Vertices),
		fmtSize(sc.Tridices),
		fmtSize(sc.Materials),
	})

	table.Render()
	return buf.String()
}

// Sum the total space used by a set of slices and return back a formatted
// value with the appropriate byte/kb/mb unit.
func fmtSize(items ...interface{}) string {
	var totalBytes float32 = 0.0
	for _, item := range items {
		t := reflect.TypeOf(item)
		v := reflect.ValueOf(item)
		if v.Len() == 0 {
			continue
		}

		totalBytes += float32(int(t.Elem().Size()) * v.Len())
	}

	if totalBytes < 1e3 {
		return fmt.Sprintf("%3d bytes", int(totalBytes))
	} else if totalBytes < 1e6 {
		return fmt.Sprintf("%3.1f kb", totalBytes/1e3)
	}
	return fmt.Sprintf("%5.1f mb", totalBytes/1e6)
}
