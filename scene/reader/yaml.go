package reader

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/achilleasa/rtframe/log"
	"github.com/achilleasa/rtframe/scene"
	"github.com/achilleasa/rtframe/types"
	"gopkg.in/yaml.v3"
)

var logger = log.New("scene reader")

// Default camera placement when the document does not define one.
var (
	defaultCameraPos    = types.Vec3{-2, 2, -1}
	defaultCameraLookAt = types.Vec3{0, 0, 0}
	defaultFOV          = float32(90)
	defaultBackground   = types.Vec3{0.8, 0.1, 0.5}
)

type vec2 [2]float32
type vec3 [3]float32

type cameraDoc struct {
	Position *vec3   `yaml:"position"`
	LookAt   *vec3   `yaml:"lookAt"`
	Up       *vec3   `yaml:"up"`
	FOV      float32 `yaml:"fov"`
}

type materialDoc struct {
	Name            string  `yaml:"name"`
	Type            string  `yaml:"type"`
	Albedo          vec3    `yaml:"albedo"`
	Emission        vec3    `yaml:"emission"`
	Fuzz            float32 `yaml:"fuzz"`
	RefractionIndex float32 `yaml:"refractionIndex"`
}

type meshDoc struct {
	Positions []vec3      `yaml:"positions"`
	Normals   []vec3      `yaml:"normals"`
	Texcoords []vec2      `yaml:"texcoords"`
	Triangles [][3]uint32 `yaml:"triangles"`
}

type objectDoc struct {
	Name        string      `yaml:"name"`
	Material    string      `yaml:"material"`
	Translation vec3        `yaml:"translation"`
	Rotation    *[4]float32 `yaml:"rotation"`
	Scale       float32     `yaml:"scale"`
	Mesh        *meshDoc    `yaml:"mesh"`
	MeshFile    string      `yaml:"meshFile"`
}

type sceneDoc struct {
	Background *vec3         `yaml:"background"`
	Camera     *cameraDoc    `yaml:"camera"`
	Materials  []materialDoc `yaml:"materials"`
	Objects    []objectDoc   `yaml:"objects"`
}

// Read a scene description from a YAML file or an http(s) URL. Relative
// meshFile references are resolved against the scene location.
func ReadScene(sceneFile string) (*scene.Scene, error) {
	res, err := openResource(sceneFile, nil)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	start := time.Now()
	sc, err := decodeScene(res, res)
	if err != nil {
		return nil, fmt.Errorf("scene reader: %s: %w", sceneFile, err)
	}

	logger.Infof("loaded %d objects (%d vertices, %d triangles) from %s in %d ms",
		len(sc.Objects), len(sc.Vertices), len(sc.Tridices), sceneFile,
		time.Since(start).Nanoseconds()/1e6,
	)
	return sc, nil
}

// Parse a scene from an in-memory YAML document.
func Parse(data []byte) (*scene.Scene, error) {
	return Decode(bytes.NewReader(data))
}

// Decode a YAML scene document and convert it into a validated scene.
// Relative meshFile references are resolved against the working directory.
func Decode(r io.Reader) (*scene.Scene, error) {
	return decodeScene(r, nil)
}

func decodeStrict(r io.Reader, out interface{}) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	return dec.Decode(out)
}

func decodeScene(r io.Reader, base *resource) (*scene.Scene, error) {
	var doc sceneDoc
	if err := decodeStrict(r, &doc); err != nil {
		return nil, err
	}

	sc := &scene.Scene{Background: defaultBackground}
	if doc.Background != nil {
		sc.Background = types.Vec3(*doc.Background)
	}

	sc.Camera = buildCamera(doc.Camera)

	matIndex := make(map[string]uint32, len(doc.Materials))
	for idx, matDoc := range doc.Materials {
		if _, exists := matIndex[matDoc.Name]; exists {
			return nil, fmt.Errorf("duplicate material %q", matDoc.Name)
		}
		mat, err := buildMaterial(matDoc)
		if err != nil {
			return nil, err
		}
		matIndex[matDoc.Name] = uint32(idx)
		sc.Materials = append(sc.Materials, mat)
	}

	for idx, objDoc := range doc.Objects {
		matIdx, ok := matIndex[objDoc.Material]
		if !ok {
			return nil, fmt.Errorf("%w: object %d (%s) uses %q", scene.ErrInvalidMaterial, idx, objDoc.Name, objDoc.Material)
		}

		mesh, err := objectMesh(objDoc, base)
		if err != nil {
			return nil, fmt.Errorf("object %d (%s): %w", idx, objDoc.Name, err)
		}
		vertices, tridices, err := buildMesh(mesh)
		if err != nil {
			return nil, fmt.Errorf("object %d (%s): %w", idx, objDoc.Name, err)
		}

		rotation := types.QuatIdent()
		if objDoc.Rotation != nil {
			r := objDoc.Rotation
			rotation = types.QuatXYZW(r[0], r[1], r[2], r[3])
		}
		scale := objDoc.Scale
		if scale == 0 {
			scale = 1
		}

		name := objDoc.Name
		if name == "" {
			name = fmt.Sprintf("object%d", idx)
		}
		sc.AddObject(name, vertices, tridices, matIdx, types.Vec3(objDoc.Translation), rotation, scale)
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Inline mesh or the contents of an external mesh document; not both.
func objectMesh(doc objectDoc, base *resource) (meshDoc, error) {
	switch {
	case doc.Mesh != nil && doc.MeshFile != "":
		return meshDoc{}, fmt.Errorf("both mesh and meshFile are defined")
	case doc.Mesh != nil:
		return *doc.Mesh, nil
	case doc.MeshFile == "":
		return meshDoc{}, fmt.Errorf("mesh has no geometry")
	}

	res, err := openResource(doc.MeshFile, base)
	if err != nil {
		return meshDoc{}, err
	}
	defer res.Close()

	var mesh meshDoc
	if err := decodeStrict(res, &mesh); err != nil {
		return meshDoc{}, fmt.Errorf("%s: %w", res.Path(), err)
	}
	logger.Debugf("read %d positions and %d triangles from %s", len(mesh.Positions), len(mesh.Triangles), res.Path())
	return mesh, nil
}

func buildCamera(doc *cameraDoc) *scene.Camera {
	fov := defaultFOV
	if doc != nil && doc.FOV != 0 {
		fov = doc.FOV
	}

	camera := scene.NewCamera(scene.DegToRad(fov))
	camera.Position = defaultCameraPos
	camera.LookAt = defaultCameraLookAt
	if doc != nil {
		if doc.Position != nil {
			camera.Position = types.Vec3(*doc.Position)
		}
		if doc.LookAt != nil {
			camera.LookAt = types.Vec3(*doc.LookAt)
		}
		if doc.Up != nil {
			camera.Up = types.Vec3(*doc.Up)
		}
	}
	camera.Update()
	return camera
}

func buildMaterial(doc materialDoc) (scene.Material, error) {
	matType := scene.Lambertian
	if doc.Type != "" {
		var err error
		if matType, err = scene.ParseMaterialType(doc.Type); err != nil {
			return scene.Material{}, fmt.Errorf("material %q: %w", doc.Name, err)
		}
	}

	mat := scene.Material{
		Type:            matType,
		Albedo:          types.Vec3(doc.Albedo),
		Emission:        types.Vec3(doc.Emission),
		Fuzz:            doc.Fuzz,
		RefractionIndex: doc.RefractionIndex,
	}
	if mat.Type == scene.Dielectric && mat.RefractionIndex == 0 {
		mat.RefractionIndex = 1.5
	}
	return mat, nil
}

// Assemble vertices from the position/normal/texcoord streams. Objects
// without normals get smooth normals averaged from the adjacent faces.
func buildMesh(doc meshDoc) ([]scene.Vertex, []scene.Tridex, error) {
	if len(doc.Positions) == 0 || len(doc.Triangles) == 0 {
		return nil, nil, fmt.Errorf("mesh has no geometry")
	}
	if len(doc.Normals) != 0 && len(doc.Normals) != len(doc.Positions) {
		return nil, nil, fmt.Errorf("mesh defines %d normals for %d positions", len(doc.Normals), len(doc.Positions))
	}
	if len(doc.Texcoords) != 0 && len(doc.Texcoords) != len(doc.Positions) {
		return nil, nil, fmt.Errorf("mesh defines %d texcoords for %d positions", len(doc.Texcoords), len(doc.Positions))
	}

	vertices := make([]scene.Vertex, len(doc.Positions))
	for idx, pos := range doc.Positions {
		vertices[idx].Position = types.Vec3(pos)
		if len(doc.Normals) != 0 {
			vertices[idx].Normal = types.Vec3(doc.Normals[idx]).Normalize()
		}
		if len(doc.Texcoords) != 0 {
			vertices[idx].Texcoord = types.Vec2(doc.Texcoords[idx])
		}
	}

	tridices := make([]scene.Tridex, len(doc.Triangles))
	for idx, tri := range doc.Triangles {
		for _, vIdx := range tri {
			if int(vIdx) >= len(vertices) {
				return nil, nil, fmt.Errorf("triangle %d references vertex %d (%d vertices)", idx, vIdx, len(vertices))
			}
		}
		tridices[idx] = scene.Tridex(tri)

		if len(doc.Normals) == 0 {
			v0, v1, v2 := vertices[tri[0]].Position, vertices[tri[1]].Position, vertices[tri[2]].Position
			faceNormal := v1.Sub(v0).Cross(v2.Sub(v0))
			for _, vIdx := range tri {
				vertices[vIdx].Normal = vertices[vIdx].Normal.Add(faceNormal)
			}
		}
	}

	if len(doc.Normals) == 0 {
		for idx := range vertices {
			vertices[idx].Normal = vertices[idx].Normal.Normalize()
		}
	}

	return vertices, tridices, nil
}
