package pathtrace

import (
	"github.com/achilleasa/rtframe/scene"
	"github.com/achilleasa/rtframe/tracer/device"
)

// Export and hit group names.
const (
	LibraryName         = "pathtrace"
	RayGenerationExport = "RayGen"
	MissExport          = "Miss"
	ClosestHitExport    = "ClosestHit"
	HitGroupName        = "HitGroup"
)

// Global root signature slots.
const (
	SlotConstants = iota
	SlotScene
	SlotOutput
	SlotGeometry
)

// Descriptors of the geometry table, in heap order after the output view.
const (
	GeometryVertices = iota
	GeometryTridices
	GeometryMaterials
	GeometryObjects

	NumGeometryDescriptors
)

const (
	// Descriptor heap layout: the output UAV followed by the geometry SRVs.
	OutputDescriptor   = 0
	GeometryDescriptor = 1
	NumDescriptors     = GeometryDescriptor + NumGeometryDescriptors

	// Output texels are RGBA float32.
	BytesPerPixel = 16

	// Paths are traced iteratively from the ray generation program so one
	// level of TraceRay recursion is enough.
	MaxRecursionDepth = 1
)

// Byte strides of the geometry views.
var GeometryStrides = [NumGeometryDescriptors]uint32{
	GeometryVertices:  scene.SizeofVertex,
	GeometryTridices:  scene.SizeofTridex,
	GeometryMaterials: scene.SizeofMaterial,
	GeometryObjects:   scene.SizeofObjectRecord,
}

// Create the program library.
func NewLibrary() *device.Library {
	return device.NewLibrary(LibraryName).
		AddRayGeneration(RayGenerationExport, rayGen).
		AddMiss(MissExport, miss).
		AddClosestHit(ClosestHitExport, closestHit)
}

// Create the global root signature expected by the program.
func NewRootSignature(ctx *device.Context) (*device.RootSignature, error) {
	return ctx.CreateRootSignature("pathtrace global",
		device.RootParameter{Type: device.RootConstantBufferView},
		device.RootParameter{Type: device.RootShaderResourceView},
		device.RootParameter{Type: device.RootDescriptorTable, NumDescriptors: 1},
		device.RootParameter{Type: device.RootDescriptorTable, NumDescriptors: NumGeometryDescriptors},
	)
}

// Compile the program into a pipeline. Hit group records carry the
// scene object index as their local argument.
func NewPipeline(ctx *device.Context, localArgsSize uint32) (*device.PipelineState, error) {
	rootSig, err := NewRootSignature(ctx)
	if err != nil {
		return nil, err
	}

	return ctx.CreatePipelineState(device.PipelineDesc{
		Name:    LibraryName,
		Library: NewLibrary(),
		HitGroups: []device.HitGroup{
			{Name: HitGroupName, ClosestHit: ClosestHitExport},
		},
		GlobalRootSignature:    rootSig,
		HitGroupLocalArgsSize:  map[string]uint32{HitGroupName: localArgsSize},
		MaxTraceRecursionDepth: MaxRecursionDepth,
	})
}
