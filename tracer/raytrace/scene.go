package raytrace

import (
	"fmt"
	"time"

	"github.com/achilleasa/rtframe/scene"
	"github.com/achilleasa/rtframe/tracer/accel"
	"github.com/achilleasa/rtframe/tracer/device"
	"github.com/achilleasa/rtframe/tracer/program/pathtrace"
	"github.com/achilleasa/rtframe/tracer/shadertable"
)

var geometryNames = [pathtrace.NumGeometryDescriptors]string{
	pathtrace.GeometryVertices:  "vertices",
	pathtrace.GeometryTridices:  "tridices",
	pathtrace.GeometryMaterials: "materials",
	pathtrace.GeometryObjects:   "objects",
}

// Upload the scene geometry, build its acceleration structures and lay
// out the shader tables. Any previously loaded scene is released first.
// The call blocks until the device has finished the builds.
func (tr *Tracer) LoadScene(sc *scene.Scene) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	tr.unloadScene()

	start := time.Now()
	if err := tr.loadScene(sc); err != nil {
		tr.abort()
		tr.unloadScene()
		return err
	}
	tr.scene = sc

	// The first frame of a new scene never blends with stale output.
	tr.havePose = false
	tr.constantsReady = false

	tr.logger.Infof(
		"loaded scene with %d objects (%d vertices, %d triangles) in %d ms",
		len(sc.Objects), len(sc.Vertices), len(sc.Tridices), time.Since(start).Nanoseconds()/1e6,
	)
	return nil
}

func (tr *Tracer) loadScene(sc *scene.Scene) error {
	upload, err := tr.uploadGeometry(sc)
	if upload != nil {
		defer upload.Release()
	}
	if err != nil {
		return err
	}

	tr.structures, err = tr.builder.Build(tr.cmdList, accel.Geometry{
		Vertices:     tr.geometry[pathtrace.GeometryVertices],
		VertexStride: scene.SizeofVertex,
		Tridices:     tr.geometry[pathtrace.GeometryTridices],
	}, sc.Objects)
	if err != nil {
		return err
	}

	if err = tr.submitAndWait(); err != nil {
		return err
	}
	tr.structures.ReleaseScratch()

	if err = tr.buildShaderTable(uint32(len(sc.Objects))); err != nil {
		return err
	}

	for idx, buf := range tr.geometry {
		err = tr.descriptors.CreateView(uint32(pathtrace.GeometryDescriptor+idx), device.BufferView{
			Type:                device.ShaderResourceView,
			Buffer:              buf,
			NumElements:         uint32(buf.Size() / uint64(pathtrace.GeometryStrides[idx])),
			StructureByteStride: pathtrace.GeometryStrides[idx],
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Allocate the device-local geometry buffers and record their upload
// through a single upload buffer. The returned upload buffer must outlive
// the submission of the recorded copies.
func (tr *Tracer) uploadGeometry(sc *scene.Scene) (*device.Buffer, error) {
	arrays := [pathtrace.NumGeometryDescriptors][]byte{
		pathtrace.GeometryVertices:  scene.EncodeVertices(sc.Vertices),
		pathtrace.GeometryTridices:  scene.EncodeTridices(sc.Tridices),
		pathtrace.GeometryMaterials: scene.EncodeMaterials(sc.Materials),
		pathtrace.GeometryObjects:   scene.EncodeObjects(sc.Objects),
	}

	var offsets [pathtrace.NumGeometryDescriptors]uint64
	var total uint64
	for idx, data := range arrays {
		offsets[idx] = total
		total = device.Align(total+uint64(len(data)), device.AccelerationStructureAlignment)
	}

	upload, err := tr.ctx.CreateBuffer("geometry upload", total, device.Upload, device.AccessNone, device.GenericRead)
	if err != nil {
		return nil, err
	}
	mapped, err := upload.Map()
	if err != nil {
		return upload, err
	}
	for idx, data := range arrays {
		copy(mapped[offsets[idx]:], data)
	}
	upload.Unmap()

	for idx, data := range arrays {
		buf, err := tr.ctx.CreateBuffer(geometryNames[idx], uint64(len(data)), device.DeviceLocal, device.AccessNone, device.CopyDest)
		if err != nil {
			return upload, err
		}
		tr.geometry[idx] = buf

		if err = tr.cmdList.CopyBufferRegion(buf, 0, upload, offsets[idx], uint64(len(data))); err != nil {
			return upload, err
		}
		if err = tr.cmdList.ResourceBarrier(device.Transition(buf, device.CopyDest, device.GenericRead)); err != nil {
			return upload, err
		}
	}

	tr.logger.Debugf("recorded geometry upload (%d bytes)", total)
	return upload, nil
}

func (tr *Tracer) buildShaderTable(numObjects uint32) error {
	var ids shadertable.Identifiers
	var err error
	if ids.RayGeneration, err = tr.pipeline.ShaderIdentifier(pathtrace.RayGenerationExport); err != nil {
		return err
	}
	if ids.Miss, err = tr.pipeline.ShaderIdentifier(pathtrace.MissExport); err != nil {
		return err
	}
	if ids.HitGroup, err = tr.pipeline.ShaderIdentifier(pathtrace.HitGroupName); err != nil {
		return err
	}

	tr.table, err = shadertable.BuildRayTypes(tr.ctx, ids, numObjects, tr.opts.InstanceMultiplier)
	if err != nil {
		return fmt.Errorf("raytrace: shader table: %w", err)
	}
	return nil
}

// Release the scene resources.
func (tr *Tracer) unloadScene() {
	tr.structures.Release()
	tr.structures = nil
	tr.table.Release()
	tr.table = nil

	for idx, buf := range tr.geometry {
		if buf != nil {
			buf.Release()
			tr.geometry[idx] = nil
		}
		if tr.descriptors != nil {
			tr.descriptors.ClearView(uint32(pathtrace.GeometryDescriptor + idx))
		}
	}
	tr.scene = nil
}

// Discard a partially recorded command list after a recording error.
func (tr *Tracer) abort() {
	if !tr.cmdList.Pending() {
		_ = tr.cmdList.Reset()
	}
}
