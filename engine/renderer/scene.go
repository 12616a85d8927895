package renderer

import (
	"encoding/binary"
	stdmath "math"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/allocator"
	"github.com/spaghettifunk/lumen/engine/renderer/bvh"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

const meshUsage = driver.BufferUsageVertex |
	driver.BufferUsageAccelerationStructureBuildInput |
	driver.BufferUsageShaderDeviceAddress

// Mesh is indexed triangle geometry.
type Mesh struct {
	Positions []math.Vec3
	Indices   []uint32
}

type mesh struct {
	vertices allocator.Handle
	indices  allocator.Handle
	blas     *accel.Structure

	// Host copies used by Trace.
	positions []math.Vec3
	triangles []uint32
}

// SceneInstance places an uploaded mesh in the scene.
type SceneInstance struct {
	Mesh      int
	Transform math.Affine3x4
}

// UploadMesh copies m into device-local buffers and builds its bottom level
// structure. It returns the mesh index used by BuildScene.
func (r *Renderer) UploadMesh(m Mesh) (int, error) {
	if r.ctx == nil {
		return 0, core.ErrRendererBooting
	}
	if len(m.Positions) == 0 || len(m.Indices) == 0 || len(m.Indices)%3 != 0 {
		return 0, errors.Mark(errors.Newf("mesh needs vertices and a multiple of 3 indices, got %d and %d", len(m.Positions), len(m.Indices)), core.ErrInvalidArgument)
	}
	alloc := r.ctx.Allocator

	vertexData := make([]byte, 0, len(m.Positions)*12)
	for _, p := range m.Positions {
		vertexData = binary.LittleEndian.AppendUint32(vertexData, stdmath.Float32bits(p.X))
		vertexData = binary.LittleEndian.AppendUint32(vertexData, stdmath.Float32bits(p.Y))
		vertexData = binary.LittleEndian.AppendUint32(vertexData, stdmath.Float32bits(p.Z))
	}
	indexData := make([]byte, 0, len(m.Indices)*4)
	for _, i := range m.Indices {
		indexData = binary.LittleEndian.AppendUint32(indexData, i)
	}

	vertices, err := alloc.CreateBuffer(uint64(len(vertexData)), meshUsage, false, vertexData)
	if err != nil {
		return 0, errors.Wrap(err, "creating vertex buffer")
	}
	indices, err := alloc.CreateBuffer(uint64(len(indexData)), meshUsage|driver.BufferUsageIndex, false, indexData)
	if err != nil {
		alloc.Free(vertices)
		return 0, errors.Wrap(err, "creating index buffer")
	}

	blas, err := r.ctx.Builder.BuildBottomLevel(accel.GeometryDesc{
		Triangles: &accel.Triangles{
			VertexBuffer:  vertices,
			VertexStride:  12,
			MaxVertex:     uint32(len(m.Positions) - 1),
			IndexBuffer:   indices,
			TriangleCount: uint32(len(m.Indices) / 3),
		},
	})
	if err != nil {
		alloc.Free(vertices)
		alloc.Free(indices)
		return 0, errors.Wrap(err, "building mesh structure")
	}
	r.meshes = append(r.meshes, mesh{
		vertices:  vertices,
		indices:   indices,
		blas:      blas,
		positions: append([]math.Vec3(nil), m.Positions...),
		triangles: append([]uint32(nil), m.Indices...),
	})
	return len(r.meshes) - 1, nil
}

// BuildScene builds the top level structure over instances. The structure
// allows updates so SetTransform can move instances every frame.
func (r *Renderer) BuildScene(instances []SceneInstance) error {
	if r.ctx == nil {
		return core.ErrRendererBooting
	}
	records := make([]accel.Instance, len(instances))
	for i, inst := range instances {
		if inst.Mesh < 0 || inst.Mesh >= len(r.meshes) {
			return errors.Mark(errors.Newf("instance %d references unknown mesh %d", i, inst.Mesh), core.ErrInvalidArgument)
		}
		records[i] = accel.Instance{
			BLAS:        r.meshes[inst.Mesh].blas,
			Transform:   inst.Transform,
			CustomIndex: uint32(inst.Mesh),
			Mask:        0xFF,
			Flags:       accel.InstanceTriangleFacingCullDisable,
		}
	}
	tlas, err := r.ctx.Builder.BuildTopLevel(records, accel.BuildFastTrace|accel.BuildAllowUpdate)
	if err != nil {
		return errors.Wrap(err, "building scene")
	}
	r.tlas = tlas
	return nil
}

// SetTransform moves instance index and refits the scene.
func (r *Renderer) SetTransform(index int, transform math.Affine3x4) error {
	if r.ctx == nil || r.tlas == nil {
		return core.ErrRendererBooting
	}
	core.Assertf(index >= 0 && index < r.tlas.PrimitiveCount(), "instance index %d out of range [0, %d)", index, r.tlas.PrimitiveCount())
	blas := r.tlas.Instances()[index].BLAS
	return r.ctx.Builder.UpdateTopLevel(r.tlas, index, blas, transform)
}

// Scene returns the top level structure or nil before BuildScene.
func (r *Renderer) Scene() *accel.Structure {
	return r.tlas
}

// SceneHit is the closest triangle found by Trace.
type SceneHit struct {
	Instance int
	Triangle uint32
	T        float32
}

// Trace casts a ray through the scene as it is stored on the device. Both
// structure levels are read back and traversed on the host, so this is a
// debugging aid and not meant to run every frame.
func (r *Renderer) Trace(origin, direction math.Vec3) (SceneHit, bool, error) {
	if r.ctx == nil || r.tlas == nil {
		return SceneHit{}, false, core.ErrRendererBooting
	}
	top, err := r.readStructure(r.tlas)
	if err != nil {
		return SceneHit{}, false, err
	}

	instances := r.tlas.Instances()
	bottoms := make(map[*accel.Structure]*bvh.BVH)
	triangles := make(map[uint32]uint32)
	var traceErr error

	ray := bvh.Ray{Origin: origin, Direction: direction, TMax: float32(stdmath.Inf(1))}
	hit, found := top.Intersect(ray, func(p uint32, ray bvh.Ray, tMax float32) (float32, bool) {
		inst := instances[p]
		toObject, ok := inst.Transform.Inverse()
		if !ok || traceErr != nil {
			return 0, false
		}
		bottom, ok := bottoms[inst.BLAS]
		if !ok {
			if bottom, traceErr = r.readStructure(inst.BLAS); traceErr != nil {
				return 0, false
			}
			bottoms[inst.BLAS] = bottom
		}
		m := &r.meshes[inst.CustomIndex]

		// Affine maps keep the ray parameter, so object space distances
		// compare directly with world space ones.
		local := bvh.Ray{
			Origin:    toObject.TransformPoint(ray.Origin),
			Direction: toObject.TransformVector(ray.Direction),
			TMin:      ray.TMin,
			TMax:      tMax,
		}
		h, ok := bottom.Intersect(local, func(tri uint32, ray bvh.Ray, _ float32) (float32, bool) {
			i := tri * 3
			return bvh.IntersectTriangle(ray, m.positions[m.triangles[i]], m.positions[m.triangles[i+1]], m.positions[m.triangles[i+2]])
		})
		if ok {
			triangles[p] = h.Primitive
		}
		return h.T, ok
	})
	if traceErr != nil {
		return SceneHit{}, false, traceErr
	}
	if !found {
		return SceneHit{}, false, nil
	}
	return SceneHit{Instance: int(hit.Primitive), Triangle: triangles[hit.Primitive], T: hit.T}, true, nil
}

func (r *Renderer) readStructure(s *accel.Structure) (*bvh.BVH, error) {
	alloc := r.ctx.Allocator
	data, err := alloc.ReadBuffer(s.ResultBuffer(), 0, alloc.BufferSize(s.ResultBuffer()))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s structure", s.Level())
	}
	return bvh.Decode(data)
}
