package accel

import (
	"encoding/binary"
	stdmath "math"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/allocator"
)

const (
	vertexPositionSize = 12
	aabbSize           = 24
	transformSize      = 48
)

// Triangles describes triangle geometry. Vertex positions are three float32
// at the start of each vertex. IndexBuffer holds uint32 indices; when it is
// the null handle the vertices are consumed in order. TransformBuffer
// optionally holds a row-major 3x4 float32 transform applied to every vertex.
type Triangles struct {
	VertexBuffer    allocator.Handle
	VertexStride    uint64
	MaxVertex       uint32
	IndexBuffer     allocator.Handle
	TriangleCount   uint32
	TransformBuffer allocator.Handle
}

// AABBs describes procedural geometry as Count boxes of six float32 (min xyz,
// max xyz) spaced Stride bytes apart.
type AABBs struct {
	Buffer allocator.Handle
	Stride uint64
	Count  uint32
}

// GeometryDesc is the input of BuildBottomLevel. Exactly one of Triangles
// and AABBs must be set.
type GeometryDesc struct {
	Triangles *Triangles
	AABBs     *AABBs
}

func invalid(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), core.ErrInvalidArgument)
}

func readVec3(src []byte) math.Vec3 {
	le := binary.LittleEndian
	return math.Vec3{
		X: stdmath.Float32frombits(le.Uint32(src[0:])),
		Y: stdmath.Float32frombits(le.Uint32(src[4:])),
		Z: stdmath.Float32frombits(le.Uint32(src[8:])),
	}
}

// primitiveBounds reads the geometry back from its buffers and returns one
// box per primitive.
func (b *Builder) primitiveBounds(desc GeometryDesc) ([]math.Extents3D, error) {
	switch {
	case desc.Triangles != nil && desc.AABBs != nil:
		return nil, invalid("geometry has both triangles and AABBs")
	case desc.Triangles != nil:
		return b.triangleBounds(desc.Triangles)
	case desc.AABBs != nil:
		return b.aabbBounds(desc.AABBs)
	default:
		return nil, invalid("geometry has neither triangles nor AABBs")
	}
}

func (b *Builder) triangleBounds(t *Triangles) ([]math.Extents3D, error) {
	if t.TriangleCount == 0 {
		return nil, invalid("triangle count must be > 0")
	}
	if t.VertexStride < vertexPositionSize {
		return nil, invalid("vertex stride %d is smaller than a position", t.VertexStride)
	}
	vertexCount := uint64(t.MaxVertex) + 1
	vertexBytes := (vertexCount-1)*t.VertexStride + vertexPositionSize
	vertices, err := b.alloc.ReadBuffer(t.VertexBuffer, 0, vertexBytes)
	if err != nil {
		return nil, errors.Wrap(err, "reading vertex buffer")
	}

	indexCount := uint64(t.TriangleCount) * 3
	indices := make([]uint32, indexCount)
	if t.IndexBuffer.IsNull() {
		if indexCount > vertexCount {
			return nil, invalid("%d triangles need %d vertices, max vertex is %d", t.TriangleCount, indexCount, t.MaxVertex)
		}
		for i := range indices {
			indices[i] = uint32(i)
		}
	} else {
		raw, err := b.alloc.ReadBuffer(t.IndexBuffer, 0, indexCount*4)
		if err != nil {
			return nil, errors.Wrap(err, "reading index buffer")
		}
		for i := range indices {
			indices[i] = binary.LittleEndian.Uint32(raw[i*4:])
			if indices[i] > t.MaxVertex {
				return nil, invalid("index %d at %d exceeds max vertex %d", indices[i], i, t.MaxVertex)
			}
		}
	}

	transform := math.NewAffineIdentity()
	if !t.TransformBuffer.IsNull() {
		raw, err := b.alloc.ReadBuffer(t.TransformBuffer, 0, transformSize)
		if err != nil {
			return nil, errors.Wrap(err, "reading transform buffer")
		}
		for r := 0; r < 3; r++ {
			for c := 0; c < 4; c++ {
				transform.M[r][c] = stdmath.Float32frombits(binary.LittleEndian.Uint32(raw[(r*4+c)*4:]))
			}
		}
	}

	bounds := make([]math.Extents3D, t.TriangleCount)
	for tri := range bounds {
		e := math.EmptyExtents()
		for k := 0; k < 3; k++ {
			v := readVec3(vertices[uint64(indices[tri*3+k])*t.VertexStride:])
			e = e.Grow(transform.TransformPoint(v))
		}
		bounds[tri] = e
	}
	return bounds, nil
}

func (b *Builder) aabbBounds(a *AABBs) ([]math.Extents3D, error) {
	if a.Count == 0 {
		return nil, invalid("AABB count must be > 0")
	}
	if a.Stride < aabbSize {
		return nil, invalid("AABB stride %d is smaller than a box", a.Stride)
	}
	raw, err := b.alloc.ReadBuffer(a.Buffer, 0, uint64(a.Count-1)*a.Stride+aabbSize)
	if err != nil {
		return nil, errors.Wrap(err, "reading AABB buffer")
	}
	bounds := make([]math.Extents3D, a.Count)
	for i := range bounds {
		off := uint64(i) * a.Stride
		e := math.Extents3D{Min: readVec3(raw[off:]), Max: readVec3(raw[off+12:])}
		if e.IsEmpty() {
			return nil, invalid("AABB %d has min greater than max", i)
		}
		bounds[i] = e
	}
	return bounds, nil
}

// EncodeAABBs packs boxes into the layout AABBs expects with a tight stride.
func EncodeAABBs(boxes []math.Extents3D) []byte {
	out := make([]byte, len(boxes)*aabbSize)
	le := binary.LittleEndian
	for i, e := range boxes {
		off := i * aabbSize
		for k, f := range []float32{e.Min.X, e.Min.Y, e.Min.Z, e.Max.X, e.Max.Y, e.Max.Z} {
			le.PutUint32(out[off+k*4:], stdmath.Float32bits(f))
		}
	}
	return out
}
