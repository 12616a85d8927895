package bvh

import (
	"encoding/binary"
	stdmath "math"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
)

const (
	headerSize = 16
	magic      = 0x4842564c // "LVBH"
)

// Sizes is the result of a build size query.
type Sizes struct {
	// Structure is the size of the buffer holding the encoded hierarchy.
	Structure uint64
	// Scratch is the size of the buffer the hierarchy is built in.
	Scratch uint64
	// Update is the scratch size needed to refit the hierarchy in place.
	Update uint64
}

// BuildSizes returns the worst case sizes for a hierarchy over
// primitiveCount primitives.
func BuildSizes(primitiveCount int) (Sizes, error) {
	if primitiveCount <= 0 {
		return Sizes{}, errors.Mark(errors.Newf("primitive count must be > 0, got %d", primitiveCount), core.ErrInvalidArgument)
	}
	size := uint64(headerSize + MaxNodes(primitiveCount)*NodeSize + primitiveCount*4)
	return Sizes{Structure: size, Scratch: size, Update: size}, nil
}

// EncodedSize returns the number of bytes Encode writes.
func (b *BVH) EncodedSize() int {
	return headerSize + len(b.Nodes)*NodeSize + len(b.Indices)*4
}

// Encode writes the hierarchy into dst, which must hold EncodedSize bytes.
//
//	header:  magic u32 | node count u32 | primitive count u32 | reserved u32
//	nodes:   min xyz f32 | leftFirst u32 | max xyz f32 | count u32
//	indices: u32 per primitive reference
func (b *BVH) Encode(dst []byte) error {
	if len(dst) < b.EncodedSize() {
		return errors.Mark(errors.Newf("encode needs %d bytes, buffer has %d", b.EncodedSize(), len(dst)), core.ErrInvalidArgument)
	}
	le := binary.LittleEndian
	le.PutUint32(dst[0:], magic)
	le.PutUint32(dst[4:], uint32(len(b.Nodes)))
	le.PutUint32(dst[8:], uint32(len(b.Indices)))
	le.PutUint32(dst[12:], 0)

	off := headerSize
	for i := range b.Nodes {
		n := &b.Nodes[i]
		putVec3(dst[off:], n.Min)
		le.PutUint32(dst[off+12:], n.LeftFirst)
		putVec3(dst[off+16:], n.Max)
		le.PutUint32(dst[off+28:], n.Count)
		off += NodeSize
	}
	for _, idx := range b.Indices {
		le.PutUint32(dst[off:], idx)
		off += 4
	}
	return nil
}

// Bytes returns the encoded hierarchy.
func (b *BVH) Bytes() []byte {
	out := make([]byte, b.EncodedSize())
	_ = b.Encode(out)
	return out
}

// Decode reads a hierarchy written by Encode. The decoded BVH can be
// traversed but not refit, since primitive bounds are not encoded.
func Decode(data []byte) (*BVH, error) {
	if len(data) < headerSize {
		return nil, errors.Mark(errors.New("bvh data shorter than header"), core.ErrInvalidArgument)
	}
	le := binary.LittleEndian
	if le.Uint32(data[0:]) != magic {
		return nil, errors.Mark(errors.Newf("bad bvh magic %#x", le.Uint32(data[0:])), core.ErrInvalidArgument)
	}
	nodeCount := int(le.Uint32(data[4:]))
	primCount := int(le.Uint32(data[8:]))
	if len(data) < headerSize+nodeCount*NodeSize+primCount*4 {
		return nil, errors.Mark(errors.Newf("bvh data truncated: %d nodes, %d primitives in %d bytes", nodeCount, primCount, len(data)), core.ErrInvalidArgument)
	}

	b := &BVH{
		Nodes:   make([]Node, nodeCount),
		Indices: make([]uint32, primCount),
	}
	off := headerSize
	for i := range b.Nodes {
		b.Nodes[i] = Node{
			Min:       getVec3(data[off:]),
			LeftFirst: le.Uint32(data[off+12:]),
			Max:       getVec3(data[off+16:]),
			Count:     le.Uint32(data[off+28:]),
		}
		off += NodeSize
	}
	for i := range b.Indices {
		b.Indices[i] = le.Uint32(data[off:])
		off += 4
	}
	return b, nil
}

func putVec3(dst []byte, v math.Vec3) {
	binary.LittleEndian.PutUint32(dst[0:], stdmath.Float32bits(v.X))
	binary.LittleEndian.PutUint32(dst[4:], stdmath.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(dst[8:], stdmath.Float32bits(v.Z))
}

func getVec3(src []byte) math.Vec3 {
	return math.Vec3{
		X: stdmath.Float32frombits(binary.LittleEndian.Uint32(src[0:])),
		Y: stdmath.Float32frombits(binary.LittleEndian.Uint32(src[4:])),
		Z: stdmath.Float32frombits(binary.LittleEndian.Uint32(src[8:])),
	}
}
