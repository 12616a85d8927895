// Package accel builds the two-level acceleration structures used for ray
// intersection: one bottom level structure per geometry set and a single top
// level structure over instances of them.
package accel

import (
	"encoding/binary"
	stdmath "math"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/allocator"
	"github.com/spaghettifunk/lumen/engine/renderer/bvh"
)

type Level uint8

const (
	BottomLevel Level = iota
	TopLevel
)

func (l Level) String() string {
	if l == TopLevel {
		return "top level"
	}
	return "bottom level"
}

type BuildFlags uint8

const (
	BuildFastTrace BuildFlags = 1 << iota
	BuildAllowUpdate
)

// InstanceFlags mirror VkGeometryInstanceFlagBitsKHR.
type InstanceFlags uint8

const (
	InstanceTriangleFacingCullDisable InstanceFlags = 1 << iota
	InstanceTriangleFlipFacing
	InstanceForceOpaque
	InstanceForceNoOpaque
)

// InstanceSize is the size of one encoded instance record.
const InstanceSize = 64

const maxInstanceField = 1<<24 - 1

// Instance places a bottom level structure in the top level structure.
// CustomIndex and SBTOffset are 24 bit fields.
type Instance struct {
	BLAS        *Structure
	Transform   math.Affine3x4
	CustomIndex uint32
	Mask        uint8
	SBTOffset   uint32
	Flags       InstanceFlags
}

// encode writes the instance in the VkAccelerationStructureInstanceKHR
// layout: a row-major 3x4 transform, customIndex:24 | mask:8,
// sbtOffset:24 | flags:8 and the 64 bit structure address.
func (i *Instance) encode(dst []byte, blasAddress uint64) {
	le := binary.LittleEndian
	off := 0
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			le.PutUint32(dst[off:], stdmath.Float32bits(i.Transform.M[r][c]))
			off += 4
		}
	}
	le.PutUint32(dst[48:], i.CustomIndex&maxInstanceField|uint32(i.Mask)<<24)
	le.PutUint32(dst[52:], i.SBTOffset&maxInstanceField|uint32(i.Flags)<<24)
	le.PutUint64(dst[56:], blasAddress)
}

// DecodeInstance reads an encoded instance record. The BLAS field is left
// nil; the referenced structure is identified by the returned address.
func DecodeInstance(src []byte) (Instance, uint64) {
	le := binary.LittleEndian
	var inst Instance
	off := 0
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			inst.Transform.M[r][c] = stdmath.Float32frombits(le.Uint32(src[off:]))
			off += 4
		}
	}
	w := le.Uint32(src[48:])
	inst.CustomIndex, inst.Mask = w&maxInstanceField, uint8(w>>24)
	w = le.Uint32(src[52:])
	inst.SBTOffset, inst.Flags = w&maxInstanceField, InstanceFlags(w>>24)
	return inst, le.Uint64(src[56:])
}

// Structure is a built acceleration structure. Its result buffer and, for
// the top level, its scratch and instance buffers stay alive until the
// Builder is destroyed.
type Structure struct {
	level          Level
	flags          BuildFlags
	result         allocator.Handle
	address        uint64
	bounds         math.Extents3D
	primitiveCount int

	// Top level only.
	scratch   allocator.Handle
	instances allocator.Handle
	records   []Instance
	tree      *bvh.BVH
	encoded   []byte
}

func (s *Structure) Level() Level {
	return s.level
}

func (s *Structure) Flags() BuildFlags {
	return s.flags
}

// Bounds returns the object space bounds of a bottom level structure or the
// world space bounds of a top level structure.
func (s *Structure) Bounds() math.Extents3D {
	return s.bounds
}

func (s *Structure) PrimitiveCount() int {
	return s.primitiveCount
}

// ResultBuffer returns the buffer holding the built hierarchy.
func (s *Structure) ResultBuffer() allocator.Handle {
	return s.result
}

// InstanceBuffer returns the host visible instance buffer of a top level
// structure.
func (s *Structure) InstanceBuffer() allocator.Handle {
	return s.instances
}

// Instances returns a copy of the instance list of a top level structure.
func (s *Structure) Instances() []Instance {
	return append([]Instance(nil), s.records...)
}
