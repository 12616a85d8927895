package accel

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/allocator"
	"github.com/spaghettifunk/lumen/engine/renderer/bvh"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

const (
	resultUsage = driver.BufferUsageAccelerationStructureStorage |
		driver.BufferUsageShaderDeviceAddress |
		driver.BufferUsageTransferDst
	scratchUsage = driver.BufferUsageStorage |
		driver.BufferUsageShaderDeviceAddress |
		driver.BufferUsageTransferSrc
	instanceUsage = driver.BufferUsageAccelerationStructureBuildInput |
		driver.BufferUsageShaderDeviceAddress
)

// Builder creates and owns acceleration structures. Builds and updates block
// until the device has finished them. It is not safe for concurrent use.
type Builder struct {
	device driver.Device
	alloc  *allocator.Allocator

	structures map[*Structure]struct{}
	tlas       *Structure
}

func New(device driver.Device, alloc *allocator.Allocator) *Builder {
	return &Builder{
		device:     device,
		alloc:      alloc,
		structures: make(map[*Structure]struct{}),
	}
}

// TopLevel returns the live top level structure or nil.
func (b *Builder) TopLevel() *Structure {
	return b.tlas
}

func (b *Builder) known(s *Structure) bool {
	_, ok := b.structures[s]
	return ok
}

// Address returns the device address of a structure built by b.
func (b *Builder) Address(s *Structure) uint64 {
	core.Assertf(s != nil && b.known(s), "unknown acceleration structure")
	return s.address
}

// BuildBottomLevel builds a structure over one geometry set. The scratch
// memory used by the build is released before it returns.
func (b *Builder) BuildBottomLevel(desc GeometryDesc) (*Structure, error) {
	bounds, err := b.primitiveBounds(desc)
	if err != nil {
		return nil, err
	}
	tree := bvh.Build(bounds)
	s := &Structure{
		level:          BottomLevel,
		bounds:         tree.Bounds(),
		primitiveCount: len(bounds),
	}
	if err := b.build(s, tree); err != nil {
		return nil, err
	}
	b.alloc.Free(s.scratch)
	s.scratch = allocator.Handle{}

	b.structures[s] = struct{}{}
	core.LogDebug("built %s structure: %d primitives, %d nodes, address %#x", s.level, s.primitiveCount, len(tree.Nodes), s.address)
	return s, nil
}

// BuildTopLevel builds the top level structure over instances. Only one top
// level structure may be live at a time. Its scratch and instance buffers are
// kept so UpdateTopLevel can refit it without allocating.
func (b *Builder) BuildTopLevel(instances []Instance, flags BuildFlags) (*Structure, error) {
	core.Assertf(b.tlas == nil, "a top level structure is already live")
	if len(instances) == 0 {
		return nil, invalid("top level structure needs at least one instance")
	}

	records := make([]byte, len(instances)*InstanceSize)
	bounds := make([]math.Extents3D, len(instances))
	for i := range instances {
		inst := &instances[i]
		core.Assertf(inst.BLAS != nil && b.known(inst.BLAS) && inst.BLAS.level == BottomLevel,
			"instance %d does not reference a bottom level structure of this builder", i)
		if inst.CustomIndex > maxInstanceField || inst.SBTOffset > maxInstanceField {
			return nil, invalid("instance %d: custom index %d or SBT offset %d exceeds 24 bits", i, inst.CustomIndex, inst.SBTOffset)
		}
		inst.encode(records[i*InstanceSize:], inst.BLAS.address)
		bounds[i] = inst.Transform.TransformExtents(inst.BLAS.bounds)
	}

	instanceBuffer, err := b.alloc.CreateBuffer(uint64(len(records)), instanceUsage, true, records)
	if err != nil {
		return nil, errors.Wrap(err, "creating instance buffer")
	}

	tree := bvh.Build(bounds)
	s := &Structure{
		level:          TopLevel,
		flags:          flags,
		bounds:         tree.Bounds(),
		primitiveCount: len(instances),
		instances:      instanceBuffer,
		records:        append([]Instance(nil), instances...),
		tree:           tree,
		encoded:        make([]byte, tree.EncodedSize()),
	}
	if err := b.build(s, tree); err != nil {
		b.alloc.Free(instanceBuffer)
		return nil, err
	}

	b.structures[s] = struct{}{}
	b.tlas = s
	core.LogDebug("built %s structure: %d instances, address %#x", s.level, s.primitiveCount, s.address)
	return s, nil
}

// UpdateTopLevel rewrites instance index to reference blas with transform
// and refits tlas in place, reusing its result and scratch buffers.
func (b *Builder) UpdateTopLevel(tlas *Structure, index int, blas *Structure, transform math.Affine3x4) error {
	core.Assertf(tlas != nil && tlas == b.tlas, "update of a structure that is not the live top level structure")
	core.Assertf(tlas.flags&BuildAllowUpdate != 0, "top level structure was not built with BuildAllowUpdate")
	core.Assertf(index >= 0 && index < len(tlas.records), "instance index %d out of range [0, %d)", index, len(tlas.records))
	core.Assertf(blas != nil && b.known(blas) && blas.level == BottomLevel, "update references an unknown bottom level structure")

	inst := tlas.records[index]
	inst.BLAS = blas
	inst.Transform = transform

	var record [InstanceSize]byte
	inst.encode(record[:], blas.address)
	if err := b.alloc.UpdateVisibleBuffer(tlas.instances, uint64(index*InstanceSize), record[:]); err != nil {
		return errors.Wrapf(err, "writing instance %d", index)
	}
	tlas.records[index] = inst

	tlas.tree.SetPrimitiveBounds(index, transform.TransformExtents(blas.bounds))
	tlas.tree.Refit()
	tlas.bounds = tlas.tree.Bounds()
	if err := tlas.tree.Encode(tlas.encoded); err != nil {
		return err
	}
	if err := b.alloc.UpdateVisibleBuffer(tlas.scratch, 0, tlas.encoded); err != nil {
		return errors.Wrap(err, "writing refit hierarchy")
	}
	return b.submitBuild(tlas.scratch, tlas.result, uint64(len(tlas.encoded)))
}

// build allocates the result and scratch buffers of s, builds tree into the
// scratch buffer and copies it into the result buffer.
func (b *Builder) build(s *Structure, tree *bvh.BVH) error {
	sizes, err := bvh.BuildSizes(s.primitiveCount)
	if err != nil {
		return err
	}
	result, err := b.alloc.CreateBuffer(sizes.Structure, resultUsage, false, nil)
	if err != nil {
		return errors.Wrapf(err, "creating %s result buffer", s.level)
	}
	scratch, err := b.alloc.CreateBuffer(math.Max(sizes.Scratch, sizes.Update), scratchUsage, true, nil)
	if err != nil {
		b.alloc.Free(result)
		return errors.Wrapf(err, "creating %s scratch buffer", s.level)
	}
	s.result, s.scratch = result, scratch

	encoded := tree.Bytes()
	err = b.alloc.UpdateVisibleBuffer(scratch, 0, encoded)
	if err == nil {
		err = b.submitBuild(scratch, result, uint64(len(encoded)))
	}
	if err != nil {
		b.alloc.Free(scratch)
		b.alloc.Free(result)
		return errors.Wrapf(err, "building %s structure", s.level)
	}
	s.address = b.alloc.DeviceAddress(result)
	return nil
}

// submitBuild records the build command into a one time command buffer and
// waits for it to complete.
func (b *Builder) submitBuild(scratch, result allocator.Handle, size uint64) error {
	cb, err := allocator.BeginSingleUse(b.device)
	if err != nil {
		return err
	}
	b.device.CmdCopyBuffer(cb, b.alloc.Buffer(scratch), b.alloc.Buffer(result), []driver.BufferCopy{{Size: size}})
	b.device.CmdPipelineBarrier(cb,
		driver.PipelineStageAccelerationStructureBuild|driver.PipelineStageTransfer,
		driver.PipelineStageAccelerationStructureBuild|driver.PipelineStageRayTracingShader)
	return allocator.EndSingleUse(b.device, cb)
}

// Destroy frees every structure and the top level scratch and instance
// buffers. The device must be idle.
func (b *Builder) Destroy() {
	for s := range b.structures {
		b.alloc.Free(s.result)
		if s.level == TopLevel {
			b.alloc.Free(s.scratch)
			b.alloc.Free(s.instances)
		}
	}
	b.structures = make(map[*Structure]struct{})
	b.tlas = nil
	core.LogDebug("acceleration structure builder destroyed")
}
