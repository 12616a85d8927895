package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

func unknown(kind string, h uint64) error {
	return errors.Mark(errors.Newf("unknown %s handle %d", kind, h), core.ErrInvalidArgument)
}

func (d *Device) CreateBuffer(size uint64, usage driver.BufferUsage) (driver.Buffer, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       toVkBufferUsage(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if err := resultError(vk.CreateBuffer(d.logicalDevice, &bufferInfo, d.allocator, &handle), "vkCreateBuffer"); err != nil {
		return driver.NullHandle, err
	}
	h := driver.Buffer(d.handle())
	d.buffers[h] = &buffer{handle: handle, size: size, usage: usage}
	return h, nil
}

func (d *Device) DestroyBuffer(h driver.Buffer) {
	b, ok := d.buffers[h]
	if !ok {
		return
	}
	vk.DestroyBuffer(d.logicalDevice, b.handle, d.allocator)
	delete(d.buffers, h)
}

func (d *Device) BufferMemoryRequirements(h driver.Buffer) driver.MemoryRequirements {
	b, ok := d.buffers[h]
	if !ok {
		return driver.MemoryRequirements{}
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logicalDevice, b.handle, &reqs)
	reqs.Deref()
	return driver.MemoryRequirements{
		Size:           uint64(reqs.Size),
		Alignment:      uint64(reqs.Alignment),
		MemoryTypeBits: reqs.MemoryTypeBits,
	}
}

func (d *Device) BindBufferMemory(h driver.Buffer, m driver.Memory, offset uint64) error {
	b, ok := d.buffers[h]
	if !ok {
		return unknown("buffer", uint64(h))
	}
	mem, ok := d.memories[m]
	if !ok {
		return unknown("memory", uint64(m))
	}
	return resultError(vk.BindBufferMemory(d.logicalDevice, b.handle, mem.handle, vk.DeviceSize(offset)), "vkBindBufferMemory")
}

func (d *Device) BufferDeviceAddress(h driver.Buffer) uint64 {
	b, ok := d.buffers[h]
	if !ok || b.usage&driver.BufferUsageShaderDeviceAddress == 0 {
		return 0
	}
	return d.bufferAddress(b.handle)
}

func (d *Device) AllocateMemory(size uint64, memoryTypeIndex uint32, deviceAddress bool) (driver.Memory, error) {
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: memoryTypeIndex,
	}
	if deviceAddress {
		flags := vk.MemoryAllocateFlagsInfo{
			SType: vk.StructureTypeMemoryAllocateFlagsInfo,
			Flags: vk.MemoryAllocateFlags(vk.MemoryAllocateDeviceAddressBit),
		}
		allocInfo.PNext = unsafe.Pointer(flags.Ref())
	}
	var handle vk.DeviceMemory
	if err := resultError(vk.AllocateMemory(d.logicalDevice, &allocInfo, d.allocator, &handle), "vkAllocateMemory"); err != nil {
		return driver.NullHandle, err
	}
	h := driver.Memory(d.handle())
	d.memories[h] = &memory{handle: handle, size: size, deviceAddress: deviceAddress}
	return h, nil
}

func (d *Device) FreeMemory(h driver.Memory) {
	m, ok := d.memories[h]
	if !ok {
		return
	}
	if m.mapped {
		vk.UnmapMemory(d.logicalDevice, m.handle)
	}
	vk.FreeMemory(d.logicalDevice, m.handle, d.allocator)
	delete(d.memories, h)
}

func (d *Device) MapMemory(h driver.Memory, offset, size uint64) ([]byte, error) {
	m, ok := d.memories[h]
	if !ok {
		return nil, unknown("memory", uint64(h))
	}
	if m.mapped {
		return nil, errors.Newf("memory %d is already mapped", h)
	}
	if offset+size > m.size {
		return nil, errors.Mark(errors.Newf("map range [%d, %d) exceeds allocation of %d bytes", offset, offset+size, m.size), core.ErrInvalidArgument)
	}
	var data unsafe.Pointer
	if err := resultError(vk.MapMemory(d.logicalDevice, m.handle, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &data), "vkMapMemory"); err != nil {
		return nil, err
	}
	m.mapped = true
	return unsafe.Slice((*byte)(data), size), nil
}

func (d *Device) UnmapMemory(h driver.Memory) {
	m, ok := d.memories[h]
	if !ok || !m.mapped {
		return
	}
	vk.UnmapMemory(d.logicalDevice, m.handle)
	m.mapped = false
}
