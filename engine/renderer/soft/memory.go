package soft

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

type memory struct {
	data          []byte
	typeIndex     uint32
	deviceAddress bool
	address       uint64
	mapped        bool
}

type buffer struct {
	size   uint64
	usage  driver.BufferUsage
	memory *memory
	offset uint64
}

type image struct {
	info       driver.ImageCreateInfo
	memory     *memory
	swapchain  *swapchain
	clearColor [4]float32
	cleared    bool
}

type imageView struct {
	image driver.Image
}

func (d *Device) CreateBuffer(size uint64, usage driver.BufferUsage) (driver.Buffer, error) {
	if size == 0 {
		return driver.NullHandle, errors.Mark(errors.New("buffer size must be > 0"), core.ErrInvalidArgument)
	}
	d.stats.CreateBufferCalls++
	h := driver.Buffer(d.handle())
	d.buffers[h] = &buffer{size: size, usage: usage}
	return h, nil
}

func (d *Device) DestroyBuffer(b driver.Buffer) {
	delete(d.buffers, b)
}

func (d *Device) BufferMemoryRequirements(b driver.Buffer) driver.MemoryRequirements {
	buf, ok := d.buffers[b]
	if !ok {
		return driver.MemoryRequirements{}
	}
	return driver.MemoryRequirements{
		Size:           alignUp(buf.size, memoryAlignment),
		Alignment:      memoryAlignment,
		MemoryTypeBits: 1<<MemoryTypeDeviceLocal | 1<<MemoryTypeHostVisible | 1<<MemoryTypeDeviceLocalHostVisible,
	}
}

func (d *Device) BindBufferMemory(b driver.Buffer, m driver.Memory, offset uint64) error {
	buf, ok := d.buffers[b]
	if !ok {
		return invalidHandle("buffer", uint64(b))
	}
	mem, ok := d.memories[m]
	if !ok {
		return invalidHandle("memory", uint64(m))
	}
	if buf.memory != nil {
		return errors.Mark(errors.Newf("buffer %d is already bound", b), core.ErrInvalidArgument)
	}
	if offset+buf.size > uint64(len(mem.data)) {
		return errors.Mark(errors.Newf("buffer %d (%d bytes at %d) does not fit memory %d of %d bytes", b, buf.size, offset, m, len(mem.data)), core.ErrInvalidArgument)
	}
	buf.memory = mem
	buf.offset = offset
	return nil
}

func (d *Device) BufferDeviceAddress(b driver.Buffer) uint64 {
	buf, ok := d.buffers[b]
	if !ok || buf.memory == nil {
		return 0
	}
	if buf.usage&driver.BufferUsageShaderDeviceAddress == 0 || !buf.memory.deviceAddress {
		return 0
	}
	return buf.memory.address + buf.offset
}

func (d *Device) CreateImage(info driver.ImageCreateInfo) (driver.Image, error) {
	if info.Width == 0 || info.Height == 0 {
		return driver.NullHandle, errors.Mark(errors.Newf("image extent %dx%d must be non-zero", info.Width, info.Height), core.ErrInvalidArgument)
	}
	if info.Format == driver.FormatUndefined {
		return driver.NullHandle, errors.Mark(errors.New("image format is undefined"), core.ErrInvalidArgument)
	}
	d.stats.CreateImageCalls++
	h := driver.Image(d.handle())
	d.images[h] = &image{info: info}
	return h, nil
}

func (d *Device) DestroyImage(i driver.Image) {
	if img, ok := d.images[i]; ok && img.swapchain != nil {
		core.LogWarn("soft: refusing to destroy swapchain-owned image %d", i)
		return
	}
	delete(d.images, i)
}

func (d *Device) ImageMemoryRequirements(i driver.Image) driver.MemoryRequirements {
	img, ok := d.images[i]
	if !ok {
		return driver.MemoryRequirements{}
	}
	size := uint64(img.info.Width) * uint64(img.info.Height) * uint64(img.info.Format.BytesPerPixel())
	return driver.MemoryRequirements{
		Size:           alignUp(size, memoryAlignment),
		Alignment:      memoryAlignment,
		MemoryTypeBits: 1<<MemoryTypeDeviceLocal | 1<<MemoryTypeDeviceLocalHostVisible,
	}
}

func (d *Device) BindImageMemory(i driver.Image, m driver.Memory, offset uint64) error {
	img, ok := d.images[i]
	if !ok {
		return invalidHandle("image", uint64(i))
	}
	mem, ok := d.memories[m]
	if !ok {
		return invalidHandle("memory", uint64(m))
	}
	if img.memory != nil || img.swapchain != nil {
		return errors.Mark(errors.Newf("image %d is already bound", i), core.ErrInvalidArgument)
	}
	if offset+d.ImageMemoryRequirements(i).Size > uint64(len(mem.data)) {
		return errors.Mark(errors.Newf("image %d does not fit memory %d", i, m), core.ErrInvalidArgument)
	}
	img.memory = mem
	return nil
}

func (d *Device) CreateImageView(info driver.ImageViewCreateInfo) (driver.ImageView, error) {
	img, ok := d.images[info.Image]
	if !ok {
		return driver.NullHandle, invalidHandle("image", uint64(info.Image))
	}
	if img.memory == nil && img.swapchain == nil {
		return driver.NullHandle, errors.Mark(errors.Newf("image %d has no memory bound", info.Image), core.ErrInvalidArgument)
	}
	h := driver.ImageView(d.handle())
	d.views[h] = &imageView{image: info.Image}
	return h, nil
}

func (d *Device) DestroyImageView(v driver.ImageView) {
	delete(d.views, v)
}

// ImageClearColor returns the color the image was last cleared to.
func (d *Device) ImageClearColor(i driver.Image) ([4]float32, bool) {
	img, ok := d.images[i]
	if !ok || !img.cleared {
		return [4]float32{}, false
	}
	return img.clearColor, true
}

func (d *Device) AllocateMemory(size uint64, memoryTypeIndex uint32, deviceAddress bool) (driver.Memory, error) {
	d.stats.AllocateMemoryCalls++
	if d.skipAllocations > 0 {
		d.skipAllocations--
	} else if d.failAllocations > 0 {
		d.failAllocations--
		return driver.NullHandle, errors.Mark(errors.Newf("allocation of %d bytes failed", size), core.ErrOutOfMemory)
	}
	if int(memoryTypeIndex) >= len(d.memoryTypes) {
		return driver.NullHandle, errors.Mark(errors.Newf("memory type %d does not exist", memoryTypeIndex), core.ErrInvalidArgument)
	}
	if size == 0 {
		return driver.NullHandle, errors.Mark(errors.New("allocation size must be > 0"), core.ErrInvalidArgument)
	}
	mem := &memory{
		data:          make([]byte, size),
		typeIndex:     memoryTypeIndex,
		deviceAddress: deviceAddress,
	}
	if deviceAddress {
		mem.address = d.nextAddress
		d.nextAddress += alignUp(size, memoryAlignment)
	}
	h := driver.Memory(d.handle())
	d.memories[h] = mem
	return h, nil
}

func (d *Device) FreeMemory(m driver.Memory) {
	if _, ok := d.memories[m]; !ok {
		return
	}
	d.stats.FreeMemoryCalls++
	delete(d.memories, m)
}

func (d *Device) MapMemory(m driver.Memory, offset, size uint64) ([]byte, error) {
	mem, ok := d.memories[m]
	if !ok {
		return nil, invalidHandle("memory", uint64(m))
	}
	if d.memoryTypes[mem.typeIndex].Properties&driver.MemoryPropertyHostVisible == 0 {
		return nil, errors.Mark(errors.Newf("memory %d is not host visible", m), core.ErrInvalidArgument)
	}
	if mem.mapped {
		return nil, errors.Mark(errors.Newf("memory %d is already mapped", m), core.ErrInvalidArgument)
	}
	if offset+size > uint64(len(mem.data)) {
		return nil, errors.Mark(errors.Newf("map range [%d, %d) exceeds memory %d of %d bytes", offset, offset+size, m, len(mem.data)), core.ErrInvalidArgument)
	}
	mem.mapped = true
	return mem.data[offset : offset+size : offset+size], nil
}

func (d *Device) UnmapMemory(m driver.Memory) {
	if mem, ok := d.memories[m]; ok {
		mem.mapped = false
	}
}
