// Package allocator owns every device memory allocation made for buffers and
// images. Each resource gets exactly one allocation bound at offset 0 and is
// addressed by a generation-checked Handle.
//
// The allocator is not safe for concurrent use; it is driven by the single
// submitting goroutine.
package allocator

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

type Kind uint8

const (
	KindBuffer Kind = iota + 1
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindImage:
		return "image"
	default:
		return "invalid"
	}
}

// Handle identifies a buffer or image owned by an Allocator. The zero Handle
// is never live.
type Handle struct {
	Kind       Kind
	Index      uint32
	Generation uint32
}

func (h Handle) IsNull() bool {
	return h.Generation == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d.%d", h.Kind, h.Index, h.Generation)
}

// Allocation is the device memory backing a single resource.
type Allocation struct {
	Memory          driver.Memory
	Size            uint64
	MemoryTypeIndex uint32
	DeviceAddress   bool
	// Name is a debug label reported in leak warnings.
	Name string
}

type bufferResource struct {
	buffer      driver.Buffer
	size        uint64
	usage       driver.BufferUsage
	hostVisible bool
	allocation  Allocation
}

type imageResource struct {
	image      driver.Image
	info       driver.ImageCreateInfo
	allocation Allocation
	views      []driver.ImageView
}

// Stats reports the allocator's bookkeeping.
type Stats struct {
	Buffers   int
	Images    int
	Views     int
	Addresses int
	// Allocations is the number of live device memory allocations.
	Allocations int
	// AllocationCalls counts every device allocation ever made, including
	// short-lived staging memory.
	AllocationCalls int
	TotalBytes      uint64
}

type Allocator struct {
	device driver.Device

	buffers   *containers.Arena[bufferResource]
	images    *containers.Arena[imageResource]
	addresses map[Handle]uint64

	allocationCalls int
	totalBytes      uint64
}

func New(device driver.Device) *Allocator {
	return &Allocator{
		device:    device,
		buffers:   containers.NewArena[bufferResource](64),
		images:    containers.NewArena[imageResource](16),
		addresses: make(map[Handle]uint64),
	}
}

// FindMemoryIndex returns the first memory type allowed by typeFilter whose
// properties contain all of required, or -1.
func (a *Allocator) FindMemoryIndex(typeFilter uint32, required driver.MemoryProperty) int32 {
	for i, t := range a.device.MemoryTypes() {
		if typeFilter&(1<<uint(i)) != 0 && t.Properties&required == required {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

func (a *Allocator) allocate(req driver.MemoryRequirements, required driver.MemoryProperty, deviceAddress bool) (Allocation, error) {
	index := a.FindMemoryIndex(req.MemoryTypeBits, required)
	if index < 0 {
		return Allocation{}, errors.Mark(
			errors.Newf("no memory type in filter %#b has properties %#b", req.MemoryTypeBits, required),
			core.ErrOutOfMemory)
	}
	a.allocationCalls++
	mem, err := a.device.AllocateMemory(req.Size, uint32(index), deviceAddress)
	if err != nil {
		return Allocation{}, errors.Wrapf(err, "allocating %d bytes", req.Size)
	}
	a.totalBytes += req.Size
	return Allocation{
		Memory:          mem,
		Size:            req.Size,
		MemoryTypeIndex: uint32(index),
		DeviceAddress:   deviceAddress,
		Name:            uuid.NewString(),
	}, nil
}

func (a *Allocator) release(alloc Allocation) {
	a.device.FreeMemory(alloc.Memory)
	a.totalBytes -= alloc.Size
}

// createRawBuffer creates a buffer with its own allocation. It leaves nothing
// behind on failure.
func (a *Allocator) createRawBuffer(size uint64, usage driver.BufferUsage, props driver.MemoryProperty) (driver.Buffer, Allocation, error) {
	buf, err := a.device.CreateBuffer(size, usage)
	if err != nil {
		return driver.NullHandle, Allocation{}, errors.Wrap(err, "creating buffer")
	}
	deviceAddress := usage&driver.BufferUsageShaderDeviceAddress != 0
	alloc, err := a.allocate(a.device.BufferMemoryRequirements(buf), props, deviceAddress)
	if err != nil {
		a.device.DestroyBuffer(buf)
		return driver.NullHandle, Allocation{}, err
	}
	if err := a.device.BindBufferMemory(buf, alloc.Memory, 0); err != nil {
		a.device.DestroyBuffer(buf)
		a.release(alloc)
		return driver.NullHandle, Allocation{}, errors.Wrap(err, "binding buffer memory")
	}
	return buf, alloc, nil
}

func (a *Allocator) writeMapped(alloc Allocation, offset uint64, data []byte) error {
	mapped, err := a.device.MapMemory(alloc.Memory, offset, uint64(len(data)))
	if err != nil {
		return errors.Wrap(err, "mapping memory")
	}
	copy(mapped, data)
	a.device.UnmapMemory(alloc.Memory)
	return nil
}

// CreateBuffer creates a buffer of size bytes. Host-visible buffers are
// filled through a mapping; device-local buffers with initial data are filled
// through a staging copy that completes before CreateBuffer returns.
func (a *Allocator) CreateBuffer(size uint64, usage driver.BufferUsage, hostVisible bool, data []byte) (Handle, error) {
	if size == 0 {
		return Handle{}, errors.Mark(errors.New("buffer size must be > 0"), core.ErrInvalidArgument)
	}
	if uint64(len(data)) > size {
		return Handle{}, errors.Mark(errors.Newf("initial data of %d bytes exceeds buffer size %d", len(data), size), core.ErrInvalidArgument)
	}

	props := driver.MemoryPropertyDeviceLocal
	if hostVisible {
		props = driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent
	} else {
		// Device-local contents reach the host only through a copy.
		usage |= driver.BufferUsageTransferSrc
		if len(data) > 0 {
			usage |= driver.BufferUsageTransferDst
		}
	}

	buf, alloc, err := a.createRawBuffer(size, usage, props)
	if err != nil {
		return Handle{}, err
	}

	if len(data) > 0 {
		if hostVisible {
			err = a.writeMapped(alloc, 0, data)
		} else {
			err = a.upload(buf, data)
		}
		if err != nil {
			a.device.DestroyBuffer(buf)
			a.release(alloc)
			return Handle{}, err
		}
	}

	index, gen := a.buffers.Insert(bufferResource{
		buffer:      buf,
		size:        size,
		usage:       usage,
		hostVisible: hostVisible,
		allocation:  alloc,
	})
	h := Handle{Kind: KindBuffer, Index: index, Generation: gen}
	if alloc.DeviceAddress {
		a.addresses[h] = a.device.BufferDeviceAddress(buf)
	}
	return h, nil
}

// upload copies data into the start of dst through a temporary staging
// buffer and waits for the copy to finish.
func (a *Allocator) upload(dst driver.Buffer, data []byte) error {
	staging, alloc, err := a.createRawBuffer(uint64(len(data)), driver.BufferUsageTransferSrc,
		driver.MemoryPropertyHostVisible|driver.MemoryPropertyHostCoherent)
	if err != nil {
		return errors.Wrap(err, "creating staging buffer")
	}
	defer func() {
		a.device.DestroyBuffer(staging)
		a.release(alloc)
	}()
	if err := a.writeMapped(alloc, 0, data); err != nil {
		return err
	}
	return a.copyAndWait(staging, dst, driver.BufferCopy{Size: uint64(len(data))})
}

func (a *Allocator) copyAndWait(src, dst driver.Buffer, region driver.BufferCopy) error {
	cb, err := BeginSingleUse(a.device)
	if err != nil {
		return err
	}
	a.device.CmdCopyBuffer(cb, src, dst, []driver.BufferCopy{region})
	return EndSingleUse(a.device, cb)
}

func (a *Allocator) buffer(h Handle) *bufferResource {
	core.Assertf(h.Kind == KindBuffer, "handle %s is not a buffer", h)
	res, ok := a.buffers.Get(h.Index, h.Generation)
	core.Assertf(ok, "unknown or stale buffer handle %s", h)
	return res
}

func (a *Allocator) image(h Handle) *imageResource {
	core.Assertf(h.Kind == KindImage, "handle %s is not an image", h)
	res, ok := a.images.Get(h.Index, h.Generation)
	core.Assertf(ok, "unknown or stale image handle %s", h)
	return res
}

// UpdateVisibleBuffer writes data at offset into a host-visible buffer.
func (a *Allocator) UpdateVisibleBuffer(h Handle, offset uint64, data []byte) error {
	res := a.buffer(h)
	core.Assertf(res.hostVisible, "buffer %s is not host visible", h)
	if offset > res.size || uint64(len(data)) > res.size-offset {
		return errors.Mark(errors.Newf("write of %d bytes at %d exceeds buffer %s of %d bytes", len(data), offset, h, res.size), core.ErrInvalidArgument)
	}
	if len(data) == 0 {
		return nil
	}
	return a.writeMapped(res.allocation, offset, data)
}

// ReadBuffer copies size bytes at offset back to the host. Device-local
// buffers are read through a temporary staging buffer.
func (a *Allocator) ReadBuffer(h Handle, offset, size uint64) ([]byte, error) {
	res := a.buffer(h)
	if offset > res.size || size > res.size-offset {
		return nil, errors.Mark(errors.Newf("read of %d bytes at %d exceeds buffer %s of %d bytes", size, offset, h, res.size), core.ErrInvalidArgument)
	}
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}
	if res.hostVisible {
		mapped, err := a.device.MapMemory(res.allocation.Memory, offset, size)
		if err != nil {
			return nil, errors.Wrap(err, "mapping memory")
		}
		copy(out, mapped)
		a.device.UnmapMemory(res.allocation.Memory)
		return out, nil
	}

	staging, alloc, err := a.createRawBuffer(size, driver.BufferUsageTransferDst,
		driver.MemoryPropertyHostVisible|driver.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, errors.Wrap(err, "creating readback buffer")
	}
	defer func() {
		a.device.DestroyBuffer(staging)
		a.release(alloc)
	}()
	if err := a.copyAndWait(res.buffer, staging, driver.BufferCopy{SrcOffset: offset, Size: size}); err != nil {
		return nil, err
	}
	mapped, err := a.device.MapMemory(alloc.Memory, 0, size)
	if err != nil {
		return nil, errors.Wrap(err, "mapping readback memory")
	}
	copy(out, mapped)
	a.device.UnmapMemory(alloc.Memory)
	return out, nil
}

// CreateImage creates a device-local 2D image with one mip level and layer.
func (a *Allocator) CreateImage(width, height uint32, format driver.Format, usage driver.ImageUsage) (Handle, error) {
	if width == 0 || height == 0 {
		return Handle{}, errors.Mark(errors.Newf("image extent %dx%d must be non-zero", width, height), core.ErrInvalidArgument)
	}
	info := driver.ImageCreateInfo{Width: width, Height: height, Format: format, Usage: usage}
	img, err := a.device.CreateImage(info)
	if err != nil {
		return Handle{}, errors.Wrap(err, "creating image")
	}
	alloc, err := a.allocate(a.device.ImageMemoryRequirements(img), driver.MemoryPropertyDeviceLocal, false)
	if err != nil {
		a.device.DestroyImage(img)
		return Handle{}, err
	}
	if err := a.device.BindImageMemory(img, alloc.Memory, 0); err != nil {
		a.device.DestroyImage(img)
		a.release(alloc)
		return Handle{}, errors.Wrap(err, "binding image memory")
	}
	index, gen := a.images.Insert(imageResource{image: img, info: info, allocation: alloc})
	return Handle{Kind: KindImage, Index: index, Generation: gen}, nil
}

// CreateImageView creates a whole-image view. Views are released with the
// image.
func (a *Allocator) CreateImageView(h Handle) (driver.ImageView, error) {
	res := a.image(h)
	view, err := a.device.CreateImageView(driver.ImageViewCreateInfo{Image: res.image, Format: res.info.Format})
	if err != nil {
		return driver.NullHandle, errors.Wrapf(err, "creating view of %s", h)
	}
	res.views = append(res.views, view)
	return view, nil
}

// Free destroys the resource, its views and its memory.
func (a *Allocator) Free(h Handle) {
	switch h.Kind {
	case KindBuffer:
		res, ok := a.buffers.Remove(h.Index, h.Generation)
		core.Assertf(ok, "free of unknown or stale buffer handle %s", h)
		delete(a.addresses, h)
		a.device.DestroyBuffer(res.buffer)
		a.release(res.allocation)
	case KindImage:
		res, ok := a.images.Remove(h.Index, h.Generation)
		core.Assertf(ok, "free of unknown or stale image handle %s", h)
		for _, v := range res.views {
			a.device.DestroyImageView(v)
		}
		a.device.DestroyImage(res.image)
		a.release(res.allocation)
	default:
		core.Assertf(false, "free of invalid handle %s", h)
	}
}

// DeviceAddress returns the GPU address of a buffer created with
// BufferUsageShaderDeviceAddress.
func (a *Allocator) DeviceAddress(h Handle) uint64 {
	a.buffer(h)
	addr, ok := a.addresses[h]
	core.Assertf(ok, "buffer %s was not created with device address usage", h)
	core.Assertf(addr != 0, "buffer %s has a null device address", h)
	return addr
}

func (a *Allocator) Buffer(h Handle) driver.Buffer {
	return a.buffer(h).buffer
}

func (a *Allocator) BufferSize(h Handle) uint64 {
	return a.buffer(h).size
}

func (a *Allocator) Image(h Handle) driver.Image {
	return a.image(h).image
}

func (a *Allocator) Views(h Handle) []driver.ImageView {
	return a.image(h).views
}

// Memory returns the allocation backing h.
func (a *Allocator) Memory(h Handle) Allocation {
	if h.Kind == KindImage {
		return a.image(h).allocation
	}
	return a.buffer(h).allocation
}

func (a *Allocator) Stats() Stats {
	s := Stats{
		Buffers:         a.buffers.Len(),
		Images:          a.images.Len(),
		Addresses:       len(a.addresses),
		Allocations:     a.buffers.Len() + a.images.Len(),
		AllocationCalls: a.allocationCalls,
		TotalBytes:      a.totalBytes,
	}
	a.images.Each(func(_, _ uint32, res *imageResource) {
		s.Views += len(res.views)
	})
	return s
}

// Destroy frees every live resource. Anything still live at this point was
// leaked by its owner and is reported.
func (a *Allocator) Destroy() {
	var leaked []Handle
	a.buffers.Each(func(index, gen uint32, res *bufferResource) {
		core.LogWarn("allocator: leaked buffer %s (%d bytes, %s)", Handle{KindBuffer, index, gen}, res.size, res.allocation.Name)
		leaked = append(leaked, Handle{KindBuffer, index, gen})
	})
	a.images.Each(func(index, gen uint32, res *imageResource) {
		core.LogWarn("allocator: leaked image %s (%dx%d, %s)", Handle{KindImage, index, gen}, res.info.Width, res.info.Height, res.allocation.Name)
		leaked = append(leaked, Handle{KindImage, index, gen})
	})
	for _, h := range leaked {
		a.Free(h)
	}
	core.LogDebug("allocator destroyed")
}
