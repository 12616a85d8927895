package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

func (d *Device) CreateImage(info driver.ImageCreateInfo) (driver.Image, error) {
	format := toVkFormat(info.Format)
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         toVkImageUsage(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var handle vk.Image
	if err := resultError(vk.CreateImage(d.logicalDevice, &imageInfo, d.allocator, &handle), "vkCreateImage"); err != nil {
		return driver.NullHandle, err
	}
	h := driver.Image(d.handle())
	d.images[h] = &image{handle: handle, format: format}
	return h, nil
}

func (d *Device) DestroyImage(h driver.Image) {
	img, ok := d.images[h]
	if !ok || img.swapchain {
		return
	}
	vk.DestroyImage(d.logicalDevice, img.handle, d.allocator)
	delete(d.images, h)
}

func (d *Device) ImageMemoryRequirements(h driver.Image) driver.MemoryRequirements {
	img, ok := d.images[h]
	if !ok {
		return driver.MemoryRequirements{}
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.logicalDevice, img.handle, &reqs)
	reqs.Deref()
	return driver.MemoryRequirements{
		Size:           uint64(reqs.Size),
		Alignment:      uint64(reqs.Alignment),
		MemoryTypeBits: reqs.MemoryTypeBits,
	}
}

func (d *Device) BindImageMemory(h driver.Image, m driver.Memory, offset uint64) error {
	img, ok := d.images[h]
	if !ok {
		return unknown("image", uint64(h))
	}
	mem, ok := d.memories[m]
	if !ok {
		return unknown("memory", uint64(m))
	}
	return resultError(vk.BindImageMemory(d.logicalDevice, img.handle, mem.handle, vk.DeviceSize(offset)), "vkBindImageMemory")
}

func aspectMask(format vk.Format) vk.ImageAspectFlags {
	if fromVkFormat(format).IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func (d *Device) CreateImageView(info driver.ImageViewCreateInfo) (driver.ImageView, error) {
	img, ok := d.images[info.Image]
	if !ok {
		return driver.NullHandle, unknown("image", uint64(info.Image))
	}
	format := img.format
	if info.Format != driver.FormatUndefined {
		format = toVkFormat(info.Format)
	}
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspectMask(format),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if err := resultError(vk.CreateImageView(d.logicalDevice, &viewInfo, d.allocator, &view), "vkCreateImageView"); err != nil {
		return driver.NullHandle, err
	}
	h := driver.ImageView(d.handle())
	d.views[h] = view
	return h, nil
}

func (d *Device) DestroyImageView(h driver.ImageView) {
	view, ok := d.views[h]
	if !ok {
		return
	}
	vk.DestroyImageView(d.logicalDevice, view, d.allocator)
	delete(d.views, h)
}
