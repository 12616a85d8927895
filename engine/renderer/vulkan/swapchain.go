package vulkan

import (
	stdmath "math"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

type swapchainSupport struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

func (d *Device) querySwapchainSupport() (*swapchainSupport, error) {
	s := &swapchainSupport{}
	if err := resultError(vk.GetPhysicalDeviceSurfaceCapabilities(d.physicalDevice, d.surface, &s.capabilities), "vkGetPhysicalDeviceSurfaceCapabilities"); err != nil {
		return nil, err
	}
	s.capabilities.Deref()
	s.capabilities.CurrentExtent.Deref()
	s.capabilities.MinImageExtent.Deref()
	s.capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(d.physicalDevice, d.surface, &formatCount, nil)
	s.formats = make([]vk.SurfaceFormat, formatCount)
	if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(d.physicalDevice, d.surface, &formatCount, s.formats), "vkGetPhysicalDeviceSurfaceFormats"); err != nil {
		return nil, err
	}
	for i := range s.formats {
		s.formats[i].Deref()
	}

	var modeCount uint32
	vk.GetPhysicalDeviceSurfacePresentModes(d.physicalDevice, d.surface, &modeCount, nil)
	s.presentModes = make([]vk.PresentMode, modeCount)
	if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(d.physicalDevice, d.surface, &modeCount, s.presentModes), "vkGetPhysicalDeviceSurfacePresentModes"); err != nil {
		return nil, err
	}
	if len(s.formats) == 0 || len(s.presentModes) == 0 {
		return nil, errors.New("surface reports no formats or present modes")
	}
	return s, nil
}

func (s *swapchainSupport) surfaceFormat() vk.SurfaceFormat {
	for _, format := range s.formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	return s.formats[0]
}

func (s *swapchainSupport) presentMode(preferMailbox bool) vk.PresentMode {
	if preferMailbox {
		for _, mode := range s.presentModes {
			if mode == vk.PresentModeMailbox {
				return mode
			}
		}
	}
	// FIFO is always available.
	return vk.PresentModeFifo
}

// CreateSwapchain creates a swapchain for the window surface. A surface with
// a zero extent (minimized window) is reported as stale.
func (d *Device) CreateSwapchain(info driver.SwapchainCreateInfo) (driver.Swapchain, driver.SwapchainImages, error) {
	support, err := d.querySwapchainSupport()
	if err != nil {
		return driver.NullHandle, driver.SwapchainImages{}, err
	}
	caps := support.capabilities

	extent := vk.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height}
	if caps.CurrentExtent.Width != stdmath.MaxUint32 {
		extent = caps.CurrentExtent
	}
	// Clamp to the value allowed by the GPU.
	extent.Width = math.Clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = math.Clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	if extent.Width == 0 || extent.Height == 0 {
		return driver.NullHandle, driver.SwapchainImages{}, errors.Mark(errors.New("surface has a zero extent"), core.ErrStale)
	}

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	format := support.surfaceFormat()
	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		// Frames are cleared and copied into directly.
		ImageUsage:     vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:   caps.CurrentTransform,
		CompositeAlpha: vk.CompositeAlphaOpaqueBit,
		PresentMode:    support.presentMode(info.PreferMailbox),
		Clipped:        vk.True,
	}
	if d.graphicsQueueIndex != d.presentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{d.graphicsQueueIndex, d.presentQueueIndex}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}
	if old, ok := d.swapchains[info.OldSwapchain]; ok {
		createInfo.OldSwapchain = old.handle
	}

	var handle vk.Swapchain
	if err := resultError(vk.CreateSwapchain(d.logicalDevice, &createInfo, d.allocator, &handle), "vkCreateSwapchain"); err != nil {
		return driver.NullHandle, driver.SwapchainImages{}, err
	}

	var count uint32
	if err := resultError(vk.GetSwapchainImages(d.logicalDevice, handle, &count, nil), "vkGetSwapchainImages"); err != nil {
		vk.DestroySwapchain(d.logicalDevice, handle, d.allocator)
		return driver.NullHandle, driver.SwapchainImages{}, err
	}
	images := make([]vk.Image, count)
	if err := resultError(vk.GetSwapchainImages(d.logicalDevice, handle, &count, images), "vkGetSwapchainImages"); err != nil {
		vk.DestroySwapchain(d.logicalDevice, handle, d.allocator)
		return driver.NullHandle, driver.SwapchainImages{}, err
	}

	sc := &swapchain{handle: handle}
	for _, img := range images {
		h := driver.Image(d.handle())
		d.images[h] = &image{handle: img, format: format.Format, swapchain: true}
		sc.images = append(sc.images, h)
	}
	h := driver.Swapchain(d.handle())
	d.swapchains[h] = sc

	core.LogInfo("Swapchain created successfully: %dx%d, %d images.", extent.Width, extent.Height, count)
	return h, driver.SwapchainImages{
		Images: append([]driver.Image(nil), sc.images...),
		Format: fromVkFormat(format.Format),
		Extent: driver.Extent2D{Width: extent.Width, Height: extent.Height},
	}, nil
}

// DestroySwapchain destroys the swapchain. Its images are owned by it and go
// with it; views of them must be destroyed first.
func (d *Device) DestroySwapchain(h driver.Swapchain) {
	sc, ok := d.swapchains[h]
	if !ok {
		return
	}
	for _, img := range sc.images {
		delete(d.images, img)
	}
	vk.DestroySwapchain(d.logicalDevice, sc.handle, d.allocator)
	delete(d.swapchains, h)
}

func presentStatus(result vk.Result, op string) (driver.PresentStatus, error) {
	switch result {
	case vk.Success:
		return driver.PresentOK, nil
	case vk.Suboptimal:
		return driver.PresentSuboptimal, nil
	case vk.ErrorOutOfDate:
		return driver.PresentOutOfDate, nil
	default:
		return driver.PresentOK, resultError(result, op)
	}
}

func (d *Device) AcquireNextImage(h driver.Swapchain, timeoutNs uint64, signal driver.Semaphore) (uint32, driver.PresentStatus, error) {
	sc, ok := d.swapchains[h]
	if !ok {
		return 0, driver.PresentOK, unknown("swapchain", uint64(h))
	}
	sem, ok := d.semaphores[signal]
	if !ok {
		return 0, driver.PresentOK, unknown("semaphore", uint64(signal))
	}
	var index uint32
	status, err := presentStatus(vk.AcquireNextImage(d.logicalDevice, sc.handle, timeoutNs, sem, vk.Fence(vk.NullHandle), &index), "vkAcquireNextImage")
	return index, status, err
}

func (d *Device) QueuePresent(h driver.Swapchain, imageIndex uint32, wait driver.Semaphore) (driver.PresentStatus, error) {
	sc, ok := d.swapchains[h]
	if !ok {
		return driver.PresentOK, unknown("swapchain", uint64(h))
	}
	sem, ok := d.semaphores[wait]
	if !ok {
		return driver.PresentOK, unknown("semaphore", uint64(wait))
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sem},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.handle},
		PImageIndices:      []uint32{imageIndex},
	}
	return presentStatus(vk.QueuePresent(d.presentQueue, &presentInfo), "vkQueuePresent")
}
