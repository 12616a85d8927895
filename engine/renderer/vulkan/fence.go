package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

func (d *Device) CreateFence(signaled bool) (driver.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	// A fence created signaled lets the first wait on it return at once.
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var handle vk.Fence
	if err := resultError(vk.CreateFence(d.logicalDevice, &fenceCreateInfo, d.allocator, &handle), "vkCreateFence"); err != nil {
		return driver.NullHandle, err
	}
	h := driver.Fence(d.handle())
	d.fences[h] = handle
	return h, nil
}

func (d *Device) DestroyFence(h driver.Fence) {
	fence, ok := d.fences[h]
	if !ok {
		return
	}
	vk.DestroyFence(d.logicalDevice, fence, d.allocator)
	delete(d.fences, h)
}

func (d *Device) WaitForFence(h driver.Fence, timeoutNs uint64) error {
	fence, ok := d.fences[h]
	if !ok {
		return unknown("fence", uint64(h))
	}
	result := vk.WaitForFences(d.logicalDevice, 1, []vk.Fence{fence}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	}
	return resultError(result, "vkWaitForFences")
}

func (d *Device) ResetFence(h driver.Fence) error {
	fence, ok := d.fences[h]
	if !ok {
		return unknown("fence", uint64(h))
	}
	return resultError(vk.ResetFences(d.logicalDevice, 1, []vk.Fence{fence}), "vkResetFences")
}

func (d *Device) CreateSemaphore() (driver.Semaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var handle vk.Semaphore
	if err := resultError(vk.CreateSemaphore(d.logicalDevice, &semaphoreCreateInfo, d.allocator, &handle), "vkCreateSemaphore"); err != nil {
		return driver.NullHandle, err
	}
	h := driver.Semaphore(d.handle())
	d.semaphores[h] = handle
	return h, nil
}

func (d *Device) DestroySemaphore(h driver.Semaphore) {
	sem, ok := d.semaphores[h]
	if !ok {
		return
	}
	vk.DestroySemaphore(d.logicalDevice, sem, d.allocator)
	delete(d.semaphores, h)
}
