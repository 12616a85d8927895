package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

func (d *Device) AllocateCommandBuffer() (driver.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := resultError(vk.AllocateCommandBuffers(d.logicalDevice, &allocateInfo, handles), "vkAllocateCommandBuffers"); err != nil {
		return driver.NullHandle, err
	}
	h := driver.CommandBuffer(d.handle())
	d.commandBuffers[h] = &commandBuffer{handle: handles[0]}
	return h, nil
}

func (d *Device) FreeCommandBuffer(h driver.CommandBuffer) {
	cb, ok := d.commandBuffers[h]
	if !ok {
		return
	}
	vk.FreeCommandBuffers(d.logicalDevice, d.commandPool, 1, []vk.CommandBuffer{cb.handle})
	delete(d.commandBuffers, h)
}

func (d *Device) BeginCommandBuffer(h driver.CommandBuffer, oneTimeSubmit bool) error {
	cb, ok := d.commandBuffers[h]
	if !ok {
		return unknown("command buffer", uint64(h))
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTimeSubmit {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	cb.err = nil
	return resultError(vk.BeginCommandBuffer(cb.handle, &beginInfo), "vkBeginCommandBuffer")
}

func (d *Device) EndCommandBuffer(h driver.CommandBuffer) error {
	cb, ok := d.commandBuffers[h]
	if !ok {
		return unknown("command buffer", uint64(h))
	}
	if err := resultError(vk.EndCommandBuffer(cb.handle), "vkEndCommandBuffer"); err != nil {
		return err
	}
	return cb.err
}

func (d *Device) ResetCommandBuffer(h driver.CommandBuffer) error {
	cb, ok := d.commandBuffers[h]
	if !ok {
		return unknown("command buffer", uint64(h))
	}
	cb.err = nil
	return resultError(vk.ResetCommandBuffer(cb.handle, 0), "vkResetCommandBuffer")
}

// recording returns the command buffer h or nil if it is unknown. Errors in
// the recorded commands are kept on the command buffer.
func (d *Device) recording(h driver.CommandBuffer) *commandBuffer {
	cb, ok := d.commandBuffers[h]
	if !ok {
		core.LogError("recording into unknown command buffer %d", h)
		return nil
	}
	return cb
}

func (cb *commandBuffer) fail(err error) {
	if cb.err == nil {
		cb.err = err
	}
}

func (d *Device) CmdCopyBuffer(h driver.CommandBuffer, src, dst driver.Buffer, regions []driver.BufferCopy) {
	cb := d.recording(h)
	if cb == nil {
		return
	}
	s, ok := d.buffers[src]
	if !ok {
		cb.fail(unknown("buffer", uint64(src)))
		return
	}
	t, ok := d.buffers[dst]
	if !ok {
		cb.fail(unknown("buffer", uint64(dst)))
		return
	}
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		if r.SrcOffset+r.Size > s.size || r.DstOffset+r.Size > t.size {
			cb.fail(errors.Mark(errors.Newf("copy region %d out of bounds", i), core.ErrInvalidArgument))
			return
		}
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(cb.handle, s.handle, t.handle, uint32(len(copies)), copies)
}

// CmdClearColorImage transitions the image to a transfer destination, clears
// it and leaves it ready for presentation (swapchain images) or general use.
func (d *Device) CmdClearColorImage(h driver.CommandBuffer, i driver.Image, color [4]float32) {
	cb := d.recording(h)
	if cb == nil {
		return
	}
	img, ok := d.images[i]
	if !ok {
		cb.fail(unknown("image", uint64(i)))
		return
	}
	subresource := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}
	finalLayout := vk.ImageLayoutGeneral
	if img.swapchain {
		finalLayout = vk.ImageLayoutPresentSrc
	}

	toTransfer := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		DstAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
		OldLayout:           vk.ImageLayoutUndefined,
		NewLayout:           vk.ImageLayoutTransferDstOptimal,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.handle,
		SubresourceRange:    subresource,
	}
	vk.CmdPipelineBarrier(cb.handle,
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{toTransfer})

	var value vk.ClearColorValue
	*(*[4]float32)(unsafe.Pointer(&value)) = color
	vk.CmdClearColorImage(cb.handle, img.handle, vk.ImageLayoutTransferDstOptimal, &value, 1, []vk.ImageSubresourceRange{subresource})

	toFinal := toTransfer
	toFinal.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
	toFinal.DstAccessMask = vk.AccessFlags(vk.AccessMemoryReadBit)
	toFinal.OldLayout = vk.ImageLayoutTransferDstOptimal
	toFinal.NewLayout = finalLayout
	vk.CmdPipelineBarrier(cb.handle,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{toFinal})
}

func (d *Device) CmdPipelineBarrier(h driver.CommandBuffer, src, dst driver.PipelineStage) {
	cb := d.recording(h)
	if cb == nil {
		return
	}
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
	}
	vk.CmdPipelineBarrier(cb.handle, toVkStages(src), toVkStages(dst), 0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

func (d *Device) QueueSubmit(submits []driver.SubmitInfo, f driver.Fence) error {
	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		if len(s.WaitStages) != len(s.WaitSemaphores) {
			return errors.Mark(errors.Newf("submit %d: %d wait semaphores but %d wait stages", i, len(s.WaitSemaphores), len(s.WaitStages)), core.ErrInvalidArgument)
		}
		info := vk.SubmitInfo{SType: vk.StructureTypeSubmitInfo}
		for j, h := range s.WaitSemaphores {
			sem, ok := d.semaphores[h]
			if !ok {
				return unknown("semaphore", uint64(h))
			}
			info.PWaitSemaphores = append(info.PWaitSemaphores, sem)
			info.PWaitDstStageMask = append(info.PWaitDstStageMask, toVkStages(s.WaitStages[j]))
		}
		for _, h := range s.CommandBuffers {
			cb, ok := d.commandBuffers[h]
			if !ok {
				return unknown("command buffer", uint64(h))
			}
			info.PCommandBuffers = append(info.PCommandBuffers, cb.handle)
		}
		for _, h := range s.SignalSemaphores {
			sem, ok := d.semaphores[h]
			if !ok {
				return unknown("semaphore", uint64(h))
			}
			info.PSignalSemaphores = append(info.PSignalSemaphores, sem)
		}
		info.WaitSemaphoreCount = uint32(len(info.PWaitSemaphores))
		info.CommandBufferCount = uint32(len(info.PCommandBuffers))
		info.SignalSemaphoreCount = uint32(len(info.PSignalSemaphores))
		infos[i] = info
	}

	var fence vk.Fence
	if f != driver.NullHandle {
		handle, ok := d.fences[f]
		if !ok {
			return unknown("fence", uint64(f))
		}
		fence = handle
	}
	return resultError(vk.QueueSubmit(d.graphicsQueue, uint32(len(infos)), infos, fence), "vkQueueSubmit")
}

func (d *Device) QueueWaitIdle() error {
	return resultError(vk.QueueWaitIdle(d.graphicsQueue), "vkQueueWaitIdle")
}

func (d *Device) DeviceWaitIdle() error {
	return resultError(vk.DeviceWaitIdle(d.logicalDevice), "vkDeviceWaitIdle")
}
