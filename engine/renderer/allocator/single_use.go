package allocator

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

// BeginSingleUse allocates a command buffer and begins recording it for one
// submission.
func BeginSingleUse(device driver.Device) (driver.CommandBuffer, error) {
	cb, err := device.AllocateCommandBuffer()
	if err != nil {
		return driver.NullHandle, errors.Wrap(err, "allocating single use command buffer")
	}
	if err := device.BeginCommandBuffer(cb, true); err != nil {
		device.FreeCommandBuffer(cb)
		return driver.NullHandle, errors.Wrap(err, "beginning single use command buffer")
	}
	return cb, nil
}

// EndSingleUse ends recording, submits cb, waits for the queue to go idle and
// frees cb.
func EndSingleUse(device driver.Device, cb driver.CommandBuffer) error {
	defer device.FreeCommandBuffer(cb)

	if err := device.EndCommandBuffer(cb); err != nil {
		core.LogError("failed to end single use command buffer: %v", err)
		return errors.Wrap(err, "ending single use command buffer")
	}
	submit := driver.SubmitInfo{CommandBuffers: []driver.CommandBuffer{cb}}
	if err := device.QueueSubmit([]driver.SubmitInfo{submit}, driver.NullHandle); err != nil {
		core.LogError("failed submit info to queue: %v", err)
		return errors.Wrap(err, "submitting single use command buffer")
	}
	if err := device.QueueWaitIdle(); err != nil {
		core.LogError("queue failed to wait in idle mode: %v", err)
		return errors.Wrap(err, "waiting for single use command buffer")
	}
	return nil
}
