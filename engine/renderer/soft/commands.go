package soft

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

type commandBufferState uint8

const (
	commandBufferStateInitial commandBufferState = iota
	commandBufferStateRecording
	commandBufferStateExecutable
	commandBufferStatePending
	commandBufferStateInvalid
)

type commandBuffer struct {
	state         commandBufferState
	oneTimeSubmit bool
	ops           []func()
	err           error
}

func (c *commandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

type submission struct {
	commandBuffers []*commandBuffer
	fence          *fence
}

func (d *Device) AllocateCommandBuffer() (driver.CommandBuffer, error) {
	h := driver.CommandBuffer(d.handle())
	d.commandBuffers[h] = &commandBuffer{}
	return h, nil
}

func (d *Device) FreeCommandBuffer(cb driver.CommandBuffer) {
	if c, ok := d.commandBuffers[cb]; ok && c.state == commandBufferStatePending {
		core.LogWarn("soft: freeing pending command buffer %d", cb)
	}
	delete(d.commandBuffers, cb)
}

func (d *Device) BeginCommandBuffer(cb driver.CommandBuffer, oneTimeSubmit bool) error {
	c, ok := d.commandBuffers[cb]
	if !ok {
		return invalidHandle("command buffer", uint64(cb))
	}
	switch c.state {
	case commandBufferStatePending:
		return errors.Mark(errors.Newf("command buffer %d is pending execution", cb), core.ErrInvalidArgument)
	case commandBufferStateRecording:
		return errors.Mark(errors.Newf("command buffer %d is already recording", cb), core.ErrInvalidArgument)
	}
	// Begin implicitly resets.
	c.ops = c.ops[:0]
	c.err = nil
	c.oneTimeSubmit = oneTimeSubmit
	c.state = commandBufferStateRecording
	return nil
}

func (d *Device) EndCommandBuffer(cb driver.CommandBuffer) error {
	c, ok := d.commandBuffers[cb]
	if !ok {
		return invalidHandle("command buffer", uint64(cb))
	}
	if c.state != commandBufferStateRecording {
		return errors.Mark(errors.Newf("command buffer %d is not recording", cb), core.ErrInvalidArgument)
	}
	if c.err != nil {
		c.state = commandBufferStateInvalid
		return c.err
	}
	c.state = commandBufferStateExecutable
	return nil
}

func (d *Device) ResetCommandBuffer(cb driver.CommandBuffer) error {
	c, ok := d.commandBuffers[cb]
	if !ok {
		return invalidHandle("command buffer", uint64(cb))
	}
	if c.state == commandBufferStatePending {
		return errors.Mark(errors.Newf("command buffer %d is pending execution", cb), core.ErrInvalidArgument)
	}
	c.ops = c.ops[:0]
	c.err = nil
	c.state = commandBufferStateInitial
	return nil
}

func (d *Device) recording(cb driver.CommandBuffer) *commandBuffer {
	c, ok := d.commandBuffers[cb]
	if !ok {
		return nil
	}
	if c.state != commandBufferStateRecording {
		c.fail(errors.Mark(errors.Newf("command buffer %d is not recording", cb), core.ErrInvalidArgument))
		return nil
	}
	return c
}

func (d *Device) CmdCopyBuffer(cb driver.CommandBuffer, src, dst driver.Buffer, regions []driver.BufferCopy) {
	c := d.recording(cb)
	if c == nil {
		return
	}
	s, ok := d.buffers[src]
	if !ok {
		c.fail(invalidHandle("buffer", uint64(src)))
		return
	}
	t, ok := d.buffers[dst]
	if !ok {
		c.fail(invalidHandle("buffer", uint64(dst)))
		return
	}
	if s.usage&driver.BufferUsageTransferSrc == 0 {
		c.fail(errors.Mark(errors.Newf("copy source %d lacks transfer-src usage", src), core.ErrInvalidArgument))
		return
	}
	if t.usage&driver.BufferUsageTransferDst == 0 {
		c.fail(errors.Mark(errors.Newf("copy destination %d lacks transfer-dst usage", dst), core.ErrInvalidArgument))
		return
	}
	if s.memory == nil || t.memory == nil {
		c.fail(errors.Mark(errors.New("copy between buffers without bound memory"), core.ErrInvalidArgument))
		return
	}
	for _, r := range regions {
		if r.SrcOffset+r.Size > s.size || r.DstOffset+r.Size > t.size {
			c.fail(errors.Mark(errors.Newf("copy region %+v out of bounds (src %d bytes, dst %d bytes)", r, s.size, t.size), core.ErrInvalidArgument))
			return
		}
	}
	regions = append([]driver.BufferCopy(nil), regions...)
	c.ops = append(c.ops, func() {
		for _, r := range regions {
			from := s.memory.data[s.offset+r.SrcOffset : s.offset+r.SrcOffset+r.Size]
			copy(t.memory.data[t.offset+r.DstOffset:], from)
		}
	})
}

func (d *Device) CmdClearColorImage(cb driver.CommandBuffer, i driver.Image, color [4]float32) {
	c := d.recording(cb)
	if c == nil {
		return
	}
	img, ok := d.images[i]
	if !ok {
		c.fail(invalidHandle("image", uint64(i)))
		return
	}
	c.ops = append(c.ops, func() {
		img.clearColor = color
		img.cleared = true
	})
}

func (d *Device) CmdPipelineBarrier(cb driver.CommandBuffer, src, dst driver.PipelineStage) {
	c := d.recording(cb)
	if c == nil {
		return
	}
	d.stats.Barriers++
}

func (d *Device) QueueSubmit(submits []driver.SubmitInfo, f driver.Fence) error {
	var fen *fence
	if f != driver.NullHandle {
		var ok bool
		if fen, ok = d.fences[f]; !ok {
			return invalidHandle("fence", uint64(f))
		}
		if fen.signaled || fen.pending {
			return errors.Mark(errors.Newf("fence %d must be unsignaled and idle when submitted", f), core.ErrInvalidArgument)
		}
	}

	// Validate everything before changing any state.
	var cbs []*commandBuffer
	waits := map[driver.Semaphore]bool{}
	signals := map[driver.Semaphore]bool{}
	for _, s := range submits {
		if len(s.WaitStages) != len(s.WaitSemaphores) {
			return errors.Mark(errors.New("each wait semaphore needs a wait stage"), core.ErrInvalidArgument)
		}
		for _, h := range s.CommandBuffers {
			c, ok := d.commandBuffers[h]
			if !ok {
				return invalidHandle("command buffer", uint64(h))
			}
			if c.state != commandBufferStateExecutable {
				return errors.Mark(errors.Newf("command buffer %d is not executable", h), core.ErrInvalidArgument)
			}
			cbs = append(cbs, c)
		}
		for _, h := range s.WaitSemaphores {
			sem, ok := d.semaphores[h]
			if !ok {
				return invalidHandle("semaphore", uint64(h))
			}
			if !sem.signaled || waits[h] {
				return errors.Mark(errors.Newf("wait on semaphore %d that has no pending signal", h), core.ErrInvalidArgument)
			}
			waits[h] = true
		}
		for _, h := range s.SignalSemaphores {
			sem, ok := d.semaphores[h]
			if !ok {
				return invalidHandle("semaphore", uint64(h))
			}
			if (sem.signaled && !waits[h]) || signals[h] {
				return errors.Mark(errors.Newf("signal of semaphore %d that is already signaled", h), core.ErrInvalidArgument)
			}
			signals[h] = true
		}
	}

	for h := range waits {
		d.semaphores[h].signaled = false
	}
	for h := range signals {
		d.semaphores[h].signaled = true
	}
	for _, c := range cbs {
		c.state = commandBufferStatePending
	}
	if fen != nil {
		fen.pending = true
	}
	d.queue = append(d.queue, &submission{commandBuffers: cbs, fence: fen})
	d.stats.Submits++
	return nil
}

// retire executes queued submissions up to and including index n.
func (d *Device) retire(n int) {
	for _, s := range d.queue[:n+1] {
		for _, c := range s.commandBuffers {
			for _, op := range c.ops {
				op()
			}
			if c.oneTimeSubmit {
				c.state = commandBufferStateInvalid
			} else {
				c.state = commandBufferStateExecutable
			}
		}
		if s.fence != nil {
			s.fence.pending = false
			s.fence.signaled = true
		}
	}
	d.queue = append(d.queue[:0], d.queue[n+1:]...)
}

func (d *Device) retireAll() {
	if len(d.queue) > 0 {
		d.retire(len(d.queue) - 1)
	}
}

func (d *Device) QueueWaitIdle() error {
	d.stats.QueueWaitIdleCalls++
	d.retireAll()
	return nil
}

func (d *Device) DeviceWaitIdle() error {
	d.stats.DeviceWaitIdleCalls++
	d.retireAll()
	return nil
}
