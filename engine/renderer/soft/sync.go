package soft

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

type fence struct {
	signaled bool
	pending  bool
}

type semaphore struct {
	signaled bool
}

func (d *Device) CreateFence(signaled bool) (driver.Fence, error) {
	h := driver.Fence(d.handle())
	d.fences[h] = &fence{signaled: signaled}
	return h, nil
}

func (d *Device) DestroyFence(f driver.Fence) {
	if fen, ok := d.fences[f]; ok && fen.pending {
		core.LogWarn("soft: destroying fence %d with pending work", f)
	}
	delete(d.fences, f)
}

// WaitForFence retires queued work up to the submission that signals the
// fence. Waiting on an unsignaled fence that no submission will signal is
// reported as a timeout instead of blocking forever.
func (d *Device) WaitForFence(f driver.Fence, timeoutNs uint64) error {
	fen, ok := d.fences[f]
	if !ok {
		return invalidHandle("fence", uint64(f))
	}
	d.stats.FenceWaits[f]++
	if fen.signaled {
		return nil
	}
	for i, s := range d.queue {
		if s.fence == fen {
			d.retire(i)
			return nil
		}
	}
	return errors.Mark(errors.Newf("timed out waiting on fence %d: no pending submission signals it", f), core.ErrInvalidArgument)
}

func (d *Device) ResetFence(f driver.Fence) error {
	fen, ok := d.fences[f]
	if !ok {
		return invalidHandle("fence", uint64(f))
	}
	if fen.pending {
		return errors.Mark(errors.Newf("fence %d is in use by a pending submission", f), core.ErrInvalidArgument)
	}
	fen.signaled = false
	return nil
}

// FenceSignaled reports the host-visible state of a fence.
func (d *Device) FenceSignaled(f driver.Fence) bool {
	fen, ok := d.fences[f]
	return ok && fen.signaled
}

func (d *Device) CreateSemaphore() (driver.Semaphore, error) {
	h := driver.Semaphore(d.handle())
	d.semaphores[h] = &semaphore{}
	return h, nil
}

func (d *Device) DestroySemaphore(s driver.Semaphore) {
	delete(d.semaphores, s)
}
