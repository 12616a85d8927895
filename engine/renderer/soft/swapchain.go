package soft

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

// Surface is the presentation target of a software device. Resizing it makes
// every swapchain created for the previous size out of date.
type Surface struct {
	extent     driver.Extent2D
	generation uint64
	suboptimal bool
}

func NewSurface(width, height uint32) *Surface {
	return &Surface{extent: driver.Extent2D{Width: width, Height: height}}
}

func (s *Surface) Resize(width, height uint32) {
	s.extent = driver.Extent2D{Width: width, Height: height}
	s.generation++
}

func (s *Surface) Extent() driver.Extent2D {
	return s.extent
}

// MarkSuboptimal makes the next acquire or present report PresentSuboptimal.
func (s *Surface) MarkSuboptimal() {
	s.suboptimal = true
}

type swapchain struct {
	extent     driver.Extent2D
	images     []driver.Image
	generation uint64
	retired    bool
	next       uint32
	acquired   map[uint32]bool
}

func (d *Device) CreateSwapchain(info driver.SwapchainCreateInfo) (driver.Swapchain, driver.SwapchainImages, error) {
	if d.surface == nil {
		return driver.NullHandle, driver.SwapchainImages{}, errors.Mark(errors.New("device has no surface"), core.ErrInvalidArgument)
	}
	if d.surface.extent.IsZero() {
		return driver.NullHandle, driver.SwapchainImages{}, errors.Mark(errors.New("surface has a zero extent"), core.ErrStale)
	}
	if info.OldSwapchain != driver.NullHandle {
		old, ok := d.swapchains[info.OldSwapchain]
		if !ok {
			return driver.NullHandle, driver.SwapchainImages{}, invalidHandle("swapchain", uint64(info.OldSwapchain))
		}
		old.retired = true
	}

	sc := &swapchain{
		extent:     d.surface.extent,
		generation: d.surface.generation,
		acquired:   make(map[uint32]bool),
	}
	for i := 0; i < imageCount; i++ {
		h := driver.Image(d.handle())
		d.images[h] = &image{
			info: driver.ImageCreateInfo{
				Width:  sc.extent.Width,
				Height: sc.extent.Height,
				Format: driver.FormatB8G8R8A8Unorm,
				Usage:  driver.ImageUsageColorAttachment | driver.ImageUsageTransferDst,
			},
			swapchain: sc,
		}
		sc.images = append(sc.images, h)
	}
	h := driver.Swapchain(d.handle())
	d.swapchains[h] = sc
	d.stats.SwapchainsCreated++

	return h, driver.SwapchainImages{
		Images: append([]driver.Image(nil), sc.images...),
		Format: driver.FormatB8G8R8A8Unorm,
		Extent: sc.extent,
	}, nil
}

func (d *Device) DestroySwapchain(s driver.Swapchain) {
	sc, ok := d.swapchains[s]
	if !ok {
		return
	}
	for _, img := range sc.images {
		delete(d.images, img)
	}
	delete(d.swapchains, s)
}

func (d *Device) stale(sc *swapchain) bool {
	return sc.retired || sc.generation != d.surface.generation || sc.extent != d.surface.extent
}

func (d *Device) AcquireNextImage(s driver.Swapchain, timeoutNs uint64, signal driver.Semaphore) (uint32, driver.PresentStatus, error) {
	sc, ok := d.swapchains[s]
	if !ok {
		return 0, driver.PresentOutOfDate, invalidHandle("swapchain", uint64(s))
	}
	sem, ok := d.semaphores[signal]
	if !ok {
		return 0, driver.PresentOutOfDate, invalidHandle("semaphore", uint64(signal))
	}
	d.stats.Acquires++
	if d.stale(sc) {
		return 0, driver.PresentOutOfDate, nil
	}
	if sem.signaled {
		return 0, driver.PresentOutOfDate, errors.Mark(errors.Newf("acquire would signal semaphore %d that is already signaled", signal), core.ErrInvalidArgument)
	}
	index := sc.next
	if sc.acquired[index] {
		return 0, driver.PresentOutOfDate, errors.Mark(errors.Newf("swapchain image %d acquired twice without present", index), core.ErrInvalidArgument)
	}
	sc.next = (sc.next + 1) % uint32(len(sc.images))
	sc.acquired[index] = true
	sem.signaled = true

	if d.surface.suboptimal {
		return index, driver.PresentSuboptimal, nil
	}
	return index, driver.PresentOK, nil
}

func (d *Device) QueuePresent(s driver.Swapchain, imageIndex uint32, wait driver.Semaphore) (driver.PresentStatus, error) {
	sc, ok := d.swapchains[s]
	if !ok {
		return driver.PresentOutOfDate, invalidHandle("swapchain", uint64(s))
	}
	sem, ok := d.semaphores[wait]
	if !ok {
		return driver.PresentOutOfDate, invalidHandle("semaphore", uint64(wait))
	}
	if !sem.signaled {
		return driver.PresentOutOfDate, errors.Mark(errors.Newf("present waits on semaphore %d that has no pending signal", wait), core.ErrInvalidArgument)
	}
	if !sc.acquired[imageIndex] {
		return driver.PresentOutOfDate, errors.Mark(errors.Newf("present of swapchain image %d that was not acquired", imageIndex), core.ErrInvalidArgument)
	}
	sem.signaled = false
	sc.acquired[imageIndex] = false
	if d.failPresents > 0 {
		d.failPresents--
		return driver.PresentOutOfDate, errors.Mark(errors.Newf("present of swapchain image %d failed", imageIndex), core.ErrDeviceLost)
	}
	d.stats.Presents++

	if d.stale(sc) {
		return driver.PresentOutOfDate, nil
	}
	if d.surface.suboptimal {
		d.surface.suboptimal = false
		return driver.PresentSuboptimal, nil
	}
	return driver.PresentOK, nil
}
