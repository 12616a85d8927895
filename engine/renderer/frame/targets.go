package frame

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/allocator"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

// OutputFormat is the format of the frame-local storage image the ray
// tracing stage writes into.
const OutputFormat = driver.FormatR8G8B8A8Unorm

// Targets is the presentable image set: the swapchain images and everything
// whose size follows the surface. It is rebuilt on every resize.
type Targets struct {
	Swapchain driver.Swapchain
	Images    []driver.Image
	Views     []driver.ImageView
	Format    driver.Format
	Extent    driver.Extent2D

	Depth      allocator.Handle
	DepthView  driver.ImageView
	Output     allocator.Handle
	OutputView driver.ImageView

	// Generation increases every time the set is rebuilt.
	Generation uint64
	// Name is a debug label unique to this generation.
	Name string
}

// createTargets builds the image set for the current window size, retiring
// old if it is set.
func (p *Pipeline) createTargets(old driver.Swapchain) error {
	w, h := p.window.FramebufferSize()
	extent := driver.Extent2D{
		Width:  math.Clamp(w, 1, maxExtent),
		Height: math.Clamp(h, 1, maxExtent),
	}
	sc, images, err := p.device.CreateSwapchain(driver.SwapchainCreateInfo{
		Extent:        extent,
		PreferMailbox: p.config.PreferMailbox,
		OldSwapchain:  old,
	})
	if old != driver.NullHandle {
		p.device.DestroySwapchain(old)
	}
	if err != nil {
		return errors.Wrap(err, "creating swapchain")
	}

	t := &Targets{
		Swapchain:  sc,
		Images:     images.Images,
		Format:     images.Format,
		Extent:     images.Extent,
		Generation: p.generation + 1,
		Name:       uuid.NewString(),
	}
	p.generation++
	p.targets = t

	for _, img := range images.Images {
		view, err := p.device.CreateImageView(driver.ImageViewCreateInfo{Image: img, Format: images.Format})
		if err != nil {
			return errors.Wrap(err, "creating swapchain image view")
		}
		t.Views = append(t.Views, view)
	}

	if t.Depth, err = p.alloc.CreateImage(t.Extent.Width, t.Extent.Height, p.device.DepthFormat(), driver.ImageUsageDepthStencilAttachment); err != nil {
		return errors.Wrap(err, "creating depth image")
	}
	if t.DepthView, err = p.alloc.CreateImageView(t.Depth); err != nil {
		return errors.Wrap(err, "creating depth view")
	}
	if t.Output, err = p.alloc.CreateImage(t.Extent.Width, t.Extent.Height, OutputFormat, driver.ImageUsageStorage|driver.ImageUsageTransferSrc|driver.ImageUsageTransferDst); err != nil {
		return errors.Wrap(err, "creating output image")
	}
	if t.OutputView, err = p.alloc.CreateImageView(t.Output); err != nil {
		return errors.Wrap(err, "creating output view")
	}

	core.LogDebug("presentable image set %s: %dx%d, %d images", t.Name, t.Extent.Width, t.Extent.Height, len(t.Images))
	return nil
}

// destroyTargets releases everything createTargets made except the
// swapchain, which is retired when its replacement is created.
func (p *Pipeline) destroyTargets() {
	t := p.targets
	if t == nil {
		return
	}
	for _, v := range t.Views {
		p.device.DestroyImageView(v)
	}
	t.Views = nil
	// Views of allocator images are released with the image.
	if !t.Output.IsNull() {
		p.alloc.Free(t.Output)
		t.Output = allocator.Handle{}
	}
	if !t.Depth.IsNull() {
		p.alloc.Free(t.Depth)
		t.Depth = allocator.Handle{}
	}
}
