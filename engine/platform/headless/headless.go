// Package headless provides a window stand-in backed by a software surface.
package headless

import (
	"slices"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer/soft"
)

// Headless drives a software surface instead of a window. Every PollEvents
// is one tick; at the ticks listed in the configuration the surface flips
// between its configured size and half of it, the way a user dragging the
// window border would.
type Headless struct {
	surface *soft.Surface
	events  *core.EventBus

	width     uint32
	height    uint32
	resizeAt  []uint64
	maxTicks  uint64
	ticks     uint64
	shrunk    bool
	minimized bool
	closed    bool
}

var _ platform.Host = (*Headless)(nil)

func New(config *core.Config, events *core.EventBus) *Headless {
	resizeAt := slices.Clone(config.Headless.ResizeAt)
	slices.Sort(resizeAt)
	return &Headless{
		surface:  soft.NewSurface(config.Window.Width, config.Window.Height),
		events:   events,
		width:    config.Window.Width,
		height:   config.Window.Height,
		resizeAt: resizeAt,
		maxTicks: config.Headless.Frames,
	}
}

func (h *Headless) Surface() *soft.Surface {
	return h.surface
}

func (h *Headless) Ticks() uint64 {
	return h.ticks
}

func (h *Headless) FramebufferSize() (uint32, uint32) {
	e := h.surface.Extent()
	return e.Width, e.Height
}

// Minimize collapses the surface to zero until the next WaitEvents.
func (h *Headless) Minimize() {
	h.minimized = true
	h.resize(0, 0)
}

// WaitEvents restores a minimized surface.
func (h *Headless) WaitEvents() {
	if !h.minimized {
		return
	}
	h.minimized = false
	if h.shrunk {
		h.resize(max(h.width/2, 1), max(h.height/2, 1))
		return
	}
	h.resize(h.width, h.height)
}

func (h *Headless) PollEvents() {
	h.ticks++
	if _, found := slices.BinarySearch(h.resizeAt, h.ticks); !found {
		return
	}
	h.shrunk = !h.shrunk
	if h.shrunk {
		h.resize(max(h.width/2, 1), max(h.height/2, 1))
		return
	}
	h.resize(h.width, h.height)
}

func (h *Headless) resize(width, height uint32) {
	core.LogDebug("headless surface resized to %dx%d", width, height)
	h.surface.Resize(width, height)
	var ctx core.EventContext
	ctx.Data.U32[0] = width
	ctx.Data.U32[1] = height
	h.events.Fire(core.EVENT_CODE_RESIZED, h, ctx)
}

func (h *Headless) ShouldClose() bool {
	return h.closed || (h.maxTicks > 0 && h.ticks >= h.maxTicks)
}

func (h *Headless) Shutdown() error {
	h.closed = true
	return nil
}
