package headless

import (
	"testing"

	"github.com/spaghettifunk/lumen/engine/core"
)

func newConfig(frames uint64, resizeAt ...uint64) *core.Config {
	cfg := core.DefaultConfig()
	cfg.Window.Width = 800
	cfg.Window.Height = 600
	cfg.Headless.Frames = frames
	cfg.Headless.ResizeAt = resizeAt
	return cfg
}

func TestScriptedResizes(t *testing.T) {
	bus := core.NewEventBus()
	var sizes [][2]uint32
	bus.Register(core.EVENT_CODE_RESIZED, t, func(_ core.SystemEventCode, _ interface{}, _ interface{}, data core.EventContext) bool {
		sizes = append(sizes, [2]uint32{data.Data.U32[0], data.Data.U32[1]})
		return false
	})

	h := New(newConfig(0, 5, 2), bus)
	for i := 0; i < 6; i++ {
		h.PollEvents()
	}
	if len(sizes) != 2 {
		t.Fatalf("got %d resize events, want 2", len(sizes))
	}
	if sizes[0] != [2]uint32{400, 300} {
		t.Errorf("first resize = %v, want [400 300]", sizes[0])
	}
	if sizes[1] != [2]uint32{800, 600} {
		t.Errorf("second resize = %v, want [800 600]", sizes[1])
	}
	if w, hgt := h.FramebufferSize(); w != 800 || hgt != 600 {
		t.Errorf("framebuffer = %dx%d, want 800x600", w, hgt)
	}
}

func TestMinimizeAndRestore(t *testing.T) {
	h := New(newConfig(0), core.NewEventBus())
	h.Minimize()
	if w, hgt := h.FramebufferSize(); w != 0 || hgt != 0 {
		t.Fatalf("framebuffer = %dx%d while minimized", w, hgt)
	}
	h.WaitEvents()
	if w, hgt := h.FramebufferSize(); w != 800 || hgt != 600 {
		t.Errorf("framebuffer = %dx%d after restore, want 800x600", w, hgt)
	}
	gen := h.Surface().Extent()
	h.WaitEvents()
	if h.Surface().Extent() != gen {
		t.Error("WaitEvents changed a surface that was not minimized")
	}
}

func TestShouldClose(t *testing.T) {
	h := New(newConfig(3), core.NewEventBus())
	for i := 0; i < 2; i++ {
		h.PollEvents()
		if h.ShouldClose() {
			t.Fatalf("closed after %d ticks", h.Ticks())
		}
	}
	h.PollEvents()
	if !h.ShouldClose() {
		t.Error("still open after the frame budget")
	}

	unbounded := New(newConfig(0), core.NewEventBus())
	unbounded.PollEvents()
	if unbounded.ShouldClose() {
		t.Error("unbounded host closed on its own")
	}
	if err := unbounded.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if !unbounded.ShouldClose() {
		t.Error("host open after Shutdown")
	}
}
