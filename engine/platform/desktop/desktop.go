// Package desktop opens the GLFW window the Vulkan backend presents to.
package desktop

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Window is a GLFW window without a client API, ready for a Vulkan surface.
type Window struct {
	handle *glfw.Window
	events *core.EventBus
}

var _ platform.Host = (*Window)(nil)

func NewWindow(config *core.Config, events *core.EventBus) (*Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize glfw")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(config.Window.Width), int(config.Window.Height), config.Name, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, errors.Wrap(err, "failed to create window")
	}
	w := &Window{
		handle: window,
		events: events,
	}

	window.SetKeyCallback(w.keyCallback)
	window.SetFramebufferSizeCallback(w.framebufferSizeCallback)
	window.SetCloseCallback(w.closeCallback)
	window.SetPos(int(config.Window.PosX), int(config.Window.PosY))
	window.Show()

	return w, nil
}

func (w *Window) Handle() *glfw.Window {
	return w.handle
}

func (w *Window) FramebufferSize() (uint32, uint32) {
	width, height := w.handle.GetFramebufferSize()
	return uint32(width), uint32(height)
}

// WaitEvents blocks until the window system has events, then handles them.
func (w *Window) WaitEvents() {
	glfw.WaitEvents()
}

func (w *Window) PollEvents() {
	glfw.PollEvents()
}

func (w *Window) ShouldClose() bool {
	return w.handle.ShouldClose()
}

func (w *Window) Shutdown() error {
	w.handle.Destroy()
	glfw.Terminate()
	return nil
}

func (w *Window) keyCallback(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		w.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, w, core.EventContext{})
	}
}

func (w *Window) framebufferSizeCallback(_ *glfw.Window, width, height int) {
	var ctx core.EventContext
	ctx.Data.U32[0] = uint32(width)
	ctx.Data.U32[1] = uint32(height)
	w.events.Fire(core.EVENT_CODE_RESIZED, w, ctx)
}

func (w *Window) closeCallback(_ *glfw.Window) {
	w.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, w, core.EventContext{})
}
