// Package platform describes the window system the engine loop runs against.
package platform

// Host is the window system seen by the engine loop. desktop.Window and
// headless.Headless implement it.
type Host interface {
	FramebufferSize() (uint32, uint32)
	WaitEvents()
	PollEvents()
	ShouldClose() bool
	Shutdown() error
}
