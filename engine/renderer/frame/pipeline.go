// Package frame drives rendering with a fixed number of frames in flight.
// Each frame slot owns a command buffer, an image-available semaphore, a
// render-finished semaphore and a fence; the host waits on a slot's fence
// before reusing it, which keeps it at most N frames ahead of the device.
package frame

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/allocator"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

const (
	DefaultFramesInFlight = 2
	maxExtent             = 16384
)

type State uint8

const (
	StateIdle State = iota
	StateAcquiring
	StateRecording
	StateSubmitted
	StatePresenting
)

func (s State) String() string {
	switch s {
	case StateAcquiring:
		return "acquiring"
	case StateRecording:
		return "recording"
	case StateSubmitted:
		return "submitted"
	case StatePresenting:
		return "presenting"
	default:
		return "idle"
	}
}

// Window is the surface owner. FramebufferSize reports the current size in
// pixels, zero while minimized; WaitEvents blocks until the window system
// has new events and processes them.
type Window interface {
	FramebufferSize() (uint32, uint32)
	WaitEvents()
}

// Context is handed to the Recorder for one frame.
type Context struct {
	CommandBuffer driver.CommandBuffer
	ImageIndex    uint32
	Slot          int
	FrameNumber   uint64
	Targets       *Targets
}

// Recorder records the work of one frame into ctx.CommandBuffer. The command
// buffer is already in the recording state.
type Recorder func(ctx *Context) error

// ResizeListener is called after the presentable image set has been rebuilt
// so bindings that referred to the destroyed views can be updated.
type ResizeListener func(targets *Targets)

type Config struct {
	FramesInFlight int
	PreferMailbox  bool
	// AcquireTimeout in nanoseconds; zero waits forever.
	AcquireTimeout uint64
}

type slot struct {
	commandBuffer  driver.CommandBuffer
	imageAvailable driver.Semaphore
	renderFinished driver.Semaphore
	fence          driver.Fence
}

type Pipeline struct {
	device driver.Device
	alloc  *allocator.Allocator
	window Window
	config Config

	slots       []slot
	index       int
	frameNumber uint64
	state       State

	targets       *Targets
	generation    uint64
	resizePending bool
	abandoned     bool
	resizes       int
	listeners     []ResizeListener
}

// New creates the frame slots and the first presentable image set.
func New(device driver.Device, alloc *allocator.Allocator, window Window, config Config) (*Pipeline, error) {
	if config.FramesInFlight == 0 {
		config.FramesInFlight = DefaultFramesInFlight
	}
	if config.FramesInFlight < 0 {
		return nil, errors.Mark(errors.Newf("frames in flight must be > 0, got %d", config.FramesInFlight), core.ErrInvalidArgument)
	}
	if config.AcquireTimeout == 0 {
		config.AcquireTimeout = driver.WaitForever
	}
	p := &Pipeline{
		device: device,
		alloc:  alloc,
		window: window,
		config: config,
	}
	for i := 0; i < config.FramesInFlight; i++ {
		s, err := p.createSlot()
		// Partially created slots are released by Destroy.
		p.slots = append(p.slots, s)
		if err != nil {
			p.Destroy()
			return nil, errors.Wrapf(err, "creating frame slot %d", i)
		}
	}
	if err := p.waitForSurface(); err != nil {
		p.Destroy()
		return nil, err
	}
	if err := p.createTargets(driver.NullHandle); err != nil {
		p.Destroy()
		return nil, err
	}
	core.LogInfo("frame pipeline created with %d frames in flight", config.FramesInFlight)
	return p, nil
}

func (p *Pipeline) createSlot() (slot, error) {
	var s slot
	var err error
	if s.commandBuffer, err = p.device.AllocateCommandBuffer(); err != nil {
		return s, err
	}
	if s.imageAvailable, err = p.device.CreateSemaphore(); err != nil {
		return s, err
	}
	if s.renderFinished, err = p.device.CreateSemaphore(); err != nil {
		return s, err
	}
	// Created signaled so the first wait on every slot returns at once.
	if s.fence, err = p.device.CreateFence(true); err != nil {
		return s, err
	}
	return s, nil
}

func (p *Pipeline) Index() int {
	return p.index
}

func (p *Pipeline) FrameNumber() uint64 {
	return p.frameNumber
}

func (p *Pipeline) State() State {
	return p.state
}

// Resizes returns how many times the presentable image set was rebuilt.
func (p *Pipeline) Resizes() int {
	return p.resizes
}

func (p *Pipeline) Targets() *Targets {
	return p.targets
}

// SlotFence returns the fence of slot i.
func (p *Pipeline) SlotFence(i int) driver.Fence {
	return p.slots[i].fence
}

func (p *Pipeline) OnResize(listener ResizeListener) {
	p.listeners = append(p.listeners, listener)
}

// NotifyResized tells the pipeline the window size changed. The image set is
// rebuilt after the next present even if the driver has not reported the
// surface as stale yet.
func (p *Pipeline) NotifyResized(width, height uint32) {
	core.LogDebug("window resized to %dx%d", width, height)
	p.resizePending = true
}

// Frame runs one iteration of the loop: wait, acquire, record, submit,
// present. It reports whether a frame was submitted; a stale surface at
// acquire triggers a rebuild of the image set instead. A frame that fails
// after acquire leaves its slot abandoned, and the next call reclaims it
// before waiting. A frame whose present fails stays in StateSubmitted.
func (p *Pipeline) Frame(record Recorder) (bool, error) {
	if p.abandoned {
		if err := p.reclaim(); err != nil {
			return false, errors.Wrapf(err, "reclaiming frame slot %d", p.index)
		}
	}
	s := &p.slots[p.index]

	p.state = StateAcquiring
	if err := p.device.WaitForFence(s.fence, driver.WaitForever); err != nil {
		p.state = StateIdle
		return false, errors.Wrapf(err, "waiting on frame slot %d", p.index)
	}

	imageIndex, status, err := p.device.AcquireNextImage(p.targets.Swapchain, p.config.AcquireTimeout, s.imageAvailable)
	if err != nil {
		p.state = StateIdle
		return false, errors.Wrap(err, "acquiring swapchain image")
	}
	if status == driver.PresentOutOfDate {
		p.state = StateIdle
		return false, p.recover()
	}
	if status == driver.PresentSuboptimal {
		p.resizePending = true
	}

	p.state = StateRecording
	ctx := &Context{
		CommandBuffer: s.commandBuffer,
		ImageIndex:    imageIndex,
		Slot:          p.index,
		FrameNumber:   p.frameNumber,
		Targets:       p.targets,
	}
	if err := p.recordSlot(s, ctx, record); err != nil {
		p.abandon()
		return false, err
	}

	// The fence is reset only once the submission that signals it is ready.
	if err := p.device.ResetFence(s.fence); err != nil {
		p.abandon()
		return false, errors.Wrapf(err, "resetting fence of slot %d", p.index)
	}
	submit := driver.SubmitInfo{
		CommandBuffers:   []driver.CommandBuffer{s.commandBuffer},
		WaitSemaphores:   []driver.Semaphore{s.imageAvailable},
		WaitStages:       []driver.PipelineStage{driver.PipelineStageColorAttachmentOutput},
		SignalSemaphores: []driver.Semaphore{s.renderFinished},
	}
	if err := p.device.QueueSubmit([]driver.SubmitInfo{submit}, s.fence); err != nil {
		p.abandon()
		return false, errors.Wrap(err, "submitting frame")
	}
	p.index = (p.index + 1) % len(p.slots)
	p.frameNumber++

	p.state = StatePresenting
	status, err = p.device.QueuePresent(p.targets.Swapchain, imageIndex, s.renderFinished)
	if err != nil {
		// The work is on the queue and its fence will signal; only the
		// present is lost.
		p.state = StateSubmitted
		return true, errors.Wrap(err, "presenting frame")
	}
	p.state = StateIdle

	if status != driver.PresentOK || p.resizePending {
		core.LogDebug("surface %s after present, recreating image set", status)
		if err := p.recover(); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (p *Pipeline) recordSlot(s *slot, ctx *Context, record Recorder) error {
	if err := p.device.ResetCommandBuffer(s.commandBuffer); err != nil {
		return errors.Wrap(err, "resetting command buffer")
	}
	if err := p.device.BeginCommandBuffer(s.commandBuffer, false); err != nil {
		return errors.Wrap(err, "beginning command buffer")
	}
	if record != nil {
		if err := record(ctx); err != nil {
			return errors.Wrapf(err, "recording frame %d", ctx.FrameNumber)
		}
	}
	if err := p.device.EndCommandBuffer(s.commandBuffer); err != nil {
		return errors.Wrap(err, "ending command buffer")
	}
	return nil
}

// abandon marks the current slot as holding an acquired image and a
// signaled image-available semaphore that no submission will consume.
func (p *Pipeline) abandon() {
	p.abandoned = true
	p.state = StateIdle
}

// reclaim makes an abandoned slot usable again. Its semaphore and fence are
// replaced, and rebuilding the image set releases the acquired image.
func (p *Pipeline) reclaim() error {
	if err := p.device.DeviceWaitIdle(); err != nil {
		return errors.Wrap(err, "waiting for device idle")
	}
	s := &p.slots[p.index]

	p.device.DestroySemaphore(s.imageAvailable)
	s.imageAvailable = driver.NullHandle
	semaphore, err := p.device.CreateSemaphore()
	if err != nil {
		return err
	}
	s.imageAvailable = semaphore

	p.device.DestroyFence(s.fence)
	s.fence = driver.NullHandle
	fence, err := p.device.CreateFence(true)
	if err != nil {
		return err
	}
	s.fence = fence

	if err := p.recover(); err != nil {
		return err
	}
	p.abandoned = false
	core.LogDebug("frame slot %d reclaimed", p.index)
	return nil
}

// waitForSurface blocks while the window is minimized.
func (p *Pipeline) waitForSurface() error {
	for {
		w, h := p.window.FramebufferSize()
		if w > 0 && h > 0 {
			return nil
		}
		p.window.WaitEvents()
	}
}

// recover rebuilds the presentable image set after the surface went stale.
// Acceleration structures and mesh buffers are not touched.
func (p *Pipeline) recover() error {
	if err := p.device.DeviceWaitIdle(); err != nil {
		return errors.Wrap(err, "waiting for device idle")
	}
	var old driver.Swapchain
	if p.targets != nil {
		old = p.targets.Swapchain
	}
	p.destroyTargets()
	if err := p.waitForSurface(); err != nil {
		return err
	}
	if err := p.createTargets(old); err != nil {
		return errors.Wrap(err, "recreating presentable image set")
	}
	p.resizePending = false
	p.resizes++
	for _, l := range p.listeners {
		l(p.targets)
	}
	return nil
}

// Destroy waits for the device and releases the image set, the swapchain
// and every frame slot.
func (p *Pipeline) Destroy() {
	if err := p.device.DeviceWaitIdle(); err != nil {
		core.LogError("frame pipeline: device wait idle failed: %v", err)
	}
	if p.targets != nil {
		p.destroyTargets()
		if p.targets.Swapchain != driver.NullHandle {
			p.device.DestroySwapchain(p.targets.Swapchain)
		}
		p.targets = nil
	}
	for _, s := range p.slots {
		if s.commandBuffer != driver.NullHandle {
			p.device.FreeCommandBuffer(s.commandBuffer)
		}
		if s.imageAvailable != driver.NullHandle {
			p.device.DestroySemaphore(s.imageAvailable)
		}
		if s.renderFinished != driver.NullHandle {
			p.device.DestroySemaphore(s.renderFinished)
		}
		if s.fence != driver.NullHandle {
			p.device.DestroyFence(s.fence)
		}
	}
	p.slots = nil
	core.LogDebug("frame pipeline destroyed")
}
