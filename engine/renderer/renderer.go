package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/allocator"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
)

// Context bundles the GPU objects shared by the renderer components. Every
// component receives the pieces it needs from here explicitly.
type Context struct {
	Device    driver.Device
	Allocator *allocator.Allocator
	Builder   *accel.Builder
	Frames    *frame.Pipeline
}

type Options struct {
	FramesInFlight int
	PreferMailbox  bool
	ClearColor     [4]float32
}

type Renderer struct {
	ctx        *Context
	events     *core.EventBus
	clearColor [4]float32

	meshes []mesh
	tlas   *accel.Structure
}

// New takes ownership of device. The device is destroyed by Shutdown.
func New(device driver.Device, window frame.Window, events *core.EventBus, opts Options) (*Renderer, error) {
	alloc := allocator.New(device)
	frames, err := frame.New(device, alloc, window, frame.Config{
		FramesInFlight: opts.FramesInFlight,
		PreferMailbox:  opts.PreferMailbox,
	})
	if err != nil {
		alloc.Destroy()
		device.Destroy()
		return nil, errors.Wrap(err, "creating frame pipeline")
	}
	r := &Renderer{
		ctx: &Context{
			Device:    device,
			Allocator: alloc,
			Builder:   accel.New(device, alloc),
			Frames:    frames,
		},
		events:     events,
		clearColor: opts.ClearColor,
	}

	events.Register(core.EVENT_CODE_RESIZED, r, r.onResized)
	frames.OnResize(r.onTargetsRecreated)

	t := frames.Targets()
	core.LogInfo("renderer initialized: %dx%d, %d frames in flight", t.Extent.Width, t.Extent.Height, opts.FramesInFlight)
	return r, nil
}

func (r *Renderer) Context() *Context {
	return r.ctx
}

// DrawFrame renders and presents one frame. It reports false when the frame
// was skipped because the presentable image set had to be rebuilt.
func (r *Renderer) DrawFrame() (bool, error) {
	if r.ctx == nil {
		return false, core.ErrRendererBooting
	}
	return r.ctx.Frames.Frame(r.record)
}

// record clears the frame-local output image and the acquired swapchain
// image. The color pulses with the frame number so dropped or repeated
// frames are visible.
func (r *Renderer) record(fc *frame.Context) error {
	device := r.ctx.Device
	if r.tlas != nil {
		device.CmdPipelineBarrier(fc.CommandBuffer, driver.PipelineStageAccelerationStructureBuild, driver.PipelineStageRayTracingShader)
	}

	color := r.frameColor(fc.FrameNumber)
	device.CmdClearColorImage(fc.CommandBuffer, r.ctx.Allocator.Image(fc.Targets.Output), color)
	device.CmdPipelineBarrier(fc.CommandBuffer, driver.PipelineStageRayTracingShader|driver.PipelineStageTransfer, driver.PipelineStageTransfer)
	device.CmdClearColorImage(fc.CommandBuffer, fc.Targets.Images[fc.ImageIndex], color)
	return nil
}

func (r *Renderer) frameColor(frameNumber uint64) [4]float32 {
	const period = 120
	phase := float32(frameNumber%period) / period
	if phase > 0.5 {
		phase = 1 - phase
	}
	c := r.clearColor
	for i := 0; i < 3; i++ {
		c[i] = min(c[i]+phase*0.5, 1)
	}
	return c
}

func (r *Renderer) onResized(_ core.SystemEventCode, _ interface{}, _ interface{}, data core.EventContext) bool {
	if r.ctx == nil {
		return false
	}
	r.ctx.Frames.NotifyResized(data.Data.U32[0], data.Data.U32[1])
	return false
}

func (r *Renderer) onTargetsRecreated(t *frame.Targets) {
	core.LogInfo("presentable image set %s: %dx%d", t.Name, t.Extent.Width, t.Extent.Height)
	var ctx core.EventContext
	ctx.Data.U32[0] = t.Extent.Width
	ctx.Data.U32[1] = t.Extent.Height
	ctx.Data.U64[0] = t.Generation
	r.events.Fire(core.EVENT_CODE_SWAPCHAIN_RECREATED, r, ctx)
}

// Shutdown waits for the device and releases everything in reverse order of
// creation, the device last.
func (r *Renderer) Shutdown() error {
	if r.ctx == nil {
		return core.ErrRendererBooting
	}
	r.events.Unregister(core.EVENT_CODE_RESIZED, r)

	ctx := r.ctx
	r.ctx = nil
	ctx.Frames.Destroy()
	ctx.Builder.Destroy()
	r.tlas = nil
	for _, m := range r.meshes {
		ctx.Allocator.Free(m.vertices)
		ctx.Allocator.Free(m.indices)
	}
	r.meshes = nil
	ctx.Allocator.Destroy()
	ctx.Device.Destroy()
	core.LogInfo("renderer shut down")
	return nil
}
