// Package vulkan implements driver.Device on top of Vulkan. One graphics
// queue family is used for submission; presentation may use a second family
// when the graphics family cannot present to the window surface.
package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform/desktop"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

// Config controls instance creation.
type Config struct {
	ApplicationName string
	// Debug enables the validation layer and the debug report callback.
	Debug bool
}

type buffer struct {
	handle vk.Buffer
	size   uint64
	usage  driver.BufferUsage
}

type image struct {
	handle vk.Image
	format vk.Format
	// Owned by a swapchain; never destroyed directly.
	swapchain bool
}

type memory struct {
	handle        vk.DeviceMemory
	size          uint64
	mapped        bool
	deviceAddress bool
}

type commandBuffer struct {
	handle vk.CommandBuffer
	// First recording error, reported by EndCommandBuffer.
	err error
}

type swapchain struct {
	handle vk.Swapchain
	images []driver.Image
}

var _ driver.Device = (*Device)(nil)

// Device owns the instance, the surface of the window and the logical
// device. Vulkan objects are exposed through opaque driver handles.
type Device struct {
	window *desktop.Window
	debug  bool

	instance vk.Instance
	// Loader entry point handed to the binding, kept to resolve the device
	// functions it does not wrap.
	getInstanceProcAddr    unsafe.Pointer
	getBufferDeviceAddress unsafe.Pointer
	allocator              *vk.AllocationCallbacks
	debugMessenger         vk.DebugReportCallback
	surface                vk.Surface

	physicalDevice     vk.PhysicalDevice
	logicalDevice      vk.Device
	graphicsQueueIndex uint32
	presentQueueIndex  uint32
	graphicsQueue      vk.Queue
	presentQueue       vk.Queue
	commandPool        vk.CommandPool

	properties  vk.PhysicalDeviceProperties
	memoryTypes []driver.MemoryType
	depthFormat vk.Format

	nextHandle     uint64
	buffers        map[driver.Buffer]*buffer
	images         map[driver.Image]*image
	views          map[driver.ImageView]vk.ImageView
	memories       map[driver.Memory]*memory
	commandBuffers map[driver.CommandBuffer]*commandBuffer
	fences         map[driver.Fence]vk.Fence
	semaphores     map[driver.Semaphore]vk.Semaphore
	swapchains     map[driver.Swapchain]*swapchain
}

// New creates a Vulkan device presenting to window.
func New(window *desktop.Window, config Config) (*Device, error) {
	d := &Device{
		window:         window,
		debug:          config.Debug,
		buffers:        make(map[driver.Buffer]*buffer),
		images:         make(map[driver.Image]*image),
		views:          make(map[driver.ImageView]vk.ImageView),
		memories:       make(map[driver.Memory]*memory),
		commandBuffers: make(map[driver.CommandBuffer]*commandBuffer),
		fences:         make(map[driver.Fence]vk.Fence),
		semaphores:     make(map[driver.Semaphore]vk.Semaphore),
		swapchains:     make(map[driver.Swapchain]*swapchain),
	}
	if err := d.createInstance(config.ApplicationName); err != nil {
		d.Destroy()
		return nil, err
	}
	if err := d.createSurface(); err != nil {
		d.Destroy()
		return nil, err
	}
	if err := d.createDevice(); err != nil {
		d.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan device initialized successfully.")
	return d, nil
}

func (d *Device) handle() uint64 {
	d.nextHandle++
	return d.nextHandle
}

func (d *Device) MemoryTypes() []driver.MemoryType {
	return d.memoryTypes
}

func (d *Device) DepthFormat() driver.Format {
	return fromVkFormat(d.depthFormat)
}

// Destroy releases everything in the opposite order of creation. Objects the
// caller leaked are destroyed with a warning.
func (d *Device) Destroy() {
	if d.logicalDevice != nil {
		vk.DeviceWaitIdle(d.logicalDevice)

		leaked := len(d.buffers) + len(d.views) + len(d.memories) + len(d.commandBuffers) + len(d.fences) + len(d.semaphores) + len(d.swapchains)
		for _, img := range d.images {
			if !img.swapchain {
				leaked++
			}
		}
		if leaked > 0 {
			core.LogWarn("destroying Vulkan device with %d live objects", leaked)
		}
		for h := range d.views {
			d.DestroyImageView(h)
		}
		for h := range d.swapchains {
			d.DestroySwapchain(h)
		}
		for h := range d.images {
			d.DestroyImage(h)
		}
		for h := range d.buffers {
			d.DestroyBuffer(h)
		}
		for h := range d.memories {
			d.FreeMemory(h)
		}
		for h := range d.commandBuffers {
			d.FreeCommandBuffer(h)
		}
		for h := range d.fences {
			d.DestroyFence(h)
		}
		for h := range d.semaphores {
			d.DestroySemaphore(h)
		}
		d.destroyDevice()
	}

	if d.surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(d.instance, d.surface, d.allocator)
		d.surface = vk.NullSurface
	}
	if d.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(d.instance, d.debugMessenger, d.allocator)
		d.debugMessenger = vk.NullDebugReportCallback
	}
	if d.instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(d.instance, d.allocator)
		d.instance = nil
	}
}
