// Package soft implements driver.Device in process memory. Submitted work is
// queued and retired when the host waits on a fence or on the queue, so the
// asynchronous contract of a real device (fences, binary semaphores,
// pending command buffers) is enforced and misuse is reported as an error.
package soft

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

const (
	memoryAlignment = 256
	addressBase     = 0x10000
	imageCount      = 3
)

// Memory type indices exposed by the software device.
const (
	MemoryTypeDeviceLocal uint32 = iota
	MemoryTypeHostVisible
	MemoryTypeDeviceLocalHostVisible
)

// Stats counts device calls. Tests use it to check which operations a
// component issued.
type Stats struct {
	AllocateMemoryCalls int
	FreeMemoryCalls     int
	CreateBufferCalls   int
	CreateImageCalls    int
	Submits             int
	Presents            int
	Acquires            int
	QueueWaitIdleCalls  int
	DeviceWaitIdleCalls int
	SwapchainsCreated   int
	Barriers            int
	FenceWaits          map[driver.Fence]int
}

// LiveObjects counts objects that have not been destroyed.
type LiveObjects struct {
	Buffers        int
	Images         int
	ImageViews     int
	Memories       int
	CommandBuffers int
	Fences         int
	Semaphores     int
	Swapchains     int
}

var _ driver.Device = (*Device)(nil)

type Device struct {
	memoryTypes []driver.MemoryType
	nextHandle  uint64
	nextAddress uint64

	buffers        map[driver.Buffer]*buffer
	images         map[driver.Image]*image
	views          map[driver.ImageView]*imageView
	memories       map[driver.Memory]*memory
	commandBuffers map[driver.CommandBuffer]*commandBuffer
	fences         map[driver.Fence]*fence
	semaphores     map[driver.Semaphore]*semaphore
	swapchains     map[driver.Swapchain]*swapchain

	queue   []*submission
	surface *Surface
	stats   Stats

	skipAllocations int
	failAllocations int
	failPresents    int
}

// New creates a software device presenting to surface. surface may be nil
// when no swapchain is needed.
func New(surface *Surface) *Device {
	return &Device{
		memoryTypes: []driver.MemoryType{
			MemoryTypeDeviceLocal:            {Properties: driver.MemoryPropertyDeviceLocal, HeapIndex: 0},
			MemoryTypeHostVisible:            {Properties: driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent, HeapIndex: 1},
			MemoryTypeDeviceLocalHostVisible: {Properties: driver.MemoryPropertyDeviceLocal | driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent, HeapIndex: 0},
		},
		nextAddress:    addressBase,
		buffers:        make(map[driver.Buffer]*buffer),
		images:         make(map[driver.Image]*image),
		views:          make(map[driver.ImageView]*imageView),
		memories:       make(map[driver.Memory]*memory),
		commandBuffers: make(map[driver.CommandBuffer]*commandBuffer),
		fences:         make(map[driver.Fence]*fence),
		semaphores:     make(map[driver.Semaphore]*semaphore),
		swapchains:     make(map[driver.Swapchain]*swapchain),
		surface:        surface,
		stats:          Stats{FenceWaits: make(map[driver.Fence]int)},
	}
}

func (d *Device) handle() uint64 {
	d.nextHandle++
	return d.nextHandle
}

func (d *Device) MemoryTypes() []driver.MemoryType {
	return d.memoryTypes
}

func (d *Device) DepthFormat() driver.Format {
	return driver.FormatD32Sfloat
}

// Stats returns a snapshot of the call counters.
func (d *Device) Stats() Stats {
	s := d.stats
	s.FenceWaits = make(map[driver.Fence]int, len(d.stats.FenceWaits))
	for k, v := range d.stats.FenceWaits {
		s.FenceWaits[k] = v
	}
	return s
}

func (d *Device) Live() LiveObjects {
	return LiveObjects{
		Buffers:        len(d.buffers),
		Images:         len(d.images),
		ImageViews:     len(d.views),
		Memories:       len(d.memories),
		CommandBuffers: len(d.commandBuffers),
		Fences:         len(d.fences),
		Semaphores:     len(d.semaphores),
		Swapchains:     len(d.swapchains),
	}
}

// Pending returns the number of submissions the device has not retired.
func (d *Device) Pending() int {
	return len(d.queue)
}

// FailAllocations makes the next n AllocateMemory calls fail with an
// out-of-memory error.
func (d *Device) FailAllocations(n int) {
	d.FailAllocationsAfter(0, n)
}

// FailAllocationsAfter lets skip AllocateMemory calls succeed and fails the
// n calls after them.
func (d *Device) FailAllocationsAfter(skip, n int) {
	d.skipAllocations = skip
	d.failAllocations = n
}

// FailPresents makes the next n QueuePresent calls fail with a device lost
// error. The wait semaphore and the image are consumed as if the present had
// reached the queue.
func (d *Device) FailPresents(n int) {
	d.failPresents = n
}

func (d *Device) Destroy() {
	d.retireAll()
	live := d.Live()
	// Swapchain images are owned by their swapchain.
	ownImages := 0
	for _, img := range d.images {
		if img.swapchain == nil {
			ownImages++
		}
	}
	if live.Buffers+ownImages+live.ImageViews+live.Memories+live.CommandBuffers+live.Fences+live.Semaphores+live.Swapchains > 0 {
		core.LogWarn("soft device destroyed with live objects: %+v", live)
	}
	core.LogDebug("soft device destroyed")
}

func invalidHandle(kind string, h uint64) error {
	return errors.Mark(errors.Newf("unknown %s handle %d", kind, h), core.ErrInvalidArgument)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}
