// Package driver defines the device interface the renderer core is written
// against. A Device is implemented by the Vulkan backend and by the software
// device used for tests and headless runs.
package driver

// Opaque object handles. The zero value of every handle is the null handle.
type (
	Buffer        uint64
	Image         uint64
	ImageView     uint64
	Memory        uint64
	CommandBuffer uint64
	Fence         uint64
	Semaphore     uint64
	Swapchain     uint64
)

const NullHandle = 0

// Timeout value that makes a wait block until completion.
const WaitForever = ^uint64(0)

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
	BufferUsageShaderDeviceAddress
	BufferUsageAccelerationStructureStorage
	BufferUsageAccelerationStructureBuildInput
	BufferUsageShaderBindingTable
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
)

type MemoryProperty uint32

const (
	MemoryPropertyDeviceLocal MemoryProperty = 1 << iota
	MemoryPropertyHostVisible
	MemoryPropertyHostCoherent
	MemoryPropertyHostCached
)

type Format uint32

const (
	FormatUndefined Format = iota
	FormatB8G8R8A8Unorm
	FormatR8G8B8A8Unorm
	FormatR32G32B32A32Sfloat
	FormatD32Sfloat
	FormatD32SfloatS8Uint
	FormatD24UnormS8Uint
)

// IsDepth reports whether the format carries a depth aspect.
func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD32SfloatS8Uint || f == FormatD24UnormS8Uint
}

// BytesPerPixel returns the texel size of the format.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR32G32B32A32Sfloat:
		return 16
	case FormatUndefined:
		return 0
	default:
		return 4
	}
}

type PipelineStage uint32

const (
	PipelineStageTopOfPipe PipelineStage = 1 << iota
	PipelineStageTransfer
	PipelineStageColorAttachmentOutput
	PipelineStageAccelerationStructureBuild
	PipelineStageRayTracingShader
	PipelineStageAllCommands
)

// PresentStatus reports the state of the surface after acquire or present.
// OutOfDate and Suboptimal are operating conditions, not errors.
type PresentStatus uint8

const (
	PresentOK PresentStatus = iota
	PresentSuboptimal
	PresentOutOfDate
)

func (s PresentStatus) String() string {
	switch s {
	case PresentSuboptimal:
		return "suboptimal"
	case PresentOutOfDate:
		return "out of date"
	default:
		return "ok"
	}
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type MemoryType struct {
	Properties MemoryProperty
	HeapIndex  uint32
}

type Extent2D struct {
	Width  uint32
	Height uint32
}

func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type ImageCreateInfo struct {
	Width  uint32
	Height uint32
	Format Format
	Usage  ImageUsage
}

type ImageViewCreateInfo struct {
	Image  Image
	Format Format
}

type SubmitInfo struct {
	CommandBuffers   []CommandBuffer
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStage
	SignalSemaphores []Semaphore
}

type SwapchainCreateInfo struct {
	Extent        Extent2D
	PreferMailbox bool
	OldSwapchain  Swapchain
}

// SwapchainImages describes the presentable images owned by a swapchain.
type SwapchainImages struct {
	Images []Image
	Format Format
	Extent Extent2D
}

// Device is a logical GPU plus its graphics/present queue.
//
// Recording methods (Cmd*) append to a command buffer between
// BeginCommandBuffer and EndCommandBuffer; they report misuse through the
// error returned by EndCommandBuffer or QueueSubmit.
type Device interface {
	// MemoryTypes returns the memory types of the physical device, indexed
	// by memory type index.
	MemoryTypes() []MemoryType
	DepthFormat() Format

	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	DestroyBuffer(buffer Buffer)
	BufferMemoryRequirements(buffer Buffer) MemoryRequirements
	BindBufferMemory(buffer Buffer, memory Memory, offset uint64) error
	// BufferDeviceAddress returns the GPU address of a buffer created with
	// BufferUsageShaderDeviceAddress and bound to memory allocated with
	// deviceAddress set.
	BufferDeviceAddress(buffer Buffer) uint64

	CreateImage(info ImageCreateInfo) (Image, error)
	DestroyImage(image Image)
	ImageMemoryRequirements(image Image) MemoryRequirements
	BindImageMemory(image Image, memory Memory, offset uint64) error
	CreateImageView(info ImageViewCreateInfo) (ImageView, error)
	DestroyImageView(view ImageView)

	AllocateMemory(size uint64, memoryTypeIndex uint32, deviceAddress bool) (Memory, error)
	FreeMemory(memory Memory)
	// MapMemory returns a host view of size bytes starting at offset. The
	// slice stays valid until UnmapMemory.
	MapMemory(memory Memory, offset, size uint64) ([]byte, error)
	UnmapMemory(memory Memory)

	AllocateCommandBuffer() (CommandBuffer, error)
	FreeCommandBuffer(cb CommandBuffer)
	BeginCommandBuffer(cb CommandBuffer, oneTimeSubmit bool) error
	EndCommandBuffer(cb CommandBuffer) error
	ResetCommandBuffer(cb CommandBuffer) error
	CmdCopyBuffer(cb CommandBuffer, src, dst Buffer, regions []BufferCopy)
	CmdClearColorImage(cb CommandBuffer, image Image, color [4]float32)
	CmdPipelineBarrier(cb CommandBuffer, src, dst PipelineStage)

	CreateFence(signaled bool) (Fence, error)
	DestroyFence(fence Fence)
	WaitForFence(fence Fence, timeoutNs uint64) error
	ResetFence(fence Fence) error
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(semaphore Semaphore)

	QueueSubmit(submits []SubmitInfo, fence Fence) error
	QueueWaitIdle() error
	DeviceWaitIdle() error

	CreateSwapchain(info SwapchainCreateInfo) (Swapchain, SwapchainImages, error)
	DestroySwapchain(swapchain Swapchain)
	AcquireNextImage(swapchain Swapchain, timeoutNs uint64, signal Semaphore) (uint32, PresentStatus, error)
	QueuePresent(swapchain Swapchain, imageIndex uint32, wait Semaphore) (PresentStatus, error)

	Destroy()
}
