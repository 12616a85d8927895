package vulkan

import (
	"fmt"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

var resultNames = map[vk.Result]string{
	vk.Success:                          "VK_SUCCESS",
	vk.NotReady:                         "VK_NOT_READY",
	vk.Timeout:                          "VK_TIMEOUT",
	vk.EventSet:                         "VK_EVENT_SET",
	vk.EventReset:                       "VK_EVENT_RESET",
	vk.Incomplete:                       "VK_INCOMPLETE",
	vk.Suboptimal:                       "VK_SUBOPTIMAL_KHR",
	vk.ErrorOutOfHostMemory:             "VK_ERROR_OUT_OF_HOST_MEMORY",
	vk.ErrorOutOfDeviceMemory:           "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	vk.ErrorInitializationFailed:        "VK_ERROR_INITIALIZATION_FAILED",
	vk.ErrorDeviceLost:                  "VK_ERROR_DEVICE_LOST",
	vk.ErrorMemoryMapFailed:             "VK_ERROR_MEMORY_MAP_FAILED",
	vk.ErrorLayerNotPresent:             "VK_ERROR_LAYER_NOT_PRESENT",
	vk.ErrorExtensionNotPresent:         "VK_ERROR_EXTENSION_NOT_PRESENT",
	vk.ErrorFeatureNotPresent:           "VK_ERROR_FEATURE_NOT_PRESENT",
	vk.ErrorIncompatibleDriver:          "VK_ERROR_INCOMPATIBLE_DRIVER",
	vk.ErrorTooManyObjects:              "VK_ERROR_TOO_MANY_OBJECTS",
	vk.ErrorFormatNotSupported:          "VK_ERROR_FORMAT_NOT_SUPPORTED",
	vk.ErrorFragmentedPool:              "VK_ERROR_FRAGMENTED_POOL",
	vk.ErrorSurfaceLost:                 "VK_ERROR_SURFACE_LOST_KHR",
	vk.ErrorNativeWindowInUse:           "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR",
	vk.ErrorOutOfDate:                   "VK_ERROR_OUT_OF_DATE_KHR",
	vk.ErrorIncompatibleDisplay:         "VK_ERROR_INCOMPATIBLE_DISPLAY_KHR",
	vk.ErrorOutOfPoolMemory:             "VK_ERROR_OUT_OF_POOL_MEMORY",
	vk.ErrorInvalidExternalHandle:       "VK_ERROR_INVALID_EXTERNAL_HANDLE",
	vk.ErrorFragmentation:               "VK_ERROR_FRAGMENTATION",
	vk.ErrorInvalidDeviceAddress:        "VK_ERROR_INVALID_DEVICE_ADDRESS_EXT",
	vk.ErrorFullScreenExclusiveModeLost: "VK_ERROR_FULL_SCREEN_EXCLUSIVE_MODE_LOST_EXT",
	vk.ErrorUnknown:                     "VK_ERROR_UNKNOWN",
}

// VulkanResultString returns the name of a VkResult.
func VulkanResultString(result vk.Result) string {
	if name, ok := resultNames[result]; ok {
		return name
	}
	return fmt.Sprintf("VK_RESULT(%d)", result)
}

// resultError turns a failed VkResult into an error marked with its kind.
// It returns nil for vk.Success.
func resultError(result vk.Result, op string) error {
	if result == vk.Success {
		return nil
	}
	err := errors.Newf("%s failed: %s", op, VulkanResultString(result))
	switch result {
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfPoolMemory:
		return errors.Mark(err, core.ErrOutOfMemory)
	case vk.ErrorDeviceLost:
		return errors.Mark(err, core.ErrDeviceLost)
	case vk.ErrorOutOfDate, vk.ErrorSurfaceLost:
		return errors.Mark(err, core.ErrStale)
	default:
		return err
	}
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// cString returns the Go string of a NUL terminated fixed size array.
func cString(arr []byte) string {
	for i, b := range arr {
		if b == 0 {
			return string(arr[:i])
		}
	}
	return string(arr)
}

func toVkFormat(f driver.Format) vk.Format {
	switch f {
	case driver.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case driver.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case driver.FormatR32G32B32A32Sfloat:
		return vk.FormatR32g32b32a32Sfloat
	case driver.FormatD32Sfloat:
		return vk.FormatD32Sfloat
	case driver.FormatD32SfloatS8Uint:
		return vk.FormatD32SfloatS8Uint
	case driver.FormatD24UnormS8Uint:
		return vk.FormatD24UnormS8Uint
	default:
		return vk.FormatUndefined
	}
}

func fromVkFormat(f vk.Format) driver.Format {
	switch f {
	case vk.FormatB8g8r8a8Unorm:
		return driver.FormatB8G8R8A8Unorm
	case vk.FormatR8g8b8a8Unorm:
		return driver.FormatR8G8B8A8Unorm
	case vk.FormatR32g32b32a32Sfloat:
		return driver.FormatR32G32B32A32Sfloat
	case vk.FormatD32Sfloat:
		return driver.FormatD32Sfloat
	case vk.FormatD32SfloatS8Uint:
		return driver.FormatD32SfloatS8Uint
	case vk.FormatD24UnormS8Uint:
		return driver.FormatD24UnormS8Uint
	default:
		return driver.FormatUndefined
	}
}

// The hierarchy is built on the host and consumed as a storage buffer, so
// the acceleration structure usages map onto storage buffers with a device
// address.
func toVkBufferUsage(u driver.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if u&driver.BufferUsageTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if u&driver.BufferUsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	if u&driver.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if u&(driver.BufferUsageStorage|driver.BufferUsageAccelerationStructureStorage|driver.BufferUsageAccelerationStructureBuildInput|driver.BufferUsageShaderBindingTable) != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if u&driver.BufferUsageIndex != 0 {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if u&driver.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if u&driver.BufferUsageShaderDeviceAddress != 0 {
		flags |= vk.BufferUsageShaderDeviceAddressBit
	}
	return vk.BufferUsageFlags(flags)
}

func toVkImageUsage(u driver.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if u&driver.ImageUsageTransferSrc != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if u&driver.ImageUsageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	if u&driver.ImageUsageSampled != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if u&driver.ImageUsageStorage != 0 {
		flags |= vk.ImageUsageStorageBit
	}
	if u&driver.ImageUsageColorAttachment != 0 {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if u&driver.ImageUsageDepthStencilAttachment != 0 {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	return vk.ImageUsageFlags(flags)
}

// Builds run as transfers and tracing runs in compute.
func toVkStages(s driver.PipelineStage) vk.PipelineStageFlags {
	var flags vk.PipelineStageFlagBits
	if s&driver.PipelineStageTopOfPipe != 0 {
		flags |= vk.PipelineStageTopOfPipeBit
	}
	if s&(driver.PipelineStageTransfer|driver.PipelineStageAccelerationStructureBuild) != 0 {
		flags |= vk.PipelineStageTransferBit
	}
	if s&driver.PipelineStageColorAttachmentOutput != 0 {
		flags |= vk.PipelineStageColorAttachmentOutputBit
	}
	if s&driver.PipelineStageRayTracingShader != 0 {
		flags |= vk.PipelineStageComputeShaderBit
	}
	if s&driver.PipelineStageAllCommands != 0 {
		flags |= vk.PipelineStageAllCommandsBit
	}
	if flags == 0 {
		flags = vk.PipelineStageTopOfPipeBit
	}
	return vk.PipelineStageFlags(flags)
}

func fromVkMemoryProperties(flags vk.MemoryPropertyFlags) driver.MemoryProperty {
	var p driver.MemoryProperty
	bits := vk.MemoryPropertyFlagBits(flags)
	if bits&vk.MemoryPropertyDeviceLocalBit != 0 {
		p |= driver.MemoryPropertyDeviceLocal
	}
	if bits&vk.MemoryPropertyHostVisibleBit != 0 {
		p |= driver.MemoryPropertyHostVisible
	}
	if bits&vk.MemoryPropertyHostCoherentBit != 0 {
		p |= driver.MemoryPropertyHostCoherent
	}
	if bits&vk.MemoryPropertyHostCachedBit != 0 {
		p |= driver.MemoryPropertyHostCached
	}
	return p
}
