package vulkan

/*
#include <stdint.h>
#include <stdlib.h>

typedef void (*lumenVoidFunction)(void);
typedef lumenVoidFunction (*lumenGetInstanceProcAddr)(void *instance, const char *name);
typedef lumenVoidFunction (*lumenGetDeviceProcAddr)(void *device, const char *name);

// Mirrors VkBufferDeviceAddressInfo. VkBuffer is a 64 bit handle on every
// platform.
typedef struct {
	int32_t sType;
	const void *pNext;
	uint64_t buffer;
} lumenBufferDeviceAddressInfo;

typedef uint64_t (*lumenGetBufferDeviceAddress)(void *device, const lumenBufferDeviceAddressInfo *info);

static void *lumenInstanceProc(void *getInstanceProcAddr, void *instance, const char *name) {
	return (void *)((lumenGetInstanceProcAddr)getInstanceProcAddr)(instance, name);
}

static void *lumenDeviceProc(void *getDeviceProcAddr, void *device, const char *name) {
	return (void *)((lumenGetDeviceProcAddr)getDeviceProcAddr)(device, name);
}

static uint64_t lumenBufferAddress(void *fn, void *device, int32_t sType, uint64_t buffer) {
	lumenBufferDeviceAddressInfo info = {sType, NULL, buffer};
	return ((lumenGetBufferDeviceAddress)fn)(device, &info);
}
*/
import "C"

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
)

// loadDeviceFunctions resolves the entry points the binding does not wrap.
// It needs the logical device.
func (d *Device) loadDeviceFunctions() error {
	if d.getInstanceProcAddr == nil {
		return errors.New("vkGetInstanceProcAddr was not recorded")
	}
	instance := *(*unsafe.Pointer)(unsafe.Pointer(&d.instance))
	device := *(*unsafe.Pointer)(unsafe.Pointer(&d.logicalDevice))

	name := C.CString("vkGetDeviceProcAddr")
	getDeviceProcAddr := C.lumenInstanceProc(d.getInstanceProcAddr, instance, name)
	C.free(unsafe.Pointer(name))
	if getDeviceProcAddr == nil {
		return errors.New("vkGetDeviceProcAddr not found")
	}

	// Core in 1.2, the KHR alias covers older drivers with the extension.
	for _, symbol := range []string{"vkGetBufferDeviceAddress", "vkGetBufferDeviceAddressKHR"} {
		name := C.CString(symbol)
		fn := C.lumenDeviceProc(getDeviceProcAddr, device, name)
		C.free(unsafe.Pointer(name))
		if fn != nil {
			d.getBufferDeviceAddress = fn
			core.LogDebug("Loaded %s.", symbol)
			return nil
		}
	}
	return errors.New("vkGetBufferDeviceAddress not found")
}

func (d *Device) bufferAddress(b vk.Buffer) uint64 {
	device := *(*unsafe.Pointer)(unsafe.Pointer(&d.logicalDevice))
	handle := *(*C.uint64_t)(unsafe.Pointer(&b))
	return uint64(C.lumenBufferAddress(d.getBufferDeviceAddress, device, C.int32_t(vk.StructureTypeBufferDeviceAddressInfo), handle))
}
