package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/driver"
)

type physicalDeviceRequirements struct {
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

type queueFamilyInfo struct {
	graphics int32
	present  int32
}

func (q queueFamilyInfo) complete() bool {
	return q.graphics >= 0 && q.present >= 0
}

func (d *Device) createDevice() error {
	if err := d.selectPhysicalDevice(); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")

	// Do not create additional queues for shared indices.
	indices := []uint32{d.graphicsQueueIndex}
	if d.presentQueueIndex != d.graphicsQueueIndex {
		indices = append(indices, d.presentQueueIndex)
	}
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if d.hasExtension("VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	// Acceleration structure and scratch buffers are referenced by address.
	addressFeatures := vk.PhysicalDeviceBufferDeviceAddressFeatures{
		SType:               vk.StructureTypePhysicalDeviceBufferDeviceAddressFeatures,
		BufferDeviceAddress: vk.True,
	}
	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   unsafe.Pointer(addressFeatures.Ref()),
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}
	var device vk.Device
	if err := resultError(vk.CreateDevice(d.physicalDevice, &deviceCreateInfo, d.allocator, &device), "vkCreateDevice"); err != nil {
		return err
	}
	d.logicalDevice = device
	core.LogInfo("Logical device created.")

	if err := d.loadDeviceFunctions(); err != nil {
		return errors.Wrap(err, "loading device functions")
	}

	var graphics, present vk.Queue
	vk.GetDeviceQueue(d.logicalDevice, d.graphicsQueueIndex, 0, &graphics)
	vk.GetDeviceQueue(d.logicalDevice, d.presentQueueIndex, 0, &present)
	d.graphicsQueue, d.presentQueue = graphics, present
	core.LogInfo("Queues obtained.")

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.graphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := resultError(vk.CreateCommandPool(d.logicalDevice, &poolCreateInfo, d.allocator, &pool), "vkCreateCommandPool"); err != nil {
		return err
	}
	d.commandPool = pool
	core.LogInfo("Graphics command pool created.")

	if !d.detectDepthFormat() {
		return errors.New("no supported depth format")
	}
	return nil
}

func (d *Device) destroyDevice() {
	d.graphicsQueue = nil
	d.presentQueue = nil

	if d.commandPool != nil {
		core.LogInfo("Destroying command pools...")
		vk.DestroyCommandPool(d.logicalDevice, d.commandPool, d.allocator)
		d.commandPool = nil
	}

	core.LogInfo("Destroying logical device...")
	vk.DestroyDevice(d.logicalDevice, d.allocator)
	d.logicalDevice = nil

	// Physical devices are not destroyed.
	d.physicalDevice = nil
}

func (d *Device) hasExtension(name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(d.physicalDevice, "", &count, nil); res != vk.Success {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(d.physicalDevice, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func (d *Device) detectDepthFormat() bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureDepthStencilAttachmentBit
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.physicalDevice, candidate, &properties)
		properties.Deref()
		if vk.FormatFeatureFlagBits(properties.OptimalTilingFeatures)&flags == flags {
			d.depthFormat = candidate
			return true
		}
	}
	return false
}

func (d *Device) selectPhysicalDevice() error {
	var count uint32
	if err := resultError(vk.EnumeratePhysicalDevices(d.instance, &count, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}
	if count == 0 {
		return errors.New("no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, count)
	if err := resultError(vk.EnumeratePhysicalDevices(d.instance, &count, physicalDevices), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}

	requirements := physicalDeviceRequirements{
		DiscreteGPU:          true,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}
	if runtime.GOOS == "darwin" {
		requirements.DiscreteGPU = false
	}

	// Prefer a discrete GPU but fall back to anything that meets the queue
	// and extension requirements.
	for _, discrete := range []bool{requirements.DiscreteGPU, false} {
		for _, pd := range physicalDevices {
			var properties vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(pd, &properties)
			properties.Deref()
			if discrete && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
				continue
			}
			queues, ok := d.meetsRequirements(pd, &properties, &requirements)
			if !ok {
				continue
			}
			d.physicalDevice = pd
			d.properties = properties
			d.graphicsQueueIndex = uint32(queues.graphics)
			d.presentQueueIndex = uint32(queues.present)
			d.loadMemoryTypes()
			d.logDevice()
			core.LogInfo("Physical device selected.")
			return nil
		}
	}
	return errors.New("no physical devices were found which meet the requirements")
}

func (d *Device) meetsRequirements(pd vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, requirements *physicalDeviceRequirements) (queueFamilyInfo, bool) {
	name := cString(properties.DeviceName[:])
	queues := queueFamilyInfo{graphics: -1, present: -1}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, families)

	for i := range families {
		families[i].Deref()
		var supportsPresent vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), d.surface, &supportsPresent)
		graphics := vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit != 0
		// A family that does both is preferred.
		if graphics && supportsPresent == vk.True {
			queues.graphics, queues.present = int32(i), int32(i)
			break
		}
		if graphics && queues.graphics < 0 {
			queues.graphics = int32(i)
		}
		if supportsPresent == vk.True && queues.present < 0 {
			queues.present = int32(i)
		}
	}
	if !queues.complete() {
		core.LogInfo("Device '%s' lacks graphics or present queues, skipping.", name)
		return queues, false
	}

	var formatCount, modeCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(pd, d.surface, &formatCount, nil)
	vk.GetPhysicalDeviceSurfacePresentModes(pd, d.surface, &modeCount, nil)
	if formatCount == 0 || modeCount == 0 {
		core.LogInfo("Required swapchain support not present, skipping device '%s'.", name)
		return queues, false
	}

	var extCount uint32
	vk.EnumerateDeviceExtensionProperties(pd, "", &extCount, nil)
	available := make([]vk.ExtensionProperties, extCount)
	vk.EnumerateDeviceExtensionProperties(pd, "", &extCount, available)
	for _, required := range requirements.DeviceExtensionNames {
		found := false
		for i := range available {
			available[i].Deref()
			if cString(available[i].ExtensionName[:]) == required {
				found = true
				break
			}
		}
		if !found {
			core.LogInfo("Required extension not found: '%s', skipping device '%s'.", required, name)
			return queues, false
		}
	}

	core.LogDebug("Device '%s' meets requirements: graphics family %d, present family %d", name, queues.graphics, queues.present)
	return queues, true
}

func (d *Device) loadMemoryTypes() {
	var props vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.physicalDevice, &props)
	props.Deref()

	d.memoryTypes = make([]driver.MemoryType, props.MemoryTypeCount)
	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		props.MemoryTypes[i].Deref()
		d.memoryTypes[i] = driver.MemoryType{
			Properties: fromVkMemoryProperties(props.MemoryTypes[i].PropertyFlags),
			HeapIndex:  props.MemoryTypes[i].HeapIndex,
		}
	}
	for j := uint32(0); j < props.MemoryHeapCount; j++ {
		props.MemoryHeaps[j].Deref()
		sizeGib := float64(props.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(props.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", sizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", sizeGib)
		}
	}
}

func (d *Device) logDevice() {
	p := d.properties
	core.LogInfo("Selected device: '%s'.", cString(p.DeviceName[:]))
	switch p.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	core.LogInfo("GPU Driver version: %d.%d.%d",
		vk.Version(p.DriverVersion).Major(),
		vk.Version(p.DriverVersion).Minor(),
		vk.Version(p.DriverVersion).Patch())
	core.LogInfo("Vulkan API version: %d.%d.%d",
		vk.Version(p.ApiVersion).Major(),
		vk.Version(p.ApiVersion).Minor(),
		vk.Version(p.ApiVersion).Patch())
}
