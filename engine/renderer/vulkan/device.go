package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

/**
 * @brief The selected physical device, its logical device and queues. It
 * is the backend's gpu.Device: every resource the renderer creates goes
 * through it.
 */
type VulkanDevice struct {
	context *VulkanContext

	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	SwapchainSupport   VulkanSwapchainSupportInfo
	GraphicsQueueIndex int32
	PresentQueueIndex  int32
	TransferQueueIndex int32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	TransferQueue vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	Compute              bool
	Transfer             bool
	DeviceExtensionNames []string
	SamplerAnisotropy    bool
	DiscreteGPU          bool
}

// Family indices are -1 when the device has no such queue.
type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
	ComputeFamilyIndex  int32
	TransferFamilyIndex int32
}

func DeviceCreate(context *VulkanContext, requireDiscrete bool) (*VulkanDevice, error) {
	device := &VulkanDevice{
		context:            context,
		GraphicsQueueIndex: -1,
		PresentQueueIndex:  -1,
		TransferQueueIndex: -1,
	}
	context.Device = device
	if err := device.selectPhysicalDevice(requireDiscrete); err != nil {
		return nil, err
	}

	core.LogInfo("Creating logical device...")

	// Do not create additional queues for shared indices.
	indices := []uint32{uint32(device.GraphicsQueueIndex)}
	if device.PresentQueueIndex != device.GraphicsQueueIndex {
		indices = append(indices, uint32(device.PresentQueueIndex))
	}
	if device.TransferQueueIndex != device.GraphicsQueueIndex && device.TransferQueueIndex != device.PresentQueueIndex {
		indices = append(indices, uint32(device.TransferQueueIndex))
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
		context.locks.SetQueueFamily(index)
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: vk.True,
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if device.hasExtension("VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var logical vk.Device
	if err := vkError("vkCreateDevice", vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &logical)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	device.LogicalDevice = logical
	core.LogInfo("Logical device created.")

	var queue vk.Queue
	vk.GetDeviceQueue(logical, uint32(device.GraphicsQueueIndex), 0, &queue)
	device.GraphicsQueue = queue
	vk.GetDeviceQueue(logical, uint32(device.PresentQueueIndex), 0, &queue)
	device.PresentQueue = queue
	vk.GetDeviceQueue(logical, uint32(device.TransferQueueIndex), 0, &queue)
	device.TransferQueue = queue
	core.LogInfo("Queues obtained.")

	// Command pool for graphics queue. Buffers are reset individually every frame.
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := vkError("vkCreateCommandPool", vk.CreateCommandPool(logical, &poolCreateInfo, context.Allocator, &pool)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	device.GraphicsCommandPool = pool
	core.LogInfo("Graphics command pool created.")

	if !device.detectDepthFormat() {
		return nil, fmt.Errorf("failed to find a supported depth format")
	}
	return device, nil
}

func (d *VulkanDevice) Destroy() {
	d.GraphicsQueue = nil
	d.PresentQueue = nil
	d.TransferQueue = nil

	core.LogInfo("Destroying command pools...")
	if d.GraphicsCommandPool != nil {
		vk.DestroyCommandPool(d.LogicalDevice, d.GraphicsCommandPool, d.context.Allocator)
		d.GraphicsCommandPool = nil
	}

	core.LogInfo("Destroying logical device...")
	if d.LogicalDevice != nil {
		vk.DestroyDevice(d.LogicalDevice, d.context.Allocator)
		d.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	d.PhysicalDevice = nil
	d.SwapchainSupport = VulkanSwapchainSupportInfo{}
	d.GraphicsQueueIndex = -1
	d.PresentQueueIndex = -1
	d.TransferQueueIndex = -1
}

// WaitIdle blocks until every queue of the device is idle.
func (d *VulkanDevice) WaitIdle() error {
	return vkError("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.LogicalDevice))
}

func (d *VulkanDevice) hasExtension(name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(d.PhysicalDevice, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(d.PhysicalDevice, "", &count, available); res != vk.Success {
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

// QuerySwapchainSupport refreshes the surface capabilities, formats and present modes.
func QuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface) (VulkanSwapchainSupportInfo, error) {
	info := VulkanSwapchainSupportInfo{}
	if err := vkError("vkGetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &info.Capabilities)); err != nil {
		return info, err
	}
	info.Capabilities.Deref()
	info.Capabilities.CurrentExtent.Deref()
	info.Capabilities.MinImageExtent.Deref()
	info.Capabilities.MaxImageExtent.Deref()

	if err := vkError("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &info.FormatCount, nil)); err != nil {
		return info, err
	}
	if info.FormatCount != 0 {
		info.Formats = make([]vk.SurfaceFormat, info.FormatCount)
		if err := vkError("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &info.FormatCount, info.Formats)); err != nil {
			return info, err
		}
		for i := range info.Formats {
			info.Formats[i].Deref()
		}
	}

	if err := vkError("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &info.PresentModeCount, nil)); err != nil {
		return info, err
	}
	if info.PresentModeCount != 0 {
		info.PresentModes = make([]vk.PresentMode, info.PresentModeCount)
		if err := vkError("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &info.PresentModeCount, info.PresentModes)); err != nil {
			return info, err
		}
	}
	return info, nil
}

func (d *VulkanDevice) detectDepthFormat() bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if properties.LinearTilingFeatures&flags == flags || properties.OptimalTilingFeatures&flags == flags {
			d.DepthFormat = candidate
			return true
		}
	}
	return false
}

// SupportedDepthFormat is the first depth format the device can attach, for G-buffer configuration.
func (d *VulkanDevice) SupportedDepthFormat() gpu.Format {
	return gpuFormat(d.DepthFormat)
}

func (d *VulkanDevice) selectPhysicalDevice(requireDiscrete bool) error {
	context := d.context
	var physicalDeviceCount uint32
	if err := vkError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil)); err != nil {
		return err
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if err := vkError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices)); err != nil {
		return err
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		Transfer:             true,
		SamplerAnisotropy:    true,
		DiscreteGPU:          requireDiscrete && runtime.GOOS != "darwin",
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}

	for _, physicalDevice := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(physicalDevice, &properties)
		properties.Deref()
		properties.Limits.Deref()

		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(physicalDevice, &features)
		features.Deref()

		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(physicalDevice, &memory)
		memory.Deref()

		queueInfo, support, ok := PhysicalDeviceMeetsRequirements(physicalDevice, context.Surface, &properties, &features, &requirements)
		if !ok {
			continue
		}

		name := cString(properties.DeviceName[:])
		core.LogInfo("Selected device: '%s'.", name)
		switch properties.DeviceType {
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
			vk.Version(properties.DriverVersion).Major(),
			vk.Version(properties.DriverVersion).Minor(),
			vk.Version(properties.DriverVersion).Patch())
		core.LogInfo("Vulkan API version: %d.%d.%d",
			vk.Version(properties.ApiVersion).Major(),
			vk.Version(properties.ApiVersion).Minor(),
			vk.Version(properties.ApiVersion).Patch())

		for j := uint32(0); j < memory.MemoryHeapCount; j++ {
			memory.MemoryHeaps[j].Deref()
			sizeGib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
			if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
				core.LogInfo("Local GPU memory: %.2f GiB", sizeGib)
			} else {
				core.LogInfo("Shared System memory: %.2f GiB", sizeGib)
			}
		}

		d.PhysicalDevice = physicalDevice
		d.GraphicsQueueIndex = queueInfo.GraphicsFamilyIndex
		d.PresentQueueIndex = queueInfo.PresentFamilyIndex
		d.TransferQueueIndex = queueInfo.TransferFamilyIndex
		d.SwapchainSupport = support
		d.Properties = properties
		d.Features = features
		d.Memory = memory
		core.LogInfo("Physical device selected.")
		return nil
	}
	return fmt.Errorf("no physical devices were found which meet the requirements")
}

/**
 * @brief Checks queue families, swapchain support, extensions and
 * features. The transfer family prefers the queue supporting the fewest
 * other operations, which favours dedicated transfer queues.
 */
func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, properties *vk.PhysicalDeviceProperties, features *vk.PhysicalDeviceFeatures, requirements *VulkanPhysicalDeviceRequirements) (VulkanPhysicalDeviceQueueFamilyInfo, VulkanSwapchainSupportInfo, bool) {
	queueInfo := VulkanPhysicalDeviceQueueFamilyInfo{
		GraphicsFamilyIndex: -1,
		PresentFamilyIndex:  -1,
		ComputeFamilyIndex:  -1,
		TransferFamilyIndex: -1,
	}
	name := cString(properties.DeviceName[:])

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device '%s' is not a discrete GPU, and one is required. Skipping.", name)
		return queueInfo, VulkanSwapchainSupportInfo{}, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	minTransferScore := 255
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := vk.QueueFlagBits(queueFamilies[i].QueueFlags)
		score := 0

		if flags&vk.QueueGraphicsBit != 0 {
			if queueInfo.GraphicsFamilyIndex < 0 {
				queueInfo.GraphicsFamilyIndex = int32(i)
			}
			score++
		}
		if flags&vk.QueueComputeBit != 0 {
			if queueInfo.ComputeFamilyIndex < 0 {
				queueInfo.ComputeFamilyIndex = int32(i)
			}
			score++
		}
		if flags&vk.QueueTransferBit != 0 && score <= minTransferScore {
			minTransferScore = score
			queueInfo.TransferFamilyIndex = int32(i)
		}

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return queueInfo, VulkanSwapchainSupportInfo{}, false
		}
		// Prefer presenting from the graphics family.
		if supportsPresent == vk.True && (queueInfo.PresentFamilyIndex < 0 || int32(i) == queueInfo.GraphicsFamilyIndex) {
			queueInfo.PresentFamilyIndex = int32(i)
		}
	}

	core.LogInfo("Graphics | Present | Compute | Transfer | Name")
	core.LogInfo("%8d | %7d | %7d | %8d | %s",
		queueInfo.GraphicsFamilyIndex,
		queueInfo.PresentFamilyIndex,
		queueInfo.ComputeFamilyIndex,
		queueInfo.TransferFamilyIndex,
		name)

	if (requirements.Graphics && queueInfo.GraphicsFamilyIndex < 0) ||
		(requirements.Present && queueInfo.PresentFamilyIndex < 0) ||
		(requirements.Compute && queueInfo.ComputeFamilyIndex < 0) ||
		(requirements.Transfer && queueInfo.TransferFamilyIndex < 0) {
		core.LogInfo("Device '%s' does not meet queue requirements, skipping.", name)
		return queueInfo, VulkanSwapchainSupportInfo{}, false
	}

	support, err := QuerySwapchainSupport(device, surface)
	if err != nil || support.FormatCount < 1 || support.PresentModeCount < 1 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return queueInfo, support, false
	}

	if len(requirements.DeviceExtensionNames) > 0 {
		var count uint32
		if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success {
			return queueInfo, support, false
		}
		available := make([]vk.ExtensionProperties, count)
		if count > 0 {
			if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
				return queueInfo, support, false
			}
		}
		for _, required := range requirements.DeviceExtensionNames {
			found := false
			for j := range available {
				available[j].Deref()
				if cString(available[j].ExtensionName[:]) == required {
					found = true
					break
				}
			}
			if !found {
				core.LogInfo("Required extension not found: '%s', skipping device.", required)
				return queueInfo, support, false
			}
		}
	}

	if requirements.SamplerAnisotropy && features.SamplerAnisotropy == vk.False {
		core.LogInfo("Device does not support samplerAnisotropy, skipping.")
		return queueInfo, support, false
	}

	core.LogDebug("Graphics Family Index: %d", queueInfo.GraphicsFamilyIndex)
	core.LogDebug("Present Family Index:  %d", queueInfo.PresentFamilyIndex)
	core.LogDebug("Transfer Family Index: %d", queueInfo.TransferFamilyIndex)
	core.LogDebug("Compute Family Index:  %d", queueInfo.ComputeFamilyIndex)
	return queueInfo, support, true
}
