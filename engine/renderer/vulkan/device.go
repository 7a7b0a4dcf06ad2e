package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
)

type VulkanDevice struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	SwapchainSupport   VulkanSwapchainSupportInfo
	GraphicsQueueIndex int32
	PresentQueueIndex  int32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format
	Name        string
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	DeviceExtensionNames []string
	SamplerAnisotropy    bool
	DiscreteGPU          bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
}

// DeviceCreate selects a physical device and creates the logical device with
// its graphics and present queues.
func DeviceCreate(context *VulkanContext, requirements VulkanPhysicalDeviceRequirements) error {
	if err := SelectPhysicalDevice(context, requirements); err != nil {
		return err
	}
	core.LogInfo("Creating logical device...")
	d := context.Device

	indices := []uint32{uint32(d.GraphicsQueueIndex)}
	if d.PresentQueueIndex != d.GraphicsQueueIndex {
		indices = append(indices, uint32(d.PresentQueueIndex))
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

	deviceFeatures := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: d.Features.SamplerAnisotropy,
		GeometryShader:    d.Features.GeometryShader,
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if hasDeviceExtension(d.PhysicalDevice, "VK_KHR_portability_subset") {
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
	if err := check("vkCreateDevice", vk.CreateDevice(d.PhysicalDevice, &deviceCreateInfo, context.Allocator, &d.LogicalDevice)); err != nil {
		return fmt.Errorf("%w: %w", core.ErrDeviceCreation, err)
	}
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.GraphicsQueueIndex), 0, &d.GraphicsQueue)
	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.PresentQueueIndex), 0, &d.PresentQueue)
	core.LogInfo("Queues obtained.")

	if !DeviceDetectDepthFormat(d) {
		core.LogWarn("No supported depth format found.")
	}
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	d := context.Device
	if d == nil {
		return
	}
	d.GraphicsQueue = nil
	d.PresentQueue = nil
	if d.LogicalDevice != nil {
		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(d.LogicalDevice, context.Allocator)
		d.LogicalDevice = nil
	}
	// Physical devices are not destroyed.
	d.PhysicalDevice = nil
	d.SwapchainSupport = VulkanSwapchainSupportInfo{}
	d.GraphicsQueueIndex = -1
	d.PresentQueueIndex = -1
}

func hasDeviceExtension(device vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
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

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	if err := check("vkGetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities)); err != nil {
		return err
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := check("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil)); err != nil {
		return err
	}
	supportInfo.Formats = make([]vk.SurfaceFormat, formatCount)
	if formatCount > 0 {
		if err := check("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, supportInfo.Formats)); err != nil {
			return err
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if err := check("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil)); err != nil {
		return err
	}
	supportInfo.PresentModes = make([]vk.PresentMode, modeCount)
	if modeCount > 0 {
		return check("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, supportInfo.PresentModes))
	}
	return nil
}

func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if properties.LinearTilingFeatures&flags == flags || properties.OptimalTilingFeatures&flags == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	device.DepthFormat = vk.FormatUndefined
	return false
}

func SelectPhysicalDevice(context *VulkanContext, requirements VulkanPhysicalDeviceRequirements) error {
	var physicalDeviceCount uint32
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil)); err != nil {
		return err
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("%w: no devices which support Vulkan were found", core.ErrDeviceCreation)
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices)); err != nil {
		return err
	}

	if runtime.GOOS == "darwin" {
		requirements.DiscreteGPU = false
	}

	for _, physical := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(physical, &properties)
		properties.Deref()
		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(physical, &features)
		features.Deref()
		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(physical, &memory)
		memory.Deref()

		name := cString(properties.DeviceName[:])
		var support VulkanSwapchainSupportInfo
		queues, ok := PhysicalDeviceMeetsRequirements(physical, context.Surface, name, &properties, &features, &requirements, &support)
		if !ok {
			continue
		}

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
		core.LogInfo(
			"Vulkan API version: %d.%d.%d",
			vk.Version(properties.ApiVersion).Major(),
			vk.Version(properties.ApiVersion).Minor(),
			vk.Version(properties.ApiVersion).Patch(),
		)
		for j := uint32(0); j < memory.MemoryHeapCount; j++ {
			memory.MemoryHeaps[j].Deref()
			memorySizeGib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
			if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
				core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
			} else {
				core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
			}
		}

		context.Device = &VulkanDevice{
			PhysicalDevice:     physical,
			SwapchainSupport:   support,
			GraphicsQueueIndex: queues.GraphicsFamilyIndex,
			PresentQueueIndex:  queues.PresentFamilyIndex,
			Properties:         properties,
			Features:           features,
			Memory:             memory,
			Name:               name,
		}
		return nil
	}
	return fmt.Errorf("%w: no physical device meets the requirements", core.ErrDeviceCreation)
}

func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, name string, properties *vk.PhysicalDeviceProperties, features *vk.PhysicalDeviceFeatures, requirements *VulkanPhysicalDeviceRequirements, outSwapchainSupport *VulkanSwapchainSupportInfo) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	queues := VulkanPhysicalDeviceQueueFamilyInfo{GraphicsFamilyIndex: -1, PresentFamilyIndex: -1}

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("%s is not a discrete GPU, and one is required. Skipping.", name)
		return queues, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	for i := range queueFamilies {
		queueFamilies[i].Deref()
		graphics := vk.QueueFlagBits(queueFamilies[i].QueueFlags)&vk.QueueGraphicsBit != 0
		if graphics && queues.GraphicsFamilyIndex < 0 {
			queues.GraphicsFamilyIndex = int32(i)
		}
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return queues, false
		}
		if supportsPresent == vk.True {
			// prefer one family for both so images are never shared
			if queues.PresentFamilyIndex < 0 || (graphics && int32(i) == queues.GraphicsFamilyIndex) {
				queues.PresentFamilyIndex = int32(i)
			}
		}
	}
	core.LogDebug("%s: graphics family %d, present family %d", name, queues.GraphicsFamilyIndex, queues.PresentFamilyIndex)

	if (requirements.Graphics && queues.GraphicsFamilyIndex < 0) || (requirements.Present && queues.PresentFamilyIndex < 0) {
		core.LogInfo("%s does not have the required queues, skipping.", name)
		return queues, false
	}

	if err := DeviceQuerySwapchainSupport(device, surface, outSwapchainSupport); err != nil {
		return queues, false
	}
	if len(outSwapchainSupport.Formats) == 0 || len(outSwapchainSupport.PresentModes) == 0 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return queues, false
	}

	for _, required := range requirements.DeviceExtensionNames {
		if !hasDeviceExtension(device, required) {
			core.LogInfo("Required extension not found: '%s', skipping device.", required)
			return queues, false
		}
	}

	if requirements.SamplerAnisotropy && features.SamplerAnisotropy == vk.False {
		core.LogInfo("Device does not support samplerAnisotropy, skipping.")
		return queues, false
	}
	return queues, true
}
