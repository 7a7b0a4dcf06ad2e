package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
)

// VulkanContext holds the instance level objects shared by every part of
// the backend.
type VulkanContext struct {
	// The framebuffer's current size, as reported by the surface.
	FramebufferWidth  uint32
	FramebufferHeight uint32

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	Device    *VulkanDevice
	Swapchain *VulkanSwapchain
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has every property flag, or -1.
func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// allocate binds device memory matching requirements.
func (vc *VulkanContext) allocate(requirements vk.MemoryRequirements, flags vk.MemoryPropertyFlagBits) (vk.DeviceMemory, error) {
	requirements.Deref()
	index := vc.FindMemoryIndex(requirements.MemoryTypeBits, uint32(flags))
	if index < 0 {
		return vk.NullDeviceMemory, check("memory type", vk.ErrorOutOfDeviceMemory)
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if err := check("vkAllocateMemory", vk.AllocateMemory(vc.Device.LogicalDevice, &info, vc.Allocator, &memory)); err != nil {
		return vk.NullDeviceMemory, err
	}
	return memory, nil
}
