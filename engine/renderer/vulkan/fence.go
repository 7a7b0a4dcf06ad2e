package vulkan

import (
	"context"

	vk "github.com/goki/vulkan"
)

type VulkanFence struct {
	Handle vk.Fence
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	info := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if createSignaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	fence := &VulkanFence{}
	if err := check("vkCreateFence", vk.CreateFence(context.Device.LogicalDevice, &info, context.Allocator, &fence.Handle)); err != nil {
		return nil, err
	}
	return fence, nil
}

func (vf *VulkanFence) Destroy(context *VulkanContext) {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = vk.NullFence
	}
}

// Wait blocks until the fence is signalled or ctx is done. The wait is split
// in short slices so cancellation is noticed.
func (vf *VulkanFence) Wait(ctx context.Context, vc *VulkanContext) error {
	for {
		result := vk.WaitForFences(vc.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, fenceWaitSliceNs)
		switch result {
		case vk.Success:
			return nil
		case vk.Timeout:
			if err := ctx.Err(); err != nil {
				return err
			}
		default:
			return check("vkWaitForFences", result)
		}
	}
}

func (vf *VulkanFence) Reset(vc *VulkanContext) error {
	return check("vkResetFences", vk.ResetFences(vc.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}))
}

func SemaphoreCreate(vc *VulkanContext) (vk.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var s vk.Semaphore
	if err := check("vkCreateSemaphore", vk.CreateSemaphore(vc.Device.LogicalDevice, &info, vc.Allocator, &s)); err != nil {
		return vk.NullSemaphore, err
	}
	return s, nil
}
