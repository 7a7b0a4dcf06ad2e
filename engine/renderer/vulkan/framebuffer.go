package vulkan

import (
	vk "github.com/goki/vulkan"
)

type VulkanFramebuffer struct {
	Handle        vk.Framebuffer
	Width, Height uint32
	Renderpass    *VulkanRenderpass
}

func FramebufferCreate(context *VulkanContext, renderpass *VulkanRenderpass, width, height uint32, attachments []vk.ImageView) (*VulkanFramebuffer, error) {
	out := &VulkanFramebuffer{
		Width:      width,
		Height:     height,
		Renderpass: renderpass,
	}
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}
	if err := check("vkCreateFramebuffer", vk.CreateFramebuffer(context.Device.LogicalDevice, &info, context.Allocator, &out.Handle)); err != nil {
		return nil, err
	}
	return out, nil
}

func (vfb *VulkanFramebuffer) Destroy(context *VulkanContext) {
	if vfb.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(context.Device.LogicalDevice, vfb.Handle, context.Allocator)
		vfb.Handle = vk.NullFramebuffer
	}
	vfb.Renderpass = nil
}
