package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type VulkanRenderpass struct {
	Handle      vk.RenderPass
	Name        string
	ClearValues []vk.ClearValue
}

func attachmentDescription(a gpu.Attachment, depth bool) vk.AttachmentDescription {
	working := gpu.ImageLayoutColourAttachment
	if depth {
		working = gpu.ImageLayoutDepthAttachment
	}
	// Only loaded contents need a known layout on entry.
	initial := vk.ImageLayoutUndefined
	if a.Load == gpu.LoadOpLoad {
		initial = vulkanLayout(working, depth)
	}
	final := a.FinalLayout
	if final == gpu.ImageLayoutUndefined {
		final = working
	}
	return vk.AttachmentDescription{
		Format:         vulkanFormat(a.Format),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vulkanLoadOp(a.Load),
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  initial,
		FinalLayout:    vulkanLayout(final, depth),
	}
}

/**
 * @brief Creates a single subpass render pass from its description. Colour
 * attachments come first, followed by the optional depth attachment.
 */
func RenderpassCreate(context *VulkanContext, desc gpu.RenderPassDesc) (*VulkanRenderpass, error) {
	out := &VulkanRenderpass{Name: desc.Name}

	var attachments []vk.AttachmentDescription
	var colourRefs []vk.AttachmentReference
	for i, a := range desc.Colour {
		attachments = append(attachments, attachmentDescription(a, false))
		colourRefs = append(colourRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
		var clear vk.ClearValue
		clear.SetColor(desc.ClearColour[:])
		out.ClearValues = append(out.ClearValues, clear)
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colourRefs)),
		PColorAttachments:    colourRefs,
	}
	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	access := vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	if desc.Depth != nil {
		attachments = append(attachments, attachmentDescription(*desc.Depth, true))
		depthRef := vk.AttachmentReference{
			Attachment: uint32(len(desc.Colour)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		subpass.PDepthStencilAttachment = &depthRef
		var clear vk.ClearValue
		clear.SetDepthStencil(desc.ClearDepth, 0)
		out.ClearValues = append(out.ClearValues, clear)
		stages |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
		access |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}

	// Cross stage dependencies are barriers recorded by the frame graph; this
	// one only orders the attachment writes with the previous pass instance.
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stages,
		DstStageMask:  stages,
		DstAccessMask: access,
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	if err := check("vkCreateRenderPass", vk.CreateRenderPass(context.Device.LogicalDevice, &info, context.Allocator, &out.Handle)); err != nil {
		return nil, err
	}
	return out, nil
}

func (vr *VulkanRenderpass) Destroy(context *VulkanContext) {
	if vr.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vr.Handle, context.Allocator)
		vr.Handle = vk.NullRenderPass
	}
}

func (vr *VulkanRenderpass) Begin(cb vk.CommandBuffer, fb *VulkanFramebuffer, contents gpu.Contents) {
	info := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: fb.Handle,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: fb.Width, Height: fb.Height},
		},
		ClearValueCount: uint32(len(vr.ClearValues)),
		PClearValues:    vr.ClearValues,
	}
	sc := vk.SubpassContentsInline
	if contents == gpu.ContentsBundles {
		sc = vk.SubpassContentsSecondaryCommandBuffers
	}
	vk.CmdBeginRenderPass(cb, &info, sc)
}
