package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

func vulkanFormat(f gpu.Format) vk.Format {
	switch f {
	case gpu.FormatRGBA8:
		return vk.FormatR8g8b8a8Unorm
	case gpu.FormatRGBA16F:
		return vk.FormatR16g16b16a16Sfloat
	case gpu.FormatRGBA32F:
		return vk.FormatR32g32b32a32Sfloat
	case gpu.FormatR32UI:
		return vk.FormatR32Uint
	case gpu.FormatD32:
		return vk.FormatD32Sfloat
	case gpu.FormatD24S8:
		return vk.FormatD24UnormS8Uint
	}
	return vk.FormatUndefined
}

// vulkanLayout maps an engine layout. Images are never presented directly:
// the final image is blitted onto the swapchain, so the present layout is
// the transfer source one.
func vulkanLayout(l gpu.ImageLayout, depth bool) vk.ImageLayout {
	switch l {
	case gpu.ImageLayoutColourAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.ImageLayoutDepthAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.ImageLayoutShaderRead:
		if depth {
			return vk.ImageLayoutDepthStencilReadOnlyOptimal
		}
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.ImageLayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.ImageLayoutTransferSrc, gpu.ImageLayoutPresent:
		return vk.ImageLayoutTransferSrcOptimal
	}
	return vk.ImageLayoutUndefined
}

var accessBits = []struct {
	from gpu.Access
	to   vk.AccessFlagBits
}{
	{gpu.AccessColourAttachmentRead, vk.AccessColorAttachmentReadBit},
	{gpu.AccessColourAttachmentWrite, vk.AccessColorAttachmentWriteBit},
	{gpu.AccessDepthAttachmentRead, vk.AccessDepthStencilAttachmentReadBit},
	{gpu.AccessDepthAttachmentWrite, vk.AccessDepthStencilAttachmentWriteBit},
	{gpu.AccessShaderRead, vk.AccessShaderReadBit},
	{gpu.AccessShaderWrite, vk.AccessShaderWriteBit},
	{gpu.AccessTransferRead, vk.AccessTransferReadBit},
	{gpu.AccessMemoryRead, vk.AccessMemoryReadBit},
}

func vulkanAccess(a gpu.Access) vk.AccessFlags {
	var out vk.AccessFlags
	for _, b := range accessBits {
		if a&b.from != 0 {
			out |= vk.AccessFlags(b.to)
		}
	}
	return out
}

var stageBits = []struct {
	from gpu.PipelineStage
	to   vk.PipelineStageFlagBits
}{
	{gpu.StageTopOfPipe, vk.PipelineStageTopOfPipeBit},
	{gpu.StageVertexShader, vk.PipelineStageVertexShaderBit},
	{gpu.StageFragmentShader, vk.PipelineStageFragmentShaderBit},
	{gpu.StageEarlyFragmentTests, vk.PipelineStageEarlyFragmentTestsBit},
	{gpu.StageLateFragmentTests, vk.PipelineStageLateFragmentTestsBit},
	{gpu.StageColourAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
	{gpu.StageComputeShader, vk.PipelineStageComputeShaderBit},
	{gpu.StageTransfer, vk.PipelineStageTransferBit},
	{gpu.StageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
}

// vulkanStages maps a stage mask; an empty mask means top of pipe.
func vulkanStages(s gpu.PipelineStage) vk.PipelineStageFlags {
	var out vk.PipelineStageFlags
	for _, b := range stageBits {
		if s&b.from != 0 {
			out |= vk.PipelineStageFlags(b.to)
		}
	}
	if out == 0 {
		out = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	return out
}

func vulkanLoadOp(op gpu.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case gpu.LoadOpLoad:
		return vk.AttachmentLoadOpLoad
	case gpu.LoadOpClear:
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpDontCare
}

func vulkanCullMode(c gpu.CullMode) vk.CullModeFlags {
	switch c {
	case gpu.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case gpu.CullModeBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

func vulkanTopology(t gpu.Topology) vk.PrimitiveTopology {
	switch t {
	case gpu.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case gpu.TopologyLineList:
		return vk.PrimitiveTopologyLineList
	case gpu.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	}
	return vk.PrimitiveTopologyTriangleList
}

func vulkanBlendFactor(f gpu.BlendFactor) vk.BlendFactor {
	switch f {
	case gpu.BlendFactorOne:
		return vk.BlendFactorOne
	case gpu.BlendFactorSrcColour:
		return vk.BlendFactorSrcColor
	case gpu.BlendFactorInvSrcColour:
		return vk.BlendFactorOneMinusSrcColor
	case gpu.BlendFactorSrcAlpha:
		return vk.BlendFactorSrcAlpha
	case gpu.BlendFactorInvSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	}
	return vk.BlendFactorZero
}

func vulkanDescriptorType(t gpu.DescriptorType) vk.DescriptorType {
	switch t {
	case gpu.DescriptorStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case gpu.DescriptorSampledImage:
		return vk.DescriptorTypeCombinedImageSampler
	}
	return vk.DescriptorTypeUniformBuffer
}

func vulkanShaderStage(s gpu.ShaderStage) vk.ShaderStageFlagBits {
	switch s {
	case gpu.ShaderStageGeometry:
		return vk.ShaderStageGeometryBit
	case gpu.ShaderStageFragment:
		return vk.ShaderStageFragmentBit
	}
	return vk.ShaderStageVertexBit
}

func vulkanBufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlags
	if u&gpu.BufferUsageVertex != 0 {
		out |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if u&gpu.BufferUsageIndex != 0 {
		out |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	}
	if u&gpu.BufferUsageUniform != 0 {
		out |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	if u&gpu.BufferUsageStorage != 0 {
		out |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	return out
}

// vulkanImageUsage always adds transfer source so any colour image can be
// blitted onto the swapchain.
func vulkanImageUsage(desc gpu.ImageDesc) vk.ImageUsageFlags {
	out := vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit)
	if desc.Usage&gpu.ImageUsageColourAttachment != 0 {
		out |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	}
	if desc.Usage&gpu.ImageUsageDepthAttachment != 0 || desc.Format.IsDepth() {
		out |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
	}
	if desc.Usage&gpu.ImageUsageSampled != 0 {
		out |= vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	}
	if desc.Usage&gpu.ImageUsageStorage != 0 {
		out |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	return out
}

func aspectOf(depth bool) vk.ImageAspectFlags {
	if depth {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}
