package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

/**
 * @brief Holds a Vulkan pipeline and its layout.
 */
type VulkanPipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout
	Name           string

	vertexInput bool
	instanced   bool
}

/**
 * @brief Creates a graphics pipeline. Viewport and scissor are dynamic, so
 * one pipeline serves every target size.
 * @param renderpass The render pass the pipeline draws in.
 * @param layouts The descriptor set layouts, in set order.
 */
func NewGraphicsPipeline(context *VulkanContext, desc gpu.PipelineDesc, renderpass *VulkanRenderpass, layouts []vk.DescriptorSetLayout) (*VulkanPipeline, error) {
	out := &VulkanPipeline{Name: desc.Name, vertexInput: !desc.NoVertexInput, instanced: desc.Instanced}

	stages := make([]vk.PipelineShaderStageCreateInfo, 0, len(desc.Shaders))
	var modules []*VulkanShaderStage
	defer func() {
		// modules are only needed until the pipeline exists
		for _, m := range modules {
			m.Destroy(context)
		}
	}()
	for _, sm := range desc.Shaders {
		stage, err := NewShaderStage(context, sm)
		if err != nil {
			return nil, err
		}
		modules = append(modules, stage)
		stages = append(stages, stage.ShaderStageCreateInfo)
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1.0,
		CullMode:    vulkanCullMode(desc.Rasterizer.Cull),
		FrontFace:   vk.FrontFaceCounterClockwise,
	}
	if desc.Rasterizer.Wireframe {
		rasterizer.PolygonMode = vk.PolygonModeLine
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	ds := desc.DepthStencil
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  vkBool(ds.DepthTest),
		DepthWriteEnable: vkBool(ds.DepthWrite),
		// gpu.CompareOp follows the Vulkan enumeration order
		DepthCompareOp:    vk.CompareOp(ds.DepthCompare),
		StencilTestEnable: vkBool(ds.Stencil.Enable),
	}
	if ds.Stencil.Enable {
		op := vk.StencilOpState{
			FailOp:      vk.StencilOpKeep,
			PassOp:      vk.StencilOpReplace,
			DepthFailOp: vk.StencilOpKeep,
			CompareOp:   vk.CompareOp(ds.Stencil.Compare),
			CompareMask: 0xff,
			WriteMask:   0xff,
			Reference:   ds.Stencil.Reference,
		}
		depthStencil.Front = op
		depthStencil.Back = op
	}

	writeAll := vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
		vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit)
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(desc.Blend.Attachments))
	for i, a := range desc.Blend.Attachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vkBool(a.Enable),
			SrcColorBlendFactor: vulkanBlendFactor(a.SrcColour),
			DstColorBlendFactor: vulkanBlendFactor(a.DstColour),
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vulkanBlendFactor(a.SrcAlpha),
			DstAlphaBlendFactor: vulkanBlendFactor(a.DstAlpha),
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask:      writeAll,
		}
	}
	colourBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	var bindings []vk.VertexInputBindingDescription
	var attributes []vk.VertexInputAttributeDescription
	if out.vertexInput {
		bindings, attributes = vertexInput(desc.Instanced)
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vulkanTopology(desc.Topology),
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts,
	}
	device := context.Device.LogicalDevice
	if err := check("vkCreatePipelineLayout", vk.CreatePipelineLayout(device, &layoutInfo, context.Allocator, &out.PipelineLayout)); err != nil {
		return nil, err
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colourBlend,
		PDynamicState:       &dynamicState,
		Layout:              out.PipelineLayout,
		RenderPass:          renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	if err := check("vkCreateGraphicsPipelines", vk.CreateGraphicsPipelines(device, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{info}, context.Allocator, pipelines)); err != nil {
		out.Destroy(context)
		return nil, err
	}
	out.Handle = pipelines[0]
	core.LogDebug("vulkan: pipeline %s created", desc.Name)
	return out, nil
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if pipeline.Handle != vk.NullPipeline {
		vk.DestroyPipeline(device, pipeline.Handle, context.Allocator)
		pipeline.Handle = vk.NullPipeline
	}
	if pipeline.PipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(device, pipeline.PipelineLayout, context.Allocator)
		pipeline.PipelineLayout = vk.NullPipelineLayout
	}
}

func vkBool(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}
