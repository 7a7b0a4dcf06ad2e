package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

var ErrCommandBufferState = errors.New("vulkan: command buffer used in the wrong state")

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

/**
 * @brief A primary command buffer, or a secondary one (bundle) executed
 * inside instances of one render pass. Every buffer owns its command pool so
 * buffers can be recorded from different goroutines at the same time.
 */
type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	Pool   vk.CommandPool
	State  VulkanCommandBufferState

	name   string
	device *Device
	// set for bundles
	renderpass *VulkanRenderpass
	// layout of the last bound pipeline, used to bind descriptor sets
	layout vk.PipelineLayout
	// false until a vertex buffer is bound after the last pipeline change
	geometry  bool
	indexed   bool
	instanced bool
}

func NewVulkanCommandBuffer(d *Device, name string, renderpass *VulkanRenderpass) (*VulkanCommandBuffer, error) {
	context := d.context
	cb := &VulkanCommandBuffer{
		State:      COMMAND_BUFFER_STATE_NOT_ALLOCATED,
		name:       name,
		device:     d,
		renderpass: renderpass,
	}
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(context.Device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if err := check("vkCreateCommandPool", vk.CreateCommandPool(context.Device.LogicalDevice, &poolInfo, context.Allocator, &cb.Pool)); err != nil {
		return nil, err
	}

	level := vk.CommandBufferLevelPrimary
	if renderpass != nil {
		level = vk.CommandBufferLevelSecondary
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        cb.Pool,
		CommandBufferCount: 1,
		Level:              level,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := check("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles)); err != nil {
		vk.DestroyCommandPool(context.Device.LogicalDevice, cb.Pool, context.Allocator)
		return nil, err
	}
	cb.Handle = handles[0]
	cb.State = COMMAND_BUFFER_STATE_READY
	return cb, nil
}

func (v *VulkanCommandBuffer) Name() string { return v.name }

func (v *VulkanCommandBuffer) Begin() error {
	switch v.State {
	case COMMAND_BUFFER_STATE_NOT_ALLOCATED:
		return fmt.Errorf("%w: %s is freed", ErrCommandBufferState, v.name)
	case COMMAND_BUFFER_STATE_RECORDING, COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return fmt.Errorf("%w: %s is already recording", ErrCommandBufferState, v.name)
	}
	if v.device.lost() {
		return core.ErrDeviceLost
	}
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if v.renderpass != nil {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
		beginInfo.PInheritanceInfo = []vk.CommandBufferInheritanceInfo{{
			SType:      vk.StructureTypeCommandBufferInheritanceInfo,
			RenderPass: v.renderpass.Handle,
			Subpass:    0,
		}}
	}
	if err := check("vkBeginCommandBuffer", vk.BeginCommandBuffer(v.Handle, beginInfo)); err != nil {
		return err
	}
	v.layout = vk.NullPipelineLayout
	v.geometry, v.indexed, v.instanced = false, false, false
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State != COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("%w: %s ends while not recording", ErrCommandBufferState, v.name)
	}
	if err := check("vkEndCommandBuffer", vk.EndCommandBuffer(v.Handle)); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) Reset() error {
	if v.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return nil
	}
	if err := check("vkResetCommandBuffer", vk.ResetCommandBuffer(v.Handle, 0)); err != nil {
		return err
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) Recorded() bool {
	return v.State == COMMAND_BUFFER_STATE_RECORDING_ENDED
}

func (v *VulkanCommandBuffer) recording() bool {
	if v.State == COMMAND_BUFFER_STATE_RECORDING || v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return true
	}
	core.LogWarn("vulkan: %s: command dropped, buffer is not recording", v.name)
	return false
}

func (v *VulkanCommandBuffer) BeginRenderPass(rp gpu.RenderPass, fb gpu.Framebuffer, extent gpu.Extent, contents gpu.Contents) {
	if !v.recording() {
		return
	}
	renderpass, ok := v.device.renderPasses.get(rp)
	framebuffer, fok := v.device.framebuffers.get(fb)
	if !ok || !fok {
		core.LogError("vulkan: %s: unknown render pass %d or framebuffer %d", v.name, rp, fb)
		return
	}
	renderpass.Begin(v.Handle, framebuffer, contents)
	v.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	if v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return
	}
	vk.CmdEndRenderPass(v.Handle)
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

func (v *VulkanCommandBuffer) BindPipeline(p gpu.Pipeline) {
	if !v.recording() {
		return
	}
	pipeline, ok := v.device.pipelines.get(p)
	if !ok {
		core.LogError("vulkan: %s: unknown pipeline %d", v.name, p)
		return
	}
	vk.CmdBindPipeline(v.Handle, vk.PipelineBindPointGraphics, pipeline.Handle)
	v.layout = pipeline.PipelineLayout
	// screen passes draw a full screen triangle from the vertex index
	v.geometry = !pipeline.vertexInput
	v.indexed = false
	v.instanced = pipeline.instanced
}

func (v *VulkanCommandBuffer) BindDescriptorSets(sets ...gpu.DescriptorSet) {
	if !v.recording() || len(sets) == 0 {
		return
	}
	if v.layout == vk.NullPipelineLayout {
		core.LogError("vulkan: %s: descriptor sets bound before a pipeline", v.name)
		return
	}
	handles := make([]vk.DescriptorSet, 0, len(sets))
	for _, s := range sets {
		set, ok := v.device.sets.get(s)
		if !ok {
			core.LogError("vulkan: %s: unknown descriptor set %d", v.name, s)
			return
		}
		handles = append(handles, set.Handle)
	}
	vk.CmdBindDescriptorSets(v.Handle, vk.PipelineBindPointGraphics, v.layout, 0, uint32(len(handles)), handles, 0, nil)
}

func (v *VulkanCommandBuffer) BindGeometry(g gpu.GeometryBuffers) {
	if !v.recording() {
		return
	}
	vertex, ok := v.device.buffers.get(g.Vertex)
	if !ok {
		core.LogWarn("vulkan: %s: no vertex buffer %d, draw skipped", v.name, g.Vertex)
		v.geometry = false
		return
	}
	buffers := []vk.Buffer{vertex.Handle}
	if v.instanced {
		instance, ok := v.device.buffers.get(g.Instance)
		if !ok {
			core.LogWarn("vulkan: %s: no instance buffer %d, draw skipped", v.name, g.Instance)
			v.geometry = false
			return
		}
		buffers = append(buffers, instance.Handle)
	}
	offsets := make([]vk.DeviceSize, len(buffers))
	vk.CmdBindVertexBuffers(v.Handle, 0, uint32(len(buffers)), buffers, offsets)
	index, indexed := v.device.buffers.get(g.Index)
	if indexed {
		vk.CmdBindIndexBuffer(v.Handle, index.Handle, 0, vk.IndexTypeUint32)
	}
	v.geometry, v.indexed = true, indexed
}

func (v *VulkanCommandBuffer) SetViewport(vp gpu.Viewport) {
	if !v.recording() {
		return
	}
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})
}

func (v *VulkanCommandBuffer) SetScissor(r gpu.Rect) {
	if !v.recording() {
		return
	}
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}})
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount uint32) {
	if !v.recording() || !v.geometry {
		return
	}
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, 0, 0)
}

func (v *VulkanCommandBuffer) DrawIndexed(indexCount, instanceCount uint32) {
	if !v.recording() || !v.geometry || !v.indexed {
		return
	}
	vk.CmdDrawIndexed(v.Handle, indexCount, instanceCount, 0, 0, 0)
}

// PipelineBarrier records every barrier in one call, merging their stage
// masks.
func (v *VulkanCommandBuffer) PipelineBarrier(barriers ...gpu.Barrier) {
	if !v.recording() || len(barriers) == 0 {
		return
	}
	var src, dst gpu.PipelineStage
	var images []vk.ImageMemoryBarrier
	var buffers []vk.BufferMemoryBarrier
	for _, b := range barriers {
		src |= b.SrcStage
		dst |= b.DstStage
		if b.Buffer != 0 {
			buffer, ok := v.device.buffers.get(b.Buffer)
			if !ok {
				core.LogError("vulkan: %s: barrier on unknown buffer %d", v.name, b.Buffer)
				continue
			}
			buffers = append(buffers, vk.BufferMemoryBarrier{
				SType:               vk.StructureTypeBufferMemoryBarrier,
				SrcAccessMask:       vulkanAccess(b.SrcAccess),
				DstAccessMask:       vulkanAccess(b.DstAccess),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Buffer:              buffer.Handle,
				Size:                vk.DeviceSize(vk.WholeSize),
			})
			continue
		}
		img, ok := v.device.images.get(b.Image)
		if !ok {
			core.LogError("vulkan: %s: barrier on unknown image %d", v.name, b.Image)
			continue
		}
		images = append(images, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vulkanAccess(b.SrcAccess),
			DstAccessMask:       vulkanAccess(b.DstAccess),
			OldLayout:           vulkanLayout(b.OldLayout, b.Depth),
			NewLayout:           vulkanLayout(b.NewLayout, b.Depth),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange:    img.subresources(),
		})
	}
	vk.CmdPipelineBarrier(v.Handle, vulkanStages(src), vulkanStages(dst), 0,
		0, nil,
		uint32(len(buffers)), buffers,
		uint32(len(images)), images)
}

func (v *VulkanCommandBuffer) ExecuteBundles(bundles ...gpu.CommandBuffer) {
	if !v.recording() || len(bundles) == 0 {
		return
	}
	handles := make([]vk.CommandBuffer, 0, len(bundles))
	for _, b := range bundles {
		bundle, ok := b.(*VulkanCommandBuffer)
		if !ok || bundle.renderpass == nil || !bundle.Recorded() {
			core.LogError("vulkan: %s: %s is not a recorded bundle", v.name, b.Name())
			continue
		}
		handles = append(handles, bundle.Handle)
	}
	if len(handles) > 0 {
		vk.CmdExecuteCommands(v.Handle, uint32(len(handles)), handles)
	}
}

func (v *VulkanCommandBuffer) Free() {
	if v.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return
	}
	context := v.device.context
	vk.FreeCommandBuffers(context.Device.LogicalDevice, v.Pool, 1, []vk.CommandBuffer{v.Handle})
	vk.DestroyCommandPool(context.Device.LogicalDevice, v.Pool, context.Allocator)
	v.Handle = vk.CommandBuffer(vk.NullHandle)
	v.Pool = vk.NullCommandPool
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
	v.device.commandBuffers.Delete(v)
}
