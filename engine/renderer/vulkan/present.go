package vulkan

import (
	"context"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// presentSlotCount is the number of presents that may be in flight.
const presentSlotCount = 3

func (d *Device) createPresentSlots() error {
	vc := d.context
	d.presents = make([]*presentSlot, 0, presentSlotCount)
	for i := 0; i < presentSlotCount; i++ {
		slot := &presentSlot{}
		d.presents = append(d.presents, slot)
		var err error
		if slot.acquired, err = SemaphoreCreate(vc); err != nil {
			return err
		}
		if slot.blitted, err = SemaphoreCreate(vc); err != nil {
			return err
		}
		if slot.fence, err = NewFence(vc, true); err != nil {
			return err
		}
		if slot.cb, err = NewVulkanCommandBuffer(d, fmt.Sprintf("present_%d", i), nil); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) destroyPresentSlots() {
	vc := d.context
	for _, slot := range d.presents {
		if slot.cb != nil {
			slot.cb.Free()
		}
		if slot.fence != nil {
			slot.fence.Destroy(vc)
		}
		if slot.acquired != vk.NullSemaphore {
			vk.DestroySemaphore(vc.Device.LogicalDevice, slot.acquired, vc.Allocator)
		}
		if slot.blitted != vk.NullSemaphore {
			vk.DestroySemaphore(vc.Device.LogicalDevice, slot.blitted, vc.Allocator)
		}
	}
	d.presents = nil
}

// Present blits image, which must be in the present layout, onto the next
// swapchain image once every wait semaphore is signalled. An out of date
// swapchain is reported as core.ErrOutOfDate and nothing is presented.
func (d *Device) Present(image gpu.Image, wait []gpu.Semaphore) error {
	if d.lost() {
		return core.ErrDeviceLost
	}
	src, ok := d.images.get(image)
	if !ok {
		return fmt.Errorf("%w: image %d", ErrUnknownHandle, image)
	}
	waits, err := d.semaphoreHandles(wait)
	if err != nil {
		return err
	}
	vc := d.context
	slot := d.presents[d.presentCount%len(d.presents)]

	if err := slot.fence.Wait(context.Background(), vc); err != nil {
		return d.observe(err)
	}
	swapchain := vc.Swapchain
	index, err := swapchain.AcquireNextImage(vc, slot.acquired)
	if err != nil {
		return d.observe(err)
	}
	if err := slot.fence.Reset(vc); err != nil {
		return d.observe(err)
	}
	d.presentCount++

	if err := d.recordBlit(slot.cb, src, swapchain, swapchain.Images[index]); err != nil {
		return d.observe(err)
	}

	waits = append(waits, slot.acquired)
	stages := make([]vk.PipelineStageFlags, len(waits))
	for i := range stages {
		stages[i] = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	if err := d.submit(vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{slot.cb.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{slot.blitted},
	}, slot.fence.Handle); err != nil {
		return err
	}

	return d.observe(d.locks.SafeCall(QueueManagement, func() error {
		return swapchain.Present(vc, slot.blitted, index)
	}))
}

func (d *Device) recordBlit(cb *VulkanCommandBuffer, src *VulkanImage, swapchain *VulkanSwapchain, dst vk.Image) error {
	if err := cb.Reset(); err != nil {
		return err
	}
	if err := cb.Begin(); err != nil {
		return err
	}
	color := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}
	layers := vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LayerCount: 1,
	}
	transition := func(old, next vk.ImageLayout, srcAccess, dstAccess vk.AccessFlags, srcStage, dstStage vk.PipelineStageFlagBits) {
		vk.CmdPipelineBarrier(cb.Handle, vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage), 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       srcAccess,
			DstAccessMask:       dstAccess,
			OldLayout:           old,
			NewLayout:           next,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               dst,
			SubresourceRange:    color,
		}})
	}

	transition(vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
		0, vk.AccessFlags(vk.AccessTransferWriteBit),
		vk.PipelineStageTransferBit, vk.PipelineStageTransferBit)
	vk.CmdBlitImage(cb.Handle,
		src.Handle, vk.ImageLayoutTransferSrcOptimal,
		dst, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{{
			SrcSubresource: layers,
			SrcOffsets:     [2]vk.Offset3D{{}, {X: int32(src.Width), Y: int32(src.Height), Z: 1}},
			DstSubresource: layers,
			DstOffsets:     [2]vk.Offset3D{{}, {X: int32(swapchain.Extent.Width), Y: int32(swapchain.Extent.Height), Z: 1}},
		}}, vk.FilterLinear)
	transition(vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutPresentSrc,
		vk.AccessFlags(vk.AccessTransferWriteBit), 0,
		vk.PipelineStageTransferBit, vk.PipelineStageBottomOfPipeBit)

	return cb.End()
}

// Resize recreates the swapchain for the new window size. A zero size, as
// reported by a minimized window, keeps the current swapchain.
func (d *Device) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return nil
	}
	if err := d.WaitIdle(); err != nil {
		return err
	}
	vc := d.context
	return d.locks.SafeCall(SwapchainManagement, func() error {
		next, err := vc.Swapchain.SwapchainRecreate(vc, width, height)
		if err != nil {
			return d.observe(err)
		}
		vc.Swapchain = next
		core.LogDebug("vulkan: swapchain resized to %dx%d", next.Extent.Width, next.Extent.Height)
		return nil
	})
}
