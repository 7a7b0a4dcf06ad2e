package vulkan

import (
	"math"

	vk "github.com/goki/vulkan"
	"golang.org/x/exp/constraints"

	"github.com/spaghettifunk/lumen/engine/core"
)

// VulkanSwapchain owns the presentable images. They are only ever written
// by the blit at the end of a frame, so they have no views or framebuffers.
type VulkanSwapchain struct {
	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	Images      []vk.Image
	Extent      vk.Extent2D
}

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	return max(lo, min(v, hi))
}

func SwapchainCreate(context *VulkanContext, width, height uint32) (*VulkanSwapchain, error) {
	return createSwapchain(context, width, height, vk.NullSwapchain)
}

// SwapchainRecreate replaces the swapchain, handing the old one to the driver
// so in flight presents can complete.
func (vs *VulkanSwapchain) SwapchainRecreate(context *VulkanContext, width, height uint32) (*VulkanSwapchain, error) {
	if err := DeviceQuerySwapchainSupport(context.Device.PhysicalDevice, context.Surface, &context.Device.SwapchainSupport); err != nil {
		return nil, err
	}
	next, err := createSwapchain(context, width, height, vs.Handle)
	vs.SwapchainDestroy(context)
	return next, err
}

func (vs *VulkanSwapchain) SwapchainDestroy(context *VulkanContext) {
	if vs.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(context.Device.LogicalDevice, vs.Handle, context.Allocator)
		vs.Handle = vk.NullSwapchain
	}
	vs.Images = nil
}

// AcquireNextImage returns the index of the image to blit into. Out of date
// surfaces are reported as core.ErrOutOfDate.
func (vs *VulkanSwapchain) AcquireNextImage(context *VulkanContext, imageAvailable vk.Semaphore) (uint32, error) {
	var index uint32
	result := vk.AcquireNextImage(context.Device.LogicalDevice, vs.Handle, acquireTimeoutNs, imageAvailable, vk.NullFence, &index)
	if result == vk.Suboptimal {
		return index, nil
	}
	if err := VulkanResultToError("vkAcquireNextImage", result); err != nil {
		return 0, err
	}
	if result == vk.Timeout || result == vk.NotReady {
		return 0, VulkanResultToError("vkAcquireNextImage", vk.ErrorOutOfDate)
	}
	return index, nil
}

// Present returns the image for presentation. A suboptimal swapchain is
// reported as out of date so the caller recreates it.
func (vs *VulkanSwapchain) Present(context *VulkanContext, renderComplete vk.Semaphore, imageIndex uint32) error {
	info := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderComplete},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{imageIndex},
	}
	result := vk.QueuePresent(context.Device.PresentQueue, &info)
	if result == vk.Suboptimal {
		result = vk.ErrorOutOfDate
	}
	return VulkanResultToError("vkQueuePresent", result)
}

func createSwapchain(context *VulkanContext, width, height uint32, old vk.Swapchain) (*VulkanSwapchain, error) {
	support := context.Device.SwapchainSupport
	swapchain := &VulkanSwapchain{ImageFormat: support.Formats[0]}
	for _, format := range support.Formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			swapchain.ImageFormat = format
			break
		}
	}

	presentMode := vk.PresentModeFifo
	for _, mode := range support.PresentModes {
		if mode == vk.PresentModeMailbox {
			presentMode = mode
			break
		}
	}

	extent := vk.Extent2D{Width: width, Height: height}
	if support.Capabilities.CurrentExtent.Width != math.MaxUint32 {
		extent = support.Capabilities.CurrentExtent
	}
	lo, hi := support.Capabilities.MinImageExtent, support.Capabilities.MaxImageExtent
	extent.Width = clamp(extent.Width, lo.Width, hi.Width)
	extent.Height = clamp(extent.Height, lo.Height, hi.Height)
	swapchain.Extent = extent

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}
	if context.Device.GraphicsQueueIndex != context.Device.PresentQueueIndex {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{
			uint32(context.Device.GraphicsQueueIndex),
			uint32(context.Device.PresentQueueIndex),
		}
	}

	if err := check("vkCreateSwapchain", vk.CreateSwapchain(context.Device.LogicalDevice, &info, context.Allocator, &swapchain.Handle)); err != nil {
		return nil, err
	}

	var count uint32
	if err := check("vkGetSwapchainImages", vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &count, nil)); err != nil {
		swapchain.SwapchainDestroy(context)
		return nil, err
	}
	swapchain.Images = make([]vk.Image, count)
	if err := check("vkGetSwapchainImages", vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &count, swapchain.Images)); err != nil {
		swapchain.SwapchainDestroy(context)
		return nil, err
	}
	context.FramebufferWidth, context.FramebufferHeight = extent.Width, extent.Height
	core.LogInfo("Swapchain created: %d images at %dx%d.", count, extent.Width, extent.Height)
	return swapchain, nil
}
