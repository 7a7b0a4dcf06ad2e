package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Width  uint32
	Height uint32
	Depth  bool
}

// ImageCreate creates a device local 2D image with its memory and a view.
func ImageCreate(context *VulkanContext, desc gpu.ImageDesc) (*VulkanImage, error) {
	img := &VulkanImage{
		Width:  desc.Extent.Width,
		Height: desc.Extent.Height,
		Depth:  desc.Format.IsDepth(),
	}
	format := vulkanFormat(desc.Format)
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         vulkanImageUsage(desc),
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}
	device := context.Device.LogicalDevice
	if err := check("vkCreateImage", vk.CreateImage(device, &info, context.Allocator, &img.Handle)); err != nil {
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, img.Handle, &requirements)
	memory, err := context.allocate(requirements, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		img.Destroy(context)
		return nil, err
	}
	img.Memory = memory
	if err := check("vkBindImageMemory", vk.BindImageMemory(device, img.Handle, img.Memory, 0)); err != nil {
		img.Destroy(context)
		return nil, err
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspectOf(img.Depth),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	if err := check("vkCreateImageView", vk.CreateImageView(device, &viewInfo, context.Allocator, &img.View)); err != nil {
		img.Destroy(context)
		return nil, err
	}
	return img, nil
}

func (img *VulkanImage) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if img.View != vk.NullImageView {
		vk.DestroyImageView(device, img.View, context.Allocator)
		img.View = vk.NullImageView
	}
	if img.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, img.Memory, context.Allocator)
		img.Memory = vk.NullDeviceMemory
	}
	if img.Handle != vk.NullImage {
		vk.DestroyImage(device, img.Handle, context.Allocator)
		img.Handle = vk.NullImage
	}
}

func (img *VulkanImage) subresources() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask: aspectOf(img.Depth),
		LevelCount: 1,
		LayerCount: 1,
	}
}
