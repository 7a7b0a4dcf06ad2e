package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

/**
 * @brief A descriptor set layout with the bindings it was created from,
 * kept so sets allocated from it can be validated and described in logs.
 */
type VulkanDescriptorSetLayout struct {
	Handle   vk.DescriptorSetLayout
	Bindings []gpu.DescriptorBinding
}

type VulkanDescriptorSet struct {
	Handle vk.DescriptorSet
	Layout *VulkanDescriptorSetLayout
}

func DescriptorSetLayoutCreate(context *VulkanContext, bindings []gpu.DescriptorBinding) (*VulkanDescriptorSetLayout, error) {
	out := &VulkanDescriptorSetLayout{Bindings: append([]gpu.DescriptorBinding(nil), bindings...)}
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		var stages vk.ShaderStageFlags
		if b.Vertex {
			stages |= vk.ShaderStageFlags(vk.ShaderStageVertexBit)
		}
		if b.Geometry {
			stages |= vk.ShaderStageFlags(vk.ShaderStageGeometryBit)
		}
		if b.Fragment {
			stages |= vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
		}
		count := b.Count
		if count == 0 {
			count = 1
		}
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vulkanDescriptorType(b.Type),
			DescriptorCount: count,
			StageFlags:      stages,
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	if err := check("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &info, context.Allocator, &out.Handle)); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *VulkanDescriptorSetLayout) Destroy(context *VulkanContext) {
	vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, l.Handle, context.Allocator)
}

// DescriptorPoolCreate creates the pool every set of the device comes from.
// Sets are freed one by one when their pass is cleaned up.
func DescriptorPoolCreate(context *VulkanContext) (vk.DescriptorPool, error) {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: maxUniformDescriptors},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: maxStorageDescriptors},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: maxSamplerDescriptors},
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxDescriptorSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if err := check("vkCreateDescriptorPool", vk.CreateDescriptorPool(context.Device.LogicalDevice, &info, context.Allocator, &pool)); err != nil {
		return pool, err
	}
	return pool, nil
}

func DescriptorSetAllocate(context *VulkanContext, pool vk.DescriptorPool, layout *VulkanDescriptorSetLayout) (*VulkanDescriptorSet, error) {
	out := &VulkanDescriptorSet{Layout: layout}
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.Handle},
	}
	if err := check("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(context.Device.LogicalDevice, &info, &out.Handle)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *VulkanDescriptorSet) Free(context *VulkanContext, pool vk.DescriptorPool) error {
	return check("vkFreeDescriptorSets", vk.FreeDescriptorSets(context.Device.LogicalDevice, pool, 1, &s.Handle))
}

// SamplerCreate makes the linear clamp-to-edge sampler paired with every
// sampled image binding.
func SamplerCreate(context *VulkanContext) (vk.Sampler, error) {
	var samp vk.Sampler
	err := check("vkCreateSampler", vk.CreateSampler(context.Device.LogicalDevice, &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		AnisotropyEnable:        vk.False,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}, context.Allocator, &samp))
	return samp, err
}

// Write resolves the device handles of writes against the layout bindings
// and updates the set in one vkUpdateDescriptorSets call.
func (s *VulkanDescriptorSet) Write(context *VulkanContext, sampler vk.Sampler, writes []gpu.DescriptorWrite, buffer func(gpu.Buffer) (*VulkanBuffer, bool), image func(gpu.Image) (*VulkanImage, bool)) error {
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		binding, ok := s.Layout.binding(w.Binding)
		if !ok {
			return fmt.Errorf("%w: binding %d", ErrUnknownHandle, w.Binding)
		}
		write := vk.WriteDescriptorSet{
			SType:          vk.StructureTypeWriteDescriptorSet,
			DstSet:         s.Handle,
			DstBinding:     w.Binding,
			DescriptorType: vulkanDescriptorType(binding.Type),
		}
		if binding.Type == gpu.DescriptorSampledImage {
			infos := make([]vk.DescriptorImageInfo, len(w.Images))
			for i, h := range w.Images {
				img, ok := image(h)
				if !ok {
					return fmt.Errorf("%w: image %d", ErrUnknownHandle, h)
				}
				layout := vk.ImageLayoutShaderReadOnlyOptimal
				if img.Depth {
					layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
				}
				infos[i] = vk.DescriptorImageInfo{ImageLayout: layout, ImageView: img.View, Sampler: sampler}
			}
			write.DescriptorCount = uint32(len(infos))
			write.PImageInfo = infos
		} else {
			b, ok := buffer(w.Buffer)
			if !ok {
				return fmt.Errorf("%w: buffer %d", ErrUnknownHandle, w.Buffer)
			}
			size := w.Range
			if size == 0 {
				size = b.Size - w.Offset
			}
			write.DescriptorCount = 1
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Offset: vk.DeviceSize(w.Offset),
				Range:  vk.DeviceSize(size),
				Buffer: b.Handle,
			}}
		}
		vkWrites = append(vkWrites, write)
	}
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, uint32(len(vkWrites)), vkWrites, 0, nil)
	return nil
}

func (l *VulkanDescriptorSetLayout) binding(n uint32) (gpu.DescriptorBinding, bool) {
	for _, b := range l.Bindings {
		if b.Binding == n {
			return b, true
		}
	}
	return gpu.DescriptorBinding{}, false
}
