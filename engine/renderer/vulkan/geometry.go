package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// VulkanBuffer is a host visible buffer holding vertices, indices, instance
// transforms or uniforms.
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
}

func BufferCreate(context *VulkanContext, size uint64, usage gpu.BufferUsage) (*VulkanBuffer, error) {
	b := &VulkanBuffer{Size: size}
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vulkanBufferUsage(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	device := context.Device.LogicalDevice
	if err := check("vkCreateBuffer", vk.CreateBuffer(device, &info, context.Allocator, &b.Handle)); err != nil {
		return nil, err
	}
	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, b.Handle, &requirements)
	memory, err := context.allocate(requirements, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if err != nil {
		b.Destroy(context)
		return nil, err
	}
	b.Memory = memory
	if err := check("vkBindBufferMemory", vk.BindBufferMemory(device, b.Handle, b.Memory, 0)); err != nil {
		b.Destroy(context)
		return nil, err
	}
	return b, nil
}

var ErrBufferRange = errors.New("vulkan: write past the end of the buffer")

// Write maps the written range and copies data into it. The memory is host
// coherent, no flush is needed.
func (b *VulkanBuffer) Write(context *VulkanContext, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if offset+uint64(len(data)) > b.Size {
		return fmt.Errorf("%w: %d bytes at %d into %d", ErrBufferRange, len(data), offset, b.Size)
	}
	device := context.Device.LogicalDevice
	var ptr unsafe.Pointer
	if err := check("vkMapMemory", vk.MapMemory(device, b.Memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &ptr)); err != nil {
		return err
	}
	vk.Memcopy(ptr, data)
	vk.UnmapMemory(device, b.Memory)
	return nil
}

func (b *VulkanBuffer) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(device, b.Handle, context.Allocator)
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, b.Memory, context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
}

// vertexInput describes the interleaved vertex layout and, for instanced
// pipelines, the per instance model matrix at locations 7 to 10.
func vertexInput(instanced bool) ([]vk.VertexInputBindingDescription, []vk.VertexInputAttributeDescription) {
	bindings := []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    vertexStride,
		InputRate: vk.VertexInputRateVertex,
	}}
	layout := []struct {
		format vk.Format
		size   uint32
	}{
		{vk.FormatR32g32b32Sfloat, 12},    // position
		{vk.FormatR32g32b32Sfloat, 12},    // normal
		{vk.FormatR32g32Sfloat, 8},        // texcoord
		{vk.FormatR32g32b32a32Sint, 16},   // bone ids
		{vk.FormatR32g32b32a32Sfloat, 16}, // bone weights
		{vk.FormatR32g32b32Sfloat, 12},    // morph position
		{vk.FormatR32g32b32Sfloat, 12},    // morph normal
	}
	var attributes []vk.VertexInputAttributeDescription
	var offset uint32
	for i, a := range layout {
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  0,
			Format:   a.format,
			Offset:   offset,
		})
		offset += a.size
	}
	if !instanced {
		return bindings, attributes
	}

	bindings = append(bindings, vk.VertexInputBindingDescription{
		Binding:   1,
		Stride:    instanceStride,
		InputRate: vk.VertexInputRateInstance,
	})
	for column := uint32(0); column < 4; column++ {
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: uint32(len(layout)) + column,
			Binding:  1,
			Format:   vk.FormatR32g32b32a32Sfloat,
			Offset:   column * 16,
		})
	}
	return bindings, attributes
}
