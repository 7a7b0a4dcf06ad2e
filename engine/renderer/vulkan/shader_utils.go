package vulkan

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// ErrMissingSPIRV is returned for modules that were generated but never
// compiled; the Vulkan device only consumes SPIR-V.
var ErrMissingSPIRV = errors.New("vulkan: shader module has no SPIR-V")

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	/** @brief The internal shader module handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func NewShaderStage(context *VulkanContext, module gpu.ShaderModule) (*VulkanShaderStage, error) {
	if len(module.SPIRV) == 0 || len(module.SPIRV)%4 != 0 {
		return nil, fmt.Errorf("%w: %s (%s)", ErrMissingSPIRV, module.Name, module.Stage)
	}
	stage := &VulkanShaderStage{}
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(module.SPIRV)),
		PCode:    spirvWords(module.SPIRV),
	}
	if err := check("vkCreateShaderModule", vk.CreateShaderModule(context.Device.LogicalDevice, &info, context.Allocator, &stage.Handle)); err != nil {
		return nil, err
	}
	stage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vulkanShaderStage(module.Stage),
		Module: stage.Handle,
		PName:  VulkanSafeString("main"),
	}
	return stage, nil
}

func (s *VulkanShaderStage) Destroy(context *VulkanContext) {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = vk.NullShaderModule
	}
}
