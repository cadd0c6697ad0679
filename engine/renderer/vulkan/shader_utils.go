package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	/** @brief The internal shader module Handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// NewShaderStage builds a module from SPIR-V bytecode for one stage with entry point "main".
func (d *VulkanDevice) NewShaderStage(code []byte, stage vk.ShaderStageFlagBits) (*VulkanShaderStage, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("shader bytecode of %d bytes is not SPIR-V", len(code))
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    repackUint32(code),
	}
	var module vk.ShaderModule
	if err := vkError("vkCreateShaderModule", vk.CreateShaderModule(d.LogicalDevice, &createInfo, d.context.Allocator, &module)); err != nil {
		return nil, err
	}
	return &VulkanShaderStage{
		Handle: module,
		ShaderStageCreateInfo: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: module,
			PName:  VulkanSafeString("main"),
		},
	}, nil
}

func (d *VulkanDevice) destroyShaderStage(s *VulkanShaderStage) {
	if s != nil && s.Handle != nil {
		vk.DestroyShaderModule(d.LogicalDevice, s.Handle, d.context.Allocator)
		s.Handle = nil
	}
}
