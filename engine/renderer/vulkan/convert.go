package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

var formats = map[gpu.Format]vk.Format{
	gpu.FormatUndefined:              vk.FormatUndefined,
	gpu.FormatR8G8B8A8Unorm:          vk.FormatR8g8b8a8Unorm,
	gpu.FormatR8G8B8A8Srgb:           vk.FormatR8g8b8a8Srgb,
	gpu.FormatB8G8R8A8Unorm:          vk.FormatB8g8r8a8Unorm,
	gpu.FormatB8G8R8A8Srgb:           vk.FormatB8g8r8a8Srgb,
	gpu.FormatR16G16B16A16Sfloat:     vk.FormatR16g16b16a16Sfloat,
	gpu.FormatR32G32B32A32Sfloat:     vk.FormatR32g32b32a32Sfloat,
	gpu.FormatA2B10G10R10UnormPack32: vk.FormatA2b10g10r10UnormPack32,
	gpu.FormatD32Sfloat:              vk.FormatD32Sfloat,
	gpu.FormatD24UnormS8Uint:         vk.FormatD24UnormS8Uint,
	gpu.FormatD32SfloatS8Uint:        vk.FormatD32SfloatS8Uint,
	gpu.FormatR32G32Sfloat:           vk.FormatR32g32Sfloat,
	gpu.FormatR32G32B32Sfloat:        vk.FormatR32g32b32Sfloat,
}

func vkFormat(f gpu.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

// gpuFormat maps a surface format back; unknown formats come back as FormatUndefined.
func gpuFormat(f vk.Format) gpu.Format {
	for g, v := range formats {
		if v == f {
			return g
		}
	}
	return gpu.FormatUndefined
}

func vkImageLayout(l gpu.ImageLayout) vk.ImageLayout {
	switch l {
	case gpu.ImageLayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.ImageLayoutColorAttachmentOptimal:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.ImageLayoutDepthStencilAttachmentOptimal:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.ImageLayoutShaderReadOnlyOptimal:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.ImageLayoutTransferSrcOptimal:
		return vk.ImageLayoutTransferSrcOptimal
	case gpu.ImageLayoutTransferDstOptimal:
		return vk.ImageLayoutTransferDstOptimal
	case gpu.ImageLayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

/**
 * @brief The pipeline stage and access scope in which an image in layout l
 * is used. Barriers are built from a pair of these.
 */
func layoutScope(l gpu.ImageLayout, depth bool) (vk.PipelineStageFlags, vk.AccessFlags) {
	switch l {
	case gpu.ImageLayoutUndefined:
		return vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), 0
	case gpu.ImageLayoutGeneral:
		return vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit),
			vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit)
	case gpu.ImageLayoutColorAttachmentOptimal:
		return vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit)
	case gpu.ImageLayoutDepthStencilAttachmentOptimal:
		return vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit),
			vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit)
	case gpu.ImageLayoutShaderReadOnlyOptimal:
		stage := vk.PipelineStageFragmentShaderBit
		if depth {
			stage |= vk.PipelineStageEarlyFragmentTestsBit
		}
		return vk.PipelineStageFlags(stage), vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessInputAttachmentReadBit)
	case gpu.ImageLayoutTransferSrcOptimal:
		return vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.AccessFlags(vk.AccessTransferReadBit)
	case gpu.ImageLayoutTransferDstOptimal:
		return vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.AccessFlags(vk.AccessTransferWriteBit)
	case gpu.ImageLayoutPresentSrc:
		return vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit), vk.AccessFlags(vk.AccessMemoryReadBit)
	}
	return vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit), vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit)
}

func vkDescriptorType(t gpu.DescriptorType) vk.DescriptorType {
	switch t {
	case gpu.DescriptorTypeUniformBuffer:
		return vk.DescriptorTypeUniformBuffer
	case gpu.DescriptorTypeUniformBufferDynamic:
		return vk.DescriptorTypeUniformBufferDynamic
	case gpu.DescriptorTypeStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case gpu.DescriptorTypeCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	case gpu.DescriptorTypeStorageImage:
		return vk.DescriptorTypeStorageImage
	case gpu.DescriptorTypeInputAttachment:
		return vk.DescriptorTypeInputAttachment
	}
	return vk.DescriptorTypeMaxEnum
}

func vkShaderStages(s gpu.ShaderStage) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlagBits
	if s&gpu.ShaderStageVertex != 0 {
		flags |= vk.ShaderStageVertexBit
	}
	if s&gpu.ShaderStageFragment != 0 {
		flags |= vk.ShaderStageFragmentBit
	}
	if s&gpu.ShaderStageCompute != 0 {
		flags |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(flags)
}

func vkBufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	// every buffer can be the target of a staging copy
	flags := vk.BufferUsageTransferDstBit
	if u&gpu.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if u&gpu.BufferUsageIndex != 0 {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if u&gpu.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if u&gpu.BufferUsageStorage != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if u&gpu.BufferUsageIndirect != 0 {
		flags |= vk.BufferUsageIndirectBufferBit
	}
	return vk.BufferUsageFlags(flags)
}

func vkImageUsage(u gpu.TextureUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if u&gpu.TextureUsageSampled != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if u&gpu.TextureUsageStorage != 0 {
		flags |= vk.ImageUsageStorageBit
	}
	if u&gpu.TextureUsageColorAttachment != 0 {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if u&gpu.TextureUsageDepthAttachment != 0 {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if u&gpu.TextureUsageInputAttachment != 0 {
		flags |= vk.ImageUsageInputAttachmentBit
	}
	if u&gpu.TextureUsageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(flags)
}

func vkAspect(f gpu.Format) vk.ImageAspectFlags {
	if !f.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	aspect := vk.ImageAspectDepthBit
	if f.HasStencil() {
		aspect |= vk.ImageAspectStencilBit
	}
	return vk.ImageAspectFlags(aspect)
}

func vkSubpassContents(c gpu.SubpassContents) vk.SubpassContents {
	if c == gpu.SubpassContentsSecondaryCommandBuffers {
		return vk.SubpassContentsSecondaryCommandBuffers
	}
	return vk.SubpassContentsInline
}

func vkIndexType(t gpu.IndexType) vk.IndexType {
	if t == gpu.IndexTypeUint32 {
		return vk.IndexTypeUint32
	}
	return vk.IndexTypeUint16
}

func vkExtent(e gpu.Extent2D) vk.Extent2D {
	return vk.Extent2D{Width: e.Width, Height: e.Height}
}

func vkRect(r gpu.Rect2D) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.Offset.X, Y: r.Offset.Y},
		Extent: vkExtent(r.Extent),
	}
}

func vkClearValue(c gpu.ClearValue) vk.ClearValue {
	var v vk.ClearValue
	if c.IsDepth {
		v.SetDepthStencil(c.Depth, c.Stencil)
	} else {
		v.SetColor(c.Color[:])
	}
	return v
}
