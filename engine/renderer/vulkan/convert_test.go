package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/stretchr/testify/assert"
)

func TestFormatRoundTrip(t *testing.T) {
	for g, v := range formats {
		assert.Equal(t, v, vkFormat(g))
		assert.Equal(t, g, gpuFormat(v))
	}
	assert.Equal(t, vk.FormatUndefined, vkFormat(gpu.Format(0xFFFF)))
	assert.Equal(t, gpu.FormatUndefined, gpuFormat(vk.Format(0x7FFF)))
}

func TestAspectForDepthFormats(t *testing.T) {
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), vkAspect(gpu.FormatR8G8B8A8Unorm))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), vkAspect(gpu.FormatD32Sfloat))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), vkAspect(gpu.FormatD24UnormS8Uint))
}

func TestUsageFlags(t *testing.T) {
	buf := vkBufferUsage(gpu.BufferUsageVertex | gpu.BufferUsageUniform)
	assert.NotZero(t, buf&vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	assert.NotZero(t, buf&vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit))
	assert.NotZero(t, buf&vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
	assert.Zero(t, buf&vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit))

	img := vkImageUsage(gpu.TextureUsageColorAttachment | gpu.TextureUsageInputAttachment)
	assert.Equal(t, vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit|vk.ImageUsageInputAttachmentBit), img)

	stages := vkShaderStages(gpu.ShaderStageVertex | gpu.ShaderStageFragment)
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit), stages)
}

func TestLayoutScope(t *testing.T) {
	stage, access := layoutScope(gpu.ImageLayoutUndefined, false)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), stage)
	assert.Zero(t, access)

	stage, _ = layoutScope(gpu.ImageLayoutShaderReadOnlyOptimal, true)
	assert.NotZero(t, stage&vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit))
	stage, _ = layoutScope(gpu.ImageLayoutShaderReadOnlyOptimal, false)
	assert.Zero(t, stage&vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit))
}

func TestSimpleConversions(t *testing.T) {
	assert.Equal(t, vk.DescriptorTypeInputAttachment, vkDescriptorType(gpu.DescriptorTypeInputAttachment))
	assert.Equal(t, vk.DescriptorTypeUniformBufferDynamic, vkDescriptorType(gpu.DescriptorTypeUniformBufferDynamic))
	assert.Equal(t, vk.SubpassContentsSecondaryCommandBuffers, vkSubpassContents(gpu.SubpassContentsSecondaryCommandBuffers))
	assert.Equal(t, vk.IndexTypeUint32, vkIndexType(gpu.IndexTypeUint32))
	assert.Equal(t, vk.ImageLayoutPresentSrc, vkImageLayout(gpu.ImageLayoutPresentSrc))

	r := vkRect(gpu.Rect2D{Offset: gpu.Offset2D{X: 4, Y: 8}, Extent: gpu.Extent2D{Width: 16, Height: 32}})
	assert.Equal(t, int32(4), r.Offset.X)
	assert.Equal(t, uint32(32), r.Extent.Height)
}
