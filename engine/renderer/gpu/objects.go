package gpu

import "github.com/spaghettifunk/umbra/engine/core"

/**
 * @brief Everything the renderer hands to the graphics API carries a stable
 * identity. Binding hashes are computed from it, never from contents.
 */
type Object interface {
	ID() uint64
}

type Buffer interface {
	Object
	Size() uint64
	Usage() BufferUsage
	// Write copies data into a host-visible buffer at offset.
	Write(offset uint64, data []byte) error
	Destroy()
}

type Sampler interface {
	Object
}

type ImageView interface {
	Object
	Format() Format
}

/**
 * @brief A GPU image. The layout of every mip level is tracked on the CPU so
 * that barriers can be recorded with the right source layout and descriptor
 * writes can validate the layout they expect.
 */
type Texture interface {
	Object
	Name() string
	Extent() Extent2D
	Format() Format
	MipLevels() uint32
	// View covers every mip level.
	View() ImageView
	// MipView covers a single mip level, for storage image access.
	MipView(level uint32) ImageView
	Sampler() Sampler
	Layout(mip uint32) ImageLayout
	SetLayout(mip uint32, layout ImageLayout)
	Destroy()
}

type DescriptorSetLayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type DescriptorSetLayout interface {
	Object
	Bindings() []DescriptorSetLayoutBinding
	Destroy()
}

type DescriptorSet interface {
	Object
	Layout() DescriptorSetLayout
}

type PipelineLayout interface {
	Object
	// SetLayout returns the layout of descriptor set index set, or nil.
	SetLayout(set uint32) DescriptorSetLayout
	SetCount() uint32
	Destroy()
}

type Pipeline interface {
	Object
	Layout() PipelineLayout
	Destroy()
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorPool interface {
	Object
	// Allocate fails with an error wrapping core.ErrOutOfResources once the pool is exhausted.
	Allocate(layout DescriptorSetLayout) (DescriptorSet, error)
	Reset() error
	Destroy()
}

type RenderPass interface {
	Object
	Desc() RenderPassDesc
	Destroy()
}

type Framebuffer interface {
	Object
	RenderPass() RenderPass
	Extent() Extent2D
	Attachments() []ImageView
	Destroy()
}

/**
 * @brief Records GPU commands. Recording calls do not fail; misuse is
 * reported by the API validation layers. Begin and End move the buffer
 * through its state machine and do return errors.
 */
type CommandBuffer interface {
	Object
	Level() CommandBufferLevel
	State() CommandBufferState

	// Begin starts recording. Secondary buffers used inside a render pass pass inheritance.
	Begin(inheritance *InheritanceInfo) error
	End() error
	Reset() error

	BeginRenderPass(pass RenderPass, framebuffer Framebuffer, area Rect2D, clearValues []ClearValue, contents SubpassContents)
	NextSubpass(contents SubpassContents)
	EndRenderPass()
	ExecuteCommands(secondaries []CommandBuffer)

	BindPipeline(pipeline Pipeline)
	BindDescriptorSets(layout PipelineLayout, firstSet uint32, sets []DescriptorSet, dynamicOffsets []uint32)
	BindVertexBuffers(firstBinding uint32, buffers []Buffer, offsets []uint64)
	BindIndexBuffer(buffer Buffer, offset uint64, indexType IndexType)
	SetViewport(viewport Viewport)
	SetScissor(scissor Rect2D)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	DrawIndirect(buffer Buffer, offset uint64, drawCount, stride uint32)
	DrawIndexedIndirect(buffer Buffer, offset uint64, drawCount, stride uint32)

	// PipelineBarrier records an image layout transition for mips [baseMip, baseMip+mipCount).
	PipelineBarrier(texture Texture, baseMip, mipCount uint32, oldLayout, newLayout ImageLayout)
}

/**
 * @brief The presentation surface. Recreation (resize, out-of-date) is
 * announced to listeners through the swapchain's own event system with
 * core.EVENT_CODE_SWAPCHAIN_RECREATED.
 */
type Swapchain interface {
	Object
	Format() Format
	Extent() Extent2D
	ImageCount() uint32
	ImageViews() []ImageView
	Events() *core.EventSystem
}

type Device interface {
	NewBuffer(size uint64, usage BufferUsage) (Buffer, error)
	NewTexture(desc TextureDesc) (Texture, error)
	NewRenderPass(desc RenderPassDesc) (RenderPass, error)
	NewFramebuffer(pass RenderPass, attachments []ImageView, extent Extent2D) (Framebuffer, error)
	NewDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPool, error)
	NewDescriptorSetLayout(bindings []DescriptorSetLayoutBinding) (DescriptorSetLayout, error)
	NewPipelineLayout(sets []DescriptorSetLayout) (PipelineLayout, error)
	NewGraphicsPipeline(desc PipelineDesc) (Pipeline, error)

	AllocateCommandBuffer(level CommandBufferLevel) (CommandBuffer, error)
	FreeCommandBuffers(buffers ...CommandBuffer)

	UpdateDescriptorSets(writes []DescriptorWrite)
	// WriteTexture uploads tightly packed texels into mip 0 and leaves it shader-readable.
	WriteTexture(texture Texture, data []byte) error
	WaitIdle() error
}
