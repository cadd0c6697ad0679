package gpu

/**
 * @brief One descriptor write. Buffer descriptors fill Buffer/Offset/Range,
 * image descriptors fill View/Sampler/Layout.
 */
type DescriptorWrite struct {
	Set          DescriptorSet
	Binding      uint32
	ArrayElement uint32
	Type         DescriptorType

	Buffer Buffer
	Offset uint64
	Range  uint64

	View    ImageView
	Sampler Sampler
	Layout  ImageLayout
}

// InheritanceInfo describes the render pass state a secondary command buffer continues.
type InheritanceInfo struct {
	RenderPass  RenderPass
	Subpass     uint32
	Framebuffer Framebuffer
}

type TextureDesc struct {
	Name      string
	Extent    Extent2D
	Format    Format
	MipLevels uint32
	Usage     TextureUsage
}

type AttachmentDesc struct {
	Format Format
	// Clear on load; otherwise the previous contents are discarded.
	Clear         bool
	Store         bool
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
}

// NoAttachment marks an unused depth slot in a subpass.
const NoAttachment = ^uint32(0)

type SubpassDesc struct {
	ColorAttachments []uint32
	InputAttachments []uint32
	DepthAttachment  uint32
}

/**
 * @brief Render pass topology. Consecutive subpasses are chained with a
 * by-region dependency from colour output to fragment-shader input.
 */
type RenderPassDesc struct {
	Name        string
	Attachments []AttachmentDesc
	Subpasses   []SubpassDesc
}

type VertexAttribute struct {
	Location uint32
	Format   Format
	Offset   uint32
}

type PipelineDesc struct {
	Name           string
	Layout         PipelineLayout
	RenderPass     RenderPass
	Subpass        uint32
	VertexShader   []byte
	FragmentShader []byte
	VertexStride   uint32
	Attributes     []VertexAttribute
	ColorTargets   uint32
	DepthTest      bool
	DepthWrite     bool
	AlphaBlend     bool
}
