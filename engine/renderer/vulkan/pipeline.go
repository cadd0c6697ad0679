package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type VulkanPipelineLayout struct {
	object
	device *VulkanDevice
	Handle vk.PipelineLayout
	sets   []gpu.DescriptorSetLayout
}

func (d *VulkanDevice) NewPipelineLayout(sets []gpu.DescriptorSetLayout) (gpu.PipelineLayout, error) {
	handles := make([]vk.DescriptorSetLayout, len(sets))
	for i, s := range sets {
		l, ok := s.(*VulkanDescriptorSetLayout)
		if !ok || l == nil {
			return nil, fmt.Errorf("pipeline layout: set %d is not a vulkan descriptor set layout", i)
		}
		handles[i] = l.Handle
	}
	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(handles)),
		PSetLayouts:    handles,
	}
	var handle vk.PipelineLayout
	if err := d.context.locks.SafeCall(PipelineManagement, func() error {
		return vkError("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.LogicalDevice, &layoutInfo, d.context.Allocator, &handle))
	}); err != nil {
		return nil, err
	}
	l := &VulkanPipelineLayout{
		device: d,
		Handle: handle,
		sets:   append([]gpu.DescriptorSetLayout(nil), sets...),
	}
	l.object = d.context.newObject(l)
	return l, nil
}

func (l *VulkanPipelineLayout) SetLayout(set uint32) gpu.DescriptorSetLayout {
	if int(set) >= len(l.sets) {
		return nil
	}
	return l.sets[set]
}

func (l *VulkanPipelineLayout) SetCount() uint32 { return uint32(len(l.sets)) }

func (l *VulkanPipelineLayout) Destroy() {
	if l.Handle != nil {
		vk.DestroyPipelineLayout(l.device.LogicalDevice, l.Handle, l.device.context.Allocator)
		l.Handle = nil
	}
	l.device.context.releaseObject(l.object)
}

/**
 * @brief Holds a Vulkan pipeline. The layout is owned by whoever created
 * it, usually shared by several pipelines.
 */
type VulkanPipeline struct {
	object
	device *VulkanDevice
	Handle vk.Pipeline
	layout *VulkanPipelineLayout
}

func (p *VulkanPipeline) Layout() gpu.PipelineLayout { return p.layout }

func (p *VulkanPipeline) Destroy() {
	if p.Handle != nil {
		vk.DestroyPipeline(p.device.LogicalDevice, p.Handle, p.device.context.Allocator)
		p.Handle = nil
	}
	p.device.context.releaseObject(p.object)
}

/**
 * @brief Builds a graphics pipeline for one subpass of a render pass.
 * Viewport and scissor are dynamic. Vertex input is omitted when the
 * stride is zero, for full-screen passes generating their vertices.
 */
func (d *VulkanDevice) NewGraphicsPipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	layout, ok := desc.Layout.(*VulkanPipelineLayout)
	if !ok || layout == nil {
		return nil, fmt.Errorf("pipeline '%s': layout is not a vulkan pipeline layout", desc.Name)
	}
	pass, ok := desc.RenderPass.(*VulkanRenderPass)
	if !ok || pass == nil {
		return nil, fmt.Errorf("pipeline '%s': render pass is not a vulkan render pass", desc.Name)
	}

	vert, err := d.NewShaderStage(desc.VertexShader, vk.ShaderStageVertexBit)
	if err != nil {
		return nil, fmt.Errorf("pipeline '%s' vertex stage: %w", desc.Name, err)
	}
	defer d.destroyShaderStage(vert)
	frag, err := d.NewShaderStage(desc.FragmentShader, vk.ShaderStageFragmentBit)
	if err != nil {
		return nil, fmt.Errorf("pipeline '%s' fragment stage: %w", desc.Name, err)
	}
	defer d.destroyShaderStage(frag)
	stages := []vk.PipelineShaderStageCreateInfo{vert.ShaderStageCreateInfo, frag.ShaderStageCreateInfo}

	// Viewport state, both set dynamically at record time.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if desc.VertexStride > 0 && desc.DepthTest {
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeBackBit)
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		DepthCompareOp:    vk.CompareOpLess,
		StencilTestEnable: vk.False,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	writeMask := vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit)
	targets := desc.ColorTargets
	if targets == 0 {
		targets = 1
	}
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, targets)
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:    vk.False,
			ColorWriteMask: writeMask,
		}
		if desc.AlphaBlend {
			blendAttachments[i].BlendEnable = vk.True
			blendAttachments[i].SrcColorBlendFactor = vk.BlendFactorSrcAlpha
			blendAttachments[i].DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
			blendAttachments[i].ColorBlendOp = vk.BlendOpAdd
			blendAttachments[i].SrcAlphaBlendFactor = vk.BlendFactorSrcAlpha
			blendAttachments[i].DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
			blendAttachments[i].AlphaBlendOp = vk.BlendOpAdd
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if desc.VertexStride > 0 {
		attributes := make([]vk.VertexInputAttributeDescription, len(desc.Attributes))
		for i, a := range desc.Attributes {
			attributes[i] = vk.VertexInputAttributeDescription{
				Location: a.Location,
				Binding:  0,
				Format:   vkFormat(a.Format),
				Offset:   a.Offset,
			}
		}
		vertexInputInfo.VertexBindingDescriptionCount = 1
		vertexInputInfo.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    desc.VertexStride,
			InputRate: vk.VertexInputRateVertex,
		}}
		vertexInputInfo.VertexAttributeDescriptionCount = uint32(len(attributes))
		vertexInputInfo.PVertexAttributeDescriptions = attributes
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              layout.Handle,
		RenderPass:          pass.Handle,
		Subpass:             desc.Subpass,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := d.context.locks.SafeCall(PipelineManagement, func() error {
		return vkError("vkCreateGraphicsPipelines", vk.CreateGraphicsPipelines(
			d.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			d.context.Allocator,
			pipelines))
	}); err != nil {
		return nil, fmt.Errorf("pipeline '%s': %w", desc.Name, err)
	}

	p := &VulkanPipeline{device: d, Handle: pipelines[0], layout: layout}
	p.object = d.context.newObject(p)
	core.LogDebug("Graphics pipeline '%s' created for subpass %d.", desc.Name, desc.Subpass)
	return p, nil
}
