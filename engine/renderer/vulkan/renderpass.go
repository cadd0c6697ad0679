package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type VulkanRenderPass struct {
	object
	device *VulkanDevice
	Handle vk.RenderPass
	desc   gpu.RenderPassDesc
}

func (r *VulkanRenderPass) Desc() gpu.RenderPassDesc { return r.desc }

func (r *VulkanRenderPass) Destroy() {
	if r.Handle != nil {
		vk.DestroyRenderPass(r.device.LogicalDevice, r.Handle, r.device.context.Allocator)
		r.Handle = nil
	}
	r.device.context.releaseObject(r.object)
}

/**
 * @brief Creates a render pass from its topology. Subpass i+1 depends on
 * subpass i by region: colour and depth writes must land before the
 * fragment shader reads them as input attachments. The external
 * dependencies order the pass against whatever ran before and after it.
 */
func (d *VulkanDevice) NewRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	if len(desc.Subpasses) == 0 {
		return nil, fmt.Errorf("render pass '%s' has no subpasses", desc.Name)
	}

	attachments := make([]vk.AttachmentDescription, len(desc.Attachments))
	for i, a := range desc.Attachments {
		loadOp := vk.AttachmentLoadOpDontCare
		if a.Clear {
			loadOp = vk.AttachmentLoadOpClear
		} else if a.InitialLayout != gpu.ImageLayoutUndefined {
			loadOp = vk.AttachmentLoadOpLoad
		}
		storeOp := vk.AttachmentStoreOpDontCare
		if a.Store {
			storeOp = vk.AttachmentStoreOpStore
		}
		stencilLoad := vk.AttachmentLoadOpDontCare
		if a.Format.HasStencil() && a.Clear {
			stencilLoad = vk.AttachmentLoadOpClear
		}
		attachments[i] = vk.AttachmentDescription{
			Format:         vkFormat(a.Format),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         loadOp,
			StoreOp:        storeOp,
			StencilLoadOp:  stencilLoad,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vkImageLayout(a.InitialLayout),
			FinalLayout:    vkImageLayout(a.FinalLayout),
		}
	}

	reference := func(index uint32, layout vk.ImageLayout) (vk.AttachmentReference, error) {
		if int(index) >= len(desc.Attachments) {
			return vk.AttachmentReference{}, fmt.Errorf("render pass '%s': attachment %d out of range", desc.Name, index)
		}
		return vk.AttachmentReference{Attachment: index, Layout: layout}, nil
	}

	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, s := range desc.Subpasses {
		subpass := vk.SubpassDescription{
			PipelineBindPoint: vk.PipelineBindPointGraphics,
		}
		colors := make([]vk.AttachmentReference, 0, len(s.ColorAttachments))
		for _, index := range s.ColorAttachments {
			ref, err := reference(index, vk.ImageLayoutColorAttachmentOptimal)
			if err != nil {
				return nil, err
			}
			colors = append(colors, ref)
		}
		subpass.ColorAttachmentCount = uint32(len(colors))
		subpass.PColorAttachments = colors

		inputs := make([]vk.AttachmentReference, 0, len(s.InputAttachments))
		for _, index := range s.InputAttachments {
			ref, err := reference(index, vk.ImageLayoutShaderReadOnlyOptimal)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, ref)
		}
		subpass.InputAttachmentCount = uint32(len(inputs))
		subpass.PInputAttachments = inputs

		if s.DepthAttachment != gpu.NoAttachment {
			ref, err := reference(s.DepthAttachment, vk.ImageLayoutDepthStencilAttachmentOptimal)
			if err != nil {
				return nil, err
			}
			subpass.PDepthStencilAttachment = &ref
		}
		subpasses[i] = subpass
	}

	attachmentWrites := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
	attachmentAccess := vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit |
		vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit)

	dependencies := []vk.SubpassDependency{{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  attachmentWrites | vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		SrcAccessMask: 0,
		DstStageMask:  attachmentWrites,
		DstAccessMask: attachmentAccess,
	}}
	for i := 0; i+1 < len(subpasses); i++ {
		dependencies = append(dependencies, vk.SubpassDependency{
			SrcSubpass:      uint32(i),
			DstSubpass:      uint32(i + 1),
			SrcStageMask:    attachmentWrites,
			SrcAccessMask:   vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
			DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			DstAccessMask:   vk.AccessFlags(vk.AccessInputAttachmentReadBit),
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		})
	}
	dependencies = append(dependencies, vk.SubpassDependency{
		SrcSubpass:    uint32(len(subpasses) - 1),
		DstSubpass:    vk.SubpassExternal,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit | vk.PipelineStageBottomOfPipeBit),
		DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
	})

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	var handle vk.RenderPass
	if err := vkError("vkCreateRenderPass", vk.CreateRenderPass(d.LogicalDevice, &createInfo, d.context.Allocator, &handle)); err != nil {
		return nil, fmt.Errorf("render pass '%s': %w", desc.Name, err)
	}
	r := &VulkanRenderPass{device: d, Handle: handle, desc: desc}
	r.object = d.context.newObject(r)
	core.LogDebug("Render pass '%s' created with %d subpasses.", desc.Name, len(subpasses))
	return r, nil
}
