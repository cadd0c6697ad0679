package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type VulkanFramebuffer struct {
	object
	device      *VulkanDevice
	Handle      vk.Framebuffer
	renderPass  *VulkanRenderPass
	extent      gpu.Extent2D
	attachments []gpu.ImageView
}

func (d *VulkanDevice) NewFramebuffer(pass gpu.RenderPass, attachments []gpu.ImageView, extent gpu.Extent2D) (gpu.Framebuffer, error) {
	rp, ok := pass.(*VulkanRenderPass)
	if !ok || rp == nil {
		return nil, fmt.Errorf("framebuffer: render pass is not a vulkan render pass")
	}
	if want := len(rp.desc.Attachments); want != len(attachments) {
		return nil, fmt.Errorf("framebuffer for '%s': %d attachments given, render pass declares %d", rp.desc.Name, len(attachments), want)
	}
	views := make([]vk.ImageView, len(attachments))
	for i, a := range attachments {
		v, ok := a.(*VulkanImageView)
		if !ok || v == nil {
			return nil, fmt.Errorf("framebuffer for '%s': attachment %d is not a vulkan image view", rp.desc.Name, i)
		}
		views[i] = v.Handle
	}

	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.Handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	var handle vk.Framebuffer
	if err := vkError("vkCreateFramebuffer", vk.CreateFramebuffer(d.LogicalDevice, &createInfo, d.context.Allocator, &handle)); err != nil {
		return nil, fmt.Errorf("framebuffer for '%s': %w", rp.desc.Name, err)
	}
	fb := &VulkanFramebuffer{
		device:      d,
		Handle:      handle,
		renderPass:  rp,
		extent:      extent,
		attachments: append([]gpu.ImageView(nil), attachments...),
	}
	fb.object = d.context.newObject(fb)
	return fb, nil
}

func (f *VulkanFramebuffer) RenderPass() gpu.RenderPass   { return f.renderPass }
func (f *VulkanFramebuffer) Extent() gpu.Extent2D         { return f.extent }
func (f *VulkanFramebuffer) Attachments() []gpu.ImageView { return f.attachments }

func (f *VulkanFramebuffer) Destroy() {
	if f.Handle != nil {
		vk.DestroyFramebuffer(f.device.LogicalDevice, f.Handle, f.device.context.Allocator)
		f.Handle = nil
	}
	f.attachments = nil
	f.device.context.releaseObject(f.object)
}
