package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

/**
 * @brief A command buffer from the device's graphics pool. State moves
 * ready -> recording (-> in render pass) -> ended -> submitted; Reset
 * brings it back to ready.
 */
type VulkanCommandBuffer struct {
	object
	device *VulkanDevice
	Handle vk.CommandBuffer
	level  gpu.CommandBufferLevel
	state  gpu.CommandBufferState
}

func (d *VulkanDevice) AllocateCommandBuffer(level gpu.CommandBufferLevel) (gpu.CommandBuffer, error) {
	return d.NewVulkanCommandBuffer(level)
}

func (d *VulkanDevice) NewVulkanCommandBuffer(level gpu.CommandBufferLevel) (*VulkanCommandBuffer, error) {
	vkLevel := vk.CommandBufferLevelPrimary
	if level == gpu.CommandBufferLevelSecondary {
		vkLevel = vk.CommandBufferLevelSecondary
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.GraphicsCommandPool,
		CommandBufferCount: 1,
		Level:              vkLevel,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := d.context.locks.SafeCall(CommandPoolManagement, func() error {
		return vkError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(d.LogicalDevice, &allocateInfo, handles))
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	cb := &VulkanCommandBuffer{
		device: d,
		Handle: handles[0],
		level:  level,
		state:  gpu.COMMAND_BUFFER_STATE_READY,
	}
	cb.object = d.context.newObject(cb)
	return cb, nil
}

func (d *VulkanDevice) FreeCommandBuffers(buffers ...gpu.CommandBuffer) {
	handles := make([]vk.CommandBuffer, 0, len(buffers))
	for _, b := range buffers {
		cb, ok := b.(*VulkanCommandBuffer)
		if !ok || cb == nil || cb.Handle == nil {
			continue
		}
		handles = append(handles, cb.Handle)
		cb.Handle = nil
		cb.state = gpu.COMMAND_BUFFER_STATE_NOT_ALLOCATED
		d.context.releaseObject(cb.object)
	}
	if len(handles) == 0 {
		return
	}
	_ = d.context.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(d.LogicalDevice, d.GraphicsCommandPool, uint32(len(handles)), handles)
		return nil
	})
}

func (v *VulkanCommandBuffer) Level() gpu.CommandBufferLevel { return v.level }
func (v *VulkanCommandBuffer) State() gpu.CommandBufferState { return v.state }

func (v *VulkanCommandBuffer) Begin(inheritance *gpu.InheritanceInfo) error {
	return v.begin(inheritance, false)
}

func (v *VulkanCommandBuffer) begin(inheritance *gpu.InheritanceInfo, singleUse bool) error {
	if v.state != gpu.COMMAND_BUFFER_STATE_READY && v.state != gpu.COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return fmt.Errorf("%w: begin in state %s", core.ErrInvalidCommandBufferState, v.state)
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if singleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if inheritance != nil {
		info := vk.CommandBufferInheritanceInfo{
			SType:   vk.StructureTypeCommandBufferInheritanceInfo,
			Subpass: inheritance.Subpass,
		}
		if rp, ok := inheritance.RenderPass.(*VulkanRenderPass); ok && rp != nil {
			info.RenderPass = rp.Handle
		}
		if fb, ok := inheritance.Framebuffer.(*VulkanFramebuffer); ok && fb != nil {
			info.Framebuffer = fb.Handle
		}
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
		beginInfo.PInheritanceInfo = []vk.CommandBufferInheritanceInfo{info}
	}
	if err := vkError("vkBeginCommandBuffer", vk.BeginCommandBuffer(v.Handle, &beginInfo)); err != nil {
		core.LogError(err.Error())
		return err
	}
	if inheritance != nil {
		v.state = gpu.COMMAND_BUFFER_STATE_IN_RENDER_PASS
	} else {
		v.state = gpu.COMMAND_BUFFER_STATE_RECORDING
	}
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if !v.state.IsRecording() {
		return fmt.Errorf("%w: end in state %s", core.ErrInvalidCommandBufferState, v.state)
	}
	if err := vkError("vkEndCommandBuffer", vk.EndCommandBuffer(v.Handle)); err != nil {
		core.LogError(err.Error())
		return err
	}
	v.state = gpu.COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) Reset() error {
	if v.state == gpu.COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return fmt.Errorf("%w: reset of a freed command buffer", core.ErrInvalidCommandBufferState)
	}
	if err := vkError("vkResetCommandBuffer", vk.ResetCommandBuffer(v.Handle, 0)); err != nil {
		return err
	}
	v.state = gpu.COMMAND_BUFFER_STATE_READY
	return nil
}

// MarkSubmitted moves an ended buffer to the submitted state.
func (v *VulkanCommandBuffer) MarkSubmitted() error {
	if v.state != gpu.COMMAND_BUFFER_STATE_RECORDING_ENDED {
		return fmt.Errorf("%w: submit in state %s", core.ErrInvalidCommandBufferState, v.state)
	}
	v.state = gpu.COMMAND_BUFFER_STATE_SUBMITTED
	return nil
}

func (v *VulkanCommandBuffer) BeginRenderPass(pass gpu.RenderPass, framebuffer gpu.Framebuffer, area gpu.Rect2D, clearValues []gpu.ClearValue, contents gpu.SubpassContents) {
	rp, _ := pass.(*VulkanRenderPass)
	fb, _ := framebuffer.(*VulkanFramebuffer)
	if rp == nil || fb == nil {
		core.LogError("begin render pass skipped: render pass or framebuffer is not a vulkan object")
		return
	}
	values := make([]vk.ClearValue, len(clearValues))
	for i, c := range clearValues {
		values[i] = vkClearValue(c)
	}
	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp.Handle,
		Framebuffer:     fb.Handle,
		RenderArea:      vkRect(area),
		ClearValueCount: uint32(len(values)),
		PClearValues:    values,
	}
	vk.CmdBeginRenderPass(v.Handle, &beginInfo, vkSubpassContents(contents))
	v.state = gpu.COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (v *VulkanCommandBuffer) NextSubpass(contents gpu.SubpassContents) {
	vk.CmdNextSubpass(v.Handle, vkSubpassContents(contents))
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(v.Handle)
	v.state = gpu.COMMAND_BUFFER_STATE_RECORDING
}

func (v *VulkanCommandBuffer) ExecuteCommands(secondaries []gpu.CommandBuffer) {
	handles := make([]vk.CommandBuffer, 0, len(secondaries))
	for _, s := range secondaries {
		if cb, ok := s.(*VulkanCommandBuffer); ok && cb != nil && cb.Handle != nil {
			handles = append(handles, cb.Handle)
		}
	}
	if len(handles) == 0 {
		return
	}
	vk.CmdExecuteCommands(v.Handle, uint32(len(handles)), handles)
}

func (v *VulkanCommandBuffer) BindPipeline(pipeline gpu.Pipeline) {
	if p, ok := pipeline.(*VulkanPipeline); ok && p != nil {
		vk.CmdBindPipeline(v.Handle, vk.PipelineBindPointGraphics, p.Handle)
	}
}

func (v *VulkanCommandBuffer) BindDescriptorSets(layout gpu.PipelineLayout, firstSet uint32, sets []gpu.DescriptorSet, dynamicOffsets []uint32) {
	l, ok := layout.(*VulkanPipelineLayout)
	if !ok || l == nil || len(sets) == 0 {
		return
	}
	handles := make([]vk.DescriptorSet, 0, len(sets))
	for _, s := range sets {
		if ds, ok := s.(*VulkanDescriptorSet); ok && ds != nil {
			handles = append(handles, ds.Handle)
		}
	}
	vk.CmdBindDescriptorSets(v.Handle, vk.PipelineBindPointGraphics, l.Handle,
		firstSet, uint32(len(handles)), handles, uint32(len(dynamicOffsets)), dynamicOffsets)
}

func (v *VulkanCommandBuffer) BindVertexBuffers(firstBinding uint32, buffers []gpu.Buffer, offsets []uint64) {
	handles := make([]vk.Buffer, 0, len(buffers))
	vkOffsets := make([]vk.DeviceSize, 0, len(buffers))
	for i, b := range buffers {
		vb, ok := b.(*VulkanBuffer)
		if !ok || vb == nil {
			continue
		}
		handles = append(handles, vb.Handle)
		var offset uint64
		if i < len(offsets) {
			offset = offsets[i]
		}
		vkOffsets = append(vkOffsets, vk.DeviceSize(offset))
	}
	if len(handles) == 0 {
		return
	}
	vk.CmdBindVertexBuffers(v.Handle, firstBinding, uint32(len(handles)), handles, vkOffsets)
}

func (v *VulkanCommandBuffer) BindIndexBuffer(buffer gpu.Buffer, offset uint64, indexType gpu.IndexType) {
	if b, ok := buffer.(*VulkanBuffer); ok && b != nil {
		vk.CmdBindIndexBuffer(v.Handle, b.Handle, vk.DeviceSize(offset), vkIndexType(indexType))
	}
}

func (v *VulkanCommandBuffer) SetViewport(viewport gpu.Viewport) {
	vk.CmdSetViewport(v.Handle, 0, 1, []vk.Viewport{{
		X:        viewport.X,
		Y:        viewport.Y,
		Width:    viewport.Width,
		Height:   viewport.Height,
		MinDepth: viewport.MinDepth,
		MaxDepth: viewport.MaxDepth,
	}})
}

func (v *VulkanCommandBuffer) SetScissor(scissor gpu.Rect2D) {
	vk.CmdSetScissor(v.Handle, 0, 1, []vk.Rect2D{vkRect(scissor)})
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (v *VulkanCommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(v.Handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (v *VulkanCommandBuffer) DrawIndirect(buffer gpu.Buffer, offset uint64, drawCount, stride uint32) {
	if b, ok := buffer.(*VulkanBuffer); ok && b != nil {
		vk.CmdDrawIndirect(v.Handle, b.Handle, vk.DeviceSize(offset), drawCount, stride)
	}
}

func (v *VulkanCommandBuffer) DrawIndexedIndirect(buffer gpu.Buffer, offset uint64, drawCount, stride uint32) {
	if b, ok := buffer.(*VulkanBuffer); ok && b != nil {
		vk.CmdDrawIndexedIndirect(v.Handle, b.Handle, vk.DeviceSize(offset), drawCount, stride)
	}
}

/**
 * @brief Records a layout transition for a mip range. Stage and access
 * masks on both sides are derived from the layouts.
 */
func (v *VulkanCommandBuffer) PipelineBarrier(texture gpu.Texture, baseMip, mipCount uint32, oldLayout, newLayout gpu.ImageLayout) {
	img, ok := texture.(*VulkanImage)
	if !ok || img == nil {
		core.LogError("pipeline barrier skipped: texture is not a vulkan image")
		return
	}
	v.imageBarrier(img.Handle, img.Format(), baseMip, mipCount, oldLayout, newLayout)
}

func (v *VulkanCommandBuffer) imageBarrier(image vk.Image, format gpu.Format, baseMip, mipCount uint32, oldLayout, newLayout gpu.ImageLayout) {
	depth := format.IsDepth()
	srcStage, srcAccess := layoutScope(oldLayout, depth)
	dstStage, dstAccess := layoutScope(newLayout, depth)
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           vkImageLayout(oldLayout),
		NewLayout:           vkImageLayout(newLayout),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vkAspect(format),
			BaseMipLevel:   baseMip,
			LevelCount:     mipCount,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	vk.CmdPipelineBarrier(v.Handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

/**
 * Allocates a primary buffer and begins a one-time submit recording.
 */
func (d *VulkanDevice) AllocateAndBeginSingleUse() (*VulkanCommandBuffer, error) {
	cb, err := d.NewVulkanCommandBuffer(gpu.CommandBufferLevelPrimary)
	if err != nil {
		return nil, err
	}
	if err := cb.begin(nil, true); err != nil {
		d.FreeCommandBuffers(cb)
		return nil, err
	}
	return cb, nil
}

/**
 * Ends recording, submits to and waits for the graphics queue, then frees the buffer.
 */
func (d *VulkanDevice) EndSingleUse(cb *VulkanCommandBuffer) error {
	defer d.FreeCommandBuffers(cb)
	if err := cb.End(); err != nil {
		return err
	}
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	return d.context.locks.SafeQueueCall(uint32(d.GraphicsQueueIndex), func() error {
		if err := vkError("vkQueueSubmit", vk.QueueSubmit(d.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence)); err != nil {
			return err
		}
		_ = cb.MarkSubmitted()
		return vkError("vkQueueWaitIdle", vk.QueueWaitIdle(d.GraphicsQueue))
	})
}
