package target

import (
	"strings"
	"testing"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu/gputest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransitioner applies barriers straight onto a command buffer.
type recordingTransitioner struct {
	cmd *gputest.CommandBuffer
}

func (r *recordingTransitioner) TransitionImage(tex gpu.Texture, layout gpu.ImageLayout) error {
	r.cmd.PipelineBarrier(tex, 0, tex.MipLevels(), tex.Layout(0), layout)
	for mip := uint32(0); mip < tex.MipLevels(); mip++ {
		tex.SetLayout(mip, layout)
	}
	return nil
}

func newCamera(t *testing.T, d *gputest.Device, frames int) *CameraRenderTarget {
	c, err := NewCameraRenderTarget(d, "main", gpu.Extent2D{Width: 800, Height: 600}, frames, DefaultGBufferFormats(), gpu.ClearColor(0.1, 0.1, 0.1, 1))
	require.NoError(t, err)
	return c
}

func TestCameraTargetLayout(t *testing.T) {
	d := gputest.NewDevice()
	c := newCamera(t, d, 2)

	assert.Equal(t, 2, c.FramebufferCount())
	require.NotNil(t, c.Framebuffer(0))
	require.NotNil(t, c.Framebuffer(1))
	assert.Nil(t, c.Framebuffer(2))
	assert.Len(t, c.ClearValues(), 6)
	assert.True(t, c.ClearValues()[AttachmentDepth].IsDepth)

	desc := c.RenderPass().Desc()
	require.Len(t, desc.Subpasses, int(CameraSubpassCount))
	assert.Len(t, desc.Subpasses[SubpassGeometry].ColorAttachments, 3)
	assert.Equal(t, uint32(AttachmentDepth), desc.Subpasses[SubpassGeometry].DepthAttachment)
	assert.Len(t, desc.Subpasses[SubpassLighting].InputAttachments, 3)
	assert.Equal(t, []uint32{uint32(AttachmentLighting)}, desc.Subpasses[SubpassPostLight].InputAttachments)
	assert.Equal(t, []uint32{uint32(AttachmentOutput)}, desc.Subpasses[SubpassPostLight].ColorAttachments)

	require.NotNil(t, c.OutputTexture())
	assert.Same(t, c.Attachment(AttachmentOutput), c.OutputTexture())
	assert.Len(t, c.Framebuffer(0).Attachments(), int(attachmentRoleCount))
	assert.Len(t, c.GBufferViews(), 3)

	for role := AttachmentRole(0); role < attachmentRoleCount; role++ {
		name := c.Attachment(role).Name()
		assert.True(t, strings.HasPrefix(name, "main-"+role.String()+"-"), name)
	}
	assert.True(t, c.Attachment(AttachmentDepth).Format().IsDepth())
}

func TestCameraResizePreservesFramebufferCount(t *testing.T) {
	d := gputest.NewDevice()
	c := newCamera(t, d, 3)
	old := c.Framebuffer(0).(*gputest.Framebuffer)
	oldOutput := c.OutputTexture().(*gputest.Texture)
	gen := c.Generation()

	size := gpu.Extent2D{Width: 1280, Height: 720}
	require.NoError(t, c.Resize(size))
	require.NoError(t, c.CreateFramebuffers())

	assert.Equal(t, 3, c.FramebufferCount())
	for i := uint32(0); i < 3; i++ {
		require.NotNil(t, c.Framebuffer(i))
		assert.Equal(t, size, c.Framebuffer(i).Extent())
	}
	assert.Equal(t, size, c.Size())
	assert.Equal(t, size, c.OutputTexture().Extent())
	assert.Equal(t, float32(1280), c.Viewport().Width)
	assert.Equal(t, size, c.Scissor().Extent)
	assert.True(t, old.Destroyed)
	assert.True(t, oldOutput.Destroyed)
	assert.Greater(t, c.Generation(), gen)

	assert.Error(t, c.Resize(gpu.Extent2D{Width: 0, Height: 720}))
}

func TestCameraLayoutProtocol(t *testing.T) {
	d := gputest.NewDevice()
	c := newCamera(t, d, 2)
	cmd := d.NewCommandBuffer(gpu.CommandBufferLevelPrimary)
	require.NoError(t, cmd.Begin(nil))
	tr := &recordingTransitioner{cmd: cmd}

	require.NoError(t, c.PrepareForRender(tr))
	assert.Equal(t, gpu.ImageLayoutColorAttachmentOptimal, c.OutputTexture().Layout(0))
	require.NoError(t, c.TransitionToRead(tr))
	assert.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, c.OutputTexture().Layout(0))

	barriers := cmd.Find(gputest.OpPipelineBarrier)
	require.Len(t, barriers, 2)
	assert.Equal(t, gpu.ImageLayoutUndefined, barriers[0].OldLayout)
	assert.Equal(t, gpu.ImageLayoutColorAttachmentOptimal, barriers[1].OldLayout)
	assert.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, barriers[1].NewLayout)
}

func TestCameraTargetRejectsBadConfig(t *testing.T) {
	d := gputest.NewDevice()
	_, err := NewCameraRenderTarget(d, "zero", gpu.Extent2D{}, 2, DefaultGBufferFormats(), gpu.ClearValue{})
	assert.Error(t, err)

	formats := DefaultGBufferFormats()
	formats.Depth = gpu.FormatR8G8B8A8Unorm
	_, err = NewCameraRenderTarget(d, "nodepth", gpu.Extent2D{Width: 4, Height: 4}, 2, formats, gpu.ClearValue{})
	assert.Error(t, err)
}

func TestSwapchainTargetFollowsSwapchain(t *testing.T) {
	d := gputest.NewDevice()
	sc := gputest.NewSwapchain(d, gpu.Extent2D{Width: 640, Height: 480}, 3)
	s, err := NewSwapchainRenderTarget(d, sc, gpu.ClearColor(0, 0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, sc.Events().Listeners(core.EVENT_CODE_SWAPCHAIN_RECREATED))

	assert.Equal(t, 3, s.FramebufferCount())
	assert.Equal(t, sc.Format(), s.Format())
	assert.Equal(t, gpu.ImageLayoutPresentSrc, s.RenderPass().Desc().Attachments[0].FinalLayout)
	assert.Len(t, s.RenderPass().Desc().Subpasses, 1)
	oldPass := s.RenderPass().(*gputest.RenderPass)

	size := gpu.Extent2D{Width: 1920, Height: 1080}
	sc.Recreate(size, 2)
	require.NoError(t, s.Err())
	assert.True(t, oldPass.Destroyed)
	assert.Equal(t, 2, s.FramebufferCount())
	assert.Equal(t, size, s.Size())
	for i := uint32(0); i < 2; i++ {
		assert.Equal(t, size, s.Framebuffer(i).Extent())
		assert.Equal(t, sc.ImageViews()[i], s.Framebuffer(i).Attachments()[0])
	}

	s.Destroy()
	assert.Equal(t, 0, sc.Events().Listeners(core.EVENT_CODE_SWAPCHAIN_RECREATED))
	sc.Recreate(gpu.Extent2D{Width: 10, Height: 10}, 2)
	assert.Equal(t, size, s.Size())
}

func TestSwapchainResizePreservesFramebufferCount(t *testing.T) {
	d := gputest.NewDevice()
	sc := gputest.NewSwapchain(d, gpu.Extent2D{Width: 640, Height: 480}, 3)
	s, err := NewSwapchainRenderTarget(d, sc, gpu.ClearColor(0, 0, 0, 1))
	require.NoError(t, err)

	size := gpu.Extent2D{Width: 320, Height: 240}
	require.NoError(t, s.Resize(size))
	require.NoError(t, s.CreateFramebuffers())
	assert.Equal(t, 3, s.FramebufferCount())
	for i := uint32(0); i < 3; i++ {
		assert.Equal(t, size, s.Framebuffer(i).Extent())
	}
}
