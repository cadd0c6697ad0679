package target

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type AttachmentRole int

const (
	AttachmentAlbedo AttachmentRole = iota
	AttachmentNormal
	AttachmentPosition
	AttachmentDepth
	AttachmentLighting
	AttachmentOutput
	attachmentRoleCount
)

func (r AttachmentRole) String() string {
	switch r {
	case AttachmentAlbedo:
		return "albedo"
	case AttachmentNormal:
		return "normal"
	case AttachmentPosition:
		return "position"
	case AttachmentDepth:
		return "depth"
	case AttachmentLighting:
		return "lighting"
	case AttachmentOutput:
		return "output"
	}
	return fmt.Sprintf("attachment(%d)", int(r))
}

// Subpass indices of the camera render pass.
const (
	SubpassGeometry uint32 = iota
	SubpassLighting
	SubpassPostLight
	CameraSubpassCount
)

type GBufferFormats struct {
	Albedo   gpu.Format
	Normal   gpu.Format
	Position gpu.Format
	Depth    gpu.Format
	Lighting gpu.Format
	Output   gpu.Format
}

func DefaultGBufferFormats() GBufferFormats {
	return GBufferFormats{
		Albedo:   gpu.FormatR8G8B8A8Unorm,
		Normal:   gpu.FormatR16G16B16A16Sfloat,
		Position: gpu.FormatR16G16B16A16Sfloat,
		Depth:    gpu.FormatD32Sfloat,
		Lighting: gpu.FormatR16G16B16A16Sfloat,
		Output:   gpu.FormatR8G8B8A8Unorm,
	}
}

func (f GBufferFormats) of(role AttachmentRole) gpu.Format {
	switch role {
	case AttachmentAlbedo:
		return f.Albedo
	case AttachmentNormal:
		return f.Normal
	case AttachmentPosition:
		return f.Position
	case AttachmentDepth:
		return f.Depth
	case AttachmentLighting:
		return f.Lighting
	}
	return f.Output
}

/**
 * @brief The offscreen target of one camera: a G-buffer (albedo, normal,
 * position, depth), a lighting accumulation attachment and a sampleable
 * output texture, drawn by a three-subpass render pass.
 *
 * Every frame brackets the camera's passes with PrepareForRender and
 * TransitionToRead so the output is a colour attachment while written and
 * shader-readable while composited.
 */
type CameraRenderTarget struct {
	RenderTarget
	formats     GBufferFormats
	attachments [attachmentRoleCount]gpu.Texture
}

func NewCameraRenderTarget(device gpu.Device, name string, size gpu.Extent2D, framesInFlight int, formats GBufferFormats, clear gpu.ClearValue) (*CameraRenderTarget, error) {
	if size.IsZero() {
		return nil, fmt.Errorf("camera target '%s' needs a non-zero size, got %s", name, size)
	}
	if !formats.Depth.IsDepth() {
		return nil, fmt.Errorf("camera target '%s': %s is not a depth format", name, formats.Depth)
	}

	c := &CameraRenderTarget{formats: formats}
	c.RenderTarget = RenderTarget{
		name:             name,
		device:           device,
		format:           formats.Output,
		framebufferCount: framesInFlight,
		clearValues: []gpu.ClearValue{
			gpu.ClearColor(0, 0, 0, 0),
			gpu.ClearColor(0, 0, 0, 0),
			gpu.ClearColor(0, 0, 0, 0),
			gpu.ClearDepth(1.0, 0),
			gpu.ClearColor(0, 0, 0, 0),
			clear,
		},
		source: c,
	}
	c.setSize(size)

	rp, err := device.NewRenderPass(c.renderPassDesc())
	if err != nil {
		err = fmt.Errorf("camera target '%s': render pass: %w", name, err)
		core.LogError(err.Error())
		return nil, err
	}
	c.renderPass = rp

	if err := c.createAttachments(); err != nil {
		c.Destroy()
		return nil, err
	}
	if err := c.CreateFramebuffers(); err != nil {
		c.Destroy()
		return nil, err
	}
	core.LogDebug("camera target '%s' created (%s, %d framebuffers)", name, size, framesInFlight)
	return c, nil
}

func (c *CameraRenderTarget) renderPassDesc() gpu.RenderPassDesc {
	color := func(f gpu.Format, store bool, initial gpu.ImageLayout) gpu.AttachmentDesc {
		return gpu.AttachmentDesc{
			Format:        f,
			Clear:         true,
			Store:         store,
			InitialLayout: initial,
			FinalLayout:   gpu.ImageLayoutColorAttachmentOptimal,
		}
	}
	return gpu.RenderPassDesc{
		Name: c.name,
		Attachments: []gpu.AttachmentDesc{
			color(c.formats.Albedo, false, gpu.ImageLayoutUndefined),
			color(c.formats.Normal, false, gpu.ImageLayoutUndefined),
			color(c.formats.Position, false, gpu.ImageLayoutUndefined),
			{
				Format:        c.formats.Depth,
				Clear:         true,
				InitialLayout: gpu.ImageLayoutUndefined,
				FinalLayout:   gpu.ImageLayoutDepthStencilAttachmentOptimal,
			},
			color(c.formats.Lighting, false, gpu.ImageLayoutUndefined),
			// PrepareForRender puts the output in this layout before the pass begins
			color(c.formats.Output, true, gpu.ImageLayoutColorAttachmentOptimal),
		},
		Subpasses: []gpu.SubpassDesc{
			{
				ColorAttachments: []uint32{uint32(AttachmentAlbedo), uint32(AttachmentNormal), uint32(AttachmentPosition)},
				DepthAttachment:  uint32(AttachmentDepth),
			},
			{
				InputAttachments: []uint32{uint32(AttachmentAlbedo), uint32(AttachmentNormal), uint32(AttachmentPosition)},
				ColorAttachments: []uint32{uint32(AttachmentLighting)},
				DepthAttachment:  gpu.NoAttachment,
			},
			{
				InputAttachments: []uint32{uint32(AttachmentLighting)},
				ColorAttachments: []uint32{uint32(AttachmentOutput)},
				DepthAttachment:  gpu.NoAttachment,
			},
		},
	}
}

func (c *CameraRenderTarget) createAttachments() error {
	for role := AttachmentRole(0); role < attachmentRoleCount; role++ {
		usage := gpu.TextureUsageColorAttachment | gpu.TextureUsageInputAttachment
		switch role {
		case AttachmentDepth:
			usage = gpu.TextureUsageDepthAttachment | gpu.TextureUsageInputAttachment
		case AttachmentOutput:
			usage = gpu.TextureUsageColorAttachment | gpu.TextureUsageSampled
		}
		tex, err := c.device.NewTexture(gpu.TextureDesc{
			Name:      fmt.Sprintf("%s-%s-%s", c.name, role, uuid.NewString()),
			Extent:    c.size,
			Format:    c.formats.of(role),
			MipLevels: 1,
			Usage:     usage,
		})
		if err != nil {
			err = fmt.Errorf("camera target '%s': %s attachment: %w", c.name, role, err)
			core.LogError(err.Error())
			return err
		}
		c.attachments[role] = tex
	}
	c.output = c.attachments[AttachmentOutput]
	c.generation++
	return nil
}

func (c *CameraRenderTarget) destroyAttachments() {
	for i, tex := range c.attachments {
		if tex != nil {
			tex.Destroy()
			c.attachments[i] = nil
		}
	}
	c.output = nil
}

func (c *CameraRenderTarget) framebufferAttachments(index int) []gpu.ImageView {
	views := make([]gpu.ImageView, attachmentRoleCount)
	for i, tex := range c.attachments {
		views[i] = tex.View()
	}
	return views
}

// Attachment returns the texture backing role.
func (c *CameraRenderTarget) Attachment(role AttachmentRole) gpu.Texture {
	if role < 0 || role >= attachmentRoleCount {
		return nil
	}
	return c.attachments[role]
}

// GBufferViews returns the views the lighting subpass reads: albedo, normal, position.
func (c *CameraRenderTarget) GBufferViews() []gpu.ImageView {
	return []gpu.ImageView{
		c.attachments[AttachmentAlbedo].View(),
		c.attachments[AttachmentNormal].View(),
		c.attachments[AttachmentPosition].View(),
	}
}

// LightingView is what the post-light subpass reads.
func (c *CameraRenderTarget) LightingView() gpu.ImageView {
	return c.attachments[AttachmentLighting].View()
}

// PrepareForRender makes the output writable as a colour attachment.
func (c *CameraRenderTarget) PrepareForRender(tr ImageTransitioner) error {
	if c.output == nil {
		return fmt.Errorf("camera target '%s' has no output texture", c.name)
	}
	return tr.TransitionImage(c.output, gpu.ImageLayoutColorAttachmentOptimal)
}

// TransitionToRead makes the output sampleable by the composition pass.
func (c *CameraRenderTarget) TransitionToRead(tr ImageTransitioner) error {
	if c.output == nil {
		return fmt.Errorf("camera target '%s' has no output texture", c.name)
	}
	return tr.TransitionImage(c.output, gpu.ImageLayoutShaderReadOnlyOptimal)
}

/**
 * @brief Disposes the attachments and framebuffers, then rebuilds all of
 * them at size. The caller must make sure no frame in flight still uses the
 * old attachments.
 */
func (c *CameraRenderTarget) Resize(size gpu.Extent2D) error {
	if size.IsZero() {
		return fmt.Errorf("camera target '%s' cannot be resized to %s", c.name, size)
	}
	if size == c.size && c.framebuffers != nil {
		return nil
	}

	c.destroyFramebuffers()
	c.destroyAttachments()
	c.setSize(size)

	if err := c.createAttachments(); err != nil {
		return err
	}
	if err := c.CreateFramebuffers(); err != nil {
		return err
	}
	core.LogDebug("camera target '%s' resized to %s", c.name, size)
	return nil
}

func (c *CameraRenderTarget) Destroy() {
	c.destroyFramebuffers()
	c.destroyAttachments()
	c.destroyRenderPass()
}
