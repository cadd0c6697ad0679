// Package target owns the attachments, framebuffers and render passes of
// every surface the deferred pipeline draws into.
package target

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

// Target is what the render context needs to begin a render pass on a surface.
type Target interface {
	Name() string
	Size() gpu.Extent2D
	Format() gpu.Format
	RenderPass() gpu.RenderPass
	Framebuffer(index uint32) gpu.Framebuffer
	FramebufferCount() int
	ClearValues() []gpu.ClearValue
	Viewport() gpu.Viewport
	Scissor() gpu.Rect2D
	OutputTexture() gpu.Texture
	CreateFramebuffers() error
	Resize(size gpu.Extent2D) error
	Destroy()
}

// ImageTransitioner records a layout barrier for every mip of texture.
type ImageTransitioner interface {
	TransitionImage(texture gpu.Texture, layout gpu.ImageLayout) error
}

type attachmentSource interface {
	framebufferAttachments(index int) []gpu.ImageView
}

/**
 * @brief State shared by every target: size, colour format, render pass,
 * framebuffers, clear values and the optional sampleable output.
 * The framebuffer count is fixed at creation (frames in flight or
 * swapchain images) and survives every rebuild.
 */
type RenderTarget struct {
	name             string
	device           gpu.Device
	size             gpu.Extent2D
	format           gpu.Format
	renderPass       gpu.RenderPass
	framebuffers     []gpu.Framebuffer
	framebufferCount int
	clearValues      []gpu.ClearValue
	output           gpu.Texture
	viewport         gpu.Viewport
	scissor          gpu.Rect2D
	generation       uint64

	source attachmentSource
}

func (t *RenderTarget) Name() string                  { return t.name }
func (t *RenderTarget) Size() gpu.Extent2D            { return t.size }
func (t *RenderTarget) Format() gpu.Format            { return t.format }
func (t *RenderTarget) RenderPass() gpu.RenderPass    { return t.renderPass }
func (t *RenderTarget) FramebufferCount() int         { return t.framebufferCount }
func (t *RenderTarget) ClearValues() []gpu.ClearValue { return t.clearValues }
func (t *RenderTarget) Viewport() gpu.Viewport        { return t.viewport }
func (t *RenderTarget) Scissor() gpu.Rect2D           { return t.scissor }
func (t *RenderTarget) OutputTexture() gpu.Texture    { return t.output }

// Generation increases every time the attachments are rebuilt.
func (t *RenderTarget) Generation() uint64 { return t.generation }

// Framebuffer returns the framebuffer for a frame in flight (or swapchain image), or nil.
func (t *RenderTarget) Framebuffer(index uint32) gpu.Framebuffer {
	if int(index) >= len(t.framebuffers) {
		return nil
	}
	return t.framebuffers[index]
}

// SetClearColor replaces the clear value of attachment index.
func (t *RenderTarget) SetClearColor(index int, value gpu.ClearValue) {
	if index < len(t.clearValues) {
		t.clearValues[index] = value
	}
}

/**
 * @brief (Re)builds one framebuffer per frame in flight from the current
 * attachments. Must run after any attachment change and before the next
 * frame references the target.
 */
func (t *RenderTarget) CreateFramebuffers() error {
	t.destroyFramebuffers()
	if t.renderPass == nil {
		return fmt.Errorf("render target '%s' has no render pass", t.name)
	}

	framebuffers := make([]gpu.Framebuffer, t.framebufferCount)
	for i := range framebuffers {
		fb, err := t.device.NewFramebuffer(t.renderPass, t.source.framebufferAttachments(i), t.size)
		if err != nil {
			for _, created := range framebuffers[:i] {
				created.Destroy()
			}
			err = fmt.Errorf("render target '%s': framebuffer %d: %w", t.name, i, err)
			core.LogError(err.Error())
			return err
		}
		framebuffers[i] = fb
	}
	t.framebuffers = framebuffers
	return nil
}

func (t *RenderTarget) destroyFramebuffers() {
	for _, fb := range t.framebuffers {
		if fb != nil {
			fb.Destroy()
		}
	}
	t.framebuffers = nil
}

func (t *RenderTarget) setSize(size gpu.Extent2D) {
	t.size = size
	t.viewport = gpu.ViewportFor(size)
	t.scissor = gpu.ScissorFor(size)
}

func (t *RenderTarget) destroyRenderPass() {
	if t.renderPass != nil {
		t.renderPass.Destroy()
		t.renderPass = nil
	}
}
