package target

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

/**
 * @brief The final presentation target: one framebuffer per swapchain image
 * and a single-subpass render pass where screen composition and the UI
 * overlay are drawn. Rebuilds itself whenever its swapchain announces
 * EVENT_CODE_SWAPCHAIN_RECREATED.
 */
type SwapchainRenderTarget struct {
	RenderTarget
	swapchain gpu.Swapchain
	err       error
}

func NewSwapchainRenderTarget(device gpu.Device, swapchain gpu.Swapchain, clear gpu.ClearValue) (*SwapchainRenderTarget, error) {
	s := &SwapchainRenderTarget{swapchain: swapchain}
	s.RenderTarget = RenderTarget{
		name:        "swapchain",
		device:      device,
		clearValues: []gpu.ClearValue{clear},
		source:      s,
	}
	if err := s.Rebuild(); err != nil {
		return nil, err
	}
	if !swapchain.Events().Register(core.EVENT_CODE_SWAPCHAIN_RECREATED, s, s.onSwapchainRecreated) {
		s.Destroy()
		return nil, fmt.Errorf("swapchain target could not subscribe to swapchain recreation")
	}
	return s, nil
}

func (s *SwapchainRenderTarget) renderPassDesc() gpu.RenderPassDesc {
	return gpu.RenderPassDesc{
		Name: s.name,
		Attachments: []gpu.AttachmentDesc{{
			Format:        s.format,
			Clear:         true,
			Store:         true,
			InitialLayout: gpu.ImageLayoutUndefined,
			FinalLayout:   gpu.ImageLayoutPresentSrc,
		}},
		Subpasses: []gpu.SubpassDesc{{
			ColorAttachments: []uint32{0},
			DepthAttachment:  gpu.NoAttachment,
		}},
	}
}

func (s *SwapchainRenderTarget) framebufferAttachments(index int) []gpu.ImageView {
	return []gpu.ImageView{s.swapchain.ImageViews()[index]}
}

// Rebuild recreates the render pass and framebuffers from the swapchain's current images.
func (s *SwapchainRenderTarget) Rebuild() error {
	s.destroyFramebuffers()
	s.destroyRenderPass()

	s.format = s.swapchain.Format()
	s.framebufferCount = int(s.swapchain.ImageCount())
	s.setSize(s.swapchain.Extent())

	rp, err := s.device.NewRenderPass(s.renderPassDesc())
	if err != nil {
		err = fmt.Errorf("swapchain target: render pass: %w", err)
		core.LogError(err.Error())
		s.err = err
		return err
	}
	s.renderPass = rp
	if err := s.CreateFramebuffers(); err != nil {
		s.err = err
		return err
	}
	s.generation++
	s.err = nil
	return nil
}

// Resize adopts size and rebuilds the framebuffers against the current swapchain images.
func (s *SwapchainRenderTarget) Resize(size gpu.Extent2D) error {
	s.destroyFramebuffers()
	s.setSize(size)
	if err := s.CreateFramebuffers(); err != nil {
		s.err = err
		return err
	}
	s.generation++
	return nil
}

// Err returns the error of the last rebuild, if it failed.
func (s *SwapchainRenderTarget) Err() error { return s.err }

func (s *SwapchainRenderTarget) onSwapchainRecreated(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	core.LogDebug("swapchain recreated (%dx%d, %d images), rebuilding target", data.Data.U32[0], data.Data.U32[1], data.Data.U32[2])
	if err := s.Rebuild(); err != nil {
		core.LogError("swapchain target rebuild failed: %s", err)
	}
	// other listeners may need the notification too
	return false
}

// Destroy unsubscribes from the swapchain and releases the framebuffers and render pass.
func (s *SwapchainRenderTarget) Destroy() {
	s.swapchain.Events().Unregister(core.EVENT_CODE_SWAPCHAIN_RECREATED, s)
	s.destroyFramebuffers()
	s.destroyRenderPass()
}
