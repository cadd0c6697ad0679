package gputest

import (
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type Swapchain struct {
	object
	device *Device
	format gpu.Format
	extent gpu.Extent2D
	images []*Texture
	events *core.EventSystem
}

func NewSwapchain(d *Device, extent gpu.Extent2D, imageCount uint32) *Swapchain {
	s := &Swapchain{device: d, format: gpu.FormatB8G8R8A8Unorm, events: core.NewEventSystem()}
	s.object = d.nextID(s)
	s.build(extent, imageCount)
	return s
}

func (s *Swapchain) build(extent gpu.Extent2D, imageCount uint32) {
	s.extent = extent
	s.images = make([]*Texture, imageCount)
	for i := range s.images {
		s.images[i] = s.device.CreateTexture(gpu.TextureDesc{
			Name:   "swapchain",
			Extent: extent,
			Format: s.format,
			Usage:  gpu.TextureUsageColorAttachment,
		})
	}
}

func (s *Swapchain) Format() gpu.Format        { return s.format }
func (s *Swapchain) Extent() gpu.Extent2D      { return s.extent }
func (s *Swapchain) ImageCount() uint32        { return uint32(len(s.images)) }
func (s *Swapchain) Events() *core.EventSystem { return s.events }

func (s *Swapchain) ImageViews() []gpu.ImageView {
	views := make([]gpu.ImageView, len(s.images))
	for i, img := range s.images {
		views[i] = img.View()
	}
	return views
}

// Recreate rebuilds the images and notifies listeners.
func (s *Swapchain) Recreate(extent gpu.Extent2D, imageCount uint32) {
	for _, img := range s.images {
		img.Destroy()
	}
	s.build(extent, imageCount)

	ctx := core.EventContext{}
	ctx.Data.U32[0] = extent.Width
	ctx.Data.U32[1] = extent.Height
	ctx.Data.U32[2] = imageCount
	s.events.Fire(core.EVENT_CODE_SWAPCHAIN_RECREATED, s, ctx)
}
