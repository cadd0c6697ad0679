package passes

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/renderer/frame"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

/**
 * @brief Second stage of the final pass, recorded into the same secondary
 * as the screen composition: the packet's UI draws, then overlay text.
 */
type UIPass struct {
	text *TextOverlay
	// Lines appended to every frame's packet text, e.g. frame statistics.
	extra []metadata.TextLine
	lines []metadata.TextLine
}

func NewUIPass(text *TextOverlay) *UIPass {
	return &UIPass{text: text}
}

func (p *UIPass) Name() string    { return "ui" }
func (p *UIPass) Subpass() uint32 { return 0 }

// SetOverlay replaces the lines drawn on top of the packet's text.
func (p *UIPass) SetOverlay(lines ...metadata.TextLine) {
	p.extra = append(p.extra[:0], lines...)
}

func (p *UIPass) Record(rc *frame.RenderContext, view *View) error {
	if view.Target == nil {
		return fmt.Errorf("ui pass needs the swapchain target")
	}
	p.lines = p.lines[:0]
	if view.Packet != nil {
		if len(view.Packet.UI) > 0 {
			if err := rc.SetViewportAndScissor(view.Target.Viewport(), view.Target.Scissor()); err != nil {
				return err
			}
		}
		for _, cmd := range view.Packet.UI {
			if err := rc.Submit(cmd); err != nil {
				return fmt.Errorf("ui material '%s': %w", materialName(cmd.Material), err)
			}
		}
		p.lines = append(p.lines, view.Packet.Text...)
	}
	p.lines = append(p.lines, p.extra...)
	if p.text == nil || len(p.lines) == 0 {
		return nil
	}
	return p.text.Record(rc, view.Target, p.lines)
}

func (p *UIPass) Destroy() {
	if p.text != nil {
		p.text.Destroy()
	}
}
