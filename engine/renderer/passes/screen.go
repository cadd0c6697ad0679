package passes

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/frame"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

type screenState struct {
	pass       uint64
	generation uint64
	material   *metadata.Material
	output     *binding.TextureBinding
}

/**
 * @brief First stage of the final pass: samples every camera's output
 * texture into its ScreenRect on the swapchain image. With no cameras it
 * records nothing and the swapchain image keeps its clear colour.
 */
type ScreenPass struct {
	layout     gpu.PipelineLayout
	setLayouts []gpu.DescriptorSetLayout
	pipelines  *pipelineCache
	cameras    map[*metadata.Camera]*screenState
	// swapchain render pass the states were built for
	pass uint64
}

func NewScreenPass(device gpu.Device, shaders Shaders) (*ScreenPass, error) {
	layout, setLayouts, err := newLayout(device, []gpu.DescriptorSetLayoutBinding{
		{Binding: 0, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
	})
	if err != nil {
		return nil, fmt.Errorf("screen pass layout: %w", err)
	}
	return &ScreenPass{
		layout:     layout,
		setLayouts: setLayouts,
		pipelines: newPipelineCache(device, gpu.PipelineDesc{
			Name:           "composite",
			Layout:         layout,
			Subpass:        0,
			VertexShader:   shaders.Get(ShaderFullscreen),
			FragmentShader: shaders.Get(ShaderCompositeFrag),
			ColorTargets:   1,
		}),
		cameras: make(map[*metadata.Camera]*screenState),
	}, nil
}

func (p *ScreenPass) Name() string    { return "screen" }
func (p *ScreenPass) Subpass() uint32 { return 0 }

func (p *ScreenPass) state(cam *metadata.Camera, pass gpu.RenderPass) (*screenState, error) {
	rt := cam.Target
	if s, ok := p.cameras[cam]; ok && s.pass == pass.ID() {
		if s.generation != rt.Generation() {
			s.output.SetTextures(rt.OutputTexture())
			s.generation = rt.Generation()
		}
		return s, nil
	}
	pipeline, err := p.pipelines.get(pass)
	if err != nil {
		return nil, err
	}
	s := &screenState{
		pass:       pass.ID(),
		generation: rt.Generation(),
		output:     binding.NewTextureBinding(0, 0, rt.OutputTexture()),
		material:   metadata.NewMaterial("composite-"+cam.Name, pipeline),
	}
	if err := s.material.Add(s.output); err != nil {
		return nil, err
	}
	p.cameras[cam] = s
	return s, nil
}

func (p *ScreenPass) Record(rc *frame.RenderContext, view *View) error {
	if view.Target == nil {
		return fmt.Errorf("screen pass needs the swapchain target")
	}
	pass := view.Target.RenderPass()
	if pass != nil && pass.ID() != p.pass {
		p.retarget(pass)
	}
	for _, cam := range view.Cameras {
		if cam.Target == nil {
			continue
		}
		s, err := p.state(cam, pass)
		if err != nil {
			return err
		}
		rect := clampRect(cam.ScreenRect, view.Target.Size())
		if rect.Extent.IsZero() {
			continue
		}
		if err := fullscreen(rc, s.material, gpu.ViewportForRect(rect), rect); err != nil {
			return fmt.Errorf("compose camera '%s': %w", cam.Name, err)
		}
	}
	return nil
}

// retarget forgets the pipelines and camera states of an earlier swapchain render pass.
func (p *ScreenPass) retarget(pass gpu.RenderPass) {
	p.pipelines.retain(pass)
	for cam, s := range p.cameras {
		if s.pass != pass.ID() {
			delete(p.cameras, cam)
		}
	}
	p.pass = pass.ID()
}

func (p *ScreenPass) Release(cam *metadata.Camera) {
	delete(p.cameras, cam)
}

func (p *ScreenPass) Destroy() {
	p.cameras = make(map[*metadata.Camera]*screenState)
	p.pipelines.destroy()
	p.layout.Destroy()
	for _, l := range p.setLayouts {
		l.Destroy()
	}
}
