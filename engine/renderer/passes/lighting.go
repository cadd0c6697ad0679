package passes

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/frame"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
)

// Bindings of the lighting set: the G-buffer inputs fan out over 0..2.
const (
	LightingBindingGBuffer  uint32 = 0
	LightingBindingUniforms uint32 = 3
)

type lightingState struct {
	pass       uint64
	generation uint64
	material   *metadata.Material
	inputs     *binding.InputAttachmentBinding
	uniform    *frameUniform
}

/**
 * @brief Subpass 1: reads albedo, normal and position as input
 * attachments and accumulates lighting into the lighting attachment.
 */
type LightingPass struct {
	device         gpu.Device
	framesInFlight uint32

	layout     gpu.PipelineLayout
	setLayouts []gpu.DescriptorSetLayout
	pipelines  *pipelineCache
	cameras    map[*metadata.Camera]*lightingState
}

func NewLightingPass(device gpu.Device, shaders Shaders, framesInFlight uint32) (*LightingPass, error) {
	layout, setLayouts, err := newLayout(device, []gpu.DescriptorSetLayoutBinding{
		{Binding: LightingBindingGBuffer, Type: gpu.DescriptorTypeInputAttachment, Count: 1, Stages: gpu.ShaderStageFragment},
		{Binding: LightingBindingGBuffer + 1, Type: gpu.DescriptorTypeInputAttachment, Count: 1, Stages: gpu.ShaderStageFragment},
		{Binding: LightingBindingGBuffer + 2, Type: gpu.DescriptorTypeInputAttachment, Count: 1, Stages: gpu.ShaderStageFragment},
		{Binding: LightingBindingUniforms, Type: gpu.DescriptorTypeUniformBufferDynamic, Count: 1, Stages: gpu.ShaderStageFragment},
	})
	if err != nil {
		return nil, fmt.Errorf("lighting pass layout: %w", err)
	}
	return &LightingPass{
		device:         device,
		framesInFlight: framesInFlight,
		layout:         layout,
		setLayouts:     setLayouts,
		pipelines: newPipelineCache(device, gpu.PipelineDesc{
			Name:           "lighting",
			Layout:         layout,
			Subpass:        target.SubpassLighting,
			VertexShader:   shaders.Get(ShaderFullscreen),
			FragmentShader: shaders.Get(ShaderLightingFrag),
			ColorTargets:   1,
		}),
		cameras: make(map[*metadata.Camera]*lightingState),
	}, nil
}

func (p *LightingPass) Name() string    { return "lighting" }
func (p *LightingPass) Subpass() uint32 { return target.SubpassLighting }

func (p *LightingPass) state(cam *metadata.Camera) (*lightingState, error) {
	rt := cam.Target
	pass := rt.RenderPass()
	s, ok := p.cameras[cam]
	if ok && s.pass == pass.ID() {
		if s.generation != rt.Generation() {
			s.inputs.SetViews(rt.GBufferViews()...)
			s.generation = rt.Generation()
		}
		return s, nil
	}
	if ok {
		p.pipelines.drop(s.pass)
	}

	pipeline, err := p.pipelines.get(pass)
	if err != nil {
		return nil, err
	}
	if s == nil {
		u, err := newFrameUniform(p.device, 0, LightingBindingUniforms, metadata.LightingUniformSize, p.framesInFlight)
		if err != nil {
			return nil, fmt.Errorf("camera '%s' lighting uniforms: %w", cam.Name, err)
		}
		s = &lightingState{uniform: u}
		p.cameras[cam] = s
	}
	s.pass = pass.ID()
	s.generation = rt.Generation()
	s.inputs = binding.NewInputAttachmentBinding(0, LightingBindingGBuffer, rt.GBufferViews()...)
	s.material = metadata.NewMaterial("lighting-"+cam.Name, pipeline)
	if err := s.material.Add(s.inputs, s.uniform.binding); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *LightingPass) Record(rc *frame.RenderContext, view *View) error {
	cam := view.Camera
	if cam == nil || cam.Target == nil {
		return fmt.Errorf("lighting pass needs a camera with a render target")
	}
	s, err := p.state(cam)
	if err != nil {
		return err
	}
	lighting := metadata.DefaultLighting()
	if view.Packet != nil {
		lighting = view.Packet.Lighting
	}
	if err := s.uniform.update(rc, lighting.Bytes(cam.Position())); err != nil {
		return err
	}
	return fullscreen(rc, s.material, cam.Target.Viewport(), cam.Target.Scissor())
}

func (p *LightingPass) Release(cam *metadata.Camera) {
	if s, ok := p.cameras[cam]; ok {
		s.uniform.destroy()
		p.pipelines.drop(s.pass)
		delete(p.cameras, cam)
	}
}

func (p *LightingPass) Destroy() {
	for cam := range p.cameras {
		p.Release(cam)
	}
	p.pipelines.destroy()
	p.layout.Destroy()
	for _, l := range p.setLayouts {
		l.Destroy()
	}
}
