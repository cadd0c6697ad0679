package passes

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/frame"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
)

type postLightState struct {
	pass       uint64
	generation uint64
	material   *metadata.Material
	input      *binding.InputAttachmentBinding
}

/**
 * @brief Subpass 2: tone maps the lighting attachment into the camera
 * output texture.
 */
type PostLightPass struct {
	layout     gpu.PipelineLayout
	setLayouts []gpu.DescriptorSetLayout
	pipelines  *pipelineCache
	cameras    map[*metadata.Camera]*postLightState
}

func NewPostLightPass(device gpu.Device, shaders Shaders) (*PostLightPass, error) {
	layout, setLayouts, err := newLayout(device, []gpu.DescriptorSetLayoutBinding{
		{Binding: 0, Type: gpu.DescriptorTypeInputAttachment, Count: 1, Stages: gpu.ShaderStageFragment},
	})
	if err != nil {
		return nil, fmt.Errorf("post-light pass layout: %w", err)
	}
	return &PostLightPass{
		layout:     layout,
		setLayouts: setLayouts,
		pipelines: newPipelineCache(device, gpu.PipelineDesc{
			Name:           "postlight",
			Layout:         layout,
			Subpass:        target.SubpassPostLight,
			VertexShader:   shaders.Get(ShaderFullscreen),
			FragmentShader: shaders.Get(ShaderPostLightFrag),
			ColorTargets:   1,
		}),
		cameras: make(map[*metadata.Camera]*postLightState),
	}, nil
}

func (p *PostLightPass) Name() string    { return "postlight" }
func (p *PostLightPass) Subpass() uint32 { return target.SubpassPostLight }

func (p *PostLightPass) state(cam *metadata.Camera) (*postLightState, error) {
	rt := cam.Target
	pass := rt.RenderPass()
	s, ok := p.cameras[cam]
	if ok && s.pass == pass.ID() {
		if s.generation != rt.Generation() {
			s.input.SetViews(rt.LightingView())
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
	s = &postLightState{
		pass:       pass.ID(),
		generation: rt.Generation(),
		input:      binding.NewInputAttachmentBinding(0, 0, rt.LightingView()),
		material:   metadata.NewMaterial("postlight-"+cam.Name, pipeline),
	}
	if err := s.material.Add(s.input); err != nil {
		return nil, err
	}
	p.cameras[cam] = s
	return s, nil
}

func (p *PostLightPass) Record(rc *frame.RenderContext, view *View) error {
	cam := view.Camera
	if cam == nil || cam.Target == nil {
		return fmt.Errorf("post-light pass needs a camera with a render target")
	}
	s, err := p.state(cam)
	if err != nil {
		return err
	}
	return fullscreen(rc, s.material, cam.Target.Viewport(), cam.Target.Scissor())
}

func (p *PostLightPass) Release(cam *metadata.Camera) {
	if s, ok := p.cameras[cam]; ok {
		p.pipelines.drop(s.pass)
		delete(p.cameras, cam)
	}
}

func (p *PostLightPass) Destroy() {
	p.cameras = make(map[*metadata.Camera]*postLightState)
	p.pipelines.destroy()
	p.layout.Destroy()
	for _, l := range p.setLayouts {
		l.Destroy()
	}
}
