package passes

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/frame"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
)

// Descriptor sets of the geometry pipeline layout.
const (
	GeometrySetGlobals uint32 = iota
	GeometrySetMaterial
)

// Bindings of GeometrySetMaterial.
const (
	GeometryBindingMaterialUniform uint32 = iota
	GeometryBindingAlbedo
)

// geometryVertexStride matches math.Vertex3D: position, normal, texcoord.
const geometryVertexStride = 12 + 12 + 8

type cameraGlobals struct {
	uniform   *frameUniform
	resources *sharedResources
}

/**
 * @brief Subpass 0: draws the camera's opaque commands into the albedo,
 * normal and position attachments. Set 0 carries the camera globals,
 * set 1 belongs to the material.
 */
type GeometryPass struct {
	device         gpu.Device
	framesInFlight uint32
	shaders        Shaders

	layout     gpu.PipelineLayout
	setLayouts []gpu.DescriptorSetLayout
	pipelines  []gpu.Pipeline
	globals    map[*metadata.Camera]*cameraGlobals
}

func NewGeometryPass(device gpu.Device, shaders Shaders, framesInFlight uint32) (*GeometryPass, error) {
	layout, setLayouts, err := newLayout(device,
		[]gpu.DescriptorSetLayoutBinding{
			{Binding: 0, Type: gpu.DescriptorTypeUniformBufferDynamic, Count: 1, Stages: gpu.ShaderStageAllGraphics},
		},
		[]gpu.DescriptorSetLayoutBinding{
			{Binding: GeometryBindingMaterialUniform, Type: gpu.DescriptorTypeUniformBuffer, Count: 1, Stages: gpu.ShaderStageAllGraphics},
			{Binding: GeometryBindingAlbedo, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("geometry pass layout: %w", err)
	}
	return &GeometryPass{
		device:         device,
		framesInFlight: framesInFlight,
		shaders:        shaders,
		layout:         layout,
		setLayouts:     setLayouts,
		globals:        make(map[*metadata.Camera]*cameraGlobals),
	}, nil
}

func (p *GeometryPass) Name() string               { return "geometry" }
func (p *GeometryPass) Subpass() uint32            { return target.SubpassGeometry }
func (p *GeometryPass) Layout() gpu.PipelineLayout { return p.layout }
func (p *GeometryPass) Globals(cam *metadata.Camera) binding.Material {
	if g, ok := p.globals[cam]; ok {
		return g.resources
	}
	return nil
}

/**
 * @brief Creates a material drawable by this pass. The pipeline is built
 * against pass, any camera render pass works since they are compatible.
 */
func (p *GeometryPass) CreateMaterial(name string, pass gpu.RenderPass) (*metadata.Material, error) {
	pipeline, err := p.device.NewGraphicsPipeline(gpu.PipelineDesc{
		Name:           "geometry-" + name,
		Layout:         p.layout,
		RenderPass:     pass,
		Subpass:        target.SubpassGeometry,
		VertexShader:   p.shaders.Get(ShaderGeometryVert),
		FragmentShader: p.shaders.Get(ShaderGeometryFrag),
		VertexStride:   geometryVertexStride,
		Attributes: []gpu.VertexAttribute{
			{Location: 0, Format: gpu.FormatR32G32B32Sfloat, Offset: 0},
			{Location: 1, Format: gpu.FormatR32G32B32Sfloat, Offset: 12},
			{Location: 2, Format: gpu.FormatR32G32Sfloat, Offset: 24},
		},
		ColorTargets: 3,
		DepthTest:    true,
		DepthWrite:   true,
	})
	if err != nil {
		err = fmt.Errorf("failed to create material '%s': %w", name, err)
		core.LogError(err.Error())
		return nil, err
	}
	p.pipelines = append(p.pipelines, pipeline)
	return metadata.NewMaterial(name, pipeline), nil
}

func (p *GeometryPass) cameraGlobals(cam *metadata.Camera) (*cameraGlobals, error) {
	if g, ok := p.globals[cam]; ok {
		return g, nil
	}
	u, err := newFrameUniform(p.device, GeometrySetGlobals, 0, metadata.CameraGlobalsSize, p.framesInFlight)
	if err != nil {
		return nil, fmt.Errorf("camera '%s' globals: %w", cam.Name, err)
	}
	c := binding.NewBindingCollection()
	if err := c.Add(u.binding); err != nil {
		u.destroy()
		return nil, err
	}
	g := &cameraGlobals{uniform: u, resources: &sharedResources{bindings: c, layout: p.layout}}
	p.globals[cam] = g
	return g, nil
}

func (p *GeometryPass) Record(rc *frame.RenderContext, view *View) error {
	cam := view.Camera
	if cam == nil || cam.Target == nil {
		return fmt.Errorf("geometry pass needs a camera with a render target")
	}
	g, err := p.cameraGlobals(cam)
	if err != nil {
		return err
	}
	if err := g.uniform.update(rc, cam.Globals()); err != nil {
		return err
	}
	if err := rc.SetViewportAndScissor(cam.Target.Viewport(), cam.Target.Scissor()); err != nil {
		return err
	}
	if view.Packet == nil {
		return nil
	}
	for _, cmd := range view.Packet.Opaque[cam.Name] {
		if err := rc.Submit(cmd, g.resources); err != nil {
			return fmt.Errorf("camera '%s' material '%s': %w", cam.Name, materialName(cmd.Material), err)
		}
	}
	return nil
}

// Release frees the per-camera state; the caller guarantees the GPU is idle.
func (p *GeometryPass) Release(cam *metadata.Camera) {
	if g, ok := p.globals[cam]; ok {
		g.uniform.destroy()
		delete(p.globals, cam)
	}
}

func (p *GeometryPass) Destroy() {
	for cam := range p.globals {
		p.Release(cam)
	}
	for _, pl := range p.pipelines {
		pl.Destroy()
	}
	p.pipelines = nil
	p.layout.Destroy()
	for _, l := range p.setLayouts {
		l.Destroy()
	}
}

func materialName(m *metadata.Material) string {
	if m == nil {
		return "<nil>"
	}
	return m.Name
}
