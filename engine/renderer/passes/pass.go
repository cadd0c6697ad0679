package passes

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/math"
	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/frame"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
)

// Shader module names, as produced by the shader build step.
const (
	ShaderGeometryVert  = "geometry.vert"
	ShaderGeometryFrag  = "geometry.frag"
	ShaderFullscreen    = "fullscreen.vert"
	ShaderLightingFrag  = "lighting.frag"
	ShaderPostLightFrag = "postlight.frag"
	ShaderCompositeFrag = "composite.frag"
	ShaderUIVert        = "ui.vert"
	ShaderUIFrag        = "ui.frag"
)

// ShaderModules lists every module the deferred pipeline loads.
var ShaderModules = []string{
	ShaderGeometryVert, ShaderGeometryFrag,
	ShaderFullscreen,
	ShaderLightingFrag, ShaderPostLightFrag, ShaderCompositeFrag,
	ShaderUIVert, ShaderUIFrag,
}

// UniformAlignment is the per-frame stride of dynamic uniform regions.
const UniformAlignment = 256

// Shaders maps a module name to its SPIR-V code.
type Shaders map[string][]byte

func (s Shaders) Get(name string) []byte { return s[name] }

/**
 * @brief What a pass records against: the camera being rendered (nil for
 * the final swapchain pass), its target and the frame's packet.
 */
type View struct {
	Camera  *metadata.Camera
	Target  target.Target
	Packet  *metadata.RenderPacket
	Cameras []*metadata.Camera
}

/**
 * @brief One subpass worth of recording. Record is called with the
 * RenderContext already recording into a secondary command buffer that
 * inherits the pass's subpass.
 */
type Pass interface {
	Name() string
	Subpass() uint32
	Record(rc *frame.RenderContext, view *View) error
	Destroy()
}

/**
 * @brief Pipelines of one PipelineDesc template, one per render pass they
 * were built against. Render passes of targets with the same formats are
 * compatible, but a recreated swapchain pass gets its own entry.
 */
type pipelineCache struct {
	device gpu.Device
	desc   gpu.PipelineDesc
	byPass map[uint64]gpu.Pipeline
}

func newPipelineCache(device gpu.Device, desc gpu.PipelineDesc) *pipelineCache {
	return &pipelineCache{device: device, desc: desc, byPass: make(map[uint64]gpu.Pipeline)}
}

func (c *pipelineCache) get(pass gpu.RenderPass) (gpu.Pipeline, error) {
	if pass == nil {
		return nil, fmt.Errorf("pipeline '%s' needs a render pass", c.desc.Name)
	}
	if p, ok := c.byPass[pass.ID()]; ok {
		return p, nil
	}
	desc := c.desc
	desc.RenderPass = pass
	p, err := c.device.NewGraphicsPipeline(desc)
	if err != nil {
		err = fmt.Errorf("failed to create pipeline '%s': %w", desc.Name, err)
		core.LogError(err.Error())
		return nil, err
	}
	c.byPass[pass.ID()] = p
	return p, nil
}

// drop destroys the pipeline built for the render pass with the given ID.
func (c *pipelineCache) drop(id uint64) {
	if p, ok := c.byPass[id]; ok {
		p.Destroy()
		delete(c.byPass, id)
	}
}

// retain destroys every pipeline not built for pass. Commands using them
// must have completed; a swapchain rebuild waits for the device first.
func (c *pipelineCache) retain(pass gpu.RenderPass) {
	for id := range c.byPass {
		if id != pass.ID() {
			c.drop(id)
		}
	}
}

func (c *pipelineCache) destroy() {
	for id, p := range c.byPass {
		p.Destroy()
		delete(c.byPass, id)
	}
}

/**
 * @brief Creates the descriptor set layouts and the pipeline layout over
 * them. On failure everything created so far is destroyed.
 */
func newLayout(device gpu.Device, sets ...[]gpu.DescriptorSetLayoutBinding) (gpu.PipelineLayout, []gpu.DescriptorSetLayout, error) {
	setLayouts := make([]gpu.DescriptorSetLayout, 0, len(sets))
	destroy := func() {
		for _, l := range setLayouts {
			l.Destroy()
		}
	}
	for _, bindings := range sets {
		l, err := device.NewDescriptorSetLayout(bindings)
		if err != nil {
			destroy()
			return nil, nil, err
		}
		setLayouts = append(setLayouts, l)
	}
	layout, err := device.NewPipelineLayout(setLayouts)
	if err != nil {
		destroy()
		return nil, nil, err
	}
	return layout, setLayouts, nil
}

/**
 * @brief Resources that are bound against a pass's pipeline layout but
 * are not owned by a material, such as the per-camera globals.
 */
type sharedResources struct {
	bindings *binding.BindingCollection
	layout   gpu.PipelineLayout
}

func (s *sharedResources) Bindings() *binding.BindingCollection { return s.bindings }
func (s *sharedResources) PipelineLayout() gpu.PipelineLayout   { return s.layout }

/**
 * @brief A host-visible uniform buffer with one UniformAlignment-sized
 * region per frame in flight, bound through a dynamic offset.
 */
type frameUniform struct {
	buffer  gpu.Buffer
	binding *binding.UniformBufferBinding
}

func newFrameUniform(device gpu.Device, set, slot uint32, size uint64, framesInFlight uint32) (*frameUniform, error) {
	if size > UniformAlignment {
		return nil, fmt.Errorf("uniform block of %d bytes exceeds the %d byte frame region", size, UniformAlignment)
	}
	buf, err := device.NewBuffer(uint64(framesInFlight)*UniformAlignment, gpu.BufferUsageUniform)
	if err != nil {
		return nil, err
	}
	return &frameUniform{
		buffer:  buf,
		binding: binding.NewDynamicUniformBufferBinding(set, slot, buf, size),
	}, nil
}

// update points the binding at this frame's region and queues the write.
func (u *frameUniform) update(rc *frame.RenderContext, data []byte) error {
	offset := rc.Frame().Index * UniformAlignment
	u.binding.SetDynamicOffset(offset)
	return rc.QueueBufferUpdate(u.buffer, uint64(offset), data)
}

func (u *frameUniform) destroy() {
	if u != nil && u.buffer != nil {
		u.buffer.Destroy()
	}
}

// fullscreen records the fullscreen triangle every post-processing subpass draws.
func fullscreen(rc *frame.RenderContext, material *metadata.Material, viewport gpu.Viewport, scissor gpu.Rect2D) error {
	if err := rc.SetViewportAndScissor(viewport, scissor); err != nil {
		return err
	}
	if err := rc.BindMaterial(material); err != nil {
		return err
	}
	return rc.Draw(3, 1)
}

// clampRect intersects r with the [0, bounds) rectangle.
func clampRect(r gpu.Rect2D, bounds gpu.Extent2D) gpu.Rect2D {
	w, h := int64(bounds.Width), int64(bounds.Height)
	x0 := math.Clamp(int64(r.Offset.X), 0, w)
	y0 := math.Clamp(int64(r.Offset.Y), 0, h)
	x1 := math.Clamp(int64(r.Offset.X)+int64(r.Extent.Width), 0, w)
	y1 := math.Clamp(int64(r.Offset.Y)+int64(r.Extent.Height), 0, h)
	return gpu.Rect2D{
		Offset: gpu.Offset2D{X: int32(x0), Y: int32(y0)},
		Extent: gpu.Extent2D{Width: uint32(x1 - x0), Height: uint32(y1 - y0)},
	}
}
