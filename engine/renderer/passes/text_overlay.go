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

const (
	DefaultMaxGlyphs = 1024
	// position, texcoord, colour
	overlayVertexStride = 8 * 4
)

/**
 * @brief Screen-space text drawn over the composed image. Glyph quads for
 * a frame are written into that frame's region of a host-visible vertex
 * buffer, with the same deferred write as every other per-frame upload.
 */
type TextOverlay struct {
	device         gpu.Device
	framesInFlight uint32
	maxGlyphs      int

	atlas      *fontAtlas
	texture    gpu.Texture
	layout     gpu.PipelineLayout
	setLayouts []gpu.DescriptorSetLayout
	pipelines  *pipelineCache
	vertices   gpu.Buffer
	projection *frameUniform

	pass     uint64
	material *metadata.Material

	scratch []math.Vertex2D
	encoded []byte
}

/**
 * @brief Creates the overlay. fontPath names a BMFont descriptor; when it is
 * empty the built-in 7x13 face is used.
 */
func NewTextOverlay(device gpu.Device, shaders Shaders, fontPath string, framesInFlight uint32, maxGlyphs int) (*TextOverlay, error) {
	if maxGlyphs <= 0 {
		maxGlyphs = DefaultMaxGlyphs
	}
	atlas := basicFontAtlas()
	if fontPath != "" {
		a, err := loadBMFontAtlas(fontPath)
		if err != nil {
			core.LogWarn("%s, using the built-in font", err.Error())
		} else {
			atlas = a
		}
	}

	o := &TextOverlay{
		device:         device,
		framesInFlight: framesInFlight,
		maxGlyphs:      maxGlyphs,
		atlas:          atlas,
	}
	if err := o.create(shaders); err != nil {
		o.Destroy()
		return nil, err
	}
	core.LogDebug("text overlay ready with font '%s' (%d glyphs)", atlas.name, len(atlas.glyphs))
	return o, nil
}

func (o *TextOverlay) create(shaders Shaders) error {
	tex, err := o.device.NewTexture(gpu.TextureDesc{
		Name:      "font-atlas-" + o.atlas.name,
		Extent:    gpu.Extent2D{Width: uint32(o.atlas.width), Height: uint32(o.atlas.height)},
		Format:    gpu.FormatR8G8B8A8Unorm,
		MipLevels: 1,
		Usage:     gpu.TextureUsageSampled | gpu.TextureUsageTransferDst,
	})
	if err != nil {
		return fmt.Errorf("font atlas: %w", err)
	}
	o.texture = tex
	if err := o.device.WriteTexture(tex, o.atlas.pixels); err != nil {
		return fmt.Errorf("font atlas upload: %w", err)
	}

	o.layout, o.setLayouts, err = newLayout(o.device, []gpu.DescriptorSetLayoutBinding{
		{Binding: 0, Type: gpu.DescriptorTypeUniformBufferDynamic, Count: 1, Stages: gpu.ShaderStageVertex},
		{Binding: 1, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
	})
	if err != nil {
		return fmt.Errorf("text overlay layout: %w", err)
	}
	o.pipelines = newPipelineCache(o.device, gpu.PipelineDesc{
		Name:           "ui-text",
		Layout:         o.layout,
		Subpass:        0,
		VertexShader:   shaders.Get(ShaderUIVert),
		FragmentShader: shaders.Get(ShaderUIFrag),
		VertexStride:   overlayVertexStride,
		Attributes: []gpu.VertexAttribute{
			{Location: 0, Format: gpu.FormatR32G32Sfloat, Offset: 0},
			{Location: 1, Format: gpu.FormatR32G32Sfloat, Offset: 8},
			{Location: 2, Format: gpu.FormatR32G32B32A32Sfloat, Offset: 16},
		},
		ColorTargets: 1,
		AlphaBlend:   true,
	})

	o.vertices, err = o.device.NewBuffer(uint64(o.framesInFlight)*o.regionSize(), gpu.BufferUsageVertex)
	if err != nil {
		return fmt.Errorf("text overlay vertices: %w", err)
	}
	o.projection, err = newFrameUniform(o.device, 0, 0, 64, o.framesInFlight)
	return err
}

func (o *TextOverlay) regionSize() uint64 {
	return uint64(o.maxGlyphs) * 6 * overlayVertexStride
}

func (o *TextOverlay) Texture() gpu.Texture { return o.texture }

// Build lays out lines into glyph quads, at most the overlay's glyph budget.
func (o *TextOverlay) Build(lines []metadata.TextLine) []math.Vertex2D {
	o.scratch = o.scratch[:0]
	for _, l := range lines {
		o.scratch = o.atlas.layout(o.scratch, l, o.maxGlyphs)
	}
	return o.scratch
}

func (o *TextOverlay) materialFor(pass gpu.RenderPass) (*metadata.Material, error) {
	if o.material != nil && o.pass == pass.ID() {
		return o.material, nil
	}
	o.pipelines.retain(pass)
	pipeline, err := o.pipelines.get(pass)
	if err != nil {
		return nil, err
	}
	m := metadata.NewMaterial("ui-text", pipeline)
	if err := m.Add(o.projection.binding, binding.NewTextureBinding(0, 1, o.texture)); err != nil {
		return nil, err
	}
	o.material = m
	o.pass = pass.ID()
	return m, nil
}

func (o *TextOverlay) Record(rc *frame.RenderContext, t target.Target, lines []metadata.TextLine) error {
	verts := o.Build(lines)
	if len(verts) == 0 {
		return nil
	}
	material, err := o.materialFor(t.RenderPass())
	if err != nil {
		return err
	}

	size := t.Size()
	proj := math.NewMat4Orthographic(0, float32(size.Width), 0, float32(size.Height), -1, 1)
	if err := o.projection.update(rc, proj.Bytes()); err != nil {
		return err
	}

	o.encoded = o.encoded[:0]
	for _, v := range verts {
		o.encoded = math.AppendFloat32s(o.encoded,
			v.Position.X, v.Position.Y, v.Texcoord.X, v.Texcoord.Y,
			v.Colour.X, v.Colour.Y, v.Colour.Z, v.Colour.W)
	}
	region := uint64(rc.Frame().Index) * o.regionSize()
	if err := rc.QueueBufferUpdate(o.vertices, region, o.encoded); err != nil {
		return err
	}

	if err := rc.SetViewportAndScissor(t.Viewport(), t.Scissor()); err != nil {
		return err
	}
	if err := rc.BindMaterial(material); err != nil {
		return err
	}
	return rc.DrawMesh(&metadata.Mesh{
		Name:         "ui-text",
		VertexBuffer: o.vertices,
		VertexOffset: region,
		VertexCount:  uint32(len(verts)),
	}, 1)
}

func (o *TextOverlay) Destroy() {
	if o.pipelines != nil {
		o.pipelines.destroy()
	}
	if o.layout != nil {
		o.layout.Destroy()
	}
	for _, l := range o.setLayouts {
		l.Destroy()
	}
	o.setLayouts = nil
	if o.vertices != nil {
		o.vertices.Destroy()
	}
	o.projection.destroy()
	if o.texture != nil {
		o.texture.Destroy()
	}
	o.material = nil
}
