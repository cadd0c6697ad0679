package passes

import (
	"testing"

	"github.com/spaghettifunk/umbra/engine/math"
	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/frame"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	device  *gputest.Device
	rc      *frame.RenderContext
	primary *gputest.CommandBuffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := gputest.NewDevice()
	pool, err := d.NewDescriptorPool(64, nil)
	require.NoError(t, err)
	return &fixture{
		device:  d,
		rc:      frame.NewRenderContext(d, binding.NewBindingManager(d, pool, 2)),
		primary: d.NewCommandBuffer(gpu.CommandBufferLevelPrimary),
	}
}

func (f *fixture) camera(t *testing.T, name string) *metadata.Camera {
	t.Helper()
	rt, err := target.NewCameraRenderTarget(f.device, name, gpu.Extent2D{Width: 64, Height: 48}, 2, target.DefaultGBufferFormats(), gpu.ClearValue{})
	require.NoError(t, err)
	t.Cleanup(rt.Destroy)
	return metadata.NewCamera(name, rt)
}

func (f *fixture) swapchain(t *testing.T) *target.SwapchainRenderTarget {
	t.Helper()
	sc := gputest.NewSwapchain(f.device, gpu.Extent2D{Width: 128, Height: 96}, 2)
	rt, err := target.NewSwapchainRenderTarget(f.device, sc, gpu.ClearValue{})
	require.NoError(t, err)
	t.Cleanup(rt.Destroy)
	return rt
}

func inputWrites(d *gputest.Device) []gpu.DescriptorWrite {
	var out []gpu.DescriptorWrite
	for _, w := range d.Writes {
		if w.Type == gpu.DescriptorTypeInputAttachment {
			out = append(out, w)
		}
	}
	return out
}

func TestGeometryGlobalsUseFrameRegion(t *testing.T) {
	f := newFixture(t)
	cam := f.camera(t, "main")
	cam.SetPosition(math.NewVec3(1, 2, 3))

	geometry, err := NewGeometryPass(f.device, nil, 2)
	require.NoError(t, err)
	defer geometry.Destroy()

	fc, err := f.rc.BeginFrame(1, 0, f.primary)
	require.NoError(t, err)
	require.NoError(t, f.rc.BeginRenderPass(cam.Target, 1, gpu.SubpassContentsInline))
	require.NoError(t, geometry.Record(f.rc, &View{Camera: cam, Target: cam.Target}))
	assert.Equal(t, 1, fc.PendingBufferUpdates())
	require.NoError(t, f.rc.EndRenderPass())

	g := geometry.globals[cam]
	require.NotNil(t, g)
	assert.Equal(t, uint32(UniformAlignment), g.uniform.binding.DynamicOffset())
	assert.Same(t, geometry.Layout(), geometry.Globals(cam).PipelineLayout())

	buf := g.uniform.buffer.(*gputest.Buffer)
	before := append([]byte(nil), buf.Data[UniformAlignment:UniformAlignment+metadata.CameraGlobalsSize]...)
	assert.Equal(t, make([]byte, metadata.CameraGlobalsSize), before, "write is deferred until the frame completes")

	_, err = f.rc.EndFrame()
	require.NoError(t, err)
	assert.Equal(t, cam.Globals(), buf.Data[UniformAlignment:UniformAlignment+metadata.CameraGlobalsSize])

	geometry.Release(cam)
	assert.Nil(t, geometry.Globals(cam))
}

func TestGeometryMaterialsTargetGeometrySubpass(t *testing.T) {
	f := newFixture(t)
	cam := f.camera(t, "main")
	geometry, err := NewGeometryPass(f.device, nil, 2)
	require.NoError(t, err)

	m, err := geometry.CreateMaterial("brick", cam.Target.RenderPass())
	require.NoError(t, err)
	p := m.Pipeline().(*gputest.Pipeline)
	assert.Equal(t, target.SubpassGeometry, p.Desc.Subpass)
	assert.Equal(t, uint32(3), p.Desc.ColorTargets)
	assert.Same(t, geometry.Layout(), m.PipelineLayout())

	geometry.Destroy()
	assert.True(t, p.Destroyed)
}

func TestLightingRefreshesInputsOnResize(t *testing.T) {
	f := newFixture(t)
	cam := f.camera(t, "main")
	lighting, err := NewLightingPass(f.device, nil, 2)
	require.NoError(t, err)
	defer lighting.Destroy()

	record := func() {
		t.Helper()
		_, err := f.rc.BeginFrame(0, 0, f.primary)
		require.NoError(t, err)
		require.NoError(t, f.rc.BeginRenderPass(cam.Target, 0, gpu.SubpassContentsInline))
		require.NoError(t, f.rc.NextSubpass(gpu.SubpassContentsInline))
		require.NoError(t, lighting.Record(f.rc, &View{Camera: cam, Target: cam.Target, Packet: metadata.NewRenderPacket()}))
		require.NoError(t, f.rc.EndRenderPass())
		_, err = f.rc.EndFrame()
		require.NoError(t, err)
	}

	record()
	writes := inputWrites(f.device)
	require.Len(t, writes, 3)
	for i, v := range cam.Target.GBufferViews() {
		assert.Same(t, v, writes[i].View)
		assert.Equal(t, LightingBindingGBuffer+uint32(i), writes[i].Binding)
	}
	material := lighting.cameras[cam].material
	assert.Equal(t, 1, f.primary.Count(gputest.OpDraw))

	require.NoError(t, cam.Target.Resize(gpu.Extent2D{Width: 32, Height: 32}))
	record()
	writes = inputWrites(f.device)
	require.Len(t, writes, 6)
	for i, v := range cam.Target.GBufferViews() {
		assert.Same(t, v, writes[3+i].View)
	}
	assert.Same(t, material, lighting.cameras[cam].material, "same render pass keeps the material")
	assert.Equal(t, cam.Target.Generation(), lighting.cameras[cam].generation)

	pipeline := lighting.pipelines.byPass[cam.Target.RenderPass().ID()]
	require.NotNil(t, pipeline)
	lighting.Release(cam)
	assert.Empty(t, lighting.cameras)
	assert.Empty(t, lighting.pipelines.byPass)
	assert.True(t, pipeline.(*gputest.Pipeline).Destroyed)
}

func TestLightingNeedsCamera(t *testing.T) {
	f := newFixture(t)
	lighting, err := NewLightingPass(f.device, nil, 2)
	require.NoError(t, err)
	defer lighting.Destroy()
	assert.Error(t, lighting.Record(f.rc, &View{}))
}

func TestPostLightReadsLightingAttachment(t *testing.T) {
	f := newFixture(t)
	cam := f.camera(t, "main")
	post, err := NewPostLightPass(f.device, nil)
	require.NoError(t, err)
	defer post.Destroy()

	_, err = f.rc.BeginFrame(0, 0, f.primary)
	require.NoError(t, err)
	require.NoError(t, f.rc.BeginRenderPass(cam.Target, 0, gpu.SubpassContentsInline))
	require.NoError(t, f.rc.NextSubpass(gpu.SubpassContentsInline))
	require.NoError(t, f.rc.NextSubpass(gpu.SubpassContentsInline))
	require.NoError(t, post.Record(f.rc, &View{Camera: cam, Target: cam.Target}))

	writes := inputWrites(f.device)
	require.Len(t, writes, 1)
	assert.Same(t, cam.Target.LightingView(), writes[0].View)
	assert.Equal(t, 1, f.primary.Count(gputest.OpDraw))
}

func TestScreenPassClampsCameraRects(t *testing.T) {
	f := newFixture(t)
	sc := f.swapchain(t)
	screen, err := NewScreenPass(f.device, nil)
	require.NoError(t, err)
	defer screen.Destroy()

	a := f.camera(t, "a")
	a.ScreenRect = gpu.Rect2D{Offset: gpu.Offset2D{X: 100, Y: 80}, Extent: gpu.Extent2D{Width: 64, Height: 48}}
	b := f.camera(t, "b")
	b.ScreenRect = gpu.Rect2D{Offset: gpu.Offset2D{X: 200}, Extent: gpu.Extent2D{Width: 64, Height: 48}}

	_, err = f.rc.BeginFrame(0, 0, f.primary)
	require.NoError(t, err)
	require.NoError(t, f.rc.BeginRenderPass(sc, 0, gpu.SubpassContentsInline))

	require.NoError(t, screen.Record(f.rc, &View{Target: sc}))
	assert.Zero(t, f.primary.Count(gputest.OpDraw), "no cameras, nothing composed")

	require.NoError(t, screen.Record(f.rc, &View{Target: sc, Cameras: []*metadata.Camera{a, b}}))
	assert.Equal(t, 1, f.primary.Count(gputest.OpDraw), "off-screen camera is skipped")

	want := gpu.Rect2D{Offset: gpu.Offset2D{X: 100, Y: 80}, Extent: gpu.Extent2D{Width: 28, Height: 16}}
	scissors := f.primary.Find(gputest.OpSetScissor)
	require.Len(t, scissors, 1)
	assert.Equal(t, want, scissors[0].Scissor)
	assert.Equal(t, gpu.ViewportForRect(want), f.primary.Find(gputest.OpSetViewport)[0].Viewport)

	assert.Error(t, screen.Record(f.rc, &View{}))
}

func TestScreenPassDropsPipelinesOfOldSwapchainPass(t *testing.T) {
	f := newFixture(t)
	sc := gputest.NewSwapchain(f.device, gpu.Extent2D{Width: 128, Height: 96}, 2)
	rt, err := target.NewSwapchainRenderTarget(f.device, sc, gpu.ClearValue{})
	require.NoError(t, err)
	defer rt.Destroy()
	screen, err := NewScreenPass(f.device, nil)
	require.NoError(t, err)
	defer screen.Destroy()
	cam := f.camera(t, "main")
	cam.ScreenRect = gpu.Rect2D{Extent: gpu.Extent2D{Width: 64, Height: 48}}

	var built []gpu.Pipeline
	for i := 0; i < 5; i++ {
		_, err := f.rc.BeginFrame(0, 0, f.primary)
		require.NoError(t, err)
		require.NoError(t, f.rc.BeginRenderPass(rt, 0, gpu.SubpassContentsInline))
		require.NoError(t, screen.Record(f.rc, &View{Target: rt, Cameras: []*metadata.Camera{cam}}))
		require.NoError(t, f.rc.EndRenderPass())
		_, err = f.rc.EndFrame()
		require.NoError(t, err)

		id := rt.RenderPass().ID()
		require.Len(t, screen.pipelines.byPass, 1)
		require.Contains(t, screen.pipelines.byPass, id)
		assert.Equal(t, id, screen.cameras[cam].pass)
		built = append(built, screen.pipelines.byPass[id])

		sc.Recreate(gpu.Extent2D{Width: 128 + uint32(i) + 1, Height: 96}, 2)
	}
	for _, p := range built[:len(built)-1] {
		assert.True(t, p.(*gputest.Pipeline).Destroyed)
	}
	assert.False(t, built[len(built)-1].(*gputest.Pipeline).Destroyed)
}

func TestClampRect(t *testing.T) {
	bounds := gpu.Extent2D{Width: 128, Height: 96}
	tests := []struct {
		name string
		in   gpu.Rect2D
		want gpu.Rect2D
	}{
		{
			name: "inside",
			in:   gpu.Rect2D{Offset: gpu.Offset2D{X: 8, Y: 8}, Extent: gpu.Extent2D{Width: 16, Height: 16}},
			want: gpu.Rect2D{Offset: gpu.Offset2D{X: 8, Y: 8}, Extent: gpu.Extent2D{Width: 16, Height: 16}},
		},
		{
			name: "negative offset",
			in:   gpu.Rect2D{Offset: gpu.Offset2D{X: -10, Y: -4}, Extent: gpu.Extent2D{Width: 20, Height: 20}},
			want: gpu.Rect2D{Extent: gpu.Extent2D{Width: 10, Height: 16}},
		},
		{
			name: "outside",
			in:   gpu.Rect2D{Offset: gpu.Offset2D{X: 500, Y: 500}, Extent: gpu.Extent2D{Width: 20, Height: 20}},
			want: gpu.Rect2D{Offset: gpu.Offset2D{X: 128, Y: 96}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampRect(tt.in, bounds))
		})
	}
}

func TestPipelineCachePerRenderPass(t *testing.T) {
	d := gputest.NewDevice()
	a, err := d.NewRenderPass(gpu.RenderPassDesc{Name: "a"})
	require.NoError(t, err)
	b, err := d.NewRenderPass(gpu.RenderPassDesc{Name: "b"})
	require.NoError(t, err)

	cache := newPipelineCache(d, gpu.PipelineDesc{Name: "composite", Layout: d.PipelineLayoutWithSets(1)})
	pa, err := cache.get(a)
	require.NoError(t, err)
	again, err := cache.get(a)
	require.NoError(t, err)
	assert.Same(t, pa, again)

	pb, err := cache.get(b)
	require.NoError(t, err)
	assert.NotSame(t, pa, pb)
	assert.Same(t, b, pb.(*gputest.Pipeline).Desc.RenderPass)

	_, err = cache.get(nil)
	assert.Error(t, err)

	cache.retain(b)
	assert.True(t, pa.(*gputest.Pipeline).Destroyed)
	assert.False(t, pb.(*gputest.Pipeline).Destroyed)
	assert.Len(t, cache.byPass, 1)
	cache.drop(a.ID())
	assert.Len(t, cache.byPass, 1)

	cache.destroy()
	assert.True(t, pa.(*gputest.Pipeline).Destroyed)
	assert.True(t, pb.(*gputest.Pipeline).Destroyed)
	assert.Empty(t, cache.byPass)
}

func TestFrameUniformRejectsOversizedBlocks(t *testing.T) {
	_, err := newFrameUniform(gputest.NewDevice(), 0, 0, UniformAlignment+1, 2)
	assert.Error(t, err)
}

func TestFontAtlasLayout(t *testing.T) {
	atlas := basicFontAtlas()
	require.NotEmpty(t, atlas.glyphs)
	assert.Equal(t, atlas.width*atlas.height*4, len(atlas.pixels))

	white := math.NewVec4(1, 1, 1, 1)
	verts := atlas.layout(nil, metadata.TextLine{Text: "ab", Position: math.NewVec2(4, 4), Colour: white}, 16)
	require.Len(t, verts, 12)
	assert.Equal(t, math.NewVec2(4, 4), verts[0].Position)
	assert.Equal(t, math.NewVec2(11, 4), verts[6].Position, "advance of the 7x13 face")
	assert.Equal(t, white, verts[11].Colour)

	verts = atlas.layout(nil, metadata.TextLine{Text: "a\nb", Position: math.NewVec2(4, 4)}, 16)
	require.Len(t, verts, 12)
	assert.Equal(t, math.NewVec2(4, 17), verts[6].Position, "newline returns the pen and moves it one line down")

	unknown := atlas.layout(nil, metadata.TextLine{Text: "☃"}, 16)
	fallback := atlas.layout(nil, metadata.TextLine{Text: "?"}, 16)
	assert.Equal(t, fallback, unknown)

	capped := atlas.layout(nil, metadata.TextLine{Text: "abcd"}, 2)
	assert.Len(t, capped, 12)
}

func TestTextOverlayUploadsAtlas(t *testing.T) {
	d := gputest.NewDevice()
	o, err := NewTextOverlay(d, nil, "", 2, 8)
	require.NoError(t, err)

	tex := o.Texture().(*gputest.Texture)
	assert.Len(t, tex.Data, int(tex.Extent().Width*tex.Extent().Height)*4)
	assert.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, tex.Layout(0))

	verts := o.Build([]metadata.TextLine{{Text: "0123456789"}})
	assert.Len(t, verts, 8*6, "glyph budget")

	o.Destroy()
	assert.True(t, tex.Destroyed)
}

func TestTextOverlayFallsBackToBuiltinFont(t *testing.T) {
	o, err := NewTextOverlay(gputest.NewDevice(), nil, "testdata/missing.fnt", 1, 0)
	require.NoError(t, err)
	defer o.Destroy()
	assert.Equal(t, "basicfont-7x13", o.atlas.name)
	assert.Equal(t, DefaultMaxGlyphs, o.maxGlyphs)
}

func TestUIPassRecordsPacketAndOverlayText(t *testing.T) {
	f := newFixture(t)
	sc := f.swapchain(t)
	overlay, err := NewTextOverlay(f.device, nil, "", 2, 8)
	require.NoError(t, err)
	ui := NewUIPass(overlay)
	defer ui.Destroy()

	fc, err := f.rc.BeginFrame(1, 0, f.primary)
	require.NoError(t, err)
	require.NoError(t, f.rc.BeginRenderPass(sc, 0, gpu.SubpassContentsInline))

	require.NoError(t, ui.Record(f.rc, &View{Target: sc}))
	assert.Zero(t, f.primary.Count(gputest.OpDraw), "no text, no draw")

	packet := metadata.NewRenderPacket()
	packet.Text = append(packet.Text, metadata.TextLine{Text: "hi", Position: math.NewVec2(4, 4)})
	ui.SetOverlay(metadata.TextLine{Text: "fps", Position: math.NewVec2(4, 20)})
	require.NoError(t, ui.Record(f.rc, &View{Target: sc, Packet: packet}))

	draws := f.primary.Find(gputest.OpDraw)
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(5*6), draws[0].Count)
	region := overlay.regionSize()
	vb := f.primary.Find(gputest.OpBindVertexBuffers)
	require.Len(t, vb, 1)
	assert.Equal(t, region, vb[0].Offset, "frame 1 draws from its own region")
	assert.Equal(t, 2, fc.PendingBufferUpdates(), "projection and vertices")

	require.NoError(t, f.rc.EndRenderPass())
	_, err = f.rc.EndFrame()
	require.NoError(t, err)
	data := overlay.vertices.(*gputest.Buffer).Data
	assert.Equal(t, math.AppendFloat32s(nil, 4, 4), data[region:region+8])

	ui.SetOverlay()
	assert.Empty(t, ui.extra)
}
