package metadata

import (
	"testing"

	"github.com/spaghettifunk/umbra/engine/math"
	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTarget(t *testing.T, d *gputest.Device, name string) *target.CameraRenderTarget {
	t.Helper()
	rt, err := target.NewCameraRenderTarget(d, name, gpu.Extent2D{Width: 320, Height: 240}, gpu.MaxFramesInFlight, target.DefaultGBufferFormats(), gpu.ClearValue{})
	require.NoError(t, err)
	return rt
}

func TestCameraManagerOrderAndActive(t *testing.T) {
	d := gputest.NewDevice()
	a := NewCamera("a", newTarget(t, d, "a"))
	b := NewCamera("b", newTarget(t, d, "b"))
	c := NewCamera("c", newTarget(t, d, "c"))
	m := NewSimpleCameraManager(a, b, c)

	b.Active = false
	active := m.ActiveCameras()
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].Name)
	assert.Equal(t, "c", active[1].Name)

	assert.Same(t, a, m.Remove("a"))
	assert.Nil(t, m.Remove("a"))
	assert.Len(t, m.All(), 2)

	replacement := NewCamera("c", newTarget(t, d, "c2"))
	m.Add(replacement)
	assert.Same(t, replacement, m.Get("c"))
	assert.Len(t, m.All(), 2)

	// a camera without a target cannot be rendered
	m.Add(NewCamera("orphan", nil))
	assert.Len(t, m.ActiveCameras(), 1)
}

func TestCameraViewAndGlobals(t *testing.T) {
	d := gputest.NewDevice()
	cam := NewCamera(DEFAULT_CAMERA_NAME, newTarget(t, d, "main"))
	assert.Equal(t, uint32(320), cam.ScreenRect.Extent.Width)

	cam.SetPosition(math.NewVec3(0, 0, 10))
	view := cam.View()
	assert.InDelta(t, -10, view.Data[14], 1e-5)
	assert.Len(t, cam.Globals(), CameraGlobalsSize)

	cam.Pitch(10)
	assert.InDelta(t, math.DegToRad(89), cam.EulerRotation().X, 1e-5)
}

func TestMaterialBindings(t *testing.T) {
	d := gputest.NewDevice()
	pipe := d.PipelineWithSets("mat", 2)
	mat := NewMaterial("mat", pipe)
	assert.Same(t, pipe.Layout(), mat.PipelineLayout())

	buf, err := d.NewBuffer(256, gpu.BufferUsageUniform)
	require.NoError(t, err)
	tex := d.CreateTexture(gpu.TextureDesc{Name: "albedo", Extent: gpu.Extent2D{Width: 4, Height: 4}, Format: gpu.FormatR8G8B8A8Unorm, MipLevels: 1, Usage: gpu.TextureUsageSampled})

	require.NoError(t, mat.Add(
		binding.NewUniformBufferBinding(1, 0, buf, 0, 64),
		binding.NewTextureBinding(1, 1, tex),
	))
	assert.Equal(t, 1, mat.Bindings().Count())
	assert.Equal(t, 2, mat.Bindings().CountAllBindings())

	assert.Nil(t, NewMaterial("empty", nil).PipelineLayout())
}

func TestRenderPacketReset(t *testing.T) {
	p := NewRenderPacket()
	p.AddOpaque("a", DrawCommand{})
	p.UI = append(p.UI, DrawCommand{})
	p.Text = append(p.Text, TextLine{Text: "fps"})
	p.Reset()
	assert.Empty(t, p.Opaque["a"])
	assert.Empty(t, p.UI)
	assert.Empty(t, p.Text)

	var zero RenderPacket
	zero.AddOpaque("b", DrawCommand{})
	assert.Len(t, zero.Opaque["b"], 1)
}

func TestLightingBytes(t *testing.T) {
	b := DefaultLighting().Bytes(math.NewVec3(1, 2, 3))
	assert.Len(t, b, LightingUniformSize)
}
