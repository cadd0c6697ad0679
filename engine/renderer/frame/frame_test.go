package frame

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	device  *gputest.Device
	manager *binding.BindingManager
	rc      *RenderContext
	primary *gputest.CommandBuffer
	camera  *target.CameraRenderTarget
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := gputest.NewDevice()
	pool, err := d.NewDescriptorPool(64, nil)
	require.NoError(t, err)
	manager := binding.NewBindingManager(d, pool, 2)
	cam, err := target.NewCameraRenderTarget(d, "main", gpu.Extent2D{Width: 64, Height: 64}, 2, target.DefaultGBufferFormats(), gpu.ClearValue{})
	require.NoError(t, err)
	return &fixture{
		device:  d,
		manager: manager,
		rc:      NewRenderContext(d, manager),
		primary: d.NewCommandBuffer(gpu.CommandBufferLevelPrimary),
		camera:  cam,
	}
}

func (f *fixture) material(t *testing.T) *metadata.Material {
	t.Helper()
	m := metadata.NewMaterial("mat", f.device.PipelineWithSets("mat", 1))
	tex := f.device.CreateTexture(gpu.TextureDesc{Name: "albedo", Extent: gpu.Extent2D{Width: 4, Height: 4}, Format: gpu.FormatR8G8B8A8Unorm})
	require.NoError(t, m.Add(binding.NewTextureBinding(0, 0, tex)))
	return m
}

func (f *fixture) mesh(t *testing.T) *metadata.Mesh {
	t.Helper()
	vb, err := f.device.NewBuffer(1024, gpu.BufferUsageVertex)
	require.NoError(t, err)
	ib, err := f.device.NewBuffer(256, gpu.BufferUsageIndex)
	require.NoError(t, err)
	return &metadata.Mesh{Name: "quad", VertexBuffer: vb, VertexCount: 4, IndexBuffer: ib, IndexCount: 6, IndexType: gpu.IndexTypeUint16}
}

func TestBeginFramePreconditions(t *testing.T) {
	f := newFixture(t)

	_, err := f.rc.BeginFrame(2, 0, f.primary)
	assert.ErrorIs(t, err, core.ErrFrameIndexOutOfRange)

	_, err = f.rc.BeginFrame(0, 0, nil)
	assert.ErrorIs(t, err, core.ErrNilCommandBuffer)

	secondary := f.device.NewCommandBuffer(gpu.CommandBufferLevelSecondary)
	_, err = f.rc.BeginFrame(0, 0, secondary)
	assert.ErrorIs(t, err, core.ErrInvalidCommandBufferState)

	fc, err := f.rc.BeginFrame(1, 3, f.primary)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), fc.Index)
	assert.Equal(t, uint32(3), fc.ImageIndex)
	assert.Equal(t, gpu.COMMAND_BUFFER_STATE_RECORDING, f.primary.State())
}

func TestSubpassRecordingWithSecondaries(t *testing.T) {
	f := newFixture(t)
	mat := f.material(t)
	mesh := f.mesh(t)

	_, err := f.rc.BeginFrame(0, 0, f.primary)
	require.NoError(t, err)
	require.NoError(t, f.rc.BeginRenderPass(f.camera, 0, gpu.SubpassContentsSecondaryCommandBuffers))

	var secondaries []gpu.CommandBuffer
	for i := uint32(0); i < target.CameraSubpassCount; i++ {
		if i > 0 {
			require.NoError(t, f.rc.NextSubpass(gpu.SubpassContentsSecondaryCommandBuffers))
		}
		cmd, err := f.rc.BeginSecondary()
		require.NoError(t, err)
		require.NoError(t, f.rc.SetViewportAndScissor(f.camera.Viewport(), f.camera.Scissor()))
		require.NoError(t, f.rc.BindMaterial(mat))
		require.NoError(t, f.rc.DrawMesh(mesh, 1))
		require.NoError(t, f.rc.EndSecondary())
		require.NoError(t, f.rc.ExecuteCommands(cmd))
		secondaries = append(secondaries, cmd)
	}
	assert.Error(t, f.rc.NextSubpass(gpu.SubpassContentsSecondaryCommandBuffers), "camera pass has three subpasses")
	require.NoError(t, f.rc.EndRenderPass())

	for i, s := range secondaries {
		sc := s.(*gputest.CommandBuffer)
		require.Equal(t, gpu.COMMAND_BUFFER_STATE_RECORDING_ENDED, sc.State())
		begin := sc.Find(gputest.OpBegin)
		require.Len(t, begin, 1)
		require.NotNil(t, begin[0].Inheritance)
		assert.Equal(t, uint32(i), begin[0].Inheritance.Subpass)
		assert.Same(t, f.camera.Framebuffer(0), begin[0].Inheritance.Framebuffer)
		assert.Equal(t, 1, sc.Count(gputest.OpDrawIndexed))
		assert.Equal(t, 1, sc.Count(gputest.OpBindDescriptorSets))
	}
	assert.Equal(t, 2, f.primary.Count(gputest.OpNextSubpass))
	assert.Equal(t, 3, f.primary.Count(gputest.OpExecuteCommands))

	owned, err := f.rc.EndFrame()
	require.NoError(t, err)
	assert.Len(t, owned, 3)
	assert.Equal(t, gpu.COMMAND_BUFFER_STATE_RECORDING_ENDED, f.primary.State())
	// one cached set serves all three draws
	assert.Equal(t, uint64(1), f.manager.Stats().DescriptorUpdates)
}

func TestDrawRequiresMaterial(t *testing.T) {
	f := newFixture(t)
	_, err := f.rc.BeginFrame(0, 0, f.primary)
	require.NoError(t, err)
	err = f.rc.DrawMesh(f.mesh(t), 1)
	assert.ErrorIs(t, err, core.ErrInvalidCommandBufferState)
}

func TestBeginSecondaryOutsideRenderPass(t *testing.T) {
	f := newFixture(t)
	_, err := f.rc.BeginFrame(0, 0, f.primary)
	require.NoError(t, err)
	_, err = f.rc.BeginSecondary()
	assert.ErrorIs(t, err, core.ErrInvalidCommandBufferState)
}

func TestIndirectDraws(t *testing.T) {
	f := newFixture(t)
	mat := f.material(t)
	mesh := f.mesh(t)
	args, err := f.device.NewBuffer(64, gpu.BufferUsageIndirect)
	require.NoError(t, err)

	_, err = f.rc.BeginFrame(0, 0, f.primary)
	require.NoError(t, err)
	require.NoError(t, f.rc.Submit(metadata.DrawCommand{Material: mat, Mesh: mesh, Indirect: &metadata.IndirectDraw{Buffer: args, DrawCount: 2, Stride: 20}}))
	require.NoError(t, f.rc.Submit(metadata.DrawCommand{Material: mat, Indirect: &metadata.IndirectDraw{Buffer: args, DrawCount: 1, Stride: 16}}))

	assert.Equal(t, 1, f.primary.Count(gputest.OpDrawIndexedIndirect))
	assert.Equal(t, 1, f.primary.Count(gputest.OpDrawIndirect))
	// the pipeline is only bound once for consecutive draws of one material
	assert.Equal(t, 1, f.primary.Count(gputest.OpBindPipeline))

	assert.Error(t, f.rc.DrawIndirect(nil, metadata.IndirectDraw{}))
}

func TestBufferUpdatesApplyOnlyOnCompletion(t *testing.T) {
	f := newFixture(t)
	buf, err := f.device.NewBuffer(16, gpu.BufferUsageUniform)
	require.NoError(t, err)
	raw := buf.(*gputest.Buffer)

	_, err = f.rc.BeginFrame(0, 0, f.primary)
	require.NoError(t, err)
	require.NoError(t, f.rc.QueueBufferUpdate(buf, 4, []byte{1, 2, 3, 4}))
	assert.ErrorIs(t, f.rc.QueueBufferUpdate(buf, 14, []byte{1, 2, 3}), core.ErrOutOfResources)
	assert.Equal(t, []byte{0, 0, 0, 0}, raw.Data[4:8])

	_, err = f.rc.EndFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, raw.Data[4:8])
}

func TestAbortRollsBackFrame(t *testing.T) {
	f := newFixture(t)
	buf, err := f.device.NewBuffer(16, gpu.BufferUsageUniform)
	require.NoError(t, err)
	out := f.camera.OutputTexture()
	before := out.Layout(0)

	_, err = f.rc.BeginFrame(0, 0, f.primary)
	require.NoError(t, err)
	require.NoError(t, f.camera.PrepareForRender(f.rc))
	assert.Equal(t, gpu.ImageLayoutColorAttachmentOptimal, out.Layout(0))
	require.NoError(t, f.rc.QueueBufferUpdate(buf, 0, []byte{9}))
	require.NoError(t, f.rc.BeginRenderPass(f.camera, 0, gpu.SubpassContentsSecondaryCommandBuffers))
	_, err = f.rc.BeginSecondary()
	require.NoError(t, err)

	cause := errors.New("pass failed")
	err = f.rc.AbortFrame(cause)
	assert.ErrorIs(t, err, core.ErrFrameAborted)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, before, out.Layout(0))
	assert.Equal(t, byte(0), buf.(*gputest.Buffer).Data[0])
	assert.Len(t, f.device.Freed, 1)
	assert.Equal(t, gpu.COMMAND_BUFFER_STATE_READY, f.primary.State())
	assert.Empty(t, f.primary.Commands())
}

func TestTransitionInsideRenderPassIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.rc.BeginFrame(0, 0, f.primary)
	require.NoError(t, err)
	require.NoError(t, f.rc.BeginRenderPass(f.camera, 0, gpu.SubpassContentsInline))
	err = f.camera.TransitionToRead(f.rc)
	assert.ErrorIs(t, err, core.ErrInvalidCommandBufferState)
}

func TestBindQueueOverflow(t *testing.T) {
	f := newFixture(t)
	mat := f.material(t)
	_, err := f.rc.BeginFrame(0, 0, f.primary)
	require.NoError(t, err)
	for i := 0; i < DefaultBindQueueSize; i++ {
		require.NoError(t, f.rc.BindMaterial(mat))
	}
	assert.ErrorIs(t, f.rc.BindMaterial(mat), core.ErrOutOfResources)
	assert.Equal(t, DefaultBindQueueSize, f.rc.Frame().PendingBinds())

	require.NoError(t, f.rc.Draw(3, 1))
	assert.Equal(t, 0, f.rc.Frame().PendingBinds())
}
