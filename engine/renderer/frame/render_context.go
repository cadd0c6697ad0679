package frame

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
)

/**
 * @brief The per-frame command recording facade handed to every pass.
 *
 * It owns one FrameContext per frame in flight and tracks the command
 * buffer currently being recorded: the frame's primary, or the secondary
 * opened by BeginSecondary. Material binds are queued and resolved
 * through the BindingManager right before the next draw.
 */
type RenderContext struct {
	device   gpu.Device
	bindings *binding.BindingManager
	frames   []*FrameContext

	current *FrameContext
	cmd     gpu.CommandBuffer

	target      target.Target
	framebuffer gpu.Framebuffer
	subpass     uint32
	inPass      bool

	material *metadata.Material
}

func NewRenderContext(device gpu.Device, bindings *binding.BindingManager) *RenderContext {
	n := bindings.FramesInFlight()
	rc := &RenderContext{
		device:   device,
		bindings: bindings,
		frames:   make([]*FrameContext, n),
	}
	for i := range rc.frames {
		rc.frames[i] = NewFrameContext(device, uint32(i))
	}
	return rc
}

func (rc *RenderContext) Device() gpu.Device                { return rc.device }
func (rc *RenderContext) Bindings() *binding.BindingManager { return rc.bindings }
func (rc *RenderContext) Frame() *FrameContext              { return rc.current }
func (rc *RenderContext) CommandBuffer() gpu.CommandBuffer  { return rc.cmd }
func (rc *RenderContext) Subpass() uint32                   { return rc.subpass }

/**
 * @brief Starts recording frame `index` into primary. A primary in the
 * ready state is begun here; one already recording is used as is.
 */
func (rc *RenderContext) BeginFrame(index, imageIndex uint32, primary gpu.CommandBuffer) (*FrameContext, error) {
	if int(index) >= len(rc.frames) {
		return nil, fmt.Errorf("%w: frame %d with %d frames in flight", core.ErrFrameIndexOutOfRange, index, len(rc.frames))
	}
	if primary == nil || primary.State() == gpu.COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return nil, core.ErrNilCommandBuffer
	}
	if primary.Level() != gpu.CommandBufferLevelPrimary {
		return nil, fmt.Errorf("%w: frame recording needs a primary command buffer", core.ErrInvalidCommandBufferState)
	}
	switch primary.State() {
	case gpu.COMMAND_BUFFER_STATE_READY, gpu.COMMAND_BUFFER_STATE_RECORDING_ENDED:
		if err := primary.Begin(nil); err != nil {
			return nil, err
		}
	case gpu.COMMAND_BUFFER_STATE_RECORDING:
	default:
		return nil, fmt.Errorf("%w: cannot begin frame with primary in state %s", core.ErrInvalidCommandBufferState, primary.State())
	}

	if rc.bindings != nil {
		rc.bindings.BeginFrame(index)
	}
	f := rc.frames[index]
	f.reset(imageIndex, primary)
	rc.current = f
	rc.cmd = primary
	rc.inPass = false
	rc.target = nil
	rc.framebuffer = nil
	rc.material = nil
	return f, nil
}

/**
 * @brief Ends the primary and completes the frame. Returns the
 * secondaries the frame allocated, to be freed once the GPU is done.
 */
func (rc *RenderContext) EndFrame() ([]gpu.CommandBuffer, error) {
	f := rc.current
	if f == nil {
		return nil, fmt.Errorf("%w: no frame in progress", core.ErrInvalidCommandBufferState)
	}
	if rc.inPass {
		return nil, fmt.Errorf("%w: frame ended inside render pass '%s'", core.ErrInvalidCommandBufferState, rc.target.Name())
	}
	if err := f.Primary.End(); err != nil {
		return nil, err
	}
	owned, err := f.Complete()
	if err != nil {
		return nil, err
	}
	rc.current = nil
	rc.cmd = nil
	return owned, nil
}

// AbortFrame throws away everything recorded since BeginFrame.
func (rc *RenderContext) AbortFrame(cause error) error {
	f := rc.current
	rc.current = nil
	rc.cmd = nil
	rc.inPass = false
	rc.material = nil
	if f == nil {
		return fmt.Errorf("%w: %w", core.ErrFrameAborted, cause)
	}
	return f.Abort(cause)
}

func (rc *RenderContext) requireRecording() error {
	if rc.cmd == nil || rc.cmd.State() == gpu.COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return core.ErrNilCommandBuffer
	}
	if !rc.cmd.State().IsRecording() {
		return fmt.Errorf("%w: state is %s", core.ErrInvalidCommandBufferState, rc.cmd.State())
	}
	return nil
}

func (rc *RenderContext) requirePrimary() error {
	if rc.current == nil {
		return fmt.Errorf("%w: no frame in progress", core.ErrInvalidCommandBufferState)
	}
	if rc.cmd != rc.current.Primary {
		return fmt.Errorf("%w: a secondary command buffer is still open", core.ErrInvalidCommandBufferState)
	}
	return rc.requireRecording()
}

// TransitionImage implements target.ImageTransitioner for the frame in progress.
func (rc *RenderContext) TransitionImage(texture gpu.Texture, layout gpu.ImageLayout) error {
	if rc.current == nil {
		return fmt.Errorf("%w: no frame in progress", core.ErrInvalidCommandBufferState)
	}
	if rc.inPass {
		return fmt.Errorf("%w: image barrier inside render pass '%s'", core.ErrInvalidCommandBufferState, rc.target.Name())
	}
	return rc.current.TransitionImage(texture, layout)
}

/**
 * @brief Begins the render pass of t on the primary using framebuffer
 * fbIndex. With SubpassContentsSecondaryCommandBuffers every subpass is
 * recorded through BeginSecondary.
 */
func (rc *RenderContext) BeginRenderPass(t target.Target, fbIndex uint32, contents gpu.SubpassContents) error {
	if err := rc.requirePrimary(); err != nil {
		return err
	}
	if rc.inPass {
		return fmt.Errorf("%w: render pass '%s' is still open", core.ErrInvalidCommandBufferState, rc.target.Name())
	}
	fb := t.Framebuffer(fbIndex)
	if fb == nil {
		return fmt.Errorf("render target '%s' has no framebuffer %d", t.Name(), fbIndex)
	}
	rc.cmd.BeginRenderPass(t.RenderPass(), fb, gpu.Rect2D{Extent: fb.Extent()}, t.ClearValues(), contents)
	rc.target = t
	rc.framebuffer = fb
	rc.subpass = 0
	rc.inPass = true
	return nil
}

func (rc *RenderContext) NextSubpass(contents gpu.SubpassContents) error {
	if err := rc.requirePrimary(); err != nil {
		return err
	}
	if !rc.inPass {
		return fmt.Errorf("%w: next subpass outside a render pass", core.ErrInvalidCommandBufferState)
	}
	if n := uint32(len(rc.target.RenderPass().Desc().Subpasses)); rc.subpass+1 >= n {
		return fmt.Errorf("%w: render pass '%s' has only %d subpasses", core.ErrInvalidCommandBufferState, rc.target.Name(), n)
	}
	rc.cmd.NextSubpass(contents)
	rc.subpass++
	rc.material = nil
	return nil
}

func (rc *RenderContext) EndRenderPass() error {
	if err := rc.requirePrimary(); err != nil {
		return err
	}
	if !rc.inPass {
		return fmt.Errorf("%w: end of a render pass that was never begun", core.ErrInvalidCommandBufferState)
	}
	rc.cmd.EndRenderPass()
	rc.inPass = false
	rc.material = nil
	return nil
}

/**
 * @brief Allocates a secondary command buffer inheriting the open render
 * pass, the current subpass and framebuffer, begins it and makes it the
 * recording target. The frame owns the buffer from here on.
 */
func (rc *RenderContext) BeginSecondary() (gpu.CommandBuffer, error) {
	if err := rc.requirePrimary(); err != nil {
		return nil, err
	}
	if !rc.inPass {
		return nil, fmt.Errorf("%w: secondary buffers need an open render pass", core.ErrInvalidCommandBufferState)
	}
	cmd, err := rc.device.AllocateCommandBuffer(gpu.CommandBufferLevelSecondary)
	if err != nil {
		err = fmt.Errorf("secondary command buffer for '%s' subpass %d: %w", rc.target.Name(), rc.subpass, err)
		core.LogError(err.Error())
		return nil, err
	}
	rc.current.Track(cmd)
	inheritance := &gpu.InheritanceInfo{
		RenderPass:  rc.target.RenderPass(),
		Subpass:     rc.subpass,
		Framebuffer: rc.framebuffer,
	}
	if err := cmd.Begin(inheritance); err != nil {
		return nil, err
	}
	rc.cmd = cmd
	rc.material = nil
	return cmd, nil
}

// EndSecondary ends the open secondary and returns recording to the primary.
func (rc *RenderContext) EndSecondary() error {
	if rc.current == nil || rc.cmd == nil || rc.cmd == rc.current.Primary {
		return fmt.Errorf("%w: no secondary command buffer is open", core.ErrInvalidCommandBufferState)
	}
	err := rc.cmd.End()
	rc.cmd = rc.current.Primary
	rc.material = nil
	return err
}

// ExecuteCommands runs the given secondaries inside the current subpass.
func (rc *RenderContext) ExecuteCommands(secondaries ...gpu.CommandBuffer) error {
	if err := rc.requirePrimary(); err != nil {
		return err
	}
	if !rc.inPass {
		return fmt.Errorf("%w: execute commands outside a render pass", core.ErrInvalidCommandBufferState)
	}
	for _, s := range secondaries {
		if s == nil || s.State() != gpu.COMMAND_BUFFER_STATE_RECORDING_ENDED {
			return fmt.Errorf("%w: secondary is not ended", core.ErrInvalidCommandBufferState)
		}
	}
	rc.cmd.ExecuteCommands(secondaries)
	return nil
}

func (rc *RenderContext) SetViewportAndScissor(viewport gpu.Viewport, scissor gpu.Rect2D) error {
	if err := rc.requireRecording(); err != nil {
		return err
	}
	rc.cmd.SetViewport(viewport)
	rc.cmd.SetScissor(scissor)
	return nil
}

/**
 * @brief Binds the material's pipeline now and queues its resources;
 * descriptor sets are resolved by the next draw.
 */
func (rc *RenderContext) BindMaterial(material *metadata.Material) error {
	if err := rc.requireRecording(); err != nil {
		return err
	}
	if material == nil || material.Pipeline() == nil {
		return fmt.Errorf("material has no pipeline")
	}
	if rc.material != material {
		rc.cmd.BindPipeline(material.Pipeline())
		rc.material = material
	}
	return rc.current.enqueueBind(material)
}

// BindResources queues resources that share the bound pipeline's layout, such as per-camera globals.
func (rc *RenderContext) BindResources(resources binding.Material) error {
	if err := rc.requireRecording(); err != nil {
		return err
	}
	if resources == nil {
		return fmt.Errorf("no resources to bind")
	}
	return rc.current.enqueueBind(resources)
}

// QueueBufferUpdate defers a buffer write until the frame completes.
func (rc *RenderContext) QueueBufferUpdate(buffer gpu.Buffer, offset uint64, data []byte) error {
	if rc.current == nil {
		return fmt.Errorf("%w: no frame in progress", core.ErrInvalidCommandBufferState)
	}
	return rc.current.QueueBufferUpdate(buffer, offset, data)
}

func (rc *RenderContext) flushBinds() error {
	if rc.material == nil {
		return fmt.Errorf("%w: draw without a bound material", core.ErrInvalidCommandBufferState)
	}
	q := rc.current.binds
	for !q.IsEmpty() {
		req, _ := q.Dequeue()
		if err := rc.bindings.BindResourcesForMaterial(req.material, rc.cmd, rc.current.Index); err != nil {
			q.Clear()
			return err
		}
	}
	return nil
}

func (rc *RenderContext) DrawMesh(mesh *metadata.Mesh, instanceCount uint32) error {
	if err := rc.requireRecording(); err != nil {
		return err
	}
	if mesh == nil || mesh.VertexBuffer == nil {
		return fmt.Errorf("mesh has no vertex buffer")
	}
	if err := rc.flushBinds(); err != nil {
		return err
	}
	rc.cmd.BindVertexBuffers(0, []gpu.Buffer{mesh.VertexBuffer}, []uint64{mesh.VertexOffset})
	if mesh.IsIndexed() {
		rc.cmd.BindIndexBuffer(mesh.IndexBuffer, mesh.IndexOffset, mesh.IndexType)
		rc.cmd.DrawIndexed(mesh.IndexCount, instanceCount, 0, 0, 0)
		return nil
	}
	rc.cmd.Draw(mesh.VertexCount, instanceCount, 0, 0)
	return nil
}

// Draw issues a non-indexed draw with no vertex buffers, e.g. a fullscreen triangle.
func (rc *RenderContext) Draw(vertexCount, instanceCount uint32) error {
	if err := rc.requireRecording(); err != nil {
		return err
	}
	if err := rc.flushBinds(); err != nil {
		return err
	}
	rc.cmd.Draw(vertexCount, instanceCount, 0, 0)
	return nil
}

func (rc *RenderContext) DrawIndirect(mesh *metadata.Mesh, args metadata.IndirectDraw) error {
	if err := rc.requireRecording(); err != nil {
		return err
	}
	if args.Buffer == nil {
		return fmt.Errorf("indirect draw has no argument buffer")
	}
	if err := rc.flushBinds(); err != nil {
		return err
	}
	if mesh != nil && mesh.VertexBuffer != nil {
		rc.cmd.BindVertexBuffers(0, []gpu.Buffer{mesh.VertexBuffer}, []uint64{mesh.VertexOffset})
	}
	rc.cmd.DrawIndirect(args.Buffer, args.Offset, args.DrawCount, args.Stride)
	return nil
}

func (rc *RenderContext) DrawIndexedIndirect(mesh *metadata.Mesh, args metadata.IndirectDraw) error {
	if err := rc.requireRecording(); err != nil {
		return err
	}
	if args.Buffer == nil {
		return fmt.Errorf("indirect draw has no argument buffer")
	}
	if mesh == nil || mesh.VertexBuffer == nil || mesh.IndexBuffer == nil {
		return fmt.Errorf("indexed indirect draw needs vertex and index buffers")
	}
	if err := rc.flushBinds(); err != nil {
		return err
	}
	rc.cmd.BindVertexBuffers(0, []gpu.Buffer{mesh.VertexBuffer}, []uint64{mesh.VertexOffset})
	rc.cmd.BindIndexBuffer(mesh.IndexBuffer, mesh.IndexOffset, mesh.IndexType)
	rc.cmd.DrawIndexedIndirect(args.Buffer, args.Offset, args.DrawCount, args.Stride)
	return nil
}

/**
 * @brief Records one DrawCommand: the material bind, any shared resources
 * (per-camera globals) and the matching draw call.
 */
func (rc *RenderContext) Submit(cmd metadata.DrawCommand, shared ...binding.Material) error {
	if err := rc.BindMaterial(cmd.Material); err != nil {
		return err
	}
	for _, s := range shared {
		if err := rc.BindResources(s); err != nil {
			return err
		}
	}
	if cmd.Indirect != nil {
		if cmd.Mesh != nil && cmd.Mesh.IsIndexed() {
			return rc.DrawIndexedIndirect(cmd.Mesh, *cmd.Indirect)
		}
		return rc.DrawIndirect(cmd.Mesh, *cmd.Indirect)
	}
	return rc.DrawMesh(cmd.Mesh, 1)
}
