package pipeline

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/binding"
	"github.com/spaghettifunk/umbra/engine/renderer/frame"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
)

/**
 * @brief Per-frame input of Execute: which frame in flight is recorded,
 * the swapchain image it presents and the packet to draw.
 */
type Renderer struct {
	FrameIndex uint32
	ImageIndex uint32
	Packet     *metadata.RenderPacket
}

type Options struct {
	FramesInFlight uint32
	Shaders        passes.Shaders
	GBuffer        target.GBufferFormats
	ClearColour    gpu.ClearValue
	// FontPath names a BMFont descriptor for the overlay, empty for the built-in face.
	FontPath  string
	MaxGlyphs int
}

func DefaultOptions() Options {
	return Options{
		FramesInFlight: gpu.MaxFramesInFlight,
		Shaders:        passes.Shaders{},
		GBuffer:        target.DefaultGBufferFormats(),
		ClearColour:    gpu.ClearColor(0, 0, 0, 1),
		MaxGlyphs:      passes.DefaultMaxGlyphs,
	}
}

type retiredBatch struct {
	frame uint64
	cmds  []gpu.CommandBuffer
}

/**
 * @brief Records a whole frame: three subpasses per active camera
 * (geometry, lighting, post-light), each in its own secondary command
 * buffer, then the fixed swapchain pass where screen composition and
 * the UI overlay share one secondary. The swapchain pass is recorded even
 * with no cameras. Any error aborts the frame before submission.
 */
type DeferredRenderPipeline struct {
	device         gpu.Device
	framesInFlight uint32
	options        Options

	bindings  *binding.BindingManager
	rc        *frame.RenderContext
	swapchain *target.SwapchainRenderTarget

	geometry  *passes.GeometryPass
	lighting  *passes.LightingPass
	postLight *passes.PostLightPass
	screen    *passes.ScreenPass
	ui        *passes.UIPass

	cameraPasses [target.CameraSubpassCount]passes.Pass

	frameNumber  uint64
	retired      []retiredBatch
	dependencies []gpu.CommandBuffer
}

func New(device gpu.Device, swapchain gpu.Swapchain, pool gpu.DescriptorPool, opts Options) (*DeferredRenderPipeline, error) {
	if opts.FramesInFlight == 0 || opts.FramesInFlight > gpu.MaxFramesInFlight {
		return nil, fmt.Errorf("%w: %d frames in flight, at most %d supported", core.ErrFrameIndexOutOfRange, opts.FramesInFlight, gpu.MaxFramesInFlight)
	}
	p := &DeferredRenderPipeline{
		device:         device,
		framesInFlight: opts.FramesInFlight,
		options:        opts,
	}
	p.bindings = binding.NewBindingManager(device, pool, opts.FramesInFlight)
	p.rc = frame.NewRenderContext(device, p.bindings)

	var err error
	if p.swapchain, err = target.NewSwapchainRenderTarget(device, swapchain, opts.ClearColour); err != nil {
		return nil, err
	}
	if p.geometry, err = passes.NewGeometryPass(device, opts.Shaders, opts.FramesInFlight); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.lighting, err = passes.NewLightingPass(device, opts.Shaders, opts.FramesInFlight); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.postLight, err = passes.NewPostLightPass(device, opts.Shaders); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.screen, err = passes.NewScreenPass(device, opts.Shaders); err != nil {
		p.Destroy()
		return nil, err
	}
	text, err := passes.NewTextOverlay(device, opts.Shaders, opts.FontPath, opts.FramesInFlight, opts.MaxGlyphs)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	p.ui = passes.NewUIPass(text)
	p.cameraPasses = [target.CameraSubpassCount]passes.Pass{p.geometry, p.lighting, p.postLight}
	return p, nil
}

func (p *DeferredRenderPipeline) Bindings() *binding.BindingManager              { return p.bindings }
func (p *DeferredRenderPipeline) RenderContext() *frame.RenderContext            { return p.rc }
func (p *DeferredRenderPipeline) SwapchainTarget() *target.SwapchainRenderTarget { return p.swapchain }
func (p *DeferredRenderPipeline) FrameNumber() uint64                            { return p.frameNumber }

// Dependencies are the secondaries the last successful Execute registered for submission.
func (p *DeferredRenderPipeline) Dependencies() []gpu.CommandBuffer { return p.dependencies }

// SetOverlay sets text drawn over every frame, such as frame statistics.
func (p *DeferredRenderPipeline) SetOverlay(lines ...metadata.TextLine) {
	p.ui.SetOverlay(lines...)
}

// NewCameraTarget creates a G-buffer target in the pipeline's formats.
func (p *DeferredRenderPipeline) NewCameraTarget(name string, size gpu.Extent2D) (*target.CameraRenderTarget, error) {
	clear := p.options.ClearColour
	return target.NewCameraRenderTarget(p.device, name, size, int(p.framesInFlight), p.options.GBuffer, clear)
}

// CreateMaterial creates a geometry material compatible with every camera target.
func (p *DeferredRenderPipeline) CreateMaterial(name string, rt *target.CameraRenderTarget) (*metadata.Material, error) {
	return p.geometry.CreateMaterial(name, rt.RenderPass())
}

/**
 * @brief Pre-Execute bookkeeping: advances the frame counter and frees
 * the secondaries of frames the GPU has retired, that is every batch at
 * least framesInFlight frames old.
 */
func (p *DeferredRenderPipeline) Update() {
	p.frameNumber++
	kept := p.retired[:0]
	for _, b := range p.retired {
		if p.frameNumber-b.frame >= uint64(p.framesInFlight) {
			p.device.FreeCommandBuffers(b.cmds...)
			continue
		}
		kept = append(kept, b)
	}
	p.retired = kept
}

// PendingSecondaries is the number of secondaries waiting for their frame to retire.
func (p *DeferredRenderPipeline) PendingSecondaries() int {
	n := 0
	for _, b := range p.retired {
		n += len(b.cmds)
	}
	return n
}

/**
 * @brief Records the frame into cmd and ends it, ready for submission.
 * On error nothing recorded survives: secondaries are freed, tracked image
 * layouts restored, queued buffer writes dropped and cmd is reset.
 */
func (p *DeferredRenderPipeline) Execute(cmd gpu.CommandBuffer, cameras metadata.CameraManager, r Renderer) (err error) {
	if err := p.swapchain.Err(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrSwapchainBooting, err)
	}
	fc, err := p.rc.BeginFrame(r.FrameIndex, r.ImageIndex, cmd)
	if err != nil {
		core.LogError("failed to begin frame %d: %s", r.FrameIndex, err.Error())
		return err
	}
	defer func() {
		if err != nil {
			err = p.rc.AbortFrame(err)
		}
	}()

	var active []*metadata.Camera
	if cameras != nil {
		active = cameras.ActiveCameras()
	}
	packet := r.Packet
	if packet == nil {
		packet = metadata.NewRenderPacket()
	}

	for _, cam := range active {
		if err = p.renderCamera(fc, cam, packet, active); err != nil {
			return err
		}
	}
	if err = p.renderFinal(fc, packet, active); err != nil {
		return err
	}

	p.dependencies = append(p.dependencies[:0], fc.Dependencies()...)
	owned, err := p.rc.EndFrame()
	if err != nil {
		return err
	}
	if len(owned) > 0 {
		p.retired = append(p.retired, retiredBatch{frame: p.frameNumber, cmds: owned})
	}
	return nil
}

func (p *DeferredRenderPipeline) renderCamera(fc *frame.FrameContext, cam *metadata.Camera, packet *metadata.RenderPacket, active []*metadata.Camera) error {
	rt := cam.Target
	if rt == nil {
		return fmt.Errorf("camera '%s' has no render target", cam.Name)
	}
	if err := rt.PrepareForRender(p.rc); err != nil {
		return err
	}
	fbIndex := fc.Index % uint32(rt.FramebufferCount())
	if err := p.rc.BeginRenderPass(rt, fbIndex, gpu.SubpassContentsSecondaryCommandBuffers); err != nil {
		return err
	}

	view := &passes.View{Camera: cam, Target: rt, Packet: packet, Cameras: active}
	secondaries := make([]gpu.CommandBuffer, 0, target.CameraSubpassCount)
	for i, pass := range p.cameraPasses {
		if i > 0 {
			if err := p.rc.NextSubpass(gpu.SubpassContentsSecondaryCommandBuffers); err != nil {
				return err
			}
		}
		cmd, err := p.rc.BeginSecondary()
		if err != nil {
			return err
		}
		if err := pass.Record(p.rc, view); err != nil {
			return fmt.Errorf("camera '%s' %s pass: %w", cam.Name, pass.Name(), err)
		}
		if err := p.rc.EndSecondary(); err != nil {
			return err
		}
		if err := p.rc.ExecuteCommands(cmd); err != nil {
			return err
		}
		secondaries = append(secondaries, cmd)
	}

	if err := p.rc.EndRenderPass(); err != nil {
		return err
	}
	if err := rt.TransitionToRead(p.rc); err != nil {
		return err
	}
	fc.AddDependency(secondaries...)
	return nil
}

func (p *DeferredRenderPipeline) renderFinal(fc *frame.FrameContext, packet *metadata.RenderPacket, active []*metadata.Camera) error {
	sc := p.swapchain
	if int(fc.ImageIndex) >= sc.FramebufferCount() {
		return fmt.Errorf("%w: swapchain image %d of %d", core.ErrSwapchainBooting, fc.ImageIndex, sc.FramebufferCount())
	}
	if err := p.rc.BeginRenderPass(sc, fc.ImageIndex, gpu.SubpassContentsSecondaryCommandBuffers); err != nil {
		return err
	}
	cmd, err := p.rc.BeginSecondary()
	if err != nil {
		return err
	}
	view := &passes.View{Target: sc, Packet: packet, Cameras: active}
	if err := p.screen.Record(p.rc, view); err != nil {
		return fmt.Errorf("%s pass: %w", p.screen.Name(), err)
	}
	if err := p.ui.Record(p.rc, view); err != nil {
		return fmt.Errorf("%s pass: %w", p.ui.Name(), err)
	}
	if err := p.rc.EndSecondary(); err != nil {
		return err
	}
	if err := p.rc.ExecuteCommands(cmd); err != nil {
		return err
	}
	if err := p.rc.EndRenderPass(); err != nil {
		return err
	}
	fc.AddDependency(cmd)
	return nil
}

/**
 * @brief Drops every per-camera resource the passes hold for cam, along
 * with the cached descriptor sets that referenced its attachments. Waits
 * for the device first since frames in flight may still read them.
 */
func (p *DeferredRenderPipeline) ReleaseCamera(cam *metadata.Camera) error {
	if err := p.device.WaitIdle(); err != nil {
		return err
	}
	p.geometry.Release(cam)
	p.lighting.Release(cam)
	p.postLight.Release(cam)
	p.screen.Release(cam)
	return p.bindings.Reset()
}

/**
 * @brief Drops every realized descriptor set and resets the pool. Call
 * after resizing camera targets or rebuilding the swapchain: the new
 * attachments no longer match any cached set, and each resize would
 * otherwise leave its predecessors allocated.
 */
func (p *DeferredRenderPipeline) InvalidateBindings() error {
	if err := p.device.WaitIdle(); err != nil {
		return err
	}
	if err := p.bindings.Reset(); err != nil {
		return err
	}
	core.LogDebug("descriptor sets invalidated at frame %d", p.frameNumber)
	return nil
}

func (p *DeferredRenderPipeline) Destroy() {
	if err := p.device.WaitIdle(); err != nil {
		core.LogWarn("wait idle before pipeline destroy: %s", err.Error())
	}
	for _, b := range p.retired {
		p.device.FreeCommandBuffers(b.cmds...)
	}
	p.retired = nil
	if p.ui != nil {
		p.ui.Destroy()
	}
	if p.screen != nil {
		p.screen.Destroy()
	}
	if p.postLight != nil {
		p.postLight.Destroy()
	}
	if p.lighting != nil {
		p.lighting.Destroy()
	}
	if p.geometry != nil {
		p.geometry.Destroy()
	}
	if p.swapchain != nil {
		p.swapchain.Destroy()
	}
}
