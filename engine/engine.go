package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/spaghettifunk/umbra/engine/assets"
	"github.com/spaghettifunk/umbra/engine/config"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/math"
	"github.com/spaghettifunk/umbra/engine/platform"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/pipeline"
	"github.com/spaghettifunk/umbra/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it owned
	EngineStageShutdown
)

func (s Stage) String() string {
	switch s {
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting down"
	case EngineStageShutdown:
		return "shutdown"
	}
	return "uninitialized"
}

type Engine struct {
	currentStage Stage
	game         *Game
	config       *config.Config
	isRunning    atomic.Bool
	isSuspended  bool
	showStats    atomic.Bool

	events       *core.EventSystem
	platform     *platform.Platform
	assetManager *assets.AssetManager
	renderer     *vulkan.VulkanRenderer
	pool         gpu.DescriptorPool
	pipeline     *pipeline.DeferredRenderPipeline
	watcher      *config.Watcher

	cameras *metadata.SimpleCameraManager
	packet  *metadata.RenderPacket

	width    uint32
	height   uint32
	clock    *core.Clock
	metrics  *core.Metrics
	lastTime float64
}

func New(g *Game, cfg *config.Config) (*Engine, error) {
	if g == nil || g.FnUpdate == nil || g.FnRender == nil {
		return nil, fmt.Errorf("game must provide update and render hooks")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	events := core.NewEventSystem()
	am, err := assets.NewAssetManager()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	e := &Engine{
		currentStage: EngineStageUninitialized,
		game:         g,
		config:       cfg,
		events:       events,
		platform:     platform.New(events),
		assetManager: am,
		cameras:      metadata.NewSimpleCameraManager(),
		packet:       metadata.NewRenderPacket(),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		width:        cfg.Window.Width,
		height:       cfg.Window.Height,
	}
	e.showStats.Store(cfg.UI.ShowStats)
	return e, nil
}

func (e *Engine) Stage() Stage                               { return e.currentStage }
func (e *Engine) Config() *config.Config                     { return e.config }
func (e *Engine) Events() *core.EventSystem                  { return e.events }
func (e *Engine) Assets() *assets.AssetManager               { return e.assetManager }
func (e *Engine) Device() gpu.Device                         { return e.renderer.Device() }
func (e *Engine) Pipeline() *pipeline.DeferredRenderPipeline { return e.pipeline }
func (e *Engine) Cameras() *metadata.SimpleCameraManager     { return e.cameras }
func (e *Engine) Metrics() *core.Metrics                     { return e.metrics }

// GetFramebufferSize returns the width and height (in this order) of the window framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

/**
 * @brief Brings up every subsystem in dependency order: events and input,
 * the window, assets and shaders, the Vulkan backend, the descriptor pool
 * and finally the deferred pipeline. The game's initialize hook runs last.
 */
func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("engine cannot initialize while %s", e.currentStage)
	}
	e.currentStage = EngineStageInitializing
	cfg := e.config
	core.SetLogLevel(cfg.LogLevel())

	if err := core.InputInitialize(e.events); err != nil {
		return err
	}
	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	if err := e.platform.Startup(cfg.Window.Title, cfg.Window.X, cfg.Window.Y, cfg.Window.Width, cfg.Window.Height); err != nil {
		return err
	}

	if err := e.assetManager.Initialize(cfg.AssetsDir); err != nil {
		return err
	}
	e.assetManager.OnChanged(e.onAssetChanged)
	shaders, err := e.assetManager.LoadShaders(cfg.Renderer.ShaderDir)
	if err != nil {
		return fmt.Errorf("load shaders: %w", err)
	}

	e.renderer = vulkan.New(e.platform, vulkan.Options{
		ApplicationName: cfg.Window.Title,
		Width:           cfg.Window.Width,
		Height:          cfg.Window.Height,
		FramesInFlight:  cfg.Renderer.FramesInFlight,
		Validation:      cfg.Renderer.Validation,
		RequireDiscrete: cfg.Renderer.RequireDiscrete,
	})
	if err := e.renderer.Initialize(); err != nil {
		return err
	}

	e.pool, err = e.renderer.Device().NewDescriptorPool(cfg.Renderer.DescriptorPool.MaxSets, cfg.DescriptorPoolSizes())
	if err != nil {
		return err
	}

	gbuffer, err := cfg.GBufferFormats()
	if err != nil {
		return err
	}
	var fontPath string
	if cfg.UI.Font != "" {
		fontPath = filepath.Join(cfg.AssetsDir, cfg.UI.Font)
	}
	e.pipeline, err = pipeline.New(e.renderer.Device(), e.renderer.Swapchain(), e.pool, pipeline.Options{
		FramesInFlight: e.renderer.FramesInFlight(),
		Shaders:        shaders,
		GBuffer:        gbuffer,
		ClearColour:    cfg.ClearValue(),
		FontPath:       fontPath,
		MaxGlyphs:      cfg.UI.MaxGlyphs,
	})
	if err != nil {
		return err
	}

	if w, h := e.platform.FramebufferSize(); w > 0 && h > 0 {
		e.width, e.height = w, h
	}

	if e.game.FnInitialize != nil {
		if err := e.game.FnInitialize(e); err != nil {
			return err
		}
	}
	if e.game.FnOnResize != nil {
		if err := e.game.FnOnResize(e, e.width, e.height); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("Engine initialized: %dx%d, %d frames in flight.", e.width, e.height, e.renderer.FramesInFlight())
	return nil
}

// WatchConfig reloads the configuration whenever the file at path changes.
func (e *Engine) WatchConfig(path string) error {
	w, err := config.NewWatcher(path, e.config, e.events, e.applyConfig)
	if err != nil {
		return err
	}
	e.watcher = w
	return nil
}

// Only settings that need no GPU rebuild are applied live.
func (e *Engine) applyConfig(cfg *config.Config) {
	core.SetLogLevel(cfg.LogLevel())
	e.showStats.Store(cfg.UI.ShowStats)
}

/**
 * @brief Creates a camera with its own G-buffer target sized to rect and
 * registers it with the engine's camera manager.
 */
func (e *Engine) NewCamera(name string, rect gpu.Rect2D) (*metadata.Camera, error) {
	if e.pipeline == nil {
		return nil, fmt.Errorf("camera '%s' requested before the renderer is up", name)
	}
	if e.cameras.Get(name) != nil {
		return nil, fmt.Errorf("camera '%s' already exists", name)
	}
	rt, err := e.pipeline.NewCameraTarget(name, rect.Extent)
	if err != nil {
		return nil, err
	}
	cam := metadata.NewCamera(name, rt)
	cam.ScreenRect = rect
	e.cameras.Add(cam)
	return cam, nil
}

// RemoveCamera releases the camera's pipeline resources and destroys its target.
func (e *Engine) RemoveCamera(name string) error {
	cam := e.cameras.Remove(name)
	if cam == nil {
		return fmt.Errorf("no camera named '%s'", name)
	}
	return e.releaseCamera(cam)
}

func (e *Engine) releaseCamera(cam *metadata.Camera) error {
	if err := e.pipeline.ReleaseCamera(cam); err != nil {
		return err
	}
	if cam.Target != nil {
		cam.Target.Destroy()
	}
	return nil
}

// Stop asks the main loop to exit after the current frame. Safe from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine cannot run while %s", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		if e.isSuspended {
			// Give the OS some time back while minimized.
			e.platform.Sleep(16)
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStartTime := platform.GetAbsoluteTime()

		if err := e.game.FnUpdate(e, delta); err != nil {
			core.LogError("Game update failed, shutting down.")
			return err
		}

		e.packet.Reset()
		e.packet.DeltaTime = delta
		if err := e.game.FnRender(e, e.packet, delta); err != nil {
			core.LogError("Game render failed, shutting down.")
			return err
		}

		if err := e.drawFrame(); err != nil {
			core.LogError("Renderer failed, shutting down: %s", err.Error())
			return err
		}

		frameElapsedTime := platform.GetAbsoluteTime() - frameStartTime
		e.metrics.Update(frameElapsedTime)
		e.updateOverlay()

		// NOTE: Input update/state copying should always be handled
		// after any input should be recorded; I.E. before this line.
		// As a safety, input is the last thing to be updated before
		// this frame ends.
		if err := core.InputUpdate(delta); err != nil {
			return err
		}
		e.lastTime = currentTime
	}
	return nil
}

/**
 * @brief Acquires, records and presents one frame. A frame the swapchain
 * could not serve is skipped; a frame the pipeline aborted is presented
 * untouched so the acquired image goes back to the swapchain.
 */
func (e *Engine) drawFrame() error {
	frame, err := e.renderer.BeginFrame()
	if errors.Is(err, core.ErrSwapchainBooting) {
		return nil
	}
	if err != nil {
		return err
	}

	e.pipeline.Update()
	e.packet.FrameNumber = e.pipeline.FrameNumber()
	err = e.pipeline.Execute(frame.Primary, e.cameras, pipeline.Renderer{
		FrameIndex: frame.Index,
		ImageIndex: frame.ImageIndex,
		Packet:     e.packet,
	})
	if err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			core.LogDebug("frame %d skipped: %s", e.packet.FrameNumber, err.Error())
		} else {
			core.LogError("frame %d aborted: %s", e.packet.FrameNumber, err.Error())
		}
		return e.renderer.DropFrame()
	}
	return e.renderer.EndFrame()
}

func (e *Engine) updateOverlay() {
	if !e.showStats.Load() {
		e.pipeline.SetOverlay()
		return
	}
	fps, ms := e.metrics.Frame()
	e.pipeline.SetOverlay(metadata.TextLine{
		Text:     fmt.Sprintf("%.0f fps  %.2f ms  %d cameras", fps, ms, len(e.cameras.ActiveCameras())),
		Position: math.NewVec2(10, 10),
		Colour:   math.NewVec4(1, 1, 1, 1),
	})
}

/**
 * @brief Tears down in reverse order of Initialize. Safe to call on a
 * partially initialized engine and more than once.
 */
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown || e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	var errs []error
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
	}
	if e.pipeline != nil {
		errs = append(errs, e.renderer.Device().WaitIdle())
	}
	if e.game.FnShutdown != nil {
		errs = append(errs, e.game.FnShutdown(e))
	}
	if e.pipeline != nil {
		for _, cam := range e.cameras.All() {
			errs = append(errs, e.releaseCamera(cam))
			e.cameras.Remove(cam.Name)
		}
		e.pipeline.Destroy()
	}
	if e.pool != nil {
		e.pool.Destroy()
	}
	if e.renderer != nil {
		errs = append(errs, e.renderer.Shutdown())
	}
	errs = append(errs, e.assetManager.Shutdown())
	errs = append(errs, e.platform.Shutdown())
	errs = append(errs, core.InputShutdown())
	e.events.Shutdown()

	e.currentStage = EngineStageShutdown
	core.LogInfo("Engine shut down.")
	return errors.Join(errs...)
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.Stop()
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if core.KeyCode(data.Data.U16[0]) == core.KEY_ESCAPE {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
		// Block anything else from processing this.
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width, height := data.Data.U32[0], data.Data.U32[1]
	// Check if different. If so, trigger a resize event.
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.renderer != nil {
		e.renderer.Resized(width, height)
	}
	if e.game.FnOnResize != nil {
		if err := e.game.FnOnResize(e, width, height); err != nil {
			core.LogError("game resize: %s", err.Error())
		}
	}
	if e.pipeline != nil {
		if err := e.pipeline.InvalidateBindings(); err != nil {
			core.LogError("invalidate bindings after resize: %s", err.Error())
		}
	}
	return false
}

func (e *Engine) onAssetChanged(info assets.AssetInfo) {
	if info.Type == assets.AssetTypeShader {
		core.LogInfo("Shader '%s' changed on disk; restart to apply.", info.Path)
	}
}
