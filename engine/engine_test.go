package engine

import (
	"testing"

	"github.com/spaghettifunk/umbra/engine/config"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resizeRecorder struct {
	sizes [][2]uint32
}

func newTestGame(r *resizeRecorder) *Game {
	return &Game{
		Name:     "test",
		FnUpdate: func(*Engine, float64) error { return nil },
		FnRender: func(*Engine, *metadata.RenderPacket, float64) error { return nil },
		FnOnResize: func(_ *Engine, w, h uint32) error {
			r.sizes = append(r.sizes, [2]uint32{w, h})
			return nil
		},
	}
}

func resized(w, h uint32) core.EventContext {
	var ctx core.EventContext
	ctx.Data.U32[0] = w
	ctx.Data.U32[1] = h
	return ctx
}

func TestNewRequiresHooks(t *testing.T) {
	_, err := New(&Game{}, nil)
	assert.Error(t, err)

	cfg := config.Default()
	cfg.Renderer.FramesInFlight = 0
	_, err = New(newTestGame(&resizeRecorder{}), cfg)
	assert.ErrorContains(t, err, "frames_in_flight")
}

func TestNewUsesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Window.Width, cfg.Window.Height = 640, 480
	cfg.UI.ShowStats = false

	e, err := New(newTestGame(&resizeRecorder{}), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.assetManager.Shutdown() })

	assert.Equal(t, EngineStageUninitialized, e.Stage())
	w, h := e.GetFramebufferSize()
	assert.Equal(t, uint32(640), w)
	assert.Equal(t, uint32(480), h)
	assert.False(t, e.showStats.Load())
	assert.Same(t, cfg, e.Config())
}

func TestRunRequiresInitialize(t *testing.T) {
	e, err := New(newTestGame(&resizeRecorder{}), nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.assetManager.Shutdown() })

	assert.ErrorContains(t, e.Run(), "uninitialized")
}

func TestResizeSuspendsAndResumes(t *testing.T) {
	rec := &resizeRecorder{}
	e, err := New(newTestGame(rec), nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.assetManager.Shutdown() })
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	e.events.Fire(core.EVENT_CODE_RESIZED, nil, resized(0, 0))
	assert.True(t, e.isSuspended)
	assert.Empty(t, rec.sizes)

	e.events.Fire(core.EVENT_CODE_RESIZED, nil, resized(800, 600))
	assert.False(t, e.isSuspended)
	assert.Equal(t, [][2]uint32{{800, 600}}, rec.sizes)

	// Same size again is not a resize.
	e.events.Fire(core.EVENT_CODE_RESIZED, nil, resized(800, 600))
	assert.Len(t, rec.sizes, 1)
}

func TestEscapeQuits(t *testing.T) {
	e, err := New(newTestGame(&resizeRecorder{}), nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.assetManager.Shutdown() })
	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.isRunning.Store(true)

	var key core.EventContext
	key.Data.U16[0] = uint16(core.KEY_A)
	assert.False(t, e.events.Fire(core.EVENT_CODE_KEY_PRESSED, nil, key))
	assert.True(t, e.isRunning.Load())

	key.Data.U16[0] = uint16(core.KEY_ESCAPE)
	assert.True(t, e.events.Fire(core.EVENT_CODE_KEY_PRESSED, nil, key))
	assert.False(t, e.isRunning.Load())
}

func TestApplyConfig(t *testing.T) {
	e, err := New(newTestGame(&resizeRecorder{}), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		e.assetManager.Shutdown()
		core.SetLogLevel(core.InfoLevel)
	})
	require.True(t, e.showStats.Load())

	cfg := config.Default()
	cfg.UI.ShowStats = false
	e.applyConfig(cfg)
	assert.False(t, e.showStats.Load())
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "running", EngineStageRunning.String())
	assert.Equal(t, "uninitialized", Stage(42).String())
}
