package testbed

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/math"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

const (
	worldCameraName   = "world"
	minimapCameraName = "minimap"
	crateTexture      = "textures/crate.png"
)

type gameState struct {
	worldCamera   *metadata.Camera
	minimapCamera *metadata.Camera
	scene         *scene

	width  uint32
	height uint32
}

type TestGame struct {
	*engine.Game
}

func NewTestGame() *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Name:  "testbed",
			State: &gameState{},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

/**
 * @brief Creates the two cameras, a full-window world view and a minimap
 * in the top-right corner looking down, and the crate scene they share.
 */
func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.state()
	state.width, state.height = e.GetFramebufferSize()

	var err error
	state.worldCamera, err = e.NewCamera(worldCameraName, gpu.Rect2D{Extent: gpu.Extent2D{Width: state.width, Height: state.height}})
	if err != nil {
		return err
	}
	state.worldCamera.SetPosition(math.NewVec3(0, 2, 12))

	state.minimapCamera, err = e.NewCamera(minimapCameraName, minimapRect(state.width, state.height))
	if err != nil {
		return err
	}
	state.minimapCamera.SetPosition(math.NewVec3(0, 20, 0.1))
	state.minimapCamera.Pitch(math.DegToRad(-89))

	tex, err := loadAlbedo(e)
	if err != nil {
		return err
	}
	state.scene, err = newScene(e.Device(), e.Pipeline(), state.worldCamera.Target, tex, defaultCrates)
	if err != nil {
		return fmt.Errorf("build scene: %w", err)
	}
	return nil
}

func loadAlbedo(e *engine.Engine) (albedo, error) {
	if _, ok := e.Assets().Info(crateTexture); ok {
		img, err := e.Assets().LoadImage(crateTexture)
		if err != nil {
			return albedo{}, err
		}
		return albedo{width: img.Width, height: img.Height, pixels: img.Pixels}, nil
	}
	core.LogInfo("'%s' not found, using a checkerboard.", crateTexture)
	return albedo{
		width:  64,
		height: 64,
		pixels: checkerboard(64, 8, [4]byte{200, 140, 60, 255}, [4]byte{90, 60, 30, 255}),
	}, nil
}

var moveSpeed float32 = 8.0

func (g *TestGame) Update(e *engine.Engine, deltaTime float64) error {
	cam := g.state().worldCamera
	dt := float32(deltaTime)

	if core.InputIsKeyDown(core.KEY_A) || core.InputIsKeyDown(core.KEY_LEFT) {
		cam.Yaw(1.0 * dt)
	}
	if core.InputIsKeyDown(core.KEY_D) || core.InputIsKeyDown(core.KEY_RIGHT) {
		cam.Yaw(-1.0 * dt)
	}
	if core.InputIsKeyDown(core.KEY_UP) {
		cam.Pitch(1.0 * dt)
	}
	if core.InputIsKeyDown(core.KEY_DOWN) {
		cam.Pitch(-1.0 * dt)
	}
	if core.InputIsKeyDown(core.KEY_W) {
		cam.MoveForward(moveSpeed * dt)
	}
	if core.InputIsKeyDown(core.KEY_S) {
		cam.MoveBackward(moveSpeed * dt)
	}
	if core.InputIsKeyDown(core.KEY_Q) {
		cam.MoveLeft(moveSpeed * dt)
	}
	if core.InputIsKeyDown(core.KEY_E) {
		cam.MoveRight(moveSpeed * dt)
	}
	if core.InputIsKeyDown(core.KEY_SPACE) {
		cam.MoveUp(moveSpeed * dt)
	}
	if core.InputIsKeyDown(core.KEY_X) {
		cam.MoveDown(moveSpeed * dt)
	}

	// M toggles the minimap on release.
	if core.InputIsKeyUp(core.KEY_M) && core.InputWasKeyDown(core.KEY_M) {
		mm := g.state().minimapCamera
		mm.Active = !mm.Active
	}
	if core.InputIsKeyUp(core.KEY_P) && core.InputWasKeyDown(core.KEY_P) {
		pos := cam.Position()
		rot := cam.EulerRotation()
		core.LogDebug("Pos:[%.2f, %.2f, %.2f] Rot:[%.2f, %.2f, %.2f]", pos.X, pos.Y, pos.Z,
			math.RadToDeg(rot.X), math.RadToDeg(rot.Y), math.RadToDeg(rot.Z))
	}
	return nil
}

func (g *TestGame) Render(e *engine.Engine, packet *metadata.RenderPacket, deltaTime float64) error {
	state := g.state()
	if state.scene == nil {
		return nil
	}
	state.scene.draw(packet, worldCameraName, minimapCameraName)

	x, y := core.InputGetMousePosition()
	packet.Text = append(packet.Text, metadata.TextLine{
		Text:     fmt.Sprintf("Mouse: X=%-5d Y=%-5d", x, y),
		Position: math.NewVec2(10, float32(state.height)-24),
		Colour:   math.NewVec4(0.8, 0.8, 0.8, 1),
	})
	return nil
}

func (g *TestGame) OnResize(e *engine.Engine, width uint32, height uint32) error {
	state := g.state()
	state.width, state.height = width, height
	if state.worldCamera == nil {
		return nil
	}
	// Camera targets are recreated; frames in flight may still sample them.
	if err := e.Device().WaitIdle(); err != nil {
		return err
	}
	full := gpu.Extent2D{Width: width, Height: height}
	if err := state.worldCamera.Target.Resize(full); err != nil {
		return err
	}
	state.worldCamera.ScreenRect = gpu.Rect2D{Extent: full}

	mm := minimapRect(width, height)
	if err := state.minimapCamera.Target.Resize(mm.Extent); err != nil {
		return err
	}
	state.minimapCamera.ScreenRect = mm
	return nil
}

func (g *TestGame) Shutdown(e *engine.Engine) error {
	state := g.state()
	if state.scene != nil {
		state.scene.destroy()
		state.scene = nil
	}
	return nil
}

// minimapRect is a quarter-width square in the top-right corner.
func minimapRect(width, height uint32) gpu.Rect2D {
	side := width / 4
	if side > height/2 {
		side = height / 2
	}
	if side == 0 {
		side = 1
	}
	x := int32(width) - int32(side) - 16
	if x < 0 {
		x = 0
	}
	return gpu.Rect2D{
		Offset: gpu.Offset2D{X: x, Y: 16},
		Extent: gpu.Extent2D{Width: side, Height: side},
	}
}
