package engine

import (
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

/**
 * @brief The hooks a game plugs into the engine. Every hook receives the
 * engine so it can reach the render pipeline, cameras and assets. Only
 * FnUpdate and FnRender are required.
 */
type Game struct {
	Name         string
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func(e *Engine) error
type Update func(e *Engine, deltaTime float64) error

// Render fills the packet drawn this frame. The packet is empty on entry.
type Render func(e *Engine, packet *metadata.RenderPacket, deltaTime float64) error
type OnResize func(e *Engine, width uint32, height uint32) error
type Shutdown func(e *Engine) error
