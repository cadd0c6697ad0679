package metadata

import "github.com/spaghettifunk/umbra/engine/math"

/**
 * @brief A line of overlay text, positioned in swapchain pixels.
 */
type TextLine struct {
	Text     string
	Position math.Vec2
	Colour   math.Vec4
}

/**
 * @brief Scene lighting read by the lighting subpass.
 */
type Lighting struct {
	SunDirection math.Vec3
	SunColour    math.Vec4
	Ambient      math.Vec4
	/** @brief Exposure applied by the post-light tone mapping. */
	Exposure float32
}

func DefaultLighting() Lighting {
	return Lighting{
		SunDirection: math.NewVec3(-0.57735, -0.57735, -0.57735),
		SunColour:    math.NewVec4(1.0, 0.95, 0.9, 1.0),
		Ambient:      math.NewVec4(0.15, 0.15, 0.2, 1.0),
		Exposure:     1.0,
	}
}

/** @brief Size in bytes of the lighting uniform block. */
const LightingUniformSize = 4 * 16

// Bytes encodes the lighting block; the camera position fills the last vec4.
func (l Lighting) Bytes(cameraPosition math.Vec3) []byte {
	out := make([]byte, 0, LightingUniformSize)
	out = math.AppendFloat32s(out, l.SunDirection.X, l.SunDirection.Y, l.SunDirection.Z, l.Exposure)
	out = math.AppendFloat32s(out, l.SunColour.X, l.SunColour.Y, l.SunColour.Z, l.SunColour.W)
	out = math.AppendFloat32s(out, l.Ambient.X, l.Ambient.Y, l.Ambient.Z, l.Ambient.W)
	return math.AppendFloat32s(out, cameraPosition.X, cameraPosition.Y, cameraPosition.Z, 1.0)
}

/**
 * @brief Everything the game hands the renderer for one frame.
 */
type RenderPacket struct {
	DeltaTime   float64
	FrameNumber uint64
	Lighting    Lighting
	/** @brief Opaque draws per camera, keyed by camera name. */
	Opaque map[string][]DrawCommand
	/** @brief Overlay draws recorded after screen composition. */
	UI []DrawCommand
	/** @brief Overlay text recorded after the UI draws. */
	Text []TextLine
}

func NewRenderPacket() *RenderPacket {
	return &RenderPacket{
		Opaque:   make(map[string][]DrawCommand),
		Lighting: DefaultLighting(),
	}
}

func (p *RenderPacket) AddOpaque(camera string, cmd DrawCommand) {
	if p.Opaque == nil {
		p.Opaque = make(map[string][]DrawCommand)
	}
	p.Opaque[camera] = append(p.Opaque[camera], cmd)
}

// Reset empties the packet, keeping its storage for the next frame.
func (p *RenderPacket) Reset() {
	for k, v := range p.Opaque {
		p.Opaque[k] = v[:0]
	}
	p.UI = p.UI[:0]
	p.Text = p.Text[:0]
}
