package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/target"
)

type Window struct {
	Title  string `toml:"title"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
}

type Log struct {
	Level string `toml:"level"`
}

// DescriptorPool sizes the single pool every binding set is allocated from.
type DescriptorPool struct {
	MaxSets               uint32 `toml:"max_sets"`
	UniformBuffers        uint32 `toml:"uniform_buffers"`
	DynamicUniformBuffers uint32 `toml:"dynamic_uniform_buffers"`
	StorageBuffers        uint32 `toml:"storage_buffers"`
	CombinedImageSamplers uint32 `toml:"combined_image_samplers"`
	StorageImages         uint32 `toml:"storage_images"`
	InputAttachments      uint32 `toml:"input_attachments"`
}

type Renderer struct {
	FramesInFlight  uint32         `toml:"frames_in_flight"`
	Validation      bool           `toml:"validation"`
	RequireDiscrete bool           `toml:"require_discrete"`
	ClearColour     [4]float32     `toml:"clear_colour"`
	ShaderDir       string         `toml:"shader_dir"`
	DescriptorPool  DescriptorPool `toml:"descriptor_pool"`
}

type GBuffer struct {
	Albedo   string `toml:"albedo"`
	Normal   string `toml:"normal"`
	Position string `toml:"position"`
	Depth    string `toml:"depth"`
	Lighting string `toml:"lighting"`
	Output   string `toml:"output"`
}

type UI struct {
	Font      string `toml:"font"`
	MaxGlyphs int    `toml:"max_glyphs"`
	ShowStats bool   `toml:"show_stats"`
}

/**
 * @brief Engine configuration as read from a TOML file. Missing keys keep
 * the values of Default().
 */
type Config struct {
	Window   Window   `toml:"window"`
	Log      Log      `toml:"log"`
	Renderer Renderer `toml:"renderer"`
	GBuffer  GBuffer  `toml:"gbuffer"`
	UI       UI       `toml:"ui"`
	// AssetsDir is the root the shader directory and textures are resolved against.
	AssetsDir string `toml:"assets_dir"`
}

func Default() *Config {
	gb := target.DefaultGBufferFormats()
	return &Config{
		Window: Window{
			Title:  "Umbra",
			Width:  1280,
			Height: 720,
			X:      100,
			Y:      100,
		},
		Log: Log{Level: "info"},
		Renderer: Renderer{
			FramesInFlight: 2,
			ClearColour:    [4]float32{0, 0, 0, 1},
			ShaderDir:      "shaders",
			DescriptorPool: DescriptorPool{
				MaxSets:               256,
				UniformBuffers:        64,
				DynamicUniformBuffers: 64,
				StorageBuffers:        16,
				CombinedImageSamplers: 256,
				StorageImages:         16,
				InputAttachments:      128,
			},
		},
		GBuffer: GBuffer{
			Albedo:   gb.Albedo.String(),
			Normal:   gb.Normal.String(),
			Position: gb.Position.String(),
			Depth:    gb.Depth.String(),
			Lighting: gb.Lighting.String(),
			Output:   gb.Output.String(),
		},
		UI: UI{
			MaxGlyphs: 1024,
			ShowStats: true,
		},
		AssetsDir: "assets",
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config '%s': %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("unknown configuration keys:\n%s", strict.String())
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("line %d column %d: %w", row, col, err)
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes the configuration back to TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Window.Width == 0 || c.Window.Height == 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d is empty", c.Window.Width, c.Window.Height))
	}
	if _, err := core.ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if n := c.Renderer.FramesInFlight; n == 0 || n > gpu.MaxFramesInFlight {
		errs = append(errs, fmt.Errorf("renderer.frames_in_flight %d outside [1,%d]", n, gpu.MaxFramesInFlight))
	}
	if c.Renderer.DescriptorPool.MaxSets == 0 {
		errs = append(errs, fmt.Errorf("renderer.descriptor_pool.max_sets must not be zero"))
	}
	if c.UI.MaxGlyphs <= 0 {
		errs = append(errs, fmt.Errorf("ui.max_glyphs must be positive"))
	}
	if _, err := c.GBufferFormats(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LogLevel is the parsed [log] level.
func (c *Config) LogLevel() core.LogLevel {
	level, _ := core.ParseLogLevel(c.Log.Level)
	return level
}

// GBufferFormats resolves the [gbuffer] format names.
func (c *Config) GBufferFormats() (target.GBufferFormats, error) {
	var out target.GBufferFormats
	fields := []struct {
		key  string
		name string
		dst  *gpu.Format
		want func(gpu.Format) bool
	}{
		{"albedo", c.GBuffer.Albedo, &out.Albedo, colourFormat},
		{"normal", c.GBuffer.Normal, &out.Normal, colourFormat},
		{"position", c.GBuffer.Position, &out.Position, colourFormat},
		{"depth", c.GBuffer.Depth, &out.Depth, gpu.Format.IsDepth},
		{"lighting", c.GBuffer.Lighting, &out.Lighting, colourFormat},
		{"output", c.GBuffer.Output, &out.Output, colourFormat},
	}
	for _, f := range fields {
		format, err := gpu.ParseFormat(f.name)
		if err != nil {
			return out, fmt.Errorf("gbuffer.%s: %w", f.key, err)
		}
		if !f.want(format) {
			return out, fmt.Errorf("gbuffer.%s: format %s cannot be used here", f.key, format)
		}
		*f.dst = format
	}
	return out, nil
}

func colourFormat(f gpu.Format) bool { return !f.IsDepth() }

// DescriptorPoolSizes lists the non-empty pool sizes.
func (c *Config) DescriptorPoolSizes() []gpu.DescriptorPoolSize {
	p := c.Renderer.DescriptorPool
	all := []gpu.DescriptorPoolSize{
		{Type: gpu.DescriptorTypeUniformBuffer, Count: p.UniformBuffers},
		{Type: gpu.DescriptorTypeUniformBufferDynamic, Count: p.DynamicUniformBuffers},
		{Type: gpu.DescriptorTypeStorageBuffer, Count: p.StorageBuffers},
		{Type: gpu.DescriptorTypeCombinedImageSampler, Count: p.CombinedImageSamplers},
		{Type: gpu.DescriptorTypeStorageImage, Count: p.StorageImages},
		{Type: gpu.DescriptorTypeInputAttachment, Count: p.InputAttachments},
	}
	sizes := all[:0]
	for _, s := range all {
		if s.Count > 0 {
			sizes = append(sizes, s)
		}
	}
	return sizes
}

func (c *Config) ClearValue() gpu.ClearValue {
	cc := c.Renderer.ClearColour
	return gpu.ClearColor(cc[0], cc[1], cc[2], cc[3])
}
