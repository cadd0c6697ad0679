package gpu

import (
	"fmt"
	"strings"
)

// MaxFramesInFlight bounds every per-frame array in the renderer.
const MaxFramesInFlight = 3

type Extent2D struct {
	Width  uint32
	Height uint32
}

func (e Extent2D) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// IsZero is true for minimised surfaces.
func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

type Offset2D struct {
	X int32
	Y int32
}

type Rect2D struct {
	Offset Offset2D
	Extent Extent2D
}

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// ViewportFor covers the whole extent with a [0,1] depth range.
func ViewportFor(e Extent2D) Viewport {
	return Viewport{Width: float32(e.Width), Height: float32(e.Height), MaxDepth: 1.0}
}

// ViewportForRect covers r with a [0,1] depth range.
func ViewportForRect(r Rect2D) Viewport {
	return Viewport{
		X:        float32(r.Offset.X),
		Y:        float32(r.Offset.Y),
		Width:    float32(r.Extent.Width),
		Height:   float32(r.Extent.Height),
		MaxDepth: 1.0,
	}
}

// ScissorFor covers the whole extent.
func ScissorFor(e Extent2D) Rect2D {
	return Rect2D{Extent: e}
}

/**
 * @brief Clear value for one attachment. Colour attachments read Color,
 * depth attachments read Depth and Stencil.
 */
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
	IsDepth bool
}

func ClearColor(r, g, b, a float32) ClearValue {
	return ClearValue{Color: [4]float32{r, g, b, a}}
}

func ClearDepth(depth float32, stencil uint32) ClearValue {
	return ClearValue{Depth: depth, Stencil: stencil, IsDepth: true}
}

type DescriptorType uint8

const (
	DescriptorTypeUniformBuffer DescriptorType = iota
	DescriptorTypeUniformBufferDynamic
	DescriptorTypeStorageBuffer
	DescriptorTypeCombinedImageSampler
	DescriptorTypeStorageImage
	DescriptorTypeInputAttachment
	DescriptorTypeCount
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeUniformBuffer:
		return "uniform_buffer"
	case DescriptorTypeUniformBufferDynamic:
		return "uniform_buffer_dynamic"
	case DescriptorTypeStorageBuffer:
		return "storage_buffer"
	case DescriptorTypeCombinedImageSampler:
		return "combined_image_sampler"
	case DescriptorTypeStorageImage:
		return "storage_image"
	case DescriptorTypeInputAttachment:
		return "input_attachment"
	}
	return fmt.Sprintf("descriptor_type(%d)", uint8(t))
}

type ImageLayout uint8

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutColorAttachmentOptimal
	ImageLayoutDepthStencilAttachmentOptimal
	ImageLayoutShaderReadOnlyOptimal
	ImageLayoutTransferSrcOptimal
	ImageLayoutTransferDstOptimal
	ImageLayoutPresentSrc
)

func (l ImageLayout) String() string {
	switch l {
	case ImageLayoutUndefined:
		return "undefined"
	case ImageLayoutGeneral:
		return "general"
	case ImageLayoutColorAttachmentOptimal:
		return "color_attachment_optimal"
	case ImageLayoutDepthStencilAttachmentOptimal:
		return "depth_stencil_attachment_optimal"
	case ImageLayoutShaderReadOnlyOptimal:
		return "shader_read_only_optimal"
	case ImageLayoutTransferSrcOptimal:
		return "transfer_src_optimal"
	case ImageLayoutTransferDstOptimal:
		return "transfer_dst_optimal"
	case ImageLayoutPresentSrc:
		return "present_src"
	}
	return fmt.Sprintf("image_layout(%d)", uint8(l))
}

type Format uint16

const (
	FormatUndefined Format = iota
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatR16G16B16A16Sfloat
	FormatR32G32B32A32Sfloat
	FormatA2B10G10R10UnormPack32
	FormatD32Sfloat
	FormatD24UnormS8Uint
	FormatD32SfloatS8Uint
	FormatR32G32Sfloat
	FormatR32G32B32Sfloat
)

var formatNames = map[Format]string{
	FormatUndefined:              "undefined",
	FormatR8G8B8A8Unorm:          "rgba8_unorm",
	FormatR8G8B8A8Srgb:           "rgba8_srgb",
	FormatB8G8R8A8Unorm:          "bgra8_unorm",
	FormatB8G8R8A8Srgb:           "bgra8_srgb",
	FormatR16G16B16A16Sfloat:     "rgba16_sfloat",
	FormatR32G32B32A32Sfloat:     "rgba32_sfloat",
	FormatA2B10G10R10UnormPack32: "a2b10g10r10_unorm",
	FormatD32Sfloat:              "d32_sfloat",
	FormatD24UnormS8Uint:         "d24_unorm_s8_uint",
	FormatD32SfloatS8Uint:        "d32_sfloat_s8_uint",
	FormatR32G32Sfloat:           "rg32_sfloat",
	FormatR32G32B32Sfloat:        "rgb32_sfloat",
}

func (f Format) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return fmt.Sprintf("format(%d)", uint16(f))
}

// IsDepth reports whether the format carries a depth aspect.
func (f Format) IsDepth() bool {
	switch f {
	case FormatD32Sfloat, FormatD24UnormS8Uint, FormatD32SfloatS8Uint:
		return true
	}
	return false
}

// Size is the number of bytes of one texel.
func (f Format) Size() int {
	switch f {
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb,
		FormatA2B10G10R10UnormPack32, FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatR16G16B16A16Sfloat, FormatR32G32Sfloat, FormatD32SfloatS8Uint:
		return 8
	case FormatR32G32B32Sfloat:
		return 12
	case FormatR32G32B32A32Sfloat:
		return 16
	}
	return 0
}

// HasStencil reports whether the format carries a stencil aspect.
func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32SfloatS8Uint
}

// ParseFormat maps a configuration name such as "rgba16_sfloat" to a Format.
func ParseFormat(name string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range formatNames {
		if n == name && f != FormatUndefined {
			return f, nil
		}
	}
	return FormatUndefined, fmt.Errorf("unknown format '%s'", name)
}

type CommandBufferLevel uint8

const (
	CommandBufferLevelPrimary CommandBufferLevel = iota
	CommandBufferLevelSecondary
)

func (l CommandBufferLevel) String() string {
	if l == CommandBufferLevelSecondary {
		return "secondary"
	}
	return "primary"
}

type CommandBufferState uint8

const (
	COMMAND_BUFFER_STATE_READY CommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s CommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return "in_render_pass"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording_ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	case COMMAND_BUFFER_STATE_NOT_ALLOCATED:
		return "not_allocated"
	}
	return fmt.Sprintf("command_buffer_state(%d)", uint8(s))
}

// IsRecording is true when draw and bind commands may be recorded.
func (s CommandBufferState) IsRecording() bool {
	return s == COMMAND_BUFFER_STATE_RECORDING || s == COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

type SubpassContents uint8

const (
	SubpassContentsInline SubpassContents = iota
	SubpassContentsSecondaryCommandBuffers
)

func (c SubpassContents) String() string {
	if c == SubpassContentsSecondaryCommandBuffers {
		return "secondary_command_buffers"
	}
	return "inline"
}

type IndexType uint8

const (
	IndexTypeUint16 IndexType = iota
	IndexTypeUint32
)

func (t IndexType) String() string {
	if t == IndexTypeUint32 {
		return "uint32"
	}
	return "uint16"
}

// Size returns the byte width of one index.
func (t IndexType) Size() uint32 {
	if t == IndexTypeUint32 {
		return 4
	}
	return 2
}

type TextureUsage uint8

const (
	TextureUsageSampled TextureUsage = 1 << iota
	TextureUsageStorage
	TextureUsageColorAttachment
	TextureUsageDepthAttachment
	TextureUsageInputAttachment
	TextureUsageTransferDst
)

type BufferUsage uint8

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndirect
)

type ShaderStage uint8

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute

	ShaderStageAllGraphics = ShaderStageVertex | ShaderStageFragment
)
