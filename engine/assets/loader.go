package assets

import (
	"encoding/binary"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// spirvMagic opens every SPIR-V module, in the module's endianness.
const spirvMagic uint32 = 0x07230203

type Resource struct {
	Name     string
	FullPath string
	Type     AssetType
	DataSize uint64
	// []byte for shaders, *ImageData for images.
	Data interface{}
}

type Loader interface {
	Load(path string) (*Resource, error)
}

// ShaderLoader reads a compiled SPIR-V module.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string) (*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 || len(data)%4 != 0 {
		return nil, fmt.Errorf("'%s' is %d bytes, not a SPIR-V module", path, len(data))
	}
	if binary.LittleEndian.Uint32(data) != spirvMagic {
		return nil, fmt.Errorf("'%s' has no SPIR-V magic number", path)
	}
	return &Resource{
		FullPath: path,
		Type:     AssetTypeShader,
		DataSize: uint64(len(data)),
		Data:     data,
	}, nil
}

/**
 * @brief Decoded texels, always four 8-bit channels, rows top to bottom.
 */
type ImageData struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

type ImageLoader struct {
	// FlipY stores rows bottom to top.
	FlipY bool
}

func (il *ImageLoader) Load(path string) (*Resource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode '%s': %w", path, err)
	}
	data := ToRGBA8(img, il.FlipY)
	return &Resource{
		FullPath: path,
		Type:     AssetTypeImage,
		DataSize: uint64(len(data.Pixels)),
		Data:     data,
	}, nil
}

// ToRGBA8 converts any decoded image into tightly packed RGBA8.
func ToRGBA8(img image.Image, flipY bool) *ImageData {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	pixels := make([]byte, len(rgba.Pix))
	if flipY {
		row := rgba.Stride
		h := b.Dy()
		for y := 0; y < h; y++ {
			copy(pixels[y*row:(y+1)*row], rgba.Pix[(h-1-y)*row:(h-y)*row])
		}
	} else {
		copy(pixels, rgba.Pix)
	}
	return &ImageData{
		Width:  uint32(b.Dx()),
		Height: uint32(b.Dy()),
		Pixels: pixels,
	}
}
