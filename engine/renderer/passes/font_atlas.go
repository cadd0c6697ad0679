package passes

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/fzipp/bmfont"
	"github.com/spaghettifunk/umbra/engine/math"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"golang.org/x/image/draw"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

type glyph struct {
	// source rectangle in the atlas, in pixels
	x, y, w, h int
	// top-left corner relative to the pen position
	xoff, yoff int
	advance    fixed.Int26_6
}

/**
 * @brief A single-page glyph atlas: RGBA8 texels plus the metrics needed
 * to lay out text on it.
 */
type fontAtlas struct {
	name       string
	width      int
	height     int
	pixels     []byte
	lineHeight fixed.Int26_6
	glyphs     map[rune]glyph
}

func (a *fontAtlas) setImage(img image.Image) {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	a.width = b.Dx()
	a.height = b.Dy()
	a.pixels = rgba.Pix
}

// loadBMFontAtlas reads an AngelCode BMFont descriptor and its first page sheet.
func loadBMFontAtlas(path string) (*fontAtlas, error) {
	font, err := bmfont.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load bitmap font '%s': %w", path, err)
	}
	d := font.Descriptor

	sheet := ""
	for _, p := range d.Pages {
		if int(p.ID) == 0 {
			sheet = p.File
		}
	}
	if sheet == "" {
		return nil, fmt.Errorf("bitmap font '%s' has no page 0", path)
	}
	f, err := os.Open(filepath.Join(filepath.Dir(path), sheet))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode page sheet '%s': %w", sheet, err)
	}

	atlas := &fontAtlas{
		name:       d.Info.Face,
		lineHeight: fixed.I(int(d.Common.LineHeight)),
		glyphs:     make(map[rune]glyph, len(d.Chars)),
	}
	atlas.setImage(img)
	for _, c := range d.Chars {
		if int(c.Page) != 0 {
			continue
		}
		atlas.glyphs[rune(c.ID)] = glyph{
			x:       int(c.X),
			y:       int(c.Y),
			w:       int(c.Width),
			h:       int(c.Height),
			xoff:    int(c.XOffset),
			yoff:    int(c.YOffset),
			advance: fixed.I(int(c.XAdvance)),
		}
	}
	return atlas, nil
}

// basicFontAtlas builds the atlas from the built-in 7x13 face, whose mask already is one.
func basicFontAtlas() *fontAtlas {
	face := basicfont.Face7x13
	atlas := &fontAtlas{
		name:       "basicfont-7x13",
		lineHeight: fixed.I(face.Height),
		glyphs:     make(map[rune]glyph),
	}
	atlas.setImage(face.Mask)

	dot := fixed.Point26_6{Y: fixed.I(face.Ascent)}
	for _, r := range face.Ranges {
		for c := r.Low; c < r.High; c++ {
			dr, _, maskp, advance, ok := face.Glyph(dot, c)
			if !ok {
				continue
			}
			atlas.glyphs[c] = glyph{
				x:       maskp.X,
				y:       maskp.Y,
				w:       dr.Dx(),
				h:       dr.Dy(),
				xoff:    dr.Min.X,
				yoff:    dr.Min.Y,
				advance: advance,
			}
		}
	}
	return atlas
}

/**
 * @brief Appends six vertices per visible glyph of line to dst, stopping
 * once dst holds maxGlyphs quads. Unknown runes fall back to '?'.
 */
func (a *fontAtlas) layout(dst []math.Vertex2D, line metadata.TextLine, maxGlyphs int) []math.Vertex2D {
	origin := fixed.Point26_6{
		X: fixed.Int26_6(line.Position.X * 64),
		Y: fixed.Int26_6(line.Position.Y * 64),
	}
	pen := origin
	aw, ah := float32(a.width), float32(a.height)

	for _, r := range line.Text {
		if r == '\n' {
			pen.X = origin.X
			pen.Y += a.lineHeight
			continue
		}
		g, ok := a.glyphs[r]
		if !ok {
			if g, ok = a.glyphs['?']; !ok {
				continue
			}
		}
		if g.w > 0 && g.h > 0 {
			if len(dst)/6 >= maxGlyphs {
				return dst
			}
			x0 := float32(pen.X)/64 + float32(g.xoff)
			y0 := float32(pen.Y)/64 + float32(g.yoff)
			x1 := x0 + float32(g.w)
			y1 := y0 + float32(g.h)
			u0, v0 := float32(g.x)/aw, float32(g.y)/ah
			u1, v1 := float32(g.x+g.w)/aw, float32(g.y+g.h)/ah

			tl := math.Vertex2D{Position: math.NewVec2(x0, y0), Texcoord: math.NewVec2(u0, v0), Colour: line.Colour}
			tr := math.Vertex2D{Position: math.NewVec2(x1, y0), Texcoord: math.NewVec2(u1, v0), Colour: line.Colour}
			bl := math.Vertex2D{Position: math.NewVec2(x0, y1), Texcoord: math.NewVec2(u0, v1), Colour: line.Colour}
			br := math.Vertex2D{Position: math.NewVec2(x1, y1), Texcoord: math.NewVec2(u1, v1), Colour: line.Colour}
			dst = append(dst, tl, bl, br, tl, br, tr)
		}
		pen.X += g.advance
	}
	return dst
}
