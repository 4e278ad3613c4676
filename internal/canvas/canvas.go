// Package canvas rasterises blob outlines into the grayscale cross-section
// image. Filling uses scanline coverage accumulation, so blob edges are
// antialiased the same way the porosity reference images are.
package canvas

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/vector"

	"github.com/amflab/foamgen/internal/shape"
)

// Shades of the synthetic cross-section. The matrix between tracks and the
// foam pores are dark (0.3 gray), the extruded tracks are light grey.
const (
	DarkShade  uint8 = 77
	LightShade uint8 = 211
)

// Canvas is a fixed-size image buffer that blobs are filled onto.
// A Canvas is not safe for concurrent use.
type Canvas struct {
	img *image.RGBA
	ras *vector.Rasterizer
}

// New returns a canvas of the given pixel size, filled with the dark
// background shade.
func New(width, height int) *Canvas {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(grayColor(DarkShade)), image.Point{}, draw.Src)
	return &Canvas{
		img: img,
		ras: vector.NewRasterizer(width, height),
	}
}

// Fill paints the blob's outline interior with the given shade. Parts of the
// outline outside the canvas are clipped.
func (c *Canvas) Fill(b *shape.Blob, shade uint8) {
	r := c.ras
	r.Reset(c.img.Rect.Dx(), c.img.Rect.Dy())

	start := b.Start()
	r.MoveTo(float32(start.X), float32(start.Y))
	for _, s := range b.Segments() {
		r.CubeTo(
			float32(s.C1.X), float32(s.C1.Y),
			float32(s.C2.X), float32(s.C2.Y),
			float32(s.End.X), float32(s.End.Y),
		)
	}
	for _, p := range b.Tail() {
		r.LineTo(float32(p.X), float32(p.Y))
	}
	r.ClosePath()

	r.Draw(c.img, c.img.Bounds(), image.NewUniform(grayColor(shade)), image.Point{})
}

// Gray returns the current canvas content as a grayscale image.
func (c *Canvas) Gray() *image.Gray {
	out := image.NewGray(c.img.Bounds())
	draw.Draw(out, out.Bounds(), c.img, c.img.Bounds().Min, draw.Src)
	return out
}

// Bounds returns the pixel bounds of the canvas.
func (c *Canvas) Bounds() image.Rectangle { return c.img.Bounds() }

func grayColor(v uint8) color.RGBA {
	return color.RGBA{R: v, G: v, B: v, A: 0xff}
}
