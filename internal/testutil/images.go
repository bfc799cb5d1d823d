package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// Block is a filled rectangle drawn on top of a solid background.
type Block struct {
	X, Y, W, H int
	Color      color.Color
}

// SolidPNG encodes a w x h image filled with c.
func SolidPNG(w, h int, c color.Color) []byte {
	return PNGWithBlocks(w, h, c)
}

// PNGWithBlocks encodes a w x h image with background bg and the given blocks.
func PNGWithBlocks(w, h int, bg color.Color, blocks ...Block) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, bg)
		}
	}
	for _, b := range blocks {
		for y := b.Y; y < b.Y+b.H && y < h; y++ {
			for x := b.X; x < b.X+b.W && x < w; x++ {
				img.Set(x, y, b.Color)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err) // encoding an in-memory RGBA image cannot fail
	}
	return buf.Bytes()
}

// Terrain is a mid-grey background that reads as "unchanged ground".
var Terrain = color.RGBA{R: 96, G: 112, B: 80, A: 255}

// Construction is a bright color used to paint changed regions.
var Construction = color.RGBA{R: 240, G: 236, B: 228, A: 255}

// TwentyPercentBlock covers about 20% of a 400x400 frame.
var TwentyPercentBlock = Block{X: 100, Y: 100, W: 179, H: 179, Color: Construction}
