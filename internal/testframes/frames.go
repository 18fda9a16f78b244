// Package testframes builds synthetic camera frames for tests.
package testframes

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Default frame size.
const (
	Width  = 320
	Height = 240
)

// Blank returns a black BGR frame.
func Blank(width, height int) *gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC3)
	return &m
}

// WithBox returns a black frame with a filled white rectangle, which gives
// the motion gate a clear edge outline to compare.
func WithBox(width, height int, box image.Rectangle) *gocv.Mat {
	m := Blank(width, height)
	gocv.Rectangle(m, box, color.RGBA{R: 255, G: 255, B: 255, A: 0}, -1)
	return m
}

// Alternating returns n frames switching between blank and boxed, so every
// frame after the first differs from its predecessor.
func Alternating(n int) []*gocv.Mat {
	box := image.Rect(Width/4, Height/4, Width*3/4, Height*3/4)
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		if i%2 == 0 {
			frames[i] = Blank(Width, Height)
		} else {
			frames[i] = WithBox(Width, Height, box)
		}
	}
	return frames
}

// CloseAll releases every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}
