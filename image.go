package gpgpu

import (
	"image"
	"image/color"
	"math"
)

// Image is a fixed-size 2D array of four-component float32 pixels.
// It is used to seed and reset variables and is returned by
// Renderer.Current.
//
// Pix holds the pixels row by row, 4 values (R, G, B, A) per pixel.
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

// NewImage creates a zero-filled image with the given dimensions.
func NewImage(width, height int) *Image {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height*4),
	}
}

// NewImageFunc creates an image and fills pixel i (row-major index) with
// fn(i).
func NewImageFunc(width, height int, fn func(i int) [4]float32) *Image {
	m := NewImage(width, height)
	for i := 0; i < width*height; i++ {
		v := fn(i)
		copy(m.Pix[i*4:i*4+4], v[:])
	}
	return m
}

// Len returns the number of pixels.
func (m *Image) Len() int {
	return m.Width * m.Height
}

// SameSize reports whether the image has the given dimensions.
func (m *Image) SameSize(width, height int) bool {
	return m.Width == width && m.Height == height && len(m.Pix) == width*height*4
}

// At4 returns the pixel at (x, y). Out-of-bounds coordinates return zero.
func (m *Image) At4(x, y int) [4]float32 {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return [4]float32{}
	}
	i := (y*m.Width + x) * 4
	return [4]float32{m.Pix[i], m.Pix[i+1], m.Pix[i+2], m.Pix[i+3]}
}

// Set4 sets the pixel at (x, y). Out-of-bounds coordinates are ignored.
func (m *Image) Set4(x, y int, v [4]float32) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	i := (y*m.Width + x) * 4
	copy(m.Pix[i:i+4], v[:])
}

// Fill sets every pixel to v.
func (m *Image) Fill(v [4]float32) {
	for i := 0; i < len(m.Pix); i += 4 {
		copy(m.Pix[i:i+4], v[:])
	}
}

// Clone returns a deep copy of the image.
func (m *Image) Clone() *Image {
	c := &Image{Width: m.Width, Height: m.Height, Pix: make([]float32, len(m.Pix))}
	copy(c.Pix, m.Pix)
	return c
}

// Equal reports whether both images have the same size and bit-identical
// pixels. NaN values compare equal to NaN values with the same bits.
func (m *Image) Equal(o *Image) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Width != o.Width || m.Height != o.Height || len(m.Pix) != len(o.Pix) {
		return false
	}
	for i, v := range m.Pix {
		if math.Float32bits(v) != math.Float32bits(o.Pix[i]) {
			return false
		}
	}
	return true
}

// ColorModel implements the image.Image interface.
func (m *Image) ColorModel() color.Model {
	return color.NRGBA64Model
}

// Bounds implements the image.Image interface.
func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// At implements the image.Image interface. Components are clamped to
// [0, 1]; values outside that range are not representable as a color.
func (m *Image) At(x, y int) color.Color {
	v := m.At4(x, y)
	return color.NRGBA64{
		R: unorm16(v[0]),
		G: unorm16(v[1]),
		B: unorm16(v[2]),
		A: unorm16(v[3]),
	}
}

func unorm16(v float32) uint16 {
	switch {
	case v != v || v <= 0: // NaN or negative
		return 0
	case v >= 1:
		return 0xffff
	}
	return uint16(v*0xffff + 0.5)
}
