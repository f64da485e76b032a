package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gogpu/gpgpu"
	"golang.org/x/image/draw"
)

// projectionSpan is the world-space half extent of a snapshot.
const projectionSpan = 60.0

// canvasSize is the resolution particles are plotted at before scaling.
const canvasSize = 128

var background = color.RGBA{R: 8, G: 8, B: 16, A: 255}

// project plots positions top-down (x, z) onto a canvas. Particles with
// positive x are tinted pink and the others blue.
func project(pos *gpgpu.Image) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, canvasSize, canvasSize))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	for i := 0; i < pos.Len(); i++ {
		p := pos.Pix[i*4 : i*4+4]
		x := int((p[0] + projectionSpan) / (2 * projectionSpan) * canvasSize)
		y := int((p[2] + projectionSpan) / (2 * projectionSpan) * canvasSize)
		if x < 0 || y < 0 || x >= canvasSize || y >= canvasSize {
			continue
		}
		c := color.RGBA{R: 0, G: 77, B: 255, A: 255}
		if p[0] > 0 {
			c.R = 255
		}
		canvas.SetRGBA(x, y, c)
	}
	return canvas
}

// snapshot renders positions at size×size pixels.
func snapshot(pos *gpgpu.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), project(pos), image.Rect(0, 0, canvasSize, canvasSize), draw.Src, nil)
	return dst
}

// writeSnapshot writes step's snapshot as PNG into dir and returns its path.
func writeSnapshot(dir string, step uint64, pos *gpgpu.Image, size int) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("torus_%06d.png", step))
	f, err := os.Create(path) //nolint:gosec // dir comes from the operator
	if err != nil {
		return "", fmt.Errorf("torussim: snapshot: %w", err)
	}
	if err := png.Encode(f, snapshot(pos, size)); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("torussim: snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("torussim: snapshot: %w", err)
	}
	return path, nil
}
