package main

import (
	"image/png"
	"os"
	"testing"

	"github.com/gogpu/gpgpu"
)

func TestProject(t *testing.T) {
	pos := gpgpu.NewImage(3, 1)
	pos.Set4(0, 0, [4]float32{30, 0, 0, 1})   // right half, pink
	pos.Set4(1, 0, [4]float32{-30, 0, 30, 1}) // left half, blue
	pos.Set4(2, 0, [4]float32{500, 0, 0, 1})  // off canvas

	img := project(pos)
	at := func(wx, wz float32) (x, y int) {
		return int((wx + projectionSpan) / (2 * projectionSpan) * canvasSize),
			int((wz + projectionSpan) / (2 * projectionSpan) * canvasSize)
	}

	x, y := at(30, 0)
	if c := img.RGBAAt(x, y); c.R != 255 || c.B != 255 {
		t.Errorf("pixel for x>0 = %+v, want pink", c)
	}
	x, y = at(-30, 30)
	if c := img.RGBAAt(x, y); c.R != 0 || c.B != 255 {
		t.Errorf("pixel for x<0 = %+v, want blue", c)
	}
	if c := img.RGBAAt(0, 0); c != background {
		t.Errorf("corner = %+v, want background", c)
	}
}

func TestWriteSnapshot(t *testing.T) {
	pos := gpgpu.NewImage(2, 2)
	path, err := writeSnapshot(t.TempDir(), 42, pos, 64)
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Errorf("snapshot bounds = %v, want 64x64", b)
	}

	if _, err := writeSnapshot("/does/not/exist", 1, pos, 8); err == nil {
		t.Error("writeSnapshot into a missing directory should fail")
	}
}
