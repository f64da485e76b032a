// Package software provides a CPU implementation of gpgpu.Device.
//
// Programs are Go functions of type Kernel. A kernel is evaluated once
// per output pixel; rows are split into bands and run concurrently on a
// work-stealing pool.
//
//	dev := software.New()
//	defer dev.Close()
//
//	r, _ := gpgpu.NewRenderer(dev, &gpgpu.Config{Width: 64, Height: 64})
//	decay := software.Kernel(func(f *software.Fragment) [4]float32 {
//		p := f.Previous()
//		return [4]float32{p[0] * 0.99, p[1], p[2], p[3]}
//	})
//	v, _ := r.AddVariable("heat", decay, initial)
//
// Target formats are emulated exactly: half-float targets round to the
// nearest binary16 value and 8-bit targets clamp to [0, 1]. WithFormats
// restricts the advertised formats, which is how the renderer's reduced
// precision fallback is exercised without a GPU.
package software
