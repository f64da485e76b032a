// Package wgpu runs gpgpu simulations on the GPU through gogpu/wgpu HAL
// compute passes.
//
// Each variable's targets are storage buffers holding one vec4<f32> per
// cell. Programs are WGSL fragments compiled with gogpu/naga against a
// generated prelude (see Prelude) and dispatched in 8×8 workgroups:
//
//	dev, err := wgpu.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r, _ := gpgpu.NewRenderer(dev, &gpgpu.Config{Width: 256, Height: 256})
//	v, _ := r.AddVariable("heat", wgpu.Program{Source: `
//	fn compute(ctx: Context) -> vec4<f32> {
//	    let c = ctx.coord;
//	    let sum = load_heat(c.x-1, c.y) + load_heat(c.x+1, c.y) +
//	        load_heat(c.x, c.y-1) + load_heat(c.x, c.y+1);
//	    return mix(load_self(c.x, c.y), sum*0.25, 0.5);
//	}`}, seed)
//	_ = r.SetDependencies(v, v)
//
// Build with -tags nogpu to leave out the Vulkan backend registration.
// NewFromHAL and NewFromProvider share a device owned by the host
// application.
package wgpu
