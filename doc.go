// Package gpgpu runs iterative per-pixel compute steps on a device, using
// off-screen targets as persistent state rather than as final pixels.
//
// # Overview
//
// A caller declares named state variables (for example "position" and
// "velocity"). Each variable is updated every step by a small program that
// reads the current values of itself and its declared dependencies and
// writes the next values, entirely on the device.
//
// The [Renderer] owns the variables, their target pairs, and a minimal
// full-grid execution context used for seeding and resets. It is agnostic
// to what the programs compute.
//
// # Double Buffering
//
// Every [Variable] has two targets and a single bit selecting the live one.
// A step reads the live target and writes the other, then flips the bit, so
// no program ever reads the target it is writing. Both targets are seeded
// with the initial image, so the choice of live target at time zero is
// unobservable.
//
// # Dependency Order
//
// Variables are stepped in registration order. A dependency is bound from
// whichever of its targets is live when the dependent variable runs:
//
//	a, _ := r.AddVariable("a", incr, zero)   // a' = a + 1
//	b, _ := r.AddVariable("b", copyA, zero)  // b' = a
//	_ = r.SetDependencies(b, a)
//	_ = r.Init()
//	_ = r.Compute(0, 0)                      // a == 1, b == 1
//
// Registering b before a gives b == 0 after the first step, because b then
// reads a's previous value. Cycles (a depends on b and b on a) are resolved
// the same way; variables are never reordered.
//
// # Devices
//
// Programs run on a [Device]:
//   - software: CPU execution on a worker pool; programs are Go kernels
//   - wgpu: gogpu/wgpu HAL compute passes; programs are WGSL
//
// # Precision
//
// Targets use 32-bit float pixels when the device supports them. Otherwise
// the renderer logs a warning and continues with half-float or 8-bit
// targets; see [Renderer.Format].
package gpgpu
