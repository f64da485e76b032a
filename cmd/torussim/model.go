package main

import (
	"math/rand/v2"

	"github.com/chewxy/math32"
	"github.com/gogpu/gpgpu"
	"github.com/gogpu/gpgpu/software"
	"github.com/gogpu/gpgpu/wgpu"
)

// Torus geometry and dynamics constants.
const (
	majorRadius = 40.0 // R
	minorRadius = 12.0 // r, containment
	seedRadius  = 10.0 // minor radius scale of the seed distribution
	seedSpeed   = 50.0
	attraction  = 10.0
	fieldScale  = 0.001
	maxSpeed    = 300.0
	pullBack    = 0.5
)

// Variable names. They double as WGSL identifiers (load_position, ...).
const (
	velocityName = "velocity"
	positionName = "position"
	b0Uniform    = "B0"
)

// programs holds the per-step programs of one backend.
type programs struct {
	velocity gpgpu.Program
	position gpgpu.Program
}

func programsFor(backend string) programs {
	if backend == "wgpu" {
		return programs{
			velocity: wgpu.Program{Source: velocityWGSL},
			position: wgpu.Program{Source: positionWGSL},
		}
	}
	return programs{
		velocity: software.Kernel(velocityKernel),
		position: software.Kernel(positionKernel),
	}
}

type vec3 struct{ x, y, z float32 }

func v3(p [4]float32) vec3          { return vec3{p[0], p[1], p[2]} }
func (a vec3) add(b vec3) vec3      { return vec3{a.x + b.x, a.y + b.y, a.z + b.z} }
func (a vec3) sub(b vec3) vec3      { return vec3{a.x - b.x, a.y - b.y, a.z - b.z} }
func (a vec3) scale(s float32) vec3 { return vec3{a.x * s, a.y * s, a.z * s} }
func (a vec3) length() float32      { return math32.Sqrt(a.x*a.x + a.y*a.y + a.z*a.z) }
func (a vec3) rgba() [4]float32     { return [4]float32{a.x, a.y, a.z, 1} }
func (a vec3) cross(b vec3) vec3 {
	return vec3{a.y*b.z - a.z*b.y, a.z*b.x - a.x*b.z, a.x*b.y - a.y*b.x}
}

// normalize returns a unit vector, or zero for the zero vector.
func (a vec3) normalize() vec3 {
	l := a.length()
	if l == 0 {
		return vec3{}
	}
	return a.scale(1 / l)
}

// velocityKernel pulls particles towards the origin, bends them with a
// toroidal field of strength B0 and caps their speed.
func velocityKernel(f *software.Fragment) [4]float32 {
	pos := v3(f.Input(positionName).At(f.X, f.Y))
	vel := v3(f.Previous())

	dir := pos.scale(-1)
	dist := dir.length() + 1e-5
	acc := dir.normalize().scale(attraction / dist)

	phi := math32.Atan2(pos.z, pos.x)
	bt := vec3{-math32.Sin(phi), 0, math32.Cos(phi)}.scale(f.Uniform(b0Uniform) * fieldScale)
	lor := vel.cross(bt)

	next := vel.add(acc.add(lor).scale(f.Delta))
	if next.length() > maxSpeed {
		next = next.normalize().scale(maxSpeed)
	}
	return next.rgba()
}

// positionKernel integrates velocity and pulls particles that left the
// torus tube back towards the origin.
func positionKernel(f *software.Fragment) [4]float32 {
	pos := v3(f.Previous())
	vel := v3(f.Input(velocityName).At(f.X, f.Y))

	next := pos.add(vel.scale(f.Delta))
	rp := math32.Hypot(pos.x, pos.z)
	reff := math32.Hypot(pos.y, rp-majorRadius)
	if reff > minorRadius {
		next = pos.sub(pos.normalize().scale(pullBack * (reff - minorRadius)))
	}
	return next.rgba()
}

const velocityWGSL = `
fn compute(ctx: Context) -> vec4<f32> {
    let pos = load_position(ctx.coord.x, ctx.coord.y).xyz;
    let vel = load_self(ctx.coord.x, ctx.coord.y).xyz;

    let dir = -pos;
    let dist = length(dir) + 1e-5;
    var acc = vec3<f32>(0.0);
    if (length(dir) > 0.0) {
        acc = normalize(dir) * (10.0 / dist);
    }

    let phi = atan2(pos.z, pos.x);
    let bt = vec3<f32>(-sin(phi), 0.0, cos(phi)) * (uniform_B0() * 0.001);
    let lor = cross(vel, bt);

    var next = vel + (acc + lor) * ctx.delta;
    if (length(next) > 300.0) {
        next = normalize(next) * 300.0;
    }
    return vec4<f32>(next, 1.0);
}
`

const positionWGSL = `
fn compute(ctx: Context) -> vec4<f32> {
    let pos = load_self(ctx.coord.x, ctx.coord.y).xyz;
    let vel = load_velocity(ctx.coord.x, ctx.coord.y).xyz;

    var next = pos + vel * ctx.delta;
    let rp = length(pos.xz);
    let reff = length(vec2<f32>(pos.y, rp - 40.0));
    if (reff > 12.0 && length(pos) > 0.0) {
        next = pos - normalize(pos) * 0.5 * (reff - 12.0);
    }
    return vec4<f32>(next, 1.0);
}
`

// seedPosition places particle i of a size×size grid on a flattened torus.
func seedPosition(i, size int, rng *rand.Rand) vec3 {
	u := float32(i%size) / float32(size)
	v := float32(i/size) / float32(size)
	r := seedRadius * (0.5 + 0.5*rng.Float32())
	th := u * 2 * math32.Pi
	ph := v * 2 * math32.Pi
	ring := majorRadius + r*math32.Cos(th)
	return vec3{ring * math32.Cos(ph), r * math32.Sin(th) * 0.3, ring * math32.Sin(ph)}
}

// seedVelocity gives a particle at pos a jittered tangential velocity
// around the vertical axis.
func seedVelocity(pos vec3, rng *rand.Rand) vec3 {
	phi := math32.Atan2(pos.z, pos.x)
	return vec3{
		-math32.Sin(phi) * seedSpeed * (0.8 + 0.4*rng.Float32()),
		0,
		math32.Cos(phi) * seedSpeed * (0.8 + 0.4*rng.Float32()),
	}
}

// seed returns fresh velocity and position images for a size×size grid.
func seed(size int, rng *rand.Rand) (vel, pos *gpgpu.Image) {
	vel = gpgpu.NewImage(size, size)
	pos = gpgpu.NewImage(size, size)
	for i := 0; i < size*size; i++ {
		p := seedPosition(i, size, rng)
		// The velocity direction comes from an independent position
		// sample, as in the interactive demo.
		v := seedVelocity(seedPosition(i, size, rng), rng)
		x, y := i%size, i/size
		pos.Set4(x, y, p.rgba())
		vel.Set4(x, y, v.rgba())
	}
	return vel, pos
}
