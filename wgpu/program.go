package wgpu

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/gogpu/gpgpu"
	"github.com/gogpu/gpgpu/internal/cache"
	"github.com/gogpu/naga"
)

// MaxUniforms is the number of caller-defined uniforms a program can read.
const MaxUniforms = 16

// paramsSize is the size of the Params uniform block in bytes:
// width, height, time, delta, then MaxUniforms floats packed in vec4s.
const paramsSize = 16 + MaxUniforms*4

// Bind group layout: params, self, output, then one binding per unique
// dependency name.
const (
	bindingParams = 0
	bindingSelf   = 1
	bindingOut    = 2
	bindingInputs = 3
)

// Program is a WGSL per-step program. Source must define
//
//	fn compute(ctx: Context) -> vec4<f32>
//
// which returns the new value of the pixel at ctx.coord. The generated
// prelude provides:
//
//	struct Context { coord: vec2<i32>, uv: vec2<f32>, resolution: vec2<f32>, time: f32, delta: f32 }
//	fn load_self(x: i32, y: i32) -> vec4<f32>
//	fn load_<input>(x: i32, y: i32) -> vec4<f32>
//	fn sample_<input>(uv: vec2<f32>) -> vec4<f32>
//	fn uniform_<name>() -> f32
//
// Loads wrap around the grid edges and sampling uses the nearest texel,
// matching the software device.
type Program struct {
	Source string
}

// programSource extracts WGSL source from the program types this device
// accepts.
func programSource(p gpgpu.Program) (string, bool) {
	switch src := p.(type) {
	case Program:
		return src.Source, true
	case *Program:
		if src == nil {
			return "", false
		}
		return src.Source, true
	case string:
		return src, true
	}
	return "", false
}

// copySource is the pass-through program.
const copySource = `
fn compute(ctx: Context) -> vec4<f32> {
    return load_self(ctx.coord.x, ctx.coord.y);
}
`

// uniqueInputs returns the input names with duplicates removed, keeping
// the first occurrence.
func uniqueInputs(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// validIdent reports whether s can be used inside a WGSL identifier.
func validIdent(s string) bool {
	if s == "" || strings.HasPrefix(s, "__") {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// checkLayout reports names that cannot be turned into WGSL bindings.
func checkLayout(layout gpgpu.ProgramLayout) error {
	for _, n := range layout.Inputs {
		if !validIdent(n) {
			return fmt.Errorf("input %q is not a valid WGSL identifier", n)
		}
		if n == "self" || n == "out" {
			return fmt.Errorf("input name %q is reserved", n)
		}
	}
	if len(layout.Uniforms) > MaxUniforms {
		return fmt.Errorf("%d uniforms, at most %d supported", len(layout.Uniforms), MaxUniforms)
	}
	for _, n := range layout.Uniforms {
		if !validIdent(n) {
			return fmt.Errorf("uniform %q is not a valid WGSL identifier", n)
		}
	}
	return nil
}

var components = [4]string{"x", "y", "z", "w"}

// Prelude returns the WGSL declarations a program for layout is compiled
// against. The program source is appended after it, followed by the
// compute entry point.
func Prelude(layout gpgpu.ProgramLayout) string {
	var b strings.Builder

	fmt.Fprintf(&b, `struct Params {
    width: u32,
    height: u32,
    time: f32,
    delta: f32,
    u: array<vec4<f32>, %d>,
}

struct Context {
    coord: vec2<i32>,
    uv: vec2<f32>,
    resolution: vec2<f32>,
    time: f32,
    delta: f32,
}

@group(0) @binding(%d) var<uniform> params: Params;
@group(0) @binding(%d) var<storage, read> self_buf: array<vec4<f32>>;
@group(0) @binding(%d) var<storage, read_write> out_buf: array<vec4<f32>>;
`, MaxUniforms/4, bindingParams, bindingSelf, bindingOut)

	inputs := uniqueInputs(layout.Inputs)
	for i, name := range inputs {
		fmt.Fprintf(&b, "@group(0) @binding(%d) var<storage, read> %s_buf: array<vec4<f32>>;\n",
			bindingInputs+i, name)
	}

	b.WriteString(`
fn wrap_index(x: i32, y: i32) -> u32 {
    let w = i32(params.width);
    let h = i32(params.height);
    let wx = ((x % w) + w) % w;
    let wy = ((y % h) + h) % h;
    return u32(wy * w + wx);
}

fn nearest(uv: vec2<f32>) -> vec2<i32> {
    return vec2<i32>(floor(uv * vec2<f32>(f32(params.width), f32(params.height))));
}

fn load_self(x: i32, y: i32) -> vec4<f32> {
    return self_buf[wrap_index(x, y)];
}
`)
	for _, name := range inputs {
		fmt.Fprintf(&b, `
fn load_%[1]s(x: i32, y: i32) -> vec4<f32> {
    return %[1]s_buf[wrap_index(x, y)];
}

fn sample_%[1]s(uv: vec2<f32>) -> vec4<f32> {
    let p = nearest(uv);
    return load_%[1]s(p.x, p.y);
}
`, name)
	}
	for i, name := range layout.Uniforms {
		fmt.Fprintf(&b, "\nfn uniform_%s() -> f32 {\n    return params.u[%d].%s;\n}\n",
			name, i/4, components[i%4])
	}
	return b.String()
}

// entryPoint is appended after the program source.
const entryPoint = `
@compute @workgroup_size(8, 8)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x >= params.width || id.y >= params.height) {
        return;
    }
    let resolution = vec2<f32>(f32(params.width), f32(params.height));
    let ctx = Context(
        vec2<i32>(i32(id.x), i32(id.y)),
        (vec2<f32>(f32(id.x), f32(id.y)) + vec2<f32>(0.5, 0.5)) / resolution,
        resolution,
        params.time,
        params.delta
    );
    out_buf[id.y * params.width + id.x] = compute(ctx);
}
`

// Source returns the complete WGSL module for a program body and layout.
func Source(body string, layout gpgpu.ProgramLayout) string {
	return Prelude(layout) + "\n" + body + "\n" + entryPoint
}

// spirvCache holds compiled modules by source hash. Entries are shared
// and must not be modified.
var spirvCache = cache.New[[sha256.Size]byte, []uint32](64)

// compileWGSL compiles WGSL source to SPIR-V words.
func compileWGSL(source string) ([]uint32, error) {
	return spirvCache.GetOrCreate(sha256.Sum256([]byte(source)), func() ([]uint32, error) {
		spirvBytes, err := naga.Compile(source)
		if err != nil {
			return nil, err
		}

		// SPIR-V is little-endian 32-bit words.
		words := make([]uint32, len(spirvBytes)/4)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
		}
		return words, nil
	})
}

// packParams encodes the Params uniform block for a pass.
func packParams(pass *gpgpu.Pass, uniforms []string) []byte {
	out := make([]byte, paramsSize)
	binary.LittleEndian.PutUint32(out[0:], uint32(pass.Width))  //nolint:gosec // grid sizes fit uint32
	binary.LittleEndian.PutUint32(out[4:], uint32(pass.Height)) //nolint:gosec // grid sizes fit uint32
	binary.LittleEndian.PutUint32(out[8:], math.Float32bits(pass.Time))
	binary.LittleEndian.PutUint32(out[12:], math.Float32bits(pass.Delta))
	for i, name := range uniforms {
		binary.LittleEndian.PutUint32(out[16+i*4:], math.Float32bits(pass.Uniforms[name]))
	}
	return out
}

// packPixels encodes float32 RGBA pixels as little-endian bytes.
func packPixels(pix []float32) []byte {
	out := make([]byte, len(pix)*4)
	for i, v := range pix {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// unpackPixels decodes little-endian bytes into float32 pixels.
func unpackPixels(data []byte, pix []float32) {
	for i := range pix {
		pix[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
}
