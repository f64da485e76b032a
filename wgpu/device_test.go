package wgpu

import (
	"errors"
	"strings"
	"testing"
	"unsafe"

	"github.com/gogpu/gpgpu"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// newNoopDevice opens a Device on the noop HAL backend. Noop buffers keep
// their contents for WriteBuffer and MapBuffer, but copies and dispatches
// do nothing.
func newNoopDevice(t *testing.T) *Device {
	t.Helper()
	d, err := New(WithBackend(gputypes.BackendEmpty))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func mustTarget(t *testing.T, d *Device, w, h int) gpgpu.TargetID {
	t.Helper()
	id, err := d.CreateTarget(w, h, gpgpu.TextureFormatRGBA32Float)
	if err != nil {
		t.Fatalf("CreateTarget(%d, %d) error = %v", w, h, err)
	}
	return id
}

// addProgram registers pipeline objects directly, bypassing WGSL
// compilation.
func addProgram(t *testing.T, d *Device, inputs ...string) gpgpu.ProgramID {
	t.Helper()
	prog := &program{label: "test", inputs: uniqueInputs(inputs)}
	params, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "test_params", Size: paramsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatal(err)
	}
	prog.params = params
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpgpu.ProgramID(d.newID())
	d.programs[id] = prog
	return id
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_NoopBackend(t *testing.T) {
	d := newNoopDevice(t)
	if d.Name() != "wgpu (Noop Adapter)" {
		t.Errorf("Name() = %q", d.Name())
	}
	caps := d.Capabilities()
	if !caps.FloatTargets || caps.HalfFloatTargets {
		t.Errorf("Capabilities() = %+v, want float targets only", caps)
	}
	if want := 65535 * workgroupSize; caps.MaxTargetSize != want {
		t.Errorf("MaxTargetSize = %d, want %d", caps.MaxTargetSize, want)
	}
}

func TestRequestLimits(t *testing.T) {
	if got, want := requestLimits(gputypes.Limits{}), gputypes.DefaultLimits(); got != want {
		t.Errorf("requestLimits(zero) = %+v, want defaults", got)
	}
	adapter := gputypes.DefaultLimits()
	adapter.MaxStorageBufferBindingSize = 1 << 20
	adapter.MaxComputeWorkgroupsPerDimension = 1024
	if got := requestLimits(adapter); got != adapter {
		t.Errorf("requestLimits(adapter) = %+v, want adapter limits", got)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New(WithBackend(gputypes.Backend(200))); err == nil {
		t.Error("New() with an unregistered backend should fail")
	}
}

func TestNewFromHAL(t *testing.T) {
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer instance.Destroy()
	open, err := instance.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewFromHAL(nil, open.Queue); !errors.Is(err, gpgpu.ErrNilDevice) {
		t.Errorf("nil device error = %v, want ErrNilDevice", err)
	}
	d, err := NewFromHAL(open.Device, open.Queue)
	if err != nil {
		t.Fatal(err)
	}
	if !d.external || d.Name() != "wgpu" {
		t.Errorf("external = %v, name = %q", d.external, d.Name())
	}
	d.Close()
}

type testProvider struct {
	dev, queue any
	name       string
}

func (p *testProvider) Device() gpucontext.Device             { return p.dev }
func (p *testProvider) Queue() gpucontext.Queue               { return p.queue }
func (p *testProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatUndefined }
func (p *testProvider) Adapter() gpucontext.Adapter           { return nil }
func (p *testProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: p.name}
}

type halTestProvider struct {
	testProvider
	halDev, halQueue any
}

func (p *halTestProvider) HalDevice() any { return p.halDev }
func (p *halTestProvider) HalQueue() any  { return p.halQueue }

func TestNewFromProvider(t *testing.T) {
	dev, queue := &noop.Device{}, &noop.Queue{}

	tests := []struct {
		name     string
		provider gpucontext.DeviceProvider
		wantName string
		wantErr  bool
	}{
		{"hal types", &testProvider{dev: dev, queue: queue, name: "GPU"}, "wgpu (GPU)", false},
		{"hal accessors", &halTestProvider{testProvider: testProvider{dev: "x", queue: "y"}, halDev: dev, halQueue: queue}, "wgpu", false},
		{"foreign device", &testProvider{dev: "x", queue: queue}, "", true},
		{"foreign queue", &testProvider{dev: dev, queue: 42}, "", true},
		{"nil", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewFromProvider(tt.provider)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFromProvider() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer d.Close()
			if d.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", d.Name(), tt.wantName)
			}
			if !d.external {
				t.Error("shared device should be marked external")
			}
		})
	}
}

// =============================================================================
// Targets
// =============================================================================

func TestCreateTarget_Errors(t *testing.T) {
	d := newNoopDevice(t)
	tests := []struct {
		name   string
		w, h   int
		format gpgpu.TextureFormat
	}{
		{"zero width", 0, 4, gpgpu.TextureFormatRGBA32Float},
		{"negative height", 4, -1, gpgpu.TextureFormatRGBA32Float},
		{"half float", 4, 4, gpgpu.TextureFormatRGBA16Float},
		{"unorm", 4, 4, gpgpu.TextureFormatRGBA8Unorm},
		{"over binding limit", 4096, 4096, gpgpu.TextureFormatRGBA32Float},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if id, err := d.CreateTarget(tt.w, tt.h, tt.format); err == nil {
				t.Errorf("CreateTarget() = %d, want error", id)
			}
		})
	}
}

func TestWriteTarget(t *testing.T) {
	d := newNoopDevice(t)
	id := mustTarget(t, d, 2, 2)

	img := gpgpu.NewImageFunc(2, 2, func(i int) [4]float32 {
		return [4]float32{float32(i), -float32(i), 0.5, 1}
	})
	if err := d.WriteTarget(id, img); err != nil {
		t.Fatalf("WriteTarget() error = %v", err)
	}

	// Noop buffers keep written bytes; read them back through the mapping.
	tgt := d.targets[id]
	m, err := d.device.MapBuffer(tgt.buf, 0, tgt.size)
	if err != nil {
		t.Fatal(err)
	}
	got := gpgpu.NewImage(2, 2)
	unpackPixels(unsafe.Slice((*byte)(m.Ptr), tgt.size), got.Pix)
	if !got.Equal(img) {
		t.Errorf("buffer contents = %v, want %v", got.Pix, img.Pix)
	}

	if err := d.WriteTarget(id, gpgpu.NewImage(3, 2)); !errors.Is(err, gpgpu.ErrDimensionMismatch) {
		t.Errorf("wrong size error = %v, want ErrDimensionMismatch", err)
	}
	if err := d.WriteTarget(id, nil); !errors.Is(err, gpgpu.ErrDimensionMismatch) {
		t.Errorf("nil image error = %v, want ErrDimensionMismatch", err)
	}
	if err := d.WriteTarget(999, img); !errors.Is(err, gpgpu.ErrUnknownTarget) {
		t.Errorf("unknown target error = %v, want ErrUnknownTarget", err)
	}
}

func TestReadTarget(t *testing.T) {
	d := newNoopDevice(t)
	id := mustTarget(t, d, 3, 2)

	img, err := d.ReadTarget(id)
	if err != nil {
		t.Fatalf("ReadTarget() error = %v", err)
	}
	if img.Width != 3 || img.Height != 2 || len(img.Pix) != 24 {
		t.Errorf("ReadTarget() = %dx%d with %d values", img.Width, img.Height, len(img.Pix))
	}
	if err := d.ClearTarget(id); err != nil {
		t.Errorf("ClearTarget() error = %v", err)
	}
	if _, err := d.ReadTarget(999); !errors.Is(err, gpgpu.ErrUnknownTarget) {
		t.Errorf("unknown target error = %v, want ErrUnknownTarget", err)
	}
	if err := d.ClearTarget(999); !errors.Is(err, gpgpu.ErrUnknownTarget) {
		t.Errorf("unknown clear error = %v, want ErrUnknownTarget", err)
	}

	d.DestroyTarget(id)
	if _, err := d.ReadTarget(id); !errors.Is(err, gpgpu.ErrUnknownTarget) {
		t.Errorf("destroyed target error = %v, want ErrUnknownTarget", err)
	}
}

// =============================================================================
// Programs
// =============================================================================

func TestCompileProgram_Errors(t *testing.T) {
	d := newNoopDevice(t)
	tests := []struct {
		name   string
		p      gpgpu.Program
		layout gpgpu.ProgramLayout
	}{
		{"wrong type", func() {}, gpgpu.ProgramLayout{Label: "f"}},
		{"nil program", (*Program)(nil), gpgpu.ProgramLayout{Label: "n"}},
		{"bad input name", Program{Source: copySource}, gpgpu.ProgramLayout{Label: "b", Inputs: []string{"no way"}}},
		{"invalid wgsl", Program{Source: "fn compute( {"}, gpgpu.ProgramLayout{Label: "w"}},
		{"input named out", Program{Source: copySource}, gpgpu.ProgramLayout{Label: "o", Inputs: []string{"out"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CompileProgram(tt.p, tt.layout)
			if !errors.Is(err, gpgpu.ErrProgram) {
				t.Fatalf("CompileProgram() error = %v, want ErrProgram", err)
			}
			if !strings.Contains(err.Error(), tt.layout.Label) {
				t.Errorf("error %q should name program %q", err, tt.layout.Label)
			}
		})
	}
	if len(d.programs) != 0 {
		t.Errorf("%d programs registered after failures", len(d.programs))
	}
}

// mixSource reads every kind of binding the prelude generates.
const mixSource = `
fn compute(ctx: Context) -> vec4<f32> {
    let west = load_a(ctx.coord.x - 1, ctx.coord.y);
    let sampled = sample_b(ctx.uv);
    let prior = load_self(ctx.coord.x, ctx.coord.y);
    return prior + west * uniform_gain() + sampled * (ctx.delta + ctx.time * uniform_bias());
}
`

func TestCompileProgram_WGSL(t *testing.T) {
	d := newNoopDevice(t)

	copyID, err := d.CompileCopy()
	if err != nil {
		t.Fatalf("CompileCopy() error = %v", err)
	}
	if copyID == gpgpu.InvalidID {
		t.Fatal("CompileCopy() returned InvalidID")
	}

	layout := gpgpu.ProgramLayout{
		Label:    "mix",
		Inputs:   []string{"a", "b", "a"},
		Uniforms: []string{"bias", "gain"},
	}
	before := spirvCache.Stats()
	for i, p := range []gpgpu.Program{Program{Source: mixSource}, &Program{Source: mixSource}, mixSource} {
		id, err := d.CompileProgram(p, layout)
		if err != nil {
			t.Fatalf("CompileProgram(#%d) error = %v", i, err)
		}
		d.mu.Lock()
		prog := d.programs[id]
		d.mu.Unlock()
		if prog == nil || prog.pipeline == nil || prog.params == nil {
			t.Fatalf("program #%d has no pipeline objects", i)
		}
		if len(prog.inputs) != 2 || len(prog.uniforms) != 2 {
			t.Errorf("program #%d inputs %v uniforms %v", i, prog.inputs, prog.uniforms)
		}
	}
	// Same source three times: one compile, two cache hits.
	after := spirvCache.Stats()
	if hits := after.Hits - before.Hits; hits < 2 {
		t.Errorf("SPIR-V cache hits = %d, want at least 2", hits)
	}
}

func TestRenderer_OnNoopDevice(t *testing.T) {
	d := newNoopDevice(t)
	r, err := gpgpu.NewRenderer(d, &gpgpu.Config{Width: 4, Height: 4, RequireFloatTargets: true})
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	defer r.Close()

	a, err := r.AddVariable("a", Program{Source: copySource}, gpgpu.NewImage(4, 4))
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.AddVariable("b", Program{Source: copySource}, gpgpu.NewImage(4, 4))
	if err != nil {
		t.Fatal(err)
	}
	c, err := r.AddVariable("c", Program{Source: mixSource}, gpgpu.NewImage(4, 4))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SetDependencies(c, a, b); err != nil {
		t.Fatal(err)
	}
	c.SetUniform("gain", 0.5)
	c.SetUniform("bias", 1)

	if err := r.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.Compute(float32(i), 0.016); err != nil {
			t.Fatalf("Compute(%d) error = %v", i, err)
		}
	}
	if c.Live() != 1 {
		t.Errorf("c live slot = %d after 3 steps, want 1", c.Live())
	}
	if _, err := r.Current(c); err != nil {
		t.Errorf("Current() error = %v", err)
	}
}

func TestDispatch(t *testing.T) {
	d := newNoopDevice(t)
	self := mustTarget(t, d, 4, 4)
	out := mustTarget(t, d, 4, 4)
	dep := mustTarget(t, d, 4, 4)
	small := mustTarget(t, d, 2, 2)
	id := addProgram(t, d, "dep", "dep")

	pass := func() *gpgpu.Pass {
		return &gpgpu.Pass{
			Output: out, Self: self, Width: 4, Height: 4, Time: 1, Delta: 0.5,
			Inputs: []gpgpu.Binding{{Name: "dep", Target: dep}, {Name: "dep", Target: dep}},
		}
	}

	if err := d.Dispatch(id, pass()); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	tests := []struct {
		name   string
		id     gpgpu.ProgramID
		mutate func(p *gpgpu.Pass)
		want   error
	}{
		{"aliased self", id, func(p *gpgpu.Pass) { p.Self = p.Output }, gpgpu.ErrAliasedTarget},
		{"aliased input", id, func(p *gpgpu.Pass) { p.Inputs[1].Target = p.Output }, gpgpu.ErrAliasedTarget},
		{"unknown program", 999, func(*gpgpu.Pass) {}, gpgpu.ErrUnknownProgram},
		{"unknown output", id, func(p *gpgpu.Pass) { p.Output = 998 }, gpgpu.ErrUnknownTarget},
		{"unknown input", id, func(p *gpgpu.Pass) { p.Inputs = []gpgpu.Binding{{Name: "dep", Target: 997}} }, gpgpu.ErrUnknownTarget},
		{"size mismatch", id, func(p *gpgpu.Pass) { p.Self = small }, gpgpu.ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pass()
			tt.mutate(p)
			if err := d.Dispatch(tt.id, p); !errors.Is(err, tt.want) {
				t.Errorf("Dispatch() error = %v, want %v", err, tt.want)
			}
		})
	}

	p := pass()
	p.Inputs = nil
	if err := d.Dispatch(id, p); err == nil || !strings.Contains(err.Error(), "not bound") {
		t.Errorf("missing input error = %v", err)
	}
}

func TestDispatch_WritesParams(t *testing.T) {
	d := newNoopDevice(t)
	self := mustTarget(t, d, 4, 2)
	out := mustTarget(t, d, 4, 2)
	id := addProgram(t, d)
	d.programs[id].uniforms = []string{"k"}

	pass := &gpgpu.Pass{Output: out, Self: self, Width: 4, Height: 2, Time: 2, Delta: 0.1,
		Uniforms: map[string]float32{"k": 7}}
	if err := d.Dispatch(id, pass); err != nil {
		t.Fatal(err)
	}

	m, err := d.device.MapBuffer(d.programs[id].params, 0, paramsSize)
	if err != nil {
		t.Fatal(err)
	}
	got := unsafe.Slice((*byte)(m.Ptr), paramsSize)
	want := packParams(pass, []string{"k"})
	if string(got) != string(want) {
		t.Errorf("params buffer = %v, want %v", got, want)
	}
}

func TestDestroyProgram(t *testing.T) {
	d := newNoopDevice(t)
	id := addProgram(t, d)
	d.DestroyProgram(id)
	d.DestroyProgram(id)
	if len(d.programs) != 0 {
		t.Errorf("%d programs alive, want 0", len(d.programs))
	}
}

func TestClose(t *testing.T) {
	d, err := New(WithBackend(gputypes.BackendEmpty))
	if err != nil {
		t.Fatal(err)
	}
	mustTarget(t, d, 2, 2)
	addProgram(t, d)

	d.Close()
	d.Close()

	if len(d.targets) != 0 || len(d.programs) != 0 {
		t.Error("Close should release all resources")
	}
	if _, err := d.CreateTarget(2, 2, gpgpu.TextureFormatRGBA32Float); err == nil {
		t.Error("CreateTarget after Close should fail")
	}
}
