// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpgpu"
	"github.com/gogpu/gpgpu/internal/parallel"
)

// Device implements gpgpu.Device on the CPU. Each pass evaluates its
// Kernel once per pixel, with rows split into bands that run in parallel
// on a worker pool.
//
// Thread Safety: Device is safe for concurrent use. Resource maps are
// protected by a mutex; a pass runs without holding it.
type Device struct {
	mu sync.RWMutex

	pool       *parallel.WorkerPool
	formats    map[gpgpu.TextureFormat]bool
	bandHeight int
	maxSize    int

	// Start ID generation at 1 (0 is invalid).
	nextID atomic.Uint64

	targets  map[gpgpu.TargetID]*target
	programs map[gpgpu.ProgramID]*program
	closed   bool
}

type target struct {
	width  int
	height int
	format gpgpu.TextureFormat
	pix    []float32
}

func (t *target) sampler() Sampler {
	return Sampler{width: t.width, height: t.height, pix: t.pix}
}

type program struct {
	kernel Kernel
	label  string
	copy   bool
}

var _ gpgpu.Device = (*Device)(nil)

// Option configures a Device.
type Option func(*Device)

// WithWorkers sets the number of pass workers. 0 uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(d *Device) {
		d.pool.Close()
		d.pool = parallel.NewWorkerPool(n)
	}
}

// WithFormats restricts the target formats the device advertises.
// TextureFormatRGBA8Unorm is always available. Restricting to lower
// precision formats simulates devices without float render targets.
func WithFormats(formats ...gpgpu.TextureFormat) Option {
	return func(d *Device) {
		d.formats = map[gpgpu.TextureFormat]bool{gpgpu.TextureFormatRGBA8Unorm: true}
		for _, f := range formats {
			d.formats[f] = true
		}
	}
}

// WithBandHeight sets the number of rows per parallel work item.
// 0 splits each pass into one band per worker.
func WithBandHeight(rows int) Option {
	return func(d *Device) {
		d.bandHeight = rows
	}
}

// WithMaxTargetSize limits target width and height. 0 means unlimited.
func WithMaxTargetSize(n int) Option {
	return func(d *Device) {
		d.maxSize = n
	}
}

// New creates a software device. Call Close to stop its workers.
func New(opts ...Option) *Device {
	d := &Device{
		pool: parallel.NewWorkerPool(0),
		formats: map[gpgpu.TextureFormat]bool{
			gpgpu.TextureFormatRGBA32Float: true,
			gpgpu.TextureFormatRGBA16Float: true,
			gpgpu.TextureFormatRGBA8Unorm:  true,
		},
		targets:  make(map[gpgpu.TargetID]*target),
		programs: make(map[gpgpu.ProgramID]*program),
	}
	d.nextID.Store(1)
	for _, opt := range opts {
		opt(d)
	}
	gpgpu.Logger().Debug("software: device created",
		"workers", d.pool.Workers(), "bandHeight", d.bandHeight)
	return d
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// Name returns "software".
func (d *Device) Name() string { return "software" }

// Capabilities reports the configured formats.
func (d *Device) Capabilities() gpgpu.Capabilities {
	return gpgpu.Capabilities{
		FloatTargets:     d.formats[gpgpu.TextureFormatRGBA32Float],
		HalfFloatTargets: d.formats[gpgpu.TextureFormatRGBA16Float],
		MaxTargetSize:    d.maxSize,
	}
}

// Workers returns the number of pass workers.
func (d *Device) Workers() int {
	return d.pool.Workers()
}

// === Targets ===

// CreateTarget allocates a zero-filled target.
func (d *Device) CreateTarget(width, height int, format gpgpu.TextureFormat) (gpgpu.TargetID, error) {
	if width <= 0 || height <= 0 {
		return gpgpu.InvalidID, fmt.Errorf("software: invalid target size %dx%d", width, height)
	}
	if d.maxSize > 0 && (width > d.maxSize || height > d.maxSize) {
		return gpgpu.InvalidID, fmt.Errorf("software: target %dx%d exceeds limit %d", width, height, d.maxSize)
	}
	if !d.formats[format] {
		return gpgpu.InvalidID, fmt.Errorf("software: unsupported target format %s", format)
	}

	t := &target{
		width:  width,
		height: height,
		format: format,
		pix:    make([]float32, width*height*4),
	}
	id := gpgpu.TargetID(d.newID())

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpgpu.InvalidID, fmt.Errorf("software: device closed")
	}
	d.targets[id] = t
	return id, nil
}

// DestroyTarget releases a target.
func (d *Device) DestroyTarget(id gpgpu.TargetID) {
	d.mu.Lock()
	delete(d.targets, id)
	d.mu.Unlock()
}

func (d *Device) target(id gpgpu.TargetID) (*target, error) {
	d.mu.RLock()
	t, ok := d.targets[id]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("software: %w: %d", gpgpu.ErrUnknownTarget, id)
	}
	return t, nil
}

// WriteTarget uploads img, rounding values to the target format.
func (d *Device) WriteTarget(id gpgpu.TargetID, img *gpgpu.Image) error {
	t, err := d.target(id)
	if err != nil {
		return err
	}
	if img == nil || !img.SameSize(t.width, t.height) {
		return fmt.Errorf("software: %w", gpgpu.ErrDimensionMismatch)
	}
	storeRow(t.pix, img.Pix, quantizer(t.format))
	return nil
}

// ClearTarget zeroes a target.
func (d *Device) ClearTarget(id gpgpu.TargetID) error {
	t, err := d.target(id)
	if err != nil {
		return err
	}
	clear(t.pix)
	return nil
}

// ReadTarget returns a copy of the target contents.
func (d *Device) ReadTarget(id gpgpu.TargetID) (*gpgpu.Image, error) {
	t, err := d.target(id)
	if err != nil {
		return nil, err
	}
	img := gpgpu.NewImage(t.width, t.height)
	copy(img.Pix, t.pix)
	return img, nil
}

// === Programs ===

// CompileProgram accepts a Kernel (or a plain func with the same
// signature). Any other program type is a program error.
func (d *Device) CompileProgram(p gpgpu.Program, layout gpgpu.ProgramLayout) (gpgpu.ProgramID, error) {
	var k Kernel
	switch fn := p.(type) {
	case Kernel:
		k = fn
	case func(*Fragment) [4]float32:
		k = fn
	}
	if k == nil {
		return gpgpu.InvalidID, fmt.Errorf("%w: software device cannot run %T (label %q)",
			gpgpu.ErrProgram, p, layout.Label)
	}
	return d.addProgram(&program{kernel: k, label: layout.Label}), nil
}

// CompileCopy returns the pass-through program.
func (d *Device) CompileCopy() (gpgpu.ProgramID, error) {
	return d.addProgram(&program{label: "passthrough", copy: true}), nil
}

func (d *Device) addProgram(p *program) gpgpu.ProgramID {
	id := gpgpu.ProgramID(d.newID())
	d.mu.Lock()
	d.programs[id] = p
	d.mu.Unlock()
	return id
}

// DestroyProgram releases a program.
func (d *Device) DestroyProgram(id gpgpu.ProgramID) {
	d.mu.Lock()
	delete(d.programs, id)
	d.mu.Unlock()
}

// === Execution ===

// Dispatch runs the program over every pixel of the pass output.
// A panicking kernel is reported as an error; the output target then
// holds partially written contents.
func (d *Device) Dispatch(id gpgpu.ProgramID, pass *gpgpu.Pass) error {
	if pass.Aliased() {
		return gpgpu.ErrAliasedTarget
	}

	d.mu.RLock()
	prog, ok := d.programs[id]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("software: %w: %d", gpgpu.ErrUnknownProgram, id)
	}

	out, err := d.target(pass.Output)
	if err != nil {
		return err
	}
	self, err := d.target(pass.Self)
	if err != nil {
		return err
	}
	if out.width != self.width || out.height != self.height {
		return fmt.Errorf("software: %w: output %dx%d, self %dx%d", gpgpu.ErrDimensionMismatch,
			out.width, out.height, self.width, self.height)
	}

	if prog.copy {
		storeRow(out.pix, self.pix, quantizer(out.format))
		return nil
	}

	names := make([]string, len(pass.Inputs))
	inputs := make([]Sampler, len(pass.Inputs))
	for i, b := range pass.Inputs {
		t, err := d.target(b.Target)
		if err != nil {
			return fmt.Errorf("software: input %q: %w", b.Name, err)
		}
		names[i] = b.Name
		inputs[i] = t.sampler()
	}

	run := &passRun{
		kernel:   prog.kernel,
		out:      out,
		quantize: quantizer(out.format),
		base: Fragment{
			Time:     pass.Time,
			Delta:    pass.Delta,
			self:     self.sampler(),
			names:    names,
			inputs:   inputs,
			uniforms: pass.Uniforms,
		},
	}
	d.pool.ExecuteRows(out.height, d.bandHeight, run.rows)

	if p := run.panicked.Load(); p != nil {
		return fmt.Errorf("software: kernel %q panicked: %v", prog.label, *p)
	}
	gpgpu.Logger().Debug("software: pass dispatched",
		"program", prog.label, "width", out.width, "height", out.height)
	return nil
}

// passRun holds the state shared by the bands of one pass.
type passRun struct {
	kernel   Kernel
	out      *target
	quantize func(float32) float32
	base     Fragment
	panicked atomic.Pointer[any]
}

// rows evaluates the kernel for rows [y0, y1).
func (r *passRun) rows(y0, y1 int) {
	defer func() {
		if p := recover(); p != nil {
			r.panicked.CompareAndSwap(nil, &p)
		}
	}()

	w, h := r.out.width, r.out.height
	f := r.base
	row := make([]float32, w*4)
	for y := y0; y < y1; y++ {
		f.Y = y
		f.V = (float32(y) + 0.5) / float32(h)
		for x := 0; x < w; x++ {
			f.X = x
			f.U = (float32(x) + 0.5) / float32(w)
			v := r.kernel(&f)
			copy(row[x*4:x*4+4], v[:])
		}
		storeRow(r.out.pix[y*w*4:(y+1)*w*4], row, r.quantize)
	}
}

// Close stops the worker pool and releases all targets and programs.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.pool.Close()
	d.targets = make(map[gpgpu.TargetID]*target)
	d.programs = make(map[gpgpu.ProgramID]*program)
}
