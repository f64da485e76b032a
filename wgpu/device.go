// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gpgpu"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// workgroupSize matches @workgroup_size(8, 8) in the generated entry point.
const workgroupSize = 8

// bytesPerPixel is the size of one vec4<f32>.
const bytesPerPixel = 16

// ErrNoAdapter is returned by New when the backend exposes no adapter.
var ErrNoAdapter = errors.New("wgpu: no GPU adapters found")

// Device implements gpgpu.Device with gogpu/wgpu HAL compute passes.
//
// Targets are storage buffers of array<vec4<f32>>, so 32-bit float targets
// are always available. Every operation submits its commands and waits
// for the queue to drain before returning.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	name     string
	limits   gputypes.Limits

	// external is true when using a shared device (don't destroy on Close).
	external bool

	nextID   uint64
	targets  map[gpgpu.TargetID]*target
	programs map[gpgpu.ProgramID]*program
	closed   bool
}

type target struct {
	buf    hal.Buffer
	width  int
	height int
	size   uint64
}

type program struct {
	label      string
	inputs     []string
	uniforms   []string
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
	params     hal.Buffer
}

var _ gpgpu.Device = (*Device)(nil)

// Option configures New.
type Option func(*options)

type options struct {
	backend gputypes.Backend
}

// WithBackend selects the HAL backend New opens. The backend package must
// be imported for its registration side effect. Vulkan is the default.
func WithBackend(b gputypes.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// New opens a device on the first discrete or integrated GPU of the
// selected backend, falling back to the first adapter.
func New(opts ...Option) (*Device, error) {
	o := options{backend: gputypes.BackendVulkan}
	for _, opt := range opts {
		opt(&o)
	}

	backend, ok := hal.GetBackend(o.backend)
	if !ok {
		return nil, fmt.Errorf("wgpu: backend %v not available", o.backend)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	limits := requestLimits(selected.Capabilities.Limits)
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	d := newDevice(openDev.Device, openDev.Queue, selected.Info.Name, limits)
	d.instance = instance
	gpgpu.Logger().Info("wgpu: device opened",
		"adapter", selected.Info.Name, "type", selected.Info.DeviceType.String())
	return d, nil
}

// NewFromHAL wraps an existing HAL device and queue. Close does not
// destroy them.
func NewFromHAL(device hal.Device, queue hal.Queue) (*Device, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("wgpu: %w", gpgpu.ErrNilDevice)
	}
	d := newDevice(device, queue, "wgpu", gputypes.DefaultLimits())
	d.external = true
	return d, nil
}

// NewFromProvider shares the GPU device of a host application. The
// provider must either implement HalDevice() any and HalQueue() any, or
// return HAL types from Device and Queue.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	if provider == nil {
		return nil, fmt.Errorf("wgpu: %w", gpgpu.ErrNilDevice)
	}

	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	var dev, queue any
	if hp, ok := provider.(halProvider); ok {
		dev, queue = hp.HalDevice(), hp.HalQueue()
	} else {
		dev, queue = provider.Device(), provider.Queue()
	}

	device, ok := dev.(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider device is %T, not hal.Device", dev)
	}
	q, ok := queue.(hal.Queue)
	if !ok || q == nil {
		return nil, fmt.Errorf("wgpu: provider queue is %T, not hal.Queue", queue)
	}

	d, err := NewFromHAL(device, q)
	if err != nil {
		return nil, err
	}
	if info := provider.AdapterInfo(); info.Name != "" {
		d.name = "wgpu (" + info.Name + ")"
	}
	gpgpu.Logger().Info("wgpu: using shared device", "name", d.name)
	return d, nil
}

// requestLimits returns the limits a device is opened with and checked
// against. Adapters that report no limits get the WebGPU defaults.
func requestLimits(adapter gputypes.Limits) gputypes.Limits {
	if adapter.MaxStorageBufferBindingSize == 0 {
		return gputypes.DefaultLimits()
	}
	return adapter
}

func newDevice(device hal.Device, queue hal.Queue, adapter string, limits gputypes.Limits) *Device {
	name := "wgpu"
	if adapter != "" && adapter != name {
		name = "wgpu (" + adapter + ")"
	}
	return &Device{
		device:   device,
		queue:    queue,
		name:     name,
		limits:   limits,
		nextID:   1,
		targets:  make(map[gpgpu.TargetID]*target),
		programs: make(map[gpgpu.ProgramID]*program),
	}
}

func (d *Device) newID() uint64 {
	id := d.nextID
	d.nextID++
	return id
}

// Name returns "wgpu", with the adapter name when known.
func (d *Device) Name() string { return d.name }

// Capabilities reports float targets and the dispatch size limit.
func (d *Device) Capabilities() gpgpu.Capabilities {
	return gpgpu.Capabilities{
		FloatTargets:  true,
		MaxTargetSize: int(d.limits.MaxComputeWorkgroupsPerDimension) * workgroupSize,
	}
}

// === Targets ===

// CreateTarget allocates a storage buffer for a width×height grid.
func (d *Device) CreateTarget(width, height int, format gpgpu.TextureFormat) (gpgpu.TargetID, error) {
	if width <= 0 || height <= 0 {
		return gpgpu.InvalidID, fmt.Errorf("wgpu: invalid target size %dx%d", width, height)
	}
	if format != gpgpu.TextureFormatRGBA32Float {
		return gpgpu.InvalidID, fmt.Errorf("wgpu: unsupported target format %s", format)
	}
	size := uint64(width) * uint64(height) * bytesPerPixel
	if limit := d.limits.MaxStorageBufferBindingSize; limit > 0 && size > limit {
		return gpgpu.InvalidID, fmt.Errorf("wgpu: target %dx%d needs %d bytes, binding limit is %d",
			width, height, size, limit)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpgpu.InvalidID, fmt.Errorf("wgpu: device closed")
	}

	id := gpgpu.TargetID(d.newID())
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("gpgpu_target_%d", id),
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return gpgpu.InvalidID, fmt.Errorf("wgpu: create target buffer: %w", err)
	}
	d.targets[id] = &target{buf: buf, width: width, height: height, size: size}
	return id, nil
}

// DestroyTarget releases a target buffer.
func (d *Device) DestroyTarget(id gpgpu.TargetID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.targets[id]; ok {
		d.device.DestroyBuffer(t.buf)
		delete(d.targets, id)
	}
}

func (d *Device) target(id gpgpu.TargetID) (*target, error) {
	t, ok := d.targets[id]
	if !ok {
		return nil, fmt.Errorf("wgpu: %w: %d", gpgpu.ErrUnknownTarget, id)
	}
	return t, nil
}

// WriteTarget uploads img through the queue.
func (d *Device) WriteTarget(id gpgpu.TargetID, img *gpgpu.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.target(id)
	if err != nil {
		return err
	}
	if img == nil || !img.SameSize(t.width, t.height) {
		return fmt.Errorf("wgpu: %w", gpgpu.ErrDimensionMismatch)
	}
	if err := d.queue.WriteBuffer(t.buf, 0, packPixels(img.Pix)); err != nil {
		return fmt.Errorf("wgpu: write target: %w", err)
	}
	return nil
}

// ClearTarget zeroes a target buffer on the device.
func (d *Device) ClearTarget(id gpgpu.TargetID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.target(id)
	if err != nil {
		return err
	}
	return d.submit("gpgpu_clear", func(enc hal.CommandEncoder) {
		enc.ClearBuffer(t.buf, 0, t.size)
	})
}

// ReadTarget copies a target into a mappable staging buffer and reads it
// back. It stalls until the queue is idle.
func (d *Device) ReadTarget(id gpgpu.TargetID) (*gpgpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.target(id)
	if err != nil {
		return nil, err
	}

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpgpu_readback",
		Size:  t.size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.submit("gpgpu_readback", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(t.buf, staging, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: t.size},
		})
	})
	if err != nil {
		return nil, err
	}

	mapping, err := d.device.MapBuffer(staging, 0, t.size)
	if err != nil {
		return nil, fmt.Errorf("wgpu: map staging buffer: %w", err)
	}
	data := unsafe.Slice((*byte)(mapping.Ptr), t.size) //nolint:gosec // mapping covers t.size bytes
	img := gpgpu.NewImage(t.width, t.height)
	unpackPixels(data, img.Pix)
	if err := d.device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("wgpu: unmap staging buffer: %w", err)
	}
	return img, nil
}

// === Programs ===

// CompileProgram compiles a Program (or WGSL source string) for layout.
// WGSL errors and pipeline creation failures wrap gpgpu.ErrProgram.
func (d *Device) CompileProgram(p gpgpu.Program, layout gpgpu.ProgramLayout) (gpgpu.ProgramID, error) {
	src, ok := programSource(p)
	if !ok {
		return gpgpu.InvalidID, fmt.Errorf("%w: wgpu device cannot run %T (label %q)",
			gpgpu.ErrProgram, p, layout.Label)
	}
	return d.compile(src, layout)
}

// CompileCopy compiles the pass-through program.
func (d *Device) CompileCopy() (gpgpu.ProgramID, error) {
	return d.compile(copySource, gpgpu.ProgramLayout{Label: "passthrough"})
}

func (d *Device) compile(body string, layout gpgpu.ProgramLayout) (gpgpu.ProgramID, error) {
	if err := checkLayout(layout); err != nil {
		return gpgpu.InvalidID, fmt.Errorf("%w: %s: %w", gpgpu.ErrProgram, layout.Label, err)
	}
	spirv, err := compileWGSL(Source(body, layout))
	if err != nil {
		return gpgpu.InvalidID, fmt.Errorf("%w: %s: compile WGSL: %w", gpgpu.ErrProgram, layout.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpgpu.InvalidID, fmt.Errorf("wgpu: device closed")
	}

	prog := &program{
		label:    layout.Label,
		inputs:   uniqueInputs(layout.Inputs),
		uniforms: append([]string(nil), layout.Uniforms...),
	}
	if err := d.createPipeline(prog, spirv); err != nil {
		d.destroyProgram(prog)
		return gpgpu.InvalidID, fmt.Errorf("%w: %s: %w", gpgpu.ErrProgram, layout.Label, err)
	}

	id := gpgpu.ProgramID(d.newID())
	d.programs[id] = prog
	stats := spirvCache.Stats()
	gpgpu.Logger().Debug("wgpu: program compiled",
		"label", layout.Label, "inputs", len(prog.inputs), "spirvWords", len(spirv),
		"cacheHitRate", stats.HitRate(), "cacheEvictions", stats.Evictions)
	return id, nil
}

func (d *Device) createPipeline(prog *program, spirv []uint32) error {
	var err error
	prog.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  prog.label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}

	entries := []gputypes.BindGroupLayoutEntry{
		{Binding: bindingParams, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
		{Binding: bindingSelf, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
		{Binding: bindingOut, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
	}
	for i := range prog.inputs {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(bindingInputs + i), //nolint:gosec // input count is small
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		})
	}
	prog.bindLayout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   prog.label + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}

	prog.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: prog.label + "_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{prog.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}

	prog.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: prog.label + "_pipeline", Layout: prog.pipeLayout,
		Compute: hal.ComputeState{Module: prog.module, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}

	prog.params, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: prog.label + "_params",
		Size:  paramsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create params buffer: %w", err)
	}
	return nil
}

// DestroyProgram releases a program's pipeline objects.
func (d *Device) DestroyProgram(id gpgpu.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prog, ok := d.programs[id]; ok {
		d.destroyProgram(prog)
		delete(d.programs, id)
	}
}

func (d *Device) destroyProgram(prog *program) {
	if prog.params != nil {
		d.device.DestroyBuffer(prog.params)
	}
	if prog.pipeline != nil {
		d.device.DestroyComputePipeline(prog.pipeline)
	}
	if prog.pipeLayout != nil {
		d.device.DestroyPipelineLayout(prog.pipeLayout)
	}
	if prog.bindLayout != nil {
		d.device.DestroyBindGroupLayout(prog.bindLayout)
	}
	if prog.module != nil {
		d.device.DestroyShaderModule(prog.module)
	}
}

// === Execution ===

// Dispatch runs one compute pass over the pass grid.
func (d *Device) Dispatch(id gpgpu.ProgramID, pass *gpgpu.Pass) error {
	if pass.Aliased() {
		return gpgpu.ErrAliasedTarget
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	prog, ok := d.programs[id]
	if !ok {
		return fmt.Errorf("wgpu: %w: %d", gpgpu.ErrUnknownProgram, id)
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
		return fmt.Errorf("wgpu: %w: output %dx%d, self %dx%d", gpgpu.ErrDimensionMismatch,
			out.width, out.height, self.width, self.height)
	}

	entries := []gputypes.BindGroupEntry{
		{Binding: bindingParams, Resource: gputypes.BufferBinding{Buffer: prog.params.NativeHandle(), Offset: 0, Size: paramsSize}},
		{Binding: bindingSelf, Resource: gputypes.BufferBinding{Buffer: self.buf.NativeHandle(), Offset: 0, Size: self.size}},
		{Binding: bindingOut, Resource: gputypes.BufferBinding{Buffer: out.buf.NativeHandle(), Offset: 0, Size: out.size}},
	}
	for i, name := range prog.inputs {
		in, err := d.input(pass, name)
		if err != nil {
			return err
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(bindingInputs + i), //nolint:gosec // input count is small
			Resource: gputypes.BufferBinding{Buffer: in.buf.NativeHandle(), Offset: 0, Size: in.size},
		})
	}

	if err := d.queue.WriteBuffer(prog.params, 0, packParams(pass, prog.uniforms)); err != nil {
		return fmt.Errorf("wgpu: write params: %w", err)
	}
	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   prog.label + "_bind_group",
		Layout:  prog.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create bind group: %w", err)
	}
	defer d.device.DestroyBindGroup(bg)

	w, h := uint32(out.width), uint32(out.height) //nolint:gosec // dimensions always fit uint32
	return d.submit(prog.label, func(enc hal.CommandEncoder) {
		computePass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: prog.label + "_pass"})
		computePass.SetPipeline(prog.pipeline)
		computePass.SetBindGroup(0, bg, nil)
		computePass.Dispatch((w+workgroupSize-1)/workgroupSize, (h+workgroupSize-1)/workgroupSize, 1)
		computePass.End()
	})
}

// input returns the target bound to the first pass input called name.
func (d *Device) input(pass *gpgpu.Pass, name string) (*target, error) {
	for _, b := range pass.Inputs {
		if b.Name == name {
			t, err := d.target(b.Target)
			if err != nil {
				return nil, fmt.Errorf("wgpu: input %q: %w", name, err)
			}
			return t, nil
		}
	}
	return nil, fmt.Errorf("wgpu: input %q not bound", name)
}

// submit records commands into a fresh encoder, submits them and waits
// for the device to finish.
func (d *Device) submit(label string, record func(enc hal.CommandEncoder)) error {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label + "_encoder"})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	record(encoder)
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	if _, err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}); err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	if err := d.device.WaitIdle(); err != nil {
		return fmt.Errorf("wgpu: wait for GPU: %w", err)
	}
	return nil
}

// Close releases all targets and programs. The HAL device and instance
// are destroyed only when New created them.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true

	for id, prog := range d.programs {
		d.destroyProgram(prog)
		delete(d.programs, id)
	}
	for id, t := range d.targets {
		d.device.DestroyBuffer(t.buf)
		delete(d.targets, id)
	}
	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
}
