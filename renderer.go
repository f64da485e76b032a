// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpgpu

import (
	"errors"
	"fmt"
	"time"
)

// Config configures a Renderer.
type Config struct {
	// Width is the grid width in pixels.
	Width int

	// Height is the grid height in pixels.
	Height int

	// Observer receives step timings and reset events. May be nil.
	Observer StepObserver

	// RequireFloatTargets makes NewRenderer fail with ErrNoFloatTargets
	// instead of continuing with reduced precision when the device has no
	// 32-bit float targets.
	RequireFloatTargets bool
}

// Renderer runs iterative per-pixel programs on a device, keeping each
// variable's state in a pair of targets that alternate between being read
// and being written.
//
// Typical use:
//
//	r, err := gpgpu.NewRenderer(dev, &gpgpu.Config{Width: 32, Height: 32})
//	vel, _ := r.AddVariable("velocity", velocityKernel, vel0)
//	pos, _ := r.AddVariable("position", positionKernel, pos0)
//	_ = r.SetDependencies(vel, pos)
//	_ = r.SetDependencies(pos, vel)
//	if err := r.Init(); err != nil {
//	    return err
//	}
//	for frame := range frames {
//	    _ = r.Compute(frame.Time, frame.Delta)
//	}
//	img, _ := r.Current(pos)
//
// Variables are stepped in registration order, and each dependency is read
// from whichever of its targets is live when the dependent variable runs.
// A dependency registered earlier therefore contributes its value from the
// current step, one registered later its value from the previous step.
// Callers control coupling by choosing the registration order.
//
// A Renderer is not safe for concurrent use.
type Renderer struct {
	device Device
	width  int
	height int
	format TextureFormat

	variables []*Variable
	byName    map[string]*Variable
	owners    map[TargetID]*Variable

	quad     *quad
	observer StepObserver

	initialized bool
	closed      bool
	steps       uint64
}

// NewRenderer creates a renderer for a width×height grid on device.
//
// If the device cannot store 32-bit float pixels the renderer continues
// with the best format available and logs a warning, unless
// config.RequireFloatTargets is set.
func NewRenderer(device Device, config *Config) (*Renderer, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if config == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidSize)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, config.Width, config.Height)
	}

	caps := device.Capabilities()
	if caps.MaxTargetSize > 0 && (config.Width > caps.MaxTargetSize || config.Height > caps.MaxTargetSize) {
		return nil, fmt.Errorf("%w: %dx%d exceeds device limit %d",
			ErrInvalidSize, config.Width, config.Height, caps.MaxTargetSize)
	}

	format, reduced := caps.bestFormat()
	if reduced {
		if config.RequireFloatTargets {
			return nil, fmt.Errorf("%w (device %s)", ErrNoFloatTargets, device.Name())
		}
		Logger().Warn("gpgpu: float targets not supported, using reduced precision",
			"device", device.Name(), "format", format.String())
	}

	q, err := newQuad(device, config.Width, config.Height, format)
	if err != nil {
		return nil, err
	}

	observer := config.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Renderer{
		device:   device,
		width:    config.Width,
		height:   config.Height,
		format:   format,
		byName:   make(map[string]*Variable),
		owners:   make(map[TargetID]*Variable),
		quad:     q,
		observer: observer,
	}, nil
}

// AddVariable registers a variable updated every step by program and
// seeded with initial. It allocates the variable's two targets; their
// contents are undefined until Init.
//
// The initial image must match the grid size. Variables must be added
// before Init.
func (r *Renderer) AddVariable(name string, program Program, initial *Image) (*Variable, error) {
	switch {
	case r.closed:
		return nil, ErrClosed
	case r.initialized:
		return nil, fmt.Errorf("%w: cannot add variable %q", ErrInitialized, name)
	case name == "":
		return nil, ErrEmptyName
	case initial == nil:
		return nil, fmt.Errorf("%w: variable %q", ErrNilImage, name)
	case !initial.SameSize(r.width, r.height):
		return nil, fmt.Errorf("%w: variable %q image is %dx%d, grid is %dx%d",
			ErrDimensionMismatch, name, initial.Width, initial.Height, r.width, r.height)
	}
	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateVariable, name)
	}

	a, err := r.device.CreateTarget(r.width, r.height, r.format)
	if err != nil {
		return nil, fmt.Errorf("gpgpu: variable %q: create target: %w", name, err)
	}
	b, err := r.device.CreateTarget(r.width, r.height, r.format)
	if err != nil {
		r.device.DestroyTarget(a)
		return nil, fmt.Errorf("gpgpu: variable %q: create target: %w", name, err)
	}

	v := &Variable{
		owner:   r,
		name:    name,
		program: program,
		initial: initial,
		targets: [2]TargetID{a, b},
	}
	r.variables = append(r.variables, v)
	r.byName[name] = v
	r.owners[a] = v
	r.owners[b] = v

	Logger().Debug("gpgpu: variable registered",
		"name", name, "targets", [2]uint64{uint64(a), uint64(b)})
	return v, nil
}

// SetDependencies replaces the list of variables whose live targets are
// bound as inputs to v's program. Dependencies may include v itself and
// variables registered after v; cycles are allowed.
//
// The list is fixed by Init and cannot change afterwards.
func (r *Renderer) SetDependencies(v *Variable, deps ...*Variable) error {
	if r.closed {
		return ErrClosed
	}
	if err := r.owns(v); err != nil {
		return err
	}
	if r.initialized {
		return fmt.Errorf("%w: cannot change dependencies of %q", ErrInitialized, v.name)
	}
	for i, d := range deps {
		if err := r.owns(d); err != nil {
			return fmt.Errorf("gpgpu: dependency %d of %q: %w", i, v.name, err)
		}
	}
	v.dependencies = append(v.dependencies[:0:0], deps...)
	return nil
}

// Init compiles every variable's program and writes its initial image into
// both of its targets. It must be called exactly once, after all variables
// and dependencies are declared and before the first Compute.
//
// Program compilation failures are fatal and wrap ErrProgram.
func (r *Renderer) Init() error {
	if r.closed {
		return ErrClosed
	}
	if r.initialized {
		return ErrInitialized
	}

	for i, v := range r.variables {
		layout := ProgramLayout{
			Label:    v.name,
			Inputs:   v.dependencyNames(),
			Uniforms: v.uniformNames(),
		}
		id, err := r.device.CompileProgram(v.program, layout)
		if err != nil {
			r.releasePrograms(r.variables[:i])
			if !errors.Is(err, ErrProgram) {
				err = fmt.Errorf("%w: %w", ErrProgram, err)
			}
			return fmt.Errorf("gpgpu: variable %q: %w", v.name, err)
		}
		v.compiled = id
		v.pass = Pass{
			Inputs: make([]Binding, len(v.dependencies)),
			Width:  r.width,
			Height: r.height,
		}
		for j, d := range v.dependencies {
			v.pass.Inputs[j].Name = d.name
		}
	}

	for _, v := range r.variables {
		for _, target := range v.targets {
			if err := r.quad.render(v.initial, target); err != nil {
				r.releasePrograms(r.variables)
				return fmt.Errorf("gpgpu: seed variable %q: %w", v.name, err)
			}
		}
	}

	r.initialized = true
	Logger().Info("gpgpu: renderer initialized",
		"device", r.device.Name(), "variables", len(r.variables),
		"width", r.width, "height", r.height, "format", r.format.String())
	return nil
}

// Compute runs one step: every variable's program once, in registration
// order, each reading its live target and writing the other one, after
// which the variable's live slot flips.
//
// If a pass fails, Compute returns immediately; variables already stepped
// keep their new values and the failing variable's live slot is unchanged.
func (r *Renderer) Compute(t, delta float32) error {
	if r.closed {
		return ErrClosed
	}
	if !r.initialized {
		return ErrNotInitialized
	}

	start := time.Now()
	for _, v := range r.variables {
		passStart := time.Now()
		pass := v.bindPass(t, delta)
		if pass.Aliased() {
			return fmt.Errorf("gpgpu: variable %q: %w", v.name, ErrAliasedTarget)
		}
		if err := r.device.Dispatch(v.compiled, pass); err != nil {
			return fmt.Errorf("gpgpu: variable %q: %w", v.name, err)
		}
		v.swap()
		r.observer.ObservePass(v.name, time.Since(passStart))
	}
	r.steps++
	r.observer.ObserveStep(time.Since(start))
	return nil
}

// CurrentTarget returns the live target of v: the one most recently
// written. The caller must treat it as read-only. It returns InvalidID for
// a variable not registered on r.
func (r *Renderer) CurrentTarget(v *Variable) TargetID {
	if r.owns(v) != nil {
		return InvalidID
	}
	return v.readTarget()
}

// Current reads back the contents of v's live target.
func (r *Renderer) Current(v *Variable) (*Image, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if err := r.owns(v); err != nil {
		return nil, err
	}
	img, err := r.device.ReadTarget(v.readTarget())
	if err != nil {
		return nil, fmt.Errorf("gpgpu: read variable %q: %w", v.name, err)
	}
	return img, nil
}

// Targets returns both physical targets of v, in slot order, or two
// InvalidIDs for a variable not registered on r.
func (r *Renderer) Targets(v *Variable) [2]TargetID {
	if r.owns(v) != nil {
		return [2]TargetID{}
	}
	return v.targets
}

// RenderTexture writes img into target through the pass-through program,
// or clears target to zero when img is nil. It does not change any
// variable's live slot, so writing the same image into both targets of a
// variable resets it regardless of which slot is live.
func (r *Renderer) RenderTexture(img *Image, target TargetID) error {
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.owners[target]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTarget, target)
	}
	if img != nil && !img.SameSize(r.width, r.height) {
		return fmt.Errorf("%w: image is %dx%d, grid is %dx%d",
			ErrDimensionMismatch, img.Width, img.Height, r.width, r.height)
	}
	if err := r.quad.render(img, target); err != nil {
		return fmt.Errorf("gpgpu: render texture: %w", err)
	}
	r.observer.ObserveReset(target)
	return nil
}

// Reset writes img into both targets of v. It is equivalent to two
// RenderTexture calls.
func (r *Renderer) Reset(v *Variable, img *Image) error {
	if err := r.owns(v); err != nil {
		return err
	}
	for _, target := range v.targets {
		if err := r.RenderTexture(img, target); err != nil {
			return err
		}
	}
	return nil
}

// Variable returns the variable registered under name.
func (r *Renderer) Variable(name string) (*Variable, bool) {
	v, ok := r.byName[name]
	return v, ok
}

// Variables returns the variables in registration order.
func (r *Renderer) Variables() []*Variable {
	vars := make([]*Variable, len(r.variables))
	copy(vars, r.variables)
	return vars
}

// Size returns the grid dimensions.
func (r *Renderer) Size() (width, height int) {
	return r.width, r.height
}

// Format returns the target format chosen for this device.
func (r *Renderer) Format() TextureFormat {
	return r.format
}

// Device returns the device the renderer runs on.
func (r *Renderer) Device() Device {
	return r.device
}

// StepCount returns the number of completed Compute calls.
func (r *Renderer) StepCount() uint64 {
	return r.steps
}

// IsInitialized reports whether Init has completed.
func (r *Renderer) IsInitialized() bool {
	return r.initialized
}

// Close releases all targets and programs. The device itself is not
// closed. Close is safe to call multiple times.
func (r *Renderer) Close() {
	if r.closed {
		return
	}
	r.closed = true
	if r.initialized {
		r.releasePrograms(r.variables)
	}
	for _, v := range r.variables {
		for _, target := range v.targets {
			r.device.DestroyTarget(target)
		}
	}
	r.quad.destroy()
	r.owners = nil
}

func (r *Renderer) owns(v *Variable) error {
	if v == nil || v.owner != r {
		return ErrUnknownVariable
	}
	return nil
}

func (r *Renderer) releasePrograms(vars []*Variable) {
	for _, v := range vars {
		if v.compiled != InvalidID {
			r.device.DestroyProgram(v.compiled)
			v.compiled = InvalidID
		}
	}
}
