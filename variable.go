package gpgpu

import "sort"

// Variable is one piece of simulation state, updated every step by its
// program.
//
// A Variable owns a fixed two-slot arena of targets and a single bit
// selecting the live slot. The live target holds the most recently written
// value; the other slot is written by the next step, after which the bit
// flips. Both slots are seeded with the initial image by Renderer.Init, so
// either choice of live slot is valid before the first step.
//
// Variables are created by Renderer.AddVariable and destroyed with their
// renderer.
type Variable struct {
	owner *Renderer

	name    string
	program Program
	initial *Image

	targets [2]TargetID
	live    uint8

	dependencies []*Variable
	uniforms     map[string]float32

	// Set by Renderer.Init.
	compiled ProgramID
	pass     Pass
}

// Name returns the variable name.
func (v *Variable) Name() string {
	return v.name
}

// Program returns the per-step program supplied at registration.
func (v *Variable) Program() Program {
	return v.program
}

// InitialImage returns the image both targets are seeded with.
func (v *Variable) InitialImage() *Image {
	return v.initial
}

// Live returns the index (0 or 1) of the live target slot.
func (v *Variable) Live() int {
	return int(v.live)
}

// Dependencies returns a copy of the dependency list.
func (v *Variable) Dependencies() []*Variable {
	deps := make([]*Variable, len(v.dependencies))
	copy(deps, v.dependencies)
	return deps
}

// SetUniform sets a caller-defined scalar bound to the program each step,
// alongside time and delta.
//
// Programs compiled by positional devices (wgpu) only see uniforms that
// were set before Renderer.Init; changing their values later is fine.
func (v *Variable) SetUniform(name string, value float32) {
	if v.uniforms == nil {
		v.uniforms = make(map[string]float32)
	}
	v.uniforms[name] = value
}

// Uniform returns the value of a caller-defined uniform.
func (v *Variable) Uniform(name string) (float32, bool) {
	u, ok := v.uniforms[name]
	return u, ok
}

// uniformNames returns the uniform names, sorted.
func (v *Variable) uniformNames() []string {
	names := make([]string, 0, len(v.uniforms))
	for name := range v.uniforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// dependencyNames returns the dependency names in dependency order.
func (v *Variable) dependencyNames() []string {
	names := make([]string, len(v.dependencies))
	for i, d := range v.dependencies {
		names[i] = d.name
	}
	return names
}

// readTarget returns the live target.
func (v *Variable) readTarget() TargetID {
	return v.targets[v.live]
}

// writeTarget returns the non-live target.
func (v *Variable) writeTarget() TargetID {
	return v.targets[v.live^1]
}

// swap flips the live slot.
func (v *Variable) swap() {
	v.live ^= 1
}

// bindPass prepares the preallocated pass for this step. Each dependency
// contributes the target that is live right now: a dependency stepped
// earlier in this Compute supplies its new value, one not yet stepped
// supplies its previous value.
func (v *Variable) bindPass(t, delta float32) *Pass {
	p := &v.pass
	p.Output = v.writeTarget()
	p.Self = v.readTarget()
	for i, d := range v.dependencies {
		p.Inputs[i].Target = d.readTarget()
	}
	p.Time = t
	p.Delta = delta
	p.Uniforms = v.uniforms
	return p
}
