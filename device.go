package gpgpu

// Program is a caller-supplied per-step program. Its concrete type is
// defined by the device that runs it (software.Kernel, wgpu.Program) and
// its numerical content is opaque to the renderer.
type Program any

// ProgramLayout describes the named inputs a program is compiled against.
// Devices that bind by position (WGSL) use it to generate declarations.
type ProgramLayout struct {
	// Label is an optional debug label, usually the variable name.
	Label string

	// Inputs are the dependency names, in dependency order.
	Inputs []string

	// Uniforms are the caller-defined scalar uniform names, sorted.
	Uniforms []string
}

// Binding binds a target to a named program input.
type Binding struct {
	Name   string
	Target TargetID
}

// Pass describes one data-parallel execution of a program over a full
// target.
type Pass struct {
	// Output is the target being written.
	Output TargetID

	// Self is the program's own previous value.
	Self TargetID

	// Inputs are the dependency targets, in dependency order.
	Inputs []Binding

	// Time and Delta are the values passed to Renderer.Compute.
	Time  float32
	Delta float32

	// Uniforms are caller-defined scalars. May be nil.
	Uniforms map[string]float32

	// Width and Height are the grid dimensions.
	Width  int
	Height int
}

// Aliased reports whether the output target is also read by the pass.
func (p *Pass) Aliased() bool {
	if p.Output == p.Self {
		return true
	}
	for _, b := range p.Inputs {
		if b.Target == p.Output {
			return true
		}
	}
	return false
}

// Device abstracts the execution surface the renderer runs on.
//
// Implementations: software.Device (CPU, worker pool) and wgpu.Device
// (gogpu/wgpu HAL compute). All operations are synchronous from the
// caller's perspective.
//
// Resource lifecycle:
//   - Resources are created via Create*/Compile* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - IDs become invalid after destruction and are never reused
type Device interface {
	// Name returns the device name (e.g. "software", "wgpu").
	Name() string

	// Capabilities reports supported target formats and limits.
	Capabilities() Capabilities

	// CreateTarget allocates a width×height target. Its contents are
	// undefined until written.
	CreateTarget(width, height int, format TextureFormat) (TargetID, error)

	// DestroyTarget releases a target.
	DestroyTarget(id TargetID)

	// WriteTarget uploads img into the target. The image must match the
	// target size.
	WriteTarget(id TargetID, img *Image) error

	// ClearTarget sets every pixel of the target to zero.
	ClearTarget(id TargetID) error

	// ReadTarget returns a copy of the target contents.
	// This may cause a device synchronization stall.
	ReadTarget(id TargetID) (*Image, error)

	// CompileProgram compiles a per-step program for the given layout.
	// Failures must wrap ErrProgram.
	CompileProgram(p Program, layout ProgramLayout) (ProgramID, error)

	// CompileCopy compiles the pass-through program, which writes its Self
	// input unchanged into the output.
	CompileCopy() (ProgramID, error)

	// DestroyProgram releases a compiled program.
	DestroyProgram(id ProgramID)

	// Dispatch runs the program once per pixel of the pass output.
	// It must return ErrAliasedTarget when the output is also an input.
	Dispatch(id ProgramID, pass *Pass) error

	// Close releases all device resources.
	Close()
}
