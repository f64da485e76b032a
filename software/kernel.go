package software

// Kernel is a per-step program for the software device. It is called once
// per output pixel and returns that pixel's new value.
//
// Kernels run concurrently on different rows and must not keep state
// between calls.
type Kernel func(f *Fragment) [4]float32

// Sampler reads a target bound to a pass. Coordinates wrap around the
// edges (repeat addressing) and Sample uses nearest filtering.
type Sampler struct {
	width  int
	height int
	pix    []float32
}

// Valid reports whether the sampler is bound to a target.
func (s Sampler) Valid() bool {
	return s.pix != nil
}

// At returns the pixel at (x, y), wrapping coordinates that fall outside
// the target. An unbound sampler returns zero.
func (s Sampler) At(x, y int) [4]float32 {
	if s.pix == nil {
		return [4]float32{}
	}
	x = wrap(x, s.width)
	y = wrap(y, s.height)
	i := (y*s.width + x) * 4
	return [4]float32{s.pix[i], s.pix[i+1], s.pix[i+2], s.pix[i+3]}
}

// Sample returns the texel nearest to the normalized coordinate (u, v),
// where (0, 0) is the top-left corner and (1, 1) the bottom-right.
func (s Sampler) Sample(u, v float32) [4]float32 {
	if s.pix == nil {
		return [4]float32{}
	}
	x := floor(u * float32(s.width))
	y := floor(v * float32(s.height))
	return s.At(x, y)
}

// Size returns the sampled target's dimensions.
func (s Sampler) Size() (width, height int) {
	return s.width, s.height
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

func floor(f float32) int {
	i := int(f)
	if float32(i) > f {
		i--
	}
	return i
}

// Fragment is the input of one kernel invocation.
type Fragment struct {
	// X and Y are the pixel being computed.
	X, Y int

	// U and V are the normalized coordinates of the pixel center.
	U, V float32

	// Time and Delta are the values passed to Renderer.Compute.
	Time, Delta float32

	self     Sampler
	names    []string
	inputs   []Sampler
	uniforms map[string]float32
}

// Self returns a sampler over the variable's own previous value.
func (f *Fragment) Self() Sampler {
	return f.self
}

// Previous returns the variable's own previous value at this pixel.
func (f *Fragment) Previous() [4]float32 {
	return f.self.At(f.X, f.Y)
}

// Input returns a sampler over the named dependency. An unknown name
// returns an unbound sampler, which reads as zero.
func (f *Fragment) Input(name string) Sampler {
	for i, n := range f.names {
		if n == name {
			return f.inputs[i]
		}
	}
	return Sampler{}
}

// InputAt returns the sampler of the i-th dependency.
func (f *Fragment) InputAt(i int) Sampler {
	if i < 0 || i >= len(f.inputs) {
		return Sampler{}
	}
	return f.inputs[i]
}

// NumInputs returns the number of bound dependencies.
func (f *Fragment) NumInputs() int {
	return len(f.inputs)
}

// Uniform returns a caller-defined uniform, or zero if it is not set.
func (f *Fragment) Uniform(name string) float32 {
	return f.uniforms[name]
}
