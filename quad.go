package gpgpu

import "fmt"

// quad is the minimal full-grid execution context: a pass-through program
// and a staging target. It is the only path by which images reach a
// variable's targets, so seeding and resets are quantized exactly like
// program output.
type quad struct {
	device  Device
	width   int
	height  int
	copy    ProgramID
	staging TargetID
}

func newQuad(device Device, width, height int, format TextureFormat) (*quad, error) {
	prog, err := device.CompileCopy()
	if err != nil {
		return nil, fmt.Errorf("gpgpu: compile pass-through program: %w", err)
	}
	staging, err := device.CreateTarget(width, height, format)
	if err != nil {
		device.DestroyProgram(prog)
		return nil, fmt.Errorf("gpgpu: create staging target: %w", err)
	}
	return &quad{
		device:  device,
		width:   width,
		height:  height,
		copy:    prog,
		staging: staging,
	}, nil
}

// render copies img into target, or clears target when img is nil.
func (q *quad) render(img *Image, target TargetID) error {
	if img == nil {
		return q.device.ClearTarget(target)
	}
	if err := q.device.WriteTarget(q.staging, img); err != nil {
		return fmt.Errorf("gpgpu: upload staging target: %w", err)
	}
	pass := &Pass{
		Output: target,
		Self:   q.staging,
		Width:  q.width,
		Height: q.height,
	}
	return q.device.Dispatch(q.copy, pass)
}

func (q *quad) destroy() {
	q.device.DestroyTarget(q.staging)
	q.device.DestroyProgram(q.copy)
}
