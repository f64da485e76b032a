package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gogpu/gpgpu"
)

// simulation couples the velocity and position variables of a particle
// swarm in a torus. Velocity is registered first, so the position pass
// integrates this step's velocity while the velocity pass sees the
// previous step's positions.
type simulation struct {
	cfg *Config
	r   *gpgpu.Renderer
	vel *gpgpu.Variable
	pos *gpgpu.Variable
	rng *rand.Rand

	steps     uint64
	snapshots int
	resets    int
	elapsed   time.Duration
}

func newSimulation(dev gpgpu.Device, cfg *Config, observer gpgpu.StepObserver) (*simulation, error) {
	r, err := gpgpu.NewRenderer(dev, &gpgpu.Config{
		Width:    cfg.Size,
		Height:   cfg.Size,
		Observer: observer,
	})
	if err != nil {
		return nil, err
	}

	s := &simulation{
		cfg: cfg,
		r:   r,
		rng: rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b97f4a7c15)), //nolint:gosec // simulation seed
	}
	if err := s.setup(programsFor(cfg.Backend)); err != nil {
		r.Close()
		return nil, err
	}
	return s, nil
}

func (s *simulation) setup(progs programs) error {
	vel0, pos0 := seed(s.cfg.Size, s.rng)

	var err error
	if s.vel, err = s.r.AddVariable(velocityName, progs.velocity, vel0); err != nil {
		return err
	}
	if s.pos, err = s.r.AddVariable(positionName, progs.position, pos0); err != nil {
		return err
	}
	if err := s.r.SetDependencies(s.vel, s.pos); err != nil {
		return err
	}
	if err := s.r.SetDependencies(s.pos, s.vel); err != nil {
		return err
	}
	s.vel.SetUniform(b0Uniform, float32(s.cfg.B0))

	if err := s.r.Init(); err != nil {
		return err
	}
	gpgpu.Logger().Info("torussim: simulation ready",
		"particles", s.cfg.Size*s.cfg.Size, "device", s.r.Device().Name(), "format", s.r.Format().String())
	return nil
}

// reseed overwrites both targets of both variables with a fresh
// distribution.
func (s *simulation) reseed() error {
	vel, pos := seed(s.cfg.Size, s.rng)
	if err := s.r.Reset(s.pos, pos); err != nil {
		return err
	}
	if err := s.r.Reset(s.vel, vel); err != nil {
		return err
	}
	s.resets++
	return nil
}

// step advances the swarm once, then applies scheduled resets and
// snapshots.
func (s *simulation) step() error {
	delta := float32(s.cfg.FrameDelta)
	if err := s.r.Compute(float32(s.steps)*delta, delta); err != nil {
		return fmt.Errorf("step %d: %w", s.steps, err)
	}
	s.steps++

	if every := uint64(s.cfg.SnapshotEvery); every > 0 && s.steps%every == 0 { //nolint:gosec // validated non-negative
		pos, err := s.r.Current(s.pos)
		if err != nil {
			return err
		}
		path, err := writeSnapshot(s.cfg.Output, s.steps, pos, s.cfg.SnapshotSize)
		if err != nil {
			return err
		}
		s.snapshots++
		gpgpu.Logger().Debug("torussim: snapshot written", "step", s.steps, "path", path)
	}
	if every := uint64(s.cfg.ResetEvery); every > 0 && s.steps%every == 0 { //nolint:gosec // validated non-negative
		if err := s.reseed(); err != nil {
			return err
		}
		gpgpu.Logger().Info("torussim: particles reseeded", "step", s.steps)
	}
	return nil
}

// run steps until cfg.Steps is reached or ctx is done. Cancellation is
// checked between steps.
func (s *simulation) run(ctx context.Context) error {
	start := time.Now()
	defer func() { s.elapsed = time.Since(start) }()

	for s.cfg.Steps == 0 || s.steps < uint64(s.cfg.Steps) { //nolint:gosec // validated non-negative
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := s.step(); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulation) close() {
	s.r.Close()
}
