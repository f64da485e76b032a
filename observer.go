package gpgpu

import "time"

// StepObserver receives timing and reset events from a Renderer.
// The metrics package provides a Prometheus implementation.
//
// Observers are called synchronously from the goroutine driving the
// renderer and should return quickly.
type StepObserver interface {
	// ObserveStep is called after every completed Compute.
	ObserveStep(d time.Duration)

	// ObservePass is called after each variable's pass.
	ObservePass(variable string, d time.Duration)

	// ObserveReset is called after every RenderTexture.
	ObserveReset(target TargetID)
}

type nopObserver struct{}

func (nopObserver) ObserveStep(time.Duration)         {}
func (nopObserver) ObservePass(string, time.Duration) {}
func (nopObserver) ObserveReset(TargetID)             {}
