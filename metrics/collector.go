// Package metrics exports gpgpu step timings to Prometheus.
package metrics

import (
	"time"

	"github.com/gogpu/gpgpu"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements gpgpu.StepObserver using Prometheus.
type Collector struct {
	steps        prometheus.Counter
	stepDuration prometheus.Histogram
	passDuration *prometheus.HistogramVec
	resets       prometheus.Counter
}

var _ gpgpu.StepObserver = (*Collector)(nil)

// passBuckets span sub-millisecond GPU passes up to slow software passes.
var passBuckets = prometheus.ExponentialBuckets(0.0001, 4, 8)

// NewCollector registers the renderer metrics with reg under namespace.
// A nil reg registers with the default registry.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		steps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of completed simulation steps",
		}),
		stepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of one step over all variables in seconds",
			Buckets:   passBuckets,
		}),
		passDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of one variable pass in seconds",
			Buckets:   passBuckets,
		}, []string{"variable"}),
		resets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Total number of target overwrites outside of a step",
		}),
	}
}

// ObserveStep records a completed step.
func (c *Collector) ObserveStep(d time.Duration) {
	c.steps.Inc()
	c.stepDuration.Observe(d.Seconds())
}

// ObservePass records one variable's pass.
func (c *Collector) ObservePass(variable string, d time.Duration) {
	c.passDuration.WithLabelValues(variable).Observe(d.Seconds())
}

// ObserveReset records a RenderTexture. Targets are not labelled; their
// IDs are unbounded.
func (c *Collector) ObserveReset(gpgpu.TargetID) {
	c.resets.Inc()
}
