// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tdu-cpslab/volp/internal/fault"
)

// Stage names used as label values
const (
	StageCapture = "capture"
	StageStore   = "store"
	StagePublish = "publish"
)

// Metrics holds the recorder's collectors on a private registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	failures        *prometheus.CounterVec
	stageSeconds    *prometheus.HistogramVec
	capturedSamples prometheus.Counter
	droppedFrames   prometheus.Counter
	artifactBytes   prometheus.Gauge
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volp_cycles_total",
			Help: "Recording cycles by outcome.",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volp_failures_total",
			Help: "Failed cycles by error kind.",
		}, []string{"kind"}),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "volp_stage_duration_seconds",
			Help:    "Wall time spent in each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		capturedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "volp_captured_samples_total",
			Help: "Samples written to WAV files.",
		}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "volp_dropped_frames_total",
			Help: "Callback frames dropped because the sink was busy.",
		}),
		artifactBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "volp_last_artifact_bytes",
			Help: "Size of the most recent WAV file.",
		}),
	}

	m.registry.MustRegister(m.cycles, m.failures, m.stageSeconds, m.capturedSamples, m.droppedFrames, m.artifactBytes)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records the duration of one stage
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveCapture records a finalized capture
func (m *Metrics) ObserveCapture(samples, dropped, bytes int64) {
	if m == nil {
		return
	}
	m.capturedSamples.Add(float64(samples))
	m.droppedFrames.Add(float64(dropped))
	m.artifactBytes.Set(float64(bytes))
}

// CycleSucceeded counts a published cycle
func (m *Metrics) CycleSucceeded() {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("ok").Inc()
}

// CycleFailed counts a failed cycle under its error kind
func (m *Metrics) CycleFailed(kind fault.Kind) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("failed").Inc()
	m.failures.WithLabelValues(kind.String()).Inc()
}
