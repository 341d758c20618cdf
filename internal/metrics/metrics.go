// Package metrics records trial counters and phase durations in a private
// Prometheus registry and writes them as a node-exporter textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/demand.sensitivity/internal/sensitivity"
)

const namespace = "sensitivity"

// Recorder implements sensitivity.Observer.
type Recorder struct {
	registry *prometheus.Registry

	phaseSeconds *prometheus.HistogramVec
	trials       *prometheus.CounterVec
	failures     *prometheus.CounterVec
	lastTotal    prometheus.Gauge
}

var _ sensitivity.Observer = (*Recorder)(nil)

// NewRecorder registers the run metrics. constLabels are attached to every
// series; the CLI labels them with the project directory.
func NewRecorder(constLabels prometheus.Labels) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		phaseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "phase_duration_seconds",
			Help:        "Time spent in each trial phase.",
			ConstLabels: constLabels,
			// Simulations take minutes; overwrite and extract take milliseconds.
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
		}, []string{"phase"}),
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "trials_total",
			Help:        "Trials by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "trial_failures_total",
			Help:        "Failed trials by phase.",
			ConstLabels: constLabels,
		}, []string{"phase"}),
		lastTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_total_demand",
			Help:        "Total demand of the most recently recorded trial.",
			ConstLabels: constLabels,
		}),
	}
	r.registry.MustRegister(r.phaseSeconds, r.trials, r.failures, r.lastTotal)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) PhaseDone(phase sensitivity.Phase, d time.Duration) {
	r.phaseSeconds.WithLabelValues(string(phase)).Observe(d.Seconds())
}

func (r *Recorder) TrialRecorded(total float64) {
	r.trials.WithLabelValues("recorded").Inc()
	r.lastTotal.Set(total)
}

func (r *Recorder) TrialFailed(phase sensitivity.Phase) {
	r.trials.WithLabelValues("failed").Inc()
	r.failures.WithLabelValues(string(phase)).Inc()
}

// WriteTextfile writes the current values to path in the text exposition
// format, replacing the file atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
