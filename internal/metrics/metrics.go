// Package metrics counts pipeline outcomes with Prometheus collectors and
// writes them to a node-exporter textfile, since flux runs as a short-lived
// CLI without an HTTP endpoint.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"flux/internal/fault"
)

// Recorder owns one registry. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry
	path     string

	saves        *prometheus.CounterVec
	trims        *prometheus.CounterVec
	failures     *prometheus.CounterVec
	views        prometheus.Counter
	completions  prometheus.Counter
	saveDuration prometheus.Histogram
	payloadBytes prometheus.Histogram
}

// New builds a recorder. When textfilePath is empty, Flush is a no-op.
func New(textfilePath string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		path:     textfilePath,
		saves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flux_saves_total",
			Help: "Save attempts by outcome (succeeded, failed).",
		}, []string{"outcome"}),
		trims: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flux_trims_total",
			Help: "Trim decisions by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flux_failures_total",
			Help: "Pipeline failures by error kind.",
		}, []string{"kind"}),
		views: factory.NewCounter(prometheus.CounterOpts{
			Name: "flux_views_total",
			Help: "Playback sessions started.",
		}),
		completions: factory.NewCounter(prometheus.CounterOpts{
			Name: "flux_completion_reports_total",
			Help: "Completion reports forwarded to the catalog.",
		}),
		saveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flux_save_duration_seconds",
			Help:    "Time from save request to catalog commit.",
			Buckets: prometheus.DefBuckets,
		}),
		payloadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "flux_payload_bytes",
			Help:    "Size of persisted payloads.",
			Buckets: prometheus.ExponentialBuckets(1<<20, 4, 8),
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveSave records a save attempt.
func (r *Recorder) ObserveSave(err error, bytes int64, elapsed time.Duration) {
	if r == nil {
		return
	}
	if err != nil {
		r.saves.WithLabelValues("failed").Inc()
		r.ObserveFailure(err)
		return
	}
	r.saves.WithLabelValues("succeeded").Inc()
	r.saveDuration.Observe(elapsed.Seconds())
	r.payloadBytes.Observe(float64(bytes))
}

// ObserveTrim records which strategy ran and how it ended.
func (r *Recorder) ObserveTrim(strategy, outcome string) {
	if r == nil {
		return
	}
	r.trims.WithLabelValues(strategy, outcome).Inc()
}

// ObserveFailure counts err under its fault kind.
func (r *Recorder) ObserveFailure(err error) {
	if r == nil || err == nil {
		return
	}
	r.failures.WithLabelValues(fault.Kind(err)).Inc()
}

// ObserveView counts a playback session start.
func (r *Recorder) ObserveView() {
	if r == nil {
		return
	}
	r.views.Inc()
}

// ObserveCompletion counts a forwarded completion report.
func (r *Recorder) ObserveCompletion() {
	if r == nil {
		return
	}
	r.completions.Inc()
}

// Flush writes the registry to the configured textfile atomically.
func (r *Recorder) Flush() error {
	if r == nil || r.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("ensure metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
