// Package metrics exports drain sweep statistics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/infoset/internal/drain"
)

// Drain holds the drain collectors on a private registry.
type Drain struct {
	registry *prometheus.Registry

	sweeps        prometheus.Counter
	files         *prometheus.CounterVec
	measurements  *prometheus.CounterVec
	deleteFailed  prometheus.Counter
	agentsCreated prometheus.Counter
	seriesCreated prometheus.Counter
	duration      prometheus.Histogram
	fileLatency   *prometheus.GaugeVec
	lastSweep     prometheus.Gauge
}

// NewDrain creates and registers the drain collectors. An empty namespace
// leaves metric names unprefixed.
func NewDrain(namespace string) *Drain {
	reg := prometheus.NewRegistry()

	d := &Drain{
		registry: reg,
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_sweeps_total",
			Help:      "Completed drain sweeps.",
		}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_files_total",
			Help:      "Spool files by sweep outcome.",
		}, []string{"outcome"}),
		measurements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_measurements_total",
			Help:      "Chartable records by write outcome.",
		}, []string{"outcome"}),
		deleteFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_delete_failures_total",
			Help:      "Drained files that could not be removed from the spool.",
		}),
		agentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_agents_created_total",
			Help:      "Agents registered on first sighting.",
		}),
		seriesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_series_created_total",
			Help:      "Series registered on first sighting.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "drain_sweep_duration_seconds",
			Help:      "Wall time of one sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		fileLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drain_file_latency_seconds",
			Help:      "Per-file drain time quantiles of the last sweep.",
		}, []string{"quantile"}),
		lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drain_last_sweep_timestamp_seconds",
			Help:      "Start time of the last completed sweep.",
		}),
	}

	reg.MustRegister(
		d.sweeps, d.files, d.measurements, d.deleteFailed,
		d.agentsCreated, d.seriesCreated, d.duration, d.fileLatency, d.lastSweep,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return d
}

// ObserveSweep records a finished sweep. It matches drain.WithObserver.
func (d *Drain) ObserveSweep(r *drain.SweepReport) {
	d.sweeps.Inc()

	d.files.WithLabelValues("drained").Add(float64(r.Drained))
	d.files.WithLabelValues("quarantined").Add(float64(r.Quarantined))
	d.files.WithLabelValues("skipped").Add(float64(r.Skipped))
	d.files.WithLabelValues("failed").Add(float64(r.Failed))
	d.files.WithLabelValues("deferred").Add(float64(r.Deferred))
	d.files.WithLabelValues("ignored").Add(float64(r.Ignored))

	d.measurements.WithLabelValues("written").Add(float64(r.Written))
	d.measurements.WithLabelValues("stale").Add(float64(r.Stale))
	d.measurements.WithLabelValues("dropped").Add(float64(r.Dropped))
	d.measurements.WithLabelValues("duplicate").Add(float64(r.Duplicates))
	d.measurements.WithLabelValues("untyped").Add(float64(r.Untyped))

	d.deleteFailed.Add(float64(r.DeleteFailed))
	d.agentsCreated.Add(float64(r.AgentsCreated))
	d.seriesCreated.Add(float64(r.SeriesCreated))

	d.duration.Observe(r.Duration.Seconds())
	d.lastSweep.Set(float64(r.Started.Unix()))

	if r.Latency.Count > 0 {
		d.fileLatency.WithLabelValues("0.5").Set(r.Latency.P50.Seconds())
		d.fileLatency.WithLabelValues("0.9").Set(r.Latency.P90.Seconds())
		d.fileLatency.WithLabelValues("0.99").Set(r.Latency.P99.Seconds())
	}
}

// Registry returns the registry holding the drain collectors.
func (d *Drain) Registry() *prometheus.Registry {
	return d.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (d *Drain) Handler() http.Handler {
	return promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})
}
