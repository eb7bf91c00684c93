// Package metrics records FOTA run metrics with Prometheus.
//
// Metrics live on their own registry so that a CLI run can dump them to a
// node_exporter textfile without touching the default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/moffa90/go-blefota/updater"
)

const ApplicationName = "blefota"

// Metrics implements updater.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	BootstrapCount      *prometheus.CounterVec
	PageAttemptCount    *prometheus.CounterVec
	PageAttemptDuration prometheus.Histogram
	BytesWritten        prometheus.Counter
	RunCount            *prometheus.CounterVec
	RunDuration         prometheus.Histogram
}

var _ updater.Metrics = (*Metrics)(nil)

// New creates and registers the metrics on a fresh registry.
func New() *Metrics {
	labels := prometheus.Labels{"service": ApplicationName}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BootstrapCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "blefota_bootstrap_count",
				Help:        "session bootstrap count by FOTA variant (secure/unsecure) and result",
				ConstLabels: labels,
			},
			[]string{"variant", "result"},
		),
		PageAttemptCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "blefota_page_attempt_count",
				Help:        "page write attempts by result (ok/error)",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		PageAttemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "blefota_page_attempt_duration",
			Help:        "page write attempt duration (in seconds)",
			ConstLabels: labels,
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "blefota_bytes_written",
			Help:        "payload bytes written to the data characteristic, retries included",
			ConstLabels: labels,
		}),
		RunCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "blefota_run_count",
				Help:        "update runs by result (ok/aborted/cancelled/page/metadata/...)",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "blefota_run_duration",
			Help:        "update run duration (in seconds)",
			ConstLabels: labels,
			Buckets:     []float64{5, 15, 30, 60, 60 * 2, 60 * 5, 60 * 10, 60 * 30},
		}),
	}

	m.registry.MustRegister(
		m.BootstrapCount,
		m.PageAttemptCount,
		m.PageAttemptDuration,
		m.BytesWritten,
		m.RunCount,
		m.RunDuration,
	)
	return m
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveBootstrap implements updater.Metrics.
func (m *Metrics) ObserveBootstrap(variant, result string) {
	m.BootstrapCount.WithLabelValues(variant, result).Inc()
}

// ObservePageAttempt implements updater.Metrics.
func (m *Metrics) ObservePageAttempt(ok bool, d time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.PageAttemptCount.WithLabelValues(result).Inc()
	m.PageAttemptDuration.Observe(d.Seconds())
}

// AddBytes implements updater.Metrics.
func (m *Metrics) AddBytes(n int) {
	m.BytesWritten.Add(float64(n))
}

// ObserveRun implements updater.Metrics.
func (m *Metrics) ObserveRun(result string, d time.Duration) {
	m.RunCount.WithLabelValues(result).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// WriteToTextfile writes the metrics in the text exposition format, for the
// node_exporter textfile collector. The file is replaced atomically.
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
