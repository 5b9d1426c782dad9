package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pkengine/internal/config"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics, or one
// built from a disabled config, records nothing.
type Metrics struct {
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	activeJobs       prometheus.Gauge
	lockWait         *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	transactionItems *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics(cfg config.MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{}
	}
	ns := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "jobs_total",
				Help:      "Jobs finished, by role and result code",
			},
			[]string{"role", "result"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "job_duration_seconds",
				Help:      "Job runtime in seconds, lock wait included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"role"},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "active_jobs",
				Help:      "Jobs submitted and not yet finished",
			},
		),
		lockWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "backend_lock_wait_seconds",
				Help:      "Time Jobs waited for the backend lock",
				Buckets:   []float64{.001, .01, .1, .5, 1, 5, 30, 120},
			},
			[]string{"backend"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "update_cache_lookups_total",
				Help:      "Update cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		transactionItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "transaction_items_total",
				Help:      "Committed transaction items by action",
			},
			[]string{"action"},
		),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.lockWait,
		m.cacheLookups,
		m.transactionItems,
	)
	return m
}

// Enabled reports whether anything is recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// RecordJob counts a finished Job.
func (m *Metrics) RecordJob(role, result string, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.jobsTotal.WithLabelValues(role, result).Inc()
	m.jobDuration.WithLabelValues(role).Observe(d.Seconds())
}

// SetActiveJobs sets the number of running Jobs.
func (m *Metrics) SetActiveJobs(n int) {
	if !m.Enabled() {
		return
	}
	m.activeJobs.Set(float64(n))
}

// ObserveLockWait records how long a Job waited for its backend lock.
func (m *Metrics) ObserveLockWait(backend string, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.lockWait.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordCacheLookup counts an update cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if !m.Enabled() {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// RecordTransactionItem counts one committed item.
func (m *Metrics) RecordTransactionItem(action string) {
	if !m.Enabled() {
		return
	}
	m.transactionItems.WithLabelValues(action).Inc()
}

// Registry returns the private registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
