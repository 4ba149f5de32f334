// Package metrics holds the Prometheus collectors of the probe daemon.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "probed"

// Metrics groups the probe collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Attempts   *prometheus.CounterVec
	Retries    *prometheus.CounterVec
	Outcomes   *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Rounds     prometheus.Counter
	LastResult *prometheus.GaugeVec
	JobRuns    *prometheus.CounterVec
}

// New creates the collectors and registers them together with the Go and
// process collectors.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_attempts_total",
			Help:      "Check attempts per target, including retries.",
		}, []string{"target"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_retries_total",
			Help:      "Retries scheduled per target.",
		}, []string{"target"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_outcomes_total",
			Help:      "Final check outcomes per target.",
		}, []string{"target", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Duration of a check including its retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"target"}),
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Completed probe rounds.",
		}),
		LastResult: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_up",
			Help:      "1 when the last check of the target succeeded.",
		}, []string{"target"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduler job runs by job and status.",
		}, []string{"job", "status"}),
	}

	for _, c := range []prometheus.Collector{
		m.Attempts, m.Retries, m.Outcomes, m.Duration, m.Rounds, m.LastResult, m.JobRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// ObserveCheck records the final outcome of one check.
func (m *Metrics) ObserveCheck(target, outcome string, elapsed time.Duration) {
	m.Outcomes.WithLabelValues(target, outcome).Inc()
	m.Duration.WithLabelValues(target).Observe(elapsed.Seconds())
	up := 0.0
	if outcome == "ok" {
		up = 1
	}
	m.LastResult.WithLabelValues(target).Set(up)
}

// JobFinished counts a scheduler job run. Its signature matches
// scheduler.Config.OnJobFinish.
func (m *Metrics) JobFinished(job string, _ time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.JobRuns.WithLabelValues(job, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
