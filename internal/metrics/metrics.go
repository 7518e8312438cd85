// Package metrics exposes run and job counters for Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "runway"

// DepthFunc reports the number of queued requests.
type DepthFunc func(ctx context.Context) (int, error)

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted   prometheus.Counter
	RunsCompleted *prometheus.CounterVec
	JobsQueued    prometheus.Counter
	JobsSkipped   prometheus.Counter
	JobsCompleted *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
}

// New registers the runway collectors. depth may be nil; otherwise it
// backs the queue depth gauge and is called on every scrape.
func New(depth DepthFunc) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Workflow runs started.",
		}),
		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Workflow runs completed, by result.",
		}, []string{"result"}),
		JobsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_queued_total",
			Help:      "Job requests placed on the dispatch queue.",
		}),
		JobsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_skipped_total",
			Help:      "Jobs whose condition evaluated to false.",
		}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs completed, by result.",
		}, []string{"result"}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Workflow runs in progress.",
		}),
	}
	m.registry.MustRegister(m.RunsStarted, m.RunsCompleted, m.JobsQueued, m.JobsSkipped, m.JobsCompleted, m.ActiveRuns)

	if depth != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Job requests waiting for a worker.",
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := depth(ctx)
			if err != nil {
				return -1
			}
			return float64(n)
		}))
	}
	return m
}

func (m *Metrics) RunStarted() {
	m.RunsStarted.Inc()
	m.ActiveRuns.Inc()
}

func (m *Metrics) RunCompleted(result string) {
	m.RunsCompleted.WithLabelValues(result).Inc()
	m.ActiveRuns.Dec()
}

func (m *Metrics) JobQueued()  { m.JobsQueued.Inc() }
func (m *Metrics) JobSkipped() { m.JobsSkipped.Inc() }

func (m *Metrics) JobCompleted(result string) {
	m.JobsCompleted.WithLabelValues(result).Inc()
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
