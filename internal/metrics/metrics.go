// Package metrics provides Prometheus collectors for the simulation
// engine: events processed, queue depth, convergence duration, and
// active BGP sessions.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector registered against a private registry,
// so tests can build a fresh instance without colliding with the
// default global one.
type Metrics struct {
	registry *prometheus.Registry

	EventsProcessedTotal prometheus.Counter
	NonConvergenceTotal  prometheus.Counter
	QueueLength          prometheus.Gauge
	ActiveSessions       prometheus.Gauge
	ConvergenceDuration  prometheus.Histogram
	SimulateCallsTotal   prometheus.Counter
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the global metrics instance, constructing it on first use.
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New builds a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bgpsim",
			Name:      "events_processed_total",
			Help:      "Total number of queue events drained by Simulate.",
		}),
		NonConvergenceTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bgpsim",
			Name:      "nonconvergence_total",
			Help:      "Number of Simulate calls that exhausted the event budget.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bgpsim",
			Name:      "queue_length",
			Help:      "Number of pending events in the network's queue.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bgpsim",
			Name:      "active_sessions",
			Help:      "Number of configured BGP sessions across all routers.",
		}),
		ConvergenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bgpsim",
			Name:      "convergence_events",
			Help:      "Number of events processed per Simulate call, as a convergence-speed histogram.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}),
		SimulateCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bgpsim",
			Name:      "simulate_calls_total",
			Help:      "Total number of Simulate invocations.",
		}),
	}

	reg.MustRegister(
		m.EventsProcessedTotal,
		m.NonConvergenceTotal,
		m.QueueLength,
		m.ActiveSessions,
		m.ConvergenceDuration,
		m.SimulateCallsTotal,
	)
	return m
}

// RecordSimulate records the outcome of one Simulate call: how many
// events it processed, and whether it converged within budget.
func (m *Metrics) RecordSimulate(eventsProcessed int, converged bool) {
	m.SimulateCallsTotal.Inc()
	m.EventsProcessedTotal.Add(float64(eventsProcessed))
	m.ConvergenceDuration.Observe(float64(eventsProcessed))
	if !converged {
		m.NonConvergenceTotal.Inc()
	}
}

// SetQueueLength reports the current number of pending events.
func (m *Metrics) SetQueueLength(n int) {
	m.QueueLength.Set(float64(n))
}

// SetActiveSessions reports the current number of configured sessions.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// Handler returns an HTTP handler that serves this instance's metrics
// in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
