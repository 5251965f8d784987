package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts session lifecycle events. A nil *Metrics records nothing.
type Metrics struct {
	started   *prometheus.CounterVec
	ended     *prometheus.CounterVec
	teardown  prometheus.Counter
	active    prometheus.Gauge
	artifacts prometheus.Counter
}

// NewMetrics registers the session collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		started: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loginharness",
			Name:      "sessions_started_total",
			Help:      "Browser sessions bound to an execution unit.",
		}, []string{"backend"}),
		ended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loginharness",
			Name:      "sessions_ended_total",
			Help:      "Browser sessions torn down, by test outcome.",
		}, []string{"backend", "outcome"}),
		teardown: f.NewCounter(prometheus.CounterOpts{
			Namespace: "loginharness",
			Name:      "teardown_failures_total",
			Help:      "Session teardowns that returned an error.",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "loginharness",
			Name:      "sessions_active",
			Help:      "Sessions currently bound to an execution unit.",
		}),
		artifacts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "loginharness",
			Name:      "artifacts_captured_total",
			Help:      "Screenshots captured from live sessions.",
		}),
	}
}

func (m *Metrics) sessionStarted(backend string) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(backend).Inc()
	m.active.Inc()
}

func (m *Metrics) sessionEnded(backend string, failed bool) {
	if m == nil {
		return
	}
	outcome := "passed"
	if failed {
		outcome = "failed"
	}
	m.ended.WithLabelValues(backend, outcome).Inc()
	m.active.Dec()
}

func (m *Metrics) teardownFailed() {
	if m != nil {
		m.teardown.Inc()
	}
}

func (m *Metrics) artifactCaptured() {
	if m != nil {
		m.artifacts.Inc()
	}
}
