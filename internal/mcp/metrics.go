package mcp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks tool invocations.
type Metrics struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics registers the tool metrics on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoryd",
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool name and outcome.",
		}, []string{"tool", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memoryd",
			Name:      "tool_duration_seconds",
			Help:      "Tool handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	reg.MustRegister(m.invocations, m.duration)
	return m
}

// RecordInvocation counts one finished tool call.
func (m *Metrics) RecordInvocation(tool string, took time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.invocations.WithLabelValues(tool, status).Inc()
	m.duration.WithLabelValues(tool).Observe(took.Seconds())
}
