// Package telemetry exposes the service's Prometheus metrics and its
// tracer handle.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the service's Prometheus collectors. One instance is shared
// by every session the server runs.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted   prometheus.Counter
	SessionsCompleted *prometheus.CounterVec
	AgentsSpawned     *prometheus.CounterVec
	ToolCalls         *prometheus.CounterVec
	LLMTokens         *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
	SessionCost       prometheus.Histogram
}

// NewMetrics builds and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "sessions_started_total",
			Help:      "Research sessions accepted.",
		}),
		SessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "sessions_completed_total",
			Help:      "Research sessions finished, by terminal status.",
		}, []string{"status"}),
		AgentsSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "agents_spawned_total",
			Help:      "Sub-agents spawned, by role.",
		}, []string{"role"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "tool_calls_total",
			Help:      "Tool calls executed, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "llm_tokens_total",
			Help:      "Model tokens consumed, by direction.",
		}, []string{"direction"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deepresearch",
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of finished sessions.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		}),
		SessionCost: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deepresearch",
			Name:      "session_cost_dollars",
			Help:      "Estimated total cost of finished sessions.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
	reg.MustRegister(
		m.SessionsStarted,
		m.SessionsCompleted,
		m.AgentsSpawned,
		m.ToolCalls,
		m.LLMTokens,
		m.SessionDuration,
		m.SessionCost,
	)
	return m
}

// Handler serves this registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Tracer returns the named tracer from the global provider. Without an SDK
// installed it is a no-op, which is the intended default.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
