package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/switchyard-ai/switchyard/internal/workerpool"
)

// Metrics is the gateway's Prometheus surface. It owns its registry so
// tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted     prometheus.Counter
	RunsCompleted   prometheus.Counter
	RunsFailed      prometheus.Counter
	ToolInvocations *prometheus.CounterVec
	InboundMessages *prometheus.CounterVec
}

// MetricsOptions wires live gauges to their sources. Nil funcs skip the
// corresponding gauge.
type MetricsOptions struct {
	SessionCount func() int
	PoolStats    func() workerpool.Stats
}

func NewMetrics(opts MetricsOptions) *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchyard_runs_started_total",
			Help: "Agent runs started.",
		}),
		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchyard_runs_completed_total",
			Help: "Agent runs that ended with a completed event.",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchyard_runs_failed_total",
			Help: "Agent runs that ended with an error event.",
		}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchyard_tool_invocations_total",
			Help: "Tool invocations by tool name.",
		}, []string{"tool"}),
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchyard_inbound_messages_total",
			Help: "Normalized inbound messages by channel.",
		}, []string{"channel"}),
	}
	registry.MustRegister(m.RunsStarted, m.RunsCompleted, m.RunsFailed, m.ToolInvocations, m.InboundMessages)

	if opts.SessionCount != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "switchyard_sessions_active",
			Help: "Live sessions held by the manager.",
		}, func() float64 { return float64(opts.SessionCount()) }))
	}
	if opts.PoolStats != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "switchyard_worker_queue_depth",
			Help: "Tasks waiting for a worker.",
		}, func() float64 { return float64(opts.PoolStats().QueuedTasks) }))
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
