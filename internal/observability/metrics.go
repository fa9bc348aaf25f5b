// Package observability provides Prometheus metrics on a private registry
// and optional OpenTelemetry tracing.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pyexec"

// MetricsCollector holds all Prometheus metrics for pyexec.
// Uses a custom registry, no global state. All methods are safe on a nil
// receiver.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Tool call metrics.
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	ActiveToolCalls  prometheus.Gauge

	// External manager runs.
	RunnerRunsTotal   *prometheus.CounterVec
	RunnerRunDuration *prometheus.HistogramVec

	// History maintenance.
	HistoryPrunedTotal *prometheus.CounterVec

	// HTTP surface.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total tool calls by tool and result code.",
		}, []string{"tool", "status"}),

		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Tool call duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"tool"}),

		ActiveToolCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tool_calls",
			Help:      "Number of tool calls in flight.",
		}),

		RunnerRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "runs_total",
			Help:      "Total external manager invocations by command and outcome.",
		}, []string{"command", "outcome"}),

		RunnerRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "run_duration_seconds",
			Help:      "External manager invocation duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"command"}),

		HistoryPrunedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "pruned_total",
			Help:      "Invocation history rows removed by the reaper.",
		}, []string{"reason"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.ActiveToolCalls,
		m.RunnerRunsTotal,
		m.RunnerRunDuration,
		m.HistoryPrunedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// ObserveRun implements runner.Recorder.
func (m *MetricsCollector) ObserveRun(command, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunnerRunsTotal.WithLabelValues(command, outcome).Inc()
	m.RunnerRunDuration.WithLabelValues(command).Observe(d.Seconds())
}

// ObservePruned implements reaper.Recorder.
func (m *MetricsCollector) ObservePruned(reason string, n int64) {
	if m == nil {
		return
	}
	m.HistoryPrunedTotal.WithLabelValues(reason).Add(float64(n))
}

// ToolCallStarted marks a tool call in flight and returns a func that
// records its completion with the given status.
func (m *MetricsCollector) ToolCallStarted(tool string) func(status string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.ActiveToolCalls.Inc()
	return func(status string) {
		m.ActiveToolCalls.Dec()
		m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
		m.ToolCallDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
	}
}

// ObserveHTTP records one served HTTP request.
func (m *MetricsCollector) ObserveHTTP(method, path, statusCode string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler serves the private registry in the Prometheus exposition format.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
