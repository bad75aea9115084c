// Package metrics holds the Prometheus collectors of the gateway.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for tool calls.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// DefaultToolDurationBuckets are the default histogram buckets for tool call durations.
// A tool call may include several upstream attempts with backoff in between.
var DefaultToolDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// GatewayMetrics holds the Prometheus metrics for tool calls and upstream requests.
type GatewayMetrics struct {
	// ToolCallsTotal is the total number of tool calls by tool and outcome.
	ToolCallsTotal *prometheus.CounterVec
	// ToolCallDuration is the histogram of tool call durations.
	ToolCallDuration *prometheus.HistogramVec

	// UpstreamRequestsTotal is the total number of upstream attempts by method and status code.
	UpstreamRequestsTotal *prometheus.CounterVec
	// UpstreamRetriesTotal is the total number of retried upstream attempts.
	UpstreamRetriesTotal prometheus.Counter
}

// Recorder is the interface for recording gateway metrics.
// This allows for no-op implementations when metrics are disabled.
type Recorder interface {
	RecordToolCall(tool string, success bool, durationSeconds float64)
	RecordUpstreamRequest(method string, statusCode int)
	RecordUpstreamRetry()
}

// NoOpRecorder is a no-op implementation for when metrics are disabled.
type NoOpRecorder struct{}

// NewGatewayMetricsWithRegistry creates the gateway metrics and registers them with reg.
func NewGatewayMetricsWithRegistry(reg prometheus.Registerer) *GatewayMetrics {
	factory := promauto.With(reg)

	return &GatewayMetrics{
		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_tool_calls_total",
			Help: "Total number of tool calls",
		}, []string{"tool", "outcome"}),

		ToolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outreach_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: DefaultToolDurationBuckets,
		}, []string{"tool"}),

		UpstreamRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_upstream_requests_total",
			Help: "Total number of upstream API attempts",
		}, []string{"method", "code"}),

		UpstreamRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "outreach_upstream_retries_total",
			Help: "Total number of retried upstream API attempts",
		}),
	}
}

// RecordToolCall records a finished tool call.
func (m *GatewayMetrics) RecordToolCall(tool string, success bool, durationSeconds float64) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeError
	}

	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordUpstreamRequest records one upstream attempt. A zero status code means the
// attempt failed before a response was received.
func (m *GatewayMetrics) RecordUpstreamRequest(method string, statusCode int) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	m.UpstreamRequestsTotal.WithLabelValues(method, code).Inc()
}

// RecordUpstreamRetry records that an upstream attempt is going to be retried.
func (m *GatewayMetrics) RecordUpstreamRetry() {
	m.UpstreamRetriesTotal.Inc()
}

// RecordToolCall is a no-op implementation for disabled metrics.
func (NoOpRecorder) RecordToolCall(string, bool, float64) {}

// RecordUpstreamRequest is a no-op implementation for disabled metrics.
func (NoOpRecorder) RecordUpstreamRequest(string, int) {}

// RecordUpstreamRetry is a no-op implementation for disabled metrics.
func (NoOpRecorder) RecordUpstreamRetry() {}
