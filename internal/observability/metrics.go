// Package observability holds the in-process Prometheus instrumentation for
// the runtime. Exposing the registry over HTTP is the embedding
// application's concern.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments model calls and tool executions.
type Metrics struct {
	modelCalls   *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
	promptTokens *prometheus.CounterVec
	outputTokens *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolLatency  *prometheus.HistogramVec
	invocations  *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors on reg. Pass
// prometheus.DefaultRegisterer for the process-global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkit_model_calls_total",
			Help: "Model turns by provider, model, and outcome.",
		}, []string{"provider", "model", "outcome"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentkit_model_latency_seconds",
			Help:    "Wall time of one model turn.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider", "model"}),
		promptTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkit_prompt_tokens_total",
			Help: "Prompt tokens reported by providers.",
		}, []string{"provider", "model"}),
		outputTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkit_output_tokens_total",
			Help: "Output tokens reported by providers.",
		}, []string{"provider", "model"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkit_tool_calls_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentkit_tool_latency_seconds",
			Help:    "Wall time of one tool execution.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"tool"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentkit_invocations_total",
			Help: "Invocations by agent and outcome.",
		}, []string{"agent", "outcome"}),
	}
	reg.MustRegister(m.modelCalls, m.modelLatency, m.promptTokens, m.outputTokens,
		m.toolCalls, m.toolLatency, m.invocations)
	return m
}

// ObserveModelCall records one model turn.
func (m *Metrics) ObserveModelCall(provider, model, outcome string, elapsed time.Duration, promptTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(provider, model, outcome).Inc()
	m.modelLatency.WithLabelValues(provider, model).Observe(elapsed.Seconds())
	if promptTokens > 0 {
		m.promptTokens.WithLabelValues(provider, model).Add(float64(promptTokens))
	}
	if outputTokens > 0 {
		m.outputTokens.WithLabelValues(provider, model).Add(float64(outputTokens))
	}
}

// ObserveToolCall records one tool execution.
func (m *Metrics) ObserveToolCall(tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveInvocation records one finished invocation.
func (m *Metrics) ObserveInvocation(agent, outcome string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(agent, outcome).Inc()
}
