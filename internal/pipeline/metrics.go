package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the pipeline's Prometheus instruments.
type Metrics struct {
	// MessagesTotal counts processed messages.
	// Labels: intent, status (success|error|dropped)
	MessagesTotal *prometheus.CounterVec

	// GenerateDuration measures provider generation latency in seconds.
	// Labels: provider, model
	GenerateDuration *prometheus.HistogramVec

	// TokensTotal tracks token consumption.
	// Labels: provider, model, type (input|output)
	TokensTotal *prometheus.CounterVec

	// ToolExecutionsTotal counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionsTotal *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics on reg (the default registerer
// when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "homebrain_messages_total",
				Help: "Total number of inbound messages by intent and outcome",
			},
			[]string{"intent", "status"},
		),
		GenerateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "homebrain_generate_duration_seconds",
				Help:    "Duration of LLM generation in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "homebrain_llm_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "homebrain_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
	}
}
