package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/pkg/schema"
)

// PrometheusSink exports telemetry as Prometheus metrics.
type PrometheusSink struct {
	ToolExecutions *prometheus.CounterVec
	ToolLatency    *prometheus.HistogramVec
	Events         *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	Workflows      *prometheus.CounterVec
	WorkflowTime   prometheus.Histogram

	AgentProcessing  *prometheus.GaugeVec
	AgentSuccessRate *prometheus.GaugeVec
	AgentErrors      *prometheus.GaugeVec
	AgentMemory      *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// NewPrometheusSink creates the collectors and registers them on reg.
// Passing a fresh prometheus.NewRegistry() keeps tests isolated.
func NewPrometheusSink(reg *prometheus.Registry) (*PrometheusSink, error) {
	s := &PrometheusSink{
		ToolExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopsync_tool_executions_total",
				Help: "Total number of uncached tool executions",
			},
			[]string{"tool", "status"}, // status: success|error
		),
		ToolLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopsync_tool_latency_seconds",
				Help:    "Tool execution latency in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"tool"},
		),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopsync_events_total",
				Help: "Coordination events by type",
			},
			[]string{"event"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopsync_errors_total",
				Help: "Reported errors by code",
			},
			[]string{"code"},
		),
		Workflows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopsync_workflows_total",
				Help: "Finished workflow runs by status",
			},
			[]string{"status"},
		),
		WorkflowTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shopsync_workflow_duration_seconds",
				Help:    "Workflow run duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		AgentProcessing: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shopsync_agent_processing_seconds",
				Help: "Last observed processing time per agent",
			},
			[]string{"agent"},
		),
		AgentSuccessRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shopsync_agent_success_rate",
				Help: "Fraction of successful invocations per agent",
			},
			[]string{"agent"},
		),
		AgentErrors: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shopsync_agent_errors",
				Help: "Cumulative error count per agent",
			},
			[]string{"agent"},
		),
		AgentMemory: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shopsync_agent_memory_bytes",
				Help: "Approximate conversation memory size per agent",
			},
			[]string{"agent"},
		),
		gatherer: reg,
	}

	for _, c := range []prometheus.Collector{
		s.ToolExecutions, s.ToolLatency, s.Events, s.Errors, s.Workflows, s.WorkflowTime,
		s.AgentProcessing, s.AgentSuccessRate, s.AgentErrors, s.AgentMemory,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

func (s *PrometheusSink) LogToolExecution(_ context.Context, exec ToolExecution) {
	s.ToolExecutions.WithLabelValues(exec.Tool, exec.Status()).Inc()
	s.ToolLatency.WithLabelValues(exec.Tool).Observe(exec.Duration.Seconds())
}

func (s *PrometheusSink) LogEvent(ctx context.Context, name string, payload map[string]any) {
	s.Events.WithLabelValues(name).Inc()

	switch name {
	case schema.EventAgentMetrics:
		agent := logging.AgentType(ctx)
		if a, ok := payload["agent_type"].(string); ok && a != "" {
			agent = a
		}
		if agent == "" {
			return
		}
		if v, ok := number(payload["processing_time"]); ok {
			s.AgentProcessing.WithLabelValues(agent).Set(v / 1000)
		}
		if v, ok := number(payload["success_rate"]); ok {
			s.AgentSuccessRate.WithLabelValues(agent).Set(v)
		}
		if v, ok := number(payload["error_count"]); ok {
			s.AgentErrors.WithLabelValues(agent).Set(v)
		}
		if v, ok := number(payload["memory_usage"]); ok {
			s.AgentMemory.WithLabelValues(agent).Set(v)
		}
	case schema.EventWorkflowCompleted, schema.EventWorkflowFailed, schema.EventWorkflowTimedOut:
		status := string(schema.WorkflowStatusSuccess)
		if name != schema.EventWorkflowCompleted {
			status = string(schema.WorkflowStatusError)
		}
		s.Workflows.WithLabelValues(status).Inc()
		if ms, ok := number(payload["duration_ms"]); ok {
			s.WorkflowTime.Observe(ms / 1000)
		}
	}
}

func (s *PrometheusSink) LogError(_ context.Context, err error, _ map[string]any) {
	code := schema.ErrorCode(err)
	if code == "" {
		code = "UNKNOWN"
	}
	s.Errors.WithLabelValues(code).Inc()
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
