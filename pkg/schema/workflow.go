package schema

import (
	"encoding/json"
	"time"
)

// Workflow execution modes.
const (
	WorkflowTypeParallel   = "parallel"
	WorkflowTypeSequential = "sequential"
)

// Failure policies applied when an agent in the graph fails.
const (
	// FailFast cancels every outstanding agent on the first failure.
	FailFast = "fail_fast"
	// ContinueIndependent skips only the failed agent's descendants.
	ContinueIndependent = "continue_independent"
)

// WorkflowConfig controls which agents run and how a workflow run is bounded.
type WorkflowConfig struct {
	EnabledAgents        []AgentType `json:"enabled_agents"`
	WorkflowType         string      `json:"workflow_type"`
	CoordinationStrategy string      `json:"coordination_strategy"`
	MaxSteps             int         `json:"max_steps"`
	TimeoutSeconds       float64     `json:"timeout_seconds"`
	MonitoringInterval   float64     `json:"monitoring_interval"`
	FailurePolicy        string      `json:"failure_policy,omitempty"`
	MaxConcurrency       int         `json:"max_concurrency,omitempty"`
}

// DefaultWorkflowConfig enables every agent with a 30s budget.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		EnabledAgents:        AllAgentTypes(),
		WorkflowType:         WorkflowTypeParallel,
		CoordinationStrategy: "consensus",
		MaxSteps:             50,
		TimeoutSeconds:       30,
		MonitoringInterval:   5,
		FailurePolicy:        FailFast,
	}
}

// Timeout returns the workflow budget as a duration.
func (c WorkflowConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// Interval returns the monitoring poll interval as a duration.
func (c WorkflowConfig) Interval() time.Duration {
	return time.Duration(c.MonitoringInterval * float64(time.Second))
}

// IsEnabled reports whether t is part of the enabled subset.
func (c WorkflowConfig) IsEnabled(t AgentType) bool {
	for _, e := range c.EnabledAgents {
		if e == t {
			return true
		}
	}
	return false
}

// Clone returns a copy with its own agent slice.
func (c WorkflowConfig) Clone() WorkflowConfig {
	out := c
	out.EnabledAgents = append([]AgentType(nil), c.EnabledAgents...)
	return out
}

// Interaction is one inbound user event.
type Interaction struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Envelope statuses.
const (
	EnvelopeSuccess = "success"
	EnvelopeError   = "error"
)

// Envelope is the outcome of processing one interaction.
type Envelope struct {
	WorkflowID string         `json:"workflow_id"`
	Status     string         `json:"status"`
	Results    map[string]any `json:"results,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// WorkflowRecord is the persisted state of a single workflow run.
type WorkflowRecord struct {
	ID          string                       `json:"id"`
	UserID      string                       `json:"user_id"`
	Interaction Interaction                  `json:"interaction"`
	Status      WorkflowStatus               `json:"status"`
	Agents      map[AgentType]AgentRunStatus `json:"agents,omitempty"`
	Results     json.RawMessage              `json:"results,omitempty"`
	Error       string                       `json:"error,omitempty"`
	ErrorCode   string                       `json:"error_code,omitempty"`
	CreatedAt   time.Time                    `json:"created_at"`
	StartedAt   *time.Time                   `json:"started_at,omitempty"`
	CompletedAt *time.Time                   `json:"completed_at,omitempty"`
}
