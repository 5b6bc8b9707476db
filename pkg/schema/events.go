package schema

// Event type constants for telemetry and the workflow event log.
const (
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"
	EventWorkflowTimedOut  = "workflow_timed_out"

	EventAgentStarted   = "agent_started"
	EventAgentCompleted = "agent_completed"
	EventAgentFailed    = "agent_failed"
	EventAgentSkipped   = "agent_skipped"
	EventAgentMetrics   = "agent_metrics"

	EventAgentConfigured    = "agent_configured"
	EventWorkflowConfigured = "workflow_configured"

	EventToolExecuted = "tool_executed"
	EventToolFailed   = "tool_failed"

	EventCircuitBreakerOpen     = "circuit_breaker_open"
	EventCircuitBreakerHalfOpen = "circuit_breaker_half_open"
	EventCircuitBreakerClosed   = "circuit_breaker_closed"

	EventCoordinatorShutdown = "coordinator_shutdown"
	EventRetentionPruned     = "retention_pruned"
)

// WorkflowStatus represents the lifecycle state of a workflow run.
type WorkflowStatus string

const (
	WorkflowStatusCreated WorkflowStatus = "created"
	WorkflowStatusRunning WorkflowStatus = "running"
	WorkflowStatusSuccess WorkflowStatus = "success"
	WorkflowStatusError   WorkflowStatus = "error"
)

// IsTerminal reports whether no further transition is possible from s.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusSuccess || s == WorkflowStatusError
}

// AgentRunStatus is the outcome of one agent node within a workflow run.
type AgentRunStatus string

const (
	AgentRunPending   AgentRunStatus = "pending"
	AgentRunRunning   AgentRunStatus = "running"
	AgentRunCompleted AgentRunStatus = "completed"
	AgentRunFailed    AgentRunStatus = "failed"
	AgentRunSkipped   AgentRunStatus = "skipped"
)
