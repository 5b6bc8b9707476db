package engine

import (
	"context"

	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/internal/telemetry"
	"github.com/rendis/shopsync/pkg/schema"
)

// ValidWorkflowTransitions defines the allowed workflow state transitions.
// created -> error covers runs rejected before any agent starts.
var ValidWorkflowTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	schema.WorkflowStatusCreated: {schema.WorkflowStatusRunning, schema.WorkflowStatusError},
	schema.WorkflowStatusRunning: {schema.WorkflowStatusSuccess, schema.WorkflowStatusError},
}

// ValidAgentTransitions defines the allowed per-run agent state transitions.
var ValidAgentTransitions = map[schema.AgentRunStatus][]schema.AgentRunStatus{
	schema.AgentRunPending: {schema.AgentRunRunning, schema.AgentRunSkipped},
	schema.AgentRunRunning: {schema.AgentRunCompleted, schema.AgentRunFailed},
}

// --- Workflow FSM ---

// WorkflowFSM validates workflow transitions and reports each one to the sink.
// The caller persists the new state.
type WorkflowFSM struct {
	sink telemetry.Sink
}

// NewWorkflowFSM creates a WorkflowFSM emitting through sink.
func NewWorkflowFSM(sink telemetry.Sink) *WorkflowFSM {
	return &WorkflowFSM{sink: sink}
}

// Transition checks from -> to and emits the matching workflow event with payload.
func (f *WorkflowFSM) Transition(ctx context.Context, from, to schema.WorkflowStatus, payload map[string]any) error {
	if !isValidWorkflowTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid workflow transition: %s -> %s", from, to).
			WithDetails(map[string]any{
				"workflow_id": logging.WorkflowID(ctx),
				"from":        string(from),
				"to":          string(to),
			})
	}
	if event := workflowEventType(to, payload); event != "" {
		f.sink.LogEvent(ctx, event, payload)
	}
	return nil
}

func isValidWorkflowTransition(from, to schema.WorkflowStatus) bool {
	for _, allowed := range ValidWorkflowTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func workflowEventType(to schema.WorkflowStatus, payload map[string]any) string {
	switch to {
	case schema.WorkflowStatusRunning:
		return schema.EventWorkflowStarted
	case schema.WorkflowStatusSuccess:
		return schema.EventWorkflowCompleted
	case schema.WorkflowStatusError:
		if code, _ := payload["error_code"].(string); code == schema.ErrCodeWorkflowTimeout {
			return schema.EventWorkflowTimedOut
		}
		return schema.EventWorkflowFailed
	default:
		return ""
	}
}

// --- Agent FSM ---

// AgentFSM does the same for agent nodes within one run.
type AgentFSM struct {
	sink telemetry.Sink
}

// NewAgentFSM creates an AgentFSM emitting through sink.
func NewAgentFSM(sink telemetry.Sink) *AgentFSM {
	return &AgentFSM{sink: sink}
}

// Transition checks from -> to for agent t and emits the matching agent event.
func (f *AgentFSM) Transition(ctx context.Context, t schema.AgentType, from, to schema.AgentRunStatus, payload map[string]any) error {
	if !isValidAgentTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid agent transition: %s -> %s", from, to).WithAgent(t)
	}
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payload["agent_type"] = string(t)
	if event := agentEventType(to); event != "" {
		f.sink.LogEvent(logging.WithAgentType(ctx, string(t)), event, payload)
	}
	return nil
}

func isValidAgentTransition(from, to schema.AgentRunStatus) bool {
	for _, allowed := range ValidAgentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func agentEventType(to schema.AgentRunStatus) string {
	switch to {
	case schema.AgentRunRunning:
		return schema.EventAgentStarted
	case schema.AgentRunCompleted:
		return schema.EventAgentCompleted
	case schema.AgentRunFailed:
		return schema.EventAgentFailed
	case schema.AgentRunSkipped:
		return schema.EventAgentSkipped
	default:
		return ""
	}
}
