package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/pkg/schema"
)

func TestWorkflowFSM_HappyPath(t *testing.T) {
	sink := &recordingSink{}
	fsm := NewWorkflowFSM(sink)
	ctx := logging.WithWorkflowID(context.Background(), "workflow_1")

	require.NoError(t, fsm.Transition(ctx, schema.WorkflowStatusCreated, schema.WorkflowStatusRunning, nil))
	require.NoError(t, fsm.Transition(ctx, schema.WorkflowStatusRunning, schema.WorkflowStatusSuccess, map[string]any{"duration_ms": 12.0}))

	assert.Equal(t, []string{schema.EventWorkflowStarted, schema.EventWorkflowCompleted}, sink.names())
	assert.Equal(t, "workflow_1", sink.named(schema.EventWorkflowCompleted)[0].WorkflowID)
}

func TestWorkflowFSM_TimeoutEvent(t *testing.T) {
	sink := &recordingSink{}
	fsm := NewWorkflowFSM(sink)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, schema.WorkflowStatusRunning, schema.WorkflowStatusError,
		map[string]any{"error_code": schema.ErrCodeWorkflowTimeout}))
	require.NoError(t, fsm.Transition(ctx, schema.WorkflowStatusRunning, schema.WorkflowStatusError,
		map[string]any{"error_code": schema.ErrCodeAgentProcessing}))

	assert.Equal(t, []string{schema.EventWorkflowTimedOut, schema.EventWorkflowFailed}, sink.names())
}

func TestWorkflowFSM_InvalidTransitions(t *testing.T) {
	fsm := NewWorkflowFSM(&recordingSink{})
	ctx := context.Background()

	invalid := []struct{ from, to schema.WorkflowStatus }{
		{schema.WorkflowStatusCreated, schema.WorkflowStatusSuccess},
		{schema.WorkflowStatusSuccess, schema.WorkflowStatusRunning},
		{schema.WorkflowStatusError, schema.WorkflowStatusSuccess},
		{schema.WorkflowStatusRunning, schema.WorkflowStatusCreated},
	}
	for _, tc := range invalid {
		err := fsm.Transition(ctx, tc.from, tc.to, nil)
		assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition), "%s -> %s", tc.from, tc.to)
	}
}

func TestAgentFSM_Transitions(t *testing.T) {
	sink := &recordingSink{}
	fsm := NewAgentFSM(sink)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, schema.AgentPricing, schema.AgentRunPending, schema.AgentRunRunning, nil))
	require.NoError(t, fsm.Transition(ctx, schema.AgentPricing, schema.AgentRunRunning, schema.AgentRunFailed, map[string]any{"error": "boom"}))
	require.NoError(t, fsm.Transition(ctx, schema.AgentInventory, schema.AgentRunPending, schema.AgentRunSkipped, nil))

	assert.Equal(t, []string{schema.EventAgentStarted, schema.EventAgentFailed, schema.EventAgentSkipped}, sink.names())
	assert.Equal(t, "pricing", sink.named(schema.EventAgentFailed)[0].Payload["agent_type"])

	err := fsm.Transition(ctx, schema.AgentPricing, schema.AgentRunCompleted, schema.AgentRunRunning, nil)
	var se *schema.ShopSyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.ErrCodeInvalidTransition, se.Code)
	assert.Equal(t, schema.AgentPricing, se.Agent)

	err = fsm.Transition(ctx, schema.AgentPricing, schema.AgentRunPending, schema.AgentRunCompleted, nil)
	assert.Error(t, err)
}
