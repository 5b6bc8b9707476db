package store

import (
	"context"
	"fmt"

	"github.com/rendis/shopsync/pkg/schema"
)

// EventLog provides replay over the append-only event log of a Store.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-workflow sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// GetEvents returns events for a workflow with sequence > since.
func (el *EventLog) GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, workflowID, since)
}

// ReplayAgents rebuilds the per-agent outcome of a workflow run from its agent_* events.
// Returns a STORE_ERROR if the sequence has gaps.
func (el *EventLog) ReplayAgents(ctx context.Context, workflowID string) (map[schema.AgentType]schema.AgentRunStatus, error) {
	events, err := el.store.GetEvents(ctx, workflowID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	states := make(map[schema.AgentType]schema.AgentRunStatus)
	for i, e := range events {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in workflow %s: expected %d, got %d", workflowID, expected, e.Sequence)
		}
		if e.AgentType == "" {
			continue
		}
		at := schema.AgentType(e.AgentType)
		switch e.Type {
		case schema.EventAgentStarted:
			states[at] = schema.AgentRunRunning
		case schema.EventAgentCompleted:
			states[at] = schema.AgentRunCompleted
		case schema.EventAgentFailed:
			states[at] = schema.AgentRunFailed
		case schema.EventAgentSkipped:
			states[at] = schema.AgentRunSkipped
		}
	}
	return states, nil
}
