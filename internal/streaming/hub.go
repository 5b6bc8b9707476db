package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted while workflows and tools run.
type StreamEvent struct {
	WorkflowID string    `json:"workflow_id,omitempty"`
	AgentType  string    `json:"agent_type,omitempty"`
	EventType  string    `json:"event_type"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	WorkflowID string   `json:"workflow_id,omitempty"`
	AgentType  string   `json:"agent_type,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time coordination events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
