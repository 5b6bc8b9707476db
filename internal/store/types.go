package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/shopsync/pkg/schema"
)

// Event is an immutable entry in the telemetry event log.
type Event struct {
	ID         int64           `json:"id"`
	WorkflowID string          `json:"workflow_id,omitempty"`
	AgentType  string          `json:"agent_type,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Status *schema.WorkflowStatus `json:"status,omitempty"`
	UserID string                 `json:"user_id,omitempty"`
	Since  *time.Time             `json:"since,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
	Offset int                    `json:"offset,omitempty"`
}

// WorkflowUpdate specifies mutable fields of a workflow record.
// Nil fields are left untouched.
type WorkflowUpdate struct {
	Status      *schema.WorkflowStatus                     `json:"status,omitempty"`
	Agents      map[schema.AgentType]schema.AgentRunStatus `json:"agents,omitempty"`
	Results     json.RawMessage                            `json:"results,omitempty"`
	Error       *string                                    `json:"error,omitempty"`
	ErrorCode   *string                                    `json:"error_code,omitempty"`
	StartedAt   *time.Time                                 `json:"started_at,omitempty"`
	CompletedAt *time.Time                                 `json:"completed_at,omitempty"`
}

// apply mutates wf in place. Shared by the in-memory store.
func (u WorkflowUpdate) apply(wf *schema.WorkflowRecord) {
	if u.Status != nil {
		wf.Status = *u.Status
	}
	if u.Agents != nil {
		wf.Agents = copyAgents(u.Agents)
	}
	if u.Results != nil {
		wf.Results = append(json.RawMessage(nil), u.Results...)
	}
	if u.Error != nil {
		wf.Error = *u.Error
	}
	if u.ErrorCode != nil {
		wf.ErrorCode = *u.ErrorCode
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		wf.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		wf.CompletedAt = &t
	}
}

func copyAgents(in map[schema.AgentType]schema.AgentRunStatus) map[schema.AgentType]schema.AgentRunStatus {
	if in == nil {
		return nil
	}
	out := make(map[schema.AgentType]schema.AgentRunStatus, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
