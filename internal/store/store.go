package store

import (
	"context"
	"time"

	"github.com/rendis/shopsync/pkg/schema"
)

// Store defines the persistence contract for workflow runs and their event log.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *schema.WorkflowRecord) error
	GetWorkflow(ctx context.Context, id string) (*schema.WorkflowRecord, error)
	UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.WorkflowRecord, error)
	// PruneWorkflows deletes terminal runs completed before the cutoff, with their events.
	PruneWorkflows(ctx context.Context, completedBefore time.Time) (int64, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
