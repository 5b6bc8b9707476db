package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/shopsync/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// storeFactories runs each behavioural test against every Store implementation.
var storeFactories = map[string]func(t *testing.T) Store{
	"libsql": func(t *testing.T) Store { return newTestStore(t) },
	"memory": func(t *testing.T) Store { return NewMemoryStore() },
}

func seedWorkflow(t *testing.T, s Store, userID string) *schema.WorkflowRecord {
	t.Helper()
	wf := &schema.WorkflowRecord{
		ID:     "workflow_" + uuid.NewString(),
		UserID: userID,
		Interaction: schema.Interaction{
			Type: "page_view",
			Data: map[string]any{"product_id": "sku-1"},
		},
		Status:    schema.WorkflowStatusCreated,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateWorkflow(context.Background(), wf))
	return wf
}

func TestStore_CreateAndGetWorkflow(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			wf := seedWorkflow(t, s, "user-1")

			got, err := s.GetWorkflow(context.Background(), wf.ID)
			require.NoError(t, err)
			assert.Equal(t, wf.ID, got.ID)
			assert.Equal(t, "user-1", got.UserID)
			assert.Equal(t, schema.WorkflowStatusCreated, got.Status)
			assert.Equal(t, "page_view", got.Interaction.Type)
			assert.Equal(t, "sku-1", got.Interaction.Data["product_id"])
			assert.Nil(t, got.StartedAt)
		})
	}
}

func TestStore_GetWorkflow_NotFound(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			_, err := s.GetWorkflow(context.Background(), "workflow_missing")
			assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))

			err = s.UpdateWorkflow(context.Background(), "workflow_missing", WorkflowUpdate{Status: ptr(schema.WorkflowStatusRunning)})
			assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
		})
	}
}

func TestStore_UpdateWorkflow(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			wf := seedWorkflow(t, s, "user-1")

			started := time.Now().UTC()
			require.NoError(t, s.UpdateWorkflow(ctx, wf.ID, WorkflowUpdate{
				Status:    ptr(schema.WorkflowStatusRunning),
				StartedAt: &started,
			}))

			completed := started.Add(time.Second)
			require.NoError(t, s.UpdateWorkflow(ctx, wf.ID, WorkflowUpdate{
				Status:      ptr(schema.WorkflowStatusError),
				Error:       ptr("agent pricing failed"),
				ErrorCode:   ptr(schema.ErrCodeAgentProcessing),
				Agents:      map[schema.AgentType]schema.AgentRunStatus{schema.AgentPricing: schema.AgentRunFailed},
				Results:     json.RawMessage(`{"pricing":{}}`),
				CompletedAt: &completed,
			}))

			got, err := s.GetWorkflow(ctx, wf.ID)
			require.NoError(t, err)
			assert.Equal(t, schema.WorkflowStatusError, got.Status)
			assert.Equal(t, "agent pricing failed", got.Error)
			assert.Equal(t, schema.ErrCodeAgentProcessing, got.ErrorCode)
			assert.Equal(t, schema.AgentRunFailed, got.Agents[schema.AgentPricing])
			assert.JSONEq(t, `{"pricing":{}}`, string(got.Results))
			require.NotNil(t, got.StartedAt)
			require.NotNil(t, got.CompletedAt)

			require.NoError(t, s.UpdateWorkflow(ctx, wf.ID, WorkflowUpdate{}), "empty update is a no-op")
		})
	}
}

func TestStore_ListWorkflows(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			seedWorkflow(t, s, "alice")
			seedWorkflow(t, s, "alice")
			bob := seedWorkflow(t, s, "bob")
			require.NoError(t, s.UpdateWorkflow(ctx, bob.ID, WorkflowUpdate{Status: ptr(schema.WorkflowStatusSuccess)}))

			all, err := s.ListWorkflows(ctx, WorkflowFilter{})
			require.NoError(t, err)
			assert.Len(t, all, 3)

			alice, err := s.ListWorkflows(ctx, WorkflowFilter{UserID: "alice"})
			require.NoError(t, err)
			assert.Len(t, alice, 2)

			done, err := s.ListWorkflows(ctx, WorkflowFilter{Status: ptr(schema.WorkflowStatusSuccess)})
			require.NoError(t, err)
			require.Len(t, done, 1)
			assert.Equal(t, bob.ID, done[0].ID)

			limited, err := s.ListWorkflows(ctx, WorkflowFilter{Limit: 2})
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestStore_PruneWorkflows(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			now := time.Now().UTC()

			old := seedWorkflow(t, s, "u")
			oldDone := now.Add(-48 * time.Hour)
			require.NoError(t, s.UpdateWorkflow(ctx, old.ID, WorkflowUpdate{Status: ptr(schema.WorkflowStatusSuccess), CompletedAt: &oldDone}))
			require.NoError(t, s.AppendEvent(ctx, &Event{WorkflowID: old.ID, Type: schema.EventWorkflowStarted}))

			recent := seedWorkflow(t, s, "u")
			require.NoError(t, s.UpdateWorkflow(ctx, recent.ID, WorkflowUpdate{Status: ptr(schema.WorkflowStatusError), CompletedAt: &now}))

			running := seedWorkflow(t, s, "u")
			require.NoError(t, s.UpdateWorkflow(ctx, running.ID, WorkflowUpdate{Status: ptr(schema.WorkflowStatusRunning)}))

			n, err := s.PruneWorkflows(ctx, now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			_, err = s.GetWorkflow(ctx, old.ID)
			assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
			events, err := s.GetEvents(ctx, old.ID, 0)
			require.NoError(t, err)
			assert.Empty(t, events)

			_, err = s.GetWorkflow(ctx, recent.ID)
			assert.NoError(t, err)
			_, err = s.GetWorkflow(ctx, running.ID)
			assert.NoError(t, err)
		})
	}
}

func TestStore_AppendEvent_Sequence(t *testing.T) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				e := &Event{WorkflowID: "wf-a", AgentType: "trend", Type: schema.EventAgentMetrics, Payload: json.RawMessage(`{"n":1}`)}
				require.NoError(t, s.AppendEvent(ctx, e))
				assert.Equal(t, int64(i+1), e.Sequence)
				assert.False(t, e.Timestamp.IsZero())
			}
			other := &Event{WorkflowID: "wf-b", Type: schema.EventWorkflowStarted}
			require.NoError(t, s.AppendEvent(ctx, other))
			assert.Equal(t, int64(1), other.Sequence, "sequences are per workflow")

			events, err := s.GetEvents(ctx, "wf-a", 1)
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, int64(2), events[0].Sequence)
			assert.Equal(t, "trend", events[0].AgentType)
			assert.JSONEq(t, `{"n":1}`, string(events[0].Payload))
		})
	}
}

func TestLibSQLStore_MigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header only;\nCREATE TABLE a (x INT);\n\n-- note\nCREATE INDEX i ON a(x);")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE INDEX i")
}

func ptr[T any](v T) *T { return &v }
