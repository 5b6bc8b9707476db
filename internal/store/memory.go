package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rendis/shopsync/pkg/schema"
)

// MemoryStore is a process-local Store. Used when no database path is configured
// and by tests that do not need durability.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*schema.WorkflowRecord
	events    map[string][]*Event
	nextID    int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*schema.WorkflowRecord),
		events:    make(map[string][]*Event),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) CreateWorkflow(_ context.Context, wf *schema.WorkflowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.workflows[wf.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeStore, "workflow %q already exists", wf.ID)
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now().UTC()
	}
	m.workflows[wf.ID] = cloneRecord(wf)
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*schema.WorkflowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, storeNotFound("workflow", id)
	}
	return cloneRecord(wf), nil
}

func (m *MemoryStore) UpdateWorkflow(_ context.Context, id string, update WorkflowUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return storeNotFound("workflow", id)
	}
	update.apply(wf)
	return nil
}

func (m *MemoryStore) ListWorkflows(_ context.Context, filter WorkflowFilter) ([]*schema.WorkflowRecord, error) {
	m.mu.RLock()
	var out []*schema.WorkflowRecord
	for _, wf := range m.workflows {
		if filter.Status != nil && wf.Status != *filter.Status {
			continue
		}
		if filter.UserID != "" && wf.UserID != filter.UserID {
			continue
		}
		if filter.Since != nil && wf.CreatedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, cloneRecord(wf))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) PruneWorkflows(_ context.Context, completedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, wf := range m.workflows {
		if !wf.Status.IsTerminal() || wf.CompletedAt == nil || !wf.CompletedAt.Before(completedBefore) {
			continue
		}
		delete(m.workflows, id)
		delete(m.events, id)
		n++
	}
	return n, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	event.ID = m.nextID
	event.Sequence = int64(len(m.events[event.WorkflowID]) + 1)
	event.Timestamp = timeOrNow(event.Timestamp)
	cp := *event
	cp.Payload = append(json.RawMessage(nil), event.Payload...)
	m.events[event.WorkflowID] = append(m.events[event.WorkflowID], &cp)
	return nil
}

func (m *MemoryStore) GetEvents(_ context.Context, workflowID string, since int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Event
	for _, e := range m.events[workflowID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func cloneRecord(wf *schema.WorkflowRecord) *schema.WorkflowRecord {
	cp := *wf
	cp.Agents = copyAgents(wf.Agents)
	if wf.Results != nil {
		cp.Results = append(json.RawMessage(nil), wf.Results...)
	}
	if wf.Interaction.Data != nil {
		cp.Interaction.Data = make(map[string]any, len(wf.Interaction.Data))
		for k, v := range wf.Interaction.Data {
			cp.Interaction.Data[k] = v
		}
	}
	return &cp
}
