package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/internal/store"
	"github.com/rendis/shopsync/pkg/schema"
)

// EventAppender is the subset of store.Store the StoreSink needs.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// StoreSink persists telemetry to the event log. Write failures are logged, never returned.
type StoreSink struct {
	events EventAppender
	logger *slog.Logger
}

// NewStoreSink creates a StoreSink.
func NewStoreSink(events EventAppender, logger *slog.Logger) *StoreSink {
	if logger == nil {
		logger = logging.Discard()
	}
	return &StoreSink{events: events, logger: logger}
}

func (s *StoreSink) LogToolExecution(ctx context.Context, exec ToolExecution) {
	s.append(ctx, exec.EventName(), exec.Payload())
}

func (s *StoreSink) LogEvent(ctx context.Context, name string, payload map[string]any) {
	s.append(ctx, name, payload)
}

func (s *StoreSink) LogError(ctx context.Context, err error, fields map[string]any) {
	s.append(ctx, "error", errorPayload(err, fields))
}

func (s *StoreSink) append(ctx context.Context, name string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(map[string]any{"marshal_error": err.Error()})
	}
	agent := logging.AgentType(ctx)
	if a, ok := payload["agent_type"].(string); ok && a != "" {
		agent = a
	}
	// Persist even when the run context has already been cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := s.events.AppendEvent(ctx, &store.Event{
		WorkflowID: logging.WorkflowID(ctx),
		AgentType:  agent,
		Type:       name,
		Payload:    raw,
	}); err != nil {
		s.logger.WarnContext(ctx, "event log append failed", "event", name, "error", err)
	}
}

func errorPayload(err error, fields map[string]any) map[string]any {
	p := map[string]any{"error": err.Error()}
	if code := schema.ErrorCode(err); code != "" {
		p["code"] = code
	}
	for k, v := range fields {
		p[k] = v
	}
	return p
}
