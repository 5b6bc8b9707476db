package telemetry

import (
	"context"

	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/internal/streaming"
)

// HubSink republishes telemetry on an EventHub for live subscribers (SSE).
type HubSink struct {
	hub streaming.EventHub
}

// NewHubSink creates a HubSink publishing to hub.
func NewHubSink(hub streaming.EventHub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) LogToolExecution(ctx context.Context, exec ToolExecution) {
	s.publish(ctx, exec.EventName(), exec.Payload())
}

func (s *HubSink) LogEvent(ctx context.Context, name string, payload map[string]any) {
	s.publish(ctx, name, payload)
}

func (s *HubSink) LogError(ctx context.Context, err error, fields map[string]any) {
	s.publish(ctx, "error", errorPayload(err, fields))
}

func (s *HubSink) publish(ctx context.Context, name string, payload map[string]any) {
	agent := logging.AgentType(ctx)
	if a, ok := payload["agent_type"].(string); ok && a != "" {
		agent = a
	}
	_ = s.hub.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
		WorkflowID: logging.WorkflowID(ctx),
		AgentType:  agent,
		EventType:  name,
		Payload:    payload,
	})
}
