package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/shopsync/internal/streaming"
	"github.com/rendis/shopsync/pkg/schema"
)

// UserNotifier pushes notifications to the client acting for a user.
type UserNotifier interface {
	Notify(ctx context.Context, userID string, payload map[string]any) error
}

// MCPNotifier implements UserNotifier with MCP server notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier bound to mcpServer's sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notifications/message to the user's session.
// Returns nil when the user has no session.
func (n *MCPNotifier) Notify(_ context.Context, userID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(userID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

var terminalEvents = []string{
	schema.EventWorkflowCompleted,
	schema.EventWorkflowFailed,
	schema.EventWorkflowTimedOut,
}

// WatchCompletions subscribes to terminal workflow events on the hub and
// forwards each to the session of the workflow's user. The returned func
// stops the watcher.
func (s *Server) WatchCompletions(ctx context.Context) (func(), error) {
	ch, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{EventTypes: terminalEvents})
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.forward(ctx, ev)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (s *Server) forward(ctx context.Context, ev streaming.StreamEvent) {
	payload, _ := ev.Payload.(map[string]any)
	userID, _ := payload["user_id"].(string)
	if userID == "" {
		return
	}
	msg := map[string]any{
		"event":       ev.EventType,
		"workflow_id": ev.WorkflowID,
	}
	if code, ok := payload["error_code"]; ok {
		msg["error_code"] = code
	}
	if err := s.notifier.Notify(ctx, userID, msg); err != nil {
		s.logger.Warn("completion notification failed", "user_id", userID, "workflow_id", ev.WorkflowID, "error", err)
	}
}
