package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	workflowIDKey ctxKey = iota
	agentTypeKey
	toolKey
)

// correlationFields lists every context key copied into log records, in output order.
var correlationFields = []struct {
	key  ctxKey
	attr string
}{
	{workflowIDKey, "workflow_id"},
	{agentTypeKey, "agent_type"},
	{toolKey, "tool"},
}

// WithWorkflowID returns a context carrying the workflow run ID.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// WithAgentType returns a context carrying the agent currently processing.
func WithAgentType(ctx context.Context, agentType string) context.Context {
	return context.WithValue(ctx, agentTypeKey, agentType)
}

// WithTool returns a context carrying the tool currently executing.
func WithTool(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolKey, name)
}

// WorkflowID extracts the workflow ID from the context, or "" if absent.
func WorkflowID(ctx context.Context) string {
	return stringValue(ctx, workflowIDKey)
}

// AgentType extracts the agent type from the context, or "" if absent.
func AgentType(ctx context.Context) string {
	return stringValue(ctx, agentTypeKey)
}

// Tool extracts the tool name from the context, or "" if absent.
func Tool(ctx context.Context) string {
	return stringValue(ctx, toolKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, f := range correlationFields {
		if v := stringValue(ctx, f.key); v != "" {
			attrs = append(attrs, slog.String(f.attr, v))
		}
	}
	return attrs
}

// LogWith returns a logger enriched with the correlation values found in ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler and injects correlation values
// from the context into every record, so logger.InfoContext(ctx, ...) is enough.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// ParseLevel maps debug|info|warn|error to an slog level. Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the process logger: a text handler on w wrapped in a CorrelationHandler.
// Pass a *slog.LevelVar to change the level at runtime.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewCorrelationHandler(inner))
}

// Discard returns a logger that drops everything. Used as the nil-logger fallback in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
