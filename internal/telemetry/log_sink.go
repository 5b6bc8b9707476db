package telemetry

import (
	"context"
	"log/slog"

	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/pkg/schema"
)

// LogSink writes telemetry as structured log records.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger discards output.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) LogToolExecution(ctx context.Context, exec ToolExecution) {
	ctx = logging.WithTool(ctx, exec.Tool)
	if exec.Err != nil {
		s.logger.WarnContext(ctx, "tool execution failed",
			"duration", exec.Duration, "error", exec.Err)
		return
	}
	s.logger.DebugContext(ctx, "tool executed", "duration", exec.Duration)
}

func (s *LogSink) LogEvent(ctx context.Context, name string, payload map[string]any) {
	level := slog.LevelInfo
	switch name {
	case schema.EventAgentMetrics, schema.EventAgentStarted, schema.EventAgentCompleted:
		level = slog.LevelDebug
	case schema.EventWorkflowFailed, schema.EventWorkflowTimedOut, schema.EventAgentFailed:
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, name, "payload", payload)
}

func (s *LogSink) LogError(ctx context.Context, err error, fields map[string]any) {
	attrs := []any{"error", err}
	if code := schema.ErrorCode(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if len(fields) > 0 {
		attrs = append(attrs, "context", fields)
	}
	s.logger.ErrorContext(ctx, "coordination error", attrs...)
}
