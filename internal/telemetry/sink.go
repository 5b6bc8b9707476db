// Package telemetry fans coordination events out to logs, metrics, live
// subscribers and the persistent event log. Sinks are fire-and-forget: nothing
// a sink does may fail the operation that reported to it.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/pkg/schema"
)

// ToolExecution describes one uncached tool invocation.
type ToolExecution struct {
	Tool     string
	Args     map[string]any
	Result   any
	Err      error
	Duration time.Duration
}

// Status returns "success" or "error".
func (te ToolExecution) Status() string {
	if te.Err != nil {
		return "error"
	}
	return "success"
}

// Payload renders the execution as an event payload.
func (te ToolExecution) Payload() map[string]any {
	p := map[string]any{
		"tool":              te.Tool,
		"args":              te.Args,
		"execution_time_ms": float64(te.Duration.Microseconds()) / 1000,
		"status":            te.Status(),
	}
	if te.Err != nil {
		p["error"] = te.Err.Error()
	} else {
		p["result"] = te.Result
	}
	return p
}

// EventName maps the execution outcome to its event type.
func (te ToolExecution) EventName() string {
	if te.Err != nil {
		return schema.EventToolFailed
	}
	return schema.EventToolExecuted
}

// Sink receives tool executions, named events and errors.
// Implementations must be safe for concurrent use and must not block for long.
type Sink interface {
	LogToolExecution(ctx context.Context, exec ToolExecution)
	LogEvent(ctx context.Context, name string, payload map[string]any)
	LogError(ctx context.Context, err error, fields map[string]any)
}

// Nop discards everything.
type Nop struct{}

func (Nop) LogToolExecution(context.Context, ToolExecution)  {}
func (Nop) LogEvent(context.Context, string, map[string]any) {}
func (Nop) LogError(context.Context, error, map[string]any)  {}

// Fanout delivers every call to each of its sinks in order.
// A panicking sink is recovered and reported to the logger; the remaining sinks still run.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout combines sinks. Nil entries are skipped.
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = logging.Discard()
	}
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) LogToolExecution(ctx context.Context, exec ToolExecution) {
	for _, s := range f.sinks {
		f.guard(ctx, "tool_execution", func() { s.LogToolExecution(ctx, exec) })
	}
}

func (f *Fanout) LogEvent(ctx context.Context, name string, payload map[string]any) {
	for _, s := range f.sinks {
		f.guard(ctx, name, func() { s.LogEvent(ctx, name, payload) })
	}
}

func (f *Fanout) LogError(ctx context.Context, err error, fields map[string]any) {
	for _, s := range f.sinks {
		f.guard(ctx, "error", func() { s.LogError(ctx, err, fields) })
	}
}

func (f *Fanout) guard(ctx context.Context, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.WarnContext(ctx, "telemetry sink panicked", "event", what, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
