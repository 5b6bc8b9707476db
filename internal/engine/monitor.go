package engine

import (
	"context"
	"time"

	"github.com/rendis/shopsync/internal/agents"
	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/internal/telemetry"
	"github.com/rendis/shopsync/pkg/schema"
)

// monitor polls the agents of one workflow and reports their metrics until
// stopped or until its deadline passes.
type monitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startMonitor launches the polling goroutine. nodes fixes the reporting order.
// interval <= 0 disables polling; the goroutine then only waits for stop or deadline.
func startMonitor(ctx context.Context, nodes []schema.AgentType, set map[schema.AgentType]agents.Agent,
	interval, timeout time.Duration, sink telemetry.Sink) *monitor {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &monitor{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(m.done)

		var deadline <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}
		var tick <-chan time.Time
		if interval > 0 {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-deadline:
				return
			case <-tick:
				for _, t := range nodes {
					if ctx.Err() != nil {
						return
					}
					a, ok := set[t]
					if !ok {
						continue
					}
					sink.LogEvent(logging.WithAgentType(ctx, string(t)), schema.EventAgentMetrics, metricsPayload(t, a))
				}
			}
		}
	}()
	return m
}

// stop cancels the loop and waits for it to exit. Idempotent.
func (m *monitor) stop() {
	m.cancel()
	<-m.done
}

func metricsPayload(t schema.AgentType, a agents.Agent) map[string]any {
	mt := a.Metrics()
	return map[string]any{
		"agent_type":      string(t),
		"active":          a.IsActive(),
		"processing_time": mt.LastProcessingMs,
		"success_rate":    mt.SuccessRate(),
		"error_count":     mt.Errors,
		"memory_usage":    mt.MemoryBytes,
		"invocations":     mt.Invocations,
	}
}
