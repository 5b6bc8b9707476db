package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/shopsync/internal/agents"
	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/pkg/schema"
)

func TestMonitor_ReportsMetricsUntilStopped(t *testing.T) {
	sink := &recordingSink{}
	a := newStubAgent(loy)
	_, err := a.Process(context.Background(), map[string]any{})
	require.NoError(t, err)

	ctx := logging.WithWorkflowID(context.Background(), "workflow_m1")
	m := startMonitor(ctx, []schema.AgentType{loy, pri}, map[schema.AgentType]agents.Agent{loy: a}, 5*time.Millisecond, time.Minute, sink)

	require.Eventually(t, func() bool { return sink.count(schema.EventAgentMetrics) >= 2 }, time.Second, 5*time.Millisecond)
	m.stop()
	m.stop()

	n := sink.count(schema.EventAgentMetrics)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sink.count(schema.EventAgentMetrics), "no metrics after stop")

	ev := sink.named(schema.EventAgentMetrics)[0]
	assert.Equal(t, "workflow_m1", ev.WorkflowID)
	assert.Equal(t, "loyalty", ev.Payload["agent_type"])
	assert.Equal(t, 1.0, ev.Payload["success_rate"])
	assert.Equal(t, int64(0), ev.Payload["error_count"])
	for _, key := range []string{"processing_time", "memory_usage", "active"} {
		assert.Contains(t, ev.Payload, key)
	}
}

func TestMonitor_StopsAtDeadline(t *testing.T) {
	sink := &recordingSink{}
	m := startMonitor(context.Background(), []schema.AgentType{loy},
		map[schema.AgentType]agents.Agent{loy: newStubAgent(loy)}, 5*time.Millisecond, 30*time.Millisecond, sink)

	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop at its deadline")
	}
	m.stop()
}

func TestMonitor_IgnoresParentCancellation(t *testing.T) {
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	m := startMonitor(ctx, []schema.AgentType{loy},
		map[schema.AgentType]agents.Agent{loy: newStubAgent(loy)}, 5*time.Millisecond, time.Minute, sink)
	cancel()

	require.Eventually(t, func() bool { return sink.count(schema.EventAgentMetrics) >= 1 }, time.Second, 5*time.Millisecond)
	m.stop()
}
