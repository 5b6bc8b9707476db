package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/shopsync/internal/agents"
	"github.com/rendis/shopsync/internal/expressions"
	"github.com/rendis/shopsync/internal/store"
	"github.com/rendis/shopsync/internal/tools"
	"github.com/rendis/shopsync/pkg/schema"
)

type harness struct {
	c      *Coordinator
	sink   *recordingSink
	store  *store.MemoryStore
	agents map[schema.AgentType]*stubAgent

	mu    sync.Mutex
	built map[schema.AgentType]int
}

func newHarness(t *testing.T, wf *schema.WorkflowConfig) *harness {
	t.Helper()
	h := &harness{
		sink:   &recordingSink{},
		store:  store.NewMemoryStore(),
		agents: make(map[schema.AgentType]*stubAgent),
		built:  make(map[schema.AgentType]int),
	}
	for _, at := range schema.AllAgentTypes() {
		h.agents[at] = newStubAgent(at)
	}

	c, err := NewCoordinator(Deps{
		Tools: tools.NewRegistry(),
		Store: h.store,
		Sink:  h.sink,
		Factory: func(at schema.AgentType, _ schema.AgentConfig) (agents.Agent, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.built[at]++
			if h.built[at] == 1 {
				return h.agents[at], nil
			}
			prev := h.agents[at]
			prev.mu.Lock()
			next := &stubAgent{typ: at, fn: prev.fn}
			prev.mu.Unlock()
			h.agents[at] = next
			return next, nil
		},
	}, CoordinatorConfig{PoolSize: 8, Workflow: wf})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	h.c = c
	return h
}

func (h *harness) on(at schema.AgentType, fn func(ctx context.Context, input map[string]any) (map[string]any, error)) {
	a := h.agents[at]
	a.mu.Lock()
	a.fn = fn
	a.mu.Unlock()
}

func (h *harness) builtCount(at schema.AgentType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.built[at]
}

func workflowWith(mutate func(*schema.WorkflowConfig)) *schema.WorkflowConfig {
	wf := schema.DefaultWorkflowConfig()
	mutate(&wf)
	return &wf
}

var viewInteraction = schema.Interaction{Type: "view", Data: map[string]any{"product_id": "p1"}}

func TestProcess_Success(t *testing.T) {
	h := newHarness(t, nil)

	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)

	require.Equal(t, schema.EnvelopeSuccess, env.Status, env.Error)
	assert.True(t, strings.HasPrefix(env.WorkflowID, "workflow_"))
	assert.Empty(t, env.Error)
	for _, key := range ResultKeys() {
		assert.Contains(t, env.Results, key)
	}
	assert.Equal(t, map[string]any{"agent": "personalization"}, env.Results["recommendations"])
	assert.Equal(t, map[string]any{"agent": "customer_support"}, env.Results["support"])
	for _, a := range h.agents {
		assert.Equal(t, 1, a.calls(), a.typ)
	}

	names := h.sink.names()
	require.NotEmpty(t, names)
	assert.Equal(t, schema.EventWorkflowStarted, names[0])
	assert.Equal(t, 9, h.sink.count(schema.EventAgentStarted))
	assert.Equal(t, 9, h.sink.count(schema.EventAgentCompleted))
	assert.Equal(t, 1, h.sink.count(schema.EventWorkflowCompleted))
	assert.Equal(t, 0, h.c.ActiveMonitors())
}

func TestProcess_RespectsDependencies(t *testing.T) {
	h := newHarness(t, nil)

	var mu sync.Mutex
	var seq []string
	mark := func(s string) {
		mu.Lock()
		seq = append(seq, s)
		mu.Unlock()
	}
	for _, at := range schema.AllAgentTypes() {
		at := at
		h.on(at, func(context.Context, map[string]any) (map[string]any, error) {
			mark("start:" + string(at))
			time.Sleep(2 * time.Millisecond)
			mark("end:" + string(at))
			return map[string]any{"agent": string(at)}, nil
		})
	}

	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)
	require.Equal(t, schema.EnvelopeSuccess, env.Status, env.Error)

	pos := make(map[string]int)
	for i, s := range seq {
		pos[s] = i
	}
	for _, e := range DefaultEdges() {
		assert.Less(t, pos["end:"+string(e.From)], pos["start:"+string(e.To)], e.String())
	}
}

func TestProcess_AgentInput(t *testing.T) {
	h := newHarness(t, nil)

	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)
	require.Equal(t, schema.EnvelopeSuccess, env.Status, env.Error)

	root := h.agents[dc].lastInput()
	assert.Equal(t, "u1", root["user_id"])
	assert.Equal(t, "view", root["interaction_type"])
	assert.Equal(t, "p1", root["product_id"])
	assert.Equal(t, map[string]any{"product_id": "p1"}, root["data"])
	assert.Empty(t, root["agent_results"])

	pricing := h.agents[pri].lastInput()
	results, ok := pricing["agent_results"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, results, 4)
	for _, anc := range []schema.AgentType{dc, per, sen, tre} {
		assert.Equal(t, map[string]any{"agent": string(anc)}, results[string(anc)], anc)
	}
}

func TestProcess_DataCollectionFailureStopsSuccessors(t *testing.T) {
	h := newHarness(t, nil)
	h.on(dc, func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("event store unreachable")
	})

	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)

	assert.Equal(t, schema.EnvelopeError, env.Status)
	assert.NotEmpty(t, env.WorkflowID)
	assert.Contains(t, env.Error, "data_collection")
	assert.Nil(t, env.Results)
	for _, at := range []schema.AgentType{per, loy, sen} {
		assert.Zero(t, h.agents[at].calls(), at)
	}

	rec, err := h.c.GetWorkflowStatus(context.Background(), env.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusError, rec.Status)
	assert.Equal(t, schema.ErrCodeAgentProcessing, rec.ErrorCode)
	assert.Equal(t, schema.AgentRunFailed, rec.Agents[dc])
	assert.Equal(t, schema.AgentRunSkipped, rec.Agents[per])
	assert.Equal(t, 8, h.sink.count(schema.EventAgentSkipped))
	assert.Equal(t, 1, h.sink.count(schema.EventWorkflowFailed))
	assert.Equal(t, 0, h.c.ActiveMonitors())
}

func TestProcess_FailFastCancelsSiblings(t *testing.T) {
	h := newHarness(t, nil)
	var cancelled atomic.Bool
	h.on(per, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	})
	h.on(loy, func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("rewards ledger locked")
	})

	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)

	require.Equal(t, schema.EnvelopeError, env.Status)
	assert.Contains(t, env.Error, "loyalty")
	assert.NotContains(t, env.Error, "personalization")
	assert.True(t, cancelled.Load())
	assert.Zero(t, h.agents[pri].calls())
	assert.Zero(t, h.agents[pro].calls())
}

func TestProcess_ContinueIndependent(t *testing.T) {
	h := newHarness(t, workflowWith(func(wf *schema.WorkflowConfig) {
		wf.FailurePolicy = schema.ContinueIndependent
	}))
	h.on(sen, func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("classifier down")
	})

	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)

	require.Equal(t, schema.EnvelopeError, env.Status)
	assert.Contains(t, env.Error, "sentiment")
	for _, at := range []schema.AgentType{tre, cs, inv, pri} {
		assert.Zero(t, h.agents[at].calls(), at)
	}
	for _, at := range []schema.AgentType{dc, per, loy, pro} {
		assert.Equal(t, 1, h.agents[at].calls(), at)
	}

	rec, err := h.c.GetWorkflowStatus(context.Background(), env.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, schema.AgentRunCompleted, rec.Agents[pro])
	assert.Equal(t, schema.AgentRunSkipped, rec.Agents[pri])

	skipped := h.sink.named(schema.EventAgentSkipped)
	require.Len(t, skipped, 4)
	for _, ev := range skipped {
		assert.Equal(t, "sentiment", ev.Payload["failed_ancestor"])
	}
}

func TestProcess_ContinueIndependentReportsEveryFailure(t *testing.T) {
	h := newHarness(t, workflowWith(func(wf *schema.WorkflowConfig) {
		wf.FailurePolicy = schema.ContinueIndependent
	}))
	fail := func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	}
	h.on(loy, fail)
	h.on(cs, fail)

	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)

	require.Equal(t, schema.EnvelopeError, env.Status)
	assert.Contains(t, env.Error, "2 agents failed")
	assert.Contains(t, env.Error, "loyalty")
	assert.Contains(t, env.Error, "customer_support")
}

func TestProcess_Timeout(t *testing.T) {
	h := newHarness(t, workflowWith(func(wf *schema.WorkflowConfig) {
		wf.TimeoutSeconds = 0.1
		wf.MonitoringInterval = 0.01
	}))
	h.on(dc, waitForCancel)

	start := time.Now()
	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, schema.EnvelopeError, env.Status)
	assert.Contains(t, env.Error, schema.ErrCodeWorkflowTimeout)
	assert.Equal(t, 1, h.sink.count(schema.EventWorkflowTimedOut))
	assert.Equal(t, 0, h.c.ActiveMonitors())

	n := h.sink.count(schema.EventAgentMetrics)
	assert.Positive(t, n)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, h.sink.count(schema.EventAgentMetrics), "monitor kept reporting after the run ended")

	rec, err := h.c.GetWorkflowStatus(context.Background(), env.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, schema.ErrCodeWorkflowTimeout, rec.ErrorCode)
}

func TestProcess_MaxSteps(t *testing.T) {
	h := newHarness(t, workflowWith(func(wf *schema.WorkflowConfig) {
		wf.MaxSteps = 2
		wf.WorkflowType = schema.WorkflowTypeSequential
	}))

	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)

	require.Equal(t, schema.EnvelopeError, env.Status)
	assert.Contains(t, env.Error, schema.ErrCodeMaxSteps)
	assert.Equal(t, 1, h.agents[dc].calls())
	assert.Equal(t, 1, h.agents[per].calls())
	assert.Zero(t, h.agents[loy].calls())
}

func TestProcess_SequentialRunsOneAtATime(t *testing.T) {
	h := newHarness(t, workflowWith(func(wf *schema.WorkflowConfig) {
		wf.WorkflowType = schema.WorkflowTypeSequential
	}))
	var active, peak atomic.Int32
	for _, at := range schema.AllAgentTypes() {
		at := at
		h.on(at, func(context.Context, map[string]any) (map[string]any, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(3 * time.Millisecond)
			active.Add(-1)
			return map[string]any{"agent": string(at)}, nil
		})
	}

	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)

	require.Equal(t, schema.EnvelopeSuccess, env.Status, env.Error)
	assert.Equal(t, int32(1), peak.Load())
}

func TestProcess_ParallelRunsReadyAgentsTogether(t *testing.T) {
	h := newHarness(t, nil)
	var arrived atomic.Int32
	barrier := func(context.Context, map[string]any) (map[string]any, error) {
		arrived.Add(1)
		deadline := time.Now().Add(2 * time.Second)
		for arrived.Load() < 3 {
			if time.Now().After(deadline) {
				return nil, errors.New("siblings never ran concurrently")
			}
			time.Sleep(time.Millisecond)
		}
		return map[string]any{}, nil
	}
	for _, at := range []schema.AgentType{per, loy, sen} {
		h.on(at, barrier)
	}

	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)
	assert.Equal(t, schema.EnvelopeSuccess, env.Status, env.Error)
}

func TestProcess_PanickingAgent(t *testing.T) {
	h := newHarness(t, nil)
	h.on(loy, func(context.Context, map[string]any) (map[string]any, error) {
		panic("nil ledger")
	})

	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)

	require.Equal(t, schema.EnvelopeError, env.Status)
	assert.Contains(t, env.Error, "loyalty")
	assert.Contains(t, env.Error, "panicked")
}

func TestProcess_InvalidInteraction(t *testing.T) {
	h := newHarness(t, nil)

	env := h.c.ProcessUserInteraction(context.Background(), "", viewInteraction)

	require.Equal(t, schema.EnvelopeError, env.Status)
	assert.Contains(t, env.Error, schema.ErrCodeValidation)
	for _, a := range h.agents {
		assert.Zero(t, a.calls())
	}

	rec, err := h.c.GetWorkflowStatus(context.Background(), env.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusError, rec.Status)
	assert.Equal(t, 1, h.sink.count(schema.EventWorkflowFailed))
	assert.Zero(t, h.sink.count(schema.EventWorkflowStarted))
}

func TestProcess_ConcurrentWorkflows(t *testing.T) {
	h := newHarness(t, nil)

	const n = 10
	envs := make([]schema.Envelope, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			envs[i] = h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for _, env := range envs {
		assert.Equal(t, schema.EnvelopeSuccess, env.Status, env.Error)
		ids[env.WorkflowID] = true
	}
	assert.Len(t, ids, n)
	assert.Equal(t, 0, h.c.ActiveMonitors())
	assert.Equal(t, n, h.agents[dc].calls())
}

func TestGetWorkflowStatus(t *testing.T) {
	h := newHarness(t, nil)
	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)
	require.Equal(t, schema.EnvelopeSuccess, env.Status, env.Error)

	rec, err := h.c.GetWorkflowStatus(context.Background(), env.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusSuccess, rec.Status)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "view", rec.Interaction.Type)
	assert.NotEmpty(t, rec.Results)
	assert.NotNil(t, rec.StartedAt)
	assert.NotNil(t, rec.CompletedAt)
	require.Len(t, rec.Agents, 9)
	for at, st := range rec.Agents {
		assert.Equal(t, schema.AgentRunCompleted, st, at)
	}

	_, err = h.c.GetWorkflowStatus(context.Background(), "workflow_missing")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestConfigureAgent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	err := h.c.ConfigureAgent(ctx, "fraud", map[string]any{"temperature": 0.5})
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfigNotFound))

	err = h.c.ConfigureAgent(ctx, loy, map[string]any{"temperature": 5.0})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = h.c.ConfigureAgent(ctx, loy, map[string]any{"tools": []any{"missing_tool"}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeToolNotFound))
	assert.Empty(t, h.agents[loy].configured)

	require.NoError(t, h.c.ConfigureAgent(ctx, loy, map[string]any{"temperature": 0.7}))
	assert.Len(t, h.agents[loy].configured, 1)
	assert.Equal(t, 1, h.sink.count(schema.EventAgentConfigured))
}

func TestConfigureAgent_NotEnabled(t *testing.T) {
	h := newHarness(t, workflowWith(func(wf *schema.WorkflowConfig) {
		wf.EnabledAgents = []schema.AgentType{dc}
	}))

	err := h.c.ConfigureAgent(context.Background(), loy, map[string]any{"temperature": 0.5})
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestConfigureAgent_InFlightRunKeepsInstance(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	release := make(chan struct{})
	h.on(dc, func(context.Context, map[string]any) (map[string]any, error) {
		<-release
		return map[string]any{}, nil
	})

	done := make(chan schema.Envelope, 1)
	go func() { done <- h.c.ProcessUserInteraction(ctx, "u1", viewInteraction) }()
	require.Eventually(t, func() bool { return h.c.ActiveMonitors() == 1 }, time.Second, time.Millisecond)

	started := h.agents[per]
	require.NoError(t, h.c.ConfigureAgent(ctx, per, map[string]any{"active": false}))
	close(release)

	env := <-done
	require.Equal(t, schema.EnvelopeSuccess, env.Status, env.Error)
	assert.Equal(t, 1, started.calls())
	assert.True(t, started.IsActive(), "the running instance is not reconfigured")
	assert.Equal(t, 2, h.builtCount(per))
	assert.False(t, h.c.AgentStatus()[per].Active)

	env = h.c.ProcessUserInteraction(ctx, "u1", viewInteraction)
	assert.Equal(t, schema.EnvelopeError, env.Status)
	assert.Zero(t, h.agents[per].calls())
}

func TestConfigureWorkflow(t *testing.T) {
	h := newHarness(t, workflowWith(func(wf *schema.WorkflowConfig) {
		wf.EnabledAgents = []schema.AgentType{dc}
	}))
	ctx := context.Background()
	assert.Equal(t, 1, h.builtCount(dc))
	assert.Zero(t, h.builtCount(loy))

	require.NoError(t, h.c.ConfigureWorkflow(ctx, schema.DefaultWorkflowConfig()))
	assert.Len(t, h.c.Graph().Nodes, 9)
	for _, at := range schema.AllAgentTypes() {
		assert.Equal(t, 1, h.builtCount(at), at)
	}

	cfg := schema.DefaultWorkflowConfig()
	cfg.EnabledAgents = []schema.AgentType{dc, loy}
	cfg.WorkflowType = ""
	require.NoError(t, h.c.ConfigureWorkflow(ctx, cfg))
	assert.Equal(t, 1, h.builtCount(loy), "existing instances are kept")
	assert.Equal(t, schema.WorkflowTypeParallel, h.c.WorkflowConfig().WorkflowType)
	assert.Equal(t, 2, h.sink.count(schema.EventWorkflowConfigured))

	env := h.c.ProcessUserInteraction(ctx, "u1", viewInteraction)
	require.Equal(t, schema.EnvelopeSuccess, env.Status, env.Error)
	assert.Equal(t, map[string]any{}, env.Results["recommendations"])
	assert.Equal(t, map[string]any{"agent": "loyalty"}, env.Results["loyalty"])
	assert.Zero(t, h.agents[per].calls())
}

func TestConfigureWorkflow_Invalid(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	unknown := schema.DefaultWorkflowConfig()
	unknown.EnabledAgents = []schema.AgentType{dc, "fraud"}
	assert.True(t, schema.HasCode(h.c.ConfigureWorkflow(ctx, unknown), schema.ErrCodeConfigNotFound))

	badType := schema.DefaultWorkflowConfig()
	badType.WorkflowType = "round_robin"
	assert.True(t, schema.HasCode(h.c.ConfigureWorkflow(ctx, badType), schema.ErrCodeValidation))

	noBudget := schema.DefaultWorkflowConfig()
	noBudget.TimeoutSeconds = 0
	assert.True(t, schema.HasCode(h.c.ConfigureWorkflow(ctx, noBudget), schema.ErrCodeValidation))

	assert.Len(t, h.c.WorkflowConfig().EnabledAgents, 9, "rejected configs leave the current one in place")
}

func TestRunAgent(t *testing.T) {
	h := newHarness(t, workflowWith(func(wf *schema.WorkflowConfig) {
		wf.EnabledAgents = []schema.AgentType{dc, loy}
	}))
	ctx := context.Background()

	out, err := h.c.RunAgent(ctx, loy, map[string]any{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"agent": "loyalty"}, out)
	assert.Equal(t, "u1", h.agents[loy].lastInput()["user_id"])

	_, err = h.c.RunAgent(ctx, per, map[string]any{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))

	_, err = h.c.RunAgent(ctx, "fraud", map[string]any{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfigNotFound))
}

func TestAgentStatus(t *testing.T) {
	h := newHarness(t, workflowWith(func(wf *schema.WorkflowConfig) {
		wf.EnabledAgents = []schema.AgentType{dc, loy}
	}))
	env := h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction)
	require.Equal(t, schema.EnvelopeSuccess, env.Status, env.Error)

	status := h.c.AgentStatus()
	require.Len(t, status, 2)
	assert.True(t, status[loy].Active)
	assert.Equal(t, int64(1), status[loy].Metrics.Invocations)
	assert.Equal(t, 1.0, status[loy].Metrics.SuccessRate())
}

func TestShutdown(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	env := h.c.ProcessUserInteraction(ctx, "u1", viewInteraction)
	require.Equal(t, schema.EnvelopeSuccess, env.Status, env.Error)

	require.NoError(t, h.c.Shutdown(ctx))
	require.NoError(t, h.c.Shutdown(ctx))

	for _, a := range h.agents {
		assert.Equal(t, 1, a.cleanups, a.typ)
		assert.False(t, a.IsActive())
	}
	assert.Equal(t, 1, h.sink.count(schema.EventCoordinatorShutdown))
	assert.Equal(t, 0, h.c.ActiveMonitors())

	env = h.c.ProcessUserInteraction(ctx, "u1", viewInteraction)
	assert.Equal(t, schema.EnvelopeError, env.Status)
	assert.Contains(t, env.Error, schema.ErrCodeShutdown)

	_, err := h.c.RunAgent(ctx, loy, map[string]any{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeShutdown))
}

func TestShutdown_StopsInFlightWorkflow(t *testing.T) {
	h := newHarness(t, nil)
	release := make(chan struct{})
	h.on(dc, func(context.Context, map[string]any) (map[string]any, error) {
		<-release
		return map[string]any{}, nil
	})

	done := make(chan schema.Envelope, 1)
	go func() { done <- h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction) }()
	require.Eventually(t, func() bool { return h.c.ActiveMonitors() == 1 }, time.Second, time.Millisecond)

	shut := make(chan error, 1)
	go func() { shut <- h.c.Shutdown(context.Background()) }()
	require.Eventually(t, func() bool { return h.c.ActiveMonitors() == 0 }, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, <-shut)
	env := <-done
	assert.Equal(t, schema.EnvelopeError, env.Status)
	assert.Contains(t, env.Error, schema.ErrCodeShutdown)
	assert.Zero(t, h.agents[per].calls())
}

func TestShutdown_RetriesCleanupAfterDeadline(t *testing.T) {
	h := newHarness(t, nil)
	release := make(chan struct{})
	h.on(dc, func(context.Context, map[string]any) (map[string]any, error) {
		<-release
		return map[string]any{}, nil
	})

	done := make(chan schema.Envelope, 1)
	go func() { done <- h.c.ProcessUserInteraction(context.Background(), "u1", viewInteraction) }()
	require.Eventually(t, func() bool { return h.agents[dc].calls() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.c.Shutdown(ctx)
	require.True(t, schema.HasCode(err, schema.ErrCodeShutdown), "%v", err)
	for _, a := range h.agents {
		assert.Zero(t, a.cleanupCount(), a.typ)
	}
	assert.Zero(t, h.sink.count(schema.EventCoordinatorShutdown))

	close(release)
	<-done
	require.NoError(t, h.c.Shutdown(context.Background()))
	require.NoError(t, h.c.Shutdown(context.Background()))
	for _, a := range h.agents {
		assert.Equal(t, 1, a.cleanupCount(), a.typ)
	}
	assert.Equal(t, 1, h.sink.count(schema.EventCoordinatorShutdown))
	assert.Equal(t, 1, h.sink.named(schema.EventCoordinatorShutdown)[0].Payload["monitors_stopped"])
}

func TestNewCoordinator_Errors(t *testing.T) {
	_, err := NewCoordinator(Deps{}, CoordinatorConfig{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = NewCoordinator(Deps{Tools: tools.NewRegistry()}, CoordinatorConfig{
		Edges: append(DefaultEdges(), Edge{pri, dc}),
	})
	assert.True(t, schema.HasCode(err, schema.ErrCodeGraphConfiguration))
}

func TestProcess_WithBuiltinAgents(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(reg, expressions.NewExprEngine(), time.Now))
	c, err := NewCoordinator(Deps{Tools: reg}, CoordinatorConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	env := c.ProcessUserInteraction(context.Background(), "u1", schema.Interaction{
		Type: "support",
		Data: map[string]any{"product_id": "p1", "message": "Where is my delivery?", "amount": 25.5},
	})
	require.Equal(t, schema.EnvelopeSuccess, env.Status, env.Error)

	support := env.Results["support"].(map[string]any)
	assert.Equal(t, "shipping", support["resolution"].(map[string]any)["category"])
	assert.Equal(t, "closed", support["ticket"].(map[string]any)["status"])
	assert.Equal(t, "silver", env.Results["loyalty"].(map[string]any)["tier"])
	assert.Contains(t, env.Results["pricing"], "optimal_price")
	assert.Contains(t, env.Results["recommendations"], "strategy")

	status := c.AgentStatus()
	assert.Equal(t, int64(1), status[cs].Metrics.Invocations)
}
