package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/shopsync/internal/agents"
	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/internal/store"
	"github.com/rendis/shopsync/pkg/schema"
)

// workflowRun is the state of one in-flight workflow. Only the goroutine
// driving the run touches status and outputs; agent tasks report back over
// a channel.
type workflowRun struct {
	id      string
	userID  string
	in      schema.Interaction
	created time.Time

	// Snapshot taken at start; later configuration changes do not apply.
	cfg    schema.WorkflowConfig
	graph  *Graph
	agents map[schema.AgentType]agents.Agent

	status  map[schema.AgentType]schema.AgentRunStatus
	outputs map[schema.AgentType]map[string]any
}

// nodeResult is what an agent task sends back to the run loop.
type nodeResult struct {
	agent    schema.AgentType
	output   map[string]any
	err      error
	duration time.Duration
}

func (c *Coordinator) newRun(id, userID string, in schema.Interaction) *workflowRun {
	c.mu.RLock()
	run := &workflowRun{
		id:      id,
		userID:  userID,
		in:      in,
		created: time.Now(),
		cfg:     c.cfg.Clone(),
		graph:   c.graph,
		agents:  make(map[schema.AgentType]agents.Agent, len(c.graph.Nodes)),
	}
	for _, t := range c.graph.Nodes {
		run.agents[t] = c.agents[t]
	}
	c.mu.RUnlock()

	run.status = make(map[schema.AgentType]schema.AgentRunStatus, len(run.graph.Nodes))
	run.outputs = make(map[schema.AgentType]map[string]any, len(run.graph.Nodes))
	for _, t := range run.graph.Nodes {
		run.status[t] = schema.AgentRunPending
	}
	return run
}

func (r *workflowRun) statusCopy() map[schema.AgentType]schema.AgentRunStatus {
	out := make(map[schema.AgentType]schema.AgentRunStatus, len(r.status))
	for t, s := range r.status {
		out[t] = s
	}
	return out
}

// ancestorOutputs collects the outputs of every completed ancestor of t,
// keyed by agent type.
func (r *workflowRun) ancestorOutputs(t schema.AgentType) map[string]any {
	out := make(map[string]any)
	for _, a := range r.graph.Ancestors(t) {
		if o, ok := r.outputs[a]; ok {
			out[string(a)] = o
		}
	}
	return out
}

func (r *workflowRun) outputsByName() map[string]any {
	out := make(map[string]any, len(r.outputs))
	for t, o := range r.outputs {
		out[string(t)] = o
	}
	return out
}

// nodeInput is the agent input: the interaction data at the top level,
// overlaid with the user id, the interaction type, the raw data and the
// ancestors' outputs.
func nodeInput(userID string, in schema.Interaction, agentResults map[string]any) map[string]any {
	input := make(map[string]any, len(in.Data)+4)
	for k, v := range in.Data {
		input[k] = v
	}
	data := in.Data
	if data == nil {
		data = map[string]any{}
	}
	input["user_id"] = userID
	input["interaction_type"] = in.Type
	input["data"] = data
	input["agent_results"] = agentResults
	return input
}

// execute drives a validated run from running to its terminal state.
func (c *Coordinator) execute(ctx context.Context, run *workflowRun) schema.Envelope {
	log := logging.LogWith(ctx, c.logger)
	if err := c.wfFSM.Transition(ctx, schema.WorkflowStatusCreated, schema.WorkflowStatusRunning, map[string]any{
		"user_id":          run.userID,
		"interaction_type": run.in.Type,
		"agents":           agentNames(run.graph.Nodes),
		"workflow_type":    run.cfg.WorkflowType,
	}); err != nil {
		return c.finish(ctx, run, schema.WorkflowStatusCreated, nil, err)
	}
	started := time.Now()
	running := schema.WorkflowStatusRunning
	c.persist(ctx, run.id, store.WorkflowUpdate{Status: &running, StartedAt: &started})
	log.InfoContext(ctx, "workflow started", "user_id", run.userID, "interaction_type", run.in.Type, "agents", len(run.graph.Nodes))

	if c.startMonitor(ctx, run) {
		defer c.stopMonitor(run.id)
	}

	runCtx, cancel := context.WithTimeout(ctx, run.cfg.Timeout())
	defer cancel()

	err := c.runGraph(runCtx, run)
	var results map[string]any
	if err == nil {
		results, err = aggregate(ctx, c.jq, run.outputsByName())
		if err != nil {
			err = schema.NewError(schema.ErrCodeAgentProcessing, "aggregate agent results").WithCause(err)
		}
	}
	return c.finish(ctx, run, schema.WorkflowStatusRunning, results, err)
}

// runGraph dispatches every node once all its predecessors completed and
// waits for in-flight agents before returning. ctx carries the workflow deadline.
func (c *Coordinator) runGraph(ctx context.Context, run *workflowRun) error {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := run.graph
	waiting := make(map[schema.AgentType]int, len(g.Nodes))
	for _, t := range g.Nodes {
		waiting[t] = len(g.Preds[t])
	}
	ready := append([]schema.AgentType(nil), g.Roots...)
	results := make(chan nodeResult, len(g.Nodes))

	limit := run.cfg.MaxConcurrency
	if run.cfg.WorkflowType == schema.WorkflowTypeSequential {
		limit = 1
	}

	var (
		inflight int
		steps    int
		halted   error // stops further dispatch: fail_fast, step budget or pool shutdown
		failures []error
	)

	for {
		for halted == nil && execCtx.Err() == nil && len(ready) > 0 && (limit <= 0 || inflight < limit) {
			t := ready[0]
			ready = ready[1:]
			if steps >= run.cfg.MaxSteps {
				halted = schema.NewErrorf(schema.ErrCodeMaxSteps, "workflow exceeded %d steps before %s", run.cfg.MaxSteps, t).
					WithDetails(map[string]any{"max_steps": run.cfg.MaxSteps})
				cancel()
				break
			}
			steps++
			if err := c.dispatch(execCtx, run, t, results); err != nil {
				c.settle(ctx, run, nodeResult{agent: t, err: err})
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					halted = schema.NewError(schema.ErrCodeShutdown, "agent not started").WithAgent(t).WithCause(err)
					cancel()
				}
				break
			}
			inflight++
		}
		if inflight == 0 {
			break
		}

		res := <-results
		inflight--
		c.settle(ctx, run, res)
		if res.err == nil {
			for _, s := range g.Succs[res.agent] {
				waiting[s]--
				if waiting[s] == 0 && run.status[s] == schema.AgentRunPending {
					ready = append(ready, s)
				}
			}
			sortByRank(ready)
			continue
		}

		// Failures caused by cancellation are consequences, not causes.
		if halted != nil || ctx.Err() != nil {
			continue
		}
		failures = append(failures, res.err)
		if run.cfg.FailurePolicy == schema.ContinueIndependent {
			for _, d := range g.Descendants(res.agent) {
				c.skip(ctx, run, d, res.agent)
			}
			continue
		}
		halted = res.err
		cancel()
	}

	for _, t := range g.Sorted {
		c.skip(ctx, run, t, "")
	}
	return runError(ctx, run, halted, failures)
}

// dispatch marks t running and submits it to the pool.
func (c *Coordinator) dispatch(ctx context.Context, run *workflowRun, t schema.AgentType, results chan<- nodeResult) error {
	a := run.agents[t]
	input := nodeInput(run.userID, run.in, run.ancestorOutputs(t))
	c.transitionAgent(ctx, run, t, schema.AgentRunRunning, nil)

	return c.pool.Submit(logging.WithAgentType(ctx, string(t)), func(taskCtx context.Context) error {
		start := time.Now()
		out, err := safeProcess(taskCtx, a, input)
		results <- nodeResult{agent: t, output: out, err: err, duration: time.Since(start)}
		return err
	})
}

// settle records the outcome of a running node.
func (c *Coordinator) settle(ctx context.Context, run *workflowRun, res nodeResult) {
	payload := map[string]any{"duration_ms": float64(res.duration.Microseconds()) / 1000}
	if res.err != nil {
		payload["error"] = res.err.Error()
		payload["error_code"] = schema.ErrorCode(res.err)
		c.transitionAgent(ctx, run, res.agent, schema.AgentRunFailed, payload)
		return
	}
	run.outputs[res.agent] = res.output
	c.transitionAgent(ctx, run, res.agent, schema.AgentRunCompleted, payload)
}

// skip marks a still-pending node skipped. cause names the failed ancestor, if any.
func (c *Coordinator) skip(ctx context.Context, run *workflowRun, t, cause schema.AgentType) {
	if run.status[t] != schema.AgentRunPending {
		return
	}
	var payload map[string]any
	if cause != "" {
		payload = map[string]any{"failed_ancestor": string(cause)}
	}
	c.transitionAgent(ctx, run, t, schema.AgentRunSkipped, payload)
}

func (c *Coordinator) transitionAgent(ctx context.Context, run *workflowRun, t schema.AgentType, to schema.AgentRunStatus, payload map[string]any) {
	if err := c.agentFSM.Transition(ctx, t, run.status[t], to, payload); err != nil {
		logging.LogWith(ctx, c.logger).ErrorContext(ctx, "agent transition rejected", "agent_type", t, "error", err)
		return
	}
	run.status[t] = to
	c.persist(ctx, run.id, store.WorkflowUpdate{Agents: run.statusCopy()})
}

// runError picks the error that describes the run's outcome.
func runError(ctx context.Context, run *workflowRun, halted error, failures []error) error {
	if halted != nil {
		return halted
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return schema.NewErrorf(schema.ErrCodeWorkflowTimeout, "workflow exceeded %s timeout", run.cfg.Timeout()).
				WithCause(err).
				WithDetails(map[string]any{"timeout_seconds": run.cfg.TimeoutSeconds})
		}
		return schema.NewError(schema.ErrCodeCancelled, "workflow cancelled").WithCause(err)
	}

	switch len(failures) {
	case 0:
		return nil
	case 1:
		return failures[0]
	}
	names := make([]string, 0, len(failures))
	for _, f := range failures {
		var se *schema.ShopSyncError
		if errors.As(f, &se) && se.Agent != "" {
			names = append(names, string(se.Agent))
		}
	}
	return schema.NewErrorf(schema.ErrCodeAgentProcessing, "%d agents failed: %s", len(failures), strings.Join(names, ", ")).
		WithCause(failures[0]).
		WithDetails(map[string]any{"failed_agents": names})
}

// safeProcess runs the agent and guarantees that any error names it.
func safeProcess(ctx context.Context, a agents.Agent, input map[string]any) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = schema.NewError(schema.ErrCodeAgentProcessing, fmt.Sprintf("agent panicked: %v", r)).WithAgent(a.Type())
		}
	}()

	out, err = a.Process(ctx, input)
	if err == nil {
		return out, nil
	}
	var se *schema.ShopSyncError
	if errors.As(err, &se) && se.Agent != "" {
		return nil, err
	}
	return nil, schema.NewError(schema.ErrCodeAgentProcessing, err.Error()).WithAgent(a.Type()).WithCause(err)
}
