package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/shopsync/internal/agents"
	"github.com/rendis/shopsync/internal/expressions"
	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/internal/store"
	"github.com/rendis/shopsync/internal/telemetry"
	"github.com/rendis/shopsync/internal/validation"
	"github.com/rendis/shopsync/pkg/schema"
)

// DefaultPoolSize is the default number of agents running at once across all workflows.
const DefaultPoolSize = 16

// ToolRegistry executes tools and answers existence checks.
// Satisfied by *tools.Registry.
type ToolRegistry interface {
	agents.ToolInvoker
	validation.ToolLookup
}

// AgentFactory builds the live agent for t from its configuration record.
type AgentFactory func(t schema.AgentType, cfg schema.AgentConfig) (agents.Agent, error)

// Deps are the collaborators of a Coordinator. Only Tools is required.
type Deps struct {
	Tools   ToolRegistry
	Configs *agents.ConfigRegistry // nil = default configuration table
	Store   store.Store            // nil = in-memory store
	Sink    telemetry.Sink         // nil = no telemetry
	Logger  *slog.Logger           // nil = discard
	Factory AgentFactory           // nil = agents.New over Tools
}

// CoordinatorConfig holds the static settings of a Coordinator.
type CoordinatorConfig struct {
	PoolSize int                    // max concurrent agent tasks
	Workflow *schema.WorkflowConfig // nil = schema.DefaultWorkflowConfig()
	Edges    []Edge                 // nil = DefaultEdges()
}

// Coordinator owns the agent set, the dependency graph and the worker pool,
// and drives one workflow per user interaction.
type Coordinator struct {
	tools     ToolRegistry
	configs   *agents.ConfigRegistry
	store     store.Store
	sink      telemetry.Sink
	logger    *slog.Logger
	factory   AgentFactory
	validator *validation.Validator
	jq        *expressions.GoJQEngine
	pool      *WorkerPool
	edges     []Edge
	wfFSM     *WorkflowFSM
	agentFSM  *AgentFSM

	// mu guards cfg, graph and agents. Runs take a snapshot at start.
	mu     sync.RWMutex
	cfg    schema.WorkflowConfig
	graph  *Graph
	agents map[schema.AgentType]agents.Agent

	// monMu guards monitors, closed, cleaned and stopped.
	monMu    sync.Mutex
	monitors map[string]*monitor
	closed   bool
	cleaned  bool
	stopped  int
	cleanup  sync.Once
}

// NewCoordinator validates the initial workflow configuration, builds the
// graph and instantiates every enabled agent.
func NewCoordinator(deps Deps, cfg CoordinatorConfig) (*Coordinator, error) {
	if deps.Tools == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "coordinator needs a tool registry")
	}
	if deps.Configs == nil {
		deps.Configs = agents.NewConfigRegistry()
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	edges := cfg.Edges
	if edges == nil {
		edges = DefaultEdges()
	}
	wf := schema.DefaultWorkflowConfig()
	if cfg.Workflow != nil {
		wf = normalizeWorkflowConfig(*cfg.Workflow)
	}

	v, err := validation.New(deps.Tools)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		tools:     deps.Tools,
		configs:   deps.Configs,
		store:     deps.Store,
		sink:      deps.Sink,
		logger:    deps.Logger,
		factory:   deps.Factory,
		validator: v,
		jq:        expressions.NewGoJQEngine(),
		edges:     append([]Edge(nil), edges...),
		wfFSM:     NewWorkflowFSM(deps.Sink),
		agentFSM:  NewAgentFSM(deps.Sink),
		monitors:  make(map[string]*monitor),
	}
	if c.factory == nil {
		guards, err := expressions.NewCELEngine()
		if err != nil {
			return nil, err
		}
		c.factory = func(t schema.AgentType, ac schema.AgentConfig) (agents.Agent, error) {
			return agents.New(t, ac, deps.Tools, agents.WithGuardEngine(guards), agents.WithLogger(deps.Logger))
		}
	}

	if err := c.validator.CheckWorkflowConfig(wf); err != nil {
		return nil, err
	}
	g, err := BuildGraph(c.edges, wf.EnabledAgents)
	if err != nil {
		return nil, err
	}
	set, err := c.instantiate(g.Nodes, nil)
	if err != nil {
		return nil, err
	}
	c.cfg, c.graph, c.agents = wf, g, set
	c.pool = NewWorkerPool(cfg.PoolSize)
	return c, nil
}

// ProcessUserInteraction runs one workflow for the interaction and always
// returns an envelope; failures are reported in it, never as a Go error.
func (c *Coordinator) ProcessUserInteraction(ctx context.Context, userID string, in schema.Interaction) schema.Envelope {
	id := "workflow_" + uuid.NewString()
	ctx = logging.WithWorkflowID(ctx, id)

	if c.isClosed() {
		return errorEnvelope(id, coordinatorShutdown())
	}

	run := c.newRun(id, userID, in)
	c.persistCreate(ctx, run)

	if err := c.validator.Interaction(userID, in); err != nil {
		return c.finish(ctx, run, schema.WorkflowStatusCreated, nil, err)
	}
	return c.execute(ctx, run)
}

// GetWorkflowStatus returns the persisted record of a workflow run.
func (c *Coordinator) GetWorkflowStatus(ctx context.Context, id string) (*schema.WorkflowRecord, error) {
	rec, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load workflow %s", id).WithCause(err)
	}
	return rec, nil
}

// ListWorkflows returns persisted workflow records matching filter.
func (c *Coordinator) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.WorkflowRecord, error) {
	return c.store.ListWorkflows(ctx, filter)
}

// ConfigureAgent builds a replacement agent of type t with params applied and
// swaps it in. Runs already in flight keep the instance they started with.
func (c *Coordinator) ConfigureAgent(ctx context.Context, t schema.AgentType, params map[string]any) error {
	if !t.Valid() {
		return schema.NewErrorf(schema.ErrCodeConfigNotFound, "unknown agent type %q", t)
	}
	if err := c.validator.AgentParams(params); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.graph.Contains(t) {
		return schema.NewErrorf(schema.ErrCodeNotFound, "agent %s is not enabled", t).WithAgent(t)
	}
	prev := c.agents[t]
	next, err := c.factory(t, prev.Config())
	if err != nil {
		return err
	}
	if err := next.Configure(params); err != nil {
		return err
	}
	if err := c.configs.Replace(t, next.Config()); err != nil {
		return err
	}
	agents.CarryMetrics(next, prev)
	c.agents[t] = next

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	c.sink.LogEvent(logging.WithAgentType(ctx, string(t)), schema.EventAgentConfigured, map[string]any{
		"agent_type": string(t),
		"params":     keys,
	})
	logging.LogWith(ctx, c.logger).InfoContext(ctx, "agent configured", "agent_type", t, "params", keys)
	return nil
}

// ConfigureWorkflow validates cfg, rebuilds the graph and instantiates newly
// enabled agents. Existing agent instances keep their state.
func (c *Coordinator) ConfigureWorkflow(ctx context.Context, cfg schema.WorkflowConfig) error {
	cfg = normalizeWorkflowConfig(cfg)
	result := c.validator.WorkflowConfig(cfg)
	if err := result.ToError(); err != nil {
		return err
	}
	g, err := BuildGraph(c.edges, cfg.EnabledAgents)
	if err != nil {
		return err
	}

	c.mu.Lock()
	set, err := c.instantiate(g.Nodes, c.agents)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.cfg, c.graph, c.agents = cfg, g, set
	c.mu.Unlock()

	names := agentNames(g.Nodes)
	c.sink.LogEvent(ctx, schema.EventWorkflowConfigured, map[string]any{
		"enabled_agents": names,
		"workflow_type":  cfg.WorkflowType,
		"failure_policy": cfg.FailurePolicy,
	})
	log := logging.LogWith(ctx, c.logger)
	log.InfoContext(ctx, "workflow configured", "enabled_agents", names, "workflow_type", cfg.WorkflowType)
	if len(result.Warnings) > 0 {
		log.WarnContext(ctx, "workflow config warnings", "warnings", result.WarningMessages())
	}
	return nil
}

// RunAgent invokes one enabled agent directly, bounded by the workflow timeout.
func (c *Coordinator) RunAgent(ctx context.Context, t schema.AgentType, input map[string]any) (map[string]any, error) {
	if !t.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeConfigNotFound, "unknown agent type %q", t)
	}
	if c.isClosed() {
		return nil, coordinatorShutdown()
	}

	c.mu.RLock()
	a, ok := c.agents[t]
	enabled := c.graph.Contains(t)
	timeout := c.cfg.Timeout()
	c.mu.RUnlock()
	if !ok || !enabled {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "agent %s is not enabled", t).WithAgent(t)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := safeProcess(logging.WithAgentType(ctx, string(t)), a, input)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, schema.NewErrorf(schema.ErrCodeWorkflowTimeout, "agent %s exceeded %s", t, timeout).WithAgent(t).WithCause(err)
	}
	return out, err
}

// AgentStatus reports every enabled agent's activity flag and metrics.
func (c *Coordinator) AgentStatus() map[schema.AgentType]schema.AgentStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[schema.AgentType]schema.AgentStatus, len(c.graph.Nodes))
	for _, t := range c.graph.Nodes {
		a := c.agents[t]
		out[t] = schema.AgentStatus{Active: a.IsActive(), Metrics: a.Metrics()}
	}
	return out
}

// Agent returns the live agent of type t, if enabled.
func (c *Coordinator) Agent(t schema.AgentType) (agents.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.graph.Contains(t) {
		return nil, false
	}
	a, ok := c.agents[t]
	return a, ok
}

// Graph returns the current dependency graph.
func (c *Coordinator) Graph() *Graph {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph
}

// WorkflowConfig returns a copy of the current workflow configuration.
func (c *Coordinator) WorkflowConfig() schema.WorkflowConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Clone()
}

// ActiveMonitors is the number of monitoring loops currently running.
func (c *Coordinator) ActiveMonitors() int {
	c.monMu.Lock()
	defer c.monMu.Unlock()
	return len(c.monitors)
}

// PoolMetrics returns the worker pool counters.
func (c *Coordinator) PoolMetrics() PoolMetrics {
	return c.pool.Metrics()
}

// Shutdown stops every monitor, drains the pool and cleans up every agent.
// A call that hits the ctx deadline before the drain leaves cleanup pending;
// calling again retries both. Safe to call more than once.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.monMu.Lock()
	if c.cleaned {
		c.monMu.Unlock()
		return nil
	}
	c.closed = true
	c.pool.Close()
	mons := make([]*monitor, 0, len(c.monitors))
	for id, m := range c.monitors {
		mons = append(mons, m)
		delete(c.monitors, id)
	}
	c.stopped += len(mons)
	c.monMu.Unlock()

	for _, m := range mons {
		m.stop()
	}

	drained := make(chan struct{})
	go func() {
		c.pool.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return schema.NewError(schema.ErrCodeShutdown, "agents still running at shutdown deadline").WithCause(ctx.Err())
	}

	c.cleanup.Do(func() { c.cleanupAgents(ctx) })
	return nil
}

func (c *Coordinator) cleanupAgents(ctx context.Context) {
	c.mu.RLock()
	set := make([]agents.Agent, 0, len(c.agents))
	for _, t := range schema.AllAgentTypes() {
		if a, ok := c.agents[t]; ok {
			set = append(set, a)
		}
	}
	c.mu.RUnlock()
	for _, a := range set {
		if err := a.Cleanup(ctx); err != nil {
			c.sink.LogError(ctx, err, map[string]any{"agent_type": string(a.Type())})
		}
	}

	c.monMu.Lock()
	c.cleaned = true
	stopped := c.stopped
	c.monMu.Unlock()

	c.sink.LogEvent(ctx, schema.EventCoordinatorShutdown, map[string]any{
		"monitors_stopped": stopped,
		"agents":           len(set),
	})
	c.logger.InfoContext(ctx, "coordinator shut down", "monitors_stopped", stopped)
}

func (c *Coordinator) isClosed() bool {
	c.monMu.Lock()
	defer c.monMu.Unlock()
	return c.closed
}

// instantiate returns existing plus a fresh agent for every node it lacks.
func (c *Coordinator) instantiate(nodes []schema.AgentType, existing map[schema.AgentType]agents.Agent) (map[schema.AgentType]agents.Agent, error) {
	out := make(map[schema.AgentType]agents.Agent, len(existing)+len(nodes))
	for t, a := range existing {
		out[t] = a
	}
	for _, t := range nodes {
		if _, ok := out[t]; ok {
			continue
		}
		ac, err := c.configs.GetConfig(t)
		if err != nil {
			return nil, err
		}
		a, err := c.factory(t, ac)
		if err != nil {
			return nil, err
		}
		out[t] = a
	}
	return out, nil
}

// startMonitor registers a monitor for run unless the coordinator is closing.
func (c *Coordinator) startMonitor(ctx context.Context, run *workflowRun) bool {
	c.monMu.Lock()
	defer c.monMu.Unlock()
	if c.closed {
		return false
	}
	c.monitors[run.id] = startMonitor(ctx, run.graph.Nodes, run.agents, run.cfg.Interval(), run.cfg.Timeout(), c.sink)
	return true
}

// stopMonitor cancels the run's monitor and waits for it to exit.
func (c *Coordinator) stopMonitor(id string) {
	c.monMu.Lock()
	m, ok := c.monitors[id]
	delete(c.monitors, id)
	c.monMu.Unlock()
	if ok {
		m.stop()
	}
}

func (c *Coordinator) persistCreate(ctx context.Context, run *workflowRun) {
	rec := &schema.WorkflowRecord{
		ID:          run.id,
		UserID:      run.userID,
		Interaction: run.in,
		Status:      schema.WorkflowStatusCreated,
		Agents:      run.statusCopy(),
		CreatedAt:   run.created,
	}
	if err := c.store.CreateWorkflow(context.WithoutCancel(ctx), rec); err != nil {
		c.storeFailed(ctx, "create", err)
	}
}

func (c *Coordinator) persist(ctx context.Context, id string, update store.WorkflowUpdate) {
	if err := c.store.UpdateWorkflow(context.WithoutCancel(ctx), id, update); err != nil {
		c.storeFailed(ctx, "update", err)
	}
}

// storeFailed reports a persistence error. The run itself carries on.
func (c *Coordinator) storeFailed(ctx context.Context, op string, err error) {
	c.sink.LogError(ctx, schema.NewErrorf(schema.ErrCodeStore, "%s workflow record", op).WithCause(err), map[string]any{
		"workflow_id": logging.WorkflowID(ctx),
	})
	logging.LogWith(ctx, c.logger).ErrorContext(ctx, "workflow record not persisted", "op", op, "error", err)
}

// finish moves the run to its terminal state, persists it and builds the envelope.
func (c *Coordinator) finish(ctx context.Context, run *workflowRun, from schema.WorkflowStatus, results map[string]any, err error) schema.Envelope {
	log := logging.LogWith(ctx, c.logger)
	now := time.Now()
	duration := float64(now.Sub(run.created).Microseconds()) / 1000

	env := schema.Envelope{WorkflowID: run.id}
	update := store.WorkflowUpdate{Agents: run.statusCopy(), CompletedAt: &now}
	payload := map[string]any{"duration_ms": duration, "user_id": run.userID}

	to := schema.WorkflowStatusSuccess
	if err != nil {
		to = schema.WorkflowStatusError
		msg, code := err.Error(), schema.ErrorCode(err)
		update.Error, update.ErrorCode = &msg, &code
		payload["error"], payload["error_code"] = msg, code
		env.Status, env.Error = schema.EnvelopeError, msg

		c.sink.LogError(ctx, err, map[string]any{"workflow_id": run.id, "user_id": run.userID})
		log.WarnContext(ctx, "workflow failed", "error", msg, "code", code, "duration_ms", duration)
	} else {
		if raw, merr := json.Marshal(results); merr == nil {
			update.Results = raw
		} else {
			log.ErrorContext(ctx, "workflow results not serializable", "error", merr)
		}
		env.Status, env.Results = schema.EnvelopeSuccess, results
		log.InfoContext(ctx, "workflow completed", "duration_ms", duration)
	}
	update.Status = &to

	if terr := c.wfFSM.Transition(ctx, from, to, payload); terr != nil {
		log.ErrorContext(ctx, "workflow transition rejected", "error", terr)
	}
	c.persist(ctx, run.id, update)
	return env
}

func errorEnvelope(id string, err error) schema.Envelope {
	return schema.Envelope{WorkflowID: id, Status: schema.EnvelopeError, Error: err.Error()}
}

func coordinatorShutdown() error {
	return schema.NewError(schema.ErrCodeShutdown, "coordinator is shut down")
}

// normalizeWorkflowConfig fills the optional fields a caller may leave empty.
func normalizeWorkflowConfig(cfg schema.WorkflowConfig) schema.WorkflowConfig {
	cfg = cfg.Clone()
	if cfg.WorkflowType == "" {
		cfg.WorkflowType = schema.WorkflowTypeParallel
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = schema.FailFast
	}
	return cfg
}

func agentNames(ts []schema.AgentType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}
