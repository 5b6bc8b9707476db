// Package agents implements the nine specialized agents. Each agent chains a
// fixed pipeline of tool calls and keeps its own memory and metrics.
package agents

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/shopsync/internal/expressions"
	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/pkg/schema"
)

// ToolInvoker executes named tools. Satisfied by *tools.Registry.
type ToolInvoker interface {
	ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// Agent is the capability contract shared by every agent variant.
type Agent interface {
	Type() schema.AgentType
	// Process runs the pipeline over input. Tool failures surface as
	// AGENT_PROCESSING_ERROR naming the tool.
	Process(ctx context.Context, input map[string]any) (map[string]any, error)
	// Configure applies partial parameters. Must not race an in-flight Process.
	Configure(params map[string]any) error
	Config() schema.AgentConfig
	IsActive() bool
	Metrics() schema.AgentMetrics
	Memory() []Turn
	Cleanup(ctx context.Context) error
}

// Option configures an agent.
type Option func(*base)

// WithGuardEngine shares a CEL engine across agents.
func WithGuardEngine(e *expressions.CELEngine) Option {
	return func(b *base) { b.guards = e }
}

// WithLogger sets the agent logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *base) { b.logger = l }
}

// New creates the agent variant for t.
func New(t schema.AgentType, cfg schema.AgentConfig, invoker ToolInvoker, opts ...Option) (Agent, error) {
	if !t.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeConfigNotFound, "unknown agent type %q", t)
	}
	b, err := newBase(t, cfg, invoker, opts...)
	if err != nil {
		return nil, err
	}

	switch t {
	case schema.AgentDataCollection:
		return &DataCollectionAgent{b}, nil
	case schema.AgentPersonalization:
		return &PersonalizationAgent{b}, nil
	case schema.AgentLoyalty:
		return &LoyaltyAgent{b}, nil
	case schema.AgentPricing:
		return &PricingAgent{b}, nil
	case schema.AgentSentiment:
		return &SentimentAgent{b}, nil
	case schema.AgentTrend:
		return &TrendAgent{b}, nil
	case schema.AgentInventory:
		return &InventoryAgent{b}, nil
	case schema.AgentPromotion:
		return &PromotionAgent{b}, nil
	case schema.AgentCustomerSupport:
		return &CustomerSupportAgent{b}, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeConfigNotFound, "unknown agent type %q", t)
}

// base carries the state and pipeline runner shared by all variants.
type base struct {
	typ     schema.AgentType
	steps   int
	invoker ToolInvoker
	guards  *expressions.CELEngine
	logger  *slog.Logger

	mu      sync.Mutex
	cfg     schema.AgentConfig
	memory  memory
	metrics schema.AgentMetrics
}

func newBase(t schema.AgentType, cfg schema.AgentConfig, invoker ToolInvoker, opts ...Option) (*base, error) {
	if invoker == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "agent needs a tool invoker").WithAgent(t)
	}
	cfg = cfg.Clone()
	cfg.AgentType = t
	steps := len(pipelineSteps[t])
	if len(cfg.Tools) == 0 {
		cfg.Tools = PipelineSteps(t)
	}
	if len(cfg.Tools) != steps {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "agent needs exactly %d tools, got %d", steps, len(cfg.Tools)).WithAgent(t)
	}

	b := &base{typ: t, steps: steps, invoker: invoker, cfg: cfg, memory: newMemory(cfg.MemoryType)}
	for _, o := range opts {
		o(b)
	}
	if b.logger == nil {
		b.logger = logging.Discard()
	}
	if b.guards == nil {
		g, err := expressions.NewCELEngine()
		if err != nil {
			return nil, err
		}
		b.guards = g
	}
	if cfg.InputGuard != "" {
		if err := b.guards.Compile(cfg.InputGuard); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "input guard does not compile").WithAgent(t).WithCause(err)
		}
	}
	return b, nil
}

func (b *base) Type() schema.AgentType { return b.typ }

func (b *base) Config() schema.AgentConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Clone()
}

func (b *base) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.cfg.Inactive
}

func (b *base) Metrics() schema.AgentMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.metrics
	m.MemoryTurns = len(b.memory.turns)
	m.MemoryBytes = b.memory.bytes
	return m
}

// CarryMetrics copies the counters of prev into next. Memory is not carried.
// Agents not built by New are left untouched.
func CarryMetrics(next, prev Agent) {
	n, ok := next.(interface{ core() *base })
	if !ok {
		return
	}
	p, ok := prev.(interface{ core() *base })
	if !ok || n.core() == p.core() {
		return
	}
	m := p.core().snapshotMetrics()
	nb := n.core()
	nb.mu.Lock()
	nb.metrics = m
	nb.mu.Unlock()
}

func (b *base) core() *base { return b }

func (b *base) snapshotMetrics() schema.AgentMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

func (b *base) Memory() []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.memory.snapshot()
}

// Cleanup clears memory and deactivates the agent. Safe to call repeatedly.
func (b *base) Cleanup(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memory.reset()
	b.cfg.Inactive = true
	return nil
}

// Configure updates temperature, max_tokens, tools, model_name, input_guard
// and active. The update is all-or-nothing.
func (b *base) Configure(params map[string]any) error {
	b.mu.Lock()
	next := b.cfg.Clone()
	b.mu.Unlock()

	for key, v := range params {
		switch key {
		case "temperature":
			f, ok := toFloat(v)
			if !ok || f < 0 || f > 2 {
				return b.invalid("temperature must be a number between 0 and 2")
			}
			next.Temperature = f
		case "max_tokens":
			f, ok := toFloat(v)
			if !ok || f < 1 || f != float64(int(f)) {
				return b.invalid("max_tokens must be a positive integer")
			}
			next.MaxTokens = int(f)
		case "model_name":
			s, ok := v.(string)
			if !ok || s == "" {
				return b.invalid("model_name must be a non-empty string")
			}
			next.ModelName = s
		case "tools":
			names, ok := toStrings(v)
			if !ok || len(names) != b.steps {
				return b.invalid("tools must list exactly the pipeline's step count")
			}
			next.Tools = names
		case "input_guard":
			s, ok := v.(string)
			if !ok {
				return b.invalid("input_guard must be a string")
			}
			if s != "" {
				if err := b.guards.Compile(s); err != nil {
					return schema.NewError(schema.ErrCodeValidation, "input guard does not compile").WithAgent(b.typ).WithCause(err)
				}
			}
			next.InputGuard = s
		case "active":
			active, ok := v.(bool)
			if !ok {
				return b.invalid("active must be a boolean")
			}
			next.Inactive = !active
		case "memory_type":
			s, ok := v.(string)
			if !ok || (s != MemoryBuffer && s != MemoryWindow && s != MemoryNone) {
				return b.invalid("memory_type must be one of " + MemoryBuffer + ", " + MemoryWindow + ", " + MemoryNone)
			}
			next.MemoryType = s
		default:
			return b.invalid("unknown parameter " + key)
		}
	}

	b.mu.Lock()
	b.cfg = next
	b.memory.resize(next.MemoryType)
	b.mu.Unlock()
	return nil
}

func (b *base) invalid(msg string) error {
	return schema.NewError(schema.ErrCodeValidation, msg).WithAgent(b.typ)
}

// run executes the pipeline and combines the per-step results.
func (b *base) run(ctx context.Context, input map[string]any, combine combineFunc) (map[string]any, error) {
	b.mu.Lock()
	if b.cfg.Inactive {
		b.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeAgentProcessing, "agent is inactive").WithAgent(b.typ).WithTool("inactive")
	}
	cfg := b.cfg.Clone()
	wfID := logging.WorkflowID(ctx)
	b.memory.append(Turn{Role: RoleInput, WorkflowID: wfID, Content: input, At: time.Now()})
	b.mu.Unlock()

	ctx = logging.WithAgentType(ctx, string(b.typ))
	start := time.Now()
	out, err := b.pipeline(ctx, cfg, input, combine)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	b.mu.Lock()
	b.metrics.Invocations++
	b.metrics.TotalProcessingMs += elapsed
	b.metrics.LastProcessingMs = elapsed
	if err != nil {
		b.metrics.Errors++
	} else {
		b.metrics.Successes++
		b.memory.append(Turn{Role: RoleOutput, WorkflowID: wfID, Content: out, At: time.Now()})
	}
	b.mu.Unlock()

	if err != nil {
		logging.LogWith(ctx, b.logger).WarnContext(ctx, "agent processing failed", "error", err)
		return nil, err
	}
	logging.LogWith(ctx, b.logger).DebugContext(ctx, "agent processed input", "duration_ms", elapsed)
	return out, nil
}

func (b *base) pipeline(ctx context.Context, cfg schema.AgentConfig, input map[string]any, combine combineFunc) (map[string]any, error) {
	if cfg.InputGuard != "" {
		ok, err := b.guards.Check(ctx, cfg.InputGuard, map[string]any{
			"input":  input,
			"config": configVars(cfg),
		})
		if err != nil || !ok {
			e := schema.NewError(schema.ErrCodeAgentProcessing, "input rejected by guard").
				WithAgent(b.typ).WithTool("validate_input").
				WithDetails(map[string]any{"guard": cfg.InputGuard})
			if err != nil {
				e = e.WithCause(err)
			}
			return nil, e
		}
	}

	results := make([]any, 0, len(cfg.Tools))
	var previous any
	for _, name := range cfg.Tools {
		args := make(map[string]any, len(input)+1)
		for k, v := range input {
			args[k] = v
		}
		if previous != nil {
			args["previous"] = previous
		}

		b.remember(ctx, Turn{Role: RoleToolCall, Tool: name, At: time.Now()})
		res, err := b.invoker.ExecuteTool(ctx, name, args)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeAgentProcessing, "tool %s failed: %v", name, err).
				WithAgent(b.typ).WithTool(name).WithCause(err)
		}
		b.remember(ctx, Turn{Role: RoleToolResult, Tool: name, Content: res, At: time.Now()})
		results = append(results, res)
		previous = res
	}
	return combine(results), nil
}

func (b *base) remember(ctx context.Context, t Turn) {
	t.WorkflowID = logging.WorkflowID(ctx)
	b.mu.Lock()
	b.memory.append(t)
	b.mu.Unlock()
}

func configVars(cfg schema.AgentConfig) map[string]any {
	return map[string]any{
		"agent_type":  string(cfg.AgentType),
		"model_name":  cfg.ModelName,
		"temperature": cfg.Temperature,
		"max_tokens":  cfg.MaxTokens,
		"tools":       cfg.Tools,
		"memory_type": cfg.MemoryType,
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toStrings(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok || str == "" {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}
