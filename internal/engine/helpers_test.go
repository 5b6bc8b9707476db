package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/shopsync/internal/agents"
	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/internal/telemetry"
	"github.com/rendis/shopsync/pkg/schema"
)

type recordedEvent struct {
	Name       string
	WorkflowID string
	Payload    map[string]any
	At         time.Time
}

// recordingSink captures events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
	errors []error
	tools  []telemetry.ToolExecution
}

func (s *recordingSink) LogToolExecution(_ context.Context, exec telemetry.ToolExecution) {
	s.mu.Lock()
	s.tools = append(s.tools, exec)
	s.mu.Unlock()
}

func (s *recordingSink) LogEvent(ctx context.Context, name string, payload map[string]any) {
	cp := make(map[string]any, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	s.mu.Lock()
	s.events = append(s.events, recordedEvent{Name: name, WorkflowID: logging.WorkflowID(ctx), Payload: cp, At: time.Now()})
	s.mu.Unlock()
}

func (s *recordingSink) LogError(_ context.Context, err error, _ map[string]any) {
	s.mu.Lock()
	s.errors = append(s.errors, err)
	s.mu.Unlock()
}

func (s *recordingSink) named(name string) []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedEvent
	for _, e := range s.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Name)
	}
	return out
}

func (s *recordingSink) count(name string) int {
	return len(s.named(name))
}

// stubAgent is a scriptable agents.Agent.
type stubAgent struct {
	typ schema.AgentType
	fn  func(ctx context.Context, input map[string]any) (map[string]any, error)

	mu         sync.Mutex
	inputs     []map[string]any
	metrics    schema.AgentMetrics
	inactive   bool
	configured []map[string]any
	cleanups   int
}

func newStubAgent(t schema.AgentType) *stubAgent {
	return &stubAgent{typ: t}
}

func (a *stubAgent) Type() schema.AgentType { return a.typ }

func (a *stubAgent) Process(ctx context.Context, input map[string]any) (map[string]any, error) {
	a.mu.Lock()
	if a.inactive {
		a.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeAgentProcessing, "agent is inactive").WithAgent(a.typ).WithTool("inactive")
	}
	a.inputs = append(a.inputs, input)
	fn := a.fn
	a.mu.Unlock()

	out, err := map[string]any{"agent": string(a.typ)}, error(nil)
	if fn != nil {
		out, err = fn(ctx, input)
	}

	a.mu.Lock()
	a.metrics.Invocations++
	if err != nil {
		a.metrics.Errors++
	} else {
		a.metrics.Successes++
	}
	a.mu.Unlock()
	return out, err
}

func (a *stubAgent) Configure(params map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configured = append(a.configured, params)
	if active, ok := params["active"].(bool); ok {
		a.inactive = !active
	}
	return nil
}

func (a *stubAgent) Config() schema.AgentConfig {
	return schema.AgentConfig{AgentType: a.typ, Tools: []string{"stub"}}
}

func (a *stubAgent) IsActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.inactive
}

func (a *stubAgent) Metrics() schema.AgentMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

func (a *stubAgent) Memory() []agents.Turn { return nil }

func (a *stubAgent) Cleanup(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleanups++
	a.inactive = true
	return nil
}

func (a *stubAgent) cleanupCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cleanups
}

func (a *stubAgent) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inputs)
}

func (a *stubAgent) lastInput() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.inputs) == 0 {
		return nil
	}
	return a.inputs[len(a.inputs)-1]
}

// waitForCancel blocks until ctx is done.
func waitForCancel(ctx context.Context, _ map[string]any) (map[string]any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
