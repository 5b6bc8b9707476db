package engine

import (
	"context"
	"sync"

	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/pkg/schema"
)

// TaskCounts tracks agent tasks in one accounting bucket.
type TaskCounts struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// PoolMetrics is a snapshot of the pool: totals plus a breakdown by the
// agent type carried on each task's context.
type PoolMetrics struct {
	Size int `json:"size"`
	TaskCounts
	ByAgent map[schema.AgentType]TaskCounts `json:"by_agent,omitempty"`
}

// ErrPoolShutdown is returned when work is submitted after Close.
var ErrPoolShutdown = schema.NewError(schema.ErrCodeShutdown, "worker pool is shut down")

// WorkerPool bounds how many agents run at once across every workflow.
type WorkerPool struct {
	slots chan struct{}
	stop  chan struct{}
	tasks sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	total   TaskCounts
	byAgent map[schema.AgentType]*TaskCounts
}

// NewWorkerPool creates a pool running at most size agents at once.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		slots:   make(chan struct{}, size),
		stop:    make(chan struct{}),
		byAgent: make(map[schema.AgentType]*TaskCounts),
	}
}

// Submit waits for a free slot, then runs fn on its own goroutine. It returns
// early when ctx is done or the pool is closed. A panic in fn is counted and
// swallowed; callers that need it as an error recover inside fn.
// Tasks are accounted under logging.AgentType(ctx).
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return ErrPoolShutdown
	}

	agent := schema.AgentType(logging.AgentType(ctx))

	// tasks.Add under mu so a Wait after Close cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolShutdown
	}
	p.tasks.Add(1)
	p.count(agent, func(c *TaskCounts) { c.Active++ })
	p.mu.Unlock()

	go p.run(ctx, agent, fn)
	return nil
}

func (p *WorkerPool) run(ctx context.Context, agent schema.AgentType, fn func(ctx context.Context) error) {
	var err error
	panicked := true
	defer func() {
		if panicked {
			recover()
		}
		p.mu.Lock()
		p.count(agent, func(c *TaskCounts) {
			c.Active--
			switch {
			case panicked:
				c.Panics++
				c.Failed++
			case err != nil:
				c.Failed++
			default:
				c.Completed++
			}
		})
		p.mu.Unlock()
		<-p.slots
		p.tasks.Done()
	}()

	err = fn(ctx)
	panicked = false
}

// count applies update to the totals and to agent's bucket. Callers hold mu.
func (p *WorkerPool) count(agent schema.AgentType, update func(*TaskCounts)) {
	update(&p.total)
	if agent == "" {
		return
	}
	bucket, ok := p.byAgent[agent]
	if !ok {
		bucket = &TaskCounts{}
		p.byAgent[agent] = bucket
	}
	update(bucket)
}

func (p *WorkerPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Wait blocks until every submitted task has returned.
func (p *WorkerPool) Wait() {
	p.tasks.Wait()
}

// Close rejects new work without waiting for running tasks. Idempotent.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.stop)
	}
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := PoolMetrics{Size: cap(p.slots), TaskCounts: p.total}
	if len(p.byAgent) > 0 {
		m.ByAgent = make(map[schema.AgentType]TaskCounts, len(p.byAgent))
		for t, c := range p.byAgent {
			m.ByAgent[t] = *c
		}
	}
	return m
}
