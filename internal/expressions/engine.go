package expressions

import (
	"context"
	"sync"
)

// Engine evaluates expressions against a data map.
// Three implementations: CEL (agent input guards), Expr (rule tool fields), GoJQ (result projection).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// programCache memoizes compiled programs by expression source.
// Safe for concurrent use; compilation happens at most once per expression
// unless two goroutines race past the read check, in which case the first writer wins.
type programCache[P any] struct {
	mu    sync.RWMutex
	progs map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{progs: make(map[string]P)}
}

func (c *programCache[P]) getOrCompile(expression string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	if p, ok := c.progs[expression]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.progs[expression]; ok {
		return p, nil
	}
	p, err := compile(expression)
	if err != nil {
		return p, err
	}
	c.progs[expression] = p
	return p, nil
}

func (c *programCache[P]) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.progs)
}
