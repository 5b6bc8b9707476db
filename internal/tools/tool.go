// Package tools holds the named operations agents call, behind a registry
// that memoizes successful results for a per-tool TTL.
package tools

import (
	"context"
	"time"
)

// DefaultCacheTTL applies to tools that do not declare their own TTL.
const DefaultCacheTTL = 300 * time.Second

// Tool is a named, side-effect-tolerant operation over JSON-shaped arguments.
type Tool interface {
	Name() string
	Description() string
	// CacheTTL is how long a successful result stays fresh. Zero means DefaultCacheTTL.
	CacheTTL() time.Duration
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName string
	Desc     string
	TTL      time.Duration
	Fn       func(ctx context.Context, args map[string]any) (any, error)
}

func (f *Func) Name() string            { return f.ToolName }
func (f *Func) Description() string     { return f.Desc }
func (f *Func) CacheTTL() time.Duration { return f.TTL }

func (f *Func) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}

// Info is the public description of a registered tool.
type Info struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	CacheTTL    float64 `json:"cache_ttl_seconds"`
}

// Stats are cumulative counters for one tool. Calls is derived as
// Executions+CacheHits when a snapshot is taken.
type Stats struct {
	Calls       int64   `json:"calls"`
	Executions  int64   `json:"executions"`
	CacheHits   int64   `json:"cache_hits"`
	Failures    int64   `json:"failures"`
	TotalTimeMs float64 `json:"total_time_ms"`
}
