package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/rendis/shopsync/internal/logging"
	"github.com/rendis/shopsync/internal/telemetry"
	"github.com/rendis/shopsync/pkg/schema"
)

type cacheEntry struct {
	value   any
	created time.Time
}

// Registry maps tool names to tools and memoizes successful results.
//
// A cached entry is served while now-created < ttl. Entries are stored and
// served as deep copies, so callers may mutate results. Stale entries are dropped
// on lookup; there is no background sweeper. Failures are never cached.
// Two concurrent misses on the same key may both execute; the later store wins.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	cacheMu sync.Mutex
	cache   map[string]cacheEntry

	statsMu sync.Mutex
	stats   map[string]*Stats

	sink   telemetry.Sink
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithSink sets the telemetry sink notified of every uncached execution.
func WithSink(s telemetry.Sink) Option {
	return func(r *Registry) { r.sink = s }
}

// WithClock replaces time.Now for cache freshness checks.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool),
		cache:  make(map[string]cacheEntry),
		stats:  make(map[string]*Stats),
		sink:   telemetry.Nop{},
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterTool adds a tool. A second registration under the same name fails with DUPLICATE_TOOL.
func (r *Registry) RegisterTool(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return schema.NewErrorf(schema.ErrCodeDuplicateTool, "tool already registered").WithTool(name)
	}
	r.tools[name] = tool
	return nil
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns registered tools sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.tools))
	for _, t := range r.tools {
		ttl := t.CacheTTL()
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}
		out = append(out, Info{Name: t.Name(), Description: t.Description(), CacheTTL: ttl.Seconds()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExecuteTool runs the named tool or serves a fresh cached result for identical arguments.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewError(schema.ErrCodeToolNotFound, "tool is not registered").WithTool(name)
	}

	ttl := tool.CacheTTL()
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	key, cacheable := cacheKey(name, args)
	if cacheable {
		if v, hit := r.lookup(key, ttl); hit {
			r.record(name, func(s *Stats) { s.CacheHits++ })
			return v, nil
		}
	}

	ctx = logging.WithTool(ctx, name)
	start := time.Now()
	result, err := tool.Execute(ctx, args)
	elapsed := time.Since(start)

	r.record(name, func(s *Stats) {
		s.Executions++
		s.TotalTimeMs += float64(elapsed.Microseconds()) / 1000
		if err != nil {
			s.Failures++
		}
	})
	r.sink.LogToolExecution(ctx, telemetry.ToolExecution{
		Tool:     name,
		Args:     args,
		Result:   result,
		Err:      err,
		Duration: elapsed,
	})

	if err != nil {
		return nil, err
	}
	if cacheable {
		r.cacheMu.Lock()
		r.cache[key] = cacheEntry{value: deepcopy.Copy(result), created: r.now()}
		r.cacheMu.Unlock()
	} else {
		r.logger.DebugContext(ctx, "tool arguments not serializable, result not cached")
	}
	return result, nil
}

// Stats returns a snapshot of per-tool counters.
func (r *Registry) Stats() map[string]Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	out := make(map[string]Stats, len(r.stats))
	for k, v := range r.stats {
		st := *v
		st.Calls = st.Executions + st.CacheHits
		out[k] = st
	}
	return out
}

// CacheSize returns the number of cached entries, fresh or stale.
func (r *Registry) CacheSize() int {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return len(r.cache)
}

func (r *Registry) lookup(key string, ttl time.Duration) (any, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return nil, false
	}
	if r.now().Sub(entry.created) < ttl {
		return deepcopy.Copy(entry.value), true
	}
	delete(r.cache, key)
	return nil, false
}

func (r *Registry) record(name string, fn func(*Stats)) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	s, ok := r.stats[name]
	if !ok {
		s = &Stats{}
		r.stats[name] = s
	}
	fn(s)
}

// cacheKey is the tool name plus the canonical JSON of args
// (encoding/json sorts map keys). Unserializable args are not cacheable.
func cacheKey(name string, args map[string]any) (string, bool) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", false
	}
	return name + ":" + string(raw), true
}
