// Package api serves the agent coordination HTTP surface.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/rendis/shopsync/internal/engine"
	"github.com/rendis/shopsync/internal/store"
	"github.com/rendis/shopsync/internal/streaming"
	"github.com/rendis/shopsync/internal/tools"
	"github.com/rendis/shopsync/pkg/schema"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Coordinator is the subset of engine.Coordinator the API drives.
type Coordinator interface {
	ProcessUserInteraction(ctx context.Context, userID string, in schema.Interaction) schema.Envelope
	GetWorkflowStatus(ctx context.Context, id string) (*schema.WorkflowRecord, error)
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.WorkflowRecord, error)
	ConfigureAgent(ctx context.Context, t schema.AgentType, params map[string]any) error
	ConfigureWorkflow(ctx context.Context, cfg schema.WorkflowConfig) error
	RunAgent(ctx context.Context, t schema.AgentType, input map[string]any) (map[string]any, error)
	AgentStatus() map[schema.AgentType]schema.AgentStatus
	Graph() *engine.Graph
	WorkflowConfig() schema.WorkflowConfig
	ActiveMonitors() int
	PoolMetrics() engine.PoolMetrics
}

// ToolCatalog reports registered tools and their counters.
type ToolCatalog interface {
	List() []tools.Info
	Stats() map[string]tools.Stats
	CacheSize() int
}

// EventReader reads back the persisted event log of a workflow.
// Satisfied by store.EventLog.
type EventReader interface {
	GetEvents(ctx context.Context, workflowID string, since int64) ([]*store.Event, error)
	ReplayAgents(ctx context.Context, workflowID string) (map[schema.AgentType]schema.AgentRunStatus, error)
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Coordinator Coordinator
	Tools       ToolCatalog       // optional
	Hub         streaming.EventHub // optional; SSE routes are omitted without it
	Events      EventReader        // optional
	Metrics     http.Handler       // optional; served at /metrics
	Logger      *slog.Logger
}

// Server routes HTTP requests to the coordinator.
type Server struct {
	deps Deps
}

// NewServer creates a Server. A nil logger writes text to stderr.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	// Workflows.
	mux.HandleFunc("POST /agents/interact", s.handleInteract)
	mux.HandleFunc("GET /agents/workflow/{id}", s.handleWorkflowStatus)
	mux.HandleFunc("GET /agents/workflows", s.handleListWorkflows)
	if s.deps.Events != nil {
		mux.HandleFunc("GET /agents/workflow/{id}/events", s.handleWorkflowEvents)
	}
	mux.HandleFunc("POST /agents/workflow/configure", s.handleConfigureWorkflow)
	mux.HandleFunc("GET /agents/workflow/config", s.handleWorkflowConfig)
	mux.HandleFunc("GET /agents/graph", s.handleGraph)

	// Agents.
	mux.HandleFunc("GET /agents/agents/status", s.handleAgentStatus)
	mux.HandleFunc("POST /agents/agents/{type}/configure", s.handleConfigureAgent)
	mux.HandleFunc("GET /agents/recommendations/{user_id}", s.handleRecommendations)
	mux.HandleFunc("GET /agents/pricing/{product_id}", s.handlePricing)
	mux.HandleFunc("POST /agents/support/chat", s.handleSupportChat)

	// Tools.
	mux.HandleFunc("GET /agents/tools", s.handleTools)

	// SSE streams.
	if s.deps.Hub != nil {
		mux.HandleFunc("GET /agents/sse/events", s.handleSSEGlobal)
		mux.HandleFunc("GET /agents/sse/workflows/{id}", s.handleSSEWorkflow)
	}

	return s.logRequests(mux)
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.deps.Logger.DebugContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
