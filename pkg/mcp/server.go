// Package mcp exposes the coordinator as Model Context Protocol tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/shopsync/internal/engine"
	"github.com/rendis/shopsync/internal/store"
	"github.com/rendis/shopsync/internal/streaming"
	"github.com/rendis/shopsync/pkg/schema"
)

// Coordinator is the subset of engine.Coordinator served over MCP.
type Coordinator interface {
	ProcessUserInteraction(ctx context.Context, userID string, in schema.Interaction) schema.Envelope
	GetWorkflowStatus(ctx context.Context, id string) (*schema.WorkflowRecord, error)
	ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.WorkflowRecord, error)
	ConfigureAgent(ctx context.Context, t schema.AgentType, params map[string]any) error
	ConfigureWorkflow(ctx context.Context, cfg schema.WorkflowConfig) error
	AgentStatus() map[schema.AgentType]schema.AgentStatus
	Graph() *engine.Graph
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Coordinator Coordinator
	Hub         streaming.EventHub // optional; enables completion notifications
	Logger      *slog.Logger
}

// Server wraps an MCP server with the shopsync tool handlers.
type Server struct {
	coord     Coordinator
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  UserNotifier
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		coord:    deps.Coordinator,
		hub:      deps.Hub,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"shopsync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("ShopSync coordinates nine e-commerce agents over a dependency graph. Use shopsync.interact to run a workflow for a user interaction, shopsync.status to read a workflow record, shopsync.query to list workflows, shopsync.agents for agent metrics, shopsync.configure_agent and shopsync.configure_workflow to change behaviour, and shopsync.diagram to render the graph."),
	)
	mcpSrv.AddTools(s.tools()...)

	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	if s.hub != nil {
		stop, err := s.WatchCompletions(ctx)
		if err != nil {
			return err
		}
		defer stop()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: interactTool(), Handler: s.handleInteract},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: agentsTool(), Handler: s.handleAgents},
		{Tool: configureAgentTool(), Handler: s.handleConfigureAgent},
		{Tool: configureWorkflowTool(), Handler: s.handleConfigureWorkflow},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func interactTool() mcp.Tool {
	return mcp.NewTool("shopsync.interact",
		mcp.WithDescription("Run the agent workflow for one user interaction"),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("ID of the user the interaction belongs to")),
		mcp.WithString("interaction_type", mcp.Required(), mcp.Description("Interaction kind, e.g. view, purchase, support")),
		mcp.WithObject("data", mcp.Description("Interaction payload (product_id, message, amount, ...)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("shopsync.status",
		mcp.WithDescription("Get the persisted record of a workflow run"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID returned by shopsync.interact")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("shopsync.query",
		mcp.WithDescription("List workflow runs"),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, user_id, limit, offset)")),
	)
}

func agentsTool() mcp.Tool {
	return mcp.NewTool("shopsync.agents",
		mcp.WithDescription("Report activity and metrics of every enabled agent"),
	)
}

func configureAgentTool() mcp.Tool {
	return mcp.NewTool("shopsync.configure_agent",
		mcp.WithDescription("Update parameters of one agent"),
		mcp.WithString("agent_type", mcp.Required(),
			mcp.Enum(agentTypeNames()...),
			mcp.Description("Agent to configure"),
		),
		mcp.WithObject("params", mcp.Required(), mcp.Description("temperature, max_tokens, model_name, tools, input_guard, ...")),
	)
}

func configureWorkflowTool() mcp.Tool {
	return mcp.NewTool("shopsync.configure_workflow",
		mcp.WithDescription("Replace the workflow configuration and rebuild the agent graph"),
		mcp.WithObject("config", mcp.Required(), mcp.Description("enabled_agents, workflow_type, max_steps, timeout_seconds, monitoring_interval, failure_policy")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("shopsync.diagram",
		mcp.WithDescription("Render the agent dependency graph. Returns ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format"),
		),
		mcp.WithString("workflow_id", mcp.Description("Colour nodes by the outcome of this workflow run")),
	)
}

func agentTypeNames() []string {
	types := schema.AllAgentTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
