package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/shopsync/internal/diagram"
	"github.com/rendis/shopsync/internal/store"
	"github.com/rendis/shopsync/pkg/schema"
)

// handleInteract runs one workflow and returns its envelope. Workflow
// failures are data, not tool errors.
func (s *Server) handleInteract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	interactionType, err := req.RequireString("interaction_type")
	if err != nil {
		return mcp.NewToolResultError("interaction_type is required"), nil
	}
	data := mcp.ParseStringMap(req, "data", map[string]any{})

	s.captureSession(ctx, userID)

	env := s.coord.ProcessUserInteraction(ctx, userID, schema.Interaction{Type: interactionType, Data: data})
	return marshalResult(env)
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	rec, err := s.coord.GetWorkflowStatus(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", err)), nil
	}
	return marshalResult(rec)
}

func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "filter", nil)

	filter := store.WorkflowFilter{
		Limit:  extractInt(raw, "limit", 50),
		Offset: extractInt(raw, "offset", 0),
	}
	if v, ok := raw["user_id"].(string); ok {
		filter.UserID = v
	}
	if v, ok := raw["status"].(string); ok && v != "" {
		st := schema.WorkflowStatus(v)
		filter.Status = &st
	}

	recs, err := s.coord.ListWorkflows(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if recs == nil {
		recs = []*schema.WorkflowRecord{}
	}
	return marshalResult(map[string]any{"workflows": recs, "count": len(recs)})
}

func (s *Server) handleAgents(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(s.coord.AgentStatus())
}

func (s *Server) handleConfigureAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("agent_type")
	if err != nil {
		return mcp.NewToolResultError("agent_type is required"), nil
	}
	t, err := schema.ParseAgentType(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	params := mcp.ParseStringMap(req, "params", nil)
	if params == nil {
		return mcp.NewToolResultError("params is required"), nil
	}

	if err := s.coord.ConfigureAgent(ctx, t, params); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("configure failed: %v", err)), nil
	}
	return marshalResult(map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Agent %s configured successfully", t),
	})
}

func (s *Server) handleConfigureWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "config", nil)
	if raw == nil {
		return mcp.NewToolResultError("config is required"), nil
	}

	var cfg schema.WorkflowConfig
	data, _ := json.Marshal(raw)
	if err := json.Unmarshal(data, &cfg); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid config: %v", err)), nil
	}

	if err := s.coord.ConfigureWorkflow(ctx, cfg); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("configure failed: %v", err)), nil
	}
	return marshalResult(map[string]string{
		"status":  "success",
		"message": "Workflow configured successfully",
	})
}

// handleDiagram renders the graph, with a status overlay when workflow_id is given.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	var rec *schema.WorkflowRecord
	if id := req.GetString("workflow_id", ""); id != "" {
		rec, err = s.coord.GetWorkflowStatus(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow not found: %v", err)), nil
		}
	}

	model, err := diagram.Build(s.coord.Graph(), rec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, err := diagram.RenderImage(ctx, model)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", err)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	switch val := filter[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the user to the calling MCP session for completion notifications.
func (s *Server) captureSession(ctx context.Context, userID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(userID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
