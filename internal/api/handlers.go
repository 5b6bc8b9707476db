package api

import (
	"fmt"
	"net/http"

	"github.com/rendis/shopsync/internal/diagram"
	"github.com/rendis/shopsync/internal/store"
	"github.com/rendis/shopsync/pkg/schema"
)

// interactRequest is the body of POST /agents/interact.
type interactRequest struct {
	UserID          string         `json:"user_id"`
	InteractionType string         `json:"interaction_type"`
	Data            map[string]any `json:"data"`
}

// handleInteract runs one workflow. Workflow failures are reported in the
// envelope with 200; only an unreadable body is rejected.
func (s *Server) handleInteract(w http.ResponseWriter, r *http.Request) {
	var body interactRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	env := s.deps.Coordinator.ProcessUserInteraction(r.Context(), body.UserID, schema.Interaction{
		Type: body.InteractionType,
		Data: body.Data,
	})
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Coordinator.GetWorkflowStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			writeError(w, http.StatusNotFound, "Workflow not found")
			return
		}
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleWorkflowEvents returns the persisted events of a run and the agent
// outcomes replayed from them.
func (s *Server) handleWorkflowEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := s.deps.Events.GetEvents(r.Context(), id, int64(queryInt(r, "since", 0)))
	if err != nil {
		writeCodedError(w, err)
		return
	}
	agents, err := s.deps.Events.ReplayAgents(r.Context(), id)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id": id,
		"events":      events,
		"agents":      agents,
	})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.WorkflowFilter{
		UserID: q.Get("user_id"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if v := q.Get("status"); v != "" {
		st := schema.WorkflowStatus(v)
		filter.Status = &st
	}

	recs, err := s.deps.Coordinator.ListWorkflows(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list workflows: %v", err))
		return
	}
	if recs == nil {
		recs = []*schema.WorkflowRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": recs, "count": len(recs)})
}

func (s *Server) handleConfigureWorkflow(w http.ResponseWriter, r *http.Request) {
	var cfg schema.WorkflowConfig
	if err := decodeBody(w, r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Coordinator.ConfigureWorkflow(r.Context(), cfg); err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Workflow configured successfully",
	})
}

func (s *Server) handleWorkflowConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Coordinator.WorkflowConfig())
}

// handleGraph renders the dependency graph. ?format= selects mermaid
// (default), ascii or png; ?workflow_id= colours nodes by that run.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rec *schema.WorkflowRecord
	if id := r.URL.Query().Get("workflow_id"); id != "" {
		var err error
		rec, err = s.deps.Coordinator.GetWorkflowStatus(ctx, id)
		if err != nil {
			writeCodedError(w, err)
			return
		}
	}

	model, err := diagram.Build(s.deps.Coordinator.Graph(), rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, diagram.RenderMermaid(model))
	case "ascii":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, diagram.RenderASCII(model))
	case "png":
		png, err := diagram.RenderImage(ctx, model)
		if err != nil {
			s.deps.Logger.Error("graph render failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
	}
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Coordinator.AgentStatus())
}

func (s *Server) handleConfigureAgent(w http.ResponseWriter, r *http.Request) {
	t, err := schema.ParseAgentType(r.PathValue("type"))
	if err != nil {
		writeCodedError(w, err)
		return
	}
	var params map[string]any
	if err := decodeBody(w, r, &params); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Coordinator.ConfigureAgent(r.Context(), t, params); err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Agent %s configured successfully", t),
	})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	s.runAgent(w, r, schema.AgentPersonalization, map[string]any{"user_id": r.PathValue("user_id")})
}

func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	s.runAgent(w, r, schema.AgentPricing, map[string]any{"product_id": r.PathValue("product_id")})
}

func (s *Server) handleSupportChat(w http.ResponseWriter, r *http.Request) {
	var msg map[string]any
	if err := decodeBody(w, r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.runAgent(w, r, schema.AgentCustomerSupport, msg)
}

// runAgent invokes a single agent outside any workflow and returns its output.
func (s *Server) runAgent(w http.ResponseWriter, r *http.Request, t schema.AgentType, input map[string]any) {
	out, err := s.deps.Coordinator.RunAgent(r.Context(), t, input)
	if err != nil {
		s.deps.Logger.WarnContext(r.Context(), "direct agent call failed", "agent_type", t, "error", err)
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tools == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tools": []any{}, "stats": map[string]any{}, "cache_size": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":      s.deps.Tools.List(),
		"stats":      s.deps.Tools.Stats(),
		"cache_size": s.deps.Tools.CacheSize(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_monitors": s.deps.Coordinator.ActiveMonitors(),
		"pool":            s.deps.Coordinator.PoolMetrics(),
	})
}
