package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rendis/shopsync/internal/streaming"
)

// handleSSEGlobal streams every event, optionally narrowed by
// ?agent_type= and a comma separated ?event_types=.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, filterFromQuery(r, ""))
}

// handleSSEWorkflow streams events for a single workflow.
func (s *Server) handleSSEWorkflow(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, filterFromQuery(r, r.PathValue("id")))
}

func filterFromQuery(r *http.Request, workflowID string) streaming.EventFilter {
	q := r.URL.Query()
	f := streaming.EventFilter{WorkflowID: workflowID, AgentType: q.Get("agent_type")}
	if v := q.Get("event_types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.EventTypes = append(f.EventTypes, t)
			}
		}
	}
	return f
}

func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
		}
	}
}
