// ABOUTME: HTTP handlers for orchestration creation, subtask patches, and synthesis.
// ABOUTME: Subpath routing follows /api/orchestrations/{id}[/subtasks/{sid}|/synthesize|/fail].

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/auth"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/orchestrate"
)

// CreateOrchestrationRequest is the JSON request body for POST /api/orchestrations.
type CreateOrchestrationRequest struct {
	Title       string                    `json:"title"`
	Coordinator string                    `json:"coordinator,omitempty"`
	Subtasks    []orchestrate.SubtaskSpec `json:"subtasks,omitempty"`
}

// SynthesizeRequest is the JSON request body for POST /api/orchestrations/{id}/synthesize.
type SynthesizeRequest struct {
	Synthesis string `json:"synthesis"`
}

// FailOrchestrationRequest is the JSON request body for POST /api/orchestrations/{id}/fail.
type FailOrchestrationRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ListOrchestrationsResponse is the JSON response for GET /api/orchestrations.
type ListOrchestrationsResponse struct {
	Orchestrations []*orchestrate.Orchestration `json:"orchestrations"`
}

// handleOrchestrations handles the collection endpoint.
func (s *Server) handleOrchestrations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		listed, err := s.svc.Orchestrator.List(r.Context())
		if err != nil {
			s.logger.Error("failed to list orchestrations", "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if listed == nil {
			listed = []*orchestrate.Orchestration{}
		}
		s.writeJSON(w, http.StatusOK, ListOrchestrationsResponse{Orchestrations: listed})

	case http.MethodPost:
		var req CreateOrchestrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Coordinator == "" {
			req.Coordinator = auth.AgentFromContext(r.Context())
		}

		orch, err := s.svc.Orchestrator.Create(r.Context(), req.Title, req.Coordinator, req.Subtasks)
		if err != nil {
			s.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, http.StatusCreated, orch)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleOrchestrationPath routes /api/orchestrations/{id} and its
// sub-resources by path shape and method.
func (s *Server) handleOrchestrationPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/orchestrations/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.sendJSONError(w, http.StatusBadRequest, "orchestration id is required")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleGetOrchestration(w, r, id)

	case len(parts) == 3 && parts[1] == "subtasks":
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handlePatchSubtask(w, r, id, parts[2])

	case len(parts) == 2 && parts[1] == "synthesize":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleSynthesize(w, r, id)

	case len(parts) == 2 && parts[1] == "fail":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleFailOrchestration(w, r, id)

	default:
		s.sendJSONError(w, http.StatusBadRequest, "invalid path")
	}
}

func (s *Server) handleGetOrchestration(w http.ResponseWriter, r *http.Request, id string) {
	orch, err := s.svc.Orchestrator.Get(r.Context(), id)
	if errors.Is(err, orchestrate.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "orchestration not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get orchestration", "orchestration_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, orch)
}

func (s *Server) handlePatchSubtask(w http.ResponseWriter, r *http.Request, id, subtaskID string) {
	var upd orchestrate.SubtaskUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	orch, err := s.svc.Orchestrator.UpdateSubtask(r.Context(), id, subtaskID, upd)
	if errors.Is(err, orchestrate.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "orchestration not found")
		return
	}
	if errors.Is(err, orchestrate.ErrSubtaskNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "subtask not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to update subtask", "orchestration_id", id, "subtask_id", subtaskID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, orch)
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request, id string) {
	var req SynthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Synthesis == "" {
		s.sendJSONError(w, http.StatusBadRequest, "synthesis is required")
		return
	}

	orch, err := s.svc.Orchestrator.Synthesize(r.Context(), id, req.Synthesis)
	if errors.Is(err, orchestrate.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "orchestration not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to synthesize", "orchestration_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, orch)
}

func (s *Server) handleFailOrchestration(w http.ResponseWriter, r *http.Request, id string) {
	var req FailOrchestrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	orch, err := s.svc.Orchestrator.Fail(r.Context(), id, req.Reason)
	if errors.Is(err, orchestrate.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "orchestration not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to fail orchestration", "orchestration_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, orch)
}
