// ABOUTME: HTTP handlers for agent heartbeats and the presence listing.
// ABOUTME: The listing triggers offline classification and dedup bookkeeping.

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/auth"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/presence"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/shadow"
)

// HeartbeatRequest is the JSON request body for POST /api/agents/heartbeat.
type HeartbeatRequest struct {
	AgentID     string `json:"agentId,omitempty"`
	Status      string `json:"status,omitempty"`
	CurrentTask string `json:"currentTask,omitempty"`
}

// HeartbeatResponse is the JSON response for POST /api/agents/heartbeat.
type HeartbeatResponse struct {
	Agent      *presence.Agent `json:"agent"`
	WasOffline bool            `json:"wasOffline"`
}

// ListAgentsResponse is the JSON response for GET /api/agents.
type ListAgentsResponse struct {
	Active  []presence.Agent `json:"active"`
	Offline []presence.Agent `json:"offline"`
}

// handleHeartbeat handles POST /api/agents/heartbeat. The agent id defaults
// to the authenticated caller.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.AgentID == "" {
		req.AgentID = auth.AgentFromContext(r.Context())
	}
	if req.AgentID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "agentId is required")
		return
	}

	agent, wasOffline, err := s.svc.Presence.RecordHeartbeat(r.Context(), req.AgentID, presence.Heartbeat{
		Status:      req.Status,
		CurrentTask: req.CurrentTask,
	})
	if err != nil {
		s.logger.Error("failed to record heartbeat", "agent", req.AgentID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// A primary's normal heartbeat also refreshes its shadow, standing the
	// shadow down after a takeover. Most agents have no shadow registered.
	if s.svc.Shadows != nil {
		if _, err := s.svc.Shadows.RecordPrimaryHeartbeat(r.Context(), req.AgentID); err != nil && !errors.Is(err, shadow.ErrNotRegistered) {
			s.logger.Warn("failed to refresh shadow heartbeat", "agent", req.AgentID, "error", err)
		}
	}

	s.writeJSON(w, http.StatusOK, HeartbeatResponse{Agent: agent, WasOffline: wasOffline})
}

// handleListAgents handles GET /api/agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	cls, err := s.svc.Presence.Classify(r.Context())
	if err != nil {
		s.logger.Error("failed to classify agents", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ListAgentsResponse{Active: cls.Active, Offline: cls.Offline}
	if resp.Active == nil {
		resp.Active = []presence.Agent{}
	}
	if resp.Offline == nil {
		resp.Offline = []presence.Agent{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
