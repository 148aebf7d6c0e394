// ABOUTME: HTTP handlers for shadow failover registration, checks, and takeover.
// ABOUTME: An external scheduler drives POST /api/shadow/check on an interval.

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/shadow"
)

// RegisterShadowRequest is the JSON request body for POST /api/shadow/register.
type RegisterShadowRequest struct {
	PrimaryAgentID   string `json:"primaryAgentId"`
	StaleThresholdMs int64  `json:"staleThresholdMs"`
	AutoTakeover     bool   `json:"autoTakeover"`
}

// ShadowHeartbeatRequest is the JSON request body for POST /api/shadow/heartbeat.
type ShadowHeartbeatRequest struct {
	PrimaryAgentID string `json:"primaryAgentId"`
}

// ShadowTakeoverRequest is the JSON request body for POST /api/shadow/takeover.
type ShadowTakeoverRequest struct {
	PrimaryAgentID string `json:"primaryAgentId"`
	Reason         string `json:"reason,omitempty"`
}

// ShadowReleaseRequest is the JSON request body for POST /api/shadow/release.
type ShadowReleaseRequest struct {
	PrimaryAgentID string `json:"primaryAgentId"`
}

// ShadowCheckResult is one per-shadow outcome in the check response.
type ShadowCheckResult struct {
	PrimaryAgentID string          `json:"primaryAgentId"`
	Status         shadow.Status   `json:"status"`
	StaleForMs     int64           `json:"staleForMs"`
	Action         shadow.Action   `json:"action"`
	Checkpoint     json.RawMessage `json:"checkpoint,omitempty"`
}

// ShadowCheckResponse is the JSON response for POST /api/shadow/check.
type ShadowCheckResponse struct {
	Results []ShadowCheckResult `json:"results"`
}

// ShadowTakeoverResponse is the JSON response for POST /api/shadow/takeover.
type ShadowTakeoverResponse struct {
	Shadow     *shadow.Agent   `json:"shadow"`
	Checkpoint json.RawMessage `json:"checkpoint,omitempty"`
}

// ListShadowsResponse is the JSON response for GET /api/shadow.
type ListShadowsResponse struct {
	Shadows []*shadow.Agent `json:"shadows"`
}

// handleShadowRegister handles POST /api/shadow/register.
func (s *Server) handleShadowRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req RegisterShadowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	agent, err := s.svc.Shadows.Register(r.Context(),
		req.PrimaryAgentID,
		time.Duration(req.StaleThresholdMs)*time.Millisecond,
		req.AutoTakeover,
	)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, agent)
}

// handleShadowHeartbeat handles POST /api/shadow/heartbeat, refreshing the
// shadow's view of its primary.
func (s *Server) handleShadowHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ShadowHeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PrimaryAgentID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "primaryAgentId is required")
		return
	}

	agent, err := s.svc.Shadows.RecordPrimaryHeartbeat(r.Context(), req.PrimaryAgentID)
	if errors.Is(err, shadow.ErrNotRegistered) {
		s.sendJSONError(w, http.StatusNotFound, "shadow not registered")
		return
	}
	if err != nil {
		s.logger.Error("failed to record primary heartbeat", "primary", req.PrimaryAgentID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, agent)
}

// handleShadowCheck handles POST /api/shadow/check.
func (s *Server) handleShadowCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	results, err := s.svc.Shadows.CheckStale(r.Context())
	if err != nil {
		s.logger.Error("staleness check failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ShadowCheckResponse{Results: make([]ShadowCheckResult, len(results))}
	for i, res := range results {
		resp.Results[i] = ShadowCheckResult{
			PrimaryAgentID: res.PrimaryAgentID,
			Status:         res.Status,
			StaleForMs:     res.StaleFor.Milliseconds(),
			Action:         res.Action,
			Checkpoint:     res.Checkpoint,
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleShadowTakeover handles POST /api/shadow/takeover.
func (s *Server) handleShadowTakeover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ShadowTakeoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PrimaryAgentID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "primaryAgentId is required")
		return
	}

	agent, cp, err := s.svc.Shadows.Takeover(r.Context(), req.PrimaryAgentID, req.Reason)
	if errors.Is(err, shadow.ErrNotRegistered) {
		s.sendJSONError(w, http.StatusNotFound, "shadow not registered")
		return
	}
	if err != nil {
		s.logger.Error("takeover failed", "primary", req.PrimaryAgentID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, ShadowTakeoverResponse{Shadow: agent, Checkpoint: cp})
}

// handleShadowRelease handles POST /api/shadow/release.
func (s *Server) handleShadowRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ShadowReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PrimaryAgentID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "primaryAgentId is required")
		return
	}

	agent, err := s.svc.Shadows.Release(r.Context(), req.PrimaryAgentID)
	if errors.Is(err, shadow.ErrNotRegistered) {
		s.sendJSONError(w, http.StatusNotFound, "shadow not registered")
		return
	}
	if err != nil {
		s.logger.Error("release failed", "primary", req.PrimaryAgentID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, agent)
}

// handleListShadows handles GET /api/shadow.
func (s *Server) handleListShadows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	shadows, err := s.svc.Shadows.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list shadows", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if shadows == nil {
		shadows = []*shadow.Agent{}
	}
	s.writeJSON(w, http.StatusOK, ListShadowsResponse{Shadows: shadows})
}
