// ABOUTME: HTTP handlers for the advisory lock endpoints.
// ABOUTME: Maps lock conflicts to 409 responses carrying the holder details.

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/auth"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/locks"
)

// AcquireLockRequest is the JSON request body for POST /api/locks.
type AcquireLockRequest struct {
	ResourcePath string `json:"resourcePath"`
	LockedBy     string `json:"lockedBy,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// AcquireLockResponse is the JSON response for POST /api/locks.
type AcquireLockResponse struct {
	Lock      *locks.Lock `json:"lock"`
	Refreshed bool        `json:"refreshed"`
}

// LockConflictResponse is the 409 JSON body when a resource is held by
// another agent.
type LockConflictResponse struct {
	Error        string    `json:"error"`
	ResourcePath string    `json:"resourcePath"`
	LockedBy     string    `json:"lockedBy"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Reason       string    `json:"reason,omitempty"`
}

// ListLocksResponse is the JSON response for GET /api/locks.
type ListLocksResponse struct {
	Locks []*locks.Lock `json:"locks"`
}

// handleLocks routes lock requests by HTTP method.
func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListLocks(w, r)
	case http.MethodPost:
		s.handleAcquireLock(w, r)
	case http.MethodDelete:
		s.handleReleaseLock(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleAcquireLock handles POST /api/locks. The caller identity defaults to
// the authenticated agent when lockedBy is omitted.
func (s *Server) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	var req AcquireLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ResourcePath == "" {
		s.sendJSONError(w, http.StatusBadRequest, "resourcePath is required")
		return
	}
	if req.LockedBy == "" {
		req.LockedBy = auth.AgentFromContext(r.Context())
	}
	if req.LockedBy == "" {
		s.sendJSONError(w, http.StatusBadRequest, "lockedBy is required")
		return
	}

	acq, err := s.svc.Locks.Acquire(r.Context(), req.ResourcePath, req.LockedBy, req.Reason)
	var conflict *locks.ConflictError
	if errors.As(err, &conflict) {
		s.writeJSON(w, http.StatusConflict, LockConflictResponse{
			Error:        "resource is locked",
			ResourcePath: conflict.ResourcePath,
			LockedBy:     conflict.LockedBy,
			ExpiresAt:    conflict.ExpiresAt,
			Reason:       conflict.Reason,
		})
		return
	}
	if err != nil {
		s.logger.Error("failed to acquire lock", "resource", req.ResourcePath, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := http.StatusCreated
	if acq.Refreshed {
		status = http.StatusOK
	}
	s.writeJSON(w, status, AcquireLockResponse{Lock: acq.Lock, Refreshed: acq.Refreshed})
}

// handleReleaseLock handles DELETE /api/locks?resource=X. Releasing an
// absent lock succeeds.
func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		s.sendJSONError(w, http.StatusBadRequest, "resource query param required")
		return
	}

	if err := s.svc.Locks.Release(r.Context(), resource); err != nil {
		s.logger.Error("failed to release lock", "resource", resource, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListLocks handles GET /api/locks. Listing purges expired entries.
func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	held, err := s.svc.Locks.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list locks", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, ListLocksResponse{Locks: held})
}
