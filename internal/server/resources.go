// ABOUTME: HTTP handlers for checkpoints, announcements, and the task list.
// ABOUTME: Checkpoint bodies pass through as raw JSON, uninterpreted.

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/announce"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/auth"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/checkpoint"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/tasks"
)

// PostAnnouncementRequest is the JSON request body for POST /api/announcements.
type PostAnnouncementRequest struct {
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

// ListAnnouncementsResponse is the JSON response for GET /api/announcements.
type ListAnnouncementsResponse struct {
	Announcements []announce.Message `json:"announcements"`
}

// ListTasksResponse is the JSON response for GET /api/tasks.
type ListTasksResponse struct {
	Tasks []*tasks.Task `json:"tasks"`
}

// handleCheckpoint handles PUT/GET/DELETE /api/checkpoints/{agentId}.
func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	agentID := strings.TrimPrefix(r.URL.Path, "/api/checkpoints/")
	if agentID == "" || strings.Contains(agentID, "/") {
		s.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "reading body")
			return
		}
		if !json.Valid(body) {
			s.sendJSONError(w, http.StatusBadRequest, "body must be valid JSON")
			return
		}
		if err := s.svc.Checkpoints.Save(r.Context(), agentID, body); err != nil {
			s.logger.Error("failed to save checkpoint", "agent", agentID, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		payload, err := s.svc.Checkpoints.Load(r.Context(), agentID)
		if errors.Is(err, checkpoint.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "checkpoint not found")
			return
		}
		if err != nil {
			s.logger.Error("failed to load checkpoint", "agent", agentID, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)

	case http.MethodDelete:
		if err := s.svc.Checkpoints.Delete(r.Context(), agentID); err != nil {
			s.logger.Error("failed to delete checkpoint", "agent", agentID, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleAnnouncements handles GET and POST /api/announcements.
func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := 50
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil || parsed < 1 {
				s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		msgs, err := s.svc.Announcements.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("failed to list announcements", "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if msgs == nil {
			msgs = []announce.Message{}
		}
		s.writeJSON(w, http.StatusOK, ListAnnouncementsResponse{Announcements: msgs})

	case http.MethodPost:
		var req PostAnnouncementRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Text == "" {
			s.sendJSONError(w, http.StatusBadRequest, "text is required")
			return
		}
		if req.Author == "" {
			req.Author = auth.AgentFromContext(r.Context())
		}
		if req.Author == "" {
			s.sendJSONError(w, http.StatusBadRequest, "author is required")
			return
		}

		if err := s.svc.Announcements.Post(r.Context(), req.Author, req.Text); err != nil {
			s.logger.Error("failed to post announcement", "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.WriteHeader(http.StatusCreated)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleTasks handles GET and POST /api/tasks.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		listed, err := s.svc.Tasks.List(r.Context())
		if err != nil {
			s.logger.Error("failed to list tasks", "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if listed == nil {
			listed = []*tasks.Task{}
		}
		s.writeJSON(w, http.StatusOK, ListTasksResponse{Tasks: listed})

	case http.MethodPost:
		var task tasks.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if task.Title == "" {
			s.sendJSONError(w, http.StatusBadRequest, "title is required")
			return
		}
		if task.ID == "" {
			task.ID = uuid.New().String()
		}

		created, err := s.svc.Tasks.Create(r.Context(), &task)
		if err != nil {
			s.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, http.StatusCreated, created)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleTaskByID handles GET/PATCH/DELETE /api/tasks/{id}.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if id == "" || strings.Contains(id, "/") {
		s.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		task, err := s.svc.Tasks.Get(r.Context(), id)
		if errors.Is(err, tasks.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "task not found")
			return
		}
		if err != nil {
			s.logger.Error("failed to get task", "task_id", id, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		s.writeJSON(w, http.StatusOK, task)

	case http.MethodPatch:
		var patch tasks.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		task, err := s.svc.Tasks.Apply(r.Context(), id, patch)
		if errors.Is(err, tasks.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "task not found")
			return
		}
		if err != nil {
			s.logger.Error("failed to patch task", "task_id", id, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		s.writeJSON(w, http.StatusOK, task)

	case http.MethodDelete:
		if err := s.svc.Tasks.Delete(r.Context(), id); err != nil {
			s.logger.Error("failed to delete task", "task_id", id, "error", err)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
