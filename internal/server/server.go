// ABOUTME: HTTP API server wiring the coordination services behind one mux.
// ABOUTME: Plain net/http with method-switch handlers and JSON bodies.

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/announce"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/auth"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/checkpoint"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/locks"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/orchestrate"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/presence"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/shadow"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/state"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/tasks"
)

// Services bundles the coordination services the API exposes.
type Services struct {
	Store         state.Store
	Locks         *locks.Manager
	Presence      *presence.Tracker
	Shadows       *shadow.Controller
	Orchestrator  *orchestrate.Orchestrator
	Checkpoints   *checkpoint.Store
	Announcements *announce.Sink
	Tasks         *tasks.Service
}

// Server is the HTTP API for the coordination services.
type Server struct {
	svc      Services
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// New creates a Server. verifier may be nil to disable authentication
// (tests, local development).
func New(svc Services, verifier auth.TokenVerifier) *Server {
	return &Server{
		svc:      svc,
		verifier: verifier,
		logger:   slog.Default().With("component", "server"),
	}
}

// Handler builds the full route table. /healthz stays outside the auth
// middleware so load balancers can probe without a token.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/locks", s.handleLocks)
	api.HandleFunc("/api/agents", s.handleListAgents)
	api.HandleFunc("/api/agents/heartbeat", s.handleHeartbeat)
	api.HandleFunc("/api/shadow", s.handleListShadows)
	api.HandleFunc("/api/shadow/register", s.handleShadowRegister)
	api.HandleFunc("/api/shadow/heartbeat", s.handleShadowHeartbeat)
	api.HandleFunc("/api/shadow/check", s.handleShadowCheck)
	api.HandleFunc("/api/shadow/takeover", s.handleShadowTakeover)
	api.HandleFunc("/api/shadow/release", s.handleShadowRelease)
	api.HandleFunc("/api/orchestrations", s.handleOrchestrations)
	api.HandleFunc("/api/orchestrations/", s.handleOrchestrationPath)
	api.HandleFunc("/api/checkpoints/", s.handleCheckpoint)
	api.HandleFunc("/api/announcements", s.handleAnnouncements)
	api.HandleFunc("/api/tasks", s.handleTasks)
	api.HandleFunc("/api/tasks/", s.handleTaskByID)

	var apiHandler http.Handler = api
	if s.verifier != nil {
		apiHandler = auth.HTTPAuthMiddleware(s.verifier)(api)
	}

	root := http.NewServeMux()
	root.Handle("/api/", apiHandler)
	root.HandleFunc("/healthz", s.handleHealth)
	return root
}

// handleHealth handles GET /healthz by pinging the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := s.svc.Store.Ping(r.Context()); err != nil {
		s.logger.Error("store ping failed", "error", err)
		s.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
