// ABOUTME: Endpoint tests for the coordination HTTP API over a memory store.
// ABOUTME: Exercises lock conflicts, heartbeats, shadow checks, and auth.

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestServices() Services {
	store := state.NewMemoryStore()
	sink := announce.New(store, "coord", 0)
	tracker := presence.New(store, "coord", sink, 0, 0)
	checkpoints := checkpoint.New(store, "coord")
	taskList := tasks.New(store, "coord")
	return Services{
		Store:         store,
		Locks:         locks.New(store, "coord", 0),
		Presence:      tracker,
		Shadows:       shadow.New(store, "coord", tracker, checkpoints, sink),
		Orchestrator:  orchestrate.New(store, "coord", taskList),
		Checkpoints:   checkpoints,
		Announcements: sink,
		Tasks:         taskList,
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(newTestServices(), nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")
}

func TestLockLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Acquire.
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/locks", AcquireLockRequest{
		ResourcePath: "src/main.go",
		LockedBy:     "agent-1",
		Reason:       "refactoring",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var acquired AcquireLockResponse
	require.NoError(t, json.Unmarshal(body, &acquired))
	assert.False(t, acquired.Refreshed)
	assert.Equal(t, "agent-1", acquired.Lock.LockedBy)

	// Conflict from another agent.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/locks", AcquireLockRequest{
		ResourcePath: "src/main.go",
		LockedBy:     "agent-2",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var conflict LockConflictResponse
	require.NoError(t, json.Unmarshal(body, &conflict))
	assert.Equal(t, "agent-1", conflict.LockedBy)
	assert.Equal(t, "src/main.go", conflict.ResourcePath)
	assert.False(t, conflict.ExpiresAt.IsZero())

	// Refresh by the holder.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/locks", AcquireLockRequest{
		ResourcePath: "src/main.go",
		LockedBy:     "agent-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var refreshed AcquireLockResponse
	require.NoError(t, json.Unmarshal(body, &refreshed))
	assert.True(t, refreshed.Refreshed)

	// List.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/locks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed ListLocksResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Locks, 1)

	// Release, then list empty.
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/locks?resource=src/main.go", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/locks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Empty(t, listed.Locks)
}

func TestLockValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/locks", AcquireLockRequest{LockedBy: "agent-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/locks", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHeartbeatAndListing(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/agents/heartbeat", HeartbeatRequest{
		AgentID:     "agent-1",
		Status:      "working",
		CurrentTask: "indexing",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var hb HeartbeatResponse
	require.NoError(t, json.Unmarshal(body, &hb))
	assert.Equal(t, "agent-1", hb.Agent.ID)
	assert.Equal(t, "indexing", hb.Agent.CurrentTask)
	assert.False(t, hb.WasOffline)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/agents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed ListAgentsResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Active, 1)
	assert.Equal(t, "agent-1", listed.Active[0].ID)
	assert.Empty(t, listed.Offline)
}

func TestHeartbeatRequiresAgentID(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/agents/heartbeat", HeartbeatRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShadowEndpoints(t *testing.T) {
	ts := newTestServer(t)

	// Prime the primary's presence so registration seeds a fresh baseline.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/agents/heartbeat", HeartbeatRequest{AgentID: "primary-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/shadow/register", RegisterShadowRequest{
		PrimaryAgentID:   "primary-1",
		StaleThresholdMs: (5 * time.Minute).Milliseconds(),
		AutoTakeover:     true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var registered shadow.Agent
	require.NoError(t, json.Unmarshal(body, &registered))
	assert.Equal(t, "primary-1-shadow", registered.ID)
	assert.Equal(t, shadow.StatusStandby, registered.Status)

	// A fresh primary is healthy.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/shadow/check", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var checked ShadowCheckResponse
	require.NoError(t, json.Unmarshal(body, &checked))
	require.Len(t, checked.Results, 1)
	assert.Equal(t, shadow.ActionHealthy, checked.Results[0].Action)

	// Manual takeover.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/shadow/takeover", ShadowTakeoverRequest{
		PrimaryAgentID: "primary-1",
		Reason:         "maintenance window",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var takeover ShadowTakeoverResponse
	require.NoError(t, json.Unmarshal(body, &takeover))
	assert.Equal(t, shadow.StatusActive, takeover.Shadow.Status)

	// Release back to standby.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/shadow/release", ShadowReleaseRequest{PrimaryAgentID: "primary-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var released shadow.Agent
	require.NoError(t, json.Unmarshal(body, &released))
	assert.Equal(t, shadow.StatusStandby, released.Status)

	// Listing.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/shadow", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed ListShadowsResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Shadows, 1)
}

func TestPrimaryHeartbeatStandsShadowDown(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/shadow/register", RegisterShadowRequest{
		PrimaryAgentID:   "phil",
		StaleThresholdMs: (5 * time.Minute).Milliseconds(),
		AutoTakeover:     true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/shadow/takeover", ShadowTakeoverRequest{
		PrimaryAgentID: "phil",
		Reason:         "primary unreachable",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	// The recovered primary resumes its normal presence heartbeat. No
	// separate shadow heartbeat call should be needed.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/agents/heartbeat", HeartbeatRequest{AgentID: "phil"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/shadow", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed ListShadowsResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Shadows, 1)
	assert.Equal(t, shadow.StatusStandby, listed.Shadows[0].Status)
	assert.Empty(t, listed.Shadows[0].TookOverReason)
}

func TestShadowUnknownPrimary(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/shadow/heartbeat", ShadowHeartbeatRequest{PrimaryAgentID: "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/shadow/takeover", ShadowTakeoverRequest{PrimaryAgentID: "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrchestrationEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/orchestrations", CreateOrchestrationRequest{
		Title:       "migrate storage layer",
		Coordinator: "lead-1",
		Subtasks: []orchestrate.SubtaskSpec{
			{Title: "write migration"},
			{Title: "run backfill", Assignee: "worker-2"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var orch orchestrate.Orchestration
	require.NoError(t, json.Unmarshal(body, &orch))
	assert.Equal(t, orchestrate.StatusExecuting, orch.Status)
	require.Len(t, orch.Subtasks, 2)

	// Complete both subtasks via PATCH.
	for _, st := range orch.Subtasks {
		url := fmt.Sprintf("%s/api/orchestrations/%s/subtasks/%s", ts.URL, orch.ID, st.ID)
		resp, body = doJSON(t, http.MethodPatch, url, map[string]string{"status": "completed"})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}
	var updated orchestrate.Orchestration
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, orchestrate.StatusSynthesizing, updated.Status)

	// Synthesize.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/orchestrations/"+orch.ID+"/synthesize",
		SynthesizeRequest{Synthesis: "all shards migrated"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var completed orchestrate.Orchestration
	require.NoError(t, json.Unmarshal(body, &completed))
	assert.Equal(t, orchestrate.StatusCompleted, completed.Status)

	// Get and list.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/orchestrations/"+orch.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/orchestrations", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed ListOrchestrationsResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Orchestrations, 1)

	// Mirrored subtasks show up in the task list.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var taskList ListTasksResponse
	require.NoError(t, json.Unmarshal(body, &taskList))
	assert.Len(t, taskList.Tasks, 2)
}

func TestOrchestrationNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/orchestrations/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/orchestrations/missing/fail",
		FailOrchestrationRequest{Reason: "abandoned"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckpointRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	payload := `{"step":"indexing","progress":42}`
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/checkpoints/agent-1", bytes.NewReader([]byte(payload)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	getResp, body := doJSON(t, http.MethodGet, ts.URL+"/api/checkpoints/agent-1", nil)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	assert.JSONEq(t, payload, string(body))

	delResp, _ := doJSON(t, http.MethodDelete, ts.URL+"/api/checkpoints/agent-1", nil)
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	getResp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/checkpoints/agent-1", nil)
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestCheckpointRejectsInvalidJSON(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/checkpoints/agent-1", bytes.NewReader([]byte("{oops")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnnouncements(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/announcements", PostAnnouncementRequest{
		Author: "agent-1",
		Text:   "starting schema migration",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/announcements?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed ListAnnouncementsResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Announcements, 1)
	assert.Equal(t, "agent-1", listed.Announcements[0].Author)
}

func TestTasksCRUD(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/tasks", tasks.Task{Title: "review PR"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created tasks.Task
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, tasks.StatusPending, created.Status)

	status := tasks.StatusInProgress
	resp, body = doJSON(t, http.MethodPatch, ts.URL+"/api/tasks/"+created.ID, tasks.Patch{Status: &status})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var patched tasks.Task
	require.NoError(t, json.Unmarshal(body, &patched))
	assert.Equal(t, tasks.StatusInProgress, patched.Status)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthGuardsAPI(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	ts := httptest.NewServer(New(newTestServices(), verifier).Handler())
	defer ts.Close()

	// No token: API rejected, healthz still open.
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/locks", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// With a token, lockedBy defaults to the authenticated agent.
	token, err := verifier.Generate("agent-9", time.Hour)
	require.NoError(t, err)

	raw, err := json.Marshal(AcquireLockRequest{ResourcePath: "docs/spec.txt"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/locks", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	authResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authResp.Body.Close()
	body, err := io.ReadAll(authResp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, authResp.StatusCode, string(body))

	var acquired AcquireLockResponse
	require.NoError(t, json.Unmarshal(body, &acquired))
	assert.Equal(t, "agent-9", acquired.Lock.LockedBy)
}
