// ABOUTME: Tests for the shared task list service.
// ABOUTME: Covers CRUD, patch semantics, and malformed-record cleanup.

package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/state"
)

func newTestService() (*Service, *state.MemoryStore) {
	s := state.NewMemoryStore()
	return New(s, "coord"), s
}

func TestCreateAndGet(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, &Task{ID: "t-1", Title: "review PR", OrchestrationID: "orch-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := svc.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "review PR", got.Title)
	assert.Equal(t, "orch-1", got.OrchestrationID)
}

func TestCreateRequiresID(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Create(context.Background(), &Task{Title: "no id"})
	assert.Error(t, err)
}

func TestApplyPatch(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, &Task{ID: "t-1", Title: "review PR"})
	require.NoError(t, err)

	status := StatusInProgress
	assignee := "phil"
	got, err := svc.Apply(ctx, "t-1", Patch{Status: &status, Assignee: &assignee})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, "phil", got.Assignee)
	assert.Equal(t, "review PR", got.Title, "unpatched fields untouched")
}

func TestApplyMissing(t *testing.T) {
	svc, _ := newTestService()
	status := StatusCompleted
	_, err := svc.Apply(context.Background(), "nope", Patch{Status: &status})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSkipsAndCleansMalformed(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, &Task{ID: "t-1", Title: "good"})
	require.NoError(t, err)
	require.NoError(t, store.HSet(ctx, "coord:tasks", "t-bad", "{broken"))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "t-1", list[0].ID)

	// The corrupt field was removed from the store, not just skipped.
	_, err = store.HGet(ctx, "coord:tasks", "t-bad")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestDeleteIdempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, &Task{ID: "t-1", Title: "x"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "t-1"))
	require.NoError(t, svc.Delete(ctx, "t-1"))

	_, err = svc.Get(ctx, "t-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
