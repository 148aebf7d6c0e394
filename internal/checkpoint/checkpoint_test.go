// ABOUTME: Tests for the checkpoint blob store.
// ABOUTME: Covers round trip, overwrite, and missing checkpoints.

package checkpoint

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/state"
)

func TestSaveAndLoad(t *testing.T) {
	c := New(state.NewMemoryStore(), "coord")
	ctx := context.Background()

	payload := json.RawMessage(`{"task":"refactor","progress":0.4}`)
	require.NoError(t, c.Save(ctx, "phil", payload))

	got, err := c.Load(ctx, "phil")
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(got))
}

func TestLoadMissing(t *testing.T) {
	c := New(state.NewMemoryStore(), "coord")

	_, err := c.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOverwrite(t *testing.T) {
	c := New(state.NewMemoryStore(), "coord")
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, "phil", json.RawMessage(`{"v":1}`)))
	require.NoError(t, c.Save(ctx, "phil", json.RawMessage(`{"v":2}`)))

	got, err := c.Load(ctx, "phil")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

func TestDelete(t *testing.T) {
	c := New(state.NewMemoryStore(), "coord")
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, "phil", json.RawMessage(`{}`)))
	require.NoError(t, c.Delete(ctx, "phil"))
	_, err := c.Load(ctx, "phil")
	assert.ErrorIs(t, err, ErrNotFound)

	// Idempotent
	require.NoError(t, c.Delete(ctx, "phil"))
}
