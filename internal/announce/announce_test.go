// ABOUTME: Tests for the announcement sink.
// ABOUTME: Covers ordering, retention cap, and malformed-entry skipping.

package announce

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/state"
)

func TestPostAndRecent(t *testing.T) {
	s := state.NewMemoryStore()
	sink := New(s, "coord", 10)
	ctx := context.Background()

	require.NoError(t, sink.Post(ctx, "coordination", "agent phil came online"))
	require.NoError(t, sink.Post(ctx, "coordination", "agent sam came online"))

	msgs, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "agent sam came online", msgs[0].Text, "newest first")
	assert.Equal(t, "coordination", msgs[0].Author)
	assert.False(t, msgs[0].PostedAt.IsZero())
}

func TestRetentionCap(t *testing.T) {
	s := state.NewMemoryStore()
	sink := New(s, "coord", 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Post(ctx, "test", fmt.Sprintf("msg %d", i)))
	}

	msgs, err := sink.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg 4", msgs[0].Text)
	assert.Equal(t, "msg 2", msgs[2].Text)
}

func TestRecentSkipsMalformed(t *testing.T) {
	s := state.NewMemoryStore()
	sink := New(s, "coord", 10)
	ctx := context.Background()

	require.NoError(t, sink.Post(ctx, "test", "good"))
	require.NoError(t, s.LPush(ctx, "coord:announcements", "{not json"))
	require.NoError(t, sink.Post(ctx, "test", "also good"))

	msgs, err := sink.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "also good", msgs[0].Text)
	assert.Equal(t, "good", msgs[1].Text)
}

func TestSinkClockInjection(t *testing.T) {
	s := state.NewMemoryStore()
	sink := New(s, "coord", 10)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return fixed }

	require.NoError(t, sink.Post(context.Background(), "test", "hello"))
	msgs, err := sink.Recent(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, msgs[0].PostedAt.Equal(fixed))
}
