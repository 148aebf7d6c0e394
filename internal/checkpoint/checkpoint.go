// ABOUTME: Per-agent checkpoint blob storage over the shared store.
// ABOUTME: Payloads are opaque; the shadow controller reads them on takeover.

package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/state"
)

// ErrNotFound is returned when an agent has no saved checkpoint.
var ErrNotFound = errors.New("checkpoint not found")

// Store saves and loads opaque checkpoint payloads keyed by agent id.
type Store struct {
	store     state.Store
	namespace string
}

// New creates a checkpoint store under <namespace>:checkpoint:<agentID> keys.
func New(s state.Store, namespace string) *Store {
	return &Store{store: s, namespace: namespace}
}

func (c *Store) key(agentID string) string {
	return c.namespace + ":checkpoint:" + agentID
}

// Save overwrites the agent's checkpoint with the given payload.
func (c *Store) Save(ctx context.Context, agentID string, payload json.RawMessage) error {
	if err := c.store.Set(ctx, c.key(agentID), string(payload)); err != nil {
		return fmt.Errorf("saving checkpoint for %s: %w", agentID, err)
	}
	return nil
}

// Load returns the agent's checkpoint, or ErrNotFound if none is saved.
func (c *Store) Load(ctx context.Context, agentID string) (json.RawMessage, error) {
	raw, err := c.store.Get(ctx, c.key(agentID))
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint for %s: %w", agentID, err)
	}
	return json.RawMessage(raw), nil
}

// Delete removes the agent's checkpoint. Idempotent.
func (c *Store) Delete(ctx context.Context, agentID string) error {
	if err := c.store.Delete(ctx, c.key(agentID)); err != nil {
		return fmt.Errorf("deleting checkpoint for %s: %w", agentID, err)
	}
	return nil
}
