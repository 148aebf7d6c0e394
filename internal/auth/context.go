// ABOUTME: Authentication context for tracking agent identity through request handlers
// ABOUTME: Provides WithAgent/AgentFromContext for propagating identity via context

package auth

import (
	"context"
)

// agentContextKey is the key type for storing the agent id in context.Context.
type agentContextKey struct{}

// WithAgent returns a new context with the authenticated agent id attached.
func WithAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentContextKey{}, agentID)
}

// AgentFromContext retrieves the agent id from the context, returning "" if
// the request was not authenticated.
func AgentFromContext(ctx context.Context) string {
	val := ctx.Value(agentContextKey{})
	if val == nil {
		return ""
	}
	id, ok := val.(string)
	if !ok {
		return ""
	}
	return id
}
