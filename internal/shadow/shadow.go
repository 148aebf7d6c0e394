// ABOUTME: Shadow-failover controller promoting standby agents over stale primaries.
// ABOUTME: Staleness is evaluated lazily on check calls driven by an external scheduler.

package shadow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/checkpoint"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/state"
)

// ErrNotRegistered is returned when no shadow exists for the primary agent.
var ErrNotRegistered = errors.New("shadow not registered")

// Status is a shadow agent's takeover state. Within one episode transitions
// run standby → taking-over → active → standby; monitoring is an optional
// observational state the minimal machine never enters on its own.
type Status string

const (
	StatusStandby    Status = "standby"
	StatusMonitoring Status = "monitoring"
	StatusTakingOver Status = "taking-over"
	StatusActive     Status = "active"
)

// Agent is the stored shadow record, keyed by "<primaryId>-shadow" so
// exactly one shadow exists per primary.
type Agent struct {
	ID                   string     `json:"id"`
	PrimaryAgentID       string     `json:"primaryAgentId"`
	Status               Status     `json:"status"`
	LastPrimaryHeartbeat time.Time  `json:"lastPrimaryHeartbeat"`
	StaleThresholdMs     int64      `json:"staleThresholdMs"`
	AutoTakeover         bool       `json:"autoTakeover"`
	TookOverAt           *time.Time `json:"tookOverAt,omitempty"`
	TookOverReason       string     `json:"tookOverReason,omitempty"`
}

// StaleThreshold returns the staleness window as a duration.
func (a *Agent) StaleThreshold() time.Duration {
	return time.Duration(a.StaleThresholdMs) * time.Millisecond
}

// Action classifies the outcome of a staleness check for one shadow.
type Action string

const (
	// ActionHealthy: the primary heartbeat is inside the staleness window.
	ActionHealthy Action = "healthy"
	// ActionTookOver: the shadow transitioned to taking-over on this call.
	ActionTookOver Action = "took-over"
	// ActionStale: the primary is stale but autoTakeover is off; an
	// operator must call Takeover.
	ActionStale Action = "stale"
	// ActionSkipped: the shadow is already taking-over or active, so the
	// check is a no-op (takeover is idempotent).
	ActionSkipped Action = "skipped"
)

// CheckResult is the per-shadow outcome of CheckStale.
type CheckResult struct {
	PrimaryAgentID string
	Status         Status
	StaleFor       time.Duration
	Action         Action
	Checkpoint     json.RawMessage
}

// HeartbeatSource supplies the primary's last known heartbeat when a shadow
// registers. The presence tracker implements it.
type HeartbeatSource interface {
	LastSeen(ctx context.Context, agentID string) (time.Time, bool, error)
}

// CheckpointLoader fetches a primary's last saved checkpoint on takeover.
type CheckpointLoader interface {
	Load(ctx context.Context, agentID string) (json.RawMessage, error)
}

// Announcer posts a one-line transition message.
type Announcer interface {
	Post(ctx context.Context, author, text string) error
}

const announceAuthor = "failover"

// Controller is the shadow-failover state machine over the shared store.
// Agents only communicate by polling, so there is no lease protocol: an
// external scheduler calls CheckStale every few minutes and the staleness
// window absorbs normal polling jitter.
type Controller struct {
	store       state.Store
	key         string
	heartbeats  HeartbeatSource
	checkpoints CheckpointLoader
	announcer   Announcer
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Controller storing shadow records in the
// <namespace>:shadows hash. heartbeats, checkpoints, and announcer may each
// be nil when the corresponding collaborator is absent.
func New(s state.Store, namespace string, heartbeats HeartbeatSource, checkpoints CheckpointLoader, announcer Announcer) *Controller {
	return &Controller{
		store:       s,
		key:         namespace + ":shadows",
		heartbeats:  heartbeats,
		checkpoints: checkpoints,
		announcer:   announcer,
		logger:      slog.Default().With("component", "shadow"),
		now:         time.Now,
	}
}

// ShadowID derives the shadow record id for a primary agent.
func ShadowID(primaryAgentID string) string {
	return primaryAgentID + "-shadow"
}

// Register creates or replaces the shadow for a primary agent. The heartbeat
// baseline is seeded from the primary's current presence record when
// available, else from now.
func (c *Controller) Register(ctx context.Context, primaryAgentID string, staleThreshold time.Duration, autoTakeover bool) (*Agent, error) {
	if primaryAgentID == "" {
		return nil, errors.New("primaryAgentId is required")
	}
	if staleThreshold <= 0 {
		return nil, errors.New("staleThresholdMs must be positive")
	}

	baseline := c.now().UTC()
	if c.heartbeats != nil {
		if seen, ok, err := c.heartbeats.LastSeen(ctx, primaryAgentID); err == nil && ok {
			baseline = seen
		}
	}

	agent := &Agent{
		ID:                   ShadowID(primaryAgentID),
		PrimaryAgentID:       primaryAgentID,
		Status:               StatusStandby,
		LastPrimaryHeartbeat: baseline,
		StaleThresholdMs:     staleThreshold.Milliseconds(),
		AutoTakeover:         autoTakeover,
	}
	if err := c.write(ctx, agent); err != nil {
		return nil, err
	}

	c.logger.Info("shadow registered",
		"primary", primaryAgentID,
		"stale_threshold", staleThreshold,
		"auto_takeover", autoTakeover,
	)
	return agent, nil
}

// RecordPrimaryHeartbeat refreshes the shadow's view of the primary. When
// the shadow had taken over (or was taking over), the primary's return flips
// it back to standby and the recovery is announced.
func (c *Controller) RecordPrimaryHeartbeat(ctx context.Context, primaryAgentID string) (*Agent, error) {
	agent, err := c.get(ctx, primaryAgentID)
	if err != nil {
		return nil, err
	}

	agent.LastPrimaryHeartbeat = c.now().UTC()
	recovered := agent.Status == StatusActive || agent.Status == StatusTakingOver
	if recovered {
		agent.Status = StatusStandby
		agent.TookOverAt = nil
		agent.TookOverReason = ""
	}
	if err := c.write(ctx, agent); err != nil {
		return nil, err
	}

	if recovered {
		c.announce(ctx, fmt.Sprintf("Primary agent %s is back online, shadow %s standing down", primaryAgentID, agent.ID))
		c.logger.Info("primary recovered", "primary", primaryAgentID)
	}
	return agent, nil
}

// CheckStale evaluates every shadow against "now". Stale primaries with
// autoTakeover trigger the taking-over transition exactly once; repeated
// calls while the shadow is taking-over or active are no-ops. Corrupt
// records are removed and skipped.
func (c *Controller) CheckStale(ctx context.Context) ([]CheckResult, error) {
	raw, err := c.store.HGetAll(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("listing shadows: %w", err)
	}

	now := c.now().UTC()
	results := make([]CheckResult, 0, len(raw))
	for id, v := range raw {
		var agent Agent
		if err := json.Unmarshal([]byte(v), &agent); err != nil {
			c.logger.Warn("dropping malformed shadow record", "shadow_id", id, "error", err)
			_ = c.store.HDel(ctx, c.key, id)
			continue
		}

		res := CheckResult{
			PrimaryAgentID: agent.PrimaryAgentID,
			Status:         agent.Status,
			StaleFor:       now.Sub(agent.LastPrimaryHeartbeat),
		}

		switch {
		case agent.Status == StatusActive || agent.Status == StatusTakingOver:
			res.Action = ActionSkipped

		case res.StaleFor > agent.StaleThreshold() && agent.AutoTakeover:
			reason := fmt.Sprintf("primary heartbeat stale for %s", res.StaleFor.Round(time.Second))
			agent.Status = StatusTakingOver
			took := now
			agent.TookOverAt = &took
			agent.TookOverReason = reason
			if err := c.write(ctx, &agent); err != nil {
				return nil, err
			}
			res.Status = agent.Status
			res.Action = ActionTookOver
			res.Checkpoint = c.loadCheckpoint(ctx, agent.PrimaryAgentID)
			c.announce(ctx, fmt.Sprintf("Shadow %s is taking over for %s (%s)", agent.ID, agent.PrimaryAgentID, reason))
			c.logger.Info("auto takeover triggered", "primary", agent.PrimaryAgentID, "stale_for", res.StaleFor)

		case res.StaleFor > agent.StaleThreshold():
			res.Action = ActionStale
			c.logger.Info("primary stale, waiting for manual takeover", "primary", agent.PrimaryAgentID, "stale_for", res.StaleFor)

		default:
			res.Action = ActionHealthy
		}

		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].PrimaryAgentID < results[j].PrimaryAgentID
	})
	return results, nil
}

// Takeover forces the shadow to active regardless of staleness — the manual
// override for operators who need an earlier or later cutover than the
// automatic heuristic. Returns the primary's checkpoint when one is saved.
func (c *Controller) Takeover(ctx context.Context, primaryAgentID, reason string) (*Agent, json.RawMessage, error) {
	agent, err := c.get(ctx, primaryAgentID)
	if err != nil {
		return nil, nil, err
	}

	if reason == "" {
		reason = "manual takeover"
	}
	now := c.now().UTC()
	agent.Status = StatusActive
	agent.TookOverAt = &now
	agent.TookOverReason = reason
	if err := c.write(ctx, agent); err != nil {
		return nil, nil, err
	}

	cp := c.loadCheckpoint(ctx, primaryAgentID)
	c.announce(ctx, fmt.Sprintf("Shadow %s is now active for %s (%s)", agent.ID, primaryAgentID, reason))
	c.logger.Info("manual takeover", "primary", primaryAgentID, "reason", reason)
	return agent, cp, nil
}

// Release returns the shadow to standby and treats the moment of release as
// a fresh primary heartbeat so the next staleness check does not
// immediately re-trigger.
func (c *Controller) Release(ctx context.Context, primaryAgentID string) (*Agent, error) {
	agent, err := c.get(ctx, primaryAgentID)
	if err != nil {
		return nil, err
	}

	agent.Status = StatusStandby
	agent.LastPrimaryHeartbeat = c.now().UTC()
	agent.TookOverAt = nil
	agent.TookOverReason = ""
	if err := c.write(ctx, agent); err != nil {
		return nil, err
	}

	c.announce(ctx, fmt.Sprintf("Shadow %s released, primary %s resumes", agent.ID, primaryAgentID))
	c.logger.Info("shadow released", "primary", primaryAgentID)
	return agent, nil
}

// List returns all shadow records sorted by primary id. Corrupt records are
// removed and skipped.
func (c *Controller) List(ctx context.Context) ([]*Agent, error) {
	raw, err := c.store.HGetAll(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("listing shadows: %w", err)
	}

	out := make([]*Agent, 0, len(raw))
	for id, v := range raw {
		var agent Agent
		if err := json.Unmarshal([]byte(v), &agent); err != nil {
			c.logger.Warn("dropping malformed shadow record", "shadow_id", id, "error", err)
			_ = c.store.HDel(ctx, c.key, id)
			continue
		}
		out = append(out, &agent)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].PrimaryAgentID < out[j].PrimaryAgentID
	})
	return out, nil
}

// get reads the shadow record for a primary, returning ErrNotRegistered
// when absent or unreadable.
func (c *Controller) get(ctx context.Context, primaryAgentID string) (*Agent, error) {
	if primaryAgentID == "" {
		return nil, errors.New("primaryAgentId is required")
	}

	raw, err := c.store.HGet(ctx, c.key, ShadowID(primaryAgentID))
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("reading shadow for %s: %w", primaryAgentID, err)
	}

	var agent Agent
	if err := json.Unmarshal([]byte(raw), &agent); err != nil {
		c.logger.Warn("dropping malformed shadow record", "primary", primaryAgentID, "error", err)
		_ = c.store.HDel(ctx, c.key, ShadowID(primaryAgentID))
		return nil, ErrNotRegistered
	}
	return &agent, nil
}

func (c *Controller) write(ctx context.Context, agent *Agent) error {
	raw, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("encoding shadow %s: %w", agent.ID, err)
	}
	if err := c.store.HSet(ctx, c.key, agent.ID, string(raw)); err != nil {
		return fmt.Errorf("writing shadow %s: %w", agent.ID, err)
	}
	return nil
}

// loadCheckpoint fetches the primary's checkpoint; absence is normal.
func (c *Controller) loadCheckpoint(ctx context.Context, primaryAgentID string) json.RawMessage {
	if c.checkpoints == nil {
		return nil
	}
	cp, err := c.checkpoints.Load(ctx, primaryAgentID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil
	}
	if err != nil {
		c.logger.Warn("loading checkpoint", "primary", primaryAgentID, "error", err)
		return nil
	}
	return cp
}

func (c *Controller) announce(ctx context.Context, text string) {
	if c.announcer == nil {
		return
	}
	if err := c.announcer.Post(ctx, announceAuthor, text); err != nil {
		c.logger.Warn("posting announcement", "error", err)
	}
}
