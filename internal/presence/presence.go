// ABOUTME: Tracks per-agent liveness from heartbeat timestamps.
// ABOUTME: Classifies agents active/offline and dedups transition announcements.

package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/dedupe"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/state"
)

// Default staleness windows. The offline threshold is the short trigger for a
// one-time "went offline" announcement; the active threshold is the longer
// cutoff for whether an agent still appears in the active listing.
const (
	DefaultOfflineThreshold = 5 * time.Minute
	DefaultActiveThreshold  = 30 * time.Minute
)

// Agent is the stored presence record for one agent.
type Agent struct {
	ID          string    `json:"id"`
	Status      string    `json:"status,omitempty"`
	CurrentTask string    `json:"currentTask,omitempty"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Heartbeat carries the optional status fields an agent may send alongside
// its liveness ping. Empty fields leave the stored values untouched.
type Heartbeat struct {
	Status      string
	CurrentTask string
}

// Classification is the result of a status listing.
type Classification struct {
	Active  []Agent
	Offline []Agent
}

// Announcer posts a one-line transition message. The chat sink implements it.
type Announcer interface {
	Post(ctx context.Context, author, text string) error
}

const announceAuthor = "coordination"

// Tracker maintains presence state in the shared store. Handlers are
// stateless: concurrent heartbeats for one agent converge last-write-wins,
// and the notification guard keeps offline announcements to one per window.
type Tracker struct {
	store       state.Store
	agentsKey   string
	flagsKey    string
	notifiedKey string

	offlineThreshold time.Duration
	activeThreshold  time.Duration

	announcer Announcer
	guard     *dedupe.Guard
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Tracker under the given namespace. Non-positive thresholds
// fall back to the defaults.
func New(s state.Store, namespace string, announcer Announcer, offlineThreshold, activeThreshold time.Duration) *Tracker {
	if offlineThreshold <= 0 {
		offlineThreshold = DefaultOfflineThreshold
	}
	if activeThreshold <= 0 {
		activeThreshold = DefaultActiveThreshold
	}
	return &Tracker{
		store:            s,
		agentsKey:        namespace + ":agents",
		flagsKey:         namespace + ":presence:flags",
		notifiedKey:      namespace + ":presence:notified",
		offlineThreshold: offlineThreshold,
		activeThreshold:  activeThreshold,
		announcer:        announcer,
		guard:            dedupe.NewGuard(offlineThreshold, 4096),
		logger:           slog.Default().With("component", "presence"),
		now:              time.Now,
	}
}

// RecordHeartbeat refreshes the agent's lastSeen and any supplied status
// fields, and announces the transition when the agent was not previously
// online. Returns the updated record and whether the agent was returning
// from a tracked offline episode.
func (t *Tracker) RecordHeartbeat(ctx context.Context, agentID string, hb Heartbeat) (*Agent, bool, error) {
	if agentID == "" {
		return nil, false, errors.New("agentId is required")
	}

	now := t.now().UTC()

	agent, err := t.read(ctx, agentID)
	if err != nil {
		return nil, false, err
	}
	if agent == nil {
		agent = &Agent{ID: agentID}
	}
	agent.LastSeen = now
	if hb.Status != "" {
		agent.Status = hb.Status
	}
	if hb.CurrentTask != "" {
		agent.CurrentTask = hb.CurrentTask
	}
	if err := t.write(ctx, agent); err != nil {
		return nil, false, err
	}

	prior, err := t.flag(ctx, agentID)
	if err != nil {
		return nil, false, err
	}
	wasOffline := prior == "offline"

	if prior != "online" {
		if err := t.store.HSet(ctx, t.flagsKey, agentID, "online"); err != nil {
			return nil, false, fmt.Errorf("setting presence flag for %s: %w", agentID, err)
		}
		// Re-arm the offline guard so the next episode announces again.
		t.guard.Forget(agentID)
		_ = t.store.HDel(ctx, t.notifiedKey, agentID)

		text := fmt.Sprintf("Agent %s is online", agentID)
		if wasOffline {
			text = fmt.Sprintf("Agent %s is back online", agentID)
		}
		t.announce(ctx, text)
		t.logger.Info("agent online", "agent_id", agentID, "was_offline", wasOffline)
	}

	return agent, wasOffline, nil
}

// Classify partitions all agents into active and offline by the long
// threshold, and as a side effect performs the offline-transition
// bookkeeping for agents past the short threshold. It is invoked on every
// status listing, so it must stay safe under concurrent, repeated calls:
// the flag transition plus the notification guard keep announcements to at
// most one per offline window.
func (t *Tracker) Classify(ctx context.Context) (*Classification, error) {
	raw, err := t.store.HGetAll(ctx, t.agentsKey)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	now := t.now().UTC()
	out := &Classification{Active: []Agent{}, Offline: []Agent{}}
	for id, v := range raw {
		var agent Agent
		if err := json.Unmarshal([]byte(v), &agent); err != nil {
			t.logger.Warn("dropping malformed presence record", "agent_id", id, "error", err)
			_ = t.store.HDel(ctx, t.agentsKey, id)
			continue
		}

		sinceLast := now.Sub(agent.LastSeen)
		if sinceLast > t.offlineThreshold {
			t.markOffline(ctx, agent.ID, sinceLast, now)
		}

		if sinceLast <= t.activeThreshold {
			out.Active = append(out.Active, agent)
		} else {
			out.Offline = append(out.Offline, agent)
		}
	}

	sort.Slice(out.Active, func(i, j int) bool { return out.Active[i].ID < out.Active[j].ID })
	sort.Slice(out.Offline, func(i, j int) bool { return out.Offline[i].ID < out.Offline[j].ID })
	return out, nil
}

// LastSeen reports when the agent last sent a heartbeat. The second return
// is false when the agent is unknown.
func (t *Tracker) LastSeen(ctx context.Context, agentID string) (time.Time, bool, error) {
	agent, err := t.read(ctx, agentID)
	if err != nil {
		return time.Time{}, false, err
	}
	if agent == nil {
		return time.Time{}, false, nil
	}
	return agent.LastSeen, true, nil
}

// markOffline flips the agent's flag and emits the one-time announcement for
// this offline episode.
func (t *Tracker) markOffline(ctx context.Context, agentID string, sinceLast time.Duration, now time.Time) {
	flag, err := t.flag(ctx, agentID)
	if err != nil {
		t.logger.Warn("reading presence flag", "agent_id", agentID, "error", err)
		return
	}
	if flag != "online" {
		return
	}

	if err := t.store.HSet(ctx, t.flagsKey, agentID, "offline"); err != nil {
		t.logger.Warn("setting presence flag", "agent_id", agentID, "error", err)
		return
	}

	// In-process fast path, then a conditional claim on the store stamp:
	// handlers on other replicas racing through the same transition get
	// exactly one landed write, so exactly one announcement.
	if t.guard.CheckAndMark(agentID, now) {
		return
	}
	if !t.claimNotification(ctx, agentID, now) {
		return
	}

	t.announce(ctx, fmt.Sprintf("Agent %s went offline (no heartbeat for %s)", agentID, sinceLast.Round(time.Second)))
	t.logger.Info("agent offline", "agent_id", agentID, "since_last", sinceLast)
}

// claimNotification writes the offline-notification stamp for this window
// with conditional semantics. A stamp inside the window, or losing the
// conditional write to a concurrent caller, both report false.
func (t *Tracker) claimNotification(ctx context.Context, agentID string, now time.Time) bool {
	stamp := strconv.FormatInt(now.UnixMilli(), 10)

	raw, err := t.store.HGet(ctx, t.notifiedKey, agentID)
	if errors.Is(err, state.ErrNotFound) {
		won, err := t.store.HSetNX(ctx, t.notifiedKey, agentID, stamp)
		if err != nil {
			t.logger.Warn("recording offline notification", "agent_id", agentID, "error", err)
			return false
		}
		return won
	}
	if err != nil {
		t.logger.Warn("reading notification guard", "agent_id", agentID, "error", err)
		return false
	}

	if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil && now.Sub(time.UnixMilli(ms)) < t.offlineThreshold {
		return false
	}

	// Expired or malformed stamp: replace it conditioned on the exact value
	// read, so only one claimant per window wins.
	won, err := t.store.HCompareAndSet(ctx, t.notifiedKey, agentID, raw, stamp)
	if err != nil {
		t.logger.Warn("recording offline notification", "agent_id", agentID, "error", err)
		return false
	}
	return won
}

func (t *Tracker) flag(ctx context.Context, agentID string) (string, error) {
	flag, err := t.store.HGet(ctx, t.flagsKey, agentID)
	if errors.Is(err, state.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading presence flag for %s: %w", agentID, err)
	}
	return flag, nil
}

func (t *Tracker) read(ctx context.Context, agentID string) (*Agent, error) {
	raw, err := t.store.HGet(ctx, t.agentsKey, agentID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading presence record for %s: %w", agentID, err)
	}

	var agent Agent
	if err := json.Unmarshal([]byte(raw), &agent); err != nil {
		t.logger.Warn("dropping malformed presence record", "agent_id", agentID, "error", err)
		_ = t.store.HDel(ctx, t.agentsKey, agentID)
		return nil, nil
	}
	return &agent, nil
}

func (t *Tracker) write(ctx context.Context, agent *Agent) error {
	raw, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("encoding presence record for %s: %w", agent.ID, err)
	}
	if err := t.store.HSet(ctx, t.agentsKey, agent.ID, string(raw)); err != nil {
		return fmt.Errorf("writing presence record for %s: %w", agent.ID, err)
	}
	return nil
}

// announce posts through the sink when one is configured. Announcement
// failures degrade to a log line; they never fail the coordination call.
func (t *Tracker) announce(ctx context.Context, text string) {
	if t.announcer == nil {
		return
	}
	if err := t.announcer.Post(ctx, announceAuthor, text); err != nil {
		t.logger.Warn("posting announcement", "error", err)
	}
}
