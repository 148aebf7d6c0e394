// ABOUTME: Advisory distributed locks over named resource paths.
// ABOUTME: Acquisition races are closed with a conditional hash-field write.

package locks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/state"
)

// DefaultTTL is the lock validity window from the last acquire or refresh.
const DefaultTTL = 10 * time.Minute

// Lock is an advisory lock on a resource path. At most one valid
// (non-expired) Lock exists per path.
type Lock struct {
	ResourcePath string    `json:"resourcePath"`
	LockedBy     string    `json:"lockedBy"`
	Reason       string    `json:"reason,omitempty"`
	LockedAt     time.Time `json:"lockedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ConflictError reports that a resource is held by another agent. It is a
// normal, expected outcome; it carries enough for the caller to decide
// whether to wait or pick a different resource.
type ConflictError struct {
	ResourcePath string
	LockedBy     string
	ExpiresAt    time.Time
	Reason       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resource %s is locked by %s until %s",
		e.ResourcePath, e.LockedBy, e.ExpiresAt.Format(time.RFC3339))
}

// Acquisition is the successful result of Acquire. Refreshed is true when the
// caller already held the lock and its expiry was extended.
type Acquisition struct {
	Lock      *Lock
	Refreshed bool
}

// Manager implements advisory locking over the shared store. It holds no
// lock state of its own; every call is one or two store round trips.
type Manager struct {
	store  state.Store
	key    string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Manager storing locks in the <namespace>:locks hash.
// A non-positive ttl falls back to DefaultTTL.
func New(s state.Store, namespace string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  s,
		key:    namespace + ":locks",
		ttl:    ttl,
		logger: slog.Default().With("component", "locks"),
		now:    time.Now,
	}
}

// Acquire takes or refreshes the lock on resourcePath for lockedBy.
//
// The only true race here is two agents acquiring a free (absent or expired)
// path at once. A read-then-write cannot close it, so the new record is
// written with a conditional set: the store reports exactly one winner and
// the loser gets a ConflictError naming the winner.
func (m *Manager) Acquire(ctx context.Context, resourcePath, lockedBy, reason string) (*Acquisition, error) {
	if resourcePath == "" {
		return nil, errors.New("resourcePath is required")
	}
	if lockedBy == "" {
		return nil, errors.New("lockedBy is required")
	}

	now := m.now().UTC()

	current, currentRaw, err := m.read(ctx, resourcePath)
	if err != nil {
		return nil, err
	}

	if current != nil && current.ExpiresAt.After(now) {
		if current.LockedBy == lockedBy {
			// Refresh: extend expiry, preserve lockedAt and (unless
			// replaced) the original reason.
			current.ExpiresAt = now.Add(m.ttl)
			if reason != "" {
				current.Reason = reason
			}
			if err := m.write(ctx, current); err != nil {
				return nil, err
			}
			m.logger.Debug("lock refreshed", "resource", resourcePath, "agent", lockedBy)
			return &Acquisition{Lock: current, Refreshed: true}, nil
		}
		return nil, &ConflictError{
			ResourcePath: resourcePath,
			LockedBy:     current.LockedBy,
			ExpiresAt:    current.ExpiresAt,
			Reason:       current.Reason,
		}
	}

	lock := &Lock{
		ResourcePath: resourcePath,
		LockedBy:     lockedBy,
		Reason:       reason,
		LockedAt:     now,
		ExpiresAt:    now.Add(m.ttl),
	}
	raw, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("encoding lock %s: %w", resourcePath, err)
	}

	// Absent path: set-if-absent. Expired path: swap conditioned on the exact
	// record we read, so a competitor that already replaced it cannot be
	// clobbered. Either way the store reports exactly one winner.
	var won bool
	if current == nil {
		won, err = m.store.HSetNX(ctx, m.key, resourcePath, string(raw))
	} else {
		won, err = m.store.HCompareAndSet(ctx, m.key, resourcePath, currentRaw, string(raw))
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", resourcePath, err)
	}
	if !won {
		// Another caller landed between our read and write.
		winner, _, err := m.read(ctx, resourcePath)
		if err != nil {
			return nil, err
		}
		conflict := &ConflictError{ResourcePath: resourcePath}
		if winner != nil {
			conflict.LockedBy = winner.LockedBy
			conflict.ExpiresAt = winner.ExpiresAt
			conflict.Reason = winner.Reason
		}
		return nil, conflict
	}

	m.logger.Info("lock acquired", "resource", resourcePath, "agent", lockedBy, "expires_at", lock.ExpiresAt)
	return &Acquisition{Lock: lock}, nil
}

// Release deletes the lock unconditionally. Idempotent when no lock exists.
func (m *Manager) Release(ctx context.Context, resourcePath string) error {
	if resourcePath == "" {
		return errors.New("resourcePath is required")
	}
	if err := m.store.HDel(ctx, m.key, resourcePath); err != nil {
		return fmt.Errorf("releasing lock %s: %w", resourcePath, err)
	}
	m.logger.Info("lock released", "resource", resourcePath)
	return nil
}

// List returns all valid locks sorted by resource path. Expired and malformed
// entries encountered along the way are purged from the store (lazy expiry —
// there is no background sweep).
func (m *Manager) List(ctx context.Context) ([]*Lock, error) {
	raw, err := m.store.HGetAll(ctx, m.key)
	if err != nil {
		return nil, fmt.Errorf("listing locks: %w", err)
	}

	now := m.now().UTC()
	out := make([]*Lock, 0, len(raw))
	for path, v := range raw {
		var lock Lock
		if err := json.Unmarshal([]byte(v), &lock); err != nil {
			m.logger.Warn("dropping malformed lock record", "resource", path, "error", err)
			_ = m.store.HDel(ctx, m.key, path)
			continue
		}
		if !lock.ExpiresAt.After(now) {
			_ = m.store.HDel(ctx, m.key, path)
			continue
		}
		out = append(out, &lock)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ResourcePath < out[j].ResourcePath
	})
	return out, nil
}

// read returns the stored lock for resourcePath together with its raw
// encoding (the compare value for a conditional replace), nil when absent. A
// record that fails to parse is removed and reported as absent.
func (m *Manager) read(ctx context.Context, resourcePath string) (*Lock, string, error) {
	raw, err := m.store.HGet(ctx, m.key, resourcePath)
	if errors.Is(err, state.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("reading lock %s: %w", resourcePath, err)
	}

	var lock Lock
	if err := json.Unmarshal([]byte(raw), &lock); err != nil {
		m.logger.Warn("dropping malformed lock record", "resource", resourcePath, "error", err)
		_ = m.store.HDel(ctx, m.key, resourcePath)
		return nil, "", nil
	}
	return &lock, raw, nil
}

func (m *Manager) write(ctx context.Context, lock *Lock) error {
	raw, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("encoding lock %s: %w", lock.ResourcePath, err)
	}
	if err := m.store.HSet(ctx, m.key, lock.ResourcePath, string(raw)); err != nil {
		return fmt.Errorf("writing lock %s: %w", lock.ResourcePath, err)
	}
	return nil
}
