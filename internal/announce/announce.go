// ABOUTME: Announcement sink for coordination events.
// ABOUTME: Appends one-line messages to a capped list in the shared store.

package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/state"
)

// DefaultRetain is how many announcements the log keeps when not configured.
const DefaultRetain = 200

// Message is a single announcement.
type Message struct {
	Author   string    `json:"author"`
	Text     string    `json:"text"`
	PostedAt time.Time `json:"postedAt"`
}

// Sink posts announcements to the shared store. The presence tracker and the
// shadow controller post transition events through it; dashboards read the tail.
type Sink struct {
	store  state.Store
	key    string
	retain int64
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Sink writing to <namespace>:announcements, retaining the
// newest retain entries (DefaultRetain when retain <= 0).
func New(s state.Store, namespace string, retain int) *Sink {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Sink{
		store:  s,
		key:    namespace + ":announcements",
		retain: int64(retain),
		logger: slog.Default().With("component", "announce"),
		now:    time.Now,
	}
}

// Post appends a message and trims the log to the retained length.
func (s *Sink) Post(ctx context.Context, author, text string) error {
	msg := Message{Author: author, Text: text, PostedAt: s.now().UTC()}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding announcement: %w", err)
	}

	if err := s.store.LPush(ctx, s.key, string(raw)); err != nil {
		return fmt.Errorf("posting announcement: %w", err)
	}
	if err := s.store.LTrim(ctx, s.key, 0, s.retain-1); err != nil {
		return fmt.Errorf("trimming announcements: %w", err)
	}

	s.logger.Info("announcement posted", "author", author, "text", text)
	return nil
}

// Recent returns up to limit announcements, newest first. Entries that fail
// to parse are skipped rather than failing the listing.
func (s *Sink) Recent(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 || int64(limit) > s.retain {
		limit = int(s.retain)
	}
	raws, err := s.store.LRange(ctx, s.key, 0, int64(limit)-1)
	if err != nil {
		return nil, fmt.Errorf("reading announcements: %w", err)
	}

	out := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			s.logger.Warn("skipping malformed announcement", "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
