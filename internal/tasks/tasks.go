// ABOUTME: Plain task list shared by all agents, keyed by task id.
// ABOUTME: Orchestrations mirror their subtasks here with a parent back-reference.

package tasks

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

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = errors.New("task not found")

// Task status values.
const (
	StatusPending    = "pending"
	StatusAssigned   = "assigned"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Task is an entry in the shared task list.
type Task struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Status          string    `json:"status"`
	Assignee        string    `json:"assignee,omitempty"`
	OrchestrationID string    `json:"orchestrationId,omitempty"`
	SubtaskID       string    `json:"subtaskId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Patch carries optional field updates for a task. Nil fields are untouched.
type Patch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
}

// Service provides task CRUD over the shared store hash.
type Service struct {
	store  state.Store
	key    string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Service storing tasks in the <namespace>:tasks hash.
func New(s state.Store, namespace string) *Service {
	return &Service{
		store:  s,
		key:    namespace + ":tasks",
		logger: slog.Default().With("component", "tasks"),
		now:    time.Now,
	}
}

// Create stores a new task. The caller supplies the id.
func (s *Service) Create(ctx context.Context, task *Task) (*Task, error) {
	if task.ID == "" {
		return nil, fmt.Errorf("task id is required")
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	now := s.now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := s.write(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Get returns a task by id.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	raw, err := s.store.HGet(ctx, s.key, id)
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading task %s: %w", id, err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		// Corrupt record: clean it up and report absent.
		s.logger.Warn("dropping malformed task record", "task_id", id, "error", err)
		_ = s.store.HDel(ctx, s.key, id)
		return nil, ErrNotFound
	}
	return &task, nil
}

// Apply mutates the named task with the non-nil fields of the patch.
func (s *Service) Apply(ctx context.Context, id string, patch Patch) (*Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Status != nil {
		task.Status = *patch.Status
	}
	if patch.Assignee != nil {
		task.Assignee = *patch.Assignee
	}
	task.UpdatedAt = s.now().UTC()

	if err := s.write(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Delete removes a task. Idempotent.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.HDel(ctx, s.key, id); err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	return nil
}

// List returns all tasks, newest first. Malformed records are removed from the
// store and skipped so one bad entry never fails the listing.
func (s *Service) List(ctx context.Context) ([]*Task, error) {
	raw, err := s.store.HGetAll(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	out := make([]*Task, 0, len(raw))
	for id, v := range raw {
		var task Task
		if err := json.Unmarshal([]byte(v), &task); err != nil {
			s.logger.Warn("dropping malformed task record", "task_id", id, "error", err)
			_ = s.store.HDel(ctx, s.key, id)
			continue
		}
		out = append(out, &task)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Service) write(ctx context.Context, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", task.ID, err)
	}
	if err := s.store.HSet(ctx, s.key, task.ID, string(raw)); err != nil {
		return fmt.Errorf("writing task %s: %w", task.ID, err)
	}
	return nil
}
