// ABOUTME: Hierarchical task orchestration with per-subtask status tracking.
// ABOUTME: Aggregates subtask completion into a parent synthesis state machine.

package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/state"
	"github.com/Piston-Labs/agent-coord-mcp-sub007/internal/tasks"
)

var (
	// ErrNotFound is returned for an unknown orchestration id.
	ErrNotFound = errors.New("orchestration not found")
	// ErrSubtaskNotFound is returned for an unknown subtask id.
	ErrSubtaskNotFound = errors.New("subtask not found")
)

// Status is the parent orchestration state. Transitions run
// planning → executing → synthesizing → completed; failed is reachable from
// any state via operator action.
type Status string

const (
	StatusPlanning     Status = "planning"
	StatusExecuting    Status = "executing"
	StatusSynthesizing Status = "synthesizing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// SubtaskStatus is an individual subtask state.
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskAssigned   SubtaskStatus = "assigned"
	SubtaskInProgress SubtaskStatus = "in-progress"
	SubtaskCompleted  SubtaskStatus = "completed"
	SubtaskFailed     SubtaskStatus = "failed"
)

// terminal reports whether a subtask needs no further work.
func (s SubtaskStatus) terminal() bool {
	return s == SubtaskCompleted || s == SubtaskFailed
}

// Subtask is one unit of decomposed work.
type Subtask struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Assignee string        `json:"assignee,omitempty"`
	Status   SubtaskStatus `json:"status"`
	Result   string        `json:"result,omitempty"`
}

// Orchestration is a decomposed unit of work owned by a coordinating agent.
type Orchestration struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Coordinator string     `json:"coordinator"`
	Status      Status     `json:"status"`
	Subtasks    []Subtask  `json:"subtasks"`
	Synthesis   string     `json:"synthesis,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// SubtaskSpec describes one subtask at creation time.
type SubtaskSpec struct {
	Title    string `json:"title"`
	Assignee string `json:"assignee,omitempty"`
}

// SubtaskUpdate carries optional subtask mutations. Nil fields are untouched.
type SubtaskUpdate struct {
	Status   *SubtaskStatus `json:"status,omitempty"`
	Result   *string        `json:"result,omitempty"`
	Assignee *string        `json:"assignee,omitempty"`
}

// Orchestrator drives the orchestration state machine over the shared store.
// Subtasks are mirrored into the plain task list so non-coordinating agents
// can pick them up; that mirror is the only write-through to task storage.
type Orchestrator struct {
	store    state.Store
	key      string
	taskList *tasks.Service
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Orchestrator storing records in the
// <namespace>:orchestrations hash. taskList may be nil to disable mirroring.
func New(s state.Store, namespace string, taskList *tasks.Service) *Orchestrator {
	return &Orchestrator{
		store:    s,
		key:      namespace + ":orchestrations",
		taskList: taskList,
		logger:   slog.Default().With("component", "orchestrate"),
		now:      time.Now,
	}
}

// Create builds an orchestration with one pending subtask per spec. It
// starts executing when subtasks exist, otherwise it stays in planning.
func (o *Orchestrator) Create(ctx context.Context, title, coordinator string, specs []SubtaskSpec) (*Orchestration, error) {
	if title == "" {
		return nil, errors.New("title is required")
	}
	if coordinator == "" {
		return nil, errors.New("coordinator is required")
	}

	now := o.now().UTC()
	orch := &Orchestration{
		ID:          uuid.New().String(),
		Title:       title,
		Coordinator: coordinator,
		Status:      StatusPlanning,
		Subtasks:    make([]Subtask, 0, len(specs)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, spec := range specs {
		st := Subtask{
			ID:       uuid.New().String(),
			Title:    spec.Title,
			Assignee: spec.Assignee,
			Status:   SubtaskPending,
		}
		orch.Subtasks = append(orch.Subtasks, st)
	}
	if len(orch.Subtasks) > 0 {
		orch.Status = StatusExecuting
	}

	if err := o.write(ctx, orch); err != nil {
		return nil, err
	}
	o.mirrorSubtasks(ctx, orch)

	o.logger.Info("orchestration created",
		"orchestration_id", orch.ID,
		"coordinator", coordinator,
		"subtasks", len(orch.Subtasks),
	)
	return orch, nil
}

// UpdateSubtask mutates the named subtask. When every subtask has reached a
// terminal status the parent moves from executing to synthesizing; from any
// other parent state the aggregation is a no-op.
func (o *Orchestrator) UpdateSubtask(ctx context.Context, orchestrationID, subtaskID string, upd SubtaskUpdate) (*Orchestration, error) {
	orch, err := o.Get(ctx, orchestrationID)
	if err != nil {
		return nil, err
	}

	var subtask *Subtask
	for i := range orch.Subtasks {
		if orch.Subtasks[i].ID == subtaskID {
			subtask = &orch.Subtasks[i]
			break
		}
	}
	if subtask == nil {
		return nil, ErrSubtaskNotFound
	}

	if upd.Status != nil {
		subtask.Status = *upd.Status
	}
	if upd.Result != nil {
		subtask.Result = *upd.Result
	}
	if upd.Assignee != nil {
		subtask.Assignee = *upd.Assignee
	}

	allDone := true
	for _, st := range orch.Subtasks {
		if !st.Status.terminal() {
			allDone = false
			break
		}
	}
	if allDone && orch.Status == StatusExecuting {
		orch.Status = StatusSynthesizing
		o.logger.Info("all subtasks finished, awaiting synthesis", "orchestration_id", orch.ID)
	}

	orch.UpdatedAt = o.now().UTC()
	if err := o.write(ctx, orch); err != nil {
		return nil, err
	}
	o.mirrorUpdate(ctx, orch.ID, subtask)
	return orch, nil
}

// Synthesize records the coordinator's synthesis and completes the
// orchestration. It is allowed even when subtasks are unfinished: a
// deliberate coordinator override, logged so operators can audit it.
func (o *Orchestrator) Synthesize(ctx context.Context, orchestrationID, synthesis string) (*Orchestration, error) {
	orch, err := o.Get(ctx, orchestrationID)
	if err != nil {
		return nil, err
	}

	unfinished := 0
	for _, st := range orch.Subtasks {
		if !st.Status.terminal() {
			unfinished++
		}
	}
	if unfinished > 0 {
		o.logger.Warn("synthesis overriding unfinished subtasks",
			"orchestration_id", orch.ID,
			"unfinished", unfinished,
		)
	}

	now := o.now().UTC()
	orch.Synthesis = synthesis
	orch.Status = StatusCompleted
	orch.CompletedAt = &now
	orch.UpdatedAt = now
	if err := o.write(ctx, orch); err != nil {
		return nil, err
	}

	o.logger.Info("orchestration completed", "orchestration_id", orch.ID)
	return orch, nil
}

// Fail marks the orchestration failed. Reachable from any state.
func (o *Orchestrator) Fail(ctx context.Context, orchestrationID, reason string) (*Orchestration, error) {
	orch, err := o.Get(ctx, orchestrationID)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	orch.Status = StatusFailed
	if reason != "" {
		orch.Synthesis = reason
	}
	orch.UpdatedAt = now
	if err := o.write(ctx, orch); err != nil {
		return nil, err
	}

	o.logger.Info("orchestration failed", "orchestration_id", orch.ID, "reason", reason)
	return orch, nil
}

// Get returns one orchestration by id.
func (o *Orchestrator) Get(ctx context.Context, orchestrationID string) (*Orchestration, error) {
	raw, err := o.store.HGet(ctx, o.key, orchestrationID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading orchestration %s: %w", orchestrationID, err)
	}

	var orch Orchestration
	if err := json.Unmarshal([]byte(raw), &orch); err != nil {
		o.logger.Warn("dropping malformed orchestration record", "orchestration_id", orchestrationID, "error", err)
		_ = o.store.HDel(ctx, o.key, orchestrationID)
		return nil, ErrNotFound
	}
	return &orch, nil
}

// List returns all orchestrations, newest first. Corrupt records are removed
// and skipped.
func (o *Orchestrator) List(ctx context.Context) ([]*Orchestration, error) {
	raw, err := o.store.HGetAll(ctx, o.key)
	if err != nil {
		return nil, fmt.Errorf("listing orchestrations: %w", err)
	}

	out := make([]*Orchestration, 0, len(raw))
	for id, v := range raw {
		var orch Orchestration
		if err := json.Unmarshal([]byte(v), &orch); err != nil {
			o.logger.Warn("dropping malformed orchestration record", "orchestration_id", id, "error", err)
			_ = o.store.HDel(ctx, o.key, id)
			continue
		}
		out = append(out, &orch)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (o *Orchestrator) write(ctx context.Context, orch *Orchestration) error {
	raw, err := json.Marshal(orch)
	if err != nil {
		return fmt.Errorf("encoding orchestration %s: %w", orch.ID, err)
	}
	if err := o.store.HSet(ctx, o.key, orch.ID, string(raw)); err != nil {
		return fmt.Errorf("writing orchestration %s: %w", orch.ID, err)
	}
	return nil
}

// mirrorSubtasks writes each subtask into the plain task list with a
// back-reference to the parent. Mirror failures degrade to a log line: the
// orchestration record is the source of truth.
func (o *Orchestrator) mirrorSubtasks(ctx context.Context, orch *Orchestration) {
	if o.taskList == nil {
		return
	}
	for _, st := range orch.Subtasks {
		_, err := o.taskList.Create(ctx, &tasks.Task{
			ID:              st.ID,
			Title:           st.Title,
			Status:          string(st.Status),
			Assignee:        st.Assignee,
			OrchestrationID: orch.ID,
			SubtaskID:       st.ID,
		})
		if err != nil {
			o.logger.Warn("mirroring subtask to task list", "subtask_id", st.ID, "error", err)
		}
	}
}

// mirrorUpdate patches the mirrored task for a subtask.
func (o *Orchestrator) mirrorUpdate(ctx context.Context, orchestrationID string, st *Subtask) {
	if o.taskList == nil {
		return
	}
	status := string(st.Status)
	patch := tasks.Patch{Status: &status}
	if st.Assignee != "" {
		patch.Assignee = &st.Assignee
	}
	if _, err := o.taskList.Apply(ctx, st.ID, patch); err != nil {
		o.logger.Warn("patching mirrored task", "subtask_id", st.ID, "orchestration_id", orchestrationID, "error", err)
	}
}
