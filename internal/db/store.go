package db

import (
	"context"
	"errors"

	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/task"
)

// ErrNotFound is returned when a task does not exist. Read paths that
// prefer (nil, nil) translate it at the call site.
var ErrNotFound = errors.New("task not found")

// UpdateOption customizes a status update.
type UpdateOption func(*updateParams)

type updateParams struct {
	reason          *string
	roundsCompleted *int
	cancelRequested *bool
}

// WithReason records the gate reason alongside the status change.
func WithReason(reason string) UpdateOption {
	return func(p *updateParams) {
		r := reason
		p.reason = &r
	}
}

// WithRoundsCompleted records how many rounds finished.
func WithRoundsCompleted(rounds int) UpdateOption {
	return func(p *updateParams) {
		r := rounds
		p.roundsCompleted = &r
	}
}

// WithCancelRequested sets or clears the cooperative cancel flag.
func WithCancelRequested(requested bool) UpdateOption {
	return func(p *updateParams) {
		r := requested
		p.cancelRequested = &r
	}
}

// Store is the task repository contract shared by the SQL and memory
// backends. All mutations bump updated_at; event appends assign a
// monotonic per-task seq starting at 1 with no gaps or duplicates even
// under concurrent appenders.
type Store interface {
	// CreateTask persists a new task. The task's CreatedAt/UpdatedAt are
	// set if zero. Duplicate IDs are an error.
	CreateTask(ctx context.Context, t *task.Task) error

	// GetTask returns the task or (nil, nil) when absent.
	GetTask(ctx context.Context, taskID string) (*task.Task, error)

	// ListTasks returns tasks newest-first. limit <= 0 means no limit.
	ListTasks(ctx context.Context, limit int) ([]*task.Task, error)

	// UpdateTaskStatus unconditionally sets the status. Options attach
	// reason, rounds, and cancel-flag changes to the same write.
	UpdateTaskStatus(ctx context.Context, taskID string, status task.Status, opts ...UpdateOption) error

	// UpdateTaskStatusIf performs a compare-and-swap: the status moves
	// from expect to next atomically. Returns the updated task, or
	// (nil, nil) when the current status did not match expect.
	UpdateTaskStatusIf(ctx context.Context, taskID string, expect, next task.Status, opts ...UpdateOption) (*task.Task, error)

	// SetCancelRequested flips the cooperative cancel flag.
	SetCancelRequested(ctx context.Context, taskID string, requested bool) error

	// IsCancelRequested reads the cooperative cancel flag.
	IsCancelRequested(ctx context.Context, taskID string) (bool, error)

	// AppendEvent assigns the next per-task seq and persists the event.
	// The returned event carries the assigned seq and created_at.
	AppendEvent(ctx context.Context, taskID string, eventType events.EventType, round *int, payload map[string]any) (*events.Event, error)

	// ListEvents returns events ordered by seq ascending. limit <= 0
	// means no limit; sinceSeq > 0 skips events at or below it.
	ListEvents(ctx context.Context, taskID string, sinceSeq int64, limit int) ([]*events.Event, error)

	// DeleteTasks removes tasks and cascades their events and counters.
	// Returns how many tasks were deleted; unknown ids are skipped.
	DeleteTasks(ctx context.Context, taskIDs ...string) (int, error)

	// Close releases backend resources.
	Close() error
}
