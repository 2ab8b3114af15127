package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hangw/agentcheck/internal/db"
	"github.com/hangw/agentcheck/internal/task"
)

// DefaultTaskTimeout is how long a task may sit in running before the
// watchdog force-fails it.
const DefaultTaskTimeout = 2 * time.Hour

// Watchdog force-fails tasks stuck in running. It tracks when it first
// observed each running task, so a freshly adopted task gets the full
// timeout from the first check rather than from its row timestamps.
type Watchdog struct {
	store   db.Store
	timeout time.Duration
	clock   func() time.Time
	logger  *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// WatchdogOption configures a Watchdog.
type WatchdogOption func(*Watchdog)

// WithWatchdogClock replaces the time source.
func WithWatchdogClock(clock func() time.Time) WatchdogOption {
	return func(w *Watchdog) {
		w.clock = clock
	}
}

// WithWatchdogLogger sets the logger.
func WithWatchdogLogger(logger *slog.Logger) WatchdogOption {
	return func(w *Watchdog) {
		w.logger = logger
	}
}

// NewWatchdog creates a Watchdog. timeout <= 0 means DefaultTaskTimeout.
func NewWatchdog(store db.Store, timeout time.Duration, opts ...WatchdogOption) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	w := &Watchdog{
		store:   store,
		timeout: timeout,
		clock:   time.Now,
		logger:  slog.Default(),
		seen:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CheckOnce scans running tasks and force-fails those past the timeout.
// It returns the IDs it failed. Races with normal completion are settled
// by the compare-and-swap: a task that left running on its own is left
// alone.
func (w *Watchdog) CheckOnce(ctx context.Context) ([]string, error) {
	tasks, err := w.store.ListTasks(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("watchdog list tasks: %w", err)
	}
	now := w.clock()

	w.mu.Lock()
	running := make(map[string]bool, len(tasks))
	var expired []string
	for _, t := range tasks {
		if t.Status != task.StatusRunning {
			continue
		}
		running[t.TaskID] = true
		first, ok := w.seen[t.TaskID]
		if !ok {
			w.seen[t.TaskID] = now
			continue
		}
		if now.Sub(first) >= w.timeout {
			expired = append(expired, t.TaskID)
		}
	}
	for id := range w.seen {
		if !running[id] {
			delete(w.seen, id)
		}
	}
	w.mu.Unlock()

	reason := fmt.Sprintf("watchdog_timeout: task exceeded %ds without terminal status", int(w.timeout/time.Second))
	var failed []string
	for _, id := range expired {
		updated, err := w.store.UpdateTaskStatusIf(ctx, id, task.StatusRunning, task.StatusFailedSystem, db.WithReason(reason))
		if err != nil {
			return failed, fmt.Errorf("watchdog fail %s: %w", id, err)
		}
		if updated == nil {
			continue
		}
		w.logger.Warn("watchdog force-failed task", "task_id", id, "timeout_seconds", int(w.timeout/time.Second))
		failed = append(failed, id)
		w.mu.Lock()
		delete(w.seen, id)
		w.mu.Unlock()
	}
	return failed, nil
}

// Watch runs CheckOnce on an interval until the context ends.
func (w *Watchdog) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.CheckOnce(ctx); err != nil {
				w.logger.Error("watchdog check failed", "err", err)
			}
		}
	}
}
