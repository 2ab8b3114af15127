// Package service owns the task lifecycle outside the round loop:
// validated creation, admission into running, cooperative cancel,
// administrative force-fail, and restart of failed tasks. It also hosts
// the analytics and history read models built on the same repository.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/hangw/agentcheck/internal/artifact"
	"github.com/hangw/agentcheck/internal/config"
	"github.com/hangw/agentcheck/internal/db"
	awerr "github.com/hangw/agentcheck/internal/errors"
	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/git"
	"github.com/hangw/agentcheck/internal/risk"
	"github.com/hangw/agentcheck/internal/sandbox"
	"github.com/hangw/agentcheck/internal/task"

	"github.com/hangw/agentcheck/internal/engine"
)

// ReasonConcurrencyLimit is recorded when admission rejects a start.
const ReasonConcurrencyLimit = "concurrency_limit"

// WorkflowEngine runs the per-task round loop.
type WorkflowEngine interface {
	Run(ctx context.Context, cfg engine.RunConfig, hooks engine.Hooks) (*engine.RunResult, error)
}

// TaskService creates and drives tasks.
type TaskService struct {
	store     db.Store
	artifacts *artifact.Store
	engine    WorkflowEngine
	cfg       *config.Config
	publisher events.Publisher
	inspector *git.Inspector
	admission *semaphore.Weighted
	logger    *slog.Logger
	newTaskID func() string
	preflight bool
}

// ServiceOption configures a TaskService.
type ServiceOption func(*TaskService)

// WithPublisher fans appended events out to live subscribers.
func WithPublisher(p events.Publisher) ServiceOption {
	return func(s *TaskService) {
		s.publisher = p
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *TaskService) {
		s.logger = logger
	}
}

// WithTaskIDGenerator replaces task id generation, mainly for tests.
func WithTaskIDGenerator(gen func() string) ServiceOption {
	return func(s *TaskService) {
		s.newTaskID = gen
	}
}

// WithGitInspector replaces the git prober.
func WithGitInspector(in *git.Inspector) ServiceOption {
	return func(s *TaskService) {
		s.inspector = in
	}
}

// WithPreflightGate enables or disables the risk preflight check on
// start. Enabled by default.
func WithPreflightGate(enabled bool) ServiceOption {
	return func(s *TaskService) {
		s.preflight = enabled
	}
}

// NewTaskService wires the lifecycle service. The admission ceiling
// comes from cfg.MaxConcurrentRunningTasks.
func NewTaskService(store db.Store, artifacts *artifact.Store, eng WorkflowEngine, cfg *config.Config, opts ...ServiceOption) *TaskService {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &TaskService{
		store:     store,
		artifacts: artifacts,
		engine:    eng,
		cfg:       cfg,
		publisher: events.NewNopPublisher(),
		inspector: git.NewInspector(),
		admission: semaphore.NewWeighted(int64(max(1, cfg.MaxConcurrentRunningTasks))),
		logger:    slog.Default(),
		newTaskID: NewTaskID,
		preflight: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetTask returns the row or a TASK_NOT_FOUND error.
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	row, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, awerr.ErrDatabase("get_task", err)
	}
	if row == nil {
		return nil, awerr.ErrTaskNotFound(taskID)
	}
	return row, nil
}

// ListTasks lists tasks newest-first.
func (s *TaskService) ListTasks(ctx context.Context, limit int) ([]*task.Task, error) {
	rows, err := s.store.ListTasks(ctx, limit)
	if err != nil {
		return nil, awerr.ErrDatabase("list_tasks", err)
	}
	return rows, nil
}

// ListEvents lists a task's events ordered by seq.
func (s *TaskService) ListEvents(ctx context.Context, taskID string, sinceSeq int64, limit int) ([]*events.Event, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	evs, err := s.store.ListEvents(ctx, taskID, sinceSeq, limit)
	if err != nil {
		return nil, awerr.ErrDatabase("list_events", err)
	}
	return evs, nil
}

// Start admits a queued task and runs it to its next resting status.
// When the admission ceiling is full the task stays queued with reason
// concurrency_limit and the returned row reflects that; the caller is
// expected to retry.
func (s *TaskService) Start(ctx context.Context, taskID string) (*task.Task, error) {
	row, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if row.Status != task.StatusQueued {
		return nil, awerr.ErrInvalidTransition(taskID, string(row.Status), string(task.StatusRunning))
	}

	if !s.admission.TryAcquire(1) {
		if err := s.store.UpdateTaskStatus(ctx, taskID, task.StatusQueued, db.WithReason(ReasonConcurrencyLimit)); err != nil {
			return nil, awerr.ErrDatabase("update_task_status", err)
		}
		s.logger.Info("start deferred by admission ceiling", "task_id", taskID)
		return s.GetTask(ctx, taskID)
	}

	running, err := s.store.UpdateTaskStatusIf(ctx, taskID, task.StatusQueued, task.StatusRunning)
	if err != nil {
		s.admission.Release(1)
		return nil, awerr.ErrDatabase("update_task_status_if", err)
	}
	if running == nil {
		s.admission.Release(1)
		fresh, _ := s.store.GetTask(ctx, taskID)
		status := "unknown"
		if fresh != nil {
			status = string(fresh.Status)
		}
		return nil, awerr.ErrInvalidTransition(taskID, status, string(task.StatusRunning))
	}

	return s.runAdmitted(ctx, running)
}

// StartAsync is Start detached: the run continues in a goroutine and
// the returned row shows the immediate post-admission status.
func (s *TaskService) StartAsync(ctx context.Context, taskID string) (*task.Task, error) {
	row, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if row.Status != task.StatusQueued {
		return nil, awerr.ErrInvalidTransition(taskID, string(row.Status), string(task.StatusRunning))
	}
	if !s.admission.TryAcquire(1) {
		if err := s.store.UpdateTaskStatus(ctx, taskID, task.StatusQueued, db.WithReason(ReasonConcurrencyLimit)); err != nil {
			return nil, awerr.ErrDatabase("update_task_status", err)
		}
		return s.GetTask(ctx, taskID)
	}
	running, err := s.store.UpdateTaskStatusIf(ctx, taskID, task.StatusQueued, task.StatusRunning)
	if err != nil {
		s.admission.Release(1)
		return nil, awerr.ErrDatabase("update_task_status_if", err)
	}
	if running == nil {
		s.admission.Release(1)
		return s.GetTask(ctx, taskID)
	}
	go func() {
		if _, err := s.runAdmitted(context.WithoutCancel(ctx), running); err != nil {
			s.logger.Error("async run failed", "task_id", taskID, "err", err)
		}
	}()
	return running, nil
}

// runAdmitted owns one admission slot and runs the task from running to
// its next resting status.
func (s *TaskService) runAdmitted(ctx context.Context, row *task.Task) (*task.Task, error) {
	defer s.admission.Release(1)

	if s.preflight {
		gateRes := risk.RunPreflightGate(row, row.WorkspacePath, s.inspector.HeadSHA)
		if !gateRes.Passed {
			s.appendEvent(ctx, events.NewEvent(row.TaskID, events.EventGateFailed, map[string]any{
				"stage":          "preflight",
				"reason":         gateRes.Reason,
				"risk_tier":      gateRes.RiskTier,
				"failed_checks":  gateRes.FailedChecks,
				"required":       gateRes.RequiredChecks,
				"contract":       gateRes.ContractVersion,
				"head_sha":       gateRes.HeadSHA,
				"profile_files":  gateRes.Profile.FileCount,
				"profile_bucket": gateRes.Profile.RepoSize,
			}, nil))
			if _, err := s.store.UpdateTaskStatusIf(ctx, row.TaskID, task.StatusRunning, task.StatusFailedGate, db.WithReason(gateRes.Reason)); err != nil {
				return nil, awerr.ErrDatabase("update_task_status_if", err)
			}
			s.syncState(row.TaskID, string(task.StatusFailedGate), gateRes.Reason, row.RoundsCompleted)
			return s.GetTask(ctx, row.TaskID)
		}
	}

	result, err := s.engine.Run(ctx, s.runConfig(row), s.hooks(row))
	if err != nil {
		reason := "workflow_error: " + err.Error()
		if _, casErr := s.store.UpdateTaskStatusIf(ctx, row.TaskID, task.StatusRunning, task.StatusFailedSystem, db.WithReason(reason)); casErr != nil {
			return nil, awerr.ErrDatabase("update_task_status_if", casErr)
		}
		s.syncState(row.TaskID, string(task.StatusFailedSystem), reason, row.RoundsCompleted)
		return s.GetTask(ctx, row.TaskID)
	}

	updated, casErr := s.store.UpdateTaskStatusIf(ctx, row.TaskID, task.StatusRunning, result.Status,
		db.WithReason(result.GateReason), db.WithRoundsCompleted(result.RoundsCompleted))
	if casErr != nil {
		return nil, awerr.ErrDatabase("update_task_status_if", casErr)
	}
	if updated == nil {
		// A watchdog or cancel endpoint moved the task first; its write
		// wins.
		return s.GetTask(ctx, row.TaskID)
	}
	s.syncState(row.TaskID, string(result.Status), result.GateReason, result.RoundsCompleted)

	if result.Status == task.StatusPassed && row.SandboxCleanupOnPass && row.SandboxGenerated && row.SandboxWorkspacePath != "" {
		sandbox.CleanupGenerated(row.ProjectPath, row.SandboxWorkspacePath)
	}
	if task.IsSettled(result.Status) {
		s.writeFinalReport(row, result)
	}
	return updated, nil
}

// Cancel raises the sticky cancel flag. A task still queued or parked
// in waiting_manual is canceled immediately; a running task is left to
// notice the flag between round steps.
func (s *TaskService) Cancel(ctx context.Context, taskID string) (*task.Task, error) {
	row, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsSettled(row.Status) {
		return row, nil
	}
	if err := s.store.SetCancelRequested(ctx, taskID, true); err != nil {
		return nil, awerr.ErrDatabase("set_cancel_requested", err)
	}
	for _, from := range []task.Status{task.StatusQueued, task.StatusWaitingManual, task.StatusFailedGate, task.StatusFailedSystem} {
		updated, err := s.store.UpdateTaskStatusIf(ctx, taskID, from, task.StatusCanceled, db.WithReason(engine.GateReasonCanceled))
		if err != nil {
			return nil, awerr.ErrDatabase("update_task_status_if", err)
		}
		if updated != nil {
			s.syncState(taskID, string(task.StatusCanceled), engine.GateReasonCanceled, updated.RoundsCompleted)
			return updated, nil
		}
	}
	return s.GetTask(ctx, taskID)
}

// ForceFail is the administrative terminal write used by watchdogs and
// operators. It refuses to touch settled tasks.
func (s *TaskService) ForceFail(ctx context.Context, taskID, reason string) (*task.Task, error) {
	row, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsSettled(row.Status) {
		return nil, awerr.ErrInvalidTransition(taskID, string(row.Status), string(task.StatusFailedSystem))
	}
	if strings.TrimSpace(reason) == "" {
		reason = "force_failed"
	}
	if err := s.store.UpdateTaskStatus(ctx, taskID, task.StatusFailedSystem, db.WithReason(reason)); err != nil {
		return nil, awerr.ErrDatabase("update_task_status", err)
	}
	s.syncState(taskID, string(task.StatusFailedSystem), reason, row.RoundsCompleted)
	return s.GetTask(ctx, taskID)
}

// Restart re-enters running from failed_gate or failed_system. The
// workspace fingerprint is re-derived first so a drifted tree fails
// loudly instead of merging stale work.
func (s *TaskService) Restart(ctx context.Context, taskID string) (*task.Task, error) {
	row, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsRestartable(row.Status) {
		return nil, awerr.ErrTaskNotRestartable(taskID, string(row.Status))
	}
	if err := s.checkFingerprint(row); err != nil {
		return nil, err
	}
	if !s.admission.TryAcquire(1) {
		// The row keeps its restartable status so a later Restart can
		// succeed once a slot frees up.
		if err := s.store.UpdateTaskStatus(ctx, taskID, row.Status, db.WithReason(ReasonConcurrencyLimit)); err != nil {
			return nil, awerr.ErrDatabase("update_task_status", err)
		}
		s.logger.Info("restart deferred by admission ceiling", "task_id", taskID)
		return s.GetTask(ctx, taskID)
	}
	running, err := s.store.UpdateTaskStatusIf(ctx, taskID, row.Status, task.StatusRunning,
		db.WithCancelRequested(false))
	if err != nil {
		s.admission.Release(1)
		return nil, awerr.ErrDatabase("update_task_status_if", err)
	}
	if running == nil {
		s.admission.Release(1)
		fresh, _ := s.store.GetTask(ctx, taskID)
		status := "unknown"
		if fresh != nil {
			status = string(fresh.Status)
		}
		return nil, awerr.ErrInvalidTransition(taskID, status, string(task.StatusRunning))
	}
	return s.runAdmitted(ctx, running)
}

// Approve resumes a task parked in waiting_manual after an operator
// reviewed the stalled proposal. A manual_gate event records the call.
func (s *TaskService) Approve(ctx context.Context, taskID, note string) (*task.Task, error) {
	row, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if row.Status != task.StatusWaitingManual {
		return nil, awerr.ErrInvalidTransition(taskID, string(row.Status), string(task.StatusRunning))
	}
	if err := s.checkFingerprint(row); err != nil {
		return nil, err
	}
	if !s.admission.TryAcquire(1) {
		// Deferred approval: the task stays waiting_manual so the
		// operator can retry once a slot frees up.
		if err := s.store.UpdateTaskStatus(ctx, taskID, task.StatusWaitingManual, db.WithReason(ReasonConcurrencyLimit)); err != nil {
			return nil, awerr.ErrDatabase("update_task_status", err)
		}
		s.logger.Info("approve deferred by admission ceiling", "task_id", taskID)
		return s.GetTask(ctx, taskID)
	}
	running, err := s.store.UpdateTaskStatusIf(ctx, taskID, task.StatusWaitingManual, task.StatusRunning)
	if err != nil {
		s.admission.Release(1)
		return nil, awerr.ErrDatabase("update_task_status_if", err)
	}
	if running == nil {
		s.admission.Release(1)
		return nil, awerr.ErrInvalidTransition(taskID, string(task.StatusWaitingManual), string(task.StatusRunning))
	}
	s.appendEvent(ctx, events.NewEvent(taskID, events.EventManualGate, map[string]any{
		"decision": "approved",
		"note":     strings.TrimSpace(note),
	}, nil))
	return s.runAdmitted(ctx, running)
}

// DeleteTasks removes tasks and their events.
func (s *TaskService) DeleteTasks(ctx context.Context, taskIDs ...string) (int, error) {
	n, err := s.store.DeleteTasks(ctx, taskIDs...)
	if err != nil {
		return 0, awerr.ErrDatabase("delete_tasks", err)
	}
	return n, nil
}

// checkFingerprint rejects resume when the recorded workspace roots no
// longer match what is on disk.
func (s *TaskService) checkFingerprint(row *task.Task) error {
	if row.WorkspaceFingerprint == nil {
		return nil
	}
	fresh := sandbox.BuildFingerprint(row.ProjectPath, row.WorkspacePath, row.SandboxWorkspacePath, row.MergeTargetPath)
	if !row.WorkspaceFingerprint.Matches(fresh) {
		return awerr.ErrWorkspaceConflict(row.WorkspacePath, "workspace drifted since task creation")
	}
	return nil
}

// runConfig projects a repository row into the engine's immutable view.
func (s *TaskService) runConfig(row *task.Task) engine.RunConfig {
	author, _ := task.ParseParticipant(row.AuthorParticipant)
	reviewers := make([]task.Participant, 0, len(row.ReviewerParticipants))
	for _, raw := range row.ReviewerParticipants {
		if p, err := task.ParseParticipant(raw); err == nil {
			reviewers = append(reviewers, p)
		}
	}
	return engine.RunConfig{
		TaskID:      row.TaskID,
		Title:       row.Title,
		Description: row.Description,
		Author:      author,
		Reviewers:   reviewers,

		Cwd:         row.WorkspacePath,
		TestCommand: row.TestCommand,
		LintCommand: row.LintCommand,

		MaxRounds:      row.MaxRounds,
		TimeoutSeconds: s.cfg.ParticipantTimeoutSeconds,

		ConversationLanguage: row.ConversationLanguage,
		RepairMode:           row.RepairMode,
		PlainMode:            row.PlainMode,
		StreamMode:           row.StreamMode,
		DebateMode:           row.DebateMode,
		SelfLoopMode:         row.SelfLoopMode,
		EvolutionLevel:       row.EvolutionLevel,
		EvolveUntil:          row.EvolveUntil,

		ProviderModels:            row.ProviderModels,
		ProviderModelParams:       row.ProviderModelParams,
		ParticipantModels:         row.ParticipantModels,
		ParticipantModelParams:    row.ParticipantModelParams,
		ClaudeTeamAgents:          row.ClaudeTeamAgents,
		CodexMultiAgents:          row.CodexMultiAgents,
		ClaudeTeamAgentsOverrides: row.ClaudeTeamAgentsOverrides,
		CodexMultiAgentsOverrides: row.CodexMultiAgentsOverrides,

		AutoMerge:       row.AutoMerge,
		SandboxUsed:     row.SandboxMode && row.SandboxWorkspacePath != "",
		SourceRoot:      row.SandboxWorkspacePath,
		ProjectPath:     row.ProjectPath,
		MergeTargetPath: row.MergeTargetPath,

		WorkflowBackend: s.cfg.WorkflowBackend,
	}
}

// hooks wires engine callbacks to the repository, the artifact log, and
// the live publisher.
func (s *TaskService) hooks(row *task.Task) engine.Hooks {
	taskID := row.TaskID
	return engine.Hooks{
		OnEvent: func(evt events.Event) {
			s.appendEvent(context.Background(), evt)
		},
		CancelRequested: func() bool {
			requested, err := s.store.IsCancelRequested(context.Background(), taskID)
			if err != nil {
				s.logger.Warn("cancel flag read failed", "task_id", taskID, "err", err)
				return false
			}
			return requested
		},
	}
}

// appendEvent persists one event and mirrors it to the artifact log and
// the publisher. Persistence failures are logged, never swallowed into
// panics: the engine keeps its own terminal reason.
func (s *TaskService) appendEvent(ctx context.Context, evt events.Event) {
	stored, err := s.store.AppendEvent(ctx, evt.TaskID, evt.Type, evt.Round, evt.Payload)
	if err != nil {
		s.logger.Error("append event failed", "task_id", evt.TaskID, "type", string(evt.Type), "err", err)
		return
	}
	if s.artifacts != nil {
		if err := s.artifacts.AppendEventLine(stored); err != nil {
			s.logger.Warn("event jsonl append failed", "task_id", evt.TaskID, "err", err)
		}
	}
	s.publisher.Publish(*stored)
}

// syncState mirrors the latest lifecycle fields into state.json.
func (s *TaskService) syncState(taskID, status, reason string, rounds int) {
	if s.artifacts == nil {
		return
	}
	patch := map[string]any{
		"status":           status,
		"rounds_completed": rounds,
	}
	if reason != "" {
		patch["last_gate_reason"] = reason
	}
	if err := s.artifacts.UpdateState(taskID, patch); err != nil {
		s.logger.Warn("state sync failed", "task_id", taskID, "err", err)
	}
}

// writeFinalReport leaves a terse terminal report in the task workspace.
func (s *TaskService) writeFinalReport(row *task.Task, result *engine.RunResult) {
	if s.artifacts == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Final report — %s\n\n", row.TaskID)
	fmt.Fprintf(&b, "- Title: %s\n", row.Title)
	fmt.Fprintf(&b, "- Status: %s\n", result.Status)
	fmt.Fprintf(&b, "- Reason: %s\n", result.GateReason)
	fmt.Fprintf(&b, "- Rounds completed: %d of %d\n", result.RoundsCompleted, row.MaxRounds)
	if err := s.artifacts.WriteFinalReport(row.TaskID, b.String()); err != nil {
		s.logger.Warn("final report write failed", "task_id", row.TaskID, "err", err)
	}
}
