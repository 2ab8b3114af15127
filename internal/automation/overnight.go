package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	awerr "github.com/hangw/agentcheck/internal/errors"
	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/lock"
	"github.com/hangw/agentcheck/internal/service"
	"github.com/hangw/agentcheck/internal/task"
)

// TaskController is the slice of the task service the drivers need.
// *service.TaskService satisfies it.
type TaskController interface {
	Create(ctx context.Context, in service.CreateTaskInput) (*task.Task, error)
	Start(ctx context.Context, taskID string) (*task.Task, error)
	StartAsync(ctx context.Context, taskID string) (*task.Task, error)
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
	Cancel(ctx context.Context, taskID string) (*task.Task, error)
	ForceFail(ctx context.Context, taskID, reason string) (*task.Task, error)
	ListEvents(ctx context.Context, taskID string, sinceSeq int64, limit int) ([]*events.Event, error)
}

// ParticipantPlan is one author/reviewers pool.
type ParticipantPlan struct {
	Author    string
	Reviewers []string
}

func (p ParticipantPlan) String() string {
	return p.Author + " -> " + strings.Join(p.Reviewers, ", ")
}

// defaultOvernightTopics rotate when no topic file is supplied.
var defaultOvernightTopics = []string{
	"Improve reliability of task start/cancel transitions",
	"Refine service validation and error messages",
	"Increase observability signal quality in workflow traces",
	"Improve operator ergonomics and event replay clarity",
	"Find and fix one bug in the service or repository layer",
}

// OvernightConfig configures the continuous self-evolution driver.
type OvernightConfig struct {
	Until time.Time

	WorkspacePath        string
	SandboxMode          bool
	SandboxWorkspacePath string
	SelfLoopMode         int
	AutoMerge            bool
	MergeTargetPath      string
	EvolutionLevel       int
	EvolveUntil          string
	MaxRounds            int
	TestCommand          string
	LintCommand          string

	Primary  ParticipantPlan
	Fallback ParticipantPlan

	Topics []string

	PollSeconds                  int
	IdleSeconds                  int
	TaskTimeoutSeconds           int
	MaxConsecutiveSystemFailures int
	CooldownSeconds              int
	PrimaryDisableSeconds        int

	LogDir   string
	LockFile string
}

// Overnight runs self-evolution tasks back to back until a deadline,
// rotating topics and flipping participant pools on system failures.
type Overnight struct {
	tasks  TaskController
	cfg    OvernightConfig
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)
}

// OvernightOption configures an Overnight driver.
type OvernightOption func(*Overnight)

// WithOvernightLogger sets the logger.
func WithOvernightLogger(logger *slog.Logger) OvernightOption {
	return func(o *Overnight) {
		o.logger = logger
	}
}

// WithOvernightClock replaces the wall clock, for tests.
func WithOvernightClock(now func() time.Time) OvernightOption {
	return func(o *Overnight) {
		o.now = now
	}
}

// NewOvernight creates the driver with clamped intervals.
func NewOvernight(tasks TaskController, cfg OvernightConfig, opts ...OvernightOption) *Overnight {
	if cfg.PollSeconds < 1 {
		cfg.PollSeconds = 5
	}
	if cfg.IdleSeconds < 1 {
		cfg.IdleSeconds = 5
	}
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = 3
	}
	if cfg.MaxConsecutiveSystemFailures < 1 {
		cfg.MaxConsecutiveSystemFailures = 5
	}
	if cfg.CooldownSeconds < 1 {
		cfg.CooldownSeconds = 45
	}
	if cfg.PrimaryDisableSeconds < 60 {
		cfg.PrimaryDisableSeconds = 3600
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = append([]string(nil), defaultOvernightTopics...)
	}
	o := &Overnight{
		tasks:  tasks,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	o.sleep = func(ctx context.Context, d time.Duration) {
		select {
		case <-ctx.Done():
		case <-time.After(d):
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// LoadTopicFile reads one topic per line, skipping blanks and comments.
func LoadTopicFile(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var topics []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		topics = append(topics, line)
	}
	return topics, nil
}

// Run executes the overnight loop. It returns once the deadline passes,
// the context is canceled, or the single-instance lock is held elsewhere.
func (o *Overnight) Run(ctx context.Context) error {
	if o.cfg.Until.IsZero() {
		return awerr.ErrConfigInvalid("until", "overnight deadline is required")
	}
	if o.cfg.LockFile == "" {
		return awerr.ErrConfigInvalid("lock_file", "lock file path is required")
	}

	lk := lock.New(o.cfg.LockFile)
	if err := lk.Acquire(); err != nil {
		var held *lock.AlreadyHeldError
		if errors.As(err, &held) {
			return awerr.ErrLockHeld(held.PID)
		}
		return err
	}
	defer lk.Release()

	logPath, err := o.ensureLogFile()
	if err != nil {
		return err
	}
	o.logger.Info("overnight driver started",
		"until", o.cfg.Until.Format(time.RFC3339), "log", logPath, "lock", o.cfg.LockFile)

	active := o.cfg.Primary
	var primaryDisabledUntil time.Time
	consecutiveSystemFailures := 0
	iteration := 0
	topicIndex := 0
	followupTopic := ""

	for o.now().Before(o.cfg.Until) && ctx.Err() == nil {
		if !primaryDisabledUntil.IsZero() && !o.now().Before(primaryDisabledUntil) {
			o.logger.Info("primary participant cooldown expired")
			primaryDisabledUntil = time.Time{}
		}
		if active.Author == o.cfg.Primary.Author && !primaryDisabledUntil.IsZero() && o.now().Before(primaryDisabledUntil) {
			active = o.cfg.Fallback
		}

		iteration++
		topic := followupTopic
		followupTopic = ""
		if topic == "" {
			topic = o.cfg.Topics[topicIndex%len(o.cfg.Topics)]
			topicIndex++
		}

		final, runErr := o.runIteration(ctx, topic, active)
		if runErr != nil {
			o.logger.Error("overnight iteration failed", "iteration", iteration, "err", runErr)
			o.appendLogRow(logPath, iteration, "n/a", "driver_error", 0, runErr.Error(), active)
			errText := strings.ToLower(runErr.Error())
			if strings.Contains(errText, "claude") {
				active = o.cfg.Fallback
				if IsProviderLimitReason(runErr.Error(), "claude") {
					primaryDisabledUntil = o.now().Add(time.Duration(o.cfg.PrimaryDisableSeconds) * time.Second)
				}
			} else if strings.Contains(errText, "codex") && (primaryDisabledUntil.IsZero() || !o.now().Before(primaryDisabledUntil)) {
				active = o.cfg.Primary
			}
			o.sleep(ctx, time.Duration(o.cfg.IdleSeconds)*time.Second)
			continue
		}

		status := string(final.Status)
		reason := final.LastGateReason
		o.appendLogRow(logPath, iteration, final.TaskID, status, final.RoundsCompleted, reason, active)
		o.logger.Info("overnight task finished",
			"iteration", iteration, "task_id", final.TaskID, "status", status,
			"rounds", final.RoundsCompleted, "reason", reason)

		if ShouldSwitchToFallback(status, reason) {
			active = o.cfg.Fallback
			o.logger.Info("switched to fallback participants")
			if IsProviderLimitReason(reason, "claude") {
				primaryDisabledUntil = o.now().Add(time.Duration(o.cfg.PrimaryDisableSeconds) * time.Second)
				o.logger.Info("primary participants disabled for cooldown",
					"until", primaryDisabledUntil.Format(time.RFC3339))
			}
		} else if ShouldSwitchBackToPrimary(status, reason) {
			if primaryDisabledUntil.IsZero() || !o.now().Before(primaryDisabledUntil) {
				active = o.cfg.Primary
				o.logger.Info("switched back to primary participants")
			}
		}

		if status == string(task.StatusFailedSystem) {
			consecutiveSystemFailures++
		} else {
			consecutiveSystemFailures = 0
		}
		if consecutiveSystemFailures >= o.cfg.MaxConsecutiveSystemFailures {
			o.logger.Warn("cooling down after consecutive system failures",
				"failures", consecutiveSystemFailures, "cooldown_seconds", o.cfg.CooldownSeconds)
			o.sleep(ctx, time.Duration(o.cfg.CooldownSeconds)*time.Second)
			consecutiveSystemFailures = 0
		}

		if o.cfg.SelfLoopMode == 1 {
			followupTopic = o.deriveFollowupTopic(ctx, final)
		}

		o.sleep(ctx, time.Duration(o.cfg.IdleSeconds)*time.Second)
	}

	o.logger.Info("overnight driver completed", "log", logPath)
	return ctx.Err()
}

// runIteration creates one task for the topic and waits for a terminal
// status.
func (o *Overnight) runIteration(ctx context.Context, topic string, plan ParticipantPlan) (*task.Task, error) {
	title := topic
	if len(title) > 90 {
		title = title[:90]
	}
	row, err := o.tasks.Create(ctx, service.CreateTaskInput{
		Title: "AutoEvolve: " + title,
		Description: "You are in continuous self-improvement mode. " +
			"Find one concrete improvement, implement, review, and verify.",
		AuthorParticipant:    plan.Author,
		ReviewerParticipants: plan.Reviewers,
		WorkspacePath:        o.cfg.WorkspacePath,
		SandboxMode:          o.cfg.SandboxMode,
		SandboxWorkspacePath: o.cfg.SandboxWorkspacePath,
		SelfLoopMode:         o.cfg.SelfLoopMode,
		AutoMerge:            o.cfg.AutoMerge,
		MergeTargetPath:      o.cfg.MergeTargetPath,
		EvolutionLevel:       o.cfg.EvolutionLevel,
		EvolveUntil:          o.cfg.EvolveUntil,
		MaxRounds:            o.cfg.MaxRounds,
		TestCommand:          o.cfg.TestCommand,
		LintCommand:          o.cfg.LintCommand,
	})
	if err != nil {
		return nil, err
	}
	if _, err := o.tasks.StartAsync(ctx, row.TaskID); err != nil {
		return nil, err
	}
	return o.waitTerminal(ctx, row.TaskID)
}

// waitTerminal polls until the task settles. Admission-deferred tasks
// are restarted; tasks that outlive the timeout window are force-failed
// with the watchdog reason.
func (o *Overnight) waitTerminal(ctx context.Context, taskID string) (*task.Task, error) {
	started := o.now()
	poll := time.Duration(o.cfg.PollSeconds) * time.Second
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if o.cfg.TaskTimeoutSeconds > 0 && o.now().Sub(started) >= time.Duration(o.cfg.TaskTimeoutSeconds)*time.Second {
			reason := fmt.Sprintf("watchdog_timeout: task exceeded %ds without terminal status", o.cfg.TaskTimeoutSeconds)
			o.tasks.Cancel(ctx, taskID)
			if forced, err := o.tasks.ForceFail(ctx, taskID, reason); err == nil {
				return forced, nil
			}
		}

		row, err := o.tasks.GetTask(ctx, taskID)
		if err != nil {
			o.sleep(ctx, poll)
			continue
		}
		if ShouldRetryStartForConcurrencyLimit(string(row.Status), row.LastGateReason) {
			if _, err := o.tasks.StartAsync(ctx, taskID); err != nil {
				o.logger.Warn("deferred start retry failed", "task_id", taskID, "err", err)
			}
			o.sleep(ctx, poll)
			continue
		}
		if task.IsSettled(row.Status) {
			return row, nil
		}
		o.sleep(ctx, poll)
	}
}

// deriveFollowupTopic inspects the finished task for the next self-loop
// topic: event evidence first, process outcome second.
func (o *Overnight) deriveFollowupTopic(ctx context.Context, final *task.Task) string {
	evs, err := o.tasks.ListEvents(ctx, final.TaskID, 0, 0)
	if err == nil {
		if topic := ExtractSelfFollowupTopic(evs); topic != "" {
			return topic
		}
	}
	return RecommendProcessFollowupTopic(string(final.Status), final.LastGateReason)
}

// ensureLogFile creates the per-run markdown iteration log.
func (o *Overnight) ensureLogFile() (string, error) {
	dir := o.cfg.LogDir
	if dir == "" {
		dir = filepath.Dir(o.cfg.LockFile)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", awerr.ErrArtifactIO("create_overnight_log_dir", err)
	}
	path := filepath.Join(dir, "overnight-"+o.now().Format("20060102-150405")+".md")
	header := "# Overnight Auto-Evolve Log\n\n" +
		"Started: " + o.now().Format(time.RFC3339) + "\n\n" +
		"| Iteration | Task ID | Status | Rounds | Reason | Participants |\n" +
		"|---|---|---|---|---|---|\n"
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return "", awerr.ErrArtifactIO("write_overnight_log", err)
	}
	return path, nil
}

func (o *Overnight) appendLogRow(path string, iteration int, taskID, status string, rounds int, reason string, plan ParticipantPlan) {
	if len(reason) > 140 {
		reason = reason[:140]
	}
	row := fmt.Sprintf("| %d | %s | %s | %d | %s | %s |\n",
		iteration, taskID, status, rounds, reason, plan.String())
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		o.logger.Warn("overnight log append failed", "err", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(row); err != nil {
		o.logger.Warn("overnight log append failed", "err", err)
	}
}
