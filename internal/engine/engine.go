// Package engine runs the debate workflow for one task: author
// discussion, optional debate exchange, reviewer fan-out, command
// verification, the completion gate, and auto-fusion on pass. The engine
// is repository-free; persistence and status transitions happen in the
// hooks supplied by the caller.
package engine

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/fusion"
	"github.com/hangw/agentcheck/internal/gate"
	"github.com/hangw/agentcheck/internal/runner"
	"github.com/hangw/agentcheck/internal/task"
	"github.com/hangw/agentcheck/internal/util"
)

// Workflow backends. Both names run the identical round algorithm; the
// backend is recorded so run records stay traceable after migrations.
const (
	BackendClassic   = "classic"
	BackendLanggraph = "langgraph"
)

// NormalizeBackend maps blank or unknown backend names to BackendClassic.
func NormalizeBackend(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), BackendLanggraph) {
		return BackendLanggraph
	}
	return BackendClassic
}

// DefaultConsensusRetryLimit bounds author revision attempts after
// reviewers deadlock before the task parks for operator input.
const DefaultConsensusRetryLimit = 2

// GateReasonCanceled is recorded when a cooperative cancel lands between
// round steps.
const GateReasonCanceled = "canceled"

// GateReasonConsensusStalled prefixes the reason recorded when a review
// deadlock survives the revision budget; the stall kind is appended.
const GateReasonConsensusStalled = "proposal_consensus_stalled"

// ParticipantRunner invokes one participant CLI per request.
type ParticipantRunner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// FusionManager merges sandbox work back into a target tree.
type FusionManager interface {
	BuildManifest(root string) (fusion.Manifest, error)
	Run(taskID, sourceRoot, targetRoot string, before fusion.Manifest) (*fusion.Result, error)
}

// RunConfig is the immutable per-run view of a task.
type RunConfig struct {
	TaskID      string
	Title       string
	Description string

	Author    task.Participant
	Reviewers []task.Participant

	// Cwd is the directory participants and verification commands run in.
	Cwd         string
	TestCommand string
	LintCommand string

	MaxRounds           int
	ConsensusRetryLimit int
	TimeoutSeconds      int

	ConversationLanguage string
	RepairMode           task.RepairMode
	PlainMode            bool
	StreamMode           bool
	DebateMode           bool
	SelfLoopMode         int
	EvolutionLevel       int
	EvolveUntil          string

	ProviderModels            map[string]string
	ProviderModelParams       map[string]string
	ParticipantModels         map[string]string
	ParticipantModelParams    map[string]string
	ClaudeTeamAgents          bool
	CodexMultiAgents          bool
	ClaudeTeamAgentsOverrides map[string]bool
	CodexMultiAgentsOverrides map[string]bool

	// AutoMerge plus SandboxUsed arms fusion; SourceRoot is the sandbox
	// tree, MergeTargetPath the promotion target (ProjectPath when empty).
	AutoMerge       bool
	SandboxUsed     bool
	SourceRoot      string
	ProjectPath     string
	MergeTargetPath string

	WorkflowBackend string
}

// RunResult is the terminal outcome of one engine run.
type RunResult struct {
	Status          task.Status
	GateReason      string
	RoundsCompleted int
}

// Hooks connect a run to its caller. OnEvent receives every emitted event
// in order; seq is assigned downstream by the repository. CancelRequested
// is polled between steps. OnStream forwards live participant output when
// the run config enables streaming.
type Hooks struct {
	OnEvent         func(events.Event)
	CancelRequested func() bool
	OnStream        runner.StreamFunc
}

// Engine executes runs. Safe for concurrent use.
type Engine struct {
	runner      ParticipantRunner
	executor    gate.CommandExecutor
	fusion      FusionManager
	backend     string
	logger      *slog.Logger
	templateDir string

	cacheMu   sync.Mutex
	templates map[string]string
}

// Option configures an Engine.
type Option func(*Engine)

// WithFusionManager arms auto-fusion for runs that request it.
func WithFusionManager(m FusionManager) Option {
	return func(e *Engine) {
		e.fusion = m
	}
}

// WithWorkflowBackend sets the default backend name recorded on runs.
func WithWorkflowBackend(backend string) Option {
	return func(e *Engine) {
		e.backend = NormalizeBackend(backend)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTemplateDir overrides built-in prompt templates file-by-file.
func WithTemplateDir(dir string) Option {
	return func(e *Engine) {
		e.templateDir = dir
	}
}

// New creates an Engine around a participant runner and a command
// executor.
func New(r ParticipantRunner, executor gate.CommandExecutor, opts ...Option) *Engine {
	e := &Engine{
		runner:    r,
		executor:  executor,
		backend:   BackendClassic,
		logger:    slog.Default(),
		templates: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runnerOutputReason matches participant output that begins with a runner
// failure class. Some provider CLIs exit zero after printing the failure
// line, so the class has to be recovered from the text.
var runnerOutputReason = regexp.MustCompile(`^(provider_limit|command_not_found|command_timeout|command_not_configured|command_failed)\b`)

// Run executes the round algorithm and returns the terminal outcome.
// Only context errors are returned as errors; every other failure maps to
// a RunResult status.
func (e *Engine) Run(ctx context.Context, cfg RunConfig, hooks Hooks) (*RunResult, error) {
	cfg.MaxRounds = task.ClampMaxRounds(cfg.MaxRounds)
	retryLimit := cfg.ConsensusRetryLimit
	if retryLimit <= 0 {
		retryLimit = DefaultConsensusRetryLimit
	}
	reviewers := append([]task.Participant(nil), cfg.Reviewers...)
	if len(reviewers) == 0 && cfg.SelfLoopMode > 0 {
		reviewers = []task.Participant{cfg.Author}
	}

	backend := cfg.WorkflowBackend
	if backend == "" {
		backend = e.backend
	}
	log := e.logger.With("task_id", cfg.TaskID, "backend", NormalizeBackend(backend))

	fuse := cfg.AutoMerge && cfg.SandboxUsed && e.fusion != nil && cfg.SourceRoot != ""
	var fuseBefore fusion.Manifest
	if fuse {
		manifest, err := e.fusion.BuildManifest(cfg.SourceRoot)
		if err != nil {
			return systemFailure(0, "auto_merge_error: "+err.Error()), nil
		}
		fuseBefore = manifest
	}

	rounds := 0
	hint := ""
	firstDeadlockRound := 0

	for round := 1; round <= cfg.MaxRounds; round++ {
		if e.cancelRequested(hooks) {
			return canceledResult(rounds), nil
		}

		log.Info("round started", "round", round, "max_rounds", cfg.MaxRounds)

		author, err := e.invoke(ctx, cfg, hooks, cfg.Author, e.authorPrompt(cfg, round, hint))
		if err != nil {
			return e.authorFailure(ctx, cfg, hooks, round, rounds, "discussion", err)
		}
		e.emit(hooks, cfg.TaskID, events.EventDiscussion, round, map[string]any{
			"participant":      cfg.Author.ID,
			"provider":         cfg.Author.Provider,
			"output":           util.ClipText(author.Output, util.DefaultClipChars),
			"returncode":       author.Returncode,
			"duration_seconds": author.DurationSeconds,
		})
		proposal := author.Output

		if cfg.DebateMode && len(reviewers) > 0 {
			revised, err := e.debate(ctx, cfg, hooks, reviewers, round, rounds, proposal)
			if err != nil {
				return nil, err
			}
			if revised.failure != nil {
				return revised.failure, nil
			}
			proposal = revised.proposal
		}

		if e.cancelRequested(hooks) {
			return canceledResult(rounds), nil
		}

		verdicts, err := e.collect(ctx, cfg, hooks, reviewers, round, proposal, events.EventReview)
		if err != nil {
			return nil, err
		}

		blockers, unknowns, noBlockers := countVerdicts(verdicts)
		attempt := 0
		for blockers > 0 && unknowns > 0 {
			if firstDeadlockRound == 0 {
				firstDeadlockRound = round
			}
			if attempt >= retryLimit {
				kind := "across_rounds"
				if firstDeadlockRound == round {
					kind = "in_round"
				}
				e.emit(hooks, cfg.TaskID, events.EventProposalConsensusStalled, round, map[string]any{
					"stall_kind":       kind,
					"round":            round,
					"attempt":          attempt,
					"retry_limit":      retryLimit,
					"blocker_count":    blockers,
					"unknown_count":    unknowns,
					"no_blocker_count": noBlockers,
				})
				log.Warn("consensus stalled", "round", round, "stall_kind", kind)
				return &RunResult{
					Status:          task.StatusWaitingManual,
					GateReason:      GateReasonConsensusStalled + "_" + kind,
					RoundsCompleted: rounds,
				}, nil
			}
			attempt++
			if e.cancelRequested(hooks) {
				return canceledResult(rounds), nil
			}

			revision, err := e.invoke(ctx, cfg, hooks, cfg.Author, e.revisionPrompt(cfg, round, proposal, blockers, unknowns))
			if err != nil {
				return e.authorFailure(ctx, cfg, hooks, round, rounds, "proposal_revision", err)
			}
			e.emit(hooks, cfg.TaskID, events.EventDiscussion, round, map[string]any{
				"stage":            "proposal_revision",
				"attempt":          attempt,
				"participant":      cfg.Author.ID,
				"provider":         cfg.Author.Provider,
				"output":           util.ClipText(revision.Output, util.DefaultClipChars),
				"returncode":       revision.Returncode,
				"duration_seconds": revision.DurationSeconds,
			})
			proposal = revision.Output

			verdicts, err = e.collect(ctx, cfg, hooks, reviewers, round, proposal, events.EventProposalReview)
			if err != nil {
				return nil, err
			}
			blockers, unknowns, noBlockers = countVerdicts(verdicts)
		}

		if e.cancelRequested(hooks) {
			return canceledResult(rounds), nil
		}

		testsRes, err := e.executor.Run(ctx, cfg.TestCommand, cfg.Cwd)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return systemFailure(rounds, "workflow_error: verification: "+err.Error()), nil
		}
		lintRes, err := e.executor.Run(ctx, cfg.LintCommand, cfg.Cwd)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return systemFailure(rounds, "workflow_error: verification: "+err.Error()), nil
		}
		testsOK, lintOK := testsRes.OK(), lintRes.OK()

		outcome := gate.Evaluate(testsOK, lintOK, verdicts)
		payload := map[string]any{
			"reason":           outcome.Reason,
			"round":            round,
			"tests_ok":         testsOK,
			"lint_ok":          lintOK,
			"blocker_count":    blockers,
			"unknown_count":    unknowns,
			"no_blocker_count": noBlockers,
		}

		if outcome.Passed {
			e.emit(hooks, cfg.TaskID, events.EventGatePassed, round, payload)
			log.Info("gate passed", "round", round)
			if fuse {
				target := cfg.MergeTargetPath
				if target == "" {
					target = cfg.ProjectPath
				}
				merged, err := e.fusion.Run(cfg.TaskID, cfg.SourceRoot, target, fuseBefore)
				if err != nil {
					return systemFailure(rounds, "auto_merge_error: "+err.Error()), nil
				}
				e.emit(hooks, cfg.TaskID, events.EventAutoMergeCompleted, round, fusionPayload(merged))
			}
			return &RunResult{
				Status:          task.StatusPassed,
				GateReason:      gate.ReasonPassed,
				RoundsCompleted: rounds,
			}, nil
		}

		e.emit(hooks, cfg.TaskID, events.EventGateFailed, round, payload)
		log.Info("gate failed", "round", round, "reason", outcome.Reason)
		rounds++
		if round < cfg.MaxRounds {
			hint = strategyHintForReason(outcome.Reason)
			continue
		}
		return &RunResult{
			Status:          task.StatusFailedGate,
			GateReason:      outcome.Reason,
			RoundsCompleted: rounds,
		}, nil
	}

	// Unreachable with MaxRounds >= 1; kept for safety.
	return &RunResult{
		Status:          task.StatusFailedGate,
		GateReason:      gate.ReasonReviewMissing,
		RoundsCompleted: rounds,
	}, nil
}

// debateOutcome carries either a revised proposal or a terminal failure
// from the debate exchange.
type debateOutcome struct {
	proposal string
	failure  *RunResult
}

func (e *Engine) debate(ctx context.Context, cfg RunConfig, hooks Hooks, reviewers []task.Participant, round, rounds int, proposal string) (debateOutcome, error) {
	var critiques []string
	for _, rev := range reviewers {
		res, err := e.invoke(ctx, cfg, hooks, rev, e.debateReviewPrompt(cfg, round, proposal))
		if err != nil {
			if ctx.Err() != nil {
				return debateOutcome{}, ctx.Err()
			}
			reason, provider, command, output := describeRunnerErr(err, rev)
			e.emit(hooks, cfg.TaskID, events.EventReviewError, round, map[string]any{
				"stage":       "debate_review",
				"participant": rev.ID,
				"provider":    provider,
				"reason":      reason,
				"command":     command,
				"output":      util.ClipText(output, util.DefaultClipChars),
			})
			continue
		}
		e.emit(hooks, cfg.TaskID, events.EventDebateReview, round, map[string]any{
			"participant":      rev.ID,
			"provider":         rev.Provider,
			"output":           util.ClipText(res.Output, util.DefaultClipChars),
			"returncode":       res.Returncode,
			"duration_seconds": res.DurationSeconds,
		})
		critiques = append(critiques, res.Output)
	}
	if len(critiques) == 0 {
		return debateOutcome{proposal: proposal}, nil
	}

	reply, err := e.invoke(ctx, cfg, hooks, cfg.Author, e.debateReplyPrompt(cfg, round, critiques))
	if err != nil {
		failure, ctxErr := e.authorFailure(ctx, cfg, hooks, round, rounds, "debate_reply", err)
		if ctxErr != nil {
			return debateOutcome{}, ctxErr
		}
		return debateOutcome{failure: failure}, nil
	}
	e.emit(hooks, cfg.TaskID, events.EventDebateReply, round, map[string]any{
		"participant":      cfg.Author.ID,
		"provider":         cfg.Author.Provider,
		"output":           util.ClipText(reply.Output, util.DefaultClipChars),
		"returncode":       reply.Returncode,
		"duration_seconds": reply.DurationSeconds,
	})
	return debateOutcome{proposal: proposal + "\n\n[debate reply]\n" + reply.Output}, nil
}

// collect fans out one review pass and returns the verdicts in reviewer
// order. Runner failures and runtime-classed output degrade to unknown
// verdicts instead of aborting the run.
func (e *Engine) collect(ctx context.Context, cfg RunConfig, hooks Hooks, reviewers []task.Participant, round int, proposal string, eventType events.EventType) ([]task.Verdict, error) {
	verdicts := make([]task.Verdict, 0, len(reviewers))
	for _, rev := range reviewers {
		res, err := e.invoke(ctx, cfg, hooks, rev, e.reviewerPrompt(cfg, round, proposal))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			reason, provider, command, output := describeRunnerErr(err, rev)
			verdicts = append(verdicts, e.degradeReview(hooks, cfg.TaskID, eventType, round, rev, reason, provider, command, output))
			continue
		}
		if m := runnerOutputReason.FindStringSubmatch(strings.TrimSpace(res.Output)); m != nil {
			verdicts = append(verdicts, e.degradeReview(hooks, cfg.TaskID, eventType, round, rev, m[1], rev.Provider, "", res.Output))
			continue
		}
		payload := map[string]any{
			"participant":      rev.ID,
			"provider":         rev.Provider,
			"verdict":          string(res.Verdict),
			"output":           util.ClipText(res.Output, util.DefaultClipChars),
			"returncode":       res.Returncode,
			"duration_seconds": res.DurationSeconds,
		}
		if res.NextAction != "" {
			payload["next_action"] = string(res.NextAction)
		}
		e.emit(hooks, cfg.TaskID, eventType, round, payload)
		verdicts = append(verdicts, res.Verdict)
	}
	return verdicts, nil
}

// degradeReview records a review_error plus a synthetic unknown review
// and returns the unknown verdict.
func (e *Engine) degradeReview(hooks Hooks, taskID string, eventType events.EventType, round int, rev task.Participant, reason, provider, command, output string) task.Verdict {
	e.emit(hooks, taskID, events.EventReviewError, round, map[string]any{
		"participant": rev.ID,
		"provider":    provider,
		"reason":      reason,
		"command":     command,
		"output":      util.ClipText(output, util.DefaultClipChars),
	})
	e.emit(hooks, taskID, eventType, round, map[string]any{
		"participant": rev.ID,
		"verdict":     string(task.VerdictUnknown),
		"output":      "[review_error] " + util.ClipText(output, util.DefaultClipChars),
	})
	return task.VerdictUnknown
}

// authorFailure maps an author-side runner error to failed_system.
// Context errors propagate instead.
func (e *Engine) authorFailure(ctx context.Context, cfg RunConfig, hooks Hooks, round, rounds int, stage string, err error) (*RunResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	reason := "workflow_error: " + err.Error()
	if re, ok := runner.AsRunError(err); ok {
		e.emit(hooks, cfg.TaskID, events.EventProposalDiscussionError, round, map[string]any{
			"stage":       stage,
			"participant": cfg.Author.ID,
			"provider":    re.Provider,
			"reason":      string(re.Class),
			"command":     re.Command,
			"output":      util.ClipText(re.Output, util.DefaultClipChars),
		})
		reason = "workflow_error: " + re.Error()
	}
	e.logger.Warn("author turn failed", "task_id", cfg.TaskID, "stage", stage, "round", round, "err", err)
	return systemFailure(rounds, reason), nil
}

func (e *Engine) invoke(ctx context.Context, cfg RunConfig, hooks Hooks, p task.Participant, prompt string) (*runner.Result, error) {
	req := runner.Request{
		Participant:    p,
		Prompt:         prompt,
		Cwd:            cfg.Cwd,
		TimeoutSeconds: cfg.TimeoutSeconds,
		Model:          ResolveModel(p, cfg.ProviderModels, cfg.ParticipantModels),
		ModelParams:    ResolveModelParams(p, cfg.ProviderModelParams, cfg.ParticipantModelParams),
	}
	switch p.Provider {
	case task.ProviderClaude:
		req.ClaudeTeamAgents = ResolveAgentToggle(p, cfg.ClaudeTeamAgents, cfg.ClaudeTeamAgentsOverrides)
	case task.ProviderCodex:
		req.CodexMultiAgents = ResolveAgentToggle(p, cfg.CodexMultiAgents, cfg.CodexMultiAgentsOverrides)
	}
	if cfg.StreamMode {
		req.OnStream = hooks.OnStream
	}
	return e.runner.Run(ctx, req)
}

func (e *Engine) emit(hooks Hooks, taskID string, eventType events.EventType, round int, payload map[string]any) {
	if hooks.OnEvent == nil {
		return
	}
	hooks.OnEvent(events.NewEvent(taskID, eventType, payload, events.RoundPtr(round)))
}

func (e *Engine) cancelRequested(hooks Hooks) bool {
	return hooks.CancelRequested != nil && hooks.CancelRequested()
}

// describeRunnerErr extracts emission fields from a reviewer-side error.
func describeRunnerErr(err error, rev task.Participant) (reason, provider, command, output string) {
	if re, ok := runner.AsRunError(err); ok {
		return string(re.Class), re.Provider, re.Command, re.Error()
	}
	return string(runner.ClassCommandFailed), rev.Provider, "", err.Error()
}

func countVerdicts(verdicts []task.Verdict) (blockers, unknowns, noBlockers int) {
	for _, v := range verdicts {
		switch v {
		case task.VerdictBlocker:
			blockers++
		case task.VerdictUnknown:
			unknowns++
		default:
			noBlockers++
		}
	}
	return blockers, unknowns, noBlockers
}

func fusionPayload(res *fusion.Result) map[string]any {
	return map[string]any{
		"mode":           res.Mode,
		"changed_files":  res.ChangedFiles,
		"copied_files":   res.CopiedFiles,
		"deleted_files":  res.DeletedFiles,
		"snapshot_path":  res.SnapshotPath,
		"changelog_path": res.ChangelogPath,
		"merged_at":      res.MergedAt,
	}
}

func systemFailure(rounds int, reason string) *RunResult {
	return &RunResult{
		Status:          task.StatusFailedSystem,
		GateReason:      reason,
		RoundsCompleted: rounds,
	}
}

func canceledResult(rounds int) *RunResult {
	return &RunResult{
		Status:          task.StatusCanceled,
		GateReason:      GateReasonCanceled,
		RoundsCompleted: rounds,
	}
}
