package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	awerr "github.com/hangw/agentcheck/internal/errors"
	"github.com/hangw/agentcheck/internal/sandbox"
	"github.com/hangw/agentcheck/internal/task"
)

// NewTaskID returns an opaque 12-hex task id.
func NewTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// CreateTaskInput is the raw creation request before validation.
type CreateTaskInput struct {
	Title       string
	Description string

	AuthorParticipant    string
	ReviewerParticipants []string

	// WorkspacePath is the project root, the source of truth.
	WorkspacePath string
	TestCommand   string
	LintCommand   string

	MaxRounds      int
	SelfLoopMode   int
	EvolutionLevel int
	EvolveUntil    string

	AutoMerge       bool
	MergeTargetPath string

	SandboxMode          bool
	SandboxWorkspacePath string
	SandboxCleanupOnPass bool

	ConversationLanguage string
	RepairMode           string
	PlainMode            bool
	StreamMode           bool
	DebateMode           bool

	ProviderModels            map[string]string
	ProviderModelParams       map[string]string
	ParticipantModels         map[string]string
	ParticipantModelParams    map[string]string
	ClaudeTeamAgents          bool
	CodexMultiAgents          bool
	ClaudeTeamAgentsOverrides map[string]bool
	CodexMultiAgentsOverrides map[string]bool
}

// evolveUntilLayouts are the accepted evolve_until spellings, most
// specific first. Stored values drop sub-second precision.
var evolveUntilLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseEvolveUntil(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", true
	}
	for _, layout := range evolveUntilLayouts {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts.Truncate(time.Second).Format("2006-01-02T15:04:05"), true
		}
	}
	return "", false
}

// Create validates the input, provisions the workspace, and persists a
// queued task. All validation failures carry a field pointer. A sandbox
// generated here is removed again when any later step fails; an
// operator-supplied sandbox is left alone.
func (s *TaskService) Create(ctx context.Context, in CreateTaskInput) (*task.Task, error) {
	row, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	row.TaskID = s.newTaskID()
	now := time.Now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now

	generated := false
	if row.SandboxMode {
		sandboxPath := strings.TrimSpace(in.SandboxWorkspacePath)
		if sandboxPath == "" {
			sandboxPath = sandbox.DefaultPath(row.ProjectPath)
			generated = true
		}
		if err := sandbox.Bootstrap(row.ProjectPath, sandboxPath); err != nil {
			return nil, awerr.ErrSandboxBootstrap(sandboxPath, err)
		}
		row.SandboxWorkspacePath = sandboxPath
		row.SandboxGenerated = generated
		row.WorkspacePath = sandboxPath
	}

	fail := func(err error) (*task.Task, error) {
		if generated && row.SandboxWorkspacePath != "" {
			sandbox.CleanupGenerated(row.ProjectPath, row.SandboxWorkspacePath)
		}
		return nil, err
	}

	row.WorkspaceFingerprint = sandbox.BuildFingerprint(row.ProjectPath, row.WorkspacePath, row.SandboxWorkspacePath, row.MergeTargetPath)

	if err := s.store.CreateTask(ctx, row); err != nil {
		return fail(awerr.ErrDatabase("create_task", err))
	}
	if s.artifacts != nil {
		if _, err := s.artifacts.CreateTaskWorkspace(row.TaskID); err != nil {
			if _, delErr := s.store.DeleteTasks(ctx, row.TaskID); delErr != nil {
				s.logger.Warn("orphan task cleanup failed", "task_id", row.TaskID, "err", delErr)
			}
			return fail(awerr.ErrArtifactIO("create_task_workspace", err))
		}
		if err := s.artifacts.UpdateState(row.TaskID, initialState(row)); err != nil {
			s.logger.Warn("initial state write failed", "task_id", row.TaskID, "err", err)
		}
	}
	s.logger.Info("task created", "task_id", row.TaskID, "sandbox_mode", row.SandboxMode, "sandbox_generated", row.SandboxGenerated)
	return row, nil
}

// CreateAndStart is the common create-then-admit flow.
func (s *TaskService) CreateAndStart(ctx context.Context, in CreateTaskInput) (*task.Task, error) {
	row, err := s.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	return s.Start(ctx, row.TaskID)
}

func initialState(row *task.Task) map[string]any {
	return map[string]any{
		"task_id":          row.TaskID,
		"title":            row.Title,
		"status":           string(row.Status),
		"project_path":     row.ProjectPath,
		"workspace_path":   row.WorkspacePath,
		"max_rounds":       row.MaxRounds,
		"rounds_completed": row.RoundsCompleted,
		"created_at":       row.CreatedAt.Format(time.RFC3339),
	}
}

// validate applies the boundary rules and returns a normalized row, or
// the first validation error with its field pointer.
func (s *TaskService) validate(in CreateTaskInput) (*task.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, awerr.ErrValidation("title", "title is required")
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, awerr.ErrValidation("description", "description is required")
	}

	author, err := task.ParseParticipant(in.AuthorParticipant)
	if err != nil {
		return nil, awerr.ErrValidation("author_participant", err.Error())
	}
	if len(in.ReviewerParticipants) == 0 {
		return nil, awerr.ErrValidation("reviewer_participants", "at least one reviewer is required")
	}
	reviewers := make([]string, 0, len(in.ReviewerParticipants))
	participants := map[string]task.Participant{author.String(): author}
	for i, raw := range in.ReviewerParticipants {
		p, err := task.ParseParticipant(raw)
		if err != nil {
			return nil, awerr.ErrValidation(fmt.Sprintf("reviewer_participants[%d]", i), err.Error())
		}
		reviewers = append(reviewers, p.String())
		participants[p.String()] = p
	}

	workspacePath := strings.TrimSpace(in.WorkspacePath)
	if workspacePath == "" {
		return nil, awerr.ErrValidation("workspace_path", "workspace_path is required")
	}
	abs, err := filepath.Abs(workspacePath)
	if err == nil {
		workspacePath = abs
	}
	info, err := os.Stat(workspacePath)
	if err != nil || !info.IsDir() {
		return nil, awerr.ErrValidation("workspace_path", "workspace_path must be an existing directory")
	}

	if in.MaxRounds < task.MinRounds || in.MaxRounds > task.MaxRounds {
		return nil, awerr.ErrValidation("max_rounds", fmt.Sprintf("max_rounds must be between %d and %d", task.MinRounds, task.MaxRounds))
	}
	if in.SelfLoopMode != 0 && in.SelfLoopMode != 1 {
		return nil, awerr.ErrValidation("self_loop_mode", "self_loop_mode must be 0 or 1")
	}
	if in.EvolutionLevel < 0 || in.EvolutionLevel > 2 {
		return nil, awerr.ErrValidation("evolution_level", "evolution_level must be between 0 and 2")
	}
	evolveUntil, ok := parseEvolveUntil(in.EvolveUntil)
	if !ok {
		return nil, awerr.ErrValidation("evolve_until", "evolve_until must be an ISO datetime")
	}

	language, ok := task.CanonicalLanguage(in.ConversationLanguage)
	if !ok {
		return nil, awerr.ErrValidation("conversation_language", fmt.Sprintf("unsupported conversation_language %q", in.ConversationLanguage))
	}

	repairMode := task.RepairMode(strings.ToLower(strings.TrimSpace(in.RepairMode)))
	if in.RepairMode == "" {
		repairMode = task.RepairBalanced
	} else if !task.IsValidRepairMode(repairMode) {
		return nil, awerr.ErrValidation("repair_mode", fmt.Sprintf("repair_mode must be one of minimal, balanced, structural; got %q", in.RepairMode))
	}

	for key := range in.ProviderModels {
		if !task.IsSupportedProvider(key) {
			return nil, awerr.ErrValidation("provider_models."+key, "unknown provider")
		}
	}
	for key := range in.ProviderModelParams {
		if !task.IsSupportedProvider(key) {
			return nil, awerr.ErrValidation("provider_model_params."+key, "unknown provider")
		}
	}
	for key := range in.ParticipantModels {
		if _, ok := participants[key]; !ok {
			return nil, awerr.ErrValidation("participant_models."+key, "participant is not part of this task")
		}
	}
	for key := range in.ParticipantModelParams {
		if _, ok := participants[key]; !ok {
			return nil, awerr.ErrValidation("participant_model_params."+key, "participant is not part of this task")
		}
	}
	for key := range in.ClaudeTeamAgentsOverrides {
		p, ok := participants[key]
		if !ok {
			return nil, awerr.ErrValidation("claude_team_agents_overrides."+key, "participant is not part of this task")
		}
		if p.Provider != task.ProviderClaude {
			return nil, awerr.ErrValidation("claude_team_agents_overrides."+key, "override targets a non-claude participant")
		}
	}
	for key := range in.CodexMultiAgentsOverrides {
		p, ok := participants[key]
		if !ok {
			return nil, awerr.ErrValidation("codex_multi_agents_overrides."+key, "participant is not part of this task")
		}
		if p.Provider != task.ProviderCodex {
			return nil, awerr.ErrValidation("codex_multi_agents_overrides."+key, "override targets a non-codex participant")
		}
	}

	sandboxMode := in.SandboxMode
	sandboxPath := strings.TrimSpace(in.SandboxWorkspacePath)

	// Multi-round tasks without auto-merge park their work for manual
	// promotion; that only makes sense against a sandbox the orchestrator
	// controls.
	if in.MaxRounds > 1 && !in.AutoMerge {
		sandboxMode = true
		sandboxPath = ""
	}

	mergeTarget := strings.TrimSpace(in.MergeTargetPath)
	if in.AutoMerge && sandboxMode && mergeTarget == "" {
		mergeTarget = workspacePath
	}
	if mergeTarget != "" {
		if abs, err := filepath.Abs(mergeTarget); err == nil {
			mergeTarget = abs
		}
	}

	row := &task.Task{
		Title:       title,
		Description: description,
		Status:      task.StatusQueued,

		AuthorParticipant:    author.String(),
		ReviewerParticipants: reviewers,

		ProjectPath:          workspacePath,
		WorkspacePath:        workspacePath,
		SandboxMode:          sandboxMode,
		SandboxWorkspacePath: sandboxPath,
		SandboxCleanupOnPass: in.SandboxCleanupOnPass,
		MergeTargetPath:      mergeTarget,
		AutoMerge:            in.AutoMerge,

		SelfLoopMode:   in.SelfLoopMode,
		MaxRounds:      in.MaxRounds,
		EvolutionLevel: in.EvolutionLevel,
		EvolveUntil:    evolveUntil,

		TestCommand: strings.TrimSpace(in.TestCommand),
		LintCommand: strings.TrimSpace(in.LintCommand),

		ConversationLanguage: language,
		RepairMode:           repairMode,
		PlainMode:            in.PlainMode,
		StreamMode:           in.StreamMode,
		DebateMode:           in.DebateMode,

		ProviderModels:            in.ProviderModels,
		ProviderModelParams:       in.ProviderModelParams,
		ParticipantModels:         in.ParticipantModels,
		ParticipantModelParams:    in.ParticipantModelParams,
		ClaudeTeamAgents:          in.ClaudeTeamAgents,
		CodexMultiAgents:          in.CodexMultiAgents,
		ClaudeTeamAgentsOverrides: in.ClaudeTeamAgentsOverrides,
		CodexMultiAgentsOverrides: in.CodexMultiAgentsOverrides,
	}
	return row, nil
}
