package db

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hangw/agentcheck/internal/task"
)

// taskColumns is the canonical column list shared by insert and select
// statements. Order matters: encodeTask and scanTask follow it.
const taskColumns = `task_id, title, description, status,
	author_participant, reviewer_participants,
	workspace_path, project_path, sandbox_workspace_path,
	sandbox_mode, sandbox_generated, sandbox_cleanup_on_pass,
	merge_target_path, auto_merge,
	self_loop_mode, max_rounds, rounds_completed, cancel_requested, last_gate_reason,
	test_command, lint_command,
	conversation_language, repair_mode, plain_mode, stream_mode, debate_mode,
	evolution_level, evolve_until,
	provider_models, provider_model_params, participant_models, participant_model_params,
	claude_team_agents, codex_multi_agents,
	claude_team_agents_overrides, codex_multi_agents_overrides,
	workspace_fingerprint, created_at, updated_at`

const taskColumnCount = 39

// encodeTask renders a task into the arg slice matching taskColumns.
func encodeTask(t *task.Task) []any {
	return []any{
		t.TaskID, t.Title, t.Description, string(t.Status),
		t.AuthorParticipant, encodeJSONList(t.ReviewerParticipants),
		t.WorkspacePath, t.ProjectPath, nullString(t.SandboxWorkspacePath),
		boolInt(t.SandboxMode), boolInt(t.SandboxGenerated), boolInt(t.SandboxCleanupOnPass),
		nullString(t.MergeTargetPath), boolInt(t.AutoMerge),
		t.SelfLoopMode, t.MaxRounds, t.RoundsCompleted, boolInt(t.CancelRequested), nullString(t.LastGateReason),
		nullString(t.TestCommand), nullString(t.LintCommand),
		t.ConversationLanguage, string(t.RepairMode), boolInt(t.PlainMode), boolInt(t.StreamMode), boolInt(t.DebateMode),
		t.EvolutionLevel, nullString(t.EvolveUntil),
		encodeJSONMap(t.ProviderModels), encodeJSONMap(t.ProviderModelParams),
		encodeJSONMap(t.ParticipantModels), encodeJSONMap(t.ParticipantModelParams),
		boolInt(t.ClaudeTeamAgents), boolInt(t.CodexMultiAgents),
		encodeJSONBoolMap(t.ClaudeTeamAgentsOverrides), encodeJSONBoolMap(t.CodexMultiAgentsOverrides),
		encodeFingerprint(t.WorkspaceFingerprint), encodeTime(t.CreatedAt), encodeTime(t.UpdatedAt),
	}
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one row in taskColumns order. Enum-valued columns are
// clamped so rows written by older or foreign writers still decode.
func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t                                  task.Task
		status, repairMode, language       string
		reviewers                          string
		sandboxPath, mergeTarget           sql.NullString
		gateReason, testCmd, lintCmd       sql.NullString
		evolveUntil, fingerprint           sql.NullString
		sandboxMode, sandboxGen            int
		sandboxCleanup, autoMerge          int
		cancelRequested, plainMode         int
		streamMode, debateMode             int
		claudeTeam, codexMulti             int
		providerModels, providerParams     string
		participantModels, participantPars string
		claudeOverrides, codexOverrides    string
		createdAt, updatedAt               string
	)

	err := row.Scan(
		&t.TaskID, &t.Title, &t.Description, &status,
		&t.AuthorParticipant, &reviewers,
		&t.WorkspacePath, &t.ProjectPath, &sandboxPath,
		&sandboxMode, &sandboxGen, &sandboxCleanup,
		&mergeTarget, &autoMerge,
		&t.SelfLoopMode, &t.MaxRounds, &t.RoundsCompleted, &cancelRequested, &gateReason,
		&testCmd, &lintCmd,
		&language, &repairMode, &plainMode, &streamMode, &debateMode,
		&t.EvolutionLevel, &evolveUntil,
		&providerModels, &providerParams, &participantModels, &participantPars,
		&claudeTeam, &codexMulti,
		&claudeOverrides, &codexOverrides,
		&fingerprint, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if task.IsValidStatus(task.Status(status)) {
		t.Status = task.Status(status)
	} else {
		t.Status = task.StatusQueued
	}
	t.RepairMode = task.NormalizeRepairMode(repairMode)
	t.ConversationLanguage = task.NormalizeLanguage(language)
	t.SelfLoopMode = clampSelfLoop(t.SelfLoopMode)
	t.MaxRounds = task.ClampMaxRounds(t.MaxRounds)
	t.EvolutionLevel = task.ClampEvolutionLevel(t.EvolutionLevel)

	t.ReviewerParticipants = decodeJSONList(reviewers)
	t.SandboxWorkspacePath = sandboxPath.String
	t.MergeTargetPath = mergeTarget.String
	t.LastGateReason = gateReason.String
	t.TestCommand = testCmd.String
	t.LintCommand = lintCmd.String
	t.EvolveUntil = evolveUntil.String

	t.SandboxMode = sandboxMode != 0
	t.SandboxGenerated = sandboxGen != 0
	t.SandboxCleanupOnPass = sandboxCleanup != 0
	t.AutoMerge = autoMerge != 0
	t.CancelRequested = cancelRequested != 0
	t.PlainMode = plainMode != 0
	t.StreamMode = streamMode != 0
	t.DebateMode = debateMode != 0
	t.ClaudeTeamAgents = claudeTeam != 0
	t.CodexMultiAgents = codexMulti != 0

	t.ProviderModels = decodeJSONMap(providerModels)
	t.ProviderModelParams = decodeJSONMap(providerParams)
	t.ParticipantModels = decodeJSONMap(participantModels)
	t.ParticipantModelParams = decodeJSONMap(participantPars)
	t.ClaudeTeamAgentsOverrides = decodeJSONBoolMap(claudeOverrides)
	t.CodexMultiAgentsOverrides = decodeJSONBoolMap(codexOverrides)

	t.WorkspaceFingerprint = decodeFingerprint(fingerprint)
	t.CreatedAt = decodeTime(createdAt)
	t.UpdatedAt = decodeTime(updatedAt)

	return &t, nil
}

func clampSelfLoop(v int) int {
	if v != 0 {
		return 1
	}
	return 0
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", s); err == nil {
		return t
	}
	return time.Time{}
}

func encodeJSONList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeJSONList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	return list
}

func encodeJSONMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeJSONMap(raw string) map[string]string {
	if strings.TrimSpace(raw) == "" || raw == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func encodeJSONBoolMap(m map[string]bool) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeJSONBoolMap(raw string) map[string]bool {
	if strings.TrimSpace(raw) == "" || raw == "{}" {
		return nil
	}
	var m map[string]bool
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func encodeFingerprint(fp *task.Fingerprint) sql.NullString {
	if fp == nil {
		return sql.NullString{}
	}
	data, err := json.Marshal(fp)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

func decodeFingerprint(raw sql.NullString) *task.Fingerprint {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	var fp task.Fingerprint
	if err := json.Unmarshal([]byte(raw.String), &fp); err != nil {
		return nil
	}
	return &fp
}

func encodePayload(payload map[string]any) string {
	if len(payload) == 0 {
		return "{}"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodePayload(raw string) map[string]any {
	payload := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return payload
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return map[string]any{}
	}
	return payload
}
