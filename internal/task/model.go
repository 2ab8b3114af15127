package task

import (
	"strings"
	"time"
)

// Bounds on policy fields. Out-of-range values are clamped at decode time
// and rejected at the service boundary.
const (
	MinRounds         = 1
	MaxRounds         = 20
	MaxEvolutionLevel = 3
)

// RepairMode controls how aggressively the author may restructure code.
type RepairMode string

const (
	RepairMinimal    RepairMode = "minimal"
	RepairBalanced   RepairMode = "balanced"
	RepairStructural RepairMode = "structural"
)

// IsValidRepairMode returns true if the mode is a valid value.
func IsValidRepairMode(m RepairMode) bool {
	switch m {
	case RepairMinimal, RepairBalanced, RepairStructural:
		return true
	default:
		return false
	}
}

// NormalizeRepairMode lowercases a repair mode and clamps unknown values
// to balanced.
func NormalizeRepairMode(raw string) RepairMode {
	m := RepairMode(strings.ToLower(strings.TrimSpace(raw)))
	if IsValidRepairMode(m) {
		return m
	}
	return RepairBalanced
}

// languageAliases maps accepted conversation language spellings to their
// canonical code.
var languageAliases = map[string]string{
	"en":      "en",
	"english": "en",
	"eng":     "en",
	"zh":      "zh",
	"zh-cn":   "zh",
	"cn":      "zh",
	"chinese": "zh",
	"中文":      "zh",
}

// CanonicalLanguage resolves a conversation language alias to en or zh.
// Unknown values return ok=false.
func CanonicalLanguage(raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "en", true
	}
	lang, ok := languageAliases[key]
	return lang, ok
}

// NormalizeLanguage resolves aliases and clamps unknown values to en.
func NormalizeLanguage(raw string) string {
	if lang, ok := CanonicalLanguage(raw); ok {
		return lang
	}
	return "en"
}

// ClampEvolutionLevel bounds the evolution level to 0..3.
func ClampEvolutionLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > MaxEvolutionLevel {
		return MaxEvolutionLevel
	}
	return level
}

// ClampMaxRounds bounds max_rounds to 1..20.
func ClampMaxRounds(rounds int) int {
	if rounds < MinRounds {
		return MinRounds
	}
	if rounds > MaxRounds {
		return MaxRounds
	}
	return rounds
}

// Task is the repository row for one orchestrated debate task.
type Task struct {
	TaskID      string `json:"task_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`

	AuthorParticipant    string   `json:"author_participant"`
	ReviewerParticipants []string `json:"reviewer_participants"`

	WorkspacePath        string `json:"workspace_path"`
	ProjectPath          string `json:"project_path"`
	SandboxWorkspacePath string `json:"sandbox_workspace_path,omitempty"`
	SandboxMode          bool   `json:"sandbox_mode"`
	SandboxGenerated     bool   `json:"sandbox_generated"`
	SandboxCleanupOnPass bool   `json:"sandbox_cleanup_on_pass"`
	MergeTargetPath      string `json:"merge_target_path,omitempty"`
	AutoMerge            bool   `json:"auto_merge"`

	SelfLoopMode    int    `json:"self_loop_mode"`
	MaxRounds       int    `json:"max_rounds"`
	RoundsCompleted int    `json:"rounds_completed"`
	CancelRequested bool   `json:"cancel_requested"`
	LastGateReason  string `json:"last_gate_reason,omitempty"`

	TestCommand string `json:"test_command,omitempty"`
	LintCommand string `json:"lint_command,omitempty"`

	ConversationLanguage string     `json:"conversation_language"`
	RepairMode           RepairMode `json:"repair_mode"`
	PlainMode            bool       `json:"plain_mode"`
	StreamMode           bool       `json:"stream_mode"`
	DebateMode           bool       `json:"debate_mode"`
	EvolutionLevel       int        `json:"evolution_level"`
	EvolveUntil          string     `json:"evolve_until,omitempty"`

	ProviderModels            map[string]string `json:"provider_models,omitempty"`
	ProviderModelParams       map[string]string `json:"provider_model_params,omitempty"`
	ParticipantModels         map[string]string `json:"participant_models,omitempty"`
	ParticipantModelParams    map[string]string `json:"participant_model_params,omitempty"`
	ClaudeTeamAgents          bool              `json:"claude_team_agents"`
	CodexMultiAgents          bool              `json:"codex_multi_agents"`
	ClaudeTeamAgentsOverrides map[string]bool   `json:"claude_team_agents_overrides,omitempty"`
	CodexMultiAgentsOverrides map[string]bool   `json:"codex_multi_agents_overrides,omitempty"`

	WorkspaceFingerprint *Fingerprint `json:"workspace_fingerprint,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate rows without aliasing
// repository state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.ReviewerParticipants = append([]string(nil), t.ReviewerParticipants...)
	out.ProviderModels = cloneStringMap(t.ProviderModels)
	out.ProviderModelParams = cloneStringMap(t.ProviderModelParams)
	out.ParticipantModels = cloneStringMap(t.ParticipantModels)
	out.ParticipantModelParams = cloneStringMap(t.ParticipantModelParams)
	out.ClaudeTeamAgentsOverrides = cloneBoolMap(t.ClaudeTeamAgentsOverrides)
	out.CodexMultiAgentsOverrides = cloneBoolMap(t.CodexMultiAgentsOverrides)
	if t.WorkspaceFingerprint != nil {
		fp := *t.WorkspaceFingerprint
		out.WorkspaceFingerprint = &fp
	}
	return &out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneBoolMap(in map[string]bool) map[string]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
