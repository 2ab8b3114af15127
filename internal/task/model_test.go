package task

import (
	"testing"
	"time"
)

func TestNormalizeVerdict(t *testing.T) {
	tests := []struct {
		input string
		want  Verdict
	}{
		{"NO_BLOCKER", VerdictNoBlocker},
		{"no_blocker", VerdictNoBlocker},
		{" Blocker ", VerdictBlocker},
		{"UNKNOWN", VerdictUnknown},
		{"approve", VerdictUnknown},
		{"", VerdictUnknown},
	}

	for _, tt := range tests {
		if got := NormalizeVerdict(tt.input); got != tt.want {
			t.Errorf("NormalizeVerdict(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestVerdictIsAdverse(t *testing.T) {
	if VerdictNoBlocker.IsAdverse() {
		t.Error("no_blocker is not adverse")
	}
	if !VerdictBlocker.IsAdverse() || !VerdictUnknown.IsAdverse() {
		t.Error("blocker and unknown are adverse")
	}
}

func TestNormalizeRepairMode(t *testing.T) {
	tests := []struct {
		input string
		want  RepairMode
	}{
		{"minimal", RepairMinimal},
		{"BALANCED", RepairBalanced},
		{" structural ", RepairStructural},
		{"aggressive", RepairBalanced},
		{"", RepairBalanced},
	}

	for _, tt := range tests {
		if got := NormalizeRepairMode(tt.input); got != tt.want {
			t.Errorf("NormalizeRepairMode(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestCanonicalLanguage(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"en", "en", true},
		{"English", "en", true},
		{"ENG", "en", true},
		{"zh", "zh", true},
		{"zh-CN", "zh", true},
		{"cn", "zh", true},
		{"Chinese", "zh", true},
		{"中文", "zh", true},
		{"", "en", true},
		{"fr", "", false},
		{"klingon", "", false},
	}

	for _, tt := range tests {
		got, ok := CanonicalLanguage(tt.input)
		if ok != tt.wantOK {
			t.Errorf("CanonicalLanguage(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("CanonicalLanguage(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	if NormalizeLanguage("klingon") != "en" {
		t.Error("NormalizeLanguage should clamp unknown values to en")
	}
}

func TestClamps(t *testing.T) {
	if ClampEvolutionLevel(-1) != 0 || ClampEvolutionLevel(9) != 3 || ClampEvolutionLevel(2) != 2 {
		t.Error("ClampEvolutionLevel bounds are 0..3")
	}
	if ClampMaxRounds(0) != 1 || ClampMaxRounds(21) != 20 || ClampMaxRounds(5) != 5 {
		t.Error("ClampMaxRounds bounds are 1..20")
	}
}

func TestTaskClone(t *testing.T) {
	now := time.Now().UTC()
	orig := &Task{
		TaskID:               "ab12cd34ef56",
		Title:                "title",
		Status:               StatusQueued,
		ReviewerParticipants: []string{"codex#review-B"},
		ProviderModels:       map[string]string{"claude": "claude-opus"},
		ClaudeTeamAgentsOverrides: map[string]bool{
			"claude#author-A": true,
		},
		WorkspaceFingerprint: &Fingerprint{Schema: FingerprintSchema, ProjectPath: "/p"},
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	clone := orig.Clone()
	clone.ReviewerParticipants[0] = "gemini#review-C"
	clone.ProviderModels["claude"] = "other"
	clone.ClaudeTeamAgentsOverrides["claude#author-A"] = false
	clone.WorkspaceFingerprint.ProjectPath = "/q"

	if orig.ReviewerParticipants[0] != "codex#review-B" {
		t.Error("reviewer slice should be deep-copied")
	}
	if orig.ProviderModels["claude"] != "claude-opus" {
		t.Error("provider model map should be deep-copied")
	}
	if !orig.ClaudeTeamAgentsOverrides["claude#author-A"] {
		t.Error("override map should be deep-copied")
	}
	if orig.WorkspaceFingerprint.ProjectPath != "/p" {
		t.Error("fingerprint should be deep-copied")
	}
}

func TestFingerprintMatches(t *testing.T) {
	a := &Fingerprint{Schema: FingerprintSchema, ProjectPath: "/p", WorkspacePath: "/w", ProjectHead: "abc", WorkspaceHead: "def"}
	b := &Fingerprint{Schema: FingerprintSchema, ProjectPath: "/p", WorkspacePath: "/w", ProjectHead: "abc", WorkspaceHead: "def"}

	if !a.Matches(b) {
		t.Error("identical fingerprints should match")
	}

	b.WorkspaceHead = "changed"
	if a.Matches(b) {
		t.Error("differing head signatures should not match")
	}
	if a.Matches(nil) {
		t.Error("nil should never match")
	}
}
