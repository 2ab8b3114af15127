package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hangw/agentcheck/internal/task"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestAnalyzeWorkspaceProfileUnknownPaths(t *testing.T) {
	p := AnalyzeWorkspaceProfile("")
	if p.Exists || p.RepoSize != "unknown" || p.RiskLevel != "unknown" {
		t.Errorf("empty path profile = %+v", p)
	}
	p = AnalyzeWorkspaceProfile(filepath.Join(t.TempDir(), "missing"))
	if p.Exists || p.RepoSize != "unknown" {
		t.Errorf("missing path profile = %+v", p)
	}
}

func TestAnalyzeWorkspaceProfileCountsAndMarkers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "x")
	writeFile(t, filepath.Join(root, "b.txt"), "x")
	writeFile(t, filepath.Join(root, "schema.sql"), "create table t (id int);")
	writeFile(t, filepath.Join(root, "deploy", "notes.txt"), "x")
	writeFile(t, filepath.Join(root, ".git", "config"), "ignored")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "index.js"), "ignored")

	p := AnalyzeWorkspaceProfile(root)
	if !p.Exists {
		t.Fatalf("profile = %+v", p)
	}
	if p.FileCount != 4 {
		t.Errorf("file count = %d, want 4 (ignored dirs leaked)", p.FileCount)
	}
	if p.RiskMarkers != 2 {
		t.Errorf("risk markers = %d, want 2", p.RiskMarkers)
	}
	if p.RepoSize != "small" || p.RiskLevel != "low" {
		t.Errorf("buckets = %s/%s", p.RepoSize, p.RiskLevel)
	}
	if p.ScanTruncated {
		t.Error("small repo marked truncated")
	}
}

func TestResolveTier(t *testing.T) {
	if got := ResolveTier(Profile{RiskLevel: "high"}); got != "high" {
		t.Errorf("high profile tier = %q", got)
	}
	for _, level := range []string{"medium", "low", "unknown", ""} {
		if got := ResolveTier(Profile{RiskLevel: level}); got != "low" {
			t.Errorf("level %q tier = %q, want low", level, got)
		}
	}
}

func TestRequiresBrowserEvidence(t *testing.T) {
	if !RequiresBrowserEvidence("Fix dashboard layout", "") {
		t.Error("dashboard title not flagged")
	}
	if !RequiresBrowserEvidence("", "update the settings page flow") {
		t.Error("page description not flagged")
	}
	if RequiresBrowserEvidence("Fix parser bug", "tokenizer mishandles quotes") {
		t.Error("non-UI task flagged")
	}
	if RequiresBrowserEvidence("Improve webbing", "cobwebbing cleanup") {
		t.Error("substring matched without word boundary")
	}
}

func preflightTask(root string) *task.Task {
	return &task.Task{
		TaskID:               "T-1",
		Title:                "Fix parser bug",
		Description:          "quotes mishandled",
		ProjectPath:          root,
		WorkspacePath:        root,
		ReviewerParticipants: []string{"codex#review-B"},
		TestCommand:          "pytest -q",
		LintCommand:          "ruff check .",
	}
}

func TestRunPreflightGatePasses(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main")

	result := RunPreflightGate(preflightTask(root), root, func(string) string { return "" })
	if !result.Passed || result.Reason != "passed" {
		t.Fatalf("result = %+v", result)
	}
	if result.RiskTier != "low" {
		t.Errorf("tier = %q", result.RiskTier)
	}
	if result.ContractSource != "builtin" {
		t.Errorf("contract source = %q", result.ContractSource)
	}
	if len(result.FailedChecks) != 0 {
		t.Errorf("failed checks = %v", result.FailedChecks)
	}
}

func TestRunPreflightGateMissingCommandsAndReviewers(t *testing.T) {
	root := t.TempDir()
	row := preflightTask(root)
	row.TestCommand = ""
	row.LintCommand = "  "
	row.ReviewerParticipants = nil

	result := RunPreflightGate(row, root, func(string) string { return "" })
	if result.Passed || result.Reason != ReasonFailed {
		t.Fatalf("result = %+v", result)
	}
	want := []string{"reviewers_present", "test_command_present", "lint_command_present"}
	if len(result.FailedChecks) != len(want) {
		t.Fatalf("failed checks = %v", result.FailedChecks)
	}
	for i, check := range want {
		if result.FailedChecks[i] != check {
			t.Errorf("failed[%d] = %q, want %q", i, result.FailedChecks[i], check)
		}
	}
}

func TestRunPreflightGateHeadSHARequiredForGitRepos(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	result := RunPreflightGate(preflightTask(root), root, func(string) string { return "" })
	if result.Passed {
		t.Fatalf("git repo without HEAD passed: %+v", result)
	}
	found := false
	for _, check := range result.FailedChecks {
		if check == "head-sha-gate" {
			found = true
		}
	}
	if !found {
		t.Errorf("head-sha-gate not failed: %v", result.FailedChecks)
	}

	result = RunPreflightGate(preflightTask(root), root, func(string) string {
		return "0123456789abcdef0123456789abcdef01234567"
	})
	if !result.Passed {
		t.Errorf("git repo with HEAD failed: %+v", result)
	}
	if result.HeadSHA == "" {
		t.Error("head sha not recorded")
	}
}

func TestRunPreflightGateBrowserEvidenceCheck(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ops", "risk_policy_contract.json"),
		`{"version": "3", "mergePolicy": {"low": {"requiredChecks": ["browser evidence"]}}}`)

	row := preflightTask(root)
	row.Title = "Polish dashboard widgets"

	result := RunPreflightGate(row, root, func(string) string { return "" })
	if result.Passed {
		t.Fatalf("UI task without browser tests passed: %+v", result)
	}
	if result.FailedChecks[0] != "browser evidence" {
		t.Errorf("failed checks = %v", result.FailedChecks)
	}
	if result.ContractVersion != "3" {
		t.Errorf("contract version = %q", result.ContractVersion)
	}

	row.TestCommand = "npx playwright test"
	result = RunPreflightGate(row, root, func(string) string { return "" })
	if !result.Passed {
		t.Errorf("playwright-backed UI task failed: %+v", result)
	}
}
