// Package git inspects repository state for workspace fingerprints and
// evaluates the promotion guard protecting cross-repo merge targets.
package git

import (
	"os"
	"regexp"
	"strings"
)

// Guard reasons reported by ReadState and EvaluatePromotionGuard.
const (
	ReasonNoTarget    = "no_target"
	ReasonMissingPath = "missing_path"
	ReasonNonGitRepo  = "non_git_repo"
	ReasonUnvalidated = "unvalidated"
	ReasonDisabled    = "guard_disabled"
	ReasonDirty       = "dirty_worktree"
	ReasonOK          = "ok"
)

// reasonBranchPrefix marks denials for checkouts on a branch outside the
// allow list. The offending branch name is appended.
const reasonBranchPrefix = "branch_not_allowed:"

var headSHAPattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// State captures the observable git state of a merge target checkout.
// WorktreeClean is nil when the status probe failed.
type State struct {
	TargetPath    string `json:"target_path"`
	IsGitRepo     bool   `json:"is_git_repo"`
	Branch        string `json:"branch,omitempty"`
	WorktreeClean *bool  `json:"worktree_clean"`
	RemoteOrigin  string `json:"remote_origin,omitempty"`
	GuardAllowed  bool   `json:"guard_allowed"`
	GuardReason   string `json:"guard_reason"`
}

// Inspector reads git state without mutating the repository.
type Inspector struct {
	runner Runner
}

// InspectorOption configures an Inspector.
type InspectorOption func(*Inspector)

// WithRunner replaces the git command runner, mainly for tests.
func WithRunner(r Runner) InspectorOption {
	return func(in *Inspector) { in.runner = r }
}

// NewInspector creates an Inspector backed by the git CLI.
func NewInspector(opts ...InspectorOption) *Inspector {
	in := &Inspector{runner: NewCLIRunner()}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// HeadSHA returns the lowercase commit SHA at HEAD, or "" when the root
// is empty, missing, or does not resolve to a 40-hex commit.
func (in *Inspector) HeadSHA(repoRoot string) string {
	if strings.TrimSpace(repoRoot) == "" {
		return ""
	}
	if _, err := os.Stat(repoRoot); err != nil {
		return ""
	}
	ok, out := in.runner.Run(repoRoot, "rev-parse", "HEAD")
	if !ok || !headSHAPattern.MatchString(out) {
		return ""
	}
	return strings.ToLower(out)
}

// ReadState probes targetPath with read-only git commands. Probe
// failures degrade to unknowns instead of errors so the state can always
// be attached to events and guard payloads.
func (in *Inspector) ReadState(targetPath string) State {
	st := State{TargetPath: targetPath, GuardAllowed: true}
	if strings.TrimSpace(targetPath) == "" {
		st.GuardReason = ReasonNoTarget
		return st
	}
	if _, err := os.Stat(targetPath); err != nil {
		st.GuardReason = ReasonMissingPath
		return st
	}
	if ok, out := in.runner.Run(targetPath, "rev-parse", "--is-inside-work-tree"); !ok || out != "true" {
		st.GuardReason = ReasonNonGitRepo
		return st
	}
	st.IsGitRepo = true
	if ok, out := in.runner.Run(targetPath, "branch", "--show-current"); ok && out != "" {
		st.Branch = out
	}
	if ok, out := in.runner.Run(targetPath, "status", "--porcelain"); ok {
		clean := out == ""
		st.WorktreeClean = &clean
	}
	if ok, out := in.runner.Run(targetPath, "remote", "get-url", "origin"); ok && out != "" {
		st.RemoteOrigin = out
	}
	st.GuardReason = ReasonUnvalidated
	return st
}
