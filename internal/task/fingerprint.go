package task

import (
	"path/filepath"
	"runtime"
	"strings"
)

// FingerprintSchema versions the stored fingerprint shape.
const FingerprintSchema = "workspace_fingerprint.v1"

// Fingerprint is a compact summary of the workspace roots recorded at task
// creation. The engine compares it against a freshly computed one on resume
// to detect drift.
type Fingerprint struct {
	Schema               string `json:"schema"`
	ProjectPath          string `json:"project_path"`
	WorkspacePath        string `json:"workspace_path"`
	SandboxWorkspacePath string `json:"sandbox_workspace_path,omitempty"`
	MergeTargetPath      string `json:"merge_target_path,omitempty"`

	ProjectHead     string `json:"project_head,omitempty"`
	WorkspaceHead   string `json:"workspace_head,omitempty"`
	SandboxHead     string `json:"sandbox_head,omitempty"`
	MergeTargetHead string `json:"merge_target_head,omitempty"`
}

// NormalizePath canonicalizes a path for fingerprint comparison: absolute
// where possible, forward slashes, and case-folded on Windows.
func NormalizePath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	p = filepath.ToSlash(filepath.Clean(p))
	if runtime.GOOS == "windows" {
		p = strings.ToLower(p)
	}
	return p
}

// Matches compares two fingerprints by normalized paths and head
// signatures. A nil other never matches.
func (f *Fingerprint) Matches(other *Fingerprint) bool {
	if f == nil || other == nil {
		return false
	}
	return f.ProjectPath == other.ProjectPath &&
		f.WorkspacePath == other.WorkspacePath &&
		f.SandboxWorkspacePath == other.SandboxWorkspacePath &&
		f.MergeTargetPath == other.MergeTargetPath &&
		f.ProjectHead == other.ProjectHead &&
		f.WorkspaceHead == other.WorkspaceHead &&
		f.SandboxHead == other.SandboxHead &&
		f.MergeTargetHead == other.MergeTargetHead
}
