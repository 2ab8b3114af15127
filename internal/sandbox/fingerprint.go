package sandbox

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/hangw/agentcheck/internal/task"
)

// headSignatureMaxEntries caps how much of a directory listing feeds the
// signature hash.
const headSignatureMaxEntries = 128

// HeadSignature hashes the sorted top-level listing of root into a short
// stable token. Missing, unreadable, and empty roots get sentinel values
// so fingerprints stay comparable.
func HeadSignature(root string) string {
	text := strings.TrimSpace(root)
	if text == "" {
		return "missing"
	}
	info, err := os.Stat(text)
	if err != nil || !info.IsDir() {
		return "missing"
	}
	entries, err := os.ReadDir(text)
	if err != nil {
		return "unreadable"
	}

	// Directories sort ahead of files, then case-insensitive by name.
	sort.SliceStable(entries, func(i, j int) bool {
		di, dj := entries[i].IsDir(), entries[j].IsDir()
		if di != dj {
			return di
		}
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	var parts []string
	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name())
		if name == "" || IsIgnored(name) {
			continue
		}
		kind := "f"
		if entry.IsDir() {
			kind = "d"
		}
		label := name
		if runtime.GOOS == "windows" {
			label = strings.ToLower(name)
		}
		parts = append(parts, kind+":"+label)
		if len(parts) >= headSignatureMaxEntries {
			break
		}
	}
	if len(parts) == 0 {
		return "empty"
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])[:20]
}

// BuildFingerprint records the normalized workspace roots and their head
// signatures at creation time.
func BuildFingerprint(projectPath, workspacePath, sandboxPath, mergeTargetPath string) *task.Fingerprint {
	fp := &task.Fingerprint{
		Schema:               task.FingerprintSchema,
		ProjectPath:          task.NormalizePath(projectPath),
		WorkspacePath:        task.NormalizePath(workspacePath),
		SandboxWorkspacePath: task.NormalizePath(sandboxPath),
		MergeTargetPath:      task.NormalizePath(mergeTargetPath),
		ProjectHead:          HeadSignature(projectPath),
		WorkspaceHead:        HeadSignature(workspacePath),
	}
	if strings.TrimSpace(sandboxPath) != "" {
		fp.SandboxHead = HeadSignature(sandboxPath)
	}
	if strings.TrimSpace(mergeTargetPath) != "" {
		fp.MergeTargetHead = HeadSignature(mergeTargetPath)
	}
	return fp
}
