// Package sandbox manages isolated task workspaces: generated sandbox
// paths, the shared copy ignore rules, project bootstrap copies,
// workspace fingerprints, and generated-sandbox cleanup.
package sandbox

import (
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ignoredHeads are first path segments never copied into a sandbox.
var ignoredHeads = map[string]bool{
	".git":          true,
	".agents":       true,
	".claude":       true,
	".venv":         true,
	"__pycache__":   true,
	".pytest_cache": true,
	".ruff_cache":   true,
	"node_modules":  true,
	".mypy_cache":   true,
	".idea":         true,
	".vscode":       true,
}

// compiledLeafPatterns match raw leaves; loweredLeafPatterns match
// case-folded ones.
var (
	compiledLeafPatterns = []string{"*.pyc", "*.pyo"}
	loweredLeafPatterns  = []string{".env", ".env.*", "*.pem", "*.key"}
)

// secretNameRe matches credential-looking file names regardless of
// extension placement.
var secretNameRe = regexp.MustCompile(`(^|[._-])(token|tokens|secret|secrets|apikey|api-key|access-key)([._-]|$)`)

var reservedDeviceRe = regexp.MustCompile(`^(com|lpt)[1-9]$`)

// IsIgnored reports whether a project-relative path is excluded from
// sandbox copies and fingerprint listings.
func IsIgnored(relPath string) bool {
	normalized := strings.TrimSpace(strings.ReplaceAll(relPath, "\\", "/"))
	for strings.HasPrefix(normalized, "./") {
		normalized = normalized[2:]
	}
	for strings.HasPrefix(normalized, "/") {
		normalized = normalized[1:]
	}
	if normalized == "" {
		return false
	}

	head := normalized
	if idx := strings.Index(normalized, "/"); idx >= 0 {
		head = normalized[:idx]
	}
	if ignoredHeads[head] {
		return true
	}

	leaf := path.Base(normalized)
	for _, pattern := range compiledLeafPatterns {
		if doublestar.MatchUnvalidated(pattern, leaf) {
			return true
		}
	}
	// Reserved device names are rejected on every platform so sandboxes
	// stay portable to Windows checkouts.
	if isWindowsReservedDeviceName(leaf) {
		return true
	}
	leaf = strings.ToLower(leaf)
	for _, pattern := range loweredLeafPatterns {
		if doublestar.MatchUnvalidated(pattern, leaf) {
			return true
		}
	}
	return secretNameRe.MatchString(leaf)
}

func isWindowsReservedDeviceName(filename string) bool {
	normalized := strings.ToLower(strings.TrimRight(strings.TrimSpace(filename), " ."))
	if normalized == "" {
		return false
	}
	if idx := strings.Index(normalized, ":"); idx >= 0 {
		normalized = normalized[:idx]
	}
	stem := normalized
	if idx := strings.Index(normalized, "."); idx >= 0 {
		stem = normalized[:idx]
	}
	switch stem {
	case "con", "prn", "aux", "nul":
		return true
	}
	return reservedDeviceRe.MatchString(stem)
}
