// Package risk profiles repositories and runs the preflight risk gate
// that decides whether a task may enter the debate loop at all.
package risk

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxScanFiles bounds the profile walk on very large repositories.
const maxScanFiles = 5000

// profileIgnoreDirs are path segments excluded from the profile scan.
var profileIgnoreDirs = map[string]bool{
	".git":          true,
	".agents":       true,
	".venv":         true,
	"__pycache__":   true,
	".pytest_cache": true,
	".ruff_cache":   true,
	"node_modules":  true,
}

// riskTokens mark paths touching deployment, data, or security surfaces.
var riskTokens = []string{
	"prod", "deploy", "k8s", "terraform", "helm", "security",
	"auth", "payment", "migrations", "migration", "database", "db",
}

var riskExtensions = map[string]bool{
	".sql": true, ".tf": true, ".yaml": true, ".yml": true,
}

var riskStems = map[string]bool{
	"prod": true, "deploy": true, "migration": true, "schema": true, "security": true,
}

// Profile summarizes a repository for tier classification.
type Profile struct {
	WorkspacePath string `json:"workspace_path"`
	Exists        bool   `json:"exists"`
	RepoSize      string `json:"repo_size"`
	RiskLevel     string `json:"risk_level"`
	FileCount     int    `json:"file_count"`
	RiskMarkers   int    `json:"risk_markers"`
	ScanTruncated bool   `json:"scan_truncated,omitempty"`
}

// AnalyzeWorkspaceProfile walks workspacePath counting files and risk
// markers, then buckets the repository by size and risk level. Missing or
// empty paths yield an unknown profile rather than an error.
func AnalyzeWorkspaceProfile(workspacePath string) Profile {
	resolved := strings.TrimSpace(workspacePath)
	if resolved == "" {
		return Profile{RepoSize: "unknown", RiskLevel: "unknown"}
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return Profile{WorkspacePath: resolved, RepoSize: "unknown", RiskLevel: "unknown"}
	}

	abs, err := filepath.Abs(resolved)
	if err != nil {
		abs = resolved
	}

	fileCount := 0
	riskMarkers := 0
	_ = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if fileCount >= maxScanFiles {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if path != abs && profileIgnoreDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(abs, path)
		if relErr != nil {
			return nil
		}
		fileCount++

		relText := strings.ToLower(filepath.ToSlash(rel))
		base := d.Name()
		ext := strings.ToLower(filepath.Ext(base))
		stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
		for _, token := range riskTokens {
			if strings.Contains(relText, token) {
				riskMarkers++
				return nil
			}
		}
		if riskExtensions[ext] && riskStems[stem] {
			riskMarkers++
		}
		return nil
	})

	repoSize := "large"
	switch {
	case fileCount <= 120:
		repoSize = "small"
	case fileCount <= 1200:
		repoSize = "medium"
	}

	riskLevel := "low"
	switch {
	case riskMarkers >= 20 || (repoSize == "large" && riskMarkers >= 8):
		riskLevel = "high"
	case riskMarkers >= 6 || repoSize == "large":
		riskLevel = "medium"
	}

	return Profile{
		WorkspacePath: abs,
		Exists:        true,
		RepoSize:      repoSize,
		RiskLevel:     riskLevel,
		FileCount:     fileCount,
		RiskMarkers:   riskMarkers,
		ScanTruncated: fileCount >= maxScanFiles,
	}
}

// ResolveTier maps a profile risk level to a contract tier. Only a high
// risk level escalates; everything else stays low.
func ResolveTier(profile Profile) string {
	if strings.ToLower(strings.TrimSpace(profile.RiskLevel)) == "high" {
		return "high"
	}
	return "low"
}
