package sandbox

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultPath generates a fresh sandbox workspace path for a project:
// <base>/<project>-lab/<timestamp>-<6 hex>. The base comes from
// AWE_SANDBOX_BASE, or the shared system base when
// AWE_SANDBOX_USE_PUBLIC_BASE is truthy, or ~/.awe-agentcheck/sandboxes.
func DefaultPath(projectRoot string) string {
	return DefaultPathWithEnv(os.Getenv, projectRoot)
}

// DefaultPathWithEnv is DefaultPath with an injectable environment.
func DefaultPathWithEnv(getenv func(string) string, projectRoot string) string {
	base := resolveBase(getenv)
	project := filepath.Base(filepath.Clean(projectRoot))
	stamp := time.Now().Format("20060102-150405")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return filepath.Join(base, project+"-lab", stamp+"-"+suffix)
}

func resolveBase(getenv func(string) string) string {
	if configured := strings.TrimSpace(getenv("AWE_SANDBOX_BASE")); configured != "" {
		if abs, err := filepath.Abs(configured); err == nil {
			return abs
		}
		return configured
	}
	optIn := strings.ToLower(strings.TrimSpace(getenv("AWE_SANDBOX_USE_PUBLIC_BASE")))
	switch optIn {
	case "1", "true", "yes", "on":
		if runtime.GOOS == "windows" {
			public := strings.TrimSpace(getenv("PUBLIC"))
			if public == "" {
				public = "C:/Users/Public"
			}
			return filepath.Join(public, "awe-agentcheck-sandboxes")
		}
		return "/tmp/awe-agentcheck-sandboxes"
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "awe-agentcheck-sandboxes")
	}
	return filepath.Join(home, ".awe-agentcheck", "sandboxes")
}

// Bootstrap copies the project tree into sandboxRoot, applying the shared
// ignore rules. A sandbox that already has entries is left untouched so
// resumed tasks keep their working state.
func Bootstrap(projectRoot, sandboxRoot string) error {
	if err := os.MkdirAll(sandboxRoot, 0755); err != nil {
		return fmt.Errorf("create sandbox root %s: %w", sandboxRoot, err)
	}
	entries, err := os.ReadDir(sandboxRoot)
	if err == nil && len(entries) > 0 {
		return nil
	}

	root, err := filepath.Abs(projectRoot)
	if err != nil {
		root = projectRoot
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return fmt.Errorf("read project root %s: %w", root, walkErr)
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if IsIgnored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, filepath.Join(sandboxRoot, filepath.FromSlash(rel)))
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create dir for %s: %w", dst, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	// Best effort: keep source modification times like a cp -p.
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return nil
}

// CleanupGenerated removes a generated sandbox after a create failure or
// a cleanup-on-pass. Operator-supplied sandboxes and anything resolving
// to the project root itself are never touched.
func CleanupGenerated(projectRoot, sandboxRoot string) {
	if strings.TrimSpace(sandboxRoot) == "" {
		return
	}
	projectResolved, err := filepath.Abs(projectRoot)
	if err != nil {
		return
	}
	sandboxResolved, err := filepath.Abs(sandboxRoot)
	if err != nil {
		return
	}
	if sandboxResolved == projectResolved {
		return
	}
	if _, err := os.Stat(sandboxResolved); err != nil {
		return
	}
	if err := os.RemoveAll(sandboxResolved); err == nil {
		return
	}
	// Read-only entries (common on Windows checkouts) get a chmod retry.
	_ = filepath.WalkDir(sandboxResolved, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			_ = os.Chmod(p, 0755)
		} else {
			_ = os.Chmod(p, 0644)
		}
		return nil
	})
	_ = os.RemoveAll(sandboxResolved)
}
