// Package fusion merges completed sandbox work back into a target tree.
// It hashes both trees into manifests, copies changed files, removes
// deleted ones, and records a changelog plus a ZIP snapshot of the delta.
package fusion

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hangw/agentcheck/internal/sandbox"
)

// Fusion modes.
const (
	ModeNoChanges = "no_changes"
	ModeInPlace   = "in_place"
	ModeCrossRepo = "cross_repo"
)

// Manifest maps forward-slash relative paths to lowercase SHA-256 hex
// digests.
type Manifest map[string]string

// Result summarizes one fusion run. The shape doubles as the
// auto_merge_summary artifact and the auto_merge_completed event payload.
type Result struct {
	Mode          string   `json:"mode"`
	ChangedFiles  []string `json:"changed_files"`
	CopiedFiles   []string `json:"copied_files"`
	DeletedFiles  []string `json:"deleted_files"`
	SnapshotPath  string   `json:"snapshot_path"`
	ChangelogPath string   `json:"changelog_path"`
	MergedAt      string   `json:"merged_at"`
}

// Manager runs auto-fusion and owns the snapshot directory.
type Manager struct {
	snapshotRoot string
	logger       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager writing snapshots under snapshotRoot.
func NewManager(snapshotRoot string, opts ...Option) *Manager {
	m := &Manager{
		snapshotRoot: snapshotRoot,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HashFile streams path through SHA-256 and returns the lowercase hex
// digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BuildManifest walks root and hashes every non-ignored regular file.
// Hashing runs in parallel, bounded by the CPU count.
func (m *Manager) BuildManifest(root string) (Manifest, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}

	var rels []string
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == abs {
				return fmt.Errorf("read root %s: %w", abs, walkErr)
			}
			return nil
		}
		rel, relErr := filepath.Rel(abs, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if sandbox.IsIgnored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	manifest := make(Manifest, len(rels))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, rel := range rels {
		g.Go(func() error {
			digest, hashErr := HashFile(filepath.Join(abs, filepath.FromSlash(rel)))
			if hashErr != nil {
				return hashErr
			}
			mu.Lock()
			manifest[rel] = digest
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return manifest, nil
}

// Run merges sourceRoot into targetRoot given the manifest captured
// before the task ran. Identical roots with no delta short-circuit to
// no_changes without writing snapshot files.
func (m *Manager) Run(taskID, sourceRoot, targetRoot string, before Manifest) (*Result, error) {
	after, err := m.BuildManifest(sourceRoot)
	if err != nil {
		return nil, err
	}

	var changed []string
	for rel, digest := range after {
		if before[rel] != digest {
			changed = append(changed, rel)
		}
	}
	var deleted []string
	for rel := range before {
		if _, ok := after[rel]; !ok {
			deleted = append(deleted, rel)
		}
	}
	sort.Strings(changed)
	sort.Strings(deleted)

	sourceAbs, err := filepath.Abs(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", sourceRoot, err)
	}
	targetAbs, err := filepath.Abs(targetRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", targetRoot, err)
	}
	samePath := sourceAbs == targetAbs

	if changed == nil {
		changed = []string{}
	}
	if deleted == nil {
		deleted = []string{}
	}
	result := &Result{
		ChangedFiles: changed,
		CopiedFiles:  []string{},
		DeletedFiles: deleted,
		MergedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	if samePath && len(changed) == 0 && len(deleted) == 0 {
		result.Mode = ModeNoChanges
		return result, nil
	}

	if samePath {
		result.Mode = ModeInPlace
	} else {
		result.Mode = ModeCrossRepo
		copied := make([]string, 0, len(changed))
		for _, rel := range changed {
			src := filepath.Join(sourceAbs, filepath.FromSlash(rel))
			dst := filepath.Join(targetAbs, filepath.FromSlash(rel))
			if err := copyTreeFile(src, dst); err != nil {
				return nil, err
			}
			copied = append(copied, rel)
		}
		result.CopiedFiles = copied
		for _, rel := range deleted {
			dst := filepath.Join(targetAbs, filepath.FromSlash(rel))
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("delete %s: %w", dst, err)
			}
		}
	}

	stamp := time.Now().Format("20060102-150405") + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	changelogPath, err := m.writeChangelog(taskID, stamp, changed, deleted)
	if err != nil {
		return nil, err
	}
	snapshotPath, err := m.writeSnapshot(taskID, stamp, sourceAbs, changed, deleted, result.MergedAt)
	if err != nil {
		return nil, err
	}
	result.ChangelogPath = changelogPath
	result.SnapshotPath = snapshotPath

	m.logger.Info("auto-fusion completed",
		"task_id", taskID,
		"mode", result.Mode,
		"changed", len(changed),
		"deleted", len(deleted))
	return result, nil
}

func copyTreeFile(src, dst string) error {
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
	return out.Close()
}

func (m *Manager) writeChangelog(taskID, stamp string, changed, deleted []string) (string, error) {
	if err := os.MkdirAll(m.snapshotRoot, 0755); err != nil {
		return "", fmt.Errorf("create snapshot root: %w", err)
	}
	var b strings.Builder
	b.WriteString("# Auto-Fusion Changelog\n\n")
	b.WriteString("Task: " + taskID + "\n\n")
	b.WriteString("## Changed files\n\n")
	if len(changed) == 0 {
		b.WriteString("(none)\n")
	}
	for _, rel := range changed {
		b.WriteString("- " + rel + "\n")
	}
	b.WriteString("\n## Deleted files\n\n")
	if len(deleted) == 0 {
		b.WriteString("(none)\n")
	}
	for _, rel := range deleted {
		b.WriteString("- " + rel + "\n")
	}
	path := filepath.Join(m.snapshotRoot, fmt.Sprintf("%s-%s-changelog.md", taskID, stamp))
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("write changelog: %w", err)
	}
	return path, nil
}

func (m *Manager) writeSnapshot(taskID, stamp, sourceAbs string, changed, deleted []string, mergedAt string) (string, error) {
	if err := os.MkdirAll(m.snapshotRoot, 0755); err != nil {
		return "", fmt.Errorf("create snapshot root: %w", err)
	}
	path := filepath.Join(m.snapshotRoot, fmt.Sprintf("%s-%s.zip", taskID, stamp))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}

	write := func() error {
		zw := zip.NewWriter(f)

		meta := map[string]any{
			"task_id":       taskID,
			"changed_files": changed,
			"deleted_files": deleted,
			"merged_at":     mergedAt,
		}
		metaBytes, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("encode snapshot meta: %w", err)
		}
		w, err := zw.Create("meta.json")
		if err != nil {
			return fmt.Errorf("write snapshot meta: %w", err)
		}
		if _, err := w.Write(metaBytes); err != nil {
			return fmt.Errorf("write snapshot meta: %w", err)
		}

		for _, rel := range changed {
			src := filepath.Join(sourceAbs, filepath.FromSlash(rel))
			in, openErr := os.Open(src)
			if openErr != nil {
				if os.IsNotExist(openErr) {
					continue
				}
				return fmt.Errorf("open %s: %w", src, openErr)
			}
			w, createErr := zw.Create(rel)
			if createErr != nil {
				in.Close()
				return fmt.Errorf("add %s to snapshot: %w", rel, createErr)
			}
			_, copyErr := io.Copy(w, in)
			in.Close()
			if copyErr != nil {
				return fmt.Errorf("add %s to snapshot: %w", rel, copyErr)
			}
		}
		return zw.Close()
	}

	// On any failure close and remove the partial zip.
	if err := write(); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("finalize snapshot: %w", err)
	}
	return path, nil
}
