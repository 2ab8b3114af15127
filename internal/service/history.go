package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hangw/agentcheck/internal/analysis"
	"github.com/hangw/agentcheck/internal/artifact"
	"github.com/hangw/agentcheck/internal/db"
	awerr "github.com/hangw/agentcheck/internal/errors"
	"github.com/hangw/agentcheck/internal/git"
	"github.com/hangw/agentcheck/internal/hosting"
	"github.com/hangw/agentcheck/internal/task"
)

// HistoryService assembles the operator-facing task history and the
// pull-request summary material derived from event logs.
type HistoryService struct {
	store     db.Store
	artifacts *artifact.Store
	inspector *git.Inspector
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(store db.Store, artifacts *artifact.Store, opts ...HistoryOption) *HistoryService {
	h := &HistoryService{
		store:     store,
		artifacts: artifacts,
		inspector: git.NewInspector(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HistoryOption configures a HistoryService.
type HistoryOption func(*HistoryService)

// WithHistoryGitInspector replaces the git prober, mainly for tests.
func WithHistoryGitInspector(in *git.Inspector) HistoryOption {
	return func(h *HistoryService) {
		h.inspector = in
	}
}

// ListProjectHistory returns analysed items for every known task,
// newest artifact activity first, optionally filtered to one project
// root. Tasks that exist only as on-disk thread directories (repository
// wiped, artifacts kept) are still listed.
func (h *HistoryService) ListProjectHistory(ctx context.Context, projectPath string, limit int) ([]*analysis.HistoryItem, error) {
	seen := map[string]bool{}
	var ordered []string

	if h.artifacts != nil {
		dirs, err := h.artifacts.ListTaskDirs()
		if err != nil {
			return nil, awerr.ErrArtifactIO("list_task_dirs", err)
		}
		for _, id := range dirs {
			if !seen[id] {
				seen[id] = true
				ordered = append(ordered, id)
			}
		}
	}
	rows, err := h.store.ListTasks(ctx, 0)
	if err != nil {
		return nil, awerr.ErrDatabase("list_tasks", err)
	}
	byID := map[string]*task.Task{}
	for _, row := range rows {
		byID[row.TaskID] = row
		if !seen[row.TaskID] {
			seen[row.TaskID] = true
			ordered = append(ordered, row.TaskID)
		}
	}

	wantKey := ""
	if strings.TrimSpace(projectPath) != "" {
		wantKey = analysis.NormalizeProjectPathKey(projectPath)
	}

	var items []*analysis.HistoryItem
	for _, id := range ordered {
		taskDir := ""
		if h.artifacts != nil {
			taskDir = h.artifacts.TaskDir(id)
		}
		item := analysis.BuildProjectHistoryItem(ctx, h.store, id, byID[id], taskDir)
		if item == nil {
			continue
		}
		if wantKey != "" && analysis.NormalizeProjectPathKey(item.ProjectPath) != wantKey {
			continue
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

// BuildPRSummary renders the task summary markdown posted on pull
// requests and saved to summary.md.
func (h *HistoryService) BuildPRSummary(ctx context.Context, taskID string) (string, error) {
	row, err := h.store.GetTask(ctx, taskID)
	if err != nil {
		return "", awerr.ErrDatabase("get_task", err)
	}
	taskDir := ""
	if h.artifacts != nil {
		dir := h.artifacts.TaskDir(taskID)
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			taskDir = dir
		}
	}
	if row == nil && taskDir == "" {
		return "", awerr.ErrTaskNotFound(taskID)
	}
	item := analysis.BuildProjectHistoryItem(ctx, h.store, taskID, row, taskDir)
	if item == nil {
		return "", awerr.ErrTaskNotFound(taskID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### AWE-AgentForge Task Summary | %s\n\n", taskID)
	fmt.Fprintf(&b, "**%s** — `%s`", item.Title, item.Status)
	if item.LastGateReason != "" {
		fmt.Fprintf(&b, " (%s)", item.LastGateReason)
	}
	fmt.Fprintf(&b, ", rounds %d/%d\n", item.RoundsCompleted, item.MaxRounds)

	writeSection := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n#### %s\n", title)
		for _, line := range lines {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	writeSection("Core findings", item.CoreFindings)

	if item.Revisions.AutoMerge {
		fmt.Fprintf(&b, "\n#### Revisions\n")
		fmt.Fprintf(&b, "- mode: %s, changed: %d, deleted: %d\n", item.Revisions.Mode, item.Revisions.ChangedFiles, item.Revisions.DeletedFiles)
		if item.Revisions.SnapshotPath != "" {
			fmt.Fprintf(&b, "- snapshot: `%s`\n", item.Revisions.SnapshotPath)
		}
		if item.Revisions.ChangelogPath != "" {
			fmt.Fprintf(&b, "- changelog: `%s`\n", item.Revisions.ChangelogPath)
		}
	}

	var disputeLines []string
	for _, d := range item.Disputes {
		line := d.Participant
		if d.Verdict != "" {
			line += " — " + d.Verdict
		}
		if d.Note != "" {
			line += ": " + d.Note
		}
		disputeLines = append(disputeLines, line)
	}
	writeSection("Disputes", disputeLines)
	writeSection("Next steps", item.NextSteps)

	if h.artifacts != nil {
		if refs, err := h.artifacts.CollectTaskArtifacts(taskID); err == nil && len(refs) > 0 {
			names := make([]string, 0, len(refs))
			for _, ref := range refs {
				names = append(names, fmt.Sprintf("`%s`", ref.Name))
			}
			sort.Strings(names)
			writeSection("Artifacts", names)
		}
	}

	if row != nil {
		state := h.inspector.ReadState(analysis.TaskProjectPath(row))
		if state.IsGitRepo {
			fmt.Fprintf(&b, "\n#### Git\n")
			fmt.Fprintf(&b, "- branch: %s\n", state.Branch)
			if state.WorktreeClean != nil {
				fmt.Fprintf(&b, "- worktree_clean: %t\n", *state.WorktreeClean)
			}
		}
	}
	return b.String(), nil
}

// PublishPRSummary posts the task summary as a draft pull request on
// the project's hosted remote. The branch defaults to the current one.
func (h *HistoryService) PublishPRSummary(ctx context.Context, taskID string, cfg hosting.Config) (*hosting.PullRequest, error) {
	row, err := h.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, awerr.ErrDatabase("get_task", err)
	}
	if row == nil {
		return nil, awerr.ErrTaskNotFound(taskID)
	}
	summary, err := h.BuildPRSummary(ctx, taskID)
	if err != nil {
		return nil, err
	}

	projectPath := analysis.TaskProjectPath(row)
	state := h.inspector.ReadState(projectPath)
	if !state.IsGitRepo || state.RemoteOrigin == "" {
		return nil, awerr.ErrValidation("project_path", "project has no hosted git remote")
	}

	provider, err := hosting.NewProvider(state.RemoteOrigin, cfg)
	if err != nil {
		return nil, err
	}
	if err := provider.CheckAuth(ctx); err != nil {
		return nil, err
	}

	head := state.Branch
	if head == "" {
		return nil, awerr.ErrValidation("branch", "cannot determine the current branch")
	}
	if existing, err := provider.FindPRByBranch(ctx, head); err == nil && existing != nil {
		return existing, nil
	}
	title := fmt.Sprintf("agentcheck: %s", row.Title)
	return provider.CreatePR(ctx, hosting.CreateOptions{
		Title: title,
		Body:  summary,
		Head:  head,
		Base:  "",
		Draft: true,
	})
}
