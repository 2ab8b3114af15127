package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangw/agentcheck/internal/artifact"
	"github.com/hangw/agentcheck/internal/db"
	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/task"
)

func TestListProjectHistoryFilters(t *testing.T) {
	store := db.NewMemoryStore()
	artifacts := artifact.NewStore(t.TempDir())
	projectA := t.TempDir()
	projectB := t.TempDir()

	now := time.Now().UTC()
	require.NoError(t, store.CreateTask(context.Background(), &task.Task{
		TaskID: "hist-a", Title: "In project A", Description: "d",
		Status: task.StatusPassed, LastGateReason: "passed",
		AuthorParticipant: "claude#author", ReviewerParticipants: []string{"codex#rev1"},
		ProjectPath: projectA, WorkspacePath: projectA,
		MaxRounds: 1, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.CreateTask(context.Background(), &task.Task{
		TaskID: "hist-b", Title: "In project B", Description: "d",
		Status: task.StatusFailedGate, LastGateReason: "review_blocker",
		AuthorParticipant: "claude#author", ReviewerParticipants: []string{"codex#rev1"},
		ProjectPath: projectB, WorkspacePath: projectB,
		MaxRounds: 1, CreatedAt: now.Add(time.Minute), UpdatedAt: now.Add(time.Minute),
	}))

	h := NewHistoryService(store, artifacts)
	all, err := h.ListProjectHistory(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyA, err := h.ListProjectHistory(context.Background(), projectA, 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, "hist-a", onlyA[0].TaskID)

	limited, err := h.ListProjectHistory(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestBuildPRSummary(t *testing.T) {
	store := db.NewMemoryStore()
	artifacts := artifact.NewStore(t.TempDir())
	project := t.TempDir()
	ctx := context.Background()

	require.NoError(t, store.CreateTask(ctx, &task.Task{
		TaskID: "sum-1", Title: "Tighten input validation", Description: "d",
		Status: task.StatusFailedGate, LastGateReason: "review_blocker",
		AuthorParticipant: "claude#author", ReviewerParticipants: []string{"codex#rev1"},
		ProjectPath: project, WorkspacePath: project,
		MaxRounds: 3, RoundsCompleted: 2,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))
	_, err := artifacts.CreateTaskWorkspace("sum-1")
	require.NoError(t, err)
	_, err = store.AppendEvent(ctx, "sum-1", events.EventReview, events.RoundPtr(2), map[string]any{
		"participant": "codex#rev1",
		"verdict":     "blocker",
		"output":      "The parser accepts unterminated strings.",
	})
	require.NoError(t, err)

	h := NewHistoryService(store, artifacts)
	summary, err := h.BuildPRSummary(ctx, "sum-1")
	require.NoError(t, err)

	assert.Contains(t, summary, "### AWE-AgentForge Task Summary | sum-1")
	assert.Contains(t, summary, "Tighten input validation")
	assert.Contains(t, summary, "failed_gate")
	assert.Contains(t, summary, "review_blocker")
	assert.Contains(t, summary, "rounds 2/3")
	assert.Contains(t, summary, "#### Disputes")
	assert.Contains(t, summary, "codex#rev1")
}

func TestBuildPRSummaryUnknownTask(t *testing.T) {
	h := NewHistoryService(db.NewMemoryStore(), artifact.NewStore(t.TempDir()))
	_, err := h.BuildPRSummary(context.Background(), "ghost")
	require.Error(t, err)
}
