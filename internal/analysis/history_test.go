package analysis

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hangw/agentcheck/internal/db"
	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/task"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestReadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	writeLines(t, path, `{"status": "running", "rounds_completed": 2}`)

	state := ReadJSONFile(path)
	if state["status"] != "running" {
		t.Errorf("status = %v", state["status"])
	}

	if got := ReadJSONFile(filepath.Join(dir, "missing.json")); len(got) != 0 {
		t.Errorf("missing file = %v", got)
	}

	writeLines(t, path, `[1, 2, 3]`)
	if got := ReadJSONFile(path); len(got) != 0 {
		t.Errorf("non-object = %v", got)
	}

	writeLines(t, path, `{"broken`)
	if got := ReadJSONFile(path); len(got) != 0 {
		t.Errorf("invalid json = %v", got)
	}
}

func TestNormalizeHistoryEventsSynthesizesSeqAndPromotesFields(t *testing.T) {
	rows := []map[string]any{
		{"type": "review", "verdict": "blocker", "output": "top-level"},
		{"seq": "bad", "payload": map[string]any{"reason": "tests_failed"}, "type": "gate_failed"},
		{"seq": 10, "type": "discussion", "round": 2.0, "stage": "proposal_revision", "created_at": "2026-08-24T01:00:00Z"},
		{"seq": -4, "type": "review"},
	}

	out := NormalizeHistoryEvents("task-7", rows)
	if len(out) != 4 {
		t.Fatalf("normalized = %d rows", len(out))
	}

	if out[0].Seq != 1 || out[0].TaskID != "task-7" || out[0].Type != events.EventReview {
		t.Errorf("row 0 = %+v", out[0])
	}
	if out[0].Payload["verdict"] != "blocker" || out[0].Payload["output"] != "top-level" {
		t.Errorf("row 0 payload promotion failed: %v", out[0].Payload)
	}

	if out[1].Seq != 2 || out[1].Payload["reason"] != "tests_failed" {
		t.Errorf("row 1 = %+v", out[1])
	}

	if out[2].Seq != 10 {
		t.Errorf("row 2 seq = %d", out[2].Seq)
	}
	if out[2].Round == nil || *out[2].Round != 2 {
		t.Errorf("row 2 round = %v", out[2].Round)
	}
	if out[2].Payload["stage"] != "proposal_revision" {
		t.Errorf("row 2 stage not promoted: %v", out[2].Payload)
	}
	if !out[2].CreatedAt.Equal(time.Date(2026, 8, 24, 1, 0, 0, 0, time.UTC)) {
		t.Errorf("row 2 created_at = %v", out[2].CreatedAt)
	}

	// Negative seq is replaced by the running counter, which advanced
	// past the explicit 10.
	if out[3].Seq != 11 {
		t.Errorf("row 3 seq = %d", out[3].Seq)
	}
}

func TestNormalizeHistoryEventsSortsBySeq(t *testing.T) {
	rows := []map[string]any{
		{"seq": 5, "type": "gate_failed"},
		{"seq": 1, "type": "discussion"},
		{"seq": 3},
	}

	out := NormalizeHistoryEvents("task-1", rows)
	if len(out) != 3 {
		t.Fatalf("normalized = %d rows", len(out))
	}
	if out[0].Seq != 1 || out[1].Seq != 3 || out[2].Seq != 5 {
		t.Errorf("order = %d %d %d", out[0].Seq, out[1].Seq, out[2].Seq)
	}
	if out[1].Type != events.EventHistory {
		t.Errorf("default type = %q", out[1].Type)
	}
}

func TestGuessTaskTimestamps(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "events.jsonl"),
		`not json`,
		`{"seq": 1, "type": "discussion", "created_at": "2026-08-20T09:00:00Z"}`,
		`{"seq": 2, "type": "gate_failed", "created_at": "2026-08-21T10:00:00Z"}`,
	)

	if got := GuessTaskCreatedAt(dir, map[string]any{}); got != "2026-08-20T09:00:00Z" {
		t.Errorf("created_at = %q", got)
	}
	if got := GuessTaskUpdatedAt(dir); got != "2026-08-21T10:00:00Z" {
		t.Errorf("updated_at = %q", got)
	}
}

func TestGuessTaskTimestampsFallbacks(t *testing.T) {
	dir := t.TempDir()

	state := map[string]any{"updated_at": "2026-08-19T08:00:00Z"}
	if got := GuessTaskCreatedAt(dir, state); got != "2026-08-19T08:00:00Z" {
		t.Errorf("created_at fallback = %q", got)
	}
	if got := GuessTaskCreatedAt("", state); got != "" {
		t.Errorf("no dir should yield empty, got %q", got)
	}

	// No events file: updated_at falls back to the directory mtime.
	got := GuessTaskUpdatedAt(dir)
	if _, ok := ParseISODatetime(got); !ok {
		t.Errorf("updated_at fallback not a timestamp: %q", got)
	}
}

func TestLoadHistoryEventsPrefersRepository(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	row := &task.Task{TaskID: "task-db", Title: "t", Status: task.StatusRunning, MaxRounds: 1}
	if err := store.CreateTask(ctx, row); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := store.AppendEvent(ctx, "task-db", events.EventDiscussion, nil, map[string]any{"output": "from store"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "events.jsonl"),
		`{"seq": 1, "type": "discussion", "output": "from file"}`,
	)

	evs := LoadHistoryEvents(ctx, store, "task-db", dir, true)
	if len(evs) != 1 || evs[0].Payload["output"] != "from store" {
		t.Errorf("events = %+v", evs)
	}
}

func TestLoadHistoryEventsFallsBackToFile(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	row := &task.Task{TaskID: "task-empty", Title: "t", Status: task.StatusQueued, MaxRounds: 1}
	if err := store.CreateTask(ctx, row); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "events.jsonl"),
		`{"seq": 1, "type": "discussion", "output": "from file"}`,
	)

	// Row exists but its repository log is empty.
	evs := LoadHistoryEvents(ctx, store, "task-empty", dir, true)
	if len(evs) != 1 || evs[0].Payload["output"] != "from file" {
		t.Errorf("events = %+v", evs)
	}

	// No row at all.
	evs = LoadHistoryEvents(ctx, store, "task-missing", dir, false)
	if len(evs) != 1 || evs[0].Payload["output"] != "from file" {
		t.Errorf("events = %+v", evs)
	}

	if got := LoadHistoryEvents(ctx, store, "task-missing", "", false); got != nil {
		t.Errorf("no sources should yield nil, got %v", got)
	}
}

func TestBuildProjectHistoryItemFromRow(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	row := &task.Task{
		TaskID:          "task-hist",
		Title:           "improve retries",
		Status:          task.StatusFailedGate,
		LastGateReason:  "review_blocker",
		RoundsCompleted: 2,
		MaxRounds:       3,
		WorkspacePath:   "/srv/work",
		ProjectPath:     "/repos/demo",
		CreatedAt:       time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC),
		UpdatedAt:       time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC),
	}
	if err := store.CreateTask(ctx, row); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := store.AppendEvent(ctx, "task-hist", events.EventReview, events.RoundPtr(2), map[string]any{
		"participant": "codex#rev", "verdict": "blocker", "output": "nil deref possible",
	}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if _, err := store.AppendEvent(ctx, "task-hist", events.EventGateFailed, events.RoundPtr(2), map[string]any{
		"reason": "review_blocker",
	}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	item := BuildProjectHistoryItem(ctx, store, "task-hist", row, "")
	if item == nil {
		t.Fatal("expected item")
	}
	if item.Title != "improve retries" || item.Status != "failed_gate" || item.ProjectPath != "/repos/demo" {
		t.Errorf("item = %+v", item)
	}
	if item.CreatedAt != "2026-08-23T10:00:00Z" || item.UpdatedAt != "2026-08-24T11:00:00Z" {
		t.Errorf("timestamps = %q %q", item.CreatedAt, item.UpdatedAt)
	}
	if len(item.Disputes) != 2 {
		t.Errorf("disputes = %+v", item.Disputes)
	}
	if len(item.NextSteps) != 1 || item.NextSteps[0] != "Address blocker/unknown review points, then rerun the task." {
		t.Errorf("next steps = %v", item.NextSteps)
	}
	if len(item.CoreFindings) == 0 || item.CoreFindings[0] != "nil deref possible" {
		t.Errorf("findings = %v", item.CoreFindings)
	}
}

func TestBuildProjectHistoryItemFromArtifactsOnly(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "state.json"),
		`{"status": "passed", "last_gate_reason": "passed", "rounds_completed": 1, "project_path": "/repos/demo"}`,
	)
	writeLines(t, filepath.Join(dir, "events.jsonl"),
		`{"seq": 1, "type": "gate_passed", "reason": "passed", "created_at": "2026-08-22T08:00:00Z"}`,
	)

	item := BuildProjectHistoryItem(ctx, nil, "task-disk", nil, dir)
	if item == nil {
		t.Fatal("expected item")
	}
	if item.Status != "passed" || item.ProjectPath != "/repos/demo" || item.RoundsCompleted != 1 {
		t.Errorf("item = %+v", item)
	}
	if item.Title != "task-disk" {
		t.Errorf("title fallback = %q", item.Title)
	}
	if item.CreatedAt != "2026-08-22T08:00:00Z" {
		t.Errorf("created_at = %q", item.CreatedAt)
	}
	if len(item.NextSteps) != 1 || !strings.Contains(item.NextSteps[0], "Task passed") {
		t.Errorf("next steps = %v", item.NextSteps)
	}

	if got := BuildProjectHistoryItem(ctx, nil, "nothing", nil, ""); got != nil {
		t.Errorf("expected nil item, got %+v", got)
	}
}
