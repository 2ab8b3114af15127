package analysis

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hangw/agentcheck/internal/db"
	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/task"
)

// promotedPayloadKeys are fields legacy or imported event rows carry at
// the top level instead of inside payload.
var promotedPayloadKeys = []string{
	"output", "reason", "verdict", "participant", "provider", "stage",
	"mode", "changed_files", "copied_files", "deleted_files",
	"snapshot_path", "changelog_path", "merged_at",
}

// ReadJSONFile loads a JSON object, returning an empty map for missing,
// unreadable, or non-object content.
func ReadJSONFile(path string) map[string]any {
	if path == "" {
		return map[string]any{}
	}
	data, err := os.ReadFile(path)
	if err != nil || !gjson.ValidBytes(data) {
		return map[string]any{}
	}
	if value, ok := gjson.ParseBytes(data).Value().(map[string]any); ok {
		return value
	}
	return map[string]any{}
}

// readRawEventLines parses a JSONL file into loose maps, skipping blank
// and malformed lines.
func readRawEventLines(path string) []map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var rows []map[string]any
	for _, line := range strings.Split(string(data), "\n") {
		text := strings.TrimSpace(line)
		if text == "" || !gjson.Valid(text) {
			continue
		}
		if row, ok := gjson.Parse(text).Value().(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// NormalizeHistoryEvents turns loose event rows into the canonical shape:
// a positive monotonic seq (synthesized where missing or invalid), payload
// with top-level fields lifted in, a typed round, and a default type of
// history_event. Rows come back sorted by seq.
func NormalizeHistoryEvents(taskID string, rows []map[string]any) []events.Event {
	var normalized []events.Event
	nextSeq := int64(1)
	for _, raw := range rows {
		if raw == nil {
			continue
		}

		seq := nextSeq
		if v, ok := intValue(raw["seq"]); ok && v >= 1 {
			seq = int64(v)
		}

		payload := map[string]any{}
		if p, ok := raw["payload"].(map[string]any); ok {
			for k, v := range p {
				payload[k] = v
			}
		}
		for _, key := range promotedPayloadKeys {
			if _, ok := payload[key]; ok {
				continue
			}
			if v, ok := raw[key]; ok {
				payload[key] = v
			}
		}

		var round *int
		if v, ok := intValue(raw["round"]); ok {
			round = &v
		}

		createdAt := time.Now().UTC()
		if t, ok := ParseISODatetime(stringValue(raw["created_at"])); ok {
			createdAt = t
		}

		eventType := strings.TrimSpace(stringValue(raw["type"]))
		if eventType == "" {
			eventType = string(events.EventHistory)
		}
		id := strings.TrimSpace(stringValue(raw["task_id"]))
		if id == "" {
			id = taskID
		}

		normalized = append(normalized, events.Event{
			TaskID:    id,
			Seq:       seq,
			Type:      events.EventType(eventType),
			Round:     round,
			Payload:   payload,
			CreatedAt: createdAt,
		})
		nextSeq = max(nextSeq+1, seq+1)
	}
	sort.SliceStable(normalized, func(i, j int) bool { return normalized[i].Seq < normalized[j].Seq })
	return normalized
}

// GuessTaskCreatedAt recovers a creation timestamp for tasks that only
// exist on disk: the first event line's created_at, then the state
// snapshot's updated_at.
func GuessTaskCreatedAt(taskDir string, state map[string]any) string {
	if taskDir == "" {
		return ""
	}
	for _, row := range readRawEventLines(filepath.Join(taskDir, "events.jsonl")) {
		if created := strings.TrimSpace(stringValue(row["created_at"])); created != "" {
			return created
		}
	}
	return strings.TrimSpace(stringValue(state["updated_at"]))
}

// GuessTaskUpdatedAt recovers a last-activity timestamp: the final event
// line's created_at, then the directory mtime.
func GuessTaskUpdatedAt(taskDir string) string {
	if taskDir == "" {
		return ""
	}
	rows := readRawEventLines(filepath.Join(taskDir, "events.jsonl"))
	for i := len(rows) - 1; i >= 0; i-- {
		if created := strings.TrimSpace(stringValue(rows[i]["created_at"])); created != "" {
			return created
		}
	}
	if info, err := os.Stat(taskDir); err == nil {
		return info.ModTime().UTC().Format(time.RFC3339)
	}
	return ""
}

// LoadHistoryEvents returns a task's events, preferring the repository
// when a row exists and degrading to events.jsonl. Repository errors and
// empty repository logs both fall through to the artifact file.
func LoadHistoryEvents(ctx context.Context, store db.Store, taskID, taskDir string, hasRow bool) []events.Event {
	if hasRow && store != nil {
		if rows, err := store.ListEvents(ctx, taskID, 0, 0); err == nil && len(rows) > 0 {
			out := make([]events.Event, 0, len(rows))
			for _, row := range rows {
				if row != nil {
					out = append(out, *row)
				}
			}
			return out
		}
	}
	if taskDir == "" {
		return nil
	}
	return NormalizeHistoryEvents(taskID, readRawEventLines(filepath.Join(taskDir, "events.jsonl")))
}

// TaskProjectPath returns the project a task worked against, preferring
// the recorded project root over the execution workspace.
func TaskProjectPath(row *task.Task) string {
	if strings.TrimSpace(row.ProjectPath) != "" {
		return row.ProjectPath
	}
	return row.WorkspacePath
}

// HistoryItem is one analysed task in a project history listing.
type HistoryItem struct {
	TaskID          string    `json:"task_id"`
	Title           string    `json:"title"`
	Status          string    `json:"status"`
	LastGateReason  string    `json:"last_gate_reason,omitempty"`
	RoundsCompleted int       `json:"rounds_completed"`
	MaxRounds       int       `json:"max_rounds"`
	ProjectPath     string    `json:"project_path,omitempty"`
	CreatedAt       string    `json:"created_at,omitempty"`
	UpdatedAt       string    `json:"updated_at,omitempty"`
	CoreFindings    []string  `json:"core_findings"`
	Revisions       Revisions `json:"revisions"`
	Disputes        []Dispute `json:"disputes"`
	NextSteps       []string  `json:"next_steps"`
}

// BuildProjectHistoryItem analyses one task from its repository row, its
// artifact directory, or both. Returns nil when neither exists.
func BuildProjectHistoryItem(ctx context.Context, store db.Store, taskID string, row *task.Task, taskDir string) *HistoryItem {
	if row == nil && taskDir == "" {
		return nil
	}
	evs := LoadHistoryEvents(ctx, store, taskID, taskDir, row != nil)

	item := &HistoryItem{TaskID: taskID, Title: taskID}
	if row != nil {
		if strings.TrimSpace(row.Title) != "" {
			item.Title = row.Title
		}
		item.Status = string(row.Status)
		item.LastGateReason = row.LastGateReason
		item.RoundsCompleted = row.RoundsCompleted
		item.MaxRounds = row.MaxRounds
		item.ProjectPath = TaskProjectPath(row)
		if !row.CreatedAt.IsZero() {
			item.CreatedAt = row.CreatedAt.UTC().Format(time.RFC3339)
		}
		if !row.UpdatedAt.IsZero() {
			item.UpdatedAt = row.UpdatedAt.UTC().Format(time.RFC3339)
		}
	} else {
		state := ReadJSONFile(filepath.Join(taskDir, "state.json"))
		item.Status = strings.TrimSpace(stringValue(state["status"]))
		if item.Status == "" {
			item.Status = "unknown"
		}
		item.LastGateReason = strings.TrimSpace(stringValue(state["last_gate_reason"]))
		item.RoundsCompleted = CoerceRevisionCount(state["rounds_completed"])
		item.MaxRounds = CoerceRevisionCount(state["max_rounds"])
		item.ProjectPath = strings.TrimSpace(stringValue(state["project_path"]))
		item.CreatedAt = GuessTaskCreatedAt(taskDir, state)
		item.UpdatedAt = GuessTaskUpdatedAt(taskDir)
	}

	item.CoreFindings = ExtractCoreFindings(taskDir, evs, item.LastGateReason)
	item.Revisions = ExtractRevisions(taskDir, evs)
	item.Disputes = ExtractDisputes(evs)
	item.NextSteps = DeriveNextSteps(item.Status, item.LastGateReason, item.Disputes)
	return item
}
