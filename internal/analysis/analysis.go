// Package analysis derives human-readable task history from event logs:
// core findings, auto-merge revisions, review disputes, and suggested next
// steps. It prefers repository rows and falls back to the on-disk artifact
// workspace, so partially imported or legacy tasks still analyse cleanly.
package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/task"
)

// SnippetChars bounds one-line snippets shown in findings and disputes.
const SnippetChars = 220

// ClipSnippet collapses text to a single trimmed line of at most
// SnippetChars characters, appending "..." when truncated.
func ClipSnippet(value string) string {
	return clipSnippetN(value, SnippetChars)
}

func clipSnippetN(value string, maxChars int) string {
	text := strings.TrimSpace(value)
	if text == "" {
		return ""
	}
	oneLine := strings.NewReplacer("\r", " ", "\n", " ").Replace(text)
	runes := []rune(oneLine)
	if len(runes) <= maxChars {
		return oneLine
	}
	head := strings.TrimRightFunc(string(runes[:maxChars]), unicode.IsSpace)
	return head + "..."
}

// ReadMarkdownHighlights returns up to five non-heading lines from a
// markdown file, each clipped to snippet length. Missing or unreadable
// files yield nil.
func ReadMarkdownHighlights(path string) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var lines []string
	for _, raw := range strings.Split(string(data), "\n") {
		text := strings.TrimSpace(raw)
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if clipped := ClipSnippet(text); clipped != "" {
			lines = append(lines, clipped)
		}
		if len(lines) >= 5 {
			break
		}
	}
	return lines
}

// stringValue renders a payload field as text. Absent fields are empty.
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// intValue coerces numeric payload fields, which arrive as int when built
// in process and float64 when decoded from JSON.
func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// CoerceRevisionCount turns loosely shaped count fields into a
// non-negative int: collections count their length, bools count as 0/1,
// numeric strings are parsed, everything else is zero.
func CoerceRevisionCount(value any) int {
	switch t := value.(type) {
	case nil:
		return 0
	case bool:
		if t {
			return 1
		}
		return 0
	case int:
		return max(0, t)
	case int64:
		return max(0, int(t))
	case float64:
		return max(0, int(t))
	case []any:
		return len(t)
	case []string:
		return len(t)
	case map[string]any:
		return len(t)
	case string:
		text := strings.TrimSpace(t)
		if text == "" {
			return 0
		}
		if n, err := strconv.Atoi(text); err == nil {
			return max(0, n)
		}
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return max(0, int(f))
		}
		return 0
	default:
		return 0
	}
}

// eventPayload never returns nil so extractors can index freely.
func eventPayload(evt events.Event) map[string]any {
	if evt.Payload == nil {
		return map[string]any{}
	}
	return evt.Payload
}

func eventTypeKey(evt events.Event) string {
	return strings.ToLower(strings.TrimSpace(string(evt.Type)))
}

// ExtractCoreFindings collects up to three highlights for a task:
// summary.md lines first, then final_report.md, then evidence-bearing
// events. When nothing else surfaced and a final reason exists, that
// reason becomes the single finding.
func ExtractCoreFindings(taskDir string, evs []events.Event, fallbackReason string) []string {
	var findings []string
	add := func(line string) bool {
		if line != "" && !slices.Contains(findings, line) {
			findings = append(findings, line)
		}
		return len(findings) >= 3
	}

	if taskDir != "" {
		for _, line := range ReadMarkdownHighlights(filepath.Join(taskDir, "summary.md")) {
			if add(line) {
				return findings
			}
		}
		for _, line := range ReadMarkdownHighlights(filepath.Join(taskDir, "final_report.md")) {
			if add(line) {
				return findings
			}
		}
	}

	interesting := map[string]bool{
		string(events.EventGateFailed):     true,
		string(events.EventGatePassed):     true,
		string(events.EventManualGate):     true,
		string(events.EventReview):         true,
		string(events.EventProposalReview): true,
		string(events.EventDiscussion):     true,
		string(events.EventDebateReview):   true,
		string(events.EventDebateReply):    true,
	}
	for _, evt := range evs {
		if !interesting[eventTypeKey(evt)] {
			continue
		}
		payload := eventPayload(evt)
		snippet := ClipSnippet(stringValue(payload["output"]))
		if snippet == "" {
			snippet = ClipSnippet(stringValue(payload["reason"]))
		}
		if snippet == "" {
			snippet = ClipSnippet(string(evt.Type))
		}
		if snippet == "" {
			continue
		}
		if add(snippet) {
			return findings
		}
	}

	if fallbackReason != "" && len(findings) == 0 {
		findings = append(findings, "Final reason: "+fallbackReason)
	}
	return findings
}

// Revisions summarizes what auto-fusion changed for a task. The zero
// value means no merge happened.
type Revisions struct {
	AutoMerge     bool   `json:"auto_merge"`
	Mode          string `json:"mode,omitempty"`
	ChangedFiles  int    `json:"changed_files"`
	CopiedFiles   int    `json:"copied_files"`
	DeletedFiles  int    `json:"deleted_files"`
	SnapshotPath  string `json:"snapshot_path,omitempty"`
	ChangelogPath string `json:"changelog_path,omitempty"`
	MergedAt      string `json:"merged_at,omitempty"`
}

// ExtractRevisions prefers the stored auto_merge_summary.json artifact and
// falls back to the most recent auto_merge_completed event.
func ExtractRevisions(taskDir string, evs []events.Event) Revisions {
	var summary map[string]any
	if taskDir != "" {
		summary = ReadJSONFile(filepath.Join(taskDir, "artifacts", "auto_merge_summary.json"))
	}
	if len(summary) == 0 {
		for i := len(evs) - 1; i >= 0; i-- {
			if eventTypeKey(evs[i]) != string(events.EventAutoMergeCompleted) {
				continue
			}
			summary = eventPayload(evs[i])
			break
		}
	}
	if len(summary) == 0 {
		return Revisions{}
	}
	return Revisions{
		AutoMerge:     true,
		Mode:          strings.TrimSpace(stringValue(summary["mode"])),
		ChangedFiles:  CoerceRevisionCount(summary["changed_files"]),
		CopiedFiles:   CoerceRevisionCount(summary["copied_files"]),
		DeletedFiles:  CoerceRevisionCount(summary["deleted_files"]),
		SnapshotPath:  strings.TrimSpace(stringValue(summary["snapshot_path"])),
		ChangelogPath: strings.TrimSpace(stringValue(summary["changelog_path"])),
		MergedAt:      strings.TrimSpace(stringValue(summary["merged_at"])),
	}
}

// Dispute records one adverse signal worth surfacing to an operator.
type Dispute struct {
	Participant string `json:"participant"`
	Verdict     string `json:"verdict"`
	Note        string `json:"note"`
}

// ExtractDisputes surfaces blocker and unknown review verdicts, gate
// failures, and consensus stalls, capped at five entries.
func ExtractDisputes(evs []events.Event) []Dispute {
	var disputes []Dispute
	for _, evt := range evs {
		payload := eventPayload(evt)

		switch eventTypeKey(evt) {
		case string(events.EventReview), string(events.EventProposalReview):
			verdict := strings.ToLower(strings.TrimSpace(stringValue(payload["verdict"])))
			if verdict != string(task.VerdictBlocker) && verdict != string(task.VerdictUnknown) {
				break
			}
			participant := stringValue(payload["participant"])
			if participant == "" {
				participant = "reviewer"
			}
			note := ClipSnippet(stringValue(payload["output"]))
			if note == "" {
				note = "review raised concerns"
			}
			disputes = append(disputes, Dispute{Participant: participant, Verdict: verdict, Note: note})

		case string(events.EventGateFailed):
			reason := strings.TrimSpace(stringValue(payload["reason"]))
			if reason == "" {
				break
			}
			disputes = append(disputes, Dispute{
				Participant: "system",
				Verdict:     "gate_failed",
				Note:        ClipSnippet(reason),
			})

		case string(events.EventProposalConsensusStalled):
			disputes = append(disputes, Dispute{
				Participant: "system",
				Verdict:     "consensus_stalled",
				Note:        consensusStallNote(evt, payload),
			})
		}

		if len(disputes) >= 5 {
			break
		}
	}
	return disputes
}

// consensusStallNote renders stall details from either payload shape:
// a nested verdicts map or flat *_count fields.
func consensusStallNote(evt events.Event, payload map[string]any) string {
	round, ok := intValue(payload["round"])
	if !ok && evt.Round != nil {
		round = *evt.Round
	}
	attempt, _ := intValue(payload["attempt"])
	limit, _ := intValue(payload["retry_limit"])

	blockers := CoerceRevisionCount(payload["blocker_count"])
	unknowns := CoerceRevisionCount(payload["unknown_count"])
	if verdicts, ok := payload["verdicts"].(map[string]any); ok {
		blockers = CoerceRevisionCount(verdicts["blocker"])
		unknowns = CoerceRevisionCount(verdicts["unknown"])
	}

	parts := []string{"consensus stalled"}
	if kind := strings.TrimSpace(stringValue(payload["stall_kind"])); kind != "" {
		parts = append(parts, "kind="+kind)
	}
	parts = append(parts,
		fmt.Sprintf("round=%d", round),
		fmt.Sprintf("attempt=%d/%d", attempt, limit),
		fmt.Sprintf("blocker=%d unknown=%d", blockers, unknowns),
	)
	return ClipSnippet(strings.Join(parts, " "))
}

// DeriveNextSteps suggests operator actions for a task in the given
// status. Disputes tune the failed_gate advice.
func DeriveNextSteps(status, reason string, disputes []Dispute) []string {
	r := strings.TrimSpace(reason)
	switch task.Status(strings.ToLower(strings.TrimSpace(status))) {
	case task.StatusWaitingManual:
		if strings.HasPrefix(r, "proposal_consensus_stalled") {
			return []string{"Proposal discussion stalled. Use Custom Reply + Re-run to provide specific direction, then continue."}
		}
		return []string{"Approve + Start to continue, or Reject to cancel this proposal."}
	case task.StatusRunning:
		return []string{"Task is still executing. Watch latest stage events or worker logs for progress."}
	case task.StatusQueued:
		return []string{"Start the task when ready, or keep it queued for scheduling."}
	case task.StatusPassed:
		return []string{"Task passed. Optionally launch a follow-up evolution task for additional improvements."}
	case task.StatusFailedGate:
		if len(disputes) > 0 {
			return []string{"Address blocker/unknown review points, then rerun the task."}
		}
		if r != "" {
			return []string{"Address gate failure reason: " + r}
		}
		return []string{"Address gate failures, then rerun."}
	case task.StatusFailedSystem:
		if r != "" {
			return []string{"Fix system issue: " + r}
		}
		return []string{"Fix system/runtime issue, then rerun."}
	case task.StatusCanceled:
		return []string{"Task was canceled. Recreate or restart only if requirements still apply."}
	default:
		return []string{"Inspect events and logs, then decide whether to rerun or revise scope."}
	}
}
