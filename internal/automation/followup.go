package automation

import (
	"regexp"
	"strings"

	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/policy"
	"github.com/hangw/agentcheck/internal/service"
)

// processFollowupMatrix maps reason markers to self-improvement topics,
// checked in order. The first match wins, so the more specific markers
// (watchdog_timeout before command_timeout) come first.
var processFollowupMatrix = []struct {
	marker string
	topic  string
}{
	{"watchdog_timeout", "Improve watchdog timeout handling so stuck tasks fail faster with clearer progress evidence"},
	{"concurrency_limit", "Tune concurrency admission so deferred queued tasks are retried without operator attention"},
	{"provider_limit", "Harden provider-limit detection and pool cooldown so throttled providers rotate out cleanly"},
	{"command_timeout", "Reduce participant command timeout exposure by tightening prompts and per-attempt budgets"},
	{"command_not_found", "Improve provider CLI bootstrapping checks so missing commands are caught before task start"},
	{"auto_merge_error", "Make auto-merge failures recoverable with clearer snapshot and changelog diagnostics"},
	{"proposal_consensus", "Reduce review consensus stalls with better proposal framing and verdict guidance"},
	{"loop_no_progress", "Detect and break loop-no-progress rounds earlier with stronger strategy shift hints"},
	{"precompletion_evidence_missing", "Strengthen evidence-path capture so UI-facing changes ship with verification artifacts"},
	{"workspace_resume_guard_mismatch", "Handle workspace drift on resume with a clearer re-fingerprint and recovery path"},
}

// RecommendProcessFollowupTopic suggests a self-improvement topic from a
// terminal status and gate reason, or "" when the outcome carries no
// process signal.
func RecommendProcessFollowupTopic(status, reason string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	r := strings.ToLower(strings.TrimSpace(reason))
	if s == "" && r == "" {
		return ""
	}
	for _, row := range processFollowupMatrix {
		if strings.Contains(r, row.marker) {
			return row.topic
		}
	}
	return ""
}

// defaultSummaryChars bounds SummarizeActionableText output.
const defaultSummaryChars = 220

// noise lines carry no actionable content: provider banners, directive
// lines, markdown fences.
var (
	bannerRe    = regexp.MustCompile(`(?i)\bv\d+(\.\d+)+\b`)
	directiveRe = regexp.MustCompile(`(?i)^(verdict|next_action)\s*:`)
)

func isNoiseLine(line string) bool {
	if directiveRe.MatchString(line) {
		return true
	}
	if strings.HasPrefix(line, "```") || strings.HasPrefix(line, "---") {
		return true
	}
	// Short version-stamped lines are tool banners, not findings.
	if bannerRe.MatchString(line) && len(line) < 60 && !strings.Contains(line, ":") {
		return true
	}
	return false
}

// SummarizeActionableText extracts the first substantive line of a
// participant reply, skipping banners and directives, truncated to
// maxChars (<=0 uses the default).
func SummarizeActionableText(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = defaultSummaryChars
	}
	var picked string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isNoiseLine(line) {
			continue
		}
		picked = line
		break
	}
	if picked == "" {
		return ""
	}
	picked = strings.Join(strings.Fields(picked), " ")
	if len(picked) > maxChars {
		cut := maxChars - 3
		if cut < 1 {
			cut = 1
		}
		picked = picked[:cut] + "..."
	}
	return picked
}

// ExtractSelfFollowupTopic derives the next self-loop topic from a
// finished task's events. Precedence: a review-flavored gate failure
// with a blocker summary, then the raw gate reason, then a standalone
// blocker review, then a runtime error.
func ExtractSelfFollowupTopic(evs []*events.Event) string {
	var reviewSummary string
	var gateReason string
	var runtimeReason string
	for _, evt := range evs {
		if evt == nil {
			continue
		}
		switch evt.Type {
		case events.EventReview, events.EventProposalReview:
			verdict := strings.ToLower(payloadString(evt.Payload, "verdict"))
			if verdict != "blocker" && verdict != "unknown" {
				continue
			}
			if summary := SummarizeActionableText(payloadString(evt.Payload, "output"), 0); summary != "" {
				reviewSummary = summary
			}
		case events.EventGateFailed:
			if reason := strings.TrimSpace(payloadString(evt.Payload, "reason")); reason != "" {
				gateReason = reason
			}
		case events.EventProposalDiscussionError, events.EventReviewError:
			if reason := strings.TrimSpace(payloadString(evt.Payload, "reason")); reason != "" {
				runtimeReason = reason
			}
		}
	}

	switch {
	case gateReason != "" && strings.HasPrefix(strings.ToLower(gateReason), "review") && reviewSummary != "":
		return "Address reviewer concern: " + reviewSummary
	case gateReason != "":
		return "Address gate failure cause: " + gateReason
	case reviewSummary != "":
		return "Address reviewer concern: " + reviewSummary
	case runtimeReason != "":
		return "Investigate runtime error: " + SummarizeActionableText(runtimeReason, 0)
	default:
		return ""
	}
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// PolicyAdjustment is a recommended policy change derived from the
// analytics failure taxonomy.
type PolicyAdjustment struct {
	RecommendedTemplate  string         `json:"recommended_template"`
	TopFailureBucket     string         `json:"top_failure_bucket"`
	Reason               string         `json:"reason"`
	TaskOverrides        map[string]any `json:"task_overrides,omitempty"`
	HighDriftParticipant string         `json:"high_drift_participant,omitempty"`
}

// highDriftThreshold flags reviewers whose adverse rate sits far from
// the global rate.
const highDriftThreshold = 0.3

// DerivePolicyAdjustmentFromAnalytics clusters the top failure bucket
// into a template recommendation with task payload overrides.
func DerivePolicyAdjustmentFromAnalytics(report *service.Analytics, fallbackTemplate string) PolicyAdjustment {
	if fallbackTemplate == "" {
		fallbackTemplate = policy.DefaultTemplate
	}
	if report == nil || len(report.FailureTaxonomy) == 0 {
		return PolicyAdjustment{
			RecommendedTemplate: fallbackTemplate,
			TopFailureBucket:    "none",
			Reason:              "no_failure_signal",
		}
	}

	top := report.FailureTaxonomy[0].Bucket
	adjustment := PolicyAdjustment{
		RecommendedTemplate: fallbackTemplate,
		TopFailureBucket:    top,
		Reason:              "unclassified_failure_cluster",
	}

	switch {
	case top == "command_timeout" || top == "watchdog_timeout" || top == "provider_limit":
		adjustment.RecommendedTemplate = "rapid-fix"
		adjustment.Reason = "stability_timeout_cluster"
		adjustment.TaskOverrides = map[string]any{"debate_mode": false, "max_rounds": 1}
	case top == "review_blocker" || top == "review_unknown" || top == "review_missing":
		adjustment.RecommendedTemplate = "safe-review"
		adjustment.Reason = "review_failure_cluster"
		adjustment.TaskOverrides = map[string]any{"plain_mode": true}
		adjustment.HighDriftParticipant = highDriftParticipant(report)
	case top == "workspace_resume_guard_mismatch" || top == "workspace_conflict":
		adjustment.RecommendedTemplate = "safe-review"
		adjustment.Reason = "workspace_consistency_cluster"
		adjustment.TaskOverrides = map[string]any{"sandbox_mode": true, "self_loop_mode": 0}
	case top == "tests_failed" || top == "lint_failed":
		adjustment.RecommendedTemplate = policy.DefaultTemplate
		adjustment.Reason = "verification_failure_cluster"
		adjustment.TaskOverrides = map[string]any{"repair_mode": "structural"}
	case strings.HasPrefix(top, "proposal_consensus_stalled"):
		adjustment.RecommendedTemplate = "safe-review"
		adjustment.Reason = "consensus_stall_cluster"
		adjustment.TaskOverrides = map[string]any{"plain_mode": true}
		adjustment.HighDriftParticipant = highDriftParticipant(report)
	}
	return adjustment
}

func highDriftParticipant(report *service.Analytics) string {
	best := ""
	bestScore := highDriftThreshold
	for _, stat := range report.Reviewers {
		if stat.DriftScore >= bestScore {
			best = stat.Participant
			bestScore = stat.DriftScore
		}
	}
	return best
}
