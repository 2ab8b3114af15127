package analysis

import (
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/hangw/agentcheck/internal/gate"
	"github.com/hangw/agentcheck/internal/risk"
)

// exactBuckets are reasons the system writes verbatim.
var exactBuckets = []string{
	gate.ReasonPassed,
	gate.ReasonTestsFailed,
	gate.ReasonLintFailed,
	gate.ReasonReviewBlocker,
	gate.ReasonReviewUnknown,
	gate.ReasonReviewMissing,
	"precompletion_evidence_missing",
	"concurrency_limit",
	"canceled",
	risk.ReasonFailed,
}

// prefixBuckets match reasons that carry a detail suffix, like
// "watchdog_timeout: task exceeded 7200s" or
// "proposal_consensus_stalled_in_round".
var prefixBuckets = []string{
	"proposal_consensus_stalled",
	"watchdog_timeout",
	"auto_merge_error",
}

// runtimeClassRe pulls the runner error class out of workflow_error
// reasons so rate-limit storms and broken installs bucket separately.
var runtimeClassRe = regexp.MustCompile(`\b(provider_limit|command_not_found|command_timeout|command_not_configured|command_failed)\b`)

// providerRe extracts the provider attribution runner errors embed.
var providerRe = regexp.MustCompile(`provider=([A-Za-z0-9._-]+)`)

// ReasonBucket maps a last_gate_reason onto its failure-taxonomy bucket.
// Unclassifiable reasons land in "other"; empty reasons yield "".
func ReasonBucket(reason string) string {
	r := strings.ToLower(strings.TrimSpace(reason))
	if r == "" {
		return ""
	}
	for _, bucket := range exactBuckets {
		if r == bucket {
			return bucket
		}
	}
	for _, bucket := range prefixBuckets {
		if strings.HasPrefix(r, bucket) {
			return bucket
		}
	}
	if rest, ok := strings.CutPrefix(r, "workflow_error"); ok {
		if class := runtimeClassRe.FindString(rest); class != "" {
			return class
		}
		return "workflow_error"
	}
	if class := runtimeClassRe.FindString(r); class != "" && strings.HasPrefix(r, class) {
		return class
	}
	return "other"
}

// ProviderFromReason extracts the lowercased provider name from a
// runner-classed reason, or "" when no attribution is present.
func ProviderFromReason(reason string) string {
	m := providerRe.FindStringSubmatch(reason)
	if m == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(m[1]))
}

// FormatTaskDay renders the UTC calendar day used as a trend key.
func FormatTaskDay(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format("2006-01-02")
}

// isoLayouts are tried in order; the space separator variant is
// normalized to "T" first.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISODatetime parses the timestamp spellings found in artifact
// files: RFC 3339 with or without zone, and date-only.
func ParseISODatetime(text string) (time.Time, bool) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return time.Time{}, false
	}
	raw = strings.Replace(raw, " ", "T", 1)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeProjectPathKey canonicalizes a project path for equality
// checks: absolute, forward slashes, case-folded on Windows.
func NormalizeProjectPathKey(path string) string {
	text := strings.TrimSpace(path)
	if text == "" {
		return ""
	}
	abs, err := filepath.Abs(text)
	if err != nil {
		abs = text
	}
	key := filepath.ToSlash(filepath.Clean(abs))
	if runtime.GOOS == "windows" {
		key = strings.ToLower(key)
	}
	return key
}

// IsPathWithin reports whether target sits at or below base.
func IsPathWithin(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
