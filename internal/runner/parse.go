package runner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hangw/agentcheck/internal/task"
)

var (
	verdictRe    = regexp.MustCompile(`(?i)^\s*VERDICT\s*:\s*(NO_BLOCKER|BLOCKER|UNKNOWN)\s*$`)
	nextActionRe = regexp.MustCompile(`(?i)^\s*NEXT_ACTION\s*:\s*(retry|pass|stop)\s*$`)
)

// limitPatterns are the substrings that mark provider quota exhaustion.
var limitPatterns = []string{
	"hit your limit",
	"usage limit",
	"rate limit",
	"ratelimitexceeded",
	"resource_exhausted",
	"model_capacity_exhausted",
	"no capacity available",
	"quota exceeded",
	"insufficient_quota",
}

// ParseVerdict scans output line by line for a VERDICT directive. Absent
// or malformed directives yield unknown.
func ParseVerdict(output string) task.Verdict {
	for _, line := range strings.Split(output, "\n") {
		if m := verdictRe.FindStringSubmatch(line); m != nil {
			return task.Verdict(strings.ToLower(m[1]))
		}
	}
	return task.VerdictUnknown
}

// ParseNextAction scans output for a NEXT_ACTION directive.
func ParseNextAction(output string) (task.NextAction, bool) {
	for _, line := range strings.Split(output, "\n") {
		if m := nextActionRe.FindStringSubmatch(line); m != nil {
			return task.NextAction(strings.ToLower(m[1])), true
		}
	}
	return "", false
}

// isProviderLimitOutput reports whether output matches any quota pattern.
func isProviderLimitOutput(output string) bool {
	text := strings.ToLower(strings.TrimSpace(output))
	if text == "" {
		return false
	}
	for _, pattern := range limitPatterns {
		if strings.Contains(text, pattern) {
			return true
		}
	}
	return false
}

// promptRetryKeep is how much of the prompt survives a timeout retry.
const promptRetryKeep = 1200

// clipPromptForRetry shortens the prompt after a timed-out attempt so the
// retry has a chance to finish inside the remaining budget.
func clipPromptForRetry(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= promptRetryKeep {
		return prompt
	}
	kept := string(runes[:promptRetryKeep])
	dropped := len(runes) - promptRetryKeep
	return fmt.Sprintf("%s\n\n[retry prompt clipped: %d chars removed]", kept, dropped)
}

// computeAttemptTimeout splits the remaining budget evenly over the
// attempts still available.
func computeAttemptTimeout(remainingBudget float64, attemptsLeft int) float64 {
	if remainingBudget <= 0 || attemptsLeft <= 0 {
		return 0
	}
	return remainingBudget / float64(attemptsLeft)
}
