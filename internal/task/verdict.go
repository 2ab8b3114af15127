package task

import "strings"

// Verdict is a reviewer's outcome token.
type Verdict string

const (
	VerdictNoBlocker Verdict = "no_blocker"
	VerdictBlocker   Verdict = "blocker"
	VerdictUnknown   Verdict = "unknown"
)

// IsValidVerdict returns true if the verdict is a valid verdict value.
func IsValidVerdict(v Verdict) bool {
	switch v {
	case VerdictNoBlocker, VerdictBlocker, VerdictUnknown:
		return true
	default:
		return false
	}
}

// NormalizeVerdict lowercases a verdict token and clamps anything outside
// the vocabulary to unknown.
func NormalizeVerdict(raw string) Verdict {
	v := Verdict(strings.ToLower(strings.TrimSpace(raw)))
	if IsValidVerdict(v) {
		return v
	}
	return VerdictUnknown
}

// IsAdverse returns true for verdicts that count against consensus.
func (v Verdict) IsAdverse() bool {
	return v == VerdictBlocker || v == VerdictUnknown
}

// NextAction is a participant's requested follow-up move.
type NextAction string

const (
	NextActionRetry NextAction = "retry"
	NextActionPass  NextAction = "pass"
	NextActionStop  NextAction = "stop"
)

// IsValidNextAction returns true if the action is a valid value.
func IsValidNextAction(a NextAction) bool {
	switch a {
	case NextActionRetry, NextActionPass, NextActionStop:
		return true
	default:
		return false
	}
}
