// Package automation hosts the unattended drivers (overnight evolution,
// A/B benchmark) and the reason-string predicates they steer by. The
// predicates match the deterministic last_gate_reason strings the
// runner and engine produce; they are the only place outside the
// runner that depends on that wording.
package automation

import (
	"fmt"
	"strings"
	"time"
)

// untilLayouts are the accepted --until spellings, most specific first.
var untilLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.RFC3339,
}

// ParseUntil parses the driver deadline in local time.
func ParseUntil(value string) (time.Time, error) {
	text := strings.TrimSpace(value)
	if text == "" {
		return time.Time{}, fmt.Errorf("until datetime cannot be empty")
	}
	for _, layout := range untilLayouts {
		if ts, err := time.ParseInLocation(layout, text, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime format: %s", value)
}

// ShouldSwitchToFallback reports whether a terminal outcome should move
// the driver from the primary pool to the fallback pool. Only system
// failures that implicate claude (or a generic command failure) count;
// gate failures are the task's problem, not the pool's.
func ShouldSwitchToFallback(status, reason string) bool {
	if strings.ToLower(strings.TrimSpace(status)) != "failed_system" {
		return false
	}
	r := strings.ToLower(strings.TrimSpace(reason))
	return strings.Contains(r, "claude") || strings.Contains(r, "command failed")
}

// ShouldSwitchBackToPrimary reports whether a fallback-pool failure
// implicates codex enough to return to the primary pool.
func ShouldSwitchBackToPrimary(status, reason string) bool {
	if strings.ToLower(strings.TrimSpace(status)) != "failed_system" {
		return false
	}
	r := strings.ToLower(strings.TrimSpace(reason))
	if !strings.Contains(r, "provider=codex") {
		return false
	}
	return strings.Contains(r, "command_timeout") ||
		strings.Contains(r, "command_not_found") ||
		strings.Contains(r, "provider_limit")
}

// IsProviderLimitReason reports whether the reason carries a
// provider_limit classification, optionally scoped to one provider.
func IsProviderLimitReason(reason, provider string) bool {
	text := strings.ToLower(strings.TrimSpace(reason))
	if !strings.Contains(text, "provider_limit") {
		return false
	}
	if p := strings.ToLower(strings.TrimSpace(provider)); p != "" {
		return strings.Contains(text, "provider="+p)
	}
	return true
}

// ShouldRetryStartForConcurrencyLimit reports whether a task was parked
// by the admission ceiling and should simply be started again.
func ShouldRetryStartForConcurrencyLimit(status, reason string) bool {
	return strings.ToLower(strings.TrimSpace(status)) == "queued" &&
		strings.Contains(strings.ToLower(strings.TrimSpace(reason)), "concurrency_limit")
}
