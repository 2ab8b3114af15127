// Package gate decides whether a debate round may complete. The medium
// gate combines verification command results with reviewer verdicts; the
// command executor runs the configured test and lint commands.
package gate

import (
	"github.com/hangw/agentcheck/internal/task"
)

// Gate failure reasons, recorded on the task as last_gate_reason and
// carried by gate_failed events.
const (
	ReasonTestsFailed   = "tests_failed"
	ReasonLintFailed    = "lint_failed"
	ReasonReviewBlocker = "review_blocker"
	ReasonReviewUnknown = "review_unknown"
	ReasonReviewMissing = "review_missing"
	ReasonPassed        = "passed"
)

// Outcome is a gate evaluation result.
type Outcome struct {
	Passed bool
	Reason string
}

// Evaluate applies the medium gate rules in fixed order: failing tests,
// then failing lint, then any blocker verdict, then any unknown verdict,
// then an empty verdict set. Only a clean sweep passes.
func Evaluate(testsOK, lintOK bool, verdicts []task.Verdict) Outcome {
	if !testsOK {
		return Outcome{Passed: false, Reason: ReasonTestsFailed}
	}
	if !lintOK {
		return Outcome{Passed: false, Reason: ReasonLintFailed}
	}
	for _, v := range verdicts {
		if v == task.VerdictBlocker {
			return Outcome{Passed: false, Reason: ReasonReviewBlocker}
		}
	}
	for _, v := range verdicts {
		if v == task.VerdictUnknown {
			return Outcome{Passed: false, Reason: ReasonReviewUnknown}
		}
	}
	if len(verdicts) == 0 {
		return Outcome{Passed: false, Reason: ReasonReviewMissing}
	}
	return Outcome{Passed: true, Reason: ReasonPassed}
}
