package gate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hangw/agentcheck/internal/task"
)

func TestEvaluateOrder(t *testing.T) {
	tests := []struct {
		name     string
		testsOK  bool
		lintOK   bool
		verdicts []task.Verdict
		passed   bool
		reason   string
	}{
		{
			name:     "all clear",
			testsOK:  true,
			lintOK:   true,
			verdicts: []task.Verdict{task.VerdictNoBlocker, task.VerdictNoBlocker},
			passed:   true,
			reason:   ReasonPassed,
		},
		{
			name:     "tests outrank everything",
			testsOK:  false,
			lintOK:   false,
			verdicts: []task.Verdict{task.VerdictBlocker},
			passed:   false,
			reason:   ReasonTestsFailed,
		},
		{
			name:     "lint outranks reviews",
			testsOK:  true,
			lintOK:   false,
			verdicts: []task.Verdict{task.VerdictBlocker},
			passed:   false,
			reason:   ReasonLintFailed,
		},
		{
			name:     "any blocker fails",
			testsOK:  true,
			lintOK:   true,
			verdicts: []task.Verdict{task.VerdictNoBlocker, task.VerdictBlocker},
			passed:   false,
			reason:   ReasonReviewBlocker,
		},
		{
			name:     "blocker outranks unknown",
			testsOK:  true,
			lintOK:   true,
			verdicts: []task.Verdict{task.VerdictUnknown, task.VerdictBlocker},
			passed:   false,
			reason:   ReasonReviewBlocker,
		},
		{
			name:     "unknown fails",
			testsOK:  true,
			lintOK:   true,
			verdicts: []task.Verdict{task.VerdictNoBlocker, task.VerdictUnknown},
			passed:   false,
			reason:   ReasonReviewUnknown,
		},
		{
			name:     "no verdicts fails",
			testsOK:  true,
			lintOK:   true,
			verdicts: nil,
			passed:   false,
			reason:   ReasonReviewMissing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := Evaluate(tt.testsOK, tt.lintOK, tt.verdicts)
			if outcome.Passed != tt.passed {
				t.Errorf("Passed = %v, want %v", outcome.Passed, tt.passed)
			}
			if outcome.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", outcome.Reason, tt.reason)
			}
		})
	}
}

func TestShellExecutorSuccess(t *testing.T) {
	e := NewShellExecutor()
	result, err := e.Run(context.Background(), "echo verification ok", t.TempDir())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.OK() {
		t.Errorf("expected passing result, got %+v", result)
	}
	if !strings.Contains(result.Stdout, "verification ok") {
		t.Errorf("stdout = %q", result.Stdout)
	}
}

func TestShellExecutorNonZeroExit(t *testing.T) {
	e := NewShellExecutor()
	result, err := e.Run(context.Background(), "echo broken >&2; exit 3", t.TempDir())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.OK() {
		t.Error("non-zero exit counted as passing")
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "broken") {
		t.Errorf("stderr = %q", result.Stderr)
	}
}

func TestShellExecutorSkipsEmptyCommand(t *testing.T) {
	e := NewShellExecutor()
	result, err := e.Run(context.Background(), "   ", t.TempDir())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Skipped || !result.OK() {
		t.Errorf("empty command not skipped: %+v", result)
	}
}

func TestShellExecutorTimeout(t *testing.T) {
	e := NewShellExecutor(WithCommandTimeout(100 * time.Millisecond))
	result, err := e.Run(context.Background(), "sleep 5", t.TempDir())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.TimedOut {
		t.Errorf("expected timeout, got %+v", result)
	}
	if result.OK() {
		t.Error("timed-out command counted as passing")
	}
}

func TestShellExecutorRunsInDir(t *testing.T) {
	dir := t.TempDir()
	e := NewShellExecutor()
	result, err := e.Run(context.Background(), "pwd", dir)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(result.Stdout, dir) {
		t.Errorf("command did not run in %s: %q", dir, result.Stdout)
	}
}
