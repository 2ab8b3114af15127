package git

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// commandTimeout bounds every git invocation so a hung credential helper
// or a slow network filesystem cannot stall a task workflow.
const commandTimeout = 5 * time.Second

// Runner executes git commands in a repository.
// This interface allows substituting command execution in tests.
type Runner interface {
	// Run executes git with the given arguments in repoRoot and reports
	// whether it exited zero. On failure the output is the trimmed
	// stderr, falling back to stdout, falling back to the error text.
	Run(repoRoot string, args ...string) (ok bool, output string)
}

// CLIRunner is the default Runner shelling out to the git binary.
type CLIRunner struct {
	timeout time.Duration
}

// NewCLIRunner creates a CLIRunner with the default command timeout.
func NewCLIRunner() *CLIRunner {
	return &CLIRunner{timeout: commandTimeout}
}

// Run executes the command using exec.CommandContext.
func (r *CLIRunner) Run(repoRoot string, args ...string) (bool, string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoRoot
	// Allow I/O to drain after context cancellation.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = err.Error()
		}
		return false, msg
	}
	return true, strings.TrimSpace(stdout.String())
}
