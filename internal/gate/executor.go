package gate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const defaultCommandTimeout = 10 * time.Minute

// CommandResult holds the outcome of one verification command.
type CommandResult struct {
	Command    string
	ExitCode   int
	Stdout     string
	Stderr     string
	Skipped    bool // empty command configured
	TimedOut   bool
	DurationMS int64
}

// OK reports whether the command counts as passing for gate purposes.
// A skipped command passes; a timed-out one never does.
func (r *CommandResult) OK() bool {
	if r == nil {
		return false
	}
	if r.Skipped {
		return true
	}
	return !r.TimedOut && r.ExitCode == 0
}

// CommandExecutor runs a free-form verification command inside a
// workspace directory.
type CommandExecutor interface {
	Run(ctx context.Context, command, dir string) (*CommandResult, error)
}

// ShellExecutor runs verification commands through the platform shell so
// stored command strings keep their pipes and quoting.
type ShellExecutor struct {
	logger  *slog.Logger
	timeout time.Duration
}

// ShellExecutorOption configures a ShellExecutor.
type ShellExecutorOption func(*ShellExecutor)

// WithCommandTimeout sets the per-command timeout.
func WithCommandTimeout(d time.Duration) ShellExecutorOption {
	return func(e *ShellExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *slog.Logger) ShellExecutorOption {
	return func(e *ShellExecutor) {
		e.logger = logger
	}
}

// NewShellExecutor creates a ShellExecutor with the given options.
func NewShellExecutor(opts ...ShellExecutorOption) *ShellExecutor {
	e := &ShellExecutor{
		logger:  slog.Default(),
		timeout: defaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes command in dir. An empty command is reported as skipped.
// Non-zero exit codes are not errors; errors are reserved for
// infrastructure failures (shell missing, start failure).
func (e *ShellExecutor) Run(ctx context.Context, command, dir string) (*CommandResult, error) {
	text := strings.TrimSpace(command)
	if text == "" {
		return &CommandResult{Command: command, Skipped: true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	shell, flag := platformShell()
	cmd := exec.CommandContext(ctx, shell, flag, text)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second // Allow I/O to drain after context cancellation

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("running verification command", "command", text, "dir", dir)

	started := time.Now()
	err := cmd.Run()
	result := &CommandResult{
		Command:    text,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: time.Since(started).Milliseconds(),
	}

	if err != nil {
		// The attempt deadline marks the command failed rather than
		// erroring; caller cancellation stays an infrastructure error.
		if ctx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = -1
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("run verification command %q: %w", text, ctx.Err())
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("run verification command %q: %w", text, err)
	}
	return result, nil
}

func platformShell() (string, string) {
	if runtime.GOOS == "windows" {
		return "cmd", "/c"
	}
	return "sh", "-c"
}
