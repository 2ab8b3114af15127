// Package runner executes participant CLIs: argv construction per
// provider, prompt delivery, live output streaming, timeout-budgeted
// retries, and output classification into verdict directives or a typed
// RunError.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hangw/agentcheck/internal/task"
)

// DefaultTimeoutSeconds bounds one participant invocation end to end.
const DefaultTimeoutSeconds = 900

// Request describes one participant invocation.
type Request struct {
	Participant task.Participant
	Prompt      string
	Cwd         string
	// TimeoutSeconds is the total budget across all attempts. Zero means
	// DefaultTimeoutSeconds.
	TimeoutSeconds   int
	Model            string
	ModelParams      string
	ClaudeTeamAgents bool
	CodexMultiAgents bool
	OnStream         StreamFunc
}

// Result is a completed participant invocation.
type Result struct {
	Output  string
	Verdict task.Verdict
	// NextAction is empty when the output carried no directive.
	NextAction      task.NextAction
	Returncode      int
	DurationSeconds float64
}

// Runner invokes participant CLIs according to the provider adapter table.
type Runner struct {
	specs          map[string]Spec
	overrides      map[string]string
	dryRun         bool
	timeoutRetries int
	logger         *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithCommandOverrides replaces provider commands verbatim. An entry with
// an empty value marks the provider as deliberately unconfigured.
func WithCommandOverrides(overrides map[string]string) Option {
	return func(r *Runner) {
		for provider, command := range overrides {
			r.overrides[strings.ToLower(strings.TrimSpace(provider))] = command
		}
	}
}

// WithDryRun makes Run synthesize passing responses without spawning
// processes.
func WithDryRun(dryRun bool) Option {
	return func(r *Runner) {
		r.dryRun = dryRun
	}
}

// WithTimeoutRetries sets how many extra attempts follow a timed-out one.
func WithTimeoutRetries(retries int) Option {
	return func(r *Runner) {
		if retries < 0 {
			retries = 0
		}
		r.timeoutRetries = retries
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner builds a runner from the built-in adapter table layered with
// AWE_PROVIDER_ADAPTERS_JSON and AWE_<PROVIDER>_COMMAND.
func NewRunner(opts ...Option) (*Runner, error) {
	return NewRunnerWithEnv(os.Getenv, opts...)
}

// NewRunnerWithEnv is NewRunner with an injectable environment.
func NewRunnerWithEnv(getenv func(string) string, opts ...Option) (*Runner, error) {
	specs, err := loadSpecsFromEnv(getenv)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		specs:          specs,
		overrides:      make(map[string]string),
		timeoutRetries: 1,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// commandFor resolves the command template for a provider. The bool is
// false when the provider has no configured command at all.
func (r *Runner) commandFor(provider string) (string, bool) {
	if command, ok := r.overrides[provider]; ok {
		return command, true
	}
	if spec, ok := r.specs[provider]; ok {
		return spec.Command, true
	}
	return "", false
}

func (r *Runner) specFor(provider string) Spec {
	if spec, ok := r.specs[provider]; ok {
		return spec
	}
	return Spec{}
}

// Run executes one participant invocation. Failures are returned as a
// *RunError whose Class the engine matches on; a canceled context is
// propagated as-is.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if r.dryRun {
		output := fmt.Sprintf(
			"[dry-run participant=%s]\nVERDICT: NO_BLOCKER\nNEXT_ACTION: pass\nSimulated output for orchestration smoke testing.",
			req.Participant.ID)
		return &Result{
			Output:          output,
			Verdict:         task.VerdictNoBlocker,
			NextAction:      task.NextActionPass,
			Returncode:      0,
			DurationSeconds: 0.01,
		}, nil
	}

	provider := req.Participant.Provider
	command, _ := r.commandFor(provider)
	if strings.TrimSpace(command) == "" {
		return nil, &RunError{Class: ClassCommandNotConfigured, Provider: provider}
	}

	spec := r.specFor(provider)
	spec.Command = command
	argv := buildArgv(spec, provider, req.Model, req.ModelParams, req.ClaudeTeamAgents, req.CodexMultiAgents)
	argv = resolveExecutable(argv)
	effectiveCommand := formatCommand(argv)

	timeoutSeconds := req.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}
	attempts := r.timeoutRetries + 1
	totalBudget := float64(timeoutSeconds)
	currentPrompt := req.Prompt
	started := time.Now()

	var completed *streamResult
	for attempt := 1; attempt <= attempts; attempt++ {
		remaining := totalBudget - time.Since(started).Seconds()
		attemptTimeout := computeAttemptTimeout(remaining, attempts-attempt+1)
		if attemptTimeout <= 0 {
			return nil, &RunError{
				Class:          ClassCommandTimeout,
				Provider:       provider,
				Command:        effectiveCommand,
				TimeoutSeconds: timeoutSeconds,
				Attempts:       attempts,
			}
		}

		runtimeArgv, runtimeInput := prepareRuntimeInvocation(argv, provider, currentPrompt)
		r.logger.Debug("participant attempt",
			"participant", req.Participant.ID,
			"attempt", attempt,
			"timeout_seconds", attemptTimeout)

		res, err := runStreaming(ctx, runtimeArgv, runtimeInput, req.Cwd,
			time.Duration(attemptTimeout*float64(time.Second)), req.OnStream)
		if err == nil {
			completed = res
			break
		}
		if err == errAttemptTimeout {
			if attempt >= attempts {
				return nil, &RunError{
					Class:          ClassCommandTimeout,
					Provider:       provider,
					Command:        effectiveCommand,
					TimeoutSeconds: timeoutSeconds,
					Attempts:       attempts,
				}
			}
			currentPrompt = clipPromptForRetry(currentPrompt)
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isNotFoundErr(err) {
			return nil, &RunError{
				Class:    ClassCommandNotFound,
				Provider: provider,
				Command:  effectiveCommand,
				Err:      err,
			}
		}
		return nil, &RunError{
			Class:      ClassCommandFailed,
			Provider:   provider,
			Command:    effectiveCommand,
			Returncode: 2,
			Output:     err.Error(),
			Err:        err,
		}
	}
	elapsed := time.Since(started).Seconds()

	output := strings.TrimSpace(completed.stdout)
	if completed.returncode != 0 {
		stderrText := strings.TrimSpace(completed.stderr)
		parts := make([]string, 0, 2)
		if output != "" {
			parts = append(parts, output)
		}
		if stderrText != "" {
			parts = append(parts, stderrText)
		}
		output = strings.TrimSpace(strings.Join(parts, "\n"))
	}
	output = normalizeOutputForProvider(provider, output)

	if isProviderLimitOutput(output) {
		return nil, &RunError{
			Class:    ClassProviderLimit,
			Provider: provider,
			Command:  effectiveCommand,
			Output:   output,
		}
	}
	if completed.returncode != 0 {
		return nil, &RunError{
			Class:      ClassCommandFailed,
			Provider:   provider,
			Command:    effectiveCommand,
			Returncode: completed.returncode,
			Output:     output,
		}
	}

	nextAction, _ := ParseNextAction(output)
	return &Result{
		Output:          output,
		Verdict:         ParseVerdict(output),
		NextAction:      nextAction,
		Returncode:      completed.returncode,
		DurationSeconds: elapsed,
	}, nil
}
