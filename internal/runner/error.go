package runner

import (
	"errors"
	"fmt"
)

// Class identifies why a participant invocation failed. Upstream decides
// retry and fallback behavior by matching on it.
type Class string

const (
	ClassCommandNotFound      Class = "command_not_found"
	ClassCommandTimeout       Class = "command_timeout"
	ClassProviderLimit        Class = "provider_limit"
	ClassCommandNotConfigured Class = "command_not_configured"
	ClassCommandFailed        Class = "command_failed"
)

// RunError is the failure result of a participant invocation. Error()
// renders the canonical reason string persisted in gate reasons and
// matched by the automation predicates, so the stored format stays
// stable while callers branch on Class instead of parsing text.
type RunError struct {
	Class          Class
	Provider       string
	Command        string
	TimeoutSeconds int
	Attempts       int
	Returncode     int
	Output         string
	Err            error
}

func (e *RunError) Error() string {
	switch e.Class {
	case ClassCommandNotFound:
		return fmt.Sprintf("command_not_found provider=%s command=%s", e.Provider, e.Command)
	case ClassCommandTimeout:
		return fmt.Sprintf("command_timeout provider=%s command=%s timeout_seconds=%d attempts=%d",
			e.Provider, e.Command, e.TimeoutSeconds, e.Attempts)
	case ClassProviderLimit:
		return fmt.Sprintf("provider_limit provider=%s command=%s", e.Provider, e.Command)
	case ClassCommandNotConfigured:
		return fmt.Sprintf("command_not_configured provider=%s", e.Provider)
	case ClassCommandFailed:
		return fmt.Sprintf("command_failed provider=%s returncode=%d command=%s",
			e.Provider, e.Returncode, e.Command)
	default:
		return fmt.Sprintf("runner_error provider=%s command=%s", e.Provider, e.Command)
	}
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// AsRunError extracts a *RunError from an error chain.
func AsRunError(err error) (*RunError, bool) {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr, true
	}
	return nil, false
}
