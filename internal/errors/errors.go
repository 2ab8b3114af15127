// Package errors provides structured error types for agentcheck.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for agentcheck.
const (
	// Validation errors
	CodeValidation Code = "VALIDATION_FAILED"

	// Task errors
	CodeTaskNotFound       Code = "TASK_NOT_FOUND"
	CodeInvalidTransition  Code = "TASK_INVALID_TRANSITION"
	CodeTaskNotRestartable Code = "TASK_NOT_RESTARTABLE"

	// Workspace errors
	CodeWorkspaceConflict Code = "WORKSPACE_CONFLICT"
	CodeSandboxBootstrap  Code = "SANDBOX_BOOTSTRAP_FAILED"

	// Automation errors
	CodeLockHeld Code = "LOCK_HELD"

	// Merge errors
	CodeMergeFailed Code = "MERGE_FAILED"

	// Persistence errors
	CodeDatabase   Code = "DATABASE_ERROR"
	CodeArtifactIO Code = "ARTIFACT_IO"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// Category groups error codes for HTTP status mapping when the service
// is fronted by an API layer.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeValidation:         CategoryBadRequest,
	CodeTaskNotFound:       CategoryNotFound,
	CodeInvalidTransition:  CategoryConflict,
	CodeTaskNotRestartable: CategoryConflict,
	CodeWorkspaceConflict:  CategoryConflict,
	CodeSandboxBootstrap:   CategoryInternal,
	CodeLockHeld:           CategoryConflict,
	CodeMergeFailed:        CategoryInternal,
	CodeDatabase:           CategoryInternal,
	CodeArtifactIO:         CategoryInternal,
	CodeConfigInvalid:      CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	default:
		return 500
	}
}

// AweError is the structured error type for agentcheck.
type AweError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Field string `json:"field,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *AweError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *AweError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *AweError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Field != "" {
		b.WriteString("\n\nField: ")
		b.WriteString(e.Field)
	}
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *AweError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *AweError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *AweError) MarshalJSON() ([]byte, error) {
	type alias AweError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is an AweError with the same code.
func (e *AweError) Is(target error) bool {
	t, ok := target.(*AweError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *AweError) WithCause(err error) *AweError {
	return &AweError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Field: e.Field,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrValidation returns a field-level validation error. The field string
// points into the rejected payload (e.g. "reviewers[1]", "evolve_until").
func ErrValidation(field, why string) *AweError {
	return &AweError{
		Code:  CodeValidation,
		What:  fmt.Sprintf("invalid value for %s", field),
		Why:   why,
		Field: field,
	}
}

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id string) *AweError {
	return &AweError{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %s not found", id),
		Why:  "No task with this ID exists in the repository",
		Fix:  "Run 'agentcheck list' to see known tasks",
	}
}

// ErrInvalidTransition returns an error for a disallowed lifecycle move.
func ErrInvalidTransition(id, from, to string) *AweError {
	return &AweError{
		Code: CodeInvalidTransition,
		What: fmt.Sprintf("task %s cannot move from '%s' to '%s'", id, from, to),
		Why:  "The requested status change is not an allowed lifecycle transition",
		Fix:  fmt.Sprintf("Check 'agentcheck status %s' for the current state", id),
	}
}

// ErrTaskNotRestartable returns an error when restart is requested for a
// task that is not in a failed state.
func ErrTaskNotRestartable(id, status string) *AweError {
	return &AweError{
		Code: CodeTaskNotRestartable,
		What: fmt.Sprintf("task %s is '%s' and cannot be restarted", id, status),
		Why:  "Only failed_gate and failed_system tasks can re-enter the queue",
	}
}

// ErrWorkspaceConflict returns an error when a workspace path is unusable.
func ErrWorkspaceConflict(path, why string) *AweError {
	return &AweError{
		Code: CodeWorkspaceConflict,
		What: fmt.Sprintf("workspace %s cannot be used", path),
		Why:  why,
	}
}

// ErrSandboxBootstrap returns an error when sandbox creation fails.
func ErrSandboxBootstrap(path string, cause error) *AweError {
	return &AweError{
		Code:  CodeSandboxBootstrap,
		What:  fmt.Sprintf("sandbox bootstrap failed for %s", path),
		Why:   "The project copy into the sandbox directory did not complete",
		Cause: cause,
	}
}

// ErrLockHeld returns an error when the single-instance lock is taken.
func ErrLockHeld(pid int) *AweError {
	return &AweError{
		Code: CodeLockHeld,
		What: fmt.Sprintf("another automation instance is running pid=%d", pid),
		Fix:  "Stop the other instance or remove a stale lock file",
	}
}

// ErrMergeFailed returns an error when auto-fusion cannot complete.
func ErrMergeFailed(taskID string, cause error) *AweError {
	return &AweError{
		Code:  CodeMergeFailed,
		What:  fmt.Sprintf("auto merge failed for task %s", taskID),
		Cause: cause,
	}
}

// ErrDatabase wraps a persistence failure.
func ErrDatabase(op string, cause error) *AweError {
	return &AweError{
		Code:  CodeDatabase,
		What:  fmt.Sprintf("database operation %s failed", op),
		Cause: cause,
	}
}

// ErrArtifactIO wraps an artifact store failure.
func ErrArtifactIO(op string, cause error) *AweError {
	return &AweError{
		Code:  CodeArtifactIO,
		What:  fmt.Sprintf("artifact operation %s failed", op),
		Cause: cause,
	}
}

// ErrConfigInvalid returns an error for a bad configuration value.
func ErrConfigInvalid(key, why string) *AweError {
	return &AweError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("configuration key %s is invalid", key),
		Why:  why,
	}
}
