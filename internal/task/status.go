// Package task provides the core domain types for agentcheck: task rows,
// lifecycle statuses, participants, and review verdicts.
package task

// Status represents the current state of a task.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusRunning       Status = "running"
	StatusWaitingManual Status = "waiting_manual" // Paused for operator input
	StatusPassed        Status = "passed"         // Terminal: gate passed
	StatusFailedGate    Status = "failed_gate"
	StatusFailedSystem  Status = "failed_system"
	StatusCanceled      Status = "canceled" // Terminal: operator cancel
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{
		StatusQueued, StatusRunning, StatusWaitingManual, StatusPassed,
		StatusFailedGate, StatusFailedSystem, StatusCanceled,
	}
}

// IsValidStatus returns true if the status is a valid status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusQueued, StatusRunning, StatusWaitingManual, StatusPassed,
		StatusFailedGate, StatusFailedSystem, StatusCanceled:
		return true
	default:
		return false
	}
}

// allowedTransitions is the lifecycle DAG. passed and canceled have no
// outgoing edges; failed states re-enter running only through restart.
var allowedTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning:  true,
		StatusCanceled: true,
	},
	StatusRunning: {
		StatusWaitingManual: true,
		StatusPassed:        true,
		StatusFailedGate:    true,
		StatusFailedSystem:  true,
		StatusCanceled:      true,
	},
	StatusWaitingManual: {
		StatusRunning:  true,
		StatusCanceled: true,
	},
	StatusFailedGate: {
		StatusRunning:  true,
		StatusCanceled: true,
	},
	StatusFailedSystem: {
		StatusRunning:  true,
		StatusCanceled: true,
	},
	StatusPassed:   {},
	StatusCanceled: {},
}

// CanTransition reports whether the lifecycle allows moving a task from
// one status to another.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// IsSettled returns true once a workflow run has ended: the engine is no
// longer driving the task and drivers waiting on it can stop polling.
func IsSettled(s Status) bool {
	switch s {
	case StatusPassed, StatusFailedGate, StatusFailedSystem, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsRestartable returns true for failed statuses that may re-enter running.
func IsRestartable(s Status) bool {
	return s == StatusFailedGate || s == StatusFailedSystem
}
