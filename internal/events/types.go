// Package events provides event types and publishing infrastructure for
// agentcheck.
package events

import (
	"time"
)

// EventType defines the type of event. The vocabulary is closed: the
// analyser and UI switch on these values.
type EventType string

const (
	// EventDiscussion carries an author turn's output.
	EventDiscussion EventType = "discussion"
	// EventProposalReview carries a reviewer verdict on a proposal.
	EventProposalReview EventType = "proposal_review"
	// EventProposalDiscussionError records a runtime failure during the
	// proposal phase.
	EventProposalDiscussionError EventType = "proposal_discussion_error"
	// EventProposalConsensusStalled records a review deadlock that parked
	// the task in waiting_manual.
	EventProposalConsensusStalled EventType = "proposal_consensus_stalled"
	// EventReview carries a reviewer verdict.
	EventReview EventType = "review"
	// EventReviewError records a runtime failure while collecting a review.
	EventReviewError EventType = "review_error"
	// EventDebateReview and EventDebateReply carry debate-mode exchanges.
	EventDebateReview EventType = "debate_review"
	EventDebateReply  EventType = "debate_reply"
	// EventGatePassed / EventGateFailed record the round gate outcome.
	EventGatePassed EventType = "gate_passed"
	EventGateFailed EventType = "gate_failed"
	// EventManualGate records an operator decision on a waiting task.
	EventManualGate EventType = "manual_gate"
	// EventAutoMergeCompleted records a successful fusion back to target.
	EventAutoMergeCompleted EventType = "auto_merge_completed"
	// EventHistory is the fallback type for imported or legacy rows.
	EventHistory EventType = "history_event"
)

// ValidEventTypes returns the closed vocabulary.
func ValidEventTypes() []EventType {
	return []EventType{
		EventDiscussion, EventProposalReview, EventProposalDiscussionError,
		EventProposalConsensusStalled, EventReview, EventReviewError,
		EventDebateReview, EventDebateReply, EventGatePassed, EventGateFailed,
		EventManualGate, EventAutoMergeCompleted, EventHistory,
	}
}

// IsValidEventType returns true if the type is in the closed vocabulary.
func IsValidEventType(t EventType) bool {
	switch t {
	case EventDiscussion, EventProposalReview, EventProposalDiscussionError,
		EventProposalConsensusStalled, EventReview, EventReviewError,
		EventDebateReview, EventDebateReply, EventGatePassed, EventGateFailed,
		EventManualGate, EventAutoMergeCompleted, EventHistory:
		return true
	default:
		return false
	}
}

// Event is one appended task event. Seq is assigned by the repository and
// is gap-free per task; Round is nil for events outside the round loop.
type Event struct {
	TaskID    string         `json:"task_id"`
	Seq       int64          `json:"seq"`
	Type      EventType      `json:"type"`
	Round     *int           `json:"round"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent creates an event with the current timestamp. Seq is zero until
// the repository assigns it.
func NewEvent(taskID string, eventType EventType, payload map[string]any, round *int) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		TaskID:    taskID,
		Type:      eventType,
		Round:     round,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// RoundPtr is a convenience for building the nullable round field.
func RoundPtr(round int) *int {
	return &round
}
