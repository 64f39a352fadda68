package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SubmissionStatus is the lifecycle state of a queued portal submission.
type SubmissionStatus string

const (
	SubmissionStatusQueued       SubmissionStatus = "QUEUED"
	SubmissionStatusInProgress   SubmissionStatus = "IN_PROGRESS"
	SubmissionStatusCompleted    SubmissionStatus = "COMPLETED"
	SubmissionStatusFailed       SubmissionStatus = "FAILED"
	SubmissionStatusNeedsCaptcha SubmissionStatus = "NEEDS_CAPTCHA"
	SubmissionStatusNeeds2FA     SubmissionStatus = "NEEDS_2FA"
	SubmissionStatusCancelled    SubmissionStatus = "CANCELLED"
)

var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionStatusQueued: {SubmissionStatusInProgress, SubmissionStatusCancelled},
	SubmissionStatusInProgress: {
		SubmissionStatusCompleted, SubmissionStatusFailed, SubmissionStatusQueued,
		SubmissionStatusNeedsCaptcha, SubmissionStatusNeeds2FA,
	},
	// Operator re-queue after manual resolution or exhausted retries.
	SubmissionStatusFailed:       {SubmissionStatusQueued},
	SubmissionStatusNeedsCaptcha: {SubmissionStatusQueued, SubmissionStatusCancelled},
	SubmissionStatusNeeds2FA:     {SubmissionStatusQueued, SubmissionStatusCancelled},
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	for _, allowed := range submissionTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// NeedsOperator reports whether the submission is parked awaiting human input.
func (s SubmissionStatus) NeedsOperator() bool {
	return s == SubmissionStatusNeedsCaptcha || s == SubmissionStatusNeeds2FA
}

// SubmissionType distinguishes first filings from appeals.
type SubmissionType string

const (
	SubmissionTypeNewClaim SubmissionType = "NEW_CLAIM"
	SubmissionTypeAppeal   SubmissionType = "APPEAL"
)

// Priority orders the queue; higher Rank is served first.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

var priorityRanks = map[Priority]int{
	PriorityLow:    1,
	PriorityMedium: 2,
	PriorityHigh:   3,
	PriorityUrgent: 4,
}

// Rank returns the ordering weight of p; unknown priorities rank as MEDIUM.
func (p Priority) Rank() int {
	if rank, ok := priorityRanks[p]; ok {
		return rank
	}

	return priorityRanks[PriorityMedium]
}

// ParsePriority validates a priority name.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if _, ok := priorityRanks[p]; !ok {
		return "", fmt.Errorf("unknown priority %q", s)
	}

	return p, nil
}

// SubmissionQueueItem is a durable intent to file a claim through a portal.
type SubmissionQueueItem struct {
	ID                 string           `json:"id"`
	CaseID             string           `json:"case_id"`
	Target             string           `json:"target"`
	CredentialID       string           `json:"credential_id"`
	SubmissionType     SubmissionType   `json:"submission_type"`
	Priority           Priority         `json:"priority"`
	FormData           map[string]any   `json:"form_data"`
	Status             SubmissionStatus `json:"status"`
	AttemptCount       int              `json:"attempt_count"`
	MaxAttempts        int              `json:"max_attempts"`
	ScheduledFor       time.Time        `json:"scheduled_for"`
	NextAttemptAt      *time.Time       `json:"next_attempt_at,omitempty"`
	LastAttemptAt      *time.Time       `json:"last_attempt_at,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	ConfirmationNumber string           `json:"confirmation_number,omitempty"`
	ClaimNumber        string           `json:"claim_number,omitempty"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Due reports whether the item is eligible for processing at now.
func (s *SubmissionQueueItem) Due(now time.Time) bool {
	if s.Status != SubmissionStatusQueued || s.ScheduledFor.After(now) {
		return false
	}

	return s.NextAttemptAt == nil || !s.NextAttemptAt.After(now)
}

// Before reports whether s should be served before other: higher priority
// first, then earliest scheduled, then earliest created.
func (s *SubmissionQueueItem) Before(other *SubmissionQueueItem) bool {
	if s.Priority.Rank() != other.Priority.Rank() {
		return s.Priority.Rank() > other.Priority.Rank()
	}

	if !s.ScheduledFor.Equal(other.ScheduledFor) {
		return s.ScheduledFor.Before(other.ScheduledFor)
	}

	return s.CreatedAt.Before(other.CreatedAt)
}

// Transition moves the item to next.
func (s *SubmissionQueueItem) Transition(next SubmissionStatus, now time.Time) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: submission %s %s -> %s", ErrInvalidTransition, s.ID, s.Status, next)
	}

	s.Status = next
	s.UpdatedAt = now

	return nil
}

// HistoryAction names a step recorded in the submission history.
type HistoryAction string

const (
	HistoryActionEnqueued  HistoryAction = "ENQUEUED"
	HistoryActionNavigate  HistoryAction = "NAVIGATE"
	HistoryActionLogin     HistoryAction = "LOGIN"
	HistoryActionFillForm  HistoryAction = "FILL_FORM"
	HistoryActionSubmit    HistoryAction = "SUBMIT"
	HistoryActionConfirm   HistoryAction = "CONFIRMATION"
	HistoryActionError     HistoryAction = "ERROR"
	HistoryActionRetry     HistoryAction = "RETRY_SCHEDULED"
	HistoryActionCancelled HistoryAction = "CANCELLED"
	HistoryActionRequeued  HistoryAction = "REQUEUED"
)

// SubmissionHistoryEntry is an append-only forensic record.
type SubmissionHistoryEntry struct {
	ID           string        `json:"id"`
	SubmissionID string        `json:"submission_id"`
	CaseID       string        `json:"case_id"`
	Target       string        `json:"target"`
	Action       HistoryAction `json:"action"`
	Status       string        `json:"status"`
	Message      string        `json:"message,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// SubmissionResult is the non-throwing outcome of one browser attempt.
type SubmissionResult struct {
	Success            bool             `json:"success"`
	ConfirmationNumber string           `json:"confirmation_number,omitempty"`
	ClaimNumber        string           `json:"claim_number,omitempty"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	Outcome            SubmissionStatus `json:"outcome,omitempty"`
}

// CloneMap deep-copies a JSON-compatible map so snapshots do not alias live data.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}

	raw, err := json.Marshal(src)
	if err != nil {
		dst := make(map[string]any, len(src))
		for k, v := range src {
			dst[k] = v
		}

		return dst
	}

	dst := map[string]any{}
	if err := json.Unmarshal(raw, &dst); err != nil {
		return map[string]any{}
	}

	return dst
}
