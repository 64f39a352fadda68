// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrStepNotFound indicates an execution step was not found.
	ErrStepNotFound = errors.New("execution step not found")

	// ErrSubmissionNotFound indicates a queue item was not found.
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrNoSubmissionDue indicates the queue holds nothing eligible right now.
	ErrNoSubmissionDue = errors.New("no submission due")

	// ErrCredentialNotFound indicates a portal credential was not found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrPortalConfigNotFound indicates no reference data exists for a target.
	ErrPortalConfigNotFound = errors.New("portal config not found")

	// ErrCaseNotFound indicates the subject case was not found.
	ErrCaseNotFound = errors.New("case not found")

	// ErrStatusConflict indicates a guarded update lost a race with another writer.
	ErrStatusConflict = errors.New("status conflict")
)

// EntityError wraps repository errors with the operation and entity involved.
type EntityError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Save", "ClaimNext")
	Entity string // Entity kind, e.g. "workflow", "submission"
	ID     string // Entity ID if applicable
	Err    error  // Underlying error
}

func (e *EntityError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Entity, e.Err)
	}

	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for entity errors.
func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *EntityError {
	return &EntityError{Op: op, Entity: "workflow", ID: workflowID, Err: err}
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *EntityError {
	return &EntityError{Op: op, Entity: "execution", ID: executionID, Err: err}
}

// NewSubmissionError creates a new submission error with context.
func NewSubmissionError(op, submissionID string, err error) *EntityError {
	return &EntityError{Op: op, Entity: "submission", ID: submissionID, Err: err}
}

// NewCredentialError creates a new credential error with context.
func NewCredentialError(op, credentialID string, err error) *EntityError {
	return &EntityError{Op: op, Entity: "credential", ID: credentialID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsSubmissionNotFound checks if an error indicates a submission was not found.
func IsSubmissionNotFound(err error) bool {
	return errors.Is(err, ErrSubmissionNotFound)
}

// IsCredentialNotFound checks if an error indicates a credential was not found.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, ErrSubmissionNotFound) ||
		errors.Is(err, ErrCredentialNotFound) ||
		errors.Is(err, ErrPortalConfigNotFound) ||
		errors.Is(err, ErrCaseNotFound)
}

// IsStatusConflict checks if a guarded update lost a race.
func IsStatusConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}
