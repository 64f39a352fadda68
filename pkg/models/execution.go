package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition indicates a status change not allowed by the state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusPaused    ExecutionStatus = "PAUSED"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
)

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending: {ExecutionStatusRunning, ExecutionStatusCancelled},
	ExecutionStatusRunning: {
		ExecutionStatusPaused, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusCancelled,
	},
	ExecutionStatusPaused: {ExecutionStatusRunning, ExecutionStatusCancelled},
}

// IsTerminal reports whether no further transitions are possible.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// CanTransitionTo reports whether s -> next is a legal transition.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	for _, allowed := range executionTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// StepStatus is the state of a single node run.
type StepStatus string

const (
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
)

// WorkflowExecution is one run of a workflow against a context.
type WorkflowExecution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	SubjectID   string          `json:"subject_id,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Context     map[string]any  `json:"context"`
	Checkpoint  *Checkpoint     `json:"checkpoint,omitempty"`
	ResumeAt    *time.Time      `json:"resume_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	PausedAt    *time.Time      `json:"paused_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Transition moves the execution to next, stamping the relevant timestamps.
func (e *WorkflowExecution) Transition(next ExecutionStatus, now time.Time) error {
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: execution %s %s -> %s", ErrInvalidTransition, e.ID, e.Status, next)
	}

	e.Status = next
	e.UpdatedAt = now

	switch next {
	case ExecutionStatusPaused:
		e.PausedAt = &now
	case ExecutionStatusRunning:
		e.PausedAt = nil
		e.ResumeAt = nil
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		e.CompletedAt = &now
		e.ResumeAt = nil
	}

	return nil
}

// Checkpoint is the persisted traversal frontier of an execution. Together with
// the execution context it is enough to continue the graph after a pause.
type Checkpoint struct {
	Ready     []string        `json:"ready"`
	Pending   map[string]int  `json:"pending"`
	Activated map[string]bool `json:"activated"`
	Delayed   []DelayedNode   `json:"delayed,omitempty"`
}

// DelayedNode is a completed node whose outgoing edges are resolved at Until.
type DelayedNode struct {
	NodeID string    `json:"node_id"`
	Until  time.Time `json:"until"`
}

// NextWake returns the earliest delayed node deadline.
func (c *Checkpoint) NextWake() (time.Time, bool) {
	if c == nil || len(c.Delayed) == 0 {
		return time.Time{}, false
	}

	earliest := c.Delayed[0].Until
	for _, d := range c.Delayed[1:] {
		if d.Until.Before(earliest) {
			earliest = d.Until
		}
	}

	return earliest, true
}

// WorkflowExecutionStep is the append-only audit record of one node run.
type WorkflowExecutionStep struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	NodeType    NodeType       `json:"node_type"`
	Status      StepStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
}

// Finish marks the step terminal.
func (s *WorkflowExecutionStep) Finish(status StepStatus, output map[string]any, err error, now time.Time) {
	s.Status = status
	s.Output = output
	s.CompletedAt = &now
	s.DurationMS = now.Sub(s.StartedAt).Milliseconds()

	if err != nil {
		s.Error = err.Error()
	}
}
