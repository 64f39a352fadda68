// Package events defines event types and structures for execution lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic all claimflow events are published on.
const Topic = "claimflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Requests handled by the dispatcher.
	WorkflowExecutionRequestedEvent       EventType = "workflow.execution.requested"
	WorkflowExecutionResumeRequestedEvent EventType = "workflow.execution.resume"

	// Workflow execution lifecycle events.
	WorkflowExecutionStartedEvent   EventType = "workflow.execution.started"
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	WorkflowExecutionFailedEvent    EventType = "workflow.execution.failed"
	WorkflowExecutionCancelledEvent EventType = "workflow.execution.cancelled"
	WorkflowExecutionPausedEvent    EventType = "workflow.execution.paused"
	WorkflowExecutionResumedEvent   EventType = "workflow.execution.resumed"

	// Node events, one per step record.
	NodeExecutionFinishedEvent EventType = "node.execution.finished"
	NodeExecutionFailedEvent   EventType = "node.execution.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// WorkflowExecutionRequested asks a dispatcher to start a workflow, e.g. from a
// case system publishing on the bus.
type WorkflowExecutionRequested struct {
	BaseEvent

	Context     map[string]any `json:"context"`
	RequestedBy string         `json:"requested_by,omitempty"`
}

func (w WorkflowExecutionRequested) GetType() EventType {
	return WorkflowExecutionRequestedEvent
}

// WorkflowExecutionResumeRequested asks a dispatcher to continue a paused
// execution.
type WorkflowExecutionResumeRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	RequestedBy string `json:"requested_by,omitempty"`
}

func (w WorkflowExecutionResumeRequested) GetType() EventType {
	return WorkflowExecutionResumeRequestedEvent
}

type WorkflowExecutionStarted struct {
	BaseEvent

	ExecutionID  string         `json:"execution_id"`
	WorkflowName string         `json:"workflow_name"`
	SubjectID    string         `json:"subject_id,omitempty"`
	Context      map[string]any `json:"context"`
}

func (w WorkflowExecutionStarted) GetType() EventType {
	return WorkflowExecutionStartedEvent
}

type WorkflowExecutionCompleted struct {
	BaseEvent

	ExecutionID  string         `json:"execution_id"`
	DurationMs   int64          `json:"duration_ms"`
	FinalContext map[string]any `json:"final_context"`
}

func (w WorkflowExecutionCompleted) GetType() EventType {
	return WorkflowExecutionCompletedEvent
}

type WorkflowExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id,omitempty"`
	Error       string `json:"error"`
	DurationMs  int64  `json:"duration_ms"`
}

func (w WorkflowExecutionFailed) GetType() EventType {
	return WorkflowExecutionFailedEvent
}

type WorkflowExecutionCancelled struct {
	BaseEvent

	ExecutionID    string                 `json:"execution_id"`
	PreviousStatus models.ExecutionStatus `json:"previous_status"`
}

func (w WorkflowExecutionCancelled) GetType() EventType {
	return WorkflowExecutionCancelledEvent
}

type WorkflowExecutionPaused struct {
	BaseEvent

	ExecutionID string     `json:"execution_id"`
	ResumeAt    *time.Time `json:"resume_at,omitempty"`
}

func (w WorkflowExecutionPaused) GetType() EventType {
	return WorkflowExecutionPausedEvent
}

type WorkflowExecutionResumed struct {
	BaseEvent

	ExecutionID     string `json:"execution_id"`
	PauseDurationMs int64  `json:"pause_duration_ms"`
}

func (w WorkflowExecutionResumed) GetType() EventType {
	return WorkflowExecutionResumedEvent
}

type NodeExecutionFinished struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	NodeID      string          `json:"node_id"`
	NodeType    models.NodeType `json:"node_type"`
	OutputData  map[string]any  `json:"output_data"`
	DurationMs  int64           `json:"duration_ms"`
}

func (n NodeExecutionFinished) GetType() EventType {
	return NodeExecutionFinishedEvent
}

type NodeExecutionFailed struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	NodeID      string          `json:"node_id"`
	NodeType    models.NodeType `json:"node_type"`
	Error       string          `json:"error"`
	DurationMs  int64           `json:"duration_ms"`
}

func (n NodeExecutionFailed) GetType() EventType {
	return NodeExecutionFailedEvent
}

// New returns an empty event value for eventType, ready to be decoded into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case WorkflowExecutionRequestedEvent:
		return &WorkflowExecutionRequested{}, true
	case WorkflowExecutionResumeRequestedEvent:
		return &WorkflowExecutionResumeRequested{}, true
	case WorkflowExecutionStartedEvent:
		return &WorkflowExecutionStarted{}, true
	case WorkflowExecutionCompletedEvent:
		return &WorkflowExecutionCompleted{}, true
	case WorkflowExecutionFailedEvent:
		return &WorkflowExecutionFailed{}, true
	case WorkflowExecutionCancelledEvent:
		return &WorkflowExecutionCancelled{}, true
	case WorkflowExecutionPausedEvent:
		return &WorkflowExecutionPaused{}, true
	case WorkflowExecutionResumedEvent:
		return &WorkflowExecutionResumed{}, true
	case NodeExecutionFinishedEvent:
		return &NodeExecutionFinished{}, true
	case NodeExecutionFailedEvent:
		return &NodeExecutionFailed{}, true
	default:
		return nil, false
	}
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
