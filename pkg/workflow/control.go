package workflow

import (
	"context"
	"fmt"

	"github.com/dukex/claimflow/pkg/events"
	"github.com/dukex/claimflow/pkg/models"
)

// PauseExecution stops a running execution at its next node boundary. A
// handler already running is not interrupted.
func (e *Executor) PauseExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := e.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := execution.Transition(models.ExecutionStatusPaused, e.clock.Now().UTC()); err != nil {
		return nil, err
	}

	if err := e.executions.UpdateStatus(ctx, execution, models.ExecutionStatusRunning); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "execution paused", "execution_id", id)

	e.publish(ctx, id, events.WorkflowExecutionPaused{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionPausedEvent, execution.WorkflowID),
		ExecutionID: id,
	})

	return execution, nil
}

// ResumeExecution continues a paused execution from its checkpoint on a
// background goroutine. Nodes still inside a WAIT keep holding their edges;
// if nothing else is ready the execution pauses again until the wait ends.
func (e *Executor) ResumeExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := e.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	workflow, err := e.workflows.GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()

	var pausedFor int64
	if execution.PausedAt != nil {
		pausedFor = now.Sub(*execution.PausedAt).Milliseconds()
	}

	if err := execution.Transition(models.ExecutionStatusRunning, now); err != nil {
		return nil, err
	}

	if err := e.executions.UpdateStatus(ctx, execution, models.ExecutionStatusPaused); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "execution resumed", "execution_id", id)

	e.publish(ctx, id, events.WorkflowExecutionResumed{
		BaseEvent:       events.NewBaseEvent(events.WorkflowExecutionResumedEvent, execution.WorkflowID),
		ExecutionID:     id,
		PauseDurationMs: pausedFor,
	})

	snapshot := *execution
	e.spawn(ctx, workflow, execution)

	return &snapshot, nil
}

// CancelExecution ends a pending, running or paused execution. A running
// one stops at its next node boundary.
func (e *Executor) CancelExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	execution, err := e.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := execution.Status

	if err := execution.Transition(models.ExecutionStatusCancelled, e.clock.Now().UTC()); err != nil {
		return nil, err
	}

	if err := e.executions.UpdateStatus(ctx, execution, previous); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "execution cancelled", "execution_id", id, "previous_status", previous)

	e.publish(ctx, id, events.WorkflowExecutionCancelled{
		BaseEvent:      events.NewBaseEvent(events.WorkflowExecutionCancelledEvent, execution.WorkflowID),
		ExecutionID:    id,
		PreviousStatus: previous,
	})

	return execution, nil
}

// ResumeDue resumes every paused execution whose wait has elapsed and
// returns how many were started. One failing resume does not stop the rest.
func (e *Executor) ResumeDue(ctx context.Context) (int, error) {
	due, err := e.executions.DueForResume(ctx, e.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to list executions due for resume: %w", err)
	}

	resumed := 0

	for _, execution := range due {
		if _, err := e.ResumeExecution(ctx, execution.ID); err != nil {
			e.logger.ErrorContext(ctx, "failed to resume execution", "execution_id", execution.ID, "error", err)

			continue
		}

		resumed++
	}

	return resumed, nil
}

func (e *Executor) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return e.executions.GetByID(ctx, id)
}

// Steps returns the audit trail of an execution in start order.
func (e *Executor) Steps(ctx context.Context, id string) ([]*models.WorkflowExecutionStep, error) {
	if _, err := e.executions.GetByID(ctx, id); err != nil {
		return nil, err
	}

	return e.executions.Steps(ctx, id)
}

func (e *Executor) ListExecutions(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	if _, err := e.workflows.GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	return e.executions.ListByWorkflow(ctx, workflowID)
}
