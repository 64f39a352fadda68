package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/claimflow/pkg/eventbus"
	"github.com/dukex/claimflow/pkg/events"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
)

// Dispatcher starts and resumes executions requested over the event bus, each
// on its own goroutine.
type Dispatcher struct {
	executor *Executor
	bus      eventbus.EventSubscriber
	logger   *slog.Logger
}

func NewDispatcher(executor *Executor, bus eventbus.EventSubscriber, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		executor: executor,
		bus:      bus,
		logger:   logger.With("module", "workflow_dispatcher"),
	}
}

// Start registers the handler and begins consuming.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.bus.Handle(events.WorkflowExecutionRequestedEvent, d.handleRequested); err != nil {
		return fmt.Errorf("failed to register execution request handler: %w", err)
	}

	if err := d.bus.Handle(events.WorkflowExecutionResumeRequestedEvent, d.handleResumeRequested); err != nil {
		return fmt.Errorf("failed to register resume request handler: %w", err)
	}

	if err := d.bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	d.logger.InfoContext(ctx, "dispatcher listening")

	return nil
}

// handleRequested acks requests that can never succeed, such as an unknown
// or inactive workflow; only storage errors are returned for redelivery.
func (d *Dispatcher) handleRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.WorkflowExecutionRequested)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	logger := d.logger.With("workflow_id", requested.WorkflowID, "requested_by", requested.RequestedBy)

	execution, err := d.executor.StartWorkflow(ctx, requested.WorkflowID, requested.Context)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) || IsInvocationError(err) {
			logger.WarnContext(ctx, "execution request rejected", "error", err)

			return nil
		}

		logger.ErrorContext(ctx, "failed to start requested execution", "error", err)

		return err
	}

	logger.InfoContext(ctx, "requested execution started", "execution_id", execution.ID)

	return nil
}

// handleResumeRequested acks resumes of unknown or no longer paused
// executions.
func (d *Dispatcher) handleResumeRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.WorkflowExecutionResumeRequested)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	logger := d.logger.With("execution_id", requested.ExecutionID, "requested_by", requested.RequestedBy)

	if _, err := d.executor.ResumeExecution(ctx, requested.ExecutionID); err != nil {
		if persistence.IsExecutionNotFound(err) || persistence.IsStatusConflict(err) ||
			errors.Is(err, models.ErrInvalidTransition) {
			logger.WarnContext(ctx, "resume request rejected", "error", err)

			return nil
		}

		logger.ErrorContext(ctx, "failed to resume execution", "error", err)

		return err
	}

	logger.InfoContext(ctx, "requested execution resumed")

	return nil
}
