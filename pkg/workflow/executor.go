// Package workflow executes workflow graphs: it walks the DAG, runs node
// handlers, keeps the step audit trail and checkpoints the frontier so an
// execution can pause and resume mid-graph.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/claimflow/pkg/eventbus"
	"github.com/dukex/claimflow/pkg/events"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/otelhelper"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
)

// NodeRunner runs a single node. *registry.Registry implements it.
type NodeRunner interface {
	Execute(ctx context.Context, input protocol.NodeInput) (protocol.Result, error)
}

type Executor struct {
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	nodes      NodeRunner
	publisher  eventbus.EventPublisher
	clock      clock.PassiveClock
	tracer     trace.Tracer
	logger     *slog.Logger

	running sync.WaitGroup

	// shutdown is closed by Shutdown. Runs pause at their next node boundary.
	shutdown     chan struct{}
	shutdownOnce sync.Once

	mu sync.Mutex
	// active holds a done channel per execution with a runner in this process.
	active map[string]chan struct{}
}

type Option func(*Executor)

func WithClock(clk clock.PassiveClock) Option {
	return func(e *Executor) { e.clock = clk }
}

// WithPublisher publishes lifecycle events. Without it events are dropped.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Executor) { e.publisher = publisher }
}

func NewExecutor(p persistence.Persistence, nodes NodeRunner, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		workflows:  p.WorkflowRepository(),
		executions: p.ExecutionRepository(),
		nodes:      nodes,
		clock:      clock.RealClock{},
		tracer:     otelhelper.Tracer("claimflow.workflow"),
		logger:     logger.With("module", "workflow_executor"),
		active:     make(map[string]chan struct{}),
		shutdown:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ExecuteWorkflow runs the workflow to completion, failure or its first
// pause, in the calling goroutine. The execution id is returned whenever an
// execution was created, alongside the node error if the run failed.
func (e *Executor) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (string, error) {
	workflow, execution, err := e.create(ctx, workflowID, input)
	if err != nil {
		return "", err
	}

	_, done := e.track(execution.ID)
	defer e.release(execution.ID, done)

	return execution.ID, e.run(ctx, workflow, execution)
}

// StartWorkflow creates the execution and runs it on its own goroutine.
// Invocation errors (inactive workflow, malformed graph) are returned
// synchronously; node failures land on the execution.
func (e *Executor) StartWorkflow(ctx context.Context, workflowID string, input map[string]any) (*models.WorkflowExecution, error) {
	workflow, execution, err := e.create(ctx, workflowID, input)
	if err != nil {
		return nil, err
	}

	snapshot := *execution
	e.spawn(ctx, workflow, execution)

	return &snapshot, nil
}

// Wait blocks until every execution started in the background has stopped.
func (e *Executor) Wait() {
	e.running.Wait()
}

// Shutdown stops the executor: every run pauses at its next node boundary,
// due for immediate resumption, so another process's ResumeDue carries it on.
// A node already running is allowed to finish. Shutdown returns once the
// background runs have stopped or ctx ends.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() { close(e.shutdown) })

	stopped := make(chan struct{})

	go func() {
		e.running.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executions still running: %w", ctx.Err())
	}
}

func (e *Executor) shuttingDown() bool {
	select {
	case <-e.shutdown:
		return true
	default:
		return false
	}
}

// spawn runs the execution on its own goroutine. A runner still active for
// the same execution is waited for first, and the state is then reloaded, so
// one execution never has two runners.
func (e *Executor) spawn(ctx context.Context, workflow *models.WorkflowDefinition, execution *models.WorkflowExecution) {
	ctx = context.WithoutCancel(ctx)
	previous, done := e.track(execution.ID)

	e.running.Add(1)

	go func() {
		defer e.running.Done()
		defer e.release(execution.ID, done)

		if previous != nil {
			<-previous

			current, err := e.executions.GetByID(ctx, execution.ID)
			if err != nil {
				e.logger.ErrorContext(ctx, "failed to reload execution", "execution_id", execution.ID, "error", err)

				return
			}

			if current.Status != models.ExecutionStatusRunning {
				return
			}

			execution = current
		}

		if err := e.run(ctx, workflow, execution); err != nil {
			e.logger.ErrorContext(ctx, "execution failed",
				"workflow_id", workflow.ID, "execution_id", execution.ID, "error", err)
		}
	}()
}

func (e *Executor) track(id string) (previous, done chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous = e.active[id]
	done = make(chan struct{})
	e.active[id] = done

	return previous, done
}

func (e *Executor) release(id string, done chan struct{}) {
	e.mu.Lock()
	if e.active[id] == done {
		delete(e.active, id)
	}
	e.mu.Unlock()

	close(done)
}

func (e *Executor) create(ctx context.Context, workflowID string, input map[string]any) (*models.WorkflowDefinition, *models.WorkflowExecution, error) {
	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}

	if !workflow.IsActive {
		return nil, nil, fmt.Errorf("%w: %s", models.ErrWorkflowInactive, workflowID)
	}

	if err := workflow.ValidateGraph(); err != nil {
		return nil, nil, fmt.Errorf("workflow %s: %w", workflowID, err)
	}

	start, err := workflow.StartNode()
	if err != nil {
		return nil, nil, err
	}

	now := e.clock.Now().UTC()
	data := models.CloneMap(input)
	subjectID, _ := models.StringID(data[protocol.ContextKeyCaseID])

	execution := &models.WorkflowExecution{
		ID:         uuid.Must(uuid.NewV7()).String(),
		WorkflowID: workflow.ID,
		SubjectID:  subjectID,
		Status:     models.ExecutionStatusRunning,
		Context:    data,
		Checkpoint: newCheckpoint(workflow, start.ID),
		StartedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.executions.Create(ctx, execution); err != nil {
		return nil, nil, fmt.Errorf("failed to create execution: %w", err)
	}

	e.count(ctx, workflow.ID, 1, 0, 0)

	e.logger.InfoContext(ctx, "execution started",
		"workflow_id", workflow.ID, "execution_id", execution.ID, "subject_id", subjectID)

	e.publish(ctx, execution.ID, events.WorkflowExecutionStarted{
		BaseEvent:    events.NewBaseEvent(events.WorkflowExecutionStartedEvent, workflow.ID),
		ExecutionID:  execution.ID,
		WorkflowName: workflow.Name,
		SubjectID:    subjectID,
		Context:      models.CloneMap(data),
	})

	return workflow, execution, nil
}

// run drives the frontier until nothing is ready. Status is re-read at every
// node boundary so a pause or cancel from another caller stops the walk
// before the next node starts.
func (e *Executor) run(ctx context.Context, workflow *models.WorkflowDefinition, execution *models.WorkflowExecution) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execution",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
	)
	defer span.End()

	logger := e.logger.With("workflow_id", workflow.ID, "execution_id", execution.ID)

	if execution.Checkpoint == nil {
		start, err := workflow.StartNode()
		if err != nil {
			return e.fail(ctx, execution, "", err)
		}

		execution.Checkpoint = newCheckpoint(workflow, start.ID)
	}

	cp := execution.Checkpoint
	ensureMaps(cp, workflow)

	if execution.Context == nil {
		execution.Context = map[string]any{}
	}

	for {
		if ctx.Err() != nil || e.shuttingDown() {
			// Hand the execution to the resumer.
			logger.WarnContext(ctx, "execution interrupted, pausing", "error", ctx.Err(), "shutdown", e.shuttingDown())

			return e.suspend(context.WithoutCancel(ctx), execution, e.clock.Now().UTC())
		}

		stopped, err := e.stoppedElsewhere(ctx, execution)
		if err != nil || stopped {
			return err
		}

		releaseDue(workflow, execution.Context, cp, e.clock.Now().UTC())

		if len(cp.Ready) == 0 {
			if wake, waiting := cp.NextWake(); waiting {
				return e.suspend(ctx, execution, wake)
			}

			return e.complete(ctx, workflow, execution)
		}

		nodeID := cp.Ready[0]
		cp.Ready = cp.Ready[1:]

		node, ok := workflow.NodeByID(nodeID)
		if !ok {
			return e.fail(ctx, execution, nodeID, fmt.Errorf("%w: node %s not found", models.ErrMalformedGraph, nodeID))
		}

		result, err := e.runNode(ctx, workflow, execution, node)
		if err != nil {
			otelhelper.SetError(span, err)

			return e.fail(ctx, execution, node.ID, err)
		}

		for key, value := range result.Output {
			execution.Context[key] = value
		}

		if result.ResumeAt != nil && result.ResumeAt.After(e.clock.Now()) {
			cp.Delayed = append(cp.Delayed, models.DelayedNode{NodeID: node.ID, Until: result.ResumeAt.UTC()})
		} else {
			resolve(workflow, execution.Context, cp, node.ID)
		}

		if err := e.executions.SaveCheckpoint(ctx, execution.ID, execution.Context, cp); err != nil {
			return e.fail(ctx, execution, node.ID, fmt.Errorf("failed to save checkpoint: %w", err))
		}
	}
}

func (e *Executor) stoppedElsewhere(ctx context.Context, execution *models.WorkflowExecution) (bool, error) {
	current, err := e.executions.GetByID(ctx, execution.ID)
	if err != nil {
		return true, fmt.Errorf("failed to reload execution: %w", err)
	}

	if current.Status != models.ExecutionStatusRunning {
		e.logger.InfoContext(ctx, "execution stopped at node boundary",
			"execution_id", execution.ID, "status", current.Status)

		return true, nil
	}

	return false, nil
}

// runNode writes the RUNNING step, invokes the handler and finishes the step.
// The step is persisted before the outcome is reported.
func (e *Executor) runNode(
	ctx context.Context,
	workflow *models.WorkflowDefinition,
	execution *models.WorkflowExecution,
	node *models.Node,
) (protocol.Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	now := e.clock.Now().UTC()
	step := &models.WorkflowExecutionStep{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      models.StepStatusRunning,
		Input:       models.CloneMap(execution.Context),
		StartedAt:   now,
	}

	if err := e.executions.CreateStep(ctx, step); err != nil {
		return protocol.Result{}, fmt.Errorf("failed to record step for node %s: %w", node.ID, err)
	}

	result, err := e.invoke(ctx, workflow, execution, node, now)

	finished := e.clock.Now().UTC()

	if err != nil {
		otelhelper.SetError(span, err)
		step.Finish(models.StepStatusFailed, nil, err, finished)

		if updateErr := e.executions.UpdateStep(context.WithoutCancel(ctx), step); updateErr != nil {
			e.logger.ErrorContext(ctx, "failed to record failed step",
				"execution_id", execution.ID, "node_id", node.ID, "error", updateErr)
		}

		e.logger.WarnContext(ctx, "node failed",
			"execution_id", execution.ID, "node_id", node.ID, "node_type", node.Type, "error", err)

		e.publish(ctx, execution.ID, events.NodeExecutionFailed{
			BaseEvent:   events.NewBaseEvent(events.NodeExecutionFailedEvent, workflow.ID),
			ExecutionID: execution.ID,
			StepID:      step.ID,
			NodeID:      node.ID,
			NodeType:    node.Type,
			Error:       err.Error(),
			DurationMs:  step.DurationMS,
		})

		return protocol.Result{}, err
	}

	step.Finish(models.StepStatusCompleted, result.Output, nil, finished)

	if err := e.executions.UpdateStep(ctx, step); err != nil {
		return protocol.Result{}, fmt.Errorf("failed to record step for node %s: %w", node.ID, err)
	}

	e.logger.DebugContext(ctx, "node finished",
		"execution_id", execution.ID, "node_id", node.ID, "node_type", node.Type, "duration_ms", step.DurationMS)

	e.publish(ctx, execution.ID, events.NodeExecutionFinished{
		BaseEvent:   events.NewBaseEvent(events.NodeExecutionFinishedEvent, workflow.ID),
		ExecutionID: execution.ID,
		StepID:      step.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		OutputData:  result.Output,
		DurationMs:  step.DurationMS,
	})

	return result, nil
}

func (e *Executor) invoke(
	ctx context.Context,
	workflow *models.WorkflowDefinition,
	execution *models.WorkflowExecution,
	node *models.Node,
	now time.Time,
) (protocol.Result, error) {
	params, err := node.Decode()
	if err != nil {
		return protocol.Result{}, &protocol.NodeActionError{
			NodeID:   node.ID,
			NodeType: node.Type,
			Err:      fmt.Errorf("%w: %w", protocol.ErrInvalidParams, err),
		}
	}

	return e.nodes.Execute(ctx, protocol.NodeInput{
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
		Node:        node,
		Params:      params,
		Context:     models.CloneMap(execution.Context),
		Now:         now,
	})
}

func (e *Executor) complete(ctx context.Context, workflow *models.WorkflowDefinition, execution *models.WorkflowExecution) error {
	now := e.clock.Now().UTC()

	if err := execution.Transition(models.ExecutionStatusCompleted, now); err != nil {
		return err
	}

	if err := e.executions.CompareAndSwap(ctx, execution, models.ExecutionStatusRunning); err != nil {
		return e.lostRace(ctx, execution, err)
	}

	e.count(ctx, workflow.ID, 0, 1, 0)

	e.logger.InfoContext(ctx, "execution completed", "workflow_id", workflow.ID, "execution_id", execution.ID)

	e.publish(ctx, execution.ID, events.WorkflowExecutionCompleted{
		BaseEvent:    events.NewBaseEvent(events.WorkflowExecutionCompletedEvent, workflow.ID),
		ExecutionID:  execution.ID,
		DurationMs:   now.Sub(execution.StartedAt).Milliseconds(),
		FinalContext: models.CloneMap(execution.Context),
	})

	return nil
}

// fail records cause on the execution and returns it.
func (e *Executor) fail(ctx context.Context, execution *models.WorkflowExecution, nodeID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	now := e.clock.Now().UTC()

	execution.Error = cause.Error()

	if err := execution.Transition(models.ExecutionStatusFailed, now); err != nil {
		return errors.Join(cause, err)
	}

	if err := e.executions.CompareAndSwap(ctx, execution, models.ExecutionStatusRunning); err != nil {
		if lost := e.lostRace(ctx, execution, err); lost != nil {
			return errors.Join(cause, lost)
		}

		return cause
	}

	e.count(ctx, execution.WorkflowID, 0, 0, 1)

	e.publish(ctx, execution.ID, events.WorkflowExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionFailedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		NodeID:      nodeID,
		Error:       cause.Error(),
		DurationMs:  now.Sub(execution.StartedAt).Milliseconds(),
	})

	return cause
}

// suspend pauses a running execution until wake; the resumer picks it up.
func (e *Executor) suspend(ctx context.Context, execution *models.WorkflowExecution, wake time.Time) error {
	if err := execution.Transition(models.ExecutionStatusPaused, e.clock.Now().UTC()); err != nil {
		return err
	}

	execution.ResumeAt = &wake

	if err := e.executions.CompareAndSwap(ctx, execution, models.ExecutionStatusRunning); err != nil {
		return e.lostRace(ctx, execution, err)
	}

	e.logger.InfoContext(ctx, "execution waiting", "execution_id", execution.ID, "resume_at", wake)

	e.publish(ctx, execution.ID, events.WorkflowExecutionPaused{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionPausedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		ResumeAt:    &wake,
	})

	return nil
}

// lostRace swallows a status conflict: an operator paused or cancelled the
// execution while the last node ran, and their status stands.
func (e *Executor) lostRace(ctx context.Context, execution *models.WorkflowExecution, err error) error {
	if persistence.IsStatusConflict(err) {
		e.logger.InfoContext(ctx, "execution status changed concurrently", "execution_id", execution.ID)

		return nil
	}

	return err
}

func (e *Executor) count(ctx context.Context, workflowID string, executions, successes, failures int) {
	if err := e.workflows.IncrementCounters(context.WithoutCancel(ctx), workflowID, executions, successes, failures); err != nil {
		e.logger.ErrorContext(ctx, "failed to update workflow counters", "workflow_id", workflowID, "error", err)
	}
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(context.WithoutCancel(ctx), key, event); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
