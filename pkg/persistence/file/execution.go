package file

import (
	"context"
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
)

// ExecutionRepository stores executions and their steps. Steps live in a
// sub-directory per execution.
type ExecutionRepository struct {
	p    *Persistence
	docs collection
}

func (er *ExecutionRepository) steps(executionID string) collection {
	return er.docs.sub(executionID + "-steps")
}

func (er *ExecutionRepository) get(id string) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution
	if err := er.docs.load(id, &execution); err != nil {
		if errors.Is(err, errDocumentNotFound) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, err
	}

	return &execution, nil
}

// Create stores a new execution.
func (er *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	return er.docs.store(execution.ID, execution)
}

// GetByID retrieves an execution.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	return er.get(id)
}

// ListByWorkflow returns executions of a workflow, newest first.
func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	all, err := loadAll[models.WorkflowExecution](er.docs)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0, len(all))
	for _, execution := range all {
		if execution.WorkflowID == workflowID {
			executions = append(executions, execution)
		}
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	return executions, nil
}

// CompareAndSwap persists execution if the stored status is one of expected.
func (er *ExecutionRepository) CompareAndSwap(_ context.Context, execution *models.WorkflowExecution, expected ...models.ExecutionStatus) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	current, err := er.get(execution.ID)
	if err != nil {
		return err
	}

	if len(expected) > 0 && !slices.Contains(expected, current.Status) {
		return persistence.NewExecutionError("CompareAndSwap", execution.ID, persistence.ErrStatusConflict)
	}

	return er.docs.store(execution.ID, execution)
}

// UpdateStatus persists the status fields if the stored status is one of expected.
func (er *ExecutionRepository) UpdateStatus(_ context.Context, execution *models.WorkflowExecution, expected ...models.ExecutionStatus) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	current, err := er.get(execution.ID)
	if err != nil {
		return err
	}

	if len(expected) > 0 && !slices.Contains(expected, current.Status) {
		return persistence.NewExecutionError("UpdateStatus", execution.ID, persistence.ErrStatusConflict)
	}

	current.Status = execution.Status
	current.ResumeAt = execution.ResumeAt
	current.Error = execution.Error
	current.UpdatedAt = execution.UpdatedAt
	current.PausedAt = execution.PausedAt
	current.CompletedAt = execution.CompletedAt

	return er.docs.store(execution.ID, current)
}

// SaveCheckpoint updates the context and frontier only.
func (er *ExecutionRepository) SaveCheckpoint(_ context.Context, id string, data map[string]any, checkpoint *models.Checkpoint) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	current, err := er.get(id)
	if err != nil {
		return err
	}

	current.Context = data
	current.Checkpoint = checkpoint
	current.UpdatedAt = time.Now().UTC()

	return er.docs.store(id, current)
}

// DueForResume lists paused executions whose resume time has passed.
func (er *ExecutionRepository) DueForResume(_ context.Context, now time.Time) ([]*models.WorkflowExecution, error) {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	all, err := loadAll[models.WorkflowExecution](er.docs)
	if err != nil {
		return nil, err
	}

	var due []*models.WorkflowExecution

	for _, execution := range all {
		if execution.Status == models.ExecutionStatusPaused && execution.ResumeAt != nil && !execution.ResumeAt.After(now) {
			due = append(due, execution)
		}
	}

	return due, nil
}

// CreateStep appends a step record.
func (er *ExecutionRepository) CreateStep(_ context.Context, step *models.WorkflowExecutionStep) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	return er.steps(step.ExecutionID).store(step.ID, step)
}

// UpdateStep rewrites an existing step record.
func (er *ExecutionRepository) UpdateStep(_ context.Context, step *models.WorkflowExecutionStep) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	var existing models.WorkflowExecutionStep
	if err := er.steps(step.ExecutionID).load(step.ID, &existing); err != nil {
		if errors.Is(err, errDocumentNotFound) {
			return persistence.NewExecutionError("UpdateStep", step.ExecutionID, persistence.ErrStepNotFound)
		}

		return err
	}

	return er.steps(step.ExecutionID).store(step.ID, step)
}

// Steps returns the audit trail of an execution in start order.
func (er *ExecutionRepository) Steps(_ context.Context, executionID string) ([]*models.WorkflowExecutionStep, error) {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	steps, err := loadAll[models.WorkflowExecutionStep](er.steps(executionID))
	if err != nil {
		return nil, err
	}

	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].StartedAt.Equal(steps[j].StartedAt) {
			return steps[i].ID < steps[j].ID
		}

		return steps[i].StartedAt.Before(steps[j].StartedAt)
	})

	return steps, nil
}
