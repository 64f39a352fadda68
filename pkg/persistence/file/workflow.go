package file

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	p    *Persistence
	docs collection
}

// GetAll returns every workflow ordered by creation time.
func (wr *WorkflowRepository) GetAll(_ context.Context) ([]*models.WorkflowDefinition, error) {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	workflows, err := loadAll[models.WorkflowDefinition](wr.docs)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	return wr.get(id)
}

func (wr *WorkflowRepository) get(id string) (*models.WorkflowDefinition, error) {
	var workflow models.WorkflowDefinition
	if err := wr.docs.load(id, &workflow); err != nil {
		if errors.Is(err, errDocumentNotFound) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, err
	}

	return &workflow, nil
}

// Save saves a workflow to the file system.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.WorkflowDefinition) error {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return wr.docs.store(workflow.ID, workflow)
}

// Delete removes a workflow by its ID.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	return wr.docs.remove(id)
}

// IncrementCounters adds the deltas to the workflow counters.
func (wr *WorkflowRepository) IncrementCounters(_ context.Context, id string, executions, successes, failures int) error {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	workflow, err := wr.get(id)
	if err != nil {
		return err
	}

	workflow.ExecutionCount += executions
	workflow.SuccessCount += successes
	workflow.FailureCount += failures

	return wr.docs.store(id, workflow)
}
