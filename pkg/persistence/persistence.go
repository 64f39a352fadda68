// Package persistence provides the data storage abstraction layer for workflows,
// executions, the submission queue, credentials and portal reference data.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/claimflow/pkg/models"
)

// Persistence groups the repositories a deployment needs.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	SubmissionRepository() SubmissionRepository
	CredentialRepository() CredentialRepository
	PortalConfigRepository() PortalConfigRepository
	CaseRepository() CaseRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	Save(ctx context.Context, workflow *models.WorkflowDefinition) error
	Delete(ctx context.Context, id string) error

	// IncrementCounters adds the deltas to the execution/success/failure counters.
	IncrementCounters(ctx context.Context, id string, executions, successes, failures int) error
}

// ExecutionRepository stores executions and their step audit trail.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)

	// CompareAndSwap persists execution only if the stored status is one of
	// expected; otherwise it returns ErrStatusConflict.
	CompareAndSwap(ctx context.Context, execution *models.WorkflowExecution, expected ...models.ExecutionStatus) error

	// UpdateStatus persists only the status, timestamps, resume time and error
	// of execution, guarded like CompareAndSwap. Context and checkpoint stay as
	// the running executor last saved them.
	UpdateStatus(ctx context.Context, execution *models.WorkflowExecution, expected ...models.ExecutionStatus) error

	// SaveCheckpoint updates context and frontier without touching status.
	SaveCheckpoint(ctx context.Context, id string, data map[string]any, checkpoint *models.Checkpoint) error

	// DueForResume lists paused executions whose resume time has passed.
	DueForResume(ctx context.Context, now time.Time) ([]*models.WorkflowExecution, error)

	CreateStep(ctx context.Context, step *models.WorkflowExecutionStep) error
	UpdateStep(ctx context.Context, step *models.WorkflowExecutionStep) error
	Steps(ctx context.Context, executionID string) ([]*models.WorkflowExecutionStep, error)
}

// SubmissionFilter narrows List results; zero values match everything.
type SubmissionFilter struct {
	Status models.SubmissionStatus
	CaseID string
	Target string
}

// SubmissionRepository is the durable submission queue.
type SubmissionRepository interface {
	Create(ctx context.Context, item *models.SubmissionQueueItem) error
	GetByID(ctx context.Context, id string) (*models.SubmissionQueueItem, error)
	List(ctx context.Context, filter SubmissionFilter) ([]*models.SubmissionQueueItem, error)

	// ClaimNext atomically selects the highest-priority, earliest-scheduled due
	// item, marks it IN_PROGRESS, increments its attempt count and stamps
	// LastAttemptAt. It returns ErrNoSubmissionDue when the queue is idle.
	ClaimNext(ctx context.Context, now time.Time) (*models.SubmissionQueueItem, error)

	// Update persists item; when expected is non-empty the stored status must be
	// one of them or ErrStatusConflict is returned.
	Update(ctx context.Context, item *models.SubmissionQueueItem, expected ...models.SubmissionStatus) error

	AppendHistory(ctx context.Context, entry *models.SubmissionHistoryEntry) error
	History(ctx context.Context, submissionID string) ([]*models.SubmissionHistoryEntry, error)
}

// CredentialRepository stores encrypted portal credentials.
type CredentialRepository interface {
	Save(ctx context.Context, credential *models.PortalCredential) error
	GetByID(ctx context.Context, id string) (*models.PortalCredential, error)
	ListByTarget(ctx context.Context, target string) ([]*models.PortalCredential, error)
	UpdateValidation(ctx context.Context, id string, status models.ValidationStatus, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// PortalConfigRepository serves per-target reference data.
type PortalConfigRepository interface {
	GetByTarget(ctx context.Context, target string) (*models.PortalConfig, error)
	List(ctx context.Context) ([]*models.PortalConfig, error)
	Save(ctx context.Context, config *models.PortalConfig) error
}

// CaseRepository is the narrow view of case storage the core needs.
type CaseRepository interface {
	GetByID(ctx context.Context, id string) (*models.Case, error)
	Save(ctx context.Context, c *models.Case) error

	// MarkFiled advances the case to status and records the claim number.
	MarkFiled(ctx context.Context, id, status, claimNumber string) error
}
