package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/lib/pq"
)

const executionColumns = `
			id
		  , workflow_id
		  , subject_id
		  , status
		  , context
		  , checkpoint
		  , resume_at
		  , error_message
		  , started_at
		  , updated_at
		  , paused_at
		  , completed_at`

const stepColumns = `
			id
		  , execution_id
		  , node_id
		  , node_type
		  , status
		  , input
		  , output
		  , error_message
		  , started_at
		  , completed_at
		  , duration_ms`

// ExecutionRepository handles executions and their step audit trail.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create inserts a new execution.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	contextJSON, checkpointJSON, err := executionDocuments(execution.Context, execution.Checkpoint)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		execution.ID,
		execution.WorkflowID,
		execution.SubjectID,
		execution.Status,
		contextJSON,
		checkpointJSON,
		execution.ResumeAt,
		execution.Error,
		execution.StartedAt,
		execution.UpdatedAt,
		execution.PausedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// GetByID returns one execution.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// ListByWorkflow returns the executions of a workflow, newest first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	return r.query(ctx, `
		SELECT `+executionColumns+` FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
	`, workflowID)
}

// CompareAndSwap writes execution only when the stored status matches.
func (r *ExecutionRepository) CompareAndSwap(ctx context.Context, execution *models.WorkflowExecution, expected ...models.ExecutionStatus) error {
	contextJSON, checkpointJSON, err := executionDocuments(execution.Context, execution.Checkpoint)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_executions SET
			status = $2,
			context = $3,
			checkpoint = $4,
			resume_at = $5,
			error_message = $6,
			updated_at = $7,
			paused_at = $8,
			completed_at = $9
		WHERE id = $1 AND (cardinality($10::text[]) = 0 OR status = ANY($10))
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.Status,
		contextJSON,
		checkpointJSON,
		execution.ResumeAt,
		execution.Error,
		execution.UpdatedAt,
		execution.PausedAt,
		execution.CompletedAt,
		pq.Array(statusList(expected)),
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, execution.ID); err != nil {
		return err
	}

	return persistence.NewExecutionError("CompareAndSwap", execution.ID, persistence.ErrStatusConflict)
}

// UpdateStatus persists the status fields only, guarded by expected.
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, execution *models.WorkflowExecution, expected ...models.ExecutionStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions SET
			status = $2,
			resume_at = $3,
			error_message = $4,
			updated_at = $5,
			paused_at = $6,
			completed_at = $7
		WHERE id = $1 AND (cardinality($8::text[]) = 0 OR status = ANY($8))
	`,
		execution.ID,
		execution.Status,
		execution.ResumeAt,
		execution.Error,
		execution.UpdatedAt,
		execution.PausedAt,
		execution.CompletedAt,
		pq.Array(statusList(expected)),
	)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, execution.ID); err != nil {
		return err
	}

	return persistence.NewExecutionError("UpdateStatus", execution.ID, persistence.ErrStatusConflict)
}

// SaveCheckpoint updates context and frontier without touching status.
func (r *ExecutionRepository) SaveCheckpoint(ctx context.Context, id string, data map[string]any, checkpoint *models.Checkpoint) error {
	contextJSON, checkpointJSON, err := executionDocuments(data, checkpoint)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions SET context = $2, checkpoint = $3, updated_at = $4 WHERE id = $1
	`, id, contextJSON, checkpointJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("SaveCheckpoint", id, persistence.ErrExecutionNotFound)
	}

	return nil
}

// DueForResume lists paused executions whose resume time has passed.
func (r *ExecutionRepository) DueForResume(ctx context.Context, now time.Time) ([]*models.WorkflowExecution, error) {
	return r.query(ctx, `
		SELECT `+executionColumns+` FROM workflow_executions
		WHERE status = $1 AND resume_at IS NOT NULL AND resume_at <= $2
		ORDER BY resume_at
	`, models.ExecutionStatusPaused, now)
}

// CreateStep inserts a step record.
func (r *ExecutionRepository) CreateStep(ctx context.Context, step *models.WorkflowExecutionStep) error {
	inputJSON, err := marshalJSON(step.Input)
	if err != nil {
		return err
	}

	outputJSON, err := marshalJSON(step.Output)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_execution_steps (`+stepColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		step.ID,
		step.ExecutionID,
		step.NodeID,
		step.NodeType,
		step.Status,
		inputJSON,
		outputJSON,
		step.Error,
		step.StartedAt,
		step.CompletedAt,
		step.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution step: %w", err)
	}

	return nil
}

// UpdateStep records the terminal state of a step.
func (r *ExecutionRepository) UpdateStep(ctx context.Context, step *models.WorkflowExecutionStep) error {
	outputJSON, err := marshalJSON(step.Output)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_execution_steps SET
			status = $2, output = $3, error_message = $4, completed_at = $5, duration_ms = $6
		WHERE id = $1
	`, step.ID, step.Status, outputJSON, step.Error, step.CompletedAt, step.DurationMS)
	if err != nil {
		return fmt.Errorf("failed to update execution step: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("UpdateStep", step.ExecutionID, persistence.ErrStepNotFound)
	}

	return nil
}

// Steps returns the audit trail in start order.
func (r *ExecutionRepository) Steps(ctx context.Context, executionID string) ([]*models.WorkflowExecutionStep, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stepColumns+` FROM workflow_execution_steps
		WHERE execution_id = $1
		ORDER BY started_at, id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.WorkflowExecutionStep, 0)

	for rows.Next() {
		var (
			step       models.WorkflowExecutionStep
			inputJSON  []byte
			outputJSON []byte
		)

		err := rows.Scan(
			&step.ID,
			&step.ExecutionID,
			&step.NodeID,
			&step.NodeType,
			&step.Status,
			&inputJSON,
			&outputJSON,
			&step.Error,
			&step.StartedAt,
			&step.CompletedAt,
			&step.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution step: %w", err)
		}

		if err := unmarshalJSON(inputJSON, &step.Input); err != nil {
			return nil, err
		}

		if err := unmarshalJSON(outputJSON, &step.Output); err != nil {
			return nil, err
		}

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution steps: %w", err)
	}

	return steps, nil
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func executionDocuments(data map[string]any, checkpoint *models.Checkpoint) ([]byte, []byte, error) {
	if data == nil {
		data = map[string]any{}
	}

	contextJSON, err := marshalJSON(data)
	if err != nil {
		return nil, nil, err
	}

	if checkpoint == nil {
		return contextJSON, nil, nil
	}

	checkpointJSON, err := marshalJSON(checkpoint)
	if err != nil {
		return nil, nil, err
	}

	return contextJSON, checkpointJSON, nil
}

func scanExecution(row scanner) (*models.WorkflowExecution, error) {
	var (
		execution      models.WorkflowExecution
		contextJSON    []byte
		checkpointJSON []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.SubjectID,
		&execution.Status,
		&contextJSON,
		&checkpointJSON,
		&execution.ResumeAt,
		&execution.Error,
		&execution.StartedAt,
		&execution.UpdatedAt,
		&execution.PausedAt,
		&execution.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(contextJSON, &execution.Context); err != nil {
		return nil, err
	}

	if len(checkpointJSON) > 0 {
		execution.Checkpoint = &models.Checkpoint{}
		if err := unmarshalJSON(checkpointJSON, execution.Checkpoint); err != nil {
			return nil, err
		}
	}

	return &execution, nil
}
