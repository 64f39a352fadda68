package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/lib/pq"
)

const submissionColumns = `
			id
		  , case_id
		  , target
		  , credential_id
		  , submission_type
		  , priority
		  , form_data
		  , status
		  , attempt_count
		  , max_attempts
		  , scheduled_for
		  , next_attempt_at
		  , last_attempt_at
		  , completed_at
		  , confirmation_number
		  , claim_number
		  , error_message
		  , created_at
		  , updated_at`

// SubmissionRepository is the PostgreSQL submission queue.
type SubmissionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSubmissionRepository creates a new submission repository.
func NewSubmissionRepository(db *sql.DB, logger *slog.Logger) *SubmissionRepository {
	return &SubmissionRepository{db: db, logger: logger}
}

// Create inserts a queue item.
func (r *SubmissionRepository) Create(ctx context.Context, item *models.SubmissionQueueItem) error {
	formJSON, err := marshalJSON(formData(item))
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO submission_queue (`+submissionColumns+`, priority_rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		item.ID,
		item.CaseID,
		item.Target,
		item.CredentialID,
		item.SubmissionType,
		item.Priority,
		formJSON,
		item.Status,
		item.AttemptCount,
		item.MaxAttempts,
		item.ScheduledFor,
		item.NextAttemptAt,
		item.LastAttemptAt,
		item.CompletedAt,
		item.ConfirmationNumber,
		item.ClaimNumber,
		item.ErrorMessage,
		item.CreatedAt,
		item.UpdatedAt,
		item.Priority.Rank(),
	)
	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}

	return nil
}

// GetByID returns one queue item.
func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*models.SubmissionQueueItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submission_queue WHERE id = $1`, id)

	item, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSubmissionError("GetByID", id, persistence.ErrSubmissionNotFound)
		}

		return nil, fmt.Errorf("failed to scan submission: %w", err)
	}

	return item, nil
}

// List returns matching items in service order.
func (r *SubmissionRepository) List(ctx context.Context, filter persistence.SubmissionFilter) ([]*models.SubmissionQueueItem, error) {
	var (
		conditions []string
		args       []any
	)

	add := func(column, value string) {
		if value == "" {
			return
		}

		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	add("status", string(filter.Status))
	add("case_id", filter.CaseID)
	add("target", filter.Target)

	query := `SELECT ` + submissionColumns + ` FROM submission_queue`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}

	query += ` ORDER BY priority_rank DESC, scheduled_for, created_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	items := make([]*models.SubmissionQueueItem, 0)

	for rows.Next() {
		item, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}

	return items, nil
}

// ClaimNext locks the best due row, skipping rows other workers hold.
func (r *SubmissionRepository) ClaimNext(ctx context.Context, now time.Time) (*models.SubmissionQueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE submission_queue SET
			status = $1,
			attempt_count = attempt_count + 1,
			last_attempt_at = $3,
			updated_at = $3
		WHERE id = (
			SELECT id FROM submission_queue
			WHERE status = $2
			  AND scheduled_for <= $3
			  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
			ORDER BY priority_rank DESC, scheduled_for, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+submissionColumns,
		models.SubmissionStatusInProgress, models.SubmissionStatusQueued, now,
	)

	item, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNoSubmissionDue
		}

		return nil, fmt.Errorf("failed to claim submission: %w", err)
	}

	return item, nil
}

// Update writes item, guarded by the expected stored statuses.
func (r *SubmissionRepository) Update(ctx context.Context, item *models.SubmissionQueueItem, expected ...models.SubmissionStatus) error {
	formJSON, err := marshalJSON(formData(item))
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE submission_queue SET
			priority = $2,
			priority_rank = $3,
			form_data = $4,
			status = $5,
			attempt_count = $6,
			max_attempts = $7,
			scheduled_for = $8,
			next_attempt_at = $9,
			last_attempt_at = $10,
			completed_at = $11,
			confirmation_number = $12,
			claim_number = $13,
			error_message = $14,
			updated_at = $15
		WHERE id = $1 AND (cardinality($16::text[]) = 0 OR status = ANY($16))
	`,
		item.ID,
		item.Priority,
		item.Priority.Rank(),
		formJSON,
		item.Status,
		item.AttemptCount,
		item.MaxAttempts,
		item.ScheduledFor,
		item.NextAttemptAt,
		item.LastAttemptAt,
		item.CompletedAt,
		item.ConfirmationNumber,
		item.ClaimNumber,
		item.ErrorMessage,
		item.UpdatedAt,
		pq.Array(statusList(expected)),
	)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, item.ID); err != nil {
		return err
	}

	return persistence.NewSubmissionError("Update", item.ID, persistence.ErrStatusConflict)
}

// AppendHistory inserts a history entry.
func (r *SubmissionRepository) AppendHistory(ctx context.Context, entry *models.SubmissionHistoryEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO submission_history (id, submission_id, case_id, target, action, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		entry.ID,
		entry.SubmissionID,
		entry.CaseID,
		entry.Target,
		entry.Action,
		entry.Status,
		entry.Message,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append submission history: %w", err)
	}

	return nil
}

// History returns the entries of a submission in time order.
func (r *SubmissionRepository) History(ctx context.Context, submissionID string) ([]*models.SubmissionHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, submission_id, case_id, target, action, status, message, created_at
		FROM submission_history
		WHERE submission_id = $1
		ORDER BY created_at, id
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query submission history: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.SubmissionHistoryEntry, 0)

	for rows.Next() {
		var entry models.SubmissionHistoryEntry

		err := rows.Scan(
			&entry.ID,
			&entry.SubmissionID,
			&entry.CaseID,
			&entry.Target,
			&entry.Action,
			&entry.Status,
			&entry.Message,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission history: %w", err)
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submission history: %w", err)
	}

	return entries, nil
}

func formData(item *models.SubmissionQueueItem) map[string]any {
	if item.FormData == nil {
		return map[string]any{}
	}

	return item.FormData
}

func scanSubmission(row scanner) (*models.SubmissionQueueItem, error) {
	var (
		item     models.SubmissionQueueItem
		formJSON []byte
	)

	err := row.Scan(
		&item.ID,
		&item.CaseID,
		&item.Target,
		&item.CredentialID,
		&item.SubmissionType,
		&item.Priority,
		&formJSON,
		&item.Status,
		&item.AttemptCount,
		&item.MaxAttempts,
		&item.ScheduledFor,
		&item.NextAttemptAt,
		&item.LastAttemptAt,
		&item.CompletedAt,
		&item.ConfirmationNumber,
		&item.ClaimNumber,
		&item.ErrorMessage,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(formJSON, &item.FormData); err != nil {
		return nil, err
	}

	return &item, nil
}
