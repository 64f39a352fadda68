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
)

// CaseRepository is the narrow view of the cases table the core needs.
type CaseRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCaseRepository creates a new case repository.
func NewCaseRepository(db *sql.DB, logger *slog.Logger) *CaseRepository {
	return &CaseRepository{db: db, logger: logger}
}

// GetByID returns one case.
func (r *CaseRepository) GetByID(ctx context.Context, id string) (*models.Case, error) {
	var (
		c          models.Case
		fieldsJSON []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, target, status, claim_number, fields, updated_at FROM cases WHERE id = $1
	`, id).Scan(&c.ID, &c.Target, &c.Status, &c.ClaimNumber, &fieldsJSON, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("case %s: %w", id, persistence.ErrCaseNotFound)
		}

		return nil, fmt.Errorf("failed to scan case: %w", err)
	}

	if err := unmarshalJSON(fieldsJSON, &c.Fields); err != nil {
		return nil, err
	}

	return &c, nil
}

// Save creates or replaces a case.
func (r *CaseRepository) Save(ctx context.Context, c *models.Case) error {
	fields := c.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	fieldsJSON, err := marshalJSON(fields)
	if err != nil {
		return err
	}

	c.UpdatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cases (id, target, status, claim_number, fields, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			target = EXCLUDED.target,
			status = EXCLUDED.status,
			claim_number = EXCLUDED.claim_number,
			fields = EXCLUDED.fields,
			updated_at = EXCLUDED.updated_at
	`, c.ID, c.Target, c.Status, c.ClaimNumber, fieldsJSON, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save case: %w", err)
	}

	return nil
}

// MarkFiled advances the case; an empty claim number keeps the stored one.
func (r *CaseRepository) MarkFiled(ctx context.Context, id, status, claimNumber string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE cases SET
			status = $2,
			claim_number = CASE WHEN $3 = '' THEN claim_number ELSE $3 END,
			updated_at = $4
		WHERE id = $1
	`, id, status, claimNumber, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark case filed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("case %s: %w", id, persistence.ErrCaseNotFound)
	}

	return nil
}
