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

const credentialColumns = `
			id
		  , target
		  , account_name
		  , username_enc
		  , password_enc
		  , account_number_enc
		  , two_factor_method
		  , is_shared
		  , validation_status
		  , last_validated
		  , created_at
		  , updated_at`

// CredentialRepository stores encrypted portal credentials.
type CredentialRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(db *sql.DB, logger *slog.Logger) *CredentialRepository {
	return &CredentialRepository{db: db, logger: logger}
}

// Save creates or replaces a credential.
func (r *CredentialRepository) Save(ctx context.Context, credential *models.PortalCredential) error {
	now := time.Now().UTC()
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}

	credential.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO portal_credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			target = EXCLUDED.target,
			account_name = EXCLUDED.account_name,
			username_enc = EXCLUDED.username_enc,
			password_enc = EXCLUDED.password_enc,
			account_number_enc = EXCLUDED.account_number_enc,
			two_factor_method = EXCLUDED.two_factor_method,
			is_shared = EXCLUDED.is_shared,
			validation_status = EXCLUDED.validation_status,
			last_validated = EXCLUDED.last_validated,
			updated_at = EXCLUDED.updated_at
	`,
		credential.ID,
		credential.Target,
		credential.AccountName,
		credential.Username,
		credential.Password,
		credential.AccountNumber,
		credential.TwoFactorMethod,
		credential.IsShared,
		credential.ValidationStatus,
		credential.LastValidated,
		credential.CreatedAt,
		credential.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}

// GetByID returns one credential.
func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*models.PortalCredential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM portal_credentials WHERE id = $1`, id)

	credential, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewCredentialError("GetByID", id, persistence.ErrCredentialNotFound)
		}

		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}

	return credential, nil
}

// ListByTarget returns the credentials of target; an empty target lists all.
func (r *CredentialRepository) ListByTarget(ctx context.Context, target string) ([]*models.PortalCredential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+credentialColumns+` FROM portal_credentials
		WHERE $1 = '' OR target = $1
		ORDER BY created_at
	`, target)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	credentials := make([]*models.PortalCredential, 0)

	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}

		credentials = append(credentials, credential)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}

	return credentials, nil
}

// UpdateValidation records a credential test result.
func (r *CredentialRepository) UpdateValidation(ctx context.Context, id string, status models.ValidationStatus, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE portal_credentials SET validation_status = $2, last_validated = $3, updated_at = $3 WHERE id = $1
	`, id, status, at)
	if err != nil {
		return fmt.Errorf("failed to update credential validation: %w", err)
	}

	return credentialAffected(result, "UpdateValidation", id)
}

// Delete removes a credential.
func (r *CredentialRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM portal_credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	return credentialAffected(result, "Delete", id)
}

func credentialAffected(result sql.Result, op, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewCredentialError(op, id, persistence.ErrCredentialNotFound)
	}

	return nil
}

func scanCredential(row scanner) (*models.PortalCredential, error) {
	var credential models.PortalCredential

	err := row.Scan(
		&credential.ID,
		&credential.Target,
		&credential.AccountName,
		&credential.Username,
		&credential.Password,
		&credential.AccountNumber,
		&credential.TwoFactorMethod,
		&credential.IsShared,
		&credential.ValidationStatus,
		&credential.LastValidated,
		&credential.CreatedAt,
		&credential.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &credential, nil
}
