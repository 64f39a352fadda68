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

const portalColumns = `
			target
		  , display_name
		  , login_url
		  , claims_url
		  , tracking_url
		  , selectors
		  , has_captcha
		  , captcha_type
		  , max_concurrent_sessions
		  , session_timeout_ms`

// PortalConfigRepository serves portal reference data.
type PortalConfigRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPortalConfigRepository creates a new portal config repository.
func NewPortalConfigRepository(db *sql.DB, logger *slog.Logger) *PortalConfigRepository {
	return &PortalConfigRepository{db: db, logger: logger}
}

// GetByTarget returns the configuration of target.
func (r *PortalConfigRepository) GetByTarget(ctx context.Context, target string) (*models.PortalConfig, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+portalColumns+` FROM portal_configs WHERE target = $1`, target)

	config, err := scanPortal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("portal %s: %w", target, persistence.ErrPortalConfigNotFound)
		}

		return nil, fmt.Errorf("failed to scan portal config: %w", err)
	}

	return config, nil
}

// List returns every configured portal.
func (r *PortalConfigRepository) List(ctx context.Context) ([]*models.PortalConfig, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+portalColumns+` FROM portal_configs ORDER BY target`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portal configs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	configs := make([]*models.PortalConfig, 0)

	for rows.Next() {
		config, err := scanPortal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portal config: %w", err)
		}

		configs = append(configs, config)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portal configs: %w", err)
	}

	return configs, nil
}

// Save creates or replaces the configuration of a target.
func (r *PortalConfigRepository) Save(ctx context.Context, config *models.PortalConfig) error {
	selectorsJSON, err := marshalJSON(config.Selectors)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO portal_configs (`+portalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (target) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			login_url = EXCLUDED.login_url,
			claims_url = EXCLUDED.claims_url,
			tracking_url = EXCLUDED.tracking_url,
			selectors = EXCLUDED.selectors,
			has_captcha = EXCLUDED.has_captcha,
			captcha_type = EXCLUDED.captcha_type,
			max_concurrent_sessions = EXCLUDED.max_concurrent_sessions,
			session_timeout_ms = EXCLUDED.session_timeout_ms
	`,
		config.Target,
		config.DisplayName,
		config.LoginURL,
		config.ClaimsURL,
		config.TrackingURL,
		selectorsJSON,
		config.HasCaptcha,
		config.CaptchaType,
		config.MaxConcurrentSessions,
		config.SessionTimeout.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save portal config: %w", err)
	}

	return nil
}

func scanPortal(row scanner) (*models.PortalConfig, error) {
	var (
		config        models.PortalConfig
		selectorsJSON []byte
		timeoutMS     int64
	)

	err := row.Scan(
		&config.Target,
		&config.DisplayName,
		&config.LoginURL,
		&config.ClaimsURL,
		&config.TrackingURL,
		&selectorsJSON,
		&config.HasCaptcha,
		&config.CaptchaType,
		&config.MaxConcurrentSessions,
		&timeoutMS,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(selectorsJSON, &config.Selectors); err != nil {
		return nil, err
	}

	config.SessionTimeout = time.Duration(timeoutMS) * time.Millisecond

	return &config, nil
}
