package file

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
)

// PortalConfigRepository stores portal reference data keyed by target.
type PortalConfigRepository struct {
	p    *Persistence
	docs collection
}

// GetByTarget returns the configuration for target.
func (pr *PortalConfigRepository) GetByTarget(_ context.Context, target string) (*models.PortalConfig, error) {
	pr.p.mu.Lock()
	defer pr.p.mu.Unlock()

	var config models.PortalConfig
	if err := pr.docs.load(target, &config); err != nil {
		if errors.Is(err, errDocumentNotFound) {
			return nil, fmt.Errorf("portal %s: %w", target, persistence.ErrPortalConfigNotFound)
		}

		return nil, err
	}

	return &config, nil
}

// List returns every configured portal ordered by target.
func (pr *PortalConfigRepository) List(_ context.Context) ([]*models.PortalConfig, error) {
	pr.p.mu.Lock()
	defer pr.p.mu.Unlock()

	return loadAll[models.PortalConfig](pr.docs)
}

// Save creates or replaces the configuration of a target.
func (pr *PortalConfigRepository) Save(_ context.Context, config *models.PortalConfig) error {
	pr.p.mu.Lock()
	defer pr.p.mu.Unlock()

	return pr.docs.store(config.Target, config)
}
