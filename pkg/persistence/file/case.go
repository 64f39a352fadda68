package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
)

// CaseRepository stores the case slice the core reads and advances.
type CaseRepository struct {
	p    *Persistence
	docs collection
}

func (cr *CaseRepository) get(id string) (*models.Case, error) {
	var c models.Case
	if err := cr.docs.load(id, &c); err != nil {
		if errors.Is(err, errDocumentNotFound) {
			return nil, fmt.Errorf("case %s: %w", id, persistence.ErrCaseNotFound)
		}

		return nil, err
	}

	return &c, nil
}

// GetByID retrieves a case.
func (cr *CaseRepository) GetByID(_ context.Context, id string) (*models.Case, error) {
	cr.p.mu.Lock()
	defer cr.p.mu.Unlock()

	return cr.get(id)
}

// Save creates or replaces a case.
func (cr *CaseRepository) Save(_ context.Context, c *models.Case) error {
	cr.p.mu.Lock()
	defer cr.p.mu.Unlock()

	c.UpdatedAt = time.Now().UTC()

	return cr.docs.store(c.ID, c)
}

// MarkFiled advances the case and records the portal claim number.
func (cr *CaseRepository) MarkFiled(_ context.Context, id, status, claimNumber string) error {
	cr.p.mu.Lock()
	defer cr.p.mu.Unlock()

	c, err := cr.get(id)
	if err != nil {
		return err
	}

	c.Status = status
	if claimNumber != "" {
		c.ClaimNumber = claimNumber
	}

	c.UpdatedAt = time.Now().UTC()

	return cr.docs.store(id, c)
}
