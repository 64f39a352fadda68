package file

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
)

// credentialDocument carries the ciphertext fields the public model hides
// from JSON.
type credentialDocument struct {
	models.PortalCredential

	Username      string `json:"username"`
	Password      string `json:"password"`
	AccountNumber string `json:"account_number,omitempty"`
}

func (d *credentialDocument) credential() *models.PortalCredential {
	credential := d.PortalCredential
	credential.Username = d.Username
	credential.Password = d.Password
	credential.AccountNumber = d.AccountNumber

	return &credential
}

// CredentialRepository stores encrypted credentials as JSON documents.
type CredentialRepository struct {
	p    *Persistence
	docs collection
}

func (cr *CredentialRepository) get(op, id string) (*models.PortalCredential, error) {
	var doc credentialDocument
	if err := cr.docs.load(id, &doc); err != nil {
		if errors.Is(err, errDocumentNotFound) {
			return nil, persistence.NewCredentialError(op, id, persistence.ErrCredentialNotFound)
		}

		return nil, err
	}

	return doc.credential(), nil
}

func (cr *CredentialRepository) put(credential *models.PortalCredential) error {
	return cr.docs.store(credential.ID, &credentialDocument{
		PortalCredential: *credential,
		Username:         credential.Username,
		Password:         credential.Password,
		AccountNumber:    credential.AccountNumber,
	})
}

// Save creates or replaces a credential.
func (cr *CredentialRepository) Save(_ context.Context, credential *models.PortalCredential) error {
	cr.p.mu.Lock()
	defer cr.p.mu.Unlock()

	now := time.Now().UTC()
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}

	credential.UpdatedAt = now

	return cr.put(credential)
}

// GetByID retrieves a credential.
func (cr *CredentialRepository) GetByID(_ context.Context, id string) (*models.PortalCredential, error) {
	cr.p.mu.Lock()
	defer cr.p.mu.Unlock()

	return cr.get("GetByID", id)
}

// ListByTarget returns the credentials for target; an empty target lists all.
func (cr *CredentialRepository) ListByTarget(_ context.Context, target string) ([]*models.PortalCredential, error) {
	cr.p.mu.Lock()
	defer cr.p.mu.Unlock()

	docs, err := loadAll[credentialDocument](cr.docs)
	if err != nil {
		return nil, err
	}

	credentials := make([]*models.PortalCredential, 0, len(docs))

	for _, doc := range docs {
		if target != "" && doc.Target != target {
			continue
		}

		credentials = append(credentials, doc.credential())
	}

	sort.SliceStable(credentials, func(i, j int) bool {
		return credentials[i].CreatedAt.Before(credentials[j].CreatedAt)
	})

	return credentials, nil
}

// UpdateValidation records the result of a credential test.
func (cr *CredentialRepository) UpdateValidation(_ context.Context, id string, status models.ValidationStatus, at time.Time) error {
	cr.p.mu.Lock()
	defer cr.p.mu.Unlock()

	credential, err := cr.get("UpdateValidation", id)
	if err != nil {
		return err
	}

	credential.ValidationStatus = status
	credential.LastValidated = &at
	credential.UpdatedAt = at

	return cr.put(credential)
}

// Delete removes a credential.
func (cr *CredentialRepository) Delete(_ context.Context, id string) error {
	cr.p.mu.Lock()
	defer cr.p.mu.Unlock()

	if _, err := cr.get("Delete", id); err != nil {
		return err
	}

	return cr.docs.remove(id)
}
