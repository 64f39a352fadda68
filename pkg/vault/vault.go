// Package vault stores portal credentials with every secret field encrypted
// independently, and tests them against the live portal.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// LoginChecker attempts a login in an isolated browser session and reports
// whether the portal accepted it. The session is closed before it returns.
type LoginChecker interface {
	CheckLogin(ctx context.Context, target string, credentials models.Credentials) (bool, error)
}

// StoreRequest is the operator input for a new credential. Secret fields are
// stored as given, empty strings included.
type StoreRequest struct {
	Target          string `json:"target"            validate:"required"`
	AccountName     string `json:"account_name"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	AccountNumber   string `json:"account_number"`
	TwoFactorMethod string `json:"two_factor_method"`
	IsShared        bool   `json:"is_shared"`
}

// CredentialSummary is a listing row with the secrets withheld.
type CredentialSummary struct {
	*models.PortalCredential

	MaskedUsername string `json:"masked_username"`
}

// Vault encrypts, stores and decrypts portal credentials.
type Vault struct {
	cipher    *Cipher
	repo      persistence.CredentialRepository
	checker   LoginChecker
	clock     clock.PassiveClock
	validator *validator.Validate
	logger    *slog.Logger
}

// New creates a vault. checker may be nil when TestCredentials is not used.
func New(cipher *Cipher, repo persistence.CredentialRepository, checker LoginChecker, clk clock.PassiveClock, logger *slog.Logger) *Vault {
	return &Vault{
		cipher:    cipher,
		repo:      repo,
		checker:   checker,
		clock:     clk,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With("module", "vault"),
	}
}

// StoreCredentials encrypts each secret field on its own and persists the
// credential as NEEDS_VERIFICATION.
func (v *Vault) StoreCredentials(ctx context.Context, req StoreRequest) (*models.PortalCredential, error) {
	if err := v.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid credential: %w", err)
	}

	username, err := v.cipher.Seal(req.Username)
	if err != nil {
		return nil, err
	}

	password, err := v.cipher.Seal(req.Password)
	if err != nil {
		return nil, err
	}

	var accountNumber string
	if req.AccountNumber != "" {
		accountNumber, err = v.cipher.Seal(req.AccountNumber)
		if err != nil {
			return nil, err
		}
	}

	now := v.clock.Now().UTC()
	credential := &models.PortalCredential{
		ID:               uuid.Must(uuid.NewV7()).String(),
		Target:           req.Target,
		AccountName:      req.AccountName,
		Username:         username,
		Password:         password,
		AccountNumber:    accountNumber,
		TwoFactorMethod:  req.TwoFactorMethod,
		IsShared:         req.IsShared,
		ValidationStatus: models.ValidationNeedsVerification,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := v.repo.Save(ctx, credential); err != nil {
		v.logger.ErrorContext(ctx, "failed to store credential", "target", req.Target, "error", err)

		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	v.logger.InfoContext(ctx, "credential stored", "credential_id", credential.ID, "target", credential.Target)

	return credential, nil
}

// GetCredentials decrypts a credential for immediate use. Callers keep the
// result in local scope only.
func (v *Vault) GetCredentials(ctx context.Context, id string) (models.Credentials, error) {
	credential, err := v.repo.GetByID(ctx, id)
	if err != nil {
		return models.Credentials{}, err
	}

	return v.decrypt(credential)
}

func (v *Vault) decrypt(credential *models.PortalCredential) (models.Credentials, error) {
	var (
		plain models.Credentials
		err   error
	)

	if plain.Username, err = v.cipher.Open(credential.Username); err != nil {
		return models.Credentials{}, fmt.Errorf("credential %s username: %w", credential.ID, err)
	}

	if plain.Password, err = v.cipher.Open(credential.Password); err != nil {
		return models.Credentials{}, fmt.Errorf("credential %s password: %w", credential.ID, err)
	}

	if credential.AccountNumber != "" {
		if plain.AccountNumber, err = v.cipher.Open(credential.AccountNumber); err != nil {
			return models.Credentials{}, fmt.Errorf("credential %s account number: %w", credential.ID, err)
		}
	}

	return plain, nil
}

// TestCredentials logs in to the credential's portal and records VALID or
// INVALID. A login that cannot be attempted at all is returned as an error and
// leaves the stored status untouched.
func (v *Vault) TestCredentials(ctx context.Context, id string) (models.ValidationStatus, error) {
	if v.checker == nil {
		return "", fmt.Errorf("credential testing is not configured")
	}

	credential, err := v.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	plain, err := v.decrypt(credential)
	if err != nil {
		return "", err
	}

	ok, err := v.checker.CheckLogin(ctx, credential.Target, plain)
	if err != nil {
		v.logger.ErrorContext(ctx, "credential test failed to run", "credential_id", id, "target", credential.Target, "error", err)

		return "", fmt.Errorf("failed to test credential %s: %w", id, err)
	}

	status := models.ValidationInvalid
	if ok {
		status = models.ValidationValid
	}

	if err := v.repo.UpdateValidation(ctx, id, status, v.clock.Now().UTC()); err != nil {
		return "", err
	}

	v.logger.InfoContext(ctx, "credential tested", "credential_id", id, "target", credential.Target, "status", status)

	return status, nil
}

// ListCredentials returns the credentials of target with secrets withheld.
func (v *Vault) ListCredentials(ctx context.Context, target string) ([]*CredentialSummary, error) {
	credentials, err := v.repo.ListByTarget(ctx, target)
	if err != nil {
		return nil, err
	}

	summaries := make([]*CredentialSummary, 0, len(credentials))

	for _, credential := range credentials {
		masked := "****"
		if username, err := v.cipher.Open(credential.Username); err == nil {
			masked = Mask(username)
		}

		credential.Username, credential.Password, credential.AccountNumber = "", "", ""
		summaries = append(summaries, &CredentialSummary{PortalCredential: credential, MaskedUsername: masked})
	}

	return summaries, nil
}

// DeleteCredential removes a stored credential.
func (v *Vault) DeleteCredential(ctx context.Context, id string) error {
	if err := v.repo.Delete(ctx, id); err != nil {
		return err
	}

	v.logger.InfoContext(ctx, "credential deleted", "credential_id", id)

	return nil
}

// Mask keeps the first character of s.
func Mask(s string) string {
	runes := []rune(s)
	if len(runes) <= 1 {
		return "****"
	}

	return string(runes[0]) + strings.Repeat("*", min(len(runes)-1, 8))
}
