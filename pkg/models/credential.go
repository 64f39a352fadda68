package models

import (
	"log/slog"
	"time"
)

// ValidationStatus is the outcome of the last credential test.
type ValidationStatus string

const (
	ValidationNeedsVerification ValidationStatus = "NEEDS_VERIFICATION"
	ValidationValid             ValidationStatus = "VALID"
	ValidationInvalid           ValidationStatus = "INVALID"
)

// PortalCredential is a stored login for a target portal. The secret fields hold
// ciphertext only; each one is encrypted independently.
type PortalCredential struct {
	ID               string           `json:"id"`
	Target           string           `json:"target"`
	AccountName      string           `json:"account_name"`
	Username         string           `json:"-"`
	Password         string           `json:"-"`
	AccountNumber    string           `json:"-"`
	TwoFactorMethod  string           `json:"two_factor_method,omitempty"`
	IsShared         bool             `json:"is_shared"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	LastValidated    *time.Time       `json:"last_validated,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Credentials is decrypted login material. Keep it in local scope only.
type Credentials struct {
	Username      string
	Password      string
	AccountNumber string
}

// String redacts every field.
func (Credentials) String() string {
	return "Credentials{redacted}"
}

// LogValue keeps slog from printing the fields.
func (c Credentials) LogValue() slog.Value {
	return slog.StringValue(c.String())
}
