package models

import "time"

// Selectors locate the form fields a strategy drives. Empty values fall back to
// the generic defaults.
type Selectors struct {
	Username           string            `json:"username,omitempty"`
	Password           string            `json:"password,omitempty"`
	LoginSubmit        string            `json:"login_submit,omitempty"`
	LoggedInMarker     string            `json:"logged_in_marker,omitempty"`
	ClaimSubmit        string            `json:"claim_submit,omitempty"`
	Confirmation       string            `json:"confirmation,omitempty"`
	Captcha            string            `json:"captcha,omitempty"`
	TwoFactor          string            `json:"two_factor,omitempty"`
	ErrorMessage       string            `json:"error_message,omitempty"`
	ClaimFields        map[string]string `json:"claim_fields,omitempty"`
	ConfirmationRegexp string            `json:"confirmation_regexp,omitempty"`
}

// PortalConfig is static reference data for one target portal.
type PortalConfig struct {
	Target                string        `json:"target"                  validate:"required"`
	DisplayName           string        `json:"display_name"`
	LoginURL              string        `json:"login_url"               validate:"required,url"`
	ClaimsURL             string        `json:"claims_url"              validate:"required,url"`
	TrackingURL           string        `json:"tracking_url,omitempty"  validate:"omitempty,url"`
	Selectors             Selectors     `json:"selectors"`
	HasCaptcha            bool          `json:"has_captcha"`
	CaptchaType           string        `json:"captcha_type,omitempty"`
	MaxConcurrentSessions int           `json:"max_concurrent_sessions" validate:"gte=0"`
	SessionTimeout        time.Duration `json:"session_timeout"`
}

// ConcurrencyLimit returns the session bound, defaulting to one.
func (p *PortalConfig) ConcurrencyLimit() int {
	if p.MaxConcurrentSessions <= 0 {
		return 1
	}

	return p.MaxConcurrentSessions
}
