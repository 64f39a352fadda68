// Package portals holds the per-target automation strategies: how to tell a
// login worked, how to fill a claim form and how to read the confirmation.
package portals

import (
	"context"
	"errors"

	"github.com/dukex/claimflow/pkg/browser"
	"github.com/dukex/claimflow/pkg/models"
)

var (
	ErrLoginFailure           = errors.New("portal login failed")
	ErrFormFillFailure        = errors.New("claim form fill failed")
	ErrConfirmationExtraction = errors.New("confirmation number not found")
	ErrNeedsCaptcha           = errors.New("portal requires a captcha")
	ErrNeeds2FA               = errors.New("portal requires two-factor authentication")
)

// Confirmation is what a portal returns after a claim is submitted.
type Confirmation struct {
	ConfirmationNumber string
	ClaimNumber        string
}

// Strategy is the target-specific part of a portal submission.
type Strategy interface {
	// Defaults are the locators used where the portal config leaves one empty.
	Defaults() models.Selectors

	// VerifyLogin reports whether the session is logged in. It is bounded by
	// LoginProbeTimeout and never fails: a timeout is false.
	VerifyLogin(ctx context.Context, session browser.Session, selectors models.Selectors) bool

	// FillClaimForm types the form snapshot into the claim form. It does not submit.
	FillClaimForm(ctx context.Context, session browser.Session, selectors models.Selectors, form map[string]any) error

	// ExtractConfirmation reads the confirmation after submit, from the DOM or
	// by pattern over the page content.
	ExtractConfirmation(ctx context.Context, session browser.Session, selectors models.Selectors) (Confirmation, error)
}

// Resolve overlays the configured selectors on the strategy defaults.
func Resolve(strategy Strategy, configured models.Selectors) models.Selectors {
	resolved := strategy.Defaults()

	pick := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}

	pick(&resolved.Username, configured.Username)
	pick(&resolved.Password, configured.Password)
	pick(&resolved.LoginSubmit, configured.LoginSubmit)
	pick(&resolved.LoggedInMarker, configured.LoggedInMarker)
	pick(&resolved.ClaimSubmit, configured.ClaimSubmit)
	pick(&resolved.Confirmation, configured.Confirmation)
	pick(&resolved.Captcha, configured.Captcha)
	pick(&resolved.TwoFactor, configured.TwoFactor)
	pick(&resolved.ErrorMessage, configured.ErrorMessage)
	pick(&resolved.ConfirmationRegexp, configured.ConfirmationRegexp)

	fields := make(map[string]string, len(resolved.ClaimFields)+len(configured.ClaimFields))
	for name, selector := range resolved.ClaimFields {
		fields[name] = selector
	}

	for name, selector := range configured.ClaimFields {
		fields[name] = selector
	}

	resolved.ClaimFields = fields

	return resolved
}

// DetectChallenge reports ErrNeedsCaptcha or ErrNeeds2FA when the page shows
// one. A portal flagged HasCaptcha is checked for the captcha locator even when
// the strategy has none.
func DetectChallenge(ctx context.Context, session browser.Session, config *models.PortalConfig, selectors models.Selectors) error {
	captcha := selectors.Captcha
	if captcha == "" && config.HasCaptcha {
		captcha = defaultCaptchaSelector
	}

	if captcha != "" {
		if ok, err := session.Exists(ctx, captcha); err == nil && ok {
			return ErrNeedsCaptcha
		}
	}

	if selectors.TwoFactor != "" {
		if ok, err := session.Exists(ctx, selectors.TwoFactor); err == nil && ok {
			return ErrNeeds2FA
		}
	}

	return nil
}
