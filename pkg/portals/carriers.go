package portals

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/dukex/claimflow/pkg/browser"
	"github.com/dukex/claimflow/pkg/models"
)

// FedEx shows the claim number in a summary panel rather than a dedicated
// confirmation element.
type FedEx struct {
	*Generic
}

func NewFedEx(logger *slog.Logger) *FedEx {
	g := NewGeneric(logger)
	g.defaults.Username = "#userId"
	g.defaults.Password = "#password"
	g.defaults.LoginSubmit = "#login-btn"
	g.defaults.LoggedInMarker = ".fdx-o-account-summary"
	g.defaults.ClaimSubmit = "#submitClaim"
	g.defaults.Confirmation = ".claim-summary__number"
	g.defaults.ClaimFields = map[string]string{
		"tracking_number": "#trackingNumber",
		"amount":          "#claimAmount",
		"description":     "#damageDescription",
	}
	g.claimPattern = regexp.MustCompile(`(?i)claim\s*(?:number|#)\s*[:#]?\s*(\d{9,12})`)

	return &FedEx{Generic: g}
}

// ExtractConfirmation uses the FedEx claim number as the confirmation.
func (f *FedEx) ExtractConfirmation(ctx context.Context, session browser.Session, selectors models.Selectors) (Confirmation, error) {
	if present, err := session.Exists(ctx, selectors.Confirmation); err == nil && present {
		if text, err := session.Text(ctx, selectors.Confirmation); err == nil {
			if number := referenceToken(text); number != "" {
				return Confirmation{ConfirmationNumber: number, ClaimNumber: number}, nil
			}
		}
	}

	return f.Generic.ExtractConfirmation(ctx, session, selectors)
}

// UPS renders the reason and shipment type as drop-downs.
type UPS struct {
	*Generic

	selects map[string]bool
}

func NewUPS(logger *slog.Logger) *UPS {
	g := NewGeneric(logger)
	g.defaults.Username = "#email"
	g.defaults.Password = "#pwd"
	g.defaults.LoginSubmit = "#submitBtn"
	g.defaults.LoggedInMarker = "#ups-myups-header"
	g.defaults.ClaimSubmit = "#claimSubmit"
	g.defaults.Confirmation = "#claimConfirmationNumber"
	g.defaults.ClaimFields = map[string]string{
		"tracking_number": "#trackingNumber",
		"amount":          "#merchandiseValue",
		"description":     "#merchandiseDescription",
		"reason":          "#claimReason",
		"shipment_type":   "#shipmentType",
	}

	return &UPS{
		Generic: g,
		selects: map[string]bool{"reason": true, "shipment_type": true},
	}
}

func (u *UPS) FillClaimForm(ctx context.Context, session browser.Session, selectors models.Selectors, form map[string]any) error {
	names := make([]string, 0, len(selectors.ClaimFields))
	for name := range selectors.ClaimFields {
		names = append(names, name)
	}

	sort.Strings(names)

	filled := 0

	for _, name := range names {
		value, ok := models.Lookup(form, name)
		if !ok {
			continue
		}

		text := formValue(value)
		if text == "" {
			continue
		}

		selector := selectors.ClaimFields[name]

		var err error
		if u.selects[name] {
			err = session.Select(ctx, selector, strings.ToUpper(text))
		} else {
			err = session.Fill(ctx, selector, text)
		}

		if err != nil {
			return fmt.Errorf("%w: field %s: %w", ErrFormFillFailure, name, err)
		}

		filled++
	}

	if filled == 0 && len(names) > 0 {
		return fmt.Errorf("%w: no form field had a value", ErrFormFillFailure)
	}

	return nil
}

// USPS keeps the login form in the page after signing in, so a successful
// login is recognised by the account menu alone.
type USPS struct {
	*Generic
}

func NewUSPS(logger *slog.Logger) *USPS {
	g := NewGeneric(logger)
	g.defaults.Username = "#username"
	g.defaults.Password = "#password"
	g.defaults.LoginSubmit = "#btn-submit"
	g.defaults.LoggedInMarker = "#account-menu"
	g.defaults.ClaimSubmit = "#submit-claim"
	g.defaults.Confirmation = "#claim-confirmation"
	g.defaults.ErrorMessage = ".error-message"

	return &USPS{Generic: g}
}

func (u *USPS) VerifyLogin(ctx context.Context, session browser.Session, selectors models.Selectors) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.WarnContext(ctx, "login verification panicked", "panic", r)

			ok = false
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, u.loginTimeout)
	defer cancel()

	if _, rejected := portalError(probeCtx, session, selectors); rejected {
		return false
	}

	marker := selectors.LoggedInMarker
	if marker == "" {
		marker = u.defaults.LoggedInMarker
	}

	return session.WaitReady(probeCtx, marker) == nil
}
