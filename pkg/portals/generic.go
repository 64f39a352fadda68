package portals

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dukex/claimflow/pkg/browser"
	"github.com/dukex/claimflow/pkg/models"
)

// LoginProbeTimeout bounds VerifyLogin.
const LoginProbeTimeout = 5 * time.Second

// loginPollInterval is how often VerifyLogin re-reads a page without a
// logged-in marker.
const loginPollInterval = 200 * time.Millisecond

const defaultCaptchaSelector = `iframe[src*="captcha"], .g-recaptcha, #captcha`

// The default patterns need a label word ("number", "no.", "id") or a ":"/"#"
// separator after the keyword, and a captured value with at least one digit.
var (
	defaultConfirmationPattern = regexp.MustCompile(
		`(?i)(?:confirmation|reference)(?:\s*(?:number|no\.?|id)(?:\s+is)?\s*[:#]*|\s*[:#]+)\s*([A-Z0-9-]*\d[A-Z0-9-]*)`)
	defaultClaimPattern = regexp.MustCompile(
		`(?i)claim(?:\s*(?:number|no\.?|id)(?:\s+is)?\s*[:#]*|\s*[:#]+)\s*([A-Z0-9-]*\d[A-Z0-9-]*)`)
)

// Generic drives a conventional login + form portal. Carrier strategies embed
// it and override what differs.
type Generic struct {
	defaults            models.Selectors
	confirmationPattern *regexp.Regexp
	claimPattern        *regexp.Regexp
	loginTimeout        time.Duration
	logger              *slog.Logger
}

func NewGeneric(logger *slog.Logger) *Generic {
	return &Generic{
		defaults: models.Selectors{
			Username:       `input[name="username"], input[type="email"], #username`,
			Password:       `input[name="password"], input[type="password"], #password`,
			LoginSubmit:    `button[type="submit"], input[type="submit"]`,
			ClaimSubmit:    `button[type="submit"], input[type="submit"]`,
			Confirmation:   `.confirmation-number, #confirmationNumber`,
			TwoFactor:      `input[name="otp"], input[autocomplete="one-time-code"]`,
			ErrorMessage:   `.error, .alert-danger, [role="alert"]`,
			LoggedInMarker: "",
			ClaimFields: map[string]string{
				"tracking_number": `input[name="trackingNumber"]`,
				"amount":          `input[name="claimAmount"]`,
				"description":     `textarea[name="description"]`,
			},
		},
		confirmationPattern: defaultConfirmationPattern,
		claimPattern:        defaultClaimPattern,
		loginTimeout:        LoginProbeTimeout,
		logger:              logger,
	}
}

func (g *Generic) Defaults() models.Selectors {
	defaults := g.defaults
	defaults.ClaimFields = make(map[string]string, len(g.defaults.ClaimFields))

	for name, selector := range g.defaults.ClaimFields {
		defaults.ClaimFields[name] = selector
	}

	return defaults
}

// VerifyLogin waits for the logged-in marker, or failing a marker, polls until
// the login form is gone. A visible error banner is a rejection.
func (g *Generic) VerifyLogin(ctx context.Context, session browser.Session, selectors models.Selectors) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.WarnContext(ctx, "login verification panicked", "panic", r)

			ok = false
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, g.loginTimeout)
	defer cancel()

	if selectors.LoggedInMarker != "" {
		if _, rejected := portalError(probeCtx, session, selectors); rejected {
			return false
		}

		return session.WaitReady(probeCtx, selectors.LoggedInMarker) == nil
	}

	ticker := time.NewTicker(loginPollInterval)
	defer ticker.Stop()

	for {
		if _, rejected := portalError(probeCtx, session, selectors); rejected {
			return false
		}

		if onLogin, err := session.Exists(probeCtx, selectors.Password); err == nil && !onLogin {
			return true
		}

		select {
		case <-probeCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// FillClaimForm fills every mapped field the snapshot has a value for. Field
// names are dotted paths into the snapshot.
func (g *Generic) FillClaimForm(ctx context.Context, session browser.Session, selectors models.Selectors, form map[string]any) error {
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

		if err := session.Fill(ctx, selectors.ClaimFields[name], text); err != nil {
			return fmt.Errorf("%w: field %s: %w", ErrFormFillFailure, name, err)
		}

		filled++
	}

	if filled == 0 && len(names) > 0 {
		return fmt.Errorf("%w: no form field had a value", ErrFormFillFailure)
	}

	return nil
}

// ExtractConfirmation prefers the confirmation element and falls back to
// pattern matching the page. A visible error banner vetoes a page match.
func (g *Generic) ExtractConfirmation(ctx context.Context, session browser.Session, selectors models.Selectors) (Confirmation, error) {
	var confirmation Confirmation

	if selectors.Confirmation != "" {
		if present, err := session.Exists(ctx, selectors.Confirmation); err == nil && present {
			if text, err := session.Text(ctx, selectors.Confirmation); err == nil {
				confirmation.ConfirmationNumber = referenceToken(text)
			}
		}
	}

	if confirmation.ConfirmationNumber == "" {
		if message, failed := portalError(ctx, session, selectors); failed {
			return Confirmation{}, fmt.Errorf("%w: portal reported %q", ErrConfirmationExtraction, message)
		}
	}

	content, err := session.Content(ctx)
	if err != nil && confirmation.ConfirmationNumber == "" {
		return Confirmation{}, fmt.Errorf("%w: %w", ErrConfirmationExtraction, err)
	}

	if confirmation.ConfirmationNumber == "" {
		confirmation.ConfirmationNumber = g.match(selectors.ConfirmationRegexp, g.confirmationPattern, content)
	}

	confirmation.ClaimNumber = g.match("", g.claimPattern, content)

	if confirmation.ConfirmationNumber == "" {
		if confirmation.ClaimNumber == "" {
			return Confirmation{}, ErrConfirmationExtraction
		}

		confirmation.ConfirmationNumber = confirmation.ClaimNumber
	}

	return confirmation, nil
}

// portalError reports a visible error banner and its text.
func portalError(ctx context.Context, session browser.Session, selectors models.Selectors) (string, bool) {
	if selectors.ErrorMessage == "" {
		return "", false
	}

	visible, err := session.Exists(ctx, selectors.ErrorMessage)
	if err != nil || !visible {
		return "", false
	}

	text, _ := session.Text(ctx, selectors.ErrorMessage)

	return text, true
}

func (g *Generic) match(configured string, fallback *regexp.Regexp, content string) string {
	pattern := fallback

	if configured != "" {
		compiled, err := regexp.Compile(configured)
		if err != nil {
			g.logger.Warn("invalid confirmation pattern, using default", "pattern", configured, "error", err)
		} else {
			pattern = compiled
		}
	}

	m := pattern.FindStringSubmatch(content)

	switch len(m) {
	case 0:
		return ""
	case 1:
		return m[0]
	default:
		return m[1]
	}
}

// referenceToken is firstToken when it carries a digit. Words such as
// "pending" or "failed" are not references.
func referenceToken(text string) string {
	token := firstToken(text)
	if !strings.ContainsAny(token, "0123456789") {
		return ""
	}

	return token
}

func firstToken(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.LastIndexAny(text, ":#"); i >= 0 {
		text = strings.TrimSpace(text[i+1:])
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}

func formValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
	default:
		return fmt.Sprint(v)
	}
}
