package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/claimflow/pkg/browser"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/portals"
)

// signIn drives the login form and reports ErrLoginFailure, ErrNeedsCaptcha or
// ErrNeeds2FA when the portal does not let the session in.
func signIn(
	ctx context.Context,
	session browser.Session,
	config *models.PortalConfig,
	strategy portals.Strategy,
	selectors models.Selectors,
	credentials models.Credentials,
) error {
	if err := session.Navigate(ctx, config.LoginURL); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}

	if err := session.WaitReady(ctx, selectors.Username); err != nil {
		if challenge := portals.DetectChallenge(ctx, session, config, selectors); challenge != nil {
			return challenge
		}

		return fmt.Errorf("%w: login form not found: %w", portals.ErrLoginFailure, err)
	}

	if err := session.Fill(ctx, selectors.Username, credentials.Username); err != nil {
		return fmt.Errorf("%w: username field: %w", portals.ErrLoginFailure, err)
	}

	if err := session.Fill(ctx, selectors.Password, credentials.Password); err != nil {
		return fmt.Errorf("%w: password field: %w", portals.ErrLoginFailure, err)
	}

	if err := session.Click(ctx, selectors.LoginSubmit); err != nil {
		return fmt.Errorf("%w: login submit: %w", portals.ErrLoginFailure, err)
	}

	if err := session.WaitLoad(ctx); err != nil {
		return fmt.Errorf("%w: after login submit: %w", portals.ErrLoginFailure, err)
	}

	if challenge := portals.DetectChallenge(ctx, session, config, selectors); challenge != nil {
		return challenge
	}

	if !strategy.VerifyLogin(ctx, session, selectors) {
		return fmt.Errorf("%w: portal rejected the credentials", portals.ErrLoginFailure)
	}

	return nil
}

// LoginProbe tests credentials by signing in on a throwaway session.
type LoginProbe struct {
	browser    browser.Browser
	strategies *portals.Registry
	configs    persistence.PortalConfigRepository
	logger     *slog.Logger
}

func NewLoginProbe(b browser.Browser, strategies *portals.Registry, configs persistence.PortalConfigRepository, logger *slog.Logger) *LoginProbe {
	return &LoginProbe{
		browser:    b,
		strategies: strategies,
		configs:    configs,
		logger:     logger.With("module", "login_probe"),
	}
}

// CheckLogin reports false for a rejected login. Errors are reserved for
// failures that say nothing about the credentials, such as a missing config.
func (p *LoginProbe) CheckLogin(ctx context.Context, target string, credentials models.Credentials) (ok bool, err error) {
	config, err := p.configs.GetByTarget(ctx, target)
	if err != nil {
		return false, err
	}

	session, err := p.browser.Acquire(ctx, target, config.ConcurrencyLimit())
	if err != nil {
		return false, fmt.Errorf("open browser session: %w", err)
	}
	defer session.Close()

	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "login check panicked", "target", target, "panic", r)

			ok, err = false, fmt.Errorf("login check panicked: %v", r)
		}
	}()

	strategy := p.strategies.Get(target)

	err = signIn(ctx, session, config, strategy, portals.Resolve(strategy, config.Selectors), credentials)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, portals.ErrLoginFailure):
		p.logger.InfoContext(ctx, "login rejected", "target", target, "reason", err)

		return false, nil
	default:
		return false, err
	}
}
