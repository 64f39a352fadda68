// Package submission files claims through target portals: a durable priority
// queue with fixed backoff, and a coordinator that runs each attempt in its
// own browser session.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/claimflow/pkg/browser"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/otelhelper"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/portals"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
)

// DefaultTimeout bounds one whole submission attempt.
const DefaultTimeout = 3 * time.Minute

const (
	stepOK     = "SUCCESS"
	stepFailed = "FAILED"
)

// CredentialSource decrypts stored credentials.
type CredentialSource interface {
	GetCredentials(ctx context.Context, id string) (models.Credentials, error)
}

// Coordinator runs one portal submission attempt end to end.
type Coordinator struct {
	browser     browser.Browser
	strategies  *portals.Registry
	configs     persistence.PortalConfigRepository
	credentials CredentialSource
	history     persistence.SubmissionRepository
	clock       clock.PassiveClock
	timeout     time.Duration
	tracer      trace.Tracer
	logger      *slog.Logger
}

type CoordinatorOption func(*Coordinator)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithClock(clk clock.PassiveClock) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clk }
}

func NewCoordinator(
	b browser.Browser,
	strategies *portals.Registry,
	configs persistence.PortalConfigRepository,
	credentials CredentialSource,
	history persistence.SubmissionRepository,
	logger *slog.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		browser:     b,
		strategies:  strategies,
		configs:     configs,
		credentials: credentials,
		history:     history,
		clock:       clock.RealClock{},
		timeout:     DefaultTimeout,
		tracer:      otelhelper.Tracer("claimflow.submission"),
		logger:      logger.With("module", "submission_coordinator"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SubmitToPortal files item through its target portal. Failures are reported
// in the result, never returned or panicked.
func (c *Coordinator) SubmitToPortal(ctx context.Context, item *models.SubmissionQueueItem) (result models.SubmissionResult) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "submission.attempt",
		attribute.String(otelhelper.SubmissionIDKey, item.ID),
		attribute.String(otelhelper.CaseIDKey, item.CaseID),
		attribute.String(otelhelper.TargetKey, item.Target),
		attribute.Int(otelhelper.AttemptKey, item.AttemptCount),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logger := c.logger.With("submission_id", item.ID, "target", item.Target, "attempt", item.AttemptCount)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "submission attempt panicked", "panic", r)
			result = c.fail(ctx, item, models.HistoryActionError, fmt.Errorf("submission attempt panicked: %v", r))
		}

		otelhelper.SetOutcome(span, string(result.Outcome), result.Success, result.ErrorMessage)
	}()

	confirmation, action, err := c.attempt(ctx, item)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("submission timed out after %s: %w", c.timeout, err)
		}

		logger.WarnContext(ctx, "submission attempt failed", "step", action, "error", err)

		return c.fail(ctx, item, action, err)
	}

	logger.InfoContext(ctx, "claim submitted", "confirmation_number", confirmation.ConfirmationNumber)

	return models.SubmissionResult{
		Success:            true,
		ConfirmationNumber: confirmation.ConfirmationNumber,
		ClaimNumber:        confirmation.ClaimNumber,
		Outcome:            models.SubmissionStatusCompleted,
	}
}

// attempt returns the step that failed alongside the error.
func (c *Coordinator) attempt(ctx context.Context, item *models.SubmissionQueueItem) (portals.Confirmation, models.HistoryAction, error) {
	credentials, err := c.credentials.GetCredentials(ctx, item.CredentialID)
	if err != nil {
		return portals.Confirmation{}, models.HistoryActionError, fmt.Errorf("load credentials: %w", err)
	}

	config, err := c.configs.GetByTarget(ctx, item.Target)
	if err != nil {
		return portals.Confirmation{}, models.HistoryActionError, err
	}

	session, err := c.browser.Acquire(ctx, item.Target, config.ConcurrencyLimit())
	if err != nil {
		return portals.Confirmation{}, models.HistoryActionError, fmt.Errorf("open browser session: %w", err)
	}
	defer session.Close()

	strategy := c.strategies.Get(item.Target)
	selectors := portals.Resolve(strategy, config.Selectors)

	c.record(ctx, item, models.HistoryActionNavigate, stepOK, config.LoginURL)

	if err := signIn(ctx, session, config, strategy, selectors, credentials); err != nil {
		return portals.Confirmation{}, models.HistoryActionLogin, err
	}

	c.record(ctx, item, models.HistoryActionLogin, stepOK, "logged in")

	if err := session.Navigate(ctx, config.ClaimsURL); err != nil {
		return portals.Confirmation{}, models.HistoryActionNavigate, fmt.Errorf("navigate to claims page: %w", err)
	}

	c.record(ctx, item, models.HistoryActionNavigate, stepOK, config.ClaimsURL)

	if err := strategy.FillClaimForm(ctx, session, selectors, item.FormData); err != nil {
		return portals.Confirmation{}, models.HistoryActionFillForm, err
	}

	c.record(ctx, item, models.HistoryActionFillForm, stepOK, "claim form filled")

	if err := session.Click(ctx, selectors.ClaimSubmit); err != nil {
		return portals.Confirmation{}, models.HistoryActionSubmit, fmt.Errorf("%w: submit: %w", portals.ErrFormFillFailure, err)
	}

	if err := session.WaitLoad(ctx); err != nil {
		return portals.Confirmation{}, models.HistoryActionSubmit, fmt.Errorf("%w: after submit: %w", portals.ErrConfirmationExtraction, err)
	}

	if err := portals.DetectChallenge(ctx, session, config, selectors); err != nil {
		return portals.Confirmation{}, models.HistoryActionSubmit, err
	}

	c.record(ctx, item, models.HistoryActionSubmit, stepOK, "claim form submitted")

	confirmation, err := strategy.ExtractConfirmation(ctx, session, selectors)
	if err != nil {
		return portals.Confirmation{}, models.HistoryActionConfirm, err
	}

	c.record(ctx, item, models.HistoryActionConfirm, stepOK, confirmation.ConfirmationNumber)

	return confirmation, "", nil
}

func (c *Coordinator) fail(ctx context.Context, item *models.SubmissionQueueItem, action models.HistoryAction, err error) models.SubmissionResult {
	outcome := models.SubmissionStatusFailed

	switch {
	case errors.Is(err, portals.ErrNeedsCaptcha):
		outcome = models.SubmissionStatusNeedsCaptcha
	case errors.Is(err, portals.ErrNeeds2FA):
		outcome = models.SubmissionStatusNeeds2FA
	}

	c.record(ctx, item, action, stepFailed, err.Error())

	return models.SubmissionResult{ErrorMessage: err.Error(), Outcome: outcome}
}

// record appends a history entry. History is best effort: a failed write is
// logged and the attempt carries on.
func (c *Coordinator) record(ctx context.Context, item *models.SubmissionQueueItem, action models.HistoryAction, status, message string) {
	appendHistory(ctx, c.history, c.clock, c.logger, item, action, status, message)
}

func appendHistory(
	ctx context.Context,
	repo persistence.SubmissionRepository,
	clk clock.PassiveClock,
	logger *slog.Logger,
	item *models.SubmissionQueueItem,
	action models.HistoryAction,
	status, message string,
) {
	entry := &models.SubmissionHistoryEntry{
		ID:           uuid.Must(uuid.NewV7()).String(),
		SubmissionID: item.ID,
		CaseID:       item.CaseID,
		Target:       item.Target,
		Action:       action,
		Status:       status,
		Message:      message,
		Timestamp:    clk.Now().UTC(),
	}

	// The attempt context may have timed out; the trail must still be written.
	if err := repo.AppendHistory(context.WithoutCancel(ctx), entry); err != nil {
		logger.ErrorContext(ctx, "failed to append submission history",
			"submission_id", item.ID, "action", action, "error", err)
	}
}
