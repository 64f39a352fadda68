package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

const (
	// Backoff is the fixed delay before a failed submission is eligible again.
	Backoff = 5 * time.Minute

	DefaultMaxAttempts = 3
)

var (
	ErrNotCancellable = errors.New("submission cannot be cancelled in its current status")
	ErrNotRequeueable = errors.New("submission cannot be requeued in its current status")
)

// Submitter runs one attempt. It reports failures in the result.
type Submitter interface {
	SubmitToPortal(ctx context.Context, item *models.SubmissionQueueItem) models.SubmissionResult
}

// EnqueueRequest describes a new submission. Target and FormData are taken
// from the case when omitted.
type EnqueueRequest struct {
	CaseID         string                `json:"case_id"         validate:"required"`
	Target         string                `json:"target"`
	CredentialID   string                `json:"credential_id"   validate:"required"`
	SubmissionType models.SubmissionType `json:"submission_type" validate:"omitempty,oneof=NEW_CLAIM APPEAL"`
	Priority       models.Priority       `json:"priority"        validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	ScheduledFor   *time.Time            `json:"scheduled_for,omitempty"`
	MaxAttempts    int                   `json:"max_attempts"    validate:"gte=0"`
	FormData       map[string]any        `json:"form_data,omitempty"`
}

// ProcessResult is what one ProcessQueue call did.
type ProcessResult struct {
	// Idle is set when nothing was due.
	Idle bool `json:"idle"`
	// Skipped is set when another caller holds the queue.
	Skipped      bool                     `json:"skipped,omitempty"`
	SubmissionID string                   `json:"submission_id,omitempty"`
	Attempt      int                      `json:"attempt,omitempty"`
	Status       models.SubmissionStatus  `json:"status,omitempty"`
	Result       *models.SubmissionResult `json:"result,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

// Queue is the durable submission queue and its single-flight processor.
type Queue struct {
	repo      persistence.SubmissionRepository
	cases     persistence.CaseRepository
	submitter Submitter
	lease     Lease
	clock     clock.PassiveClock
	validator *validator.Validate
	logger    *slog.Logger

	mu sync.Mutex
}

type QueueOption func(*Queue)

func WithLease(lease Lease) QueueOption {
	return func(q *Queue) { q.lease = lease }
}

func WithQueueClock(clk clock.PassiveClock) QueueOption {
	return func(q *Queue) { q.clock = clk }
}

func NewQueue(repo persistence.SubmissionRepository, cases persistence.CaseRepository, submitter Submitter, logger *slog.Logger, opts ...QueueOption) *Queue {
	q := &Queue{
		repo:      repo,
		cases:     cases,
		submitter: submitter,
		lease:     LocalLease(),
		clock:     clock.RealClock{},
		validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With("module", "submission_queue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue stores a QUEUED item: MEDIUM priority, three attempts and
// scheduled now unless the request says otherwise.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*models.SubmissionQueueItem, error) {
	if err := q.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid submission: %w", err)
	}

	if req.Target == "" || req.FormData == nil {
		subject, err := q.cases.GetByID(ctx, req.CaseID)
		if err != nil {
			return nil, err
		}

		if req.Target == "" {
			req.Target = subject.Target
		}

		if req.FormData == nil {
			req.FormData = subject.FormData()
		}
	}

	if req.Target == "" {
		return nil, fmt.Errorf("invalid submission: case %s has no target", req.CaseID)
	}

	now := q.clock.Now().UTC()

	item := &models.SubmissionQueueItem{
		ID:             uuid.Must(uuid.NewV7()).String(),
		CaseID:         req.CaseID,
		Target:         req.Target,
		CredentialID:   req.CredentialID,
		SubmissionType: req.SubmissionType,
		Priority:       req.Priority,
		FormData:       models.CloneMap(req.FormData),
		Status:         models.SubmissionStatusQueued,
		MaxAttempts:    req.MaxAttempts,
		ScheduledFor:   now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if item.SubmissionType == "" {
		item.SubmissionType = models.SubmissionTypeNewClaim
	}

	if item.Priority == "" {
		item.Priority = models.PriorityMedium
	}

	if item.MaxAttempts == 0 {
		item.MaxAttempts = DefaultMaxAttempts
	}

	if req.ScheduledFor != nil {
		item.ScheduledFor = req.ScheduledFor.UTC()
	}

	if err := q.repo.Create(ctx, item); err != nil {
		return nil, err
	}

	q.record(ctx, item, models.HistoryActionEnqueued, string(item.Status),
		fmt.Sprintf("%s priority %s", item.SubmissionType, item.Priority))

	q.logger.InfoContext(ctx, "submission enqueued",
		"submission_id", item.ID, "case_id", item.CaseID, "target", item.Target, "priority", item.Priority)

	return item, nil
}

// ProcessQueue claims the best due item and runs one attempt on it. It never
// returns an error: every outcome lands on the item and in the result.
func (q *Queue) ProcessQueue(ctx context.Context) (result ProcessResult) {
	if !q.mu.TryLock() {
		return ProcessResult{Skipped: true}
	}
	defer q.mu.Unlock()

	release, held, err := q.lease.Acquire(ctx)
	if err != nil {
		q.logger.ErrorContext(ctx, "queue lease unavailable", "error", err)

		return ProcessResult{Skipped: true, Error: err.Error()}
	}

	if !held {
		return ProcessResult{Skipped: true}
	}
	defer release()

	var item *models.SubmissionQueueItem

	defer func() {
		if r := recover(); r != nil {
			q.logger.ErrorContext(ctx, "queue processing panicked", "panic", r)

			result = ProcessResult{Error: fmt.Sprintf("queue processing panicked: %v", r)}

			if item != nil && item.Status == models.SubmissionStatusInProgress {
				result = q.finish(ctx, item, models.SubmissionResult{
					ErrorMessage: result.Error,
					Outcome:      models.SubmissionStatusFailed,
				})
			}
		}
	}()

	item, err = q.repo.ClaimNext(ctx, q.clock.Now().UTC())
	if errors.Is(err, persistence.ErrNoSubmissionDue) {
		return ProcessResult{Idle: true}
	}

	if err != nil {
		q.logger.ErrorContext(ctx, "failed to claim next submission", "error", err)

		return ProcessResult{Error: err.Error()}
	}

	q.logger.InfoContext(ctx, "processing submission",
		"submission_id", item.ID, "target", item.Target, "attempt", item.AttemptCount, "max_attempts", item.MaxAttempts)

	outcome := q.submitter.SubmitToPortal(ctx, item)

	return q.finish(ctx, item, outcome)
}

// finish applies the attempt outcome: completion, operator hold, retry after
// Backoff, or terminal failure once attempts are exhausted.
func (q *Queue) finish(ctx context.Context, item *models.SubmissionQueueItem, outcome models.SubmissionResult) ProcessResult {
	ctx = context.WithoutCancel(ctx)
	now := q.clock.Now().UTC()

	var (
		next    models.SubmissionStatus
		action  models.HistoryAction
		message string
	)

	switch {
	case outcome.Success:
		next, action, message = models.SubmissionStatusCompleted, models.HistoryActionConfirm, outcome.ConfirmationNumber
	case outcome.Outcome.NeedsOperator():
		next, action, message = outcome.Outcome, models.HistoryActionError, outcome.ErrorMessage
	case item.AttemptCount < item.MaxAttempts:
		next, action = models.SubmissionStatusQueued, models.HistoryActionRetry
		message = fmt.Sprintf("attempt %d of %d failed, retrying at %s: %s",
			item.AttemptCount, item.MaxAttempts, now.Add(Backoff).Format(time.RFC3339), outcome.ErrorMessage)
	default:
		next, action = models.SubmissionStatusFailed, models.HistoryActionError
		message = fmt.Sprintf("attempts exhausted (%d): %s", item.AttemptCount, outcome.ErrorMessage)
	}

	result := ProcessResult{SubmissionID: item.ID, Attempt: item.AttemptCount, Result: &outcome}

	if err := item.Transition(next, now); err != nil {
		q.logger.ErrorContext(ctx, "invalid submission transition", "submission_id", item.ID, "error", err)
		result.Status, result.Error = item.Status, err.Error()

		return result
	}

	item.ErrorMessage = outcome.ErrorMessage

	switch next {
	case models.SubmissionStatusCompleted:
		item.ConfirmationNumber = outcome.ConfirmationNumber
		item.ClaimNumber = outcome.ClaimNumber
		item.CompletedAt = &now
		item.NextAttemptAt = nil
	case models.SubmissionStatusQueued:
		retryAt := now.Add(Backoff)
		item.NextAttemptAt = &retryAt
	default:
		item.NextAttemptAt = nil
	}

	result.Status = item.Status

	if err := q.repo.Update(ctx, item, models.SubmissionStatusInProgress); err != nil {
		q.logger.ErrorContext(ctx, "failed to persist submission outcome",
			"submission_id", item.ID, "status", item.Status, "error", err)
		result.Error = err.Error()

		return result
	}

	q.record(ctx, item, action, string(item.Status), message)

	if next == models.SubmissionStatusCompleted {
		q.markCaseFiled(ctx, item)
	}

	q.logger.InfoContext(ctx, "submission attempt finished",
		"submission_id", item.ID, "status", item.Status, "attempt", item.AttemptCount)

	return result
}

func (q *Queue) markCaseFiled(ctx context.Context, item *models.SubmissionQueueItem) {
	claimNumber := item.ClaimNumber
	if claimNumber == "" {
		claimNumber = item.ConfirmationNumber
	}

	if err := q.cases.MarkFiled(ctx, item.CaseID, models.CaseStatusFiled, claimNumber); err != nil {
		q.logger.ErrorContext(ctx, "failed to mark case filed", "case_id", item.CaseID, "error", err)
		q.record(ctx, item, models.HistoryActionError, string(item.Status), "case update failed: "+err.Error())
	}
}

// CancelSubmission cancels an item that is queued or waiting on an operator.
// An attempt already in progress runs to completion.
func (q *Queue) CancelSubmission(ctx context.Context, id string) (*models.SubmissionQueueItem, error) {
	item, err := q.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := item.Status

	if err := item.Transition(models.SubmissionStatusCancelled, q.clock.Now().UTC()); err != nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCancellable, id, previous)
	}

	item.NextAttemptAt = nil

	if err := q.repo.Update(ctx, item, previous); err != nil {
		return nil, err
	}

	q.record(ctx, item, models.HistoryActionCancelled, string(item.Status), "cancelled from "+string(previous))

	return item, nil
}

// RequeueSubmission puts a failed or operator-held item back in the queue with
// a fresh attempt budget.
func (q *Queue) RequeueSubmission(ctx context.Context, id string) (*models.SubmissionQueueItem, error) {
	item, err := q.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := item.Status
	now := q.clock.Now().UTC()

	if previous == models.SubmissionStatusInProgress {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRequeueable, id, previous)
	}

	if err := item.Transition(models.SubmissionStatusQueued, now); err != nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRequeueable, id, previous)
	}

	item.AttemptCount = 0
	item.ScheduledFor = now
	item.NextAttemptAt = nil
	item.ErrorMessage = ""

	if err := q.repo.Update(ctx, item, previous); err != nil {
		return nil, err
	}

	q.record(ctx, item, models.HistoryActionRequeued, string(item.Status), "requeued from "+string(previous))

	return item, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*models.SubmissionQueueItem, error) {
	return q.repo.GetByID(ctx, id)
}

func (q *Queue) List(ctx context.Context, filter persistence.SubmissionFilter) ([]*models.SubmissionQueueItem, error) {
	return q.repo.List(ctx, filter)
}

// History returns the item's trail, oldest first.
func (q *Queue) History(ctx context.Context, id string) ([]*models.SubmissionHistoryEntry, error) {
	if _, err := q.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}

	return q.repo.History(ctx, id)
}

func (q *Queue) record(ctx context.Context, item *models.SubmissionQueueItem, action models.HistoryAction, status, message string) {
	appendHistory(ctx, q.repo, q.clock, q.logger, item, action, status, message)
}
