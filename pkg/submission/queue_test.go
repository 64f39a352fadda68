package submission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type submitFunc func(ctx context.Context, item *models.SubmissionQueueItem) models.SubmissionResult

func (f submitFunc) SubmitToPortal(ctx context.Context, item *models.SubmissionQueueItem) models.SubmissionResult {
	return f(ctx, item)
}

func succeed(_ context.Context, _ *models.SubmissionQueueItem) models.SubmissionResult {
	return models.SubmissionResult{
		Success:            true,
		ConfirmationNumber: "CNF-77",
		ClaimNumber:        "CLM-9001",
		Outcome:            models.SubmissionStatusCompleted,
	}
}

func failWith(message string) submitFunc {
	return func(context.Context, *models.SubmissionQueueItem) models.SubmissionResult {
		return models.SubmissionResult{ErrorMessage: message, Outcome: models.SubmissionStatusFailed}
	}
}

type mockLease struct {
	mock.Mock
}

func (m *mockLease) Acquire(ctx context.Context) (func(), bool, error) {
	args := m.Called(ctx)

	release, _ := args.Get(0).(func())

	return release, args.Bool(1), args.Error(2)
}

type queueFixture struct {
	store *file.Persistence
	clock *clocktesting.FakeClock
	queue *Queue
}

func newQueueFixture(t *testing.T, submitter Submitter, opts ...QueueOption) *queueFixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	clk := clocktesting.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

	require.NoError(t, store.CaseRepository().Save(context.Background(), &models.Case{
		ID:     "case-1",
		Target: "fedex",
		Status: models.CaseStatusOpen,
		Fields: map[string]any{"tracking_number": "794644790132", "amount": 250.0},
	}))

	opts = append([]QueueOption{WithQueueClock(clk)}, opts...)

	return &queueFixture{
		store: store,
		clock: clk,
		queue: NewQueue(store.SubmissionRepository(), store.CaseRepository(), submitter, testLogger(), opts...),
	}
}

func (f *queueFixture) enqueue(t *testing.T, priority models.Priority) *models.SubmissionQueueItem {
	t.Helper()

	item, err := f.queue.Enqueue(context.Background(), EnqueueRequest{
		CaseID:       "case-1",
		CredentialID: "cred-1",
		Priority:     priority,
	})
	require.NoError(t, err)

	return item
}

func TestQueue_EnqueueDefaults(t *testing.T) {
	f := newQueueFixture(t, submitFunc(succeed))

	item := f.enqueue(t, "")

	assert.Equal(t, models.SubmissionStatusQueued, item.Status)
	assert.Equal(t, models.PriorityMedium, item.Priority)
	assert.Equal(t, models.SubmissionTypeNewClaim, item.SubmissionType)
	assert.Equal(t, DefaultMaxAttempts, item.MaxAttempts)
	assert.Equal(t, 0, item.AttemptCount)
	assert.Equal(t, f.clock.Now(), item.ScheduledFor)
	assert.Equal(t, "fedex", item.Target)
	assert.Equal(t, "794644790132", item.FormData["tracking_number"])
	assert.Equal(t, "case-1", item.FormData["case_id"])

	history, err := f.queue.History(context.Background(), item.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryActionEnqueued, history[0].Action)
}

func TestQueue_EnqueueValidation(t *testing.T) {
	f := newQueueFixture(t, submitFunc(succeed))
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, EnqueueRequest{CaseID: "case-1"})
	require.Error(t, err)

	_, err = f.queue.Enqueue(ctx, EnqueueRequest{CaseID: "case-1", CredentialID: "c", Priority: "CRITICAL"})
	require.Error(t, err)

	_, err = f.queue.Enqueue(ctx, EnqueueRequest{CaseID: "unknown", CredentialID: "c"})
	require.ErrorIs(t, err, persistence.ErrCaseNotFound)

	// explicit target and form data skip the case lookup
	item, err := f.queue.Enqueue(ctx, EnqueueRequest{
		CaseID: "unknown", CredentialID: "c", Target: "ups", FormData: map[string]any{"amount": 1.0},
	})
	require.NoError(t, err)
	assert.Equal(t, "ups", item.Target)
}

func TestQueue_ProcessQueueIdle(t *testing.T) {
	f := newQueueFixture(t, submitFunc(succeed))

	result := f.queue.ProcessQueue(context.Background())

	assert.True(t, result.Idle)
	assert.Empty(t, result.SubmissionID)
}

func TestQueue_ProcessQueueServesHighestPriorityFirst(t *testing.T) {
	var served []string

	f := newQueueFixture(t, submitFunc(func(ctx context.Context, item *models.SubmissionQueueItem) models.SubmissionResult {
		served = append(served, string(item.Priority))

		return succeed(ctx, item)
	}))

	f.enqueue(t, models.PriorityLow)
	f.clock.Step(time.Second)
	f.enqueue(t, models.PriorityUrgent)
	f.clock.Step(time.Second)
	f.enqueue(t, models.PriorityMedium)

	for range 3 {
		result := f.queue.ProcessQueue(context.Background())
		require.Empty(t, result.Error)
		require.Equal(t, models.SubmissionStatusCompleted, result.Status)
	}

	assert.Equal(t, []string{"URGENT", "MEDIUM", "LOW"}, served)
	assert.True(t, f.queue.ProcessQueue(context.Background()).Idle)
}

func TestQueue_ProcessQueueCompletesAndFilesCase(t *testing.T) {
	f := newQueueFixture(t, submitFunc(succeed))
	ctx := context.Background()

	item := f.enqueue(t, models.PriorityHigh)

	result := f.queue.ProcessQueue(ctx)
	require.Equal(t, item.ID, result.SubmissionID)
	assert.Equal(t, models.SubmissionStatusCompleted, result.Status)
	assert.Equal(t, 1, result.Attempt)

	stored, err := f.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusCompleted, stored.Status)
	assert.Equal(t, "CNF-77", stored.ConfirmationNumber)
	assert.Equal(t, "CLM-9001", stored.ClaimNumber)
	require.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.LastAttemptAt)
	assert.Equal(t, 1, stored.AttemptCount)

	subject, err := f.store.CaseRepository().GetByID(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusFiled, subject.Status)
	assert.Equal(t, "CLM-9001", subject.ClaimNumber)
}

func TestQueue_RetryWithFixedBackoff(t *testing.T) {
	f := newQueueFixture(t, failWith("portal login failed"))
	ctx := context.Background()

	item := f.enqueue(t, models.PriorityMedium)

	for attempt := 1; attempt <= 2; attempt++ {
		failedAt := f.clock.Now()

		result := f.queue.ProcessQueue(ctx)
		require.Equal(t, item.ID, result.SubmissionID)
		assert.Equal(t, models.SubmissionStatusQueued, result.Status)

		stored, err := f.queue.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SubmissionStatusQueued, stored.Status)
		assert.Equal(t, attempt, stored.AttemptCount)
		require.NotNil(t, stored.NextAttemptAt)
		assert.Equal(t, failedAt.Add(Backoff), *stored.NextAttemptAt)
		assert.Equal(t, "portal login failed", stored.ErrorMessage)

		// not eligible until the backoff has passed
		assert.True(t, f.queue.ProcessQueue(ctx).Idle)
		f.clock.Step(Backoff - time.Second)
		assert.True(t, f.queue.ProcessQueue(ctx).Idle)
		f.clock.Step(time.Second)
	}

	result := f.queue.ProcessQueue(ctx)
	assert.Equal(t, models.SubmissionStatusFailed, result.Status)

	stored, err := f.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.AttemptCount)
	assert.Nil(t, stored.NextAttemptAt)

	f.clock.Step(Backoff)
	assert.True(t, f.queue.ProcessQueue(ctx).Idle)

	history, err := f.queue.History(ctx, item.ID)
	require.NoError(t, err)

	var retries, errs int

	for _, entry := range history {
		switch entry.Action {
		case models.HistoryActionRetry:
			retries++
		case models.HistoryActionError:
			errs++
		}
	}

	assert.Equal(t, 2, retries)
	assert.Equal(t, 1, errs)

	subject, err := f.store.CaseRepository().GetByID(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusOpen, subject.Status)
}

func TestQueue_OperatorHoldAndRequeue(t *testing.T) {
	outcome := models.SubmissionResult{ErrorMessage: "portal requires a captcha", Outcome: models.SubmissionStatusNeedsCaptcha}

	f := newQueueFixture(t, submitFunc(func(context.Context, *models.SubmissionQueueItem) models.SubmissionResult {
		return outcome
	}))
	ctx := context.Background()

	item := f.enqueue(t, models.PriorityHigh)

	result := f.queue.ProcessQueue(ctx)
	assert.Equal(t, models.SubmissionStatusNeedsCaptcha, result.Status)

	// parked items are not retried automatically
	f.clock.Step(time.Hour)
	assert.True(t, f.queue.ProcessQueue(ctx).Idle)

	requeued, err := f.queue.RequeueSubmission(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusQueued, requeued.Status)
	assert.Equal(t, 0, requeued.AttemptCount)
	assert.Empty(t, requeued.ErrorMessage)

	outcome = models.SubmissionResult{Success: true, ConfirmationNumber: "CNF-1", Outcome: models.SubmissionStatusCompleted}

	result = f.queue.ProcessQueue(ctx)
	assert.Equal(t, models.SubmissionStatusCompleted, result.Status)

	subject, err := f.store.CaseRepository().GetByID(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "CNF-1", subject.ClaimNumber)

	_, err = f.queue.RequeueSubmission(ctx, item.ID)
	require.ErrorIs(t, err, ErrNotRequeueable)
}

func TestQueue_PanickingSubmitterBecomesFailure(t *testing.T) {
	f := newQueueFixture(t, submitFunc(func(context.Context, *models.SubmissionQueueItem) models.SubmissionResult {
		panic("boom")
	}))
	ctx := context.Background()

	item := f.enqueue(t, models.PriorityHigh)

	var result ProcessResult

	require.NotPanics(t, func() { result = f.queue.ProcessQueue(ctx) })
	assert.Equal(t, item.ID, result.SubmissionID)
	assert.Equal(t, models.SubmissionStatusQueued, result.Status)

	stored, err := f.queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusQueued, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "boom")
}

func TestQueue_CancelSubmission(t *testing.T) {
	f := newQueueFixture(t, submitFunc(succeed))
	ctx := context.Background()

	queued := f.enqueue(t, models.PriorityLow)

	cancelled, err := f.queue.CancelSubmission(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusCancelled, cancelled.Status)
	assert.True(t, f.queue.ProcessQueue(ctx).Idle)

	done := f.enqueue(t, models.PriorityLow)
	require.Equal(t, models.SubmissionStatusCompleted, f.queue.ProcessQueue(ctx).Status)

	_, err = f.queue.CancelSubmission(ctx, done.ID)
	require.ErrorIs(t, err, ErrNotCancellable)

	_, err = f.queue.CancelSubmission(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrSubmissionNotFound)

	history, err := f.queue.History(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HistoryActionCancelled, history[len(history)-1].Action)
}

func TestQueue_SingleFlight(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})

	f := newQueueFixture(t, submitFunc(func(ctx context.Context, item *models.SubmissionQueueItem) models.SubmissionResult {
		close(entered)
		<-unblock

		return succeed(ctx, item)
	}))
	ctx := context.Background()

	f.enqueue(t, models.PriorityHigh)
	f.enqueue(t, models.PriorityHigh)

	var (
		wg    sync.WaitGroup
		first ProcessResult
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		first = f.queue.ProcessQueue(ctx)
	}()

	<-entered

	assert.True(t, f.queue.ProcessQueue(ctx).Skipped)

	close(unblock)
	wg.Wait()

	assert.Equal(t, models.SubmissionStatusCompleted, first.Status)

	items, err := f.queue.List(ctx, persistence.SubmissionFilter{Status: models.SubmissionStatusQueued})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestQueue_LeaseHeldElsewhere(t *testing.T) {
	lease := &mockLease{}
	lease.On("Acquire", mock.Anything).Return(nil, false, nil).Once()
	lease.On("Acquire", mock.Anything).Return(nil, false, errors.New("redis down")).Once()

	released := false

	lease.On("Acquire", mock.Anything).Return(func() { released = true }, true, nil).Once()

	f := newQueueFixture(t, submitFunc(succeed), WithLease(lease))
	f.enqueue(t, models.PriorityHigh)

	assert.True(t, f.queue.ProcessQueue(context.Background()).Skipped)

	result := f.queue.ProcessQueue(context.Background())
	assert.True(t, result.Skipped)
	assert.Equal(t, "redis down", result.Error)

	result = f.queue.ProcessQueue(context.Background())
	assert.Equal(t, models.SubmissionStatusCompleted, result.Status)
	assert.True(t, released)

	lease.AssertExpectations(t)
}
