package file

import (
	"context"
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
)

// SubmissionRepository is the file-backed submission queue. History entries are
// stored per submission under "<id>-history".
type SubmissionRepository struct {
	p    *Persistence
	docs collection
}

func (sr *SubmissionRepository) history(submissionID string) collection {
	return sr.docs.sub(submissionID + "-history")
}

func (sr *SubmissionRepository) get(op, id string) (*models.SubmissionQueueItem, error) {
	var item models.SubmissionQueueItem
	if err := sr.docs.load(id, &item); err != nil {
		if errors.Is(err, errDocumentNotFound) {
			return nil, persistence.NewSubmissionError(op, id, persistence.ErrSubmissionNotFound)
		}

		return nil, err
	}

	return &item, nil
}

// Create stores a new queue item.
func (sr *SubmissionRepository) Create(_ context.Context, item *models.SubmissionQueueItem) error {
	sr.p.mu.Lock()
	defer sr.p.mu.Unlock()

	return sr.docs.store(item.ID, item)
}

// GetByID retrieves a queue item.
func (sr *SubmissionRepository) GetByID(_ context.Context, id string) (*models.SubmissionQueueItem, error) {
	sr.p.mu.Lock()
	defer sr.p.mu.Unlock()

	return sr.get("GetByID", id)
}

// List returns items matching filter in service order.
func (sr *SubmissionRepository) List(_ context.Context, filter persistence.SubmissionFilter) ([]*models.SubmissionQueueItem, error) {
	sr.p.mu.Lock()
	defer sr.p.mu.Unlock()

	all, err := loadAll[models.SubmissionQueueItem](sr.docs)
	if err != nil {
		return nil, err
	}

	items := make([]*models.SubmissionQueueItem, 0, len(all))

	for _, item := range all {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}

		if filter.CaseID != "" && item.CaseID != filter.CaseID {
			continue
		}

		if filter.Target != "" && item.Target != filter.Target {
			continue
		}

		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Before(items[j]) })

	return items, nil
}

// ClaimNext picks the best due item and marks it IN_PROGRESS.
func (sr *SubmissionRepository) ClaimNext(_ context.Context, now time.Time) (*models.SubmissionQueueItem, error) {
	sr.p.mu.Lock()
	defer sr.p.mu.Unlock()

	all, err := loadAll[models.SubmissionQueueItem](sr.docs)
	if err != nil {
		return nil, err
	}

	var next *models.SubmissionQueueItem

	for _, item := range all {
		if !item.Due(now) {
			continue
		}

		if next == nil || item.Before(next) {
			next = item
		}
	}

	if next == nil {
		return nil, persistence.ErrNoSubmissionDue
	}

	if err := next.Transition(models.SubmissionStatusInProgress, now); err != nil {
		return nil, err
	}

	attemptAt := now
	next.AttemptCount++
	next.LastAttemptAt = &attemptAt

	if err := sr.docs.store(next.ID, next); err != nil {
		return nil, err
	}

	return next, nil
}

// Update persists item, guarded by the expected stored statuses.
func (sr *SubmissionRepository) Update(_ context.Context, item *models.SubmissionQueueItem, expected ...models.SubmissionStatus) error {
	sr.p.mu.Lock()
	defer sr.p.mu.Unlock()

	current, err := sr.get("Update", item.ID)
	if err != nil {
		return err
	}

	if len(expected) > 0 && !slices.Contains(expected, current.Status) {
		return persistence.NewSubmissionError("Update", item.ID, persistence.ErrStatusConflict)
	}

	return sr.docs.store(item.ID, item)
}

// AppendHistory records a history entry.
func (sr *SubmissionRepository) AppendHistory(_ context.Context, entry *models.SubmissionHistoryEntry) error {
	sr.p.mu.Lock()
	defer sr.p.mu.Unlock()

	return sr.history(entry.SubmissionID).store(entry.ID, entry)
}

// History returns the entries of a submission in time order.
func (sr *SubmissionRepository) History(_ context.Context, submissionID string) ([]*models.SubmissionHistoryEntry, error) {
	sr.p.mu.Lock()
	defer sr.p.mu.Unlock()

	entries, err := loadAll[models.SubmissionHistoryEntry](sr.history(submissionID))
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].ID < entries[j].ID
		}

		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	return entries, nil
}
