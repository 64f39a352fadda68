package browser

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds concurrent sessions per target. The first limit seen for a
// target fixes its bound.
type Limiter struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func NewLimiter() *Limiter {
	return &Limiter{sems: make(map[string]*semaphore.Weighted)}
}

func (l *Limiter) get(target string, limit int) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.sems[target]
	if !ok {
		sem = semaphore.NewWeighted(int64(max(limit, 1)))
		l.sems[target] = sem
	}

	return sem
}

// Acquire blocks until a slot for target is free or ctx is done. The returned
// release func is idempotent.
func (l *Limiter) Acquire(ctx context.Context, target string, limit int) (func(), error) {
	sem := l.get(target, limit)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var once sync.Once

	return func() { once.Do(func() { sem.Release(1) }) }, nil
}
