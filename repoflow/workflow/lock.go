package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/byte4ever/promptops/repoflow/errs"
)

// lockTable hands out per-record advisory locks. Locks are
// buffered-1 channel semaphores so acquisition can race
// against a deadline or cancellation.
type lockTable struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{
		sems: make(map[string]chan struct{}),
	}
}

// sem returns the semaphore for id, creating it on first
// use. Semaphores are never removed; the record population
// per process is small and bounded by the registry.
func (t *lockTable) sem(id string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sems[id]
	if !ok {
		s = make(chan struct{}, 1)
		t.sems[id] = s
	}

	return s
}

// acquire takes the lock for id. With wait zero it fails
// fast; otherwise it blocks up to wait. Contention and
// cancellation both surface as errs.KindBusy so callers
// have a single busy signal to branch on. The returned
// release function must be called exactly once.
func (t *lockTable) acquire(
	ctx context.Context,
	id string,
	wait time.Duration,
) (func(), error) {
	s := t.sem(id)

	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	default:
	}

	if wait <= 0 {
		return nil, errs.Ef(
			errs.KindBusy,
			"repository record %s is busy", id,
		)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-timer.C:
		return nil, errs.Ef(
			errs.KindBusy,
			"repository record %s is busy after %s",
			id, wait,
		)
	case <-ctx.Done():
		return nil, errs.E(
			errs.KindBusy,
			"waiting for repository record "+id,
			ctx.Err(),
		)
	}
}
