// Package outbox presents the record store's dirty records as an ordered,
// duplicate-free work queue for the sync engine. It owns no storage of its
// own; it is a query pattern over the store plus the claim bookkeeping
// that keeps at most one sync attempt in flight per record.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"orthosense_sync/internal/domain"
)

// RecordStore is the slice of the record store the queue needs.
type RecordStore interface {
	Get(ctx context.Context, id string) (*domain.Record, error)
	ListByStatus(ctx context.Context, statuses ...domain.SyncStatus) ([]domain.Record, error)
	UpdateStatus(ctx context.Context, id string, next domain.SyncStatus, attemptAt *time.Time) error
}

type Config struct {
	// MaxRetries is the failure ceiling. Records at or above it are
	// excluded from passes until RetryFailed resets them.
	MaxRetries int

	// BaseBackoff and MaxBackoff bound the per-record exponential
	// backoff window between automatic retry attempts.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Queue derives upload work from the record store.
type Queue struct {
	store RecordStore
	cfg   Config

	mu     sync.Mutex
	claims map[string]domain.SyncStatus // id -> pre-claim status
}

func New(store RecordStore, cfg Config) *Queue {
	return &Queue{
		store:  store,
		cfg:    cfg,
		claims: make(map[string]domain.SyncStatus),
	}
}

// Entries returns the records eligible for upload, oldest first. Failed
// records sit out their backoff window (unless bypassed, for a manual
// sync) and drop out entirely once they hit the retry ceiling.
func (q *Queue) Entries(ctx context.Context, now time.Time, bypassBackoff bool) ([]domain.Record, error) {
	recs, err := q.store.ListByStatus(ctx, domain.StatusPending, domain.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("list outbox entries: %w", err)
	}

	eligible := recs[:0]
	for _, rec := range recs {
		if rec.SyncStatus == domain.StatusFailed {
			if rec.SyncRetryCount >= q.cfg.MaxRetries {
				continue
			}
			if !bypassBackoff && !q.dueForRetry(rec, now) {
				continue
			}
		}
		eligible = append(eligible, rec)
	}
	return eligible, nil
}

func (q *Queue) dueForRetry(rec domain.Record, now time.Time) bool {
	if rec.LastSyncAttempt == nil {
		return true
	}
	return !now.Before(rec.LastSyncAttempt.Add(q.Backoff(rec.SyncRetryCount)))
}

// Backoff returns the wait before a record with the given retry count
// becomes eligible again: min(2^retries * base, max).
func (q *Queue) Backoff(retries int) time.Duration {
	backoff := q.cfg.BaseBackoff
	for i := 0; i < retries; i++ {
		backoff *= 2
		if backoff >= q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	if backoff > q.cfg.MaxBackoff {
		return q.cfg.MaxBackoff
	}
	return backoff
}

// Claim marks a record in flight, transitioning it to syncing. Claiming
// a record this queue already holds is a no-op success; a record found
// syncing under someone else's claim is ErrAlreadyInFlight.
func (q *Queue) Claim(ctx context.Context, id string) error {
	q.mu.Lock()
	if _, held := q.claims[id]; held {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	rec, err := q.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("claim %s: %w", id, err)
	}
	if rec.SyncStatus == domain.StatusSyncing {
		return fmt.Errorf("claim %s: %w", id, domain.ErrAlreadyInFlight)
	}

	if err := q.store.UpdateStatus(ctx, id, domain.StatusSyncing, nil); err != nil {
		// Lost the race to a concurrent attempt between read and update.
		if errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("claim %s: %w", id, domain.ErrAlreadyInFlight)
		}
		return fmt.Errorf("claim %s: %w", id, err)
	}

	q.mu.Lock()
	q.claims[id] = rec.SyncStatus
	q.mu.Unlock()
	return nil
}

// Release returns an unattempted claim to its pre-claim status. Once the
// upload has actually started the claim must be resolved instead, failed
// if the outcome is unknown.
func (q *Queue) Release(ctx context.Context, id string) error {
	q.mu.Lock()
	prev, held := q.claims[id]
	delete(q.claims, id)
	q.mu.Unlock()

	if !held {
		return nil
	}

	// No attempt timestamp: the retry counter stays untouched.
	if err := q.store.UpdateStatus(ctx, id, prev, nil); err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return nil
}

// Resolve drops the claim bookkeeping after the engine has written the
// terminal status for this attempt.
func (q *Queue) Resolve(id string) {
	q.mu.Lock()
	delete(q.claims, id)
	q.mu.Unlock()
}

// Held reports whether this queue currently holds a claim on the record.
func (q *Queue) Held(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, held := q.claims[id]
	return held
}
