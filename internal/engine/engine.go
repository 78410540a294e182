package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orthosense_sync/internal/domain"
)

// ErrOffline is returned by a sync pass that was short-circuited because
// the connectivity probe reports the backend unreachable. No claims are
// attempted in that case.
var ErrOffline = errors.New("backend unreachable, sync pass skipped")

type Config struct {
	// Interval between automatic sync passes.
	Interval time.Duration

	// Concurrency bounds how many records upload in parallel within a
	// pass. Claims keep per-record work serialized regardless.
	Concurrency int

	// UploadTimeout bounds each remote call; expiry counts as a failed
	// attempt.
	UploadTimeout time.Duration
}

// PassStatus is the engine's contribution to the sync state aggregate.
type PassStatus struct {
	Active     bool
	LastSyncAt *time.Time
	LastError  string
}

// Engine reconciles local pending writes with the remote service. A single
// logical worker drains the outbox; concurrent triggers (timer firing
// during a manual sync) are safe because claims make per-record work
// exclusive.
type Engine struct {
	store        RecordStore
	outbox       Outbox
	remote       RemoteService
	connectivity Connectivity
	logger       *slog.Logger
	cfg          Config

	trigger chan bool // element is the bypass-backoff flag
	updates chan struct{}

	mu         sync.Mutex
	active     int
	lastSyncAt *time.Time
	lastError  string
}

func New(
	store RecordStore,
	outbox Outbox,
	remote RemoteService,
	connectivity Connectivity,
	logger *slog.Logger,
	cfg Config,
) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Engine{
		store:        store,
		outbox:       outbox,
		remote:       remote,
		connectivity: connectivity,
		logger:       logger.With("component", "sync_engine"),
		cfg:          cfg,
		trigger:      make(chan bool, 1),
		updates:      make(chan struct{}, 1),
	}
}

// Run drives automatic passes until ctx is cancelled: one immediately, one
// per interval tick, one whenever connectivity comes back, and one per
// queued trigger from RetryFailed.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("sync engine started",
		"interval", e.cfg.Interval,
		"concurrency", e.cfg.Concurrency,
	)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	changes := e.connectivity.Changes()

	e.runPass(ctx, false)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.runPass(ctx, false)
		case online := <-changes:
			if online {
				e.logger.Info("connectivity regained, syncing")
				e.runPass(ctx, false)
			}
		case bypass := <-e.trigger:
			e.runPass(ctx, bypass)
		}
	}
}

// SyncNow runs a pass immediately, bypassing per-record backoff windows.
func (e *Engine) SyncNow(ctx context.Context) (*domain.SyncStats, error) {
	return e.runPass(ctx, true)
}

// RetryFailed resets failed records back to pending, including those past
// the retry ceiling, and queues a pass. Returns how many were reset.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	failed, err := e.store.ListByStatus(ctx, domain.StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("list failed records: %w", err)
	}

	reset := 0
	for _, rec := range failed {
		if err := e.store.UpdateStatus(ctx, rec.ID, domain.StatusPending, nil); err != nil {
			e.logger.Error("reset failed record", "record_id", rec.ID, "error", err)
			continue
		}
		reset++
	}

	e.logger.Info("failed records reset for retry", "count", reset)

	select {
	case e.trigger <- true:
	default:
	}
	return reset, nil
}

// PassStatus returns the engine-side slice of the aggregate sync state.
func (e *Engine) PassStatus() PassStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PassStatus{
		Active:     e.active > 0,
		LastSyncAt: e.lastSyncAt,
		LastError:  e.lastError,
	}
}

// Updates signals PassStatus changes, coalesced to the latest.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

func (e *Engine) runPass(ctx context.Context, bypassBackoff bool) (*domain.SyncStats, error) {
	if !e.connectivity.IsOnline() {
		e.logger.Debug("offline, skipping sync pass")
		return nil, ErrOffline
	}

	start := time.Now()
	e.beginPass()

	stats := &domain.SyncStats{}
	err := e.drain(ctx, stats, bypassBackoff)
	stats.Duration = time.Since(start)

	e.endPass(stats, err)

	if err != nil {
		return stats, err
	}

	e.logger.Info("sync pass completed",
		"attempted", stats.Attempted,
		"synced", stats.Synced,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"duration", stats.Duration,
	)
	return stats, nil
}

func (e *Engine) drain(ctx context.Context, stats *domain.SyncStats, bypassBackoff bool) error {
	entries, err := e.outbox.Entries(ctx, time.Now(), bypassBackoff)
	if err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}

	var (
		wg      sync.WaitGroup
		statsMu sync.Mutex
		sem     = make(chan struct{}, e.cfg.Concurrency)
	)

	for i := range entries {
		rec := entries[i]

		if ctx.Err() != nil {
			break
		}

		if err := e.outbox.Claim(ctx, rec.ID); err != nil {
			statsMu.Lock()
			stats.Skipped++
			statsMu.Unlock()
			if errors.Is(err, domain.ErrAlreadyInFlight) {
				e.logger.Debug("record claimed elsewhere, skipping", "record_id", rec.ID)
			} else {
				// One record's storage trouble must not stop the pass.
				e.logger.Error("claim failed", "record_id", rec.ID, "error", err)
			}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := e.uploadOne(ctx, rec)
			statsMu.Lock()
			switch outcome {
			case uploadSynced:
				stats.Attempted++
				stats.Synced++
			case uploadFailed:
				stats.Attempted++
				stats.Failed++
			case uploadReleased:
				stats.Skipped++
			}
			statsMu.Unlock()
		}()
	}

	wg.Wait()
	return nil
}

type uploadOutcome int

const (
	uploadSynced uploadOutcome = iota
	uploadFailed
	uploadReleased
)

func (e *Engine) uploadOne(ctx context.Context, rec domain.Record) uploadOutcome {
	// Status writes must land even when the pass is being cancelled.
	storeCtx := context.WithoutCancel(ctx)

	// Cancelled before the upload started: hand the claim back untouched.
	if ctx.Err() != nil {
		if err := e.outbox.Release(storeCtx, rec.ID); err != nil {
			e.logger.Error("release claim", "record_id", rec.ID, "error", err)
		}
		return uploadReleased
	}

	uploadCtx, cancel := context.WithTimeout(ctx, e.cfg.UploadTimeout)
	defer cancel()

	err := e.remote.Upload(uploadCtx, rec.ID, rec.Kind, rec.Payload)
	now := time.Now().UTC()
	defer e.outbox.Resolve(rec.ID)

	if err != nil {
		// Timeouts and cancellations mid-flight have unknown remote
		// outcomes; record them as failed, never as synced.
		if sErr := e.store.UpdateStatus(storeCtx, rec.ID, domain.StatusFailed, &now); sErr != nil {
			e.logger.Error("mark record failed", "record_id", rec.ID, "error", sErr)
		}
		e.setLastError(fmt.Sprintf("upload %s: %v", rec.ID, err))
		e.logger.Warn("upload failed",
			"record_id", rec.ID,
			"kind", rec.Kind,
			"retry_count", rec.SyncRetryCount+1,
			"error", err,
		)
		return uploadFailed
	}

	if sErr := e.store.UpdateStatus(storeCtx, rec.ID, domain.StatusSynced, &now); sErr != nil {
		e.logger.Error("mark record synced", "record_id", rec.ID, "error", sErr)
		return uploadFailed
	}

	e.logger.Debug("record synced", "record_id", rec.ID, "kind", rec.Kind)
	return uploadSynced
}

func (e *Engine) beginPass() {
	e.mu.Lock()
	e.active++
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) endPass(stats *domain.SyncStats, err error) {
	now := time.Now().UTC()
	e.mu.Lock()
	e.active--
	if err == nil {
		e.lastSyncAt = &now
		if stats.Failed == 0 {
			e.lastError = ""
		}
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) setLastError(msg string) {
	e.mu.Lock()
	e.lastError = msg
	e.mu.Unlock()
}

func (e *Engine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}
