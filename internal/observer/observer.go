// Package observer projects record store state and the connectivity
// signal into the aggregate sync state consumed by the UI layer. The
// projection is pure: it reads, derives, and broadcasts, and never
// writes back to the store.
package observer

import (
	"context"
	"log/slog"
	"sync"

	"orthosense_sync/internal/domain"
	"orthosense_sync/internal/engine"
)

// Store is the read-only slice of the record store the observer needs.
type Store interface {
	CountByStatus(ctx context.Context) (map[domain.SyncStatus]int, error)
	Watch(statuses ...domain.SyncStatus) (<-chan []domain.Record, func())
}

// Connectivity mirrors the engine's connectivity dependency.
type Connectivity interface {
	IsOnline() bool
	Changes() <-chan bool
}

// PassSource exposes the engine's pass bookkeeping.
type PassSource interface {
	PassStatus() engine.PassStatus
	Updates() <-chan struct{}
}

type Observer struct {
	store        Store
	connectivity Connectivity
	passes       PassSource
	logger       *slog.Logger

	out chan domain.SyncState

	mu      sync.Mutex
	current domain.SyncState
}

func New(store Store, connectivity Connectivity, passes PassSource, logger *slog.Logger) *Observer {
	o := &Observer{
		store:        store,
		connectivity: connectivity,
		passes:       passes,
		logger:       logger.With("component", "sync_observer"),
		out:          make(chan domain.SyncState, 1),
	}
	o.current = derive(0, 0, connectivity.IsOnline(), passes.PassStatus())
	return o
}

// Run recomputes the aggregate on every store emission, connectivity
// change, and engine pass update, until ctx is cancelled.
func (o *Observer) Run(ctx context.Context) error {
	snapshots, cancelWatch := o.store.Watch(domain.StatusPending, domain.StatusFailed)
	defer cancelWatch()

	changes := o.connectivity.Changes()
	updates := o.passes.Updates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case recs, ok := <-snapshots:
			if !ok {
				return nil
			}
			pending, failed := tally(recs)
			o.publish(pending, failed, o.connectivity.IsOnline())
		case online := <-changes:
			pending, failed, err := o.counts(ctx)
			if err != nil {
				o.logger.Error("recompute counts", "error", err)
				continue
			}
			o.publish(pending, failed, online)
		case <-updates:
			pending, failed, err := o.counts(ctx)
			if err != nil {
				o.logger.Error("recompute counts", "error", err)
				continue
			}
			o.publish(pending, failed, o.connectivity.IsOnline())
		}
	}
}

// Current returns the latest derived aggregate.
func (o *Observer) Current() domain.SyncState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// States streams aggregate updates, coalesced to the latest.
func (o *Observer) States() <-chan domain.SyncState {
	return o.out
}

func (o *Observer) counts(ctx context.Context) (pending, failed int, err error) {
	byStatus, err := o.store.CountByStatus(ctx)
	if err != nil {
		return 0, 0, err
	}
	return byStatus[domain.StatusPending], byStatus[domain.StatusFailed], nil
}

func (o *Observer) publish(pending, failed int, online bool) {
	state := derive(pending, failed, online, o.passes.PassStatus())

	o.mu.Lock()
	o.current = state
	o.mu.Unlock()

	select {
	case o.out <- state:
	default:
		select {
		case <-o.out:
		default:
		}
		select {
		case o.out <- state:
		default:
		}
	}
}

func tally(recs []domain.Record) (pending, failed int) {
	for _, rec := range recs {
		switch rec.SyncStatus {
		case domain.StatusPending:
			pending++
		case domain.StatusFailed:
			failed++
		}
	}
	return pending, failed
}

// derive computes the aggregate. Precedence: offline beats everything,
// an active pass shows as syncing, leftover failures as error.
func derive(pending, failed int, online bool, pass engine.PassStatus) domain.SyncState {
	status := domain.AggregateIdle
	switch {
	case !online:
		status = domain.AggregateOffline
	case pass.Active:
		status = domain.AggregateSyncing
	case failed > 0:
		status = domain.AggregateError
	}

	return domain.SyncState{
		Status:       status,
		PendingCount: pending,
		FailedCount:  failed,
		LastSyncAt:   pass.LastSyncAt,
		ErrorMessage: pass.LastError,
		IsOnline:     online,
	}
}
