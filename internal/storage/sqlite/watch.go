package sqlite

import (
	"context"
	"sync"

	"orthosense_sync/internal/domain"
)

// hub fans committed-write notifications out to watch subscriptions.
// Each subscription re-queries its own snapshot, so delivery is
// at-least-once and naturally coalesced: a burst of writes collapses
// into one snapshot for a slow consumer.
type hub struct {
	store *Store

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

type subscription struct {
	statuses []domain.SyncStatus
	signal   chan struct{}
	out      chan []domain.Record
	done     chan struct{}
	once     sync.Once
}

func newHub(store *Store) *hub {
	return &hub{
		store: store,
		subs:  make(map[*subscription]struct{}),
	}
}

func (h *hub) subscribe(statuses []domain.SyncStatus) (<-chan []domain.Record, func()) {
	if len(statuses) == 0 {
		statuses = []domain.SyncStatus{
			domain.StatusPending, domain.StatusSyncing,
			domain.StatusSynced, domain.StatusFailed,
		}
	}

	sub := &subscription{
		statuses: statuses,
		signal:   make(chan struct{}, 1),
		out:      make(chan []domain.Record, 1),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.out)
		return sub.out, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	// Prime with the current snapshot so consumers do not wait for the
	// first mutation.
	sub.signal <- struct{}{}

	go h.run(sub)

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		sub.stop()
	}
	return sub.out, cancel
}

func (h *hub) run(sub *subscription) {
	defer close(sub.out)

	for {
		select {
		case <-sub.done:
			return
		case <-sub.signal:
		}

		recs, err := h.store.ListByStatus(context.Background(), sub.statuses...)
		if err != nil {
			h.store.logger.Error("watch snapshot query failed", "error", err)
			continue
		}

		// Single producer per subscription: dropping the stale snapshot
		// before sending keeps only the latest one buffered.
		select {
		case sub.out <- recs:
		default:
			select {
			case <-sub.out:
			default:
			}
			select {
			case sub.out <- recs:
			case <-sub.done:
				return
			}
		}
	}
}

func (h *hub) broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*subscription]struct{})
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() { close(sub.done) })
}
