package engine

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"
	"time"

	"orthosense_sync/internal/domain"
)

// RecordStore is the durable local store the engine transitions statuses on.
type RecordStore interface {
	Get(ctx context.Context, id string) (*domain.Record, error)
	ListByStatus(ctx context.Context, statuses ...domain.SyncStatus) ([]domain.Record, error)
	CountByStatus(ctx context.Context) (map[domain.SyncStatus]int, error)
	UpdateStatus(ctx context.Context, id string, next domain.SyncStatus, attemptAt *time.Time) error
}

// Outbox surfaces dirty records in upload order and serializes per-record
// sync attempts through claims.
type Outbox interface {
	Entries(ctx context.Context, now time.Time, bypassBackoff bool) ([]domain.Record, error)
	Claim(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
	Resolve(id string)
}

// RemoteService uploads a record to the backend. The upload must be
// idempotent on the remote side keyed by id, since retries can re-send.
type RemoteService interface {
	Upload(ctx context.Context, id string, kind domain.RecordKind, payload json.RawMessage) error
}

// Connectivity reports whether the backend is reachable and signals
// reachability changes.
type Connectivity interface {
	IsOnline() bool
	Changes() <-chan bool
}
