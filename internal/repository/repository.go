// Package repository provides the typed entry points the application
// layer writes through. Every create or update lands in the record store
// as a pending record; sync status is never touched here, only the sync
// engine transitions it.
package repository

import (
	"context"

	"orthosense_sync/internal/domain"
)

// Store is the record store surface the repositories write through.
type Store interface {
	Put(ctx context.Context, rec *domain.Record) error
	Get(ctx context.Context, id string) (*domain.Record, error)
	Delete(ctx context.Context, id string) error
}
