package domain

import "time"

// AggregateStatus summarises the whole sync subsystem for display.
type AggregateStatus string

const (
	AggregateIdle    AggregateStatus = "idle"
	AggregateSyncing AggregateStatus = "syncing"
	AggregateError   AggregateStatus = "error"
	AggregateOffline AggregateStatus = "offline"
)

// SyncState is a derived, read-only projection of the record store plus
// the connectivity signal. It is recomputed on every change and never a
// source of truth itself.
type SyncState struct {
	Status       AggregateStatus `json:"status"`
	PendingCount int             `json:"pending_count"`
	FailedCount  int             `json:"failed_count"`
	LastSyncAt   *time.Time      `json:"last_sync_at,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	IsOnline     bool            `json:"is_online"`
}

// SyncStats holds counters for a single sync pass.
type SyncStats struct {
	Attempted int           `json:"attempted"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration_ns"`
}
