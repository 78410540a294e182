package domain

import (
	"encoding/json"
	"time"
)

// SyncStatus tracks where a record sits in the upload lifecycle.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSyncing SyncStatus = "syncing"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// CanTransition reports whether moving from s to next is a valid edge
// in the sync lifecycle. Synced is terminal except for the pending reset
// caused by a local mutation. Syncing may fall back to pending when a
// claim is released before the upload was ever attempted.
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusSyncing
	case StatusSyncing:
		return next == StatusSynced || next == StatusFailed || next == StatusPending
	case StatusFailed:
		return next == StatusPending || next == StatusSyncing
	case StatusSynced:
		return next == StatusPending
	}
	return false
}

func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusSynced, StatusFailed:
		return true
	}
	return false
}

type RecordKind string

const (
	KindSession        RecordKind = "session"
	KindExerciseResult RecordKind = "exercise_result"
	KindMeasurement    RecordKind = "measurement"
)

func (k RecordKind) Valid() bool {
	switch k {
	case KindSession, KindExerciseResult, KindMeasurement:
		return true
	}
	return false
}

// Record is a syncable domain entity. The payload is entity-specific and
// opaque to the sync subsystem; only the id and sync columns matter here.
type Record struct {
	ID              string          `db:"id"`
	Kind            RecordKind      `db:"kind"`
	ParentID        *string         `db:"parent_id"`
	Payload         json.RawMessage `db:"payload"`
	SyncStatus      SyncStatus      `db:"sync_status"`
	SyncRetryCount  int             `db:"sync_retry_count"`
	LastSyncAttempt *time.Time      `db:"last_sync_attempt"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}
