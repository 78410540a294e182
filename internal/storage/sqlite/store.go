package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"orthosense_sync/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id                TEXT PRIMARY KEY,
	kind              TEXT NOT NULL,
	parent_id         TEXT REFERENCES records(id) ON DELETE CASCADE,
	payload           TEXT NOT NULL,
	sync_status       TEXT NOT NULL DEFAULT 'pending',
	sync_retry_count  INTEGER NOT NULL DEFAULT 0,
	last_sync_attempt TIMESTAMP,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_sync_status ON records (sync_status, created_at);
CREATE INDEX IF NOT EXISTS idx_records_parent_id ON records (parent_id);
`

// Open opens the on-device database with WAL and foreign keys enabled.
// An in-memory database is pinned to a single connection so every query
// sees the same data.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

// Store is the durable record store. All local mutations land here tagged
// with a sync status; the sync engine transitions that status through
// UpdateStatus and never through Put.
type Store struct {
	db     *sqlx.DB
	hub    *hub
	logger *slog.Logger
}

func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	s := &Store{
		db:     db,
		logger: logger.With("component", "record_store"),
	}
	s.hub = newHub(s)
	return s
}

// InitSchema creates the records table and indexes if missing.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Put inserts or replaces a record by id. The caller-supplied sync status
// is ignored: any local write makes the record dirty, so it lands pending
// with a zero retry count, even if a prior version was already synced.
func (s *Store) Put(ctx context.Context, rec *domain.Record) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer tx.Rollback()

	if rec.ParentID != nil {
		var exists int
		err := tx.GetContext(ctx, &exists, `SELECT 1 FROM records WHERE id = ?`, *rec.ParentID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("put %s: %w", rec.ID, domain.ErrParentNotFound)
		}
		if err != nil {
			return fmt.Errorf("check parent of %s: %w", rec.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (
			id, kind, parent_id, payload, sync_status, sync_retry_count,
			last_sync_attempt, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, NULL, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			payload = excluded.payload,
			sync_status = excluded.sync_status,
			sync_retry_count = 0,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Kind, rec.ParentID, string(rec.Payload),
		domain.StatusPending, now, now,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put %s: %w", rec.ID, err)
	}

	rec.SyncStatus = domain.StatusPending
	rec.SyncRetryCount = 0
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	s.hub.broadcast()
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Record, error) {
	var rec domain.Record
	err := s.db.GetContext(ctx, &rec, `
		SELECT id, kind, parent_id, CAST(payload AS BLOB) AS payload, sync_status, sync_retry_count,
		       last_sync_attempt, created_at, updated_at
		FROM records
		WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return &rec, nil
}

// ListByStatus returns records in any of the given statuses, oldest first,
// id as the tiebreak so the upload order is stable.
func (s *Store) ListByStatus(ctx context.Context, statuses ...domain.SyncStatus) ([]domain.Record, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, kind, parent_id, CAST(payload AS BLOB) AS payload, sync_status, sync_retry_count,
		       last_sync_attempt, created_at, updated_at
		FROM records
		WHERE sync_status IN (?)
		ORDER BY created_at ASC, id ASC`, statuses)
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	var recs []domain.Record
	if err := s.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	return recs, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[domain.SyncStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sync_status, COUNT(*) FROM records GROUP BY sync_status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SyncStatus]int)
	for rows.Next() {
		var status domain.SyncStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// UpdateStatus atomically moves a record along the sync lifecycle. The
// retry counter follows the transition so callers cannot drift it: it
// increments on a move to failed that records an attempt timestamp,
// stays put on a failed move without one (a released claim, no attempt
// was made), and resets on a move to synced.
func (s *Store) UpdateStatus(ctx context.Context, id string, next domain.SyncStatus, attemptAt *time.Time) error {
	if !next.Valid() {
		return fmt.Errorf("update status of %s to %q: %w", id, next, domain.ErrInvalidTransition)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var current domain.SyncStatus
	err = tx.GetContext(ctx, &current, `SELECT sync_status FROM records WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("update status of %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read status of %s: %w", id, err)
	}

	if !current.CanTransition(next) {
		return fmt.Errorf("update status of %s (%s -> %s): %w",
			id, current, next, domain.ErrInvalidTransition)
	}

	retryExpr := "sync_retry_count"
	switch {
	case next == domain.StatusFailed && attemptAt != nil:
		retryExpr = "sync_retry_count + 1"
	case next == domain.StatusSynced:
		retryExpr = "0"
	}

	query := fmt.Sprintf(`
		UPDATE records
		SET sync_status = ?, sync_retry_count = %s, updated_at = ?`, retryExpr)
	args := []interface{}{next, time.Now().UTC()}
	if attemptAt != nil {
		query += `, last_sync_attempt = ?`
		args = append(args, attemptAt.UTC())
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status update of %s: %w", id, err)
	}

	s.hub.broadcast()
	return nil
}

// Delete removes a record. Dependents cascade through the parent_id
// foreign key. Deleting a missing record is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.hub.broadcast()
	}
	return nil
}

// Watch returns a stream of snapshots of records in the given statuses
// (all records when none are given). A snapshot is emitted after every
// committed mutation; emissions are coalesced, a slow consumer only sees
// the latest snapshot. The returned cancel func releases the subscription.
func (s *Store) Watch(statuses ...domain.SyncStatus) (<-chan []domain.Record, func()) {
	return s.hub.subscribe(statuses)
}

func (s *Store) Close() error {
	s.hub.close()
	return s.db.Close()
}
