package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"orthosense_sync/internal/domain"
)

type UploadStore struct {
	db *sqlx.DB
}

func NewUploadStore(db *sqlx.DB) *UploadStore {
	return &UploadStore{db: db}
}

// Upsert stores an upload, keeping the newest version per record id.
// Devices retry uploads whose outcome they never saw, so replays of the
// same version and out-of-order arrivals must both land without error.
// Returns true when the record was seen for the first time.
func (s *UploadStore) Upsert(ctx context.Context, up *domain.Upload) (bool, error) {
	query := `
		INSERT INTO uploads (
			id, kind, payload, uploaded_at, received_at
		) VALUES (
			$1, $2, $3, $4, now()
		)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			uploaded_at = EXCLUDED.uploaded_at,
			received_at = EXCLUDED.received_at
		WHERE uploads.uploaded_at < EXCLUDED.uploaded_at
		RETURNING (xmax = 0)`

	var inserted bool
	err := s.db.QueryRowContext(ctx, query,
		up.ID,
		up.Kind,
		up.Payload,
		up.UploadedAt,
	).Scan(&inserted)

	// No row means the conflict target held an equal or newer version.
	// That is a successful replay, not an error.
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return inserted, nil
}

func (s *UploadStore) Get(ctx context.Context, id string) (*domain.Upload, error) {
	var up domain.Upload
	err := s.db.GetContext(ctx, &up,
		"SELECT id, kind, payload, uploaded_at, received_at FROM uploads WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &up, nil
}

func (s *UploadStore) CountByKind(ctx context.Context) (map[domain.RecordKind]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM uploads GROUP BY kind")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[domain.RecordKind]int)
	for rows.Next() {
		var kind domain.RecordKind
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		result[kind] = count
	}

	return result, rows.Err()
}
