package domain

import (
	"encoding/json"
	"time"
)

// Upload is a record as received by the ingest backend. UploadedAt is the
// device clock at upload time and drives newer-wins conflict resolution;
// ReceivedAt is the server clock.
type Upload struct {
	ID         string          `db:"id" json:"id"`
	Kind       RecordKind      `db:"kind" json:"kind"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	UploadedAt time.Time       `db:"uploaded_at" json:"uploaded_at"`
	ReceivedAt time.Time       `db:"received_at" json:"received_at"`
}
