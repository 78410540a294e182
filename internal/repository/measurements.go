package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orthosense_sync/internal/domain"
)

// Measurement is a single range-of-motion or strength reading. It may be
// taken during a session or standalone.
type Measurement struct {
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	MeasuredAt time.Time `json:"measured_at"`
}

type Measurements struct {
	store Store
}

func NewMeasurements(store Store) *Measurements {
	return &Measurements{store: store}
}

// Create stores a measurement and returns its generated id. sessionID is
// optional; pass nil for readings taken outside a session.
func (r *Measurements) Create(ctx context.Context, sessionID *string, m Measurement) (string, error) {
	id := uuid.NewString()
	if err := r.put(ctx, id, sessionID, m); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Measurements) Update(ctx context.Context, id string, sessionID *string, m Measurement) error {
	return r.put(ctx, id, sessionID, m)
}

func (r *Measurements) Get(ctx context.Context, id string) (*Measurement, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var m Measurement
	if err := json.Unmarshal(rec.Payload, &m); err != nil {
		return nil, fmt.Errorf("failed to decode measurement payload: %w", err)
	}
	return &m, nil
}

func (r *Measurements) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

func (r *Measurements) put(ctx context.Context, id string, sessionID *string, m Measurement) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode measurement payload: %w", err)
	}
	return r.store.Put(ctx, &domain.Record{
		ID:       id,
		Kind:     domain.KindMeasurement,
		ParentID: sessionID,
		Payload:  payload,
	})
}
