package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orthosense_sync/internal/domain"
)

// Session is a recorded therapy session.
type Session struct {
	PatientID    string     `json:"patient_id"`
	ExerciseType string     `json:"exercise_type"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

type Sessions struct {
	store Store
}

func NewSessions(store Store) *Sessions {
	return &Sessions{store: store}
}

// Create stores a new session and returns its generated id.
func (r *Sessions) Create(ctx context.Context, s Session) (string, error) {
	id := uuid.NewString()
	if err := r.put(ctx, id, s); err != nil {
		return "", err
	}
	return id, nil
}

// Update overwrites an existing session. The record goes back to pending
// so the next pass re-uploads it.
func (r *Sessions) Update(ctx context.Context, id string, s Session) error {
	return r.put(ctx, id, s)
}

func (r *Sessions) Get(ctx context.Context, id string) (*Session, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(rec.Payload, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session payload: %w", err)
	}
	return &s, nil
}

// Delete removes the session and, through the store, everything recorded
// under it.
func (r *Sessions) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

func (r *Sessions) put(ctx context.Context, id string, s Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session payload: %w", err)
	}
	return r.store.Put(ctx, &domain.Record{
		ID:      id,
		Kind:    domain.KindSession,
		Payload: payload,
	})
}
