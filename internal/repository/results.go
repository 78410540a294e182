package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"orthosense_sync/internal/domain"
)

// ExerciseResult is the scored outcome of a single exercise set.
type ExerciseResult struct {
	ExerciseType   string  `json:"exercise_type"`
	Repetitions    int     `json:"repetitions"`
	CorrectReps    int     `json:"correct_reps"`
	FormScore      float64 `json:"form_score"`
	Classification string  `json:"classification,omitempty"`
}

type ExerciseResults struct {
	store Store
}

func NewExerciseResults(store Store) *ExerciseResults {
	return &ExerciseResults{store: store}
}

// Create stores a result under an existing session. The store rejects
// unknown session ids with domain.ErrParentNotFound.
func (r *ExerciseResults) Create(ctx context.Context, sessionID string, res ExerciseResult) (string, error) {
	id := uuid.NewString()
	if err := r.put(ctx, id, sessionID, res); err != nil {
		return "", err
	}
	return id, nil
}

func (r *ExerciseResults) Update(ctx context.Context, id, sessionID string, res ExerciseResult) error {
	return r.put(ctx, id, sessionID, res)
}

func (r *ExerciseResults) Get(ctx context.Context, id string) (*ExerciseResult, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var res ExerciseResult
	if err := json.Unmarshal(rec.Payload, &res); err != nil {
		return nil, fmt.Errorf("failed to decode exercise result payload: %w", err)
	}
	return &res, nil
}

func (r *ExerciseResults) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

func (r *ExerciseResults) put(ctx context.Context, id, sessionID string, res ExerciseResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode exercise result payload: %w", err)
	}
	return r.store.Put(ctx, &domain.Record{
		ID:       id,
		Kind:     domain.KindExerciseResult,
		ParentID: &sessionID,
		Payload:  payload,
	})
}
