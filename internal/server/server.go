// Package server implements the reference ingest backend. It accepts
// record uploads from devices, stores them idempotently, and fans stored
// uploads out to downstream consumers.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"orthosense_sync/internal/domain"
)

// UploadStore persists uploaded records.
type UploadStore interface {
	Upsert(ctx context.Context, up *domain.Upload) (bool, error)
	Get(ctx context.Context, id string) (*domain.Upload, error)
}

// Publisher notifies downstream consumers of stored uploads.
type Publisher interface {
	Publish(ctx context.Context, up *domain.Upload, isNew bool) error
}

type Handler struct {
	store     UploadStore
	publisher Publisher
	logger    *slog.Logger
}

func NewHandler(store UploadStore, publisher Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1/records", func(r chi.Router) {
		r.Put("/{id}", h.PutRecord)
		r.Get("/{id}", h.GetRecord)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type uploadRequest struct {
	Kind       domain.RecordKind `json:"kind"`
	Payload    json.RawMessage   `json:"payload"`
	UploadedAt time.Time         `json:"uploaded_at"`
}

// PutRecord stores one uploaded record. The operation is idempotent per
// record id so device retries after a lost response are safe.
func (h *Handler) PutRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Kind.Valid() {
		http.Error(w, "unknown record kind", http.StatusBadRequest)
		return
	}
	if len(req.Payload) == 0 {
		http.Error(w, "missing payload", http.StatusBadRequest)
		return
	}
	if req.UploadedAt.IsZero() {
		http.Error(w, "missing uploaded_at", http.StatusBadRequest)
		return
	}

	up := &domain.Upload{
		ID:         id,
		Kind:       req.Kind,
		Payload:    req.Payload,
		UploadedAt: req.UploadedAt,
	}

	created, err := h.store.Upsert(r.Context(), up)
	if err != nil {
		h.logger.Error("failed to store upload", "record_id", id, "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	// Fan-out is best effort. The upload is durable at this point, so a
	// publish failure must not make the device retry it.
	if err := h.publisher.Publish(r.Context(), up, created); err != nil {
		h.logger.Error("failed to publish upload", "record_id", id, "error", err)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]bool{"created": created})
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	up, err := h.store.Get(r.Context(), id)
	if err == domain.ErrNotFound {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load upload", "record_id", id, "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(up)
}
