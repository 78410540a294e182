// Package api exposes the local control surface. It listens on loopback
// and lets the host application trigger sync passes and read aggregate
// state without linking against the engine directly.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"orthosense_sync/internal/domain"
	"orthosense_sync/internal/engine"
)

// Syncer is the engine surface the handler drives.
type Syncer interface {
	SyncNow(ctx context.Context) (*domain.SyncStats, error)
	RetryFailed(ctx context.Context) (int, error)
}

// StatusSource reports the current aggregate sync state.
type StatusSource interface {
	Current() domain.SyncState
}

type Handler struct {
	syncer Syncer
	status StatusSource
	logger *slog.Logger
}

func NewHandler(syncer Syncer, status StatusSource, logger *slog.Logger) *Handler {
	return &Handler{
		syncer: syncer,
		status: status,
		logger: logger,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/now", h.SyncNow)
		r.Post("/retry-failed", h.RetryFailed)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.status.Current())
}

func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	stats, err := h.syncer.SyncNow(r.Context())
	if err != nil {
		if errors.Is(err, engine.ErrOffline) {
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "device is offline"})
			return
		}
		h.logger.Error("manual sync failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	reset, err := h.syncer.RetryFailed(r.Context())
	if err != nil {
		h.logger.Error("retry of failed records did not complete", "error", err, "reset", reset)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"reset": reset})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
