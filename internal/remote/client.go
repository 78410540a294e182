// Package remote implements the upload client for the OrthoSense ingest
// backend. Uploads are idempotent on the server keyed by record id, so
// the engine can safely re-send after ambiguous outcomes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"orthosense_sync/internal/domain"
)

type Config struct {
	BaseURL string
}

// UploadRequest is the wire shape of a record upload.
type UploadRequest struct {
	Kind       domain.RecordKind `json:"kind"`
	Payload    json.RawMessage   `json:"payload"`
	UploadedAt time.Time         `json:"uploaded_at"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		// Per-call deadlines come from the engine's upload timeout.
		httpClient: &http.Client{},
		baseURL:    cfg.BaseURL,
		logger:     logger.With("component", "remote"),
	}
}

// Upload sends one record to the backend. Any non-2xx response is a
// failed attempt; the engine owns retry accounting.
func (c *Client) Upload(ctx context.Context, id string, kind domain.RecordKind, payload json.RawMessage) error {
	body, err := json.Marshal(UploadRequest{
		Kind:       kind,
		Payload:    payload,
		UploadedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal upload: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/records/%s", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "OrthoSenseSync/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	c.logger.Debug("record uploaded", "record_id", id, "kind", kind)
	return nil
}
