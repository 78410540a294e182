// Package connectivity provides the reachability signal the sync engine
// and observer consume. The device-side stand-in for a platform network
// monitor is an HTTP prober against the backend health endpoint.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type Config struct {
	ProbeURL      string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// Prober polls the backend health endpoint and fans reachability changes
// out to subscribers. It starts offline; the first successful probe is
// itself a connectivity-regained event, which kicks an immediate sync.
type Prober struct {
	client   *http.Client
	url      string
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
	subs   []chan bool
}

func NewProber(cfg Config, logger *slog.Logger) *Prober {
	return &Prober{
		client:   &http.Client{Timeout: cfg.ProbeTimeout},
		url:      cfg.ProbeURL,
		interval: cfg.ProbeInterval,
		logger:   logger.With("component", "connectivity"),
	}
}

// IsOnline reports the last probed reachability.
func (p *Prober) IsOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Changes returns a stream of reachability transitions. Each call
// registers a new subscriber; emissions are edge-triggered.
func (p *Prober) Changes() <-chan bool {
	ch := make(chan bool, 4)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// Run probes immediately and then on every interval tick until ctx is
// cancelled.
func (p *Prober) Run(ctx context.Context) error {
	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	online, err := p.check(ctx)
	if err != nil {
		p.logger.Debug("probe failed", "url", p.url, "error", err)
	}

	p.mu.Lock()
	changed := online != p.online
	p.online = online
	subs := p.subs
	p.mu.Unlock()

	if !changed {
		return
	}

	p.logger.Info("connectivity changed", "online", online)
	for _, ch := range subs {
		select {
		case ch <- online:
		default:
		}
	}
}

func (p *Prober) check(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false, fmt.Errorf("create probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return true, nil
}
