package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestProber_OnlineWhenHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber(Config{
		ProbeURL:      srv.URL + "/health",
		ProbeInterval: 10 * time.Millisecond,
		ProbeTimeout:  time.Second,
	}, testLogger())

	assert.False(t, p.IsOnline(), "prober starts offline")

	changes := p.Changes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case online := <-changes:
		assert.True(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("no connectivity-regained event")
	}
	assert.True(t, p.IsOnline())
}

func TestProber_GoesOfflineOnServerError(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProber(Config{
		ProbeURL:      srv.URL + "/health",
		ProbeInterval: 10 * time.Millisecond,
		ProbeTimeout:  time.Second,
	}, testLogger())
	changes := p.Changes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, p.IsOnline, 2*time.Second, 10*time.Millisecond)
	<-changes // drain the online edge

	healthy.Store(false)

	select {
	case online := <-changes:
		assert.False(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("no offline event")
	}
	assert.False(t, p.IsOnline())
}

func TestProber_UnreachableHostStaysOffline(t *testing.T) {
	p := NewProber(Config{
		ProbeURL:      "http://127.0.0.1:1/health",
		ProbeInterval: 10 * time.Millisecond,
		ProbeTimeout:  100 * time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	assert.False(t, p.IsOnline())
}
