package observer

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"orthosense_sync/internal/domain"
	"orthosense_sync/internal/engine"
	"orthosense_sync/internal/storage/sqlite"
)

// stubConnectivity is a hand-driven connectivity signal.
type stubConnectivity struct {
	mu      sync.Mutex
	online  bool
	changes chan bool
}

func newStubConnectivity(online bool) *stubConnectivity {
	return &stubConnectivity{online: online, changes: make(chan bool, 4)}
}

func (c *stubConnectivity) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *stubConnectivity) Changes() <-chan bool {
	return c.changes
}

func (c *stubConnectivity) set(online bool) {
	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
	c.changes <- online
}

// stubPasses is a hand-driven engine pass source.
type stubPasses struct {
	mu      sync.Mutex
	status  engine.PassStatus
	updates chan struct{}
}

func newStubPasses() *stubPasses {
	return &stubPasses{updates: make(chan struct{}, 4)}
}

func (p *stubPasses) PassStatus() engine.PassStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *stubPasses) Updates() <-chan struct{} {
	return p.updates
}

func (p *stubPasses) set(status engine.PassStatus) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
	p.updates <- struct{}{}
}

type ObserverTestSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc

	store        *sqlite.Store
	connectivity *stubConnectivity
	passes       *stubPasses
	observer     *Observer
}

func (s *ObserverTestSuite) SetupTest() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	db, err := sqlite.Open(":memory:")
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.store = sqlite.NewStore(db, logger)
	s.Require().NoError(s.store.InitSchema(s.ctx))

	s.connectivity = newStubConnectivity(true)
	s.passes = newStubPasses()
	s.observer = New(s.store, s.connectivity, s.passes, logger)

	go s.observer.Run(s.ctx)
}

func (s *ObserverTestSuite) TearDownTest() {
	s.cancel()
	s.store.Close()
}

func TestObserverTestSuite(t *testing.T) {
	suite.Run(t, new(ObserverTestSuite))
}

func (s *ObserverTestSuite) put(id string) {
	s.Require().NoError(s.store.Put(s.ctx, &domain.Record{
		ID:      id,
		Kind:    domain.KindSession,
		Payload: json.RawMessage(`{}`),
	}))
}

func (s *ObserverTestSuite) waitFor(cond func(domain.SyncState) bool) domain.SyncState {
	var last domain.SyncState
	s.Require().Eventually(func() bool {
		last = s.observer.Current()
		return cond(last)
	}, 2*time.Second, 10*time.Millisecond)
	return last
}

func (s *ObserverTestSuite) TestCountsFollowStoreMutations() {
	s.put("r-1")
	s.put("r-2")

	state := s.waitFor(func(st domain.SyncState) bool { return st.PendingCount == 2 })
	s.Equal(domain.AggregateIdle, state.Status)
	s.Equal(0, state.FailedCount)
	s.True(state.IsOnline)

	now := time.Now().UTC()
	s.Require().NoError(s.store.UpdateStatus(s.ctx, "r-1", domain.StatusSyncing, nil))
	s.Require().NoError(s.store.UpdateStatus(s.ctx, "r-1", domain.StatusFailed, &now))

	state = s.waitFor(func(st domain.SyncState) bool { return st.FailedCount == 1 })
	s.Equal(1, state.PendingCount)
	s.Equal(domain.AggregateError, state.Status)
}

func (s *ObserverTestSuite) TestOfflineTakesPrecedence() {
	s.put("r-1")
	s.waitFor(func(st domain.SyncState) bool { return st.PendingCount == 1 })

	s.connectivity.set(false)
	state := s.waitFor(func(st domain.SyncState) bool { return st.Status == domain.AggregateOffline })
	s.False(state.IsOnline)

	s.connectivity.set(true)
	state = s.waitFor(func(st domain.SyncState) bool { return st.Status == domain.AggregateIdle })
	s.True(state.IsOnline)
	s.Equal(1, state.PendingCount)
}

func (s *ObserverTestSuite) TestActivePassShowsSyncing() {
	s.passes.set(engine.PassStatus{Active: true})
	s.waitFor(func(st domain.SyncState) bool { return st.Status == domain.AggregateSyncing })

	at := time.Now().UTC()
	s.passes.set(engine.PassStatus{Active: false, LastSyncAt: &at})
	state := s.waitFor(func(st domain.SyncState) bool { return st.Status == domain.AggregateIdle })
	s.Require().NotNil(state.LastSyncAt)
	s.WithinDuration(at, *state.LastSyncAt, time.Second)
}

func (s *ObserverTestSuite) TestErrorMessageSurfacesLastFailure() {
	s.passes.set(engine.PassStatus{LastError: "upload rec-9: 502 bad gateway"})
	state := s.waitFor(func(st domain.SyncState) bool { return st.ErrorMessage != "" })
	s.Contains(state.ErrorMessage, "rec-9")
}

func (s *ObserverTestSuite) TestStatesStreamDeliversLatest() {
	s.put("r-1")

	s.Require().Eventually(func() bool {
		select {
		case state := <-s.observer.States():
			return state.PendingCount == 1
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
