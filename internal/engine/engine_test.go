package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"orthosense_sync/internal/domain"
	"orthosense_sync/internal/engine/mocks"
)

type EngineTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	store        *mocks.MockRecordStore
	outbox       *mocks.MockOutbox
	remote       *mocks.MockRemoteService
	connectivity *mocks.MockConnectivity

	engine *Engine
}

func (s *EngineTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.store = mocks.NewMockRecordStore(s.ctrl)
	s.outbox = mocks.NewMockOutbox(s.ctrl)
	s.remote = mocks.NewMockRemoteService(s.ctrl)
	s.connectivity = mocks.NewMockConnectivity(s.ctrl)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.engine = New(s.store, s.outbox, s.remote, s.connectivity, logger, Config{
		Interval:      30 * time.Second,
		Concurrency:   1,
		UploadTimeout: time.Second,
	})
}

func (s *EngineTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func record(id string) domain.Record {
	return domain.Record{
		ID:         id,
		Kind:       domain.KindExerciseResult,
		Payload:    json.RawMessage(`{"repetitions":10}`),
		SyncStatus: domain.StatusPending,
	}
}

func (s *EngineTestSuite) TestSyncNow_UploadSucceeds() {
	ctx := context.Background()
	recA := record("rec-a")

	s.connectivity.EXPECT().IsOnline().Return(true)
	s.outbox.EXPECT().Entries(gomock.Any(), gomock.Any(), true).Return([]domain.Record{recA}, nil)
	s.outbox.EXPECT().Claim(gomock.Any(), "rec-a").Return(nil)
	s.remote.EXPECT().Upload(gomock.Any(), "rec-a", domain.KindExerciseResult, recA.Payload).Return(nil)
	s.store.EXPECT().UpdateStatus(gomock.Any(), "rec-a", domain.StatusSynced, gomock.Not(gomock.Nil())).Return(nil)
	s.outbox.EXPECT().Resolve("rec-a")

	stats, err := s.engine.SyncNow(ctx)

	s.NoError(err)
	s.Equal(1, stats.Attempted)
	s.Equal(1, stats.Synced)
	s.Equal(0, stats.Failed)
	s.Equal(0, stats.Skipped)

	status := s.engine.PassStatus()
	s.NotNil(status.LastSyncAt)
	s.Empty(status.LastError)
	s.False(status.Active)
}

func (s *EngineTestSuite) TestSyncNow_UploadFails() {
	ctx := context.Background()
	recB := record("rec-b")

	s.connectivity.EXPECT().IsOnline().Return(true)
	s.outbox.EXPECT().Entries(gomock.Any(), gomock.Any(), true).Return([]domain.Record{recB}, nil)
	s.outbox.EXPECT().Claim(gomock.Any(), "rec-b").Return(nil)
	s.remote.EXPECT().Upload(gomock.Any(), "rec-b", gomock.Any(), gomock.Any()).
		Return(errors.New("502 bad gateway"))
	s.store.EXPECT().UpdateStatus(gomock.Any(), "rec-b", domain.StatusFailed, gomock.Not(gomock.Nil())).Return(nil)
	s.outbox.EXPECT().Resolve("rec-b")

	stats, err := s.engine.SyncNow(ctx)

	s.NoError(err)
	s.Equal(1, stats.Failed)
	s.Equal(0, stats.Synced)
	s.Contains(s.engine.PassStatus().LastError, "rec-b")
}

func (s *EngineTestSuite) TestSyncNow_OfflineShortCircuits() {
	s.connectivity.EXPECT().IsOnline().Return(false)
	// No outbox, remote, or store expectations: offline means no claims.

	stats, err := s.engine.SyncNow(context.Background())

	s.ErrorIs(err, ErrOffline)
	s.Nil(stats)
}

func (s *EngineTestSuite) TestSyncNow_SkipsRecordClaimedElsewhere() {
	ctx := context.Background()
	recD := record("rec-d")

	s.connectivity.EXPECT().IsOnline().Return(true)
	s.outbox.EXPECT().Entries(gomock.Any(), gomock.Any(), true).Return([]domain.Record{recD}, nil)
	s.outbox.EXPECT().Claim(gomock.Any(), "rec-d").Return(domain.ErrAlreadyInFlight)

	stats, err := s.engine.SyncNow(ctx)

	s.NoError(err)
	s.Equal(1, stats.Skipped)
	s.Equal(0, stats.Attempted)
}

func (s *EngineTestSuite) TestSyncNow_ClaimErrorDoesNotAbortPass() {
	ctx := context.Background()
	recA := record("rec-a")
	recB := record("rec-b")

	s.connectivity.EXPECT().IsOnline().Return(true)
	s.outbox.EXPECT().Entries(gomock.Any(), gomock.Any(), true).Return([]domain.Record{recA, recB}, nil)
	s.outbox.EXPECT().Claim(gomock.Any(), "rec-a").Return(errors.New("disk I/O error"))
	s.outbox.EXPECT().Claim(gomock.Any(), "rec-b").Return(nil)
	s.remote.EXPECT().Upload(gomock.Any(), "rec-b", gomock.Any(), gomock.Any()).Return(nil)
	s.store.EXPECT().UpdateStatus(gomock.Any(), "rec-b", domain.StatusSynced, gomock.Any()).Return(nil)
	s.outbox.EXPECT().Resolve("rec-b")

	stats, err := s.engine.SyncNow(ctx)

	s.NoError(err)
	s.Equal(1, stats.Synced)
	s.Equal(1, stats.Skipped)
}

func (s *EngineTestSuite) TestSyncNow_UploadTimeoutCountsAsFailed() {
	ctx := context.Background()
	recA := record("rec-a")
	s.engine.cfg.UploadTimeout = 20 * time.Millisecond

	s.connectivity.EXPECT().IsOnline().Return(true)
	s.outbox.EXPECT().Entries(gomock.Any(), gomock.Any(), true).Return([]domain.Record{recA}, nil)
	s.outbox.EXPECT().Claim(gomock.Any(), "rec-a").Return(nil)
	s.remote.EXPECT().Upload(gomock.Any(), "rec-a", gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string, _ domain.RecordKind, _ json.RawMessage) error {
			<-ctx.Done()
			return ctx.Err()
		},
	)
	s.store.EXPECT().UpdateStatus(gomock.Any(), "rec-a", domain.StatusFailed, gomock.Any()).Return(nil)
	s.outbox.EXPECT().Resolve("rec-a")

	stats, err := s.engine.SyncNow(ctx)

	s.NoError(err)
	s.Equal(1, stats.Failed)
}

func (s *EngineTestSuite) TestUploadOne_ReleasesClaimOnCancelBeforeAttempt() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.outbox.EXPECT().Release(gomock.Any(), "rec-a").Return(nil)

	outcome := s.engine.uploadOne(ctx, record("rec-a"))
	s.Equal(uploadReleased, outcome)
}

func (s *EngineTestSuite) TestRetryFailed_ResetsAllFailedRecords() {
	ctx := context.Background()

	exhausted := record("rec-old")
	exhausted.SyncStatus = domain.StatusFailed
	exhausted.SyncRetryCount = 5

	failing := record("rec-new")
	failing.SyncStatus = domain.StatusFailed
	failing.SyncRetryCount = 2

	s.store.EXPECT().ListByStatus(ctx, domain.StatusFailed).
		Return([]domain.Record{exhausted, failing}, nil)
	s.store.EXPECT().UpdateStatus(ctx, "rec-old", domain.StatusPending, nil).Return(nil)
	s.store.EXPECT().UpdateStatus(ctx, "rec-new", domain.StatusPending, nil).Return(nil)

	reset, err := s.engine.RetryFailed(ctx)

	s.NoError(err)
	s.Equal(2, reset)
}

func (s *EngineTestSuite) TestRetryFailed_PartialResetOnStoreError() {
	ctx := context.Background()

	a := record("rec-a")
	a.SyncStatus = domain.StatusFailed
	b := record("rec-b")
	b.SyncStatus = domain.StatusFailed

	s.store.EXPECT().ListByStatus(ctx, domain.StatusFailed).Return([]domain.Record{a, b}, nil)
	s.store.EXPECT().UpdateStatus(ctx, "rec-a", domain.StatusPending, nil).Return(errors.New("disk I/O error"))
	s.store.EXPECT().UpdateStatus(ctx, "rec-b", domain.StatusPending, nil).Return(nil)

	reset, err := s.engine.RetryFailed(ctx)

	s.NoError(err)
	s.Equal(1, reset)
}

func (s *EngineTestSuite) TestSyncNow_OutboxErrorFailsPass() {
	s.connectivity.EXPECT().IsOnline().Return(true)
	s.outbox.EXPECT().Entries(gomock.Any(), gomock.Any(), true).
		Return(nil, errors.New("database is locked"))

	stats, err := s.engine.SyncNow(context.Background())

	s.Error(err)
	s.Contains(err.Error(), "read outbox")
	s.NotNil(stats)
}
