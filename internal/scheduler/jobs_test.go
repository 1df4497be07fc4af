package scheduler_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/quantdesk/lotledger/internal/modules/ledger"
	"github.com/quantdesk/lotledger/internal/modules/marks"
	"github.com/quantdesk/lotledger/internal/modules/pnl"
	"github.com/quantdesk/lotledger/internal/modules/positions"
	"github.com/quantdesk/lotledger/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedMultiplier float64

func (f fixedMultiplier) MultiplierFor(string) float64 { return float64(f) }

type jobEnv struct {
	db        *database.DB
	marks     *marks.Repository
	markSvc   *marks.Service
	positions *positions.Service
	snapshots *positions.SnapshotRepository
	ledger    *ledger.Service
}

func newJobEnv(t *testing.T) *jobEnv {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())

	lots := ledger.NewLotRepository(db, zerolog.Nop())
	realizations := ledger.NewRealizationRepository(db, zerolog.Nop())
	markRepo := marks.NewRepository(db, 5, time.Millisecond, zerolog.Nop())
	markSvc := marks.NewService(markRepo, zerolog.Nop())
	svc := ledger.NewService(db, lots, realizations, markRepo,
		fixedMultiplier(1000), 5, time.Millisecond, zerolog.Nop())
	calc := pnl.NewCalculator(lots, realizations, markRepo, fixedMultiplier(1000), zerolog.Nop())
	snapshots := positions.NewSnapshotRepository(db, 5, time.Millisecond, zerolog.Nop())
	positionSvc := positions.NewService(snapshots, lots, realizations, calc, zerolog.Nop())

	return &jobEnv{
		db: db, marks: markRepo, markSvc: markSvc,
		positions: positionSvc, snapshots: snapshots, ledger: svc,
	}
}

func TestDailyRollJob_NoCloseMarks(t *testing.T) {
	env := newJobEnv(t)
	job := scheduler.NewDailyRollJob(env.markSvc, env.marks, env.positions, zerolog.Nop())

	require.NoError(t, job.Run())

	all, err := env.marks.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDailyRollJob_RollsOnceThenSkips(t *testing.T) {
	env := newJobEnv(t)
	job := scheduler.NewDailyRollJob(env.markSvc, env.marks, env.positions, zerolog.Nop())

	closeAt := time.Date(2026, 8, 14, 21, 30, 0, 0, time.UTC)
	require.NoError(t, env.marks.UpsertMark("ZN", domain.MarkClose, 111.5, closeAt))

	require.NoError(t, job.Run())

	sod, err := env.marks.Get("ZN", domain.MarkSodToday)
	require.NoError(t, err)
	assert.InDelta(t, 111.5, sod.Price, 1e-9)
	assert.Equal(t, time.Date(2026, 8, 14, 6, 0, 0, 0, time.UTC), sod.Timestamp)

	// second run is gated off by AlreadyRolled
	require.NoError(t, job.Run())
	all, err := env.marks.All()
	require.NoError(t, err)
	assert.Len(t, all, 3, "close + sodToday + sodTomorrow, no duplicates")
}

func TestDailyRollJob_RecomputesSnapshots(t *testing.T) {
	env := newJobEnv(t)
	job := scheduler.NewDailyRollJob(env.markSvc, env.marks, env.positions, zerolog.Nop())

	at := time.Date(2026, 8, 14, 10, 0, 0, 0, time.UTC)
	_, err := env.ledger.Insert(domain.Trade{
		SequenceID: "1", Symbol: "ZN", Side: domain.SideBuy,
		Quantity: 5, Price: 100, EventTime: at,
		OriginalPrice: 100, OriginalTime: at,
	})
	require.NoError(t, err)
	require.NoError(t, env.marks.UpsertMark("ZN", domain.MarkClose, 101,
		time.Date(2026, 8, 14, 21, 30, 0, 0, time.UTC)))

	require.NoError(t, job.Run())

	snap, err := env.snapshots.Get("2026-08-14", "ZN", domain.MethodFIFO)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, snap.OpenQuantity, 1e-9)
}

func TestWALCheckpointJob(t *testing.T) {
	env := newJobEnv(t)
	job := scheduler.NewWALCheckpointJob(env.db, zerolog.Nop())
	assert.Equal(t, "wal_checkpoint", job.Name())
	require.NoError(t, job.Run())
}

type stubBackup struct {
	key string
	err error
	ran bool
}

func (s *stubBackup) Backup(context.Context) (string, error) {
	s.ran = true
	return s.key, s.err
}

func TestBackupJob(t *testing.T) {
	stub := &stubBackup{key: "backups/ledger-20260814.tar.gz"}
	job := scheduler.NewBackupJob(stub, zerolog.Nop())
	require.NoError(t, job.Run())
	assert.True(t, stub.ran)

	stub = &stubBackup{err: errors.New("bucket unavailable")}
	job = scheduler.NewBackupJob(stub, zerolog.Nop())
	assert.Error(t, job.Run())
}

func TestSchedulerRegister_BadSpec(t *testing.T) {
	s := scheduler.New(zerolog.Nop())
	err := s.Register("not a cron spec", scheduler.NewWALCheckpointJob(nil, zerolog.Nop()))
	assert.Error(t, err)
}
