package scheduler

import (
	"context"
	"time"

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/quantdesk/lotledger/internal/modules/ingest"
	"github.com/quantdesk/lotledger/internal/modules/marks"
	"github.com/quantdesk/lotledger/internal/modules/positions"
	"github.com/rs/zerolog"
)

// DailyRollJob promotes the latest close marks into sodToday and
// sodTomorrow. Skipped when the latest close date has already been rolled,
// so overlapping schedules and restarts stay harmless.
type DailyRollJob struct {
	marks     *marks.Service
	markRepo  *marks.Repository
	positions *positions.Service
	log       zerolog.Logger
}

// NewDailyRollJob creates the daily roll job
func NewDailyRollJob(markService *marks.Service, markRepo *marks.Repository, positionService *positions.Service, log zerolog.Logger) *DailyRollJob {
	return &DailyRollJob{
		marks:     markService,
		markRepo:  markRepo,
		positions: positionService,
		log:       log.With().Str("job", "daily_roll").Logger(),
	}
}

// Name returns the job name
func (j *DailyRollJob) Name() string { return "daily_roll" }

// Run executes the roll and then recomputes snapshots for the rolled day
func (j *DailyRollJob) Run() error {
	date, found, err := j.markRepo.LatestCloseDate()
	if err != nil {
		return err
	}
	if !found {
		j.log.Info().Msg("No close marks yet, nothing to roll")
		return nil
	}

	rolled, err := j.markRepo.AlreadyRolled(date)
	if err != nil {
		return err
	}
	if rolled {
		j.log.Debug().Str("date", domain.DayString(date)).Msg("Close marks already rolled")
		return nil
	}

	rollDate, count, found, err := j.marks.RollCloseToSodToday()
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	j.log.Info().
		Str("date", domain.DayString(rollDate)).
		Int("symbols", count).
		Msg("Close marks rolled to start of day")

	if j.positions != nil {
		if _, err := j.positions.Recompute(rollDate); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotRecomputeJob refreshes today's position snapshots
type SnapshotRecomputeJob struct {
	positions *positions.Service
}

// NewSnapshotRecomputeJob creates the snapshot recompute job
func NewSnapshotRecomputeJob(positionService *positions.Service) *SnapshotRecomputeJob {
	return &SnapshotRecomputeJob{positions: positionService}
}

// Name returns the job name
func (j *SnapshotRecomputeJob) Name() string { return "snapshot_recompute" }

// Run recomputes snapshots for the current trading day
func (j *SnapshotRecomputeJob) Run() error {
	_, err := j.positions.Recompute(domain.TradingDay(time.Now().UTC()))
	return err
}

// TradeFileScanJob sweeps the watch directory for new trade files
type TradeFileScanJob struct {
	files *ingest.FileService
}

// NewTradeFileScanJob creates the trade file scan job
func NewTradeFileScanJob(files *ingest.FileService) *TradeFileScanJob {
	return &TradeFileScanJob{files: files}
}

// Name returns the job name
func (j *TradeFileScanJob) Name() string { return "trade_file_scan" }

// Run scans the watch directory once
func (j *TradeFileScanJob) Run() error {
	_, err := j.files.ScanOnce()
	return err
}

// WALCheckpointJob monitors WAL checkpoint status for the ledger store
type WALCheckpointJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewWALCheckpointJob creates the WAL checkpoint job
func NewWALCheckpointJob(db *database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		db:  db,
		log: log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string { return "wal_checkpoint" }

// Run checks WAL size and triggers a passive checkpoint
func (j *WALCheckpointJob) Run() error {
	// PRAGMA wal_checkpoint returns: busy, log, checkpointed
	var busy, frames, checkpointed int
	err := j.db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to check WAL checkpoint")
		return err
	}

	if frames > 1000 {
		j.log.Warn().
			Int("wal_frames", frames).
			Int("checkpointed", checkpointed).
			Msg("WAL file is large, checkpoint may be needed")
	} else {
		j.log.Debug().Int("wal_frames", frames).Msg("WAL checkpoint status OK")
	}
	return nil
}

// BackupRunner is implemented by the store backup service
type BackupRunner interface {
	Backup(ctx context.Context) (string, error)
}

// BackupJob uploads a store backup to object storage
type BackupJob struct {
	backup  BackupRunner
	timeout time.Duration
	log     zerolog.Logger
}

// NewBackupJob creates the backup job
func NewBackupJob(backup BackupRunner, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backup:  backup,
		timeout: 10 * time.Minute,
		log:     log.With().Str("job", "store_backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string { return "store_backup" }

// Run performs one backup upload
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	key, err := j.backup.Backup(ctx)
	if err != nil {
		return err
	}
	j.log.Info().Str("key", key).Msg("Store backup uploaded")
	return nil
}
