package reliability

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/rs/zerolog"
)

// Disk space thresholds for the data directory
const (
	diskWarnThreshold     = 0.80
	diskCriticalThreshold = 0.90
)

// MaintenanceJob performs daily store upkeep: integrity check, WAL
// truncation, and a disk space check that fails hard when the volume is
// close to full.
type MaintenanceJob struct {
	db      *database.DB
	dataDir string
	log     zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(db *database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:      db,
		dataDir: dataDir,
		log:     log.With().Str("job", "store_maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string { return "store_maintenance" }

// Run executes one maintenance pass
func (j *MaintenanceJob) Run() error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := j.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store integrity check failed: %w", err)
	}

	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		// not fatal, the next checkpoint will catch up
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().Dur("elapsed", time.Since(start)).Msg("Store maintenance completed")
	return nil
}

func (j *MaintenanceJob) checkDiskSpace() error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(j.dataDir, &stat); err != nil {
		j.log.Warn().Err(err).Str("dir", j.dataDir).Msg("Failed to stat data directory")
		return nil
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	if total == 0 {
		return nil
	}
	used := float64(total-free) / float64(total)

	switch {
	case used >= diskCriticalThreshold:
		return fmt.Errorf("disk usage critical: %.0f%% used on %s", used*100, j.dataDir)
	case used >= diskWarnThreshold:
		j.log.Warn().
			Float64("used_pct", used*100).
			Str("dir", j.dataDir).
			Msg("Disk usage high")
	default:
		j.log.Debug().Float64("used_pct", used*100).Msg("Disk usage OK")
	}
	return nil
}
