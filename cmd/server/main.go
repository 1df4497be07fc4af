// Package main is the entry point for the lot ledger service. It ingests
// executed trades under both FIFO and LIFO lot-matching conventions, keeps
// settlement marks current, attributes realized P&L across settlement
// boundaries, and serves the resulting positions over a read-only HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantdesk/lotledger/internal/config"
	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/modules/ingest"
	"github.com/quantdesk/lotledger/internal/modules/ledger"
	"github.com/quantdesk/lotledger/internal/modules/marks"
	"github.com/quantdesk/lotledger/internal/modules/pnl"
	"github.com/quantdesk/lotledger/internal/modules/positions"
	"github.com/quantdesk/lotledger/internal/reliability"
	"github.com/quantdesk/lotledger/internal/scheduler"
	"github.com/quantdesk/lotledger/internal/server"
	"github.com/quantdesk/lotledger/pkg/logger"
)

func main() {
	// Load configuration first to get the log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting lot ledger service")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to create data directory")
	}

	// The ledger store carries the financial audit trail, so it runs with
	// the FULL-synchronous profile.
	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger store")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate ledger store")
	}

	retryDelay := cfg.RetryBaseDelay

	// Repositories
	lots := ledger.NewLotRepository(db, log)
	realizations := ledger.NewRealizationRepository(db, log)
	markRepo := marks.NewRepository(db, cfg.RetryMaxAttempts, retryDelay, log)
	snapshots := positions.NewSnapshotRepository(db, cfg.RetryMaxAttempts, retryDelay, log)
	processedFiles := ingest.NewProcessedFileRepository(db, cfg.RetryMaxAttempts, retryDelay, log)

	// Services
	markService := marks.NewService(markRepo, log)
	ledgerService := ledger.NewService(db, lots, realizations, markRepo,
		cfg, cfg.RetryMaxAttempts, retryDelay, log)
	calculator := pnl.NewCalculator(lots, realizations, markRepo, cfg, log)
	positionService := positions.NewService(snapshots, lots, realizations, calculator, log)
	fileService := ingest.NewFileService(cfg.TradeWatchDir, ledgerService, processedFiles, log)

	// Recurring jobs
	sched := scheduler.New(log)
	mustRegister := func(spec string, job scheduler.Job) {
		if err := sched.Register(spec, job); err != nil {
			log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to register job")
		}
	}

	// The roll runs shortly after the 06:00 session boundary
	mustRegister("5 6 * * *", scheduler.NewDailyRollJob(markService, markRepo, positionService, log))
	mustRegister("*/15 * * * *", scheduler.NewSnapshotRecomputeJob(positionService))
	mustRegister("0 * * * *", scheduler.NewWALCheckpointJob(db, log))
	mustRegister("0 2 * * *", reliability.NewMaintenanceJob(db, cfg.DataDir, log))
	if cfg.TradeWatchDir != "" {
		mustRegister("* * * * *", scheduler.NewTradeFileScanJob(fileService))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Offsite backups are optional; skipped when no bucket is configured
	if cfg.BackupBucket != "" {
		s3Client, err := reliability.NewS3Client(ctx, reliability.S3ClientConfig{
			Bucket:    cfg.BackupBucket,
			Region:    cfg.BackupRegion,
			Endpoint:  cfg.BackupEndpoint,
			AccessKey: cfg.BackupAccessKey,
			SecretKey: cfg.BackupSecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup client")
		}
		backupService := reliability.NewBackupService(db, s3Client, cfg.DataDir, log)
		mustRegister("30 6 * * *", scheduler.NewBackupJob(backupService, log))
	} else {
		log.Warn().Msg("Backup bucket not configured, offsite backups disabled")
	}

	sched.Start()
	defer sched.Stop()

	// Live price stream feeds the mark registry
	var tickClient *ingest.TickFeedClient
	if cfg.TickFeedURL != "" {
		tickClient = ingest.NewTickFeedClient(cfg.TickFeedURL, markRepo, log)
		if err := tickClient.Start(); err != nil {
			log.Warn().Err(err).Msg("Tick feed not yet connected, reconnecting in background")
		}
	} else {
		log.Warn().Msg("Tick feed URL not configured, live marks must arrive some other way")
	}

	srv := server.New(server.Config{
		Log:            log,
		DB:             db,
		DataDir:        cfg.DataDir,
		Port:           cfg.Port,
		DevMode:        cfg.DevMode,
		Snapshots:      snapshots,
		Lots:           lots,
		Realizations:   realizations,
		Ledger:         ledgerService,
		Marks:          markRepo,
		Calculator:     calculator,
		ProcessedFiles: processedFiles,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Catch up on trade files that arrived while the service was down
	if cfg.TradeWatchDir != "" {
		if count, err := fileService.ScanOnce(); err != nil {
			log.Error().Err(err).Msg("Initial trade file scan failed")
		} else if count > 0 {
			log.Info().Int("records", count).Msg("Ingested trade files on startup")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	if tickClient != nil {
		if err := tickClient.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping tick feed client")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
