// Package scheduler runs the recurring jobs that keep the ledger current:
// the daily settlement roll, snapshot recomputes, trade file scans, WAL
// checkpoint checks, and store backups.
package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one schedulable unit of work
type Job interface {
	Name() string
	Run() error
}

// Scheduler wraps a cron runner and logs every job execution
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler. All cron expressions are evaluated in UTC,
// matching the 06:00 UTC trading day boundary.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Register schedules a job with a cron expression
func (s *Scheduler) Register(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		runID := uuid.New().String()
		start := time.Now()
		log := s.log.With().Str("job", job.Name()).Str("run_id", runID).Logger()

		log.Debug().Msg("Job started")
		if err := job.Run(); err != nil {
			log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Job failed")
			return
		}
		log.Info().Dur("elapsed", time.Since(start)).Msg("Job completed")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s (%q): %w", job.Name(), spec, err)
	}

	s.log.Info().Str("job", job.Name()).Str("schedule", spec).Msg("Job registered")
	return nil
}

// Start begins running scheduled jobs in their own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops scheduling and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}
