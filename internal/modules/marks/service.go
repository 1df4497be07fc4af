package marks

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/rs/zerolog"
)

// Service exposes the daily roll operation on top of the mark repository
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a new mark registry service
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "marks").Logger(),
	}
}

// RollCloseToSodToday advances settlement marks across the trading-day
// boundary. For every symbol with a close mark on the latest close date it
// upserts a sodToday mark at the same price, timestamped at that date's
// canonical 06:00:00 session start, and a sodTomorrow mark at the next day's
// session start. The close mark itself is left untouched.
//
// The fixed 06:00:00 timestamp decouples when the roll job happened to run
// from which session the mark represents.
//
// found is false when no close mark exists anywhere; that is not an error.
// Re-running for the same date overwrites identical values, so the operation
// is idempotent.
func (s *Service) RollCloseToSodToday() (date time.Time, countUpdated int, found bool, err error) {
	date, found, err = s.repo.LatestCloseDate()
	if err != nil {
		return time.Time{}, 0, false, err
	}
	if !found {
		s.log.Info().Msg("No close marks present, nothing to roll")
		return time.Time{}, 0, false, nil
	}

	sodToday := domain.SessionStart(date)
	sodTomorrow := domain.SessionStart(date.Add(24 * time.Hour))

	err = database.ExecuteWithRetryDelay(s.repo.db.Conn(), func(tx *sql.Tx) error {
		closes, err := s.repo.closeMarksOn(tx, date)
		if err != nil {
			return err
		}

		countUpdated = 0
		for _, close := range closes {
			for _, target := range []struct {
				markType domain.MarkType
				ts       time.Time
			}{
				{domain.MarkSodToday, sodToday},
				{domain.MarkSodTomorrow, sodTomorrow},
			} {
				_, err := tx.Exec(`
					INSERT INTO settlement_marks (symbol, mark_type, price, timestamp)
					VALUES (?, ?, ?, ?)
					ON CONFLICT (symbol, mark_type)
					DO UPDATE SET price = excluded.price, timestamp = excluded.timestamp`,
					close.Symbol, string(target.markType), close.Price, target.ts.Unix(),
				)
				if err != nil {
					return fmt.Errorf("failed to roll %s mark for %s: %w", target.markType, close.Symbol, err)
				}
			}
			countUpdated++
		}
		return nil
	}, s.repo.maxRetries, s.repo.baseDelay)
	if err != nil {
		return time.Time{}, 0, false, err
	}

	s.log.Info().
		Str("date", domain.DayString(date)).
		Int("symbols", countUpdated).
		Msg("Rolled close marks to start-of-day")

	return date, countUpdated, true, nil
}
