// Package marks maintains the per-symbol settlement mark registry: the four
// reference prices (live, close, sodToday, sodTomorrow) and the daily roll
// that advances them across the trading-day boundary.
package marks

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/rs/zerolog"
)

// Repository handles settlement mark database operations
type Repository struct {
	db         *database.DB
	maxRetries int
	baseDelay  time.Duration

	// Serializes same-process price upserts before the store's own
	// isolation handles cross-process contention.
	upsertMu sync.Mutex

	log zerolog.Logger
}

// NewRepository creates a new settlement mark repository
func NewRepository(db *database.DB, maxRetries int, baseDelay time.Duration, log zerolog.Logger) *Repository {
	if maxRetries <= 0 {
		maxRetries = database.DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = database.DefaultRetryDelay
	}
	return &Repository{
		db:         db,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		log:        log.With().Str("repo", "marks").Logger(),
	}
}

// UpsertMark replaces the mark for (symbol, markType). Idempotent: replaying
// the same tuple is absorbed without side effects.
func (r *Repository) UpsertMark(symbol string, markType domain.MarkType, price float64, timestamp time.Time) error {
	if !domain.ValidMarkType(markType) {
		return fmt.Errorf("mark type %q: %w", markType, domain.ErrInvalidMarkType)
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	r.upsertMu.Lock()
	defer r.upsertMu.Unlock()

	return database.ExecuteWithRetryDelay(r.db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO settlement_marks (symbol, mark_type, price, timestamp)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (symbol, mark_type)
			DO UPDATE SET price = excluded.price, timestamp = excluded.timestamp`,
			symbol, string(markType), price, timestamp.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert %s mark for %s: %w", markType, symbol, err)
		}
		return nil
	}, r.maxRetries, r.baseDelay)
}

// Get returns the mark for (symbol, markType), or domain.ErrNotFound
func (r *Repository) Get(symbol string, markType domain.MarkType) (*domain.SettlementMark, error) {
	if !domain.ValidMarkType(markType) {
		return nil, fmt.Errorf("mark type %q: %w", markType, domain.ErrInvalidMarkType)
	}

	row := r.db.QueryRow(`
		SELECT symbol, mark_type, price, timestamp FROM settlement_marks
		WHERE symbol = ? AND mark_type = ?`,
		strings.ToUpper(strings.TrimSpace(symbol)), string(markType),
	)
	return scanMark(row)
}

// GetTx is Get running inside an existing transaction, so lot matching can
// read marks without racing a concurrent roll.
func (r *Repository) GetTx(tx *sql.Tx, symbol string, markType domain.MarkType) (*domain.SettlementMark, error) {
	row := tx.QueryRow(`
		SELECT symbol, mark_type, price, timestamp FROM settlement_marks
		WHERE symbol = ? AND mark_type = ?`,
		strings.ToUpper(strings.TrimSpace(symbol)), string(markType),
	)
	return scanMark(row)
}

// All returns every settlement mark, ordered by symbol then mark type
func (r *Repository) All() ([]domain.SettlementMark, error) {
	rows, err := r.db.Query(`
		SELECT symbol, mark_type, price, timestamp FROM settlement_marks
		ORDER BY symbol, mark_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement marks: %w", err)
	}
	defer rows.Close()

	var marks []domain.SettlementMark
	for rows.Next() {
		var m domain.SettlementMark
		var markType string
		var ts int64
		if err := rows.Scan(&m.Symbol, &markType, &m.Price, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan settlement mark: %w", err)
		}
		m.MarkType = domain.MarkType(markType)
		m.Timestamp = time.Unix(ts, 0).UTC()
		marks = append(marks, m)
	}
	return marks, rows.Err()
}

// LatestCloseDate returns the most recent calendar date carrying any close
// mark. found is false on an empty mark table; that is not an error.
func (r *Repository) LatestCloseDate() (time.Time, bool, error) {
	var ts sql.NullInt64
	err := r.db.QueryRow(`
		SELECT MAX(timestamp) FROM settlement_marks WHERE mark_type = ?`,
		string(domain.MarkClose),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest close date: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}

	t := time.Unix(ts.Int64, 0).UTC()
	date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return date, true, nil
}

// AlreadyRolled reports whether any sodToday mark is timestamped on date
func (r *Repository) AlreadyRolled(date time.Time) (bool, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM settlement_marks
		WHERE mark_type = ? AND timestamp >= ? AND timestamp < ?`,
		string(domain.MarkSodToday), dayStart.Unix(), dayEnd.Unix(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check roll state for %s: %w", domain.DayString(date), err)
	}
	return count > 0, nil
}

// closeMarksOn returns every symbol's close mark dated on the given calendar
// date, inside tx.
func (r *Repository) closeMarksOn(tx *sql.Tx, date time.Time) ([]domain.SettlementMark, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := tx.Query(`
		SELECT symbol, mark_type, price, timestamp FROM settlement_marks
		WHERE mark_type = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY symbol`,
		string(domain.MarkClose), dayStart.Unix(), dayEnd.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query close marks: %w", err)
	}
	defer rows.Close()

	var marks []domain.SettlementMark
	for rows.Next() {
		var m domain.SettlementMark
		var markType string
		var ts int64
		if err := rows.Scan(&m.Symbol, &markType, &m.Price, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan close mark: %w", err)
		}
		m.MarkType = domain.MarkType(markType)
		m.Timestamp = time.Unix(ts, 0).UTC()
		marks = append(marks, m)
	}
	return marks, rows.Err()
}

func scanMark(row *sql.Row) (*domain.SettlementMark, error) {
	var m domain.SettlementMark
	var markType string
	var ts int64
	err := row.Scan(&m.Symbol, &markType, &m.Price, &ts)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan settlement mark: %w", err)
	}
	m.MarkType = domain.MarkType(markType)
	m.Timestamp = time.Unix(ts, 0).UTC()
	return &m, nil
}
