// Package positions materializes per-day per-method position snapshots from
// the lot ledger, the realization trail, and the mark registry. Snapshots are
// derived data: recomputable at any time, never the source of truth.
package positions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/rs/zerolog"
)

// SnapshotRepository handles position snapshot database operations
type SnapshotRepository struct {
	db         *database.DB
	maxRetries int
	baseDelay  time.Duration
	log        zerolog.Logger
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *database.DB, maxRetries int, baseDelay time.Duration, log zerolog.Logger) *SnapshotRepository {
	if maxRetries <= 0 {
		maxRetries = database.DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = database.DefaultRetryDelay
	}
	return &SnapshotRepository{
		db:         db,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		log:        log.With().Str("repo", "snapshots").Logger(),
	}
}

const snapshotColumns = `date, symbol, method, open_quantity, closed_quantity,
	realized_pnl, unrealized_pnl, unrealized_close_pnl, timestamp`

// Upsert replaces the snapshot row keyed by (date, symbol, method).
// Recomputing the same date supersedes the previous run, never duplicates it.
func (r *SnapshotRepository) Upsert(snapshot domain.PositionSnapshot) error {
	return database.ExecuteWithRetryDelay(r.db.Conn(), func(tx *sql.Tx) error {
		var closePnL sql.NullFloat64
		if snapshot.UnrealizedClosePnL != nil {
			closePnL = sql.NullFloat64{Float64: *snapshot.UnrealizedClosePnL, Valid: true}
		}

		_, err := tx.Exec(`
			INSERT INTO position_snapshots
				(date, symbol, method, open_quantity, closed_quantity,
				 realized_pnl, unrealized_pnl, unrealized_close_pnl, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (date, symbol, method) DO UPDATE SET
				open_quantity = excluded.open_quantity,
				closed_quantity = excluded.closed_quantity,
				realized_pnl = excluded.realized_pnl,
				unrealized_pnl = excluded.unrealized_pnl,
				unrealized_close_pnl = excluded.unrealized_close_pnl,
				timestamp = excluded.timestamp`,
			snapshot.Date, snapshot.Symbol, string(snapshot.Method),
			snapshot.OpenQuantity, snapshot.ClosedQuantity,
			snapshot.RealizedPnL, snapshot.UnrealizedPnL, closePnL,
			snapshot.Timestamp.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert snapshot (%s, %s, %s): %w",
				snapshot.Date, snapshot.Symbol, snapshot.Method, err)
		}
		return nil
	}, r.maxRetries, r.baseDelay)
}

// Get returns the snapshot for (date, symbol, method), or domain.ErrNotFound
func (r *SnapshotRepository) Get(date, symbol string, method domain.Method) (*domain.PositionSnapshot, error) {
	row := r.db.QueryRow(
		"SELECT "+snapshotColumns+" FROM position_snapshots WHERE date = ? AND symbol = ? AND method = ?",
		date, symbol, string(method),
	)
	return scanSnapshotRow(row)
}

// ByDate returns every snapshot for a date, ordered by symbol then method
func (r *SnapshotRepository) ByDate(date string) ([]domain.PositionSnapshot, error) {
	rows, err := r.db.Query(
		"SELECT "+snapshotColumns+" FROM position_snapshots WHERE date = ? ORDER BY symbol, method",
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots for %s: %w", date, err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// LatestBySymbol returns the most recent snapshot per method for a symbol
func (r *SnapshotRepository) LatestBySymbol(symbol string) ([]domain.PositionSnapshot, error) {
	rows, err := r.db.Query(`
		SELECT `+snapshotColumns+` FROM position_snapshots
		WHERE symbol = ? AND date = (SELECT MAX(date) FROM position_snapshots WHERE symbol = ?)
		ORDER BY method`,
		symbol, symbol,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshots for %s: %w", symbol, err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func scanSnapshotRow(row *sql.Row) (*domain.PositionSnapshot, error) {
	var s domain.PositionSnapshot
	var method string
	var closePnL sql.NullFloat64
	var ts int64
	err := row.Scan(&s.Date, &s.Symbol, &method, &s.OpenQuantity, &s.ClosedQuantity,
		&s.RealizedPnL, &s.UnrealizedPnL, &closePnL, &ts)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	s.Method = domain.Method(method)
	if closePnL.Valid {
		s.UnrealizedClosePnL = &closePnL.Float64
	}
	s.Timestamp = time.Unix(ts, 0).UTC()
	return &s, nil
}

func scanSnapshots(rows *sql.Rows) ([]domain.PositionSnapshot, error) {
	var snapshots []domain.PositionSnapshot
	for rows.Next() {
		var s domain.PositionSnapshot
		var method string
		var closePnL sql.NullFloat64
		var ts int64
		if err := rows.Scan(&s.Date, &s.Symbol, &method, &s.OpenQuantity, &s.ClosedQuantity,
			&s.RealizedPnL, &s.UnrealizedPnL, &closePnL, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.Method = domain.Method(method)
		if closePnL.Valid {
			s.UnrealizedClosePnL = &closePnL.Float64
		}
		s.Timestamp = time.Unix(ts, 0).UTC()
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
