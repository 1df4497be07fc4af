package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/rs/zerolog"
)

// RealizationRepository persists the append-only realization trail. Rows are
// written once at the moment of offset and never mutated afterwards.
type RealizationRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRealizationRepository creates a new realization repository
func NewRealizationRepository(db *database.DB, log zerolog.Logger) *RealizationRepository {
	return &RealizationRepository{
		db:  db,
		log: log.With().Str("repo", "realizations").Logger(),
	}
}

const realizationColumns = `id, offset_sequence_id, offsetting_sequence_id, symbol,
	entry_side, quantity, entry_price, exit_price, realized_pnl, entry_time, timestamp`

// InsertTx appends one realization record under the given method
func (r *RealizationRepository) InsertTx(tx *sql.Tx, method domain.Method, rec domain.Realization) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (offset_sequence_id, offsetting_sequence_id, symbol,
			entry_side, quantity, entry_price, exit_price, realized_pnl, entry_time, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, method.RealizationsTable())

	_, err := tx.Exec(query,
		rec.OffsetSequenceID, rec.OffsettingSequenceID, rec.Symbol,
		string(rec.EntrySide), rec.Quantity, rec.EntryPrice, rec.ExitPrice, rec.RealizedPnL,
		rec.EntryTime.Unix(), rec.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s realization for %s: %w", method, rec.Symbol, err)
	}
	return nil
}

// BySymbol returns a symbol's realizations under a method within [from, to),
// ordered by realization time. Zero from/to leave that bound open.
func (r *RealizationRepository) BySymbol(method domain.Method, symbol string, from, to time.Time) ([]domain.Realization, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE symbol = ?", realizationColumns, method.RealizationsTable())
	args := []interface{}{symbol}

	if !from.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, from.Unix())
	}
	if !to.IsZero() {
		query += " AND timestamp < ?"
		args = append(args, to.Unix())
	}
	query += " ORDER BY timestamp, id"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s realizations for %s: %w", method, symbol, err)
	}
	defer rows.Close()
	return scanRealizations(rows)
}

// All returns every realization under a method in insertion order
func (r *RealizationRepository) All(method domain.Method) ([]domain.Realization, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id", realizationColumns, method.RealizationsTable())

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s realizations: %w", method, err)
	}
	defer rows.Close()
	return scanRealizations(rows)
}

// UpTo returns every realization under a method whose timestamp is strictly
// before the given instant. Used by the aggregator's closed-quantity and
// realized-P&L sums.
func (r *RealizationRepository) UpTo(method domain.Method, before time.Time) ([]domain.Realization, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE timestamp < ? ORDER BY timestamp, id",
		realizationColumns, method.RealizationsTable())

	rows, err := r.db.Query(query, before.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s realizations: %w", method, err)
	}
	defer rows.Close()
	return scanRealizations(rows)
}

// Symbols returns every symbol with at least one realization under a method
func (r *RealizationRepository) Symbols(method domain.Method) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT symbol FROM %s ORDER BY symbol", method.RealizationsTable())

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s realization symbols: %w", method, err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

func scanRealizations(rows *sql.Rows) ([]domain.Realization, error) {
	var records []domain.Realization
	for rows.Next() {
		var rec domain.Realization
		var entrySide string
		var entryTime, timestamp int64
		if err := rows.Scan(&rec.ID, &rec.OffsetSequenceID, &rec.OffsettingSequenceID,
			&rec.Symbol, &entrySide, &rec.Quantity, &rec.EntryPrice, &rec.ExitPrice,
			&rec.RealizedPnL, &entryTime, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan realization: %w", err)
		}
		rec.EntrySide = domain.Side(entrySide)
		rec.EntryTime = time.Unix(entryTime, 0).UTC()
		rec.Timestamp = time.Unix(timestamp, 0).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}
