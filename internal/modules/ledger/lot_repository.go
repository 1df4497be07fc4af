// Package ledger implements the dual-method open-lot inventory: two parallel
// per-symbol ledgers (FIFO and LIFO) seeded from the same trade stream, with
// incoming trades offset against resting lots of the opposite side.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/rs/zerolog"
)

// quantityEpsilon absorbs float drift when deciding a lot is fully consumed
const quantityEpsilon = 1e-9

// sequenceOrdinal extracts the numeric suffix of a date-scoped sequence id
// ("YYYYMMDD-N") so equal event times order by N numerically. Compared as
// TEXT, "-10" would sort before "-9". Ids without a numeric suffix cast to 0
// and fall through to the lexicographic sequence_id tail.
const sequenceOrdinal = "CAST(substr(sequence_id, instr(sequence_id, '-') + 1) AS INTEGER)"

// LotRepository handles open-lot database operations for both methods.
// Mutations are transaction-scoped: the matching loop must see a consistent
// inventory for the whole of one trade's insert.
type LotRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewLotRepository creates a new open-lot repository
func NewLotRepository(db *database.DB, log zerolog.Logger) *LotRepository {
	return &LotRepository{
		db:  db,
		log: log.With().Str("repo", "lots").Logger(),
	}
}

// InsertTx inserts a new open lot under the given method. Event times are
// persisted at whole-second granularity; sub-second fills land on the same
// event_time and are ordered by their sequence-id ordinal, which the ingest
// side assigns monotonically within a day.
func (r *LotRepository) InsertTx(tx *sql.Tx, method domain.Method, lot domain.OpenLot) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (sequence_id, symbol, side, price, remaining_quantity, event_time, full_or_partial)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, method.LotsTable())

	_, err := tx.Exec(query,
		lot.SequenceID, lot.Symbol, string(lot.Side), lot.Price,
		lot.RemainingQuantity, lot.EventTime.Unix(), lot.FullOrPartial,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s lot %s: %w", method, lot.SequenceID, err)
	}
	return nil
}

// NextOppositeTx selects the resting lot the method's ordering says must be
// offset next: FIFO takes the earliest event time (ties broken by lowest
// sequence id), LIFO the latest (ties broken by highest). The order is fully
// determined by persisted columns, so matching history is reproducible.
func (r *LotRepository) NextOppositeTx(tx *sql.Tx, method domain.Method, symbol string, side domain.Side) (*domain.OpenLot, error) {
	order := "event_time ASC, " + sequenceOrdinal + " ASC, sequence_id ASC"
	if method == domain.MethodLIFO {
		order = "event_time DESC, " + sequenceOrdinal + " DESC, sequence_id DESC"
	}

	query := fmt.Sprintf(`
		SELECT sequence_id, symbol, side, price, remaining_quantity, event_time, full_or_partial
		FROM %s
		WHERE symbol = ? AND side = ?
		ORDER BY %s
		LIMIT 1`, method.LotsTable(), order)

	row := tx.QueryRow(query, symbol, string(side.Opposite()))
	return scanLotRow(row)
}

// ReduceTx decrements a lot's remaining quantity by the offset amount,
// deleting the row once it reaches zero. Remaining quantity never goes
// negative; over-reduction is a programming error and is rejected.
func (r *LotRepository) ReduceTx(tx *sql.Tx, method domain.Method, sequenceID string, by float64) error {
	var remaining float64
	query := fmt.Sprintf("SELECT remaining_quantity FROM %s WHERE sequence_id = ?", method.LotsTable())
	if err := tx.QueryRow(query, sequenceID).Scan(&remaining); err != nil {
		return fmt.Errorf("failed to read %s lot %s for reduction: %w", method, sequenceID, err)
	}

	if by > remaining+quantityEpsilon {
		return fmt.Errorf("cannot reduce %s lot %s by %v, only %v remaining", method, sequenceID, by, remaining)
	}

	left := remaining - by
	if left <= quantityEpsilon {
		del := fmt.Sprintf("DELETE FROM %s WHERE sequence_id = ?", method.LotsTable())
		if _, err := tx.Exec(del, sequenceID); err != nil {
			return fmt.Errorf("failed to delete consumed %s lot %s: %w", method, sequenceID, err)
		}
		return nil
	}

	upd := fmt.Sprintf(
		"UPDATE %s SET remaining_quantity = ?, full_or_partial = 'partial' WHERE sequence_id = ?",
		method.LotsTable())
	if _, err := tx.Exec(upd, left, sequenceID); err != nil {
		return fmt.Errorf("failed to reduce %s lot %s: %w", method, sequenceID, err)
	}
	return nil
}

// SequenceExistsTx reports whether a sequence id was already ingested, either
// as a still-open lot or through any realization it participated in. Every
// ingested trade leaves at least one of those traces, so this is the
// deduplication boundary for at-least-once delivery.
func (r *LotRepository) SequenceExistsTx(tx *sql.Tx, sequenceID string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS (SELECT 1 FROM %s WHERE sequence_id = ?)
		OR EXISTS (SELECT 1 FROM %s WHERE offsetting_sequence_id = ? OR offset_sequence_id = ?)`,
		domain.MethodFIFO.LotsTable(), domain.MethodFIFO.RealizationsTable())

	var exists bool
	if err := tx.QueryRow(query, sequenceID, sequenceID, sequenceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check for duplicate sequence %s: %w", sequenceID, err)
	}
	return exists, nil
}

// OpenLots returns a symbol's open lots under a method in match order
func (r *LotRepository) OpenLots(method domain.Method, symbol string) ([]domain.OpenLot, error) {
	query := fmt.Sprintf(`
		SELECT sequence_id, symbol, side, price, remaining_quantity, event_time, full_or_partial
		FROM %s WHERE symbol = ?
		ORDER BY event_time, `+sequenceOrdinal+`, sequence_id`, method.LotsTable())

	rows, err := r.db.Query(query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s open lots: %w", method, err)
	}
	defer rows.Close()
	return scanLots(rows)
}

// AllOpenLots returns every open lot under a method, grouped by symbol
func (r *LotRepository) AllOpenLots(method domain.Method) ([]domain.OpenLot, error) {
	query := fmt.Sprintf(`
		SELECT sequence_id, symbol, side, price, remaining_quantity, event_time, full_or_partial
		FROM %s ORDER BY symbol, event_time, `+sequenceOrdinal+`, sequence_id`, method.LotsTable())

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s open lots: %w", method, err)
	}
	defer rows.Close()
	return scanLots(rows)
}

// SignedOpenQuantity returns the net open quantity for a symbol under a
// method: buys count positive, sells negative. The dual-ledger invariant says
// this must be identical for FIFO and LIFO at all times.
func (r *LotRepository) SignedOpenQuantity(method domain.Method, symbol string) (float64, error) {
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(CASE side WHEN 'B' THEN remaining_quantity ELSE -remaining_quantity END), 0)
		FROM %s WHERE symbol = ?`, method.LotsTable())

	var net float64
	if err := r.db.QueryRow(query, symbol).Scan(&net); err != nil {
		return 0, fmt.Errorf("failed to compute net %s quantity for %s: %w", method, symbol, err)
	}
	return net, nil
}

// OpenSymbols returns every symbol with at least one open lot in either ledger
func (r *LotRepository) OpenSymbols() ([]string, error) {
	query := fmt.Sprintf(`
		SELECT symbol FROM %s UNION SELECT symbol FROM %s ORDER BY symbol`,
		domain.MethodFIFO.LotsTable(), domain.MethodLIFO.LotsTable())

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open symbols: %w", err)
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

func scanLotRow(row *sql.Row) (*domain.OpenLot, error) {
	var lot domain.OpenLot
	var side string
	var eventTime int64
	err := row.Scan(&lot.SequenceID, &lot.Symbol, &side, &lot.Price,
		&lot.RemainingQuantity, &eventTime, &lot.FullOrPartial)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan open lot: %w", err)
	}
	lot.Side = domain.Side(side)
	lot.EventTime = time.Unix(eventTime, 0).UTC()
	return &lot, nil
}

func scanLots(rows *sql.Rows) ([]domain.OpenLot, error) {
	var lots []domain.OpenLot
	for rows.Next() {
		var lot domain.OpenLot
		var side string
		var eventTime int64
		if err := rows.Scan(&lot.SequenceID, &lot.Symbol, &side, &lot.Price,
			&lot.RemainingQuantity, &eventTime, &lot.FullOrPartial); err != nil {
			return nil, fmt.Errorf("failed to scan open lot: %w", err)
		}
		lot.Side = domain.Side(side)
		lot.EventTime = time.Unix(eventTime, 0).UTC()
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}
