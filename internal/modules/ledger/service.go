package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/quantdesk/lotledger/internal/modules/marks"
	"github.com/quantdesk/lotledger/internal/modules/pnl"
	"github.com/rs/zerolog"
)

// MultiplierProvider supplies the per-symbol contract multiplier.
// Satisfied by config.Config.
type MultiplierProvider interface {
	MultiplierFor(symbol string) float64
}

// Service is the dual-method lot ledger. One Insert runs the trade through
// both the FIFO and the LIFO inventory inside a single store transaction, so
// the cross-method net-quantity invariant can never be observed violated.
type Service struct {
	db           *database.DB
	lots         *LotRepository
	realizations *RealizationRepository
	marks        *marks.Repository
	multipliers  MultiplierProvider

	maxRetries int
	baseDelay  time.Duration

	// Serializes same-process inserts; cross-process contention is left to
	// the store's isolation plus the bounded-retry primitive.
	insertMu sync.Mutex

	log zerolog.Logger
}

// NewService creates the lot ledger service
func NewService(
	db *database.DB,
	lots *LotRepository,
	realizations *RealizationRepository,
	markRepo *marks.Repository,
	multipliers MultiplierProvider,
	maxRetries int,
	baseDelay time.Duration,
	log zerolog.Logger,
) *Service {
	if maxRetries <= 0 {
		maxRetries = database.DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = database.DefaultRetryDelay
	}
	return &Service{
		db:           db,
		lots:         lots,
		realizations: realizations,
		marks:        markRepo,
		multipliers:  multipliers,
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		log:          log.With().Str("service", "ledger").Logger(),
	}
}

// Insert ingests one trade into both method ledgers. If opposite-side lots
// rest for the symbol, the trade is offset against them in method order,
// emitting one realization record per consumed slice; any remainder becomes a
// new open lot on the trade's own side.
//
// Structural rejections (invalid quantity, duplicate sequence id) happen
// before any mutation. The whole match, including the settlement-mark lookup
// used for attribution, runs inside one transaction so a concurrent roll can
// never be read mid-match.
func (s *Service) Insert(trade domain.Trade) (map[domain.Method][]domain.Realization, error) {
	if err := trade.Validate(); err != nil {
		return nil, err
	}
	trade.Symbol = strings.ToUpper(strings.TrimSpace(trade.Symbol))

	s.insertMu.Lock()
	defer s.insertMu.Unlock()

	results := make(map[domain.Method][]domain.Realization)

	err := database.ExecuteWithRetryDelay(s.db.Conn(), func(tx *sql.Tx) error {
		// Reset on retry: a rolled-back attempt must not leak records
		for k := range results {
			delete(results, k)
		}

		exists, err := s.lots.SequenceExistsTx(tx, trade.SequenceID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("sequence %s: %w", trade.SequenceID, domain.ErrDuplicateTrade)
		}

		sodToday, err := s.marks.GetTx(tx, trade.Symbol, domain.MarkSodToday)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		for _, method := range domain.Methods() {
			records, err := s.matchTx(tx, method, trade, sodToday)
			if err != nil {
				return err
			}
			results[method] = records
		}
		return nil
	}, s.maxRetries, s.baseDelay)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("sequence_id", trade.SequenceID).
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Float64("quantity", trade.Quantity).
		Int("realizations_fifo", len(results[domain.MethodFIFO])).
		Int("realizations_lifo", len(results[domain.MethodLIFO])).
		Msg("Trade inserted")

	return results, nil
}

// matchTx runs one method's offset loop for an incoming trade
func (s *Service) matchTx(tx *sql.Tx, method domain.Method, trade domain.Trade, sodToday *domain.SettlementMark) ([]domain.Realization, error) {
	multiplier := s.multipliers.MultiplierFor(trade.Symbol)
	remaining := trade.Quantity

	var records []domain.Realization
	for remaining > quantityEpsilon {
		lot, err := s.lots.NextOppositeTx(tx, method, trade.Symbol, trade.Side)
		if errors.Is(err, domain.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}

		offset := math.Min(remaining, lot.RemainingQuantity)

		// Sell closing a long lot: (exit - entry); buy closing a short lot
		// flips the sign.
		realized := (trade.Price - lot.Price) * offset * multiplier * lot.Side.Sign()

		rec := domain.Realization{
			OffsetSequenceID:     lot.SequenceID,
			OffsettingSequenceID: trade.SequenceID,
			Symbol:               trade.Symbol,
			EntrySide:            lot.Side,
			Quantity:             offset,
			EntryPrice:           lot.Price,
			ExitPrice:            trade.Price,
			RealizedPnL:          realized,
			EntryTime:            lot.EventTime,
			Timestamp:            trade.EventTime,
		}
		if err := s.realizations.InsertTx(tx, method, rec); err != nil {
			return nil, err
		}
		if err := s.lots.ReduceTx(tx, method, lot.SequenceID, offset); err != nil {
			return nil, err
		}

		attribution := pnl.AttributeRealization(rec, sodToday, multiplier)
		if attribution.Degraded {
			// Distinguishable marker so reconciliation can find realizations
			// valued off the raw entry price later
			s.log.Warn().
				Str("degraded", "missing_sod_mark").
				Str("method", string(method)).
				Str("symbol", trade.Symbol).
				Str("offset_sequence_id", lot.SequenceID).
				Str("offsetting_sequence_id", trade.SequenceID).
				Msg("No start-of-day mark for cross-session realization, using raw entry price")
		}
		s.log.Debug().
			Str("method", string(method)).
			Str("component", string(attribution.Component)).
			Float64("realized_pnl", realized).
			Float64("session_pnl", attribution.PnL).
			Msg("Lot offset")

		records = append(records, rec)
		remaining -= offset
	}

	if remaining > quantityEpsilon {
		fullOrPartial := "full"
		if remaining < trade.Quantity {
			fullOrPartial = "partial"
		}
		err := s.lots.InsertTx(tx, method, domain.OpenLot{
			SequenceID:        trade.SequenceID,
			Symbol:            trade.Symbol,
			Side:              trade.Side,
			Price:             trade.Price,
			RemainingQuantity: remaining,
			EventTime:         trade.EventTime,
			FullOrPartial:     fullOrPartial,
		})
		if err != nil {
			return nil, err
		}
	}

	return records, nil
}

// CheckInvariant verifies the cross-method invariant for a symbol: net open
// quantity must be identical between FIFO and LIFO even though the specific
// resting lots differ.
func (s *Service) CheckInvariant(symbol string) error {
	fifo, err := s.lots.SignedOpenQuantity(domain.MethodFIFO, symbol)
	if err != nil {
		return err
	}
	lifo, err := s.lots.SignedOpenQuantity(domain.MethodLIFO, symbol)
	if err != nil {
		return err
	}
	if math.Abs(fifo-lifo) > quantityEpsilon {
		return fmt.Errorf("net quantity diverged for %s: fifo=%v lifo=%v", symbol, fifo, lifo)
	}
	return nil
}
