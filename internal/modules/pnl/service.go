package pnl

import (
	"errors"
	"time"

	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/rs/zerolog"
)

// LotSource supplies open lots. Satisfied by ledger.LotRepository.
// Defined here to avoid a dependency cycle with the ledger package.
type LotSource interface {
	AllOpenLots(method domain.Method) ([]domain.OpenLot, error)
	OpenLots(method domain.Method, symbol string) ([]domain.OpenLot, error)
}

// RealizationSource supplies realization records. Satisfied by
// ledger.RealizationRepository.
type RealizationSource interface {
	All(method domain.Method) ([]domain.Realization, error)
	UpTo(method domain.Method, before time.Time) ([]domain.Realization, error)
	BySymbol(method domain.Method, symbol string, from, to time.Time) ([]domain.Realization, error)
}

// MarkSource supplies settlement marks. Satisfied by marks.Repository.
type MarkSource interface {
	Get(symbol string, markType domain.MarkType) (*domain.SettlementMark, error)
}

// MultiplierProvider supplies per-symbol contract multipliers
type MultiplierProvider interface {
	MultiplierFor(symbol string) float64
}

// Calculator aggregates settlement-adjusted realized and unrealized P&L
// across a method's whole book.
type Calculator struct {
	lots         LotSource
	realizations RealizationSource
	marks        MarkSource
	multipliers  MultiplierProvider
	log          zerolog.Logger
}

// NewCalculator creates a P&L calculator
func NewCalculator(lots LotSource, realizations RealizationSource, marks MarkSource,
	multipliers MultiplierProvider, log zerolog.Logger) *Calculator {
	return &Calculator{
		lots:         lots,
		realizations: realizations,
		marks:        marks,
		multipliers:  multipliers,
		log:          log.With().Str("service", "pnl").Logger(),
	}
}

// sodMarkFor returns the symbol's sodToday mark only when it belongs to the
// same session as the realization's exit; a mark from another session must
// not be used to adjust the decomposition.
func (c *Calculator) sodMarkFor(symbol string, exitTime time.Time) *domain.SettlementMark {
	mark, err := c.marks.Get(symbol, domain.MarkSodToday)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to read sodToday mark")
		}
		return nil
	}
	if !domain.SameTradingDay(mark.Timestamp, exitTime) {
		return nil
	}
	return mark
}

// SettledRealizedPnL sums the settlement-adjusted realized P&L of every
// realization under a method with timestamp strictly before the cutoff.
func (c *Calculator) SettledRealizedPnL(method domain.Method, before time.Time) (float64, error) {
	records, err := c.realizations.UpTo(method, before)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, rec := range records {
		multiplier := c.multipliers.MultiplierFor(rec.Symbol)
		attribution := AttributeRealization(rec, c.sodMarkFor(rec.Symbol, rec.Timestamp), multiplier)
		if attribution.Degraded {
			c.log.Warn().
				Str("degraded", "missing_sod_mark").
				Str("symbol", rec.Symbol).
				Str("offset_sequence_id", rec.OffsetSequenceID).
				Str("offsetting_sequence_id", rec.OffsettingSequenceID).
				Msg("Settlement-adjusted realized P&L fell back to raw entry price")
		}
		total += attribution.PnL
	}
	return total, nil
}

// SymbolRealizedSummary sums a symbol's cumulative closed quantity and
// settlement-adjusted realized P&L over every realization with timestamp
// strictly before the cutoff. Feeds the daily position snapshots.
func (c *Calculator) SymbolRealizedSummary(method domain.Method, symbol string, before time.Time) (closedQty, settledPnL float64, err error) {
	records, err := c.realizations.BySymbol(method, symbol, time.Time{}, before)
	if err != nil {
		return 0, 0, err
	}

	multiplier := c.multipliers.MultiplierFor(symbol)
	for _, rec := range records {
		closedQty += rec.Quantity
		attribution := AttributeRealization(rec, c.sodMarkFor(symbol, rec.Timestamp), multiplier)
		settledPnL += attribution.PnL
	}
	return closedQty, settledPnL, nil
}

// SymbolUnrealized is a symbol's open-lot valuation under one method.
// Close is nil when no same-session close mark exists; that is "unavailable",
// not zero.
type SymbolUnrealized struct {
	Symbol string   `json:"symbol"`
	Live   float64  `json:"live"`
	Close  *float64 `json:"close,omitempty"`
}

// UnrealizedBySymbol values every open lot under a method against the live
// and close marks as of now.
func (c *Calculator) UnrealizedBySymbol(method domain.Method, now time.Time) (map[string]SymbolUnrealized, error) {
	lots, err := c.lots.AllOpenLots(method)
	if err != nil {
		return nil, err
	}

	result := make(map[string]SymbolUnrealized)
	for _, lot := range lots {
		entry, ok := result[lot.Symbol]
		if !ok {
			entry = SymbolUnrealized{Symbol: lot.Symbol}
		}
		multiplier := c.multipliers.MultiplierFor(lot.Symbol)

		live, err := c.marks.Get(lot.Symbol, domain.MarkLive)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		entry.Live += UnrealizedLive(lot, live, multiplier)

		close, err := c.marks.Get(lot.Symbol, domain.MarkClose)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if v := UnrealizedClose(lot, close, now, multiplier); v != nil {
			if entry.Close == nil {
				entry.Close = new(float64)
			}
			*entry.Close += *v
		}

		result[lot.Symbol] = entry
	}
	return result, nil
}

// UnrealizedLiveTotal sums live unrealized P&L over a method's whole book
func (c *Calculator) UnrealizedLiveTotal(method domain.Method, now time.Time) (float64, error) {
	bySymbol, err := c.UnrealizedBySymbol(method, now)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, entry := range bySymbol {
		total += entry.Live
	}
	return total, nil
}

// TotalPnL is the method's aggregate: settlement-adjusted realized to date
// plus live unrealized over all open lots.
func (c *Calculator) TotalPnL(method domain.Method, now time.Time) (float64, error) {
	realized, err := c.SettledRealizedPnL(method, now)
	if err != nil {
		return 0, err
	}
	unrealized, err := c.UnrealizedLiveTotal(method, now)
	if err != nil {
		return 0, err
	}
	return realized + unrealized, nil
}

// TotalPnLClose is the close-mark variant of TotalPnL. It returns nil when
// any symbol with open lots lacks a same-session close mark: a partial total
// would silently mix sessions.
func (c *Calculator) TotalPnLClose(method domain.Method, now time.Time) (*float64, error) {
	realized, err := c.SettledRealizedPnL(method, now)
	if err != nil {
		return nil, err
	}
	bySymbol, err := c.UnrealizedBySymbol(method, now)
	if err != nil {
		return nil, err
	}

	total := realized
	for _, entry := range bySymbol {
		if entry.Close == nil {
			return nil, nil
		}
		total += *entry.Close
	}
	return &total, nil
}
