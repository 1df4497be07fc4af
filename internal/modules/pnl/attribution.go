// Package pnl decomposes realized gains into settlement-period components and
// values open lots against live and close marks, all relative to the 06:00
// trading-day boundary.
package pnl

import (
	"time"

	"github.com/quantdesk/lotledger/internal/domain"
)

// Component classifies the entry leg of a realization relative to the
// session in which the offset happened.
type Component string

const (
	// ComponentIntraday - entry and exit in the same session; the raw
	// entry/exit price delta is the correct attribution.
	ComponentIntraday Component = "intraday"

	// ComponentSettleToExit - the entry leg predates this session. The gain
	// accrued before today's open was already realized on a prior day's
	// mark-to-market, so today's attribution runs from the sodToday mark,
	// not the raw entry price.
	ComponentSettleToExit Component = "settle_to_exit"
)

// RealizedAttribution is the settlement-aware view of one realization
type RealizedAttribution struct {
	Component Component
	PnL       float64 // attribution to the exit session
	// Degraded marks the documented fallback: the entry leg crossed a
	// session boundary but no sodToday mark exists, so the raw entry price
	// was used. Numerically approximate for multi-day carried positions.
	Degraded bool
}

// AttributeRealization splits a realization's gain into its settlement-period
// component. sodToday may be nil (no mark recorded); the raw entry price is
// then used as a fallback rather than failing, favoring an approximate number
// over blocking the pipeline.
func AttributeRealization(rec domain.Realization, sodToday *domain.SettlementMark, multiplier float64) RealizedAttribution {
	entryDay := domain.TradingDay(rec.EntryTime)
	exitDay := domain.TradingDay(rec.Timestamp)

	if !entryDay.Before(exitDay) {
		return RealizedAttribution{
			Component: ComponentIntraday,
			PnL:       rec.RealizedPnL,
		}
	}

	if sodToday == nil {
		return RealizedAttribution{
			Component: ComponentSettleToExit,
			PnL:       rec.RealizedPnL,
			Degraded:  true,
		}
	}

	// Long-closing exit: exit price minus this session's open mark.
	// Sign flipped when the resting lot was short.
	pnl := (rec.ExitPrice - sodToday.Price) * rec.Quantity * multiplier * rec.EntrySide.Sign()

	return RealizedAttribution{
		Component: ComponentSettleToExit,
		PnL:       pnl,
	}
}

// UnrealizedLive values an open lot against the live mark, sign-adjusted by
// the lot's side. Returns zero when no live mark exists.
func UnrealizedLive(lot domain.OpenLot, live *domain.SettlementMark, multiplier float64) float64 {
	if live == nil {
		return 0
	}
	return (live.Price - lot.Price) * lot.RemainingQuantity * multiplier * lot.Side.Sign()
}

// UnrealizedClose values an open lot against the close mark, but only when
// the close mark falls inside the current trading day. A stale close must
// never be substituted: the returned pointer is nil when the value is
// undefined, so callers can tell "zero" apart from "unavailable".
func UnrealizedClose(lot domain.OpenLot, close *domain.SettlementMark, now time.Time, multiplier float64) *float64 {
	if close == nil || !domain.SameTradingDay(close.Timestamp, now) {
		return nil
	}
	v := (close.Price - lot.Price) * lot.RemainingQuantity * multiplier * lot.Side.Sign()
	return &v
}
