// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side represents the direction of a trade
type Side string

const (
	SideBuy  Side = "B"
	SideSell Side = "S"
)

// Opposite returns the opposing side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign returns +1 for buys and -1 for sells, used to sign quantities
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// ParseSide normalizes a side string ("B", "Buy", "S", "Sell")
func ParseSide(raw string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "B", "BUY":
		return SideBuy, nil
	case "S", "SELL":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unrecognized trade side %q", raw)
	}
}

// Method identifies which lot-matching convention a ledger uses
type Method string

const (
	MethodFIFO Method = "fifo"
	MethodLIFO Method = "lifo"
)

// Methods lists both conventions in a stable order
func Methods() []Method {
	return []Method{MethodFIFO, MethodLIFO}
}

// LotsTable returns the open-lots table name for the method
func (m Method) LotsTable() string {
	return "open_lots_" + string(m)
}

// RealizationsTable returns the realizations table name for the method
func (m Method) RealizationsTable() string {
	return "realizations_" + string(m)
}

// MarkType identifies one of the four settlement price marks per symbol
type MarkType string

const (
	MarkLive        MarkType = "live"
	MarkClose       MarkType = "close"
	MarkSodToday    MarkType = "sodToday"
	MarkSodTomorrow MarkType = "sodTomorrow"
)

// ValidMarkType reports whether the mark type is one of the four known kinds
func ValidMarkType(mt MarkType) bool {
	switch mt {
	case MarkLive, MarkClose, MarkSodToday, MarkSodTomorrow:
		return true
	}
	return false
}

// Trade represents one executed trade as delivered by ingestion.
// SequenceID is a date-scoped monotonic id (e.g. "20260829-12") and is the
// deduplication key across the whole pipeline.
type Trade struct {
	SequenceID    string    `json:"sequence_id"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	EventTime     time.Time `json:"event_time"`
	OriginalPrice float64   `json:"original_price"`
	OriginalTime  time.Time `json:"original_time"`
}

// Validate checks structural validity before any mutation begins
func (t Trade) Validate() error {
	if t.SequenceID == "" {
		return fmt.Errorf("trade missing sequence id")
	}
	if t.Symbol == "" {
		return fmt.Errorf("trade %s missing symbol", t.SequenceID)
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return fmt.Errorf("trade %s has invalid side %q", t.SequenceID, t.Side)
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("trade %s has non-positive quantity %v: %w", t.SequenceID, t.Quantity, ErrInvalidQuantity)
	}
	return nil
}

// OpenLot is one inventory row in a method's open-lot ledger.
// RemainingQuantity only ever decreases; a lot at zero is deleted, never kept.
type OpenLot struct {
	SequenceID        string    `json:"sequence_id"`
	Symbol            string    `json:"symbol"`
	Side              Side      `json:"side"`
	Price             float64   `json:"price"`
	RemainingQuantity float64   `json:"remaining_quantity"`
	EventTime         time.Time `json:"event_time"`
	FullOrPartial     string    `json:"full_or_partial"` // "full" until first offset, then "partial"
}

// Realization is the immutable record of one offsetting event.
// EntryTime carries the resting lot's event time so settlement-period
// attribution can classify the entry leg's trading day later.
type Realization struct {
	ID                   int64     `json:"id"`
	OffsetSequenceID     string    `json:"offset_sequence_id"`     // the resting lot consumed
	OffsettingSequenceID string    `json:"offsetting_sequence_id"` // the incoming trade
	Symbol               string    `json:"symbol"`
	EntrySide            Side      `json:"entry_side"` // side of the resting lot
	Quantity             float64   `json:"quantity"`
	EntryPrice           float64   `json:"entry_price"`
	ExitPrice            float64   `json:"exit_price"`
	RealizedPnL          float64   `json:"realized_pnl"`
	EntryTime            time.Time `json:"entry_time"`
	Timestamp            time.Time `json:"timestamp"`
}

// SettlementMark is one of the four reference prices kept per symbol
type SettlementMark struct {
	Symbol    string    `json:"symbol"`
	MarkType  MarkType  `json:"mark_type"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PositionSnapshot is the materialized per-day per-method aggregate.
// UnrealizedClosePnL is nil when no same-day close mark exists; consumers must
// be able to tell "zero" apart from "unavailable".
type PositionSnapshot struct {
	Date               string    `json:"date"` // YYYY-MM-DD trading day
	Symbol             string    `json:"symbol"`
	Method             Method    `json:"method"`
	OpenQuantity       float64   `json:"open_quantity"`
	ClosedQuantity     float64   `json:"closed_quantity"`
	RealizedPnL        float64   `json:"realized_pnl"`
	UnrealizedPnL      float64   `json:"unrealized_pnl"`
	UnrealizedClosePnL *float64  `json:"unrealized_close_pnl,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// ProcessedFile marks one ingested trade file, keyed by (path, mtime)
type ProcessedFile struct {
	FilePath     string    `json:"file_path"`
	LastModified time.Time `json:"last_modified"`
	ProcessedAt  time.Time `json:"processed_at"`
	RecordCount  int       `json:"record_count"`
}
