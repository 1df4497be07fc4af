package positions

import (
	"fmt"
	"sort"
	"time"

	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/quantdesk/lotledger/internal/modules/ledger"
	"github.com/quantdesk/lotledger/internal/modules/pnl"
	"github.com/rs/zerolog"
)

// Service aggregates the lot ledger into daily per-symbol snapshots
type Service struct {
	snapshots    *SnapshotRepository
	lots         *ledger.LotRepository
	realizations *ledger.RealizationRepository
	calc         *pnl.Calculator
	log          zerolog.Logger
}

// NewService creates a new positions service
func NewService(snapshots *SnapshotRepository, lots *ledger.LotRepository,
	realizations *ledger.RealizationRepository, calc *pnl.Calculator, log zerolog.Logger) *Service {
	return &Service{
		snapshots:    snapshots,
		lots:         lots,
		realizations: realizations,
		calc:         calc,
		log:          log.With().Str("service", "positions").Logger(),
	}
}

// Recompute rebuilds the snapshots for a trading day from the underlying
// ledger state. Running it twice for the same day produces identical rows.
// Realized figures include every realization whose exit falls on or before
// the given trading day; unrealized figures reflect current marks.
func (s *Service) Recompute(day time.Time) (int, error) {
	dateStr := domain.DayString(day)
	// Everything realized up to the end of the session that starts on day.
	cutoff := domain.SessionStart(day.Add(24 * time.Hour))
	now := time.Now().UTC()

	symbols, err := s.activeSymbols()
	if err != nil {
		return 0, err
	}

	written := 0
	for _, method := range domain.Methods() {
		unrealized, err := s.calc.UnrealizedBySymbol(method, now)
		if err != nil {
			return written, fmt.Errorf("failed to compute unrealized pnl (%s): %w", method, err)
		}

		for _, symbol := range symbols {
			openQty, err := s.lots.SignedOpenQuantity(method, symbol)
			if err != nil {
				return written, err
			}
			closedQty, realized, err := s.calc.SymbolRealizedSummary(method, symbol, cutoff)
			if err != nil {
				return written, err
			}
			if openQty == 0 && closedQty == 0 {
				continue
			}

			snapshot := domain.PositionSnapshot{
				Date:           dateStr,
				Symbol:         symbol,
				Method:         method,
				OpenQuantity:   openQty,
				ClosedQuantity: closedQty,
				RealizedPnL:    realized,
				Timestamp:      now,
			}
			if u, ok := unrealized[symbol]; ok {
				snapshot.UnrealizedPnL = u.Live
				snapshot.UnrealizedClosePnL = u.Close
			}

			if err := s.snapshots.Upsert(snapshot); err != nil {
				return written, err
			}
			written++
		}
	}

	s.log.Info().
		Str("date", dateStr).
		Int("snapshots", written).
		Msg("Position snapshots recomputed")
	return written, nil
}

// activeSymbols is the union of symbols with open lots and symbols with
// realizations on either ledger.
func (s *Service) activeSymbols() ([]string, error) {
	seen := map[string]bool{}

	open, err := s.lots.OpenSymbols()
	if err != nil {
		return nil, err
	}
	for _, sym := range open {
		seen[sym] = true
	}

	for _, method := range domain.Methods() {
		realized, err := s.realizations.Symbols(method)
		if err != nil {
			return nil, err
		}
		for _, sym := range realized {
			seen[sym] = true
		}
	}

	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}
