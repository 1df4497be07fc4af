package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/quantdesk/lotledger/internal/modules/ingest"
	"github.com/quantdesk/lotledger/internal/modules/ledger"
	"github.com/quantdesk/lotledger/internal/modules/marks"
	"github.com/quantdesk/lotledger/internal/modules/pnl"
	"github.com/quantdesk/lotledger/internal/modules/positions"
)

// Handlers serves the ledger read API
type Handlers struct {
	log            zerolog.Logger
	snapshots      *positions.SnapshotRepository
	lots           *ledger.LotRepository
	realizations   *ledger.RealizationRepository
	ledger         *ledger.Service
	marks          *marks.Repository
	calc           *pnl.Calculator
	processedFiles *ingest.ProcessedFileRepository
}

// NewHandlers creates the API handlers
func NewHandlers(log zerolog.Logger, snapshots *positions.SnapshotRepository,
	lots *ledger.LotRepository, realizations *ledger.RealizationRepository,
	ledgerSvc *ledger.Service, markRepo *marks.Repository,
	calc *pnl.Calculator, processedFiles *ingest.ProcessedFileRepository) *Handlers {
	return &Handlers{
		log:            log.With().Str("component", "api").Logger(),
		snapshots:      snapshots,
		lots:           lots,
		realizations:   realizations,
		ledger:         ledgerSvc,
		marks:          markRepo,
		calc:           calc,
		processedFiles: processedFiles,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// parseMethod validates the {method} URL parameter
func parseMethod(r *http.Request) (domain.Method, bool) {
	raw := strings.ToLower(chi.URLParam(r, "method"))
	switch domain.Method(raw) {
	case domain.MethodFIFO, domain.MethodLIFO:
		return domain.Method(raw), true
	}
	return "", false
}

// HandleSnapshotsByDate returns all snapshots for a date (YYYY-MM-DD)
func (h *Handlers) HandleSnapshotsByDate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	snapshots, err := h.snapshots.ByDate(date)
	if err != nil {
		h.log.Error().Err(err).Str("date", date).Msg("Failed to load snapshots")
		respondError(w, http.StatusInternalServerError, "failed to load snapshots")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"date":      date,
		"snapshots": snapshots,
	})
}

// HandleLatestSnapshots returns the most recent snapshots for a symbol
func (h *Handlers) HandleLatestSnapshots(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	snapshots, err := h.snapshots.LatestBySymbol(symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to load latest snapshots")
		respondError(w, http.StatusInternalServerError, "failed to load snapshots")
		return
	}
	if len(snapshots) == 0 {
		respondError(w, http.StatusNotFound, "no snapshots for symbol")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    symbol,
		"snapshots": snapshots,
	})
}

// HandleRealizations returns all realizations for a method
func (h *Handlers) HandleRealizations(w http.ResponseWriter, r *http.Request) {
	method, ok := parseMethod(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "method must be fifo or lifo")
		return
	}

	records, err := h.realizations.All(method)
	if err != nil {
		h.log.Error().Err(err).Str("method", string(method)).Msg("Failed to load realizations")
		respondError(w, http.StatusInternalServerError, "failed to load realizations")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"method":       method,
		"count":        len(records),
		"realizations": records,
	})
}

// HandleRealizationsBySymbol returns realizations filtered by symbol and
// an optional from/to RFC 3339 time window
func (h *Handlers) HandleRealizationsBySymbol(w http.ResponseWriter, r *http.Request) {
	method, ok := parseMethod(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "method must be fifo or lifo")
		return
	}
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	from, to, err := parseTimeWindow(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.realizations.BySymbol(method, symbol, from, to)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to load realizations")
		respondError(w, http.StatusInternalServerError, "failed to load realizations")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"method":       method,
		"symbol":       symbol,
		"count":        len(records),
		"realizations": records,
	})
}

// HandleRealizationStats returns summary statistics of realized P&L
func (h *Handlers) HandleRealizationStats(w http.ResponseWriter, r *http.Request) {
	method, ok := parseMethod(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "method must be fifo or lifo")
		return
	}
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	from, to, err := parseTimeWindow(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.calc.Stats(method, symbol, from, to)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to compute stats")
		respondError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// HandleOpenLots returns every open lot for a method
func (h *Handlers) HandleOpenLots(w http.ResponseWriter, r *http.Request) {
	method, ok := parseMethod(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "method must be fifo or lifo")
		return
	}

	lots, err := h.lots.AllOpenLots(method)
	if err != nil {
		h.log.Error().Err(err).Str("method", string(method)).Msg("Failed to load open lots")
		respondError(w, http.StatusInternalServerError, "failed to load open lots")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"method": method,
		"count":  len(lots),
		"lots":   lots,
	})
}

// HandleTotalPnL returns total P&L in live and close variants. The close
// variant is null when any open symbol lacks a same-session close mark.
func (h *Handlers) HandleTotalPnL(w http.ResponseWriter, r *http.Request) {
	method, ok := parseMethod(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "method must be fifo or lifo")
		return
	}

	now := time.Now().UTC()
	live, err := h.calc.TotalPnL(method, now)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute total pnl")
		respondError(w, http.StatusInternalServerError, "failed to compute total pnl")
		return
	}
	closeTotal, err := h.calc.TotalPnLClose(method, now)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute close total pnl")
		respondError(w, http.StatusInternalServerError, "failed to compute total pnl")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"method":      method,
		"total_live":  live,
		"total_close": closeTotal,
	})
}

// HandleMarks returns all settlement marks, optionally filtered by symbol
func (h *Handlers) HandleMarks(w http.ResponseWriter, r *http.Request) {
	all, err := h.marks.All()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load marks")
		respondError(w, http.StatusInternalServerError, "failed to load marks")
		return
	}

	if symbol := strings.ToUpper(r.URL.Query().Get("symbol")); symbol != "" {
		filtered := all[:0]
		for _, m := range all {
			if m.Symbol == symbol {
				filtered = append(filtered, m)
			}
		}
		all = filtered
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(all),
		"marks": all,
	})
}

// HandleInvariantCheck verifies the cross-method net quantity invariant
func (h *Handlers) HandleInvariantCheck(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	if err := h.ledger.CheckInvariant(symbol); err != nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"symbol": symbol,
			"ok":     false,
			"detail": err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"ok":     true,
	})
}

// HandleProcessedFiles returns the ingestion trail
func (h *Handlers) HandleProcessedFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.processedFiles.All()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load processed files")
		respondError(w, http.StatusInternalServerError, "failed to load processed files")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(files),
		"files": files,
	})
}

// parseTimeWindow reads optional from/to query parameters. Absent bounds
// default to an open window.
func parseTimeWindow(r *http.Request) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, errors.New("from must be RFC 3339")
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, errors.New("to must be RFC 3339")
		}
		to = parsed
	}
	return from, to, nil
}
