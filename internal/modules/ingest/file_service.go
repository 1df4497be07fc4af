package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/quantdesk/lotledger/internal/modules/ledger"
	"github.com/rs/zerolog"
)

// FileService ingests trade CSV files from a watch directory.
//
// Expected columns: sequence_id, symbol, side, quantity, price, event_time,
// and optionally original_price, original_time. Times are RFC 3339.
type FileService struct {
	watchDir  string
	ledger    *ledger.Service
	processed *ProcessedFileRepository
	log       zerolog.Logger
}

// NewFileService creates a new trade file ingestion service
func NewFileService(watchDir string, ledgerSvc *ledger.Service, processed *ProcessedFileRepository, log zerolog.Logger) *FileService {
	return &FileService{
		watchDir:  watchDir,
		ledger:    ledgerSvc,
		processed: processed,
		log:       log.With().Str("service", "trade_files").Logger(),
	}
}

// ScanOnce processes every unprocessed CSV file in the watch directory.
// Returns the number of trade records ingested across all files.
func (s *FileService) ScanOnce() (int, error) {
	if s.watchDir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(s.watchDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read watch directory %s: %w", s.watchDir, err)
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}

		path := filepath.Join(s.watchDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			s.log.Warn().Err(err).Str("file", path).Msg("Failed to stat trade file, skipping")
			continue
		}

		done, err := s.processed.IsProcessed(path, info.ModTime())
		if err != nil {
			return total, err
		}
		if done {
			continue
		}

		count, err := s.ingestFile(path)
		if err != nil {
			s.log.Error().Err(err).Str("file", path).Msg("Failed to ingest trade file")
			continue
		}

		if err := s.processed.MarkProcessed(path, info.ModTime(), count); err != nil {
			return total, err
		}
		total += count
	}
	return total, nil
}

// Run rescans the watch directory at the given interval until ctx is done
func (s *FileService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Trade file watcher stopped")
			return
		case <-ticker.C:
			if _, err := s.ScanOnce(); err != nil {
				s.log.Error().Err(err).Msg("Trade file scan failed")
			}
		}
	}
}

// ingestFile parses one CSV and routes each record through the ledger.
// Duplicate sequence ids are expected on re-delivered files and skipped.
func (s *FileService) ingestFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open trade file %s: %w", path, err)
	}
	defer f.Close()

	trades, err := ParseTradeCSV(f)
	if err != nil {
		return 0, fmt.Errorf("failed to parse trade file %s: %w", path, err)
	}

	batchID := uuid.New().String()
	inserted := 0
	duplicates := 0
	for _, trade := range trades {
		if _, err := s.ledger.Insert(trade); err != nil {
			if errors.Is(err, domain.ErrDuplicateTrade) {
				duplicates++
				continue
			}
			return inserted, fmt.Errorf("failed to insert trade %s: %w", trade.SequenceID, err)
		}
		inserted++
	}

	s.log.Info().
		Str("batch_id", batchID).
		Str("file", path).
		Int("inserted", inserted).
		Int("duplicates", duplicates).
		Msg("Trade file ingested")
	return inserted, nil
}

// ParseTradeCSV reads trade records from CSV with a header row
func ParseTradeCSV(r io.Reader) ([]domain.Trade, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"sequence_id", "symbol", "side", "quantity", "price", "event_time"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required CSV column %q", required)
		}
	}

	var trades []domain.Trade
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		trade, err := tradeFromRecord(record, cols)
		if err != nil {
			return nil, fmt.Errorf("invalid trade on CSV line %d: %w", line, err)
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func tradeFromRecord(record []string, cols map[string]int) (domain.Trade, error) {
	field := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	side, err := domain.ParseSide(field("side"))
	if err != nil {
		return domain.Trade{}, err
	}
	quantity, err := strconv.ParseFloat(field("quantity"), 64)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("bad quantity %q: %w", field("quantity"), err)
	}
	price, err := strconv.ParseFloat(field("price"), 64)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("bad price %q: %w", field("price"), err)
	}
	eventTime, err := time.Parse(time.RFC3339, field("event_time"))
	if err != nil {
		return domain.Trade{}, fmt.Errorf("bad event_time %q: %w", field("event_time"), err)
	}

	trade := domain.Trade{
		SequenceID:    field("sequence_id"),
		Symbol:        field("symbol"),
		Side:          side,
		Quantity:      quantity,
		Price:         price,
		EventTime:     eventTime.UTC(),
		OriginalPrice: price,
		OriginalTime:  eventTime.UTC(),
	}

	if raw := field("original_price"); raw != "" {
		original, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("bad original_price %q: %w", raw, err)
		}
		trade.OriginalPrice = original
	}
	if raw := field("original_time"); raw != "" {
		original, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("bad original_time %q: %w", raw, err)
		}
		trade.OriginalTime = original.UTC()
	}
	return trade, nil
}
