// Package ingest is the boundary where external collaborators feed the
// ledger: trade files dropped into a watch directory and a live price
// stream over websocket. Everything it writes goes through the same
// retry-wrapped store access as the rest of the system.
package ingest

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/quantdesk/lotledger/internal/database"
	"github.com/quantdesk/lotledger/internal/domain"
	"github.com/rs/zerolog"
)

// ProcessedFileRepository tracks which trade files have already been
// ingested, keyed by (path, mtime) so a rewritten file is picked up again
type ProcessedFileRepository struct {
	db         *database.DB
	maxRetries int
	baseDelay  time.Duration
	markMu     sync.Mutex
	log        zerolog.Logger
}

// NewProcessedFileRepository creates a new processed file repository
func NewProcessedFileRepository(db *database.DB, maxRetries int, baseDelay time.Duration, log zerolog.Logger) *ProcessedFileRepository {
	if maxRetries <= 0 {
		maxRetries = database.DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = database.DefaultRetryDelay
	}
	return &ProcessedFileRepository{
		db:         db,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		log:        log.With().Str("repo", "processed_files").Logger(),
	}
}

// IsProcessed reports whether this exact (path, mtime) pair was ingested
func (r *ProcessedFileRepository) IsProcessed(filePath string, lastModified time.Time) (bool, error) {
	var exists int
	err := r.db.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM processed_files WHERE file_path = ? AND last_modified = ?)",
		filePath, lastModified.Unix(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed file %s: %w", filePath, err)
	}
	return exists == 1, nil
}

// MarkProcessed records a completed ingestion. Re-marking the same
// (path, mtime) pair updates the record instead of failing.
func (r *ProcessedFileRepository) MarkProcessed(filePath string, lastModified time.Time, recordCount int) error {
	r.markMu.Lock()
	defer r.markMu.Unlock()

	return database.ExecuteWithRetryDelay(r.db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO processed_files (file_path, last_modified, processed_at, record_count)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (file_path, last_modified) DO UPDATE SET
				processed_at = excluded.processed_at,
				record_count = excluded.record_count`,
			filePath, lastModified.Unix(), time.Now().UTC().Unix(), recordCount,
		)
		if err != nil {
			return fmt.Errorf("failed to mark file processed %s: %w", filePath, err)
		}
		return nil
	}, r.maxRetries, r.baseDelay)
}

// All returns the processed file records, newest first
func (r *ProcessedFileRepository) All() ([]domain.ProcessedFile, error) {
	rows, err := r.db.Query(`
		SELECT file_path, last_modified, processed_at, record_count
		FROM processed_files ORDER BY processed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed files: %w", err)
	}
	defer rows.Close()

	var files []domain.ProcessedFile
	for rows.Next() {
		var f domain.ProcessedFile
		var mtime, processedAt int64
		if err := rows.Scan(&f.FilePath, &mtime, &processedAt, &f.RecordCount); err != nil {
			return nil, fmt.Errorf("failed to scan processed file: %w", err)
		}
		f.LastModified = time.Unix(mtime, 0).UTC()
		f.ProcessedAt = time.Unix(processedAt, 0).UTC()
		files = append(files, f)
	}
	return files, rows.Err()
}
