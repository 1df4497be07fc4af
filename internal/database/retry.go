package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quantdesk/lotledger/internal/domain"
)

// Retry defaults for contended writes. After the ceiling the last error
// surfaces to the caller; operations are never retried indefinitely.
const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 100 * time.Millisecond
)

// IsBusy reports whether err belongs to SQLite's transient contention class
// (SQLITE_BUSY / SQLITE_LOCKED). Everything else is treated as permanent.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrResourceBusy) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// ExecuteWithRetry runs op inside a transaction on conn, retrying on the
// busy/locked contention class with a linearly increasing backoff
// (delay = base x attempt). The transaction either fully commits or fully
// rolls back; no partial mutation is ever observable.
func ExecuteWithRetry(conn *sql.DB, op func(*sql.Tx) error, maxRetries int) error {
	return ExecuteWithRetryDelay(conn, op, maxRetries, DefaultRetryDelay)
}

// ExecuteWithRetryDelay is ExecuteWithRetry with a configurable base delay
func ExecuteWithRetryDelay(conn *sql.DB, op func(*sql.Tx) error, maxRetries int, baseDelay time.Duration) error {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = WithTransaction(conn, op)
		if lastErr == nil {
			return nil
		}
		if !IsBusy(lastErr) {
			return lastErr
		}
		if attempt < maxRetries {
			time.Sleep(baseDelay * time.Duration(attempt))
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w (%w)", maxRetries, domain.ErrResourceBusy, lastErr)
}
