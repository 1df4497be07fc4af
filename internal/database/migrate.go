package database

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the ledger schema. The schema is embedded in the binary so
// migration works regardless of working directory (tests, CI, production).
// All statements are idempotent (IF NOT EXISTS) so re-running is safe.
func (db *DB) Migrate() error {
	return WithTransaction(db.conn, func(tx *sql.Tx) error {
		if _, err := tx.Exec(schemaSQL); err != nil {
			// Tolerate re-application against an already-migrated store
			errStr := err.Error()
			if strings.Contains(errStr, "duplicate column") ||
				strings.Contains(errStr, "already exists") {
				return nil
			}
			return fmt.Errorf("failed to execute schema for %s: %w", db.name, err)
		}
		return nil
	})
}
