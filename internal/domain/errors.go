package domain

import "errors"

// Error taxonomy for the ledger. Structural errors are detected before any
// mutation and returned synchronously; ErrResourceBusy is retried by the store
// access layer and only surfaces after retry exhaustion.
var (
	// ErrInvalidQuantity rejects trades with non-positive quantity
	ErrInvalidQuantity = errors.New("invalid trade quantity")

	// ErrDuplicateTrade rejects a sequence id that was already ingested.
	// Safe for collaborators to ignore: it signals an at-least-once replay.
	ErrDuplicateTrade = errors.New("duplicate trade sequence id")

	// ErrInvalidMarkType rejects unrecognized settlement mark types
	ErrInvalidMarkType = errors.New("invalid settlement mark type")

	// ErrResourceBusy wraps the store's "busy/locked" contention class
	ErrResourceBusy = errors.New("store resource busy")

	// ErrNotFound is returned by lookups with no matching row
	ErrNotFound = errors.New("not found")
)
