package engine

import "errors"

// Validation errors fail the caller's operation with no state change.
var (
	ErrEmptyKey             = errors.New("key should not be empty")
	ErrKeyTooLarge          = errors.New("key exceeds maximum size")
	ErrClosed               = errors.New("engine is closed")
	ErrCompactionInProgress = errors.New("compaction already running")
)
