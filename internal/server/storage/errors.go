package storage

import "errors"

// Common server storage errors
var (
	// ErrSnapshotNotFound indicates that document snapshot was not found
	ErrSnapshotNotFound = errors.New("document snapshot not found")
)
