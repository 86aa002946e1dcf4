package storage

import "context"

//go:generate moq -out metadatastorage_mock.go . MetadataStorage

// MetadataStorage defines interface for storing client metadata
type MetadataStorage interface {
	// EnsureNodeID returns the stable replica id of this client,
	// generating and persisting a new one on first call
	EnsureNodeID(ctx context.Context) (string, error)

	// SaveLastSyncTimestamp saves the Lamport timestamp of the last successful sync
	SaveLastSyncTimestamp(ctx context.Context, timestamp int64) error

	// GetLastSyncTimestamp retrieves the Lamport timestamp of the last successful sync
	// Returns 0 if no sync has been performed yet
	GetLastSyncTimestamp(ctx context.Context) (int64, error)
}
