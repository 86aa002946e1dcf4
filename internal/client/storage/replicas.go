package storage

import "context"

//go:generate moq -out replicastorage_mock.go . ReplicaStorage

// ReplicaStorage defines interface for locally cached document replicas.
// State — непрозрачное закодированное полное состояние CRDT-документа;
// клиент восстанавливает свои реплики из него на старте.
type ReplicaStorage interface {
	// SaveReplica stores or updates the replica state for a parcel
	SaveReplica(ctx context.Context, parcelID string, state []byte) error

	// GetReplica retrieves the replica state for a parcel
	// Returns ErrReplicaNotFound if replica doesn't exist
	GetReplica(ctx context.Context, parcelID string) ([]byte, error)

	// ListReplicas returns replica states for all locally cached parcels
	ListReplicas(ctx context.Context) (map[string][]byte, error)
}
