package boltdb

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/parcelworks/fieldsync/internal/client/storage"
)

// SaveReplica stores or updates the replica state for a parcel.
// State — непрозрачные байты полного состояния документа; хранилище
// их не интерпретирует.
func (s *Storage) SaveReplica(ctx context.Context, parcelID string, state []byte) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketReplicas)
		if bucket == nil {
			return fmt.Errorf("replicas bucket not found")
		}

		if err := bucket.Put([]byte(parcelID), state); err != nil {
			return fmt.Errorf("failed to save replica: %w", err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetReplica retrieves the replica state for a parcel
func (s *Storage) GetReplica(ctx context.Context, parcelID string) ([]byte, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var state []byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketReplicas)
		if bucket == nil {
			return storage.ErrReplicaNotFound
		}

		data := bucket.Get([]byte(parcelID))
		if data == nil {
			return storage.ErrReplicaNotFound
		}

		// Копируем: данные bbolt валидны только внутри транзакции
		state = make([]byte, len(data))
		copy(state, data)

		return nil
	})

	if err != nil {
		return nil, err
	}

	return state, nil
}

// ListReplicas returns replica states for all locally cached parcels
func (s *Storage) ListReplicas(ctx context.Context) (map[string][]byte, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	replicas := make(map[string][]byte)

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketReplicas)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			state := make([]byte, len(v))
			copy(state, v)
			replicas[string(k)] = state
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list replicas: %w", err)
	}

	return replicas, nil
}
