package storage

import (
	"context"

	"github.com/parcelworks/fieldsync/internal/models"
)

//go:generate moq -out conflictstorage_mock.go . ConflictStorage

// ConflictStorage defines interface for storing conflict records on client.
// Движок разрешения конфликтов владеет своими записями независимо
// от хранилища документов; связь с ресурсом только по id.
type ConflictStorage interface {
	// SaveConflict stores or updates a conflict record
	SaveConflict(ctx context.Context, conflict *models.DataConflict) error

	// GetConflict retrieves a conflict record by ID
	// Returns ErrConflictNotFound if conflict doesn't exist
	GetConflict(ctx context.Context, id string) (*models.DataConflict, error)

	// ListConflicts returns all conflict records ordered by detection time
	ListConflicts(ctx context.Context) ([]*models.DataConflict, error)

	// DeleteConflict removes a conflict record
	DeleteConflict(ctx context.Context, id string) error
}
