package storage

import (
	"context"

	"github.com/parcelworks/fieldsync/internal/models"
)

//go:generate moq -out queuestorage_mock.go . QueueStorage

// QueueStorage defines interface for the durable offline operation queue.
// Записи переживают перезапуск процесса: PENDING/RETRYING/FAILED операции
// загружаются на старте, и разгрузка очереди продолжается.
type QueueStorage interface {
	// SaveOperation stores or updates a queued operation.
	// Нулевой Seq получает следующий порядковый номер очереди:
	// он фиксирует порядок постановки для FIFO-разгрузки.
	SaveOperation(ctx context.Context, op *models.QueuedOperation) error

	// GetOperation retrieves a queued operation by ID
	// Returns ErrOperationNotFound if operation doesn't exist
	GetOperation(ctx context.Context, id string) (*models.QueuedOperation, error)

	// ListOperations returns all operations ordered by enqueue sequence
	ListOperations(ctx context.Context) ([]*models.QueuedOperation, error)

	// DeleteOperation removes an operation record
	DeleteOperation(ctx context.Context, id string) error
}
