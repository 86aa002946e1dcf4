package storage

import (
	"context"
	"time"
)

// DocumentSnapshot снимок полного состояния CRDT-документа участка.
// State — непрозрачная закодированная дельта полного состояния;
// сервер не интерпретирует ее содержимое.
type DocumentSnapshot struct {
	UpdatedAt time.Time
	ParcelID  string
	State     []byte
}

//go:generate moq -out documents_mock.go . DocumentStorage

// DocumentStorage определяет интерфейс durable-хранилища снимков документов.
// Реестр документов сохраняет снимок после каждой мутации и слияния
// и восстанавливает все документы при старте процесса.
type DocumentStorage interface {
	// SaveSnapshot сохраняет или обновляет снимок документа участка
	SaveSnapshot(ctx context.Context, parcelID string, state []byte, updatedAt time.Time) error

	// GetSnapshot возвращает снимок документа участка
	// Возвращает ErrSnapshotNotFound, если снимка нет
	GetSnapshot(ctx context.Context, parcelID string) (*DocumentSnapshot, error)

	// ListSnapshots возвращает снимки всех документов
	// Используется при восстановлении реестра на старте
	ListSnapshots(ctx context.Context) ([]*DocumentSnapshot, error)
}
