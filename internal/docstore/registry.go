// Package docstore содержит реестр реплицируемых CRDT-документов полевых
// заметок. Реестр — единственный общий изменяемый ресурс процесса:
// мутации и слияния сериализуются по ключу участка, операции над разными
// участками выполняются полностью параллельно.
package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parcelworks/fieldsync/internal/crdt"
	"github.com/parcelworks/fieldsync/internal/models"
)

//go:generate moq -out persister_mock.go . Persister

// Persister определяет интерфейс сохранения снимков документов.
// Вызывается после каждой мутации и слияния; сервер подключает SQLite,
// клиент — BoltDB-реплики. nil-persister отключает персистентность.
type Persister interface {
	// SaveSnapshot сохраняет полное закодированное состояние документа
	SaveSnapshot(ctx context.Context, parcelID string, state []byte, updatedAt time.Time) error
}

// docEntry держит документ и его эксклюзивную секцию.
// Блокировка по ключу, а не по реестру: CRDT-слияния коммутативны,
// защищать нужно только порядок мутаций одного участка.
type docEntry struct {
	doc *crdt.Document
	mu  sync.Mutex
}

// Registry представляет явно конструируемый реестр документов по ключу
// участка. Создается при старте процесса и внедряется в адаптер протокола
// синхронизации; глобального состояния нет.
type Registry struct {
	logger    *slog.Logger
	persister Persister
	entries   map[string]*docEntry
	nodeID    string
	mu        sync.RWMutex
}

// Option настраивает Registry при создании.
type Option func(*Registry)

// WithPersister подключает сохранение снимков документов.
func WithPersister(p Persister) Option {
	return func(r *Registry) {
		r.persister = p
	}
}

// WithNodeID задает идентификатор реплики для всех документов реестра.
// Используется для восстановления идентичности после перезапуска.
func WithNodeID(nodeID string) Option {
	return func(r *Registry) {
		r.nodeID = nodeID
	}
}

// NewRegistry создает новый пустой реестр документов.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:  logger,
		entries: make(map[string]*docEntry),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Restore загружает сохраненные снимки документов в реестр.
// Вызывается один раз при старте процесса до приема запросов.
// Битый снимок логируется и пропускается: один поврежденный документ
// не должен блокировать запуск всего реестра.
func (r *Registry) Restore(snapshots map[string][]byte) {
	for parcelID, state := range snapshots {
		delta, err := crdt.DecodeDelta(state)
		if err != nil {
			r.logger.Error("Failed to decode document snapshot",
				"parcel_id", parcelID,
				"error", err)
			continue
		}

		entry := r.getOrCreateEntry(parcelID)
		entry.mu.Lock()
		entry.doc.Merge(delta)
		entry.mu.Unlock()
	}

	r.logger.Info("Document registry restored", "documents", len(r.entries))
}

// getOrCreateEntry возвращает запись документа, лениво создавая пустую.
func (r *Registry) getOrCreateEntry(parcelID string) *docEntry {
	r.mu.RLock()
	entry, exists := r.entries[parcelID]
	r.mu.RUnlock()

	if exists {
		return entry
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Перепроверяем после захвата write-lock
	if entry, exists = r.entries[parcelID]; exists {
		return entry
	}

	entry = &docEntry{doc: crdt.NewDocumentWithNodeID(r.nodeID)}
	r.entries[parcelID] = entry
	return entry
}

// GetOrCreate возвращает документ для ключа участка, лениво создавая пустой.
// Никогда не завершается ошибкой.
func (r *Registry) GetOrCreate(parcelID string) *crdt.Document {
	return r.getOrCreateEntry(parcelID).doc
}

// ApplyLocalMutation применяет локальную мутацию к документу участка
// и возвращает закодированную дельту ровно этого изменения.
func (r *Registry) ApplyLocalMutation(ctx context.Context, parcelID string, m models.NoteMutation) ([]byte, error) {
	entry := r.getOrCreateEntry(parcelID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	delta := entry.doc.Apply(m)

	encoded, err := crdt.EncodeDelta(delta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mutation delta: %w", err)
	}

	if err := r.persistLocked(ctx, parcelID, entry); err != nil {
		// Мутация уже применена к документу; ошибку персистентности
		// логируем, но вызов не откатываем
		r.logger.Error("Failed to persist document after mutation",
			"parcel_id", parcelID,
			"error", err)
	}

	return encoded, nil
}

// Materialize проецирует документ участка в плоский доменный объект.
// Для неизвестного участка возвращается пустое представление.
func (r *Registry) Materialize(parcelID string) models.NoteView {
	return r.getOrCreateEntry(parcelID).doc.Materialize()
}

// Merge применяет дельту удаленной реплики к документу участка.
// Возвращает полное состояние документа после слияния: отправка его
// обратно приводит удаленную реплику к тому же состоянию.
// Некорректные байты дельты возвращают *crdt.DecodeError, документ
// остается нетронутым (применение все-или-ничего).
func (r *Registry) Merge(ctx context.Context, parcelID string, incoming []byte) ([]byte, error) {
	// Декодируем полностью до захвата ключа: битая дельта
	// не должна трогать ни документ, ни его секцию
	delta, err := crdt.DecodeDelta(incoming)
	if err != nil {
		return nil, err
	}

	entry := r.getOrCreateEntry(parcelID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	changed := entry.doc.Merge(delta)

	state, err := crdt.EncodeDelta(entry.doc.State())
	if err != nil {
		return nil, fmt.Errorf("failed to encode document state: %w", err)
	}

	if changed {
		if err := r.persistLocked(ctx, parcelID, entry); err != nil {
			r.logger.Error("Failed to persist document after merge",
				"parcel_id", parcelID,
				"error", err)
		}
	}

	return state, nil
}

// State возвращает закодированное полное состояние документа участка.
// Полное состояние само является дельтой: слияние его на другой реплике
// догоняет ее до нашего документа.
func (r *Registry) State(parcelID string) ([]byte, error) {
	entry := r.getOrCreateEntry(parcelID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	state, err := crdt.EncodeDelta(entry.doc.State())
	if err != nil {
		return nil, fmt.Errorf("failed to encode document state: %w", err)
	}

	return state, nil
}

// persistLocked сохраняет снимок документа; вызывается под entry.mu.
func (r *Registry) persistLocked(ctx context.Context, parcelID string, entry *docEntry) error {
	if r.persister == nil {
		return nil
	}

	state, err := crdt.EncodeDelta(entry.doc.State())
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return r.persister.SaveSnapshot(ctx, parcelID, state, time.Now().UTC())
}

// Size возвращает количество документов в реестре.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
