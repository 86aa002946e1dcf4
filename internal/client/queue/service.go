// Package queue реализует durable-очередь отложенных операций полевого
// клиента. Операции ставятся в очередь, когда действие нельзя применить
// синхронно (офлайн или запрос уже в полете), и разгружаются против
// сервера с повторами и backoff.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	clientapi "github.com/parcelworks/fieldsync/internal/client/api"
	"github.com/parcelworks/fieldsync/internal/client/notify"
	"github.com/parcelworks/fieldsync/internal/client/storage"
	"github.com/parcelworks/fieldsync/internal/models"
)

//go:generate moq -out dispatcher_mock.go . Dispatcher

// Dispatcher отправляет одну операцию на сервер.
// Временные сбои помечаются *api.TransientError; любая другая ошибка
// неисправима и сразу переводит операцию в FAILED.
type Dispatcher interface {
	Dispatch(ctx context.Context, op *models.QueuedOperation) error
}

//go:generate moq -out service_mock.go . Service

// Service определяет интерфейс офлайн-очереди операций.
type Service interface {
	// Enqueue ставит операцию в durable-очередь; не блокируется на сети
	Enqueue(ctx context.Context, payload models.OperationPayload) (*models.QueuedOperation, error)

	// ProcessQueue разгружает готовые PENDING/RETRYING операции в порядке
	// постановки; ошибка одной операции не прерывает разгрузку остальных
	ProcessQueue(ctx context.Context) (*DrainResult, error)

	// RetryOperation возвращает FAILED операцию в PENDING
	RetryOperation(ctx context.Context, id string) error

	// RetryAllFailed возвращает все FAILED операции в PENDING,
	// возвращает количество затронутых
	RetryAllFailed(ctx context.Context) (int, error)

	// ClearCompleted удаляет COMPLETED записи, возвращает количество удаленных
	ClearCompleted(ctx context.Context) (int, error)

	// Cancel удаляет операцию из очереди; допустимо только в статусе PENDING
	Cancel(ctx context.Context, id string) error

	// ListOperations возвращает все операции в порядке постановки
	ListOperations(ctx context.Context) ([]*models.QueuedOperation, error)

	// Run запускает планировщик разгрузки: задача просыпается на Enqueue
	// и по истечении backoff-таймера, а не по фиксированному интервалу
	Run(ctx context.Context) error
}

// DrainResult итоги одного прохода разгрузки очереди.
type DrainResult struct {
	Dispatched int // количество отправленных операций
	Completed  int // количество принятых сервером
	Retrying   int // количество запланированных на повтор
	Failed     int // количество переведенных в FAILED
	Skipped    int // количество пропущенных (не готовы или ресурс заблокирован)
}

// Ошибки очереди операций
var (
	// ErrNotCancellable операция уже отправляется или завершена
	ErrNotCancellable = errors.New("operation can only be cancelled while pending")
	// ErrNotFailed повторить можно только FAILED операцию
	ErrNotFailed = errors.New("operation is not in failed status")
)

// Config настройки очереди операций.
type Config struct {
	// MaxRetries потолок автоматических повторов temporary-сбоев.
	// После MaxRetries переходов в RETRYING операция становится FAILED.
	MaxRetries int
	// BaseBackoff базовая задержка экспоненциального backoff
	BaseBackoff time.Duration
	// MaxBackoff потолок задержки между повторами
	MaxBackoff time.Duration
}

// DefaultConfig возвращает настройки очереди по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  5,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  2 * time.Minute,
	}
}

type service struct {
	storage    storage.QueueStorage
	dispatcher Dispatcher
	notifier   notify.Notifier
	logger     *slog.Logger
	now        func() time.Time
	wakeC      chan struct{}
	resources  map[string]*sync.Mutex
	cfg        Config
	mu         sync.Mutex
}

// NewService создает новый сервис офлайн-очереди.
func NewService(
	queueStorage storage.QueueStorage,
	dispatcher Dispatcher,
	notifier notify.Notifier,
	logger *slog.Logger,
	cfg Config,
) Service {
	return &service{
		storage:    queueStorage,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		wakeC:      make(chan struct{}, 1),
		resources:  make(map[string]*sync.Mutex),
	}
}

// Enqueue ставит операцию в очередь. Payload валидируется и сериализуется;
// порядковый номер присваивает хранилище, фиксируя FIFO-порядок.
// Вызов не блокируется на сети: отправкой занимается планировщик.
func (s *service) Enqueue(ctx context.Context, payload models.OperationPayload) (*models.QueuedOperation, error) {
	raw, err := models.EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid operation payload: %w", err)
	}

	now := s.now()
	op := &models.QueuedOperation{
		ID:         uuid.New().String(),
		Type:       payload.OperationType(),
		ResourceID: payload.ResourceID(),
		Payload:    raw,
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.storage.SaveOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to persist operation: %w", err)
	}

	s.logger.Info("Operation enqueued",
		"operation_id", op.ID,
		"type", op.Type,
		"resource_id", op.ResourceID)

	s.wake()
	return op, nil
}

// wake будит планировщик; не блокируется, если сигнал уже стоит.
func (s *service) wake() {
	select {
	case s.wakeC <- struct{}{}:
	default:
	}
}

// resourceLock возвращает мьютекс последовательности для ресурса.
// Второй dispatch для того же ресурса не начнется, пока не завершится
// первый, даже при конкурентных вызовах ProcessQueue.
func (s *service) resourceLock(resourceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, exists := s.resources[resourceID]
	if !exists {
		lock = &sync.Mutex{}
		s.resources[resourceID] = lock
	}
	return lock
}

// ProcessQueue разгружает очередь: PENDING и созревшие RETRYING операции
// отправляются в порядке постановки. Порядок в пределах одного ресурса
// строгий: если более ранняя операция ресурса не завершилась, более
// поздние пропускаются до следующего прохода. Операции разных ресурсов
// независимы: сбой одной не блокирует другие.
func (s *service) ProcessQueue(ctx context.Context) (*DrainResult, error) {
	ops, err := s.storage.ListOperations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	result := &DrainResult{}
	blocked := make(map[string]bool)

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if op.Status != models.StatusPending && op.Status != models.StatusRetrying {
			// Параллельный проход уже отправляет операцию этого ресурса -
			// более поздние операции того же ресурса ждут ее завершения
			if op.Status == models.StatusInProgress {
				blocked[op.ResourceID] = true
			}
			continue
		}

		// Более ранняя операция этого ресурса не завершилась в этом
		// проходе - сохраняем порядок, откладываем до следующего
		if blocked[op.ResourceID] {
			result.Skipped++
			continue
		}

		// RETRYING операция еще не созрела по backoff-таймеру
		if op.Status == models.StatusRetrying && s.now().Before(op.NextAttemptAt) {
			blocked[op.ResourceID] = true
			result.Skipped++
			continue
		}

		if !s.dispatchOne(ctx, op, result) {
			blocked[op.ResourceID] = true
		}
	}

	if result.Completed > 0 && s.notifier != nil {
		s.notifier.SendSystemNotification(
			"Sync complete",
			fmt.Sprintf("%d pending operation(s) synced to server", result.Completed),
		)
	}

	return result, nil
}

// dispatchOne отправляет одну операцию и применяет переход статуса.
// Возвращает true, если операция завершилась успешно (ресурс свободен
// для следующей операции в этом же проходе).
func (s *service) dispatchOne(ctx context.Context, op *models.QueuedOperation, result *DrainResult) bool {
	lock := s.resourceLock(op.ResourceID)
	lock.Lock()
	defer lock.Unlock()

	// Перечитываем статус под замком: пока этот проход ждал ресурс,
	// параллельный проход мог уже отправить операцию или пользователь -
	// отменить ее
	current, err := s.storage.GetOperation(ctx, op.ID)
	if err != nil {
		if errors.Is(err, storage.ErrOperationNotFound) {
			result.Skipped++
			return true
		}
		s.logger.Error("Failed to reload operation",
			"operation_id", op.ID,
			"error", err)
		return false
	}
	if current.Status != models.StatusPending && current.Status != models.StatusRetrying {
		result.Skipped++
		return current.Status == models.StatusCompleted
	}
	op = current

	op.Status = models.StatusInProgress
	op.UpdatedAt = s.now()
	if err := s.storage.SaveOperation(ctx, op); err != nil {
		s.logger.Error("Failed to mark operation in progress",
			"operation_id", op.ID,
			"error", err)
		return false
	}

	result.Dispatched++
	err = s.dispatcher.Dispatch(ctx, op)

	switch {
	case err == nil:
		op.Status = models.StatusCompleted
		op.UpdatedAt = s.now()
		result.Completed++

		s.logger.Info("Operation completed",
			"operation_id", op.ID,
			"type", op.Type,
			"resource_id", op.ResourceID)

	case clientapi.IsTransient(err):
		op.RecordError(err.Error())
		if op.RetryCount < s.cfg.MaxRetries {
			op.RetryCount++
			op.Status = models.StatusRetrying
			op.NextAttemptAt = s.now().Add(s.backoffDelay(op.RetryCount))
			result.Retrying++

			s.logger.Warn("Operation dispatch failed, will retry",
				"operation_id", op.ID,
				"retry_count", op.RetryCount,
				"next_attempt_at", op.NextAttemptAt,
				"error", err)
		} else {
			op.Status = models.StatusFailed
			result.Failed++

			s.logger.Error("Operation failed, retries exhausted",
				"operation_id", op.ID,
				"retry_count", op.RetryCount,
				"error", err)
		}
		op.UpdatedAt = s.now()

	default:
		// Неисправимая ошибка - повторы бессмысленны
		op.RecordError(err.Error())
		op.Status = models.StatusFailed
		op.UpdatedAt = s.now()
		result.Failed++

		s.logger.Error("Operation failed permanently",
			"operation_id", op.ID,
			"type", op.Type,
			"error", err)
	}

	if saveErr := s.storage.SaveOperation(ctx, op); saveErr != nil {
		s.logger.Error("Failed to persist operation status",
			"operation_id", op.ID,
			"error", saveErr)
	}

	return op.Status == models.StatusCompleted
}

// backoffDelay возвращает задержку перед повтором номер attempt.
// Экспоненциальное расписание с потолком из go-retry.
func (s *service) backoffDelay(attempt int) time.Duration {
	backoff := retry.WithCappedDuration(s.cfg.MaxBackoff, retry.NewExponential(s.cfg.BaseBackoff))

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		next, stop := backoff.Next()
		if stop {
			break
		}
		delay = next
	}

	return delay
}

// RetryOperation возвращает FAILED операцию в PENDING.
// Счетчик повторов сбрасывается: ручной retry дает свежий потолок.
func (s *service) RetryOperation(ctx context.Context, id string) error {
	op, err := s.storage.GetOperation(ctx, id)
	if err != nil {
		return err
	}

	if op.Status != models.StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, op.Status)
	}

	op.Status = models.StatusPending
	op.RetryCount = 0
	op.NextAttemptAt = time.Time{}
	op.UpdatedAt = s.now()

	if err := s.storage.SaveOperation(ctx, op); err != nil {
		return fmt.Errorf("failed to re-queue operation: %w", err)
	}

	s.logger.Info("Operation re-queued", "operation_id", id)
	s.wake()
	return nil
}

// RetryAllFailed возвращает все FAILED операции в PENDING.
func (s *service) RetryAllFailed(ctx context.Context) (int, error) {
	ops, err := s.storage.ListOperations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load queue: %w", err)
	}

	count := 0
	for _, op := range ops {
		if op.Status != models.StatusFailed {
			continue
		}

		op.Status = models.StatusPending
		op.RetryCount = 0
		op.NextAttemptAt = time.Time{}
		op.UpdatedAt = s.now()

		if err := s.storage.SaveOperation(ctx, op); err != nil {
			return count, fmt.Errorf("failed to re-queue operation %s: %w", op.ID, err)
		}
		count++
	}

	if count > 0 {
		s.logger.Info("Failed operations re-queued", "count", count)
		s.wake()
	}

	return count, nil
}

// ClearCompleted удаляет терминальные COMPLETED записи.
func (s *service) ClearCompleted(ctx context.Context) (int, error) {
	ops, err := s.storage.ListOperations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load queue: %w", err)
	}

	count := 0
	for _, op := range ops {
		if op.Status != models.StatusCompleted {
			continue
		}

		if err := s.storage.DeleteOperation(ctx, op.ID); err != nil {
			return count, fmt.Errorf("failed to delete operation %s: %w", op.ID, err)
		}
		count++
	}

	return count, nil
}

// Cancel удаляет операцию из очереди. Отмена допустима только в PENDING:
// уже отправленный запрос не прерывается, его результат будет применен
// к статусу операции когда придет ответ.
func (s *service) Cancel(ctx context.Context, id string) error {
	op, err := s.storage.GetOperation(ctx, id)
	if err != nil {
		return err
	}

	if op.Status != models.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotCancellable, id, op.Status)
	}

	if err := s.storage.DeleteOperation(ctx, id); err != nil {
		return fmt.Errorf("failed to cancel operation: %w", err)
	}

	s.logger.Info("Operation cancelled", "operation_id", id)
	return nil
}

// ListOperations возвращает все операции в порядке постановки.
func (s *service) ListOperations(ctx context.Context) ([]*models.QueuedOperation, error) {
	return s.storage.ListOperations(ctx)
}

// Run запускает планировщик разгрузки. Задача спит до сигнала Enqueue
// или до созревания ближайшей RETRYING операции; постоянного ticker'а нет.
func (s *service) Run(ctx context.Context) error {
	for {
		if _, err := s.ProcessQueue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Queue drain failed", "error", err)
		}

		timer, hasTimer := s.nextWakeTimer(ctx)

		if hasTimer {
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-s.wakeC:
				timer.Stop()
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wakeC:
			}
		}
	}
}

// nextWakeTimer возвращает таймер до ближайшей созревающей RETRYING
// операции. Если таких нет, планировщик спит до сигнала Enqueue.
func (s *service) nextWakeTimer(ctx context.Context) (*time.Timer, bool) {
	ops, err := s.storage.ListOperations(ctx)
	if err != nil {
		s.logger.Error("Failed to compute next wake time", "error", err)
		// Деградируем до консервативной паузы
		return time.NewTimer(s.cfg.BaseBackoff), true
	}

	var next time.Time
	for _, op := range ops {
		if op.Status != models.StatusRetrying {
			continue
		}
		if next.IsZero() || op.NextAttemptAt.Before(next) {
			next = op.NextAttemptAt
		}
	}

	if next.IsZero() {
		return nil, false
	}

	wait := time.Until(next)
	if wait < 0 {
		wait = 0
	}
	return time.NewTimer(wait), true
}
