// Package conflict реализует движок разрешения конфликтов для ресурсов,
// которые не выражены как CRDT end-to-end (перезапись записи целиком:
// объекты недвижимости, отчеты, метаданные фото). Движок обнаруживает
// разошедшиеся версии ресурса, применяет стратегию разрешения и
// эскалирует к ручному разрешению, когда автоматика решить не может.
//
// Схема сравнения версий: монотонно растущий номер ревизии на ресурс.
// BaseRevision фиксирует общую базу правки; если обе стороны ушли
// вперед от нее - версии разошлись.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/parcelworks/fieldsync/internal/client/notify"
	"github.com/parcelworks/fieldsync/internal/client/storage"
	"github.com/parcelworks/fieldsync/internal/models"
)

// Ошибки движка разрешения конфликтов
var (
	// ErrUnknownStrategy передана неизвестная стратегия разрешения
	ErrUnknownStrategy = errors.New("unknown resolution strategy")
	// ErrNotResolvable конфликт уже разрешен или удален
	ErrNotResolvable = errors.New("conflict is not in a resolvable status")
)

// ResolutionError стратегия не смогла примениться: например, сохраненная
// версия повреждена. Конфликт переходит в FAILED и повторяется только
// явным действием пользователя - конфликты по определению требуют
// человеческого суждения, фоновый цикл их не трогает.
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution failed: %v", e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

//go:generate moq -out service_mock.go . Service

// Service определяет интерфейс движка разрешения конфликтов.
type Service interface {
	// Detect сравнивает две версии ресурса; возвращает новую запись
	// конфликта при расхождении и nil, когда версии согласованы или
	// одна является строгим предком другой
	Detect(ctx context.Context, resourceID string, dataType models.ConflictDataType, local, remote models.ResourceVersion) (*models.DataConflict, error)

	// Resolve применяет заданную или настроенную по умолчанию стратегию.
	// Пустая стратегия без настроенного default эскалирует конфликт
	// в PENDING_MANUAL_RESOLUTION
	Resolve(ctx context.Context, conflictID string, strategy models.ResolutionStrategy) (*models.DataConflict, error)

	// ListConflicts возвращает все записи конфликтов
	ListConflicts(ctx context.Context) ([]*models.DataConflict, error)

	// ClearResolved удаляет RESOLVED записи, возвращает количество удаленных
	ClearResolved(ctx context.Context) (int, error)
}

type service struct {
	storage         storage.ConflictStorage
	notifier        notify.Notifier
	logger          *slog.Logger
	now             func() time.Time
	defaultStrategy models.ResolutionStrategy
}

// Option настраивает сервис разрешения конфликтов.
type Option func(*service)

// WithDefaultStrategy задает автоматическую стратегию, применяемую
// при Resolve без явной стратегии.
func WithDefaultStrategy(strategy models.ResolutionStrategy) Option {
	return func(s *service) {
		s.defaultStrategy = strategy
	}
}

// NewService создает новый движок разрешения конфликтов.
func NewService(conflictStorage storage.ConflictStorage, notifier notify.Notifier, logger *slog.Logger, opts ...Option) Service {
	s := &service{
		storage:  conflictStorage,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Detect сравнивает версии по номерам ревизий и содержимому полей.
// Идентичные версии и отношение строгого предка расхождением не являются;
// конфликт возникает, когда обе стороны продвинулись от общей базы -
// в том числе когда обе офлайн-правки присвоили одинаковый номер ревизии.
// Обнаруженный конфликт сохраняется со статусом DETECTED и никогда
// не отбрасывается молча.
func (s *service) Detect(ctx context.Context, resourceID string, dataType models.ConflictDataType, local, remote models.ResourceVersion) (*models.DataConflict, error) {
	if resourceID == "" {
		return nil, errors.New("resource id is empty")
	}

	// Одинаковая ревизия с одинаковыми полями - версии идентичны.
	// Одинаковая ревизия с разными полями - две офлайн-правки
	// независимо присвоили один номер от общей базы
	if local.Revision == remote.Revision {
		if maps.Equal(local.Fields, remote.Fields) {
			return nil, nil
		}
	} else if local.IsAncestorOf(remote) || remote.IsAncestorOf(local) {
		// Строгий предок: одна сторона просто отстала, конфликта нет
		return nil, nil
	}

	conflict := &models.DataConflict{
		ID:         uuid.New().String(),
		ResourceID: resourceID,
		DataType:   dataType,
		Status:     models.ConflictDetected,
		Local:      local,
		Remote:     remote,
		DetectedAt: s.now(),
	}

	if err := s.storage.SaveConflict(ctx, conflict); err != nil {
		return nil, fmt.Errorf("failed to persist conflict: %w", err)
	}

	s.logger.Warn("Version divergence detected",
		"conflict_id", conflict.ID,
		"resource_id", resourceID,
		"data_type", dataType,
		"local_revision", local.Revision,
		"remote_revision", remote.Revision)

	return conflict, nil
}

// Resolve применяет стратегию разрешения к конфликту.
// local-wins/remote-wins выбирают одну версию целиком; merge-fields
// объединяет непересекающиеся правки полей и эскалирует пересечение;
// manual и отсутствие стратегии переводят конфликт в ожидание
// ручного разрешения - молча победитель не выбирается никогда.
func (s *service) Resolve(ctx context.Context, conflictID string, strategy models.ResolutionStrategy) (*models.DataConflict, error) {
	conflict, err := s.storage.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	if conflict.Status == models.ConflictResolved {
		return nil, fmt.Errorf("%w: %s already resolved", ErrNotResolvable, conflictID)
	}

	if strategy == "" {
		strategy = s.defaultStrategy
	}

	if strategy == "" || strategy == models.StrategyManual {
		// Решить автоматически нечем - эскалируем человеку
		conflict.Status = models.ConflictPendingManual
		conflict.Strategy = models.StrategyManual
		if err := s.storage.SaveConflict(ctx, conflict); err != nil {
			return nil, fmt.Errorf("failed to persist conflict: %w", err)
		}

		s.logger.Info("Conflict escalated to manual resolution",
			"conflict_id", conflictID,
			"resource_id", conflict.ResourceID)

		return conflict, nil
	}

	resolved, err := s.applyStrategy(conflict, strategy)
	if err != nil {
		var resolutionErr *ResolutionError
		if errors.As(err, &resolutionErr) {
			// Стратегия упала - конфликт FAILED до явного повтора
			conflict.Status = models.ConflictFailed
			conflict.Strategy = strategy
			conflict.RecordError(err.Error())
			if saveErr := s.storage.SaveConflict(ctx, conflict); saveErr != nil {
				return nil, fmt.Errorf("failed to persist failed conflict: %w", saveErr)
			}

			s.logger.Error("Conflict resolution failed",
				"conflict_id", conflictID,
				"strategy", strategy,
				"error", err)

			return conflict, nil
		}
		return nil, err
	}

	if resolved == nil {
		// merge-fields не смог: пересекающиеся правки требуют суждения
		conflict.Status = models.ConflictPendingManual
		conflict.Strategy = strategy
		if err := s.storage.SaveConflict(ctx, conflict); err != nil {
			return nil, fmt.Errorf("failed to persist conflict: %w", err)
		}

		s.logger.Info("Overlapping field changes, manual resolution required",
			"conflict_id", conflictID,
			"resource_id", conflict.ResourceID)

		return conflict, nil
	}

	conflict.Status = models.ConflictResolved
	conflict.Strategy = strategy
	conflict.Resolved = resolved
	conflict.ResolvedAt = s.now()

	if err := s.storage.SaveConflict(ctx, conflict); err != nil {
		return nil, fmt.Errorf("failed to persist resolved conflict: %w", err)
	}

	s.logger.Info("Conflict resolved",
		"conflict_id", conflictID,
		"resource_id", conflict.ResourceID,
		"strategy", strategy)

	if s.notifier != nil {
		s.notifier.SendSystemNotification(
			"Conflict resolved",
			fmt.Sprintf("%s %s resolved with %s", conflict.DataType, conflict.ResourceID, strategy),
		)
	}

	return conflict, nil
}

// applyStrategy вычисляет версию-победителя.
// Возвращает (nil, nil), когда merge-fields требует эскалации.
func (s *service) applyStrategy(conflict *models.DataConflict, strategy models.ResolutionStrategy) (*models.ResourceVersion, error) {
	switch strategy {
	case models.StrategyLocalWins:
		return s.pickVersion(conflict, conflict.Local)
	case models.StrategyRemoteWins:
		return s.pickVersion(conflict, conflict.Remote)
	case models.StrategyMergeFields:
		return s.mergeFields(conflict)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// pickVersion выбирает одну сторону целиком и продвигает ревизию
// за максимум обеих сторон.
func (s *service) pickVersion(conflict *models.DataConflict, winner models.ResourceVersion) (*models.ResourceVersion, error) {
	if winner.Fields == nil {
		return nil, &ResolutionError{Err: fmt.Errorf("stored version of %s has no fields", conflict.ResourceID)}
	}

	base := maxRevision(conflict.Local.Revision, conflict.Remote.Revision)

	resolved := models.ResourceVersion{
		Revision:       base + 1,
		BaseRevision:   base,
		Fields:         cloneFields(winner.Fields),
		ModifiedFields: slices.Clone(winner.ModifiedFields),
		UpdatedAt:      s.now(),
	}

	return &resolved, nil
}

// mergeFields объединяет непересекающиеся изменения полей.
// Пересечение возвращает (nil, nil): эскалация к ручному разрешению.
func (s *service) mergeFields(conflict *models.DataConflict) (*models.ResourceVersion, error) {
	local, remote := conflict.Local, conflict.Remote

	if local.Fields == nil || remote.Fields == nil {
		return nil, &ResolutionError{Err: fmt.Errorf("stored version of %s has no fields", conflict.ResourceID)}
	}

	// Пересекающиеся правки автоматически не объединяются
	for _, field := range local.ModifiedFields {
		if slices.Contains(remote.ModifiedFields, field) {
			return nil, nil
		}
	}

	merged := cloneFields(local.Fields)
	for _, field := range remote.ModifiedFields {
		value, ok := remote.Fields[field]
		if !ok {
			return nil, &ResolutionError{Err: fmt.Errorf("remote version of %s is missing modified field %q", conflict.ResourceID, field)}
		}
		merged[field] = value
	}

	base := maxRevision(local.Revision, remote.Revision)

	modified := slices.Clone(local.ModifiedFields)
	modified = append(modified, remote.ModifiedFields...)
	slices.Sort(modified)

	resolved := models.ResourceVersion{
		Revision:       base + 1,
		BaseRevision:   base,
		Fields:         merged,
		ModifiedFields: modified,
		UpdatedAt:      s.now(),
	}

	return &resolved, nil
}

// ListConflicts возвращает все записи конфликтов.
func (s *service) ListConflicts(ctx context.Context) ([]*models.DataConflict, error) {
	return s.storage.ListConflicts(ctx)
}

// ClearResolved удаляет RESOLVED записи после того, как они были
// показаны пользователю.
func (s *service) ClearResolved(ctx context.Context) (int, error) {
	conflicts, err := s.storage.ListConflicts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list conflicts: %w", err)
	}

	count := 0
	for _, conflict := range conflicts {
		if conflict.Status != models.ConflictResolved {
			continue
		}

		if err := s.storage.DeleteConflict(ctx, conflict.ID); err != nil {
			return count, fmt.Errorf("failed to delete conflict %s: %w", conflict.ID, err)
		}
		count++
	}

	return count, nil
}

func cloneFields(fields map[string]string) map[string]string {
	clone := make(map[string]string, len(fields))
	for k, v := range fields {
		clone[k] = v
	}
	return clone
}

func maxRevision(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
