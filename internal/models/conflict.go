package models

import "time"

// ConflictDataType тип ресурса, на котором обнаружено расхождение версий.
// Конфликты возникают только на не-CRDT ресурсах: документы заметок
// сливаются автоматически и сюда не попадают.
type ConflictDataType string

const (
	ConflictDataProperty  ConflictDataType = "property"
	ConflictDataReport    ConflictDataType = "report"
	ConflictDataPhotoMeta ConflictDataType = "photo-metadata"
)

// ConflictStatus статус записи о конфликте.
type ConflictStatus string

const (
	// ConflictDetected расхождение обнаружено, разрешение ещё не применялось
	ConflictDetected ConflictStatus = "detected"
	// ConflictResolved конфликт разрешён автоматической или ручной стратегией
	ConflictResolved ConflictStatus = "resolved"
	// ConflictPendingManual автоматика не смогла решить; ждём действия пользователя
	ConflictPendingManual ConflictStatus = "pending_manual_resolution"
	// ConflictFailed стратегия упала при применении; повтор только вручную
	ConflictFailed ConflictStatus = "failed"
)

// ResolutionStrategy стратегия разрешения конфликта.
type ResolutionStrategy string

const (
	StrategyLocalWins   ResolutionStrategy = "local-wins"
	StrategyRemoteWins  ResolutionStrategy = "remote-wins"
	StrategyMergeFields ResolutionStrategy = "merge-fields"
	StrategyManual      ResolutionStrategy = "manual"
)

// ResourceVersion версия не-CRDT ресурса для обнаружения конфликтов.
// Схема сравнения: монотонно растущий номер ревизии на ресурс.
// BaseRevision — ревизия, от которой была сделана правка; если обе
// стороны ушли вперёд от общей базы, версии разошлись.
type ResourceVersion struct {
	UpdatedAt      time.Time         `json:"updated_at"`
	Fields         map[string]string `json:"fields"`
	ModifiedFields []string          `json:"modified_fields"`
	Revision       int64             `json:"revision"`
	BaseRevision   int64             `json:"base_revision"`
}

// IsAncestorOf сообщает, является ли версия строгим предком other:
// other сделан поверх ревизии не ниже нашей, расхождения нет.
func (v ResourceVersion) IsAncestorOf(other ResourceVersion) bool {
	return v.Revision <= other.BaseRevision
}

// DataConflict запись об обнаруженном расхождении двух версий ресурса.
type DataConflict struct {
	DetectedAt time.Time          `json:"detected_at"`
	ResolvedAt time.Time          `json:"resolved_at,omitzero"`
	ID         string             `json:"id"`
	ResourceID string             `json:"resource_id"`
	DataType   ConflictDataType   `json:"data_type"`
	Status     ConflictStatus     `json:"status"`
	Strategy   ResolutionStrategy `json:"strategy,omitempty"`
	Local      ResourceVersion    `json:"local"`
	Remote     ResourceVersion    `json:"remote"`
	Resolved   *ResourceVersion   `json:"resolved,omitempty"`
	Errors     []string           `json:"errors,omitempty"`
}

// RecordError добавляет текст ошибки разрешения в журнал конфликта.
func (c *DataConflict) RecordError(msg string) {
	c.Errors = append(c.Errors, msg)
}

// LastError возвращает текст последней ошибки или пустую строку.
func (c *DataConflict) LastError() string {
	if len(c.Errors) == 0 {
		return ""
	}
	return c.Errors[len(c.Errors)-1]
}
