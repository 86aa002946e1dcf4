package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OperationType тип отложенной операции. Закрытое множество доменных
// действий: очередь и диспетчер сопоставляют их исчерпывающим switch,
// без динамической проверки формы payload.
type OperationType string

const (
	OpCreateProperty    OperationType = "create-property"
	OpUpdateReport      OperationType = "update-report"
	OpUploadPhoto       OperationType = "upload-photo"
	OpUpdateParcelNotes OperationType = "update-parcel-notes"
	OpSyncParcelData    OperationType = "sync-parcel-data"
)

// OperationStatus статус операции в офлайн-очереди.
type OperationStatus string

const (
	// StatusPending операция поставлена в очередь, ещё не отправлялась
	StatusPending OperationStatus = "pending"
	// StatusInProgress операция отправлена на сервер, ожидаем ответ
	StatusInProgress OperationStatus = "in_progress"
	// StatusCompleted сервер принял операцию; терминальный статус
	StatusCompleted OperationStatus = "completed"
	// StatusFailed ретраи исчерпаны или ошибка неисправима;
	// возврат в очередь только явным действием пользователя
	StatusFailed OperationStatus = "failed"
	// StatusRetrying повторная попытка запланирована после backoff
	StatusRetrying OperationStatus = "retrying"
)

// Ошибки валидации операций
var (
	ErrUnknownOperationType = errors.New("unknown operation type")
	ErrEmptyResourceID      = errors.New("operation resource id is empty")
)

// QueuedOperation запись одной отложенной мутации в durable-очереди клиента.
// Payload хранится как сырой JSON: форма определяется типом операции,
// декодирование через DecodePayload.
type QueuedOperation struct {
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	ID            string          `json:"id"`
	Type          OperationType   `json:"type"`
	ResourceID    string          `json:"resource_id"`
	Status        OperationStatus `json:"status"`
	Payload       json.RawMessage `json:"payload"`
	Errors        []string        `json:"errors,omitempty"`
	Seq           uint64          `json:"seq"`
	RetryCount    int             `json:"retry_count"`
}

// IsTerminal сообщает, достигла ли операция терминального статуса.
// FAILED терминален для фонового цикла, но может быть возвращён
// в PENDING явным retry.
func (o *QueuedOperation) IsTerminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusFailed
}

// RecordError добавляет текст ошибки в журнал операции.
func (o *QueuedOperation) RecordError(msg string) {
	o.Errors = append(o.Errors, msg)
}

// LastError возвращает текст последней ошибки операции или пустую строку.
func (o *QueuedOperation) LastError() string {
	if len(o.Errors) == 0 {
		return ""
	}
	return o.Errors[len(o.Errors)-1]
}

// OperationPayload общий интерфейс типизированных payload'ов операций.
// Каждый тип операции имеет свою валидируемую структуру.
type OperationPayload interface {
	// OperationType возвращает тип операции, которому принадлежит payload
	OperationType() OperationType
	// ResourceID возвращает идентификатор ресурса операции;
	// очередь гарантирует FIFO-порядок в пределах одного ресурса
	ResourceID() string
	// Validate проверяет форму payload перед постановкой в очередь
	Validate() error
}

// CreatePropertyPayload создание объекта недвижимости в офлайне.
type CreatePropertyPayload struct {
	PropertyID string `json:"property_id"`
	Address    string `json:"address"`
	LandUse    string `json:"land_use,omitempty"`
}

func (p CreatePropertyPayload) OperationType() OperationType { return OpCreateProperty }

func (p CreatePropertyPayload) ResourceID() string { return p.PropertyID }

func (p CreatePropertyPayload) Validate() error {
	if p.PropertyID == "" {
		return errors.New("create-property: property_id is required")
	}
	if p.Address == "" {
		return errors.New("create-property: address is required")
	}
	return nil
}

// UpdateReportPayload изменение отчёта об оценке в офлайне.
type UpdateReportPayload struct {
	ReportID string            `json:"report_id"`
	Fields   map[string]string `json:"fields"`
	Revision int64             `json:"revision"`
}

func (p UpdateReportPayload) OperationType() OperationType { return OpUpdateReport }

func (p UpdateReportPayload) ResourceID() string { return p.ReportID }

func (p UpdateReportPayload) Validate() error {
	if p.ReportID == "" {
		return errors.New("update-report: report_id is required")
	}
	if len(p.Fields) == 0 {
		return errors.New("update-report: no fields to update")
	}
	return nil
}

// UploadPhotoPayload метаданные фотографии, снятой в поле.
// Само изображение загружается отдельным механизмом; очередь
// переносит только метаданные.
type UploadPhotoPayload struct {
	PhotoID  string `json:"photo_id"`
	ParcelID string `json:"parcel_id"`
	Filename string `json:"filename"`
	Caption  string `json:"caption,omitempty"`
}

func (p UploadPhotoPayload) OperationType() OperationType { return OpUploadPhoto }

func (p UploadPhotoPayload) ResourceID() string { return p.PhotoID }

func (p UploadPhotoPayload) Validate() error {
	if p.PhotoID == "" {
		return errors.New("upload-photo: photo_id is required")
	}
	if p.Filename == "" {
		return errors.New("upload-photo: filename is required")
	}
	return nil
}

// UpdateParcelNotesPayload частичная правка полевых заметок участка.
// nil-поля не изменяются; непересекающиеся правки разных клиентов
// сливаются на уровне CRDT-документа.
type UpdateParcelNotesPayload struct {
	Notes             *string      `json:"notes,omitempty"`
	Editor            string       `json:"editor,omitempty"`
	ParcelID          string       `json:"parcel_id"`
	AddTags           []string     `json:"add_tags,omitempty"`
	RemoveTags        []string     `json:"remove_tags,omitempty"`
	AddAttachments    []Attachment `json:"add_attachments,omitempty"`
	RemoveAttachments []string     `json:"remove_attachments,omitempty"`
}

func (p UpdateParcelNotesPayload) OperationType() OperationType { return OpUpdateParcelNotes }

func (p UpdateParcelNotesPayload) ResourceID() string { return p.ParcelID }

func (p UpdateParcelNotesPayload) Validate() error {
	if p.ParcelID == "" {
		return errors.New("update-parcel-notes: parcel_id is required")
	}
	if p.Notes == nil && len(p.AddTags) == 0 && len(p.RemoveTags) == 0 &&
		len(p.AddAttachments) == 0 && len(p.RemoveAttachments) == 0 {
		return errors.New("update-parcel-notes: empty mutation")
	}
	// Вложение без id не сольется детерминированно между репликами
	for _, att := range p.AddAttachments {
		if att.ID == "" || att.Filename == "" {
			return errors.New("update-parcel-notes: attachment requires id and filename")
		}
	}
	return nil
}

// SyncParcelDataPayload полный обмен состоянием документа участка с сервером.
type SyncParcelDataPayload struct {
	ParcelID string `json:"parcel_id"`
}

func (p SyncParcelDataPayload) OperationType() OperationType { return OpSyncParcelData }

func (p SyncParcelDataPayload) ResourceID() string { return p.ParcelID }

func (p SyncParcelDataPayload) Validate() error {
	if p.ParcelID == "" {
		return errors.New("sync-parcel-data: parcel_id is required")
	}
	return nil
}

// DecodePayload декодирует сырой payload операции в типизированную структуру
// согласно типу операции.
func (o *QueuedOperation) DecodePayload() (OperationPayload, error) {
	switch o.Type {
	case OpCreateProperty:
		var p CreatePropertyPayload
		if err := json.Unmarshal(o.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", o.Type, err)
		}
		return p, nil
	case OpUpdateReport:
		var p UpdateReportPayload
		if err := json.Unmarshal(o.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", o.Type, err)
		}
		return p, nil
	case OpUploadPhoto:
		var p UploadPhotoPayload
		if err := json.Unmarshal(o.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", o.Type, err)
		}
		return p, nil
	case OpUpdateParcelNotes:
		var p UpdateParcelNotesPayload
		if err := json.Unmarshal(o.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", o.Type, err)
		}
		return p, nil
	case OpSyncParcelData:
		var p SyncParcelDataPayload
		if err := json.Unmarshal(o.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", o.Type, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperationType, o.Type)
	}
}

// EncodePayload сериализует типизированный payload для хранения в операции.
func EncodePayload(p OperationPayload) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.OperationType(), err)
	}
	return data, nil
}
