// Package sync реализует диспетчер отложенных операций: отображение
// типа операции на вызов API сервера. Очередь решает КОГДА отправить,
// диспетчер решает КАК применить операцию к серверу.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	clientapi "github.com/parcelworks/fieldsync/internal/client/api"
	"github.com/parcelworks/fieldsync/internal/client/conflict"
	"github.com/parcelworks/fieldsync/internal/client/storage"
	"github.com/parcelworks/fieldsync/internal/crdt"
	"github.com/parcelworks/fieldsync/internal/models"
	"github.com/parcelworks/fieldsync/pkg/api"
)

// DocumentRegistry локальная реплика CRDT-документов,
// нужная диспетчеру для обмена состоянием с сервером.
type DocumentRegistry interface {
	// State возвращает закодированное полное состояние документа участка
	State(parcelID string) ([]byte, error)

	// Merge применяет серверную дельту к локальному документу
	Merge(ctx context.Context, parcelID string, incoming []byte) ([]byte, error)
}

// Dispatcher отправляет операции очереди на сервер.
type Dispatcher struct {
	apiClient       clientapi.ClientAPI
	businessClient  clientapi.BusinessAPI
	registry        DocumentRegistry
	conflicts       conflict.Service
	metadataStorage storage.MetadataStorage
	logger          *slog.Logger
}

// NewDispatcher создает новый диспетчер операций.
func NewDispatcher(
	apiClient clientapi.ClientAPI,
	businessClient clientapi.BusinessAPI,
	registry DocumentRegistry,
	conflicts conflict.Service,
	metadataStorage storage.MetadataStorage,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		apiClient:       apiClient,
		businessClient:  businessClient,
		registry:        registry,
		conflicts:       conflicts,
		metadataStorage: metadataStorage,
		logger:          logger,
	}
}

// Dispatch применяет одну операцию к серверу. Временные сбои сети
// проходят наверх как *api.TransientError - очередь повторит отправку;
// любая другая ошибка неисправима.
func (d *Dispatcher) Dispatch(ctx context.Context, op *models.QueuedOperation) error {
	payload, err := op.DecodePayload()
	if err != nil {
		return fmt.Errorf("malformed operation payload: %w", err)
	}

	switch p := payload.(type) {
	case models.UpdateParcelNotesPayload:
		return d.dispatchUpdateNotes(ctx, p)
	case models.SyncParcelDataPayload:
		return d.dispatchSync(ctx, p.ParcelID)
	case models.CreatePropertyPayload:
		return d.businessClient.CreateProperty(ctx, p)
	case models.UpdateReportPayload:
		return d.dispatchUpdateReport(ctx, p)
	case models.UploadPhotoPayload:
		return d.businessClient.UploadPhoto(ctx, p)
	default:
		return fmt.Errorf("no dispatch route for operation type %q", op.Type)
	}
}

// dispatchUpdateNotes отправляет частичную правку заметок через PUT.
// Локальная реплика уже содержит правку с момента постановки в очередь;
// расхождение таймштампов реплик сойдется на следующем обмене состоянием.
func (d *Dispatcher) dispatchUpdateNotes(ctx context.Context, p models.UpdateParcelNotesPayload) error {
	req := api.UpdateNotesRequest{
		Notes:             p.Notes,
		Editor:            p.Editor,
		AddTags:           p.AddTags,
		RemoveTags:        p.RemoveTags,
		RemoveAttachments: p.RemoveAttachments,
	}
	for _, att := range p.AddAttachments {
		req.AddAttachments = append(req.AddAttachments, api.Attachment{
			ID:       att.ID,
			Filename: att.Filename,
			AddedBy:  att.AddedBy,
		})
	}

	if _, err := d.apiClient.UpdateNotes(ctx, p.ParcelID, req); err != nil {
		return err
	}

	d.logger.Info("Notes update applied to server", "parcel_id", p.ParcelID)
	return nil
}

/// dispatchSync выполняет полный обмен состоянием документа участка:
// локальное состояние уходит на сервер, серверное состояние сливается
// обратно. После обмена обе реплики идентичны.
func (d *Dispatcher) dispatchSync(ctx context.Context, parcelID string) error {
	local, err := d.registry.State(parcelID)
	if err != nil {
		return fmt.Errorf("failed to read local replica: %w", err)
	}

	serverState, _, err := d.apiClient.SyncParcel(ctx, parcelID, local)
	if err != nil {
		return err
	}

	merged, err := d.registry.Merge(ctx, parcelID, serverState)
	if err != nil {
		return fmt.Errorf("failed to merge server state: %w", err)
	}

	// Часы слитого состояния фиксируют момент синхронизации
	delta, err := crdt.DecodeDelta(merged)
	if err == nil {
		if saveErr := d.metadataStorage.SaveLastSyncTimestamp(ctx, delta.Clock); saveErr != nil {
			d.logger.Warn("Failed to record sync timestamp", "error", saveErr)
		}
	}

	d.logger.Info("Parcel synchronized", "parcel_id", parcelID)
	return nil
}

// dispatchUpdateReport отправляет правку отчета. Отказ сервера по
// устаревшей ревизии регистрируется в движке конфликтов и возвращается
// как неисправимая ошибка: повтор той же правки бессмыслен, пока
// конфликт не разрешен.
func (d *Dispatcher) dispatchUpdateReport(ctx context.Context, p models.UpdateReportPayload) error {
	err := d.businessClient.UpdateReport(ctx, p)
	if err == nil {
		return nil
	}

	var revErr *clientapi.RevisionConflictError
	if !errors.As(err, &revErr) {
		return err
	}

	local := models.ResourceVersion{
		Revision:       p.Revision,
		BaseRevision:   p.Revision - 1,
		Fields:         p.Fields,
		ModifiedFields: fieldNames(p.Fields),
	}

	if _, detectErr := d.conflicts.Detect(ctx, p.ReportID, models.ConflictDataReport, local, revErr.Remote); detectErr != nil {
		d.logger.Error("Failed to register revision conflict",
			"report_id", p.ReportID,
			"error", detectErr)
	}

	return err
}

func fieldNames(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	return names
}
