package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/parcelworks/fieldsync/internal/models"
)

//go:generate moq -out business_mock.go . BusinessAPI

// BusinessAPI определяет интерфейс к бэк-офисным ресурсам: объекты
// недвижимости, отчеты об оценке, метаданные фотографий. Эти ресурсы
// не являются CRDT; сервер принимает запись целиком и отвергает правку
// по устаревшей ревизии.
type BusinessAPI interface {
	// CreateProperty создает объект недвижимости
	CreateProperty(ctx context.Context, p models.CreatePropertyPayload) error

	// UpdateReport применяет правку отчета об оценке.
	// Правка по устаревшей ревизии возвращает *RevisionConflictError
	// с актуальной серверной версией
	UpdateReport(ctx context.Context, p models.UpdateReportPayload) error

	// UploadPhoto регистрирует метаданные фотографии
	UploadPhoto(ctx context.Context, p models.UploadPhotoPayload) error
}

// RevisionConflictError сервер отверг правку: ресурс изменен другой
// репликой после ревизии, поверх которой сделана наша правка.
// Несет серверную версию для движка разрешения конфликтов.
type RevisionConflictError struct {
	ResourceID string
	Remote     models.ResourceVersion
}

func (e *RevisionConflictError) Error() string {
	return fmt.Sprintf("revision conflict on %s: server is at revision %d", e.ResourceID, e.Remote.Revision)
}

// CreateProperty создает объект недвижимости
func (c *Client) CreateProperty(ctx context.Context, p models.CreatePropertyPayload) error {
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/properties", p, nil); err != nil {
		return fmt.Errorf("create property request failed: %w", err)
	}
	return nil
}

// UpdateReport применяет правку отчета об оценке.
// Ответ 409 декодируется в актуальную серверную версию и возвращается
// как *RevisionConflictError.
func (c *Client) UpdateReport(ctx context.Context, p models.UpdateReportPayload) error {
	path := fmt.Sprintf("/api/v1/reports/%s", p.ReportID)
	err := c.doRequest(ctx, http.MethodPut, path, p, nil)
	if err == nil {
		return nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusConflict {
		var remote models.ResourceVersion
		if decodeErr := json.Unmarshal(statusErr.Body, &remote); decodeErr == nil {
			return &RevisionConflictError{ResourceID: p.ReportID, Remote: remote}
		}
	}

	return fmt.Errorf("update report request failed: %w", err)
}

// UploadPhoto регистрирует метаданные фотографии
func (c *Client) UploadPhoto(ctx context.Context, p models.UploadPhotoPayload) error {
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/photos", p, nil); err != nil {
		return fmt.Errorf("upload photo request failed: %w", err)
	}
	return nil
}
