package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/parcelworks/fieldsync/pkg/api"
)

//go:generate moq -out client_mock.go . ClientAPI

// ClientAPI определяет интерфейс клиента протокола синхронизации.
// Очередь операций общается с сервером только через него.
type ClientAPI interface {
	// GetNotes возвращает материализованное состояние заметок участка
	GetNotes(ctx context.Context, parcelID string) (*api.NotesView, error)

	// UpdateNotes применяет частичную правку заметок на сервере
	UpdateNotes(ctx context.Context, parcelID string, req api.UpdateNotesRequest) (*api.NotesView, error)

	// SyncParcel сливает локальную дельту в серверный документ и возвращает
	// полное состояние сервера для catch-up
	SyncParcel(ctx context.Context, parcelID string, update []byte) (state []byte, view *api.NotesView, err error)
}

// TransientError помечает сбой запроса как временный: таймаут сети или
// 5xx от сервера. Очередь операций повторяет такие сбои с backoff;
// все остальные ошибки неисправимы и сразу переводят операцию в FAILED.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient сообщает, является ли ошибка временной.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// StatusError не-2xx ответ сервера, не являющийся временным сбоем.
// Несет код и тело ответа для вызывающего кода.
type StatusError struct {
	Body []byte
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.Code, errMessage(e.Body))
}

// Client представляет HTTP клиент для взаимодействия с сервером синхронизации
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient создает новый API клиент
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetNotes возвращает материализованное состояние заметок участка
func (c *Client) GetNotes(ctx context.Context, parcelID string) (*api.NotesView, error) {
	var resp api.NotesView
	path := fmt.Sprintf("/api/v1/parcels/%s/notes", parcelID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get notes request failed: %w", err)
	}
	return &resp, nil
}

// UpdateNotes применяет частичную правку заметок на сервере
func (c *Client) UpdateNotes(ctx context.Context, parcelID string, req api.UpdateNotesRequest) (*api.NotesView, error) {
	var resp api.NotesView
	path := fmt.Sprintf("/api/v1/parcels/%s/notes", parcelID)
	if err := c.doRequest(ctx, http.MethodPut, path, req, &resp); err != nil {
		return nil, fmt.Errorf("update notes request failed: %w", err)
	}
	return &resp, nil
}

// SyncParcel сливает локальную дельту в серверный документ.
// Возвращает декодированное полное состояние сервера и материализованное
// представление после слияния.
func (c *Client) SyncParcel(ctx context.Context, parcelID string, update []byte) ([]byte, *api.NotesView, error) {
	req := api.SyncRequest{
		Update: base64.StdEncoding.EncodeToString(update),
	}

	var resp api.SyncResponse
	path := fmt.Sprintf("/api/v1/parcels/%s/sync", parcelID)
	if err := c.doRequest(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, nil, fmt.Errorf("sync request failed: %w", err)
	}

	state, err := base64.StdEncoding.DecodeString(resp.State)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode server state: %w", err)
	}

	return state, &resp.Data, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result interface{}) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Сетевые сбои и таймауты — временные: очередь повторит отправку
		if isTimeoutErr(err) || errors.Is(err, context.DeadlineExceeded) {
			return &TransientError{Err: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return &TransientError{Err: err}
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode >= 500 {
		return &TransientError{Err: fmt.Errorf("server error (%d): %s", resp.StatusCode, errMessage(respBody))}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: respBody}
	}

	// Декодируем успешный ответ
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// errMessage извлекает сообщение из ErrorResponse или возвращает тело как есть
func errMessage(body []byte) string {
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return errResp.Message
	}
	return string(body)
}

// isTimeoutErr проверяет, является ли ошибка таймаутом
func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
