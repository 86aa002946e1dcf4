package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/parcelworks/fieldsync/internal/crdt"
	"github.com/parcelworks/fieldsync/internal/models"
	"github.com/parcelworks/fieldsync/internal/validation"
	"github.com/parcelworks/fieldsync/pkg/api"
)

// DocumentRegistry определяет интерфейс реестра документов для адаптера
// протокола синхронизации.
type DocumentRegistry interface {
	ApplyLocalMutation(ctx context.Context, parcelID string, m models.NoteMutation) ([]byte, error)
	Materialize(parcelID string) models.NoteView
	Merge(ctx context.Context, parcelID string, incoming []byte) ([]byte, error)
}

// NotesHandler обрабатывает запросы к заметкам участков: чтение
// материализованного состояния, локальные правки и обмен дельтами.
type NotesHandler struct {
	logger   *slog.Logger
	registry DocumentRegistry
}

// NewNotesHandler создает новый handler заметок участков.
func NewNotesHandler(logger *slog.Logger, registry DocumentRegistry) *NotesHandler {
	return &NotesHandler{
		logger:   logger,
		registry: registry,
	}
}

// HandleGetNotes обрабатывает GET /api/v1/parcels/{parcelId}/notes
// Возвращает материализованное состояние документа; для неизвестного
// участка — пустое представление, всегда 200.
func (h *NotesHandler) HandleGetNotes(w http.ResponseWriter, r *http.Request) {
	parcelID := r.PathValue("parcelId")
	if err := validation.ValidateParcelID(parcelID); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	view := h.registry.Materialize(parcelID)

	h.logger.Info("GET notes", "parcel_id", parcelID)
	h.sendJSON(w, viewToAPI(view), http.StatusOK)
}

// HandlePutNotes обрабатывает PUT /api/v1/parcels/{parcelId}/notes
// Применяет частичную правку к документу на сервере и возвращает
// обновленное материализованное состояние.
func (h *NotesHandler) HandlePutNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	parcelID := r.PathValue("parcelId")
	if err := validation.ValidateParcelID(parcelID); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req api.UpdateNotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode update request", "error", err)
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	mutation := mutationFromAPI(req)
	if mutation.IsEmpty() {
		h.sendError(w, "empty mutation", http.StatusBadRequest)
		return
	}

	for _, tag := range append(append([]string{}, req.AddTags...), req.RemoveTags...) {
		if err := validation.ValidateTag(tag); err != nil {
			h.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if _, err := h.registry.ApplyLocalMutation(ctx, parcelID, mutation); err != nil {
		h.logger.Error("Failed to apply mutation", "parcel_id", parcelID, "error", err)
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	view := h.registry.Materialize(parcelID)

	h.logger.Info("PUT notes", "parcel_id", parcelID, "editor", req.Editor)
	h.sendJSON(w, viewToAPI(view), http.StatusOK)
}

// HandleSync обрабатывает POST /api/v1/parcels/{parcelId}/sync
// Сливает дельту клиента в серверный документ и возвращает полное
// состояние для catch-up вместе с материализованным представлением.
// Некорректная дельта — 400, документ остается нетронутым.
func (h *NotesHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	parcelID := r.PathValue("parcelId")
	if err := validation.ValidateParcelID(parcelID); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req api.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode sync request", "error", err)
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	update, err := base64.StdEncoding.DecodeString(req.Update)
	if err != nil {
		h.logger.Warn("Failed to decode update base64", "parcel_id", parcelID, "error", err)
		h.sendError(w, "malformed update payload", http.StatusBadRequest)
		return
	}

	state, err := h.registry.Merge(ctx, parcelID, update)
	if err != nil {
		var decodeErr *crdt.DecodeError
		if errors.As(err, &decodeErr) {
			h.logger.Warn("Malformed delta rejected", "parcel_id", parcelID, "error", err)
			h.sendError(w, "malformed update payload", http.StatusBadRequest)
			return
		}

		h.logger.Error("Failed to merge delta", "parcel_id", parcelID, "error", err)
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	view := h.registry.Materialize(parcelID)

	resp := api.SyncResponse{
		State: base64.StdEncoding.EncodeToString(state),
		Data:  viewToAPI(view),
	}

	h.logger.Info("POST sync", "parcel_id", parcelID, "update_bytes", len(update))
	h.sendJSON(w, resp, http.StatusOK)
}

// viewToAPI конвертирует доменное представление в wire-формат.
func viewToAPI(view models.NoteView) api.NotesView {
	attachments := make([]api.Attachment, 0, len(view.Attachments))
	for _, att := range view.Attachments {
		attachments = append(attachments, api.Attachment{
			ID:       att.ID,
			Filename: att.Filename,
			AddedBy:  att.AddedBy,
		})
	}

	tags := view.Tags
	if tags == nil {
		tags = []string{}
	}

	return api.NotesView{
		Notes:       view.Notes,
		LastEditor:  view.LastEditor,
		Tags:        tags,
		Attachments: attachments,
		UpdatedAt:   view.UpdatedAt,
	}
}

// mutationFromAPI конвертирует wire-запрос в доменную мутацию.
func mutationFromAPI(req api.UpdateNotesRequest) models.NoteMutation {
	m := models.NoteMutation{
		Notes:             req.Notes,
		Editor:            req.Editor,
		AddTags:           req.AddTags,
		RemoveTags:        req.RemoveTags,
		RemoveAttachments: req.RemoveAttachments,
	}

	for _, att := range req.AddAttachments {
		m.AddAttachments = append(m.AddAttachments, models.Attachment{
			ID:       att.ID,
			Filename: att.Filename,
			AddedBy:  att.AddedBy,
		})
	}

	return m
}

// sendJSON отправляет JSON ответ
func (h *NotesHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// sendError отправляет JSON ответ с ошибкой
func (h *NotesHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	resp := api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	h.sendJSON(w, resp, statusCode)
}
