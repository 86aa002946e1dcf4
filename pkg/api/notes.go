package api

import "time"

// Attachment представляет вложение полевой заметки на проводе
type Attachment struct {
	ID       string `json:"id"`                 // уникальный идентификатор вложения
	Filename string `json:"filename"`           // имя файла
	AddedBy  string `json:"added_by,omitempty"` // кто добавил вложение
}

// NotesView представляет материализованное состояние заметок участка
type NotesView struct {
	UpdatedAt   time.Time    `json:"updated_at"`  // время последней правки
	Notes       string       `json:"notes"`       // текст полевых заметок
	LastEditor  string       `json:"last_editor"` // последний редактор
	Tags        []string     `json:"tags"`        // теги участка
	Attachments []Attachment `json:"attachments"` // вложения
}

// UpdateNotesRequest представляет частичную правку заметок участка.
// nil/пустые поля не изменяются.
type UpdateNotesRequest struct {
	Notes             *string      `json:"notes,omitempty"`              // новый текст заметок
	Editor            string       `json:"editor,omitempty"`             // кто правит
	AddTags           []string     `json:"add_tags,omitempty"`           // добавить теги
	RemoveTags        []string     `json:"remove_tags,omitempty"`        // убрать теги
	AddAttachments    []Attachment `json:"add_attachments,omitempty"`    // добавить вложения
	RemoveAttachments []string     `json:"remove_attachments,omitempty"` // убрать вложения по id
}

// SyncRequest представляет запрос обмена дельтой документа
type SyncRequest struct {
	Update string `json:"update"` // base64 encoded дельта документа
}

// SyncResponse представляет ответ сервера на обмен дельтой
type SyncResponse struct {
	State string    `json:"state"` // base64 encoded полное состояние для catch-up
	Data  NotesView `json:"data"`  // материализованное состояние после слияния
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
